package server

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"io"
	"log/slog"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/pquill/arena/internal/config"
	"github.com/pquill/arena/internal/persist"
	"github.com/pquill/arena/internal/rpc"
	"github.com/pquill/arena/internal/script"
	"github.com/pquill/arena/internal/transport"
	"github.com/pquill/arena/internal/world"
)

type sentPkt struct {
	peer      uint32
	typ       byte
	body      []byte
	reliable  bool
	broadcast bool
	exclude   uint32
}

// fakeTransport feeds scripted events to the loop and records everything
// sent back.
type fakeTransport struct {
	queue        []transport.Event
	pending      []transport.Event
	sent         []sentPkt
	disconnected []uint32
	closed       bool
}

func (f *fakeTransport) push(evs ...transport.Event) {
	f.queue = append(f.queue, evs...)
}

func (f *fakeTransport) Poll(time.Duration) []transport.Event {
	evs := append(f.pending, f.queue...)
	f.pending, f.queue = nil, nil
	return evs
}

func (f *fakeTransport) Send(peer uint32, typ byte, body []byte, reliable bool) bool {
	f.sent = append(f.sent, sentPkt{peer: peer, typ: typ, body: body, reliable: reliable})
	return true
}

func (f *fakeTransport) Broadcast(typ byte, body []byte, reliable bool, exclude uint32) bool {
	f.sent = append(f.sent, sentPkt{typ: typ, body: body, reliable: reliable, broadcast: true, exclude: exclude})
	return true
}

func (f *fakeTransport) Disconnect(peer uint32) {
	f.disconnected = append(f.disconnected, peer)
	f.pending = append(f.pending, transport.Event{Kind: transport.EventDisconnect, Peer: peer})
}

func (f *fakeTransport) Stats() (uint64, uint64) { return 0, 0 }

func (f *fakeTransport) Close() error {
	f.closed = true
	return nil
}

// authHooks joins a player into the world when an auth request arrives,
// the way the rules script would.
type authHooks struct {
	script.NopHooks
	srv *Server
}

func (h *authHooks) HandleAuthRequest(peer uint32, body []byte) {
	var req struct {
		User string `json:"user"`
	}
	if err := json.Unmarshal(body, &req); err != nil {
		h.srv.Send(peer, transport.TypeAuthResponse, []byte(`{"ok":false}`), true)
		return
	}

	h.srv.AddPlayer(world.NewPlayer(peer, 7, req.User))
	h.srv.Send(peer, transport.TypeAuthResponse, []byte(`{"ok":true}`), true)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestServer(t *testing.T, ft Transport, p *persist.Port) *Server {
	t.Helper()

	cfg := config.Default()
	cfg.StateBroadcastPeriod = 10 * time.Millisecond
	cfg.PersistPeriod = 20 * time.Millisecond
	cfg.TickRate = 200
	cfg.PollTimeout = time.Millisecond

	return New(Opts{
		Config:    &cfg,
		Transport: ft,
		Persist:   p,
		Logger:    testLogger(),
	})
}

func moveBody(x, y, z float32) []byte {
	body := make([]byte, 12)
	binary.LittleEndian.PutUint32(body[0:4], math.Float32bits(x))
	binary.LittleEndian.PutUint32(body[4:8], math.Float32bits(y))
	binary.LittleEndian.PutUint32(body[8:12], math.Float32bits(z))
	return body
}

// tick runs one routing pass the way loop does, minus pacing.
func (s *Server) tick(ft *fakeTransport, dt float64) {
	for _, ev := range ft.Poll(0) {
		s.route(ev, dt)
	}
	s.world.Update(dt)
	s.safeHook(func() { s.hooks.UpdateWorld(dt) })
}

func lastBroadcast(ft *fakeTransport, typ byte) *sentPkt {
	for i := len(ft.sent) - 1; i >= 0; i-- {
		if ft.sent[i].broadcast && ft.sent[i].typ == typ {
			return &ft.sent[i]
		}
	}
	return nil
}

func TestServer_LoginAndJoinBroadcast(t *testing.T) {
	ft := &fakeTransport{}
	s := newTestServer(t, ft, nil)
	s.SetHooks(&authHooks{srv: s})

	ft.push(
		transport.Event{Kind: transport.EventConnect, Peer: 1},
		transport.Event{Kind: transport.EventConnect, Peer: 2},
		transport.Event{Kind: transport.EventReceive, Peer: 2,
			Type: transport.TypeAuthRequest, Body: []byte(`{"user":"bob"}`)},
	)
	s.tick(ft, 1.0/30)
	s.broadcastState()

	var authResp *sentPkt
	for i := range ft.sent {
		if ft.sent[i].peer == 2 && ft.sent[i].typ == transport.TypeAuthResponse {
			authResp = &ft.sent[i]
		}
	}
	if authResp == nil || string(authResp.body) != `{"ok":true}` || !authResp.reliable {
		t.Fatalf("auth response = %+v", authResp)
	}

	state := lastBroadcast(ft, transport.TypeWorldState)
	if state == nil {
		t.Fatal("no world state broadcast")
	}
	body := string(state.body)
	if !strings.Contains(body, `"username":"bob"`) {
		t.Fatalf("snapshot missing bob: %s", body)
	}
	if !strings.Contains(body, `"position":{"x":0,"y":0,"z":0}`) {
		t.Fatalf("snapshot position wrong: %s", body)
	}
}

func TestServer_MovementReflectedInSnapshot(t *testing.T) {
	ft := &fakeTransport{}
	s := newTestServer(t, ft, nil)
	s.AddPlayer(world.NewPlayer(1, 7, "alice"))

	ft.push(transport.Event{Kind: transport.EventReceive, Peer: 1,
		Type: transport.TypePlayerMove, Body: moveBody(5, 0, 0)})
	s.tick(ft, 1.0/30)
	s.broadcastState()

	p, ok := s.world.Player(1)
	if !ok {
		t.Fatal("player vanished")
	}
	if p.Position.X != 5 || p.Position.Y != 0 || p.Position.Z != 0 {
		t.Fatalf("position = %+v, want (5,0,0)", p.Position)
	}

	state := lastBroadcast(ft, transport.TypeWorldState)
	if state == nil {
		t.Fatal("no world state broadcast")
	}
	if !strings.Contains(string(state.body), `"x":5`) {
		t.Fatalf("snapshot missing moved position: %s", state.body)
	}
}

func TestServer_SpeedHackLeadsToBan(t *testing.T) {
	ft := &fakeTransport{}
	s := newTestServer(t, ft, nil)
	s.AddPlayer(world.NewPlayer(1, 7, "mallory"))

	for i := 0; i < 10; i++ {
		ft.push(transport.Event{Kind: transport.EventReceive, Peer: 1,
			Type: transport.TypePlayerMove, Body: moveBody(1000, 0, 0)})
		s.tick(ft, 1.0/30)
	}

	if len(ft.disconnected) != 1 || ft.disconnected[0] != 1 {
		t.Fatalf("disconnected = %v, want [1]", ft.disconnected)
	}

	// the synthetic disconnect event drives cleanup on the next tick
	s.tick(ft, 1.0/30)

	if _, ok := s.world.Player(1); ok {
		t.Fatal("banned player still in world")
	}
	if s.world.Grid().CellCount() != 0 {
		t.Fatalf("grid still has %d cells", s.world.Grid().CellCount())
	}
	if s.anticheat.Tracked() != 0 {
		t.Fatal("anticheat state not purged")
	}
}

func TestServer_ActionRateGate(t *testing.T) {
	ft := &fakeTransport{}
	s := newTestServer(t, ft, nil)
	s.AddPlayer(world.NewPlayer(1, 7, "alice"))

	var actions int
	s.SetHooks(&countingHooks{onAction: func(uint32, []byte) { actions++ }})

	for i := 0; i < 25; i++ {
		ft.push(transport.Event{Kind: transport.EventReceive, Peer: 1,
			Type: transport.TypePlayerAction, Body: []byte("attack")})
	}
	s.tick(ft, 1.0/30)

	if actions != 20 {
		t.Fatalf("hook saw %d actions, want 20", actions)
	}
	if len(ft.disconnected) != 0 {
		t.Fatal("rate-limited peer was disconnected")
	}
}

type countingHooks struct {
	script.NopHooks
	onAction func(uint32, []byte)
	onChat   func(uint32, []byte)
}

func (h *countingHooks) HandlePlayerAction(peer uint32, body []byte) {
	if h.onAction != nil {
		h.onAction(peer, body)
	}
}

func (h *countingHooks) HandleChatMessage(peer uint32, body []byte) {
	if h.onChat != nil {
		h.onChat(peer, body)
	}
}

func TestServer_RPCRoutedOnBothTags(t *testing.T) {
	ft := &fakeTransport{}
	s := newTestServer(t, ft, nil)

	var calls []uint32
	if err := s.RegisterRPC("shoot", func(peer uint32, args []rpc.Variant) {
		calls = append(calls, peer)
	}); err != nil {
		t.Fatalf("RegisterRPC: %v", err)
	}
	id, _ := s.dispatcher.MethodID("shoot")

	frame, err := rpc.Encode(&rpc.Call{MethodID: id, Args: []rpc.Variant{rpc.Integer(3)}})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	ft.push(
		transport.Event{Kind: transport.EventReceive, Peer: 4,
			Type: transport.TypeRemoteCall, Body: frame},
		transport.Event{Kind: transport.EventReceive, Peer: 5,
			Type: transport.TypeRPCCall, Body: frame},
	)
	s.tick(ft, 1.0/30)

	if len(calls) != 2 || calls[0] != 4 || calls[1] != 5 {
		t.Fatalf("calls = %v, want [4 5]", calls)
	}
}

func TestServer_MalformedPacketsAreDropped(t *testing.T) {
	ft := &fakeTransport{}
	s := newTestServer(t, ft, nil)
	s.AddPlayer(world.NewPlayer(1, 7, "alice"))

	ft.push(
		// short move body
		transport.Event{Kind: transport.EventReceive, Peer: 1,
			Type: transport.TypePlayerMove, Body: []byte{1, 2, 3}},
		// truncated rpc frame
		transport.Event{Kind: transport.EventReceive, Peer: 1,
			Type: transport.TypeRemoteCall, Body: []byte{0x00}},
		// unknown tag
		transport.Event{Kind: transport.EventReceive, Peer: 1,
			Type: 99, Body: []byte("junk")},
	)
	s.tick(ft, 1.0/30)

	if p, _ := s.world.Player(1); p.Position.X != 0 {
		t.Fatalf("short move packet changed position: %+v", p.Position)
	}
	if len(ft.disconnected) != 0 {
		t.Fatal("malformed packets caused a disconnect")
	}
}

func TestServer_HookPanicSurvived(t *testing.T) {
	ft := &fakeTransport{}
	s := newTestServer(t, ft, nil)
	s.SetHooks(&countingHooks{onChat: func(uint32, []byte) { panic("scripted failure") }})

	ft.push(transport.Event{Kind: transport.EventReceive, Peer: 1,
		Type: transport.TypeChatMessage, Body: []byte("hi")})
	s.tick(ft, 1.0/30)
}

func TestServer_RunShutdownDrainsPersistence(t *testing.T) {
	ft := &fakeTransport{}
	rec := persist.NewRecorder()
	port := persist.NewPort(rec, 64, testLogger())

	s := newTestServer(t, ft, port)
	s.AddPlayer(world.NewPlayer(1, 7, "alice"))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil && err != context.Canceled {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("shutdown did not complete in time")
	}

	if !ft.closed {
		t.Fatal("transport not closed on shutdown")
	}

	var found bool
	for _, w := range rec.Positions() {
		if w.PlayerID == 7 {
			found = true
		}
	}
	if !found {
		t.Fatal("no persistence write for the live player")
	}
}
