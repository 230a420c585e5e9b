package server

import (
	"context"
	"encoding/binary"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/pquill/arena/internal/anticheat"
	"github.com/pquill/arena/internal/config"
	"github.com/pquill/arena/internal/persist"
	"github.com/pquill/arena/internal/rpc"
	"github.com/pquill/arena/internal/script"
	"github.com/pquill/arena/internal/transport"
	"github.com/pquill/arena/internal/world"
)

// Transport is the session layer the tick loop drives. *transport.Host is
// the production implementation; tests substitute a scripted fake.
type Transport interface {
	Poll(timeout time.Duration) []transport.Event
	Send(peer uint32, typ byte, body []byte, reliable bool) bool
	Broadcast(typ byte, body []byte, reliable bool, exclude uint32) bool
	Disconnect(peer uint32)
	Stats() (in, out uint64)
	Close() error
}

// Opts carries the server's collaborators. Config and Transport are
// required; the rest default to working implementations.
type Opts struct {
	Config     *config.Config
	Transport  Transport
	World      *world.World
	AntiCheat  *anticheat.Detector
	Persist    *persist.Port
	Dispatcher *rpc.Dispatcher
	Hooks      script.Hooks
	Monitor    *Monitor
	Logger     *slog.Logger
}

// Server owns the fixed-rate simulation loop. It is the single mutator of
// world state; every handler below runs on the loop goroutine.
type Server struct {
	log        *slog.Logger
	cfg        *config.Config
	transport  Transport
	world      *world.World
	anticheat  *anticheat.Detector
	persist    *persist.Port
	dispatcher *rpc.Dispatcher
	hooks      script.Hooks
	monitor    *Monitor

	stateAccum   time.Duration
	persistAccum time.Duration
	reportAccum  time.Duration
	idleAccum    time.Duration
}

func New(opts Opts) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.World == nil {
		opts.World = world.NewWorld(opts.Config.CellSize)
	}
	if opts.AntiCheat == nil {
		opts.AntiCheat = anticheat.NewDetector(anticheat.Config{
			MaxSpeed:            opts.Config.MaxSpeed,
			MaxActionsPerSecond: opts.Config.MaxActionsPerSecond,
			SuspiciousThreshold: opts.Config.SuspiciousThreshold,
		}, opts.Logger)
	}
	if opts.Dispatcher == nil {
		opts.Dispatcher = rpc.NewDispatcher(opts.Logger)
	}
	if opts.Hooks == nil {
		opts.Hooks = script.NopHooks{}
	}
	if opts.Monitor == nil {
		opts.Monitor = NewMonitor(opts.Logger)
	}

	return &Server{
		log:        opts.Logger.With("component", "server"),
		cfg:        opts.Config,
		transport:  opts.Transport,
		world:      opts.World,
		anticheat:  opts.AntiCheat,
		persist:    opts.Persist,
		dispatcher: opts.Dispatcher,
		hooks:      opts.Hooks,
		monitor:    opts.Monitor,
	}
}

// SetHooks swaps the rule-logic port. Call before Run; the script engine
// needs the server as its façade, so it is constructed second.
func (s *Server) SetHooks(h script.Hooks) {
	s.hooks = h
}

// World exposes the simulation state for read-side collaborators.
func (s *Server) World() *world.World {
	return s.world
}

// Dispatcher exposes the RPC table for startup registration.
func (s *Server) Dispatcher() *rpc.Dispatcher {
	return s.dispatcher
}

// Run drives the tick loop until ctx is cancelled, plus the metrics
// listener when enabled.
func (s *Server) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return s.loop(ctx) })
	if s.cfg.MetricsEnabled {
		g.Go(func() error { return s.serveMetrics(ctx) })
	}

	return g.Wait()
}

func (s *Server) loop(ctx context.Context) error {
	tick := s.cfg.TickInterval()
	s.log.Info("simulation started",
		"tick_rate", s.cfg.TickRate, "max_clients", s.cfg.MaxClients)

	last := time.Now().Add(-tick)
	for {
		select {
		case <-ctx.Done():
			return s.shutdown()
		default:
		}

		frameStart := time.Now()
		dtDur := frameStart.Sub(last)
		if dtDur <= 0 {
			dtDur = tick
		}
		dt := dtDur.Seconds()
		last = frameStart

		for _, ev := range s.transport.Poll(s.cfg.PollTimeout) {
			s.route(ev, dt)
		}

		s.world.Update(dt)
		s.safeHook(func() { s.hooks.UpdateWorld(dt) })

		s.stateAccum += dtDur
		s.persistAccum += dtDur
		s.idleAccum += dtDur
		s.reportAccum += dtDur

		if s.stateAccum >= s.cfg.StateBroadcastPeriod {
			s.stateAccum = 0
			s.broadcastState()
		}
		if s.persistAccum >= s.cfg.PersistPeriod {
			s.persistAccum = 0
			s.persistSnapshot()
		}
		if s.idleAccum >= s.cfg.IdleSweepInterval {
			s.idleAccum = 0
			s.sweepIdle()
		}
		if s.reportAccum >= s.cfg.PerfReportPeriod {
			s.reportAccum = 0
			s.monitor.Report()
		}

		s.monitor.RecordFrame(time.Since(frameStart))
		s.monitor.RecordPackets(s.transport.Stats())
		s.monitor.SetPlayers(s.world.Len())
		if s.persist != nil {
			s.monitor.SetPersistDropped(s.persist.Dropped())
		}

		if elapsed := time.Since(frameStart); elapsed < tick {
			select {
			case <-ctx.Done():
			case <-time.After(tick - elapsed):
			}
		}
	}
}

func (s *Server) route(ev transport.Event, dt float64) {
	switch ev.Kind {
	case transport.EventConnect:
		s.log.Info("peer joined", "peer", ev.Peer)
		s.safeHook(func() { s.hooks.OnPlayerConnect(ev.Peer, "") })

	case transport.EventDisconnect:
		s.dropPeer(ev.Peer)

	case transport.EventReceive:
		s.routePacket(ev, dt)
	}
}

func (s *Server) routePacket(ev transport.Event, dt float64) {
	switch ev.Type {
	case transport.TypeAuthRequest:
		s.safeHook(func() { s.hooks.HandleAuthRequest(ev.Peer, ev.Body) })

	case transport.TypePlayerMove:
		s.handleMove(ev.Peer, ev.Body, dt)

	case transport.TypePlayerAction:
		s.handleAction(ev.Peer, ev.Body)

	case transport.TypeChatMessage:
		s.world.Touch(ev.Peer)
		s.safeHook(func() { s.hooks.HandleChatMessage(ev.Peer, ev.Body) })

	case transport.TypeRPCCall, transport.TypeRemoteCall:
		s.world.Touch(ev.Peer)
		if err := s.dispatcher.HandleFrame(ev.Peer, ev.Body); err != nil {
			s.log.Warn("rpc dropped", "peer", ev.Peer, "error", err.Error())
		}

	default:
		s.log.Debug("unknown packet type", "peer", ev.Peer, "type", ev.Type)
	}
}

// handleMove decodes 3 little-endian float32 coordinates. A rejected move
// still lands unless the peer crossed the ban threshold; then the position
// is discarded and the session closed.
func (s *Server) handleMove(peer uint32, body []byte, dt float64) {
	if len(body) < 12 {
		s.log.Debug("short move packet", "peer", peer, "len", len(body))
		return
	}

	x := float64(math.Float32frombits(binary.LittleEndian.Uint32(body[0:4])))
	y := float64(math.Float32frombits(binary.LittleEndian.Uint32(body[4:8])))
	z := float64(math.Float32frombits(binary.LittleEndian.Uint32(body[8:12])))

	p, ok := s.world.Player(peer)
	if !ok {
		return
	}

	if s.cfg.AntiCheatEnabled {
		oldX, oldZ := p.Position.X, p.Position.Z
		if ax, az, ok := s.anticheat.LastPosition(peer); ok {
			oldX, oldZ = ax, az
		}
		valid := s.anticheat.ValidateMovement(peer, oldX, oldZ, x, z, dt)
		if !valid && s.anticheat.ShouldBan(peer) {
			s.log.Warn("banning peer", "peer", peer, "player", p.Username)
			s.transport.Disconnect(peer)
			return
		}
	}

	p.Position = world.Position{X: x, Y: y, Z: z}
	s.world.Touch(peer)
	s.safeHook(func() { s.hooks.HandlePlayerMove(peer, body) })
}

// handleAction gates the action through the rate limiter; a rejected
// action is dropped silently.
func (s *Server) handleAction(peer uint32, body []byte) {
	if s.cfg.AntiCheatEnabled && !s.anticheat.ValidateAction(peer, "action") {
		return
	}

	s.world.Touch(peer)
	s.safeHook(func() { s.hooks.HandlePlayerAction(peer, body) })
}

func (s *Server) dropPeer(peer uint32) {
	var username string
	if p, ok := s.world.Player(peer); ok {
		username = p.Username
	}

	s.world.Remove(peer)
	s.anticheat.Forget(peer)
	s.log.Info("peer left", "peer", peer, "player", username)
	s.safeHook(func() { s.hooks.OnPlayerDisconnect(peer, username) })
}

func (s *Server) broadcastState() {
	if s.world.Len() == 0 {
		return
	}

	snap, err := s.world.Snapshot()
	if err != nil {
		s.log.Error("snapshot failed", "error", err.Error())
		return
	}
	s.transport.Broadcast(transport.TypeWorldState, snap, false, 0)
}

func (s *Server) persistSnapshot() {
	if s.persist == nil {
		return
	}

	for _, p := range s.world.Players() {
		if p.DBID == 0 {
			continue
		}
		s.persist.EnqueuePosition(p.DBID, p.Position.X, p.Position.Y, p.Position.Z)
	}
}

func (s *Server) sweepIdle() {
	for _, peer := range s.world.Idle(s.cfg.IdleCutoff) {
		p, ok := s.world.Player(peer)
		if !ok {
			continue
		}
		s.log.Warn("player idle", "peer", peer, "player", p.Username)
	}
}

// safeHook runs rule logic; a panicking hook is logged and survived.
func (s *Server) safeHook(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("script hook panicked", "panic", r)
		}
	}()
	fn()
}

func (s *Server) shutdown() error {
	s.log.Info("shutting down")

	s.persistSnapshot()
	if s.persist != nil {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := s.persist.Close(ctx); err != nil {
			s.log.Warn("persistence drain incomplete", "error", err.Error())
		}
	}

	if err := s.transport.Close(); err != nil && !errors.Is(err, transport.ErrClosed) {
		s.log.Warn("transport close failed", "error", err.Error())
	}

	return nil
}

func (s *Server) serveMetrics(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", s.monitor.Handler())

	srv := &http.Server{Addr: s.cfg.MetricsBindAddr, Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	s.log.Info("metrics listening", "addr", s.cfg.MetricsBindAddr)
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}

// ========== script façade ==========
//
// These satisfy script.Facade; hooks call them on the loop goroutine.

func (s *Server) Send(peer uint32, typ byte, body []byte, reliable bool) bool {
	return s.transport.Send(peer, typ, body, reliable)
}

func (s *Server) Broadcast(typ byte, body []byte, exclude uint32) bool {
	return s.transport.Broadcast(typ, body, true, exclude)
}

func (s *Server) PlayersInRadius(x, z, r float64) []*world.Player {
	return s.world.PlayersInRadius(x, z, r)
}

func (s *Server) RegisterRPC(name string, fn func(peer uint32, args []rpc.Variant)) error {
	_, err := s.dispatcher.Register(name, fn)
	return err
}

func (s *Server) EnqueuePosition(playerID uint64, x, y, z float64) bool {
	if s.persist == nil {
		return false
	}
	return s.persist.EnqueuePosition(playerID, x, y, z)
}

func (s *Server) Authenticate(username, password string) (*world.Player, error) {
	if s.persist == nil {
		return nil, persist.ErrBadCredentials
	}
	return s.persist.Authenticate(username, password)
}

func (s *Server) CreateAccount(username, password string) (uint64, error) {
	if s.persist == nil {
		return 0, persist.ErrBadCredentials
	}
	return s.persist.CreateAccount(username, password)
}

func (s *Server) AddPlayer(p *world.Player) {
	s.world.Add(p)
	s.anticheat.Observe(p.PeerID, p.Position.X, p.Position.Z)
}

func (s *Server) RemovePlayer(peer uint32) {
	s.world.Remove(peer)
}
