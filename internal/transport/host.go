package transport

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"os"
	"sync/atomic"
	"time"
)

var (
	ErrInit   = errors.New("transport: init failed")
	ErrClosed = errors.New("transport: host closed")
)

type EventKind uint8

const (
	EventConnect EventKind = iota
	EventDisconnect
	EventReceive
)

// Event is one typed occurrence returned by Poll. Type and Body are set
// only for EventReceive; Body is owned by the caller.
type Event struct {
	Kind EventKind
	Peer uint32
	Type byte
	Body []byte
}

// Opts configures a Host. Zero values pick sane defaults.
type Opts struct {
	Port              int
	MaxClients        int
	PeerTimeout       time.Duration
	RetransmitTimeout time.Duration
	MaxRetransmits    int
	Registry          *Registry
	Logger            *slog.Logger
}

// Host is a reliable-datagram session layer over one UDP socket. It is
// single-threaded: the simulation thread owns Poll, Send, Broadcast,
// Disconnect and Close, so peer state needs no locking. Reliable payloads
// go out on channel 0 with ack/retransmit and arrive in sequence order;
// unsequenced payloads use channel 1 and are delivered as they come.
type Host struct {
	log      *slog.Logger
	conn     *net.UDPConn
	registry *Registry

	maxClients     int
	peerTimeout    time.Duration
	rto            time.Duration
	maxRetransmits int

	peers   map[uint32]*peerState
	pending []Event
	buf     [2048]byte
	closed  bool

	packetsIn  atomic.Uint64
	packetsOut atomic.Uint64
}

type peerState struct {
	id       uint32
	addr     netip.AddrPort
	lastSeen time.Time
	send     [numChannels]uint16
	recv     [numChannels]recvChannel
	unacked  [numChannels]map[uint16]*outstanding
}

type recvChannel struct {
	expect  uint16
	pending map[uint16][]byte
}

type outstanding struct {
	pkt     []byte
	sentAt  time.Time
	retries int
}

func NewHost(opts Opts) (*Host, error) {
	if opts.MaxClients <= 0 {
		opts.MaxClients = 32
	}
	if opts.PeerTimeout <= 0 {
		opts.PeerTimeout = 10 * time.Second
	}
	if opts.RetransmitTimeout <= 0 {
		opts.RetransmitTimeout = 200 * time.Millisecond
	}
	if opts.MaxRetransmits <= 0 {
		opts.MaxRetransmits = 10
	}
	if opts.Registry == nil {
		opts.Registry = NewRegistry()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	conn, err := net.ListenUDP("udp", &net.UDPAddr{Port: opts.Port})
	if err != nil {
		return nil, fmt.Errorf("%w: bind :%d: %v", ErrInit, opts.Port, err)
	}

	return &Host{
		log:            opts.Logger.With("component", "transport"),
		conn:           conn,
		registry:       opts.Registry,
		maxClients:     opts.MaxClients,
		peerTimeout:    opts.PeerTimeout,
		rto:            opts.RetransmitTimeout,
		maxRetransmits: opts.MaxRetransmits,
		peers:          make(map[uint32]*peerState),
	}, nil
}

// Addr returns the bound local address.
func (h *Host) Addr() *net.UDPAddr {
	return h.conn.LocalAddr().(*net.UDPAddr)
}

// Registry exposes the peer id table for read-side collaborators.
func (h *Host) Registry() *Registry {
	return h.registry
}

// Poll reads datagrams until timeout elapses and returns the resulting
// events, including synthetic disconnects from earlier Disconnect calls,
// peer timeouts and exhausted retransmits.
func (h *Host) Poll(timeout time.Duration) []Event {
	events := h.pending
	h.pending = nil

	if h.closed {
		return events
	}

	h.conn.SetReadDeadline(time.Now().Add(timeout))
	for {
		n, addr, err := h.conn.ReadFromUDPAddrPort(h.buf[:])
		if err != nil {
			if !errors.Is(err, os.ErrDeadlineExceeded) && !errors.Is(err, net.ErrClosed) {
				h.log.Warn("udp read failed", "error", err.Error())
			}
			break
		}
		h.packetsIn.Add(1)

		addr = netip.AddrPortFrom(addr.Addr().Unmap(), addr.Port())
		events = append(events, h.handleDatagram(addr, h.buf[:n])...)
	}

	return append(events, h.housekeep(time.Now())...)
}

func (h *Host) handleDatagram(addr netip.AddrPort, data []byte) []Event {
	if len(data) == 0 {
		return nil
	}

	var ps *peerState
	if id, ok := h.registry.Reverse(addr); ok {
		ps = h.peers[id]
	}

	switch data[0] {
	case pktConnect:
		return h.handleConnect(addr, ps)

	case pktDisconnect:
		if ps == nil {
			return nil
		}
		h.drop(ps)
		return []Event{{Kind: EventDisconnect, Peer: ps.id}}

	case pktPing:
		if ps != nil {
			ps.lastSeen = time.Now()
		}
		return nil

	case pktAck:
		if ps == nil || len(data) < 4 {
			return nil
		}
		ps.lastSeen = time.Now()
		channel := data[1]
		if channel >= numChannels {
			return nil
		}
		seq := binary.LittleEndian.Uint16(data[2:4])
		delete(ps.unacked[channel], seq)
		return nil

	case pktData:
		if ps == nil || len(data) < dataHeaderLen+1 {
			return nil
		}
		ps.lastSeen = time.Now()

		flags, channel := data[1], data[2]
		if channel >= numChannels {
			return nil
		}
		seq := binary.LittleEndian.Uint16(data[3:5])
		payload := data[dataHeaderLen:]

		if flags&flagReliable == 0 {
			return []Event{h.receiveEvent(ps.id, payload)}
		}

		h.write(ps.addr, encodeAck(channel, seq))
		return h.deliverOrdered(ps, channel, seq, payload)
	}

	return nil
}

func (h *Host) handleConnect(addr netip.AddrPort, ps *peerState) []Event {
	// duplicate connect: the accept was lost, resend it
	if ps != nil {
		h.write(addr, []byte{pktAccept})
		return nil
	}

	if h.registry.Len() >= h.maxClients {
		h.log.Warn("connect refused, server full", "endpoint", addr.String())
		h.write(addr, []byte{pktDisconnect})
		return nil
	}

	id, err := h.registry.Attach(addr)
	if err != nil {
		return nil
	}

	now := time.Now()
	state := &peerState{id: id, addr: addr, lastSeen: now}
	for c := range state.recv {
		state.recv[c].pending = make(map[uint16][]byte)
		state.unacked[c] = make(map[uint16]*outstanding)
	}
	h.peers[id] = state

	h.write(addr, []byte{pktAccept})
	h.log.Info("peer connected", "peer", id, "endpoint", addr.String())

	return []Event{{Kind: EventConnect, Peer: id}}
}

// deliverOrdered hands the payload up only when its sequence number is the
// next expected one for the channel; later packets are buffered, earlier
// ones are duplicates.
func (h *Host) deliverOrdered(ps *peerState, channel uint8, seq uint16, payload []byte) []Event {
	ch := &ps.recv[channel]

	switch {
	case seq == ch.expect:
		events := []Event{h.receiveEvent(ps.id, payload)}
		ch.expect++
		for {
			next, ok := ch.pending[ch.expect]
			if !ok {
				break
			}
			delete(ch.pending, ch.expect)
			events = append(events, h.receiveEvent(ps.id, next))
			ch.expect++
		}
		return events

	case seqLess(seq, ch.expect):
		return nil

	default:
		if _, ok := ch.pending[seq]; !ok {
			ch.pending[seq] = append([]byte(nil), payload...)
		}
		return nil
	}
}

func (h *Host) receiveEvent(peer uint32, payload []byte) Event {
	body := append([]byte(nil), payload[1:]...)
	return Event{Kind: EventReceive, Peer: peer, Type: payload[0], Body: body}
}

func (h *Host) housekeep(now time.Time) []Event {
	var events []Event

peers:
	for _, ps := range h.peers {
		if now.Sub(ps.lastSeen) > h.peerTimeout {
			h.log.Info("peer timed out", "peer", ps.id)
			h.drop(ps)
			events = append(events, Event{Kind: EventDisconnect, Peer: ps.id})
			continue
		}

		for c := range ps.unacked {
			for _, out := range ps.unacked[c] {
				if now.Sub(out.sentAt) < h.rto {
					continue
				}
				if out.retries >= h.maxRetransmits {
					h.log.Info("peer unresponsive, dropping", "peer", ps.id)
					h.drop(ps)
					events = append(events, Event{Kind: EventDisconnect, Peer: ps.id})
					continue peers
				}
				h.write(ps.addr, out.pkt)
				out.sentAt = now
				out.retries++
			}
		}
	}

	return events
}

// Send delivers tag∥body to one peer. Reliable payloads use the ordered
// channel; others go unsequenced. Returns false for unknown peers and
// write failures.
func (h *Host) Send(peer uint32, typ byte, body []byte, reliable bool) bool {
	ps, ok := h.peers[peer]
	if !ok {
		return false
	}

	payload := make([]byte, 1+len(body))
	payload[0] = typ
	copy(payload[1:], body)

	channel, flags := channelUnsequenced, byte(0)
	if reliable {
		channel, flags = channelReliable, flagReliable
	}

	seq := ps.send[channel]
	ps.send[channel]++

	pkt := encodeData(flags, channel, seq, payload)
	if err := h.write(ps.addr, pkt); err != nil {
		h.log.Warn("send failed", "peer", peer, "error", err.Error())
		return false
	}

	if reliable {
		ps.unacked[channel][seq] = &outstanding{pkt: pkt, sentAt: time.Now()}
	}

	return true
}

// Broadcast sends tag∥body to every connected peer except exclude (0 for
// none). Returns false if any individual send failed.
func (h *Host) Broadcast(typ byte, body []byte, reliable bool, exclude uint32) bool {
	ok := true
	for id := range h.peers {
		if id == exclude {
			continue
		}
		if !h.Send(id, typ, body, reliable) {
			ok = false
		}
	}

	return ok
}

// Disconnect closes the session with peer. The matching synthetic
// disconnect event surfaces on the next Poll so routing cleanup still runs.
func (h *Host) Disconnect(peer uint32) {
	ps, ok := h.peers[peer]
	if !ok {
		return
	}

	h.write(ps.addr, []byte{pktDisconnect})
	h.drop(ps)
	h.pending = append(h.pending, Event{Kind: EventDisconnect, Peer: peer})
}

func (h *Host) drop(ps *peerState) {
	h.registry.Detach(ps.addr)
	delete(h.peers, ps.id)
}

// Close notifies every peer and releases the socket.
func (h *Host) Close() error {
	if h.closed {
		return ErrClosed
	}
	h.closed = true

	for _, ps := range h.peers {
		h.write(ps.addr, []byte{pktDisconnect})
	}
	h.peers = make(map[uint32]*peerState)

	return h.conn.Close()
}

func (h *Host) write(addr netip.AddrPort, pkt []byte) error {
	_, err := h.conn.WriteToUDPAddrPort(pkt, addr)
	if err == nil {
		h.packetsOut.Add(1)
	}

	return err
}

// Stats reports datagrams read and written since startup.
func (h *Host) Stats() (in, out uint64) {
	return h.packetsIn.Load(), h.packetsOut.Load()
}
