package transport

import (
	"errors"
	"net/netip"
	"sync"
)

var ErrAttached = errors.New("transport: endpoint already attached")

// Registry maps transport endpoints to stable peer ids and back. IDs start
// at 1 and are never reused within a server run; id 0 is reserved as "no
// peer".
type Registry struct {
	mut    sync.RWMutex
	nextID uint32
	byID   map[uint32]netip.AddrPort
	byAddr map[netip.AddrPort]uint32
}

func NewRegistry() *Registry {
	return &Registry{
		nextID: 1,
		byID:   make(map[uint32]netip.AddrPort),
		byAddr: make(map[netip.AddrPort]uint32),
	}
}

// Attach assigns a fresh peer id to endpoint. An endpoint may hold only one
// id at a time.
func (r *Registry) Attach(endpoint netip.AddrPort) (uint32, error) {
	r.mut.Lock()
	defer r.mut.Unlock()

	if _, ok := r.byAddr[endpoint]; ok {
		return 0, ErrAttached
	}

	id := r.nextID
	r.nextID++
	r.byID[id] = endpoint
	r.byAddr[endpoint] = id

	return id, nil
}

// Detach removes the endpoint's mapping. Detaching an unknown endpoint is a
// no-op.
func (r *Registry) Detach(endpoint netip.AddrPort) {
	r.mut.Lock()
	defer r.mut.Unlock()

	id, ok := r.byAddr[endpoint]
	if !ok {
		return
	}
	delete(r.byAddr, endpoint)
	delete(r.byID, id)
}

// Lookup returns the endpoint for a peer id.
func (r *Registry) Lookup(peer uint32) (netip.AddrPort, bool) {
	r.mut.RLock()
	defer r.mut.RUnlock()

	ep, ok := r.byID[peer]
	return ep, ok
}

// Reverse returns the peer id for an endpoint.
func (r *Registry) Reverse(endpoint netip.AddrPort) (uint32, bool) {
	r.mut.RLock()
	defer r.mut.RUnlock()

	id, ok := r.byAddr[endpoint]
	return id, ok
}

func (r *Registry) Len() int {
	r.mut.RLock()
	defer r.mut.RUnlock()

	return len(r.byID)
}

// Peers returns the ids of every attached peer.
func (r *Registry) Peers() []uint32 {
	r.mut.RLock()
	defer r.mut.RUnlock()

	peers := make([]uint32, 0, len(r.byID))
	for id := range r.byID {
		peers = append(peers, id)
	}

	return peers
}
