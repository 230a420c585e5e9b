package rpc

import (
	"fmt"
	"log/slog"
	"sync"
)

// Handler receives the calling peer and the decoded arguments.
type Handler func(peer uint32, args []Variant)

type entry struct {
	name string
	fn   Handler
}

// Dispatcher owns the bijective method-id ↔ name table and routes decoded
// calls. Registration happens once at startup; dispatch runs on the
// simulation thread.
type Dispatcher struct {
	log *slog.Logger

	mut    sync.RWMutex
	byName map[string]uint16
	byID   map[uint16]entry
	nextID uint16
}

func NewDispatcher(log *slog.Logger) *Dispatcher {
	return &Dispatcher{
		log:    log.With("component", "rpc"),
		byName: make(map[string]uint16),
		byID:   make(map[uint16]entry),
	}
}

// Register assigns the next free id to name. A duplicate name is a
// configuration error.
func (d *Dispatcher) Register(name string, fn Handler) (uint16, error) {
	d.mut.Lock()
	defer d.mut.Unlock()

	if _, exists := d.byName[name]; exists {
		return 0, fmt.Errorf("%w: name %q", ErrConflict, name)
	}
	for {
		if _, taken := d.byID[d.nextID]; !taken {
			break
		}
		d.nextID++
	}

	id := d.nextID
	d.nextID++
	d.byName[name] = id
	d.byID[id] = entry{name: name, fn: fn}

	d.log.Info("rpc registered", "method", name, "id", id)
	return id, nil
}

// RegisterWithID pins an explicit id. Collisions on either id or name are
// configuration errors.
func (d *Dispatcher) RegisterWithID(id uint16, name string, fn Handler) error {
	d.mut.Lock()
	defer d.mut.Unlock()

	if existing, taken := d.byID[id]; taken {
		return fmt.Errorf("%w: id %d already bound to %q", ErrConflict, id, existing.name)
	}
	if _, exists := d.byName[name]; exists {
		return fmt.Errorf("%w: name %q", ErrConflict, name)
	}

	d.byName[name] = id
	d.byID[id] = entry{name: name, fn: fn}
	if id >= d.nextID {
		d.nextID = id + 1
	}

	d.log.Info("rpc registered", "method", name, "id", id)
	return nil
}

// Dispatch routes a decoded call to its handler.
func (d *Dispatcher) Dispatch(peer uint32, methodID uint16, args []Variant) error {
	d.mut.RLock()
	e, ok := d.byID[methodID]
	d.mut.RUnlock()

	if !ok {
		return fmt.Errorf("%w: id %d", ErrUnknownMethod, methodID)
	}

	e.fn(peer, args)
	return nil
}

// HandleFrame decodes a REMOTE_CALL body and dispatches it.
func (d *Dispatcher) HandleFrame(peer uint32, body []byte) error {
	call, err := Decode(body)
	if err != nil {
		return err
	}
	return d.Dispatch(peer, call.MethodID, call.Args)
}

func (d *Dispatcher) MethodName(id uint16) (string, bool) {
	d.mut.RLock()
	defer d.mut.RUnlock()

	e, ok := d.byID[id]
	return e.name, ok
}

func (d *Dispatcher) MethodID(name string) (uint16, bool) {
	d.mut.RLock()
	defer d.mut.RUnlock()

	id, ok := d.byName[name]
	return id, ok
}
