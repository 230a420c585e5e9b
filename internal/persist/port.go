package persist

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/pquill/arena/internal/world"
	"github.com/pquill/arena/pkg/secret"
)

var (
	ErrQueueFull      = errors.New("persist: queue full")
	ErrBadCredentials = errors.New("persist: invalid credentials")
)

type writeKind uint8

const (
	writePosition writeKind = iota
	writeStats
)

// Write is one queued persistence operation.
type Write struct {
	kind     writeKind
	PlayerID uint64
	X, Y, Z  float64
	Level    int
	Health   int
}

// Adapter is the storage backend behind the port. Only the worker
// goroutine calls the Update methods; the lookup and credential methods
// may be called synchronously from the login path.
type Adapter interface {
	UpdatePosition(playerID uint64, x, y, z float64) error
	UpdateStats(playerID uint64, level, health int) error
	PlayerByUsername(username string) (*world.Player, error)
	PasswordHash(username string) (string, error)
	CreatePlayer(username, passwordHash string) (uint64, error)
}

// Port decouples the simulation from storage latency: enqueues never
// block, a single worker drains the bounded queue in FIFO order, and
// writes that do not fit are dropped and counted. Per-player ordering
// holds because the simulation thread is the only producer.
type Port struct {
	log     *slog.Logger
	adapter Adapter

	queue chan Write
	done  chan struct{}

	closed    atomic.Bool
	closeOnce sync.Once

	dropped atomic.Uint64
	applied atomic.Uint64
	failed  atomic.Uint64
}

func NewPort(adapter Adapter, queueSize int, log *slog.Logger) *Port {
	if queueSize <= 0 {
		queueSize = 1024
	}

	p := &Port{
		log:     log.With("component", "persist"),
		adapter: adapter,
		queue:   make(chan Write, queueSize),
		done:    make(chan struct{}),
	}
	go p.worker()

	return p
}

// EnqueuePosition queues a position write. Returns false when the write
// was dropped (queue full or port closed).
func (p *Port) EnqueuePosition(playerID uint64, x, y, z float64) bool {
	return p.enqueue(Write{kind: writePosition, PlayerID: playerID, X: x, Y: y, Z: z})
}

// EnqueueStats queues a level/health write.
func (p *Port) EnqueueStats(playerID uint64, level, health int) bool {
	return p.enqueue(Write{kind: writeStats, PlayerID: playerID, Level: level, Health: health})
}

func (p *Port) enqueue(w Write) bool {
	if p.closed.Load() {
		p.dropped.Add(1)
		return false
	}

	select {
	case p.queue <- w:
		return true
	default:
		p.dropped.Add(1)
		return false
	}
}

// PlayerByUsername looks a player up synchronously. Acceptable only on
// cold paths (login).
func (p *Port) PlayerByUsername(username string) (*world.Player, error) {
	return p.adapter.PlayerByUsername(username)
}

// Authenticate verifies the stored credential and returns the player
// record. Unknown usernames and wrong passwords are indistinguishable to
// the caller.
func (p *Port) Authenticate(username, password string) (*world.Player, error) {
	hash, err := p.adapter.PasswordHash(username)
	if err != nil {
		return nil, err
	}
	if hash == "" || !secret.VerifyPassword(hash, password) {
		return nil, ErrBadCredentials
	}

	return p.adapter.PlayerByUsername(username)
}

// CreateAccount hashes the password and inserts a fresh player row,
// returning its id.
func (p *Port) CreateAccount(username, password string) (uint64, error) {
	hash, err := secret.HashPassword(password)
	if err != nil {
		return 0, err
	}

	return p.adapter.CreatePlayer(username, hash)
}

func (p *Port) worker() {
	defer close(p.done)

	for w := range p.queue {
		var err error
		switch w.kind {
		case writePosition:
			err = p.adapter.UpdatePosition(w.PlayerID, w.X, w.Y, w.Z)
		case writeStats:
			err = p.adapter.UpdateStats(w.PlayerID, w.Level, w.Health)
		}

		if err != nil {
			p.failed.Add(1)
			p.log.Error("persistence write failed",
				"player", w.PlayerID, "error", err.Error())
			continue
		}
		p.applied.Add(1)
	}
}

// Close stops intake and waits for the worker to drain the queue, bounded
// by ctx. Writes still queued when ctx expires are abandoned.
func (p *Port) Close(ctx context.Context) error {
	var err error
	p.closeOnce.Do(func() {
		p.closed.Store(true)
		close(p.queue)

		select {
		case <-p.done:
		case <-ctx.Done():
			err = ctx.Err()
			p.log.Warn("persistence worker did not drain in time",
				"pending", len(p.queue))
		}
	})

	return err
}

// Dropped reports writes rejected because the queue was full.
func (p *Port) Dropped() uint64 { return p.dropped.Load() }

// Applied reports writes the adapter accepted.
func (p *Port) Applied() uint64 { return p.applied.Load() }

// Failed reports writes the adapter rejected.
func (p *Port) Failed() uint64 { return p.failed.Load() }
