package anticheat

import (
	"log/slog"
	"math"
	"time"

	"github.com/pquill/arena/pkg/syncmap"
)

const actionWindow = time.Second

// Config holds the behavioural limits enforced per peer.
type Config struct {
	// MaxSpeed is the maximum allowed movement speed in units/second.
	MaxSpeed float64

	// MaxActionsPerSecond caps the actions a peer may perform within
	// any sliding one-second window.
	MaxActionsPerSecond int

	// SuspiciousThreshold is the number of flagged violations after
	// which ShouldBan reports true.
	SuspiciousThreshold int
}

func DefaultConfig() Config {
	return Config{
		MaxSpeed:            15.0,
		MaxActionsPerSecond: 20,
		SuspiciousThreshold: 10,
	}
}

// behavior is the per-peer state. Mutated only on the simulation thread;
// the map itself is safe for concurrent readers (stats reporting).
type behavior struct {
	actions    []time.Time
	lastX      float64
	lastZ      float64
	lastMove   time.Time
	suspicious int
}

// Detector validates peer behaviour against the configured limits and
// accumulates a suspicion counter per peer.
type Detector struct {
	cfg Config
	log *slog.Logger
	now func() time.Time

	behaviors *syncmap.Map[uint32, *behavior]
}

func NewDetector(cfg Config, log *slog.Logger) *Detector {
	if cfg.MaxSpeed <= 0 {
		cfg.MaxSpeed = DefaultConfig().MaxSpeed
	}
	if cfg.MaxActionsPerSecond <= 0 {
		cfg.MaxActionsPerSecond = DefaultConfig().MaxActionsPerSecond
	}
	if cfg.SuspiciousThreshold <= 0 {
		cfg.SuspiciousThreshold = DefaultConfig().SuspiciousThreshold
	}

	return &Detector{
		cfg:       cfg,
		log:       log.With("component", "anticheat"),
		now:       time.Now,
		behaviors: syncmap.New[uint32, *behavior](),
	}
}

func (d *Detector) get(peer uint32) *behavior {
	b, _ := d.behaviors.GetOrPut(peer, func() *behavior { return &behavior{} })
	return b
}

// ValidateAction appends the current timestamp to the peer's action window,
// evicts entries older than one second, and rejects the action when the
// window exceeds the configured rate.
func (d *Detector) ValidateAction(peer uint32, action string) bool {
	b := d.get(peer)
	now := d.now()

	b.actions = append(b.actions, now)

	cutoff := now.Add(-actionWindow)
	kept := b.actions[:0]
	for _, ts := range b.actions {
		if !ts.Before(cutoff) {
			kept = append(kept, ts)
		}
	}
	b.actions = kept

	if len(b.actions) > d.cfg.MaxActionsPerSecond {
		d.Flag(peer, "action rate exceeded: "+action)
		return false
	}

	return true
}

// ValidateMovement checks the implied speed of a move. On success the
// peer's last position and movement time are updated; a rejected move
// leaves them untouched. dt <= 0 is treated as zero speed.
func (d *Detector) ValidateMovement(peer uint32, oldX, oldZ, newX, newZ, dt float64) bool {
	b := d.get(peer)

	dx := newX - oldX
	dz := newZ - oldZ
	distance := math.Sqrt(dx*dx + dz*dz)

	speed := 0.0
	if dt > 0 {
		speed = distance / dt
	}

	if speed > d.cfg.MaxSpeed {
		d.Flag(peer, "speed hack detected")
		d.log.Warn("peer moving too fast",
			"peer", peer, "speed", speed, "max", d.cfg.MaxSpeed)
		return false
	}

	b.lastX = newX
	b.lastZ = newZ
	b.lastMove = d.now()

	return true
}

// Observe seeds the peer's last validated position, typically at spawn.
func (d *Detector) Observe(peer uint32, x, z float64) {
	b := d.get(peer)
	b.lastX = x
	b.lastZ = z
	b.lastMove = d.now()
}

// LastPosition returns the peer's last validated position. A rejected move
// never advances it, so a cheater stays anchored at the last legal point.
func (d *Detector) LastPosition(peer uint32) (x, z float64, ok bool) {
	b, found := d.behaviors.Get(peer)
	if !found {
		return 0, 0, false
	}
	return b.lastX, b.lastZ, true
}

// Flag increments the peer's suspicion counter.
func (d *Detector) Flag(peer uint32, reason string) {
	b := d.get(peer)
	b.suspicious++

	d.log.Warn("suspicious activity",
		"peer", peer, "reason", reason, "total", b.suspicious)
}

// ShouldBan reports whether the peer's suspicion counter has reached the
// threshold.
func (d *Detector) ShouldBan(peer uint32) bool {
	b, ok := d.behaviors.Get(peer)
	if !ok {
		return false
	}
	return b.suspicious >= d.cfg.SuspiciousThreshold
}

// Suspicion returns the peer's current counter.
func (d *Detector) Suspicion(peer uint32) int {
	b, ok := d.behaviors.Get(peer)
	if !ok {
		return 0
	}
	return b.suspicious
}

// Forget purges all state for a disconnected peer.
func (d *Detector) Forget(peer uint32) {
	d.behaviors.Delete(peer)
}

// Tracked reports how many peers currently have behavioural state.
func (d *Detector) Tracked() int {
	return d.behaviors.Len()
}
