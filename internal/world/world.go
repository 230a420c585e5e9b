package world

import (
	"encoding/json"
	"sync"
	"time"
)

// World owns the player records and their spatial index. The simulation
// thread is the only mutator; radius queries may come from other tasks and
// take shared locks only.
type World struct {
	grid *Grid

	mut      sync.RWMutex
	players  map[uint32]*Player
	activity map[uint32]time.Time
}

type snapshot struct {
	Players []*Player `json:"players"`
}

func NewWorld(cellSize float64) *World {
	return &World{
		grid:     NewGrid(cellSize),
		players:  make(map[uint32]*Player),
		activity: make(map[uint32]time.Time),
	}
}

// Add inserts a player into the record map and the grid together.
func (w *World) Add(p *Player) {
	w.mut.Lock()
	defer w.mut.Unlock()

	w.players[p.PeerID] = p
	w.activity[p.PeerID] = time.Now()
	w.grid.Insert(p.PeerID, p.Position.X, p.Position.Z)
}

// Remove drops a player from the record map and the grid together.
func (w *World) Remove(peer uint32) {
	w.mut.Lock()
	defer w.mut.Unlock()

	delete(w.players, peer)
	delete(w.activity, peer)
	w.grid.Remove(peer)
}

// Player returns the record for peer.
func (w *World) Player(peer uint32) (*Player, bool) {
	w.mut.RLock()
	defer w.mut.RUnlock()

	p, ok := w.players[peer]
	return p, ok
}

func (w *World) Len() int {
	w.mut.RLock()
	defer w.mut.RUnlock()

	return len(w.players)
}

// Update reconciles every player's grid cell with its current position.
// Grid moves are no-ops for players whose cell did not change.
func (w *World) Update(dt float64) {
	w.mut.RLock()
	defer w.mut.RUnlock()

	for id, p := range w.players {
		w.grid.Update(id, p.Position.X, p.Position.Z)
	}
}

// PlayersInRadius joins a grid query with the player map. IDs without a
// live player are skipped; a disconnect may race the query.
func (w *World) PlayersInRadius(x, z, r float64) []*Player {
	ids := w.grid.QueryRadius(x, z, r)

	w.mut.RLock()
	defer w.mut.RUnlock()

	result := make([]*Player, 0, len(ids))
	for _, id := range ids {
		if p, ok := w.players[id]; ok {
			result = append(result, p)
		}
	}

	return result
}

// Players returns every live player. Order is unspecified.
func (w *World) Players() []*Player {
	w.mut.RLock()
	defer w.mut.RUnlock()

	players := make([]*Player, 0, len(w.players))
	for _, p := range w.players {
		players = append(players, p)
	}

	return players
}

// Grid exposes the spatial index for read-side collaborators.
func (w *World) Grid() *Grid {
	return w.grid
}

// Snapshot serializes the authoritative world state as the WORLD_STATE
// JSON body.
func (w *World) Snapshot() ([]byte, error) {
	w.mut.RLock()
	defer w.mut.RUnlock()

	players := make([]*Player, 0, len(w.players))
	for _, p := range w.players {
		players = append(players, p)
	}

	return json.Marshal(snapshot{Players: players})
}

// Touch records activity for peer; used by the idle sweep.
func (w *World) Touch(peer uint32) {
	w.mut.Lock()
	defer w.mut.Unlock()

	if _, ok := w.players[peer]; ok {
		w.activity[peer] = time.Now()
	}
}

// Idle returns the peers whose last activity is older than cutoff.
func (w *World) Idle(cutoff time.Duration) []uint32 {
	w.mut.RLock()
	defer w.mut.RUnlock()

	deadline := time.Now().Add(-cutoff)
	var idle []uint32
	for id, last := range w.activity {
		if last.Before(deadline) {
			idle = append(idle, id)
		}
	}

	return idle
}
