package persist

import (
	"sync"

	"github.com/pquill/arena/internal/world"
)

// Recorder is an in-memory Adapter for tests and local runs without a
// database.
type Recorder struct {
	mut       sync.Mutex
	nextID    uint64
	positions []Write
	stats     []Write
	players   map[string]*world.Player
	hashes    map[string]string
	fail      error
}

func NewRecorder() *Recorder {
	return &Recorder{
		nextID:  1,
		players: make(map[string]*world.Player),
		hashes:  make(map[string]string),
	}
}

// FailWith makes every subsequent write return err.
func (r *Recorder) FailWith(err error) {
	r.mut.Lock()
	r.fail = err
	r.mut.Unlock()
}

func (r *Recorder) UpdatePosition(playerID uint64, x, y, z float64) error {
	r.mut.Lock()
	defer r.mut.Unlock()

	if r.fail != nil {
		return r.fail
	}
	r.positions = append(r.positions, Write{PlayerID: playerID, X: x, Y: y, Z: z})
	return nil
}

func (r *Recorder) UpdateStats(playerID uint64, level, health int) error {
	r.mut.Lock()
	defer r.mut.Unlock()

	if r.fail != nil {
		return r.fail
	}
	r.stats = append(r.stats, Write{PlayerID: playerID, Level: level, Health: health})
	return nil
}

func (r *Recorder) PlayerByUsername(username string) (*world.Player, error) {
	r.mut.Lock()
	defer r.mut.Unlock()

	return r.players[username], nil
}

func (r *Recorder) PasswordHash(username string) (string, error) {
	r.mut.Lock()
	defer r.mut.Unlock()

	return r.hashes[username], nil
}

func (r *Recorder) CreatePlayer(username, passwordHash string) (uint64, error) {
	r.mut.Lock()
	defer r.mut.Unlock()

	id := r.nextID
	r.nextID++
	r.hashes[username] = passwordHash
	r.players[username] = &world.Player{
		DBID: id, Username: username, Health: 100, Level: 1,
	}

	return id, nil
}

// AddPlayer seeds a lookup result.
func (r *Recorder) AddPlayer(p *world.Player) {
	r.mut.Lock()
	r.players[p.Username] = p
	r.mut.Unlock()
}

// Positions returns a copy of the applied position writes, in order.
func (r *Recorder) Positions() []Write {
	r.mut.Lock()
	defer r.mut.Unlock()

	return append([]Write(nil), r.positions...)
}

// Stats returns a copy of the applied stats writes, in order.
func (r *Recorder) Stats() []Write {
	r.mut.Lock()
	defer r.mut.Unlock()

	return append([]Write(nil), r.stats...)
}
