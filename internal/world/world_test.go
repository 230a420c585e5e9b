package world

import (
	"encoding/json"
	"testing"
	"time"
)

func TestWorld_AddRemoveKeepsMapsInSync(t *testing.T) {
	w := NewWorld(50)

	p := NewPlayer(1, 100, "alice")
	p.Position = Position{X: 10, Z: 10}
	w.Add(p)

	if _, ok := w.Player(1); !ok {
		t.Fatal("player missing after Add")
	}
	if _, ok := w.Grid().CellOf(1); !ok {
		t.Fatal("grid cell missing after Add")
	}

	w.Remove(1)
	if _, ok := w.Player(1); ok {
		t.Fatal("player present after Remove")
	}
	if _, ok := w.Grid().CellOf(1); ok {
		t.Fatal("grid cell present after Remove")
	}
	if got := w.Grid().QueryRadius(10, 10, 100); len(got) != 0 {
		t.Fatalf("grid query after Remove = %v, want empty", got)
	}
}

func TestWorld_UpdateReconcilesGrid(t *testing.T) {
	w := NewWorld(50)

	p := NewPlayer(1, 100, "alice")
	w.Add(p)
	before, _ := w.Grid().CellOf(1)

	p.Position = Position{X: 200, Z: 200}
	w.Update(1.0 / 30)

	after, ok := w.Grid().CellOf(1)
	if !ok || after == before {
		t.Fatalf("grid cell not reconciled: %v -> %v", before, after)
	}
}

func TestWorld_PlayersInRadius(t *testing.T) {
	w := NewWorld(50)

	near := NewPlayer(1, 100, "near")
	near.Position = Position{X: 5, Z: 5}
	far := NewPlayer(2, 101, "far")
	far.Position = Position{X: 1000, Z: 1000}
	w.Add(near)
	w.Add(far)

	got := w.PlayersInRadius(0, 0, 30)
	if len(got) != 1 || got[0].Username != "near" {
		t.Fatalf("PlayersInRadius = %+v, want just near", got)
	}
}

func TestWorld_PlayersInRadiusSkipsDanglingIDs(t *testing.T) {
	w := NewWorld(50)

	p := NewPlayer(1, 100, "ghost")
	w.Add(p)

	// simulate a disconnect race: id still in grid, record gone
	w.mut.Lock()
	delete(w.players, 1)
	w.mut.Unlock()

	if got := w.PlayersInRadius(0, 0, 10); len(got) != 0 {
		t.Fatalf("dangling id surfaced: %+v", got)
	}
}

func TestWorld_Snapshot(t *testing.T) {
	w := NewWorld(50)

	p := NewPlayer(2, 7, "bob")
	w.Add(p)

	raw, err := w.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot error: %v", err)
	}

	var state struct {
		Players []struct {
			PeerID   uint32 `json:"peer_id"`
			DBID     uint64 `json:"db_id"`
			Username string `json:"username"`
			Position struct {
				X, Y, Z float64
			} `json:"position"`
			Health int `json:"health"`
			Level  int `json:"level"`
		} `json:"players"`
	}
	if err := json.Unmarshal(raw, &state); err != nil {
		t.Fatalf("snapshot not valid JSON: %v", err)
	}

	if len(state.Players) != 1 {
		t.Fatalf("snapshot players = %d, want 1", len(state.Players))
	}
	got := state.Players[0]
	if got.Username != "bob" || got.PeerID != 2 || got.DBID != 7 {
		t.Fatalf("snapshot entry = %+v", got)
	}
	if got.Health != 100 || got.Level != 1 {
		t.Fatalf("defaults not applied: %+v", got)
	}
	if got.Position.X != 0 || got.Position.Y != 0 || got.Position.Z != 0 {
		t.Fatalf("position = %+v, want origin", got.Position)
	}
}

func TestWorld_IdleTracking(t *testing.T) {
	w := NewWorld(50)

	w.Add(NewPlayer(1, 100, "sleepy"))
	w.Add(NewPlayer(2, 101, "active"))

	// age peer 1's activity past the cutoff
	w.mut.Lock()
	w.activity[1] = time.Now().Add(-10 * time.Minute)
	w.mut.Unlock()

	w.Touch(2)

	idle := w.Idle(5 * time.Minute)
	if len(idle) != 1 || idle[0] != 1 {
		t.Fatalf("idle = %v, want [1]", idle)
	}
}
