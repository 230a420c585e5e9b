package world

// Position is a point in world space. JSON field names are part of the
// WORLD_STATE wire format.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Player is the authoritative record for one connected, authenticated
// player. The World owns these; PeerID is a non-owning reference into the
// transport's registry.
type Player struct {
	PeerID   uint32   `json:"peer_id"`
	DBID     uint64   `json:"db_id"`
	Username string   `json:"username"`
	Position Position `json:"position"`
	Health   int      `json:"health"`
	Level    int      `json:"level"`
}

func NewPlayer(peerID uint32, dbID uint64, username string) *Player {
	return &Player{
		PeerID:   peerID,
		DBID:     dbID,
		Username: username,
		Health:   100,
		Level:    1,
	}
}
