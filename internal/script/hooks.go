package script

import (
	"github.com/pquill/arena/internal/rpc"
	"github.com/pquill/arena/internal/world"
)

// Hooks is the set of notifications the core raises toward external rule
// logic. Implementations run on the simulation thread and must return
// promptly; the core tolerates a panicking hook.
type Hooks interface {
	HandleAuthRequest(peer uint32, body []byte)
	HandlePlayerMove(peer uint32, body []byte)
	HandlePlayerAction(peer uint32, body []byte)
	HandleChatMessage(peer uint32, body []byte)
	UpdateWorld(dt float64)
	OnPlayerConnect(peer uint32, username string)
	OnPlayerDisconnect(peer uint32, username string)
}

// Facade is the narrow surface hooks may call back into. Everything else
// in the core is off limits to rule logic.
type Facade interface {
	Send(peer uint32, typ byte, body []byte, reliable bool) bool
	Broadcast(typ byte, body []byte, exclude uint32) bool
	PlayersInRadius(x, z, r float64) []*world.Player
	RegisterRPC(name string, fn func(peer uint32, args []rpc.Variant)) error
	EnqueuePosition(playerID uint64, x, y, z float64) bool
	Authenticate(username, password string) (*world.Player, error)
	CreateAccount(username, password string) (uint64, error)
	AddPlayer(p *world.Player)
	RemovePlayer(peer uint32)
}

// NopHooks is the default when no script is configured.
type NopHooks struct{}

func (NopHooks) HandleAuthRequest(uint32, []byte)  {}
func (NopHooks) HandlePlayerMove(uint32, []byte)   {}
func (NopHooks) HandlePlayerAction(uint32, []byte) {}
func (NopHooks) HandleChatMessage(uint32, []byte)  {}
func (NopHooks) UpdateWorld(float64)               {}
func (NopHooks) OnPlayerConnect(uint32, string)    {}
func (NopHooks) OnPlayerDisconnect(uint32, string) {}
