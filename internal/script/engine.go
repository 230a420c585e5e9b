package script

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/dop251/goja"

	"github.com/pquill/arena/internal/rpc"
	"github.com/pquill/arena/internal/world"
	"github.com/pquill/arena/pkg/secret"
)

// Engine runs game rules written in JavaScript. The script registers
// global functions named after the hooks (handle_auth_request,
// update_world, ...); missing functions are tolerated. A `server` object
// exposes the callback façade. Everything runs on the simulation thread,
// so the runtime needs no locking.
type Engine struct {
	log    *slog.Logger
	vm     *goja.Runtime
	facade Facade

	hookFns map[string]goja.Callable
}

var hookNames = []string{
	"handle_auth_request",
	"handle_player_move",
	"handle_player_action",
	"handle_chat_message",
	"update_world",
	"on_player_connect",
	"on_player_disconnect",
}

// NewEngine loads and evaluates the script at path, then resolves the hook
// functions it defined.
func NewEngine(path string, facade Facade, log *slog.Logger) (*Engine, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read script: %w", err)
	}

	e := &Engine{
		log:     log.With("component", "script"),
		vm:      goja.New(),
		facade:  facade,
		hookFns: make(map[string]goja.Callable),
	}
	if err := e.bindFacade(); err != nil {
		return nil, err
	}

	if _, err := e.vm.RunScript(path, string(src)); err != nil {
		return nil, fmt.Errorf("evaluate script %s: %w", path, err)
	}

	for _, name := range hookNames {
		fn, ok := goja.AssertFunction(e.vm.Get(name))
		if !ok {
			continue
		}
		e.hookFns[name] = fn
	}
	e.log.Info("script loaded", "path", path, "hooks", len(e.hookFns))

	return e, nil
}

func (e *Engine) bindFacade() error {
	server := e.vm.NewObject()

	server.Set("send", func(peer uint32, typ byte, body string, reliable bool) bool {
		return e.facade.Send(peer, typ, []byte(body), reliable)
	})
	server.Set("broadcast", func(typ byte, body string, exclude uint32) bool {
		return e.facade.Broadcast(typ, []byte(body), exclude)
	})
	server.Set("players_in_radius", func(x, z, r float64) []map[string]any {
		players := e.facade.PlayersInRadius(x, z, r)
		out := make([]map[string]any, 0, len(players))
		for _, p := range players {
			out = append(out, map[string]any{
				"peer_id":  p.PeerID,
				"db_id":    p.DBID,
				"username": p.Username,
				"x":        p.Position.X,
				"y":        p.Position.Y,
				"z":        p.Position.Z,
				"health":   p.Health,
				"level":    p.Level,
			})
		}
		return out
	})
	server.Set("register_rpc", func(name string, cb goja.Value) {
		fn, ok := goja.AssertFunction(cb)
		if !ok {
			panic(e.vm.NewTypeError("register_rpc: handler is not a function"))
		}
		err := e.facade.RegisterRPC(name, func(peer uint32, args []rpc.Variant) {
			jsArgs := make([]any, len(args))
			for i, a := range args {
				jsArgs[i] = variantToJS(a)
			}
			if _, err := fn(goja.Undefined(), e.vm.ToValue(peer), e.vm.ToValue(jsArgs)); err != nil {
				e.log.Error("script rpc handler failed", "method", name, "error", err.Error())
			}
		})
		if err != nil {
			panic(e.vm.ToValue(err.Error()))
		}
	})
	server.Set("enqueue_position", func(playerID uint64, x, y, z float64) bool {
		return e.facade.EnqueuePosition(playerID, x, y, z)
	})
	server.Set("authenticate", func(username, password string) goja.Value {
		p, err := e.facade.Authenticate(username, password)
		if err != nil || p == nil {
			return goja.Null()
		}
		return e.vm.ToValue(map[string]any{
			"db_id":    p.DBID,
			"username": p.Username,
			"x":        p.Position.X,
			"y":        p.Position.Y,
			"z":        p.Position.Z,
			"health":   p.Health,
			"level":    p.Level,
		})
	})
	server.Set("create_account", func(username, password string) int64 {
		id, err := e.facade.CreateAccount(username, password)
		if err != nil {
			e.log.Warn("account creation failed", "username", username, "error", err.Error())
			return 0
		}
		return int64(id)
	})
	server.Set("session_token", func() string {
		token, err := secret.NewSessionToken()
		if err != nil {
			return ""
		}
		return token
	})
	server.Set("add_player", func(fields map[string]any) {
		p := world.NewPlayer(
			uint32(toInt(fields["peer_id"])),
			uint64(toInt(fields["db_id"])),
			toString(fields["username"]),
		)
		p.Position = world.Position{
			X: toFloat(fields["x"]),
			Y: toFloat(fields["y"]),
			Z: toFloat(fields["z"]),
		}
		if v, ok := fields["health"]; ok {
			p.Health = int(toInt(v))
		}
		if v, ok := fields["level"]; ok {
			p.Level = int(toInt(v))
		}
		e.facade.AddPlayer(p)
	})
	server.Set("remove_player", func(peer uint32) {
		e.facade.RemovePlayer(peer)
	})
	server.Set("log", func(msg string) {
		e.log.Info(msg)
	})

	return e.vm.Set("server", server)
}

// call invokes a resolved hook function, tolerating both a missing hook
// and a script exception.
func (e *Engine) call(name string, args ...any) {
	fn, ok := e.hookFns[name]
	if !ok {
		return
	}

	values := make([]goja.Value, len(args))
	for i, a := range args {
		values[i] = e.vm.ToValue(a)
	}
	if _, err := fn(goja.Undefined(), values...); err != nil {
		e.log.Error("script hook failed", "hook", name, "error", err.Error())
	}
}

func (e *Engine) HandleAuthRequest(peer uint32, body []byte) {
	e.call("handle_auth_request", peer, string(body))
}

func (e *Engine) HandlePlayerMove(peer uint32, body []byte) {
	e.call("handle_player_move", peer, string(body))
}

func (e *Engine) HandlePlayerAction(peer uint32, body []byte) {
	e.call("handle_player_action", peer, string(body))
}

func (e *Engine) HandleChatMessage(peer uint32, body []byte) {
	e.call("handle_chat_message", peer, string(body))
}

func (e *Engine) UpdateWorld(dt float64) {
	e.call("update_world", dt)
}

func (e *Engine) OnPlayerConnect(peer uint32, username string) {
	e.call("on_player_connect", peer, username)
}

func (e *Engine) OnPlayerDisconnect(peer uint32, username string) {
	e.call("on_player_disconnect", peer, username)
}

func variantToJS(v rpc.Variant) any {
	switch v.Kind {
	case rpc.KindNil:
		return nil
	case rpc.KindBool:
		return v.Bool
	case rpc.KindInt:
		return v.Int
	case rpc.KindFloat:
		return v.Float
	case rpc.KindString:
		return v.Str
	case rpc.KindVector3:
		return map[string]float64{"x": v.Vec.X, "y": v.Vec.Y, "z": v.Vec.Z}
	case rpc.KindArray:
		out := make([]any, len(v.Array))
		for i, el := range v.Array {
			out[i] = variantToJS(el)
		}
		return out
	case rpc.KindDict:
		out := make(map[string]any, len(v.Dict))
		for k, el := range v.Dict {
			out[k] = variantToJS(el)
		}
		return out
	default:
		return nil
	}
}

func toInt(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case float64:
		return int64(n)
	default:
		return 0
	}
}

func toFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int64:
		return float64(n)
	default:
		return 0
	}
}

func toString(v any) string {
	s, _ := v.(string)
	return s
}
