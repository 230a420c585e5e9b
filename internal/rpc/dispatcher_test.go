package rpc

import (
	"errors"
	"io"
	"log/slog"
	"testing"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestDispatcher_RegisterAndDispatch(t *testing.T) {
	d := NewDispatcher(discard())

	var gotPeer uint32
	var gotArgs []Variant
	id, err := d.Register("shoot", func(peer uint32, args []Variant) {
		gotPeer, gotArgs = peer, args
	})
	if err != nil {
		t.Fatalf("Register error: %v", err)
	}

	if err := d.Dispatch(9, id, []Variant{Integer(3)}); err != nil {
		t.Fatalf("Dispatch error: %v", err)
	}
	if gotPeer != 9 || len(gotArgs) != 1 || !gotArgs[0].Equal(Integer(3)) {
		t.Fatalf("handler got (%d, %+v)", gotPeer, gotArgs)
	}
}

func TestDispatcher_AutoIncrementIDs(t *testing.T) {
	d := NewDispatcher(discard())

	a, _ := d.Register("a", func(uint32, []Variant) {})
	b, _ := d.Register("b", func(uint32, []Variant) {})
	if b != a+1 {
		t.Fatalf("ids not sequential: %d, %d", a, b)
	}

	name, ok := d.MethodName(a)
	if !ok || name != "a" {
		t.Fatalf("MethodName(%d) = (%q, %v)", a, name, ok)
	}
	id, ok := d.MethodID("b")
	if !ok || id != b {
		t.Fatalf("MethodID(b) = (%d, %v)", id, ok)
	}
}

func TestDispatcher_PinnedIDAdvancesCounter(t *testing.T) {
	d := NewDispatcher(discard())

	if err := d.RegisterWithID(10, "pinned", func(uint32, []Variant) {}); err != nil {
		t.Fatalf("RegisterWithID error: %v", err)
	}
	next, err := d.Register("after", func(uint32, []Variant) {})
	if err != nil {
		t.Fatalf("Register error: %v", err)
	}
	if next != 11 {
		t.Fatalf("id after pin = %d, want 11", next)
	}
}

func TestDispatcher_Conflicts(t *testing.T) {
	d := NewDispatcher(discard())

	if err := d.RegisterWithID(5, "dup", func(uint32, []Variant) {}); err != nil {
		t.Fatal(err)
	}
	if err := d.RegisterWithID(5, "other", func(uint32, []Variant) {}); !errors.Is(err, ErrConflict) {
		t.Fatalf("id collision err = %v, want ErrConflict", err)
	}
	if err := d.RegisterWithID(6, "dup", func(uint32, []Variant) {}); !errors.Is(err, ErrConflict) {
		t.Fatalf("name collision err = %v, want ErrConflict", err)
	}
	if _, err := d.Register("dup", func(uint32, []Variant) {}); !errors.Is(err, ErrConflict) {
		t.Fatalf("Register name collision err = %v, want ErrConflict", err)
	}
}

func TestDispatcher_UnknownMethod(t *testing.T) {
	d := NewDispatcher(discard())

	if err := d.Dispatch(1, 42, nil); !errors.Is(err, ErrUnknownMethod) {
		t.Fatalf("err = %v, want ErrUnknownMethod", err)
	}
}

func TestDispatcher_HandleFrame(t *testing.T) {
	d := NewDispatcher(discard())

	called := false
	if err := d.RegisterWithID(5, "shoot", func(peer uint32, args []Variant) {
		called = true
		if peer != 3 {
			t.Fatalf("peer = %d, want 3", peer)
		}
	}); err != nil {
		t.Fatal(err)
	}

	body, err := Encode(&Call{MethodID: 5, Args: []Variant{Integer(1)}})
	if err != nil {
		t.Fatal(err)
	}
	if err := d.HandleFrame(3, body); err != nil {
		t.Fatalf("HandleFrame error: %v", err)
	}
	if !called {
		t.Fatal("handler not called")
	}

	unknown, _ := Encode(&Call{MethodID: 99})
	if err := d.HandleFrame(3, unknown); !errors.Is(err, ErrUnknownMethod) {
		t.Fatalf("err = %v, want ErrUnknownMethod", err)
	}
}
