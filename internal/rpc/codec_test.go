package rpc

import (
	"encoding/binary"
	"errors"
	"math"
	"testing"
)

func TestDecode_ShootCall(t *testing.T) {
	call := &Call{
		NodeTarget: 0,
		MethodID:   5,
		Args: []Variant{
			Integer(3),
			Vec3(1.0, 2.0, 3.0),
		},
	}

	encoded, err := Encode(call)
	if err != nil {
		t.Fatalf("Encode error: %v", err)
	}

	decoded, err := Decode(encoded)
	if err != nil {
		t.Fatalf("Decode error: %v", err)
	}

	if decoded.MethodID != 5 {
		t.Fatalf("method id = %d, want 5", decoded.MethodID)
	}
	if len(decoded.Args) != 2 {
		t.Fatalf("arg count = %d, want 2", len(decoded.Args))
	}
	if !decoded.Args[0].Equal(Integer(3)) {
		t.Fatalf("arg 0 = %+v", decoded.Args[0])
	}
	if !decoded.Args[1].Equal(Vec3(1, 2, 3)) {
		t.Fatalf("arg 1 = %+v", decoded.Args[1])
	}
}

func TestRoundTrip_AllKinds(t *testing.T) {
	calls := []*Call{
		{NodeTarget: 0, MethodID: 1, Args: nil},
		{NodeTarget: 7, MethodID: 2, Args: []Variant{Nil()}},
		{NodeTarget: 300, MethodID: 3, Args: []Variant{Boolean(true), Boolean(false)}},
		{NodeTarget: 70000, MethodID: 999, Args: []Variant{
			Integer(-42),
			Number(math.Inf(1)),
			Number(-0.0),
			Str("héllo wörld"),
			Str(""),
			Vec3(1.5, -2.5, 1e300),
		}},
		{NodeTarget: 1, MethodID: 4, Args: []Variant{
			ArrayOf(Integer(1), Str("two"), ArrayOf(Boolean(true))),
			DictOf(map[string]Variant{
				"pos":  Vec3(0, 1, 0),
				"name": Str("bob"),
				"hp":   Integer(100),
			}),
		}},
	}

	for i, call := range calls {
		encoded, err := Encode(call)
		if err != nil {
			t.Fatalf("call %d: Encode error: %v", i, err)
		}
		decoded, err := Decode(encoded)
		if err != nil {
			t.Fatalf("call %d: Decode error: %v", i, err)
		}

		if decoded.NodeTarget != call.NodeTarget {
			t.Fatalf("call %d: node = %d, want %d", i, decoded.NodeTarget, call.NodeTarget)
		}
		if decoded.MethodID != call.MethodID {
			t.Fatalf("call %d: method = %d, want %d", i, decoded.MethodID, call.MethodID)
		}
		if len(decoded.Args) != len(call.Args) {
			t.Fatalf("call %d: %d args, want %d", i, len(decoded.Args), len(call.Args))
		}
		for j := range call.Args {
			if !decoded.Args[j].Equal(call.Args[j]) {
				t.Fatalf("call %d arg %d: %+v != %+v", i, j, decoded.Args[j], call.Args[j])
			}
		}
	}
}

func TestDecode_ByteOnly(t *testing.T) {
	// meta 0x08: byte-only, 1-byte node, 1-byte method. Then 3 padding
	// bytes, float32 1.0, and a FLOAT type tag.
	frame := []byte{
		0x08, 0x00, 0x05,
		0x00, 0x00, 0x00,
		0x00, 0x00, 0x80, 0x3F,
		0x03,
	}

	call, err := Decode(frame)
	if err != nil {
		t.Fatalf("Decode error: %v", err)
	}

	if !call.ByteOnly {
		t.Fatal("byte-only flag not detected")
	}
	if call.MethodID != 5 {
		t.Fatalf("method id = %d, want 5", call.MethodID)
	}
	if len(call.Args) != 1 || !call.Args[0].Equal(Number(1.0)) {
		t.Fatalf("args = %+v, want [FLOAT 1.0]", call.Args)
	}
}

func TestDecode_ByteOnly_NoTypeTag(t *testing.T) {
	// sample with no trailing tag byte defaults to FLOAT
	frame := []byte{0x08, 0x00, 0x09, 0x00, 0x00, 0x00}
	frame = binary.LittleEndian.AppendUint32(frame, math.Float32bits(2.5))

	call, err := Decode(frame)
	if err != nil {
		t.Fatalf("Decode error: %v", err)
	}
	if len(call.Args) != 1 || !call.Args[0].Equal(Number(2.5)) {
		t.Fatalf("args = %+v, want [FLOAT 2.5]", call.Args)
	}
}

func TestDecode_ByteOnly_IntAndBool(t *testing.T) {
	frame := []byte{0x08, 0x00, 0x02, 0x00, 0x00, 0x00}
	frame = binary.LittleEndian.AppendUint32(frame, math.Float32bits(7.0))
	frame = append(frame, byte(KindInt))

	call, err := Decode(frame)
	if err != nil {
		t.Fatalf("Decode error: %v", err)
	}
	if len(call.Args) != 1 || !call.Args[0].Equal(Integer(7)) {
		t.Fatalf("args = %+v, want [INT 7]", call.Args)
	}

	frame = []byte{0x08, 0x00, 0x02, 0x00, 0x00, 0x00}
	frame = binary.LittleEndian.AppendUint32(frame, math.Float32bits(1.0))
	frame = append(frame, byte(KindBool))

	call, err = Decode(frame)
	if err != nil {
		t.Fatalf("Decode error: %v", err)
	}
	if len(call.Args) != 1 || !call.Args[0].Equal(Boolean(true)) {
		t.Fatalf("args = %+v, want [BOOL true]", call.Args)
	}
}

func TestDecode_BadFrames(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"too short", []byte{0x00}},
		{"string overrun", func() []byte {
			// method 1, one STRING arg claiming 100 bytes with 2 present
			b := []byte{0x00, 0x00, 0x01, 0x01, byte(KindString)}
			b = binary.LittleEndian.AppendUint32(b, 100)
			return append(b, 'h', 'i')
		}()},
		{"missing arg count", []byte{0x00, 0x00, 0x01}[:3]},
		{"truncated int arg", []byte{0x00, 0x00, 0x01, 0x01, byte(KindInt), 0x01}},
		{"truncated vector", []byte{0x00, 0x00, 0x01, 0x01, byte(KindVector3), 0x00, 0x00}},
		{"wide method truncated", []byte{0x04, 0x00, 0x09}},
	}

	for _, tc := range tests {
		if _, err := Decode(tc.data); !errors.Is(err, ErrBadFrame) {
			t.Fatalf("%s: err = %v, want ErrBadFrame", tc.name, err)
		}
	}
}

func TestDecode_WideIDs(t *testing.T) {
	call := &Call{NodeTarget: 0x01020304, MethodID: 0x1234, Args: []Variant{Str("x")}}

	encoded, err := Encode(call)
	if err != nil {
		t.Fatalf("Encode error: %v", err)
	}
	if encoded[0]&metaWideName == 0 {
		t.Fatal("wide method id not flagged in meta")
	}

	decoded, err := Decode(encoded)
	if err != nil {
		t.Fatalf("Decode error: %v", err)
	}
	if decoded.NodeTarget != call.NodeTarget || decoded.MethodID != call.MethodID {
		t.Fatalf("decoded %+v, want %+v", decoded, call)
	}
}
