package rpc

import (
	"fmt"
	"math"
)

// Kind is the wire type tag of a Variant.
type Kind uint8

const (
	KindNil Kind = iota
	KindBool
	KindInt
	KindFloat
	KindString
	KindVector3
	KindArray
	KindDict
)

func (k Kind) String() string {
	switch k {
	case KindNil:
		return "Nil"
	case KindBool:
		return "Bool"
	case KindInt:
		return "Int"
	case KindFloat:
		return "Float"
	case KindString:
		return "String"
	case KindVector3:
		return "Vector3"
	case KindArray:
		return "Array"
	case KindDict:
		return "Dict"
	default:
		return fmt.Sprintf("Unknown(%d)", uint8(k))
	}
}

type Vector3 struct {
	X, Y, Z float64
}

// Variant is a dynamically typed RPC argument. Exactly one payload field is
// meaningful, selected by Kind.
type Variant struct {
	Kind  Kind
	Bool  bool
	Int   int64
	Float float64
	Str   string
	Vec   Vector3
	Array []Variant
	Dict  map[string]Variant
}

func Nil() Variant                   { return Variant{Kind: KindNil} }
func Boolean(b bool) Variant         { return Variant{Kind: KindBool, Bool: b} }
func Integer(i int64) Variant        { return Variant{Kind: KindInt, Int: i} }
func Number(f float64) Variant       { return Variant{Kind: KindFloat, Float: f} }
func Str(s string) Variant           { return Variant{Kind: KindString, Str: s} }
func Vec3(x, y, z float64) Variant   { return Variant{Kind: KindVector3, Vec: Vector3{x, y, z}} }
func ArrayOf(vs ...Variant) Variant  { return Variant{Kind: KindArray, Array: vs} }
func DictOf(m map[string]Variant) Variant {
	return Variant{Kind: KindDict, Dict: m}
}

// Equal reports deep equality; floats are compared bit-exact.
func (v Variant) Equal(o Variant) bool {
	if v.Kind != o.Kind {
		return false
	}

	switch v.Kind {
	case KindNil:
		return true
	case KindBool:
		return v.Bool == o.Bool
	case KindInt:
		return v.Int == o.Int
	case KindFloat:
		return math.Float64bits(v.Float) == math.Float64bits(o.Float)
	case KindString:
		return v.Str == o.Str
	case KindVector3:
		return math.Float64bits(v.Vec.X) == math.Float64bits(o.Vec.X) &&
			math.Float64bits(v.Vec.Y) == math.Float64bits(o.Vec.Y) &&
			math.Float64bits(v.Vec.Z) == math.Float64bits(o.Vec.Z)
	case KindArray:
		if len(v.Array) != len(o.Array) {
			return false
		}
		for i := range v.Array {
			if !v.Array[i].Equal(o.Array[i]) {
				return false
			}
		}
		return true
	case KindDict:
		if len(v.Dict) != len(o.Dict) {
			return false
		}
		for k, val := range v.Dict {
			other, ok := o.Dict[k]
			if !ok || !val.Equal(other) {
				return false
			}
		}
		return true
	default:
		return false
	}
}
