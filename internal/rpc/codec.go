package rpc

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sort"
)

var (
	ErrBadFrame      = errors.New("rpc: malformed frame")
	ErrUnknownMethod = errors.New("rpc: unknown method")
	ErrConflict      = errors.New("rpc: registration conflict")
)

// Call is one decoded remote procedure call.
type Call struct {
	NodeTarget uint32
	MethodID   uint16
	ByteOnly   bool
	Args       []Variant
}

// Frame layout, after the REMOTE_CALL tag byte, little-endian:
//
//	byte 0    meta: bits 0..1 node size (1,2,4,4), bit 2 wide method id,
//	          bit 3 byte-only argument layout
//	next      node target, sized per meta
//	next      method id, 1 or 2 bytes per meta
//	rest      arguments
const (
	metaNodeMask  = 0x03
	metaWideName  = 0x04
	metaByteOnly  = 0x08
	maxFrameDepth = 16
)

// Decode parses a REMOTE_CALL frame body (the bytes after the tag byte).
func Decode(data []byte) (*Call, error) {
	if len(data) < 3 {
		return nil, fmt.Errorf("%w: %d bytes", ErrBadFrame, len(data))
	}

	meta := data[0]
	p := 1

	call := &Call{ByteOnly: meta&metaByteOnly != 0}

	switch meta & metaNodeMask {
	case 0:
		call.NodeTarget = uint32(data[p])
		p++
	case 1:
		if p+2 > len(data) {
			return nil, fmt.Errorf("%w: truncated node target", ErrBadFrame)
		}
		call.NodeTarget = uint32(binary.LittleEndian.Uint16(data[p:]))
		p += 2
	default: // 2 and 3 both mean a 4-byte target
		if p+4 > len(data) {
			return nil, fmt.Errorf("%w: truncated node target", ErrBadFrame)
		}
		call.NodeTarget = binary.LittleEndian.Uint32(data[p:])
		p += 4
	}

	if meta&metaWideName != 0 {
		if p+2 > len(data) {
			return nil, fmt.Errorf("%w: truncated method id", ErrBadFrame)
		}
		call.MethodID = binary.LittleEndian.Uint16(data[p:])
		p += 2
	} else {
		if p >= len(data) {
			return nil, fmt.Errorf("%w: truncated method id", ErrBadFrame)
		}
		call.MethodID = uint16(data[p])
		p++
	}

	var err error
	if call.ByteOnly {
		call.Args = decodeByteOnly(data, p)
	} else {
		call.Args, err = decodeArgs(data, p)
		if err != nil {
			return nil, err
		}
	}

	return call, nil
}

func decodeArgs(data []byte, p int) ([]Variant, error) {
	if p >= len(data) {
		return nil, fmt.Errorf("%w: missing argument count", ErrBadFrame)
	}
	count := int(data[p])
	p++

	args := make([]Variant, 0, count)
	for i := 0; i < count; i++ {
		v, next, err := readVariant(data, p, 0)
		if err != nil {
			return nil, fmt.Errorf("argument %d: %w", i, err)
		}
		args = append(args, v)
		p = next
	}

	return args, nil
}

func readVariant(data []byte, p, depth int) (Variant, int, error) {
	if depth > maxFrameDepth {
		return Variant{}, p, fmt.Errorf("%w: nesting too deep", ErrBadFrame)
	}
	if p >= len(data) {
		return Variant{}, p, fmt.Errorf("%w: missing type tag", ErrBadFrame)
	}

	kind := Kind(data[p])
	p++

	switch kind {
	case KindBool:
		if p >= len(data) {
			return Variant{}, p, fmt.Errorf("%w: truncated bool", ErrBadFrame)
		}
		return Boolean(data[p] != 0), p + 1, nil

	case KindInt:
		if p+8 > len(data) {
			return Variant{}, p, fmt.Errorf("%w: truncated int", ErrBadFrame)
		}
		return Integer(int64(binary.LittleEndian.Uint64(data[p:]))), p + 8, nil

	case KindFloat:
		if p+8 > len(data) {
			return Variant{}, p, fmt.Errorf("%w: truncated float", ErrBadFrame)
		}
		return Number(math.Float64frombits(binary.LittleEndian.Uint64(data[p:]))), p + 8, nil

	case KindString:
		s, next, err := readString(data, p)
		if err != nil {
			return Variant{}, p, err
		}
		return Str(s), next, nil

	case KindVector3:
		if p+24 > len(data) {
			return Variant{}, p, fmt.Errorf("%w: truncated vector3", ErrBadFrame)
		}
		x := math.Float64frombits(binary.LittleEndian.Uint64(data[p:]))
		y := math.Float64frombits(binary.LittleEndian.Uint64(data[p+8:]))
		z := math.Float64frombits(binary.LittleEndian.Uint64(data[p+16:]))
		return Vec3(x, y, z), p + 24, nil

	case KindArray:
		if p+4 > len(data) {
			return Variant{}, p, fmt.Errorf("%w: truncated array count", ErrBadFrame)
		}
		count := binary.LittleEndian.Uint32(data[p:])
		p += 4
		items := make([]Variant, 0, minInt(int(count), len(data)))
		for i := uint32(0); i < count; i++ {
			item, next, err := readVariant(data, p, depth+1)
			if err != nil {
				return Variant{}, p, err
			}
			items = append(items, item)
			p = next
		}
		return Variant{Kind: KindArray, Array: items}, p, nil

	case KindDict:
		if p+4 > len(data) {
			return Variant{}, p, fmt.Errorf("%w: truncated dict count", ErrBadFrame)
		}
		count := binary.LittleEndian.Uint32(data[p:])
		p += 4
		dict := make(map[string]Variant, minInt(int(count), len(data)))
		for i := uint32(0); i < count; i++ {
			key, next, err := readString(data, p)
			if err != nil {
				return Variant{}, p, err
			}
			p = next
			val, next, err := readVariant(data, p, depth+1)
			if err != nil {
				return Variant{}, p, err
			}
			dict[key] = val
			p = next
		}
		return Variant{Kind: KindDict, Dict: dict}, p, nil

	case KindNil:
		return Nil(), p, nil

	default:
		// unknown tags degrade to nil, matching the client codec
		return Nil(), p, nil
	}
}

func readString(data []byte, p int) (string, int, error) {
	if p+4 > len(data) {
		return "", p, fmt.Errorf("%w: truncated string length", ErrBadFrame)
	}
	length := int(binary.LittleEndian.Uint32(data[p:]))
	p += 4
	if length < 0 || p+length > len(data) {
		return "", p, fmt.Errorf("%w: string overruns frame", ErrBadFrame)
	}
	return string(data[p : p+length]), p + length, nil
}

// decodeByteOnly parses the compact argument layout: runs of 3 padding
// bytes, a float32 sample, and an optional one-byte type tag that selects
// the interpretation. The grammar is heuristic and must match the client
// bit-for-bit: a tag-slot byte that is > 7 and < 0x20 terminates the run.
func decodeByteOnly(data []byte, p int) []Variant {
	var args []Variant

	if p+3 <= len(data) {
		p += 3
	}

	for p+4 <= len(data) {
		sample := math.Float32frombits(binary.LittleEndian.Uint32(data[p:]))
		p += 4

		var v Variant
		if p < len(data) && data[p] <= 7 {
			kind := Kind(data[p])
			p++

			switch kind {
			case KindFloat:
				v = Number(float64(sample))
			case KindInt:
				v = Integer(int64(sample))
			case KindBool:
				v = Boolean(sample != 0)
			default:
				v = Nil()
			}

			if p+3 < len(data) && data[p+3] <= 7 {
				p += 3
			}
		} else {
			v = Number(float64(sample))
		}

		args = append(args, v)

		if p >= len(data) || (data[p] > 7 && data[p] < 0x20) {
			break
		}
	}

	return args
}

// Encode serializes a call in the normal (non byte-only) layout. Any call
// produced by Decode without the byte-only flag round-trips exactly.
func Encode(c *Call) ([]byte, error) {
	if len(c.Args) > 0xFF {
		return nil, fmt.Errorf("%w: %d arguments", ErrBadFrame, len(c.Args))
	}

	var meta byte
	switch {
	case c.NodeTarget <= 0xFF:
		meta = 0
	case c.NodeTarget <= 0xFFFF:
		meta = 1
	default:
		meta = 2
	}
	if c.MethodID > 0xFF {
		meta |= metaWideName
	}

	buf := []byte{meta}
	switch meta & metaNodeMask {
	case 0:
		buf = append(buf, byte(c.NodeTarget))
	case 1:
		buf = binary.LittleEndian.AppendUint16(buf, uint16(c.NodeTarget))
	default:
		buf = binary.LittleEndian.AppendUint32(buf, c.NodeTarget)
	}

	if meta&metaWideName != 0 {
		buf = binary.LittleEndian.AppendUint16(buf, c.MethodID)
	} else {
		buf = append(buf, byte(c.MethodID))
	}

	buf = append(buf, byte(len(c.Args)))
	for i := range c.Args {
		var err error
		buf, err = writeVariant(buf, &c.Args[i], 0)
		if err != nil {
			return nil, err
		}
	}

	return buf, nil
}

func writeVariant(buf []byte, v *Variant, depth int) ([]byte, error) {
	if depth > maxFrameDepth {
		return nil, fmt.Errorf("%w: nesting too deep", ErrBadFrame)
	}

	buf = append(buf, byte(v.Kind))
	switch v.Kind {
	case KindNil:
		return buf, nil
	case KindBool:
		if v.Bool {
			return append(buf, 1), nil
		}
		return append(buf, 0), nil
	case KindInt:
		return binary.LittleEndian.AppendUint64(buf, uint64(v.Int)), nil
	case KindFloat:
		return binary.LittleEndian.AppendUint64(buf, math.Float64bits(v.Float)), nil
	case KindString:
		buf = binary.LittleEndian.AppendUint32(buf, uint32(len(v.Str)))
		return append(buf, v.Str...), nil
	case KindVector3:
		buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(v.Vec.X))
		buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(v.Vec.Y))
		return binary.LittleEndian.AppendUint64(buf, math.Float64bits(v.Vec.Z)), nil
	case KindArray:
		buf = binary.LittleEndian.AppendUint32(buf, uint32(len(v.Array)))
		for i := range v.Array {
			var err error
			buf, err = writeVariant(buf, &v.Array[i], depth+1)
			if err != nil {
				return nil, err
			}
		}
		return buf, nil
	case KindDict:
		buf = binary.LittleEndian.AppendUint32(buf, uint32(len(v.Dict)))
		keys := make([]string, 0, len(v.Dict))
		for k := range v.Dict {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			buf = binary.LittleEndian.AppendUint32(buf, uint32(len(k)))
			buf = append(buf, k...)
			val := v.Dict[k]
			var err error
			buf, err = writeVariant(buf, &val, depth+1)
			if err != nil {
				return nil, err
			}
		}
		return buf, nil
	default:
		return nil, fmt.Errorf("%w: kind %d", ErrBadFrame, v.Kind)
	}
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
