package wire

import (
	"encoding/binary"
	"math"

	apperrors "github.com/buxton-project/buxtond/pkg/errors"
)

// Type tags a Value's wire representation. TypeMin/TypeMax bound the
// range of real types; TypeUnset marks a request whose type is not yet
// known (resolved by the layer lookup).
type Type uint16

const (
	TypeMin Type = iota
	TypeString
	TypeInt32
	TypeUint32
	TypeInt64
	TypeUint64
	TypeFloat32
	TypeFloat64
	TypeBool
	TypeUnset
	TypeMax
)

// FixedWidth returns the on-wire byte width of numeric/bool types, or -1
// for TypeString (which is length-prefixed, not fixed width).
func (t Type) FixedWidth() int {
	switch t {
	case TypeInt32, TypeUint32, TypeFloat32:
		return 4
	case TypeInt64, TypeUint64, TypeFloat64:
		return 8
	case TypeBool:
		return 1
	default:
		return -1
	}
}

// Value is a tagged union of the data types Buxton keys may hold.
type Value struct {
	Type Type

	Str  string
	I32  int32
	U32  uint32
	I64  int64
	U64  uint64
	F32  float32
	F64  float64
	Bool bool
}

func NewString(s string) Value   { return Value{Type: TypeString, Str: s} }
func NewInt32(v int32) Value     { return Value{Type: TypeInt32, I32: v} }
func NewUint32(v uint32) Value   { return Value{Type: TypeUint32, U32: v} }
func NewInt64(v int64) Value     { return Value{Type: TypeInt64, I64: v} }
func NewUint64(v uint64) Value   { return Value{Type: TypeUint64, U64: v} }
func NewFloat32(v float32) Value { return Value{Type: TypeFloat32, F32: v} }
func NewFloat64(v float64) Value { return Value{Type: TypeFloat64, F64: v} }
func NewBool(v bool) Value       { return Value{Type: TypeBool, Bool: v} }

// payloadBytes returns the raw fixed/variable width payload for v,
// without any length prefix or NUL terminator.
func (v Value) payloadBytes() []byte {
	switch v.Type {
	case TypeString:
		return []byte(v.Str)
	case TypeInt32:
		b := make([]byte, 4)
		binary.LittleEndian.PutUint32(b, uint32(v.I32))
		return b
	case TypeUint32:
		b := make([]byte, 4)
		binary.LittleEndian.PutUint32(b, v.U32)
		return b
	case TypeInt64:
		b := make([]byte, 8)
		binary.LittleEndian.PutUint64(b, uint64(v.I64))
		return b
	case TypeUint64:
		b := make([]byte, 8)
		binary.LittleEndian.PutUint64(b, v.U64)
		return b
	case TypeFloat32:
		b := make([]byte, 4)
		binary.LittleEndian.PutUint32(b, math.Float32bits(v.F32))
		return b
	case TypeFloat64:
		b := make([]byte, 8)
		binary.LittleEndian.PutUint64(b, math.Float64bits(v.F64))
		return b
	case TypeBool:
		if v.Bool {
			return []byte{1}
		}
		return []byte{0}
	default:
		return nil
	}
}

// EncodeValueParam renders v as the (type, value_len, bytes) triple used
// for a single frame-body parameter. Strings are NUL-terminated on the
// wire; value_len includes that terminator.
func EncodeValueParam(v Value) (Type, []byte) {
	payload := v.payloadBytes()
	if v.Type == TypeString {
		payload = append(append([]byte{}, payload...), 0x00)
	}
	return v.Type, payload
}

// DecodeValueParam parses a single parameter's (type, bytes) pair back
// into a Value, validating the fixed width / NUL terminator rules from
// the wire format.
func DecodeValueParam(t Type, raw []byte) (Value, error) {
	switch t {
	case TypeString:
		if len(raw) == 0 || raw[len(raw)-1] != 0x00 {
			return Value{}, apperrors.New(apperrors.MalformedFrame, "string parameter missing NUL terminator")
		}
		return NewString(string(raw[:len(raw)-1])), nil
	case TypeInt32:
		if len(raw) != 4 {
			return Value{}, apperrors.New(apperrors.ParamTypeMismatch, "int32 parameter has wrong width")
		}
		return NewInt32(int32(binary.LittleEndian.Uint32(raw))), nil
	case TypeUint32:
		if len(raw) != 4 {
			return Value{}, apperrors.New(apperrors.ParamTypeMismatch, "uint32 parameter has wrong width")
		}
		return NewUint32(binary.LittleEndian.Uint32(raw)), nil
	case TypeInt64:
		if len(raw) != 8 {
			return Value{}, apperrors.New(apperrors.ParamTypeMismatch, "int64 parameter has wrong width")
		}
		return NewInt64(int64(binary.LittleEndian.Uint64(raw))), nil
	case TypeUint64:
		if len(raw) != 8 {
			return Value{}, apperrors.New(apperrors.ParamTypeMismatch, "uint64 parameter has wrong width")
		}
		return NewUint64(binary.LittleEndian.Uint64(raw)), nil
	case TypeFloat32:
		if len(raw) != 4 {
			return Value{}, apperrors.New(apperrors.ParamTypeMismatch, "float32 parameter has wrong width")
		}
		return NewFloat32(math.Float32frombits(binary.LittleEndian.Uint32(raw))), nil
	case TypeFloat64:
		if len(raw) != 8 {
			return Value{}, apperrors.New(apperrors.ParamTypeMismatch, "float64 parameter has wrong width")
		}
		return NewFloat64(math.Float64frombits(binary.LittleEndian.Uint64(raw))), nil
	case TypeBool:
		if len(raw) != 1 {
			return Value{}, apperrors.New(apperrors.ParamTypeMismatch, "bool parameter has wrong width")
		}
		return NewBool(raw[0] != 0), nil
	case TypeUnset:
		return Value{Type: TypeUnset}, nil
	default:
		return Value{}, apperrors.New(apperrors.ParamTypeMismatch, "unrecognized value type")
	}
}

// Equal implements the type-aware equality used by delta suppression:
// byte-exact for strings of equal length, raw fixed-width bytes for
// numeric/bool types. Values of different types are never equal.
func (v Value) Equal(o Value) bool {
	if v.Type != o.Type {
		return false
	}
	_, a := EncodeValueParam(v)
	_, b := EncodeValueParam(o)
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
