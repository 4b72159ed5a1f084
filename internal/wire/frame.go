// Package wire implements the Buxton frame codec: fixed 16-byte headers,
// length-prefixed typed parameters, and the persisted value-with-
// privileges encoding used by the storage façade.
package wire

import (
	"encoding/binary"

	apperrors "github.com/buxton-project/buxtond/pkg/errors"
)

const (
	// control is the magic value every frame header must carry; it lets
	// the codec reject bytes from a non-protocol peer immediately.
	control uint16 = 0xB7B7

	// HeaderLen is the fixed size of a frame header in bytes:
	// control(2) + kind(2) + length(4) + msgid(4) + param_count(4).
	HeaderLen = 16

	// MaxFrame bounds the total size of one frame, header included.
	MaxFrame = 4 * 1024 * 1024

	paramHeaderLen = 6 // type(u16) + value_len(u32)
)

// Param is one decoded (or to-be-encoded) frame parameter.
type Param struct {
	Type  Type
	Bytes []byte
}

// ParamValue returns the Value this parameter decodes to.
func (p Param) ParamValue() (Value, error) {
	return DecodeValueParam(p.Type, p.Bytes)
}

// ParamFromValue builds a Param from a Value.
func ParamFromValue(v Value) Param {
	t, b := EncodeValueParam(v)
	return Param{Type: t, Bytes: b}
}

// FrameSize peeks the first HeaderLen bytes of buf and returns the total
// frame length it declares, or 0 if buf does not yet hold a full header.
func FrameSize(buf []byte) uint32 {
	if len(buf) < HeaderLen {
		return 0
	}
	return binary.LittleEndian.Uint32(buf[4:8])
}

// DecodeFrame parses one complete frame (header + body) from buf, which
// must hold exactly the number of bytes FrameSize reported.
func DecodeFrame(buf []byte) (kind Kind, msgid uint32, params []Param, err error) {
	if len(buf) < HeaderLen {
		return 0, 0, nil, apperrors.New(apperrors.ShortRead, "buffer shorter than frame header")
	}
	ctrl := binary.LittleEndian.Uint16(buf[0:2])
	if ctrl != control {
		return 0, 0, nil, apperrors.New(apperrors.MalformedFrame, "bad control magic")
	}
	k := Kind(binary.LittleEndian.Uint16(buf[2:4]))
	length := binary.LittleEndian.Uint32(buf[4:8])
	id := binary.LittleEndian.Uint32(buf[8:12])
	paramCount := binary.LittleEndian.Uint32(buf[12:16])

	if length < HeaderLen || length > MaxFrame {
		return 0, 0, nil, apperrors.New(apperrors.MalformedFrame, "frame length out of bounds")
	}
	if uint32(len(buf)) != length {
		return 0, 0, nil, apperrors.New(apperrors.ShortRead, "buffer does not match declared frame length")
	}
	if !k.Valid() {
		return 0, 0, nil, apperrors.New(apperrors.UnknownKind, "unrecognized message kind")
	}

	params = make([]Param, 0, paramCount)
	off := HeaderLen
	for i := uint32(0); i < paramCount; i++ {
		if off+paramHeaderLen > len(buf) {
			return 0, 0, nil, apperrors.New(apperrors.MalformedFrame, "truncated parameter header")
		}
		ptype := Type(binary.LittleEndian.Uint16(buf[off : off+2]))
		plen := binary.LittleEndian.Uint32(buf[off+2 : off+6])
		off += paramHeaderLen
		if off+int(plen) > len(buf) {
			return 0, 0, nil, apperrors.New(apperrors.MalformedFrame, "truncated parameter value")
		}
		val := make([]byte, plen)
		copy(val, buf[off:off+int(plen)])
		off += int(plen)

		if err := validateParamShape(ptype, val); err != nil {
			return 0, 0, nil, err
		}
		params = append(params, Param{Type: ptype, Bytes: val})
	}
	if off != len(buf) {
		return 0, 0, nil, apperrors.New(apperrors.MalformedFrame, "trailing bytes after last parameter")
	}

	return k, id, params, nil
}

// validateParamShape enforces the per-type wire rules from the frame
// format without fully decoding: strings must be NUL-terminated, fixed
// width types must carry exactly their width.
func validateParamShape(t Type, raw []byte) error {
	switch t {
	case TypeString:
		if len(raw) == 0 || raw[len(raw)-1] != 0x00 {
			return apperrors.New(apperrors.MalformedFrame, "string parameter missing NUL terminator")
		}
		return nil
	case TypeUnset:
		return nil
	default:
		w := t.FixedWidth()
		if w < 0 {
			return apperrors.New(apperrors.ParamTypeMismatch, "unrecognized parameter type")
		}
		if len(raw) != w {
			return apperrors.New(apperrors.ParamTypeMismatch, "fixed-width parameter has wrong length")
		}
		return nil
	}
}

// EncodeFrame renders a complete frame for kind/msgid/params.
func EncodeFrame(kind Kind, msgid uint32, params []Param) []byte {
	bodyLen := 0
	for _, p := range params {
		bodyLen += paramHeaderLen + len(p.Bytes)
	}
	total := HeaderLen + bodyLen

	buf := make([]byte, total)
	binary.LittleEndian.PutUint16(buf[0:2], control)
	binary.LittleEndian.PutUint16(buf[2:4], uint16(kind))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(total))
	binary.LittleEndian.PutUint32(buf[8:12], msgid)
	binary.LittleEndian.PutUint32(buf[12:16], uint32(len(params)))

	off := HeaderLen
	for _, p := range params {
		binary.LittleEndian.PutUint16(buf[off:off+2], uint16(p.Type))
		binary.LittleEndian.PutUint32(buf[off+2:off+6], uint32(len(p.Bytes)))
		off += paramHeaderLen
		copy(buf[off:off+len(p.Bytes)], p.Bytes)
		off += len(p.Bytes)
	}
	return buf
}
