package wire

import (
	"encoding/binary"

	apperrors "github.com/buxton-project/buxtond/pkg/errors"
)

// EncodeStored renders a value together with its read/write privilege
// strings in the on-disk layout:
//
//	type(u32) ∥ read_priv_len(u32) ∥ write_priv_len(u32) ∥ value_len(u32)
//	∥ read_priv ∥ write_priv ∥ value
//
// This is what the storage façade hands the backend to persist, and what
// it reads back on Get.
func EncodeStored(v Value, readPriv, writePriv string) []byte {
	payload := v.payloadBytes()
	rp, wp := []byte(readPriv), []byte(writePriv)

	buf := make([]byte, 0, 16+len(rp)+len(wp)+len(payload))
	var hdr [4]byte

	binary.LittleEndian.PutUint32(hdr[:], uint32(v.Type))
	buf = append(buf, hdr[:]...)
	binary.LittleEndian.PutUint32(hdr[:], uint32(len(rp)))
	buf = append(buf, hdr[:]...)
	binary.LittleEndian.PutUint32(hdr[:], uint32(len(wp)))
	buf = append(buf, hdr[:]...)
	binary.LittleEndian.PutUint32(hdr[:], uint32(len(payload)))
	buf = append(buf, hdr[:]...)

	buf = append(buf, rp...)
	buf = append(buf, wp...)
	buf = append(buf, payload...)
	return buf
}

// encodeStoredLegacy renders the single-privilege predecessor layout:
// type(u32) ∥ priv_len(u32) ∥ value_len(u32) ∥ priv ∥ value. It exists
// only so tests can exercise DecodeStored's legacy compatibility path
// against a buffer this package itself produced.
func encodeStoredLegacy(v Value, priv string) []byte {
	payload := v.payloadBytes()
	p := []byte(priv)

	buf := make([]byte, 0, 12+len(p)+len(payload))
	var hdr [4]byte

	binary.LittleEndian.PutUint32(hdr[:], uint32(v.Type))
	buf = append(buf, hdr[:]...)
	binary.LittleEndian.PutUint32(hdr[:], uint32(len(p)))
	buf = append(buf, hdr[:]...)
	binary.LittleEndian.PutUint32(hdr[:], uint32(len(payload)))
	buf = append(buf, hdr[:]...)

	buf = append(buf, p...)
	buf = append(buf, payload...)
	return buf
}

// DecodeStored parses a persisted value blob, disambiguating between the
// current three-length-field layout and the legacy single-privilege
// layout purely from total buffer length (there is no version byte).
// A legacy record decodes to identical read and write privileges.
func DecodeStored(buf []byte) (v Value, readPriv, writePriv string, err error) {
	if len(buf) < 12 {
		return Value{}, "", "", apperrors.New(apperrors.MalformedFrame, "stored value too short")
	}
	typ := Type(binary.LittleEndian.Uint32(buf[0:4]))

	// Try the current three-length layout first.
	if len(buf) >= 16 {
		rpLen := binary.LittleEndian.Uint32(buf[4:8])
		wpLen := binary.LittleEndian.Uint32(buf[8:12])
		valLen := binary.LittleEndian.Uint32(buf[12:16])
		want := 16 + int(rpLen) + int(wpLen) + int(valLen)
		if want == len(buf) {
			off := 16
			rp := string(buf[off : off+int(rpLen)])
			off += int(rpLen)
			wp := string(buf[off : off+int(wpLen)])
			off += int(wpLen)
			val := buf[off : off+int(valLen)]
			value, derr := decodeStoredValue(typ, val)
			if derr != nil {
				return Value{}, "", "", derr
			}
			return value, rp, wp, nil
		}
	}

	// Fall back to the legacy single-privilege layout.
	if len(buf) < 12 {
		return Value{}, "", "", apperrors.New(apperrors.MalformedFrame, "stored value too short for legacy layout")
	}
	privLen := binary.LittleEndian.Uint32(buf[4:8])
	valLen := binary.LittleEndian.Uint32(buf[8:12])
	want := 12 + int(privLen) + int(valLen)
	if want != len(buf) {
		return Value{}, "", "", apperrors.New(apperrors.MalformedFrame, "stored value length mismatch")
	}
	off := 12
	priv := string(buf[off : off+int(privLen)])
	off += int(privLen)
	val := buf[off : off+int(valLen)]
	value, derr := decodeStoredValue(typ, val)
	if derr != nil {
		return Value{}, "", "", derr
	}
	return value, priv, priv, nil
}

func decodeStoredValue(typ Type, raw []byte) (Value, error) {
	if typ == TypeString {
		return Value{Type: TypeString, Str: string(raw)}, nil
	}
	return DecodeValueParam(typ, raw)
}
