package wire

import "testing"

func TestStoredRoundTrip(t *testing.T) {
	v := NewString("secret")
	buf := EncodeStored(v, "system::read", "system::write")

	got, rp, wp, err := DecodeStored(buf)
	if err != nil {
		t.Fatalf("DecodeStored failed: %v", err)
	}
	if !got.Equal(v) {
		t.Errorf("value mismatch: want %+v, got %+v", v, got)
	}
	if rp != "system::read" || wp != "system::write" {
		t.Errorf("privilege mismatch: got read=%q write=%q", rp, wp)
	}
}

func TestStoredStringNotNulTerminated(t *testing.T) {
	buf := EncodeStored(NewString("x"), "", "")
	// type(4) + 3*len(4) + value(1) = 17 bytes total, no trailing NUL.
	if len(buf) != 17 {
		t.Fatalf("expected 17-byte buffer for 1-byte string payload, got %d", len(buf))
	}
}

func TestStoredNumericRoundTrip(t *testing.T) {
	v := NewInt64(-123456789)
	buf := EncodeStored(v, "r", "w")
	got, rp, wp, err := DecodeStored(buf)
	if err != nil {
		t.Fatalf("DecodeStored failed: %v", err)
	}
	if !got.Equal(v) || rp != "r" || wp != "w" {
		t.Errorf("round trip mismatch: got %+v read=%q write=%q", got, rp, wp)
	}
}

func TestStoredLegacyLayoutDecodes(t *testing.T) {
	v := NewString("legacy-value")
	buf := encodeStoredLegacy(v, "system::legacy")

	got, rp, wp, err := DecodeStored(buf)
	if err != nil {
		t.Fatalf("DecodeStored failed on legacy layout: %v", err)
	}
	if !got.Equal(v) {
		t.Errorf("value mismatch: want %+v, got %+v", v, got)
	}
	if rp != "system::legacy" || wp != "system::legacy" {
		t.Errorf("legacy record should decode to equal read/write privileges, got read=%q write=%q", rp, wp)
	}
}

func TestDecodeStoredRejectsShortBuffer(t *testing.T) {
	if _, _, _, err := DecodeStored([]byte{1, 2, 3}); err == nil {
		t.Fatal("expected error for undersized buffer")
	}
}

func TestDecodeStoredRejectsLengthMismatch(t *testing.T) {
	buf := EncodeStored(NewString("abc"), "r", "w")
	buf = append(buf, 0xFF) // trailing garbage invalidates both layouts' length check
	if _, _, _, err := DecodeStored(buf); err == nil {
		t.Fatal("expected error for length mismatch")
	}
}
