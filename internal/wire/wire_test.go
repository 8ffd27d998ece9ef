package wire

import (
	"bytes"
	"encoding/binary"
	"math"
	"strings"
	"testing"
)

var testOrigin = [OriginLen]byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16}

func mustDecodeValue(t *testing.T, b []byte) (uint64, []byte) {
	t.Helper()
	ver, p, err := DecodeValue(b)
	if err != nil {
		t.Fatalf("DecodeValue error: %v", err)
	}
	return ver, p
}

func mustDecodeEvents(t *testing.T, b []byte) ([OriginLen]byte, []Event) {
	t.Helper()
	o, evs, err := DecodeEvents(b)
	if err != nil {
		t.Fatalf("DecodeEvents error: %v", err)
	}
	return o, evs
}

func TestValueRTEmptyAndNonEmpty(t *testing.T) {
	cases := []struct {
		ver     uint64
		payload []byte
	}{
		{0, nil},
		{42, []byte("hello")},
		{math.MaxUint64, []byte{0, 1, 2, 3, 4}},
	}
	for _, tc := range cases {
		enc := EncodeValue(tc.ver, tc.payload)
		ver, p := mustDecodeValue(t, enc)
		if ver != tc.ver {
			t.Fatalf("version mismatch: got %d want %d", ver, tc.ver)
		}
		if !bytes.Equal(p, tc.payload) {
			t.Fatalf("payload mismatch: got %x want %x", p, tc.payload)
		}
	}
}

func TestValueRejectsTrailingBytes(t *testing.T) {
	enc := EncodeValue(7, []byte("x"))
	enc = append(enc, 0xDE, 0xAD)
	if _, _, err := DecodeValue(enc); err == nil {
		t.Fatalf("expected error on trailing bytes")
	}
}

func TestValueCorruptHeadersAndLengths(t *testing.T) {
	enc := EncodeValue(1, []byte("abc"))

	badMagic := append([]byte(nil), enc...)
	badMagic[0] = 'X'
	if _, _, err := DecodeValue(badMagic); err == nil {
		t.Fatalf("expected error on bad magic")
	}

	badVer := append([]byte(nil), enc...)
	badVer[4] = version + 1
	if _, _, err := DecodeValue(badVer); err == nil {
		t.Fatalf("expected error on bad version")
	}

	badKind := append([]byte(nil), enc...)
	badKind[5] = kindEvents
	if _, _, err := DecodeValue(badKind); err == nil {
		t.Fatalf("expected error on bad kind")
	}

	// vlen is at offset 14..17 (4 magic +1 ver +1 kind +8 version)
	tooLong := append([]byte(nil), enc...)
	binary.BigEndian.PutUint32(tooLong[14:18], uint32(len("abc")+1))
	if _, _, err := DecodeValue(tooLong); err == nil {
		t.Fatalf("expected error on vlen beyond buffer")
	}

	if _, _, err := DecodeValue(enc[:len(enc)-1]); err == nil {
		t.Fatalf("expected error on truncated buffer")
	}
}

func TestValueZeroCopyPayload(t *testing.T) {
	enc := EncodeValue(1, []byte("Z"))
	_, p := mustDecodeValue(t, enc)
	p[0] = 'Q'
	_, p2 := mustDecodeValue(t, enc)
	if p2[0] != 'Q' {
		t.Fatalf("expected zero-copy slice into enc buffer")
	}
}

func TestEventsRoundTrip(t *testing.T) {
	cases := [][]Event{
		nil,
		{{Op: OpUpdate, Key: "a", Version: 1, Payload: []byte("x")}},
		{
			{Op: OpUpdate, Key: "a", Version: 1, Payload: []byte("x")},
			{Op: OpInvalidate, Key: "b", Version: 2},
			{Op: OpUpdate, Key: "c", Version: 3, Payload: []byte{9, 8, 7}},
		},
		// same key twice is preserved in order
		{
			{Op: OpUpdate, Key: "dup", Version: 1, Payload: []byte("old")},
			{Op: OpUpdate, Key: "dup", Version: 2, Payload: []byte("new")},
		},
	}
	for _, evs := range cases {
		enc, err := EncodeEvents(testOrigin, evs)
		if err != nil {
			t.Fatalf("EncodeEvents error: %v", err)
		}
		origin, got := mustDecodeEvents(t, enc)
		if origin != testOrigin {
			t.Fatalf("origin mismatch: got %x", origin)
		}
		if len(got) != len(evs) {
			t.Fatalf("len mismatch: got %d want %d", len(got), len(evs))
		}
		for i := range evs {
			if got[i].Op != evs[i].Op || got[i].Key != evs[i].Key || got[i].Version != evs[i].Version ||
				!bytes.Equal(got[i].Payload, evs[i].Payload) {
				t.Fatalf("event %d mismatch: got=%+v want=%+v", i, got[i], evs[i])
			}
		}
	}
}

func TestEventsRejectsTrailingBytes(t *testing.T) {
	enc, err := EncodeEvents(testOrigin, []Event{{Op: OpInvalidate, Key: "k", Version: 1}})
	if err != nil {
		t.Fatalf("EncodeEvents: %v", err)
	}
	enc = append(enc, 0xBE, 0xEF)
	if _, _, err := DecodeEvents(enc); err == nil {
		t.Fatalf("expected error on trailing bytes")
	}
}

func TestEventsBogusCount(t *testing.T) {
	var buf bytes.Buffer
	buf.Write(magic4[:])
	buf.WriteByte(version)
	buf.WriteByte(kindEvents)
	buf.Write(testOrigin[:])
	var u4 [4]byte
	binary.BigEndian.PutUint32(u4[:], ^uint32(0))
	buf.Write(u4[:])
	if _, _, err := DecodeEvents(buf.Bytes()); err == nil {
		t.Fatalf("expected error on bogus n with insufficient bytes")
	}
}

func TestEventsEncodeValidation(t *testing.T) {
	if _, err := EncodeEvents(testOrigin, []Event{{Op: OpUpdate, Key: ""}}); err == nil {
		t.Fatalf("expected error on empty key")
	}
	if _, err := EncodeEvents(testOrigin, []Event{{Op: OpUpdate, Key: strings.Repeat("a", 0x10000)}}); err == nil {
		t.Fatalf("expected error on key length > 0xFFFF")
	}
	if _, err := EncodeEvents(testOrigin, []Event{{Op: OpUpdate, Key: strings.Repeat("b", 0xFFFF)}}); err != nil {
		t.Fatalf("boundary key length should succeed: %v", err)
	}
	if _, err := EncodeEvents(testOrigin, []Event{{Op: Op(9), Key: "k"}}); err == nil {
		t.Fatalf("expected error on unknown op")
	}
}

func TestEventsCorruptItem(t *testing.T) {
	enc, err := EncodeEvents(testOrigin, []Event{{Op: OpUpdate, Key: "k", Version: 9, Payload: []byte("xyz")}})
	if err != nil {
		t.Fatalf("EncodeEvents: %v", err)
	}
	// header: 4 magic +1 ver +1 kind +16 origin +4 n = 26 bytes
	const hdr = 26

	badOp := append([]byte(nil), enc...)
	badOp[hdr] = 7
	if _, _, err := DecodeEvents(badOp); err == nil {
		t.Fatalf("expected error on unknown op")
	}

	badKlen := append([]byte(nil), enc...)
	binary.BigEndian.PutUint16(badKlen[hdr+1:hdr+3], 50)
	if _, _, err := DecodeEvents(badKlen); err == nil {
		t.Fatalf("expected error on klen beyond buffer")
	}

	// item: op(1) klen(2) key(1) version(8) vlen(4)
	off := hdr + 1 + 2 + 1 + 8
	badVlen := append([]byte(nil), enc...)
	binary.BigEndian.PutUint32(badVlen[off:off+4], uint32(len("xyz")+1))
	if _, _, err := DecodeEvents(badVlen); err == nil {
		t.Fatalf("expected error on vlen beyond buffer")
	}

	valueFrame := EncodeValue(1, []byte("x"))
	if _, _, err := DecodeEvents(valueFrame); err == nil {
		t.Fatalf("value frame must not decode as events")
	}
}

func TestOpString(t *testing.T) {
	if OpUpdate.String() != "update" || OpInvalidate.String() != "invalidate" {
		t.Fatalf("unexpected op names: %s %s", OpUpdate, OpInvalidate)
	}
}
