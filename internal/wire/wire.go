package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	version    byte = 1
	kindValue  byte = 1
	kindEvents byte = 2

	// OriginLen is the size of the sender id carried by event frames.
	OriginLen = 16
	// MaxKeyLen is the longest key an event frame can carry.
	MaxKeyLen = 0xFFFF
)

var (
	ErrCorrupt = errors.New("coherent: corrupt frame")
	magic4     = [...]byte{'C', 'O', 'H', 'R'}
)

// Op is the kind of a coherence event.
type Op byte

const (
	OpUpdate     Op = 1
	OpInvalidate Op = 2
)

func (o Op) String() string {
	switch o {
	case OpUpdate:
		return "update"
	case OpInvalidate:
		return "invalidate"
	default:
		return fmt.Sprintf("op(%d)", byte(o))
	}
}

func hasMagic(b []byte) bool {
	return len(b) >= 4 && bytes.Equal(b[:4], magic4[:])
}

// Value: magic(4) | ver(1) | kind(1=value) | version(u64 be) | vlen(u32 be) | payload(vlen)
func EncodeValue(ver uint64, payload []byte) []byte {
	var buf bytes.Buffer
	buf.Grow(4 + 1 + 1 + 8 + 4 + len(payload))

	buf.Write(magic4[:])
	buf.WriteByte(version)
	buf.WriteByte(kindValue)

	var u8 [8]byte
	var u4 [4]byte

	binary.BigEndian.PutUint64(u8[:], ver)
	buf.Write(u8[:])

	binary.BigEndian.PutUint32(u4[:], uint32(len(payload)))
	buf.Write(u4[:])

	buf.Write(payload)
	return buf.Bytes()
}

// DecodeValue returns the version and payload of a value frame.
// The payload aliases b.
func DecodeValue(b []byte) (ver uint64, payload []byte, err error) {
	const hdr = 4 + 1 + 1 + 8 + 4
	if len(b) < hdr || !hasMagic(b) || b[4] != version || b[5] != kindValue {
		return 0, nil, ErrCorrupt
	}

	off := 6
	ver = binary.BigEndian.Uint64(b[off : off+8])
	off += 8

	vlen := int(binary.BigEndian.Uint32(b[off : off+4]))
	off += 4
	if vlen < 0 || vlen != len(b)-off { // exact framing, no trailing bytes
		return 0, nil, ErrCorrupt
	}

	return ver, b[off : off+vlen], nil
}

// Events:
//
//	magic(4) | ver(1) | kind(2=events) | origin(16) | n(u32 be)
//	op(1) | keyLen(u16 be) | key(keyLen) | version(u64 be) | vlen(u32 be) | payload(vlen) * n
type Event struct {
	Op      Op
	Key     string
	Version uint64
	Payload []byte // empty for OpInvalidate
}

func EncodeEvents(origin [OriginLen]byte, events []Event) ([]byte, error) {
	total := 4 + 1 + 1 + OriginLen + 4
	for _, ev := range events {
		total += 1 + 2 + len(ev.Key) + 8 + 4 + len(ev.Payload)
	}

	var buf bytes.Buffer
	buf.Grow(total)

	buf.Write(magic4[:])
	buf.WriteByte(version)
	buf.WriteByte(kindEvents)
	buf.Write(origin[:])

	var u8 [8]byte
	var u4 [4]byte
	var u2 [2]byte

	binary.BigEndian.PutUint32(u4[:], uint32(len(events)))
	buf.Write(u4[:])

	for _, ev := range events {
		if ev.Op != OpUpdate && ev.Op != OpInvalidate {
			return nil, fmt.Errorf("coherent: invalid event op %d", ev.Op)
		}
		if l := len(ev.Key); l == 0 || l > MaxKeyLen {
			return nil, fmt.Errorf("coherent: invalid key length %d in event", l)
		}
		buf.WriteByte(byte(ev.Op))

		binary.BigEndian.PutUint16(u2[:], uint16(len(ev.Key)))
		buf.Write(u2[:])
		buf.WriteString(ev.Key)

		binary.BigEndian.PutUint64(u8[:], ev.Version)
		buf.Write(u8[:])

		binary.BigEndian.PutUint32(u4[:], uint32(len(ev.Payload)))
		buf.Write(u4[:])
		buf.Write(ev.Payload)
	}

	return buf.Bytes(), nil
}

func DecodeEvents(b []byte) (origin [OriginLen]byte, events []Event, err error) {
	const hdr = 4 + 1 + 1 + OriginLen + 4
	if len(b) < hdr || !hasMagic(b) || b[4] != version || b[5] != kindEvents {
		return origin, nil, ErrCorrupt
	}

	off := 6
	copy(origin[:], b[off:off+OriginLen])
	off += OriginLen

	n := int(binary.BigEndian.Uint32(b[off : off+4]))
	off += 4

	// smallest possible item is op + keyLen + 1 key byte + version + vlen
	const minItem = 1 + 2 + 1 + 8 + 4
	if n < 0 || n > (len(b)-off)/minItem {
		return origin, nil, ErrCorrupt
	}

	events = make([]Event, 0, n)
	for i := 0; i < n; i++ {
		if off+1+2 > len(b) {
			return origin, nil, ErrCorrupt
		}
		op := Op(b[off])
		off++
		if op != OpUpdate && op != OpInvalidate {
			return origin, nil, ErrCorrupt
		}

		klen := int(binary.BigEndian.Uint16(b[off : off+2]))
		off += 2
		if klen <= 0 || klen > len(b)-off {
			return origin, nil, ErrCorrupt
		}
		key := string(b[off : off+klen])
		off += klen

		if off+8+4 > len(b) {
			return origin, nil, ErrCorrupt
		}
		ver := binary.BigEndian.Uint64(b[off : off+8])
		off += 8

		vlen := int(binary.BigEndian.Uint32(b[off : off+4]))
		off += 4
		if vlen < 0 || vlen > len(b)-off {
			return origin, nil, ErrCorrupt
		}
		payload := b[off : off+vlen]
		off += vlen

		events = append(events, Event{Op: op, Key: key, Version: ver, Payload: payload})
	}

	if off != len(b) {
		return origin, nil, ErrCorrupt
	}
	return origin, events, nil
}
