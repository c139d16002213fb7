package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"time"
)

const (
	version byte = 1

	flagHasValue byte = 1 << 0
)

var (
	ErrCorrupt = errors.New("optcache: corrupt entry")
	magic4     = [...]byte{'O', 'P', 'T', 'C'}
)

const hdrLen = 4 + 1 + 1 + 1 + 8 + 8 + 4

// Entry is the provider representation of one cached namespace.
type Entry struct {
	State      byte
	HasValue   bool
	FetchedAt  time.Time
	StaleAfter time.Duration
	Payload    []byte
}

func hasMagic(b []byte) bool {
	return len(b) >= 4 && bytes.Equal(b[:4], magic4[:])
}

// Encode frames e as:
//
//	magic(4) | ver(1) | state(1) | flags(1) | fetchedAt(i64 be, unix nanos) |
//	staleAfter(i64 be, nanos) | vlen(u32 be) | payload(vlen)
//
// A zero FetchedAt is written as 0 and decoded back to the zero time.
func Encode(e Entry) []byte {
	var buf bytes.Buffer
	buf.Grow(hdrLen + len(e.Payload))

	buf.Write(magic4[:])
	buf.WriteByte(version)
	buf.WriteByte(e.State)

	var flags byte
	if e.HasValue {
		flags |= flagHasValue
	}
	buf.WriteByte(flags)

	var u8 [8]byte
	var u4 [4]byte

	var nanos int64
	if !e.FetchedAt.IsZero() {
		nanos = e.FetchedAt.UnixNano()
	}
	binary.BigEndian.PutUint64(u8[:], uint64(nanos))
	buf.Write(u8[:])

	binary.BigEndian.PutUint64(u8[:], uint64(e.StaleAfter))
	buf.Write(u8[:])

	binary.BigEndian.PutUint32(u4[:], uint32(len(e.Payload)))
	buf.Write(u4[:])

	buf.Write(e.Payload)
	return buf.Bytes()
}

// Decode parses a framed entry. The returned Payload aliases b.
func Decode(b []byte) (Entry, error) {
	if len(b) < hdrLen || !hasMagic(b) || b[4] != version {
		return Entry{}, ErrCorrupt
	}

	off := 5
	state := b[off]
	off++
	flags := b[off]
	off++
	if flags&^flagHasValue != 0 {
		return Entry{}, ErrCorrupt
	}

	nanos := int64(binary.BigEndian.Uint64(b[off : off+8]))
	off += 8
	staleAfter := time.Duration(binary.BigEndian.Uint64(b[off : off+8]))
	off += 8
	if staleAfter < 0 {
		return Entry{}, ErrCorrupt
	}

	vlen := int(binary.BigEndian.Uint32(b[off : off+4]))
	off += 4
	if vlen < 0 || vlen != len(b)-off { // exact length, no trailing bytes
		return Entry{}, ErrCorrupt
	}

	e := Entry{
		State:      state,
		HasValue:   flags&flagHasValue != 0,
		StaleAfter: staleAfter,
		Payload:    b[off : off+vlen],
	}
	if nanos != 0 {
		e.FetchedAt = time.Unix(0, nanos)
	}
	if !e.HasValue && vlen != 0 {
		return Entry{}, ErrCorrupt
	}
	return e, nil
}
