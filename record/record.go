// Package record models a single ISAM record slot as an accessor over a
// fixed-size byte window, rather than a compile-time struct: the slot is
// (header, key bytes, value bytes) packed back to back and padded to a
// multiple of 8, and KeyLen/DataLen are only known at runtime per file.
//
// The encode/decode technique (little-endian fixed-width fields read and
// written in place) follows the same approach the teacher uses for its WAL
// entries and SST block entries, just applied to a fixed-layout slot
// instead of a variable-length log record.
package record

import "encoding/binary"

// HeaderSize is the byte size of the three header fields: next, previous,
// statusFlags, each stored as an unsigned 64-bit little-endian integer.
const HeaderSize = 24

// Status flag bits, per spec.
const (
	Valid   uint64 = 1 << 0
	Deleted uint64 = 1 << 1
	Special uint64 = 1 << 2
)

// Ordinal is a flat record address: block*NrecPB + slot. Ordinal 0 is the
// dummy first record that anchors the previous-chain for the life of the
// file.
type Ordinal uint64

// Block returns the block number containing this ordinal.
func (o Ordinal) Block(nrecPB int) uint64 { return uint64(o) / uint64(nrecPB) }

// Slot returns the in-block slot index of this ordinal.
func (o Ordinal) Slot(nrecPB int) uint64 { return uint64(o) % uint64(nrecPB) }

// OrdinalOf composes a flat ordinal from a block number and slot index.
func OrdinalOf(block, slot uint64, nrecPB int) Ordinal {
	return Ordinal(block*uint64(nrecPB) + slot)
}

// Geometry is the per-file key/value sizing that determines slot layout.
type Geometry struct {
	KeyLen  int
	DataLen int
}

// Len returns RecordLen, the slot size in bytes: the header plus key and
// value bytes, rounded up to the next multiple of 8.
func (g Geometry) Len() int {
	raw := HeaderSize + g.KeyLen + g.DataLen
	return ((raw + 7) / 8) * 8
}

// View is a window onto a single RecordLen-sized slot buffer. It never
// copies the header fields out into a Go struct; every accessor reads or
// writes directly through buf, so mutations are visible to whoever holds
// the underlying block buffer (the cache).
type View struct {
	buf []byte
	g   Geometry
}

// NewView wraps a RecordLen-sized slice. Callers (the block cache) are
// responsible for slicing the right window out of a block buffer.
func NewView(buf []byte, g Geometry) View {
	if len(buf) < HeaderSize+g.KeyLen+g.DataLen {
		panic("record: buffer shorter than geometry requires")
	}
	return View{buf: buf, g: g}
}

func (v View) Next() Ordinal { return Ordinal(binary.LittleEndian.Uint64(v.buf[0:8])) }

func (v View) SetNext(o Ordinal) { binary.LittleEndian.PutUint64(v.buf[0:8], uint64(o)) }

func (v View) Previous() Ordinal { return Ordinal(binary.LittleEndian.Uint64(v.buf[8:16])) }

func (v View) SetPrevious(o Ordinal) { binary.LittleEndian.PutUint64(v.buf[8:16], uint64(o)) }

func (v View) Flags() uint64 { return binary.LittleEndian.Uint64(v.buf[16:24]) }

func (v View) SetFlags(f uint64) { binary.LittleEndian.PutUint64(v.buf[16:24], f) }

// HasFlag reports whether every bit in f is set.
func (v View) HasFlag(f uint64) bool { return v.Flags()&f == f }

func (v View) SetFlag(f uint64) { v.SetFlags(v.Flags() | f) }

func (v View) ClearFlag(f uint64) { v.SetFlags(v.Flags() &^ f) }

// Key returns the fixed KeyLen key window.
func (v View) Key() []byte { return v.buf[HeaderSize : HeaderSize+v.g.KeyLen] }

// KeyString returns the full, possibly space-padded, KeyLen-byte key.
func (v View) KeyString() string { return string(v.Key()) }

// SetKey copies k into the key window. k must be exactly KeyLen bytes;
// callers (writeNew/append) are responsible for that invariant.
func (v View) SetKey(k []byte) { copy(v.Key(), k) }

// StrnlenKeyLen returns the length of the key up to the first NUL byte,
// or KeyLen if there is none — used by file statistics (spec.md 4.3).
func (v View) StrnlenKeyLen() int {
	k := v.Key()
	for i, b := range k {
		if b == 0 {
			return i
		}
	}
	return len(k)
}

// Value returns the fixed DataLen value window.
func (v View) Value() []byte {
	start := HeaderSize + v.g.KeyLen
	return v.buf[start : start+v.g.DataLen]
}

// SetValue copies d into the value window. d must be exactly DataLen bytes.
func (v View) SetValue(d []byte) { copy(v.Value(), d) }

// Free reports whether the slot has never been written: header, key and
// value bytes are all zero.
func (v View) Free() bool {
	for _, b := range v.buf {
		if b != 0 {
			return false
		}
	}
	return true
}

// Clear zeroes the entire slot, returning it to the free state.
func (v View) Clear() {
	for i := range v.buf {
		v.buf[i] = 0
	}
}

// Bytes exposes the raw slot window, for callers that need to copy a whole
// slot (e.g. diagnostics).
func (v View) Bytes() []byte { return v.buf }
