// Package isam implements an Indexed Sequential Access Method file engine:
// a single-file, on-disk key-value store with fixed-length keys and
// fixed-length opaque values, ordered traversal via a doubly-linked
// logical record chain, point lookup accelerated by a static fan-out-four
// index, and a small fixed-capacity write-through block cache.
//
// The engine is strictly single-threaded per open *DB: there is no
// internal lock and no reentrancy, matching the teacher's WAL/segment
// writers which also assume a single owning goroutine per file.
package isam

import (
	"bytes"
	"fmt"
	"os"

	"github.com/natefinch/atomic"

	"github.com/go-isam/isamgo/cache"
	"github.com/go-isam/isamgo/index"
	"github.com/go-isam/isamgo/record"
)

// DB is an open ISAM file. It implements cache.Store so the block cache
// can read/write/extend the underlying file without knowing anything
// about record layout or the index.
type DB struct {
	f      *os.File
	path   string
	header FileHeader
	idx    *index.Index
	cache  *cache.Cache
	bloom  *existenceFilter
	geo    record.Geometry
	cursor record.Ordinal

	lastError *Error
}

// Create materializes a new ISAM file at path: exclusive create, geometry
// validation, an empty static index dimensioned for nBlocks, and the
// dummy first record. The initial header+index image is written with
// natefinch/atomic so a reader never observes a half-written file.
func Create(path string, keyLen, dataLen, recPerBlock, nBlocks int) (*DB, error) {
	if keyLen < 8 || keyLen > 40 {
		return nil, ErrKeyLen
	}
	if recPerBlock < 2 {
		return nil, newErr(IdentInvalid, "recPerBlock must be at least 2 (one reserved, one usable)")
	}
	if nBlocks < 1 {
		return nil, newErr(IdentInvalid, "nBlocks must be at least 1")
	}

	if _, err := os.Stat(path); err == nil {
		return nil, ErrFileExists
	} else if !os.IsNotExist(err) {
		return nil, newErr(OpenFail, "stat %s: %v", path, err)
	}

	geo := record.Geometry{KeyLen: keyLen, DataLen: dataLen}
	recordLen := geo.Len()

	idx := index.New(nBlocks, keyLen)
	dataStart := HeaderSize(keyLen) + idx.Size()

	h := &FileHeader{
		Magic:     Magic,
		Version:   CurrentVersion,
		Nblocks:   uint64(nBlocks),
		NrecPB:    uint64(recPerBlock),
		KeyLen:    uint64(keyLen),
		DataLen:   uint64(dataLen),
		Nrecords:  0,
		DataStart: uint64(dataStart),
		RecordLen: uint64(recordLen),
		CurBlocks: 0,
		MaxKeyRec: 0,
		FileState: 0,
		MaxKey:    make([]byte, keyLen),
	}

	var buf bytes.Buffer
	if err := h.Encode(&buf); err != nil {
		return nil, newErr(WriteFail, "encode header: %v", err)
	}
	if err := idx.Encode(&buf); err != nil {
		return nil, newErr(WriteFail, "encode index: %v", err)
	}

	if err := atomic.WriteFile(path, &buf); err != nil {
		return nil, newErr(WriteFail, "create %s: %v", path, err)
	}

	return Open(path)
}

// Open opens an existing ISAM file: validates magic/version/header CRC,
// takes an advisory OS-level exclusive lock (a safety net against a
// second process opening the same path; the engine's own concurrency
// model is already single-threaded per *DB), loads the index fully into
// memory, and rebuilds the existence filter from the logical chain.
func Open(path string) (*DB, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoSuchFile
		}
		return nil, newErr(OpenFail, "open %s: %v", path, err)
	}

	if err := flockExclusive(f.Fd()); err != nil {
		f.Close()
		return nil, newErr(OpenFail, "lock %s held by another process: %v", path, err)
	}

	h, err := DecodeHeader(f)
	if err != nil {
		funlock(f.Fd())
		f.Close()
		return nil, err
	}

	idx, err := index.Decode(f)
	if err != nil {
		funlock(f.Fd())
		f.Close()
		return nil, newErr(IndexError, "decode index: %v", err)
	}

	db := &DB{
		f:      f,
		path:   path,
		header: *h,
		idx:    idx,
		geo:    record.Geometry{KeyLen: int(h.KeyLen), DataLen: int(h.DataLen)},
	}
	db.cache = cache.New(db, db.blockSize())

	if db.header.CurBlocks == 0 {
		if err := db.initDummy(); err != nil {
			funlock(f.Fd())
			f.Close()
			return nil, err
		}
	}

	if err := db.rebuildBloom(); err != nil {
		funlock(f.Fd())
		f.Close()
		return nil, err
	}

	db.clearLast()
	return db, nil
}

// Close releases the advisory lock and closes the underlying file handle.
func (db *DB) Close() error {
	funlock(db.f.Fd())
	return db.f.Close()
}

// Path returns the path the file was created or opened from.
func (db *DB) Path() string { return db.path }

// Nrecords returns the live record count (excluding the dummy).
func (db *DB) Nrecords() uint64 { return db.header.Nrecords }

// KeyLen returns the file's fixed key length in bytes.
func (db *DB) KeyLen() int { return int(db.header.KeyLen) }

// DataLen returns the file's fixed value length in bytes.
func (db *DB) DataLen() int { return int(db.header.DataLen) }

// MaxKey returns the current maximum key (all-zero bytes if the file has
// no live records yet).
func (db *DB) MaxKey() string { return string(db.header.MaxKey) }

// --- cache.Store implementation -------------------------------------------

func (db *DB) blockSize() int { return int(db.header.NrecPB) * int(db.header.RecordLen) }

func (db *DB) blockOffset(b uint64) int64 {
	return int64(db.header.DataStart) + int64(b)*int64(db.blockSize())
}

func (db *DB) ReadBlockAt(b uint64, buf []byte) error {
	_, err := db.f.ReadAt(buf, db.blockOffset(b))
	return err
}

func (db *DB) WriteBlockAt(b uint64, buf []byte) error {
	_, err := db.f.WriteAt(buf, db.blockOffset(b))
	return err
}

func (db *DB) CurBlocks() uint64 { return db.header.CurBlocks }

func (db *DB) GrowCurBlocks(to uint64) error {
	db.header.CurBlocks = to
	return db.writeHeader()
}

// --- internal plumbing ------------------------------------------------------

func (db *DB) writeHeader() error {
	var buf bytes.Buffer
	if err := db.header.Encode(&buf); err != nil {
		return err
	}
	_, err := db.f.WriteAt(buf.Bytes(), 0)
	return err
}

func (db *DB) writeIndex() error {
	var buf bytes.Buffer
	if err := db.idx.Encode(&buf); err != nil {
		return err
	}
	_, err := db.f.WriteAt(buf.Bytes(), int64(HeaderSize(int(db.header.KeyLen))))
	return err
}

func (db *DB) slotView(blockBuf []byte, slot uint64) record.View {
	recLen := int(db.header.RecordLen)
	start := int(slot) * recLen
	return record.NewView(blockBuf[start:start+recLen], db.geo)
}

// viewAt resolves a flat ordinal to a live View over its cache-resident
// block buffer, returning the slot index too so callers can WriteBack
// after mutating.
func (db *DB) viewAt(o record.Ordinal) (int, record.View, error) {
	nrecPB := int(db.header.NrecPB)
	blk := o.Block(nrecPB)
	slot := o.Slot(nrecPB)
	slotIdx, buf, err := db.cache.CacheBlock(blk)
	if err != nil {
		return 0, record.View{}, fmt.Errorf("cache block %d: %w", blk, err)
	}
	return slotIdx, db.slotView(buf, slot), nil
}

func (db *DB) cacheBlockBuf(blk uint64) ([]byte, error) {
	_, buf, err := db.cache.CacheBlock(blk)
	return buf, err
}

// initDummy materializes the dummy first record (ordinal 0): SPECIAL
// flag, empty key, next=previous=0. It never carries VALID, so readPrev's
// "cursor is VALID" test and readNext's VALID-skip walk both exclude it
// from ever being reported as data without any ordinal-0 special-casing.
func (db *DB) initDummy() error {
	slotIdx, buf, err := db.cache.CacheBlock(0)
	if err != nil {
		return newErr(WriteFail, "allocate block 0: %v", err)
	}
	v := db.slotView(buf, 0)
	v.SetFlag(record.Special)
	if err := db.cache.WriteBack(slotIdx); err != nil {
		return newErr(WriteFail, "write dummy record: %v", err)
	}
	return nil
}

// rebuildBloom walks the logical chain from the dummy record, adding
// every VALID key to a fresh existence filter.
func (db *DB) rebuildBloom() error {
	db.bloom = newExistenceFilter(db.header.Nblocks * db.header.NrecPB)

	cur := record.Ordinal(0)
	for {
		_, v, err := db.viewAt(cur)
		if err != nil {
			return newErr(ReadError, "bloom rebuild at ordinal %d: %v", cur, err)
		}
		nxt := v.Next()
		if nxt == 0 {
			return nil
		}
		cur = nxt
		_, nv, err := db.viewAt(cur)
		if err != nil {
			return newErr(ReadError, "bloom rebuild at ordinal %d: %v", cur, err)
		}
		if nv.HasFlag(record.Valid) {
			db.bloom.add(append([]byte(nil), nv.Key()...))
		}
	}
}

func (db *DB) checkKeyLen(k string) error {
	if len(k) != int(db.header.KeyLen) {
		return ErrKeyLen
	}
	return nil
}

func (db *DB) checkDataLen(v []byte) error {
	if len(v) != int(db.header.DataLen) {
		return ErrWriteFail
	}
	return nil
}
