package isam

import (
	"bytes"
	"errors"
	"iter"

	"github.com/go-isam/isamgo/cache"
	"github.com/go-isam/isamgo/record"
)

// Entry is one key/value pair yielded by Scan.
type Entry struct {
	Key   string
	Value []byte
}

// Scan wraps SetKey+ReadNext in a range-over-func iterator starting at
// the first record whose key is >= from ("" to scan from the very first
// record). It is sugar over
// those two primitives, not a new operation: a SetKey error is yielded
// once and stops the sequence, and the chain's end (ReadNext's EOF) ends
// the sequence silently rather than being yielded as an error.
func (db *DB) Scan(from string) iter.Seq2[Entry, error] {
	return func(yield func(Entry, error) bool) {
		if err := db.SetKey(from); err != nil {
			yield(Entry{}, err)
			return
		}
		for {
			k, v, err := db.ReadNext()
			if err != nil {
				if errors.Is(err, ErrEOF) {
					return
				}
				yield(Entry{}, err)
				return
			}
			if !yield(Entry{Key: k, Value: v}, nil) {
				return
			}
		}
	}
}

// SetKey positions the cursor at the greatest valid record with key
// strictly less than k, such that a following ReadNext yields the record
// with key k if present, or the smallest key greater than k otherwise.
// SetKey("") resets the cursor to the dummy first record.
func (db *DB) SetKey(k string) error {
	if k != "" {
		if err := db.checkKeyLen(k); err != nil {
			return db.setLast(err.(*Error))
		}
	}
	db.clearLast()

	if k == "" {
		db.cursor = 0
		return nil
	}

	nrecPB := int(db.header.NrecPB)
	blk, err := db.idx.KeyToBlock(k)
	if err != nil {
		return db.setLast(newErr(IndexError, "keyToBlock: %v", err))
	}

	cur := record.OrdinalOf(blk, 0, nrecPB)
	for {
		_, v, e := db.viewAt(cur)
		if e != nil {
			return db.setLast(newErr(ReadError, "%v", e))
		}
		if string(v.Key()) >= k {
			break
		}
		nxt := v.Next()
		if nxt == 0 {
			break
		}
		cur = nxt
	}

	for {
		if cur == 0 {
			break
		}
		_, v, e := db.viewAt(cur)
		if e != nil {
			return db.setLast(newErr(ReadError, "%v", e))
		}
		if v.HasFlag(record.Valid) && string(v.Key()) < k {
			break
		}
		cur = v.Previous()
	}

	db.cursor = cur
	return nil
}

// ReadNext walks next from the cursor, skipping non-VALID slots, and
// returns the first valid record found. Fails with EOF if the chain ends
// (next == 0) before any valid record is reached.
func (db *DB) ReadNext() (string, []byte, error) {
	db.clearLast()
	cur := db.cursor
	for {
		_, v, e := db.viewAt(cur)
		if e != nil {
			return "", nil, db.setLast(newErr(ReadError, "%v", e))
		}
		nxt := v.Next()
		if nxt == 0 {
			return "", nil, db.setLast(ErrEOF)
		}
		cur = nxt
		_, nv, e := db.viewAt(cur)
		if e != nil {
			return "", nil, db.setLast(newErr(ReadError, "%v", e))
		}
		if nv.HasFlag(record.Valid) {
			db.cursor = cur
			return string(nv.Key()), append([]byte(nil), nv.Value()...), nil
		}
	}
}

// ReadPrev emits the cursor's own record if it is valid, then walks
// previous to the closest valid (or ordinal-0) predecessor and moves the
// cursor there. Fails with SOF if the cursor is not on a valid record.
func (db *DB) ReadPrev() (string, []byte, error) {
	db.clearLast()
	_, v, e := db.viewAt(db.cursor)
	if e != nil {
		return "", nil, db.setLast(newErr(ReadError, "%v", e))
	}
	if !v.HasFlag(record.Valid) {
		return "", nil, db.setLast(ErrSOF)
	}
	outKey := string(v.Key())
	outData := append([]byte(nil), v.Value()...)

	cur := v.Previous()
	for cur != 0 {
		_, pv, e := db.viewAt(cur)
		if e != nil {
			return "", nil, db.setLast(newErr(ReadError, "%v", e))
		}
		if pv.HasFlag(record.Valid) {
			break
		}
		cur = pv.Previous()
	}
	db.cursor = cur
	return outKey, outData, nil
}

// ReadByKey is setKey(k) followed by readNext, failing NoSuchKey if the
// key that comes back doesn't match (or the chain ended first).
func (db *DB) ReadByKey(k string) ([]byte, error) {
	if k == "" {
		return nil, db.setLast(ErrNullKey)
	}
	if err := db.checkKeyLen(k); err != nil {
		return nil, db.setLast(err.(*Error))
	}
	if !db.bloom.maybePresent([]byte(k)) {
		db.clearLast()
		return nil, db.setLast(ErrNoSuchKey)
	}

	if err := db.SetKey(k); err != nil {
		return nil, err
	}
	gotKey, data, err := db.ReadNext()
	if err != nil {
		if errors.Is(err, ErrEOF) {
			return nil, db.setLast(ErrNoSuchKey)
		}
		return nil, err
	}
	if gotKey != k {
		return nil, db.setLast(ErrNoSuchKey)
	}
	db.clearLast()
	return data, nil
}

// WriteNew inserts a new record. Keys greater than or equal to the
// current maximum are appended at the tail of the chain; smaller keys are
// spliced in after locating their successor via the index.
func (db *DB) WriteNew(k string, v []byte) error {
	if k == "" {
		return db.setLast(ErrNullKey)
	}
	if err := db.checkKeyLen(k); err != nil {
		return db.setLast(err.(*Error))
	}
	if err := db.checkDataLen(v); err != nil {
		return db.setLast(err.(*Error))
	}
	db.clearLast()

	if db.header.Nrecords == 0 || k >= string(db.header.MaxKey) {
		return db.appendRecord(k, v)
	}
	return db.insertBefore(k, v)
}

// appendRecord implements the k >= maxKey path of writeNew.
func (db *DB) appendRecord(k string, v []byte) error {
	nrecPB := int(db.header.NrecPB)

	maxOrd := record.Ordinal(db.header.MaxKeyRec)
	_, maxView, err := db.viewAt(maxOrd)
	if err != nil {
		return db.setLast(newErr(ReadError, "%v", err))
	}
	if maxView.Next() != 0 {
		return db.setLast(newErr(HeaderError, "maxKeyRec is not the chain tail"))
	}

	if maxOrd != 0 && maxOrd.Slot(nrecPB) == 0 && maxOrd.Block(nrecPB) < db.header.Nblocks &&
		maxView.HasFlag(record.Deleted) && string(maxView.Key()) == k {
		return db.reuseSlot(maxOrd, v, true, k)
	}
	if maxView.HasFlag(record.Valid) && string(maxView.Key()) == k {
		return db.setLast(ErrRecordExists)
	}

	n, isNewBlock, ferr := db.findFreeAfter(maxOrd)
	if ferr != nil {
		return db.setLast(ferr)
	}

	db.header.SetUpdating()
	db.header.Nrecords++
	db.header.MaxKeyRec = uint64(n)
	copy(db.header.MaxKey, k)
	if err := db.writeHeader(); err != nil {
		return db.setLast(newErr(WriteFail, "%v", err))
	}

	nSlotIdx, nView, err := db.viewAt(n)
	if err != nil {
		return db.setLast(newErr(WriteFail, "%v", err))
	}
	nView.SetKey([]byte(k))
	nView.SetValue(v)
	nView.SetFlags(record.Valid)
	nView.SetPrevious(maxOrd)
	nView.SetNext(0)
	if err := db.cache.WriteBack(nSlotIdx); err != nil {
		return db.setLast(newErr(WriteFail, "%v", err))
	}

	maxSlotIdx, maxView2, err := db.viewAt(maxOrd)
	if err != nil {
		return db.setLast(newErr(WriteFail, "%v", err))
	}
	maxView2.SetNext(n)
	if err := db.cache.WriteBack(maxSlotIdx); err != nil {
		return db.setLast(newErr(WriteFail, "%v", err))
	}

	if isNewBlock && n.Slot(nrecPB) == 0 && n.Block(nrecPB) < db.header.Nblocks {
		if err := db.idx.AddKey(k, n.Block(nrecPB)); err != nil {
			return db.setLast(newErr(IndexError, "%v", err))
		}
		if err := db.writeIndex(); err != nil {
			return db.setLast(newErr(WriteFail, "%v", err))
		}
	}

	db.header.ClearUpdating()
	if err := db.writeHeader(); err != nil {
		return db.setLast(newErr(WriteFail, "%v", err))
	}

	db.bloom.add([]byte(k))
	return nil
}

// insertBefore implements the k < maxKey path of writeNew: find the
// successor S via the index, reuse a sticky-deleted match in place, fail
// RecordExists on a live duplicate, or splice a new record in between S's
// predecessor and S.
func (db *DB) insertBefore(k string, v []byte) error {
	nrecPB := int(db.header.NrecPB)

	blk, err := db.idx.KeyToBlock(k)
	if err != nil {
		return db.setLast(newErr(IndexError, "%v", err))
	}

	// The index maps k to the block whose sticky first slot may itself be
	// the reuse candidate: a forward walk that only tests VALID successors
	// would step right over a Deleted slot without noticing it matches k.
	first := record.OrdinalOf(blk, 0, nrecPB)
	_, firstView, err := db.viewAt(first)
	if err != nil {
		return db.setLast(newErr(ReadError, "%v", err))
	}
	if firstView.HasFlag(record.Deleted) && string(firstView.Key()) == k {
		return db.reuseSlot(first, v, false, k)
	}

	cur := first
	for {
		_, cv, e := db.viewAt(cur)
		if e != nil {
			return db.setLast(newErr(ReadError, "%v", e))
		}
		if cv.HasFlag(record.Valid) && string(cv.Key()) >= k {
			break
		}
		nxt := cv.Next()
		if nxt == 0 {
			return db.setLast(newErr(HeaderError, "no successor found below maxKey"))
		}
		cur = nxt
	}

	s := cur
	_, sView, err := db.viewAt(s)
	if err != nil {
		return db.setLast(newErr(ReadError, "%v", err))
	}

	if string(sView.Key()) == k {
		if sView.HasFlag(record.Deleted) {
			return db.reuseSlot(s, v, false, k)
		}
		return db.setLast(ErrRecordExists)
	}

	p := sView.Previous()
	n, isNewBlock, ferr := db.findFreeNear(p)
	if ferr != nil {
		return db.setLast(ferr)
	}

	db.header.SetUpdating()
	db.header.Nrecords++
	if err := db.writeHeader(); err != nil {
		return db.setLast(newErr(WriteFail, "%v", err))
	}

	nSlotIdx, nView, err := db.viewAt(n)
	if err != nil {
		return db.setLast(newErr(WriteFail, "%v", err))
	}
	nView.SetKey([]byte(k))
	nView.SetValue(v)
	nView.SetFlags(record.Valid)
	nView.SetPrevious(p)
	nView.SetNext(s)
	if err := db.cache.WriteBack(nSlotIdx); err != nil {
		return db.setLast(newErr(WriteFail, "%v", err))
	}

	pSlotIdx, pView, err := db.viewAt(p)
	if err != nil {
		return db.setLast(newErr(WriteFail, "%v", err))
	}
	pView.SetNext(n)
	if err := db.cache.WriteBack(pSlotIdx); err != nil {
		return db.setLast(newErr(WriteFail, "%v", err))
	}

	sSlotIdx, sView2, err := db.viewAt(s)
	if err != nil {
		return db.setLast(newErr(WriteFail, "%v", err))
	}
	sView2.SetPrevious(n)
	if err := db.cache.WriteBack(sSlotIdx); err != nil {
		return db.setLast(newErr(WriteFail, "%v", err))
	}

	if isNewBlock && n.Slot(nrecPB) == 0 && n.Block(nrecPB) < db.header.Nblocks {
		if err := db.idx.AddKey(k, n.Block(nrecPB)); err != nil {
			return db.setLast(newErr(IndexError, "%v", err))
		}
		if err := db.writeIndex(); err != nil {
			return db.setLast(newErr(WriteFail, "%v", err))
		}
	}

	db.header.ClearUpdating()
	if err := db.writeHeader(); err != nil {
		return db.setLast(newErr(WriteFail, "%v", err))
	}

	db.bloom.add([]byte(k))
	return nil
}

// reuseSlot reactivates a sticky-deleted first-of-block slot in place,
// preserving its key. updateMax is set only by the append path, where the
// reused slot is also the chain tail.
func (db *DB) reuseSlot(ord record.Ordinal, v []byte, updateMax bool, key string) error {
	db.header.SetUpdating()
	db.header.Nrecords++
	if updateMax {
		db.header.MaxKeyRec = uint64(ord)
		copy(db.header.MaxKey, key)
	}
	if err := db.writeHeader(); err != nil {
		return db.setLast(newErr(WriteFail, "%v", err))
	}

	slotIdx, view, err := db.viewAt(ord)
	if err != nil {
		return db.setLast(newErr(WriteFail, "%v", err))
	}
	view.SetValue(v)
	view.ClearFlag(record.Deleted)
	view.SetFlag(record.Valid)
	if err := db.cache.WriteBack(slotIdx); err != nil {
		return db.setLast(newErr(WriteFail, "%v", err))
	}

	db.header.ClearUpdating()
	if err := db.writeHeader(); err != nil {
		return db.setLast(newErr(WriteFail, "%v", err))
	}

	db.bloom.add([]byte(key))
	return nil
}

// findFreeAfter locates the append target: the first free slot starting
// just past maxOrd, reserving the last slot of regular blocks so later
// out-of-order inserts have room. Overflow blocks reserve nothing.
func (db *DB) findFreeAfter(maxOrd record.Ordinal) (record.Ordinal, bool, *Error) {
	nrecPB := int(db.header.NrecPB)
	startBlock := maxOrd.Block(nrecPB)
	startSlot := int(maxOrd.Slot(nrecPB)) + 1

	for blk := startBlock; ; blk++ {
		limit := nrecPB
		if blk < db.header.Nblocks {
			limit = nrecPB - 1
		}
		curBefore := db.header.CurBlocks
		buf, err := db.cacheBlockBuf(blk)
		if err != nil {
			return 0, false, newErr(WriteFail, "cache block %d: %v", blk, err)
		}
		blockIsNew := blk >= curBefore

		from := 0
		if blk == startBlock {
			from = startSlot
		}
		for s := from; s < limit; s++ {
			v := db.slotView(buf, uint64(s))
			if v.Free() {
				return record.OrdinalOf(blk, uint64(s), nrecPB), blockIsNew, nil
			}
		}
	}
}

// findFreeNear locates the splice target for insertBefore: the first free
// slot in p's own block, else the first free slot in any later block. No
// slot is reserved here — reservation only protects room for this exact
// kind of out-of-order insert in blocks built by append.
func (db *DB) findFreeNear(p record.Ordinal) (record.Ordinal, bool, *Error) {
	nrecPB := int(db.header.NrecPB)
	for blk := p.Block(nrecPB); ; blk++ {
		curBefore := db.header.CurBlocks
		buf, err := db.cacheBlockBuf(blk)
		if err != nil {
			return 0, false, newErr(WriteFail, "cache block %d: %v", blk, err)
		}
		blockIsNew := blk >= curBefore

		for s := 0; s < nrecPB; s++ {
			v := db.slotView(buf, uint64(s))
			if v.Free() {
				return record.OrdinalOf(blk, uint64(s), nrecPB), blockIsNew, nil
			}
		}
	}
}

// Delete removes a record after verifying its stored value matches v
// byte-for-byte. A first-of-block slot in the regular block range is
// sticky-deleted (key preserved, still visible to the index); every other
// slot is fully unlinked and freed.
func (db *DB) Delete(k string, v []byte) error {
	if k == "" {
		return db.setLast(ErrNullKey)
	}
	if err := db.checkKeyLen(k); err != nil {
		return db.setLast(err.(*Error))
	}
	if err := db.checkDataLen(v); err != nil {
		return db.setLast(err.(*Error))
	}
	db.clearLast()

	if err := db.SetKey(k); err != nil {
		return err
	}
	gotKey, gotData, err := db.ReadNext()
	if err != nil {
		if errors.Is(err, ErrEOF) {
			return db.setLast(ErrNoSuchKey)
		}
		return err
	}
	if gotKey != k {
		return db.setLast(ErrNoSuchKey)
	}
	if !bytes.Equal(gotData, v) {
		return db.setLast(ErrDataMismatch)
	}

	ord := db.cursor
	nrecPB := int(db.header.NrecPB)

	db.header.SetUpdating()
	db.header.Nrecords--
	if err := db.writeHeader(); err != nil {
		return db.setLast(newErr(WriteFail, "%v", err))
	}

	slotIdx, view, err := db.viewAt(ord)
	if err != nil {
		return db.setLast(newErr(WriteFail, "%v", err))
	}

	isFirstOfRegularBlock := ord.Slot(nrecPB) == 0 && ord.Block(nrecPB) < db.header.Nblocks
	walkFrom := ord

	if isFirstOfRegularBlock {
		view.SetFlag(record.Deleted)
		view.ClearFlag(record.Valid)
		if err := db.cache.WriteBack(slotIdx); err != nil {
			return db.setLast(newErr(WriteFail, "%v", err))
		}
	} else {
		prevOrd := view.Previous()
		nextOrd := view.Next()
		walkFrom = prevOrd

		prevSlotIdx, prevView, err := db.viewAt(prevOrd)
		if err != nil {
			return db.setLast(newErr(WriteFail, "%v", err))
		}
		prevView.SetNext(nextOrd)
		if err := db.cache.WriteBack(prevSlotIdx); err != nil {
			return db.setLast(newErr(WriteFail, "%v", err))
		}

		if nextOrd != 0 {
			nextSlotIdx, nextView, err := db.viewAt(nextOrd)
			if err != nil {
				return db.setLast(newErr(WriteFail, "%v", err))
			}
			nextView.SetPrevious(prevOrd)
			if err := db.cache.WriteBack(nextSlotIdx); err != nil {
				return db.setLast(newErr(WriteFail, "%v", err))
			}
		} else {
			_, prevView2, err := db.viewAt(prevOrd)
			if err != nil {
				return db.setLast(newErr(WriteFail, "%v", err))
			}
			db.header.MaxKeyRec = uint64(prevOrd)
			copy(db.header.MaxKey, prevView2.Key())
		}

		view.Clear()
		if err := db.cache.WriteBack(slotIdx); err != nil {
			return db.setLast(newErr(WriteFail, "%v", err))
		}
	}

	db.header.ClearUpdating()
	if err := db.writeHeader(); err != nil {
		return db.setLast(newErr(WriteFail, "%v", err))
	}

	back := walkFrom
	for back != 0 {
		_, bv, err := db.viewAt(back)
		if err != nil {
			return db.setLast(newErr(ReadError, "%v", err))
		}
		if bv.HasFlag(record.Valid) {
			break
		}
		back = bv.Previous()
	}
	db.cursor = back

	return nil
}

// Update is defined as delete(k, oldV) followed by writeNew(k, newV).
func (db *DB) Update(k string, oldV, newV []byte) error {
	if err := db.Delete(k, oldV); err != nil {
		return err
	}
	return db.WriteNew(k, newV)
}

// CacheStats returns the engine's block cache activity counters, resetting
// them as a side effect (spec.md 4.2: "reading them atomically resets
// them").
func (db *DB) CacheStats() cache.Metrics {
	return db.cache.Metrics()
}
