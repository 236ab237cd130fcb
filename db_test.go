package isam

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func writeGarbageFile(path string) error {
	return os.WriteFile(path, []byte("not an isam file, just garbage bytes"), 0o644)
}

func mustCreate(t *testing.T, keyLen, dataLen, recPerBlock, nBlocks int) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "t.db")
	db, err := Create(path, keyLen, dataLen, recPerBlock, nBlocks)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func padKey(s string, n int) string {
	if len(s) >= n {
		return s[:n]
	}
	return s + string(make([]byte, n-len(s)))
}

// Scenario 1: single insert/read round trip.
func TestScenarioSingleInsertRoundTrip(t *testing.T) {
	db := mustCreate(t, 8, 4, 4, 4)

	key := "alpha   "
	payload := []byte{0x01, 0x02, 0x03, 0x04}

	if err := db.WriteNew(key, payload); err != nil {
		t.Fatalf("WriteNew: %v", err)
	}

	got, err := db.ReadByKey(key)
	if err != nil {
		t.Fatalf("ReadByKey: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("ReadByKey = %v, want %v", got, payload)
	}
	if db.Nrecords() != 1 {
		t.Fatalf("Nrecords() = %d, want 1", db.Nrecords())
	}
}

func scan(t *testing.T, db *DB) []string {
	t.Helper()
	if err := db.SetKey(""); err != nil {
		t.Fatalf("SetKey(\"\"): %v", err)
	}
	var keys []string
	for {
		k, _, err := db.ReadNext()
		if err != nil {
			if errors.Is(err, ErrEOF) {
				return keys
			}
			t.Fatalf("ReadNext: %v", err)
		}
		keys = append(keys, k)
	}
}

func insertAscii(t *testing.T, db *DB, label string, n int) string {
	t.Helper()
	k := padKey(label, db.KeyLen())
	v := make([]byte, db.DataLen())
	copy(v, []byte{byte(n), byte(n >> 8), byte(n >> 16), byte(n >> 24)})
	if err := db.WriteNew(k, v); err != nil {
		t.Fatalf("WriteNew(%q): %v", k, err)
	}
	return k
}

// Scenario 2: ordered insert, full scan, and setKey/readNext positioning.
func TestScenarioOrderedInsertAndScan(t *testing.T) {
	db := mustCreate(t, 8, 4, 4, 4)

	labels := []string{"a0", "a1", "a2", "a3", "a4"}
	keys := make([]string, len(labels))
	for i, l := range labels {
		keys[i] = insertAscii(t, db, l, i)
	}

	got := scan(t, db)
	if len(got) != len(keys) {
		t.Fatalf("scan returned %d keys, want %d", len(got), len(keys))
	}
	for i := range keys {
		if got[i] != keys[i] {
			t.Fatalf("scan[%d] = %q, want %q", i, got[i], keys[i])
		}
	}

	if err := db.SetKey(keys[2]); err != nil {
		t.Fatalf("SetKey(a2): %v", err)
	}
	k, _, err := db.ReadNext()
	if err != nil || k != keys[2] {
		t.Fatalf("ReadNext after SetKey(a2) = %q, %v, want %q", k, err, keys[2])
	}
	k, _, err = db.ReadNext()
	if err != nil || k != keys[3] {
		t.Fatalf("second ReadNext = %q, %v, want %q", k, err, keys[3])
	}
}

func TestScanIterator(t *testing.T) {
	db := mustCreate(t, 8, 4, 4, 4)

	labels := []string{"a0", "a1", "a2", "a3", "a4"}
	keys := make([]string, len(labels))
	for i, l := range labels {
		keys[i] = insertAscii(t, db, l, i)
	}

	var got []string
	for e, err := range db.Scan("") {
		if err != nil {
			t.Fatalf("Scan: %v", err)
		}
		got = append(got, e.Key)
	}
	if len(got) != len(keys) {
		t.Fatalf("Scan returned %d keys, want %d", len(got), len(keys))
	}
	for i := range keys {
		if got[i] != keys[i] {
			t.Fatalf("Scan[%d] = %q, want %q", i, got[i], keys[i])
		}
	}

	// Scan(from) starts at from itself when present, same as SetKey+ReadNext.
	var fromA1 []string
	for e, err := range db.Scan(keys[1]) {
		if err != nil {
			t.Fatalf("Scan(%q): %v", keys[1], err)
		}
		fromA1 = append(fromA1, e.Key)
	}
	want := keys[1:]
	if len(fromA1) != len(want) {
		t.Fatalf("Scan(%q) returned %d keys, want %d", keys[1], len(fromA1), len(want))
	}
	for i := range want {
		if fromA1[i] != want[i] {
			t.Fatalf("Scan(%q)[%d] = %q, want %q", keys[1], i, fromA1[i], want[i])
		}
	}

	// An early break stops the sequence without error.
	count := 0
	for range db.Scan("") {
		count++
		if count == 2 {
			break
		}
	}
	if count != 2 {
		t.Fatalf("Scan early break: saw %d entries, want 2", count)
	}
}

// Scenarios 3 and 4: delete, verify the gap, reinsert, verify restoration.
func TestScenarioDeleteAndReinsert(t *testing.T) {
	db := mustCreate(t, 8, 4, 4, 4)

	labels := []string{"a0", "a1", "a2", "a3", "a4"}
	keys := make([]string, len(labels))
	payloads := make([][]byte, len(labels))
	for i, l := range labels {
		keys[i] = insertAscii(t, db, l, i)
		payloads[i], _ = db.ReadByKey(keys[i])
	}

	if err := db.Delete(keys[2], payloads[2]); err != nil {
		t.Fatalf("Delete(a2): %v", err)
	}

	got := scan(t, db)
	want := []string{keys[0], keys[1], keys[3], keys[4]}
	if len(got) != len(want) {
		t.Fatalf("post-delete scan = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("post-delete scan[%d] = %q, want %q", i, got[i], want[i])
		}
	}

	if _, err := db.ReadByKey(keys[2]); !errors.Is(err, ErrNoSuchKey) {
		t.Fatalf("ReadByKey(a2) after delete: err = %v, want NoSuchKey", err)
	}

	newPayload := make([]byte, db.DataLen())
	copy(newPayload, []byte{0xAA, 0xBB, 0xCC, 0xDD})
	if err := db.WriteNew(keys[2], newPayload); err != nil {
		t.Fatalf("WriteNew(a2) reinsert: %v", err)
	}

	got = scan(t, db)
	if len(got) != len(labels) {
		t.Fatalf("post-reinsert scan = %v, want %d keys", got, len(labels))
	}
	for i := range keys {
		if got[i] != keys[i] {
			t.Fatalf("post-reinsert scan[%d] = %q, want %q", i, got[i], keys[i])
		}
	}

	data, err := db.ReadByKey(keys[2])
	if err != nil {
		t.Fatalf("ReadByKey(a2) after reinsert: %v", err)
	}
	if !bytes.Equal(data, newPayload) {
		t.Fatalf("ReadByKey(a2) after reinsert = %v, want %v", data, newPayload)
	}
}

// Scenario 5: enough ascending inserts to start a new regular block; the
// file must survive a close/reopen and still resolve every key.
func TestScenarioNewRegularBlock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "t.db")
	db, err := Create(path, 8, 4, 4, 4)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	labels := []string{"a0", "a1", "a2", "a3", "a4"}
	keys := make([]string, len(labels))
	for i, l := range labels {
		keys[i] = insertAscii(t, db, l, i)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	db2, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db2.Close()

	for _, k := range keys {
		if _, err := db2.ReadByKey(k); err != nil {
			t.Fatalf("ReadByKey(%q) after reopen: %v", k, err)
		}
	}
	if db2.Nrecords() != uint64(len(keys)) {
		t.Fatalf("Nrecords() after reopen = %d, want %d", db2.Nrecords(), len(keys))
	}
}

// Scenario 6: with a small regular range, enough ascending inserts must
// spill into an overflow block (block index >= nBlocks).
func TestScenarioOverflowBlock(t *testing.T) {
	db := mustCreate(t, 8, 4, 4, 2)

	var keys []string
	for i := 0; i < 9; i++ {
		keys = append(keys, insertAscii(t, db, "k"+string(rune('0'+i)), i))
	}

	if db.CurBlocks() <= db.header.Nblocks {
		t.Fatalf("CurBlocks() = %d, want > Nblocks (%d) after overflow", db.CurBlocks(), db.header.Nblocks)
	}

	for _, k := range keys {
		if _, err := db.ReadByKey(k); err != nil {
			t.Fatalf("ReadByKey(%q): %v", k, err)
		}
	}
}

func TestWriteNewRejectsNullKey(t *testing.T) {
	db := mustCreate(t, 8, 4, 4, 4)
	if err := db.WriteNew("", make([]byte, 4)); !errors.Is(err, ErrNullKey) {
		t.Fatalf("WriteNew(\"\"): err = %v, want NullKey", err)
	}
}

func TestWriteNewRejectsDuplicate(t *testing.T) {
	db := mustCreate(t, 8, 4, 4, 4)
	k := padKey("dup", 8)
	v := make([]byte, 4)
	if err := db.WriteNew(k, v); err != nil {
		t.Fatalf("first WriteNew: %v", err)
	}
	if err := db.WriteNew(k, v); !errors.Is(err, ErrRecordExists) {
		t.Fatalf("duplicate WriteNew: err = %v, want RecordExists", err)
	}
}

func TestDeleteRejectsDataMismatch(t *testing.T) {
	db := mustCreate(t, 8, 4, 4, 4)
	k := padKey("k", 8)
	v := []byte{1, 2, 3, 4}
	if err := db.WriteNew(k, v); err != nil {
		t.Fatalf("WriteNew: %v", err)
	}
	wrong := []byte{9, 9, 9, 9}
	if err := db.Delete(k, wrong); !errors.Is(err, ErrDataMismatch) {
		t.Fatalf("Delete with wrong payload: err = %v, want DataMismatch", err)
	}
}

func TestCreateRejectsBadKeyLen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "t.db")
	if _, err := Create(path, 4, 4, 4, 4); !errors.Is(err, ErrKeyLen) {
		t.Fatalf("Create with keyLen=4: err = %v, want KeyLen", err)
	}
	if _, err := Create(path, 41, 4, 4, 4); !errors.Is(err, ErrKeyLen) {
		t.Fatalf("Create with keyLen=41: err = %v, want KeyLen", err)
	}
}

func TestCreateRejectsExistingPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "t.db")
	db, err := Create(path, 8, 4, 4, 4)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	db.Close()

	if _, err := Create(path, 8, 4, 4, 4); !errors.Is(err, ErrFileExists) {
		t.Fatalf("Create on existing path: err = %v, want FileExists", err)
	}
}

func TestOpenMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.db")
	if _, err := Open(path); !errors.Is(err, ErrNoSuchFile) {
		t.Fatalf("Open missing file: err = %v, want NoSuchFile", err)
	}
}

func TestOpenBadMagic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.db")
	if err := writeGarbageFile(path); err != nil {
		t.Fatalf("writeGarbageFile: %v", err)
	}
	if _, err := Open(path); !errors.Is(err, ErrBadMagic) {
		t.Fatalf("Open bad-magic file: err = %v, want BadMagic", err)
	}
}

func TestUpdateReplacesValue(t *testing.T) {
	db := mustCreate(t, 8, 4, 4, 4)
	k := padKey("u", 8)
	v1 := []byte{1, 1, 1, 1}
	v2 := []byte{2, 2, 2, 2}
	if err := db.WriteNew(k, v1); err != nil {
		t.Fatalf("WriteNew: %v", err)
	}
	if err := db.Update(k, v1, v2); err != nil {
		t.Fatalf("Update: %v", err)
	}
	got, err := db.ReadByKey(k)
	if err != nil {
		t.Fatalf("ReadByKey after Update: %v", err)
	}
	if !bytes.Equal(got, v2) {
		t.Fatalf("ReadByKey after Update = %v, want %v", got, v2)
	}
}

func TestFileStatsCounts(t *testing.T) {
	db := mustCreate(t, 8, 4, 4, 4)
	for i := 0; i < 3; i++ {
		insertAscii(t, db, "s"+string(rune('0'+i)), i)
	}
	stats, err := db.FileStats()
	if err != nil {
		t.Fatalf("FileStats: %v", err)
	}
	if stats.UsedRecords < 3 {
		t.Fatalf("UsedRecords = %d, want >= 3", stats.UsedRecords)
	}
}
