package isam

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"io"
)

// Magic identifies an ISAM file. Version must currently be 0; any other
// value is rejected so a future format change has somewhere to branch.
const (
	Magic          uint32 = 0x15A8F17E
	CurrentVersion uint32 = 0
)

// FileState bit flags.
const (
	StateUpdating uint64 = 1024
)

// FileHeader is the fixed region at offset 0: magic, version, geometry,
// counts, state, and the cached identity/value of the maximum key so a
// fresh open doesn't need a block read just to report MaxKey().
//
// The trailing CRC32 is new relative to the source format (which has no
// header checksum at all): Encode assembles the fixed fields and MaxKey
// in a buffer, computes crc32.IEEE over that buffer, and writes the sum
// right after it, since the header is a fixed region written whole each
// time. It only ever covers this fixed header, never block payloads —
// block size must stay exactly NrecPB*RecordLen.
type FileHeader struct {
	Magic     uint32
	Version   uint32
	Nblocks   uint64
	NrecPB    uint64
	KeyLen    uint64
	DataLen   uint64
	Nrecords  uint64
	DataStart uint64
	RecordLen uint64
	CurBlocks uint64
	MaxKeyRec uint64
	FileState uint64
	MaxKey    []byte // KeyLen bytes, meaningful once Nrecords > 0
}

// fixedFieldsSize is the byte size of every FileHeader field up to but
// excluding MaxKey (which is KeyLen bytes, known only once KeyLen itself
// has been read).
const fixedFieldsSize = 4 + 4 + 8*10

// HeaderSize returns the total on-disk size of a header with the given
// key length, including the trailing CRC32.
func HeaderSize(keyLen int) int {
	return fixedFieldsSize + keyLen + 4
}

func (h *FileHeader) Updating() bool { return h.FileState&StateUpdating != 0 }
func (h *FileHeader) SetUpdating()   { h.FileState |= StateUpdating }
func (h *FileHeader) ClearUpdating() { h.FileState &^= StateUpdating }

// Encode writes the header followed by a CRC32 over everything written so
// far, matching HeaderSize(len(h.MaxKey)) bytes exactly.
func (h *FileHeader) Encode(w io.Writer) error {
	var buf bytes.Buffer
	fields := []any{
		h.Magic, h.Version, h.Nblocks, h.NrecPB, h.KeyLen, h.DataLen,
		h.Nrecords, h.DataStart, h.RecordLen, h.CurBlocks, h.MaxKeyRec, h.FileState,
	}
	for _, f := range fields {
		if err := binary.Write(&buf, binary.LittleEndian, f); err != nil {
			return err
		}
	}
	keyBuf := make([]byte, h.KeyLen)
	copy(keyBuf, h.MaxKey)
	buf.Write(keyBuf)

	if _, err := w.Write(buf.Bytes()); err != nil {
		return err
	}
	sum := crc32.ChecksumIEEE(buf.Bytes())
	return binary.Write(w, binary.LittleEndian, sum)
}

// DecodeHeader reads and validates a header written by Encode. Magic and
// version mismatches are reported before the CRC is even checked, since a
// non-ISAM file's "CRC" is meaningless.
func DecodeHeader(r io.Reader) (*FileHeader, error) {
	var raw bytes.Buffer
	tee := io.TeeReader(r, &raw)

	h := &FileHeader{}
	if err := binary.Read(tee, binary.LittleEndian, &h.Magic); err != nil {
		return nil, newErr(ReadError, "reading magic: %v", err)
	}
	if h.Magic != Magic {
		return nil, ErrBadMagic
	}
	if err := binary.Read(tee, binary.LittleEndian, &h.Version); err != nil {
		return nil, newErr(ReadError, "reading version: %v", err)
	}
	if h.Version != CurrentVersion {
		return nil, ErrBadVersion
	}

	fields := []*uint64{
		&h.Nblocks, &h.NrecPB, &h.KeyLen, &h.DataLen,
		&h.Nrecords, &h.DataStart, &h.RecordLen, &h.CurBlocks, &h.MaxKeyRec, &h.FileState,
	}
	for _, f := range fields {
		if err := binary.Read(tee, binary.LittleEndian, f); err != nil {
			return nil, newErr(ReadError, "reading header field: %v", err)
		}
	}

	h.MaxKey = make([]byte, h.KeyLen)
	if _, err := io.ReadFull(tee, h.MaxKey); err != nil {
		return nil, newErr(ReadError, "reading cached max key: %v", err)
	}

	var wantSum uint32
	if err := binary.Read(r, binary.LittleEndian, &wantSum); err != nil {
		return nil, newErr(ReadError, "reading header CRC: %v", err)
	}
	if gotSum := crc32.ChecksumIEEE(raw.Bytes()); gotSum != wantSum {
		return nil, ErrHeaderError
	}

	return h, nil
}
