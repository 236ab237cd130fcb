package isam

import "fmt"

// Kind enumerates the fixed error taxonomy. Values are fixed by order, not
// by name, so they must never be reordered or have entries removed.
type Kind int

const (
	NoError Kind = iota
	WriteFail
	KeyLen
	FileExists
	LinkExists
	OpenFail
	NoSuchFile
	OpenCount
	IndexError
	ReadError
	BadMagic
	BadVersion
	HeaderError
	OpenForUpdate
	IdentInvalid
	NoSuchKey
	NullKey
	DataMismatch
	RecordExists
	SeekError
	SOF
	EOF
)

// messages holds perror's fixed kind-to-text mapping. Index i corresponds
// to Kind i; keep this in lockstep with the const block above.
var messages = [...]string{
	NoError:       "no error",
	WriteFail:     "write failed",
	KeyLen:        "key length out of range",
	FileExists:    "file already exists",
	LinkExists:    "link already exists",
	OpenFail:      "open failed",
	NoSuchFile:    "no such file",
	OpenCount:     "too many open files",
	IndexError:    "index error",
	ReadError:     "read failed",
	BadMagic:      "bad magic number",
	BadVersion:    "bad version",
	HeaderError:   "header corrupt",
	OpenForUpdate: "file open for update",
	IdentInvalid:  "invalid identifier",
	NoSuchKey:     "no such key",
	NullKey:       "key must not be empty",
	DataMismatch:  "data does not match stored value",
	RecordExists:  "record already exists",
	SeekError:     "seek failed",
	SOF:           "start of file",
	EOF:           "end of file",
}

// Perror is a pure function mapping an error Kind to its fixed message,
// mirroring the C library's perror(3)-style last-error text without any
// process-wide state: callers reach it through an *Error's Kind, not
// through a side channel.
func Perror(k Kind) string {
	if k < 0 || int(k) >= len(messages) {
		return "unknown error"
	}
	return messages[k]
}

// Error is the engine's error type: a fixed Kind plus a human-readable
// detail. errors.Is matches on Kind alone, so callers can test for e.g.
// isam.NoSuchKey without caring about the detail text.
type Error struct {
	Kind   Kind
	Detail string
}

func (e *Error) Error() string {
	if e.Detail == "" {
		return Perror(e.Kind)
	}
	return fmt.Sprintf("%s: %s", Perror(e.Kind), e.Detail)
}

// Is implements errors.Is support: a sentinel *Error{Kind: k} (no Detail)
// matches any *Error with the same Kind, letting callers write
// errors.Is(err, isam.ErrNoSuchKey).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

func newErr(k Kind, format string, args ...any) *Error {
	return &Error{Kind: k, Detail: fmt.Sprintf(format, args...)}
}

// Sentinels for use with errors.Is(err, isam.ErrXxx).
var (
	ErrWriteFail     = &Error{Kind: WriteFail}
	ErrKeyLen        = &Error{Kind: KeyLen}
	ErrFileExists    = &Error{Kind: FileExists}
	ErrLinkExists    = &Error{Kind: LinkExists}
	ErrOpenFail      = &Error{Kind: OpenFail}
	ErrNoSuchFile    = &Error{Kind: NoSuchFile}
	ErrOpenCount     = &Error{Kind: OpenCount}
	ErrIndexError    = &Error{Kind: IndexError}
	ErrReadError     = &Error{Kind: ReadError}
	ErrBadMagic      = &Error{Kind: BadMagic}
	ErrBadVersion    = &Error{Kind: BadVersion}
	ErrHeaderError   = &Error{Kind: HeaderError}
	ErrOpenForUpdate = &Error{Kind: OpenForUpdate}
	ErrIdentInvalid  = &Error{Kind: IdentInvalid}
	ErrNoSuchKey     = &Error{Kind: NoSuchKey}
	ErrNullKey       = &Error{Kind: NullKey}
	ErrDataMismatch  = &Error{Kind: DataMismatch}
	ErrRecordExists  = &Error{Kind: RecordExists}
	ErrSeekError     = &Error{Kind: SeekError}
	ErrSOF           = &Error{Kind: SOF}
	ErrEOF           = &Error{Kind: EOF}
)

// lastError is engine-local rather than process-global (spec.md 5: the
// file handle, cache and index are "exclusively owned by the engine
// instance"); it is exposed on *DB as LastError instead of a
// package-level cell, but setLast/clearLast below give every internal
// call site the same "every failing operation sets it, every successful
// one clears it" discipline the original process-wide cell had.
func (db *DB) setLast(err *Error) *Error {
	db.lastError = err
	return err
}

func (db *DB) clearLast() {
	db.lastError = &Error{Kind: NoError}
}

// LastError returns the Kind set by the most recently completed
// operation (NoError after a successful one).
func (db *DB) LastError() Kind {
	if db.lastError == nil {
		return NoError
	}
	return db.lastError.Kind
}
