package asartype

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/containerd/errdefs"
)

// Sentinel errors for archive operations.
var (
	// ErrCorruptPrologue is returned when the binary size fields are inconsistent.
	ErrCorruptPrologue = errors.New("asar: corrupt prologue")

	// ErrInvalidHeaderJSON is returned when the header is not a valid index.
	ErrInvalidHeaderJSON = errors.New("asar: invalid header JSON")

	// ErrOffsetOutOfRange is returned when a file range exceeds the archive.
	ErrOffsetOutOfRange = errors.New("asar: offset out of range")

	// ErrSizeMismatch is returned when a file size disagrees with its metadata.
	ErrSizeMismatch = errors.New("asar: size mismatch")

	// ErrUnsafePath is returned for names or link targets that escape the root.
	ErrUnsafePath = errors.New("asar: unsafe path")

	// ErrIntegrityMismatch is returned when content does not match its hashes.
	ErrIntegrityMismatch = errors.New("asar: integrity mismatch")

	// ErrNotFound is returned when a path does not exist in the archive.
	ErrNotFound = fmt.Errorf("asar: entry not found: %w", fs.ErrNotExist)

	// ErrNotAFile is returned when a path names a directory where a file is required.
	ErrNotAFile = errors.New("asar: not a file")

	// ErrClosed is returned when the archive was already closed.
	ErrClosed = fmt.Errorf("asar: archive closed: %w", fs.ErrClosed)

	// ErrSizeOverflow is returned when byte counts exceed supported limits.
	ErrSizeOverflow = errors.New("asar: size overflow")

	// ErrSymlinkUnsupported is returned by sinks that cannot create symlinks.
	ErrSymlinkUnsupported = fmt.Errorf("asar: symlinks not supported: %w", errors.ErrUnsupported)
)

// FormatErrorKind classifies a malformed or hostile archive.
type FormatErrorKind uint8

const (
	CorruptPrologue FormatErrorKind = iota + 1
	InvalidHeaderJSON
	OffsetOutOfRange
	SizeMismatch
	UnsafePath
	IntegrityMismatch
)

// String returns the name of the kind.
func (k FormatErrorKind) String() string {
	switch k {
	case CorruptPrologue:
		return "corrupt prologue"
	case InvalidHeaderJSON:
		return "invalid header JSON"
	case OffsetOutOfRange:
		return "offset out of range"
	case SizeMismatch:
		return "size mismatch"
	case UnsafePath:
		return "unsafe path"
	case IntegrityMismatch:
		return "integrity mismatch"
	default:
		return "unknown format error"
	}
}

// Sentinel returns the sentinel error matching the kind.
func (k FormatErrorKind) Sentinel() error {
	switch k {
	case CorruptPrologue:
		return ErrCorruptPrologue
	case InvalidHeaderJSON:
		return ErrInvalidHeaderJSON
	case OffsetOutOfRange:
		return ErrOffsetOutOfRange
	case SizeMismatch:
		return ErrSizeMismatch
	case UnsafePath:
		return ErrUnsafePath
	case IntegrityMismatch:
		return ErrIntegrityMismatch
	default:
		return nil
	}
}

// NoOffset marks a FormatError without a meaningful byte offset.
const NoOffset int64 = -1

// FormatError reports an archive that is malformed or crafted.
//
// errors.Is matches both the kind's sentinel (e.g. ErrUnsafePath) and Err.
type FormatError struct {
	Kind FormatErrorKind

	// Path is the archive-relative path of the offending entry, if any.
	Path string

	// Offset is the absolute byte offset where the problem was detected,
	// or NoOffset.
	Offset int64

	// Err is an optional underlying cause.
	Err error
}

// NewFormatError constructs a FormatError.
func NewFormatError(kind FormatErrorKind, path string, offset int64, err error) *FormatError {
	return &FormatError{Kind: kind, Path: path, Offset: offset, Err: err}
}

// Error implements error.
func (e *FormatError) Error() string {
	var b strings.Builder
	b.WriteString("asar: ")
	b.WriteString(e.Kind.String())
	if e.Path != "" {
		fmt.Fprintf(&b, " %q", e.Path)
	}
	if e.Offset >= 0 {
		fmt.Fprintf(&b, " at offset %d", e.Offset)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap returns the kind sentinel and the underlying cause.
func (e *FormatError) Unwrap() []error {
	errs := make([]error, 0, 2)
	if s := e.Kind.Sentinel(); s != nil {
		errs = append(errs, s)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// IOErrorKind classifies failures reported by a byte source or sink.
type IOErrorKind uint8

const (
	// Transient covers every failure not classified below.
	Transient IOErrorKind = iota
	NotFound
	PermissionDenied
	AlreadyExists
	UnsupportedOperation
)

// String returns the name of the kind.
func (k IOErrorKind) String() string {
	switch k {
	case NotFound:
		return "not found"
	case PermissionDenied:
		return "permission denied"
	case AlreadyExists:
		return "already exists"
	case UnsupportedOperation:
		return "unsupported operation"
	default:
		return "transient"
	}
}

// IOError reports a failure from the byte source or the sink.
//
// errors.Is matches the wrapped error as well as the containerd errdefs
// class of the kind (errdefs.ErrNotFound, errdefs.ErrPermissionDenied,
// errdefs.ErrAlreadyExists, errdefs.ErrNotImplemented).
type IOError struct {
	// Op is the operation that failed (e.g. "mkdir", "write", "symlink").
	Op string

	// Path is the destination or archive path involved.
	Path string

	Err error
}

// NewIOError constructs an IOError.
func NewIOError(op, path string, err error) *IOError {
	return &IOError{Op: op, Path: path, Err: err}
}

// Error implements error.
func (e *IOError) Error() string {
	return "asar: " + e.Op + " " + e.Path + ": " + e.Err.Error()
}

// Unwrap returns the underlying error.
func (e *IOError) Unwrap() error {
	return e.Err
}

// Kind classifies the underlying error.
func (e *IOError) Kind() IOErrorKind {
	switch {
	case errors.Is(e.Err, fs.ErrNotExist) || errdefs.IsNotFound(e.Err):
		return NotFound
	case errors.Is(e.Err, fs.ErrPermission) || errdefs.IsPermissionDenied(e.Err):
		return PermissionDenied
	case errors.Is(e.Err, fs.ErrExist) || errdefs.IsAlreadyExists(e.Err):
		return AlreadyExists
	case errors.Is(e.Err, errors.ErrUnsupported) || errdefs.IsNotImplemented(e.Err):
		return UnsupportedOperation
	default:
		return Transient
	}
}

// Is reports whether target is the errdefs class of this error's kind.
func (e *IOError) Is(target error) bool {
	switch {
	case errdefs.IsNotFound(target):
		return e.Kind() == NotFound
	case errdefs.IsPermissionDenied(target):
		return e.Kind() == PermissionDenied
	case errdefs.IsAlreadyExists(target):
		return e.Kind() == AlreadyExists
	case errdefs.IsNotImplemented(target):
		return e.Kind() == UnsupportedOperation
	default:
		return false
	}
}
