package asar

import (
	"errors"

	"github.com/meigma/asar/internal/asartype"
)

// Error types re-exported from internal/asartype.
type (
	// FormatError reports an archive that is malformed or crafted.
	FormatError = asartype.FormatError

	// FormatErrorKind classifies a FormatError.
	FormatErrorKind = asartype.FormatErrorKind

	// IOError reports a failure from the byte source or the sink.
	IOError = asartype.IOError

	// IOErrorKind classifies an IOError.
	IOErrorKind = asartype.IOErrorKind
)

// FormatError kinds.
const (
	CorruptPrologue   = asartype.CorruptPrologue
	InvalidHeaderJSON = asartype.InvalidHeaderJSON
	OffsetOutOfRange  = asartype.OffsetOutOfRange
	SizeMismatch      = asartype.SizeMismatch
	UnsafePath        = asartype.UnsafePath
	IntegrityMismatch = asartype.IntegrityMismatch
)

// IOError kinds.
const (
	Transient            = asartype.Transient
	NotFound             = asartype.NotFound
	PermissionDenied     = asartype.PermissionDenied
	AlreadyExists        = asartype.AlreadyExists
	UnsupportedOperation = asartype.UnsupportedOperation
)

// Sentinel errors re-exported from internal/asartype.
var (
	ErrCorruptPrologue    = asartype.ErrCorruptPrologue
	ErrInvalidHeaderJSON  = asartype.ErrInvalidHeaderJSON
	ErrOffsetOutOfRange   = asartype.ErrOffsetOutOfRange
	ErrSizeMismatch       = asartype.ErrSizeMismatch
	ErrUnsafePath         = asartype.ErrUnsafePath
	ErrIntegrityMismatch  = asartype.ErrIntegrityMismatch
	ErrNotFound           = asartype.ErrNotFound
	ErrNotAFile           = asartype.ErrNotAFile
	ErrClosed             = asartype.ErrClosed
	ErrSizeOverflow       = asartype.ErrSizeOverflow
	ErrSymlinkUnsupported = asartype.ErrSymlinkUnsupported
)

// Sentinel errors specific to the asar package.
var (
	// ErrLinkLoop is returned when resolving a path follows too many links.
	ErrLinkLoop = errors.New("asar: too many levels of links")

	// ErrNoUnpackedDir is returned when packing selects files for the
	// unpacked directory but none was configured.
	ErrNoUnpackedDir = errors.New("asar: no unpacked directory configured")
)
