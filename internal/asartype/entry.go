package asartype

import "strings"

// Kind identifies the type of a resolved archive entry.
type Kind uint8

const (
	KindDirectory Kind = iota + 1
	KindFile
	KindLink
)

// String returns the human-readable name of the kind.
func (k Kind) String() string {
	switch k {
	case KindDirectory:
		return "directory"
	case KindFile:
		return "file"
	case KindLink:
		return "link"
	default:
		return "unknown"
	}
}

// Entry is a resolved archive entry.
//
// Entries are produced by flattening the header tree in pre-order. They are
// plain values; the Integrity pointer is shared and must be treated as
// read-only.
type Entry struct {
	// Path is the slash-separated path relative to the archive root (e.g., "sub/b.txt").
	Path string

	// Kind is the entry type.
	Kind Kind

	// Offset is the absolute byte offset of the file content in the archive.
	// Only meaningful for embedded files (see HasRange).
	Offset int64

	// Size is the file size in bytes.
	Size int64

	// Executable reports whether the file should be marked executable.
	Executable bool

	// Unpacked reports whether the file content lives outside the archive,
	// in the unpacked directory next to it.
	Unpacked bool

	// LinkTarget is the symlink text relative to the link's own directory.
	LinkTarget string

	// LinkPath is the link target relative to the archive root.
	LinkPath string

	// Integrity is the optional integrity metadata of a file.
	Integrity *Integrity
}

// Segments returns the path split into its components.
func (e *Entry) Segments() []string {
	if e.Path == "" {
		return nil
	}
	return strings.Split(e.Path, "/")
}

// Name returns the last path segment.
func (e *Entry) Name() string {
	if i := strings.LastIndexByte(e.Path, '/'); i >= 0 {
		return e.Path[i+1:]
	}
	return e.Path
}

// HasRange reports whether the entry content is stored in the data region.
func (e *Entry) HasRange() bool {
	return e.Kind == KindFile && !e.Unpacked
}

// End returns the absolute end offset (exclusive) of the content range.
func (e *Entry) End() int64 {
	return e.Offset + e.Size
}

// Integrity describes per-file hashes recorded by the packer.
type Integrity struct {
	// Algorithm names the hash function. Only "SHA256" is defined.
	Algorithm string `json:"algorithm"`

	// Hash is the hex-encoded hash of the whole file.
	Hash string `json:"hash"`

	// BlockSize is the size of each hashed block in bytes.
	BlockSize int64 `json:"blockSize"`

	// Blocks holds the hex-encoded hash of each block, in order.
	Blocks []string `json:"blocks"`
}

// AlgorithmSHA256 is the only integrity algorithm defined by the format.
const AlgorithmSHA256 = "SHA256"
