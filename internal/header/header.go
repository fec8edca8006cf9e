package header

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"unicode/utf8"

	"github.com/meigma/asar/internal/asartype"
	"github.com/meigma/asar/internal/sizing"
)

const (
	// PrologueSize is the size of the four u32 fields preceding the JSON.
	PrologueSize = 16

	// sizePickleLen is the payload length of the leading size pickle.
	sizePickleLen = 4

	// pickleAlign is the Pickle payload alignment.
	pickleAlign = 4

	// DefaultMaxHeaderSize bounds the JSON index read into memory (64MB).
	DefaultMaxHeaderSize = 64 << 20
)

// Header is a decoded header block.
type Header struct {
	// SizePickle is the payload length of the size pickle (always 4).
	SizePickle uint32

	// HeaderPickle is the total size of the header pickle.
	HeaderPickle uint32

	// HeaderPayload is the payload size of the header pickle.
	HeaderPayload uint32

	// StringSize is the length of the JSON index in bytes.
	StringSize uint32

	// DataStart is the absolute offset of the data region.
	DataStart int64

	// Root is the decoded file tree.
	Root *Directory
}

// Decode reads the header block from src.
//
// maxHeaderSize limits the JSON length; 0 disables the limit. Decode never
// reads past the header block and never mutates src.
func Decode(src asartype.ByteSource, maxHeaderSize int64) (*Header, error) {
	total := src.Size()
	if total < PrologueSize {
		return nil, corrupt(0, fmt.Errorf("archive is %d bytes, shorter than the %d byte prologue", total, PrologueSize))
	}

	var prologue [PrologueSize]byte
	if err := readFull(src, prologue[:], 0); err != nil {
		return nil, err
	}

	h := &Header{
		SizePickle:    binary.LittleEndian.Uint32(prologue[0:4]),
		HeaderPickle:  binary.LittleEndian.Uint32(prologue[4:8]),
		HeaderPayload: binary.LittleEndian.Uint32(prologue[8:12]),
		StringSize:    binary.LittleEndian.Uint32(prologue[12:16]),
	}
	if err := h.validate(total); err != nil {
		return nil, err
	}
	if maxHeaderSize > 0 && int64(h.StringSize) > maxHeaderSize {
		return nil, corrupt(12, fmt.Errorf("header is %d bytes, limit is %d: %w", h.StringSize, maxHeaderSize, asartype.ErrSizeOverflow))
	}

	data := make([]byte, h.StringSize)
	if err := readFull(src, data, PrologueSize); err != nil {
		return nil, err
	}
	if !utf8.Valid(data) {
		return nil, asartype.NewFormatError(asartype.InvalidHeaderJSON, "", PrologueSize+int64(firstInvalidUTF8(data)), errors.New("header is not valid UTF-8"))
	}

	root, err := decodeTree(data, PrologueSize)
	if err != nil {
		return nil, err
	}
	h.Root = root
	return h, nil
}

// validate checks that the prologue fields are mutually consistent and
// fit in an archive of total bytes. It sets DataStart on success.
func (h *Header) validate(total int64) error {
	if h.SizePickle != sizePickleLen {
		return corrupt(0, fmt.Errorf("size pickle length is %d, want %d", h.SizePickle, sizePickleLen))
	}
	if uint64(h.HeaderPayload)+4 != uint64(h.HeaderPickle) {
		return corrupt(8, fmt.Errorf("header payload size %d does not match pickle size %d", h.HeaderPayload, h.HeaderPickle))
	}
	if h.HeaderPayload%pickleAlign != 0 {
		return corrupt(8, fmt.Errorf("header payload size %d is not %d-byte aligned", h.HeaderPayload, pickleAlign))
	}
	used := uint64(h.StringSize) + 4
	if used > uint64(h.HeaderPayload) {
		return corrupt(12, fmt.Errorf("header string of %d bytes exceeds payload of %d bytes", h.StringSize, h.HeaderPayload))
	}
	if uint64(h.HeaderPayload)-used >= pickleAlign {
		return corrupt(12, fmt.Errorf("header payload of %d bytes has %d bytes of padding", h.HeaderPayload, uint64(h.HeaderPayload)-used))
	}
	dataStart := int64(h.HeaderPickle) + 8
	if dataStart > total {
		return corrupt(4, fmt.Errorf("header block ends at %d, past the archive end %d", dataStart, total))
	}
	h.DataStart = dataStart
	return nil
}

// Encode renders the header block for root. The returned bytes are
// immediately followed by the data region in an archive.
func Encode(root *Directory) ([]byte, error) {
	data, err := encodeTree(root)
	if err != nil {
		return nil, err
	}
	if uint64(len(data)) > uint64(^uint32(0))-16 {
		return nil, fmt.Errorf("header: %w", asartype.ErrSizeOverflow)
	}

	stringSize := uint32(len(data))
	payload := uint32(sizing.AlignUp(uint64(stringSize)+4, pickleAlign))
	out := make([]byte, PrologueSize+int(payload)-4)
	binary.LittleEndian.PutUint32(out[0:4], sizePickleLen)
	binary.LittleEndian.PutUint32(out[4:8], payload+4)
	binary.LittleEndian.PutUint32(out[8:12], payload)
	binary.LittleEndian.PutUint32(out[12:16], stringSize)
	copy(out[PrologueSize:], data)
	return out, nil
}

// readFull reads exactly len(p) bytes at off. A short read is a corrupt
// prologue; any other failure is an I/O error.
func readFull(src io.ReaderAt, p []byte, off int64) error {
	n, err := src.ReadAt(p, off)
	if n == len(p) {
		return nil
	}
	if err == nil || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return corrupt(off+int64(n), fmt.Errorf("short read (%d of %d bytes)", n, len(p)))
	}
	return asartype.NewIOError("read", "header", err)
}

func corrupt(offset int64, err error) error {
	return asartype.NewFormatError(asartype.CorruptPrologue, "", offset, err)
}

func firstInvalidUTF8(data []byte) int {
	for i := 0; i < len(data); {
		r, size := utf8.DecodeRune(data[i:])
		if r == utf8.RuneError && size <= 1 {
			return i
		}
		i += size
	}
	return len(data)
}
