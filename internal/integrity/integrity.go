// Package integrity computes and verifies per-file block hashes.
//
// Files are hashed as a whole and in fixed-size blocks with SHA256. The
// packer records one hash per full block followed by the hash of the trailing
// (possibly empty) block.
package integrity

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/opencontainers/go-digest"

	"github.com/meigma/asar/internal/asartype"
)

// DefaultBlockSize is the block size used when packing (4MB).
const DefaultBlockSize = 4 << 20

// Compute hashes r and returns integrity metadata along with the number of
// bytes read.
func Compute(r io.Reader, blockSize int64) (*asartype.Integrity, int64, error) {
	if blockSize <= 0 {
		return nil, 0, fmt.Errorf("integrity: block size %d is not positive", blockSize)
	}

	file := digest.SHA256.Digester()
	buf := make([]byte, blockSize)
	var blocks []string
	var total int64
	for {
		n, err := io.ReadFull(r, buf)
		if n > 0 {
			_, _ = file.Hash().Write(buf[:n]) //nolint:errcheck // hash writes never fail
			total += int64(n)
		}
		switch {
		case err == nil:
			blocks = append(blocks, digest.SHA256.FromBytes(buf[:n]).Encoded())
		case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
			blocks = append(blocks, digest.SHA256.FromBytes(buf[:n]).Encoded())
			return &asartype.Integrity{
				Algorithm: asartype.AlgorithmSHA256,
				Hash:      file.Digest().Encoded(),
				BlockSize: blockSize,
				Blocks:    blocks,
			}, total, nil
		default:
			return nil, total, err
		}
	}
}

// Reader verifies content against integrity metadata as it is read.
//
// Content is released to the caller one block at a time, and only after the
// block hash matched. The whole-file hash is checked before io.EOF is
// returned. A mismatch yields a FormatError of kind IntegrityMismatch.
type Reader struct {
	r         io.Reader
	in        *asartype.Integrity
	path      string
	offset    int64 // absolute archive offset of the next block
	remaining int64
	file      digest.Digester
	buf       []byte
	pending   []byte // verified bytes not yet returned
	block     int
	err       error
}

// NewReader returns a Reader that yields exactly size bytes of r.
// path and offset are used in error reports only.
func NewReader(r io.Reader, size int64, in *asartype.Integrity, path string, offset int64) *Reader {
	bufSize := in.BlockSize
	if size < bufSize {
		bufSize = size
	}
	if bufSize < 0 {
		bufSize = 0
	}
	return &Reader{
		r:         r,
		in:        in,
		path:      path,
		offset:    offset,
		remaining: size,
		file:      digest.SHA256.Digester(),
		buf:       make([]byte, bufSize),
	}
}

// Read implements io.Reader.
func (v *Reader) Read(p []byte) (int, error) {
	for len(v.pending) == 0 {
		if v.err != nil {
			return 0, v.err
		}
		v.err = v.next()
	}
	n := copy(p, v.pending)
	v.pending = v.pending[n:]
	return n, nil
}

// next reads and verifies the next block, or finishes verification when all
// content has been read.
func (v *Reader) next() error {
	if v.remaining == 0 {
		return v.finish()
	}

	n := v.in.BlockSize
	if v.remaining < n {
		n = v.remaining
	}
	block := v.buf[:n]
	if _, err := io.ReadFull(v.r, block); err != nil {
		if errors.Is(err, io.EOF) {
			return io.ErrUnexpectedEOF
		}
		return err
	}
	if err := v.check(block); err != nil {
		return err
	}
	_, _ = v.file.Hash().Write(block) //nolint:errcheck // hash writes never fail
	v.remaining -= n
	v.offset += n
	v.pending = block
	return nil
}

// finish verifies an optional trailing empty block and the whole-file hash.
func (v *Reader) finish() error {
	if v.block < len(v.in.Blocks) {
		if err := v.check(nil); err != nil {
			return err
		}
	}
	if v.block != len(v.in.Blocks) {
		return v.mismatch(fmt.Errorf("%d blocks recorded, %d verified", len(v.in.Blocks), v.block))
	}
	if got := v.file.Digest().Encoded(); !strings.EqualFold(got, v.in.Hash) {
		return v.mismatch(fmt.Errorf("file hash %s, want %s", got, v.in.Hash))
	}
	return io.EOF
}

func (v *Reader) check(block []byte) error {
	if v.block >= len(v.in.Blocks) {
		return v.mismatch(fmt.Errorf("block %d has no recorded hash", v.block))
	}
	want := v.in.Blocks[v.block]
	if got := digest.SHA256.FromBytes(block).Encoded(); !strings.EqualFold(got, want) {
		return v.mismatch(fmt.Errorf("block %d hash %s, want %s", v.block, got, want))
	}
	v.block++
	return nil
}

func (v *Reader) mismatch(err error) error {
	return asartype.NewFormatError(asartype.IntegrityMismatch, v.path, v.offset, err)
}
