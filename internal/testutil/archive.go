package testutil

import (
	"bytes"
	"encoding/binary"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/meigma/asar/internal/header"
	"github.com/meigma/asar/internal/integrity"
)

// ArchiveBuilder assembles archives in memory.
//
// Paths are slash-separated and parent directories are created implicitly.
// Entries keep the order in which they were added.
type ArchiveBuilder struct {
	tb        testing.TB
	root      *header.Directory
	data      bytes.Buffer
	blockSize int64
}

// NewArchiveBuilder returns an empty builder.
func NewArchiveBuilder(tb testing.TB) *ArchiveBuilder {
	tb.Helper()
	return &ArchiveBuilder{tb: tb, root: header.NewDirectory()}
}

// WithIntegrity records SHA256 integrity for files added afterwards.
func (b *ArchiveBuilder) WithIntegrity(blockSize int64) *ArchiveBuilder {
	b.blockSize = blockSize
	return b
}

// Dir adds a directory and any missing parents.
func (b *ArchiveBuilder) Dir(p string) *ArchiveBuilder {
	b.tb.Helper()
	b.mkdirAll(strings.Split(p, "/"))
	return b
}

// File adds a regular file.
func (b *ArchiveBuilder) File(p string, content []byte) *ArchiveBuilder {
	b.tb.Helper()
	b.add(p, b.file(content, false))
	return b
}

// Executable adds a file with the executable flag set.
func (b *ArchiveBuilder) Executable(p string, content []byte) *ArchiveBuilder {
	b.tb.Helper()
	b.add(p, b.file(content, true))
	return b
}

// Unpacked adds a file whose content lives outside the archive.
func (b *ArchiveBuilder) Unpacked(p string, size uint64) *ArchiveBuilder {
	b.tb.Helper()
	b.add(p, &header.File{Size: size, Unpacked: true})
	return b
}

// Link adds a link with an archive-root-relative target.
func (b *ArchiveBuilder) Link(p, target string) *ArchiveBuilder {
	b.tb.Helper()
	b.add(p, &header.Link{Target: target})
	return b
}

// Node adds a prebuilt node, e.g. a file with a forged offset.
func (b *ArchiveBuilder) Node(p string, n header.Node) *ArchiveBuilder {
	b.tb.Helper()
	b.add(p, n)
	return b
}

// Bytes returns the encoded archive.
func (b *ArchiveBuilder) Bytes() []byte {
	b.tb.Helper()
	head, err := header.Encode(b.root)
	require.NoError(b.tb, err)
	return append(head, b.data.Bytes()...)
}

// Source returns the encoded archive as a MockByteSource.
func (b *ArchiveBuilder) Source() *MockByteSource {
	b.tb.Helper()
	return NewMockByteSource(b.Bytes())
}

// RawArchive frames a hand-written JSON index as a header block followed
// by data. It is used for archives no well-behaved packer would produce.
func RawArchive(index string, data []byte) []byte {
	payload := (len(index) + 4 + 3) &^ 3
	out := make([]byte, header.PrologueSize+payload-4)
	binary.LittleEndian.PutUint32(out[0:4], 4)
	binary.LittleEndian.PutUint32(out[4:8], uint32(payload+4))    //nolint:gosec // test archives are small
	binary.LittleEndian.PutUint32(out[8:12], uint32(payload))     //nolint:gosec // test archives are small
	binary.LittleEndian.PutUint32(out[12:16], uint32(len(index))) //nolint:gosec // test archives are small
	copy(out[header.PrologueSize:], index)
	return append(out, data...)
}

func (b *ArchiveBuilder) file(content []byte, executable bool) *header.File {
	f := &header.File{
		Size:       uint64(len(content)),
		Offset:     uint64(b.data.Len()),
		Executable: executable,
	}
	if b.blockSize > 0 {
		in, _, err := integrity.Compute(bytes.NewReader(content), b.blockSize)
		require.NoError(b.tb, err)
		f.Integrity = in
	}
	b.data.Write(content)
	return f
}

func (b *ArchiveBuilder) add(p string, n header.Node) {
	b.tb.Helper()
	segs := strings.Split(p, "/")
	parent := b.mkdirAll(segs[:len(segs)-1])
	require.NoError(b.tb, parent.Add(segs[len(segs)-1], n))
}

func (b *ArchiveBuilder) mkdirAll(segs []string) *header.Directory {
	b.tb.Helper()
	dir := b.root
	for _, seg := range segs {
		if seg == "" {
			continue
		}
		child, ok := dir.Lookup(seg)
		if !ok {
			next := header.NewDirectory()
			require.NoError(b.tb, dir.Add(seg, next))
			dir = next
			continue
		}
		next, ok := child.(*header.Directory)
		require.True(b.tb, ok, "%s is not a directory", seg)
		dir = next
	}
	return dir
}
