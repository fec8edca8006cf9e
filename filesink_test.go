package asar_test

import (
	"bytes"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/asar"
)

func writeOpts(content string) asar.WriteOptions {
	return asar.WriteOptions{Size: int64(len(content))}
}

func TestFileSink_WriteFile(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		direct bool
	}{
		{"temp file and rename", false},
		{"direct writes", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			dest := filepath.Join(t.TempDir(), "out")
			sink := asar.NewFileSink(dest, asar.FileSinkWithDirectWrites(tt.direct))
			defer sink.Close()

			name := filepath.Join(dest, "nested", "dir", "a.txt")
			require.NoError(t, sink.WriteFile(name, strings.NewReader("hello"), writeOpts("hello")))

			got, err := os.ReadFile(name)
			require.NoError(t, err)
			assert.Equal(t, "hello", string(got))

			entries, err := os.ReadDir(filepath.Dir(name))
			require.NoError(t, err)
			require.Len(t, entries, 1, "no temporary files must remain")
		})
	}
}

func TestFileSink_Overwrite(t *testing.T) {
	t.Parallel()

	dest := t.TempDir()
	sink := asar.NewFileSink(dest)
	defer sink.Close()

	name := filepath.Join(dest, "a.txt")
	require.NoError(t, os.WriteFile(name, []byte("old"), 0o644))

	err := sink.WriteFile(name, strings.NewReader("new"), writeOpts("new"))
	require.ErrorIs(t, err, fs.ErrExist)
	got, err := os.ReadFile(name)
	require.NoError(t, err)
	assert.Equal(t, "old", string(got))

	opts := writeOpts("new")
	opts.Overwrite = true
	require.NoError(t, sink.WriteFile(name, strings.NewReader("new"), opts))
	got, err = os.ReadFile(name)
	require.NoError(t, err)
	assert.Equal(t, "new", string(got))
}

func TestFileSink_FailedWriteLeavesNothing(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		direct bool
	}{
		{"temp file", false},
		{"direct", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			dest := t.TempDir()
			sink := asar.NewFileSink(dest, asar.FileSinkWithDirectWrites(tt.direct))
			defer sink.Close()

			readErr := errors.New("source failed")
			r := iotest.ErrReader(readErr)
			err := sink.WriteFile(filepath.Join(dest, "a.txt"), r, asar.WriteOptions{Size: 10})
			require.ErrorIs(t, err, readErr)

			short := sink.WriteFile(filepath.Join(dest, "b.txt"), bytes.NewReader([]byte("abc")), asar.WriteOptions{Size: 10})
			require.Error(t, short)

			entries, err := os.ReadDir(dest)
			require.NoError(t, err)
			assert.Empty(t, entries)
		})
	}
}

func TestFileSink_Modes(t *testing.T) {
	t.Parallel()
	if runtime.GOOS == "windows" {
		t.Skip("permission bits are not meaningful on windows")
	}

	dest := t.TempDir()
	sink := asar.NewFileSink(dest, asar.FileSinkWithFileMode(0o600))
	defer sink.Close()

	name := filepath.Join(dest, "run.sh")
	require.NoError(t, sink.WriteFile(name, strings.NewReader("#!"), writeOpts("#!")))
	info, err := os.Stat(name)
	require.NoError(t, err)
	assert.Equal(t, fs.FileMode(0o600), info.Mode().Perm())

	require.NoError(t, sink.MarkExecutable(name))
	info, err = os.Stat(name)
	require.NoError(t, err)
	assert.Equal(t, fs.FileMode(0o711), info.Mode().Perm())
}

func TestFileSink_Symlinks(t *testing.T) {
	t.Parallel()
	if runtime.GOOS == "windows" {
		t.Skip("symlinks require privileges on windows")
	}

	dest := t.TempDir()
	sink := asar.NewFileSink(dest)
	defer sink.Close()

	require.NoError(t, sink.WriteFile(filepath.Join(dest, "sub", "b.txt"), strings.NewReader("bye"), writeOpts("bye")))

	link := filepath.Join(dest, "links", "b")
	require.NoError(t, sink.CreateSymlink(link, "../sub/b.txt"))
	got, err := os.ReadFile(link)
	require.NoError(t, err)
	assert.Equal(t, "bye", string(got))

	require.NoError(t, sink.CreateSymlink(link, "../sub/b.txt"), "same target is accepted")
	require.ErrorIs(t, sink.CreateSymlink(link, "elsewhere"), fs.ErrExist)
}

func TestFileSink_RejectsEscapes(t *testing.T) {
	t.Parallel()

	parent := t.TempDir()
	dest := filepath.Join(parent, "out")
	sink := asar.NewFileSink(dest)
	defer sink.Close()

	err := sink.WriteFile(filepath.Join(dest, "..", "evil.txt"), strings.NewReader("x"), writeOpts("x"))
	require.ErrorIs(t, err, asar.ErrUnsafePath)
	require.ErrorIs(t, sink.CreateDirectory(filepath.Join(parent, "other")), asar.ErrUnsafePath)
	require.ErrorIs(t, sink.MarkExecutable(filepath.Join(dest, "..", "x")), asar.ErrUnsafePath)

	_, err = os.Stat(filepath.Join(parent, "evil.txt"))
	require.ErrorIs(t, err, fs.ErrNotExist)

	if runtime.GOOS == "windows" {
		return
	}
	require.NoError(t, os.MkdirAll(dest, 0o755))
	require.NoError(t, os.Symlink(parent, filepath.Join(dest, "escape")))
	err = sink.WriteFile(filepath.Join(dest, "escape", "evil.txt"), strings.NewReader("x"), writeOpts("x"))
	require.Error(t, err, "writes through a symlink leaving the root must fail")
	_, err = os.Stat(filepath.Join(parent, "evil.txt"))
	require.ErrorIs(t, err, fs.ErrNotExist)
}

func TestFileSink_Close(t *testing.T) {
	t.Parallel()

	dest := t.TempDir()
	sink := asar.NewFileSink(dest)
	require.NoError(t, sink.CreateDirectory(filepath.Join(dest, "d")))
	require.NoError(t, sink.Close())
	require.NoError(t, sink.Close())

	err := sink.CreateDirectory(filepath.Join(dest, "e"))
	require.ErrorIs(t, err, fs.ErrClosed)
}
