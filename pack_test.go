package asar_test

import (
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/woozymasta/pathrules"

	"github.com/meigma/asar"
)

// writeTree creates files under dir. Keys ending in "/" are empty
// directories; values starting with "->" are symlink targets.
func writeTree(t *testing.T, dir string, tree map[string]string) {
	t.Helper()
	for name, content := range tree {
		p := filepath.Join(dir, filepath.FromSlash(name))
		if name[len(name)-1] == '/' {
			require.NoError(t, os.MkdirAll(p, 0o755))
			continue
		}
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		if len(content) > 2 && content[:2] == "->" {
			require.NoError(t, os.Symlink(content[2:], p))
			continue
		}
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	}
}

func packBytes(t *testing.T, dir string, opts ...asar.PackOption) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, asar.Pack(context.Background(), dir, &buf, opts...))
	return buf.Bytes()
}

func skipWithoutSymlinks(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("symlinks require privileges on windows")
	}
}

func TestPack_RoundTrip(t *testing.T) {
	t.Parallel()
	skipWithoutSymlinks(t)

	src := t.TempDir()
	writeTree(t, src, map[string]string{
		"a.txt":      "hello",
		"empty/":     "",
		"sub/b.txt":  "bye",
		"sub/run.sh": "#!/bin/sh\n",
		"sub/link":   "->../a.txt",
	})
	require.NoError(t, os.Chmod(filepath.Join(src, "sub", "run.sh"), 0o755))
	require.NoError(t, os.Symlink(filepath.Join(src, "sub", "b.txt"), filepath.Join(src, "abs")))

	a := openBytes(t, packBytes(t, src))

	assert.Equal(t, []string{
		"a.txt", "abs", "empty", "sub", "sub/b.txt", "sub/link", "sub/run.sh",
	}, paths(a.List()))

	got, err := a.ReadFile("a.txt")
	require.NoError(t, err)
	assert.Equal(t, "hello", string(got))

	run, ok := a.Entry("sub/run.sh")
	require.True(t, ok)
	assert.True(t, run.Executable)
	require.NotNil(t, run.Integrity)
	assert.Equal(t, asar.AlgorithmSHA256, run.Integrity.Algorithm)

	b, ok := a.Entry("sub/b.txt")
	require.True(t, ok)
	assert.False(t, b.Executable)

	link, ok := a.Entry("sub/link")
	require.True(t, ok)
	assert.Equal(t, asar.KindLink, link.Kind)
	assert.Equal(t, "a.txt", link.LinkPath)
	assert.Equal(t, "../a.txt", link.LinkTarget)

	abs, ok := a.Entry("abs")
	require.True(t, ok)
	assert.Equal(t, "sub/b.txt", abs.LinkPath)

	dest := filepath.Join(t.TempDir(), "out")
	report, err := a.Extract(context.Background(), dest, nil, asar.ExtractWithVerifyIntegrity(true))
	require.NoError(t, err)
	assert.Equal(t, 2, report.Directories)
	assert.Equal(t, 3, report.Files)
	assert.Equal(t, 2, report.Links)

	content, err := os.ReadFile(filepath.Join(dest, "sub", "link"))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(content))
	target, err := os.Readlink(filepath.Join(dest, "abs"))
	require.NoError(t, err)
	assert.Equal(t, "sub/b.txt", target)

	info, err := os.Stat(filepath.Join(dest, "empty"))
	require.NoError(t, err)
	assert.True(t, info.IsDir())
	info, err = os.Stat(filepath.Join(dest, "sub", "run.sh"))
	require.NoError(t, err)
	assert.NotZero(t, info.Mode().Perm()&0o100)
}

func TestPack_WithoutIntegrity(t *testing.T) {
	t.Parallel()

	src := t.TempDir()
	writeTree(t, src, map[string]string{"a.txt": "hello"})

	a := openBytes(t, packBytes(t, src, asar.PackWithIntegrity(false)))
	e, ok := a.Entry("a.txt")
	require.True(t, ok)
	assert.Nil(t, e.Integrity)
	assert.Equal(t, int64(5), e.Size)
}

func TestPack_BlockSize(t *testing.T) {
	t.Parallel()

	src := t.TempDir()
	writeTree(t, src, map[string]string{"a.txt": "0123456789"})

	a := openBytes(t, packBytes(t, src, asar.PackWithBlockSize(4)), asar.WithVerifyReads(true))
	e, ok := a.Entry("a.txt")
	require.True(t, ok)
	require.NotNil(t, e.Integrity)
	assert.Equal(t, int64(4), e.Integrity.BlockSize)
	assert.Len(t, e.Integrity.Blocks, 3)

	got, err := a.ReadFile("a.txt")
	require.NoError(t, err)
	assert.Equal(t, "0123456789", string(got))
}

func TestPack_EscapingLinks(t *testing.T) {
	t.Parallel()
	skipWithoutSymlinks(t)

	tests := []struct {
		name   string
		target func(parent string) string
	}{
		{"relative", func(string) string { return "../outside.txt" }},
		{"absolute", func(parent string) string { return filepath.Join(parent, "outside.txt") }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			parent := t.TempDir()
			src := filepath.Join(parent, "src")
			require.NoError(t, os.MkdirAll(src, 0o755))
			require.NoError(t, os.Symlink(tt.target(parent), filepath.Join(src, "escape")))

			err := asar.Pack(context.Background(), src, &bytes.Buffer{})
			require.ErrorIs(t, err, asar.ErrUnsafePath)
		})
	}
}

func TestPack_Unpacked(t *testing.T) {
	t.Parallel()

	src := t.TempDir()
	writeTree(t, src, map[string]string{
		"index.js":           "require('./addon.node')",
		"addon.node":         "binary",
		"native/lib/x.so":    "shared",
		"native/lib/y.so":    "object",
		"resources/data.txt": "data",
	})
	rules := asar.PackWithUnpack(
		pathrules.Rule{Action: pathrules.ActionInclude, Pattern: "*.node"},
		pathrules.Rule{Action: pathrules.ActionInclude, Pattern: "native/**"},
	)

	t.Run("requires unpacked dir", func(t *testing.T) {
		t.Parallel()

		err := asar.Pack(context.Background(), src, &bytes.Buffer{}, rules)
		require.ErrorIs(t, err, asar.ErrNoUnpackedDir)
	})

	t.Run("pack file", func(t *testing.T) {
		t.Parallel()

		dest := filepath.Join(t.TempDir(), "dist", "app.asar")
		require.NoError(t, asar.PackFile(context.Background(), src, dest, rules))

		got, err := os.ReadFile(filepath.Join(dest+".unpacked", "native", "lib", "x.so"))
		require.NoError(t, err)
		assert.Equal(t, "shared", string(got))

		a, err := asar.OpenFile(dest, asar.WithVerifyReads(true))
		require.NoError(t, err)
		defer a.Close()

		for name, want := range map[string]bool{
			"addon.node":         true,
			"native/lib/x.so":    true,
			"native/lib/y.so":    true,
			"index.js":           false,
			"resources/data.txt": false,
		} {
			e, ok := a.Entry(name)
			require.True(t, ok, name)
			assert.Equal(t, want, e.Unpacked, name)
		}

		got, err = a.ReadFile("addon.node")
		require.NoError(t, err)
		assert.Equal(t, "binary", string(got))
		got, err = a.ReadFile("resources/data.txt")
		require.NoError(t, err)
		assert.Equal(t, "data", string(got))

		dir := filepath.Join(t.TempDir(), "out")
		report, err := a.Extract(context.Background(), dir, nil, asar.ExtractWithVerifyIntegrity(true))
		require.NoError(t, err)
		assert.Equal(t, 5, report.Files)
		got, err = os.ReadFile(filepath.Join(dir, "native", "lib", "y.so"))
		require.NoError(t, err)
		assert.Equal(t, "object", string(got))
	})
}

func TestPack_Progress(t *testing.T) {
	t.Parallel()

	src := t.TempDir()
	writeTree(t, src, map[string]string{
		"a.txt":     "aaaa",
		"b/c.txt":   "cc",
		"b/d/e.txt": "e",
	})

	var events []asar.ProgressEvent
	packBytes(t, src, asar.PackWithProgress(func(ev asar.ProgressEvent) {
		events = append(events, ev)
	}))

	require.Len(t, events, 3)
	last := events[len(events)-1]
	assert.Equal(t, asar.StagePacking, last.Stage)
	assert.Equal(t, int64(7), last.BytesTotal)
	assert.Equal(t, last.BytesTotal, last.BytesDone)
	assert.Equal(t, 3, last.EntriesDone)
	assert.Equal(t, 3, last.EntriesTotal)
	assert.Equal(t, "a.txt", events[0].Path)
}

func TestPack_Cancelled(t *testing.T) {
	t.Parallel()

	src := t.TempDir()
	writeTree(t, src, map[string]string{"a.txt": "a"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := asar.Pack(ctx, src, &bytes.Buffer{})
	require.ErrorIs(t, err, context.Canceled)
}

func TestPackFile_Atomic(t *testing.T) {
	t.Parallel()

	dest := filepath.Join(t.TempDir(), "app.asar")
	require.NoError(t, os.WriteFile(dest, []byte("previous"), 0o644))

	err := asar.PackFile(context.Background(), filepath.Join(t.TempDir(), "missing"), dest)
	require.Error(t, err)

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "previous", string(got), "failed pack must not replace the archive")

	entries, err := os.ReadDir(filepath.Dir(dest))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestPackFile_DestinationInsideSource(t *testing.T) {
	t.Parallel()

	src := t.TempDir()
	writeTree(t, src, map[string]string{
		"a.txt":                      "hi",
		"addon.node":                 "binary",
		"app.asar":                   "stale archive",
		"app.asar.unpacked/old.node": "stale",
	})
	dest := filepath.Join(src, "app.asar")
	rules := asar.PackWithUnpack(pathrules.Rule{Action: pathrules.ActionInclude, Pattern: "*.node"})

	for range 2 {
		require.NoError(t, asar.PackFile(context.Background(), src, dest, rules))

		a, err := asar.OpenFile(dest)
		require.NoError(t, err)
		assert.Equal(t, []string{"a.txt", "addon.node"}, paths(a.List()))
		got, err := a.ReadFile("addon.node")
		require.NoError(t, err)
		assert.Equal(t, "binary", string(got))
		require.NoError(t, a.Close())
	}

	entries, err := os.ReadDir(src)
	require.NoError(t, err)
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Name()
	}
	assert.Equal(t, []string{"a.txt", "addon.node", "app.asar", "app.asar.unpacked"}, names, "no temp files remain")
}

func TestExtract_FileSink(t *testing.T) {
	t.Parallel()

	src := t.TempDir()
	tree := make(map[string]string)
	for i := range 40 {
		tree[fmt.Sprintf("dir%d/file%02d.txt", i%4, i)] = fmt.Sprintf("content %d", i)
	}
	writeTree(t, src, tree)
	a := openBytes(t, packBytes(t, src))

	t.Run("parallel", func(t *testing.T) {
		t.Parallel()

		var mu sync.Mutex
		var events int
		dest := t.TempDir()
		report, err := a.Extract(context.Background(), dest, nil,
			asar.ExtractWithWorkers(8),
			asar.ExtractWithVerifyIntegrity(true),
			asar.ExtractWithProgress(func(asar.ProgressEvent) {
				mu.Lock()
				events++
				mu.Unlock()
			}))
		require.NoError(t, err)
		assert.Equal(t, 40, report.Files)
		assert.Equal(t, 4, report.Directories)
		assert.Positive(t, events)

		for name, want := range tree {
			got, err := os.ReadFile(filepath.Join(dest, filepath.FromSlash(name)))
			require.NoError(t, err)
			assert.Equal(t, want, string(got))
		}
	})

	t.Run("prefix", func(t *testing.T) {
		t.Parallel()

		dest := t.TempDir()
		report, err := a.Extract(context.Background(), dest, nil, asar.ExtractWithPrefix("dir1"))
		require.NoError(t, err)
		assert.Equal(t, 10, report.Files)

		entries, err := os.ReadDir(dest)
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, "dir1", entries[0].Name())

		_, err = a.Extract(context.Background(), dest, nil, asar.ExtractWithPrefix("nope"))
		require.ErrorIs(t, err, asar.ErrNotFound)
	})

	t.Run("existing directories", func(t *testing.T) {
		t.Parallel()

		dest := t.TempDir()
		require.NoError(t, os.MkdirAll(filepath.Join(dest, "dir2"), 0o755))
		require.NoError(t, os.MkdirAll(filepath.Join(dest, "dir3"), 0o755))

		report, err := a.Extract(context.Background(), dest, nil)
		require.NoError(t, err)
		assert.Equal(t, 4, report.Directories)
		assert.Equal(t, 40, report.Files)
	})

	t.Run("existing files", func(t *testing.T) {
		t.Parallel()

		dest := t.TempDir()
		_, err := a.Extract(context.Background(), dest, nil)
		require.NoError(t, err)

		_, err = a.Extract(context.Background(), dest, nil)
		require.ErrorIs(t, err, fs.ErrExist)
		var ioErr *asar.IOError
		require.ErrorAs(t, err, &ioErr)
		assert.Equal(t, asar.AlreadyExists, ioErr.Kind())

		_, err = a.Extract(context.Background(), dest, nil, asar.ExtractWithOverwrite(true))
		require.NoError(t, err)
	})
}

func TestExtract_TamperedFileNotVisible(t *testing.T) {
	t.Parallel()

	src := t.TempDir()
	writeTree(t, src, map[string]string{"a.txt": "0123456789"})
	data := packBytes(t, src, asar.PackWithBlockSize(4))
	data[len(data)-1] ^= 0xff

	a := openBytes(t, data)
	dest := t.TempDir()
	_, err := a.Extract(context.Background(), dest, nil, asar.ExtractWithVerifyIntegrity(true))
	requireFormatError(t, err, asar.IntegrityMismatch)

	entries, err := os.ReadDir(dest)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
