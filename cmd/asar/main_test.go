package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// run executes the root command with args and returns stdout.
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := newRootCommand(newCLI(&out, &errOut))
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func writeTree(t *testing.T, dir string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		p := filepath.Join(dir, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	}
}

func TestPackListCatExtract(t *testing.T) {
	t.Parallel()

	src := t.TempDir()
	writeTree(t, src, map[string]string{
		"hello.txt":   "hi",
		"sub/bye.txt": "bye",
		"lib/a.node":  "native",
	})
	archive := filepath.Join(t.TempDir(), "app.asar")

	_, err := run(t, "pack", "--unpack", "*.node", "--block-size", "1KiB", src, archive)
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(archive+".unpacked", "lib", "a.node"))

	out, err := run(t, "list", archive)
	require.NoError(t, err)
	assert.Equal(t, []string{"hello.txt", "lib", "lib/a.node", "sub", "sub/bye.txt"}, strings.Fields(out))

	out, err = run(t, "list", "--long", archive)
	require.NoError(t, err)
	assert.Contains(t, out, "lib/a.node (unpacked)")
	assert.Contains(t, out, "sub/")

	out, err = run(t, "cat", "--verify", archive, "sub/bye.txt")
	require.NoError(t, err)
	assert.Equal(t, "bye", out)

	out, err = run(t, "cat", archive, "lib/a.node")
	require.NoError(t, err)
	assert.Equal(t, "native", out)

	dest := filepath.Join(t.TempDir(), "out")
	out, err = run(t, "extract", "--verify", "--workers", "4", archive, dest)
	require.NoError(t, err)
	assert.Contains(t, out, "extracted 3 files, 2 directories, 0 links")

	got, err := os.ReadFile(filepath.Join(dest, "lib", "a.node"))
	require.NoError(t, err)
	assert.Equal(t, "native", string(got))
}

func TestExtractPrefix(t *testing.T) {
	t.Parallel()

	src := t.TempDir()
	writeTree(t, src, map[string]string{
		"hello.txt":   "hi",
		"sub/bye.txt": "bye",
	})
	archive := filepath.Join(t.TempDir(), "app.asar")
	_, err := run(t, "pack", src, archive)
	require.NoError(t, err)

	dest := t.TempDir()
	_, err = run(t, "extract", "--prefix", "sub", archive, dest)
	require.NoError(t, err)

	assert.FileExists(t, filepath.Join(dest, "sub", "bye.txt"))
	assert.NoFileExists(t, filepath.Join(dest, "hello.txt"))
}

func TestExtractOverwrite(t *testing.T) {
	t.Parallel()

	src := t.TempDir()
	writeTree(t, src, map[string]string{"hello.txt": "hi"})
	archive := filepath.Join(t.TempDir(), "app.asar")
	_, err := run(t, "pack", src, archive)
	require.NoError(t, err)

	dest := t.TempDir()
	writeTree(t, dest, map[string]string{"hello.txt": "old"})

	_, err = run(t, "extract", archive, dest)
	require.Error(t, err)

	_, err = run(t, "extract", "--overwrite", archive, dest)
	require.NoError(t, err)
	got, err := os.ReadFile(filepath.Join(dest, "hello.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hi", string(got))
}

func TestLinksRoundTrip(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlinks require privileges on windows")
	}
	t.Parallel()

	src := t.TempDir()
	writeTree(t, src, map[string]string{"sub/bye.txt": "bye"})
	require.NoError(t, os.Symlink(filepath.Join("sub", "bye.txt"), filepath.Join(src, "latest")))
	archive := filepath.Join(t.TempDir(), "app.asar")
	_, err := run(t, "pack", src, archive)
	require.NoError(t, err)

	out, err := run(t, "list", "-l", archive)
	require.NoError(t, err)
	assert.Contains(t, out, "latest -> sub/bye.txt")

	out, err = run(t, "cat", archive, "latest")
	require.NoError(t, err)
	assert.Equal(t, "bye", out)
}

func TestErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		args []string
	}{
		{"missing archive", []string{"list", filepath.Join(t.TempDir(), "missing.asar")}},
		{"bad block size", []string{"pack", "--block-size", "lots", t.TempDir(), filepath.Join(t.TempDir(), "a.asar")}},
		{"wrong arg count", []string{"extract", "only-one"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := run(t, tt.args...)
			require.Error(t, err)
		})
	}
}
