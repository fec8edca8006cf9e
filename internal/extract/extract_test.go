package extract

import (
	"bytes"
	"context"
	"errors"
	"io"
	"io/fs"
	"strings"
	"sync"
	"testing"

	"github.com/containerd/errdefs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/asar/internal/asartype"
	"github.com/meigma/asar/internal/header"
	"github.com/meigma/asar/internal/resolve"
	"github.com/meigma/asar/internal/testutil"
)

func plan(t *testing.T, b *testutil.ArchiveBuilder) (*testutil.MockByteSource, []Entry) {
	t.Helper()
	src := b.Source()
	h, err := header.Decode(src, 0)
	require.NoError(t, err)
	entries, err := resolve.Resolve(h.Root, h.DataStart, src.Size())
	require.NoError(t, err)
	return src, entries
}

func helloBye(t *testing.T) *testutil.ArchiveBuilder {
	t.Helper()
	return testutil.NewArchiveBuilder(t).
		File("hello.txt", []byte("hi")).
		File("sub/bye.txt", []byte("bye"))
}

func TestExtractHelloBye(t *testing.T) {
	t.Parallel()

	src, entries := plan(t, helloBye(t))
	sink := testutil.NewMemSink()

	report, err := New(src).Extract(context.Background(), entries, "out", sink)
	require.NoError(t, err)
	assert.Equal(t, Report{Directories: 1, Files: 2, Bytes: 5}, report)

	hello, ok := sink.File(testutil.Key("out", "hello.txt"))
	require.True(t, ok)
	assert.Equal(t, "hi", string(hello))
	bye, ok := sink.File(testutil.Key("out", "sub/bye.txt"))
	require.True(t, ok)
	assert.Equal(t, "bye", string(bye))

	assert.Equal(t, []testutil.Op{
		{Kind: "mkdir", Name: "out"},
		{Kind: "write", Name: testutil.Key("out", "hello.txt")},
		{Kind: "mkdir", Name: testutil.Key("out", "sub")},
		{Kind: "write", Name: testutil.Key("out", "sub/bye.txt")},
	}, sink.Ops())
}

func TestExtractEmptyArchive(t *testing.T) {
	t.Parallel()

	src, entries := plan(t, testutil.NewArchiveBuilder(t))
	sink := testutil.NewMemSink()

	report, err := New(src).Extract(context.Background(), entries, "out", sink)
	require.NoError(t, err)
	assert.Equal(t, Report{}, report)
	assert.True(t, sink.HasDir("out"))
}

func TestExtractEmptyDirectoriesAndEmptyFiles(t *testing.T) {
	t.Parallel()

	src, entries := plan(t, testutil.NewArchiveBuilder(t).
		Dir("a/b/c").
		File("a/empty", nil))
	sink := testutil.NewMemSink()

	report, err := New(src).Extract(context.Background(), entries, "out", sink)
	require.NoError(t, err)
	assert.Equal(t, 3, report.Directories)
	assert.Equal(t, 1, report.Files)
	assert.True(t, sink.HasDir(testutil.Key("out", "a/b/c")))
	data, ok := sink.File(testutil.Key("out", "a/empty"))
	require.True(t, ok)
	assert.Empty(t, data)
}

func TestExtractExecutableAfterWrite(t *testing.T) {
	t.Parallel()

	src, entries := plan(t, testutil.NewArchiveBuilder(t).
		Executable("bin/run.sh", []byte("#!/bin/sh\n")).
		File("bin/data", []byte("d")))
	sink := testutil.NewMemSink()

	_, err := New(src).Extract(context.Background(), entries, "out", sink)
	require.NoError(t, err)

	run := testutil.Key("out", "bin/run.sh")
	assert.True(t, sink.IsExecutable(run))
	assert.False(t, sink.IsExecutable(testutil.Key("out", "bin/data")))

	ops := sink.Ops()
	writeAt, chmodAt := -1, -1
	for i, op := range ops {
		if op.Name != run {
			continue
		}
		switch op.Kind {
		case "write":
			writeAt = i
		case "chmod":
			chmodAt = i
		}
	}
	require.GreaterOrEqual(t, writeAt, 0)
	assert.Equal(t, writeAt+1, chmodAt)
}

func TestExtractLinks(t *testing.T) {
	t.Parallel()

	b := testutil.NewArchiveBuilder(t).
		File("lib/real.txt", []byte("x")).
		Link("lib/alias", "lib/real.txt").
		Link("top", "lib/real.txt")

	t.Run("created", func(t *testing.T) {
		t.Parallel()
		src, entries := plan(t, b)
		sink := testutil.NewMemSink()
		report, err := New(src).Extract(context.Background(), entries, "out", sink)
		require.NoError(t, err)
		assert.Equal(t, 2, report.Links)

		target, ok := sink.Link(testutil.Key("out", "lib/alias"))
		require.True(t, ok)
		assert.Equal(t, "real.txt", target)
		target, ok = sink.Link(testutil.Key("out", "top"))
		require.True(t, ok)
		assert.Equal(t, testutil.Key("lib", "real.txt"), target)
	})

	t.Run("unsupported aborts", func(t *testing.T) {
		t.Parallel()
		src, entries := plan(t, b)
		sink := testutil.NewMemSink()
		sink.NoSymlinks = true
		_, err := New(src).Extract(context.Background(), entries, "out", sink)
		require.Error(t, err)

		var ioErr *asartype.IOError
		require.ErrorAs(t, err, &ioErr)
		assert.Equal(t, asartype.UnsupportedOperation, ioErr.Kind())
		assert.ErrorIs(t, err, errdefs.ErrNotImplemented)
		assert.ErrorIs(t, err, asartype.ErrSymlinkUnsupported)
	})

	t.Run("unsupported skipped", func(t *testing.T) {
		t.Parallel()
		src, entries := plan(t, b)
		sink := testutil.NewMemSink()
		sink.NoSymlinks = true
		report, err := New(src, WithSkipUnsupported(true)).Extract(context.Background(), entries, "out", sink)
		require.NoError(t, err)
		assert.Equal(t, 2, report.Skipped)
		assert.Zero(t, report.Links)
		assert.Equal(t, 1, report.Files)
	})
}

func TestExtractVerify(t *testing.T) {
	t.Parallel()

	content := bytes.Repeat([]byte("0123456789"), 10)
	b := testutil.NewArchiveBuilder(t).WithIntegrity(16).File("f.bin", content)

	t.Run("intact", func(t *testing.T) {
		t.Parallel()
		src, entries := plan(t, b)
		sink := testutil.NewMemSink()
		_, err := New(src, WithVerify(true)).Extract(context.Background(), entries, "out", sink)
		require.NoError(t, err)
		got, _ := sink.File(testutil.Key("out", "f.bin"))
		assert.Equal(t, content, got)
	})

	t.Run("tampered", func(t *testing.T) {
		t.Parallel()
		src, entries := plan(t, b)
		data := src.Bytes()
		data[len(data)-1] ^= 0xff

		sink := testutil.NewMemSink()
		_, err := New(src, WithVerify(true)).Extract(context.Background(), entries, "out", sink)
		require.ErrorIs(t, err, asartype.ErrIntegrityMismatch)
		_, ok := sink.File(testutil.Key("out", "f.bin"))
		assert.False(t, ok, "no file is recorded for a failed write")

		// Without verification the tampered content is written as-is.
		sink = testutil.NewMemSink()
		_, err = New(src).Extract(context.Background(), entries, "out", sink)
		require.NoError(t, err)
	})
}

func TestExtractOverwrite(t *testing.T) {
	t.Parallel()

	src, entries := plan(t, helloBye(t))
	sink := testutil.NewMemSink()

	_, err := New(src).Extract(context.Background(), entries, "out", sink)
	require.NoError(t, err)

	_, err = New(src).Extract(context.Background(), entries, "out", sink)
	require.Error(t, err)
	var ioErr *asartype.IOError
	require.ErrorAs(t, err, &ioErr)
	assert.Equal(t, asartype.AlreadyExists, ioErr.Kind())

	_, err = New(src, WithOverwrite(true)).Extract(context.Background(), entries, "out", sink)
	require.NoError(t, err)
}

func TestExtractSinkFailure(t *testing.T) {
	t.Parallel()

	src, entries := plan(t, helloBye(t))
	sink := testutil.NewMemSink()
	sink.FailWrite = map[string]error{testutil.Key("out", "hello.txt"): fs.ErrPermission}

	report, err := New(src).Extract(context.Background(), entries, "out", sink)
	require.Error(t, err)
	var ioErr *asartype.IOError
	require.ErrorAs(t, err, &ioErr)
	assert.Equal(t, "write", ioErr.Op)
	assert.Equal(t, asartype.PermissionDenied, ioErr.Kind())
	assert.ErrorIs(t, err, errdefs.ErrPermissionDenied)
	assert.Zero(t, report.Files)
}

func TestExtractSourceFailure(t *testing.T) {
	t.Parallel()

	src, entries := plan(t, helloBye(t))
	src.ReadErr = testutil.ErrInjected
	src.FailAt = src.Size() - 1

	_, err := New(src).Extract(context.Background(), entries, "out", testutil.NewMemSink())
	require.ErrorIs(t, err, testutil.ErrInjected)
	var ioErr *asartype.IOError
	require.ErrorAs(t, err, &ioErr)
	assert.Equal(t, "read", ioErr.Op)
	assert.Equal(t, "sub/bye.txt", ioErr.Path)
	assert.Equal(t, asartype.Transient, ioErr.Kind())
}

func TestExtractCancelled(t *testing.T) {
	t.Parallel()

	src, entries := plan(t, helloBye(t))
	sink := testutil.NewMemSink()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New(src).Extract(ctx, entries, "out", sink)
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, sink.Ops())
}

// cancellingSink cancels the context after the first file write.
type cancellingSink struct {
	*testutil.MemSink
	cancel context.CancelFunc
}

func (s *cancellingSink) WriteFile(name string, r io.Reader, opts asartype.WriteOptions) error {
	err := s.MemSink.WriteFile(name, r, opts)
	s.cancel()
	return err
}

func TestExtractCancelledMidway(t *testing.T) {
	t.Parallel()

	src, entries := plan(t, helloBye(t))
	ctx, cancel := context.WithCancel(context.Background())
	sink := &cancellingSink{MemSink: testutil.NewMemSink(), cancel: cancel}

	report, err := New(src).Extract(ctx, entries, "out", sink)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, report.Files)
	assert.Equal(t, 1, sink.Files())
}

func TestExtractUnpacked(t *testing.T) {
	t.Parallel()

	b := testutil.NewArchiveBuilder(t).
		File("a.txt", []byte("a")).
		Unpacked("native.node", 6)

	t.Run("opened", func(t *testing.T) {
		t.Parallel()
		src, entries := plan(t, b)
		sink := testutil.NewMemSink()
		open := func(name string) (io.ReadCloser, error) {
			require.Equal(t, "native.node", name)
			return io.NopCloser(strings.NewReader("binary")), nil
		}
		report, err := New(src, WithUnpacked(open)).Extract(context.Background(), entries, "out", sink)
		require.NoError(t, err)
		assert.Equal(t, int64(7), report.Bytes)
		got, _ := sink.File(testutil.Key("out", "native.node"))
		assert.Equal(t, "binary", string(got))
	})

	t.Run("missing", func(t *testing.T) {
		t.Parallel()
		src, entries := plan(t, b)
		_, err := New(src).Extract(context.Background(), entries, "out", testutil.NewMemSink())
		var ioErr *asartype.IOError
		require.ErrorAs(t, err, &ioErr)
		assert.Equal(t, asartype.NotFound, ioErr.Kind())
		assert.ErrorIs(t, err, errdefs.ErrNotFound)
	})

	t.Run("short", func(t *testing.T) {
		t.Parallel()
		src, entries := plan(t, b)
		open := func(string) (io.ReadCloser, error) {
			return io.NopCloser(strings.NewReader("bin")), nil
		}
		_, err := New(src, WithUnpacked(open)).Extract(context.Background(), entries, "out", testutil.NewMemSink())
		require.ErrorIs(t, err, asartype.ErrSizeMismatch)
	})

	t.Run("long", func(t *testing.T) {
		t.Parallel()
		src, entries := plan(t, b)
		open := func(string) (io.ReadCloser, error) {
			return io.NopCloser(strings.NewReader("binary plus")), nil
		}
		sink := testutil.NewMemSink()
		_, err := New(src, WithUnpacked(open)).Extract(context.Background(), entries, "out", sink)
		require.ErrorIs(t, err, asartype.ErrSizeMismatch)
		var formatErr *asartype.FormatError
		require.ErrorAs(t, err, &formatErr)
		assert.Equal(t, "native.node", formatErr.Path)
	})
}

func TestExtractParallel(t *testing.T) {
	t.Parallel()

	b := testutil.NewArchiveBuilder(t)
	want := make(map[string]string)
	for _, d := range []string{"a", "b/c", "d"} {
		for _, f := range []string{"1", "2", "3", "4"} {
			p := d + "/" + f
			content := strings.Repeat(p, 100)
			b.File(p, []byte(content))
			want[p] = content
		}
	}
	b.Dir("empty").Link("d/l", "a/1")

	src, entries := plan(t, b)
	sink := testutil.NewMemSink()

	var mu sync.Mutex
	var events []asartype.ProgressEvent
	progress := func(e asartype.ProgressEvent) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, e)
	}

	report, err := New(src, WithWorkers(4), WithReadAheadBytes(512), WithProgress(progress)).
		Extract(context.Background(), entries, "out", sink)
	require.NoError(t, err)
	assert.Equal(t, 12, report.Files)
	assert.Equal(t, 1, report.Links)
	assert.Equal(t, 5, report.Directories)

	for p, content := range want {
		got, ok := sink.File(testutil.Key("out", p))
		require.True(t, ok, p)
		assert.Equal(t, content, string(got))
	}

	// Directories are created before any file is written.
	ops := sink.Ops()
	lastMkdir, firstWrite := -1, len(ops)
	for i, op := range ops {
		if op.Kind == "mkdir" {
			lastMkdir = i
		}
		if op.Kind == "write" && i < firstWrite {
			firstWrite = i
		}
	}
	assert.Less(t, lastMkdir, firstWrite)

	require.Len(t, events, len(entries))
	last := events[0]
	for _, e := range events {
		if e.EntriesDone > last.EntriesDone {
			last = e
		}
	}
	assert.Equal(t, len(entries), last.EntriesDone)
	assert.Equal(t, report.Bytes, last.BytesTotal)
}

func TestExtractParallelStopsOnError(t *testing.T) {
	t.Parallel()

	b := testutil.NewArchiveBuilder(t)
	for _, f := range []string{"a", "b", "c", "d", "e", "f"} {
		b.File(f, []byte(f))
	}
	src, entries := plan(t, b)
	sink := testutil.NewMemSink()
	sink.FailWrite = map[string]error{testutil.Key("out", "c"): errors.New("disk full")}

	_, err := New(src, WithWorkers(3)).Extract(context.Background(), entries, "out", sink)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
}
