// Package extract materializes resolved archive entries through a Sink.
package extract

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/containerd/errdefs"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/meigma/asar/internal/asartype"
	"github.com/meigma/asar/internal/integrity"
)

// Entry is an alias for asartype.Entry.
type Entry = asartype.Entry

// Sink is an alias for asartype.Sink.
type Sink = asartype.Sink

// DefaultReadAheadBytes bounds the content bytes in flight across workers.
const DefaultReadAheadBytes = 64 << 20

// Report summarizes an extraction.
type Report struct {
	Directories int
	Files       int
	Links       int

	// Bytes is the total file content written.
	Bytes int64

	// Skipped counts links not created because the sink lacks symlink support.
	Skipped int
}

// OpenFunc opens the content of an unpacked file by its archive path.
type OpenFunc func(name string) (io.ReadCloser, error)

// Extractor writes entries from a byte source to a Sink.
type Extractor struct {
	source          asartype.ByteSource
	openUnpacked    OpenFunc
	verify          bool
	overwrite       bool
	skipUnsupported bool
	workers         int
	readAheadBytes  int64
	progress        asartype.ProgressFunc
	logger          *slog.Logger
}

// log returns the logger, falling back to a discard logger if nil.
func (x *Extractor) log() *slog.Logger {
	if x.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return x.logger
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithVerify enables integrity verification for files that carry metadata.
func WithVerify(enabled bool) Option {
	return func(x *Extractor) {
		x.verify = enabled
	}
}

// WithOverwrite allows the sink to replace existing files.
func WithOverwrite(enabled bool) Option {
	return func(x *Extractor) {
		x.overwrite = enabled
	}
}

// WithSkipUnsupported skips links the sink cannot create instead of failing.
func WithSkipUnsupported(enabled bool) Option {
	return func(x *Extractor) {
		x.skipUnsupported = enabled
	}
}

// WithWorkers sets the number of concurrent file writers.
// Values below 2 extract serially.
func WithWorkers(n int) Option {
	return func(x *Extractor) {
		x.workers = n
	}
}

// WithReadAheadBytes caps the file bytes being copied concurrently in
// parallel mode. Values <= 0 use DefaultReadAheadBytes.
func WithReadAheadBytes(limit int64) Option {
	return func(x *Extractor) {
		x.readAheadBytes = limit
	}
}

// WithUnpacked sets the opener used for unpacked files.
func WithUnpacked(open OpenFunc) Option {
	return func(x *Extractor) {
		x.openUnpacked = open
	}
}

// WithProgress sets a callback invoked after every entry.
func WithProgress(fn asartype.ProgressFunc) Option {
	return func(x *Extractor) {
		x.progress = fn
	}
}

// WithLogger sets the logger for extraction.
func WithLogger(logger *slog.Logger) Option {
	return func(x *Extractor) {
		x.logger = logger
	}
}

// New creates an Extractor reading embedded file content from source.
func New(source asartype.ByteSource, opts ...Option) *Extractor {
	x := &Extractor{source: source}
	for _, opt := range opts {
		opt(x)
	}
	if x.readAheadBytes <= 0 {
		x.readAheadBytes = DefaultReadAheadBytes
	}
	return x
}

// Extract materializes entries under dest.
//
// The destination root is created first, then entries are processed in
// order. The context is checked before every sink call; on cancellation or
// failure the partial report and the first error are returned and nothing
// already written is rolled back.
func (x *Extractor) Extract(ctx context.Context, entries []Entry, dest string, sink Sink) (Report, error) {
	t := newTracker(entries, x.progress)

	if err := ctx.Err(); err != nil {
		return t.report(), err
	}
	if err := createDirectory(sink, dest); err != nil {
		return t.report(), err
	}

	x.log().Debug("extracting", "dest", dest, "entries", len(entries), "workers", x.workers)
	var err error
	if x.workers > 1 && len(entries) > 1 {
		err = x.extractParallel(ctx, entries, dest, sink, t)
	} else {
		err = x.extractSerial(ctx, entries, dest, sink, t)
	}
	return t.report(), err
}

func (x *Extractor) extractSerial(ctx context.Context, entries []Entry, dest string, sink Sink, t *tracker) error {
	for i := range entries {
		if err := x.extractEntry(ctx, &entries[i], dest, sink, t); err != nil {
			return err
		}
	}
	return nil
}

// extractParallel creates every directory in order, then hands files and
// links to a bounded worker group.
func (x *Extractor) extractParallel(ctx context.Context, entries []Entry, dest string, sink Sink, t *tracker) error {
	for i := range entries {
		if entries[i].Kind != asartype.KindDirectory {
			continue
		}
		if err := x.extractEntry(ctx, &entries[i], dest, sink, t); err != nil {
			return err
		}
	}

	budget := semaphore.NewWeighted(x.readAheadBytes)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(x.workers)
	stopped := false
	for i := range entries {
		e := &entries[i]
		if e.Kind == asartype.KindDirectory {
			continue
		}
		if gctx.Err() != nil {
			stopped = true
			break
		}
		g.Go(func() error {
			weight := min(e.Size, x.readAheadBytes)
			if weight > 0 {
				if err := budget.Acquire(gctx, weight); err != nil {
					return err
				}
				defer budget.Release(weight)
			}
			return x.extractEntry(gctx, e, dest, sink, t)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if stopped {
		return ctx.Err()
	}
	return nil
}

func (x *Extractor) extractEntry(ctx context.Context, e *Entry, dest string, sink Sink, t *tracker) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	name := filepath.Join(dest, filepath.FromSlash(e.Path))

	switch e.Kind {
	case asartype.KindDirectory:
		if err := createDirectory(sink, name); err != nil {
			return err
		}
		x.log().Debug("created directory", "path", e.Path)
		t.done(e, func(r *Report) { r.Directories++ })
		return nil

	case asartype.KindFile:
		if err := x.writeFile(ctx, e, name, sink); err != nil {
			return err
		}
		x.log().Debug("wrote file", "path", e.Path, "size", e.Size, "executable", e.Executable)
		t.done(e, func(r *Report) {
			r.Files++
			r.Bytes += e.Size
		})
		return nil

	case asartype.KindLink:
		target := filepath.FromSlash(e.LinkTarget)
		if err := sink.CreateSymlink(name, target); err != nil {
			if isUnsupported(err) && x.skipUnsupported {
				x.log().Warn("skipped link", "path", e.Path, "target", e.LinkTarget, "error", err)
				t.done(e, func(r *Report) { r.Skipped++ })
				return nil
			}
			return asIOError("symlink", name, err)
		}
		x.log().Debug("created link", "path", e.Path, "target", e.LinkTarget)
		t.done(e, func(r *Report) { r.Links++ })
		return nil

	default:
		return fmt.Errorf("extract: %s: unknown entry kind %v", e.Path, e.Kind)
	}
}

// writeFile streams the content of e into the sink and applies the
// executable bit once the write succeeded.
func (x *Extractor) writeFile(ctx context.Context, e *Entry, name string, sink Sink) error {
	r, closeFn, err := x.open(e)
	if err != nil {
		return err
	}
	defer closeFn()

	if x.verify && e.Integrity != nil {
		r = integrity.NewReader(r, e.Size, e.Integrity, e.Path, e.Offset)
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	opts := asartype.WriteOptions{Size: e.Size, Overwrite: x.overwrite}
	if err := sink.WriteFile(name, r, opts); err != nil {
		return asIOError("write", name, err)
	}

	if !e.Executable {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := sink.MarkExecutable(name); err != nil {
		return asIOError("chmod", name, err)
	}
	return nil
}

// open returns a reader yielding exactly e.Size bytes of content.
func (x *Extractor) open(e *Entry) (io.Reader, func(), error) {
	if !e.Unpacked {
		if rr, ok := x.source.(asartype.RangeReader); ok && e.Size > 0 {
			rc, err := rr.ReadRange(e.Offset, e.Size)
			if err != nil {
				return nil, nil, asIOError("read", e.Path, err)
			}
			return &sourceReader{r: rc, path: e.Path}, func() { _ = rc.Close() }, nil //nolint:errcheck // read-only stream
		}
		section := io.NewSectionReader(x.source, e.Offset, e.Size)
		return &sourceReader{r: section, path: e.Path}, func() {}, nil
	}

	if x.openUnpacked == nil {
		return nil, nil, asartype.NewIOError("open", e.Path, fmt.Errorf("unpacked content unavailable: %w", fs.ErrNotExist))
	}
	rc, err := x.openUnpacked(e.Path)
	if err != nil {
		return nil, nil, asIOError("open", e.Path, err)
	}
	r := &exactReader{r: &sourceReader{r: rc, path: e.Path}, size: e.Size, remaining: e.Size, path: e.Path}
	return r, func() { _ = rc.Close() }, nil //nolint:errcheck // read-only handle
}

func createDirectory(sink Sink, name string) error {
	if err := sink.CreateDirectory(name); err != nil && !errors.Is(err, fs.ErrExist) {
		return asIOError("mkdir", name, err)
	}
	return nil
}

// asIOError classifies a sink failure. Errors that already carry a
// FormatError or IOError, such as a failed source read or an integrity
// mismatch surfacing through the sink, are returned unchanged.
func asIOError(op, name string, err error) error {
	var formatErr *asartype.FormatError
	var ioErr *asartype.IOError
	if errors.As(err, &formatErr) || errors.As(err, &ioErr) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return asartype.NewIOError(op, name, err)
}

func isUnsupported(err error) bool {
	return errors.Is(err, errors.ErrUnsupported) || errdefs.IsNotImplemented(err)
}

// sourceReader tags read failures of the byte source as IOErrors so they
// stay distinguishable from sink failures.
type sourceReader struct {
	r    io.Reader
	path string
}

func (s *sourceReader) Read(p []byte) (int, error) {
	n, err := s.r.Read(p)
	if err != nil && !errors.Is(err, io.EOF) {
		var ioErr *asartype.IOError
		if !errors.As(err, &ioErr) {
			err = asartype.NewIOError("read", s.path, err)
		}
	}
	return n, err
}

// exactReader yields exactly size bytes and reports a size mismatch when
// the underlying reader ends early or has bytes left over.
type exactReader struct {
	r         io.Reader
	size      int64
	remaining int64
	path      string
	done      bool
	err       error
}

func (e *exactReader) Read(p []byte) (int, error) {
	if e.remaining <= 0 {
		return 0, e.atEnd()
	}
	if int64(len(p)) > e.remaining {
		p = p[:e.remaining]
	}
	n, err := e.r.Read(p)
	e.remaining -= int64(n)
	if errors.Is(err, io.EOF) {
		if e.remaining > 0 {
			return n, asartype.NewFormatError(asartype.SizeMismatch, e.path, asartype.NoOffset,
				fmt.Errorf("unpacked content is %d bytes short", e.remaining))
		}
		e.done = true
		return n, io.EOF
	}
	if err == nil && e.remaining == 0 {
		err = e.atEnd()
	}
	return n, err
}

// atEnd checks once that the underlying reader holds nothing past size.
func (e *exactReader) atEnd() error {
	if !e.done {
		e.done = true
		var extra [1]byte
		_, err := io.ReadFull(e.r, extra[:])
		switch {
		case err == nil:
			e.err = asartype.NewFormatError(asartype.SizeMismatch, e.path, asartype.NoOffset,
				fmt.Errorf("unpacked content is longer than %d bytes", e.size))
		case !errors.Is(err, io.EOF):
			e.err = err
		}
	}
	if e.err != nil {
		return e.err
	}
	return io.EOF
}

// tracker accumulates the report and emits progress events.
type tracker struct {
	mu          sync.Mutex
	r           Report
	entriesDone int
	total       int
	bytesTotal  int64
	progress    asartype.ProgressFunc
}

func newTracker(entries []Entry, progress asartype.ProgressFunc) *tracker {
	t := &tracker{total: len(entries), progress: progress}
	for i := range entries {
		if entries[i].Kind == asartype.KindFile {
			t.bytesTotal += entries[i].Size
		}
	}
	return t
}

func (t *tracker) done(e *Entry, update func(*Report)) {
	t.mu.Lock()
	update(&t.r)
	t.entriesDone++
	event := asartype.ProgressEvent{
		Stage:        asartype.StageExtracting,
		Path:         e.Path,
		BytesDone:    t.r.Bytes,
		BytesTotal:   t.bytesTotal,
		EntriesDone:  t.entriesDone,
		EntriesTotal: t.total,
	}
	t.mu.Unlock()
	if t.progress != nil {
		t.progress(event)
	}
}

func (t *tracker) report() Report {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.r
}
