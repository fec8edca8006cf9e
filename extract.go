package asar

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/meigma/asar/internal/extract"
)

// Extract materializes the archive under dest through sink.
//
// Entries are processed in List order, so directories are created before
// their contents, and file content is streamed from the archive. With
// ExtractWithWorkers every directory is created first and files and links
// are then written concurrently. A nil sink writes to the local filesystem
// with NewFileSink(dest).
//
// On failure or cancellation the partial Report and the first error are
// returned; entries already written are left in place.
func (a *Archive) Extract(ctx context.Context, dest string, sink Sink, opts ...ExtractOption) (report Report, err error) {
	if a.isClosed() {
		return Report{}, ErrClosed
	}

	cfg := extractConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}

	entries := a.entries
	if cfg.prefix != "" && cfg.prefix != "." {
		prefix := NormalizePath(cfg.prefix)
		if _, ok := a.paths[prefix]; !ok {
			return Report{}, fmt.Errorf("extract %s: %w", cfg.prefix, ErrNotFound)
		}
		entries = selectPrefix(entries, prefix)
	}

	if sink == nil {
		fileSink := NewFileSink(dest, FileSinkWithLogger(a.logger))
		defer func() {
			err = errors.Join(err, fileSink.Close())
		}()
		sink = fileSink
	}

	x := extract.New(a.src,
		extract.WithVerify(cfg.verify),
		extract.WithOverwrite(cfg.overwrite),
		extract.WithSkipUnsupported(cfg.skipUnsupported),
		extract.WithWorkers(cfg.workers),
		extract.WithProgress(cfg.progress),
		extract.WithUnpacked(func(name string) (io.ReadCloser, error) {
			f, err := a.openUnpacked(name)
			if err != nil {
				return nil, err
			}
			return f, nil
		}),
		extract.WithLogger(a.logger),
	)

	a.log().Info("extracting archive", "dest", dest, "entries", len(entries), "workers", cfg.workers, "verify", cfg.verify)
	report, err = x.Extract(ctx, entries, dest, sink)
	if err != nil {
		a.log().Warn("extraction failed", "dest", dest, "files", report.Files, "error", err)
		return report, err
	}
	a.log().Info("extracted archive",
		"dest", dest,
		"directories", report.Directories,
		"files", report.Files,
		"links", report.Links,
		"bytes", report.Bytes,
		"skipped", report.Skipped)
	return report, nil
}

// selectPrefix returns the entries at or below prefix together with the
// directories leading to it, keeping pre-order.
func selectPrefix(entries []Entry, prefix string) []Entry {
	var out []Entry
	for _, e := range entries {
		switch {
		case e.Path == prefix,
			strings.HasPrefix(e.Path, prefix+"/"),
			strings.HasPrefix(prefix, e.Path+"/"):
			out = append(out, e)
		}
	}
	return out
}
