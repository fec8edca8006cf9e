package asar

import (
	"github.com/meigma/asar/internal/asartype"
	"github.com/meigma/asar/internal/extract"
)

// Re-exports from internal/asartype.
type (
	// Entry is a resolved archive entry.
	Entry = asartype.Entry

	// Kind identifies the type of an entry.
	Kind = asartype.Kind

	// Integrity describes per-file hashes recorded by the packer.
	Integrity = asartype.Integrity

	// ByteSource provides random access to archive bytes.
	ByteSource = asartype.ByteSource

	// RangeReader is an optional ByteSource extension for streaming reads.
	RangeReader = asartype.RangeReader

	// Sink materializes extracted entries.
	Sink = asartype.Sink

	// WriteOptions describes a file write requested from a Sink.
	WriteOptions = asartype.WriteOptions

	// Report summarizes an extraction.
	Report = extract.Report
)

// Entry kinds.
const (
	KindDirectory = asartype.KindDirectory
	KindFile      = asartype.KindFile
	KindLink      = asartype.KindLink
)

// AlgorithmSHA256 is the only integrity algorithm defined by the format.
const AlgorithmSHA256 = asartype.AlgorithmSHA256
