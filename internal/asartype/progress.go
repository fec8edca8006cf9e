package asartype

// ProgressEvent represents a progress update during extraction or packing.
type ProgressEvent struct {
	// Stage identifies the current phase of the operation.
	Stage ProgressStage

	// Path is the entry currently being processed, if applicable.
	Path string

	// BytesDone is the number of content bytes completed so far.
	BytesDone int64

	// BytesTotal is the total content bytes for the operation.
	// Zero indicates the total is unknown.
	BytesTotal int64

	// EntriesDone is the number of entries completed.
	EntriesDone int

	// EntriesTotal is the total number of entries.
	EntriesTotal int
}

// ProgressStage identifies the current phase of an operation.
type ProgressStage uint8

const (
	// StageExtracting indicates entries are being written to a sink.
	StageExtracting ProgressStage = iota

	// StagePacking indicates files are being written into an archive.
	StagePacking
)

// String returns the string representation of the stage.
func (s ProgressStage) String() string {
	switch s {
	case StageExtracting:
		return "extracting"
	case StagePacking:
		return "packing"
	default:
		return "unknown"
	}
}

// ProgressFunc receives progress updates during operations.
// Implementations must be safe for concurrent calls.
type ProgressFunc func(ProgressEvent)
