package asar

import "github.com/meigma/asar/internal/asartype"

// Re-export progress types from internal/asartype.
type (
	// ProgressEvent represents a progress update during extraction or packing.
	ProgressEvent = asartype.ProgressEvent

	// ProgressStage identifies the current phase of an operation.
	ProgressStage = asartype.ProgressStage

	// ProgressFunc receives progress updates. It may be called concurrently.
	ProgressFunc = asartype.ProgressFunc
)

// Progress stages.
const (
	StageExtracting = asartype.StageExtracting
	StagePacking    = asartype.StagePacking
)
