package parcel

import "github.com/meigma/parcel/core"

// Re-export progress types from core package.
type (
	// ProgressEvent represents a progress update during build, download, or
	// extraction.
	ProgressEvent = core.ProgressEvent

	// ProgressStage identifies the current phase of an operation.
	ProgressStage = core.ProgressStage

	// ProgressFunc receives progress updates during operations.
	ProgressFunc = core.ProgressFunc
)

// Re-export progress stage constants.
const (
	// StageCompressing indicates files are being compressed into an archive.
	StageCompressing = core.StageCompressing

	// StageDownloading indicates an archive body is being downloaded.
	StageDownloading = core.StageDownloading

	// StageExtracting indicates files are being extracted.
	StageExtracting = core.StageExtracting

	// StageUploading indicates archive objects are being uploaded.
	StageUploading = core.StageUploading
)
