package core

import "time"

// ProgressEvent represents a progress update during build, download, or
// extraction.
type ProgressEvent struct {
	// Stage identifies the current phase of the operation.
	Stage ProgressStage

	// Path is the file currently being processed, if applicable.
	Path string

	// BytesDone is the number of bytes completed in the current operation.
	BytesDone uint64

	// BytesTotal is the total bytes for the current operation.
	// Zero indicates the total is unknown.
	BytesTotal uint64

	// FilesDone is the number of files completed.
	FilesDone int

	// FilesTotal is the total number of files.
	// Zero indicates the total is unknown.
	FilesTotal int

	// Rate is the most recent transfer rate sample in bytes per second.
	// Zero until the first sample period has elapsed.
	Rate float64

	// Remaining is the estimated time left. Zero when no estimate exists.
	Remaining time.Duration

	// Resumed is set when a download continues a partially written file.
	Resumed bool
}

// ProgressStage identifies the current phase of an operation.
type ProgressStage uint8

// Progress stages.
const (
	// StageCompressing indicates files are being compressed into an archive.
	StageCompressing ProgressStage = iota

	// StageDownloading indicates an archive body is being downloaded.
	StageDownloading

	// StageExtracting indicates files are being extracted.
	StageExtracting

	// StageUploading indicates archive objects are being uploaded.
	StageUploading
)

// String returns the string representation of the stage.
func (s ProgressStage) String() string {
	switch s {
	case StageCompressing:
		return "compressing"
	case StageDownloading:
		return "downloading"
	case StageExtracting:
		return "extracting"
	case StageUploading:
		return "uploading"
	default:
		return "unknown"
	}
}

// ProgressFunc receives progress updates during operations.
type ProgressFunc func(ProgressEvent)
