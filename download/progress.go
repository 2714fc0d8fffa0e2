package download

import (
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/meigma/parcel/core"
)

// IsTerminal reports whether w is a terminal.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd())) //nolint:gosec // file descriptors fit in int
}

// ConsoleProgress returns a progress callback that redraws a single status
// line on w. Nothing is written when w is not a terminal.
func ConsoleProgress(w io.Writer) core.ProgressFunc {
	return consoleProgress(w, IsTerminal(w))
}

func consoleProgress(w io.Writer, tty bool) core.ProgressFunc {
	return func(e core.ProgressEvent) {
		if !tty {
			return
		}
		fmt.Fprintf(w, "%s\r", FormatEvent(e))
		if e.BytesTotal > 0 && e.BytesDone >= e.BytesTotal {
			fmt.Fprintln(w)
		}
	}
}

// FormatEvent renders a progress event as a status line.
func FormatEvent(e core.ProgressEvent) string {
	fields := []string{stageVerb(e.Stage), FormatBytes(float64(e.BytesDone))}
	if e.BytesTotal > 0 {
		fields = append(fields, FormatPercent(e.BytesDone, e.BytesTotal))
	}
	if e.Rate > 0 {
		fields = append(fields, FormatBytes(e.Rate)+"/s")
	}
	if e.Remaining > 0 {
		fields = append(fields, FormatETA(e.Remaining))
	}
	return strings.Join(fields, " ") + strings.Repeat(" ", 10)
}

func stageVerb(s core.ProgressStage) string {
	switch s {
	case core.StageCompressing:
		return "Compressed"
	case core.StageExtracting:
		return "Extracted"
	case core.StageUploading:
		return "Uploaded"
	default:
		return "Downloaded"
	}
}
