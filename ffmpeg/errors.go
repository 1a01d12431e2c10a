package ffmpeg

import (
	"fmt"
	"strings"
)

// ToolInvocationError is a failed ffmpeg or ffprobe run. ExitCode is -1 when
// the process never started or was killed.
type ToolInvocationError struct {
	Tool     string   `json:"tool"`
	Args     []string `json:"args"`
	ExitCode int      `json:"exitCode"`
	Output   string   `json:"output"`
	Err      error    `json:"-"`
}

func (e *ToolInvocationError) Error() string {
	if e == nil {
		return ""
	}
	msg := lastLine(e.Output)
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	return fmt.Sprintf("%s failed (exit %d): %s", e.Tool, e.ExitCode, msg)
}

func (e *ToolInvocationError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// lastLine returns the final non-empty line, where ffmpeg puts its reason.
func lastLine(out string) string {
	lines := strings.Split(strings.TrimSpace(out), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if l := strings.TrimSpace(lines[i]); l != "" {
			return l
		}
	}
	return ""
}
