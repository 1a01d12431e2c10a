package task

import (
	"time"

	"ttsforge/pipeline"
)

type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusEmpty      Status = "empty" // input had nothing to synthesize
	StatusFailed     Status = "failed"
	StatusCanceled   Status = "canceled"
)

// Task is one queued conversion.
type Task struct {
	ID           string              `json:"id"`
	Status       Status              `json:"status"`
	Name         string              `json:"name,omitempty"`
	Voice        string              `json:"voice,omitempty"`
	JobID        string              `json:"jobId,omitempty"`
	Segments     int                 `json:"segments"`
	Outputs      []string            `json:"-"` // local paths of final artifacts
	Artifacts    []ArtifactInfo      `json:"artifacts,omitempty"`
	Synthesis    *pipeline.Result    `json:"synthesis,omitempty"`
	Error        string              `json:"error,omitempty"`
	CreatedAt    time.Time           `json:"createdAt"`
	StartedAt    time.Time           `json:"startedAt,omitempty"`
	CompletedAt  time.Time           `json:"completedAt,omitempty"`
	request      pipeline.Request
	cancelToken  *pipeline.CancelToken
}

// ArtifactInfo describes a downloadable result file.
type ArtifactInfo struct {
	File            string  `json:"file"`
	Kind            string  `json:"kind"`
	DurationSeconds float64 `json:"durationSeconds"`
	Part            int     `json:"part,omitempty"`
	DownloadURL     string  `json:"downloadUrl,omitempty"`
}

// snapshot returns a copy safe to hand out while the worker keeps mutating t.
func (t *Task) snapshot() *Task {
	c := *t
	c.Outputs = append([]string(nil), t.Outputs...)
	c.Artifacts = append([]ArtifactInfo(nil), t.Artifacts...)
	if t.Synthesis != nil {
		s := *t.Synthesis
		c.Synthesis = &s
	}
	return &c
}
