package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"ttsforge/progress"
)

// State is the synthesis state of a segment.
type State string

const (
	StatePending  State = "pending"
	StateInFlight State = "in_flight"
	StateDone     State = "done"
	StateFailed   State = "failed"
)

// DefaultMaxRetries is the attempt budget used when a job does not set one.
const DefaultMaxRetries = 3

// Segment is one bounded unit of source text. Index is fixed at creation
// and is the only thing that decides where its audio lands in the output.
type Segment struct {
	Index        int    `json:"index"`
	Text         string `json:"text"`
	State        State  `json:"state"`
	Attempts     int    `json:"attempts"`
	ArtifactPath string `json:"artifactPath,omitempty"`
	Bytes        int64  `json:"bytes,omitempty"`
	LastError    string `json:"lastError,omitempty"`
}

// Job is the synthesis work for one source text.
type Job struct {
	ID               string
	Segments         []*Segment
	ConcurrencyLimit int
	MaxRetries       int
	Voice            string
	WorkDir          string
	ArtifactExt      string // extension of per-segment artifacts, without dot
	Cancel           *CancelToken
}

// ArtifactPath is the temporary artifact location of the segment at index.
func (j *Job) ArtifactPath(index int) string {
	ext := j.ArtifactExt
	if ext == "" {
		ext = "mp3"
	}
	return filepath.Join(j.WorkDir, fmt.Sprintf("%s.part%05d.%s", j.ID, index, ext))
}

// CancelToken is a job-scoped cooperative cancellation flag. A nil token
// never fires.
type CancelToken struct {
	once sync.Once
	ch   chan struct{}
}

func NewCancelToken() *CancelToken {
	return &CancelToken{ch: make(chan struct{})}
}

// Cancel requests cancellation. It is safe to call more than once.
func (t *CancelToken) Cancel() {
	if t == nil {
		return
	}
	t.once.Do(func() { close(t.ch) })
}

// Cancelled reports whether Cancel has been called.
func (t *CancelToken) Cancelled() bool {
	if t == nil {
		return false
	}
	select {
	case <-t.ch:
		return true
	default:
		return false
	}
}

// Done is closed once Cancel has been called.
func (t *CancelToken) Done() <-chan struct{} {
	if t == nil {
		return nil
	}
	return t.ch
}

// OutputKind selects the container of repackaged artifacts.
type OutputKind string

const (
	KindAudio OutputKind = "audio"
	KindVideo OutputKind = "video"
)

// MediaArtifact is a finished audio or video file.
type MediaArtifact struct {
	Path            string     `json:"path"`
	Kind            OutputKind `json:"kind"`
	DurationSeconds float64    `json:"durationSeconds"`
	Part            int        `json:"part,omitempty"` // 1-based when split
}

// Synthesizer turns text spoken with a voice into audio bytes.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, voice string) ([]byte, error)
}

// MediaProcessor performs the media operations the pipeline delegates.
type MediaProcessor interface {
	Probe(ctx context.Context, path string) (float64, error)
	ChangeSpeed(ctx context.Context, in, out string, factor float64) error
	WrapAsVideo(ctx context.Context, audioIn, videoOut string, durationSeconds float64) error
	Concat(ctx context.Context, orderedPaths []string, out string) error
	Trim(ctx context.Context, in, out string, startSeconds, durationSeconds float64) error
}

// TextExtractor yields raw text from a document.
type TextExtractor interface {
	Extract(ctx context.Context, documentPath string) (string, error)
}

// ProgressStore persists the resume point of a job.
type ProgressStore interface {
	Load(jobID string) (progress.Record, bool, error)
	Save(rec progress.Record) error
	Delete(jobID string) error
}

// JobLocker grants one run exclusive use of a job id.
type JobLocker interface {
	Lock(jobID string) (unlock func() error, err error)
}
