package pipeline

import (
	"errors"
	"fmt"
)

var (
	// ErrNothingToSynthesize marks input that produced no segments.
	ErrNothingToSynthesize = errors.New("nothing to synthesize")
	// ErrCancelled is returned when a job stopped on a cancellation request.
	ErrCancelled = errors.New("job cancelled")
	// ErrSegmentsNotReady guards the merger against unfinished segments.
	ErrSegmentsNotReady = errors.New("segments are not all done")
	// ErrArtifactTooSmall is an attempt failure for empty or tiny audio.
	ErrArtifactTooSmall = errors.New("synthesized artifact below size floor")
	// ErrInvalidSpeed rejects speed factors outside [MinSpeed, MaxSpeed].
	ErrInvalidSpeed = errors.New("speed factor out of range")
	// ErrInvalidOutputKind rejects unknown output kinds.
	ErrInvalidOutputKind = errors.New("invalid output kind")
)

// ChunkFailure reports segments that exhausted their attempts.
type ChunkFailure struct {
	Indices []int
}

func (e *ChunkFailure) Error() string {
	return fmt.Sprintf("synthesis failed for segments %v", e.Indices)
}

// MergeError is a fatal failure to join segment artifacts. The segment
// artifacts are left on disk.
type MergeError struct {
	Output string
	Err    error
}

func (e *MergeError) Error() string {
	return fmt.Sprintf("merge into %s: %v", e.Output, e.Err)
}

func (e *MergeError) Unwrap() error {
	return e.Err
}

// StepError is a fatal media failure during repackaging.
type StepError struct {
	Step string // speed, probe, video or split
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("repackage %s: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// ErrUnknownVoice rejects a voice outside the configured allow list.
var ErrUnknownVoice = errors.New("voice not in the configured voice list")
