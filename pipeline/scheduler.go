package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"ttsforge/logx"
	"ttsforge/progress"
	"ttsforge/retry"
)

// DefaultConcurrencyLimit is used when a job does not set a limit.
const DefaultConcurrencyLimit = 5

// errNotAdmitted ends a segment's retry loop when cancellation wins the race
// for a pool slot.
var errNotAdmitted = errors.New("cancelled before admission")

// SchedulerOptions tune every job run by a Scheduler.
type SchedulerOptions struct {
	// Policy supplies the retry delay and backoff. Its MaxAttempts is only
	// used when the job leaves MaxRetries unset.
	Policy retry.Policy
	// AttemptTimeout bounds one Synthesize call. Zero disables it.
	AttemptTimeout time.Duration
	// MinArtifactBytes is a size floor: audio must be strictly larger.
	MinArtifactBytes int64
}

// Result is the outcome of Scheduler.Run. Every index list is sorted.
type Result struct {
	JobID     string `json:"jobId"`
	Success   bool   `json:"success"`
	Cancelled bool   `json:"cancelled"`
	// Artifacts holds the temp artifact path of each segment by index; the
	// entry is empty for segments that are not done.
	Artifacts     []string `json:"artifacts"`
	FailedIndices []int    `json:"failedIndices"`

	Resumed            []int `json:"resumed,omitempty"`            // skipped thanks to the progress record
	Completed          []int `json:"completed,omitempty"`          // synthesized in this run
	DrainedAfterCancel []int `json:"drainedAfterCancel,omitempty"` // in flight at cancel time, finished anyway
	Abandoned          []int `json:"abandoned,omitempty"`          // started, remaining attempts dropped on cancel
	NotStarted         []int `json:"notStarted,omitempty"`
}

type segmentOutcome int

const (
	outcomeCompleted segmentOutcome = iota
	outcomeDrained
	outcomeAbandoned
	outcomeNotStarted
	outcomeFailed
)

// Scheduler synthesizes the segments of a job under a concurrency cap with
// per-segment retry and resumable progress.
type Scheduler struct {
	engine Synthesizer
	store  ProgressStore
	opts   SchedulerOptions
}

// NewScheduler returns a scheduler. store may be nil, which disables resume.
func NewScheduler(engine Synthesizer, store ProgressStore, opts SchedulerOptions) *Scheduler {
	return &Scheduler{engine: engine, store: store, opts: opts}
}

// Run synthesizes every segment past the job's recorded progress. It waits
// for all scheduled work before returning, even when some segments fail.
// The returned error covers invalid jobs and a cancelled ctx only; segment
// failures and cooperative cancellation are reported through Result.
func (s *Scheduler) Run(ctx context.Context, job *Job) (Result, error) {
	res := Result{JobID: job.ID}
	segs, err := orderedSegments(job.Segments)
	if err != nil {
		return res, err
	}
	if len(segs) == 0 {
		return res, ErrNothingToSynthesize
	}

	lg := logx.Component("scheduler").With().Str("job", job.ID).Logger()
	ctx = logx.WithJob(ctx, job.ID)

	start := s.resumePoint(job, segs, lg)
	for _, seg := range segs[:start] {
		res.Resumed = append(res.Resumed, seg.Index)
	}
	if start > 0 {
		lg.Info().Int("resumeAt", start).Int("segments", len(segs)).Msg("resuming job")
	}

	limit := job.ConcurrencyLimit
	if limit < 1 {
		limit = DefaultConcurrencyLimit
	}
	sem := make(chan struct{}, limit)

	done := make(chan int)
	collected := make(chan struct{})
	go s.collect(job.ID, len(segs), start, done, collected, lg)

	outcomes := make([]segmentOutcome, len(segs))
	var wg sync.WaitGroup
	for _, seg := range segs[start:] {
		wg.Add(1)
		go func(seg *Segment) {
			defer wg.Done()
			outcomes[seg.Index] = s.runSegment(ctx, job, seg, sem, done, lg)
		}(seg)
	}
	wg.Wait()
	close(done)
	<-collected

	for _, seg := range segs[start:] {
		switch outcomes[seg.Index] {
		case outcomeCompleted:
			res.Completed = append(res.Completed, seg.Index)
		case outcomeDrained:
			res.DrainedAfterCancel = append(res.DrainedAfterCancel, seg.Index)
		case outcomeAbandoned:
			res.Abandoned = append(res.Abandoned, seg.Index)
		case outcomeNotStarted:
			res.NotStarted = append(res.NotStarted, seg.Index)
		case outcomeFailed:
			res.FailedIndices = append(res.FailedIndices, seg.Index)
		}
	}

	res.Artifacts = make([]string, len(segs))
	allDone := true
	for _, seg := range segs {
		if seg.State == StateDone {
			res.Artifacts[seg.Index] = seg.ArtifactPath
		} else {
			allDone = false
		}
	}
	res.Cancelled = job.Cancel.Cancelled()
	res.Success = allDone && len(res.FailedIndices) == 0 && !res.Cancelled && ctx.Err() == nil

	ev := lg.Info()
	if !res.Success {
		ev = lg.Warn()
	}
	ev.Bool("success", res.Success).
		Bool("cancelled", res.Cancelled).
		Int("completed", len(res.Completed)+len(res.DrainedAfterCancel)).
		Ints("failed", res.FailedIndices).
		Msg("synthesis finished")

	if err := ctx.Err(); err != nil {
		return res, err
	}
	return res, nil
}

// runSegment drives one segment through the retry loop. It owns seg for the
// duration of the call.
func (s *Scheduler) runSegment(ctx context.Context, job *Job, seg *Segment, sem chan struct{}, done chan<- int, lg zerolog.Logger) segmentOutcome {
	lg = lg.With().Int("segment", seg.Index).Logger()
	path := job.ArtifactPath(seg.Index)
	// A leftover from an earlier run is not trusted.
	_ = os.Remove(path)
	seg.State = StatePending
	seg.Attempts = 0
	seg.ArtifactPath = ""
	seg.Bytes = 0
	seg.LastError = ""

	policy := s.opts.Policy
	policy.MaxAttempts = s.maxAttempts(job)

	started, drained := false, false
	var written int64
	out := policy.Do(ctx, retry.Hooks{
		Stop:      job.Cancel.Cancelled,
		Interrupt: job.Cancel.Done(),
		OnRetry: func(attempt int, err error, wait time.Duration) {
			lg.Warn().Err(err).Int("attempt", attempt).Dur("wait", wait).Msg("synthesis attempt failed, retrying")
		},
	}, func(ctx context.Context, attempt int) error {
		select {
		case sem <- struct{}{}:
		case <-job.Cancel.Done():
			return retry.Permanent(errNotAdmitted)
		case <-ctx.Done():
			return retry.Permanent(ctx.Err())
		}
		defer func() { <-sem }()
		if job.Cancel.Cancelled() {
			return retry.Permanent(errNotAdmitted)
		}

		started = true
		seg.State = StateInFlight
		seg.Attempts = attempt
		n, err := s.attempt(ctx, job, seg, path)
		if err != nil {
			seg.LastError = err.Error()
			return err
		}
		written = n
		// Decided while the slot is still held.
		drained = job.Cancel.Cancelled()
		return nil
	})

	switch {
	case out.OK():
		seg.State = StateDone
		seg.ArtifactPath = path
		seg.Bytes = written
		seg.LastError = ""
		done <- seg.Index
		if drained {
			lg.Debug().Msg("segment finished after cancellation")
			return outcomeDrained
		}
		lg.Debug().Int("attempts", out.Attempts).Int64("bytes", written).Msg("segment done")
		return outcomeCompleted

	case out.Stopped, errors.Is(out.Err, errNotAdmitted), ctx.Err() != nil:
		seg.State = StatePending
		if !started {
			return outcomeNotStarted
		}
		lg.Info().Int("attempts", seg.Attempts).Msg("segment abandoned on cancellation")
		return outcomeAbandoned

	default:
		seg.State = StateFailed
		seg.LastError = out.Err.Error()
		lg.Error().Err(out.Err).Int("attempts", out.Attempts).Msg("segment failed")
		return outcomeFailed
	}
}

// attempt performs one Synthesize call and commits its audio to path.
func (s *Scheduler) attempt(ctx context.Context, job *Job, seg *Segment, path string) (int64, error) {
	if s.opts.AttemptTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.AttemptTimeout)
		defer cancel()
	}

	audio, err := s.engine.Synthesize(ctx, seg.Text, job.Voice)
	if err != nil {
		return 0, err
	}
	n := int64(len(audio))
	if n == 0 || n <= s.opts.MinArtifactBytes {
		return 0, fmt.Errorf("%w: %d bytes", ErrArtifactTooSmall, n)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return 0, fmt.Errorf("create work dir: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, audio, 0o644); err != nil {
		os.Remove(tmp)
		return 0, fmt.Errorf("write artifact: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return 0, fmt.Errorf("commit artifact: %w", err)
	}
	return n, nil
}

// collect is the only writer of the job's progress record. It persists the
// highest index below which every segment is done.
func (s *Scheduler) collect(jobID string, total, start int, done <-chan int, collected chan<- struct{}, lg zerolog.Logger) {
	defer close(collected)
	finished := make([]bool, total)
	for i := 0; i < start; i++ {
		finished[i] = true
	}
	mark := start - 1
	for idx := range done {
		finished[idx] = true
		advanced := false
		for mark+1 < total && finished[mark+1] {
			mark++
			advanced = true
		}
		if !advanced || s.store == nil {
			continue
		}
		if err := s.store.Save(progress.Record{JobID: jobID, LastCompleted: mark}); err != nil {
			lg.Warn().Err(err).Int("lastCompleted", mark).Msg("could not persist progress")
		}
	}
}

// resumePoint returns the first index to synthesize and marks the segments
// before it done.
func (s *Scheduler) resumePoint(job *Job, segs []*Segment, lg zerolog.Logger) int {
	if s.store == nil {
		return 0
	}
	rec, found, err := s.store.Load(job.ID)
	if err != nil {
		lg.Warn().Err(err).Msg("unreadable progress record, starting from the first segment")
		s.discardRecord(job.ID, lg)
		return 0
	}
	if !found || rec.LastCompleted < 0 {
		return 0
	}
	if rec.LastCompleted >= len(segs) {
		lg.Warn().
			Int("lastCompleted", rec.LastCompleted).
			Int("segments", len(segs)).
			Msg("stale progress record, starting from the first segment")
		s.discardRecord(job.ID, lg)
		return 0
	}

	start := rec.LastCompleted + 1
	for i := 0; i < start; i++ {
		path := job.ArtifactPath(i)
		info, err := os.Stat(path)
		if err != nil || info.Size() == 0 || info.Size() <= s.opts.MinArtifactBytes {
			lg.Warn().Int("segment", i).Msg("recorded artifact missing, resuming before it")
			start = i
			break
		}
		segs[i].State = StateDone
		segs[i].ArtifactPath = path
		segs[i].Bytes = info.Size()
	}
	return start
}

func (s *Scheduler) discardRecord(jobID string, lg zerolog.Logger) {
	if err := s.store.Delete(jobID); err != nil {
		lg.Warn().Err(err).Msg("could not delete progress record")
	}
}

func (s *Scheduler) maxAttempts(job *Job) int {
	switch {
	case job.MaxRetries > 0:
		return job.MaxRetries
	case s.opts.Policy.MaxAttempts > 0:
		return s.opts.Policy.MaxAttempts
	}
	return DefaultMaxRetries
}

// orderedSegments returns segs sorted by index and checks that the indices
// run 0..n-1 without gaps or duplicates.
func orderedSegments(segs []*Segment) ([]*Segment, error) {
	out := make([]*Segment, 0, len(segs))
	for _, seg := range segs {
		if seg == nil {
			return nil, errors.New("nil segment")
		}
		out = append(out, seg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	for i, seg := range out {
		if seg.Index != i {
			return nil, fmt.Errorf("segment indices must run from 0 to %d without gaps", len(out)-1)
		}
	}
	return out, nil
}
