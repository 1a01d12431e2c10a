package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/lithammer/shortuuid/v4"

	"ttsforge/config"
	"ttsforge/logx"
	"ttsforge/retry"
)

// Status is the final state of a conversion.
type Status string

const (
	StatusEmpty     Status = "empty" // nothing to synthesize
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Request describes one conversion. Zero values fall back to configuration.
type Request struct {
	// JobID pins the job id. When empty it is derived from the output name,
	// voice and text so that repeating a conversion resumes it.
	JobID        string
	Name         string // output file name without extension
	Text         string
	DocumentPath string // read through the extractor when Text is empty

	Voice              string
	Speed              float64
	OutputKind         OutputKind
	MaxDurationSeconds float64
	MaxUnitSize        int
	ConcurrencyLimit   int
	MaxRetries         int
}

// Outcome reports what a conversion produced, including partial results of
// a failed or cancelled run.
type Outcome struct {
	JobID     string          `json:"jobId"`
	Status    Status          `json:"status"`
	Segments  []*Segment      `json:"segments,omitempty"`
	Synthesis Result          `json:"synthesis"`
	Merged    *MediaArtifact  `json:"merged,omitempty"`
	Artifacts []MediaArtifact `json:"artifacts,omitempty"`
}

// Deps are the collaborators of a Converter. Extractor, Store and Locker may
// be nil.
type Deps struct {
	Engine    Synthesizer
	Media     MediaProcessor
	Extractor TextExtractor
	Store     ProgressStore
	Locker    JobLocker
}

// Converter runs segmentation, synthesis, merge and repackaging in order.
type Converter struct {
	cfg        *config.Config
	deps       Deps
	scheduler  *Scheduler
	merger     *Merger
	repackager *Repackager
}

func NewConverter(cfg *config.Config, deps Deps) *Converter {
	sched := NewScheduler(deps.Engine, deps.Store, SchedulerOptions{
		Policy: retry.Policy{
			MaxAttempts: cfg.MaxRetries,
			Delay:       cfg.RetryDelay,
			Multiplier:  cfg.RetryMultiplier,
			MaxDelay:    cfg.RetryMaxDelay,
		},
		AttemptTimeout:   cfg.SynthTimeout,
		MinArtifactBytes: cfg.MinArtifactSize,
	})
	return &Converter{
		cfg:        cfg,
		deps:       deps,
		scheduler:  sched,
		merger:     NewMerger(deps.Media, deps.Store),
		repackager: NewRepackager(deps.Media),
	}
}

// Convert runs one request to completion. token may be nil. A failed run
// returns a *ChunkFailure, ErrCancelled, *MergeError or *StepError together
// with the partial Outcome.
func (c *Converter) Convert(ctx context.Context, req Request, token *CancelToken) (Outcome, error) {
	var out Outcome

	// Speed and kind are checked before any synthesis work starts.
	repack := RepackOptions{
		Speed:              req.Speed,
		Kind:               req.OutputKind,
		MaxDurationSeconds: firstPositive(req.MaxDurationSeconds, c.cfg.MaxDurationSeconds()),
	}
	if _, _, _, err := validateRepack(repack); err != nil {
		return out, err
	}

	text := req.Text
	if strings.TrimSpace(text) == "" && req.DocumentPath != "" {
		if c.deps.Extractor == nil {
			return out, errors.New("no text extractor configured")
		}
		var err error
		if text, err = c.deps.Extractor.Extract(ctx, req.DocumentPath); err != nil {
			return out, fmt.Errorf("extract text: %w", err)
		}
	}

	name := req.Name
	if name == "" && req.DocumentPath != "" {
		name = strings.TrimSuffix(filepath.Base(req.DocumentPath), filepath.Ext(req.DocumentPath))
	}
	name = SanitizeName(name)

	maxUnit := req.MaxUnitSize
	if maxUnit == 0 {
		maxUnit = c.cfg.MaxUnitSize
	}
	normalized := Normalize(text)
	segs := SegmentText(normalized, maxUnit)
	out.Segments = segs
	if len(segs) == 0 {
		out.Status = StatusEmpty
		return out, nil
	}

	voice := req.Voice
	if voice == "" {
		voice = c.cfg.Voice
	}
	if !c.voiceAllowed(voice) {
		return out, fmt.Errorf("%w: %s", ErrUnknownVoice, voice)
	}

	out.JobID = req.JobID
	if out.JobID == "" {
		out.JobID = DeriveJobID(name, voice, maxUnit, normalized)
	}
	if name == "" {
		name = "audio_" + out.JobID
	}
	ctx = logx.WithJob(ctx, out.JobID)
	lg := logx.FromCtx(ctx).With().Str("component", "converter").Logger()

	if c.deps.Locker != nil {
		unlock, err := c.deps.Locker.Lock(out.JobID)
		if err != nil {
			return out, fmt.Errorf("lock job %s: %w", out.JobID, err)
		}
		defer func() {
			if err := unlock(); err != nil {
				lg.Warn().Err(err).Msg("could not release job lock")
			}
		}()
	}

	ext := strings.TrimPrefix(c.cfg.SynthFormat, ".")
	if ext == "" {
		ext = "mp3"
	}
	job := &Job{
		ID:               out.JobID,
		Segments:         segs,
		ConcurrencyLimit: firstPositiveInt(req.ConcurrencyLimit, c.cfg.MaxConcurrency),
		MaxRetries:       firstPositiveInt(req.MaxRetries, c.cfg.MaxRetries),
		Voice:            voice,
		WorkDir:          c.cfg.WorkDir,
		ArtifactExt:      ext,
		Cancel:           token,
	}
	lg.Info().Int("segments", len(segs)).Str("voice", voice).Str("name", name).Msg("conversion started")

	res, err := c.scheduler.Run(ctx, job)
	out.Synthesis = res
	switch {
	case err != nil:
		out.Status = StatusFailed
		return out, err
	case res.Cancelled:
		out.Status = StatusCancelled
		return out, ErrCancelled
	case !res.Success:
		out.Status = StatusFailed
		return out, &ChunkFailure{Indices: res.FailedIndices}
	}

	merged, err := c.merger.Merge(ctx, job.ID, segs, filepath.Join(c.cfg.OutputDir, name+"."+ext))
	if err != nil {
		out.Status = StatusFailed
		return out, err
	}
	out.Merged = &merged

	repack.OutputBase = filepath.Join(c.cfg.OutputDir, name)
	repack.ConsumeInput = true
	arts, err := c.repackager.Repackage(ctx, merged, repack)
	out.Artifacts = arts
	if err != nil {
		out.Status = StatusFailed
		return out, err
	}

	out.Status = StatusCompleted
	lg.Info().Int("artifacts", len(arts)).Msg("conversion completed")
	return out, nil
}

func (c *Converter) voiceAllowed(voice string) bool {
	if len(c.cfg.Voices) == 0 {
		return voice != ""
	}
	for _, v := range c.cfg.Voices {
		if v == voice {
			return true
		}
	}
	return false
}

// DeriveJobID is the stable job id of a conversion. Identical inputs map to
// the same id, which is what lets an interrupted run resume.
func DeriveJobID(name, voice string, maxUnitSize int, normalizedText string) string {
	return shortuuid.NewWithNamespace(fmt.Sprintf("%s\x00%s\x00%d\x00%s", name, voice, maxUnitSize, normalizedText))
}

// SanitizeName makes name safe as a file name: characters that are invalid
// on common file systems are dropped and spaces become underscores. It
// returns "" when nothing usable is left.
func SanitizeName(name string) string {
	name = strings.Map(func(r rune) rune {
		switch {
		case strings.ContainsRune(`<>:"/\|?*`, r), r < 0x20:
			return -1
		case r == ' ':
			return '_'
		}
		return r
	}, strings.TrimSpace(name))
	return strings.Trim(name, ".")
}

func firstPositive(v, def float64) float64 {
	if v > 0 {
		return v
	}
	return def
}

func firstPositiveInt(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}
