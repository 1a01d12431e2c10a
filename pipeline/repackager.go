package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"ttsforge/logx"
)

const (
	MinSpeed = 0.5
	MaxSpeed = 2.0

	// DefaultMaxDurationSeconds is the part ceiling used when none is given (12h).
	DefaultMaxDurationSeconds = 43200.0
)

// durationEpsilon absorbs container rounding when comparing durations.
const durationEpsilon = 0.001

// RepackOptions select the post-processing applied to a merged artifact.
type RepackOptions struct {
	Speed              float64    // 0 means 1.0
	Kind               OutputKind // "" means audio
	MaxDurationSeconds float64    // <= 0 means DefaultMaxDurationSeconds
	// OutputBase is the path prefix of produced files, without extension.
	// Defaults to the input path without its extension.
	OutputBase string
	// ConsumeInput lets Repackage delete the input once a later step has
	// superseded it. The input is kept when it is itself the final artifact.
	ConsumeInput bool
}

// Repackager applies speed change, video wrapping and duration splitting.
type Repackager struct {
	media MediaProcessor
}

func NewRepackager(media MediaProcessor) *Repackager {
	return &Repackager{media: media}
}

// Repackage turns in into one or more final artifacts. The input file is
// only removed when opts.ConsumeInput is set and a later step replaced it.
// Intermediate files created here are removed once superseded; when a step
// fails, everything already produced stays on disk.
func (r *Repackager) Repackage(ctx context.Context, in MediaArtifact, opts RepackOptions) ([]MediaArtifact, error) {
	speed, kind, maxDur, err := validateRepack(opts)
	if err != nil {
		return nil, err
	}
	lg := logx.FromCtx(ctx).With().Str("component", "repackager").Str("input", in.Path).Logger()

	ext := filepath.Ext(in.Path)
	base := opts.OutputBase
	if base == "" {
		base = strings.TrimSuffix(in.Path, ext)
	}

	cur, owned := in.Path, opts.ConsumeInput
	if speed != 1 {
		base += SpeedSuffix(speed)
		out := base + ext
		if err := r.media.ChangeSpeed(ctx, cur, out, speed); err != nil {
			return nil, &StepError{Step: "speed", Err: err}
		}
		if owned {
			removeIntermediate(cur, lg)
		}
		cur, owned = out, true
		lg.Debug().Float64("speed", speed).Str("output", out).Msg("speed changed")
	}

	dur, err := r.media.Probe(ctx, cur)
	if err != nil {
		return nil, &StepError{Step: "probe", Err: err}
	}
	split := dur-durationEpsilon > maxDur

	if kind == KindVideo {
		ext = ".mp4"
		out := base + ext
		if split {
			out = base + "_full" + ext
		}
		if out == cur {
			out = base + "_video" + ext
		}
		if err := r.media.WrapAsVideo(ctx, cur, out, dur); err != nil {
			return nil, &StepError{Step: "video", Err: err}
		}
		if owned {
			removeIntermediate(cur, lg)
		}
		cur, owned = out, true
	}

	if !split {
		return []MediaArtifact{{Path: cur, Kind: kind, DurationSeconds: dur}}, nil
	}

	n := int(math.Ceil((dur - durationEpsilon) / maxDur))
	parts := make([]MediaArtifact, 0, n)
	for i := 0; i < n; i++ {
		start := float64(i) * maxDur
		length := math.Min(maxDur, dur-start)
		out := fmt.Sprintf("%s_part%d%s", base, i+1, ext)
		if err := r.media.Trim(ctx, cur, out, start, length); err != nil {
			return parts, &StepError{Step: "split", Err: fmt.Errorf("part %d: %w", i+1, err)}
		}
		parts = append(parts, MediaArtifact{Path: out, Kind: kind, DurationSeconds: length, Part: i + 1})
	}
	if owned {
		removeIntermediate(cur, lg)
	}
	lg.Info().Int("parts", n).Float64("seconds", dur).Msg("artifact split")
	return parts, nil
}

// SpeedSuffix is the file name marker of a speed-changed artifact, e.g.
// "_x1_5" for 1.5.
func SpeedSuffix(speed float64) string {
	return "_x" + strings.ReplaceAll(strconv.FormatFloat(speed, 'f', -1, 64), ".", "_")
}

// PartCount is the number of parts an artifact of dur seconds is split into.
func PartCount(dur, maxDur float64) int {
	if maxDur <= 0 {
		maxDur = DefaultMaxDurationSeconds
	}
	if dur-durationEpsilon <= maxDur {
		return 1
	}
	return int(math.Ceil((dur - durationEpsilon) / maxDur))
}

func validateRepack(opts RepackOptions) (float64, OutputKind, float64, error) {
	speed := opts.Speed
	if speed == 0 {
		speed = 1
	}
	if math.IsNaN(speed) || speed < MinSpeed || speed > MaxSpeed {
		return 0, "", 0, fmt.Errorf("%w: %v (allowed %.1f to %.1f)", ErrInvalidSpeed, opts.Speed, MinSpeed, MaxSpeed)
	}

	kind := opts.Kind
	switch kind {
	case "":
		kind = KindAudio
	case KindAudio, KindVideo:
	default:
		return 0, "", 0, fmt.Errorf("%w: %q", ErrInvalidOutputKind, opts.Kind)
	}

	maxDur := opts.MaxDurationSeconds
	if maxDur <= 0 {
		maxDur = DefaultMaxDurationSeconds
	}
	return speed, kind, maxDur, nil
}

func removeIntermediate(path string, lg zerolog.Logger) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		lg.Warn().Err(err).Str("path", path).Msg("could not remove intermediate")
	}
}
