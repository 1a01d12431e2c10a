package ffmpeg

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"ttsforge/config"
)

// Processor implements the media operations of the conversion pipeline on
// top of ffmpeg and ffprobe.
type Processor struct {
	cfg       *config.Config
	runner    CommandRunner
	extraArgs []string
}

// NewProcessor validates FF_EXTRA_ARGS and returns a processor.
func NewProcessor(cfg *config.Config, runner CommandRunner) (*Processor, error) {
	extra, err := SplitCommand(cfg.FFExtraArgs)
	if err != nil {
		return nil, err
	}
	if err := ValidateExtraArgs(extra); err != nil {
		return nil, err
	}
	return &Processor{cfg: cfg, runner: runner, extraArgs: extra}, nil
}

type probeResult struct {
	Streams []struct {
		CodecType string `json:"codec_type"`
		Duration  string `json:"duration"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

// Probe returns the duration of path in seconds.
func (p *Processor) Probe(ctx context.Context, path string) (float64, error) {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	out, err := p.runner.Run(ctx, p.probeBin(), "-v", "error", "-hide_banner", "-show_format", "-show_streams", "-of", "json", "--", path)
	if err != nil {
		return 0, err
	}
	var res probeResult
	if err := json.Unmarshal(out.Stdout, &res); err != nil {
		return 0, fmt.Errorf("ffprobe parse: %w", err)
	}

	dur := parseSeconds(res.Format.Duration)
	if dur <= 0 {
		for _, s := range res.Streams {
			dur = math.Max(dur, parseSeconds(s.Duration))
		}
	}
	if dur <= 0 {
		return 0, fmt.Errorf("ffprobe: no duration reported for %s", path)
	}
	return dur, nil
}

// ChangeSpeed re-encodes the audio of in at factor times its speed.
func (p *Processor) ChangeSpeed(ctx context.Context, in, out string, factor float64) error {
	if factor <= 0 {
		return fmt.Errorf("invalid speed factor %v", factor)
	}
	return p.ffmpeg(ctx, "-i", in, "-filter:a", "atempo="+formatSeconds(factor), "-vn", out)
}

// WrapAsVideo muxes audioIn with a black still track into videoOut.
func (p *Processor) WrapAsVideo(ctx context.Context, audioIn, videoOut string, durationSeconds float64) error {
	size := p.cfg.VideoSize
	if size == "" {
		size = "1280x720"
	}
	bitrate := p.cfg.AudioBitrate
	if bitrate == "" {
		bitrate = "192k"
	}
	return p.ffmpeg(ctx,
		"-f", "lavfi", "-i", fmt.Sprintf("color=c=black:s=%s:d=%s", size, formatSeconds(durationSeconds)),
		"-i", audioIn,
		"-map", "0:v", "-map", "1:a",
		"-c:v", "libx264", "-tune", "stillimage", "-pix_fmt", "yuv420p",
		"-c:a", "aac", "-b:a", bitrate,
		"-shortest",
		videoOut,
	)
}

// Concat joins orderedPaths into out by stream copy, in the given order.
func (p *Processor) Concat(ctx context.Context, orderedPaths []string, out string) error {
	if len(orderedPaths) == 0 {
		return errors.New("concat: no inputs")
	}
	list, err := writeConcatList(orderedPaths, out)
	if err != nil {
		return err
	}
	defer os.Remove(list)
	return p.ffmpeg(ctx, "-f", "concat", "-safe", "0", "-i", list, "-c", "copy", out)
}

// Trim copies durationSeconds of in starting at startSeconds into out
// without re-encoding.
func (p *Processor) Trim(ctx context.Context, in, out string, startSeconds, durationSeconds float64) error {
	return p.ffmpeg(ctx, "-i", in, "-ss", formatSeconds(startSeconds), "-t", formatSeconds(durationSeconds), "-map", "0", "-c", "copy", out)
}

func (p *Processor) ffmpeg(ctx context.Context, args ...string) error {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	full := make([]string, 0, len(p.extraArgs)+len(args)+1)
	full = append(full, p.extraArgs...)
	full = append(full, "-y")
	full = append(full, args...)
	_, err := p.runner.Run(ctx, p.ffmpegBin(), full...)
	return err
}

func (p *Processor) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if p.cfg.FFTimeout > 0 {
		return context.WithTimeout(ctx, p.cfg.FFTimeout)
	}
	return context.WithCancel(ctx)
}

func (p *Processor) ffmpegBin() string {
	if p.cfg.FFBin == "" {
		return "ffmpeg"
	}
	return p.cfg.FFBin
}

func (p *Processor) probeBin() string {
	if p.cfg.FFProbeBin == "" {
		return "ffprobe"
	}
	return p.cfg.FFProbeBin
}

// writeConcatList writes the concat demuxer list next to out.
func writeConcatList(paths []string, out string) (string, error) {
	var b strings.Builder
	for _, path := range paths {
		abs, err := filepath.Abs(path)
		if err != nil {
			return "", err
		}
		b.WriteString("file '")
		b.WriteString(strings.ReplaceAll(abs, "'", `'\''`))
		b.WriteString("'\n")
	}
	f, err := os.CreateTemp(filepath.Dir(out), filepath.Base(out)+".concat-*.txt")
	if err != nil {
		return "", fmt.Errorf("create concat list: %w", err)
	}
	if _, err := f.WriteString(b.String()); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", fmt.Errorf("write concat list: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", err
	}
	return f.Name(), nil
}

func parseSeconds(v string) float64 {
	v = strings.TrimSpace(v)
	if v == "" || v == "N/A" {
		return 0
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return f
}

func formatSeconds(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
