package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"ttsforge/pipeline"
)

type convertOptions struct {
	voice       string
	name        string
	speed       float64
	video       bool
	maxDuration time.Duration
	maxUnitSize int
	concurrency int
	retries     int
	jsonOutput  bool
}

func newConvertCommand(ctx *commandContext) *cobra.Command {
	var opts convertOptions

	cmd := &cobra.Command{
		Use:   "convert <file>",
		Short: "Synthesize a text or PDF document into audio or video",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			conv, err := ctx.converter(cfg)
			if err != nil {
				return err
			}

			path, err := filepath.Abs(args[0])
			if err != nil {
				return err
			}
			req := pipeline.Request{
				Name:               opts.name,
				DocumentPath:       path,
				Voice:              opts.voice,
				Speed:              opts.speed,
				OutputKind:         pipeline.KindAudio,
				MaxDurationSeconds: opts.maxDuration.Seconds(),
				MaxUnitSize:        opts.maxUnitSize,
				ConcurrencyLimit:   opts.concurrency,
				MaxRetries:         opts.retries,
			}
			if opts.video {
				req.OutputKind = pipeline.KindVideo
			}

			token := pipeline.NewCancelToken()
			runCtx, stop := interruptContext(cmd.Context(), token)
			defer stop()

			out, convErr := conv.Convert(runCtx, req, token)
			if opts.jsonOutput {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if err := enc.Encode(out); err != nil {
					return err
				}
				return convErr
			}

			fmt.Fprint(cmd.OutOrStdout(), renderOutcome(out))
			var chunkErr *pipeline.ChunkFailure
			if errors.As(convErr, &chunkErr) {
				fmt.Fprintf(cmd.ErrOrStderr(), "Run the same command again to resume from segment %d.\n", resumeHint(out))
			}
			return convErr
		},
	}

	cmd.Flags().StringVar(&opts.voice, "voice", "", "Voice identifier (defaults to VOICE)")
	cmd.Flags().StringVar(&opts.name, "name", "", "Output file name without extension (defaults to the input name)")
	cmd.Flags().Float64Var(&opts.speed, "speed", 1.0, "Playback speed factor between 0.5 and 2.0")
	cmd.Flags().BoolVar(&opts.video, "video", false, "Produce MP4 video with a still frame instead of audio")
	cmd.Flags().DurationVar(&opts.maxDuration, "max-duration", 0, "Split outputs longer than this (defaults to MAX_DURATION)")
	cmd.Flags().IntVar(&opts.maxUnitSize, "max-unit-size", 0, "Maximum characters per segment (defaults to MAX_UNIT_SIZE)")
	cmd.Flags().IntVar(&opts.concurrency, "concurrency", 0, "Concurrent synthesis requests (defaults to MAX_CONCURRENCY)")
	cmd.Flags().IntVar(&opts.retries, "retries", 0, "Attempts per segment (defaults to MAX_RETRIES)")
	cmd.Flags().BoolVar(&opts.jsonOutput, "json", false, "Print the outcome as JSON")
	return cmd
}

// resumeHint is the first segment a rerun will synthesize.
func resumeHint(out pipeline.Outcome) int {
	for _, s := range out.Segments {
		if s.State != pipeline.StateDone {
			return s.Index
		}
	}
	return len(out.Segments)
}

func newRepackageCommand(ctx *commandContext) *cobra.Command {
	var (
		speed       float64
		video       bool
		maxDuration time.Duration
	)

	cmd := &cobra.Command{
		Use:   "repackage <media>",
		Short: "Change speed, wrap as video or split an existing audio file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			media, err := ctx.media(cfg)
			if err != nil {
				return err
			}
			if _, err := os.Stat(args[0]); err != nil {
				return err
			}

			token := pipeline.NewCancelToken()
			runCtx, stop := interruptContext(cmd.Context(), token)
			defer stop()

			kind := pipeline.KindAudio
			if video {
				kind = pipeline.KindVideo
			}
			maxSeconds := maxDuration.Seconds()
			if maxSeconds <= 0 {
				maxSeconds = cfg.MaxDurationSeconds()
			}
			arts, err := pipeline.NewRepackager(media).Repackage(runCtx, pipeline.MediaArtifact{
				Path: args[0],
				Kind: pipeline.KindAudio,
			}, pipeline.RepackOptions{
				Speed:              speed,
				Kind:               kind,
				MaxDurationSeconds: maxSeconds,
			})
			if len(arts) > 0 {
				fmt.Fprint(cmd.OutOrStdout(), renderArtifacts(arts))
			}
			return err
		},
	}

	cmd.Flags().Float64Var(&speed, "speed", 1.0, "Playback speed factor between 0.5 and 2.0")
	cmd.Flags().BoolVar(&video, "video", false, "Wrap the audio as MP4 video")
	cmd.Flags().DurationVar(&maxDuration, "max-duration", 0, "Split outputs longer than this (defaults to MAX_DURATION)")
	return cmd
}

func trimForTable(s string, n int) string {
	r := []rune(strings.TrimSpace(s))
	if len(r) <= n {
		return string(r)
	}
	return string(r[:n-1]) + "…"
}
