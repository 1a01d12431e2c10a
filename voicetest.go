package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"ttsforge/logx"
	"ttsforge/pipeline"
	"ttsforge/synth"
)

const defaultSampleText = "Este é um teste da voz para conversão de texto em fala."

func newVoiceTestCommand(ctx *commandContext) *cobra.Command {
	var (
		text string
		all  bool
	)

	cmd := &cobra.Command{
		Use:   "voice-test [voice...]",
		Short: "Synthesize a short sample for one or more voices",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			voices := args
			if all {
				voices = cfg.Voices
			}
			if len(voices) == 0 {
				voices = []string{cfg.Voice}
			}

			engine, err := synth.New(cfg)
			if err != nil {
				return fmt.Errorf("initialize synthesis engine: %w", err)
			}
			ext := strings.TrimPrefix(cfg.SynthFormat, ".")
			if ext == "" {
				ext = "mp3"
			}

			samples, err := writeVoiceSamples(cmd.Context(), engine, voices, text, filepath.Join(cfg.OutputDir, "voice_tests"), ext)
			rows := make([][]string, 0, len(samples))
			for _, s := range samples {
				size, status := "", "ok"
				if s.Err != nil {
					status = trimForTable(s.Err.Error(), 48)
				} else {
					size = humanize.Bytes(uint64(s.Bytes))
				}
				rows = append(rows, []string{s.Voice, filepath.Base(s.Path), size, status})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"Voice", "File", "Audio", "Result"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignRight, alignLeft},
			))
			return err
		},
	}
	cmd.Flags().StringVar(&text, "text", defaultSampleText, "Sample text")
	cmd.Flags().BoolVar(&all, "all", false, "Test every voice in VOICES")
	return cmd
}

type voiceSample struct {
	Voice string
	Path  string
	Bytes int64
	Err   error
}

// writeVoiceSamples synthesizes text once per voice into dir. A failing voice
// does not stop the others; the returned error counts the failures.
func writeVoiceSamples(ctx context.Context, engine pipeline.Synthesizer, voices []string, text, dir, ext string) ([]voiceSample, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	lg := logx.Component("voice-test")

	samples := make([]voiceSample, 0, len(voices))
	failed := 0
	for _, voice := range voices {
		name := pipeline.SanitizeName(voice)
		if name == "" {
			name = "voice"
		}
		s := voiceSample{Voice: voice, Path: filepath.Join(dir, name+"."+ext)}
		audio, err := engine.Synthesize(ctx, text, voice)
		if err == nil {
			err = os.WriteFile(s.Path, audio, 0o644)
		}
		if err != nil {
			lg.Warn().Err(err).Str("voice", voice).Msg("voice sample failed")
			s.Err = err
			failed++
		} else {
			s.Bytes = int64(len(audio))
			lg.Info().Str("voice", voice).Str("path", s.Path).Msg("voice sample written")
		}
		samples = append(samples, s)
		if ctx.Err() != nil {
			return samples, ctx.Err()
		}
	}
	if failed > 0 {
		return samples, fmt.Errorf("%d of %d voice samples failed", failed, len(voices))
	}
	return samples, nil
}
