package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"ttsforge/config"
	"ttsforge/extract"
	"ttsforge/ffmpeg"
	"ttsforge/logx"
	"ttsforge/pipeline"
	"ttsforge/progress"
	"ttsforge/synth"
)

type commandContext struct {
	logLevel string

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		cfg, err := config.Load()
		if err != nil {
			c.configErr = fmt.Errorf("load configuration: %w", err)
			return
		}
		if c.logLevel != "" {
			cfg.LogLevel = c.logLevel
		}
		for _, dir := range []string{cfg.OutputDir, cfg.WorkDir} {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				c.configErr = fmt.Errorf("create %s: %w", dir, err)
				return
			}
		}
		logx.Setup(logx.Config{
			Service:  "ttsforge",
			Level:    cfg.LogLevel,
			Format:   cfg.LogFormat,
			FilePath: cfg.LogFile,
		})
		c.config = cfg
	})
	return c.config, c.configErr
}

// media builds the ffmpeg-backed processor shared by every command.
func (c *commandContext) media(cfg *config.Config) (*ffmpeg.Processor, error) {
	runner, err := ffmpeg.NewRunner(cfg)
	if err != nil {
		return nil, fmt.Errorf("initialize ffmpeg runner: %w", err)
	}
	return ffmpeg.NewProcessor(cfg, runner)
}

// converter wires the full pipeline from configuration.
func (c *commandContext) converter(cfg *config.Config) (*pipeline.Converter, error) {
	engine, err := synth.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("initialize synthesis engine: %w", err)
	}
	media, err := c.media(cfg)
	if err != nil {
		return nil, err
	}
	store := progress.NewStore(cfg.ProgressDir())
	return pipeline.NewConverter(cfg, pipeline.Deps{
		Engine:    engine,
		Media:     media,
		Extractor: extract.New(cfg.PdfToTextBin),
		Store:     store,
		Locker:    store,
	}), nil
}

func newRootCommand() *cobra.Command {
	ctx := &commandContext{}

	rootCmd := &cobra.Command{
		Use:           "ttsforge",
		Short:         "Chunked text-to-speech synthesis and reassembly",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			_, err := ctx.ensureConfig()
			return err
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	rootCmd.PersistentFlags().StringVar(&ctx.logLevel, "log-level", "", "Override LOG_LEVEL (debug, info, warn, error)")

	rootCmd.AddCommand(newServeCommand(ctx))
	rootCmd.AddCommand(newConvertCommand(ctx))
	rootCmd.AddCommand(newRepackageCommand(ctx))
	rootCmd.AddCommand(newVoiceTestCommand(ctx))
	return rootCmd
}

// interruptContext returns a context for a foreground run. The first SIGINT
// or SIGTERM fires token so in-flight work can drain; the second cancels the
// context outright.
func interruptContext(parent context.Context, token *pipeline.CancelToken) (context.Context, func()) {
	ctx, cancel := context.WithCancel(parent)
	sigs := make(chan os.Signal, 2)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)

	lg := logx.Component("cli")
	go func() {
		select {
		case <-sigs:
		case <-ctx.Done():
			return
		}
		lg.Warn().Msg("interrupt received, finishing in-flight segments (press Ctrl+C again to abort)")
		token.Cancel()
		select {
		case <-sigs:
			lg.Warn().Msg("second interrupt, aborting")
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, func() {
		signal.Stop(sigs)
		cancel()
	}
}
