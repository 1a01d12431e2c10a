package logx

import (
	"context"
	"io"
	"os"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

type ctxKey string

// CtxKeyJobID tags a context with the conversion job it belongs to.
const CtxKeyJobID ctxKey = "job"

// Config controls where and how log lines are written.
type Config struct {
	Service        string // "ttsforge" or a subcommand name
	Level          string // debug|info|warn|error
	Format         string // json|console|auto
	FilePath       string // "" disables the rotating file
	FileMaxSizeMB  int
	FileMaxBackups int
	FileMaxAgeDays int
	FileCompress   bool
}

// Setup configures the zerolog global logger and returns it.
func Setup(c Config) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339
	lvl, err := zerolog.ParseLevel(strings.ToLower(c.Level))
	if err != nil || c.Level == "" {
		lvl = zerolog.InfoLevel
	}

	var writers []io.Writer
	if useConsole(c.Format) {
		writers = append(writers, zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: time.Kitchen,
		})
	} else {
		writers = append(writers, os.Stderr)
	}
	if c.FilePath != "" {
		writers = append(writers, &lumberjack.Logger{
			Filename:   c.FilePath,
			MaxSize:    orDefault(c.FileMaxSizeMB, 50),
			MaxBackups: orDefault(c.FileMaxBackups, 3),
			MaxAge:     orDefault(c.FileMaxAgeDays, 7),
			Compress:   c.FileCompress,
		})
	}

	logger := zerolog.New(io.MultiWriter(writers...)).Level(lvl).With().
		Timestamp().
		Str("svc", c.Service).
		Logger()

	log.Logger = logger
	return logger
}

// Component returns a child of the global logger tagged with a component name.
func Component(name string) zerolog.Logger {
	return log.Logger.With().Str("component", name).Logger()
}

// FromCtx attaches the job id (if present) to the global logger.
func FromCtx(ctx context.Context) zerolog.Logger {
	l := log.Logger
	if ctx == nil {
		return l
	}
	if v, ok := ctx.Value(CtxKeyJobID).(string); ok && v != "" {
		l = l.With().Str("job", v).Logger()
	}
	return l
}

// WithJob returns a context carrying the job id for FromCtx.
func WithJob(ctx context.Context, jobID string) context.Context {
	return context.WithValue(ctx, CtxKeyJobID, jobID)
}

func useConsole(format string) bool {
	switch strings.ToLower(format) {
	case "console":
		return true
	case "json":
		return false
	}
	return isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd())
}

func orDefault(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}
