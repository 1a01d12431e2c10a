// Package synth provides speech synthesis engines: an OpenAI-compatible
// HTTP speech endpoint and a local command such as edge-tts.
package synth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"ttsforge/config"
	"ttsforge/retry"
)

var (
	// ErrTransient marks failures worth retrying: timeouts, 5xx, rate limits.
	ErrTransient = errors.New("synth: transient failure")
	// ErrInvalidVoice marks a request the engine will never accept.
	ErrInvalidVoice = errors.New("synth: invalid voice")
	// ErrEngineUnavailable marks a missing binary or unusable configuration.
	ErrEngineUnavailable = errors.New("synth: engine unavailable")
)

// Engine turns text spoken with a voice into audio bytes.
type Engine interface {
	Synthesize(ctx context.Context, text, voice string) ([]byte, error)
}

// IsPermanent reports whether retrying err cannot help.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrInvalidVoice) || errors.Is(err, ErrEngineUnavailable)
}

// classify wraps err with its sentinel. Permanent failures are also marked
// so that retry loops stop at once.
func classify(sentinel error, format string, args ...any) error {
	err := fmt.Errorf("%w: %s", sentinel, fmt.Sprintf(format, args...))
	if IsPermanent(err) {
		return retry.Permanent(err)
	}
	return err
}

// New builds the engine selected by SYNTH_ENGINE.
func New(cfg *config.Config) (Engine, error) {
	switch strings.ToLower(cfg.SynthEngine) {
	case "", "command":
		return NewCommandEngine(cfg)
	case "http":
		return NewHTTPEngine(cfg), nil
	default:
		return nil, fmt.Errorf("%w: unknown engine %q", ErrEngineUnavailable, cfg.SynthEngine)
	}
}
