package synth

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/google/shlex"

	"ttsforge/config"
	"ttsforge/logx"
)

// Placeholders substituted into SYNTH_COMMAND after it is split.
const (
	TextPlaceholder   = "${TEXT}"
	VoicePlaceholder  = "${VOICE}"
	OutputPlaceholder = "${OUTPUT}"
)

// CommandEngine runs a local synthesis program once per call, for example
// "edge-tts --voice ${VOICE} --text ${TEXT} --write-media ${OUTPUT}".
// Without ${OUTPUT} the audio is read from stdout.
type CommandEngine struct {
	bin     string
	args    []string
	workDir string
	ext     string
}

// NewCommandEngine parses SYNTH_COMMAND and checks that its program exists.
func NewCommandEngine(cfg *config.Config) (*CommandEngine, error) {
	parts, err := shlex.Split(cfg.SynthCommand)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid command syntax: %v", ErrEngineUnavailable, err)
	}
	if len(parts) == 0 {
		return nil, fmt.Errorf("%w: empty command", ErrEngineUnavailable)
	}
	if !containsArg(parts[1:], TextPlaceholder) {
		return nil, fmt.Errorf("%w: command must include %s", ErrEngineUnavailable, TextPlaceholder)
	}
	bin, err := exec.LookPath(parts[0])
	if err != nil {
		return nil, fmt.Errorf("%w: %s not found in PATH", ErrEngineUnavailable, parts[0])
	}
	ext := strings.TrimPrefix(cfg.SynthFormat, ".")
	if ext == "" {
		ext = "mp3"
	}
	return &CommandEngine{bin: bin, args: parts[1:], workDir: cfg.WorkDir, ext: ext}, nil
}

// Synthesize runs the command for text and returns the audio it produced.
func (e *CommandEngine) Synthesize(ctx context.Context, text, voice string) ([]byte, error) {
	var outPath string
	if containsArg(e.args, OutputPlaceholder) {
		if e.workDir != "" {
			if err := os.MkdirAll(e.workDir, 0o755); err != nil {
				return nil, classify(ErrTransient, "create work dir: %v", err)
			}
		}
		f, err := os.CreateTemp(e.workDir, "synth_*."+e.ext)
		if err != nil {
			return nil, classify(ErrTransient, "create output: %v", err)
		}
		outPath = f.Name()
		f.Close()
		defer os.Remove(outPath)
	}

	args := make([]string, len(e.args))
	for i, a := range e.args {
		a = strings.ReplaceAll(a, TextPlaceholder, text)
		a = strings.ReplaceAll(a, VoicePlaceholder, voice)
		a = strings.ReplaceAll(a, OutputPlaceholder, outPath)
		args[i] = a
	}

	cmd := exec.CommandContext(ctx, e.bin, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	lg := logx.FromCtx(ctx)
	lg.Debug().Str("bin", e.bin).Str("voice", voice).Int("chars", len([]rune(text))).Msg("running synthesis command")
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, classify(ErrTransient, "command interrupted: %v", ctx.Err())
		}
		msg := strings.TrimSpace(stderr.String())
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && looksLikeVoiceError(msg) {
			return nil, classify(ErrInvalidVoice, "exit %d: %s", exitErr.ExitCode(), msg)
		}
		return nil, classify(ErrTransient, "%v: %s", err, msg)
	}

	if outPath == "" {
		return stdout.Bytes(), nil
	}
	audio, err := os.ReadFile(outPath)
	if err != nil {
		return nil, classify(ErrTransient, "read output: %v", err)
	}
	return audio, nil
}

func containsArg(args []string, placeholder string) bool {
	for _, a := range args {
		if strings.Contains(a, placeholder) {
			return true
		}
	}
	return false
}

// looksLikeVoiceError recognises the usual edge-tts complaint about an
// unknown voice name.
func looksLikeVoiceError(stderr string) bool {
	s := strings.ToLower(stderr)
	return strings.Contains(s, "invalid voice") || strings.Contains(s, "no voice") || strings.Contains(s, "voice not found")
}
