package synth

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"ttsforge/config"
	"ttsforge/logx"
)

// fallbackTimeout applies when the caller's context has no deadline.
const fallbackTimeout = 90 * time.Second

// maxErrorBody caps how much of an error response is kept.
const maxErrorBody = 4 << 10

// HTTPEngine calls an OpenAI-compatible /v1/audio/speech endpoint.
type HTTPEngine struct {
	url    string
	apiKey string
	model  string
	format string
	client *http.Client
}

func NewHTTPEngine(cfg *config.Config) *HTTPEngine {
	return &HTTPEngine{
		url:    cfg.SynthURL,
		apiKey: cfg.SynthAPIKey,
		model:  cfg.SynthModel,
		format: cfg.SynthFormat,
		client: http.DefaultClient,
	}
}

type speechRequest struct {
	Model          string `json:"model"`
	Input          string `json:"input"`
	Voice          string `json:"voice"`
	ResponseFormat string `json:"response_format,omitempty"`
}

// Synthesize posts text and returns the audio body.
func (e *HTTPEngine) Synthesize(ctx context.Context, text, voice string) ([]byte, error) {
	if e.url == "" {
		return nil, classify(ErrEngineUnavailable, "no endpoint configured")
	}
	body, err := json.Marshal(speechRequest{
		Model:          e.model,
		Input:          text,
		Voice:          voice,
		ResponseFormat: e.format,
	})
	if err != nil {
		return nil, err
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, fallbackTimeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url, bytes.NewReader(body))
	if err != nil {
		return nil, classify(ErrEngineUnavailable, "build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if e.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.apiKey)
	}

	lg := logx.FromCtx(ctx)
	start := time.Now()
	resp, err := e.client.Do(req)
	if err != nil {
		return nil, classify(ErrTransient, "request: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, statusError(resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, classify(ErrTransient, "read audio: %v", err)
	}
	lg.Debug().
		Int("chars", len([]rune(text))).
		Int("bytes", len(audio)).
		Dur("took", time.Since(start)).
		Msg("speech synthesized")
	return audio, nil
}

func statusError(code int, msg string) error {
	switch {
	case code >= 500, code == http.StatusTooManyRequests, code == http.StatusRequestTimeout:
		return classify(ErrTransient, "status %d: %s", code, msg)
	case code == http.StatusUnauthorized, code == http.StatusForbidden, code == http.StatusNotFound:
		return classify(ErrEngineUnavailable, "status %d: %s", code, msg)
	default:
		return classify(ErrInvalidVoice, "status %d: %s", code, msg)
	}
}
