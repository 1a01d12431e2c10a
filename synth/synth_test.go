package synth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ttsforge/config"
	"ttsforge/retry"
)

func TestHTTPEngine_Synthesize(t *testing.T) {
	var got speechRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "audio/mpeg")
		w.Write([]byte("ID3-audio-bytes"))
	}))
	defer srv.Close()

	e := NewHTTPEngine(&config.Config{SynthURL: srv.URL, SynthAPIKey: "sk-test", SynthModel: "tts-1", SynthFormat: "mp3"})
	audio, err := e.Synthesize(context.Background(), "Olá mundo.", "alloy")
	require.NoError(t, err)
	assert.Equal(t, "ID3-audio-bytes", string(audio))
	assert.Equal(t, speechRequest{Model: "tts-1", Input: "Olá mundo.", Voice: "alloy", ResponseFormat: "mp3"}, got)
}

func TestHTTPEngine_ClassifiesStatus(t *testing.T) {
	cases := []struct {
		status    int
		sentinel  error
		permanent bool
	}{
		{http.StatusInternalServerError, ErrTransient, false},
		{http.StatusBadGateway, ErrTransient, false},
		{http.StatusTooManyRequests, ErrTransient, false},
		{http.StatusBadRequest, ErrInvalidVoice, true},
		{http.StatusUnprocessableEntity, ErrInvalidVoice, true},
		{http.StatusUnauthorized, ErrEngineUnavailable, true},
	}
	for _, c := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "nope", c.status)
		}))
		e := NewHTTPEngine(&config.Config{SynthURL: srv.URL})
		_, err := e.Synthesize(context.Background(), "hi", "v")
		srv.Close()

		assert.ErrorIs(t, err, c.sentinel, "status %d", c.status)
		assert.Equal(t, c.permanent, retry.IsPermanent(err), "status %d", c.status)
		assert.Equal(t, c.permanent, IsPermanent(err), "status %d", c.status)
	}
}

func TestHTTPEngine_TimeoutIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	defer srv.Close()

	e := NewHTTPEngine(&config.Config{SynthURL: srv.URL})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := e.Synthesize(ctx, "hi", "v")
	assert.ErrorIs(t, err, ErrTransient)
	assert.False(t, retry.IsPermanent(err))
}

func TestHTTPEngine_NoEndpoint(t *testing.T) {
	_, err := NewHTTPEngine(&config.Config{}).Synthesize(context.Background(), "hi", "v")
	assert.ErrorIs(t, err, ErrEngineUnavailable)
	assert.True(t, retry.IsPermanent(err))
}

func requireShell(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
}

func TestCommandEngine_WritesOutputFile(t *testing.T) {
	requireShell(t)
	cfg := &config.Config{
		SynthCommand: `sh -c 'printf "%s|%s" "$1" "$2" > "$3"' synth ${TEXT} ${VOICE} ${OUTPUT}`,
		SynthFormat:  "mp3",
		WorkDir:      t.TempDir(),
	}
	e, err := NewCommandEngine(cfg)
	require.NoError(t, err)

	audio, err := e.Synthesize(context.Background(), "it's a test; really", "pt-BR-ThalitaMultilingualNeural")
	require.NoError(t, err)
	assert.Equal(t, "it's a test; really|pt-BR-ThalitaMultilingualNeural", string(audio))
}

func TestCommandEngine_ReadsStdout(t *testing.T) {
	requireShell(t)
	e, err := NewCommandEngine(&config.Config{SynthCommand: `sh -c 'printf "%s" "$1"' synth ${TEXT}`})
	require.NoError(t, err)

	audio, err := e.Synthesize(context.Background(), "hello", "v")
	require.NoError(t, err)
	assert.Equal(t, "hello", string(audio))
}

func TestCommandEngine_Failures(t *testing.T) {
	requireShell(t)

	e, err := NewCommandEngine(&config.Config{SynthCommand: `sh -c 'echo "Invalid voice $1" >&2; exit 3' synth ${VOICE} ${TEXT}`})
	require.NoError(t, err)
	_, err = e.Synthesize(context.Background(), "hello", "xx-Nobody")
	assert.ErrorIs(t, err, ErrInvalidVoice)
	assert.True(t, retry.IsPermanent(err))

	e, err = NewCommandEngine(&config.Config{SynthCommand: `sh -c 'echo "connection reset" >&2; exit 1' synth ${TEXT}`})
	require.NoError(t, err)
	_, err = e.Synthesize(context.Background(), "hello", "v")
	assert.ErrorIs(t, err, ErrTransient)
	assert.False(t, retry.IsPermanent(err))
}

func TestNewCommandEngine_Validation(t *testing.T) {
	_, err := NewCommandEngine(&config.Config{SynthCommand: "edge-tts --voice ${VOICE}"})
	assert.ErrorIs(t, err, ErrEngineUnavailable)

	_, err = NewCommandEngine(&config.Config{SynthCommand: "definitely-not-a-real-binary-xyz --text ${TEXT}"})
	assert.ErrorIs(t, err, ErrEngineUnavailable)

	_, err = NewCommandEngine(&config.Config{SynthCommand: `broken 'quote ${TEXT}`})
	assert.ErrorIs(t, err, ErrEngineUnavailable)
}

func TestNew(t *testing.T) {
	e, err := New(&config.Config{SynthEngine: "http", SynthURL: "http://localhost"})
	require.NoError(t, err)
	assert.IsType(t, &HTTPEngine{}, e)

	e, err = New(&config.Config{SynthCommand: "sh -c 'cat' sh ${TEXT}"})
	require.NoError(t, err)
	assert.IsType(t, &CommandEngine{}, e)

	_, err = New(&config.Config{SynthEngine: "carrier-pigeon"})
	assert.ErrorIs(t, err, ErrEngineUnavailable)
}
