package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

// fakeSynth is a Synthesizer whose behaviour is supplied per test.
type fakeSynth struct {
	fn func(ctx context.Context, text, voice string) ([]byte, error)

	mu    sync.Mutex
	calls map[string]int
}

func (f *fakeSynth) Synthesize(ctx context.Context, text, voice string) ([]byte, error) {
	f.mu.Lock()
	if f.calls == nil {
		f.calls = make(map[string]int)
	}
	f.calls[text]++
	f.mu.Unlock()
	if f.fn != nil {
		return f.fn(ctx, text, voice)
	}
	return audioFor(text), nil
}

func (f *fakeSynth) count(text string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[text]
}

func (f *fakeSynth) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

// audioFor returns deterministic bytes above the test size floor.
func audioFor(text string) []byte {
	return []byte(strings.Repeat("["+text+"]", 8))
}

const testMinBytes = 16

// mediaCall records one call into fakeMedia.
type mediaCall struct {
	Op    string
	In    []string
	Out   string
	Start float64
	Dur   float64
	Speed float64
}

// fakeMedia is a MediaProcessor working on plain files. Concat writes the
// inputs back to back so that output order can be checked byte for byte.
type fakeMedia struct {
	mu        sync.Mutex
	calls     []mediaCall
	durations map[string]float64 // probe results by path
	duration  float64            // probe result for unknown paths

	concatErr, probeErr, speedErr, videoErr, trimErr error
}

func (f *fakeMedia) record(c mediaCall) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, c)
}

func (f *fakeMedia) ops() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ops []string
	for _, c := range f.calls {
		ops = append(ops, c.Op)
	}
	return ops
}

func (f *fakeMedia) callsOf(op string) []mediaCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []mediaCall
	for _, c := range f.calls {
		if c.Op == op {
			out = append(out, c)
		}
	}
	return out
}

func (f *fakeMedia) Probe(ctx context.Context, path string) (float64, error) {
	f.record(mediaCall{Op: "probe", In: []string{path}})
	if f.probeErr != nil {
		return 0, f.probeErr
	}
	if d, ok := f.durations[path]; ok {
		return d, nil
	}
	return f.duration, nil
}

func (f *fakeMedia) ChangeSpeed(ctx context.Context, in, out string, factor float64) error {
	f.record(mediaCall{Op: "speed", In: []string{in}, Out: out, Speed: factor})
	if f.speedErr != nil {
		return f.speedErr
	}
	return copyFile(in, out)
}

func (f *fakeMedia) WrapAsVideo(ctx context.Context, audioIn, videoOut string, durationSeconds float64) error {
	f.record(mediaCall{Op: "video", In: []string{audioIn}, Out: videoOut, Dur: durationSeconds})
	if f.videoErr != nil {
		return f.videoErr
	}
	return copyFile(audioIn, videoOut)
}

func (f *fakeMedia) Concat(ctx context.Context, orderedPaths []string, out string) error {
	f.record(mediaCall{Op: "concat", In: append([]string(nil), orderedPaths...), Out: out})
	if f.concatErr != nil {
		return f.concatErr
	}
	var buf bytes.Buffer
	for _, p := range orderedPaths {
		data, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		buf.Write(data)
	}
	return os.WriteFile(out, buf.Bytes(), 0o644)
}

func (f *fakeMedia) Trim(ctx context.Context, in, out string, startSeconds, durationSeconds float64) error {
	f.record(mediaCall{Op: "trim", In: []string{in}, Out: out, Start: startSeconds, Dur: durationSeconds})
	if f.trimErr != nil {
		return f.trimErr
	}
	return os.WriteFile(out, []byte(fmt.Sprintf("%s %.3f %.3f", in, startSeconds, durationSeconds)), 0o644)
}

func copyFile(in, out string) error {
	data, err := os.ReadFile(in)
	if err != nil {
		return err
	}
	return os.WriteFile(out, data, 0o644)
}

// newJob builds a job over texts with index i holding texts[i].
func newJob(t *testing.T, id string, texts ...string) *Job {
	t.Helper()
	segs := make([]*Segment, len(texts))
	for i, text := range texts {
		segs[i] = &Segment{Index: i, Text: text, State: StatePending}
	}
	return &Job{
		ID:               id,
		Segments:         segs,
		ConcurrencyLimit: 2,
		MaxRetries:       3,
		Voice:            "test-voice",
		WorkDir:          t.TempDir(),
		ArtifactExt:      "mp3",
		Cancel:           NewCancelToken(),
	}
}

func writeFile(t *testing.T, path string, data []byte) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, data, 0o644))
}
