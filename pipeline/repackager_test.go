package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mergedArtifact(t *testing.T, dir string) MediaArtifact {
	t.Helper()
	path := filepath.Join(dir, "book.mp3")
	writeFile(t, path, []byte("audio"))
	return MediaArtifact{Path: path, Kind: KindAudio}
}

func TestRepackager_PassThrough(t *testing.T) {
	dir := t.TempDir()
	in := mergedArtifact(t, dir)
	media := &fakeMedia{duration: 600}

	arts, err := NewRepackager(media).Repackage(context.Background(), in, RepackOptions{})
	require.NoError(t, err)
	require.Len(t, arts, 1)
	assert.Equal(t, in.Path, arts[0].Path)
	assert.Equal(t, 600.0, arts[0].DurationSeconds)
	assert.Equal(t, []string{"probe"}, media.ops())
}

func TestRepackager_SplitsLongArtifact(t *testing.T) {
	dir := t.TempDir()
	in := mergedArtifact(t, dir)
	media := &fakeMedia{duration: 50000}

	arts, err := NewRepackager(media).Repackage(context.Background(), in, RepackOptions{MaxDurationSeconds: 43200})
	require.NoError(t, err)
	require.Len(t, arts, 2)

	trims := media.callsOf("trim")
	require.Len(t, trims, 2)
	assert.Equal(t, 0.0, trims[0].Start)
	assert.Equal(t, 43200.0, trims[0].Dur)
	assert.Equal(t, 43200.0, trims[1].Start)
	assert.InDelta(t, 6800.0, trims[1].Dur, 1e-9)

	assert.Equal(t, filepath.Join(dir, "book_part1.mp3"), arts[0].Path)
	assert.Equal(t, filepath.Join(dir, "book_part2.mp3"), arts[1].Path)
	assert.Equal(t, 1, arts[0].Part)
	assert.Equal(t, 2, arts[1].Part)
	assert.InDelta(t, 50000.0, arts[0].DurationSeconds+arts[1].DurationSeconds, 1e-6)

	// The input is never removed.
	_, err = os.Stat(in.Path)
	assert.NoError(t, err)
}

func TestRepackager_PartCountProperty(t *testing.T) {
	cases := []struct {
		total, max float64
		want       int
	}{
		{100, 100, 1},
		{100.0005, 100, 1},
		{101, 100, 2},
		{200, 100, 2},
		{250, 100, 3},
		{50000, 43200, 2},
		{129600, 43200, 3},
	}
	for _, c := range cases {
		dir := t.TempDir()
		media := &fakeMedia{duration: c.total}
		arts, err := NewRepackager(media).Repackage(context.Background(), mergedArtifact(t, dir), RepackOptions{MaxDurationSeconds: c.max})
		require.NoError(t, err)
		assert.Len(t, arts, c.want, "total=%v max=%v", c.total, c.max)
		assert.Equal(t, c.want, PartCount(c.total, c.max))

		sum := 0.0
		for _, a := range arts {
			assert.LessOrEqual(t, a.DurationSeconds, c.max+durationEpsilon)
			sum += a.DurationSeconds
		}
		assert.InDelta(t, c.total, sum, 1e-6)
	}
}

func TestRepackager_SpeedAndVideo(t *testing.T) {
	dir := t.TempDir()
	in := mergedArtifact(t, dir)
	media := &fakeMedia{duration: 120}

	arts, err := NewRepackager(media).Repackage(context.Background(), in, RepackOptions{Speed: 1.5, Kind: KindVideo})
	require.NoError(t, err)
	require.Len(t, arts, 1)

	assert.Equal(t, []string{"speed", "probe", "video"}, media.ops())
	speed := media.callsOf("speed")[0]
	assert.Equal(t, 1.5, speed.Speed)
	assert.Equal(t, filepath.Join(dir, "book_x1_5.mp3"), speed.Out)

	assert.Equal(t, filepath.Join(dir, "book_x1_5.mp4"), arts[0].Path)
	assert.Equal(t, KindVideo, arts[0].Kind)
	assert.Equal(t, 120.0, media.callsOf("video")[0].Dur)

	// The speed-changed audio was only an intermediate.
	_, err = os.Stat(speed.Out)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(in.Path)
	assert.NoError(t, err)
}

func TestRepackager_VideoThenSplit(t *testing.T) {
	dir := t.TempDir()
	in := mergedArtifact(t, dir)
	media := &fakeMedia{duration: 250}

	arts, err := NewRepackager(media).Repackage(context.Background(), in, RepackOptions{Kind: KindVideo, MaxDurationSeconds: 100})
	require.NoError(t, err)
	require.Len(t, arts, 3)

	video := media.callsOf("video")[0]
	assert.Equal(t, filepath.Join(dir, "book_full.mp4"), video.Out)
	for _, tr := range media.callsOf("trim") {
		assert.Equal(t, video.Out, tr.In[0])
	}
	assert.Equal(t, filepath.Join(dir, "book_part3.mp4"), arts[2].Path)
	assert.InDelta(t, 50.0, arts[2].DurationSeconds, 1e-9)

	_, err = os.Stat(video.Out)
	assert.True(t, os.IsNotExist(err), "pre-split whole file should be removed")
}

func TestRepackager_RejectsBadOptionsBeforeWork(t *testing.T) {
	dir := t.TempDir()
	in := mergedArtifact(t, dir)

	for _, speed := range []float64{0.49, 2.01, -1} {
		media := &fakeMedia{}
		_, err := NewRepackager(media).Repackage(context.Background(), in, RepackOptions{Speed: speed})
		assert.ErrorIs(t, err, ErrInvalidSpeed, "speed %v", speed)
		assert.Empty(t, media.ops())
	}

	media := &fakeMedia{}
	_, err := NewRepackager(media).Repackage(context.Background(), in, RepackOptions{Kind: "gif"})
	assert.ErrorIs(t, err, ErrInvalidOutputKind)
	assert.Empty(t, media.ops())
}

func TestRepackager_StepFailures(t *testing.T) {
	boom := errors.New("tool failed")

	t.Run("speed", func(t *testing.T) {
		media := &fakeMedia{speedErr: boom}
		_, err := NewRepackager(media).Repackage(context.Background(), mergedArtifact(t, t.TempDir()), RepackOptions{Speed: 2})
		var stepErr *StepError
		require.ErrorAs(t, err, &stepErr)
		assert.Equal(t, "speed", stepErr.Step)
		assert.ErrorIs(t, err, boom)
	})

	t.Run("split keeps finished parts", func(t *testing.T) {
		dir := t.TempDir()
		media := &fakeMedia{duration: 300}
		in := mergedArtifact(t, dir)
		rp := NewRepackager(&failingTrim{fakeMedia: media, failAt: 2})
		parts, err := rp.Repackage(context.Background(), in, RepackOptions{MaxDurationSeconds: 100})
		var stepErr *StepError
		require.ErrorAs(t, err, &stepErr)
		assert.Equal(t, "split", stepErr.Step)
		require.Len(t, parts, 1)
		_, statErr := os.Stat(parts[0].Path)
		assert.NoError(t, statErr)
	})
}

// failingTrim fails the Nth Trim call.
type failingTrim struct {
	*fakeMedia
	failAt int
	n      int
}

func (f *failingTrim) Trim(ctx context.Context, in, out string, start, dur float64) error {
	f.n++
	if f.n == f.failAt {
		return errors.New("trim failed")
	}
	return f.fakeMedia.Trim(ctx, in, out, start, dur)
}

func TestSpeedSuffix(t *testing.T) {
	assert.Equal(t, "_x1_5", SpeedSuffix(1.5))
	assert.Equal(t, "_x2", SpeedSuffix(2))
	assert.Equal(t, "_x0_75", SpeedSuffix(0.75))
}

func TestRepackager_ConsumeInput(t *testing.T) {
	cases := []struct {
		name     string
		opts     RepackOptions
		duration float64
		kept     bool
	}{
		{"final artifact is kept", RepackOptions{}, 60, true},
		{"removed after speed change", RepackOptions{Speed: 1.25}, 60, false},
		{"removed after video wrap", RepackOptions{Kind: KindVideo}, 60, false},
		{"removed after split", RepackOptions{MaxDurationSeconds: 30}, 90, false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			dir := t.TempDir()
			in := mergedArtifact(t, dir)
			media := &fakeMedia{duration: c.duration}
			c.opts.ConsumeInput = true

			arts, err := NewRepackager(media).Repackage(context.Background(), in, c.opts)
			require.NoError(t, err)
			require.NotEmpty(t, arts)

			_, statErr := os.Stat(in.Path)
			if c.kept {
				assert.NoError(t, statErr)
			} else {
				assert.True(t, os.IsNotExist(statErr), "superseded input should be removed")
			}
			for _, a := range arts {
				_, err := os.Stat(a.Path)
				assert.NoError(t, err, a.Path)
			}
		})
	}
}

func TestRepackager_VideoFromMP4Input(t *testing.T) {
	t.Run("same speed", func(t *testing.T) {
		dir := t.TempDir()
		in := filepath.Join(dir, "talk.mp4")
		writeFile(t, in, []byte("movie"))
		media := &fakeMedia{duration: 60}

		arts, err := NewRepackager(media).Repackage(context.Background(), MediaArtifact{Path: in, Kind: KindAudio}, RepackOptions{Kind: KindVideo})
		require.NoError(t, err)
		require.Len(t, arts, 1)

		video := media.callsOf("video")[0]
		assert.Equal(t, in, video.In[0])
		assert.Equal(t, filepath.Join(dir, "talk_video.mp4"), video.Out)
		assert.Equal(t, video.Out, arts[0].Path)
		_, err = os.Stat(in)
		assert.NoError(t, err)
	})

	t.Run("after speed change", func(t *testing.T) {
		dir := t.TempDir()
		in := filepath.Join(dir, "talk.mp4")
		writeFile(t, in, []byte("movie"))
		media := &fakeMedia{duration: 60}

		arts, err := NewRepackager(media).Repackage(context.Background(), MediaArtifact{Path: in, Kind: KindAudio}, RepackOptions{Speed: 1.5, Kind: KindVideo})
		require.NoError(t, err)
		require.Len(t, arts, 1)

		video := media.callsOf("video")[0]
		assert.NotEqual(t, video.In[0], video.Out)
		assert.Equal(t, filepath.Join(dir, "talk_x1_5_video.mp4"), arts[0].Path)
	})
}
