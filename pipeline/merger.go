package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"ttsforge/logx"
)

// Merger joins the temp artifacts of a finished job into one audio file.
type Merger struct {
	media MediaProcessor
	store ProgressStore
}

// NewMerger returns a merger. store may be nil.
func NewMerger(media MediaProcessor, store ProgressStore) *Merger {
	return &Merger{media: media, store: store}
}

// Merge concatenates the segment artifacts strictly by segment index into
// outPath. Every segment must be done. On failure the segment artifacts stay
// on disk; on success they are removed together with the progress record.
func (m *Merger) Merge(ctx context.Context, jobID string, segments []*Segment, outPath string) (MediaArtifact, error) {
	lg := logx.Component("merger").With().Str("job", jobID).Logger()

	ordered, err := orderedSegments(segments)
	if err != nil {
		return MediaArtifact{}, err
	}
	if len(ordered) == 0 {
		return MediaArtifact{}, ErrNothingToSynthesize
	}
	paths := make([]string, 0, len(ordered))
	for _, seg := range ordered {
		if seg.State != StateDone || seg.ArtifactPath == "" {
			return MediaArtifact{}, fmt.Errorf("%w: segment %d is %s", ErrSegmentsNotReady, seg.Index, seg.State)
		}
		paths = append(paths, seg.ArtifactPath)
	}

	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return MediaArtifact{}, &MergeError{Output: outPath, Err: err}
	}
	if err := m.media.Concat(ctx, paths, outPath); err != nil {
		os.Remove(outPath)
		return MediaArtifact{}, &MergeError{Output: outPath, Err: err}
	}
	dur, err := m.media.Probe(ctx, outPath)
	if err != nil {
		os.Remove(outPath)
		return MediaArtifact{}, &MergeError{Output: outPath, Err: fmt.Errorf("probe merged output: %w", err)}
	}

	for _, seg := range ordered {
		if err := os.Remove(seg.ArtifactPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			lg.Warn().Err(err).Int("segment", seg.Index).Msg("could not remove segment artifact")
		}
		seg.ArtifactPath = ""
	}
	if m.store != nil {
		if err := m.store.Delete(jobID); err != nil {
			lg.Warn().Err(err).Msg("could not delete progress record")
		}
	}

	lg.Info().Str("output", outPath).Int("segments", len(ordered)).Float64("seconds", dur).Msg("segments merged")
	return MediaArtifact{Path: outPath, Kind: KindAudio, DurationSeconds: dur}, nil
}
