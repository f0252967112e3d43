package keyframe

import (
	"errors"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/keyframe.report/internal/vision"
)

type frameSourceFunc func(index int) (*vision.Frame, error)

func (f frameSourceFunc) Frame(index int) (*vision.Frame, error) { return f(index) }

type detectorFunc func(f *vision.Frame) ([]vision.Detection, error)

func (d detectorFunc) Predict(f *vision.Frame) ([]vision.Detection, error) { return d(f) }

func testConfig() Config {
	return Config{
		PersonClassID:    1,
		CenterWindowSecs: 100,
		CandidateStride:  1,
		WMotion:          0.7,
		WConfidence:      0.3,
		FallbackFPS:      1,
	}
}

func constantPerson(score float64) detectorFunc {
	return func(*vision.Frame) ([]vision.Detection, error) {
		return []vision.Detection{{BBox: vision.BBox{8, 8, 24, 24}, Score: score, ClassID: 1}}, nil
	}
}

func staticSource(total int) frameSourceFunc {
	return func(index int) (*vision.Frame, error) {
		if index < 0 || index >= total {
			return nil, errors.New("out of range")
		}
		return &vision.Frame{Index: index, Gray: squareFrame(32, 10, 10, 8)}, nil
	}
}

func clipMeta(id string, total int) vision.ClipMeta {
	return vision.ClipMeta{
		ClipID:      id,
		FPS:         1,
		TotalFrames: total,
		Frame:       vision.FrameMeta{Height: 32, Width: 32},
	}
}

func TestSelectBestEmptyClip(t *testing.T) {
	t.Parallel()

	s := NewSelector(constantPerson(0.9), NewBlockFlow(), testConfig())
	kf, err := s.SelectBest(staticSource(0), clipMeta("c1", 0))
	require.NoError(t, err)
	assert.Nil(t, kf)
}

func TestSelectBestAllFramesUnreadable(t *testing.T) {
	t.Parallel()

	src := frameSourceFunc(func(int) (*vision.Frame, error) {
		return nil, errors.New("decode failed")
	})
	s := NewSelector(constantPerson(0.9), NewBlockFlow(), testConfig())
	kf, err := s.SelectBest(src, clipMeta("c1", 10))
	require.NoError(t, err)
	assert.Nil(t, kf)
}

func TestSelectBestTiedScoresPickMidpoint(t *testing.T) {
	t.Parallel()

	// Identical frames and constant detections leave both normalised
	// scores at zero, so only the centrality nudge differentiates.
	s := NewSelector(constantPerson(0.9), NewBlockFlow(), testConfig())
	kf, err := s.SelectBest(staticSource(11), clipMeta("c1", 11))
	require.NoError(t, err)
	require.NotNil(t, kf)
	assert.Equal(t, 5, kf.FrameIndex)
	assert.Equal(t, "c1_frame_0005.jpg", kf.Name)
}

func TestSelectBestPrefersMotion(t *testing.T) {
	t.Parallel()

	// Frames 0..4 are static; from frame 5 the subject slides right.
	src := frameSourceFunc(func(index int) (*vision.Frame, error) {
		offset := 0
		if index > 4 {
			offset = (index - 4) * 2
		}
		return &vision.Frame{Index: index, Gray: squareFrame(32, 10+offset, 10, 8)}, nil
	})
	s := NewSelector(constantPerson(0.9), NewBlockFlow(), testConfig())
	kf, err := s.SelectBest(src, clipMeta("c1", 9))
	require.NoError(t, err)
	require.NotNil(t, kf)
	assert.GreaterOrEqual(t, kf.FrameIndex, 5)

	for _, c := range kf.Candidates {
		if c.FrameIndex == kf.FrameIndex {
			assert.Greater(t, c.Motion, 0.0)
		}
	}
}

func TestSelectBestScoresAlwaysFinite(t *testing.T) {
	t.Parallel()

	s := NewSelector(constantPerson(0.9), NewBlockFlow(), testConfig())
	kf, err := s.SelectBest(staticSource(7), clipMeta("c1", 7))
	require.NoError(t, err)
	require.NotNil(t, kf)
	for _, c := range kf.Candidates {
		assert.False(t, math.IsNaN(c.Final) || math.IsInf(c.Final, 0), "frame %d", c.FrameIndex)
		assert.Zero(t, c.NormConfidence)
		assert.Zero(t, c.NormMotion)
	}
}

func TestSelectBestDeterministic(t *testing.T) {
	t.Parallel()

	src := frameSourceFunc(func(index int) (*vision.Frame, error) {
		return &vision.Frame{Index: index, Gray: squareFrame(32, 10+index, 10, 8)}, nil
	})
	s := NewSelector(constantPerson(0.8), NewBlockFlow(), testConfig())

	first, err := s.SelectBest(src, clipMeta("c1", 9))
	require.NoError(t, err)
	second, err := s.SelectBest(src, clipMeta("c1", 9))
	require.NoError(t, err)

	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("selection differs between runs (-first +second):\n%s", diff)
	}
}

func TestSelectBestAnnotationRanks(t *testing.T) {
	t.Parallel()

	det := detectorFunc(func(*vision.Frame) ([]vision.Detection, error) {
		return []vision.Detection{
			{BBox: vision.BBox{0, 0, 4, 4}, Score: 0.5, ClassID: 1},
			{BBox: vision.BBox{10, 10, 14, 14}, Score: 0.9, ClassID: 1},
			{BBox: vision.BBox{20, 20, 24, 24}, Score: 0.7, ClassID: 1},
			{BBox: vision.BBox{5, 5, 9, 9}, Score: 0.95, ClassID: 2},
		}, nil
	})
	s := NewSelector(det, NewBlockFlow(), testConfig())
	kf, err := s.SelectBest(staticSource(5), clipMeta("c1", 5))
	require.NoError(t, err)
	require.NotNil(t, kf)

	require.Len(t, kf.Annotations, 3)
	assert.Equal(t, int64(1), kf.Annotations[0].TrackID)
	assert.InDelta(t, 0.9, kf.Annotations[0].Score, 1e-9)
	assert.Equal(t, int64(2), kf.Annotations[1].TrackID)
	assert.InDelta(t, 0.7, kf.Annotations[1].Score, 1e-9)
	assert.Equal(t, int64(3), kf.Annotations[2].TrackID)
	assert.InDelta(t, 0.5, kf.Annotations[2].Score, 1e-9)
}

func TestSelectBestStrideSampling(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.CandidateStride = 3
	s := NewSelector(constantPerson(0.9), NewBlockFlow(), cfg)
	kf, err := s.SelectBest(staticSource(12), clipMeta("c1", 12))
	require.NoError(t, err)
	require.NotNil(t, kf)
	assert.Len(t, kf.Candidates, 4)
	for _, c := range kf.Candidates {
		assert.Zero(t, c.FrameIndex%3)
	}
}
