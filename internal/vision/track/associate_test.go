package track

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/keyframe.report/internal/vision"
)

func testAssocConfig() AssocConfig {
	return AssocConfig{TrackThresh: 0.5, LowThresh: 0.1, MatchThresh: 0.8, MatchThreshLow: 0.5}
}

func TestHungarianAssign(t *testing.T) {
	t.Parallel()

	t.Run("empty matrix", func(t *testing.T) {
		t.Parallel()
		assert.Nil(t, hungarianAssign(nil))
	})

	t.Run("square optimal", func(t *testing.T) {
		t.Parallel()
		got := hungarianAssign([][]float64{
			{1, 5},
			{5, 1},
		})
		assert.Equal(t, []int{0, 1}, got)
	})

	t.Run("globally optimal over greedy", func(t *testing.T) {
		t.Parallel()
		// Greedy would pick (0,0)=1 then force (1,1)=10 (total 11);
		// the optimal pairing is (0,1)+(1,0) with total 4.
		got := hungarianAssign([][]float64{
			{1, 2},
			{2, 10},
		})
		assert.Equal(t, []int{1, 0}, got)
	})

	t.Run("forbidden entries stay unassigned", func(t *testing.T) {
		t.Parallel()
		got := hungarianAssign([][]float64{
			{forbiddenCost, forbiddenCost},
			{0.1, forbiddenCost},
		})
		assert.Equal(t, []int{-1, 0}, got)
	})

	t.Run("rectangular leaves excess rows unassigned", func(t *testing.T) {
		t.Parallel()
		got := hungarianAssign([][]float64{
			{0.2},
			{0.1},
		})
		assert.Equal(t, []int{-1, 0}, got)
	})
}

func TestAssociateDiagonal(t *testing.T) {
	t.Parallel()

	// Two tracks and two detections with crossed IoUs {0.9, 0.1} and
	// {0.1, 0.9}: the engine must match diagonally rather than pick a
	// single high pair and strand the rest.
	tracks := []vision.BBox{
		{0, 0, 100, 100},
		{200, 200, 300, 300},
	}
	dets := []vision.Detection{
		{BBox: vision.BBox{2, 2, 102, 102}, Score: 0.9, ClassID: 1},
		{BBox: vision.BBox{202, 202, 302, 302}, Score: 0.9, ClassID: 1},
	}
	matches, umT, umD := Associate(tracks, dets, testAssocConfig())
	require.Len(t, matches, 2)
	assert.Empty(t, umT)
	assert.Empty(t, umD)

	got := map[int]int{}
	for _, m := range matches {
		got[m.Track] = m.Detection
	}
	assert.Equal(t, map[int]int{0: 0, 1: 1}, got)
}

func TestAssociateSecondPassRecovery(t *testing.T) {
	t.Parallel()

	// A low-score detection overlapping a track is recovered in pass 2.
	tracks := []vision.BBox{{0, 0, 100, 100}}
	dets := []vision.Detection{
		{BBox: vision.BBox{5, 5, 105, 105}, Score: 0.3, ClassID: 1},
	}
	matches, umT, umD := Associate(tracks, dets, testAssocConfig())
	require.Len(t, matches, 1)
	assert.Equal(t, Match{Track: 0, Detection: 0}, matches[0])
	assert.Empty(t, umT)
	assert.Empty(t, umD)
}

func TestAssociateRejectsWeakOverlap(t *testing.T) {
	t.Parallel()

	// Cost above the ceiling leaves both sides unmatched.
	tracks := []vision.BBox{{0, 0, 10, 10}}
	dets := []vision.Detection{
		{BBox: vision.BBox{9, 9, 19, 19}, Score: 0.9, ClassID: 1},
	}
	matches, umT, umD := Associate(tracks, dets, testAssocConfig())
	assert.Empty(t, matches)
	assert.Equal(t, []int{0}, umT)
	assert.Equal(t, []int{0}, umD)
}

func TestAssociateBelowFloorIgnored(t *testing.T) {
	t.Parallel()

	// Detections below the low floor never match, even with perfect IoU.
	tracks := []vision.BBox{{0, 0, 100, 100}}
	dets := []vision.Detection{
		{BBox: vision.BBox{0, 0, 100, 100}, Score: 0.05, ClassID: 1},
	}
	matches, umT, umD := Associate(tracks, dets, testAssocConfig())
	assert.Empty(t, matches)
	assert.Equal(t, []int{0}, umT)
	assert.Equal(t, []int{0}, umD)
}

func TestAssociateEqualCostPrefersLowerIndex(t *testing.T) {
	t.Parallel()

	// Two identical detections: the track takes the lower index.
	tracks := []vision.BBox{{0, 0, 100, 100}}
	dets := []vision.Detection{
		{BBox: vision.BBox{0, 0, 100, 100}, Score: 0.9, ClassID: 1},
		{BBox: vision.BBox{0, 0, 100, 100}, Score: 0.9, ClassID: 1},
	}
	matches, _, umD := Associate(tracks, dets, testAssocConfig())
	require.Len(t, matches, 1)
	assert.Equal(t, 0, matches[0].Detection)
	assert.Equal(t, []int{1}, umD)
}

func TestAssociateNoTracksNoDets(t *testing.T) {
	t.Parallel()

	matches, umT, umD := Associate(nil, nil, testAssocConfig())
	assert.Empty(t, matches)
	assert.Empty(t, umT)
	assert.Empty(t, umD)
}
