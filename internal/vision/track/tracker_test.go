package track

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/keyframe.report/internal/vision"
)

func testConfig() Config {
	return Config{
		AssocConfig: testAssocConfig(),
		NoiseConfig: testNoise(),

		HitsToConfirm: 3,
		TrackBuffer:   30,
		MaxTracks:     256,
	}
}

func testFrame() vision.FrameMeta {
	return vision.FrameMeta{Height: 720, Width: 1280}
}

func det(b vision.BBox, score float64) vision.Detection {
	return vision.Detection{BBox: b, Score: score, ClassID: 1}
}

// movingBox returns a box translated by (dx, dy) per frame.
func movingBox(start vision.BBox, dx, dy float64, frame int) vision.BBox {
	f := float64(frame)
	return vision.BBox{start[0] + dx*f, start[1] + dy*f, start[2] + dx*f, start[3] + dy*f}
}

func TestTrackerIdentityStability(t *testing.T) {
	t.Parallel()

	// One smoothly moving object detected every frame keeps exactly
	// one track ID for the whole sequence.
	tracker := NewTracker(testConfig())
	start := vision.BBox{100, 100, 180, 300}

	ids := map[int64]bool{}
	for frame := 0; frame < 20; frame++ {
		out := tracker.Update([]vision.Detection{
			det(movingBox(start, 3, 1, frame), 0.9),
		}, testFrame())
		for _, trk := range out {
			ids[trk.ID] = true
		}
	}

	assert.Len(t, ids, 1)
	total, _, confirmed, _ := tracker.TrackCount()
	assert.Equal(t, 1, total)
	assert.Equal(t, 1, confirmed)
}

func TestTrackerConfirmationDelay(t *testing.T) {
	t.Parallel()

	tracker := NewTracker(testConfig())
	b := vision.BBox{100, 100, 200, 200}

	// Frames 1 and 2: still tentative, not reported.
	assert.Empty(t, tracker.Update([]vision.Detection{det(b, 0.9)}, testFrame()))
	assert.Empty(t, tracker.Update([]vision.Detection{det(b, 0.9)}, testFrame()))

	// Frame 3: third consecutive hit confirms.
	out := tracker.Update([]vision.Detection{det(b, 0.9)}, testFrame())
	require.Len(t, out, 1)
	assert.Equal(t, TrackConfirmed, out[0].State)
	assert.Equal(t, 3, out[0].Hits)
}

func TestTrackerTentativePruning(t *testing.T) {
	t.Parallel()

	// A single-frame spurious detection never reaches Confirmed and
	// leaves no residue in the track pool.
	tracker := NewTracker(testConfig())

	out := tracker.Update([]vision.Detection{det(vision.BBox{10, 10, 60, 60}, 0.8)}, testFrame())
	assert.Empty(t, out)

	out = tracker.Update(nil, testFrame())
	assert.Empty(t, out)

	total, _, _, _ := tracker.TrackCount()
	assert.Zero(t, total)
	assert.Equal(t, 1, tracker.TracksRemoved)
}

func TestTrackerBufferRecovery(t *testing.T) {
	t.Parallel()

	t.Run("reappearance within buffer resumes the same id", func(t *testing.T) {
		t.Parallel()
		cfg := testConfig()
		cfg.TrackBuffer = 10
		tracker := NewTracker(cfg)
		b := vision.BBox{100, 100, 200, 200}

		var confirmedID int64
		for i := 0; i < 5; i++ {
			out := tracker.Update([]vision.Detection{det(b, 0.9)}, testFrame())
			if len(out) > 0 {
				confirmedID = out[0].ID
			}
		}
		require.NotZero(t, confirmedID)

		// 4 missed frames, under the buffer.
		for i := 0; i < 4; i++ {
			assert.Empty(t, tracker.Update(nil, testFrame()))
		}

		out := tracker.Update([]vision.Detection{det(b, 0.9)}, testFrame())
		require.Len(t, out, 1)
		assert.Equal(t, confirmedID, out[0].ID)
		assert.Equal(t, TrackConfirmed, out[0].State)
		assert.Zero(t, out[0].TimeSinceUpdate)
	})

	t.Run("reappearance beyond buffer gets a new id", func(t *testing.T) {
		t.Parallel()
		cfg := testConfig()
		cfg.TrackBuffer = 3
		cfg.HitsToConfirm = 1
		tracker := NewTracker(cfg)
		b := vision.BBox{100, 100, 200, 200}

		out := tracker.Update([]vision.Detection{det(b, 0.9)}, testFrame())
		require.Len(t, out, 1)
		oldID := out[0].ID

		for i := 0; i < 5; i++ {
			tracker.Update(nil, testFrame())
		}
		total, _, _, _ := tracker.TrackCount()
		assert.Zero(t, total, "track should be removed after the buffer runs out")

		out = tracker.Update([]vision.Detection{det(b, 0.9)}, testFrame())
		require.Len(t, out, 1)
		assert.NotEqual(t, oldID, out[0].ID)
		assert.Greater(t, out[0].ID, oldID, "ids are monotonic, never reused")
	})
}

func TestTrackerLowScoreKeepsTrackAlive(t *testing.T) {
	t.Parallel()

	// A momentary detector score drop is recovered by the second
	// association pass instead of sending the track to Lost.
	cfg := testConfig()
	cfg.HitsToConfirm = 1
	tracker := NewTracker(cfg)
	b := vision.BBox{100, 100, 200, 200}

	out := tracker.Update([]vision.Detection{det(b, 0.9)}, testFrame())
	require.Len(t, out, 1)
	id := out[0].ID

	out = tracker.Update([]vision.Detection{det(b, 0.2)}, testFrame())
	require.Len(t, out, 1)
	assert.Equal(t, id, out[0].ID)
	assert.Zero(t, out[0].TimeSinceUpdate)
}

func TestTrackerLowScoreNeverSpawns(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.HitsToConfirm = 1
	tracker := NewTracker(cfg)

	out := tracker.Update([]vision.Detection{det(vision.BBox{0, 0, 50, 50}, 0.3)}, testFrame())
	assert.Empty(t, out)
	total, _, _, _ := tracker.TrackCount()
	assert.Zero(t, total)
}

func TestTrackerEmptyFrameIsNormal(t *testing.T) {
	t.Parallel()

	tracker := NewTracker(testConfig())
	assert.Empty(t, tracker.Update(nil, testFrame()))
	assert.Empty(t, tracker.Update([]vision.Detection{}, testFrame()))
	assert.Equal(t, 2, tracker.FrameCount())
}

func TestTrackerReportTentative(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.ReportTentative = true
	tracker := NewTracker(cfg)

	out := tracker.Update([]vision.Detection{det(vision.BBox{0, 0, 50, 50}, 0.9)}, testFrame())
	require.Len(t, out, 1)
	assert.Equal(t, TrackTentative, out[0].State)
}

func TestTrackerMaxTracks(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.MaxTracks = 2
	tracker := NewTracker(cfg)

	dets := []vision.Detection{
		det(vision.BBox{0, 0, 50, 50}, 0.9),
		det(vision.BBox{100, 0, 150, 50}, 0.9),
		det(vision.BBox{200, 0, 250, 50}, 0.9),
	}
	tracker.Update(dets, testFrame())
	total, _, _, _ := tracker.TrackCount()
	assert.Equal(t, 2, total)
}

func TestTrackerEndToEndScenario(t *testing.T) {
	t.Parallel()

	// Three consecutive frames with a person box drifting by (2,1)
	// per frame: one confirmed track by frame 3 whose box tracks the
	// final detection with no pending misses.
	tracker := NewTracker(testConfig())
	boxes := []vision.BBox{
		{10, 10, 50, 50},
		{12, 11, 52, 51},
		{14, 12, 54, 52},
	}

	var out []*Track
	for _, b := range boxes {
		out = tracker.Update([]vision.Detection{det(b, 0.9)}, testFrame())
	}

	require.Len(t, out, 1)
	trk := out[0]
	assert.Equal(t, TrackConfirmed, trk.State)
	assert.Zero(t, trk.TimeSinceUpdate)
	assert.Equal(t, 3, trk.Hits)
	want := boxes[2]
	for i := range want {
		assert.InDelta(t, want[i], trk.BBox[i], 2.0, "coordinate %d", i)
	}
	assert.Equal(t, 1, tracker.TracksCreated)
	assert.Equal(t, 1, tracker.TracksConfirmed)
}

func TestTrackerResetKeepsIDMonotonic(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.HitsToConfirm = 1
	tracker := NewTracker(cfg)

	out := tracker.Update([]vision.Detection{det(vision.BBox{0, 0, 50, 50}, 0.9)}, testFrame())
	require.Len(t, out, 1)
	firstID := out[0].ID

	tracker.Reset()
	out = tracker.Update([]vision.Detection{det(vision.BBox{0, 0, 50, 50}, 0.9)}, testFrame())
	require.Len(t, out, 1)
	assert.Greater(t, out[0].ID, firstID)
}

func TestDefaultConfig(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	assert.Equal(t, 3, cfg.HitsToConfirm)
	assert.Equal(t, 30, cfg.TrackBuffer)
	assert.InDelta(t, 0.8, cfg.MatchThresh, 1e-9)
	assert.False(t, cfg.ReportTentative)
}
