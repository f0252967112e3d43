package track

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/banshee-data/keyframe.report/internal/vision"
)

func testNoise() NoiseConfig {
	return NoiseConfig{ProcessNoisePos: 1.0, ProcessNoiseVel: 0.1, MeasurementNoise: 1.0}
}

func TestMotionFilterNeverUpdated(t *testing.T) {
	t.Parallel()

	// A filter that has never been updated has zero velocity, so the
	// predicted box equals the initial box.
	b := vision.BBox{10, 10, 50, 50}
	f := NewMotionFilter(b, testNoise())
	got := f.Predict()
	for i := range b {
		assert.InDelta(t, b[i], got[i], 1e-9, "coordinate %d", i)
	}
}

func TestMotionFilterTracksConstantVelocity(t *testing.T) {
	t.Parallel()

	// Feed a box moving +2px/frame in x; after convergence the
	// prediction should lead the last observation by about 2px.
	f := NewMotionFilter(vision.BBox{0, 0, 10, 10}, testNoise())
	var last vision.BBox
	for i := 1; i <= 20; i++ {
		f.Predict()
		last = vision.BBox{float64(2 * i), 0, float64(2*i + 10), 10}
		f.Update(last)
	}
	pred := f.Predict()
	assert.InDelta(t, last[0]+2, pred[0], 0.5)
	assert.InDelta(t, last[2]+2, pred[2], 0.5)
}

func TestMotionFilterUpdatePullsTowardMeasurement(t *testing.T) {
	t.Parallel()

	f := NewMotionFilter(vision.BBox{0, 0, 10, 10}, testNoise())
	f.Predict()
	f.Update(vision.BBox{4, 4, 14, 14})
	got := f.BBox()
	// High initial uncertainty means the estimate lands near the measurement.
	assert.InDelta(t, 4, got[0], 1.0)
	assert.InDelta(t, 4, got[1], 1.0)
}

func TestMotionFilterGuardsNonFinite(t *testing.T) {
	t.Parallel()

	f := NewMotionFilter(vision.BBox{0, 0, 10, 10}, testNoise())
	f.Update(vision.BBox{math.NaN(), 0, 10, 10})
	got := f.BBox()
	for i := range got {
		assert.False(t, math.IsNaN(got[i]), "coordinate %d is NaN", i)
	}
}
