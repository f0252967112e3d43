package track

import (
	"math"

	"github.com/banshee-data/keyframe.report/internal/vision"
)

// NoiseConfig holds motion model noise parameters in pixel units.
type NoiseConfig struct {
	ProcessNoisePos  float64 // Process noise for position (sigma squared)
	ProcessNoiseVel  float64 // Process noise for velocity (sigma squared)
	MeasurementNoise float64 // Measurement noise (sigma squared)
}

// axisFilter is a scalar constant-velocity Kalman filter: state [p, v]
// with 2x2 covariance stored row-major. The box filter runs four of
// these independently, which is exactly equivalent to a diagonal-noise
// 8-state filter over (cx, cy, w, h) and keeps the covariance math in
// explicit fixed-size containers.
type axisFilter struct {
	p, v float64
	P    [4]float64
}

func newAxisFilter(p float64) axisFilter {
	return axisFilter{
		p: p,
		v: 0,
		// High initial position uncertainty, lower velocity uncertainty.
		P: [4]float64{10, 0, 0, 1},
	}
}

// predict advances the state one frame: p' = p + v.
func (a *axisFilter) predict(noise NoiseConfig) {
	a.p += a.v

	// P' = F * P * F^T + Q for F = [1 1; 0 1].
	p00 := a.P[0] + a.P[2] + a.P[1] + a.P[3] + noise.ProcessNoisePos
	p01 := a.P[1] + a.P[3]
	p10 := a.P[2] + a.P[3]
	p11 := a.P[3] + noise.ProcessNoiseVel
	a.P = [4]float64{p00, p01, p10, p11}
}

// update corrects the state with a position measurement z.
func (a *axisFilter) update(z float64, noise NoiseConfig) {
	// Innovation covariance S = P00 + R; Kalman gain K = P * H^T / S.
	s := a.P[0] + noise.MeasurementNoise
	if s <= 0 {
		return // Singular innovation, skip correction
	}
	k0 := a.P[0] / s
	k1 := a.P[2] / s

	y := z - a.p
	a.p += k0 * y
	a.v += k1 * y

	// P' = (I - K*H) * P.
	p00 := (1 - k0) * a.P[0]
	p01 := (1 - k0) * a.P[1]
	p10 := a.P[2] - k1*a.P[0]
	p11 := a.P[3] - k1*a.P[1]
	a.P = [4]float64{p00, p01, p10, p11}
}

func (a *axisFilter) finite() bool {
	for _, v := range []float64{a.p, a.v, a.P[0], a.P[1], a.P[2], a.P[3]} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// MotionFilter estimates a track's bounding box under a constant-velocity
// model over box centre and size. A filter that has never been updated
// has zero velocity, so Predict returns the initial box unchanged.
type MotionFilter struct {
	cx, cy, w, h axisFilter
	noise        NoiseConfig
}

// NewMotionFilter initialises a filter from an observed box.
func NewMotionFilter(b vision.BBox, noise NoiseConfig) *MotionFilter {
	x, y := b.Center()
	return &MotionFilter{
		cx:    newAxisFilter(x),
		cy:    newAxisFilter(y),
		w:     newAxisFilter(b.Width()),
		h:     newAxisFilter(b.Height()),
		noise: noise,
	}
}

// Predict advances the motion state by one frame and returns the
// predicted bounding box.
func (m *MotionFilter) Predict() vision.BBox {
	m.cx.predict(m.noise)
	m.cy.predict(m.noise)
	m.w.predict(m.noise)
	m.h.predict(m.noise)
	m.guard()
	return m.BBox()
}

// Update corrects the motion state with a matched detection box.
func (m *MotionFilter) Update(b vision.BBox) {
	x, y := b.Center()
	m.cx.update(x, m.noise)
	m.cy.update(y, m.noise)
	m.w.update(b.Width(), m.noise)
	m.h.update(b.Height(), m.noise)
	m.guard()
}

// BBox returns the current box estimate. Negative size estimates are
// clamped to zero-extent boxes at the estimated centre.
func (m *MotionFilter) BBox() vision.BBox {
	w, h := m.w.p, m.h.p
	if w < 0 {
		w = 0
	}
	if h < 0 {
		h = 0
	}
	return vision.BBox{
		m.cx.p - w/2,
		m.cy.p - h/2,
		m.cx.p + w/2,
		m.cy.p + h/2,
	}
}

// guard resets velocity and covariance if any axis went non-finite.
func (m *MotionFilter) guard() {
	for _, a := range []*axisFilter{&m.cx, &m.cy, &m.w, &m.h} {
		if !a.finite() {
			*a = newAxisFilter(0)
		}
	}
}
