// Package testutil provides shared test utilities and fixtures.
//
// This package centralises common test helpers to reduce code duplication
// across test files and improve test maintainability.
package testutil

import (
	"fmt"
	"log"
	"math"
	"sync"
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/keyframe.report/internal/monitoring"
	"github.com/banshee-data/keyframe.report/internal/vision"
)

// Det builds a person-class detection for tests.
func Det(x1, y1, x2, y2, score float64) vision.Detection {
	return vision.Detection{BBox: vision.BBox{x1, y1, x2, y2}, Score: score, ClassID: 1}
}

// AssertBBoxNear fails unless every coordinate of got is within tol of
// want.
func AssertBBoxNear(t *testing.T, want, got vision.BBox, tol float64) {
	t.Helper()
	for i := range want {
		if math.Abs(want[i]-got[i]) > tol {
			t.Errorf("bbox[%d] = %v, want %v (±%v)", i, got[i], want[i], tol)
			return
		}
	}
}

// GrayFrame builds a height×width grayscale frame with a bright
// rectangle at (x, y, side) for motion tests.
func GrayFrame(index, height, width, x, y, side int) *vision.Frame {
	m := mat.NewDense(height, width, nil)
	for r := y; r < y+side && r < height; r++ {
		for c := x; c < x+side && c < width; c++ {
			m.Set(r, c, 1)
		}
	}
	return &vision.Frame{Index: index, Gray: m}
}

// LogCapture redirects the diagnostic logger for the lifetime of the
// test and returns the accumulated lines. The logger is process-global,
// so tests using LogCapture must not run in parallel with each other.
func LogCapture(t *testing.T) *CapturedLog {
	t.Helper()
	cl := &CapturedLog{}
	monitoring.SetLogger(func(format string, v ...interface{}) {
		cl.mu.Lock()
		defer cl.mu.Unlock()
		cl.lines = append(cl.lines, fmt.Sprintf(format, v...))
	})
	t.Cleanup(func() { monitoring.SetLogger(log.Printf) })
	return cl
}

// CapturedLog accumulates log lines from LogCapture.
type CapturedLog struct {
	mu    sync.Mutex
	lines []string
}

// Lines returns a copy of the captured lines.
func (c *CapturedLog) Lines() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.lines...)
}
