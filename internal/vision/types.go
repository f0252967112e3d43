package vision

import "gonum.org/v1/gonum/mat"

// Detection is a single detector output for one frame: a bounding box,
// its confidence score in [0, 1], and the model class id. Detections
// are produced fresh per frame and never mutated.
type Detection struct {
	BBox    BBox
	Score   float64
	ClassID int
}

// FrameMeta describes frame dimensions in pixels.
type FrameMeta struct {
	Height int
	Width  int
}

// ClipMeta describes a single clip: its identity and the metadata the
// keyframe scorer needs to place its sampling window.
type ClipMeta struct {
	ClipID      string
	FPS         float64
	TotalFrames int
	Frame       FrameMeta
}

// Frame is a decoded video frame. Gray holds the grayscale pixel
// intensities as a (Height x Width) matrix; it may be nil when the
// caller only needs detection geometry.
type Frame struct {
	Index int
	Gray  *mat.Dense
}

// Detector is the capability interface for a detection backend. It
// returns per-frame detections already filtered to the backend's
// confidence threshold. Implementations may be remote model servers,
// local inference runtimes, or test fixtures.
type Detector interface {
	Predict(frame *Frame) ([]Detection, error)
}

// FrameSource provides random access to a clip's decoded frames.
// A nil frame with a nil error is not a valid return; unreadable
// frames surface as errors and are handled per-frame by callers.
type FrameSource interface {
	Frame(index int) (*Frame, error)
}

// FilterClass returns the detections matching classID with score at
// least minScore, preserving input order.
func FilterClass(dets []Detection, classID int, minScore float64) []Detection {
	out := make([]Detection, 0, len(dets))
	for _, d := range dets {
		if d.ClassID == classID && d.Score >= minScore {
			out = append(out, d)
		}
	}
	return out
}
