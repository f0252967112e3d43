package keyframe

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/keyframe.report/internal/config"
	"github.com/banshee-data/keyframe.report/internal/monitoring"
	"github.com/banshee-data/keyframe.report/internal/vision"
)

// Config holds the keyframe selection parameters.
type Config struct {
	PersonClassID    int
	CenterWindowSecs float64
	CandidateStride  int
	WMotion          float64
	WConfidence      float64
	FallbackFPS      float64
}

// ConfigFromTuning maps the tuning file onto a selector Config.
func ConfigFromTuning(tc *config.TuningConfig) Config {
	return Config{
		PersonClassID:    tc.GetPersonClassID(),
		CenterWindowSecs: tc.GetCenterWindowSecs(),
		CandidateStride:  tc.GetCandidateStride(),
		WMotion:          tc.GetWMotion(),
		WConfidence:      tc.GetWConfidence(),
		FallbackFPS:      tc.GetFallbackFPS(),
	}
}

// CandidateScore records the raw and normalised scores of one sampled
// frame. Kept for diagnostics and score reports.
type CandidateScore struct {
	FrameIndex     int     `json:"frame_index"`
	Confidence     float64 `json:"confidence"`
	Motion         float64 `json:"motion"`
	NormConfidence float64 `json:"norm_confidence"`
	NormMotion     float64 `json:"norm_motion"`
	Final          float64 `json:"final"`
}

// Annotation is one person box attached to a selected keyframe. TrackID
// is a per-frame rank, highest score first, starting at 1.
type Annotation struct {
	TrackID int64
	Score   float64
	BBox    vision.BBox
}

// Keyframe is the selection result for one clip.
type Keyframe struct {
	ClipID      string
	FrameIndex  int
	Name        string
	Annotations []Annotation
	Candidates  []CandidateScore
}

// Selector scores candidate frames with a detector and a flow
// estimator. Both are required.
type Selector struct {
	det  vision.Detector
	flow FlowEstimator
	cfg  Config
}

func NewSelector(det vision.Detector, flow FlowEstimator, cfg Config) *Selector {
	return &Selector{det: det, flow: flow, cfg: cfg}
}

// FrameName formats the canonical keyframe filename for a clip and
// frame index.
func FrameName(clipID string, frameIndex int) string {
	return fmt.Sprintf("%s_frame_%04d.jpg", clipID, frameIndex)
}

type candidate struct {
	index      int
	frame      *vision.Frame
	persons    []vision.Detection
	confidence float64
	motion     float64
}

// SelectBest samples frames in a window centred on the clip midpoint,
// scores each on person motion and detection confidence, and returns
// the highest-scoring frame. A nil Keyframe with a nil error means no
// candidate could be scored; callers treat that as an empty clip.
func (s *Selector) SelectBest(src vision.FrameSource, clip vision.ClipMeta) (*Keyframe, error) {
	if clip.TotalFrames <= 0 {
		return nil, nil
	}

	fps := clip.FPS
	if fps <= 0 {
		fps = s.cfg.FallbackFPS
	}
	stride := s.cfg.CandidateStride
	if stride < 1 {
		stride = 1
	}

	middle := clip.TotalFrames / 2
	half := int(s.cfg.CenterWindowSecs / 2 * fps)
	start := max(0, middle-half)
	end := min(clip.TotalFrames-1, middle+half)

	var prevGray *mat.Dense
	cands := make([]candidate, 0, (end-start)/stride+1)
	for idx := start; idx <= end; idx += stride {
		frame, err := src.Frame(idx)
		if err != nil {
			monitoring.Logf("keyframe: clip %s frame %d unreadable, skipping: %v", clip.ClipID, idx, err)
			continue
		}
		dets, err := s.det.Predict(frame)
		if err != nil {
			monitoring.Logf("keyframe: clip %s frame %d detection failed, skipping: %v", clip.ClipID, idx, err)
			continue
		}
		persons := vision.FilterClass(dets, s.cfg.PersonClassID, 0)

		c := candidate{index: idx, frame: frame, persons: persons}
		for _, d := range persons {
			c.confidence += d.Score
		}
		if prevGray != nil && len(persons) > 0 {
			mag, err := s.flow.Magnitude(prevGray, frame.Gray)
			if err != nil {
				return nil, fmt.Errorf("flow for clip %s frame %d: %w", clip.ClipID, idx, err)
			}
			for _, d := range persons {
				c.motion += boxMeanMagnitude(mag, d.BBox.Clip(clip.Frame))
			}
		}
		prevGray = frame.Gray
		cands = append(cands, c)
	}
	if len(cands) == 0 {
		monitoring.Logf("keyframe: clip %s produced no scorable candidates", clip.ClipID)
		return nil, nil
	}

	confidence := make([]float64, len(cands))
	motion := make([]float64, len(cands))
	for i, c := range cands {
		confidence[i] = c.confidence
		motion[i] = c.motion
	}
	normConf := zscore(confidence)
	normMotion := zscore(motion)

	halfSpan := float64(clip.TotalFrames) / 2
	if halfSpan <= 0 {
		halfSpan = 1
	}
	scores := make([]CandidateScore, len(cands))
	best := 0
	for i, c := range cands {
		combined := s.cfg.WMotion*normMotion[i] + s.cfg.WConfidence*normConf[i]
		// Nudge toward the clip midpoint so exact score ties resolve to
		// the most central candidate.
		centrality := 1 - math.Abs(float64(c.index-middle))/halfSpan
		final := combined + centrality*1e-6
		scores[i] = CandidateScore{
			FrameIndex:     c.index,
			Confidence:     c.confidence,
			Motion:         c.motion,
			NormConfidence: normConf[i],
			NormMotion:     normMotion[i],
			Final:          final,
		}
		if final > scores[best].Final {
			best = i
		}
	}

	chosen := cands[best]
	anns := make([]Annotation, len(chosen.persons))
	order := make([]int, len(chosen.persons))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return chosen.persons[order[a]].Score > chosen.persons[order[b]].Score
	})
	for rank, pi := range order {
		anns[rank] = Annotation{
			TrackID: int64(rank + 1),
			Score:   chosen.persons[pi].Score,
			BBox:    chosen.persons[pi].BBox,
		}
	}

	return &Keyframe{
		ClipID:      clip.ClipID,
		FrameIndex:  chosen.index,
		Name:        FrameName(clip.ClipID, chosen.index),
		Annotations: anns,
		Candidates:  scores,
	}, nil
}

// zscore normalises in place against the population mean and standard
// deviation. Near-constant inputs come back all zero rather than
// blowing up on the tiny divisor.
func zscore(xs []float64) []float64 {
	out := make([]float64, len(xs))
	mean := stat.Mean(xs, nil)
	std := stat.PopStdDev(xs, nil)
	if std < 1e-6 {
		return out
	}
	for i, x := range xs {
		out[i] = (x - mean) / std
	}
	return out
}

// boxMeanMagnitude averages the flow magnitude over the pixels covered
// by b. Degenerate boxes contribute zero.
func boxMeanMagnitude(mag *mat.Dense, b vision.BBox) float64 {
	rows, cols := mag.Dims()
	x1 := max(0, int(b[0]))
	y1 := max(0, int(b[1]))
	x2 := min(cols, int(math.Ceil(b[2])))
	y2 := min(rows, int(math.Ceil(b[3])))
	if x2 <= x1 || y2 <= y1 {
		return 0
	}
	sum := 0.0
	for y := y1; y < y2; y++ {
		for x := x1; x < x2; x++ {
			sum += mag.At(y, x)
		}
	}
	return sum / float64((y2-y1)*(x2-x1))
}
