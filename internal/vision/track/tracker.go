package track

import (
	"github.com/banshee-data/keyframe.report/internal/config"
	"github.com/banshee-data/keyframe.report/internal/vision"
)

// TrackState represents the lifecycle state of a track.
type TrackState string

const (
	TrackTentative TrackState = "tentative" // New track, needs confirmation
	TrackConfirmed TrackState = "confirmed" // Stable track with sufficient history
	TrackLost      TrackState = "lost"      // Confirmed track coasting through misses
	TrackRemoved   TrackState = "removed"   // Terminal; excluded from all output
)

// Config holds tracker parameters.
type Config struct {
	AssocConfig
	NoiseConfig

	HitsToConfirm   int  // Consecutive hits needed for confirmation
	TrackBuffer     int  // Frames a lost track survives before removal
	MaxTracks       int  // Maximum concurrent tracks
	ReportTentative bool // Include tentative tracks in Update output
}

// DefaultConfig returns tracker configuration loaded from the canonical
// tuning defaults file (config/tuning.defaults.json). Panics if the
// file cannot be found — intended for tests and binaries that have
// already validated config availability.
func DefaultConfig() Config {
	return ConfigFromTuning(config.MustLoadDefaultConfig())
}

// ConfigFromTuning builds a tracker Config from a loaded TuningConfig.
// Use this in production code where the TuningConfig is already loaded.
func ConfigFromTuning(cfg *config.TuningConfig) Config {
	return Config{
		AssocConfig: AssocConfig{
			TrackThresh:    cfg.GetTrackThresh(),
			LowThresh:      cfg.GetLowThresh(),
			MatchThresh:    cfg.GetMatchThresh(),
			MatchThreshLow: cfg.GetMatchThreshLow(),
		},
		NoiseConfig: NoiseConfig{
			ProcessNoisePos:  cfg.GetProcessNoisePos(),
			ProcessNoiseVel:  cfg.GetProcessNoiseVel(),
			MeasurementNoise: cfg.GetMeasurementNoise(),
		},
		HitsToConfirm: cfg.GetHitsToConfirm(),
		TrackBuffer:   cfg.GetTrackBuffer(),
		MaxTracks:     cfg.GetMaxTracks(),
	}
}

// Track is a single identity-preserving tracked person.
type Track struct {
	ID    int64
	State TrackState

	// Current box estimate and the score of the last matched detection.
	BBox  vision.BBox
	Score float64

	// Lifecycle counters.
	Age             int // Frames since creation
	Hits            int // Consecutive successful associations
	TimeSinceUpdate int // Frames since last matched detection

	StartFrame int
	LastFrame  int

	filter *MotionFilter
}

// Tracker owns the track set for one clip and drives the lifecycle
// state machine. It is single-threaded: one instance per clip, never
// shared, so no locking is needed.
type Tracker struct {
	cfg    Config
	tracks []*Track // Active tracks in creation order (stable association ordering)
	nextID int64
	frame  int

	// Lifecycle counters for run summaries.
	TracksCreated   int
	TracksConfirmed int
	TracksRemoved   int
}

// NewTracker creates a tracker with the given configuration.
func NewTracker(cfg Config) *Tracker {
	return &Tracker{cfg: cfg, nextID: 1}
}

// Reset clears all tracks and counters. Track IDs are NOT reset: a
// tracker never reuses an ID, even across resets.
func (t *Tracker) Reset() {
	t.tracks = nil
	t.frame = 0
	t.TracksCreated = 0
	t.TracksConfirmed = 0
	t.TracksRemoved = 0
}

// FrameCount returns the number of frames processed.
func (t *Tracker) FrameCount() int { return t.frame }

// Update processes one frame of detections and returns the reportable
// tracks. A frame with zero detections is a normal empty frame: every
// track simply goes unmatched. The returned tracks are snapshots; the
// tracker retains exclusive ownership of its internal state.
func (t *Tracker) Update(dets []vision.Detection, frame vision.FrameMeta) []*Track {
	t.frame++

	// Step 1: predict all active tracks forward one frame.
	predicted := make([]vision.BBox, len(t.tracks))
	for i, trk := range t.tracks {
		trk.Age++
		predicted[i] = trk.filter.Predict()
		trk.BBox = predicted[i]
	}

	// Step 2: two-pass cascaded association.
	matches, unmatchedTracks, unmatchedDets := Associate(predicted, dets, t.cfg.AssocConfig)

	// Step 3: update matched tracks.
	for _, m := range matches {
		trk := t.tracks[m.Track]
		det := dets[m.Detection]
		trk.filter.Update(det.BBox)
		trk.BBox = trk.filter.BBox().Clip(frame)
		trk.Score = det.Score
		trk.TimeSinceUpdate = 0
		trk.Hits++
		trk.LastFrame = t.frame

		switch trk.State {
		case TrackLost:
			trk.State = TrackConfirmed
		case TrackTentative:
			if trk.Hits >= t.cfg.HitsToConfirm {
				trk.State = TrackConfirmed
				t.TracksConfirmed++
			}
		}
	}

	// Step 4: age unmatched tracks. Tentative tracks get no miss
	// tolerance; confirmed tracks coast as Lost until the buffer runs out.
	for _, ti := range unmatchedTracks {
		trk := t.tracks[ti]
		trk.TimeSinceUpdate++
		switch trk.State {
		case TrackTentative:
			trk.State = TrackRemoved
		case TrackConfirmed:
			trk.State = TrackLost
			if trk.TimeSinceUpdate > t.cfg.TrackBuffer {
				trk.State = TrackRemoved
			}
		case TrackLost:
			if trk.TimeSinceUpdate > t.cfg.TrackBuffer {
				trk.State = TrackRemoved
			}
		}
	}

	// Step 5: spawn tentative tracks from unmatched high-confidence
	// detections. IDs are monotonic and never reused.
	for _, di := range unmatchedDets {
		det := dets[di]
		if det.Score < t.cfg.TrackThresh {
			continue
		}
		if len(t.tracks) >= t.cfg.MaxTracks {
			break
		}
		t.initTrack(det, frame)
	}

	// Step 6: prune removed tracks from the active pool.
	active := t.tracks[:0]
	for _, trk := range t.tracks {
		if trk.State == TrackRemoved {
			t.TracksRemoved++
			continue
		}
		active = append(active, trk)
	}
	t.tracks = active

	return t.reportable()
}

// initTrack creates a new tentative track from an unmatched detection.
func (t *Tracker) initTrack(det vision.Detection, frame vision.FrameMeta) *Track {
	trk := &Track{
		ID:         t.nextID,
		State:      TrackTentative,
		BBox:       det.BBox.Clip(frame),
		Score:      det.Score,
		Hits:       1,
		StartFrame: t.frame,
		LastFrame:  t.frame,
		filter:     NewMotionFilter(det.BBox, t.cfg.NoiseConfig),
	}
	t.nextID++
	t.TracksCreated++

	// Single-hit confirmation policies promote at creation.
	if trk.Hits >= t.cfg.HitsToConfirm {
		trk.State = TrackConfirmed
		t.TracksConfirmed++
	}

	t.tracks = append(t.tracks, trk)
	return trk
}

// reportable snapshots the tracks included in Update output: confirmed
// tracks, plus tentative ones when ReportTentative is set. Lost tracks
// are never reported — they had no supporting detection this frame.
func (t *Tracker) reportable() []*Track {
	out := make([]*Track, 0, len(t.tracks))
	for _, trk := range t.tracks {
		if trk.State == TrackConfirmed || (t.cfg.ReportTentative && trk.State == TrackTentative) {
			copied := *trk
			copied.filter = nil
			out = append(out, &copied)
		}
	}
	return out
}

// ActiveTracks snapshots every non-removed track regardless of state.
func (t *Tracker) ActiveTracks() []*Track {
	out := make([]*Track, 0, len(t.tracks))
	for _, trk := range t.tracks {
		copied := *trk
		copied.filter = nil
		out = append(out, &copied)
	}
	return out
}

// TrackCount returns counts of active tracks by state.
func (t *Tracker) TrackCount() (total, tentative, confirmed, lost int) {
	for _, trk := range t.tracks {
		total++
		switch trk.State {
		case TrackTentative:
			tentative++
		case TrackConfirmed:
			confirmed++
		case TrackLost:
			lost++
		}
	}
	return
}
