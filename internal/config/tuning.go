package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// DefaultConfigPath is the path to the canonical tuning defaults file.
// This is the single source of truth for all default tuning values.
const DefaultConfigPath = "config/tuning.defaults.json"

// TuningConfig represents the root configuration for tuning parameters.
// All fields are pointers so that a partial JSON file only overrides the
// values it names; the Get* accessors supply the canonical defaults for
// anything left unset.
type TuningConfig struct {
	// Detection params
	DetectionConfThreshold *float64 `json:"detection_conf_threshold,omitempty"`
	PersonClassID          *int     `json:"person_class_id,omitempty"`

	// Tracker params
	TrackThresh    *float64 `json:"track_thresh,omitempty"`     // high-confidence partition threshold
	LowThresh      *float64 `json:"low_thresh,omitempty"`       // floor for second-pass detections
	MatchThresh    *float64 `json:"match_thresh,omitempty"`     // pass-1 cost (1-IoU) ceiling
	MatchThreshLow *float64 `json:"match_thresh_low,omitempty"` // pass-2 cost ceiling
	HitsToConfirm  *int     `json:"hits_to_confirm,omitempty"`
	TrackBuffer    *int     `json:"track_buffer,omitempty"` // frames a lost track survives
	MaxTracks      *int     `json:"max_tracks,omitempty"`

	// Motion model noise (pixel units)
	ProcessNoisePos  *float64 `json:"process_noise_pos,omitempty"`
	ProcessNoiseVel  *float64 `json:"process_noise_vel,omitempty"`
	MeasurementNoise *float64 `json:"measurement_noise,omitempty"`

	// Keyframe params
	CenterWindowSecs *float64 `json:"center_window_secs,omitempty"`
	CandidateStride  *int     `json:"candidate_stride,omitempty"`
	WMotion          *float64 `json:"w_motion,omitempty"`
	WConfidence      *float64 `json:"w_confidence,omitempty"`
	FallbackFPS      *float64 `json:"fallback_fps,omitempty"`

	// Pipeline params
	ClipWorkers *int `json:"clip_workers,omitempty"`
}

// EmptyTuningConfig returns a TuningConfig with all fields unset.
// Use LoadTuningConfig to load actual values from a defaults file.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// LoadTuningConfig loads a TuningConfig from a JSON file. Fields omitted
// from the file retain their defaults, so partial configs are safe.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyTuningConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical tuning defaults from DefaultConfigPath.
// It searches for the file in the current directory and common parent directories.
// Panics if the file cannot be loaded, intended for test setup.
func MustLoadDefaultConfig() *TuningConfig {
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath,    // from internal/config/
		"../../../" + DefaultConfigPath, // from internal/vision/track/
		"../../../../" + DefaultConfigPath,
	}
	for _, path := range candidates {
		if cfg, err := LoadTuningConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are valid.
func (c *TuningConfig) Validate() error {
	checkUnit := func(name string, v *float64) error {
		if v != nil && (*v < 0 || *v > 1) {
			return fmt.Errorf("%s must be between 0 and 1, got %f", name, *v)
		}
		return nil
	}
	if err := checkUnit("detection_conf_threshold", c.DetectionConfThreshold); err != nil {
		return err
	}
	if err := checkUnit("track_thresh", c.TrackThresh); err != nil {
		return err
	}
	if err := checkUnit("low_thresh", c.LowThresh); err != nil {
		return err
	}
	if err := checkUnit("match_thresh", c.MatchThresh); err != nil {
		return err
	}
	if err := checkUnit("match_thresh_low", c.MatchThreshLow); err != nil {
		return err
	}

	if c.LowThresh != nil && c.TrackThresh != nil && *c.LowThresh > *c.TrackThresh {
		return fmt.Errorf("low_thresh (%f) must not exceed track_thresh (%f)", *c.LowThresh, *c.TrackThresh)
	}

	if c.HitsToConfirm != nil && *c.HitsToConfirm < 1 {
		return fmt.Errorf("hits_to_confirm must be at least 1, got %d", *c.HitsToConfirm)
	}
	if c.TrackBuffer != nil && *c.TrackBuffer < 0 {
		return fmt.Errorf("track_buffer must be non-negative, got %d", *c.TrackBuffer)
	}
	if c.MaxTracks != nil && *c.MaxTracks < 1 {
		return fmt.Errorf("max_tracks must be at least 1, got %d", *c.MaxTracks)
	}
	if c.CandidateStride != nil && *c.CandidateStride < 1 {
		return fmt.Errorf("candidate_stride must be at least 1, got %d", *c.CandidateStride)
	}
	if c.CenterWindowSecs != nil && *c.CenterWindowSecs < 0 {
		return fmt.Errorf("center_window_secs must be non-negative, got %f", *c.CenterWindowSecs)
	}
	if c.FallbackFPS != nil && *c.FallbackFPS <= 0 {
		return fmt.Errorf("fallback_fps must be positive, got %f", *c.FallbackFPS)
	}
	if c.ClipWorkers != nil && *c.ClipWorkers < 1 {
		return fmt.Errorf("clip_workers must be at least 1, got %d", *c.ClipWorkers)
	}

	// Score weights combine without renormalisation, so their sum is capped.
	wm, wc := c.GetWMotion(), c.GetWConfidence()
	if wm < 0 || wc < 0 {
		return fmt.Errorf("score weights must be non-negative (w_motion=%f, w_confidence=%f)", wm, wc)
	}
	if wm+wc > 1.0 {
		return fmt.Errorf("w_motion + w_confidence must not exceed 1, got %f", wm+wc)
	}

	return nil
}

// Accessors with canonical defaults.

// GetDetectionConfThreshold returns the minimum detector confidence retained.
func (c *TuningConfig) GetDetectionConfThreshold() float64 {
	if c.DetectionConfThreshold != nil {
		return *c.DetectionConfThreshold
	}
	return 0.5
}

// GetPersonClassID returns the detector class id treated as "person".
func (c *TuningConfig) GetPersonClassID() int {
	if c.PersonClassID != nil {
		return *c.PersonClassID
	}
	return 1
}

// GetTrackThresh returns the score above which a detection joins the
// high-confidence association pass.
func (c *TuningConfig) GetTrackThresh() float64 {
	if c.TrackThresh != nil {
		return *c.TrackThresh
	}
	return 0.5
}

// GetLowThresh returns the score floor for second-pass detections.
func (c *TuningConfig) GetLowThresh() float64 {
	if c.LowThresh != nil {
		return *c.LowThresh
	}
	return 0.1
}

// GetMatchThresh returns the pass-1 association cost ceiling (1 - IoU).
func (c *TuningConfig) GetMatchThresh() float64 {
	if c.MatchThresh != nil {
		return *c.MatchThresh
	}
	return 0.8
}

// GetMatchThreshLow returns the pass-2 association cost ceiling.
func (c *TuningConfig) GetMatchThreshLow() float64 {
	if c.MatchThreshLow != nil {
		return *c.MatchThreshLow
	}
	return 0.5
}

// GetHitsToConfirm returns the consecutive hits needed for confirmation.
func (c *TuningConfig) GetHitsToConfirm() int {
	if c.HitsToConfirm != nil {
		return *c.HitsToConfirm
	}
	return 3
}

// GetTrackBuffer returns the frames a lost track survives before removal.
func (c *TuningConfig) GetTrackBuffer() int {
	if c.TrackBuffer != nil {
		return *c.TrackBuffer
	}
	return 30
}

// GetMaxTracks returns the maximum number of concurrent tracks.
func (c *TuningConfig) GetMaxTracks() int {
	if c.MaxTracks != nil {
		return *c.MaxTracks
	}
	return 256
}

// GetProcessNoisePos returns the position process noise (pixels squared).
func (c *TuningConfig) GetProcessNoisePos() float64 {
	if c.ProcessNoisePos != nil {
		return *c.ProcessNoisePos
	}
	return 1.0
}

// GetProcessNoiseVel returns the velocity process noise.
func (c *TuningConfig) GetProcessNoiseVel() float64 {
	if c.ProcessNoiseVel != nil {
		return *c.ProcessNoiseVel
	}
	return 0.1
}

// GetMeasurementNoise returns the measurement noise (pixels squared).
func (c *TuningConfig) GetMeasurementNoise() float64 {
	if c.MeasurementNoise != nil {
		return *c.MeasurementNoise
	}
	return 1.0
}

// GetCenterWindowSecs returns the keyframe window width in seconds.
func (c *TuningConfig) GetCenterWindowSecs() float64 {
	if c.CenterWindowSecs != nil {
		return *c.CenterWindowSecs
	}
	return 4.0
}

// GetCandidateStride returns the sampling stride within the keyframe window.
func (c *TuningConfig) GetCandidateStride() int {
	if c.CandidateStride != nil {
		return *c.CandidateStride
	}
	return 3
}

// GetWMotion returns the motion score weight.
func (c *TuningConfig) GetWMotion() float64 {
	if c.WMotion != nil {
		return *c.WMotion
	}
	return 0.7
}

// GetWConfidence returns the confidence score weight.
func (c *TuningConfig) GetWConfidence() float64 {
	if c.WConfidence != nil {
		return *c.WConfidence
	}
	return 0.3
}

// GetFallbackFPS returns the frame rate assumed when clip metadata has none.
func (c *TuningConfig) GetFallbackFPS() float64 {
	if c.FallbackFPS != nil {
		return *c.FallbackFPS
	}
	return 30.0
}

// GetClipWorkers returns the number of clips processed concurrently.
func (c *TuningConfig) GetClipWorkers() int {
	if c.ClipWorkers != nil {
		return *c.ClipWorkers
	}
	return 4
}
