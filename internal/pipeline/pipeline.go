// Package pipeline drives detection over batches of clips: per-clip
// tracking or keyframe selection, proposal emission, and run
// bookkeeping.
package pipeline

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/keyframe.report/internal/metrics"
	"github.com/banshee-data/keyframe.report/internal/monitoring"
	"github.com/banshee-data/keyframe.report/internal/storage/sqlite"
	"github.com/banshee-data/keyframe.report/internal/vision"
	"github.com/banshee-data/keyframe.report/internal/vision/keyframe"
	"github.com/banshee-data/keyframe.report/internal/vision/proposals"
	"github.com/banshee-data/keyframe.report/internal/vision/track"
)

// Mode selects how a clip is reduced to proposals.
type Mode string

const (
	// ModeTrack runs the tracker over every frame and emits one
	// proposal per confirmed track per frame.
	ModeTrack Mode = "track"
	// ModeKeyframe scores a window around the clip midpoint and emits
	// proposals for the single best frame.
	ModeKeyframe Mode = "keyframe"
	// ModeMiddle detects on the middle frame only. Cheapest option for
	// triage passes.
	ModeMiddle Mode = "middle"
)

// ParseMode validates a mode string from config or flags.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeTrack, ModeKeyframe, ModeMiddle:
		return Mode(s), nil
	}
	return "", fmt.Errorf("unknown pipeline mode %q", s)
}

// Clip pairs a clip's metadata with its frame source. Detector, when
// set, overrides the Runner's detector for this clip; clip-directory
// sources carry their own precomputed detections.
type Clip struct {
	Meta     vision.ClipMeta
	Source   vision.FrameSource
	Detector vision.Detector
}

// ClipResult is the per-clip output of one pipeline pass.
type ClipResult struct {
	ClipID   string
	Records  []proposals.Record
	Keyframe *keyframe.Keyframe
}

// Options configures a Run.
type Options struct {
	Mode      Mode
	Workers   int
	OutputDir string // when set, per-clip proposal JSON is written here
}

// Summary is the outcome of a whole run.
type Summary struct {
	RunID       string
	Table       proposals.Table
	Keyframes   []*keyframe.Keyframe
	ClipsTotal  int
	ClipsFailed int
	Skipped     int
}

// Runner holds the components shared across clips. Store and Metrics
// are optional; a nil value disables that sink.
type Runner struct {
	Detector      vision.Detector
	Flow          keyframe.FlowEstimator
	Tracking      track.Config
	Keyframe      keyframe.Config
	PersonClassID int
	Store         *sqlite.Store
	Metrics       *metrics.Recorder
}

// ProcessClip reduces one clip to proposal records under the given
// mode. A fresh tracker is used per clip so identities never leak
// across clips.
func (r *Runner) ProcessClip(ctx context.Context, clip Clip, mode Mode) (*ClipResult, error) {
	switch mode {
	case ModeTrack:
		return r.processTracked(ctx, clip)
	case ModeKeyframe:
		return r.processKeyframe(ctx, clip)
	case ModeMiddle:
		return r.processMiddle(ctx, clip)
	}
	return nil, fmt.Errorf("unknown pipeline mode %q", mode)
}

func (r *Runner) detectorFor(clip Clip) vision.Detector {
	if clip.Detector != nil {
		return clip.Detector
	}
	return r.Detector
}

func (r *Runner) processTracked(ctx context.Context, clip Clip) (*ClipResult, error) {
	tracker := track.NewTracker(r.Tracking)
	det := r.detectorFor(clip)
	result := &ClipResult{ClipID: clip.Meta.ClipID}

	for i := 0; i < clip.Meta.TotalFrames; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		frame, err := clip.Source.Frame(i)
		if err != nil {
			monitoring.Logf("pipeline: clip %s frame %d unreadable, skipping: %v", clip.Meta.ClipID, i, err)
			continue
		}
		dets, err := det.Predict(frame)
		if err != nil {
			return nil, fmt.Errorf("detect clip %s frame %d: %w", clip.Meta.ClipID, i, err)
		}
		persons := vision.FilterClass(dets, r.PersonClassID, 0)

		for _, t := range tracker.Update(persons, clip.Meta.Frame) {
			result.Records = append(result.Records, proposals.Record{
				ClipID:    clip.Meta.ClipID,
				FrameName: keyframe.FrameName(clip.Meta.ClipID, i),
				TrackID:   t.ID,
				BBox:      t.BBox,
			})
		}
	}
	return result, nil
}

func (r *Runner) processKeyframe(ctx context.Context, clip Clip) (*ClipResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	selector := keyframe.NewSelector(r.detectorFor(clip), r.Flow, r.Keyframe)
	kf, err := selector.SelectBest(clip.Source, clip.Meta)
	if err != nil {
		return nil, fmt.Errorf("select keyframe for clip %s: %w", clip.Meta.ClipID, err)
	}
	result := &ClipResult{ClipID: clip.Meta.ClipID, Keyframe: kf}
	if kf == nil {
		r.event("keyframe_empty", clip.Meta.ClipID, nil)
		return result, nil
	}
	for _, a := range kf.Annotations {
		result.Records = append(result.Records, proposals.Record{
			ClipID:    clip.Meta.ClipID,
			FrameName: kf.Name,
			TrackID:   a.TrackID,
			BBox:      a.BBox.Clip(clip.Meta.Frame),
		})
	}
	return result, nil
}

// processMiddle detects on the middle frame only and ranks the person
// boxes by score, mirroring the keyframe annotation shape without the
// scoring window.
func (r *Runner) processMiddle(ctx context.Context, clip Clip) (*ClipResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	result := &ClipResult{ClipID: clip.Meta.ClipID}
	if clip.Meta.TotalFrames <= 0 {
		return result, nil
	}
	middle := clip.Meta.TotalFrames / 2
	frame, err := clip.Source.Frame(middle)
	if err != nil {
		return nil, fmt.Errorf("read clip %s middle frame %d: %w", clip.Meta.ClipID, middle, err)
	}
	dets, err := r.detectorFor(clip).Predict(frame)
	if err != nil {
		return nil, fmt.Errorf("detect clip %s frame %d: %w", clip.Meta.ClipID, middle, err)
	}
	persons := vision.FilterClass(dets, r.PersonClassID, 0)
	sort.SliceStable(persons, func(i, j int) bool { return persons[i].Score > persons[j].Score })

	name := keyframe.FrameName(clip.Meta.ClipID, middle)
	for rank, d := range persons {
		result.Records = append(result.Records, proposals.Record{
			ClipID:    clip.Meta.ClipID,
			FrameName: name,
			TrackID:   int64(rank + 1),
			BBox:      d.BBox.Clip(clip.Meta.Frame),
		})
	}
	return result, nil
}

// Run processes every clip with a bounded worker pool, aggregates the
// surviving records, and persists the run when a store is configured.
// A failing clip is counted and logged; it never aborts the batch.
func (r *Runner) Run(ctx context.Context, clips []Clip, opts Options) (*Summary, error) {
	runID := uuid.NewString()
	startedAt := time.Now()
	if r.Metrics != nil {
		r.Metrics.SetRunID(runID)
	}
	r.event("run_started", "", map[string]string{"clips": strconv.Itoa(len(clips))})
	if r.Store != nil {
		if err := r.Store.InsertRun(ctx, runID, startedAt); err != nil {
			return nil, err
		}
	}

	workers := opts.Workers
	if workers < 1 {
		workers = 1
	}

	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		results = make([]*ClipResult, len(clips))
		failed  int
	)
	sem := make(chan struct{}, workers)
	for i, clip := range clips {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, clip Clip) {
			defer wg.Done()
			defer func() { <-sem }()

			r.event("clip_started", clip.Meta.ClipID, nil)
			res, err := r.ProcessClip(ctx, clip, opts.Mode)
			if err != nil {
				monitoring.Logf("pipeline: clip %s failed: %v", clip.Meta.ClipID, err)
				r.event("clip_failed", clip.Meta.ClipID, map[string]string{"error": err.Error()})
				mu.Lock()
				failed++
				mu.Unlock()
				return
			}
			r.event("clip_finished", clip.Meta.ClipID,
				map[string]string{"proposals": strconv.Itoa(len(res.Records))})
			mu.Lock()
			results[i] = res
			mu.Unlock()
		}(i, clip)
	}
	wg.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	summary := &Summary{RunID: runID, ClipsTotal: len(clips), ClipsFailed: failed}
	var all []proposals.Record
	for _, res := range results {
		if res == nil {
			continue
		}
		all = append(all, res.Records...)
		if res.Keyframe != nil {
			summary.Keyframes = append(summary.Keyframes, res.Keyframe)
		}
		if opts.OutputDir != "" {
			if _, err := proposals.WriteClipRecords(opts.OutputDir, res.ClipID, res.Records); err != nil {
				monitoring.Logf("pipeline: writing proposals for clip %s: %v", res.ClipID, err)
			}
		}
	}
	summary.Table, summary.Skipped = proposals.Aggregate(all)
	if summary.Skipped > 0 {
		r.event("records_skipped", "", map[string]string{"count": strconv.Itoa(summary.Skipped)})
	}

	if r.Store != nil {
		if err := r.Store.InsertProposals(ctx, runID, all); err != nil {
			return nil, err
		}
		if err := r.Store.FinishRun(ctx, runID, time.Now(), int64(len(clips)), int64(failed)); err != nil {
			return nil, err
		}
	}
	r.event("run_finished", "", map[string]string{
		"clips_failed": strconv.Itoa(failed),
		"proposals":    strconv.Itoa(len(all)),
	})
	return summary, nil
}

func (r *Runner) event(eventType, clipID string, extra map[string]string) {
	if r.Metrics != nil {
		r.Metrics.Record(eventType, clipID, extra)
	}
}
