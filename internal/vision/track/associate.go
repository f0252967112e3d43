package track

import "github.com/banshee-data/keyframe.report/internal/vision"

// Match pairs a track index with a detection index, both referring to
// the caller's input slices.
type Match struct {
	Track     int
	Detection int
}

// AssocConfig holds the association cascade parameters.
type AssocConfig struct {
	TrackThresh    float64 // Score at or above which a detection is high-confidence
	LowThresh      float64 // Score floor for second-pass detections
	MatchThresh    float64 // Pass-1 cost (1 - IoU) ceiling
	MatchThreshLow float64 // Pass-2 cost ceiling
}

// Associate matches predicted track boxes against the frame's
// detections in two cascaded passes: high-confidence detections first,
// then the remaining tracks against low-confidence detections. This
// second pass recovers tracks through momentary detector score drops.
//
// Returned slices index into the input slices. Unmatched detections
// include everything below LowThresh; callers deciding whether to
// spawn tracks filter by score themselves.
func Associate(trackBoxes []vision.BBox, dets []vision.Detection, cfg AssocConfig) (matches []Match, unmatchedTracks, unmatchedDets []int) {
	high := make([]int, 0, len(dets))
	low := make([]int, 0)
	rest := make([]int, 0)
	for i, d := range dets {
		switch {
		case d.Score >= cfg.TrackThresh:
			high = append(high, i)
		case d.Score >= cfg.LowThresh:
			low = append(low, i)
		default:
			rest = append(rest, i)
		}
	}

	allTracks := make([]int, len(trackBoxes))
	for i := range trackBoxes {
		allTracks[i] = i
	}

	// Pass 1: all tracks vs high-confidence detections.
	m1, remTracks, remHigh := associatePass(trackBoxes, dets, allTracks, high, cfg.MatchThresh)
	matches = append(matches, m1...)

	// Pass 2: remaining tracks vs low-confidence detections.
	m2, remTracks2, remLow := associatePass(trackBoxes, dets, remTracks, low, cfg.MatchThreshLow)
	matches = append(matches, m2...)

	unmatchedTracks = remTracks2
	unmatchedDets = append(unmatchedDets, remHigh...)
	unmatchedDets = append(unmatchedDets, remLow...)
	unmatchedDets = append(unmatchedDets, rest...)
	return matches, unmatchedTracks, unmatchedDets
}

// associatePass runs one assignment round between the given track and
// detection index subsets, rejecting pairs whose cost exceeds costCeil.
func associatePass(trackBoxes []vision.BBox, dets []vision.Detection, trackIdx, detIdx []int, costCeil float64) (matches []Match, unmatchedTracks, unmatchedDets []int) {
	if len(trackIdx) == 0 || len(detIdx) == 0 {
		return nil, trackIdx, detIdx
	}

	cost := make([][]float64, len(trackIdx))
	for i, ti := range trackIdx {
		cost[i] = make([]float64, len(detIdx))
		for j, dj := range detIdx {
			c := 1 - vision.IoU(trackBoxes[ti], dets[dj].BBox)
			if c > costCeil {
				c = forbiddenCost
			}
			cost[i][j] = c
		}
	}

	assign := hungarianAssign(cost)

	matchedDet := make([]bool, len(detIdx))
	for i, ti := range trackIdx {
		j := assign[i]
		if j < 0 {
			unmatchedTracks = append(unmatchedTracks, ti)
			continue
		}
		matches = append(matches, Match{Track: ti, Detection: detIdx[j]})
		matchedDet[j] = true
	}
	for j, dj := range detIdx {
		if !matchedDet[j] {
			unmatchedDets = append(unmatchedDets, dj)
		}
	}
	return matches, unmatchedTracks, unmatchedDets
}
