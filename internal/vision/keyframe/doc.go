// Package keyframe selects the single most informative frame from a
// short clip by scoring a window of candidates around the clip
// midpoint on person motion and detection confidence.
package keyframe
