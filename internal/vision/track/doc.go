// Package track implements multi-object tracking over per-frame person
// detections: a constant-velocity Kalman motion model, two-pass cascaded
// IoU association solved with the Hungarian algorithm, and the track
// lifecycle state machine (Tentative, Confirmed, Lost, Removed).
//
// One Tracker instance owns one clip's tracks; instances are never
// shared across clips and require no external synchronisation.
package track
