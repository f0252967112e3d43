// Package vision holds the shared data model for clip processing:
// bounding boxes, per-frame detections, clip metadata, and the
// capability interfaces (Detector, FrameSource) that decouple the
// tracking and keyframe engines from any particular model backend or
// video decoder.
package vision
