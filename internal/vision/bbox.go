package vision

// BBox is an axis-aligned bounding box in pixel coordinates,
// stored as [x1, y1, x2, y2] with (x1, y1) the top-left corner.
type BBox [4]float64

// Width returns the box width. Degenerate boxes return 0.
func (b BBox) Width() float64 {
	if w := b[2] - b[0]; w > 0 {
		return w
	}
	return 0
}

// Height returns the box height. Degenerate boxes return 0.
func (b BBox) Height() float64 {
	if h := b[3] - b[1]; h > 0 {
		return h
	}
	return 0
}

// Area returns the box area.
func (b BBox) Area() float64 {
	return b.Width() * b.Height()
}

// Center returns the box centre point.
func (b BBox) Center() (x, y float64) {
	return (b[0] + b[2]) / 2, (b[1] + b[3]) / 2
}

// IsZero reports whether the box is the zero value.
func (b BBox) IsZero() bool {
	return b == BBox{}
}

// Clip bounds the box to the given frame dimensions.
func (b BBox) Clip(frame FrameMeta) BBox {
	w, h := float64(frame.Width), float64(frame.Height)
	out := b
	if out[0] < 0 {
		out[0] = 0
	}
	if out[1] < 0 {
		out[1] = 0
	}
	if out[2] > w {
		out[2] = w
	}
	if out[3] > h {
		out[3] = h
	}
	return out
}

// IoU returns the intersection-over-union overlap between two boxes,
// in [0, 1]. Non-overlapping or degenerate boxes return 0.
func IoU(a, b BBox) float64 {
	ix1 := max(a[0], b[0])
	iy1 := max(a[1], b[1])
	ix2 := min(a[2], b[2])
	iy2 := min(a[3], b[3])

	iw := ix2 - ix1
	ih := iy2 - iy1
	if iw <= 0 || ih <= 0 {
		return 0
	}
	inter := iw * ih
	union := a.Area() + b.Area() - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

// Union returns the smallest box containing both a and b.
func Union(a, b BBox) BBox {
	return BBox{
		min(a[0], b[0]),
		min(a[1], b[1]),
		max(a[2], b[2]),
		max(a[3], b[3]),
	}
}
