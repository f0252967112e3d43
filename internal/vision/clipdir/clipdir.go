// Package clipdir loads clips prepared on disk: one directory per clip
// holding extracted frame images plus a detections.json sidecar with
// the precomputed detector output. Frame extraction and inference
// happen upstream; this package only adapts their artifacts to the
// FrameSource and Detector interfaces.
package clipdir

import (
	"encoding/json"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/keyframe.report/internal/vision"
)

// DetectionsFileName is the per-clip sidecar holding detector output.
const DetectionsFileName = "detections.json"

// FrameFileName is the canonical name for the index-th extracted frame.
// Loading only requires that names sort in frame order; this is the
// format the extraction tooling writes.
func FrameFileName(index int) string {
	return fmt.Sprintf("frame_%06d.png", index)
}

// sidecar is the detections.json shape: frame index (as a string key)
// to [x1, y1, x2, y2, score, class] entries.
type sidecar struct {
	ClipID string                 `json:"clip_id"`
	FPS    float64                `json:"fps"`
	Width  int                    `json:"width"`
	Height int                    `json:"height"`
	Frames map[string][][]float64 `json:"frames"`
}

// Clip is one on-disk clip: ordered frame image paths plus detections.
type Clip struct {
	Meta       vision.ClipMeta
	framePaths []string
	detections map[int][]vision.Detection
}

// Load reads one clip directory.
func Load(dir string) (*Clip, error) {
	data, err := os.ReadFile(filepath.Join(dir, DetectionsFileName))
	if err != nil {
		return nil, fmt.Errorf("read detections sidecar: %w", err)
	}
	var sc sidecar
	if err := json.Unmarshal(data, &sc); err != nil {
		return nil, fmt.Errorf("parse detections sidecar in %s: %w", dir, err)
	}
	clipID := sc.ClipID
	if clipID == "" {
		clipID = filepath.Base(dir)
	}

	paths, err := frameImagePaths(dir)
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("clip %s has no frame images", clipID)
	}

	dets := make(map[int][]vision.Detection, len(sc.Frames))
	for key, entries := range sc.Frames {
		idx, err := strconv.Atoi(key)
		if err != nil || idx < 0 {
			return nil, fmt.Errorf("clip %s: bad frame key %q in sidecar", clipID, key)
		}
		for _, e := range entries {
			if len(e) != 6 {
				return nil, fmt.Errorf("clip %s frame %d: detection entry has %d fields, want 6", clipID, idx, len(e))
			}
			dets[idx] = append(dets[idx], vision.Detection{
				BBox:    vision.BBox{e[0], e[1], e[2], e[3]},
				Score:   e[4],
				ClassID: int(e[5]),
			})
		}
	}

	return &Clip{
		Meta: vision.ClipMeta{
			ClipID:      clipID,
			FPS:         sc.FPS,
			TotalFrames: len(paths),
			Frame:       vision.FrameMeta{Height: sc.Height, Width: sc.Width},
		},
		framePaths: paths,
		detections: dets,
	}, nil
}

// LoadAll loads every clip directory under root, sorted by name.
func LoadAll(root string) ([]*Clip, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("list clip root: %w", err)
	}
	var clips []*Clip
	for _, ent := range entries {
		if !ent.IsDir() {
			continue
		}
		clip, err := Load(filepath.Join(root, ent.Name()))
		if err != nil {
			return nil, fmt.Errorf("load clip %s: %w", ent.Name(), err)
		}
		clips = append(clips, clip)
	}
	sort.Slice(clips, func(i, j int) bool { return clips[i].Meta.ClipID < clips[j].Meta.ClipID })
	return clips, nil
}

// Frame decodes the index-th frame image to grayscale.
func (c *Clip) Frame(index int) (*vision.Frame, error) {
	if index < 0 || index >= len(c.framePaths) {
		return nil, fmt.Errorf("frame %d out of range [0, %d)", index, len(c.framePaths))
	}
	f, err := os.Open(c.framePaths[index])
	if err != nil {
		return nil, fmt.Errorf("open frame %d: %w", index, err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode frame %d: %w", index, err)
	}
	return &vision.Frame{Index: index, Gray: grayMatrix(img)}, nil
}

// Predict returns the sidecar detections for a frame. Frames absent
// from the sidecar are empty, not errors.
func (c *Clip) Predict(f *vision.Frame) ([]vision.Detection, error) {
	return c.detections[f.Index], nil
}

// frameImagePaths lists the clip's frame images in name order. Frame
// index is position in that order.
func frameImagePaths(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("list clip dir: %w", err)
	}
	var paths []string
	for _, ent := range entries {
		if ent.IsDir() {
			continue
		}
		switch filepath.Ext(ent.Name()) {
		case ".jpg", ".jpeg", ".png":
			paths = append(paths, filepath.Join(dir, ent.Name()))
		}
	}
	sort.Strings(paths)
	return paths, nil
}

// grayMatrix converts a decoded image to a luma matrix scaled to
// [0, 255].
func grayMatrix(img image.Image) *mat.Dense {
	bounds := img.Bounds()
	h, w := bounds.Dy(), bounds.Dx()
	m := mat.NewDense(h, w, nil)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r, g, b, _ := img.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
			// ITU-R BT.601 luma, 16-bit channels scaled to 8-bit.
			luma := (299*float64(r) + 587*float64(g) + 114*float64(b)) / 1000 / 257
			m.Set(y, x, luma)
		}
	}
	return m
}
