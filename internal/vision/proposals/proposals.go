// Package proposals turns per-clip track output into the nested
// proposal table consumed by downstream annotation tooling, and
// handles its JSON persistence.
package proposals

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/banshee-data/keyframe.report/internal/monitoring"
	"github.com/banshee-data/keyframe.report/internal/security"
	"github.com/banshee-data/keyframe.report/internal/vision"
)

// Record is one person box on one frame of one clip.
type Record struct {
	ClipID    string
	FrameName string
	TrackID   int64
	BBox      vision.BBox
}

// Entry is the wire form of one proposal: x1, y1, x2, y2, score,
// track id. Score is fixed at 1.0 for track-derived boxes.
type Entry [6]float64

func entryFromRecord(r Record) Entry {
	return Entry{r.BBox[0], r.BBox[1], r.BBox[2], r.BBox[3], 1.0, float64(r.TrackID)}
}

// valid reports whether a record is well-formed enough to aggregate:
// non-empty identifiers, a finite non-degenerate box, and a positive
// track id.
func (r Record) valid() bool {
	if r.ClipID == "" || r.FrameName == "" || r.TrackID <= 0 {
		return false
	}
	for _, v := range r.BBox {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return r.BBox[2] > r.BBox[0] && r.BBox[3] > r.BBox[1]
}

// Table maps clip id to frame name to the frame's proposal entries.
type Table map[string]map[string][]Entry

// Append adds one record, creating the clip and frame buckets as
// needed.
func (t Table) Append(r Record) {
	frames, ok := t[r.ClipID]
	if !ok {
		frames = make(map[string][]Entry)
		t[r.ClipID] = frames
	}
	frames[r.FrameName] = append(frames[r.FrameName], entryFromRecord(r))
}

// Clips returns the clip ids in sorted order.
func (t Table) Clips() []string {
	out := make([]string, 0, len(t))
	for clip := range t {
		out = append(out, clip)
	}
	sort.Strings(out)
	return out
}

// Equal reports whether two tables hold identical entries. Mostly a
// test convenience.
func (t Table) Equal(other Table) bool {
	if len(t) != len(other) {
		return false
	}
	for clip, frames := range t {
		otherFrames, ok := other[clip]
		if !ok || len(frames) != len(otherFrames) {
			return false
		}
		for name, entries := range frames {
			otherEntries, ok := otherFrames[name]
			if !ok || len(entries) != len(otherEntries) {
				return false
			}
			for i, e := range entries {
				if e != otherEntries[i] {
					return false
				}
			}
		}
	}
	return true
}

// Frames returns a clip's frame names in sorted order.
func (t Table) Frames(clipID string) []string {
	frames := t[clipID]
	out := make([]string, 0, len(frames))
	for name := range frames {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Aggregate builds a Table from records, dropping malformed ones. The
// second return is the number dropped; aggregation itself never fails.
func Aggregate(records []Record) (Table, int) {
	t := make(Table)
	skipped := 0
	for _, r := range records {
		if !r.valid() {
			skipped++
			continue
		}
		t.Append(r)
	}
	if skipped > 0 {
		monitoring.Logf("proposals: skipped %d malformed records of %d", skipped, len(records))
	}
	return t, skipped
}

// clipFile is the on-disk shape of one clip's proposals.
type clipFile struct {
	ClipID string                 `json:"clip_id"`
	Frames map[string][][]float64 `json:"frames"`
}

// ClipFileName returns the per-clip proposal filename.
func ClipFileName(clipID string) string {
	return clipID + "_proposals.json"
}

// WriteClipRecords persists one clip's records as a standalone JSON
// file under dir and returns the file path. Records belonging to other
// clips are rejected.
func WriteClipRecords(dir, clipID string, records []Record) (string, error) {
	cf := clipFile{ClipID: clipID, Frames: make(map[string][][]float64)}
	for _, r := range records {
		if r.ClipID != clipID {
			return "", fmt.Errorf("record for clip %q in batch for %q", r.ClipID, clipID)
		}
		e := entryFromRecord(r)
		cf.Frames[r.FrameName] = append(cf.Frames[r.FrameName], e[:])
	}

	data, err := json.MarshalIndent(cf, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal proposals for clip %s: %w", clipID, err)
	}
	// Clip ids come from sidecar files; never let one name a path
	// outside the output directory.
	path := filepath.Join(dir, ClipFileName(clipID))
	if err := security.ValidatePathWithinDirectory(path, dir); err != nil {
		return "", fmt.Errorf("proposal path for clip %s: %w", clipID, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write proposals for clip %s: %w", clipID, err)
	}
	return path, nil
}

// ReadClipRecords loads a per-clip proposal file back into records.
// Entries of the wrong arity are dropped and counted, not fatal.
func ReadClipRecords(path string) ([]Record, int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, 0, fmt.Errorf("read proposal file: %w", err)
	}
	var cf clipFile
	if err := json.Unmarshal(data, &cf); err != nil {
		return nil, 0, fmt.Errorf("parse proposal file %s: %w", filepath.Base(path), err)
	}
	if cf.ClipID == "" {
		return nil, 0, fmt.Errorf("proposal file %s has no clip id", filepath.Base(path))
	}

	var records []Record
	dropped := 0
	for frame, entries := range cf.Frames {
		for _, e := range entries {
			if len(e) != 6 {
				dropped++
				continue
			}
			records = append(records, Record{
				ClipID:    cf.ClipID,
				FrameName: frame,
				TrackID:   int64(e[5]),
				BBox:      vision.BBox{e[0], e[1], e[2], e[3]},
			})
		}
	}
	sort.Slice(records, func(i, j int) bool {
		if records[i].FrameName != records[j].FrameName {
			return records[i].FrameName < records[j].FrameName
		}
		return records[i].TrackID < records[j].TrackID
	})
	return records, dropped, nil
}

// AggregateDir merges every per-clip proposal file in dir into one
// Table. Unreadable files and malformed records are logged and
// skipped so one bad clip cannot sink the batch.
func AggregateDir(dir string) (Table, int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, 0, fmt.Errorf("list proposal dir: %w", err)
	}

	var all []Record
	skipped := 0
	for _, ent := range entries {
		if ent.IsDir() || !strings.HasSuffix(ent.Name(), "_proposals.json") {
			continue
		}
		path := filepath.Join(dir, ent.Name())
		records, dropped, err := ReadClipRecords(path)
		if err != nil {
			monitoring.Logf("proposals: skipping %s: %v", ent.Name(), err)
			skipped++
			continue
		}
		skipped += dropped
		all = append(all, records...)
	}

	table, dropped := Aggregate(all)
	return table, skipped + dropped, nil
}
