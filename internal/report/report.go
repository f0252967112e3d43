// Package report renders keyframe scoring diagnostics as standalone
// HTML charts. Debugging aid for tuning the selection weights; not
// part of the proposal output.
package report

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/keyframe.report/internal/vision/keyframe"
)

// WriteScoreChart renders one clip's candidate scores as a line chart.
func WriteScoreChart(w io.Writer, kf *keyframe.Keyframe) error {
	if kf == nil || len(kf.Candidates) == 0 {
		return fmt.Errorf("no candidate scores to render")
	}

	x := make([]string, len(kf.Candidates))
	motion := make([]opts.LineData, len(kf.Candidates))
	confidence := make([]opts.LineData, len(kf.Candidates))
	combined := make([]opts.LineData, len(kf.Candidates))
	for i, c := range kf.Candidates {
		x[i] = fmt.Sprintf("%d", c.FrameIndex)
		motion[i] = opts.LineData{Value: c.NormMotion}
		confidence[i] = opts.LineData{Value: c.NormConfidence}
		combined[i] = opts.LineData{Value: c.Final}
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{
			Title:    fmt.Sprintf("Keyframe scores: %s", kf.ClipID),
			Subtitle: fmt.Sprintf("selected frame %d", kf.FrameIndex),
		}),
		charts.WithXAxisOpts(opts.XAxis{Name: "frame"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "score"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)
	line.SetXAxis(x).
		AddSeries("motion", motion).
		AddSeries("confidence", confidence).
		AddSeries("combined", combined)

	if err := line.Render(w); err != nil {
		return fmt.Errorf("render score chart for clip %s: %w", kf.ClipID, err)
	}
	return nil
}

// WriteScoreCharts writes one chart file per keyframe into dir and
// returns the paths written.
func WriteScoreCharts(dir string, kfs []*keyframe.Keyframe) ([]string, error) {
	var paths []string
	for _, kf := range kfs {
		if kf == nil || len(kf.Candidates) == 0 {
			continue
		}
		path := filepath.Join(dir, kf.ClipID+"_scores.html")
		f, err := os.Create(path)
		if err != nil {
			return paths, fmt.Errorf("create score chart file: %w", err)
		}
		if err := WriteScoreChart(f, kf); err != nil {
			f.Close()
			return paths, err
		}
		if err := f.Close(); err != nil {
			return paths, err
		}
		paths = append(paths, path)
	}
	return paths, nil
}
