// Command proposals runs the clip pipeline over a directory of
// prepared clips and emits aggregated person proposals.
//
// Each clip is a subdirectory of -clips holding extracted frame images
// plus a detections.json sidecar with precomputed detector output.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/banshee-data/keyframe.report/internal/config"
	"github.com/banshee-data/keyframe.report/internal/metrics"
	"github.com/banshee-data/keyframe.report/internal/monitoring"
	"github.com/banshee-data/keyframe.report/internal/pipeline"
	"github.com/banshee-data/keyframe.report/internal/report"
	"github.com/banshee-data/keyframe.report/internal/storage/sqlite"
	"github.com/banshee-data/keyframe.report/internal/version"
	"github.com/banshee-data/keyframe.report/internal/vision/clipdir"
	"github.com/banshee-data/keyframe.report/internal/vision/keyframe"
	"github.com/banshee-data/keyframe.report/internal/vision/track"
)

var (
	clipsDir    = flag.String("clips", "", "Directory of clip subdirectories (required)")
	modeFlag    = flag.String("mode", "track", "Pipeline mode: track, keyframe, or middle")
	configPath  = flag.String("config", "", "Tuning config JSON (default: built-in defaults)")
	outDir      = flag.String("out", "", "Directory for per-clip proposal JSON")
	tablePath   = flag.String("table", "", "Path for the aggregated proposal table JSON")
	dbPath      = flag.String("db", "", "Sqlite database for run persistence")
	metricsPath = flag.String("metrics", "", "JSONL metrics log path")
	reportDir   = flag.String("report", "", "Directory for keyframe score charts (keyframe mode)")
	workers     = flag.Int("workers", 0, "Clip worker count (default: from config)")
	showVersion = flag.Bool("version", false, "Print version and exit")
)

func main() {
	flag.Parse()
	if *showVersion {
		fmt.Printf("proposals %s (%s, built %s)\n", version.Version, version.GitSHA, version.BuildTime)
		return
	}
	if *clipsDir == "" {
		flag.Usage()
		os.Exit(2)
	}

	mode, err := pipeline.ParseMode(*modeFlag)
	if err != nil {
		log.Fatalf("%v", err)
	}

	tuning := loadTuning()
	clips, err := clipdir.LoadAll(*clipsDir)
	if err != nil {
		log.Fatalf("loading clips: %v", err)
	}
	if len(clips) == 0 {
		log.Fatalf("no clips found under %s", *clipsDir)
	}

	runner := &pipeline.Runner{
		Tracking:      track.ConfigFromTuning(tuning),
		Keyframe:      keyframe.ConfigFromTuning(tuning),
		Flow:          keyframe.NewBlockFlow(),
		PersonClassID: tuning.GetPersonClassID(),
	}

	if *dbPath != "" {
		store, err := sqlite.Open(*dbPath)
		if err != nil {
			log.Fatalf("opening store: %v", err)
		}
		defer store.Close()
		runner.Store = store
	}
	if *metricsPath != "" {
		rec, err := metrics.NewRecorder(*metricsPath, "")
		if err != nil {
			log.Fatalf("opening metrics log: %v", err)
		}
		defer rec.Close()
		runner.Metrics = rec
	}

	batch := make([]pipeline.Clip, len(clips))
	for i, c := range clips {
		batch[i] = pipeline.Clip{Meta: c.Meta, Source: c, Detector: c}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	n := *workers
	if n < 1 {
		n = tuning.GetClipWorkers()
	}
	summary, err := runner.Run(ctx, batch, pipeline.Options{
		Mode:      mode,
		Workers:   n,
		OutputDir: *outDir,
	})
	if err != nil {
		log.Fatalf("run failed: %v", err)
	}

	monitoring.Logf("run %s: %d clips, %d failed, %d records skipped",
		summary.RunID, summary.ClipsTotal, summary.ClipsFailed, summary.Skipped)

	if *tablePath != "" {
		data, err := json.MarshalIndent(summary.Table, "", "  ")
		if err != nil {
			log.Fatalf("marshal proposal table: %v", err)
		}
		if err := os.WriteFile(*tablePath, data, 0o644); err != nil {
			log.Fatalf("write proposal table: %v", err)
		}
	}
	if *reportDir != "" && len(summary.Keyframes) > 0 {
		paths, err := report.WriteScoreCharts(*reportDir, summary.Keyframes)
		if err != nil {
			log.Fatalf("write score charts: %v", err)
		}
		monitoring.Logf("wrote %d score charts to %s", len(paths), *reportDir)
	}
	if summary.ClipsFailed > 0 {
		os.Exit(1)
	}
}

func loadTuning() *config.TuningConfig {
	if *configPath == "" {
		return config.MustLoadDefaultConfig()
	}
	tuning, err := config.LoadTuningConfig(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}
	if err := tuning.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}
	return tuning
}
