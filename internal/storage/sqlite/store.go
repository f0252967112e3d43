// Package sqlite persists runs and their aggregated proposals so a
// batch can be inspected or re-exported after the fact.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"

	"github.com/banshee-data/keyframe.report/internal/vision"
	"github.com/banshee-data/keyframe.report/internal/vision/proposals"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Store wraps the sqlite database holding runs and proposals.
type Store struct {
	*sql.DB
}

// Run is one pipeline invocation's bookkeeping row.
type Run struct {
	RunID       string
	StartedAt   time.Time
	FinishedAt  *time.Time
	ClipsTotal  int64
	ClipsFailed int64
}

// Open opens (or creates) the database at path and applies any pending
// migrations.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	s := &Store{db}
	if err := s.migrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrateUp() error {
	src, err := iofs.New(migrationFiles, "migrations")
	if err != nil {
		return fmt.Errorf("load embedded migrations: %w", err)
	}
	driver, err := migratesqlite.WithInstance(s.DB, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("create sqlite migrate driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("create migrate instance: %w", err)
	}
	// Not closing m: that would close the underlying DB connection.

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}
	return nil
}

// InsertRun records the start of a run.
func (s *Store) InsertRun(ctx context.Context, runID string, startedAt time.Time) error {
	_, err := s.ExecContext(ctx,
		`INSERT INTO runs (run_id, started_at) VALUES (?, ?)`,
		runID, startedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert run %s: %w", runID, err)
	}
	return nil
}

// FinishRun closes out a run with its clip totals.
func (s *Store) FinishRun(ctx context.Context, runID string, finishedAt time.Time, clipsTotal, clipsFailed int64) error {
	res, err := s.ExecContext(ctx,
		`UPDATE runs SET finished_at = ?, clips_total = ?, clips_failed = ? WHERE run_id = ?`,
		finishedAt.UTC(), clipsTotal, clipsFailed, runID)
	if err != nil {
		return fmt.Errorf("finish run %s: %w", runID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("finish run %s: run not found", runID)
	}
	return nil
}

// InsertProposals stores a batch of records for one run in a single
// transaction.
func (s *Store) InsertProposals(ctx context.Context, runID string, records []proposals.Record) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := s.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin proposal insert: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO proposals (run_id, clip_id, frame_name, track_id, x1, y1, x2, y2, score)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, 1.0)`)
	if err != nil {
		return fmt.Errorf("prepare proposal insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range records {
		if _, err := stmt.ExecContext(ctx, runID, r.ClipID, r.FrameName, r.TrackID,
			r.BBox[0], r.BBox[1], r.BBox[2], r.BBox[3]); err != nil {
			return fmt.Errorf("insert proposal for clip %s frame %s: %w", r.ClipID, r.FrameName, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit proposal insert: %w", err)
	}
	return nil
}

// GetProposals returns a run's records, optionally filtered to one
// clip when clipID is non-empty. Results are ordered for stable
// re-aggregation.
func (s *Store) GetProposals(ctx context.Context, runID, clipID string) ([]proposals.Record, error) {
	query := `SELECT clip_id, frame_name, track_id, x1, y1, x2, y2 FROM proposals WHERE run_id = ?`
	args := []any{runID}
	if clipID != "" {
		query += ` AND clip_id = ?`
		args = append(args, clipID)
	}
	query += ` ORDER BY clip_id, frame_name, track_id`

	rows, err := s.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query proposals for run %s: %w", runID, err)
	}
	defer rows.Close()

	var out []proposals.Record
	for rows.Next() {
		var r proposals.Record
		var b vision.BBox
		if err := rows.Scan(&r.ClipID, &r.FrameName, &r.TrackID, &b[0], &b[1], &b[2], &b[3]); err != nil {
			return nil, fmt.Errorf("scan proposal row: %w", err)
		}
		r.BBox = b
		out = append(out, r)
	}
	return out, rows.Err()
}

// ListRuns returns all runs, newest first.
func (s *Store) ListRuns(ctx context.Context) ([]Run, error) {
	rows, err := s.QueryContext(ctx,
		`SELECT run_id, started_at, finished_at, clips_total, clips_failed
		 FROM runs ORDER BY started_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var r Run
		var finished sql.NullTime
		if err := rows.Scan(&r.RunID, &r.StartedAt, &finished, &r.ClipsTotal, &r.ClipsFailed); err != nil {
			return nil, fmt.Errorf("scan run row: %w", err)
		}
		if finished.Valid {
			t := finished.Time
			r.FinishedAt = &t
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
