// Package store persists slice reports to PostgreSQL so mined slices survive
// restarts and can be compared across corpus versions.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/Adithya-Monish-Kumar-K/Detection-Error-Analytics-Platform/internal/analysis"
	"github.com/Adithya-Monish-Kumar-K/Detection-Error-Analytics-Platform/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/Detection-Error-Analytics-Platform/pkg/postgres"
)

// Schema creates the tables the store needs. It is safe to run repeatedly.
var Schema = []string{
	`CREATE TABLE IF NOT EXISTS slice_reports (
	    id          UUID PRIMARY KEY,
	    dataset     TEXT NOT NULL,
	    version     TEXT NOT NULL,
	    iou         DOUBLE PRECISION NOT NULL,
	    conf        DOUBLE PRECISION NOT NULL,
	    slice_count INTEGER NOT NULL,
	    data        JSONB NOT NULL,
	    captured_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS slice_reports_lookup
	    ON slice_reports (dataset, iou, conf, captured_at DESC)`,
}

// Run is one persisted slice report.
type Run struct {
	ID         uuid.UUID            `json:"id"`
	Dataset    string               `json:"dataset"`
	Version    string               `json:"version"`
	Report     analysis.SliceReport `json:"report"`
	CapturedAt time.Time            `json:"captured_at"`
}

// Store reads and writes slice report runs.
type Store struct {
	db     *postgres.Client
	logger *slog.Logger
	now    func() time.Time
}

func New(db *postgres.Client) *Store {
	return &Store{
		db:     db,
		logger: logger.WithComponent("slice-store"),
		now:    time.Now,
	}
}

// Migrate creates the schema.
func (s *Store) Migrate(ctx context.Context) error {
	if err := s.db.Migrate(ctx, Schema...); err != nil {
		return fmt.Errorf("migrating slice store: %w", err)
	}
	return nil
}

// Save stores report under a fresh run id. version is the corpus fingerprint
// the report was mined from.
func (s *Store) Save(ctx context.Context, dataset, version string, report analysis.SliceReport) (Run, error) {
	data, err := json.Marshal(report)
	if err != nil {
		return Run{}, fmt.Errorf("marshaling slice report: %w", err)
	}
	run := Run{
		ID:         uuid.New(),
		Dataset:    dataset,
		Version:    version,
		Report:     report,
		CapturedAt: s.now().UTC(),
	}

	err = postgres.InTx(ctx, s.db.DB, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO slice_reports (id, dataset, version, iou, conf, slice_count, data, captured_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			run.ID, dataset, version, report.Key.IoU, report.Key.Conf, len(report.Slices), data, run.CapturedAt,
		)
		return err
	})
	if err != nil {
		return Run{}, fmt.Errorf("saving slice report: %w", err)
	}

	s.logger.Info("slice report saved",
		"run_id", run.ID,
		"dataset", dataset,
		"key", report.Key.String(),
		"slices", len(report.Slices),
	)
	return run, nil
}

// Latest returns the newest run for dataset and the report's threshold key.
// It returns nil, nil when no run exists.
func (s *Store) Latest(ctx context.Context, dataset string, iou, conf float64) (*Run, error) {
	row := s.db.DB.QueryRowContext(ctx,
		`SELECT id, dataset, version, data, captured_at FROM slice_reports
		 WHERE dataset = $1 AND iou = $2 AND conf = $3
		 ORDER BY captured_at DESC LIMIT 1`,
		dataset, iou, conf,
	)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying latest slice report: %w", err)
	}
	return &run, nil
}

// List returns the last limit runs of dataset, newest first. Rows whose
// payload no longer decodes are skipped.
func (s *Store) List(ctx context.Context, dataset string, limit int) ([]Run, error) {
	rows, err := s.db.DB.QueryContext(ctx,
		`SELECT id, dataset, version, data, captured_at FROM slice_reports
		 WHERE dataset = $1 ORDER BY captured_at DESC LIMIT $2`,
		dataset, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("listing slice reports: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			var syntax *json.SyntaxError
			if errors.As(err, &syntax) {
				s.logger.Warn("skipping corrupt slice report", "error", err)
				continue
			}
			return nil, fmt.Errorf("scanning slice report row: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// Prune deletes runs of dataset captured before cutoff.
func (s *Store) Prune(ctx context.Context, dataset string, cutoff time.Time) (int64, error) {
	res, err := s.db.DB.ExecContext(ctx,
		`DELETE FROM slice_reports WHERE dataset = $1 AND captured_at < $2`,
		dataset, cutoff.UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("pruning slice reports: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("counting pruned slice reports: %w", err)
	}
	if n > 0 {
		s.logger.Info("slice reports pruned", "dataset", dataset, "removed", n)
	}
	return n, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (Run, error) {
	var (
		run  Run
		data []byte
	)
	if err := row.Scan(&run.ID, &run.Dataset, &run.Version, &data, &run.CapturedAt); err != nil {
		return Run{}, err
	}
	if err := json.Unmarshal(data, &run.Report); err != nil {
		return Run{}, err
	}
	return run, nil
}
