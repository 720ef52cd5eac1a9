// Package history keeps a sqlite record of calibration runs: when they ran, on which frames,
// how well they fit and which artifacts they wrote.
package history

import (
	"context"
	"database/sql"
	"embed"
	"strconv"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.viam.com/utils"

	// sqlite driver.
	_ "modernc.org/sqlite"

	"go.viam.com/stereocalib/rimage/calibration"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Run statuses.
const (
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// startedLayout is a fixed width RFC 3339 layout, so that start times sort as text.
const startedLayout = "2006-01-02T15:04:05.000000000Z07:00"

// ErrNotFound is returned by Get for an unknown run.
var ErrNotFound = errors.New("calibration run not found")

// Artifact is an output of a run and whether it was written.
type Artifact struct {
	Path    string
	Written bool
}

// Run is the stored summary of a calibration run.
type Run struct {
	ID              string
	Started         time.Time
	Duration        time.Duration
	Dir             string
	FramesRequested int
	FramesLoaded    int
	FramesAccepted  int
	Rejected        []int
	RMS1            float64
	RMS2            float64
	StereoRMS       float64
	EpipolarError   float64
	Status          string
	Error           string
	FrameErrors     []calibration.FrameError
	Artifacts       []Artifact
}

// NewRun summarizes report, the result of running on dir with outputs. runErr is the error the
// run ended with, if any.
func NewRun(report *calibration.Report, dir string, outputs calibration.Outputs, runErr error) Run {
	run := Run{
		ID:              report.RunID,
		Started:         report.Started,
		Duration:        report.Duration,
		Dir:             dir,
		FramesRequested: report.FramesRequested,
		FramesLoaded:    report.FramesLoaded,
		FramesAccepted:  report.FramesAccepted,
		Rejected:        report.Rejected,
		EpipolarError:   report.EpipolarError,
		Status:          StatusSucceeded,
		FrameErrors:     report.FrameErrors,
	}
	if res := report.Result; res != nil {
		run.RMS1, run.RMS2, run.StereoRMS = res.RMS1, res.RMS2, res.StereoRMS
	}
	if runErr != nil {
		run.Status = StatusFailed
		run.Error = runErr.Error()
	}
	written := make(map[string]bool, len(report.Written))
	for _, p := range report.Written {
		written[p] = true
	}
	for _, p := range []string{outputs.Intrinsics, outputs.Extrinsics, outputs.StereoParams} {
		if p == "" {
			continue
		}
		run.Artifacts = append(run.Artifacts, Artifact{Path: p, Written: written[p]})
	}
	return run
}

// Store is a calibration history database.
type Store struct {
	db *sql.DB
}

// Open opens, or creates, the history database at path and migrates it to the latest schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// pragmas are per connection
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA foreign_keys = ON; PRAGMA busy_timeout = 5000;"); err != nil {
		return nil, multierr.Combine(errors.Wrap(err, "cannot configure history database"), db.Close())
	}
	s := &Store{db: db}
	if err := s.migrateUp(); err != nil {
		return nil, multierr.Combine(err, db.Close())
	}
	return s, nil
}

func (s *Store) newMigrate() (*migrate.Migrate, error) {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, errors.Wrap(err, "cannot read history migrations")
	}
	driver, err := sqlite.WithInstance(s.db, &sqlite.Config{})
	if err != nil {
		return nil, errors.Wrap(err, "cannot create sqlite migration driver")
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return nil, errors.Wrap(err, "cannot create migrate instance")
	}
	return m, nil
}

// migrateUp applies pending migrations. The migrate instance is not closed since that would
// close the database.
func (s *Store) migrateUp() error {
	m, err := s.newMigrate()
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return errors.Wrap(err, "history migration failed")
	}
	return nil
}

// Version returns the schema version of the database.
func (s *Store) Version() (uint, bool, error) {
	m, err := s.newMigrate()
	if err != nil {
		return 0, false, err
	}
	version, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return version, dirty, err
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func joinInts(vals []int) string {
	parts := make([]string, len(vals))
	for i, v := range vals {
		parts[i] = strconv.Itoa(v)
	}
	return strings.Join(parts, ",")
}

func splitInts(s string) ([]int, error) {
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	out := make([]int, len(parts))
	for i, p := range parts {
		v, err := strconv.Atoi(p)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// Record stores run.
func (s *Store) Record(ctx context.Context, run Run) (err error) {
	if run.ID == "" {
		return errors.New("calibration run has no id")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			err = multierr.Combine(err, tx.Rollback())
		}
	}()

	if _, err = tx.ExecContext(ctx, `
		INSERT INTO calibration_runs (
			run_id, started_at, duration_ms, input_dir, frames_requested, frames_loaded, frames_accepted,
			rejected, rms_color, rms_depth, rms_stereo, epipolar_error, status, error
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Started.UTC().Format(startedLayout), run.Duration.Milliseconds(), run.Dir,
		run.FramesRequested, run.FramesLoaded, run.FramesAccepted, joinInts(run.Rejected),
		run.RMS1, run.RMS2, run.StereoRMS, run.EpipolarError, run.Status, run.Error,
	); err != nil {
		return errors.Wrapf(err, "cannot record run %s", run.ID)
	}
	for _, f := range run.FrameErrors {
		if _, err = tx.ExecContext(ctx,
			`INSERT INTO calibration_frame_errors (run_id, frame_index, mean_error) VALUES (?, ?, ?)`,
			run.ID, f.Index, f.Mean,
		); err != nil {
			return errors.Wrapf(err, "cannot record frame %d of run %s", f.Index, run.ID)
		}
	}
	for _, a := range run.Artifacts {
		if _, err = tx.ExecContext(ctx,
			`INSERT INTO calibration_artifacts (run_id, path, written) VALUES (?, ?, ?)`,
			run.ID, a.Path, a.Written,
		); err != nil {
			return errors.Wrapf(err, "cannot record artifact %q of run %s", a.Path, run.ID)
		}
	}
	return tx.Commit()
}

const runColumns = `run_id, started_at, duration_ms, input_dir, frames_requested, frames_loaded, frames_accepted,
	rejected, rms_color, rms_depth, rms_stereo, epipolar_error, status, error`

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row scanner) (Run, error) {
	var run Run
	var started, rejected string
	var durationMs int64
	if err := row.Scan(
		&run.ID, &started, &durationMs, &run.Dir, &run.FramesRequested, &run.FramesLoaded, &run.FramesAccepted,
		&rejected, &run.RMS1, &run.RMS2, &run.StereoRMS, &run.EpipolarError, &run.Status, &run.Error,
	); err != nil {
		return Run{}, err
	}
	var err error
	if run.Started, err = time.Parse(startedLayout, started); err != nil {
		return Run{}, errors.Wrapf(err, "run %s has an invalid start time", run.ID)
	}
	run.Duration = time.Duration(durationMs) * time.Millisecond
	if run.Rejected, err = splitInts(rejected); err != nil {
		return Run{}, errors.Wrapf(err, "run %s has invalid rejected frames", run.ID)
	}
	return run, nil
}

// List returns up to limit runs, the most recent first, without their frame errors and artifacts.
// A limit of zero or less returns every run.
func (s *Store) List(ctx context.Context, limit int) (runs []Run, err error) {
	query := `SELECT ` + runColumns + ` FROM calibration_runs ORDER BY started_at DESC, run_id`
	args := []interface{}{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer utils.UncheckedErrorFunc(rows.Close)
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// Get returns the run with id, including its frame errors and artifacts.
func (s *Store) Get(ctx context.Context, id string) (*Run, error) {
	run, err := scanRun(s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM calibration_runs WHERE run_id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrap(ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT frame_index, mean_error FROM calibration_frame_errors WHERE run_id = ? ORDER BY frame_index`, id)
	if err != nil {
		return nil, err
	}
	defer utils.UncheckedErrorFunc(rows.Close)
	for rows.Next() {
		var f calibration.FrameError
		if err := rows.Scan(&f.Index, &f.Mean); err != nil {
			return nil, err
		}
		run.FrameErrors = append(run.FrameErrors, f)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	artifacts, err := s.db.QueryContext(ctx,
		`SELECT path, written FROM calibration_artifacts WHERE run_id = ? ORDER BY rowid`, id)
	if err != nil {
		return nil, err
	}
	defer utils.UncheckedErrorFunc(artifacts.Close)
	for artifacts.Next() {
		var a Artifact
		if err := artifacts.Scan(&a.Path, &a.Written); err != nil {
			return nil, err
		}
		run.Artifacts = append(run.Artifacts, a)
	}
	return &run, artifacts.Err()
}
