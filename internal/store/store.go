// Package store persists fit runs in sqlite: one row per run, the
// fitted parameters with their uncertainties, and the convergence
// trace recorded while the engines iterate.
package store

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Run statuses. A run opens as running; a crash leaves it that way
// until the next Open marks it interrupted.
const (
	StatusRunning     = "running"
	StatusComplete    = "complete"
	StatusInterrupted = "interrupted"
	StatusFailed      = "failed"
)

type Store struct {
	*sql.DB
	path string
}

// Open opens or creates the store, applies pending migrations, and
// marks any runs a previous process left in the running state as
// interrupted.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}
	s := &Store{DB: db, path: path}
	if err := s.migrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	n, err := s.recoverInterrupted()
	if err != nil {
		db.Close()
		return nil, err
	}
	if n > 0 {
		log.Printf("[store] marked %d unfinished runs as interrupted", n)
	}
	return s, nil
}

func (s *Store) migrateUp() error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("loading migrations: %w", err)
	}
	driver, err := sqlite.WithInstance(s.DB, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("creating sqlite migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("creating migrate instance: %w", err)
	}
	// Closing m would close the underlying connection, so leave it to
	// the collector.
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}
	return nil
}

// recoverInterrupted flips stale running rows to interrupted. Only one
// process owns a store at a time, so anything still running at open
// time died without finishing.
func (s *Store) recoverInterrupted() (int64, error) {
	res, err := s.Exec(
		`UPDATE fit_runs SET status = ?, finished_at = CURRENT_TIMESTAMP,
		 message = 'process exited without finishing' WHERE status = ?`,
		StatusInterrupted, StatusRunning)
	if err != nil {
		return 0, fmt.Errorf("recovering interrupted runs: %w", err)
	}
	return res.RowsAffected()
}

// Run is one fit invocation.
type Run struct {
	ID         string     `json:"id"`
	Model      string     `json:"model"`
	DataFile   string     `json:"data_file"`
	Engine     string     `json:"engine"`
	Status     string     `json:"status"`
	ChiSq      *float64   `json:"chisq,omitempty"`
	Message    string     `json:"message,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// CreateRun inserts a new running row and returns its id.
func (s *Store) CreateRun(model, dataFile, engine string) (string, error) {
	id := uuid.NewString()
	_, err := s.Exec(
		`INSERT INTO fit_runs (id, model, data_file, engine, status) VALUES (?, ?, ?, ?, ?)`,
		id, model, dataFile, engine, StatusRunning)
	if err != nil {
		return "", fmt.Errorf("creating run: %w", err)
	}
	return id, nil
}

// FinishRun closes out a run with its final status and chi^2.
func (s *Store) FinishRun(id, status string, chisq float64, message string) error {
	res, err := s.Exec(
		`UPDATE fit_runs SET status = ?, chisq = ?, message = ?, finished_at = CURRENT_TIMESTAMP WHERE id = ?`,
		status, chisq, message, id)
	if err != nil {
		return fmt.Errorf("finishing run %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("run %s not found", id)
	}
	return nil
}

// GetRun fetches one run.
func (s *Store) GetRun(id string) (*Run, error) {
	row := s.QueryRow(
		`SELECT id, model, data_file, engine, status, chisq, message, started_at, finished_at
		 FROM fit_runs WHERE id = ?`, id)
	return scanRun(row)
}

// Runs lists the most recent runs, newest first.
func (s *Store) Runs(limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.Query(
		`SELECT id, model, data_file, engine, status, chisq, message, started_at, finished_at
		 FROM fit_runs ORDER BY started_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*Run, error) {
	var (
		r        Run
		chisq    sql.NullFloat64
		message  sql.NullString
		finished sql.NullTime
	)
	err := row.Scan(&r.ID, &r.Model, &r.DataFile, &r.Engine, &r.Status,
		&chisq, &message, &r.StartedAt, &finished)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run not found")
	}
	if err != nil {
		return nil, err
	}
	if chisq.Valid {
		r.ChiSq = &chisq.Float64
	}
	r.Message = message.String
	if finished.Valid {
		r.FinishedAt = &finished.Time
	}
	return &r, nil
}

// Param is one fitted parameter of a run.
type Param struct {
	Name   string   `json:"name"`
	Value  float64  `json:"value"`
	Stderr *float64 `json:"stderr,omitempty"`
}

// SaveParams replaces the parameter set of a run. stderrs may be nil
// when no uncertainty estimate is available.
func (s *Store) SaveParams(id string, names []string, values, stderrs []float64) error {
	if len(names) != len(values) {
		return fmt.Errorf("saving params for %s: %d names, %d values", id, len(names), len(values))
	}
	if stderrs != nil && len(stderrs) != len(names) {
		return fmt.Errorf("saving params for %s: %d names, %d stderrs", id, len(names), len(stderrs))
	}
	tx, err := s.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM fit_params WHERE run_id = ?`, id); err != nil {
		return fmt.Errorf("clearing params for %s: %w", id, err)
	}
	for i, name := range names {
		var stderr any
		if stderrs != nil {
			stderr = stderrs[i]
		}
		if _, err := tx.Exec(
			`INSERT INTO fit_params (run_id, position, name, value, stderr) VALUES (?, ?, ?, ?, ?)`,
			id, i, name, values[i], stderr); err != nil {
			return fmt.Errorf("saving param %s for %s: %w", name, id, err)
		}
	}
	return tx.Commit()
}

// Params returns a run's parameters in vector order.
func (s *Store) Params(id string) ([]Param, error) {
	rows, err := s.Query(
		`SELECT name, value, stderr FROM fit_params WHERE run_id = ? ORDER BY position`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var params []Param
	for rows.Next() {
		var (
			p      Param
			stderr sql.NullFloat64
		)
		if err := rows.Scan(&p.Name, &p.Value, &stderr); err != nil {
			return nil, err
		}
		if stderr.Valid {
			p.Stderr = &stderr.Float64
		}
		params = append(params, p)
	}
	return params, rows.Err()
}

// TracePoint is one convergence sample.
type TracePoint struct {
	Iteration   int     `json:"iteration"`
	Best        float64 `json:"best"`
	Mean        float64 `json:"mean"`
	Evaluations int     `json:"evaluations"`
}

// RecordTrace appends one convergence sample. Re-recording an
// iteration overwrites it, which happens when a resumed run replays
// its last generation.
func (s *Store) RecordTrace(id string, p TracePoint) error {
	_, err := s.Exec(
		`INSERT INTO fit_trace (run_id, iteration, best, mean, evaluations) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(run_id, iteration) DO UPDATE SET best=excluded.best, mean=excluded.mean, evaluations=excluded.evaluations`,
		id, p.Iteration, p.Best, p.Mean, p.Evaluations)
	if err != nil {
		return fmt.Errorf("recording trace for %s: %w", id, err)
	}
	return nil
}

// Trace returns a run's convergence history in iteration order.
func (s *Store) Trace(id string) ([]TracePoint, error) {
	rows, err := s.Query(
		`SELECT iteration, best, mean, evaluations FROM fit_trace WHERE run_id = ? ORDER BY iteration`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trace []TracePoint
	for rows.Next() {
		var p TracePoint
		if err := rows.Scan(&p.Iteration, &p.Best, &p.Mean, &p.Evaluations); err != nil {
			return nil, err
		}
		trace = append(trace, p)
	}
	return trace, rows.Err()
}
