// Package store exports run summaries and object measurements into a
// SQLite results database.
package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"bioimagelab/internal/models"
	"bioimagelab/pkg/pipeline"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const timeLayout = time.RFC3339Nano

// Store is an open results database.
type Store struct {
	db  *sql.DB
	m   *migrate.Migrate
	log zerolog.Logger
}

// Option configures Open.
type Option func(*Store)

// WithLogger routes migration messages to l.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Store) { s.log = l }
}

// Open opens (creating if needed) the database at path and brings its
// schema up to date.
func Open(path string, opts ...Option) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open results database: %w", err)
	}
	// One writer; concurrent connections only produce SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, log: zerolog.Nop()}
	for _, o := range opts {
		o(s)
	}
	if err := s.migrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrateUp() error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to load embedded migrations: %w", err)
	}
	driver, err := sqlite.WithInstance(s.db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create sqlite driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}
	m.Log = &migrateLogger{log: s.log}
	// m is not closed here: closing it closes the shared *sql.DB.
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}
	s.m = m
	return nil
}

// Version returns the applied schema version.
func (s *Store) Version() (uint, bool, error) {
	v, dirty, err := s.m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return v, dirty, err
}

func (s *Store) Close() error {
	return s.db.Close()
}

// SaveRun writes the summary, its per-image results and the object
// measurements of every succeeded image in one transaction. Saving a run id
// again replaces the earlier rows.
func (s *Store) SaveRun(ctx context.Context, sum *pipeline.RunSummary) (err error) {
	if sum == nil || sum.RunID == "" {
		return errors.New("save run: summary without run id")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	for _, table := range []string{"objects", "images", "runs"} {
		if _, err = tx.ExecContext(ctx, "DELETE FROM "+table+" WHERE run_id = ?", sum.RunID); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (run_id, pipeline, started, finished, cancelled, succeeded, failed, skipped)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		sum.RunID, sum.Pipeline,
		sum.Started.UTC().Format(timeLayout), sum.Finished.UTC().Format(timeLayout),
		sum.Cancelled, sum.Succeeded(), sum.Failed(), sum.Skipped())
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	imgStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO images (run_id, idx, source, image_id, status, kind, failed_step, stage, cause, duration_ms, provenance)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare image insert: %w", err)
	}
	defer imgStmt.Close()

	objStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO objects (run_id, idx, label, name, value) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare object insert: %w", err)
	}
	defer objStmt.Close()

	for _, r := range sum.Results {
		prov, perr := json.Marshal(r.Provenance)
		if perr != nil {
			err = fmt.Errorf("encode provenance of %s: %w", r.Source, perr)
			return err
		}
		_, err = imgStmt.ExecContext(ctx,
			sum.RunID, r.Index, r.Source, nullString(r.ImageID), r.Status.String(),
			nullString(r.Kind), r.FailedStep, nullString(r.Stage), nullString(r.Cause),
			float64(r.Duration)/float64(time.Millisecond), string(prov))
		if err != nil {
			return fmt.Errorf("insert image %s: %w", r.Source, err)
		}
		if r.Status != pipeline.Succeeded || r.Objects == nil {
			continue
		}
		for _, m := range flatten(r.Objects) {
			if _, err = objStmt.ExecContext(ctx, sum.RunID, r.Index, m.Label, m.Name, nullFloat(m.Value)); err != nil {
				return fmt.Errorf("insert measurement %s of label %d: %w", m.Name, m.Label, err)
			}
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit run %s: %w", sum.RunID, err)
	}
	return nil
}

// Run is a stored run header.
type Run struct {
	RunID     string
	Pipeline  string
	Started   time.Time
	Finished  time.Time
	Cancelled bool
	Succeeded int
	Failed    int
	Skipped   int
}

// Runs lists the stored runs, oldest first.
func (s *Store) Runs(ctx context.Context) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, pipeline, started, finished, cancelled, succeeded, failed, skipped
		FROM runs ORDER BY started, run_id`)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var r Run
		var started, finished string
		if err := rows.Scan(&r.RunID, &r.Pipeline, &started, &finished, &r.Cancelled, &r.Succeeded, &r.Failed, &r.Skipped); err != nil {
			return nil, err
		}
		if r.Started, err = time.Parse(timeLayout, started); err != nil {
			return nil, fmt.Errorf("run %s: %w", r.RunID, err)
		}
		if r.Finished, err = time.Parse(timeLayout, finished); err != nil {
			return nil, fmt.Errorf("run %s: %w", r.RunID, err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Image is a stored per-image result.
type Image struct {
	Index      int
	Source     string
	ImageID    string
	Status     string
	Kind       string
	FailedStep int
	Stage      string
	Cause      string
	Duration   time.Duration
	Provenance []pipeline.ProvenanceEntry
}

// ListImages returns the results of a run in input order.
func (s *Store) ListImages(ctx context.Context, runID string) ([]Image, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT idx, source, image_id, status, kind, failed_step, stage, cause, duration_ms, provenance
		FROM images WHERE run_id = ? ORDER BY idx`, runID)
	if err != nil {
		return nil, fmt.Errorf("query images: %w", err)
	}
	defer rows.Close()

	var out []Image
	for rows.Next() {
		var img Image
		var id, kind, stage, cause, prov sql.NullString
		var failedStep sql.NullInt64
		var durationMs float64
		if err := rows.Scan(&img.Index, &img.Source, &id, &img.Status, &kind, &failedStep, &stage, &cause, &durationMs, &prov); err != nil {
			return nil, err
		}
		img.ImageID, img.Kind, img.Stage, img.Cause = id.String, kind.String, stage.String, cause.String
		img.FailedStep = int(failedStep.Int64)
		img.Duration = time.Duration(durationMs * float64(time.Millisecond))
		if prov.Valid && prov.String != "" && prov.String != "null" {
			if err := json.Unmarshal([]byte(prov.String), &img.Provenance); err != nil {
				return nil, fmt.Errorf("decode provenance of %s: %w", img.Source, err)
			}
		}
		out = append(out, img)
	}
	return out, rows.Err()
}

// Measurement is one stored value. Vector measurements are flattened to
// name[i].
type Measurement struct {
	Label uint32
	Name  string
	Value float64
}

// Measurements returns the measurements of one image of a run, ordered by
// label then name. image matches either the source name or the image id.
func (s *Store) Measurements(ctx context.Context, runID, image string) ([]Measurement, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT o.label, o.name, o.value
		FROM objects o
		JOIN images i ON i.run_id = o.run_id AND i.idx = o.idx
		WHERE o.run_id = ? AND (i.source = ? OR i.image_id = ?)
		ORDER BY o.label, o.name`, runID, image, image)
	if err != nil {
		return nil, fmt.Errorf("query measurements: %w", err)
	}
	defer rows.Close()

	var out []Measurement
	for rows.Next() {
		var m Measurement
		var v sql.NullFloat64
		if err := rows.Scan(&m.Label, &m.Name, &v); err != nil {
			return nil, err
		}
		m.Value = math.NaN()
		if v.Valid {
			m.Value = v.Float64
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func flatten(t *models.ObjectTable) []Measurement {
	var out []Measurement
	for _, label := range t.Labels() {
		rec, _ := t.Record(label)
		for _, name := range rec.ScalarNames() {
			v, _ := rec.Scalar(name)
			out = append(out, Measurement{Label: label, Name: name, Value: v})
		}
		for _, name := range rec.VectorNames() {
			vec, _ := rec.Vector(name)
			for i, v := range vec {
				out = append(out, Measurement{Label: label, Name: name + "[" + strconv.Itoa(i) + "]", Value: v})
			}
		}
	}
	return out
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// SQLite has no NaN; it is stored as NULL.
func nullFloat(v float64) sql.NullFloat64 {
	return sql.NullFloat64{Float64: v, Valid: !math.IsNaN(v) && !math.IsInf(v, 0)}
}

type migrateLogger struct {
	log zerolog.Logger
}

func (l *migrateLogger) Printf(format string, v ...interface{}) {
	l.log.Debug().Str("component", "migrate").Msgf(format, v...)
}

func (l *migrateLogger) Verbose() bool {
	return false
}
