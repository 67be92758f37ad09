package library

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/echonotehq/echonote-core/internal/config"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a recording id is unknown.
var ErrNotFound = errors.New("recording not found")

// Recording is one saved voice note: the transcript plus its AI-enriched
// derivative.
type Recording struct {
	ID         string     `json:"id"`
	CreatedAt  time.Time  `json:"created_at"`
	Duration   float64    `json:"duration"`
	Language   string     `json:"language,omitempty"`
	Title      string     `json:"title,omitempty"`
	Transcript string     `json:"transcript"`
	Enriched   string     `json:"enriched,omitempty"`
	EnrichedAt *time.Time `json:"enriched_at,omitempty"`
	Model      string     `json:"model,omitempty"`
	Source     string     `json:"source"`
}

// Store wraps the SQLite-backed recording library.
type Store struct {
	db    *sql.DB
	cfg   config.LibraryConfig
	log   *slog.Logger
	clock func() time.Time
}

// Open initializes the library according to config and applies retention.
func Open(ctx context.Context, cfg config.LibraryConfig, log *slog.Logger) (*Store, error) {
	dir := filepath.Dir(cfg.Path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)", cfg.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &Store{db: db, cfg: cfg, log: log, clock: time.Now}

	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	if cfg.VacuumOnStart {
		if _, err := db.ExecContext(ctx, "VACUUM"); err != nil {
			log.Warn("library vacuum failed", slog.String("error", err.Error()))
		}
	}

	if err := s.Prune(ctx); err != nil {
		log.Warn("library prune on start failed", slog.String("error", err.Error()))
	}

	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	ddl := `
CREATE TABLE IF NOT EXISTS recordings (
    id TEXT PRIMARY KEY,
    created_at TEXT NOT NULL,
    duration_seconds REAL NOT NULL DEFAULT 0,
    language TEXT,
    title TEXT,
    transcript TEXT NOT NULL,
    enriched TEXT,
    enriched_at TEXT,
    model TEXT,
    source TEXT NOT NULL DEFAULT 'cloud'
);
CREATE INDEX IF NOT EXISTS idx_recordings_created ON recordings(created_at);
`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

// Close releases underlying resources.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Save inserts a recording, stamping CreatedAt when unset.
func (s *Store) Save(ctx context.Context, rec Recording) (Recording, error) {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.clock().UTC()
	}
	if rec.Source == "" {
		rec.Source = "cloud"
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO recordings(id, created_at, duration_seconds, language, title, transcript, enriched, enriched_at, model, source)
		 VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.CreatedAt.UTC().Format(time.RFC3339Nano), rec.Duration, rec.Language, rec.Title,
		rec.Transcript, rec.Enriched, formatNullableTime(rec.EnrichedAt), rec.Model, rec.Source)
	if err != nil {
		return Recording{}, fmt.Errorf("insert recording: %w", err)
	}
	return rec, nil
}

// Get returns one recording or ErrNotFound.
func (s *Store) Get(ctx context.Context, id string) (Recording, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, created_at, duration_seconds, language, title, transcript, enriched, enriched_at, model, source
		 FROM recordings WHERE id = ?`, id)
	rec, err := scanRecording(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Recording{}, ErrNotFound
	}
	return rec, err
}

// List returns up to limit recordings, newest first.
func (s *Store) List(ctx context.Context, limit int) ([]Recording, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, created_at, duration_seconds, language, title, transcript, enriched, enriched_at, model, source
		 FROM recordings ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recordings []Recording
	for rows.Next() {
		rec, err := scanRecording(rows)
		if err != nil {
			return nil, err
		}
		recordings = append(recordings, rec)
	}
	return recordings, rows.Err()
}

// Delete removes a recording or reports ErrNotFound.
func (s *Store) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM recordings WHERE id = ?`, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// SetEnrichment stores the enriched derivative for a recording and returns
// the updated row.
func (s *Store) SetEnrichment(ctx context.Context, id, enriched string) (Recording, error) {
	now := s.clock().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE recordings SET enriched = ?, enriched_at = ? WHERE id = ?`,
		enriched, now.Format(time.RFC3339Nano), id)
	if err != nil {
		return Recording{}, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return Recording{}, err
	}
	if affected == 0 {
		return Recording{}, ErrNotFound
	}
	return s.Get(ctx, id)
}

// Count reports how many recordings the library holds.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM recordings`).Scan(&n)
	return n, err
}

// Prune applies configured retention: age first, then total count.
func (s *Store) Prune(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if s.cfg.RetentionDays > 0 {
		cutoff := s.clock().Add(-time.Duration(s.cfg.RetentionDays) * 24 * time.Hour)
		if _, err = tx.ExecContext(ctx, `DELETE FROM recordings WHERE created_at < ?`,
			cutoff.UTC().Format(time.RFC3339Nano)); err != nil {
			return err
		}
	}
	if s.cfg.MaxRecordings > 0 {
		if _, err = tx.ExecContext(ctx, `DELETE FROM recordings WHERE id IN (
			SELECT id FROM recordings ORDER BY created_at DESC LIMIT -1 OFFSET ?
		)`, s.cfg.MaxRecordings); err != nil {
			return err
		}
	}
	err = tx.Commit()
	return err
}

// RegisterMetrics publishes the library size as an observable gauge.
func (s *Store) RegisterMetrics() error {
	meter := otel.Meter("github.com/echonotehq/echonote-core/library")
	gauge, err := meter.Int64ObservableGauge("echonote.library.recordings",
		metric.WithDescription("Number of recordings in the library"))
	if err != nil {
		return err
	}
	_, err = meter.RegisterCallback(func(ctx context.Context, obs metric.Observer) error {
		n, err := s.Count(ctx)
		if err != nil {
			return err
		}
		obs.ObserveInt64(gauge, n)
		return nil
	}, gauge)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecording(row rowScanner) (Recording, error) {
	var rec Recording
	var created string
	var language, title, enriched, enrichedAt, model sql.NullString
	if err := row.Scan(&rec.ID, &created, &rec.Duration, &language, &title,
		&rec.Transcript, &enriched, &enrichedAt, &model, &rec.Source); err != nil {
		return Recording{}, err
	}
	if ts, err := time.Parse(time.RFC3339Nano, created); err == nil {
		rec.CreatedAt = ts
	}
	rec.Language = language.String
	rec.Title = title.String
	rec.Enriched = enriched.String
	rec.Model = model.String
	if enrichedAt.Valid && enrichedAt.String != "" {
		if ts, err := time.Parse(time.RFC3339Nano, enrichedAt.String); err == nil {
			rec.EnrichedAt = &ts
		}
	}
	return rec, nil
}

func formatNullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}
