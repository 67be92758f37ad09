package library

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/echonotehq/echonote-core/internal/config"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func openStore(t *testing.T, cfg config.LibraryConfig) *Store {
	t.Helper()
	if cfg.Path == "" {
		cfg.Path = filepath.Join(t.TempDir(), "library.db")
	}
	s, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open library: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSaveAndGet(t *testing.T) {
	s := openStore(t, config.LibraryConfig{})

	saved, err := s.Save(context.Background(), Recording{
		ID:         "rec-1",
		Duration:   12.5,
		Language:   "en",
		Title:      "standup notes",
		Transcript: "we shipped the exporter",
		Model:      "whisper-1",
	})
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if saved.CreatedAt.IsZero() {
		t.Fatal("expected created_at to be stamped")
	}
	if saved.Source != "cloud" {
		t.Fatalf("expected default source cloud, got %q", saved.Source)
	}

	got, err := s.Get(context.Background(), "rec-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Transcript != "we shipped the exporter" || got.Language != "en" {
		t.Fatalf("unexpected recording: %+v", got)
	}
	if got.EnrichedAt != nil {
		t.Fatal("expected no enrichment timestamp yet")
	}
	if !got.CreatedAt.Equal(saved.CreatedAt) {
		t.Fatalf("created_at round trip mismatch: %v vs %v", got.CreatedAt, saved.CreatedAt)
	}
}

func TestGetUnknown(t *testing.T) {
	s := openStore(t, config.LibraryConfig{})
	if _, err := s.Get(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListNewestFirst(t *testing.T) {
	s := openStore(t, config.LibraryConfig{})

	base := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c"} {
		s.clock = func() time.Time { return base.Add(time.Duration(i) * time.Minute) }
		if _, err := s.Save(context.Background(), Recording{ID: id, Transcript: id}); err != nil {
			t.Fatalf("save %s: %v", id, err)
		}
	}

	recordings, err := s.List(context.Background(), 2)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(recordings) != 2 {
		t.Fatalf("expected 2 recordings, got %d", len(recordings))
	}
	if recordings[0].ID != "c" || recordings[1].ID != "b" {
		t.Fatalf("expected newest first, got %s then %s", recordings[0].ID, recordings[1].ID)
	}
}

func TestDelete(t *testing.T) {
	s := openStore(t, config.LibraryConfig{})
	if _, err := s.Save(context.Background(), Recording{ID: "rec-1", Transcript: "x"}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := s.Delete(context.Background(), "rec-1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := s.Delete(context.Background(), "rec-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second delete, got %v", err)
	}
}

func TestSetEnrichment(t *testing.T) {
	s := openStore(t, config.LibraryConfig{})
	if _, err := s.Save(context.Background(), Recording{ID: "rec-1", Transcript: "raw words"}); err != nil {
		t.Fatalf("save: %v", err)
	}

	updated, err := s.SetEnrichment(context.Background(), "rec-1", "polished notes")
	if err != nil {
		t.Fatalf("set enrichment: %v", err)
	}
	if updated.Enriched != "polished notes" {
		t.Fatalf("unexpected enriched text: %q", updated.Enriched)
	}
	if updated.EnrichedAt == nil {
		t.Fatal("expected enrichment timestamp")
	}

	if _, err := s.SetEnrichment(context.Background(), "missing", "x"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPruneByDaysAndCount(t *testing.T) {
	s := openStore(t, config.LibraryConfig{RetentionDays: 1, MaxRecordings: 1})

	s.clock = func() time.Time { return time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC) }
	if _, err := s.Save(context.Background(), Recording{ID: "old", Transcript: "old"}); err != nil {
		t.Fatalf("save old: %v", err)
	}

	s.clock = func() time.Time { return time.Date(2026, 8, 3, 0, 0, 0, 0, time.UTC) }
	if _, err := s.Save(context.Background(), Recording{ID: "mid", Transcript: "mid"}); err != nil {
		t.Fatalf("save mid: %v", err)
	}
	if _, err := s.Save(context.Background(), Recording{ID: "new", Transcript: "new"}); err != nil {
		t.Fatalf("save new: %v", err)
	}

	if err := s.Prune(context.Background()); err != nil {
		t.Fatalf("prune: %v", err)
	}

	if _, err := s.Get(context.Background(), "old"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected old recording pruned by age, got %v", err)
	}
	n, err := s.Count(context.Background())
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 recording after prune, got %d", n)
	}
}
