package enrich

import (
	"context"
	"strings"
	"time"
)

type mockEnricher struct{}

// NewMockEnricher returns a deterministic backend used in development and
// tests.
func NewMockEnricher() Enricher { return &mockEnricher{} }

func (m *mockEnricher) Enrich(ctx context.Context, transcript string) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case <-time.After(20 * time.Millisecond):
	}
	return "[mock enrichment] " + strings.TrimSpace(transcript), nil
}
