package api

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

type apiMetrics struct {
	transcriptions  metric.Int64Counter
	upstreamLatency metric.Float64Histogram
}

func newAPIMetrics() (*apiMetrics, error) {
	meter := otel.Meter("github.com/echonotehq/echonote-core/api")
	transcriptions, err := meter.Int64Counter("echonote.transcriptions",
		metric.WithDescription("Transcription requests by outcome and source"))
	if err != nil {
		return nil, err
	}
	latency, err := meter.Float64Histogram("echonote.upstream.latency_ms",
		metric.WithDescription("Latency of upstream transcription calls"))
	if err != nil {
		return nil, err
	}
	return &apiMetrics{transcriptions: transcriptions, upstreamLatency: latency}, nil
}

func (m *apiMetrics) recordTranscription(ctx context.Context, source, outcome string) {
	if m == nil {
		return
	}
	m.transcriptions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("source", source),
			attribute.String("outcome", outcome)))
}

func (m *apiMetrics) recordUpstreamLatency(ctx context.Context, d time.Duration) {
	if m == nil {
		return
	}
	m.upstreamLatency.Record(ctx, float64(d.Milliseconds()))
}
