// ABOUTME: OpenTelemetry instruments for the tool event ledger
// ABOUTME: Counts started and completed tool events and records their durations

package store

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/2389/coven-sessions/internal/store"

type ledgerMetrics struct {
	started   metric.Int64Counter
	completed metric.Int64Counter
	duration  metric.Int64Histogram
}

func newLedgerMetrics(meter metric.Meter) (*ledgerMetrics, error) {
	if meter == nil {
		meter = otel.Meter(meterName)
	}

	started, err := meter.Int64Counter("coven_sessions.tool_events.started",
		metric.WithDescription("Tool events recorded as running"))
	if err != nil {
		return nil, fmt.Errorf("creating started counter: %w", err)
	}
	completed, err := meter.Int64Counter("coven_sessions.tool_events.completed",
		metric.WithDescription("Tool events moved to a terminal status"))
	if err != nil {
		return nil, fmt.Errorf("creating completed counter: %w", err)
	}
	duration, err := meter.Int64Histogram("coven_sessions.tool_events.duration_ms",
		metric.WithDescription("Wall time between tool start and completion"),
		metric.WithUnit("ms"))
	if err != nil {
		return nil, fmt.Errorf("creating duration histogram: %w", err)
	}

	return &ledgerMetrics{started: started, completed: completed, duration: duration}, nil
}

func (m *ledgerMetrics) recordStart(ctx context.Context, toolName string, operationType *string) {
	m.started.Add(ctx, 1, metric.WithAttributes(
		attribute.String("tool", toolName),
		attribute.String("operation", derefOr(operationType, "none")),
	))
}

func (m *ledgerMetrics) recordComplete(ctx context.Context, status ToolStatus, operationType *string, durationMs int64) {
	attrs := metric.WithAttributes(
		attribute.String("status", string(status)),
		attribute.String("operation", derefOr(operationType, "none")),
	)
	m.completed.Add(ctx, 1, attrs)
	m.duration.Record(ctx, durationMs, attrs)
}

func derefOr(p *string, fallback string) string {
	if p == nil || *p == "" {
		return fallback
	}
	return *p
}
