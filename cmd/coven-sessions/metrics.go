// ABOUTME: In-process OpenTelemetry meter provider for one CLI invocation
// ABOUTME: Collects the tool ledger instruments and logs their totals on exit

package main

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

type metricsRecorder struct {
	reader   *sdkmetric.ManualReader
	provider *sdkmetric.MeterProvider
}

func newMetricsRecorder() *metricsRecorder {
	reader := sdkmetric.NewManualReader()
	return &metricsRecorder{
		reader:   reader,
		provider: sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)),
	}
}

func (r *metricsRecorder) meter() metric.Meter {
	return r.provider.Meter("github.com/2389/coven-sessions/cmd/coven-sessions")
}

// totals sums every data point per instrument name. Histograms contribute
// their observation count.
func (r *metricsRecorder) totals(ctx context.Context) (map[string]int64, error) {
	var rm metricdata.ResourceMetrics
	if err := r.reader.Collect(ctx, &rm); err != nil {
		return nil, err
	}

	out := make(map[string]int64)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			switch data := m.Data.(type) {
			case metricdata.Sum[int64]:
				for _, dp := range data.DataPoints {
					out[m.Name] += dp.Value
				}
			case metricdata.Histogram[int64]:
				for _, dp := range data.DataPoints {
					out[m.Name] += int64(dp.Count)
				}
			}
		}
	}
	return out, nil
}

func (r *metricsRecorder) report(ctx context.Context, logger *slog.Logger) error {
	totals, err := r.totals(ctx)
	if err != nil {
		return err
	}
	if len(totals) == 0 {
		return nil
	}

	attrs := make([]any, 0, len(totals)*2)
	for name, v := range totals {
		attrs = append(attrs, name, v)
	}
	logger.Info("tool ledger metrics", attrs...)
	return nil
}

func (r *metricsRecorder) shutdown(ctx context.Context) error {
	return r.provider.Shutdown(ctx)
}
