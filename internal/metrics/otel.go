package metrics

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/davidleathers/crm-dnc-relay/internal/domain/dnc"
)

// OTelSink mirrors check events onto OpenTelemetry instruments.
type OTelSink struct {
	checks   metric.Int64Counter
	degraded metric.Int64Counter
	duration metric.Float64Histogram
}

// NewOTelSink creates the instruments on meter.
func NewOTelSink(meter metric.Meter) (*OTelSink, error) {
	checks, err := meter.Int64Counter("dnc.checks",
		metric.WithDescription("Orchestrated DNC checks"),
		metric.WithUnit("{check}"))
	if err != nil {
		return nil, fmt.Errorf("failed to create checks counter: %w", err)
	}

	degraded, err := meter.Int64Counter("dnc.checks.degraded",
		metric.WithDescription("List checks that failed open"),
		metric.WithUnit("{check}"))
	if err != nil {
		return nil, fmt.Errorf("failed to create degraded counter: %w", err)
	}

	duration, err := meter.Float64Histogram("dnc.check.duration",
		metric.WithDescription("Duration of orchestrated DNC checks"),
		metric.WithUnit("ms"))
	if err != nil {
		return nil, fmt.Errorf("failed to create duration histogram: %w", err)
	}

	return &OTelSink{checks: checks, degraded: degraded, duration: duration}, nil
}

// Record implements dnc.EventSink.
func (s *OTelSink) Record(ctx context.Context, event dnc.CheckEvent) {
	status := metric.WithAttributes(attribute.String("cache_status", string(event.CacheStatus)))
	s.checks.Add(ctx, 1, status)
	s.duration.Record(ctx, float64(event.Duration.Microseconds())/1000, status)

	if event.BlacklistError != "" {
		s.degraded.Add(ctx, 1, metric.WithAttributes(attribute.String("list", dnc.ListCompanyBlacklist.String())))
	}
	if event.NationalError != "" {
		s.degraded.Add(ctx, 1, metric.WithAttributes(attribute.String("list", dnc.ListNationalRegistry.String())))
	}
}
