// Package metrics turns DNC check events into logs, Prometheus series and
// OpenTelemetry instruments.
package metrics

import (
	"context"

	"go.uber.org/zap"

	"github.com/davidleathers/crm-dnc-relay/internal/domain/dnc"
)

// LogSink writes one structured log line per check.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink creates a sink logging through logger.
func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger}
}

// Record implements dnc.EventSink.
func (s *LogSink) Record(_ context.Context, event dnc.CheckEvent) {
	fields := []zap.Field{
		zap.String("phone", event.Phone),
		zap.String("cache_status", string(event.CacheStatus)),
		zap.Bool("blacklist_from_cache", event.BlacklistFromCache),
		zap.Bool("national_from_cache", event.NationalFromCache),
		zap.Bool("is_blacklisted", event.IsBlacklisted),
		zap.Bool("is_national_dnc", event.IsNationalDNC),
		zap.Int64("duration_ms", event.DurationMs),
	}
	if event.BlacklistError != "" {
		fields = append(fields, zap.String("blacklist_error", event.BlacklistError))
	}
	if event.NationalError != "" {
		fields = append(fields, zap.String("national_error", event.NationalError))
	}

	if event.BlacklistError != "" || event.NationalError != "" {
		s.logger.Warn("dnc check completed with degraded lists", fields...)
		return
	}
	s.logger.Info("dnc check completed", fields...)
}

// MultiSink fans one event out to several sinks in order.
type MultiSink []dnc.EventSink

// Record implements dnc.EventSink.
func (m MultiSink) Record(ctx context.Context, event dnc.CheckEvent) {
	for _, sink := range m {
		if sink != nil {
			sink.Record(ctx, event)
		}
	}
}
