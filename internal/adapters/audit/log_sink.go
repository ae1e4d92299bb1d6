// Package audit writes risk events as structured log lines.
package audit

import (
	"context"

	"go.uber.org/zap"

	"github.com/jjsmithok/security-platform/internal/core/domain"
	"github.com/jjsmithok/security-platform/internal/core/ports"
)

type LogSink struct {
	logger *zap.Logger
}

var _ ports.RiskEventSink = (*LogSink)(nil)

// NewLogSink tags every line with component=risk_audit so the events can be
// routed separately from application logs.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger.With(zap.String("component", "risk_audit"))}
}

func (s *LogSink) Record(_ context.Context, event domain.RiskEvent) error {
	level := zap.InfoLevel
	if event.Blocked {
		level = zap.WarnLevel
	}
	s.logger.Log(level, "risk event",
		zap.String("event_id", event.ID),
		zap.String("identity", event.Identity),
		zap.String("ip", event.IP),
		zap.String("user_agent", event.UserAgent),
		zap.String("method", event.Method),
		zap.String("endpoint", event.Endpoint),
		zap.Int("score", event.Score),
		zap.String("level", string(event.Level)),
		zap.Bool("blocked", event.Blocked),
		zap.Strings("factors", event.Factors),
		zap.Time("occurred_at", event.OccurredAt),
	)
	return nil
}
