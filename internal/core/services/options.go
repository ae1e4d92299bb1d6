package services

import (
	"go.uber.org/zap"

	"github.com/jjsmithok/security-platform/internal/core/ports"
	"github.com/jjsmithok/security-platform/internal/observability"
)

// Option configures the ambient dependencies shared by every service.
type Option func(*options)

type options struct {
	clock   ports.Clock
	logger  *zap.Logger
	metrics *observability.Metrics
}

func WithClock(clock ports.Clock) Option {
	return func(o *options) { o.clock = clock }
}

func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

func WithMetrics(metrics *observability.Metrics) Option {
	return func(o *options) { o.metrics = metrics }
}

func buildOptions(opts []Option) options {
	o := options{clock: ports.SystemClock{}}
	for _, opt := range opts {
		opt(&o)
	}
	if o.clock == nil {
		o.clock = ports.SystemClock{}
	}
	o.logger = observability.OrNop(o.logger)
	return o
}
