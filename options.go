package odbc

import (
	"time"

	"go.uber.org/zap"
)

// Option configures an Environment and everything created from it.
type Option func(*options)

type options struct {
	logger       *zap.Logger
	metrics      *Metrics
	library      LibraryConfig
	loginTimeout time.Duration
}

func newOptions(opts []Option) options {
	o := options{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	return o
}

// WithLogger sets the logger used for connection lifecycle and execution events.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithMetrics records handle and execution counters into m.
func WithMetrics(m *Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// WithLibrary selects the driver manager library loaded on first use.
func WithLibrary(config LibraryConfig) Option {
	return func(o *options) {
		o.library = config
	}
}

// WithLoginTimeout sets SQL_ATTR_LOGIN_TIMEOUT on new connections.
// Zero leaves the driver default; sub-second values round up to one second.
func WithLoginTimeout(d time.Duration) Option {
	return func(o *options) {
		o.loginTimeout = d
	}
}
