package storage

import (
	"io"
	"log/slog"
)

type options struct {
	logger *slog.Logger
}

// Option configures a backend.
type Option func(*options)

// WithLogger sets the logger used for skipped records and other
// non-fatal conditions.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

func applyOptions(opts []Option) options {
	o := options{
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
