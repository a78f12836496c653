package submission

import (
	"log/slog"
	"time"
)

// WithClock overrides the submission clock.
func WithClock(now func() time.Time) Options {
	return func(o *options) {
		o.now = now
	}
}

// WithLogger sets the logger used by the Service.
func WithLogger(l *slog.Logger) Options {
	return func(o *options) {
		o.logger = l
	}
}
