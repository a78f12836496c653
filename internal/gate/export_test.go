package gate

import "log/slog"

// WithLogger sets the logger used by the Gate.
func WithLogger(l *slog.Logger) Options {
	return func(o *options) {
		o.logger = l
	}
}
