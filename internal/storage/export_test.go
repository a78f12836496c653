package storage

import "time"

// WithBackend overrides the storage backend.
func WithBackend(b Backend) Options {
	return func(o *options) {
		o.backend = b
	}
}

// WithClock overrides the clock used to prefix object keys.
func WithClock(now func() time.Time) Options {
	return func(o *options) {
		o.now = now
	}
}
