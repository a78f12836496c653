package datastore

import (
	"context"

	"github.com/jackc/pgx/v5"
)

type DBPool = dbPool

// WithNewPool overrides the pool constructor, for tests.
func WithNewPool(newPool func(ctx context.Context, dsn string) (DBPool, error)) Options {
	return func(o *options) {
		o.newPool = newPool
	}
}

// RowFunc adapts a scan function into a pgx.Row.
type RowFunc func(dest ...any) error

// Scan implements pgx.Row.
func (f RowFunc) Scan(dest ...any) error {
	return f(dest...)
}

var _ pgx.Row = RowFunc(nil)
