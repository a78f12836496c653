// Package datastore provides read access to the participation records keyed by invite token.
// It handles the connection to the PostgreSQL datastore using the elevated service credential.
package datastore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/ubuntu/decorate"
	"github.com/uniconfirm/confirm/internal/common/constants"
)

// ErrNotFound is returned when no participation record matches the token.
var ErrNotFound = errors.New("participation record not found")

// Config holds the configuration for connecting to the participation datastore.
type Config struct {
	// URL is the PostgreSQL connection URL, without the credential.
	URL string
	// ServiceKey is the elevated, server-only credential used as the connection password.
	ServiceKey string
	// Table is the participation records collection.
	Table string
}

// Record is a participation record as seen by this service.
type Record struct {
	InviteToken string
	ConfirmedAt *time.Time
}

// Confirmed reports whether the record carries a confirmation timestamp.
func (r Record) Confirmed() bool {
	return r.ConfirmedAt != nil && !r.ConfirmedAt.IsZero()
}

type dbPool interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// Manager manages the PostgreSQL connection pool used for token lookups.
type Manager struct {
	dbpool dbPool
	table  string
}

type options struct {
	newPool func(ctx context.Context, dsn string) (dbPool, error)
}

// Options represents an optional function to override Manager default values.
type Options func(*options)

// Connect creates a datastore manager with a PostgreSQL connection pool using the provided configuration.
// Note: The connection is validated with a ping, but it is not maintained.
func Connect(ctx context.Context, cfg Config, args ...Options) (*Manager, error) {
	opts := options{
		newPool: func(ctx context.Context, dsn string) (dbPool, error) {
			return pgxpool.New(ctx, dsn)
		},
	}

	for _, opt := range args {
		opt(&opts)
	}

	if !cfg.Complete() {
		return nil, errors.New("datastore URL and service key are required")
	}

	dsn, err := cfg.DSN()
	if err != nil {
		return nil, err
	}

	dbpool, err := opts.newPool(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("unable to create datastore connection pool: %w", err)
	}

	slog.Debug("Testing datastore connection", "host", cfg.host())
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := dbpool.Ping(pingCtx); err != nil {
		dbpool.Close()
		return nil, fmt.Errorf("unable to ping datastore: %v", err)
	}

	table := cfg.Table
	if table == "" {
		table = constants.DefaultParticipationTable
	}

	slog.Info("Successfully pinged participation datastore", "host", cfg.host(), "table", table)
	return &Manager{dbpool: dbpool, table: table}, nil
}

// Lookup returns the participation record whose invite token equals token.
//
// It returns ErrNotFound when no row matches.
func (db *Manager) Lookup(ctx context.Context, token string) (r Record, err error) {
	defer decorate.OnError(&err, "lookup of invite token failed")

	if db.dbpool == nil {
		return Record{}, errors.New("datastore not initialized")
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	query := fmt.Sprintf(
		`SELECT invite_token, confirmed_at FROM %s WHERE invite_token = $1 LIMIT 1`,
		pgx.Identifier{db.table}.Sanitize(),
	)

	if err := db.dbpool.QueryRow(ctx, query, token).Scan(&r.InviteToken, &r.ConfirmedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		if errors.Is(err, context.Canceled) {
			return Record{}, fmt.Errorf("query canceled: %w", err)
		}
		return Record{}, fmt.Errorf("query failed: %w", err)
	}

	return r, nil
}

// Ping checks that the datastore is still reachable.
func (db *Manager) Ping(ctx context.Context) error {
	if db.dbpool == nil {
		return errors.New("datastore not initialized")
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.dbpool.Ping(ctx); err != nil {
		return fmt.Errorf("unable to ping datastore: %v", err)
	}
	return nil
}

// Close closes the datastore connection.
//
// If the connection is already closed, it does nothing.
// If the connection does not close within 10 seconds, it returns an error.
func (db *Manager) Close() error {
	if db.dbpool == nil {
		return nil
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		db.dbpool.Close()
	}()

	select {
	case <-done:
		db.dbpool = nil
		return nil
	case <-time.After(10 * time.Second):
		return fmt.Errorf("timeout while closing datastore, connection may still be open")
	}
}

// Complete reports whether both the datastore URL and the service credential are set.
func (c Config) Complete() bool {
	return c.URL != "" && c.ServiceKey != ""
}

// DSN returns the connection URL with the service credential set as the password.
//
// Security warning: the returned string includes credentials.
func (c Config) DSN() (string, error) {
	u, err := url.Parse(c.URL)
	if err != nil {
		return "", fmt.Errorf("invalid datastore URL: %v", err)
	}
	if u.Scheme != "postgres" && u.Scheme != "postgresql" {
		return "", fmt.Errorf("unsupported datastore URL scheme %q", u.Scheme)
	}

	user := "postgres"
	if u.User != nil && u.User.Username() != "" {
		user = u.User.Username()
	}
	u.User = url.UserPassword(user, c.ServiceKey)
	return u.String(), nil
}

// host returns the host part of the URL, for logging without credentials.
func (c Config) host() string {
	u, err := url.Parse(c.URL)
	if err != nil {
		return ""
	}
	return u.Host
}
