// Package gate decides, for a confirmation link, whether the form may be shown.
//
// The check is executed on every request touching a token: page views, submissions and uploads.
package gate

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log/slog"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/uniconfirm/confirm/internal/datastore"
)

// Outcome is the result of a token check.
type Outcome int

const (
	// MissingToken means the route carried no usable token.
	MissingToken Outcome = iota
	// ConfigurationError means the datastore connection is not configured.
	ConfigurationError
	// InvalidOrExpiredToken means no record matched, or the lookup failed.
	InvalidOrExpiredToken
	// AlreadyConfirmed means the record carries a confirmation timestamp.
	AlreadyConfirmed
	// Valid means the form can be rendered for the token.
	Valid
)

var outcomeNames = map[Outcome]string{
	MissingToken:          "missing_token",
	ConfigurationError:    "configuration_error",
	InvalidOrExpiredToken: "invalid_or_expired",
	AlreadyConfirmed:      "already_confirmed",
	Valid:                 "valid",
}

func (o Outcome) String() string {
	if s, ok := outcomeNames[o]; ok {
		return s
	}
	return "unknown"
}

// Message returns the fixed text shown to the visitor. It never contains error details.
func (o Outcome) Message() string {
	switch o {
	case MissingToken:
		return "Invalid or missing invite token."
	case ConfigurationError:
		return "Server configuration error. Please contact support."
	case InvalidOrExpiredToken:
		return "Invalid or expired invite token. Please use the official confirmation link again."
	case AlreadyConfirmed:
		return "This invitation has already been confirmed. Thank you!"
	default:
		return ""
	}
}

// Decision is the outcome of a check with the trimmed token.
type Decision struct {
	Outcome Outcome
	Token   string
}

// Store looks up participation records.
type Store interface {
	Lookup(ctx context.Context, token string) (datastore.Record, error)
}

// Gate checks invite tokens against the participation datastore.
type Gate struct {
	store      Store
	configured bool

	outcomes *prometheus.CounterVec
	log      *slog.Logger
}

type options struct {
	registerer prometheus.Registerer
	logger     *slog.Logger
}

// Options represents an optional function to override Gate default values.
type Options func(*options)

// WithRegisterer sets the registry the outcome counter is registered with.
func WithRegisterer(reg prometheus.Registerer) Options {
	return func(o *options) {
		o.registerer = reg
	}
}

// New returns a Gate querying store.
// A nil store or an incomplete cfg makes every non-empty token a configuration error.
func New(store Store, cfg datastore.Config, args ...Options) *Gate {
	opts := options{
		registerer: prometheus.NewRegistry(),
		logger:     slog.Default(),
	}
	for _, opt := range args {
		opt(&opts)
	}

	return &Gate{
		store:      store,
		configured: store != nil && cfg.Complete(),
		outcomes: promauto.With(opts.registerer).NewCounterVec(
			prometheus.CounterOpts{
				Name: "confirm_gate_outcomes_total",
				Help: "Tracks the outcomes of invite token checks.",
			}, []string{"outcome"},
		),
		log: opts.logger,
	}
}

// Check classifies raw, the token taken from the route.
func (g *Gate) Check(ctx context.Context, raw string) Decision {
	d := g.check(ctx, raw)
	g.outcomes.WithLabelValues(d.Outcome.String()).Inc()
	return d
}

func (g *Gate) check(ctx context.Context, raw string) Decision {
	token := strings.TrimSpace(raw)
	if token == "" {
		return Decision{Outcome: MissingToken}
	}

	if !g.configured {
		g.log.Error("Participation datastore is not configured: datastore URL and service key are required")
		return Decision{Outcome: ConfigurationError, Token: token}
	}

	rec, err := g.store.Lookup(ctx, token)
	if err != nil {
		if errors.Is(err, datastore.ErrNotFound) {
			g.log.Info("Unknown invite token", "token_hash", TokenHash(token))
		} else {
			// Transient failures are indistinguishable from unknown tokens for the visitor.
			g.log.Error("Failed to look up invite token", "token_hash", TokenHash(token), "err", err)
		}
		return Decision{Outcome: InvalidOrExpiredToken, Token: token}
	}

	if rec.Confirmed() {
		g.log.Info("Invite token already confirmed", "token_hash", TokenHash(token), "confirmed_at", rec.ConfirmedAt)
		return Decision{Outcome: AlreadyConfirmed, Token: token}
	}

	return Decision{Outcome: Valid, Token: token}
}

// TokenHash returns a short, non-reversible identifier of token for logs.
func TokenHash(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:6])
}
