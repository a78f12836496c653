// Package webservice provides the HTTP server of the confirmation pages, form submissions and file uploads.
package webservice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/uniconfirm/confirm/internal/common/config"
	"github.com/uniconfirm/confirm/internal/common/metrics"
	"github.com/uniconfirm/confirm/internal/submission"
	"github.com/uniconfirm/confirm/internal/webservice/handlers"
	webmetrics "github.com/uniconfirm/confirm/internal/webservice/metrics"
	"github.com/uniconfirm/confirm/internal/webservice/middleware"
	"golang.org/x/time/rate"
)

// limiterIdle is how long a client is remembered by the rate limiter after its last request.
const limiterIdle = 10 * time.Minute

// Server is a struct that holds the HTTP server and its configuration.
type Server struct {
	httpServer    *http.Server
	metricsServer *metrics.Server
	cm            dConfigManager
	limiter       *middleware.IPLimiter

	mu          sync.RWMutex
	primaryAddr net.Addr

	// This context is used to interrupt any action.
	// It must be the parent of gracefulCtx.
	ctx    context.Context
	cancel context.CancelFunc

	// This context waits until the next blocking Recv to interrupt.
	gracefulCtx    context.Context
	gracefulCancel context.CancelFunc
}

// StaticConfig holds the static configuration for the server.
type StaticConfig struct {
	// CatalogPath is the TOML form catalog, reloaded on change. Empty serves the built-in catalog.
	CatalogPath string

	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	RequestTimeout time.Duration
	MaxHeaderBytes int
	MaxUploadBytes int64

	ListenHost string
	ListenPort int

	RateLimit      float64
	RateBurst      int
	AllowedOrigins []string

	MetricsHost string
	MetricsPort int
}

// Deps are the collaborators of the server. A nil Uploader or Webhook disables uploads or submissions.
type Deps struct {
	Gate     handlers.Gate
	Uploader submission.Uploader
	Webhook  submission.Poster
	Registry *prometheus.Registry
	// Checks are reported by the readiness endpoint of the metrics server.
	Checks map[string]metrics.Check
}

type dConfigManager interface {
	config.Provider
	Load() error
	CatalogPath() string
	Watch(context.Context) (<-chan struct{}, <-chan error, error)
}

// New creates a new Server serving the confirmation routes, with the form catalog of cm.
func New(ctx context.Context, cm dConfigManager, deps Deps, sc StaticConfig) (*Server, error) {
	if deps.Gate == nil {
		return nil, errors.New("a token gate is required")
	}
	if err := cm.Load(); err != nil {
		return nil, fmt.Errorf("failed to load form catalog: %v", err)
	}
	reg := deps.Registry
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	ctx, cancel := context.WithCancel(ctx)
	gCtx, gCancel := context.WithCancel(ctx)

	limit := rate.Limit(sc.RateLimit)
	if sc.RateLimit <= 0 {
		limit = rate.Inf
	}

	s := Server{
		cm:      cm,
		limiter: middleware.NewIPLimiter(limit, sc.RateBurst),
		ctx:     ctx,
		cancel:  cancel,

		gracefulCtx:    gCtx,
		gracefulCancel: gCancel,
	}

	forms := submission.New(cm, deps.Uploader, deps.Webhook, submission.WithRegisterer(reg))
	em := webmetrics.NewEndpointMiddleware(reg)
	post := func(h http.Handler) http.Handler {
		return middleware.CORS(sc.AllowedOrigins, s.limiter.RateLimitMiddleware(h))
	}

	// A handler name registers its collectors once: routes sharing a handler share its wrapper.
	page := em.Wrap("page", handlers.NewPage(deps.Gate, cm))
	mux := http.NewServeMux()
	mux.Handle("GET /{$}", em.Wrap("landing", http.HandlerFunc(handlers.LandingHandler)))
	mux.Handle("GET /confirm/{$}", page)
	mux.Handle("GET /confirm/{token}", page)
	mux.Handle("POST /confirm/{token}", em.Wrap("submit", post(handlers.NewSubmit(deps.Gate, forms, cm, sc.MaxUploadBytes))))
	mux.Handle("POST /confirm/{token}/uploads/{slot}", em.Wrap("upload", post(handlers.NewSlotUpload(deps.Gate, deps.Uploader, sc.MaxUploadBytes))))
	mux.Handle("OPTIONS /confirm/{token}", post(http.NotFoundHandler()))
	mux.Handle("OPTIONS /confirm/{token}/uploads/{slot}", post(http.NotFoundHandler()))
	mux.Handle("GET /version", em.Wrap("version", http.HandlerFunc(handlers.VersionHandler)))

	var handler http.Handler = mux
	if sc.RequestTimeout > 0 {
		handler = http.TimeoutHandler(mux, sc.RequestTimeout, "")
	}
	s.httpServer = &http.Server{
		Addr:           net.JoinHostPort(sc.ListenHost, strconv.Itoa(sc.ListenPort)),
		ReadTimeout:    sc.ReadTimeout,
		WriteTimeout:   sc.WriteTimeout,
		Handler:        middleware.RequestID(middleware.Recover(handler)),
		MaxHeaderBytes: sc.MaxHeaderBytes,
	}
	s.metricsServer = metrics.New(metrics.Config{
		Host:         sc.MetricsHost,
		Port:         sc.MetricsPort,
		ReadTimeout:  sc.ReadTimeout,
		WriteTimeout: sc.WriteTimeout,
		Checks:       deps.Checks,
	}, reg)

	return &s, nil
}

// Run starts the HTTP servers and listens for incoming requests.
func (s *Server) Run() error {
	slog.Info("Starting server", "addr", s.httpServer.Addr)

	// already asked to quit?
	select {
	case <-s.gracefulCtx.Done():
		return errors.New("server is already shutting down")
	default:
	}

	var watchErr <-chan error
	if s.cm.CatalogPath() != "" {
		changes, errs, err := s.cm.Watch(s.gracefulCtx)
		if err != nil {
			return fmt.Errorf("failed to start watching form catalog: %v", err)
		}
		watchErr = errs
		go func() {
			for range changes {
				slog.Info("Form catalog reloaded", "form_version", s.cm.FormVersion())
			}
		}()
	}
	go s.limiter.PruneEvery(s.ctx, time.Minute, limiterIdle)

	listener, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		s.cancel()
		return fmt.Errorf("failed to listen on %s: %v", s.httpServer.Addr, err)
	}
	s.mu.Lock()
	s.primaryAddr = listener.Addr()
	s.mu.Unlock()

	serverErr := make(chan error, 2)
	go func() {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()
	go func() {
		if err := s.metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- fmt.Errorf("metrics server: %v", err)
		}
	}()

	for {
		select {
		case <-s.gracefulCtx.Done():
			slog.Info("Graceful shutdown initiated")
			// use parent ctx so if you call s.cancel() elsewhere it unblocks Shutdown immediately
			err := errors.Join(s.httpServer.Shutdown(s.ctx), s.metricsServer.Shutdown(s.ctx))
			// now kill everything else (watchers, limiter pruning, etc.)
			s.cancel()
			if err != nil {
				slog.Error("Graceful shutdown failed", "err", err)
				return err
			}
			slog.Info("Server shut down gracefully")
			return nil

		case err := <-serverErr:
			slog.Error("Server encountered error", "err", err)
			_ = s.closeServers()
			s.cancel()
			return err

		case err, ok := <-watchErr:
			if !ok {
				// The watcher stops with the graceful context.
				watchErr = nil
				continue
			}
			slog.Error("Catalog watcher encountered unrecoverable error", "err", err)
			errC := s.closeServers()
			s.cancel()
			return errors.Join(err, errC)
		}
	}
}

func (s *Server) closeServers() error {
	return errors.Join(s.httpServer.Close(), s.metricsServer.Close())
}

// Quit shuts down the HTTP servers, gracefully unless force is set.
func (s *Server) Quit(force bool) {
	defer s.cancel()

	if force {
		_ = s.closeServers()
		s.cancel()
	} else {
		s.gracefulCancel()
	}
	slog.Info("Server quit")
}

// Addr returns the address the server listens on, or an empty string before it is bound.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.primaryAddr == nil {
		return ""
	}
	return s.primaryAddr.String()
}

// MetricsAddr returns the address of the metrics server, or an empty string before it is bound.
func (s *Server) MetricsAddr() string {
	return s.metricsServer.Addr()
}
