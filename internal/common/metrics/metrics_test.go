package metrics_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uniconfirm/confirm/internal/common/metrics"
)

func TestListenAndServe(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		port int

		wantErr bool
	}{
		"Random port serves": {},

		// Error cases
		"Bad port fails": {port: -1, wantErr: true},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			reg := prometheus.NewRegistry()
			c := prometheus.NewCounter(prometheus.CounterOpts{Name: "confirm_test_total", Help: "test counter"})
			reg.MustRegister(c)
			c.Inc()

			server := metrics.New(newConfig(tc.port), reg)
			require.Empty(t, server.Addr(), "Addr should be empty before ListenAndServe")

			errCh := listenAndServeAsync(t, server)
			defer server.Close()

			select {
			case err := <-errCh:
				if tc.wantErr {
					require.Error(t, err, "Expected ListenAndServe to fail")
					require.Empty(t, server.Addr(), "Addr should stay empty if ListenAndServe fails")
					return
				}
				require.Failf(t, "ListenAndServe returned unexpectedly", "Got possible error: %v", err)
			case <-time.After(500 * time.Millisecond):
				require.False(t, tc.wantErr, "Expected ListenAndServe to return an error but it did not")
			}

			status, body, err := get(t, server, "/metrics")
			require.NoError(t, err, "Expected to reach the metrics endpoint")
			require.Equal(t, http.StatusOK, status, "Expected metrics endpoint to return 200 OK")
			assert.Contains(t, body, "confirm_test_total 1", "Expected registered counter in exposition")

			status, body, err = get(t, server, "/healthz")
			require.NoError(t, err, "Expected to reach the health endpoint")
			require.Equal(t, http.StatusOK, status, "Expected health endpoint to return 200 OK")
			assert.Equal(t, "ok\n", body, "Unexpected health body")
		})
	}
}

func TestReadiness(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		checks map[string]metrics.Check

		wantStatus int
		wantBody   string
	}{
		"No checks is ready":       {wantStatus: http.StatusOK, wantBody: ""},
		"Passing checks are ready": {
			checks: map[string]metrics.Check{
				"webhook":   func(context.Context) error { return nil },
				"datastore": func(context.Context) error { return nil },
			},
			wantStatus: http.StatusOK,
			wantBody:   "datastore: ok\nwebhook: ok\n",
		},
		"One failing check is not ready": {
			checks: map[string]metrics.Check{
				"datastore": func(context.Context) error { return errors.New("not connected") },
				"storage":   func(context.Context) error { return nil },
			},
			wantStatus: http.StatusServiceUnavailable,
			wantBody:   "datastore: not connected\nstorage: ok\n",
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			cfg := newConfig(0)
			cfg.Checks = tc.checks
			server := metrics.New(cfg, prometheus.NewRegistry())
			errCh := listenAndServeAsync(t, server)
			defer server.Close()

			require.Eventually(t, func() bool { return server.Addr() != "" }, time.Second, 10*time.Millisecond, "Server should bind")
			select {
			case err := <-errCh:
				require.Failf(t, "ListenAndServe returned unexpectedly", "Got possible error: %v", err)
			default:
			}

			status, body, err := get(t, server, "/readyz")
			require.NoError(t, err, "Expected to reach the readiness endpoint")
			assert.Equal(t, tc.wantStatus, status, "Unexpected readiness status")
			assert.Equal(t, tc.wantBody, body, "Unexpected readiness report")
		})
	}
}

func TestShutdown(t *testing.T) {
	t.Parallel()

	server := metrics.New(newConfig(0), prometheus.NewRegistry())

	errCh := listenAndServeAsync(t, server)
	defer server.Close()

	select {
	case err := <-errCh:
		require.Failf(t, "ListenAndServe returned unexpectedly", "Got possible error: %v", err)
	case <-time.After(500 * time.Millisecond):
	}

	require.NoError(t, server.Shutdown(t.Context()), "Expected Shutdown to succeed")

	select {
	case err := <-errCh:
		require.ErrorIs(t, err, http.ErrServerClosed, "Expected ListenAndServe to return ErrServerClosed after shutdown")
	case <-time.After(time.Second):
		require.Fail(t, "Expected ListenAndServe to return after shutdown")
	}

	_, _, err := get(t, server, "/metrics")
	require.Error(t, err, "Expected error when sending request after shutdown")
}

func TestClose(t *testing.T) {
	t.Parallel()

	server := metrics.New(newConfig(0), prometheus.NewRegistry())

	errCh := listenAndServeAsync(t, server)

	select {
	case err := <-errCh:
		require.Failf(t, "ListenAndServe returned unexpectedly", "Got possible error: %v", err)
	case <-time.After(500 * time.Millisecond):
	}

	require.NoError(t, server.Close(), "Expected Close to succeed")

	select {
	case err := <-errCh:
		require.ErrorIs(t, err, http.ErrServerClosed, "Expected ListenAndServe to return ErrServerClosed after close")
	case <-time.After(time.Second):
		require.Fail(t, "Expected ListenAndServe to return after close")
	}
}

func newConfig(port int) metrics.Config {
	return metrics.Config{
		Host:         "127.0.0.1",
		Port:         port,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}
}

func listenAndServeAsync(t *testing.T, server *metrics.Server) chan error {
	t.Helper()

	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		errCh <- server.ListenAndServe()
	}()
	return errCh
}

func get(t *testing.T, server *metrics.Server, path string) (int, string, error) {
	t.Helper()

	resp, err := http.Get("http://" + server.Addr() + path)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(resp.Body)
	return resp.StatusCode, string(b), err
}
