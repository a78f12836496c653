// Package daemon provides the confirmation service daemon.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/uniconfirm/confirm/internal/common/cli"
	"github.com/uniconfirm/confirm/internal/common/config"
	"github.com/uniconfirm/confirm/internal/common/constants"
	"github.com/uniconfirm/confirm/internal/common/metrics"
	"github.com/uniconfirm/confirm/internal/datastore"
	"github.com/uniconfirm/confirm/internal/gate"
	"github.com/uniconfirm/confirm/internal/storage"
	"github.com/uniconfirm/confirm/internal/submission"
	"github.com/uniconfirm/confirm/internal/webservice"
)

// App represents the application.
type App struct {
	cmd    *cobra.Command
	viper  *viper.Viper
	config appConfig

	daemon *webservice.Server

	ready chan struct{}
}

// appConfig holds the configuration for the application.
type appConfig struct {
	Verbosity int
	JSONLogs  bool
	Daemon    webservice.StaticConfig
	Datastore datastore.Config
	Storage   storage.Config
	Webhook   webhookConfig
}

type webhookConfig struct {
	URL     string
	Timeout time.Duration
}

// LogValue implements slog.LogValuer. Credentials are never part of it.
func (c appConfig) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int("verbosity", c.Verbosity),
		slog.Any("daemon", c.Daemon),
		slog.String("datastore_table", c.Datastore.Table),
		slog.Bool("datastore_configured", c.Datastore.Complete()),
		slog.String("storage_backend", c.Storage.Backend),
		slog.String("storage_base_url", c.Storage.BaseURL),
		slog.String("storage_bucket", c.Storage.Bucket),
		slog.Bool("webhook_configured", c.Webhook.URL != ""),
		slog.Duration("webhook_timeout", c.Webhook.Timeout),
	)
}

// New creates a new App instance with default values.
func New() (*App, error) {
	a := App{ready: make(chan struct{})}

	a.cmd = &cobra.Command{
		Use:   constants.ServiceCmdName,
		Short: "University participation confirmation service",
		Long: `University participation confirmation service.

Serves the per-invite confirmation form, uploads the attached files to object storage
and forwards the completed confirmation to the configured webhook.`,
		SilenceErrors:     true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Command parsing has been successful. Returns to not print usage anymore.
			a.cmd.SilenceUsage = true
			cli.SetSlog(a.config.Verbosity, a.config.JSONLogs) // Set logging before loading config

			envFile, err := cmd.Flags().GetString("env-file")
			if err != nil {
				return err
			}
			if err := cli.LoadDotEnv(envFile); err != nil {
				return err
			}

			if err := cli.InitViperConfig(constants.ServiceCmdName, a.cmd, a.viper); err != nil {
				return err
			}
			if err := a.viper.Unmarshal(&a.config); err != nil {
				return fmt.Errorf("unable to strictly decode configuration into struct: %w", err)
			}

			cli.SetSlog(a.config.Verbosity, a.config.JSONLogs)
			slog.Info("got app config", "config", a.config)
			return nil
		},
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a.cmd.SilenceUsage = true

			return a.run()
		},
	}
	a.viper = viper.New()
	a.cmd.CompletionOptions.HiddenDefaultCmd = true

	installRootCmd(&a)
	cli.InstallConfigFlag(a.cmd)
	cli.InstallEnvFileFlag(a.cmd)

	if err := a.viper.BindPFlags(a.cmd.PersistentFlags()); err != nil {
		return nil, err
	}

	a.installVersion()
	installMigrateCmd(&a)

	return &a, nil
}

func installRootCmd(app *App) {
	cmd := app.cmd

	defaultConf := appConfig{
		Daemon: webservice.StaticConfig{
			ReadTimeout:    15 * time.Second,
			WriteTimeout:   2 * time.Minute,
			RequestTimeout: 2 * time.Minute,
			MaxHeaderBytes: 1 << 13, // 8 KB
			MaxUploadBytes: 1 << 27, // 128 MB

			ListenPort: 8080,

			RateLimit: 1,
			RateBurst: 5,

			MetricsPort: 2112,
		},
		Datastore: datastore.Config{Table: constants.DefaultParticipationTable},
		Storage:   storage.Config{Backend: storage.BackendSupabase},
		Webhook:   webhookConfig{Timeout: 30 * time.Second},
	}

	cmd.PersistentFlags().CountVarP(&app.config.Verbosity, "verbose", "v", "issue INFO (-v), DEBUG (-vv)")
	cmd.PersistentFlags().BoolVar(&app.config.JSONLogs, "json-logs", false, "write logs as JSON")

	// Daemon flags
	cmd.Flags().StringVar(&app.config.Daemon.CatalogPath, "catalog", defaultConf.Daemon.CatalogPath, "path to the TOML form catalog, reloaded on change")

	cmd.Flags().DurationVar(&app.config.Daemon.ReadTimeout, "read-timeout", defaultConf.Daemon.ReadTimeout, "read timeout for HTTP server")
	cmd.Flags().DurationVar(&app.config.Daemon.WriteTimeout, "write-timeout", defaultConf.Daemon.WriteTimeout, "write timeout for HTTP server")
	cmd.Flags().DurationVar(&app.config.Daemon.RequestTimeout, "request-timeout", defaultConf.Daemon.RequestTimeout, "request timeout for HTTP server, 0 disables it")
	cmd.Flags().IntVar(&app.config.Daemon.MaxHeaderBytes, "max-header-bytes", defaultConf.Daemon.MaxHeaderBytes, "maximum header bytes for HTTP server")
	cmd.Flags().Int64Var(&app.config.Daemon.MaxUploadBytes, "max-upload-bytes", defaultConf.Daemon.MaxUploadBytes, "maximum request body bytes of form submissions and uploads")

	cmd.Flags().StringVar(&app.config.Daemon.ListenHost, "listen-host", defaultConf.Daemon.ListenHost, "host to listen on")
	cmd.Flags().IntVar(&app.config.Daemon.ListenPort, "listen-port", defaultConf.Daemon.ListenPort, "port to listen on")

	cmd.Flags().Float64Var(&app.config.Daemon.RateLimit, "rate-limit", defaultConf.Daemon.RateLimit, "submissions per second allowed per client IP, 0 disables limiting")
	cmd.Flags().IntVar(&app.config.Daemon.RateBurst, "rate-burst", defaultConf.Daemon.RateBurst, "burst of submissions allowed per client IP")
	cmd.Flags().StringSliceVar(&app.config.Daemon.AllowedOrigins, "allowed-origins", nil, "origins allowed to post the form cross-origin")

	cmd.Flags().StringVar(&app.config.Daemon.MetricsHost, "metrics-host", defaultConf.Daemon.MetricsHost, "host for the metrics endpoint")
	cmd.Flags().IntVar(&app.config.Daemon.MetricsPort, "metrics-port", defaultConf.Daemon.MetricsPort, "port for the metrics endpoint")

	// Collaborators. Credentials are only read from the configuration file or the environment.
	cmd.Flags().StringVar(&app.config.Datastore.URL, "datastore-url", defaultConf.Datastore.URL, "PostgreSQL URL of the participation datastore")
	cmd.Flags().StringVar(&app.config.Datastore.Table, "datastore-table", defaultConf.Datastore.Table, "participation records table")

	cmd.Flags().StringVar(&app.config.Storage.Backend, "storage-backend", defaultConf.Storage.Backend, "object storage backend: supabase or s3")
	cmd.Flags().StringVar(&app.config.Storage.BaseURL, "storage-base-url", defaultConf.Storage.BaseURL, "base URL of the object storage")
	cmd.Flags().StringVar(&app.config.Storage.Bucket, "storage-bucket", defaultConf.Storage.Bucket, "bucket holding the uploaded documents")
	cmd.Flags().StringVar(&app.config.Storage.Region, "storage-region", defaultConf.Storage.Region, "region of the s3 backend")

	cmd.Flags().StringVar(&app.config.Webhook.URL, "webhook-url", defaultConf.Webhook.URL, "endpoint receiving confirmed submissions")
	cmd.Flags().DurationVar(&app.config.Webhook.Timeout, "webhook-timeout", defaultConf.Webhook.Timeout, "timeout of the webhook delivery")

	err := cmd.MarkFlagFilename("catalog", "toml")
	if err != nil {
		// This should never happen.
		panic(fmt.Sprintf("failed to mark catalog flag as filename: %v", err))
	}
}

// Run executes the command and associated process, returning an error if any.
func (a App) Run() error {
	return a.cmd.Execute()
}

// UsageError returns if the error is a command parsing or runtime one.
func (a App) UsageError() bool {
	return !a.cmd.SilenceUsage
}

// Hup prints all goroutine stack traces and return false to signal you shouldn't quit.
func (a App) Hup() (shouldQuit bool) {
	buf := make([]byte, 1<<16)
	runtime.Stack(buf, true)
	fmt.Printf("%s", buf)
	return false
}

// Quit gracefully shuts down the daemon.
func (a *App) Quit() {
	a.WaitReady()
	if a.daemon != nil {
		a.daemon.Quit(false)
	}
}

// WaitReady waits for the daemon to be ready.
func (a *App) WaitReady() {
	<-a.ready
}

// RootCmd returns the root command.
func (a App) RootCmd() cobra.Command {
	return *a.cmd
}

func (a *App) run() (err error) {
	// Quit waits on ready: it must be closed whatever happens before serving.
	markReady := sync.OnceFunc(func() { close(a.ready) })
	defer markReady()

	ctx := context.Background()

	if a.config.Daemon.CatalogPath != "" {
		a.config.Daemon.CatalogPath, err = filepath.Abs(a.config.Daemon.CatalogPath)
		if err != nil {
			return fmt.Errorf("failed to get absolute path for catalog file: %v", err)
		}
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	// A missing or unreachable datastore still serves pages: every token is then a configuration error.
	var store *datastore.Manager
	if !a.config.Datastore.Complete() {
		slog.Error("Participation datastore is not configured, every invite will be reported as a configuration error")
	} else if db, err := datastore.Connect(ctx, a.config.Datastore); err != nil {
		slog.Error("Failed to connect to the participation datastore", "err", err)
	} else {
		defer func() {
			if err := db.Close(); err != nil {
				slog.Warn("Failed to close the participation datastore", "err", err)
			}
		}()
		store = db
	}

	var gateStore gate.Store
	if store != nil {
		gateStore = store
	}
	deps := webservice.Deps{
		Gate:     gate.New(gateStore, a.config.Datastore, gate.WithRegisterer(reg)),
		Registry: reg,
	}
	checks := map[string]metrics.Check{
		"datastore": func(ctx context.Context) error {
			if store == nil {
				return errors.New("not connected")
			}
			return store.Ping(ctx)
		},
	}

	sCfg := a.config.Storage
	if sCfg.Key == "" {
		sCfg.Key = a.config.Datastore.ServiceKey
	}
	if up, err := storage.New(ctx, sCfg, storage.WithRegisterer(reg)); err != nil {
		slog.Error("File uploads are disabled", "err", err)
		checks["storage"] = staticCheck(fmt.Errorf("uploads disabled: %v", err))
	} else {
		deps.Uploader = up
		checks["storage"] = staticCheck(nil)
	}

	if a.config.Webhook.URL == "" {
		slog.Error("Webhook URL is not configured, submissions will fail")
		checks["webhook"] = staticCheck(errors.New("not configured"))
	} else {
		deps.Webhook = submission.NewWebhookClient(a.config.Webhook.URL, a.config.Webhook.Timeout)
		checks["webhook"] = staticCheck(nil)
	}
	deps.Checks = checks

	dConf := a.config.Daemon
	cm := config.New(dConf.CatalogPath)
	a.daemon, err = webservice.New(ctx, cm, deps, dConf)
	markReady()
	if err != nil {
		return fmt.Errorf("failed to create server: %v", err)
	}

	return a.daemon.Run()
}

// staticCheck returns a readiness check always reporting err, or success when err is nil.
func staticCheck(err error) metrics.Check {
	return func(context.Context) error { return err }
}
