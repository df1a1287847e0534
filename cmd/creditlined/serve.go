package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/xraph/creditline"
	"github.com/xraph/creditline/api"
	audithook "github.com/xraph/creditline/audit_hook"
	"github.com/xraph/creditline/observability"
)

func serveCmd(load func() (*Config, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP api and the unbilled-turn sweeper",
		Long: `Start the HTTP api.

Examples:
  creditlined serve
  CREDITLINE_STORE_DRIVER=postgres CREDITLINE_STORE_URL=postgres://... creditlined serve`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg)
		},
	}
}

func runServe(ctx context.Context, cfg *Config) error {
	if cfg.Auth.JWTSecret == "" {
		return errors.New("auth.jwt_secret is required to serve")
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := newLogger(cfg.Log)

	s, err := openStore(ctx, cfg.Store, logger)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	opts := []creditline.Option{
		creditline.WithLogger(logger),
		creditline.WithGateway(newGateway(cfg.Gateway, logger)),
		creditline.WithInitialCredits(cfg.Ledger.InitialCredits),
		creditline.WithGenerationTimeout(cfg.Ledger.GenerationTimeout),
		creditline.WithSweepInterval(cfg.Ledger.SweepInterval),
		creditline.WithSweepBatchSize(cfg.Ledger.SweepBatchSize),
		creditline.WithAppID(cfg.Ledger.AppID),
		creditline.WithPlugin(observability.NewMetricsExtension(observability.NewPrometheusFactory(reg))),
		creditline.WithPlugin(audithook.New(auditLog(logger), audithook.WithLogger(logger))),
	}
	if cfg.Webhook.Secret != "" {
		opts = append(opts, creditline.WithWebhookSecret(cfg.Webhook.Secret))
	} else {
		logger.Warn("webhook secret not configured; payment notifications will be rejected")
	}

	cache, err := openCache(ctx, cfg.Redis)
	if err != nil {
		_ = s.Close()
		return err
	}
	if cache != nil {
		defer cache.Close()
		opts = append(opts, creditline.WithPublicationCache(cache))
	}

	l := creditline.New(s, opts...)
	if err := l.Start(ctx); err != nil {
		_ = s.Close()
		return err
	}
	defer func() {
		if err := l.Stop(); err != nil {
			logger.Error("ledger stop failed", "error", err)
		}
	}()

	var authOpts []api.AuthOption
	if cfg.Auth.Issuer != "" {
		authOpts = append(authOpts, api.WithIssuer(cfg.Auth.Issuer))
	}
	srv := &http.Server{
		Addr: cfg.HTTP.Addr,
		Handler: api.New(l, api.NewAuthenticator(cfg.Auth.JWTSecret, authOpts...),
			api.WithLogger(logger),
			api.WithRegistry(reg),
			api.WithAllowedOrigins(cfg.HTTP.AllowedOrigins...),
		),
		ReadHeaderTimeout: 10 * time.Second,
		// Image generation can take most of a minute.
		WriteTimeout: cfg.Ledger.GenerationTimeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting creditline server",
			"addr", cfg.HTTP.Addr,
			"store", cfg.Store.Driver,
			"version", Version,
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}

	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}

	logger.Info("server stopped")
	return nil
}

// auditLog records audit events as structured log lines.
func auditLog(logger *slog.Logger) audithook.RecorderFunc {
	audit := logger.WithGroup("audit")
	return func(ctx context.Context, e *audithook.AuditEvent) error {
		level := slog.LevelInfo
		switch e.Severity {
		case audithook.SeverityWarning:
			level = slog.LevelWarn
		case audithook.SeverityError, audithook.SeverityCritical:
			level = slog.LevelError
		}
		audit.Log(ctx, level, e.Action,
			"resource", e.Resource,
			"resource_id", e.ResourceID,
			"outcome", e.Outcome,
			"reason", e.Reason,
			"metadata", e.Metadata,
		)
		return nil
	}
}

