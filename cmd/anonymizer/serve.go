package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/gonkalabs/pii-anonymizer/internal/api"
	"github.com/gonkalabs/pii-anonymizer/internal/observability"
	anonotel "github.com/gonkalabs/pii-anonymizer/internal/otel"
)

func newServeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server (web form, JSON API, websocket, metrics)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.serve(cmd.Context())
		},
	}
}

func (a *app) serve(ctx context.Context) error {
	cfg := a.cfg

	shutdownTracing, err := anonotel.Setup("pii-anonymizer", version, cfg.OTelEnabled)
	if err != nil {
		return err
	}
	defer func() {
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(shutCtx); err != nil {
			slog.Warn("tracing shutdown error", "err", err)
		}
	}()

	svc, err := buildService(cfg)
	if err != nil {
		return err
	}
	metrics := observability.NewMetrics(cfg.MetricsNamespace, nil)
	server := api.New(svc, metrics, api.Options{
		DefaultStrategy: cfg.DefaultStrategy,
		CORSOrigins:     cfg.CORSOrigins,
		RateLimitRPS:    cfg.RateLimitRPS,
		RateLimitBurst:  cfg.RateLimitBurst,
	})

	srv := &http.Server{
		Addr:         cfg.ListenAddr(),
		Handler:      server.Router(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: cfg.DetectBudget + 30*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Graceful shutdown
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		slog.Info("shutting down")

		shutCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutCtx); err != nil {
			slog.Error("shutdown error", "err", err)
		}
	}()

	slog.Info("starting anonymizer server",
		"addr", cfg.ListenAddr(),
		"default_strategy", cfg.DefaultStrategy,
		"entities", len(svc.Entities()),
		"language", svc.Language(),
		"tracing", cfg.OTelEnabled,
	)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
