// Command server runs the ops API against Postgres. Job execution lives in cmd/scheduler;
// both processes share the job table.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ErlanBelekov/cart-recovery/config"
	"github.com/ErlanBelekov/cart-recovery/internal/app"
	ctxlog "github.com/ErlanBelekov/cart-recovery/internal/log"
	"github.com/ErlanBelekov/cart-recovery/internal/metrics"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"
)

const shutdownGrace = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.InMemory() {
		log.Fatal("ops api needs DATABASE_URL to share jobs with the scheduler; use cmd/scheduler for in-memory mode")
	}
	if cfg.Env != "local" {
		gin.SetMode(gin.ReleaseMode)
	}

	logger := ctxlog.New(os.Stdout, cfg.Env, cfg.SlogLevel()).With("service", "cart-recovery", "component", "ops-api")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err = serve(ctx, cfg, logger)
	stop()
	if err != nil {
		logger.Error("ops api exited", "error", err)
		os.Exit(1)
	}
	logger.Info("ops api stopped")
}

func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	metrics.Register()
	svc, err := app.Build(ctx, cfg, logger, prometheus.DefaultRegisterer)
	if err != nil {
		return fmt.Errorf("build services: %w", err)
	}
	defer svc.Close()

	router, err := svc.Router(ctx)
	if err != nil {
		return fmt.Errorf("ops router: %w", err)
	}

	api := &http.Server{Addr: ":" + cfg.Port, Handler: router, ReadHeaderTimeout: 5 * time.Second}
	metricsSrv := metrics.NewServer(":"+cfg.MetricsPort, svc.Checker)

	authMode := "hs256"
	if cfg.JWKSURL != "" {
		authMode = "jwks"
	}
	logger.Info("ops api listening",
		"addr", api.Addr,
		"metrics_addr", metricsSrv.Addr,
		"auth", authMode,
		"redis", cfg.RedisURL != "",
		"kafka_brokers", len(cfg.KafkaBrokers),
	)

	g, gctx := errgroup.WithContext(ctx)
	for _, srv := range []*http.Server{api, metricsSrv} {
		g.Go(func() error {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("listen %s: %w", srv.Addr, err)
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("ops api draining", "grace", shutdownGrace)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		return errors.Join(api.Shutdown(shutdownCtx), metricsSrv.Shutdown(shutdownCtx))
	})
	return g.Wait()
}
