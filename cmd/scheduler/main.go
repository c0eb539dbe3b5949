package main

import (
	"context"
	"errors"
	"log"
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

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := ctxlog.New(os.Stdout, cfg.Env, cfg.SlogLevel()).With("component", "scheduler")

	if cfg.Env != "local" {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics.Register()
	svc, err := app.Build(ctx, cfg, logger, prometheus.DefaultRegisterer)
	if err != nil {
		stop()
		log.Fatalf("build: %v", err)
	}
	defer svc.Close()

	worker := svc.NewWorker()
	reaper := svc.NewReaper()
	metricsSrv := metrics.NewServer(":"+cfg.MetricsPort, svc.Checker)

	servers := []*http.Server{metricsSrv}

	// In-memory stores cannot be shared with cmd/server, so the API is served from here.
	if cfg.InMemory() {
		if _, err := app.SeedDemo(ctx, svc.Recovery, svc.Campaigns, time.Now()); err != nil {
			logger.Error("seed demo data", "error", err)
		}
		router, err := svc.Router(ctx)
		if err != nil {
			stop()
			log.Fatalf("router: %v", err)
		}
		servers = append(servers, &http.Server{
			Addr:              ":" + cfg.Port,
			Handler:           router,
			ReadHeaderTimeout: 5 * time.Second,
		})
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		worker.Start(gctx)
		return nil
	})
	g.Go(func() error {
		reaper.Start(gctx)
		return nil
	})
	g.Go(func() error {
		return svc.Funnel.Start(gctx)
	})
	for _, srv := range servers {
		g.Go(func() error {
			logger.Info("http server started", "addr", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		for _, srv := range servers {
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Error("http server shutdown", "addr", srv.Addr, "error", err)
			}
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("scheduler stopped", "error", err)
	}
	logger.Info("scheduler shut down", "worker_id", worker.ID())
}
