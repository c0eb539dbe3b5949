// Package app wires the service's components from configuration. Both binaries build on it:
// cmd/scheduler runs the workers, cmd/server the ops API.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ErlanBelekov/cart-recovery/config"
	"github.com/ErlanBelekov/cart-recovery/internal/campaign"
	"github.com/ErlanBelekov/cart-recovery/internal/dedup"
	"github.com/ErlanBelekov/cart-recovery/internal/dispatch"
	"github.com/ErlanBelekov/cart-recovery/internal/funnel"
	"github.com/ErlanBelekov/cart-recovery/internal/health"
	"github.com/ErlanBelekov/cart-recovery/internal/mailer"
	"github.com/ErlanBelekov/cart-recovery/internal/notify"
	"github.com/ErlanBelekov/cart-recovery/internal/scheduler"
	httptransport "github.com/ErlanBelekov/cart-recovery/internal/transport/http"
	"github.com/ErlanBelekov/cart-recovery/internal/transport/http/handler"
	"github.com/ErlanBelekov/cart-recovery/internal/transport/http/middleware"
	"github.com/ErlanBelekov/cart-recovery/internal/usecase"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

type Services struct {
	Config  *config.Config
	Logger  *slog.Logger
	Stores  *Stores
	Checker *health.Checker

	Engine     *scheduler.Engine
	Registry   *scheduler.Registry
	Dispatcher *dispatch.Dispatcher
	Funnel     *funnel.Controller
	Campaigns  *campaign.Controller
	Recovery   *usecase.RecoveryUsecase

	closers []func() error
}

// Build opens every dependency named in cfg and wires the domain components on top.
// Redis and Kafka are optional: without them the process falls back to an in-process
// de-dup guard and a logging event publisher.
func Build(ctx context.Context, cfg *config.Config, logger *slog.Logger, reg prometheus.Registerer) (*Services, error) {
	s := &Services{Config: cfg, Logger: logger}

	stores, err := OpenStores(ctx, cfg.DatabaseURL, cfg.WorkerCount, logger)
	if err != nil {
		return nil, err
	}
	s.Stores = stores
	s.closers = append(s.closers, func() error { stores.Close(); return nil })

	s.Checker = health.NewChecker(logger, reg)
	if stores.Pool != nil {
		s.Checker.Add("postgres", stores.Pool)
	}

	var guard dedup.Guard = dedup.NewMemoryGuard()
	if cfg.RedisURL != "" {
		client, err := dedup.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			s.Close()
			return nil, err
		}
		guard = dedup.NewRedisGuard(client, "cartrecovery")
		s.Checker.Add("redis", health.PingFunc(func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		}))
		s.closers = append(s.closers, client.Close)
	}

	var publisher notify.Publisher = notify.NewLogPublisher(logger)
	if len(cfg.KafkaBrokers) > 0 {
		publisher = notify.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
	}
	s.closers = append(s.closers, publisher.Close)

	sender := mailer.NewSender(cfg.Env, cfg.ResendAPIKey, cfg.ResendFrom, logger)
	limiter := dispatch.NewWindowLimiter(cfg.SendsPerMinute, cfg.SendsPerHour)
	dcfg := dispatch.DefaultConfig()
	dcfg.MinDelay = cfg.MinSendDelay()
	dcfg.MaxRetries = cfg.SendMaxRetries
	s.Dispatcher = dispatch.New(sender, limiter, logger, dcfg)

	s.Engine = scheduler.NewEngine(stores.Jobs, logger)
	s.Funnel = funnel.NewController(stores.Carts, s.Engine, logger,
		funnel.WithBatchSize(cfg.FunnelBatchSize),
		funnel.WithDiscountPercent(cfg.DiscountPercent),
		funnel.WithNotifier(guard, publisher),
	)
	s.Campaigns = campaign.NewController(stores.Campaigns, stores.Carts, s.Engine, logger)
	s.Recovery = usecase.NewRecoveryUsecase(s.Engine, stores.Carts, stores.Campaigns, cfg.DiscountPercent)

	s.Registry = scheduler.NewRegistry()
	funnel.NewExecutor(stores.Carts, s.Dispatcher, logger, cfg.UnsubscribeBaseURL).Register(s.Registry)
	campaign.NewExecutor(stores.Campaigns, stores.Carts, s.Dispatcher, logger, cfg.UnsubscribeBaseURL).Register(s.Registry)
	s.Campaigns.Register(s.Registry)

	return s, nil
}

func (s *Services) NewWorker() *scheduler.Worker {
	return scheduler.NewWorker(s.Engine, s.Registry, s.Logger, scheduler.WorkerConfig{
		PollInterval: s.Config.PollInterval(),
		LockTTL:      s.Config.LockTTL(),
		JobTimeout:   s.Config.JobTimeout(),
		Concurrency:  s.Config.WorkerCount,
	})
}

func (s *Services) NewReaper() *scheduler.Reaper {
	return scheduler.NewReaper(s.Stores.Jobs, s.Logger, reaperInterval, s.Config.JobRetention())
}

// Router builds the ops API on top of the services.
func (s *Services) Router(ctx context.Context) (*gin.Engine, error) {
	auth, err := middleware.Auth(ctx, s.Config.JWKSURL, []byte(s.Config.JWTSecret))
	if err != nil {
		return nil, err
	}
	return httptransport.NewRouter(s.Logger, httptransport.Handlers{
		Queue:     handler.NewQueueHandler(s.Recovery, s.Logger),
		Campaigns: handler.NewCampaignHandler(s.Campaigns, s.Recovery, s.Logger),
		Carts:     handler.NewCartHandler(s.Recovery, s.Logger),
	}, auth), nil
}

// Close releases connections in reverse order of opening.
func (s *Services) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("close services: %w", err)
	}
	return nil
}

// reaperInterval is how often completed jobs past retention are deleted. Expired locks
// are not swept; Claim takes those jobs back.
const reaperInterval = 30 * time.Second
