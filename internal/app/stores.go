package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ErlanBelekov/cart-recovery/internal/infrastructure/memory"
	"github.com/ErlanBelekov/cart-recovery/internal/infrastructure/postgres"
	"github.com/ErlanBelekov/cart-recovery/internal/repository"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Stores struct {
	Jobs      repository.JobRepository
	Carts     repository.CartRepository
	Campaigns repository.CampaignRepository

	Pool *pgxpool.Pool // nil for the in-memory stores
}

// OpenStores connects to Postgres and applies the schema, sizing the pool for workers
// concurrent jobs. An empty databaseURL selects the in-memory stores, which only live as
// long as the process.
func OpenStores(ctx context.Context, databaseURL string, workers int, logger *slog.Logger) (*Stores, error) {
	if databaseURL == "" {
		logger.Warn("no DATABASE_URL, using in-memory stores")
		return &Stores{
			Jobs:      memory.NewJobStore(),
			Carts:     memory.NewCartStore(),
			Campaigns: memory.NewCampaignStore(),
		}, nil
	}

	pool, err := postgres.Open(ctx, databaseURL, workers)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	logger.Info("postgres ready", "max_conns", pool.Config().MaxConns)

	return &Stores{
		Jobs:      postgres.NewJobRepository(pool),
		Carts:     postgres.NewCartRepository(pool),
		Campaigns: postgres.NewCampaignRepository(pool),
		Pool:      pool,
	}, nil
}

func (s *Stores) Close() {
	if s.Pool != nil {
		s.Pool.Close()
	}
}
