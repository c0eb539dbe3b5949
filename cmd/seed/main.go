// seed inserts demo carts and a campaign into the dev database and prints an operator token.
// Run: go run ./cmd/seed
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/ErlanBelekov/cart-recovery/config"
	"github.com/ErlanBelekov/cart-recovery/internal/app"
	ctxlog "github.com/ErlanBelekov/cart-recovery/internal/log"
	"github.com/ErlanBelekov/cart-recovery/internal/usecase"
	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.InMemory() {
		log.Fatal("DATABASE_URL is not set, in-memory mode seeds itself on scheduler start")
	}

	logger := ctxlog.New(os.Stderr, cfg.Env, cfg.SlogLevel())

	svc, err := app.Build(ctx, cfg, logger, prometheus.NewRegistry())
	if err != nil {
		log.Fatalf("build: %v", err)
	}
	defer svc.Close()

	res, err := app.SeedDemo(ctx, svc.Recovery, svc.Campaigns, time.Now())
	if err != nil {
		log.Fatalf("seed: %v", err)
	}

	token, err := usecase.NewTokenIssuer([]byte(cfg.JWTSecret), 24*time.Hour).Issue("seed-operator")
	if err != nil {
		log.Fatalf("token: %v", err)
	}

	fmt.Printf("seeded %d carts and campaign %s\n\n", len(res.Carts), res.CampaignID)
	fmt.Printf("export TOKEN=%s\n\n", token)
	fmt.Println("Run the funnel and workers:")
	fmt.Println("  go run ./cmd/scheduler")
	fmt.Println()
	fmt.Println("Inspect the queue:")
	fmt.Printf("  curl -H \"Authorization: Bearer $TOKEN\" localhost:%s/queue/status\n", cfg.Port)
	fmt.Printf("  curl -H \"Authorization: Bearer $TOKEN\" localhost:%s/campaigns/%s\n", cfg.Port, res.CampaignID)
}
