package app_test

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ErlanBelekov/cart-recovery/config"
	"github.com/ErlanBelekov/cart-recovery/internal/app"
	"github.com/ErlanBelekov/cart-recovery/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func localConfig() *config.Config {
	return &config.Config{
		Env:                "local",
		LogLevel:           "info",
		KafkaTopic:         "cart-recovery.events",
		WorkerCount:        1,
		PollIntervalMS:     100,
		LockTTLSec:         30,
		JobTimeoutSec:      10,
		JobRetentionHours:  24,
		JWTSecret:          "0123456789abcdef0123456789abcdef",
		UnsubscribeBaseURL: "http://localhost:8080/unsubscribe",
		SendsPerMinute:     20,
		SendsPerHour:       300,
		SendMaxRetries:     3,
		DiscountPercent:    10,
		FunnelBatchSize:    50,
	}
}

func build(t *testing.T) *app.Services {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc, err := app.Build(context.Background(), localConfig(), logger, prometheus.NewRegistry())
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })
	return svc
}

func TestBuild_LocalModeUsesMemoryStores(t *testing.T) {
	svc := build(t)

	assert.Nil(t, svc.Stores.Pool)
	assert.Equal(t, "up", svc.Checker.Readiness(context.Background()).Status)
	assert.NotNil(t, svc.NewWorker())
	assert.NotNil(t, svc.NewReaper())
}

func TestSeedDemo_FeedsFunnelAndCampaign(t *testing.T) {
	svc := build(t)
	ctx := context.Background()

	res, err := app.SeedDemo(ctx, svc.Recovery, svc.Campaigns, time.Now())
	require.NoError(t, err)
	require.Len(t, res.Carts, 4)

	cmp, err := svc.Campaigns.Get(ctx, res.CampaignID)
	require.NoError(t, err)
	assert.Equal(t, domain.CampaignScheduled, cmp.Status)
	require.NotNil(t, cmp.NextRunAt)

	targets, err := svc.Campaigns.ResolveRecipients(ctx, cmp)
	require.NoError(t, err)
	assert.Len(t, targets, 3)

	n, err := svc.Funnel.Scan(ctx, domain.FunnelFirst)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	status, err := svc.Recovery.QueueStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, status.PendingJobs)
}

func TestServices_RouterServesPing(t *testing.T) {
	svc := build(t)

	r, err := svc.Router(context.Background())
	require.NoError(t, err)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}
