package httptransport_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ErlanBelekov/cart-recovery/internal/campaign"
	"github.com/ErlanBelekov/cart-recovery/internal/infrastructure/memory"
	"github.com/ErlanBelekov/cart-recovery/internal/scheduler"
	httptransport "github.com/ErlanBelekov/cart-recovery/internal/transport/http"
	"github.com/ErlanBelekov/cart-recovery/internal/transport/http/handler"
	"github.com/ErlanBelekov/cart-recovery/internal/transport/http/middleware"
	"github.com/ErlanBelekov/cart-recovery/internal/usecase"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "router-test-secret-at-least-32-chars"

func init() {
	gin.SetMode(gin.TestMode)
}

type api struct {
	t      *testing.T
	router *gin.Engine
	token  string
}

func newAPI(t *testing.T) *api {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	jobs := memory.NewJobStore()
	carts := memory.NewCartStore()
	campaigns := memory.NewCampaignStore()
	engine := scheduler.NewEngine(jobs, logger)
	uc := usecase.NewRecoveryUsecase(engine, carts, campaigns, 10)
	ctrl := campaign.NewController(campaigns, carts, engine, logger)

	auth, err := middleware.Auth(context.Background(), "", []byte(testSecret))
	require.NoError(t, err)
	token, err := usecase.NewTokenIssuer([]byte(testSecret), time.Hour).Issue("ops@example.com")
	require.NoError(t, err)

	router := httptransport.NewRouter(logger, httptransport.Handlers{
		Queue:     handler.NewQueueHandler(uc, logger),
		Campaigns: handler.NewCampaignHandler(ctrl, uc, logger),
		Carts:     handler.NewCartHandler(uc, logger),
	}, auth)
	return &api{t: t, router: router, token: token}
}

func (a *api) do(method, path string, body any) (int, map[string]any) {
	a.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(a.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if a.token != "" {
		req.Header.Set("Authorization", "Bearer "+a.token)
	}
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)

	var out map[string]any
	if w.Body.Len() > 0 {
		_ = json.Unmarshal(w.Body.Bytes(), &out)
	}
	return w.Code, out
}

func campaignBody() map[string]any {
	return map[string]any{
		"name":      "Weekend nudge",
		"store_url": "https://shop.example.com",
		"target_audience": map[string]any{
			"type":            "abandoned_carts",
			"customer_emails": []string{"ann@example.com"},
		},
		"schedule": map[string]any{
			"start_date":  time.Now().AddDate(0, 0, 1).Format(time.DateOnly),
			"time_of_day": "09:00",
			"frequency":   "daily",
		},
		"content": map[string]any{
			"subject": "Still thinking, {customer_name}?",
			"body":    "Your cart: {cart_items} [Checkout Now]",
		},
	}
}

func TestRouter_RequiresToken(t *testing.T) {
	a := newAPI(t)
	a.token = ""

	code, _ := a.do(http.MethodGet, "/queue/status", nil)
	assert.Equal(t, http.StatusUnauthorized, code)

	code, _ = a.do(http.MethodGet, "/ping", nil)
	assert.Equal(t, http.StatusOK, code)
}

func TestCampaignLifecycle(t *testing.T) {
	a := newAPI(t)

	code, created := a.do(http.MethodPost, "/campaigns", campaignBody())
	require.Equal(t, http.StatusCreated, code)
	assert.Equal(t, "scheduled", created["status"])
	id := created["id"].(string)

	code, jobs := a.do(http.MethodGet, "/jobs?campaign_id="+id, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, jobs["jobs"], 1)

	code, paused := a.do(http.MethodPost, "/campaigns/"+id+"/pause", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "paused", paused["status"])

	code, _ = a.do(http.MethodPost, "/campaigns/"+id+"/resume", nil)
	require.Equal(t, http.StatusOK, code)

	code, _ = a.do(http.MethodPost, "/campaigns/"+id+"/resume", nil)
	assert.Equal(t, http.StatusConflict, code)

	code, cancelled := a.do(http.MethodPatch, "/campaigns/"+id, map[string]any{"status": "cancelled"})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "cancelled", cancelled["status"])

	code, jobs = a.do(http.MethodGet, "/jobs?campaign_id="+id+"&status=pending", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Empty(t, jobs["jobs"])
}

func TestCreateCampaign_ClientErrors(t *testing.T) {
	a := newAPI(t)

	body := campaignBody()
	body["target_audience"] = map[string]any{"type": "abandoned_carts"}
	code, _ := a.do(http.MethodPost, "/campaigns", body)
	assert.Equal(t, http.StatusBadRequest, code, "allowlist audience without emails")

	body = campaignBody()
	body["schedule"].(map[string]any)["frequency"] = "hourly"
	code, _ = a.do(http.MethodPost, "/campaigns", body)
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = a.do(http.MethodGet, "/campaigns/does-not-exist", nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestCartReminderFlow(t *testing.T) {
	a := newAPI(t)

	code, cart := a.do(http.MethodPut, "/carts/woocommerce/42", map[string]any{
		"store_url":      "https://shop.example.com",
		"customer_email": "ann@example.com",
		"total":          59.5,
		"status":         "abandoned",
		"items":          []map[string]any{{"product_id": 7, "quantity": 2, "name": "Mug", "price": 29.75}},
	})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "not_sent", cart["email_status"])

	code, scheduled := a.do(http.MethodPost, "/carts/woocommerce/42/reminders", map[string]any{
		"stage":       "first",
		"delay_hours": 1,
	})
	require.Equal(t, http.StatusCreated, code)
	jobID := scheduled["job_id"].(string)

	code, job := a.do(http.MethodGet, "/jobs/"+jobID, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "send-abandoned-cart-reminder", job["kind"])

	code, status := a.do(http.MethodGet, "/queue/status", nil)
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 1, status["pending_jobs"])

	code, res := a.do(http.MethodDelete, "/jobs?entity_id=42", nil)
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 1, res["cancelled"])

	code, _ = a.do(http.MethodGet, "/jobs/"+jobID, nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestCartEndpoints_ClientErrors(t *testing.T) {
	a := newAPI(t)

	code, _ := a.do(http.MethodPost, "/carts/magento/1/reminders", map[string]any{"stage": "first"})
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = a.do(http.MethodPost, "/carts/shopify/unknown/reminders", map[string]any{"stage": "first"})
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = a.do(http.MethodPost, "/carts/shopify/unknown/reminders", map[string]any{"stage": "discount"})
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = a.do(http.MethodDelete, "/jobs", nil)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestCancelJobs_PlatformScopesCartID(t *testing.T) {
	a := newAPI(t)

	for _, platform := range []string{"woocommerce", "shopify"} {
		code, _ := a.do(http.MethodPut, "/carts/"+platform+"/42", map[string]any{
			"customer_email": "ann@example.com",
			"status":         "abandoned",
		})
		require.Equal(t, http.StatusOK, code)
		code, _ = a.do(http.MethodPost, "/carts/"+platform+"/42/reminders", map[string]any{"stage": "first", "delay_hours": 1})
		require.Equal(t, http.StatusCreated, code)
	}

	code, res := a.do(http.MethodDelete, "/jobs?entity_id=42&platform=shopify", nil)
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 1, res["cancelled"])

	code, jobs := a.do(http.MethodGet, "/jobs?cart_id=42", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, jobs["jobs"], 1)

	code, _ = a.do(http.MethodDelete, "/jobs?entity_id=42&platform=magento", nil)
	assert.Equal(t, http.StatusBadRequest, code)
}
