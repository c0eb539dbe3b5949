package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/ErlanBelekov/cart-recovery/internal/domain"
	"github.com/ErlanBelekov/cart-recovery/internal/repository"
	"github.com/ErlanBelekov/cart-recovery/internal/usecase"
	"github.com/gin-gonic/gin"
)

type QueueHandler struct {
	uc     *usecase.RecoveryUsecase
	logger *slog.Logger
}

func NewQueueHandler(uc *usecase.RecoveryUsecase, logger *slog.Logger) *QueueHandler {
	return &QueueHandler{uc: uc, logger: logger.With("component", "queue_handler")}
}

type jobResponse struct {
	ID         string         `json:"id"`
	Kind       domain.JobKind `json:"kind"`
	Payload    domain.Payload `json:"payload"`
	RunAt      time.Time      `json:"run_at"`
	Attempt    int            `json:"attempt"`
	Status     domain.Status  `json:"status"`
	LockedBy   *string        `json:"locked_by,omitempty"`
	LastRunAt  *time.Time     `json:"last_run_at,omitempty"`
	FailedAt   *time.Time     `json:"failed_at,omitempty"`
	FailReason *string        `json:"fail_reason,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

func toJobResponse(j *domain.Job) jobResponse {
	return jobResponse{
		ID:         j.ID,
		Kind:       j.Kind,
		Payload:    j.Payload,
		RunAt:      j.RunAt,
		Attempt:    j.Attempt,
		Status:     j.Status,
		LockedBy:   j.LockedBy,
		LastRunAt:  j.LastRunAt,
		FailedAt:   j.FailedAt,
		FailReason: j.FailReason,
		CreatedAt:  j.CreatedAt,
	}
}

func (h *QueueHandler) Status(ctx *gin.Context) {
	st, err := h.uc.QueueStatus(ctx.Request.Context())
	if err != nil {
		respondError(ctx, h.logger, "queue status", err)
		return
	}
	ctx.JSON(http.StatusOK, st)
}

type listJobsQuery struct {
	Kind       domain.JobKind  `form:"kind"   binding:"omitempty,oneof=send-abandoned-cart-reminder send-campaign-email process-scheduled-campaign send-discount-offer"`
	Status     domain.Status   `form:"status" binding:"omitempty,oneof=pending running completed failed"`
	CampaignID string          `form:"campaign_id"`
	CartID     string          `form:"cart_id"`
	Platform   domain.Platform `form:"platform" binding:"omitempty,oneof=woocommerce shopify"`
	Limit      int             `form:"limit"  binding:"omitempty,min=1,max=500"`
}

func (h *QueueHandler) ListJobs(ctx *gin.Context) {
	var q listJobsQuery
	if err := ctx.ShouldBindQuery(&q); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	jobs, err := h.uc.ListJobs(ctx.Request.Context(), repository.JobFilter{
		Kind:       q.Kind,
		Status:     q.Status,
		CampaignID: q.CampaignID,
		CartID:     q.CartID,
		Platform:   q.Platform,
		Limit:      q.Limit,
	})
	if err != nil {
		respondError(ctx, h.logger, "list jobs", err)
		return
	}

	items := make([]jobResponse, len(jobs))
	for i, j := range jobs {
		items[i] = toJobResponse(j)
	}
	ctx.JSON(http.StatusOK, gin.H{"jobs": items})
}

func (h *QueueHandler) GetJob(ctx *gin.Context) {
	job, err := h.uc.GetJob(ctx.Request.Context(), ctx.Param("id"))
	if err != nil {
		respondError(ctx, h.logger, "get job", err)
		return
	}
	ctx.JSON(http.StatusOK, toJobResponse(job))
}

func (h *QueueHandler) CancelJob(ctx *gin.Context) {
	if err := h.uc.CancelJob(ctx.Request.Context(), ctx.Param("id")); err != nil {
		respondError(ctx, h.logger, "cancel job", err)
		return
	}
	ctx.Status(http.StatusNoContent)
}

// CancelJobsFor handles DELETE /jobs?entity_id=..., removing pending jobs for a cart or
// campaign. With &platform=... the id is taken as that platform's cart only.
func (h *QueueHandler) CancelJobsFor(ctx *gin.Context) {
	entityID := ctx.Query("entity_id")
	if entityID == "" {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "entity_id is required"})
		return
	}
	var (
		n   int
		err error
	)
	if platform := ctx.Query("platform"); platform != "" {
		n, err = h.uc.CancelCartJobs(ctx.Request.Context(), domain.Platform(platform), entityID)
	} else {
		n, err = h.uc.CancelJobsFor(ctx.Request.Context(), entityID)
	}
	if err != nil {
		respondError(ctx, h.logger, "cancel jobs", err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"cancelled": n, "entity_id": entityID})
}
