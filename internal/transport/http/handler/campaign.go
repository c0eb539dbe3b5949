package handler

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/ErlanBelekov/cart-recovery/internal/campaign"
	"github.com/ErlanBelekov/cart-recovery/internal/domain"
	"github.com/ErlanBelekov/cart-recovery/internal/usecase"
	"github.com/gin-gonic/gin"
)

type CampaignHandler struct {
	ctrl   *campaign.Controller
	uc     *usecase.RecoveryUsecase
	logger *slog.Logger
}

func NewCampaignHandler(ctrl *campaign.Controller, uc *usecase.RecoveryUsecase, logger *slog.Logger) *CampaignHandler {
	return &CampaignHandler{ctrl: ctrl, uc: uc, logger: logger.With("component", "campaign_handler")}
}

type audienceRequest struct {
	Type           domain.AudienceType `json:"type"            binding:"required,oneof=abandoned_carts all_carts cart_value"`
	Platform       domain.Platform     `json:"platform"        binding:"omitempty,oneof=woocommerce shopify"`
	MinCartValue   *float64            `json:"min_cart_value"  binding:"omitempty,min=0"`
	MaxCartValue   *float64            `json:"max_cart_value"  binding:"omitempty,min=0"`
	CustomerEmails []string            `json:"customer_emails" binding:"max=10000"`
}

func (a audienceRequest) toDomain() domain.Audience {
	return domain.Audience{
		Type:           a.Type,
		Platform:       a.Platform,
		MinCartValue:   a.MinCartValue,
		MaxCartValue:   a.MaxCartValue,
		CustomerEmails: a.CustomerEmails,
	}
}

type scheduleRequest struct {
	StartDate string           `json:"start_date"  binding:"required"`
	TimeOfDay string           `json:"time_of_day" binding:"omitempty,len=5"`
	Frequency domain.Frequency `json:"frequency"   binding:"required,oneof=once daily weekly monthly"`
	EndDate   string           `json:"end_date"`
	Timezone  string           `json:"timezone"    binding:"omitempty,timezone"`
}

// parseDate accepts a calendar date or a full RFC 3339 timestamp.
func parseDate(s string) (time.Time, error) {
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: date %q", domain.ErrInvalidSchedule, s)
	}
	return t, nil
}

func (s scheduleRequest) toDomain() (domain.Schedule, error) {
	start, err := parseDate(s.StartDate)
	if err != nil {
		return domain.Schedule{}, err
	}
	out := domain.Schedule{
		StartDate: start,
		TimeOfDay: s.TimeOfDay,
		Frequency: s.Frequency,
		Timezone:  s.Timezone,
	}
	if s.EndDate != "" {
		end, err := parseDate(s.EndDate)
		if err != nil {
			return domain.Schedule{}, err
		}
		out.EndDate = &end
	}
	return out, nil
}

type contentRequest struct {
	Subject string `json:"subject" binding:"required,max=256"`
	Body    string `json:"body"    binding:"required,max=100000"`
}

type createCampaignRequest struct {
	Name           string                `json:"name"            binding:"required,max=256"`
	StoreURL       string                `json:"store_url"       binding:"required,url,max=2048"`
	TargetAudience audienceRequest       `json:"target_audience" binding:"required"`
	Schedule       *scheduleRequest      `json:"schedule"`
	Status         domain.CampaignStatus `json:"status"          binding:"omitempty,oneof=draft scheduled"`
	Content        contentRequest        `json:"content"         binding:"required"`
}

type updateCampaignRequest struct {
	Name           *string                `json:"name"            binding:"omitempty,max=256"`
	StoreURL       *string                `json:"store_url"       binding:"omitempty,url,max=2048"`
	TargetAudience *audienceRequest       `json:"target_audience"`
	Schedule       *scheduleRequest       `json:"schedule"`
	Status         *domain.CampaignStatus `json:"status"`
	Content        *contentRequest        `json:"content"`
}

type campaignResponse struct {
	ID             string                 `json:"id"`
	Name           string                 `json:"name"`
	StoreURL       string                 `json:"store_url"`
	Status         domain.CampaignStatus  `json:"status"`
	TargetAudience domain.Audience        `json:"target_audience"`
	Schedule       *domain.Schedule       `json:"schedule,omitempty"`
	Content        domain.CampaignContent `json:"content"`
	RecipientCount int                    `json:"recipient_count"`
	CurrentRunKey  string                 `json:"current_run_key,omitempty"`
	LastRunAt      *time.Time             `json:"last_run_at,omitempty"`
	NextRunAt      *time.Time             `json:"next_run_at,omitempty"`
	CreatedAt      time.Time              `json:"created_at"`
}

func toCampaignResponse(c *domain.Campaign) campaignResponse {
	return campaignResponse{
		ID:             c.ID,
		Name:           c.Name,
		StoreURL:       c.StoreURL,
		Status:         c.Status,
		TargetAudience: c.TargetAudience,
		Schedule:       c.Schedule,
		Content:        c.Content,
		RecipientCount: len(c.Recipients),
		CurrentRunKey:  c.CurrentRunKey,
		LastRunAt:      c.LastRunAt,
		NextRunAt:      c.NextRunAt,
		CreatedAt:      c.CreatedAt,
	}
}

func (h *CampaignHandler) Create(ctx *gin.Context) {
	var req createCampaignRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	in := &domain.Campaign{
		Name:           req.Name,
		StoreURL:       req.StoreURL,
		TargetAudience: req.TargetAudience.toDomain(),
		Status:         req.Status,
		Content:        domain.CampaignContent{Subject: req.Content.Subject, Body: req.Content.Body},
	}
	if req.Schedule != nil {
		sched, err := req.Schedule.toDomain()
		if err != nil {
			respondError(ctx, h.logger, "create campaign", err)
			return
		}
		in.Schedule = &sched
	}

	c, err := h.ctrl.Create(ctx.Request.Context(), in)
	if err != nil {
		respondError(ctx, h.logger, "create campaign", err)
		return
	}
	ctx.JSON(http.StatusCreated, toCampaignResponse(c))
}

func (h *CampaignHandler) Get(ctx *gin.Context) {
	c, err := h.ctrl.Get(ctx.Request.Context(), ctx.Param("id"))
	if err != nil {
		respondError(ctx, h.logger, "get campaign", err)
		return
	}
	ctx.JSON(http.StatusOK, toCampaignResponse(c))
}

func (h *CampaignHandler) Update(ctx *gin.Context) {
	var req updateCampaignRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	in := campaign.UpdateInput{
		Name:     req.Name,
		StoreURL: req.StoreURL,
		Status:   req.Status,
	}
	if req.TargetAudience != nil {
		a := req.TargetAudience.toDomain()
		in.TargetAudience = &a
	}
	if req.Content != nil {
		in.Content = &domain.CampaignContent{Subject: req.Content.Subject, Body: req.Content.Body}
	}
	if req.Schedule != nil {
		sched, err := req.Schedule.toDomain()
		if err != nil {
			respondError(ctx, h.logger, "update campaign", err)
			return
		}
		in.Schedule = &sched
	}

	c, err := h.ctrl.Update(ctx.Request.Context(), ctx.Param("id"), in)
	if err != nil {
		respondError(ctx, h.logger, "update campaign", err)
		return
	}
	ctx.JSON(http.StatusOK, toCampaignResponse(c))
}

func (h *CampaignHandler) Pause(ctx *gin.Context) {
	c, err := h.ctrl.Pause(ctx.Request.Context(), ctx.Param("id"))
	if err != nil {
		respondError(ctx, h.logger, "pause campaign", err)
		return
	}
	ctx.JSON(http.StatusOK, toCampaignResponse(c))
}

func (h *CampaignHandler) Resume(ctx *gin.Context) {
	c, n, err := h.ctrl.Resume(ctx.Request.Context(), ctx.Param("id"))
	if err != nil {
		respondError(ctx, h.logger, "resume campaign", err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"campaign": toCampaignResponse(c), "jobs_enqueued": n})
}

func (h *CampaignHandler) SendNow(ctx *gin.Context) {
	c, n, err := h.ctrl.SendNow(ctx.Request.Context(), ctx.Param("id"))
	if err != nil {
		respondError(ctx, h.logger, "send campaign now", err)
		return
	}
	ctx.JSON(http.StatusAccepted, gin.H{"campaign": toCampaignResponse(c), "jobs_enqueued": n})
}

func (h *CampaignHandler) Cancel(ctx *gin.Context) {
	c, err := h.ctrl.Cancel(ctx.Request.Context(), ctx.Param("id"))
	if err != nil {
		respondError(ctx, h.logger, "cancel campaign", err)
		return
	}
	ctx.JSON(http.StatusOK, toCampaignResponse(c))
}

type scheduleCampaignEmailRequest struct {
	Email      string          `json:"email"       binding:"required,email"`
	CartID     string          `json:"cart_id"`
	Platform   domain.Platform `json:"platform"    binding:"omitempty,oneof=woocommerce shopify"`
	DelayHours float64         `json:"delay_hours" binding:"min=0,max=720"`
}

// ScheduleEmail enqueues one campaign email for a single address.
func (h *CampaignHandler) ScheduleEmail(ctx *gin.Context) {
	var req scheduleCampaignEmailRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	jobID, err := h.uc.ScheduleCampaignEmail(ctx.Request.Context(), usecase.CampaignEmailInput{
		CampaignID: ctx.Param("id"),
		Email:      req.Email,
		CartID:     req.CartID,
		Platform:   req.Platform,
		DelayHours: req.DelayHours,
	})
	if err != nil {
		respondError(ctx, h.logger, "schedule campaign email", err)
		return
	}
	ctx.JSON(http.StatusCreated, gin.H{"job_id": jobID})
}
