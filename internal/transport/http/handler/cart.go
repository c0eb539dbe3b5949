package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/ErlanBelekov/cart-recovery/internal/domain"
	"github.com/ErlanBelekov/cart-recovery/internal/usecase"
	"github.com/gin-gonic/gin"
)

type CartHandler struct {
	uc     *usecase.RecoveryUsecase
	logger *slog.Logger
}

func NewCartHandler(uc *usecase.RecoveryUsecase, logger *slog.Logger) *CartHandler {
	return &CartHandler{uc: uc, logger: logger.With("component", "cart_handler")}
}

type upsertCartRequest struct {
	StoreURL      string            `json:"store_url"      binding:"omitempty,url,max=2048"`
	CustomerEmail string            `json:"customer_email" binding:"omitempty,email"`
	CustomerName  string            `json:"customer_name"  binding:"max=256"`
	Items         []domain.CartItem `json:"items"`
	Total         float64           `json:"total"          binding:"min=0"`
	Currency      string            `json:"currency"       binding:"omitempty,len=3"`
	CheckoutURL   string            `json:"checkout_url"   binding:"omitempty,url"`
	Status        domain.CartStatus `json:"status"         binding:"omitempty,oneof=active abandoned converted recovered"`
	LastActivity  time.Time         `json:"last_activity"`
}

type cartResponse struct {
	ID                string            `json:"id"`
	Platform          domain.Platform   `json:"platform"`
	CartID            string            `json:"cart_id"`
	CustomerEmail     string            `json:"customer_email"`
	Total             float64           `json:"total"`
	Currency          string            `json:"currency"`
	Status            domain.CartStatus `json:"status"`
	EmailStatus       domain.EmailStage `json:"email_status"`
	ReminderAttempts  int               `json:"reminder_attempts"`
	DiscountOfferSent bool              `json:"discount_offer_sent"`
	LastActivity      time.Time         `json:"last_activity"`
}

// Upsert handles PUT /carts/:platform/:id, the capture hook a store plugin calls on every
// cart change.
func (h *CartHandler) Upsert(ctx *gin.Context) {
	var req upsertCartRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	cart, err := h.uc.UpsertCart(ctx.Request.Context(), &domain.AbandonedCart{
		Platform:      domain.Platform(ctx.Param("platform")),
		CartID:        ctx.Param("id"),
		StoreURL:      req.StoreURL,
		CustomerEmail: req.CustomerEmail,
		CustomerName:  req.CustomerName,
		Items:         req.Items,
		Total:         req.Total,
		Currency:      req.Currency,
		CheckoutURL:   req.CheckoutURL,
		Status:        req.Status,
		LastActivity:  req.LastActivity,
	})
	if err != nil {
		respondError(ctx, h.logger, "upsert cart", err)
		return
	}

	ctx.JSON(http.StatusOK, cartResponse{
		ID:                cart.ID,
		Platform:          cart.Platform,
		CartID:            cart.CartID,
		CustomerEmail:     cart.CustomerEmail,
		Total:             cart.Total,
		Currency:          cart.Currency,
		Status:            cart.Status,
		EmailStatus:       cart.EmailStatus,
		ReminderAttempts:  cart.ReminderAttempts,
		DiscountOfferSent: cart.DiscountOfferSent,
		LastActivity:      cart.LastActivity,
	})
}

type scheduleReminderRequest struct {
	StoreURL   string             `json:"store_url"   binding:"omitempty,url"`
	DelayHours float64            `json:"delay_hours" binding:"min=0,max=720"`
	Stage      domain.FunnelStage `json:"stage"       binding:"required,oneof=first second final manual"`
}

func (h *CartHandler) ScheduleReminder(ctx *gin.Context) {
	var req scheduleReminderRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	jobID, err := h.uc.ScheduleReminder(ctx.Request.Context(), usecase.ReminderInput{
		CartID:     ctx.Param("id"),
		Platform:   domain.Platform(ctx.Param("platform")),
		StoreURL:   req.StoreURL,
		DelayHours: req.DelayHours,
		Stage:      req.Stage,
	})
	if err != nil {
		respondError(ctx, h.logger, "schedule reminder", err)
		return
	}
	ctx.JSON(http.StatusCreated, gin.H{"job_id": jobID})
}

type scheduleDiscountRequest struct {
	StoreURL   string              `json:"store_url"   binding:"omitempty,url"`
	DelayHours float64             `json:"delay_hours" binding:"min=0,max=720"`
	Code       string              `json:"code"        binding:"max=64"`
	Amount     float64             `json:"amount"      binding:"min=0"`
	Type       domain.DiscountType `json:"type"        binding:"omitempty,oneof=percentage fixed_cart"`
}

func (h *CartHandler) ScheduleDiscountOffer(ctx *gin.Context) {
	var req scheduleDiscountRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	jobID, code, err := h.uc.ScheduleDiscountOffer(ctx.Request.Context(), usecase.DiscountInput{
		CartID:     ctx.Param("id"),
		Platform:   domain.Platform(ctx.Param("platform")),
		StoreURL:   req.StoreURL,
		DelayHours: req.DelayHours,
		Code:       req.Code,
		Amount:     req.Amount,
		Type:       req.Type,
	})
	if err != nil {
		respondError(ctx, h.logger, "schedule discount offer", err)
		return
	}
	ctx.JSON(http.StatusCreated, gin.H{"job_id": jobID, "code": code})
}
