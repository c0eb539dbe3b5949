package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/ErlanBelekov/cart-recovery/internal/campaign"
	"github.com/ErlanBelekov/cart-recovery/internal/domain"
	"github.com/ErlanBelekov/cart-recovery/internal/usecase"
	"github.com/gin-gonic/gin"
)

const (
	errInternalServer   = "Internal server error"
	errJobNotFound      = "Job not found"
	errCartNotFound     = "Cart not found"
	errCampaignNotFound = "Campaign not found"
)

// respondError maps domain sentinels to client errors and logs anything else as a 500.
func respondError(ctx *gin.Context, logger *slog.Logger, op string, err error) {
	switch {
	case errors.Is(err, domain.ErrJobNotFound):
		ctx.JSON(http.StatusNotFound, gin.H{"error": errJobNotFound})
	case errors.Is(err, domain.ErrCartNotFound):
		ctx.JSON(http.StatusNotFound, gin.H{"error": errCartNotFound})
	case errors.Is(err, domain.ErrCampaignNotFound):
		ctx.JSON(http.StatusNotFound, gin.H{"error": errCampaignNotFound})
	case errors.Is(err, domain.ErrCampaignNotActive),
		errors.Is(err, domain.ErrCampaignNotPaused),
		errors.Is(err, domain.ErrCampaignConflict),
		errors.Is(err, domain.ErrStageConflict):
		ctx.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, domain.ErrInvalidSchedule),
		errors.Is(err, domain.ErrInvalidAudience),
		errors.Is(err, domain.ErrInvalidPayload),
		errors.Is(err, campaign.ErrUnsupportedStatus),
		errors.Is(err, usecase.ErrInvalidPlatform),
		errors.Is(err, usecase.ErrInvalidDelay),
		errors.Is(err, usecase.ErrInvalidStage):
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		logger.ErrorContext(ctx.Request.Context(), op, "error", err)
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": errInternalServer})
	}
}
