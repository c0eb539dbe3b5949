package httptransport

import (
	"log/slog"
	"net/http"

	"github.com/ErlanBelekov/cart-recovery/internal/transport/http/handler"
	"github.com/ErlanBelekov/cart-recovery/internal/transport/http/middleware"
	"github.com/gin-gonic/gin"

	sloggin "github.com/samber/slog-gin"
)

type Handlers struct {
	Queue     *handler.QueueHandler
	Campaigns *handler.CampaignHandler
	Carts     *handler.CartHandler
}

// NewRouter wires the ops API. Every route except /ping requires a bearer token.
func NewRouter(logger *slog.Logger, h Handlers, auth gin.HandlerFunc) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.Security())
	r.Use(sloggin.NewWithConfig(logger, sloggin.Config{
		WithRequestID: false,
		Filters:       []sloggin.Filter{sloggin.IgnorePath("/ping")},
	}))
	r.Use(middleware.Metrics("/ping"))

	r.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })

	api := r.Group("", auth)

	api.GET("/queue/status", h.Queue.Status)

	jobs := api.Group("/jobs")
	jobs.GET("", h.Queue.ListJobs)
	jobs.DELETE("", h.Queue.CancelJobsFor)
	jobs.GET("/:id", h.Queue.GetJob)
	jobs.DELETE("/:id", h.Queue.CancelJob)

	campaigns := api.Group("/campaigns")
	campaigns.POST("", h.Campaigns.Create)
	campaigns.GET("/:id", h.Campaigns.Get)
	campaigns.PATCH("/:id", h.Campaigns.Update)
	campaigns.DELETE("/:id", h.Campaigns.Cancel)
	campaigns.POST("/:id/pause", h.Campaigns.Pause)
	campaigns.POST("/:id/resume", h.Campaigns.Resume)
	campaigns.POST("/:id/send-now", h.Campaigns.SendNow)
	campaigns.POST("/:id/emails", h.Campaigns.ScheduleEmail)

	carts := api.Group("/carts/:platform/:id")
	carts.PUT("", h.Carts.Upsert)
	carts.POST("/reminders", h.Carts.ScheduleReminder)
	carts.POST("/discount-offers", h.Carts.ScheduleDiscountOffer)

	return r
}
