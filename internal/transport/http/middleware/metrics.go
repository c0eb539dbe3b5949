package middleware

import (
	"strconv"
	"time"

	"github.com/ErlanBelekov/cart-recovery/internal/metrics"
	"github.com/gin-gonic/gin"
)

// Metrics records latency and count per route template, so every campaign id lands in
// /campaigns/:id. Paths that match no route share one "unmatched" series, and the
// listed skip paths (liveness pings) are not recorded.
func Metrics(skip ...string) gin.HandlerFunc {
	ignored := make(map[string]struct{}, len(skip))
	for _, p := range skip {
		ignored[p] = struct{}{}
	}

	return func(c *gin.Context) {
		if _, ok := ignored[c.Request.URL.Path]; ok {
			c.Next()
			return
		}

		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		labels := []string{c.Request.Method, route, strconv.Itoa(c.Writer.Status())}
		metrics.HTTPRequestDuration.WithLabelValues(labels...).Observe(time.Since(start).Seconds())
		metrics.HTTPRequestsTotal.WithLabelValues(labels...).Inc()
	}
}
