package middleware

import "github.com/gin-gonic/gin"

// apiHeaders suit an API that only ever answers with JSON: nothing may be framed,
// sniffed, cached or loaded from a response.
var apiHeaders = [][2]string{
	{"X-Content-Type-Options", "nosniff"},
	{"X-Frame-Options", "DENY"},
	{"Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'"},
	{"Referrer-Policy", "no-referrer"},
	{"Cache-Control", "no-store"},
	{"Strict-Transport-Security", "max-age=63072000; includeSubDomains"},
}

func Security() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		for _, kv := range apiHeaders {
			h.Set(kv[0], kv[1])
		}
		c.Next()
	}
}
