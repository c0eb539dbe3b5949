package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

const (
	errUnauthorized = "Unauthorized"

	// OperatorKey is the gin context key holding the token subject.
	OperatorKey = "operator"
)

// Auth validates a Bearer JWT and stores its subject under OperatorKey.
//
// With a JWKS URL the token is verified against the key set, which is cached and
// refreshed every 15 minutes. Otherwise hmacKey verifies HS256 tokens such as the ones
// minted by cmd/seed.
func Auth(ctx context.Context, jwksURL string, hmacKey []byte) (gin.HandlerFunc, error) {
	var cache *jwk.Cache
	if jwksURL != "" {
		cache = jwk.NewCache(ctx)
		if err := cache.Register(jwksURL, jwk.WithMinRefreshInterval(15*time.Minute)); err != nil {
			return nil, fmt.Errorf("register jwks: %w", err)
		}
	}

	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errUnauthorized})
			return
		}
		raw := []byte(strings.TrimPrefix(header, "Bearer "))

		var (
			tok jwt.Token
			err error
		)
		if cache != nil {
			keySet, fetchErr := cache.Get(c.Request.Context(), jwksURL)
			if fetchErr != nil {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errUnauthorized})
				return
			}
			tok, err = jwt.Parse(raw, jwt.WithKeySet(keySet), jwt.WithValidate(true))
		} else {
			tok, err = jwt.Parse(raw, jwt.WithKey(jwa.HS256, hmacKey), jwt.WithValidate(true))
		}
		if err != nil || tok == nil || tok.Subject() == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errUnauthorized})
			return
		}

		c.Set(OperatorKey, tok.Subject())
		c.Next()
	}, nil
}
