package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"

	"github.com/kwld/twitch-service/internal/metrics"
	"github.com/kwld/twitch-service/internal/models"
)

// securityHeaders sets a fixed set of response headers on every request.
// Grounded verbatim on the teacher's securityHeaders() Echo middleware
// (pkg/api/middleware.go), translated to gin's Context API.
func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("X-Frame-Options", "DENY")
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		h.Set("Permissions-Policy", "camera=(), microphone=(), geolocation=()")
		c.Next()
	}
}

// metricsMiddleware records HTTPRequestsTotal/HTTPRequestDuration per route.
func metricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		timer := metrics.NewTimer()
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		metrics.HTTPRequestDuration.WithLabelValues(route).Observe(timer.Duration().Seconds())
		metrics.HTTPRequestsTotal.WithLabelValues(route, http.StatusText(c.Writer.Status())).Inc()
	}
}

const adminKeyHeader = "X-Admin-Key"

// requireAdminKey enforces the admin surface's shared-secret header.
// Grounded on the teacher's extractAuthor header-reading pattern
// (pkg/api/auth.go), adapted from "read an identity hint for logging" to
// "reject the request outright" since the admin surface has no other
// authentication.
func (s *Server) requireAdminKey(c *gin.Context) {
	provided := c.GetHeader(adminKeyHeader)
	expected := ""
	if s.cfg != nil {
		expected = s.cfg.AdminAPIKey
	}
	if provided == "" || expected == "" || !constantTimeEqual(provided, expected) {
		s.respondError(c, newError(kindAuthentication, "missing or invalid "+adminKeyHeader))
		c.Abort()
		return
	}
	c.Next()
}

const consumerIDContextKey = "consumer"

// requireConsumerAuth resolves the X-Client-Id/X-Client-Secret header pair
// to an enabled Consumer row and stores it in the gin context for handlers.
func (s *Server) requireConsumerAuth(c *gin.Context) {
	clientID := c.GetHeader("X-Client-Id")
	clientSecret := c.GetHeader("X-Client-Secret")
	if clientID == "" || clientSecret == "" {
		s.respondError(c, newError(kindAuthentication, "missing X-Client-Id/X-Client-Secret"))
		c.Abort()
		return
	}
	consumer, err := s.store.Consumers.GetByCredentialID(c.Request.Context(), clientID)
	if err != nil {
		s.respondError(c, newError(kindAuthentication, "unknown client credentials"))
		c.Abort()
		return
	}
	if bcrypt.CompareHashAndPassword([]byte(consumer.HashedSecret), []byte(clientSecret)) != nil {
		s.respondError(c, newError(kindAuthentication, "unknown client credentials"))
		c.Abort()
		return
	}
	if !consumer.Enabled {
		s.respondError(c, newError(kindAuthentication, "consumer is disabled"))
		c.Abort()
		return
	}
	c.Set(consumerIDContextKey, consumer)
	c.Next()
}

func currentConsumer(c *gin.Context) (models.Consumer, bool) {
	v, ok := c.Get(consumerIDContextKey)
	if !ok {
		return models.Consumer{}, false
	}
	consumer, ok := v.(models.Consumer)
	return consumer, ok
}

// constantTimeEqual compares two header values without leaking timing
// information proportional to the mismatched byte offset.
func constantTimeEqual(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	var diff byte
	for i := 0; i < len(a); i++ {
		diff |= a[i] ^ b[i]
	}
	return diff == 0
}

// directHost strips the port from a RemoteAddr, for netsec.ResolveClientIP's
// direct-connection fallback.
func directHost(remoteAddr string) string {
	if i := strings.LastIndex(remoteAddr, ":"); i >= 0 && !strings.Contains(remoteAddr, "]:") {
		return remoteAddr[:i]
	}
	host := strings.TrimPrefix(remoteAddr, "[")
	if i := strings.LastIndex(host, "]:"); i >= 0 {
		return host[:i]
	}
	return remoteAddr
}
