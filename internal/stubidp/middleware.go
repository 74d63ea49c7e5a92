package stubidp

import (
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Context keys set by authMiddleware
const (
	ctxUserID   = "user_id"
	ctxDeviceID = "device_id"
)

// csrfMiddleware rejects unsafe requests whose header does not echo the CSRF cookie
func (s *Server) csrfMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		switch c.Request.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodTrace:
			c.Next()
			return
		}

		cookie, err := c.Cookie(s.cfg.CSRFCookie)
		header := c.GetHeader(s.cfg.CSRFHeader)
		if err != nil || cookie == "" || subtle.ConstantTimeCompare([]byte(cookie), []byte(header)) != 1 {
			s.logger.Debug("csrf check failed", zap.String("path", c.Request.URL.Path))
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "CSRF verification failed"})
			return
		}

		c.Next()
	}
}

// authMiddleware validates bearer access tokens and the device they were issued to
func (s *Server) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		auth := c.GetHeader("Authorization")

		// Check if the Authorization header is present and in correct format
		if !strings.HasPrefix(auth, "Bearer ") || len(auth) < 8 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid authorization header"})
			return
		}

		claims, err := s.tokens.validateAccess(auth[7:])
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Token is invalid or expired"})
			return
		}

		if !s.deviceActive(claims.UserID, claims.DeviceID) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Device is logged out"})
			return
		}

		c.Set(ctxUserID, claims.UserID)
		c.Set(ctxDeviceID, claims.DeviceID)

		c.Next()
	}
}

// requestLogger logs one line per request
func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		)
	}
}

func (s *Server) deviceActive(userID, deviceID string) bool {
	s.state.mu.Lock()
	defer s.state.mu.Unlock()

	d, ok := s.state.devices[deviceID]
	return ok && d.Active && d.UserID == userID
}
