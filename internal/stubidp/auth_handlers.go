package stubidp

import (
	"crypto/rand"
	"encoding/hex"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/myeganeh2876/MomentumPasskeyTest/core"
)

type loginResponse struct {
	Access  string           `json:"access"`
	Refresh string           `json:"refresh"`
	User    core.UserProfile `json:"user"`
	Device  string           `json:"device"`
}

// handleCSRF sets a fresh CSRF cookie
func (s *Server) handleCSRF(c *gin.Context) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create CSRF token"})
		return
	}
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(s.cfg.CSRFCookie, hex.EncodeToString(buf), 0, "/", "", false, false)
	c.Status(http.StatusNoContent)
}

// handlePhoneLogin issues the verification code for a phone number
func (s *Server) handlePhoneLogin(c *gin.Context) {
	var req struct {
		Phone   string `json:"phone" binding:"required"`
		Country string `json:"country"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	phone := strings.TrimSpace(req.Phone)
	s.state.mu.Lock()
	s.state.codes[phone] = pendingCode{Code: s.cfg.OTPCode, ExpiresAt: s.clock().Add(s.cfg.CodeTTL)}
	s.state.mu.Unlock()

	s.logger.Info("verification code issued", zap.String("phone", phone), zap.String("code", s.cfg.OTPCode))
	c.JSON(http.StatusOK, gin.H{"message": "Verification code sent"})
}

// handlePhoneVerify exchanges a verification code for a session
func (s *Server) handlePhoneVerify(c *gin.Context) {
	var req struct {
		Phone     string `json:"phone" binding:"required"`
		Code      string `json:"code" binding:"required"`
		Country   string `json:"country"`
		DeviceID  string `json:"device_id"`
		FCMToken  string `json:"fcm_token"`
		UserAgent string `json:"user_agent"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	phone := strings.TrimSpace(req.Phone)
	now := s.clock()

	s.state.mu.Lock()
	pending, ok := s.state.codes[phone]
	if !ok || now.After(pending.ExpiresAt) || pending.Code != strings.TrimSpace(req.Code) {
		s.state.mu.Unlock()
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid or expired verification code"})
		return
	}
	delete(s.state.codes, phone)

	u := s.state.userByPhone(phone, req.Country, true)
	d := s.state.login(u.ID, req.DeviceID, req.UserAgent, req.FCMToken, now)
	userID, profile := u.ID, u.profile()
	s.state.mu.Unlock()

	s.respondLogin(c, userID, profile, d.ID)
}

// handleRefresh rotates a refresh token
func (s *Server) handleRefresh(c *gin.Context) {
	var req struct {
		Refresh string `json:"refresh" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	pair, claims, err := s.tokens.rotate(c.Request.Context(), req.Refresh)
	if err != nil {
		s.logger.Debug("refresh rejected", zap.Error(err))
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Token is invalid or expired"})
		return
	}
	if !s.deviceActive(claims.UserID, claims.DeviceID) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Device is logged out"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"access": pair.Access, "refresh": pair.Refresh})
}

func (s *Server) respondLogin(c *gin.Context, userID string, profile core.UserProfile, deviceID string) {
	pair, err := s.tokens.issue(userID, deviceID)
	if err != nil {
		s.logger.Error("failed to issue tokens", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to issue tokens"})
		return
	}
	c.JSON(http.StatusOK, loginResponse{
		Access:  pair.Access,
		Refresh: pair.Refresh,
		User:    profile,
		Device:  deviceID,
	})
}
