// Package stubidp is a development identity service speaking the wire
// contract of the passkey client: phone OTP, WebAuthn ceremonies, token
// refresh with rotation, passkey credentials and device sessions.
//
// State lives in memory; only revoked refresh tokens go through a
// ports.Store so they can be shared through Redis.
package stubidp

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-webauthn/webauthn/webauthn"
	"go.uber.org/zap"

	"github.com/myeganeh2876/MomentumPasskeyTest/adapters/tokenizer"
	"github.com/myeganeh2876/MomentumPasskeyTest/ports"
)

// Server is the development identity service
type Server struct {
	cfg      Config
	state    *state
	tokens   *tokenService
	webauthn *webauthn.WebAuthn
	logger   *zap.Logger
	clock    func() time.Time
	router   *gin.Engine
}

// New creates a server; revoked records invalidated refresh tokens
func New(cfg Config, revoked ports.Store, logger *zap.Logger) (*Server, error) {
	cfg = cfg.withDefaults()
	switch cfg.OptionsEncoding {
	case EncodingObject, EncodingString, EncodingWrapped:
	default:
		return nil, fmt.Errorf("unknown options encoding %q", cfg.OptionsEncoding)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	wa, err := webauthn.New(&webauthn.Config{
		RPDisplayName: cfg.RPDisplayName,
		RPID:          cfg.RPID,
		RPOrigins:     cfg.RPOrigins,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to configure webauthn: %w", err)
	}

	s := &Server{
		cfg:      cfg,
		state:    newState(),
		webauthn: wa,
		logger:   logger,
		clock:    time.Now,
		tokens: &tokenService{
			tokenizer:  tokenizer.NewHMACTokenizer([]byte(cfg.Secret)),
			revoked:    revoked,
			accessTTL:  cfg.AccessTTL,
			refreshTTL: cfg.RefreshTTL,
		},
	}
	s.router = s.setupRouter()
	return s, nil
}

// Handler returns the HTTP handler of the service
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves on the configured address
func (s *Server) ListenAndServe() error {
	s.logger.Info("identity stub listening", zap.String("addr", s.cfg.Addr), zap.String("rp_id", s.cfg.RPID))
	return http.ListenAndServe(s.cfg.Addr, s.router)
}

func (s *Server) setupRouter() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), s.requestLogger(), s.csrfMiddleware())

	router.GET("/auth/csrf/", s.handleCSRF)

	// Public auth routes
	auth := router.Group("/auth")
	{
		auth.POST("/phone/login/", s.handlePhoneLogin)
		auth.POST("/phone/verify/", s.handlePhoneVerify)
		auth.POST("/passkey/authenticate/options/", s.handleAuthenticationOptions)
		auth.POST("/passkey/authenticate/verify/", s.handleAuthenticationVerify)
		auth.POST("/refresh/", s.handleRefresh)
	}

	// Protected routes
	protected := router.Group("/")
	protected.Use(s.authMiddleware())
	{
		protected.POST("/auth/passkey/register/options/", s.handleRegistrationOptions)
		protected.POST("/auth/passkey/register/verify/", s.handleRegistrationVerify)
		protected.GET("/auth/passkey/register/trigger/", s.handleTrigger)
		protected.GET("/auth/passkey/credentials/", s.handleListCredentials)
		protected.DELETE("/auth/passkey/credentials/:id/", s.handleDeleteCredential)

		protected.GET("/devices/", s.handleListDevices)
		protected.POST("/devices/logout/all/", s.handleLogoutAll)
		protected.GET("/devices/:id/", s.handleGetDevice)
		protected.PATCH("/devices/:id/", s.handleUpdateDevice)
		protected.DELETE("/devices/:id/", s.handleLogoutDevice)
	}

	return router
}
