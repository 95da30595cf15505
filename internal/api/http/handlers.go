package http

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/AuthStream/backend/internal/browser"
	"github.com/GriffinCanCode/AuthStream/backend/internal/domain/session"
	"github.com/GriffinCanCode/AuthStream/backend/internal/domain/token"
	"github.com/GriffinCanCode/AuthStream/backend/internal/infrastructure/monitoring"
)

// SessionService manages remote browser sessions
type SessionService interface {
	StartSession(ctx context.Context, userID int64) (*session.Session, error)
	Get(sessionID string) (*session.Session, bool)
	CloseSession(sessionID string) bool
	Stats() session.Stats
	// FetchToken signs in on a private browser and waits for the token
	FetchToken(ctx context.Context, userID int64, creds browser.Credentials) (token.Token, error)
}

// TokenStore keeps captured tokens per user
type TokenStore interface {
	Get(userID int64) (token.Record, bool)
	Set(userID int64, tok token.Token) token.Record
}

// Handlers contains all HTTP handlers
type Handlers struct {
	sessions SessionService
	tokens   TokenStore
	metrics  *monitoring.Metrics
	logger   *zap.Logger
	now      func() time.Time
}

// NewHandlers creates a new handler set
func NewHandlers(sessions SessionService, tokens TokenStore, metrics *monitoring.Metrics, logger *zap.Logger) *Handlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handlers{
		sessions: sessions,
		tokens:   tokens,
		metrics:  metrics,
		logger:   logger.Named("http"),
		now:      time.Now,
	}
}

// Register mounts the routes on r
func (h *Handlers) Register(r gin.IRouter) {
	r.GET("/health", h.Health)

	auth := r.Group("/auth")
	auth.POST("/sessions", h.CreateSession)
	auth.GET("/sessions/:id", h.GetSession)
	auth.POST("/sessions/:id/close", h.CloseSession)
	auth.POST("/tokens", h.FetchToken)
	auth.GET("/tokens/:user_id", h.GetToken)
}

// Health handles detailed health check
func (h *Handlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":   "healthy",
		"service":  "authstream",
		"sessions": h.sessions.Stats(),
		"metrics":  h.metrics.Snapshot(),
	})
}

type createSessionRequest struct {
	UserID int64 `json:"user_id" binding:"required,gt=0"`
}

type createSessionResponse struct {
	SessionID      string `json:"session_id"`
	ViewportWidth  int    `json:"viewport_width"`
	ViewportHeight int    `json:"viewport_height"`
}

// CreateSession launches a browser for the user, replacing any session they
// already have
func (h *Handlers) CreateSession(c *gin.Context) {
	var req createSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}

	sess, err := h.sessions.StartSession(c.Request.Context(), req.UserID)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, session.ErrLaunch) {
			status = http.StatusBadGateway
		}
		h.logger.Warn("Failed to start session",
			zap.Int64("user_id", req.UserID),
			zap.Error(err))
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	vp := sess.Viewport()
	c.JSON(http.StatusOK, createSessionResponse{
		SessionID:      sess.ID(),
		ViewportWidth:  vp.Width,
		ViewportHeight: vp.Height,
	})
}

// GetSession returns a session snapshot
func (h *Handlers) GetSession(c *gin.Context) {
	sess, ok := h.sessions.Get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": session.ErrSessionNotFound.Error()})
		return
	}
	c.JSON(http.StatusOK, sess.Snapshot())
}

// CloseSession terminates a session's browser
func (h *Handlers) CloseSession(c *gin.Context) {
	sessionID := c.Param("id")
	if !h.sessions.CloseSession(sessionID) {
		c.JSON(http.StatusNotFound, gin.H{"error": session.ErrSessionNotFound.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":     "closed",
		"session_id": sessionID,
	})
}

// GetToken returns the user's stored token with its remaining lifetime
func (h *Handlers) GetToken(c *gin.Context) {
	userID, err := strconv.ParseInt(c.Param("user_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user_id"})
		return
	}

	rec, ok := h.tokens.Get(userID)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "token not found"})
		return
	}
	c.JSON(http.StatusOK, token.Token{
		AccessToken: rec.Token.AccessToken,
		ExpiresIn:   rec.Remaining(h.now()),
	})
}

type fetchTokenRequest struct {
	UserID   int64  `json:"user_id" binding:"required,gt=0"`
	Username string `json:"username" binding:"required,min=3,max=255"`
	Password string `json:"password" binding:"required,min=3,max=255"`
	OTP      string `json:"otp" binding:"omitempty,max=64"`
}

// FetchToken signs in with the given credentials, stores the captured token
// and returns it. The interactive session of the user is left alone.
func (h *Handlers) FetchToken(c *gin.Context) {
	var req fetchTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}

	tok, err := h.sessions.FetchToken(c.Request.Context(), req.UserID, browser.Credentials{
		Username: req.Username,
		Password: req.Password,
		OTP:      req.OTP,
	})
	if err != nil {
		status := fetchStatus(err)
		h.logger.Warn("Failed to fetch token",
			zap.Int64("user_id", req.UserID),
			zap.Int("status", status),
			zap.Error(err))
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	rec := h.tokens.Set(req.UserID, tok)
	h.logger.Info("Token stored",
		zap.Int64("user_id", req.UserID),
		zap.Time("expires_at", rec.ExpiresAt))
	c.JSON(http.StatusOK, tok)
}

func fetchStatus(err error) int {
	switch {
	case errors.Is(err, session.ErrInvalidCredentials):
		return http.StatusUnauthorized
	case errors.Is(err, session.ErrTokenTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, session.ErrLaunch):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
