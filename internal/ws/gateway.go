package ws

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/GriffinCanCode/AuthStream/backend/internal/domain/session"
	"github.com/GriffinCanCode/AuthStream/backend/internal/infrastructure/monitoring"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 64 * 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Mini app is served from another origin
	},
}

// errDutyDone ends the fan-out when a duty finishes normally
var errDutyDone = errors.New("duty done")

// Sessions resolves session ids
type Sessions interface {
	Get(sessionID string) (*session.Session, bool)
}

// Config tunes the stream
type Config struct {
	FrameInterval  time.Duration
	RetryInterval  time.Duration
	WriteTimeout   time.Duration
	MaxMessageSize int64
}

// DefaultConfig paces frames at about 2.5 per second
func DefaultConfig() Config {
	return Config{
		FrameInterval:  400 * time.Millisecond,
		RetryInterval:  500 * time.Millisecond,
		WriteTimeout:   5 * time.Second,
		MaxMessageSize: 64 * 1024,
	}
}

// Handler streams one session per WebSocket connection
type Handler struct {
	sessions Sessions
	cfg      Config
	logger   *zap.Logger
	metrics  *monitoring.Metrics
}

// NewHandler creates a new WebSocket handler
func NewHandler(sessions Sessions, cfg Config, logger *zap.Logger) *Handler {
	def := DefaultConfig()
	if cfg.FrameInterval <= 0 {
		cfg.FrameInterval = def.FrameInterval
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = def.RetryInterval
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = def.MaxMessageSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		sessions: sessions,
		cfg:      cfg,
		logger:   logger.Named("ws"),
	}
}

// WithMetrics adds metrics tracking to the handler
func (h *Handler) WithMetrics(metrics *monitoring.Metrics) *Handler {
	h.metrics = metrics
	return h
}

// HandleConnection upgrades the request and serves the session named by
// the :id route parameter
func (h *Handler) HandleConnection(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}
	h.Serve(c.Request.Context(), conn, c.Param("id"))
}

// Serve runs the protocol on an upgraded connection and closes it on return
func (h *Handler) Serve(ctx context.Context, conn *websocket.Conn, sessionID string) {
	defer conn.Close()

	h.metrics.IncWSConnections()
	defer h.metrics.DecWSConnections()

	logger := h.logger.With(
		zap.String("conn_id", uuid.NewString()),
		zap.String("session_id", sessionID))
	w := &writer{conn: conn, timeout: h.cfg.WriteTimeout, metrics: h.metrics}

	sess, ok := h.sessions.Get(sessionID)
	if !ok {
		logger.Info("Stream requested for unknown session")
		_ = w.send(TypeError, errorMessage{Type: TypeError, Message: session.ErrSessionNotFound.Error()})
		_ = w.close(websocket.ClosePolicyViolation, "session not found")
		return
	}

	sess.Touch()
	vp := sess.Viewport()
	if err := w.send(TypeInit, initMessage{
		Type:      TypeInit,
		SessionID: sess.ID(),
		Width:     vp.Width,
		Height:    vp.Height,
	}); err != nil {
		logger.Debug("Failed to send init", zap.Error(err))
		return
	}
	logger.Info("Stream connected")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return h.streamFrames(gctx, sess, w) })
	g.Go(func() error { return h.forwardToken(gctx, sess, w) })
	g.Go(func() error { return h.readLoop(gctx, sess, conn, w, logger) })

	// Duty errors only decide when to stop
	err := g.Wait()
	logger.Info("Stream closed", zap.NamedError("cause", err))
	_ = w.close(websocket.CloseNormalClosure, "")
}

func (h *Handler) streamFrames(ctx context.Context, sess *session.Session, w *writer) error {
	for {
		wait := h.cfg.RetryInterval

		if frame, ok := sess.CaptureFrame(ctx); ok {
			if err := w.send(TypeFrame, frameMessage{
				Type:  TypeFrame,
				Image: base64.StdEncoding.EncodeToString(frame),
				TS:    timestamp(),
			}); err != nil {
				return err
			}
			h.metrics.IncFramesSent()
			sess.Touch()
			wait = h.cfg.FrameInterval
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// forwardToken finishes once a token is sent or the session closes
func (h *Handler) forwardToken(ctx context.Context, sess *session.Session, w *writer) error {
	tok, ok := sess.WaitForToken(ctx)
	if !ok {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return errDutyDone
	}
	if err := w.send(TypeToken, newTokenMessage(tok)); err != nil {
		return err
	}
	return errDutyDone
}

func (h *Handler) readLoop(ctx context.Context, sess *session.Session, conn *websocket.Conn, w *writer, logger *zap.Logger) error {
	conn.SetReadLimit(h.cfg.MaxMessageSize)

	// Unblock ReadMessage when a sibling duty ends the stream
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetReadDeadline(time.Now())
	})
	defer stop()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logger.Debug("Client disconnected", zap.Error(err))
			return errDutyDone
		}

		// Only input messages are held to the input field types
		var head struct {
			Type string `json:"type"`
		}
		if err := sonic.Unmarshal(data, &head); err != nil {
			logger.Debug("Ignoring malformed message", zap.Error(err))
			continue
		}
		h.metrics.RecordWSMessage("in", head.Type)

		switch head.Type {
		case TypeMouse, TypeKeyboard, TypeScroll:
			sess.Touch()
			var ev session.InputEvent
			if err := sonic.Unmarshal(data, &ev); err != nil {
				logger.Debug("Ignoring malformed input event", zap.String("type", head.Type), zap.Error(err))
				continue
			}
			sess.DispatchEvent(ctx, ev)
		case TypePing:
			sess.Touch()
			if err := w.send(TypePong, pongMessage{Type: TypePong, TS: timestamp()}); err != nil {
				return err
			}
		default:
			logger.Debug("Ignoring message", zap.String("type", head.Type))
		}
	}
}

// writer serializes writes; gorilla/websocket allows one writer at a time
type writer struct {
	mu      sync.Mutex
	conn    *websocket.Conn
	timeout time.Duration
	metrics *monitoring.Metrics
}

func (w *writer) send(msgType string, v any) error {
	data, err := sonic.Marshal(v)
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.conn.SetWriteDeadline(time.Now().Add(w.timeout)); err != nil {
		return err
	}
	if err := w.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return err
	}
	w.metrics.RecordWSMessage("out", msgType)
	return nil
}

func (w *writer) close(code int, text string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	msg := websocket.FormatCloseMessage(code, text)
	return w.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(w.timeout))
}
