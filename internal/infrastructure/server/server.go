package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	api "github.com/GriffinCanCode/AuthStream/backend/internal/api/http"
	"github.com/GriffinCanCode/AuthStream/backend/internal/api/middleware"
	"github.com/GriffinCanCode/AuthStream/backend/internal/browser"
	"github.com/GriffinCanCode/AuthStream/backend/internal/domain/session"
	"github.com/GriffinCanCode/AuthStream/backend/internal/domain/token"
	"github.com/GriffinCanCode/AuthStream/backend/internal/infrastructure/config"
	"github.com/GriffinCanCode/AuthStream/backend/internal/infrastructure/logging"
	"github.com/GriffinCanCode/AuthStream/backend/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/AuthStream/backend/internal/infrastructure/notify"
	"github.com/GriffinCanCode/AuthStream/backend/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/AuthStream/backend/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/AuthStream/backend/internal/ws"
)

// Server wraps the HTTP server and dependencies
type Server struct {
	router   *gin.Engine
	http     *http.Server
	sessions *session.Registry
	tokens   *token.Store
	notifier *notify.Notifier
	tracer   *tracing.Tracer
	logger   *zap.Logger
	config   *config.Config
	metrics  *monitoring.Metrics
}

// NewServer creates a server that drives Chromium through go-rod
func NewServer(cfg *config.Config) (*Server, error) {
	var logger *zap.Logger
	if cfg.Logging.Development {
		logger = logging.NewDevelopment()
	} else {
		l, err := logging.New(logging.Config{Level: cfg.Logging.Level})
		if err != nil {
			return nil, err
		}
		logger = l
	}

	factory := browser.RodFactory(browser.RodConfig{
		Headless:    cfg.Browser.Headless,
		Bin:         cfg.Browser.Bin,
		CallTimeout: cfg.Browser.CallTimeout,
		FormTimeout: cfg.Browser.FormTimeout,
	}, logger)
	return NewServerWithDriver(cfg, factory, logger)
}

// NewServerWithDriver creates a server whose sessions use drivers from factory
func NewServerWithDriver(cfg *config.Config, factory browser.Factory, logger *zap.Logger) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	logger.Info("Initializing AuthStream server",
		zap.String("addr", cfg.Addr()),
		zap.Bool("headless", cfg.Browser.Headless),
		zap.Int("viewport_width", cfg.Browser.ViewportWidth),
		zap.Int("viewport_height", cfg.Browser.ViewportHeight),
	)

	metrics := monitoring.NewMetrics()
	tracer := tracing.New("authstream", logger)
	tokens := token.NewStore(cfg.Tokens.StoreTTL)

	var notifier *notify.Notifier
	if cfg.Tokens.WebhookURL != "" {
		notifier = notify.New(notify.DefaultConfig(cfg.Tokens.WebhookURL), logger).
			WithMetrics(metrics).
			WithTracer(tracer)
		logger.Info("Token webhook enabled")
	}

	launchGuard := resilience.New("browser-launch", resilience.Settings{
		Timeout: 30 * time.Second,
		OnStateChange: func(name string, from, to resilience.State) {
			logger.Warn("Circuit breaker state changed",
				zap.String("breaker", name),
				zap.Stringer("from", from),
				zap.Stringer("to", to))
		},
	})

	registry := session.NewRegistry(session.RegistryOptions{
		Session: session.Config{
			AuthURL: cfg.AuthorizeURL(),
			Viewport: browser.Viewport{
				Width:  cfg.Browser.ViewportWidth,
				Height: cfg.Browser.ViewportHeight,
			},
			TokenTimeout: cfg.Browser.TokenTimeout,
			PollInterval: cfg.Session.PollInterval,
			QuitTimeout:  cfg.Browser.QuitTimeout,
		},
		TTL:           cfg.Session.TTL,
		SweepInterval: cfg.Session.SweepInterval,
		LoginTimeout:  cfg.Browser.LoginTimeout,
		NewDriver:     factory,
		OnToken:       tokenHandoff(tokens, notifier, logger),
		LaunchGuard:   launchGuard,
		Logger:        logger,
		Metrics:       metrics,
	})

	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(tracing.HTTPMiddleware(tracer))
	router.Use(monitoring.Middleware(metrics))
	corsCfg := middleware.DefaultCORSConfig()
	corsCfg.AllowOrigins = cfg.Server.CORSOrigins
	router.Use(middleware.CORS(corsCfg))
	if cfg.RateLimit.Enabled {
		logger.Info("Rate limiting enabled",
			zap.Int("rps", cfg.RateLimit.RequestsPerSecond),
			zap.Int("burst", cfg.RateLimit.Burst),
		)
		rateCfg := middleware.DefaultRateLimitConfig()
		rateCfg.RequestsPerSecond = cfg.RateLimit.RequestsPerSecond
		rateCfg.Burst = cfg.RateLimit.Burst
		router.Use(middleware.RateLimit(rateCfg))
	}

	handlers := api.NewHandlers(registry, tokens, metrics, logger)
	handlers.Register(router)

	wsHandler := ws.NewHandler(registry, ws.Config{
		FrameInterval: cfg.Stream.FrameInterval,
		RetryInterval: cfg.Stream.RetryInterval,
		WriteTimeout:  cfg.Stream.WriteTimeout,
	}, logger).WithMetrics(metrics)
	router.GET("/ws/auth/sessions/:id", wsHandler.HandleConnection)

	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	registry.StartSweeper()
	logger.Info("Server initialized successfully")

	return &Server{
		router: router,
		http: &http.Server{
			Addr:              cfg.Addr(),
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		},
		sessions: registry,
		tokens:   tokens,
		notifier: notifier,
		tracer:   tracer,
		logger:   logger,
		config:   cfg,
		metrics:  metrics,
	}, nil
}

// tokenHandoff stores captured tokens and announces them to the webhook
func tokenHandoff(tokens *token.Store, notifier *notify.Notifier, logger *zap.Logger) session.TokenCallback {
	return func(s *session.Session, tok token.Token) {
		rec := tokens.Set(s.UserID(), tok)
		logger.Info("Token stored",
			zap.String("session_id", s.ID()),
			zap.Int64("user_id", s.UserID()),
			zap.Time("expires_at", rec.ExpiresAt))

		if notifier != nil {
			notifier.Notify(notify.Payload{
				UserID:      s.UserID(),
				SessionID:   s.ID(),
				AccessToken: tok.AccessToken,
				ExpiresIn:   tok.ExpiresIn,
			})
		}
	}
}

// Handler exposes the router for tests and embedding
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run starts the HTTP server and blocks until it stops
func (s *Server) Run() error {
	s.logger.Info("Starting HTTP server", zap.String("addr", s.http.Addr))

	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests, closes every browser session and
// flushes background work
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.http.Shutdown(ctx)

	// Hijacked stream connections end when their sessions close
	s.sessions.Shutdown()
	if s.notifier != nil {
		s.notifier.Close()
	}
	s.tracer.Close()

	s.logger.Info("Server stopped")
	_ = s.logger.Sync()
	return err
}
