package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/AuthStream/backend/internal/browser"
	"github.com/GriffinCanCode/AuthStream/backend/internal/domain/token"
	"github.com/GriffinCanCode/AuthStream/backend/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/AuthStream/backend/internal/infrastructure/resilience"
)

// State is the lifecycle stage of a session
type State string

const (
	StateStarting State = "starting"
	StateActive   State = "active"
	StateClosed   State = "closed"
)

const (
	defaultPollInterval = time.Second
	defaultQuitTimeout  = 10 * time.Second
)

// Config describes the authorization flow a session drives
type Config struct {
	AuthURL  string
	Viewport browser.Viewport
	// TokenTimeout bounds the wait for a token; zero waits forever
	TokenTimeout time.Duration
	PollInterval time.Duration
	// QuitTimeout bounds Close's wait for the browser to quit, and again
	// for the worker to exit once the process has been killed
	QuitTimeout time.Duration
}

// TokenCallback receives a captured token. It runs on the session's poll
// goroutine and must not call Close on the same session.
type TokenCallback func(s *Session, tok token.Token)

// TimeoutCallback is told when the poll loop gives up. The session stays open.
type TimeoutCallback func(s *Session, err error)

// Options carries a session's collaborators. Zero values are usable.
type Options struct {
	Clock       Clock
	Logger      *zap.Logger
	Metrics     *monitoring.Metrics
	OnToken     TokenCallback
	OnTimeout   TimeoutCallback
	LaunchGuard *resilience.Breaker
}

// Session drives one browser through one authorization flow.
type Session struct {
	id        string
	userID    int64
	cfg       Config
	createdAt time.Time

	clock       Clock
	logger      *zap.Logger
	metrics     *monitoring.Metrics
	onToken     TokenCallback
	onTimeout   TimeoutCallback
	launchGuard *resilience.Breaker

	// drv and ready are only touched by worker jobs
	worker *browser.Worker
	drv    browser.Driver
	ready  bool

	mu           sync.Mutex
	state        State         // Protected by mu
	lastActivity time.Time     // Protected by mu
	tok          *token.Token  // Protected by mu
	pollCancel   func()        // Protected by mu
	pollDone     chan struct{} // Protected by mu

	closed    atomic.Bool
	closedCh  chan struct{}
	closeOnce sync.Once
	tokenCh   chan struct{}
	tokenOnce sync.Once
	startOnce sync.Once
	startErr  error
}

// New creates a session that owns drv. The driver is launched by Start.
func New(id string, userID int64, drv browser.Driver, cfg Config, opts Options) *Session {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.QuitTimeout <= 0 {
		cfg.QuitTimeout = defaultQuitTimeout
	}
	if opts.Clock == nil {
		opts.Clock = RealClock()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	now := opts.Clock.Now()
	return &Session{
		id:           id,
		userID:       userID,
		cfg:          cfg,
		createdAt:    now,
		lastActivity: now,
		state:        StateStarting,

		clock:       opts.Clock,
		logger:      opts.Logger.With(zap.String("session_id", id), zap.Int64("user_id", userID)),
		metrics:     opts.Metrics,
		onToken:     opts.OnToken,
		onTimeout:   opts.OnTimeout,
		launchGuard: opts.LaunchGuard,

		worker:   browser.NewWorker(),
		drv:      drv,
		closedCh: make(chan struct{}),
		tokenCh:  make(chan struct{}),
	}
}

func (s *Session) ID() string                 { return s.id }
func (s *Session) UserID() int64              { return s.userID }
func (s *Session) Viewport() browser.Viewport { return s.cfg.Viewport }
func (s *Session) CreatedAt() time.Time       { return s.createdAt }

// LastActivity returns the time of the latest Touch
func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Token returns the captured token, if any
func (s *Session) Token() (token.Token, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tok == nil {
		return token.Token{}, false
	}
	return *s.tok, true
}

// Closed is closed when the session shuts down
func (s *Session) Closed() <-chan struct{} {
	return s.closedCh
}

// Start launches the browser at the authorization URL and begins polling
// for a token. Later calls return the first call's result.
func (s *Session) Start(ctx context.Context) error {
	s.startOnce.Do(func() {
		s.startErr = s.start(ctx)
	})
	return s.startErr
}

func (s *Session) start(ctx context.Context) error {
	if s.closed.Load() {
		return ErrSessionClosed
	}

	err := s.worker.Do(ctx, func() error {
		if s.closed.Load() {
			return ErrSessionClosed
		}
		timer := monitoring.NewTimer(s.metrics, "launch")
		err := s.launch()
		timer.Stop(err)
		if err != nil {
			return err
		}
		s.ready = true
		return nil
	})
	if errors.Is(err, ErrSessionClosed) {
		return err
	}
	if err != nil {
		return fmt.Errorf("%w: %w", ErrLaunch, err)
	}

	pollCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		cancel()
		return ErrSessionClosed
	}
	s.state = StateActive
	s.pollCancel = cancel
	s.pollDone = done
	s.mu.Unlock()

	go s.poll(pollCtx, done)

	s.logger.Info("Session started",
		zap.Int("width", s.cfg.Viewport.Width),
		zap.Int("height", s.cfg.Viewport.Height))
	return nil
}

// launch runs on the worker
func (s *Session) launch() error {
	if s.launchGuard == nil {
		return s.drv.Launch(s.cfg.AuthURL, s.cfg.Viewport)
	}
	return s.launchGuard.Execute(func() error {
		return s.drv.Launch(s.cfg.AuthURL, s.cfg.Viewport)
	})
}

// do runs fn on the worker unless the session is closed or not launched
func (s *Session) do(ctx context.Context, fn func() error) error {
	return s.worker.Do(ctx, func() error {
		if s.closed.Load() || !s.ready {
			return ErrSessionClosed
		}
		return fn()
	})
}

func closedErr(err error) bool {
	return errors.Is(err, ErrSessionClosed) || errors.Is(err, browser.ErrWorkerStopped)
}

func (s *Session) poll(ctx context.Context, done chan struct{}) {
	defer close(done)

	var deadline time.Time
	if s.cfg.TokenTimeout > 0 {
		deadline = s.clock.Now().Add(s.cfg.TokenTimeout)
	}

	for {
		if ctx.Err() != nil {
			return
		}

		if !deadline.IsZero() && s.clock.Now().After(deadline) {
			s.logger.Warn("Timed out waiting for token", zap.Duration("timeout", s.cfg.TokenTimeout))
			s.metrics.IncTokenTimeouts()
			if s.onTimeout != nil {
				s.onTimeout(s, ErrTokenTimeout)
			}
			return
		}

		if tok, ok := s.findToken(ctx); ok {
			s.deliver(tok)
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-s.clock.After(s.cfg.PollInterval):
		}
	}
}

// findToken checks recorded traffic first, then the current URL.
// Fetch failures are retried on the next tick.
func (s *Session) findToken(ctx context.Context) (token.Token, bool) {
	var entries []browser.LogEntry
	err := s.do(ctx, func() error {
		var err error
		entries, err = s.drv.Logs()
		return err
	})
	if err == nil {
		if tok, ok := token.FromLogs(entries); ok {
			return tok, true
		}
	} else if ctx.Err() == nil {
		s.logger.Debug("Failed to fetch browser logs", zap.Error(err))
	}

	var current string
	err = s.do(ctx, func() error {
		var err error
		current, err = s.drv.CurrentURL()
		return err
	})
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Debug("Failed to fetch current URL", zap.Error(err))
		}
		return token.Token{}, false
	}
	return token.FromURL(current)
}

func (s *Session) deliver(tok token.Token) {
	s.mu.Lock()
	if s.tok != nil {
		s.mu.Unlock()
		return
	}
	stored := tok
	s.tok = &stored
	s.mu.Unlock()

	s.tokenOnce.Do(func() { close(s.tokenCh) })
	s.metrics.IncTokensCaptured()
	s.logger.Info("Captured OAuth token")

	if s.onToken != nil {
		s.onToken(s, tok)
	}
}

// Touch records client activity. Last activity never moves backwards.
func (s *Session) Touch() {
	now := s.clock.Now()
	s.mu.Lock()
	if now.After(s.lastActivity) {
		s.lastActivity = now
	}
	s.mu.Unlock()
}

// IsExpired reports whether more than ttl has passed since the last Touch
func (s *Session) IsExpired(now time.Time, ttl time.Duration) bool {
	return now.Sub(s.LastActivity()) > ttl
}

// CaptureFrame screenshots the page. ok is false when the browser is not
// ready, the session is closed, or the capture failed.
func (s *Session) CaptureFrame(ctx context.Context) ([]byte, bool) {
	if s.closed.Load() {
		return nil, false
	}

	var frame []byte
	err := s.do(ctx, func() error {
		timer := monitoring.NewTimer(s.metrics, "screenshot")
		var err error
		frame, err = s.drv.Screenshot()
		timer.Stop(err)
		return err
	})
	if err != nil {
		if !closedErr(err) && ctx.Err() == nil {
			s.logger.Debug("Failed to capture frame", zap.Error(err))
		}
		return nil, false
	}

	if mt := mimetype.Detect(frame); !strings.HasPrefix(mt.String(), "image/") {
		s.logger.Debug("Discarding non-image frame", zap.String("mime", mt.String()))
		return nil, false
	}
	return frame, true
}

// DispatchEvent injects one client input event. Unknown types are ignored
// and failures are logged.
func (s *Session) DispatchEvent(ctx context.Context, ev InputEvent) {
	var fn func() error

	switch ev.Type {
	case "mouse":
		me, ok := MouseInput(ev)
		if !ok {
			s.logger.Debug("Unsupported mouse event", zap.String("event", ev.Event))
			return
		}
		fn = func() error { return s.drv.DispatchMouse(me) }
	case "keyboard":
		ke, ok := KeyInput(ev)
		if !ok {
			s.logger.Debug("Unsupported keyboard event", zap.String("event", ev.Event))
			return
		}
		fn = func() error { return s.drv.DispatchKey(ke) }
	case "scroll":
		me := ScrollInput(ev)
		fn = func() error { return s.drv.DispatchMouse(me) }
	default:
		s.logger.Debug("Unsupported event payload", zap.String("type", ev.Type))
		return
	}

	if err := s.do(ctx, fn); err != nil {
		if closedErr(err) || ctx.Err() != nil {
			return
		}
		s.metrics.RecordDispatchError(ev.Type)
		s.logger.Debug("Failed to dispatch event", zap.String("type", ev.Type), zap.Error(err))
	}
}

// Login submits creds to the sign-in form on the open page. The driver must
// implement browser.LoginDriver.
func (s *Session) Login(ctx context.Context, creds browser.Credentials) error {
	ld, ok := s.drv.(browser.LoginDriver)
	if !ok {
		return ErrLoginUnsupported
	}

	s.Touch()
	err := s.do(ctx, func() error { return ld.Login(creds) })
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrInvalidCredentials), closedErr(err), ctx.Err() != nil:
		return err
	}
	return fmt.Errorf("sign in: %w", err)
}

// WaitForToken blocks until a token is captured, the session closes or ctx
// ends. ok is false when no token was captured.
func (s *Session) WaitForToken(ctx context.Context) (token.Token, bool) {
	select {
	case <-s.tokenCh:
	case <-s.closedCh:
	case <-ctx.Done():
		return token.Token{}, false
	}
	return s.Token()
}

// Close stops polling, terminates the browser and stops the worker.
// Only the first call does anything. A browser that does not quit within
// QuitTimeout is killed, and a worker still wedged after a second
// QuitTimeout is abandoned.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.closed.Store(true)

		s.mu.Lock()
		s.state = StateClosed
		cancel, done := s.pollCancel, s.pollDone
		s.mu.Unlock()

		close(s.closedCh)

		if cancel != nil {
			cancel()
			<-done
		}

		quitCtx, cancelQuit := context.WithTimeout(context.Background(), s.cfg.QuitTimeout)
		defer cancelQuit()
		err := s.worker.Do(quitCtx, func() error {
			s.ready = false
			return s.drv.Quit()
		})
		switch {
		case errors.Is(err, context.DeadlineExceeded):
			s.logger.Warn("Browser did not quit in time", zap.Duration("timeout", s.cfg.QuitTimeout))
			s.kill()
		case err != nil:
			s.logger.Debug("Browser quit failed", zap.Error(err))
		}

		stopCtx, cancelStop := context.WithTimeout(context.Background(), s.cfg.QuitTimeout)
		defer cancelStop()
		if !s.worker.Shutdown(stopCtx) {
			s.logger.Error("Abandoning wedged browser worker")
		}

		s.logger.Info("Session closed")
	})
}

// kill force-terminates the browser when the driver supports it
func (s *Session) kill() {
	if k, ok := s.drv.(browser.Killer); ok {
		k.Kill()
	}
}

// Snapshot is a point-in-time view of a session
type Snapshot struct {
	ID             string    `json:"session_id"`
	UserID         int64     `json:"user_id"`
	State          State     `json:"state"`
	ViewportWidth  int       `json:"viewport_width"`
	ViewportHeight int       `json:"viewport_height"`
	CreatedAt      time.Time `json:"created_at"`
	LastActivity   time.Time `json:"last_activity"`
	HasToken       bool      `json:"has_token"`
}

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		ID:             s.id,
		UserID:         s.userID,
		State:          s.state,
		ViewportWidth:  s.cfg.Viewport.Width,
		ViewportHeight: s.cfg.Viewport.Height,
		CreatedAt:      s.createdAt,
		LastActivity:   s.lastActivity,
		HasToken:       s.tok != nil,
	}
}
