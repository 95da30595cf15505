package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/AuthStream/backend/internal/browser"
	"github.com/GriffinCanCode/AuthStream/backend/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/AuthStream/backend/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/AuthStream/backend/internal/shared/id"
)

const (
	DefaultTTL           = 15 * time.Minute
	DefaultSweepInterval = time.Minute
	DefaultLoginTimeout  = 120 * time.Second
)

// Close reasons reported to metrics
const (
	reasonClosed     = "closed"
	reasonSuperseded = "superseded"
	reasonExpired    = "expired"
	reasonShutdown   = "shutdown"
	reasonFailed     = "start_failed"
)

// RegistryOptions configures a Registry
type RegistryOptions struct {
	Session       Config
	TTL           time.Duration
	SweepInterval time.Duration
	NewDriver     browser.Factory
	OnToken       TokenCallback
	OnTimeout     TimeoutCallback
	LaunchGuard   *resilience.Breaker
	Clock         Clock
	Logger        *zap.Logger
	Metrics       *monitoring.Metrics
	// LoginTimeout bounds FetchToken from launch to token
	LoginTimeout time.Duration
}

// Registry tracks live sessions by id and by user, allowing at most one
// session per user, and reaps idle sessions.
type Registry struct {
	opts   RegistryOptions
	clock  Clock
	logger *zap.Logger

	mu       sync.Mutex
	sessions map[string]*Session // Protected by mu
	byUser   map[int64]string    // Protected by mu
	// starting serializes StartSession per user so a user's old session is
	// closed before the replacement launches. Other users never wait on it.
	starting map[int64]*userLock // Protected by mu

	sweepOnce    sync.Once
	stopSweep    chan struct{}
	sweepDone    chan struct{}
	shutdownOnce sync.Once
}

// NewRegistry creates a registry. NewDriver is required.
func NewRegistry(opts RegistryOptions) *Registry {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = DefaultSweepInterval
	}
	if opts.LoginTimeout <= 0 {
		opts.LoginTimeout = DefaultLoginTimeout
	}
	if opts.Clock == nil {
		opts.Clock = RealClock()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	return &Registry{
		opts:      opts,
		clock:     opts.Clock,
		logger:    opts.Logger.Named("sessions"),
		sessions:  make(map[string]*Session),
		byUser:    make(map[int64]string),
		starting:  make(map[int64]*userLock),
		stopSweep: make(chan struct{}),
		sweepDone: make(chan struct{}),
	}
}

// StartSession closes any session the user already has, then launches and
// registers a new one. Launch failures are returned wrapped in ErrLaunch.
func (r *Registry) StartSession(ctx context.Context, userID int64) (*Session, error) {
	unlock := r.lockUser(userID)
	defer unlock()

	if prev := r.detachUser(userID); prev != nil {
		r.logger.Info("Replacing existing session",
			zap.String("session_id", prev.ID()),
			zap.Int64("user_id", userID))
		r.closeSession(prev, reasonSuperseded)
	}

	sess := New(id.NewSessionID().String(), userID, r.opts.NewDriver(), r.opts.Session, Options{
		Clock:       r.clock,
		Logger:      r.opts.Logger.Named("session"),
		Metrics:     r.opts.Metrics,
		OnToken:     r.opts.OnToken,
		OnTimeout:   r.opts.OnTimeout,
		LaunchGuard: r.opts.LaunchGuard,
	})

	if err := sess.Start(ctx); err != nil {
		r.closeSession(sess, reasonFailed)
		r.logger.Error("Failed to start session",
			zap.String("session_id", sess.ID()),
			zap.Int64("user_id", userID),
			zap.Error(err))
		if !errors.Is(err, ErrLaunch) {
			err = fmt.Errorf("%w: %w", ErrLaunch, err)
		}
		return nil, err
	}

	r.mu.Lock()
	r.sessions[sess.ID()] = sess
	r.byUser[userID] = sess.ID()
	count := len(r.sessions)
	r.mu.Unlock()

	r.opts.Metrics.IncSessionsStarted()
	r.opts.Metrics.SetSessionsActive(count)
	return sess, nil
}

type userLock struct {
	mu   sync.Mutex
	refs int
}

// lockUser takes the user's start lock and returns its release
func (r *Registry) lockUser(userID int64) func() {
	r.mu.Lock()
	l, ok := r.starting[userID]
	if !ok {
		l = &userLock{}
		r.starting[userID] = l
	}
	l.refs++
	r.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		r.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(r.starting, userID)
		}
		r.mu.Unlock()
	}
}

// detachUser removes the user's session from both indexes and returns it
func (r *Registry) detachUser(userID int64) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	sid, ok := r.byUser[userID]
	if !ok {
		return nil
	}
	delete(r.byUser, userID)
	sess := r.sessions[sid]
	delete(r.sessions, sid)
	r.opts.Metrics.SetSessionsActive(len(r.sessions))
	return sess
}

// detach removes a session from both indexes. The user index is only
// cleared when it still points at this session.
func (r *Registry) detach(sessionID string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.detachLocked(sessionID)
}

func (r *Registry) detachLocked(sessionID string) *Session {
	sess, ok := r.sessions[sessionID]
	if !ok {
		return nil
	}
	delete(r.sessions, sessionID)
	if r.byUser[sess.UserID()] == sessionID {
		delete(r.byUser, sess.UserID())
	}
	r.opts.Metrics.SetSessionsActive(len(r.sessions))
	return sess
}

func (r *Registry) closeSession(sess *Session, reason string) {
	sess.Close()
	r.opts.Metrics.IncSessionsClosed(reason)
}

// Get looks up a session by id
func (r *Registry) Get(sessionID string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.sessions[sessionID]
	return sess, ok
}

// GetForUser looks up the user's current session
func (r *Registry) GetForUser(userID int64) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sid, ok := r.byUser[userID]
	if !ok {
		return nil, false
	}
	sess, ok := r.sessions[sid]
	return sess, ok
}

// CloseSession removes and closes a session. It reports whether the
// session was registered.
func (r *Registry) CloseSession(sessionID string) bool {
	sess := r.detach(sessionID)
	if sess == nil {
		return false
	}
	r.closeSession(sess, reasonClosed)
	return true
}

// CloseAll closes every registered session
func (r *Registry) CloseAll() {
	r.closeAll(reasonClosed)
}

func (r *Registry) closeAll(reason string) {
	r.mu.Lock()
	all := make([]*Session, 0, len(r.sessions))
	for sid := range r.sessions {
		all = append(all, r.detachLocked(sid))
	}
	r.mu.Unlock()

	r.closeEach(all, reason)
}

// closeEach closes sessions in parallel so one slow browser does not hold
// up the rest
func (r *Registry) closeEach(sessions []*Session, reason string) {
	var wg sync.WaitGroup
	for _, sess := range sessions {
		wg.Add(1)
		go func(s *Session) {
			defer wg.Done()
			r.closeSession(s, reason)
		}(sess)
	}
	wg.Wait()
}

// Sweep closes sessions idle for longer than the TTL and returns how many
// were closed
func (r *Registry) Sweep() int {
	now := r.clock.Now()

	r.mu.Lock()
	var expired []*Session
	for sid, sess := range r.sessions {
		if sess.IsExpired(now, r.opts.TTL) {
			expired = append(expired, r.detachLocked(sid))
		}
	}
	r.mu.Unlock()

	for _, sess := range expired {
		r.logger.Info("Cleaning up inactive session",
			zap.String("session_id", sess.ID()),
			zap.Int64("user_id", sess.UserID()),
			zap.Time("last_activity", sess.LastActivity()))
	}
	r.closeEach(expired, reasonExpired)
	return len(expired)
}

// StartSweeper runs Sweep every SweepInterval until Shutdown
func (r *Registry) StartSweeper() {
	r.sweepOnce.Do(func() {
		go r.sweepLoop()
	})
}

func (r *Registry) sweepLoop() {
	defer close(r.sweepDone)
	for {
		select {
		case <-r.stopSweep:
			return
		case <-r.clock.After(r.opts.SweepInterval):
			r.Sweep()
		}
	}
}

// Shutdown stops the sweeper and closes all sessions
func (r *Registry) Shutdown() {
	r.shutdownOnce.Do(func() {
		// Marks the sweeper as finished if it never started
		r.sweepOnce.Do(func() { close(r.sweepDone) })
		close(r.stopSweep)
		<-r.sweepDone

		r.closeAll(reasonShutdown)
		r.logger.Info("Session registry shut down")
	})
}

// Stats summarizes registry contents
type Stats struct {
	Sessions  int `json:"sessions"`
	Active    int `json:"active"`
	WithToken int `json:"with_token"`
}

func (r *Registry) Stats() Stats {
	r.mu.Lock()
	all := make([]*Session, 0, len(r.sessions))
	for _, sess := range r.sessions {
		all = append(all, sess)
	}
	r.mu.Unlock()

	stats := Stats{Sessions: len(all)}
	for _, sess := range all {
		if sess.State() == StateActive {
			stats.Active++
		}
		if _, ok := sess.Token(); ok {
			stats.WithToken++
		}
	}
	return stats
}
