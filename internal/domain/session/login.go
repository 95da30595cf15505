package session

import (
	"context"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/AuthStream/backend/internal/browser"
	"github.com/GriffinCanCode/AuthStream/backend/internal/domain/token"
	"github.com/GriffinCanCode/AuthStream/backend/internal/shared/id"
)

// FetchToken signs in with creds on a private browser and waits for the
// redirect carrying the token. The session is never registered, so it does
// not replace the user's interactive session, and it is always closed
// before FetchToken returns.
//
// Errors: ErrLaunch when the browser cannot start, ErrInvalidCredentials when
// the form rejects creds, ErrTokenTimeout when LoginTimeout passes first.
func (r *Registry) FetchToken(ctx context.Context, userID int64, creds browser.Credentials) (token.Token, error) {
	cfg := r.opts.Session
	cfg.TokenTimeout = r.opts.LoginTimeout

	timedOut := make(chan struct{})
	sess := New(id.NewSessionID().String(), userID, r.opts.NewDriver(), cfg, Options{
		Clock:       r.clock,
		Logger:      r.opts.Logger.Named("login"),
		Metrics:     r.opts.Metrics,
		LaunchGuard: r.opts.LaunchGuard,
		OnTimeout:   func(*Session, error) { close(timedOut) },
	})
	defer sess.Close()

	if err := sess.Start(ctx); err != nil {
		return token.Token{}, err
	}
	if err := sess.Login(ctx, creds); err != nil {
		// The redirect may already have happened before the form errored
		if tok, ok := sess.Token(); ok {
			return tok, nil
		}
		r.logger.Warn("Sign-in failed",
			zap.String("session_id", sess.ID()),
			zap.Int64("user_id", userID),
			zap.Error(err))
		return token.Token{}, err
	}

	select {
	case <-sess.tokenCh:
		tok, _ := sess.Token()
		return tok, nil
	case <-timedOut:
		return token.Token{}, ErrTokenTimeout
	case <-ctx.Done():
		return token.Token{}, ctx.Err()
	}
}
