package session

import (
	"errors"

	"github.com/GriffinCanCode/AuthStream/backend/internal/browser"
)

var (
	// ErrLaunch wraps browser start failures
	ErrLaunch = errors.New("browser launch failed")
	// ErrTokenTimeout is reported when no token arrives before the deadline
	ErrTokenTimeout = errors.New("timed out waiting for token")

	// ErrInvalidCredentials is returned when the sign-in form rejects the credentials
	ErrInvalidCredentials = browser.ErrInvalidCredentials
	// ErrLoginUnsupported is returned when the driver cannot fill the sign-in form
	ErrLoginUnsupported = errors.New("browser driver cannot sign in")

	ErrSessionClosed   = errors.New("session closed")
	ErrSessionNotFound = errors.New("session not found or expired")
)
