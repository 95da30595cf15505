package ws

import (
	"time"

	"github.com/GriffinCanCode/AuthStream/backend/internal/domain/token"
)

// Server → client message types
const (
	TypeInit  = "init"
	TypeFrame = "frame"
	TypeToken = "token"
	TypeError = "error"
	TypePong  = "pong"
)

// Client → server message types
const (
	TypeMouse    = "mouse"
	TypeKeyboard = "keyboard"
	TypeScroll   = "scroll"
	TypePing     = "ping"
)

type initMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
}

type frameMessage struct {
	Type  string  `json:"type"`
	Image string  `json:"image"`
	TS    float64 `json:"ts"`
}

type tokenMessage struct {
	Type        string `json:"type"`
	AccessToken string `json:"access_token"`
	ExpiresIn   *int   `json:"expires_in,omitempty"`
}

type errorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type pongMessage struct {
	Type string  `json:"type"`
	TS   float64 `json:"ts"`
}

func newTokenMessage(tok token.Token) tokenMessage {
	return tokenMessage{Type: TypeToken, AccessToken: tok.AccessToken, ExpiresIn: tok.ExpiresIn}
}

// timestamp is wall-clock seconds with sub-second precision
func timestamp() float64 {
	return float64(time.Now().UnixMicro()) / 1e6
}
