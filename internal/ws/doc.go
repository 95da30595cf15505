// Package ws streams a remote browser session to a client over WebSocket.
//
// Each connection serves exactly one session. After the session is found
// the server sends init, then runs three duties until the first one ends:
// frame streaming, token forwarding and inbound event handling. Forwarding
// a token ends the stream.
//
// Message Types (Client → Server):
//   - mouse: event move|down|up|wheel, x, y, button, clickCount, buttons, deltaX, deltaY, modifiers
//   - keyboard: event down|up|char, key, code, text, unmodifiedText, keyCode, isText, repeat, modifiers
//   - scroll: x, y, deltaX, deltaY, modifiers
//   - ping: keep-alive, answered with pong
//
// Message Types (Server → Client):
//   - init: session_id, width, height
//   - frame: base64 image and ts in seconds
//   - token: access_token and optional expires_in
//   - error: message, sent before closing for unknown sessions
//   - pong: ts
//
// Malformed messages are ignored and the connection stays open.
//
// Example Usage:
//
//	handler := ws.NewHandler(registry, ws.DefaultConfig(), logger).WithMetrics(metrics)
//	router.GET("/ws/auth/sessions/:id", handler.HandleConnection)
package ws
