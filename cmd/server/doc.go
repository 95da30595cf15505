// Package main is the entry point for the AuthStream backend server.
//
// The server opens an OAuth implicit-grant login in a remote browser,
// streams the rendered page to a client over WebSocket, forwards the
// client's input back to the browser and hands the captured access token
// to the token store and optional webhook.
//
//	Client (mini app) ⇄ WebSocket ⇄ Go Backend ⇄ Chromium (go-rod)
//
// Configuration:
//   - Environment variables (see internal/infrastructure/config)
//   - CLI flags (override env vars)
//
// Usage:
//
//	./server -port 8000 -headless
//
//	# Development mode (colored logs, debug level)
//	./server -dev
//
// Signals:
//   - SIGINT, SIGTERM: Graceful shutdown
package main
