// Package middleware provides gin middleware for the public API: CORS for
// the browser-hosted client and per-IP rate limiting.
package middleware
