// Package http exposes session management over REST: create and close
// sessions, inspect them and read captured tokens.
package http
