// Package notify announces captured tokens to an external webhook.
//
// Deliveries go through a resty client on a retryablehttp transport and a
// circuit breaker, so a dead endpoint is not hammered on every login.
package notify
