// Package server assembles the service: configuration, session registry,
// token store, webhook notifier, HTTP routes and the stream gateway.
package server
