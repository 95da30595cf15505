/*
Package monitoring provides Prometheus metrics for the auth stream service.

# Overview

Metrics live on a private registry so tests can create as many collectors as
they like. Every recording method accepts a nil receiver.

# Tracked

- HTTP requests by route template
- Session lifecycle (started, closed by reason, active)
- Token capture and timeouts
- Browser driver calls and rejected input events
- WebSocket connections, messages and frames
- Token webhook deliveries

# Usage

	metrics := monitoring.NewMetrics()
	router.Use(monitoring.Middleware(metrics))
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	timer := monitoring.NewTimer(metrics, "screenshot")
	frame, err := drv.Screenshot()
	timer.Stop(err)
*/
package monitoring
