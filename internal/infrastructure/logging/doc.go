// Package logging builds the service's zap logger.
//
// Production mode writes JSON for machine parsing; development mode writes
// colored console output. Components receive the *zap.Logger and derive
// named children carrying session_id, user_id or conn_id fields.
//
// Example Usage:
//
//	logger := logging.NewDefault()
//	logger.Info("Server starting", zap.String("port", "8000"))
package logging
