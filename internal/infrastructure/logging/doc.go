// Package logging provides structured logging for the cube server.
//
// It wraps log/slog so every component logs with the same default fields
// (service, version) and honours the configured level and format.
//
// Configuration:
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// Usage:
//
//	logger := logging.New(cfg.Logging, "1.0.0")
//	logger.Info("cube provisioned", "cube_id", id)
//	logger.Error("telemetry write failed", "error", err)
//
// Never log raw API or device tokens; log the token prefix instead.
package logging
