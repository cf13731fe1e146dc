// Package logging provides structured logging for the overlay server.
//
// This package wraps Go's standard log/slog package so every component logs
// with the same shape: JSON in production, text on a developer terminal, and
// the default fields service and version on every entry.
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr, discard
//
// # Usage
//
//	logger := logging.New(cfg.Logging, "1.0.0")
//	logger.Info("scene published", "scene_id", id, "layers", n)
//	logger.Error("persisting command failed", "error", err)
//
// Never log announcement URLs with embedded credentials or broker passwords.
package logging
