// Package logging provides structured logging for the Gray Logic Arduino bridge.
//
// It wraps log/slog so every component logs with the same handler, level
// filter and default fields (service, version).
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
//	logger := logging.New(cfg.Logging, version)
//	logger.Info("transport open", "kind", "serial", "address", "/dev/ttyO1")
//
// Never log MQTT passwords or InfluxDB tokens.
package logging
