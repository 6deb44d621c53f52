// Package logging provides structured logging for the Sterbox bridge.
//
// This package wraps Go's standard log/slog package to provide
// consistent, structured logging across the daemon.
//
// # Features
//
//   - JSON output for production (machine-parsable)
//   - Text output for development (human-readable)
//   - Default fields (service, version) on all log entries
//   - Level-based filtering (debug, info, warn, error)
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//	debug: true          # forces level debug
//
// The per-cycle and per-variable notices of the poller are emitted at debug
// level, so they only appear when debug is enabled.
//
// # Security
//
// Never log the device password or broker credentials.
package logging
