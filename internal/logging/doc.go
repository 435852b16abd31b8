// Package logging provides structured logging for the Orvibo relay client.
//
// This package wraps a zap logger with convenience functions for the logging
// patterns used by the relay session code: connection lifecycle events, TLS
// handshake details and packet dumps.
//
// # Log Levels
//
//   - Debug: packet hex dumps, decoded payloads, heartbeat sends
//   - Info: connection events, login results, state updates
//   - Warn: dropped packets, unknown devices, retries
//   - Error: connection failures, exhausted reconnect attempts
//
// # Configuration
//
// Initialize logging once at startup:
//
//	if err := logging.Initialize("debug"); err != nil {
//	    log.Fatal(err)
//	}
//	defer logging.Sync()
//
// When no level is passed and ORVIBO_LOG_LEVEL is unset the logger is a
// no-op, so library code can log unconditionally.
//
// # Thread Safety
//
// All logging functions are safe for concurrent use.
package logging
