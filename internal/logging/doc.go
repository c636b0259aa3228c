// Package logging provides structured logging for tuyalocal.
//
// This package wraps a package-global zap logger with convenience functions
// for the events the client and the mock device care about: connection
// lifecycle, state transitions and wire frames.
//
// # Log Levels
//
//   - Debug: frame hex dumps, state transitions, heartbeat skips
//   - Info: connections, monitor requests
//   - Warn: decode failures, dropped connections, failed pings
//   - Error: startup failures
//
// # Configuration
//
// Logging is silent unless a level is passed to Initialize or set in
// TUYALOCAL_LOG_LEVEL:
//
//	if err := logging.Initialize(flagLevel); err != nil {
//	    return err
//	}
//	defer logging.Sync()
//
// Output goes to stderr so command output on stdout stays machine readable.
// Set TUYALOCAL_LOG_FORMAT=json for one JSON object per line.
package logging
