// Package ui renders terminal output for the tuyactl CLI.
//
// One-shot commands (get, set, ping, devices) print a Header followed by a
// Result box through a Printer. Failure boxes carry troubleshooting tips picked
// from the protocol error type. The watch command runs WatchModel, a Bubble Tea
// program fed with StateMsg and DPSMsg values from the connection's event
// streams.
//
// Zap logging goes to stderr and is silent unless TUYALOCAL_LOG_LEVEL or
// --log-level is set, so it never interleaves with the styled output.
package ui
