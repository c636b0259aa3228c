// Package conn is the connection state machine for a single device.
//
// A Conn owns one TCP socket. Connect dials the device, runs the session key
// negotiation for 3.4 and 3.5, starts the heartbeat and moves to ready:
//
//	disconnected -> connecting -> (handshaking ->) ready -> disconnected
//
// Any failure drops the connection back to disconnected. Requests are only
// accepted while ready.
//
// Outbound frames get strictly increasing sequence numbers. SendWithResponse
// waits for the first inbound packet with the same sequence number, or with
// the command named by WithResponseCommand, and fails with a timeout error
// after the response timeout without affecting the connection.
//
// Every decoded packet is broadcast on Packets, and readiness changes on
// States. Both streams end together when the connection goes down; Err on
// either stream reports why. A frame that fails to decode ends the
// connection, since the framing can no longer be trusted.
package conn
