// Package monitor serves one device over HTTP for dashboards and scripts.
//
// Routes:
//
//	GET  /state            connection state and identity
//	GET  /dps              query all data points
//	POST /dps              {"dps": {"1": true}} sets data points
//	GET  /ws               websocket stream of packets and state changes
//	GET  /metrics          Prometheus metrics (when a Gatherer is configured)
//	GET  /captures         capture session ids (when a capture store is configured)
//	GET  /captures/{id}    packets recorded in one capture session
//
// The monitor does not connect by itself. The owner connects the device and
// calls Follow after every successful Connect so websocket clients see the
// new connection's traffic.
package monitor
