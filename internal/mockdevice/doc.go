// Package mockdevice emulates a device on loopback for integration tests and
// for the emulate command.
//
// A Device listens on TCP, runs the device side of the session key
// negotiation for 3.4 and 3.5, answers DP queries from its data point map,
// applies CONTROL requests (checking the device id and a timestamp window),
// acknowledges them and pushes a STATUS update. Heartbeats are echoed unless
// switched off with SetHeartbeatReplies. Every packet received from a client
// is kept for inspection.
//
//	d, _ := mockdevice.New(mockdevice.Config{
//	    DeviceID: "bf12",
//	    Key:      key,
//	    Version:  protocol.V34,
//	    DPS:      map[string]any{"1": false},
//	})
//	_ = d.Start()
//	defer d.Shutdown(context.Background())
package mockdevice
