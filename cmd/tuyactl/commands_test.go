package main

import (
	"testing"

	"github.com/muurk/tuyalocal/internal/protocol"
)

func resetFlags(t *testing.T) {
	t.Helper()
	t.Cleanup(func() {
		deviceName, hostFlag, idFlag, gatewayFlag, keyFlag, versionFlag = "", "", "", "", "", ""
		portFlag, timeoutFlag = 0, 0
	})
}

func TestTargetFromFlags(t *testing.T) {
	tests := []struct {
		name    string
		set     func()
		wantErr bool
		verify  func(t *testing.T, tgt *target)
	}{
		{
			name: "ad hoc device defaults to 3.3",
			set: func() {
				hostFlag, idFlag = "192.168.1.40", "bf01"
			},
			verify: func(t *testing.T, tgt *target) {
				if tgt.device.Version != "3.3" {
					t.Errorf("Version = %q, want 3.3", tgt.device.Version)
				}
				if tgt.label() != "bf01" {
					t.Errorf("label() = %q, want bf01", tgt.label())
				}
				if tgt.device.Addr() != "192.168.1.40:6668" {
					t.Errorf("Addr() = %q", tgt.device.Addr())
				}
			},
		},
		{
			name: "explicit version and port",
			set: func() {
				hostFlag, idFlag, versionFlag, portFlag = "10.0.0.2", "bf02", "3.5", 7000
			},
			verify: func(t *testing.T, tgt *target) {
				if tgt.device.Version != "3.5" || tgt.device.Port != 7000 {
					t.Errorf("device = %+v", tgt.device)
				}
			},
		},
		{
			name:    "missing host",
			set:     func() { idFlag = "bf01" },
			wantErr: true,
		},
		{
			name: "unknown version",
			set: func() {
				hostFlag, idFlag, versionFlag = "10.0.0.2", "bf01", "2.0"
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resetFlags(t)
			tt.set()

			tgt, err := targetFromFlags()
			if (err != nil) != tt.wantErr {
				t.Fatalf("targetFromFlags() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && tt.verify != nil {
				tt.verify(t, tgt)
			}
		})
	}
}

func TestDecodedPackets(t *testing.T) {
	codec, err := protocol.NewCodec(protocol.V33, []byte("0123456789abcdef"))
	if err != nil {
		t.Fatal(err)
	}
	frame, err := codec.Encode(protocol.Message{
		Command:        protocol.CmdStatus,
		Sequence:       7,
		Payload:        map[string]any{"dps": map[string]any{"1": true}},
		WithReturnCode: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	packets, err := protocol.Decode(codec, frame)
	if err != nil {
		t.Fatal(err)
	}

	out := decodedPackets(packets)
	if len(out) != 1 {
		t.Fatalf("got %d packets, want 1", len(out))
	}
	p := out[0]
	if p["command"] != "STATUS" {
		t.Errorf("command = %v, want STATUS", p["command"])
	}
	if p["seq"] != uint32(7) {
		t.Errorf("seq = %v, want 7", p["seq"])
	}
	if p["return_code"] != uint32(0) {
		t.Errorf("return_code = %v, want 0", p["return_code"])
	}
	if _, ok := p["data"]; !ok {
		t.Error("JSON payload not exposed as data")
	}
}
