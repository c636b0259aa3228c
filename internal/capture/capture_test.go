package capture

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/muurk/tuyalocal/internal/protocol"
)

func TestOpenMemory(t *testing.T) {
	s, err := Open(":memory:", "plug")
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	if err := s.db.Ping(); err != nil {
		t.Fatal(err)
	}
}

func TestRecordAndList(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "capture.db"), "plug")
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	sent := protocol.Packet{Command: protocol.CmdDPQuery, Sequence: 1, Payload: protocol.Payload{Raw: []byte(`{"devId":"x"}`)}}
	recv := protocol.Packet{Command: protocol.CmdDPQuery, Sequence: 1, HasReturnCode: true, Payload: protocol.Payload{Raw: []byte(`{"dps":{}}`)}}

	if err := s.Record("conn-a", "send", sent); err != nil {
		t.Fatal(err)
	}
	if err := s.Record("conn-a", "recv", recv); err != nil {
		t.Fatal(err)
	}
	if err := s.Record("conn-b", "recv", recv); err != nil {
		t.Fatal(err)
	}

	sessions, err := s.Sessions()
	if err != nil {
		t.Fatal(err)
	}
	if len(sessions) != 2 {
		t.Fatalf("got %d sessions, want 2", len(sessions))
	}

	entries, err := s.List(sessions[0])
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}

	tests := []struct {
		name   string
		verify func(t *testing.T, e Entry)
	}{
		{"send", func(t *testing.T, e Entry) {
			if e.Direction != "send" || e.ReturnCode != nil || !bytes.Equal(e.Payload, sent.Payload.Raw) {
				t.Errorf("entry = %+v", e)
			}
		}},
		{"recv", func(t *testing.T, e Entry) {
			if e.Direction != "recv" || e.ReturnCode == nil || *e.ReturnCode != 0 || e.Command != protocol.CmdDPQuery {
				t.Errorf("entry = %+v", e)
			}
			if e.At.IsZero() {
				t.Error("timestamp not parsed")
			}
		}},
	}
	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.verify(t, entries[i])
		})
	}
}
