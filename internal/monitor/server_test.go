package monitor

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/muurk/tuyalocal/internal/capture"
	"github.com/muurk/tuyalocal/internal/conn"
	"github.com/muurk/tuyalocal/internal/device"
	"github.com/muurk/tuyalocal/internal/metrics"
	"github.com/muurk/tuyalocal/internal/mockdevice"
	"github.com/muurk/tuyalocal/internal/protocol"
)

var testKey = []byte(";nIBfAzQyoXF72n>")

type fixture struct {
	mock    *mockdevice.Device
	conn    *conn.Conn
	store   *capture.Store
	monitor *Server
	http    *httptest.Server
}

func newFixture(t *testing.T, connect bool) *fixture {
	t.Helper()

	mock, err := mockdevice.New(mockdevice.Config{
		DeviceID: "dev1",
		Key:      testKey,
		Version:  protocol.V33,
		DPS:      map[string]any{"1": false, "2": float64(20)},
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := mock.Start(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = mock.Shutdown(ctx)
	})

	store, err := capture.Open(":memory:", "dev1")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = store.Close() })

	reg := prometheus.NewRegistry()
	c, err := conn.New(conn.Options{
		Host:              "127.0.0.1",
		Port:              mock.Addr().Port,
		DeviceID:          "dev1",
		Key:               testKey,
		Version:           protocol.V33,
		HeartbeatInterval: -1,
		Metrics:           metrics.New(reg),
		Recorder:          store,
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = c.Disconnect() })

	if connect {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := c.Connect(ctx); err != nil {
			t.Fatalf("Connect() error = %v", err)
		}
	}

	s, err := New(Config{Device: device.New(c), Gatherer: reg, Capture: store, RequestTimeout: time.Second})
	if err != nil {
		t.Fatal(err)
	}
	hs := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = s.Shutdown(ctx)
		hs.Close()
	})

	return &fixture{mock: mock, conn: c, store: store, monitor: s, http: hs}
}

func (f *fixture) do(t *testing.T, method, path, body string) (int, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, f.http.URL+path, strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	return resp.StatusCode, data
}

func TestNew_RequiresDevice(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Error("New() without a device should fail")
	}
}

func TestRoutes(t *testing.T) {
	f := newFixture(t, true)

	tests := []struct {
		name       string
		method     string
		path       string
		body       string
		wantStatus int
		verify     func(t *testing.T, body []byte)
	}{
		{
			name:       "state",
			method:     http.MethodGet,
			path:       "/state",
			wantStatus: http.StatusOK,
			verify: func(t *testing.T, body []byte) {
				var st StateResponse
				if err := json.Unmarshal(body, &st); err != nil {
					t.Fatal(err)
				}
				if st.State != "ready" || st.DeviceID != "dev1" || st.Version != "3.3" {
					t.Errorf("state = %+v", st)
				}
			},
		},
		{
			name:       "get dps",
			method:     http.MethodGet,
			path:       "/dps",
			wantStatus: http.StatusOK,
			verify: func(t *testing.T, body []byte) {
				var got DPSBody
				if err := json.Unmarshal(body, &got); err != nil {
					t.Fatal(err)
				}
				if got.DPS["1"] != false || got.DPS["2"] != float64(20) {
					t.Errorf("dps = %v", got.DPS)
				}
			},
		},
		{
			name:       "set dps",
			method:     http.MethodPost,
			path:       "/dps",
			body:       `{"dps": {"1": true, "2": 45}}`,
			wantStatus: http.StatusNoContent,
		},
		{
			name:       "set dps bad json",
			method:     http.MethodPost,
			path:       "/dps",
			body:       `{"dps": `,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "set dps empty",
			method:     http.MethodPost,
			path:       "/dps",
			body:       `{"dps": {}}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "metrics",
			method:     http.MethodGet,
			path:       "/metrics",
			wantStatus: http.StatusOK,
			verify: func(t *testing.T, body []byte) {
				if !strings.Contains(string(body), "tuyalocal_frames_sent_total") {
					t.Error("metrics output lacks frame counters")
				}
			},
		},
		{
			name:       "unknown route",
			method:     http.MethodGet,
			path:       "/nope",
			wantStatus: http.StatusNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := f.do(t, tt.method, tt.path, tt.body)
			if status != tt.wantStatus {
				t.Fatalf("status = %d, want %d (body %s)", status, tt.wantStatus, body)
			}
			if tt.verify != nil {
				tt.verify(t, body)
			}
		})
	}

	if got := f.mock.DPS(); got["1"] != true || got["2"] != float64(45) {
		t.Errorf("device state after POST = %v", got)
	}
}

func TestCaptureRoutes(t *testing.T) {
	f := newFixture(t, true)

	if status, _ := f.do(t, http.MethodGet, "/dps", ""); status != http.StatusOK {
		t.Fatalf("GET /dps status = %d", status)
	}

	status, body := f.do(t, http.MethodGet, "/captures", "")
	if status != http.StatusOK {
		t.Fatalf("GET /captures status = %d", status)
	}
	var sessions struct {
		Sessions []string `json:"sessions"`
	}
	if err := json.Unmarshal(body, &sessions); err != nil || len(sessions.Sessions) != 1 {
		t.Fatalf("sessions = %s (err %v)", body, err)
	}

	status, body = f.do(t, http.MethodGet, "/captures/"+sessions.Sessions[0], "")
	if status != http.StatusOK {
		t.Fatalf("GET /captures/{id} status = %d", status)
	}
	var entries struct {
		Entries []captureEntry `json:"entries"`
	}
	if err := json.Unmarshal(body, &entries); err != nil {
		t.Fatal(err)
	}
	if len(entries.Entries) < 2 || entries.Entries[0].Command != "DP_QUERY" || entries.Entries[0].Direction != "send" {
		t.Errorf("entries = %+v", entries.Entries)
	}

	if status, _ := f.do(t, http.MethodGet, "/captures/unknown", ""); status != http.StatusNotFound {
		t.Errorf("unknown session status = %d, want 404", status)
	}
}

func TestGetDPS_NotReady(t *testing.T) {
	f := newFixture(t, false)

	status, body := f.do(t, http.MethodGet, "/dps", "")
	if status != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503 (body %s)", status, body)
	}
	var eb errorBody
	if err := json.Unmarshal(body, &eb); err != nil || eb.Type != protocol.ErrTypeConfig.String() {
		t.Errorf("error body = %s", body)
	}
}

func readEvent(t *testing.T, ws *websocket.Conn) Event {
	t.Helper()
	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev Event
	if err := ws.ReadJSON(&ev); err != nil {
		t.Fatalf("ReadJSON() error = %v", err)
	}
	return ev
}

func TestWebSocket_StreamsPackets(t *testing.T) {
	f := newFixture(t, true)

	url := "ws" + strings.TrimPrefix(f.http.URL, "http") + "/ws"
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer ws.Close()

	if hello := readEvent(t, ws); hello.Type != EventState || hello.State != "ready" {
		t.Fatalf("hello = %+v", hello)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if !f.conn.SendPing(ctx) {
		t.Fatal("SendPing() failed")
	}

	done := f.monitor.Follow(f.conn)
	if ev := readEvent(t, ws); ev.Type != EventState {
		t.Fatalf("first followed event = %+v, want state", ev)
	}

	f.mock.SetDP("1", true)

	ev := readEvent(t, ws)
	if ev.Type != EventPacket || ev.Command != "STATUS" {
		t.Fatalf("event = %+v, want STATUS packet", ev)
	}
	if dps, _ := ev.Data["dps"].(map[string]any); dps["1"] != true {
		t.Errorf("event data = %v", ev.Data)
	}

	if err := f.conn.Disconnect(); err != nil {
		t.Fatal(err)
	}
	if ev := readEvent(t, ws); ev.Type != EventState || ev.State != "disconnected" {
		t.Errorf("event after disconnect = %+v", ev)
	}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Follow did not finish after disconnect")
	}
	if f.monitor.Clients() != 1 {
		t.Errorf("Clients() = %d, want 1", f.monitor.Clients())
	}
}
