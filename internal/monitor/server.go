package monitor

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/muurk/tuyalocal/internal/capture"
	"github.com/muurk/tuyalocal/internal/conn"
	"github.com/muurk/tuyalocal/internal/device"
	"github.com/muurk/tuyalocal/internal/logging"
	"github.com/muurk/tuyalocal/internal/protocol"
	"github.com/muurk/tuyalocal/internal/version"
)

// DefaultAddr is the listen address used when Config.Addr is empty.
const DefaultAddr = "127.0.0.1:8668"

// Config holds the monitor configuration
type Config struct {
	Addr   string
	Device *device.Device
	// Gatherer backs /metrics. Nil disables the endpoint.
	Gatherer prometheus.Gatherer
	// Capture backs /captures. Nil disables the endpoints.
	Capture *capture.Store
	// RequestTimeout bounds each device call made by a handler.
	RequestTimeout time.Duration
}

// Server exposes one device over HTTP.
type Server struct {
	config   Config
	router   chi.Router
	hub      *hub
	upgrader websocket.Upgrader
	now      func() time.Time

	mu       sync.Mutex
	listener net.Listener
	http     *http.Server
}

// New creates a monitor for cfg.Device.
func New(cfg Config) (*Server, error) {
	if cfg.Device == nil {
		return nil, fmt.Errorf("monitor: device is required")
	}
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = 5 * time.Second
	}

	s := &Server{
		config: cfg,
		hub:    newHub(),
		now:    time.Now,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
	s.router = s.routes()
	return s, nil
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)
	r.Use(middleware.SetHeader("Server", version.UserAgent()))

	r.Get("/state", s.handleState)
	r.Route("/dps", func(r chi.Router) {
		r.Get("/", s.handleGetDPS)
		r.Post("/", s.handleSetDPS)
	})
	r.Get("/ws", s.handleWebSocket)

	if s.config.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.config.Gatherer, promhttp.HandlerOpts{}))
	}
	if s.config.Capture != nil {
		r.Get("/captures", s.handleCaptureSessions)
		r.Get("/captures/{session}", s.handleCaptureEntries)
	}
	return r
}

// requestLogger logs every request with its final status code.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		logging.LogHTTPRequest(r, ww.Status())
	})
}

// Handler returns the router, for embedding or httptest.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start begins listening and serves in the background.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ln, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.Addr, err)
	}
	s.listener = ln
	s.http = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	logging.Info("Monitor listening", zap.String("address", ln.Addr().String()))

	go func(srv *http.Server) {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Error("Monitor server stopped", zap.Error(err))
		}
	}(s.http)
	return nil
}

// Addr returns the listen address once started.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Shutdown disconnects websocket clients and stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.closeAll()

	s.mu.Lock()
	srv := s.http
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

// Clients returns the number of connected websocket clients.
func (s *Server) Clients() int {
	return s.hub.count()
}

// Follow forwards the current connection's packets and state changes to
// websocket clients. Subscriptions are in place when Follow returns; the
// returned channel closes once both streams end, which happens when the
// connection drops.
func (s *Server) Follow(c *conn.Conn) <-chan struct{} {
	packets, stopPackets := c.Packets().Subscribe(clientBuffer)
	states, stopStates := c.States().Subscribe(4)
	done := make(chan struct{})

	s.hub.broadcast(stateEvent(string(c.State()), s.now()))

	go func() {
		defer close(done)
		defer stopPackets()
		defer stopStates()
		for packets != nil || states != nil {
			select {
			case p, ok := <-packets:
				if !ok {
					packets = nil
					continue
				}
				s.hub.broadcast(packetEvent(p, s.now()))
			case up, ok := <-states:
				if !ok {
					states = nil
					continue
				}
				state := conn.StateDisconnected
				if up {
					state = conn.StateReady
				}
				s.hub.broadcast(stateEvent(string(state), s.now()))
			}
		}
	}()
	return done
}

func (s *Server) conn() *conn.Conn {
	return s.config.Device.Conn()
}

// StateResponse is the body of GET /state.
type StateResponse struct {
	ID       string `json:"id"`
	Addr     string `json:"addr"`
	DeviceID string `json:"device_id"`
	Version  string `json:"version"`
	State    string `json:"state"`
	Clients  int    `json:"websocket_clients"`
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	c := s.conn()
	opts := c.Options()
	writeJSON(w, http.StatusOK, StateResponse{
		ID:       c.ID(),
		Addr:     c.Addr(),
		DeviceID: opts.DeviceID,
		Version:  string(opts.Version),
		State:    string(c.State()),
		Clients:  s.hub.count(),
	})
}

// DPSBody is the body of GET /dps and POST /dps.
type DPSBody struct {
	DPS map[string]any `json:"dps"`
}

func (s *Server) handleGetDPS(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.config.RequestTimeout)
	defer cancel()

	dps, err := s.config.Device.DPS(ctx)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, DPSBody{DPS: dps})
}

func (s *Server) handleSetDPS(w http.ResponseWriter, r *http.Request) {
	var body DPSBody
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64*1024))
	dec.UseNumber()
	if err := dec.Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid JSON body: " + err.Error()})
		return
	}
	if len(body.DPS) == 0 {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "dps must contain at least one data point"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.config.RequestTimeout)
	defer cancel()
	if err := s.config.Device.Set(ctx, body.DPS); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error
		return
	}
	logging.LogConnection(ws.RemoteAddr().String(), "websocket_opened")

	c := &client{ws: ws, send: make(chan []byte, clientBuffer)}
	hello, err := json.Marshal(stateEvent(string(s.conn().State()), s.now()))
	if err == nil {
		c.send <- hello
	}
	s.hub.add(c)

	go c.writePump()
	c.readPump()

	s.hub.remove(c)
	logging.LogConnection(ws.RemoteAddr().String(), "websocket_closed")
}

func (s *Server) handleCaptureSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.config.Capture.Sessions()
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}

func (s *Server) handleCaptureEntries(w http.ResponseWriter, r *http.Request) {
	entries, err := s.config.Capture.List(chi.URLParam(r, "session"))
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: err.Error()})
		return
	}
	if len(entries) == 0 {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "no such capture session"})
		return
	}
	out := make([]captureEntry, 0, len(entries))
	for _, e := range entries {
		ce := captureEntry{
			ID:         e.ID,
			Direction:  e.Direction,
			Command:    e.Command.String(),
			Sequence:   e.Sequence,
			ReturnCode: e.ReturnCode,
			At:         e.At,
		}
		if utf8.Valid(e.Payload) {
			ce.Payload = string(e.Payload)
		} else {
			ce.PayloadHex = hex.EncodeToString(e.Payload)
		}
		out = append(out, ce)
	}
	writeJSON(w, http.StatusOK, map[string]any{"session": chi.URLParam(r, "session"), "entries": out})
}

type captureEntry struct {
	ID         int64     `json:"id"`
	Direction  string    `json:"direction"`
	Command    string    `json:"command"`
	Sequence   uint32    `json:"seq"`
	ReturnCode *uint32   `json:"return_code,omitempty"`
	Payload    string    `json:"payload,omitempty"`
	PayloadHex string    `json:"payload_hex,omitempty"`
	At         time.Time `json:"at"`
}

type errorBody struct {
	Error string `json:"error"`
	Type  string `json:"type,omitempty"`
}

// writeError maps a device error to an HTTP status.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusBadGateway
	body := errorBody{Error: err.Error()}
	if typ, ok := protocol.TypeOf(err); ok {
		body.Type = typ.String()
		switch {
		case errors.Is(err, protocol.ErrNotReady):
			status = http.StatusServiceUnavailable
		case typ == protocol.ErrTypeTimeout:
			status = http.StatusGatewayTimeout
		}
	}
	if errors.Is(err, device.ErrRejected) {
		status = http.StatusConflict
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Debug("Failed to write response", zap.Error(err))
	}
}
