package server

import (
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/muurk/udpdiscovery/internal/discovery"
	"github.com/muurk/udpdiscovery/internal/version"
)

// StatusResponse is the body of GET /status
type StatusResponse struct {
	Version     string `json:"version"`
	DevicePort  int    `json:"device_port"`
	Clients     int    `json:"clients"`
	Interval    string `json:"interval"`
	Stats       Stats  `json:"stats"`
	OpenSockets int64  `json:"open_sockets"`
}

// Handler returns the HTTP routes of the server
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", s.handleWebSocket)
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("POST /scan", s.handleScan)
	return s.logRequests(mux)
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, StatusResponse{
		Version:     version.Full(),
		DevicePort:  s.request.DeviceListeningPort,
		Clients:     s.GetActiveConnections(),
		Interval:    s.config.Interval.String(),
		Stats:       s.Stats(),
		OpenSockets: discovery.OpenSockets(),
	})
}

func (s *Server) handleScan(w http.ResponseWriter, _ *http.Request) {
	s.TriggerScan()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "scan queued"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// statusRecorder captures the response code for request logging
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Unwrap lets http.ResponseController (and the websocket upgrader) reach
// the underlying Hijacker.
func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// logRequests logs every plain HTTP request. Upgrades are logged by the
// websocket handler itself.
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/ws" {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		s.logger.Debug("HTTP request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("remote_addr", r.RemoteAddr),
			zap.Int("status", rec.status),
			zap.Duration("elapsed", time.Since(start)),
		)
	})
}
