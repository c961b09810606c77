package server

import (
	"encoding/json"
	"net/http"
	"time"

	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"keygate/internal/constants"
	"keygate/internal/security"
)

// HTTPHandler serves the WebSocket transport, metrics and a health probe.
func (s *Server) HTTPHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(constants.EndpointWebSocket, s.HandleWebSocket)
	mux.HandleFunc(constants.EndpointHealth, s.HandleHealth)
	if s.metrics != nil {
		mux.Handle(constants.EndpointMetrics, s.metrics.Handler())
	}

	var handler http.Handler = mux
	handler = RecoveryMiddleware(s.log, handler)
	handler = security.SecurityHeaders(handler)

	return h2c.NewHandler(handler, &http2.Server{})
}

// NewHTTPServer wraps HTTPHandler with the listener timeouts.
func (s *Server) NewHTTPServer(addr string) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           s.HTTPHandler(),
		IdleTimeout:       120 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}
}

// HandleWebSocket upgrades the request and runs a session on it. Each
// WebSocket message is one frame and each answer is one text message.
func (s *Server) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.isShuttingDown() {
		http.Error(w, "Server shutting down", http.StatusServiceUnavailable)
		return
	}

	clientIP := security.HostOf(r.RemoteAddr)
	if s.proxies != nil {
		clientIP = s.proxies.ClientIP(r)
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Str("addr", clientIP).Msg("websocket upgrade failed")
		return
	}

	s.admit(newWSConn(conn), clientIP, false)
}

type healthResponse struct {
	Status   string `json:"status"`
	Sessions int    `json:"sessions"`
}

func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok", Sessions: s.Sessions()}
	code := http.StatusOK
	if s.isShuttingDown() {
		resp.Status = "shutting_down"
		code = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(resp)
}
