package ws

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"runtime"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/interview-sentry/backend/internal/config"
	"github.com/interview-sentry/backend/internal/metrics"
	"github.com/interview-sentry/backend/internal/monitor"
	"github.com/interview-sentry/backend/internal/policy"
	"github.com/interview-sentry/backend/internal/session"
)

type Server struct {
	config         *config.Config
	monitor        *monitor.Monitor
	broadcaster    *Broadcaster
	allowedOrigins map[string]bool
	allowedHosts   map[string]bool
	authToken      string
}

func NewServer(cfg *config.Config, mon *monitor.Monitor, broadcaster *Broadcaster) *Server {
	s := &Server{
		config:         cfg,
		monitor:        mon,
		broadcaster:    broadcaster,
		allowedOrigins: make(map[string]bool),
		allowedHosts:   make(map[string]bool),
		authToken:      cfg.Server.AuthToken,
	}

	for _, origin := range cfg.Server.AllowedOrigins {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "" {
			continue
		}
		s.allowedOrigins[trimmed] = true
		if parsed, err := url.Parse(trimmed); err == nil && parsed.Host != "" {
			s.allowedHosts[parsed.Host] = true
		}
	}

	return s
}

func (s *Server) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws/session-monitor", s.handleSessionSocket)
	mux.HandleFunc("/ws/admin", s.handleAdminSocket)
	mux.HandleFunc("/api/admin/sessions", s.handleListSessions)
	mux.HandleFunc("/api/admin/sessions/", s.handleSessionRoutes)
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/metrics", promhttp.Handler())
}

// handleSessionSocket is the candidate connection endpoint. session_id and
// user_id arrive as query parameters; a connection missing either is
// refused with a policy-violation close code.
func (s *Server) handleSessionSocket(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		CheckOrigin: s.checkOrigin,
	}

	wsConn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws upgrade error: %v", err)
		return
	}

	sessionID := r.URL.Query().Get("session_id")
	userID := r.URL.Query().Get("user_id")

	c := newConn(wsConn)
	if _, err := s.monitor.OnConnect(sessionID, userID, c); err != nil {
		if errors.Is(err, session.ErrInvalidIdentifier) {
			refuse(wsConn, "session_id and user_id are required")
		} else {
			log.Printf("connect rejected for session %q: %v", sessionID, err)
		}
		c.Close()
		return
	}

	go s.readPump(wsConn, c, sessionID)
}

// readPump drains inbound frames for one candidate session until the
// connection drops. One goroutine per connection, so events for a single
// session reach the monitor in order.
func (s *Server) readPump(wsConn *websocket.Conn, c *conn, sessionID string) {
	for {
		_, data, err := wsConn.ReadMessage()
		if err != nil {
			s.monitor.OnConnClosed(sessionID, c, "disconnect")
			return
		}

		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			metrics.MalformedMessages.Inc()
			log.Printf("session %s: dropping malformed message: %v", sessionID, err)
			continue
		}
		if msg.Type == "" {
			metrics.MalformedMessages.Inc()
			log.Printf("session %s: dropping message without type", sessionID)
			continue
		}

		evt := policy.EventType(msg.Type)
		if !policy.Known(evt) {
			log.Printf("session %s: ignoring unknown event type %q", sessionID, msg.Type)
			continue
		}

		s.monitor.OnMessage(sessionID, evt, msg.Data)
	}
}

// refuse closes a freshly upgraded socket with a policy-violation code.
func refuse(wsConn *websocket.Conn, reason string) {
	msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason)
	wsConn.WriteMessage(websocket.CloseMessage, msg)
	wsConn.Close()
}

// handleAdminSocket attaches an admin dashboard client to the broadcast
// feed. Admin endpoints require the configured token.
func (s *Server) handleAdminSocket(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: s.checkOrigin,
	}

	wsConn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("admin ws upgrade error: %v", err)
		return
	}

	log.Printf("admin client connected: %s", r.RemoteAddr)
	c := s.broadcaster.AddClient(wsConn)

	go func() {
		defer func() {
			s.broadcaster.RemoveClient(c)
			log.Printf("admin client disconnected: %s", r.RemoteAddr)
		}()
		for {
			if _, _, err := wsConn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.monitor.ListSessions())
}

// handleSessionRoutes dispatches /api/admin/sessions/{id} and
// /api/admin/sessions/{id}/{lock|terminate}.
func (s *Server) handleSessionRoutes(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/api/admin/sessions/")
	parts := strings.SplitN(path, "/", 2)

	sessionID, err := url.PathUnescape(parts[0])
	if err != nil || sessionID == "" {
		http.Error(w, "invalid session id", http.StatusBadRequest)
		return
	}

	if len(parts) == 1 {
		s.handleGetSession(w, r, sessionID)
		return
	}

	switch parts[1] {
	case "lock":
		s.handleCommand(w, r, sessionID, s.monitor.LockSession)
	case "terminate":
		s.handleCommand(w, r, sessionID, s.monitor.TerminateSession)
	default:
		http.Error(w, "not found", http.StatusNotFound)
	}
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request, sessionID string) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	snap, err := s.monitor.GetSession(sessionID)
	if err != nil {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(snap)
}

// handleCommand runs a lock or terminate against the monitor. Both are
// idempotent on the monitor side; the handler just maps errors.
func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request, sessionID string, cmd func(id, reason string) (session.Session, error)) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req lockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Reason == "" {
		req.Reason = "administrative action"
	}

	snap, err := cmd(sessionID, req.Reason)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			http.Error(w, "session not found", http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(snap)
}

type healthResponse struct {
	Status         string  `json:"status"`
	ActiveSessions int     `json:"activeSessions"`
	AdminClients   int     `json:"adminClients"`
	Goroutines     int     `json:"goroutines"`
	CPUPercent     float64 `json:"cpuPercent"`
	RSSBytes       uint64  `json:"rssBytes"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:         "ok",
		ActiveSessions: len(s.monitor.ListSessions()),
		AdminClients:   s.broadcaster.ClientCount(),
		Goroutines:     runtime.NumGoroutine(),
	}

	if p, err := process.NewProcess(int32(os.Getpid())); err == nil {
		if cpu, err := p.CPUPercent(); err == nil {
			resp.CPUPercent = cpu
		}
		if mem, err := p.MemoryInfo(); err == nil && mem != nil {
			resp.RSSBytes = mem.RSS
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func (s *Server) authorize(r *http.Request) bool {
	if s.authToken == "" {
		return true
	}

	if r.URL.Query().Get("token") == s.authToken {
		return true
	}

	if r.Header.Get("X-Integrity-Token") == s.authToken {
		return true
	}

	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") && strings.TrimPrefix(auth, "Bearer ") == s.authToken {
		return true
	}

	return false
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}

	if len(s.allowedOrigins) > 0 {
		if s.allowedOrigins[origin] {
			return true
		}
		if parsed, err := url.Parse(origin); err == nil && parsed.Host != "" {
			return s.allowedHosts[parsed.Host]
		}
		return false
	}

	parsed, err := url.Parse(origin)
	if err != nil {
		return false
	}

	host := parsed.Host
	if host == "" {
		return false
	}

	if host == r.Host {
		return true
	}

	if strings.HasPrefix(host, "localhost:") || host == "localhost" {
		return true
	}
	if strings.HasPrefix(host, "127.0.0.1:") || host == "127.0.0.1" {
		return true
	}
	if strings.HasPrefix(host, "[::1]:") || host == "::1" {
		return true
	}

	return false
}

func ListenAndServe(host string, port int, mux *http.ServeMux) error {
	addr := fmt.Sprintf("%s:%d", host, port)
	log.Printf("Server listening on %s", addr)
	return http.ListenAndServe(addr, mux)
}
