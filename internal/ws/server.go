package ws

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/agent-relay/backend/internal/channel"
	"github.com/agent-relay/backend/internal/event"
	"github.com/agent-relay/backend/internal/ident"
	"github.com/agent-relay/backend/internal/scheduler"
	"github.com/agent-relay/backend/internal/session"
	"github.com/agent-relay/backend/internal/template"
	"github.com/gorilla/websocket"
)

// ErrTooManyConnections is returned when the websocket connection cap is
// reached.
var ErrTooManyConnections = errors.New("too many websocket connections")

// Server exposes the control websocket and the read-only REST endpoints.
type Server struct {
	sched          *scheduler.Scheduler
	store          *session.Store
	registry       *channel.Registry
	templates      *template.Registry
	bus            *event.Bus
	allowedOrigins map[string]bool
	allowedHosts   map[string]bool
	authToken      string
	maxConns       int

	mu      sync.Mutex
	clients map[*client]bool
}

func NewServer(sched *scheduler.Scheduler, store *session.Store, registry *channel.Registry, templates *template.Registry, bus *event.Bus, allowedOrigins []string, authToken string, maxConns int) *Server {
	s := &Server{
		sched:          sched,
		store:          store,
		registry:       registry,
		templates:      templates,
		bus:            bus,
		allowedOrigins: make(map[string]bool),
		allowedHosts:   make(map[string]bool),
		authToken:      authToken,
		maxConns:       maxConns,
		clients:        make(map[*client]bool),
	}

	for _, origin := range allowedOrigins {
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
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/api/channels", s.handleChannels)
	mux.HandleFunc("/api/sessions", s.handleSessions)
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/templates", s.handleTemplates)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: s.checkOrigin,
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws upgrade error: %v", err)
		return
	}

	c, err := s.addClient(conn)
	if err != nil {
		log.Printf("ws client rejected: %v", err)
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "too many connections"))
		conn.Close()
		return
	}
	log.Printf("ws client connected: %s", r.RemoteAddr)

	history, feed, cancel := s.bus.Subscribe()
	c.enqueueJSON(Frame{
		Type: FrameInit,
		Payload: InitPayload{
			Channels: s.registry.All(),
			Sessions: s.store.All(),
			Events:   history,
		},
	})

	// Bus → client. Events arrive in publish order; a client whose buffer
	// stays full is disconnected rather than allowed to stall.
	go func() {
		defer c.close()
		for ev := range feed {
			if !c.enqueueJSON(Frame{Type: FrameEvent, Payload: ev}) {
				log.Printf("ws client too slow, disconnecting: %s", r.RemoteAddr)
				return
			}
		}
	}()

	go func() {
		defer func() {
			cancel()
			s.removeClient(c)
			log.Printf("ws client disconnected: %s", r.RemoteAddr)
		}()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var req Request
			if err := json.Unmarshal(data, &req); err != nil {
				c.enqueueJSON(ackErr(Request{}, CodeBadRequest, "malformed request frame"))
				continue
			}
			c.enqueueJSON(s.dispatch(req))
		}
	}()
}

func (s *Server) addClient(conn *websocket.Conn) (*client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.maxConns > 0 && len(s.clients) >= s.maxConns {
		return nil, ErrTooManyConnections
	}
	c := newClient(conn)
	s.clients[c] = true
	return c, nil
}

func (s *Server) removeClient(c *client) {
	s.mu.Lock()
	delete(s.clients, c)
	s.mu.Unlock()
	c.close()
}

// ClientCount returns the number of connected websocket clients.
func (s *Server) ClientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// dispatch executes one inbound operation and builds its ack.
func (s *Server) dispatch(req Request) Ack {
	switch req.Op {
	case OpChannelCreate:
		var p channelCreateRequest
		if err := json.Unmarshal(req.Payload, &p); err != nil || p.Name == "" {
			return ackErr(req, CodeBadRequest, "channel:create needs a name")
		}
		ch, err := s.sched.CreateChannel(p.Name, p.Description)
		if err != nil {
			return ackErr(req, errorCode(err), err.Error())
		}
		return ackOK(req, ch)

	case OpChannelDelete:
		var p channelDeleteRequest
		if err := json.Unmarshal(req.Payload, &p); err != nil || p.Name == "" {
			return ackErr(req, CodeBadRequest, "channel:delete needs a name")
		}
		if err := s.sched.DeleteChannel(p.Name); err != nil {
			return ackErr(req, errorCode(err), err.Error())
		}
		return ackOK(req, nil)

	case OpAgentInvite:
		var p inviteRequest
		if err := json.Unmarshal(req.Payload, &p); err != nil || p.Channel == "" || p.Template == "" {
			return ackErr(req, CodeBadRequest, "agent:invite needs channel and template")
		}
		id, err := s.sched.Invite(p.Channel, p.Template, p.Prompt)
		if err != nil {
			return ackErr(req, errorCode(err), err.Error())
		}
		return ackOK(req, map[string]any{"sessionId": id})

	case OpAgentPause:
		return s.sessionOp(req, s.sched.Pause)

	case OpAgentResume:
		return s.sessionOp(req, s.sched.Resume)

	case OpAgentStop:
		return s.sessionOp(req, s.sched.Stop)

	case OpSessionDelete:
		return s.sessionOp(req, s.sched.Delete)

	case OpMessageSubmit:
		var p messageSubmitRequest
		if err := json.Unmarshal(req.Payload, &p); err != nil || p.Channel == "" || p.Content == "" {
			return ackErr(req, CodeBadRequest, "message:submit needs channel and content")
		}
		if err := s.sched.SubmitMessage(p.Channel, p.Agent, p.Content); err != nil {
			return ackErr(req, errorCode(err), err.Error())
		}
		return ackOK(req, nil)

	default:
		return ackErr(req, CodeBadRequest, fmt.Sprintf("unknown op %q", req.Op))
	}
}

func (s *Server) sessionOp(req Request, fn func(id ident.SessionID) error) Ack {
	var p sessionRequest
	if err := json.Unmarshal(req.Payload, &p); err != nil {
		return ackErr(req, CodeBadRequest, req.Op+" needs a sessionId")
	}
	if err := fn(p.SessionID); err != nil {
		return ackErr(req, errorCode(err), err.Error())
	}
	return ackOK(req, nil)
}

func (s *Server) handleChannels(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.registry.All())
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.store.All())
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.sched.Status())
}

func (s *Server) handleTemplates(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if s.templates == nil {
		json.NewEncoder(w).Encode([]template.Template{})
		return
	}
	json.NewEncoder(w).Encode(s.templates.All())
}

func (s *Server) authorize(r *http.Request) bool {
	if s.authToken == "" {
		return true
	}

	if r.URL.Query().Get("token") == s.authToken {
		return true
	}

	if r.Header.Get("X-Agent-Relay-Token") == s.authToken {
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

// securityHeaders wraps h with the standard hardening headers.
func securityHeaders(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("X-XSS-Protection", "1; mode=block")
		w.Header().Set("Content-Security-Policy", "default-src 'self'")
		h.ServeHTTP(w, r)
	})
}

func ListenAndServe(host string, port int, mux *http.ServeMux) error {
	addr := fmt.Sprintf("%s:%d", host, port)
	log.Printf("server listening on %s", addr)
	return http.ListenAndServe(addr, securityHeaders(mux))
}
