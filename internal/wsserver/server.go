// Package wsserver exposes the aggregated feed to local consumers: a
// websocket endpoint that replays recent history and then streams live
// events, plus plain HTTP health and state endpoints.
package wsserver

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/john/chatfeed/internal/aggregator"
	"github.com/john/chatfeed/internal/chat"
	"github.com/john/chatfeed/internal/service"
	"github.com/john/chatfeed/internal/store"
)

const (
	// helloBacklog caps how much history a fresh client receives.
	helloBacklog = 100

	// clientBuffer is the per-client outbound queue. A client that cannot
	// drain it is dropped; store callbacks must never block.
	clientBuffer = 256

	writeTimeout = 10 * time.Second
)

// ServiceSnapshot is the per-adapter block sent in hello frames and on the
// state endpoint.
type ServiceSnapshot struct {
	Service         chat.ServiceType        `json:"service"`
	Name            string                  `json:"name"`
	ConnectionState service.ConnectionState `json:"connectionState"`
	Description     string                  `json:"description"`
	State           service.State           `json:"state"`
}

type helloFrame struct {
	Type     string                 `json:"type"`
	Services []ServiceSnapshot      `json:"services"`
	Messages []chat.Message         `json:"messages"`
	Authors  map[string]chat.Author `json:"authors"`
}

type messageFrame struct {
	Type    string       `json:"type"`
	Message chat.Message `json:"message"`
	Author  chat.Author  `json:"author"`
}

type messageUpdatedFrame struct {
	Type          string       `json:"type"`
	Message       chat.Message `json:"message"`
	ChangedFields []string     `json:"changedFields"`
}

type stateFrame struct {
	Type      string           `json:"type"`
	Service   chat.ServiceType `json:"service"`
	Connected bool             `json:"connected"`
	StreamID  string           `json:"streamId,omitempty"`
}

type client struct {
	conn *websocket.Conn
	send chan []byte
	once sync.Once
}

func (c *client) close() {
	c.once.Do(func() {
		close(c.send)
		_ = c.conn.Close()
	})
}

// Server is the consumer-facing HTTP/websocket surface. It implements
// store.Listener so live events flow straight from the store.
type Server struct {
	store    *store.Store
	services []service.Service
	agg      *aggregator.Aggregator
	log      *zap.Logger

	server   *http.Server
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*client]struct{}
}

func New(addr string, st *store.Store, services []service.Service, agg *aggregator.Aggregator, log *zap.Logger) *Server {
	s := &Server{
		store:    st,
		services: services,
		agg:      agg,
		log:      log,
		upgrader: websocket.Upgrader{
			// Local consumer surface, overlays connect from file:// origins.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		clients: make(map[*client]struct{}),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/state", s.handleState)
	mux.HandleFunc("/ws", s.handleWS)

	s.server = &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	return s
}

// Handler exposes the HTTP surface, mainly for tests.
func (s *Server) Handler() http.Handler { return s.server.Handler }

// Start serves until the listener fails or Shutdown runs.
func (s *Server) Start() error {
	s.log.Info("serving consumers", zap.String("addr", s.server.Addr))
	if err := s.server.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown closes every client and stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("shutting down consumer server")

	s.mu.Lock()
	for c := range s.clients {
		c.close()
	}
	s.clients = make(map[*client]struct{})
	s.mu.Unlock()

	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (s *Server) handleState(w http.ResponseWriter, _ *http.Request) {
	resp := struct {
		Services       []ServiceSnapshot `json:"services"`
		ConnectedCount int               `json:"connectedCount"`
		TotalViewers   int               `json:"totalViewers"`
		Messages       int               `json:"messages"`
	}{
		Services:       s.snapshots(),
		ConnectedCount: s.agg.ConnectedCount(),
		TotalViewers:   s.agg.TotalViewers(),
		Messages:       s.store.Len(),
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.log.Error("encode state response", zap.Error(err))
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	c := &client{conn: conn, send: make(chan []byte, clientBuffer)}

	hello, err := json.Marshal(s.buildHello())
	if err != nil {
		s.log.Error("marshal hello frame", zap.Error(err))
		_ = conn.Close()
		return
	}
	c.send <- hello

	s.mu.Lock()
	s.clients[c] = struct{}{}
	n := len(s.clients)
	s.mu.Unlock()
	s.log.Info("consumer connected", zap.String("remote", conn.RemoteAddr().String()), zap.Int("clients", n))

	go s.writePump(c)
	go s.readPump(c)
}

// buildHello snapshots the service states and recent history for a fresh
// client.
func (s *Server) buildHello() helloFrame {
	messages := s.store.GetLastMessages(helloBacklog)

	authors := make(map[string]chat.Author, len(messages))
	for _, msg := range messages {
		if _, ok := authors[msg.AuthorID]; ok {
			continue
		}
		if author, ok := s.store.GetAuthor(msg.AuthorID); ok {
			authors[msg.AuthorID] = author
		}
	}

	return helloFrame{
		Type:     "hello",
		Services: s.snapshots(),
		Messages: messages,
		Authors:  authors,
	}
}

func (s *Server) snapshots() []ServiceSnapshot {
	out := make([]ServiceSnapshot, 0, len(s.services))
	for _, svc := range s.services {
		out = append(out, ServiceSnapshot{
			Service:         svc.Type(),
			Name:            svc.Type().Name(),
			ConnectionState: svc.ConnectionState(),
			Description:     svc.StateDescription(),
			State:           svc.State(),
		})
	}
	return out
}

func (s *Server) writePump(c *client) {
	for data := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			s.drop(c)
			return
		}
	}
}

// readPump discards inbound frames; it exists to notice closed connections.
func (s *Server) readPump(c *client) {
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			s.drop(c)
			return
		}
	}
}

func (s *Server) drop(c *client) {
	s.mu.Lock()
	_, present := s.clients[c]
	delete(s.clients, c)
	s.mu.Unlock()

	c.close()
	if present {
		s.log.Info("consumer disconnected", zap.String("remote", c.conn.RemoteAddr().String()))
	}
}

// broadcast queues a frame for every client. Clients too slow to drain their
// buffer are dropped rather than stalling the store.
func (s *Server) broadcast(frame any) {
	data, err := json.Marshal(frame)
	if err != nil {
		s.log.Error("marshal broadcast frame", zap.Error(err))
		return
	}

	s.mu.Lock()
	var slow []*client
	for c := range s.clients {
		select {
		case c.send <- data:
		default:
			slow = append(slow, c)
			delete(s.clients, c)
		}
	}
	s.mu.Unlock()

	for _, c := range slow {
		c.close()
		s.log.Warn("dropping slow consumer", zap.String("remote", c.conn.RemoteAddr().String()))
	}
}

// OnMessageAdded implements store.Listener.
func (s *Server) OnMessageAdded(msg chat.Message, author chat.Author) {
	s.broadcast(messageFrame{Type: "message", Message: msg, Author: author})
}

// OnMessageUpdated implements store.Listener.
func (s *Server) OnMessageUpdated(msg chat.Message, changed []string) {
	s.broadcast(messageUpdatedFrame{Type: "message_updated", Message: msg, ChangedFields: changed})
}

// OnStateChange relays connection edges to consumers.
func (s *Server) OnStateChange(change service.StateChange) {
	s.broadcast(stateFrame{
		Type:      "state",
		Service:   change.Service,
		Connected: change.Connected,
		StreamID:  change.StreamID,
	})
}
