// Package status exposes the device's sync state to the field UI over
// a local WebSocket feed. Connected clients receive a snapshot on
// connect, then every queue-depth, sync-state and connectivity event
// published on the notification bus.
package status

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/routeworks/haulsync/internal/notify"
	"github.com/routeworks/haulsync/internal/syncer"
)

// StatusProvider supplies the snapshot sent to a newly connected
// client. Satisfied by *syncer.Coordinator.
type StatusProvider interface {
	Status(ctx context.Context) (syncer.Status, error)
}

// Message is one frame on the WebSocket feed.
type Message struct {
	Type      string         `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Status    *syncer.Status `json:"status,omitempty"`
	Event     *notify.Event  `json:"event,omitempty"`
}

// Config holds server configuration.
type Config struct {
	// Listen address (default: 127.0.0.1:9444).
	Listen string

	// Logger for server activity (default: stderr logger).
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Listen: "127.0.0.1:9444",
		Logger: log.Default(),
	}
}

// Server manages WebSocket connections and relays bus events.
type Server struct {
	addr     string
	listener net.Listener
	server   *http.Server

	provider StatusProvider
	bus      *notify.Bus

	clients   map[*websocket.Conn]bool
	clientsMu sync.RWMutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	logger *log.Logger
}

// NewServer creates a status server relaying events from bus.
func NewServer(provider StatusProvider, bus *notify.Bus, config *Config) *Server {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Listen == "" {
		config.Listen = "127.0.0.1:9444"
	}
	if config.Logger == nil {
		config.Logger = log.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Server{
		addr:     config.Listen,
		provider: provider,
		bus:      bus,
		clients:  make(map[*websocket.Conn]bool),
		ctx:      ctx,
		cancel:   cancel,
		logger:   config.Logger,
	}
}

// Start begins the HTTP server, WebSocket handler and bus relay.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = ln

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/health", s.handleHealth)

	s.server = &http.Server{
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	events, cancelSub := s.bus.Subscribe()
	s.wg.Add(1)
	go s.relayLoop(events, cancelSub)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Printf("Status server listening on %s", s.addr)
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Printf("Server error: %v", err)
		}
	}()

	return nil
}

// Stop gracefully shuts down the server.
func (s *Server) Stop() error {
	s.logger.Println("Stopping status server")

	s.cancel()

	s.clientsMu.Lock()
	for conn := range s.clients {
		_ = conn.Close(websocket.StatusGoingAway, "Server shutting down")
		delete(s.clients, conn)
	}
	s.clientsMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown error: %w", err)
	}

	s.wg.Wait()

	s.logger.Println("Status server stopped")
	return nil
}

// relayLoop forwards bus events to every connected client.
func (s *Server) relayLoop(events <-chan notify.Event, cancelSub func()) {
	defer s.wg.Done()
	defer cancelSub()

	for {
		select {
		case <-s.ctx.Done():
			return

		case event, ok := <-events:
			if !ok {
				return
			}
			s.sendAll(Message{
				Type:      "event",
				Timestamp: time.Now(),
				Event:     &event,
			})
		}
	}
}

// sendAll writes a message to all connected clients, dropping any that
// fail.
func (s *Server) sendAll(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		s.logger.Printf("Failed to marshal message: %v", err)
		return
	}

	s.clientsMu.RLock()
	clients := make([]*websocket.Conn, 0, len(s.clients))
	for conn := range s.clients {
		clients = append(clients, conn)
	}
	s.clientsMu.RUnlock()

	// Write outside the read lock so a slow client never blocks the
	// relay.
	for _, conn := range clients {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := conn.Write(ctx, websocket.MessageText, data)
		cancel()

		if err != nil {
			s.logger.Printf("Failed to send to client: %v", err)
			s.removeClient(conn)
		}
	}
}

// handleWebSocket upgrades the connection and sends the initial
// snapshot.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.logger.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	s.clientsMu.Lock()
	s.clients[conn] = true
	clientCount := len(s.clients)
	s.clientsMu.Unlock()

	s.logger.Printf("Client connected (total: %d)", clientCount)

	snapshot := Message{Type: "snapshot", Timestamp: time.Now()}
	if status, err := s.provider.Status(r.Context()); err == nil {
		snapshot.Status = &status
	} else {
		s.logger.Printf("Warning: status snapshot failed: %v", err)
	}
	data, _ := json.Marshal(snapshot)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	_ = conn.Write(ctx, websocket.MessageText, data)
	cancel()

	go s.readLoop(conn)
}

// readLoop keeps the connection alive and detects client disconnects.
func (s *Server) readLoop(conn *websocket.Conn) {
	defer s.removeClient(conn)

	for {
		_, _, err := conn.Read(s.ctx)
		if err != nil {
			return
		}
		// Client messages are ignored; the feed is one-way.
	}
}

func (s *Server) removeClient(conn *websocket.Conn) {
	s.clientsMu.Lock()
	if _, exists := s.clients[conn]; exists {
		delete(s.clients, conn)
		clientCount := len(s.clients)
		s.clientsMu.Unlock()

		_ = conn.Close(websocket.StatusNormalClosure, "")
		s.logger.Printf("Client disconnected (total: %d)", clientCount)
	} else {
		s.clientsMu.Unlock()
	}
}

// handleStatus returns the current snapshot as plain JSON for clients
// that do not hold a WebSocket open.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.provider.Status(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(status)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.clientsMu.RLock()
	clientCount := len(s.clients)
	s.clientsMu.RUnlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"status":  "ok",
		"clients": clientCount,
	})
}

// GetAddr returns the server's listening address.
func (s *Server) GetAddr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// ClientCount returns the current number of connected clients.
func (s *Server) ClientCount() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}
