// Package dashboard serves a real-time WebSocket feed of store and
// sync activity to presentation clients.
//
// The server broadcasts entity updates, sync cycle completions,
// conflict notifications, and aggregate stats. Broadcasting is
// non-blocking: a full channel drops the message rather than stalling
// a store write or a sync cycle.
package dashboard

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/satchelhq/satchel/internal/store"
	"github.com/satchelhq/satchel/internal/syncer"
)

// MessageType defines the type of dashboard message.
type MessageType string

const (
	// MessageTypeEntityUpdate indicates an entity was created,
	// updated, or deleted in the local store.
	MessageTypeEntityUpdate MessageType = "entity_update"

	// MessageTypeSyncComplete indicates a sync cycle finished.
	MessageTypeSyncComplete MessageType = "sync_complete"

	// MessageTypeConflict indicates an entity entered conflict state.
	MessageTypeConflict MessageType = "conflict"

	// MessageTypeStats indicates updated store statistics.
	MessageTypeStats MessageType = "stats"
)

// Message is a dashboard broadcast frame.
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// EntityUpdateData describes one store mutation.
type EntityUpdateData struct {
	Collection string `json:"collection"`
	EntityID   string `json:"entity_id"`
	SpaceID    string `json:"space_id,omitempty"`
	Action     string `json:"action"` // create, update, delete
	FromRemote bool   `json:"from_remote"`
}

// SyncCompleteData summarizes a finished sync cycle.
type SyncCompleteData struct {
	Pulled    int `json:"pulled"`
	Pushed    int `json:"pushed"`
	Conflicts int `json:"conflicts"`
	Deferred  int `json:"deferred"`
}

// ConflictData identifies a newly conflicted entity.
type ConflictData struct {
	Collection string `json:"collection"`
	EntityID   string `json:"entity_id"`
}

// StatsData carries per-collection entity counts.
type StatsData struct {
	Total        int            `json:"total"`
	ByCollection map[string]int `json:"by_collection"`
	Conflicts    int            `json:"conflicts"`
	Pending      int            `json:"pending"`
}

// Config holds server configuration.
type Config struct {
	// Port to listen on. 0 picks an ephemeral port (useful in tests);
	// callers that want the conventional port pass 7591.
	Port int
	// Logger for server activity. Defaults to stderr with a
	// "[dashboard] " prefix.
	Logger *log.Logger
}

// Server manages WebSocket connections and broadcasts.
type Server struct {
	addr     string
	listener net.Listener
	server   *http.Server

	clients   map[*websocket.Conn]bool
	clientsMu sync.RWMutex

	broadcast chan Message

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	logger *log.Logger
}

// NewServer creates a dashboard server. It does not listen until Start.
func NewServer(cfg Config) *Server {
	if cfg.Port < 0 {
		cfg.Port = 0
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stderr, "[dashboard] ", log.LstdFlags)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		addr:      fmt.Sprintf(":%d", cfg.Port),
		clients:   make(map[*websocket.Conn]bool),
		broadcast: make(chan Message, 100),
		ctx:       ctx,
		cancel:    cancel,
		logger:    cfg.Logger,
	}
}

// Start begins listening and serving WebSocket clients.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = ln

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)

	s.server = &http.Server{
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	s.wg.Add(1)
	go s.broadcastLoop()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Printf("listening on %s", ln.Addr())
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Printf("server error: %v", err)
		}
	}()

	return nil
}

// Stop gracefully shuts down the server and disconnects all clients.
func (s *Server) Stop() error {
	s.cancel()

	s.clientsMu.Lock()
	for conn := range s.clients {
		_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
		delete(s.clients, conn)
	}
	s.clientsMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown error: %w", err)
	}

	s.wg.Wait()
	return nil
}

// Addr returns the server's listening address.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// ClientCount returns the number of connected clients.
func (s *Server) ClientCount() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}

// Broadcast queues a message for all connected clients. Never blocks;
// drops the message if the queue is full.
func (s *Server) Broadcast(msg Message) {
	select {
	case s.broadcast <- msg:
	case <-s.ctx.Done():
	default:
		s.logger.Println("broadcast queue full, dropping message")
	}
}

// BroadcastEntityUpdate publishes a store event to clients.
func (s *Server) BroadcastEntityUpdate(ev store.Event) {
	s.send(MessageTypeEntityUpdate, EntityUpdateData{
		Collection: string(ev.Collection),
		EntityID:   ev.ID,
		SpaceID:    ev.SpaceID,
		Action:     ev.Op.String(),
		FromRemote: ev.FromRemote,
	})
}

// BroadcastSyncComplete publishes a finished cycle's stats.
func (s *Server) BroadcastSyncComplete(stats syncer.Stats) {
	s.send(MessageTypeSyncComplete, SyncCompleteData{
		Pulled:    stats.Pulled,
		Pushed:    stats.Pushed,
		Conflicts: stats.Conflicts,
		Deferred:  stats.Deferred,
	})
}

// BroadcastConflict flags a conflicted entity to clients.
func (s *Server) BroadcastConflict(collection, entityID string) {
	s.send(MessageTypeConflict, ConflictData{
		Collection: collection,
		EntityID:   entityID,
	})
}

// BroadcastStats publishes store statistics.
func (s *Server) BroadcastStats(stats StatsData) {
	s.send(MessageTypeStats, stats)
}

// Feed pumps store events into the broadcast queue until ctx is done.
// Intended to run as a goroutine with a subscription channel from
// store.Subscribe.
func (s *Server) Feed(ctx context.Context, events <-chan store.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			s.BroadcastEntityUpdate(ev)
		}
	}
}

func (s *Server) send(typ MessageType, data any) {
	raw, err := json.Marshal(data)
	if err != nil {
		s.logger.Printf("failed to marshal %s message: %v", typ, err)
		return
	}
	s.Broadcast(Message{Type: typ, Timestamp: time.Now(), Data: raw})
}

func (s *Server) broadcastLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return

		case msg := <-s.broadcast:
			if msg.Timestamp.IsZero() {
				msg.Timestamp = time.Now()
			}
			data, err := json.Marshal(msg)
			if err != nil {
				s.logger.Printf("failed to marshal message: %v", err)
				continue
			}

			s.clientsMu.RLock()
			clients := make([]*websocket.Conn, 0, len(s.clients))
			for conn := range s.clients {
				clients = append(clients, conn)
			}
			s.clientsMu.RUnlock()

			for _, conn := range clients {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				err := conn.Write(ctx, websocket.MessageText, data)
				cancel()
				if err != nil {
					s.removeClient(conn)
				}
			}
		}
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.logger.Printf("websocket upgrade failed: %v", err)
		return
	}

	s.clientsMu.Lock()
	s.clients[conn] = true
	count := len(s.clients)
	s.clientsMu.Unlock()
	s.logger.Printf("client connected (total: %d)", count)

	go s.readLoop(conn)
}

// readLoop keeps the connection alive; client frames are ignored.
func (s *Server) readLoop(conn *websocket.Conn) {
	defer s.removeClient(conn)
	for {
		if _, _, err := conn.Read(s.ctx); err != nil {
			return
		}
	}
}

func (s *Server) removeClient(conn *websocket.Conn) {
	s.clientsMu.Lock()
	if _, exists := s.clients[conn]; exists {
		delete(s.clients, conn)
		count := len(s.clients)
		s.clientsMu.Unlock()
		_ = conn.Close(websocket.StatusNormalClosure, "")
		s.logger.Printf("client disconnected (total: %d)", count)
		return
	}
	s.clientsMu.Unlock()
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":  "ok",
		"clients": s.ClientCount(),
	})
}
