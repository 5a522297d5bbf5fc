package dashboard

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/satchelhq/satchel/internal/model"
	"github.com/satchelhq/satchel/internal/store"
	"github.com/satchelhq/satchel/internal/syncer"
)

func startTestServer(t *testing.T) *Server {
	t.Helper()
	s := NewServer(Config{Port: 0, Logger: log.New(io.Discard, "", 0)})
	if err := s.Start(); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	t.Cleanup(func() { s.Stop() })
	return s
}

func dialTestServer(t *testing.T, s *Server) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws://"+s.Addr()+"/ws", nil)
	if err != nil {
		t.Fatalf("Dial() failed: %v", err)
	}
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("Read() failed: %v", err)
	}
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("Unmarshal() failed: %v", err)
	}
	return msg
}

func waitForClients(t *testing.T, s *Server, want int) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for s.ClientCount() != want {
		select {
		case <-deadline:
			t.Fatalf("ClientCount() = %d, want %d", s.ClientCount(), want)
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestServerStartStop(t *testing.T) {
	s := NewServer(Config{Port: 0, Logger: log.New(io.Discard, "", 0)})
	if err := s.Start(); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	if s.Addr() == "" {
		t.Error("Addr() is empty after Start")
	}
	if err := s.Stop(); err != nil {
		t.Fatalf("Stop() failed: %v", err)
	}
}

func TestBroadcastEntityUpdate(t *testing.T) {
	s := startTestServer(t)
	conn := dialTestServer(t, s)
	waitForClients(t, s, 1)

	s.BroadcastEntityUpdate(store.Event{
		Collection: model.CollectionNotes,
		ID:         "n-1",
		SpaceID:    "sp-1",
		Op:         store.OpCreate,
	})

	msg := readMessage(t, conn)
	if msg.Type != MessageTypeEntityUpdate {
		t.Fatalf("Type = %q, want %q", msg.Type, MessageTypeEntityUpdate)
	}
	var data EntityUpdateData
	if err := json.Unmarshal(msg.Data, &data); err != nil {
		t.Fatalf("Unmarshal(data) failed: %v", err)
	}
	if data.Collection != "notes" || data.EntityID != "n-1" || data.SpaceID != "sp-1" {
		t.Errorf("data = %+v", data)
	}
	if data.Action != "create" {
		t.Errorf("Action = %q, want %q", data.Action, "create")
	}
}

func TestBroadcastSyncComplete(t *testing.T) {
	s := startTestServer(t)
	conn := dialTestServer(t, s)
	waitForClients(t, s, 1)

	s.BroadcastSyncComplete(syncer.Stats{Pulled: 3, Pushed: 2, Conflicts: 1})

	msg := readMessage(t, conn)
	if msg.Type != MessageTypeSyncComplete {
		t.Fatalf("Type = %q, want %q", msg.Type, MessageTypeSyncComplete)
	}
	var data SyncCompleteData
	if err := json.Unmarshal(msg.Data, &data); err != nil {
		t.Fatalf("Unmarshal(data) failed: %v", err)
	}
	if data.Pulled != 3 || data.Pushed != 2 || data.Conflicts != 1 {
		t.Errorf("data = %+v", data)
	}
}

func TestMultipleClientsReceiveBroadcast(t *testing.T) {
	s := startTestServer(t)
	conns := []*websocket.Conn{
		dialTestServer(t, s),
		dialTestServer(t, s),
	}
	waitForClients(t, s, 2)

	s.BroadcastConflict("notes", "n-1")

	for i, conn := range conns {
		msg := readMessage(t, conn)
		if msg.Type != MessageTypeConflict {
			t.Errorf("client %d: Type = %q, want %q", i, msg.Type, MessageTypeConflict)
		}
	}
}

func TestBroadcastWithoutClientsDoesNotBlock(t *testing.T) {
	s := startTestServer(t)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 500; i++ {
			s.BroadcastConflict("notes", "n-1")
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Broadcast blocked with no clients connected")
	}
}
