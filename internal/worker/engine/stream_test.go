package engine

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"lienzo/internal/pkg/errors"
)

var upgrader = websocket.Upgrader{}

// wsServer upgrades every connection and hands it to handler on its own
// goroutine. The handler returning closes the connection.
func wsServer(t *testing.T, handler func(conn *websocket.Conn)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		defer conn.Close()
		handler(conn)
	}))
}

func wsHost(srv *httptest.Server) string {
	return strings.TrimPrefix(srv.URL, "http://")
}

func TestStreamURL(t *testing.T) {
	got := StreamURL("engine:8188", "client-1")
	want := "ws://engine:8188/ws?clientId=client-1"
	if got != want {
		t.Errorf("StreamURL = %q, want %q", got, want)
	}
}

func TestStreamReceive(t *testing.T) {
	hold := make(chan struct{})
	defer close(hold)

	srv := wsServer(t, func(conn *websocket.Conn) {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"status","data":{}}`))
		<-hold
	})
	defer srv.Close()

	s, err := DialStream(context.Background(), wsHost(srv), "client-1", time.Second)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer s.Close()

	frame, err := s.Receive(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ev, ok := ParseEvent(frame)
	if !ok || ev.Type != EventStatus {
		t.Errorf("unexpected frame: %s", frame)
	}
}

func TestStreamSkipsBinaryFrames(t *testing.T) {
	hold := make(chan struct{})
	defer close(hold)

	srv := wsServer(t, func(conn *websocket.Conn) {
		_ = conn.WriteMessage(websocket.BinaryMessage, []byte{0x01, 0x02, 0x03})
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"progress","data":{"value":1,"max":4}}`))
		<-hold
	})
	defer srv.Close()

	s, err := DialStream(context.Background(), wsHost(srv), "client-1", time.Second)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer s.Close()

	frame, err := s.Receive(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ev, _ := ParseEvent(frame)
	if ev.Type != EventProgress {
		t.Errorf("expected the binary preview to be skipped, got frame: %s", frame)
	}
}

func TestStreamReceiveTimeout(t *testing.T) {
	release := make(chan struct{})
	hold := make(chan struct{})
	defer close(hold)

	srv := wsServer(t, func(conn *websocket.Conn) {
		<-release
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"status","data":{}}`))
		<-hold
	})
	defer srv.Close()

	s, err := DialStream(context.Background(), wsHost(srv), "client-1", 50*time.Millisecond)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer s.Close()

	_, err = s.Receive(context.Background())
	if !errors.IsCode(err, errors.CodeTimeout) {
		t.Fatalf("expected CodeTimeout for a quiet stream, got %v", err)
	}

	// The timeout must not poison the connection.
	close(release)
	frame, err := s.Receive(context.Background())
	if err != nil {
		t.Fatalf("receive after timeout failed: %v", err)
	}
	if ev, _ := ParseEvent(frame); ev.Type != EventStatus {
		t.Errorf("unexpected frame after timeout: %s", frame)
	}
}

func TestStreamConnectionClosed(t *testing.T) {
	srv := wsServer(t, func(conn *websocket.Conn) {
		// return immediately: the deferred close drops the connection
	})
	defer srv.Close()

	s, err := DialStream(context.Background(), wsHost(srv), "client-1", time.Second)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer s.Close()

	_, err = s.Receive(context.Background())
	if err == nil {
		t.Fatal("expected an error for a dropped connection")
	}
	if !errors.IsCode(err, errors.CodeUnavailable) {
		t.Errorf("expected CodeUnavailable, got %v", errors.GetCode(err))
	}
	if !strings.Contains(err.Error(), "websocket connection closed") {
		t.Errorf("unexpected message: %v", err)
	}
}

func TestStreamRedial(t *testing.T) {
	var conns atomic.Int32
	hold := make(chan struct{})
	defer close(hold)

	srv := wsServer(t, func(conn *websocket.Conn) {
		if conns.Add(1) == 1 {
			return // first connection drops right away
		}
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"status","data":{}}`))
		<-hold
	})
	defer srv.Close()

	s, err := DialStream(context.Background(), wsHost(srv), "client-1", time.Second)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer s.Close()

	if _, err := s.Receive(context.Background()); err == nil {
		t.Fatal("expected the first connection to drop")
	}

	if err := s.Redial(context.Background()); err != nil {
		t.Fatalf("redial failed: %v", err)
	}

	frame, err := s.Receive(context.Background())
	if err != nil {
		t.Fatalf("receive after redial failed: %v", err)
	}
	if ev, _ := ParseEvent(frame); ev.Type != EventStatus {
		t.Errorf("unexpected frame after redial: %s", frame)
	}
	if conns.Load() != 2 {
		t.Errorf("expected 2 connections, got %d", conns.Load())
	}
}

func TestDialStreamUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	host := wsHost(srv)
	srv.Close()

	_, err := DialStream(context.Background(), host, "client-1", 100*time.Millisecond)
	if err == nil {
		t.Fatal("expected dial to fail")
	}
	if !strings.Contains(err.Error(), "WebSocket communication error:") {
		t.Errorf("unexpected message: %v", err)
	}
	if !errors.IsCode(err, errors.CodeUnavailable) {
		t.Errorf("expected CodeUnavailable, got %v", errors.GetCode(err))
	}
}

func TestParseEvent(t *testing.T) {
	t.Run("executing with nil node", func(t *testing.T) {
		ev, ok := ParseEvent([]byte(`{"type":"executing","data":{"node":null,"prompt_id":"p1"}}`))
		if !ok {
			t.Fatal("expected frame to parse")
		}
		if ev.Type != EventExecuting {
			t.Errorf("unexpected type: %q", ev.Type)
		}
		var data ExecutingData
		if err := json.Unmarshal(ev.Data, &data); err != nil {
			t.Fatalf("bad data payload: %v", err)
		}
		if data.Node != nil {
			t.Error("expected nil node")
		}
		if data.PromptID != "p1" {
			t.Errorf("unexpected prompt id: %q", data.PromptID)
		}
	})

	t.Run("not json", func(t *testing.T) {
		if _, ok := ParseEvent([]byte("binary garbage")); ok {
			t.Error("expected parse failure")
		}
	})
}
