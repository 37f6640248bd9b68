package aisession

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/soketai/callbridge/domain/entities"
	"github.com/soketai/callbridge/domain/repositories"
)

// realtimeTestServer fakes the speech-to-speech backend.
type realtimeTestServer struct {
	server   *httptest.Server
	upgrader websocket.Upgrader

	mu         sync.Mutex
	received   []map[string]interface{}
	authHeader string

	conns chan *websocket.Conn
}

func newRealtimeTestServer(t *testing.T) *realtimeTestServer {
	s := &realtimeTestServer{conns: make(chan *websocket.Conn, 1)}
	s.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.authHeader = r.Header.Get("Authorization")
		s.mu.Unlock()

		conn, err := s.upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		s.conns <- conn

		for {
			var msg map[string]interface{}
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			s.mu.Lock()
			s.received = append(s.received, msg)
			s.mu.Unlock()
		}
	}))
	t.Cleanup(s.server.Close)
	return s
}

func (s *realtimeTestServer) wsURL() string {
	return "ws" + strings.TrimPrefix(s.server.URL, "http")
}

func (s *realtimeTestServer) receivedTypes() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	types := make([]string, 0, len(s.received))
	for _, msg := range s.received {
		if t, ok := msg["type"].(string); ok {
			types = append(types, t)
		}
	}
	return types
}

func (s *realtimeTestServer) waitReceived(t *testing.T, n int) []map[string]interface{} {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		s.mu.Lock()
		count := len(s.received)
		s.mu.Unlock()
		if count >= n {
			s.mu.Lock()
			defer s.mu.Unlock()
			out := make([]map[string]interface{}, len(s.received))
			copy(out, s.received)
			return out
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d received events, have %v", n, s.receivedTypes())
	return nil
}

func TestRealtimeClient_SessionFlow(t *testing.T) {
	server := newRealtimeTestServer(t)
	client := NewRealtimeClient(server.wsURL(), "secret-key", zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Connect(ctx); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	if !client.IsConnected() {
		t.Error("client should report connected")
	}

	backendConn := <-server.conns

	if err := client.Configure(ctx, entities.ConversationConfig{
		Instructions:  "be brief",
		TurnDetection: entities.TurnDetectionServerVAD,
	}); err != nil {
		t.Fatalf("configure failed: %v", err)
	}
	if err := client.SendKickoffMessage(ctx, "Hello!"); err != nil {
		t.Fatalf("kickoff failed: %v", err)
	}
	if err := client.AppendAudio(entities.NewTelephonyFrame([]byte("caller audio"))); err != nil {
		t.Fatalf("append failed: %v", err)
	}

	received := server.waitReceived(t, 4)

	if got := server.authHeader; got != "Bearer secret-key" {
		t.Errorf("unexpected auth header %q", got)
	}

	wantTypes := []string{typeSessionUpdate, typeItemCreate, typeResponseCreate, typeInputAudioAppend}
	for i, want := range wantTypes {
		if got := received[i]["type"]; got != want {
			t.Errorf("event %d: got %v, want %s", i, got, want)
		}
	}

	session, _ := received[0]["session"].(map[string]interface{})
	if session["instructions"] != "be brief" {
		t.Errorf("unexpected instructions %v", session["instructions"])
	}
	turn, _ := session["turn_detection"].(map[string]interface{})
	if turn["type"] != "server_vad" {
		t.Errorf("unexpected turn detection %v", turn)
	}

	audio, _ := received[3]["audio"].(string)
	if decoded, _ := base64.StdEncoding.DecodeString(audio); string(decoded) != "caller audio" {
		t.Errorf("audio payload mismatch: %q", decoded)
	}

	// Backend events flow into the event stream in emission order.
	backendConn.WriteJSON(map[string]interface{}{
		"type":  typeAudioDelta,
		"delta": base64.StdEncoding.EncodeToString([]byte("ai speech")),
	})
	backendConn.WriteJSON(map[string]interface{}{"type": typeSpeechStarted})

	ev := <-client.Events()
	delta, ok := ev.(repositories.AudioDeltaEvent)
	if !ok {
		t.Fatalf("expected AudioDeltaEvent, got %T", ev)
	}
	if string(delta.Frame.Data) != "ai speech" {
		t.Errorf("delta payload mismatch: %q", delta.Frame.Data)
	}

	if ev := <-client.Events(); ev != (repositories.InterruptedEvent{}) {
		t.Fatalf("expected InterruptedEvent, got %T", ev)
	}

	// Server-side close ends the event stream.
	backendConn.Close()
	if _, ok := (<-client.Events()).(repositories.ClosedEvent); !ok {
		t.Fatal("expected ClosedEvent after backend close")
	}
	if _, open := <-client.Events(); open {
		t.Error("events channel should be closed after ClosedEvent")
	}
}

func TestRealtimeClient_AppendBeforeConnect(t *testing.T) {
	client := NewRealtimeClient("ws://127.0.0.1:1", "", zap.NewNop())
	if err := client.AppendAudio(entities.NewTelephonyFrame([]byte{1})); err != repositories.ErrNotConnected {
		t.Errorf("expected ErrNotConnected, got %v", err)
	}
	// Disconnect before connect is a no-op.
	if err := client.Disconnect(); err != nil {
		t.Errorf("disconnect before connect should be nil, got %v", err)
	}
}

func TestRealtimeClient_ConnectFailure(t *testing.T) {
	client := NewRealtimeClient("ws://127.0.0.1:1", "", zap.NewNop())
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	if err := client.Connect(ctx); err == nil {
		t.Error("expected connect error for unreachable backend")
	}
	if client.IsConnected() {
		t.Error("client must not report connected after failure")
	}
}

func TestRealtimeClient_DisconnectIdempotent(t *testing.T) {
	server := newRealtimeTestServer(t)
	client := NewRealtimeClient(server.wsURL(), "", zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Connect(ctx); err != nil {
		t.Fatalf("connect failed: %v", err)
	}

	if err := client.Disconnect(); err != nil {
		t.Fatalf("first disconnect failed: %v", err)
	}
	// Closing the already-closed leg has no observable effect.
	client.Disconnect()
	if client.IsConnected() {
		t.Error("client should report disconnected")
	}
}

func TestAudioPayloadRoundTrip(t *testing.T) {
	original := []byte{0x00, 0xFF, 0x10, 0x80, 0x7F}
	decoded, err := decodeAudioPayload(encodeAudioPayload(original))
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if string(decoded) != string(original) {
		t.Errorf("round trip mismatch: %v", decoded)
	}
}
