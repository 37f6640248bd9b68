package aisession

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/soketai/callbridge/domain/entities"
	"github.com/soketai/callbridge/domain/repositories"
)

// Client-emitted realtime event types.
const (
	typeSessionUpdate    = "session.update"
	typeInputAudioAppend = "input_audio_buffer.append"
	typeItemCreate       = "conversation.item.create"
	typeResponseCreate   = "response.create"
)

// Server-emitted realtime event types the relay cares about.
const (
	typeAudioDelta    = "response.audio.delta"
	typeSpeechStarted = "input_audio_buffer.speech_started"
	typeError         = "error"
)

type sessionUpdateEvent struct {
	Type    string        `json:"type"`
	Session sessionConfig `json:"session"`
}

type sessionConfig struct {
	Instructions  string        `json:"instructions"`
	TurnDetection turnDetection `json:"turn_detection"`
}

type turnDetection struct {
	Type string `json:"type"`
}

type audioAppendEvent struct {
	Type  string `json:"type"`
	Audio string `json:"audio"`
}

type itemCreateEvent struct {
	Type string           `json:"type"`
	Item conversationItem `json:"item"`
}

type conversationItem struct {
	Type    string        `json:"type"`
	Role    string        `json:"role"`
	Content []itemContent `json:"content"`
}

type itemContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type responseCreateEvent struct {
	Type string `json:"type"`
}

type serverEvent struct {
	Type  string       `json:"type"`
	Delta string       `json:"delta,omitempty"`
	Error *serverError `json:"error,omitempty"`
}

type serverError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// RealtimeClient speaks the speech-to-speech realtime protocol over a
// websocket. It implements repositories.AISessionClient.
type RealtimeClient struct {
	url    string
	apiKey string
	logger *zap.Logger
	dialer *websocket.Dialer

	// mu guards conn and connected; gorilla allows one concurrent writer.
	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool

	events    chan repositories.SessionEvent
	closeOnce sync.Once
}

// NewRealtimeClient creates a client for one backend session. The session
// transport is not established until Connect.
func NewRealtimeClient(url, apiKey string, logger *zap.Logger) *RealtimeClient {
	return &RealtimeClient{
		url:    url,
		apiKey: apiKey,
		logger: logger,
		dialer: websocket.DefaultDialer,
		events: make(chan repositories.SessionEvent, 64),
	}
}

// Connect dials the backend websocket and starts the receive loop.
func (c *RealtimeClient) Connect(ctx context.Context) error {
	header := http.Header{}
	if c.apiKey != "" {
		header.Set("Authorization", "Bearer "+c.apiKey)
	}

	conn, _, err := c.dialer.DialContext(ctx, c.url, header)
	if err != nil {
		return fmt.Errorf("failed to dial realtime backend: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.mu.Unlock()

	go c.readLoop(conn)
	return nil
}

// Configure sends the session.update event with instructions and the
// turn-detection mode.
func (c *RealtimeClient) Configure(ctx context.Context, conversation entities.ConversationConfig) error {
	return c.writeJSON(sessionUpdateEvent{
		Type: typeSessionUpdate,
		Session: sessionConfig{
			Instructions:  conversation.Instructions,
			TurnDetection: turnDetection{Type: string(conversation.TurnDetection)},
		},
	})
}

// SendKickoffMessage injects an initial text user message and asks the
// backend for a response.
func (c *RealtimeClient) SendKickoffMessage(ctx context.Context, text string) error {
	err := c.writeJSON(itemCreateEvent{
		Type: typeItemCreate,
		Item: conversationItem{
			Type:    "message",
			Role:    "user",
			Content: []itemContent{{Type: "input_text", Text: text}},
		},
	})
	if err != nil {
		return err
	}
	return c.writeJSON(responseCreateEvent{Type: typeResponseCreate})
}

// AppendAudio streams one inbound frame to the backend.
func (c *RealtimeClient) AppendAudio(frame entities.AudioFrame) error {
	return c.writeJSON(audioAppendEvent{
		Type:  typeInputAudioAppend,
		Audio: encodeAudioPayload(frame.Data),
	})
}

// IsConnected reports whether the session transport is up.
func (c *RealtimeClient) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Disconnect tears down the session transport. Idempotent; the events
// channel is closed by the receive loop once the connection unwinds.
func (c *RealtimeClient) Disconnect() error {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.connected = false
	c.mu.Unlock()

	if conn == nil {
		return nil
	}
	return conn.Close()
}

// Events returns the backend event stream.
func (c *RealtimeClient) Events() <-chan repositories.SessionEvent {
	return c.events
}

func (c *RealtimeClient) writeJSON(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected || c.conn == nil {
		return repositories.ErrNotConnected
	}
	return c.conn.WriteJSON(v)
}

// readLoop translates wire events into the closed SessionEvent set. It is
// the only reader on the connection and the only closer of the events
// channel.
func (c *RealtimeClient) readLoop(conn *websocket.Conn) {
	defer c.closeOnce.Do(func() { close(c.events) })

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			wasConnected := c.connected
			c.connected = false
			c.mu.Unlock()

			if wasConnected && websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.events <- repositories.ClosedEvent{Err: err}
			} else {
				c.events <- repositories.ClosedEvent{}
			}
			return
		}

		var ev serverEvent
		if err := json.Unmarshal(message, &ev); err != nil {
			c.logger.Warn("Dropping malformed realtime event", zap.Error(err))
			continue
		}

		switch ev.Type {
		case typeAudioDelta:
			data, err := decodeAudioPayload(ev.Delta)
			if err != nil {
				c.logger.Warn("Dropping audio delta with bad payload", zap.Error(err))
				continue
			}
			if len(data) == 0 {
				continue
			}
			c.events <- repositories.AudioDeltaEvent{Frame: entities.NewPlaybackFrame(data)}

		case typeSpeechStarted:
			c.events <- repositories.InterruptedEvent{}

		case typeError:
			if ev.Error != nil {
				c.logger.Warn("Realtime backend reported error",
					zap.String("errorType", ev.Error.Type),
					zap.String("message", ev.Error.Message))
			}

		default:
			// Transcript, rate-limit and bookkeeping events are not
			// relevant to the relay.
		}
	}
}
