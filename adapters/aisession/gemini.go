package aisession

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/soketai/callbridge/domain/entities"
	"github.com/soketai/callbridge/domain/repositories"
)

// GeminiLive implements repositories.AISessionClient on the Gemini Live
// API. The Live protocol applies session configuration at connect time, so
// Connect only builds the API client and Configure performs the actual
// websocket handshake; both are terminal for the call on failure.
type GeminiLive struct {
	apiKey string
	model  string
	logger *zap.Logger

	mu        sync.Mutex
	client    *genai.Client
	session   *genai.Session
	connected bool

	events    chan repositories.SessionEvent
	closeOnce sync.Once
}

// NewGeminiLive creates a client for one backend session.
func NewGeminiLive(apiKey, model string, logger *zap.Logger) (*GeminiLive, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	return &GeminiLive{
		apiKey: apiKey,
		model:  model,
		logger: logger,
		events: make(chan repositories.SessionEvent, 64),
	}, nil
}

// Connect builds the Gemini API client.
func (g *GeminiLive) Connect(ctx context.Context) error {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  g.apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return fmt.Errorf("failed to create Gemini client: %w", err)
	}

	g.mu.Lock()
	g.client = client
	g.mu.Unlock()
	return nil
}

// Configure opens the Live session with the conversation instructions and
// turn-detection mode, then starts the receive loop.
func (g *GeminiLive) Configure(ctx context.Context, conversation entities.ConversationConfig) error {
	g.mu.Lock()
	client := g.client
	g.mu.Unlock()
	if client == nil {
		return repositories.ErrNotConnected
	}

	config := &genai.LiveConnectConfig{
		ResponseModalities: []genai.Modality{genai.ModalityAudio},
	}
	if conversation.Instructions != "" {
		config.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{genai.NewPartFromText(conversation.Instructions)},
		}
	}
	if conversation.TurnDetection == entities.TurnDetectionNone {
		config.RealtimeInputConfig = &genai.RealtimeInputConfig{
			AutomaticActivityDetection: &genai.AutomaticActivityDetection{Disabled: true},
		}
	}

	session, err := client.Live.Connect(ctx, g.model, config)
	if err != nil {
		return fmt.Errorf("failed to open Gemini Live session: %w", err)
	}

	g.mu.Lock()
	g.session = session
	g.connected = true
	g.mu.Unlock()

	go g.readLoop(session)
	return nil
}

// SendKickoffMessage injects the initial user turn.
func (g *GeminiLive) SendKickoffMessage(ctx context.Context, text string) error {
	session, err := g.liveSession()
	if err != nil {
		return err
	}
	return session.SendClientContent(genai.LiveClientContentInput{
		Turns:        []*genai.Content{genai.NewContentFromText(text, genai.RoleUser)},
		TurnComplete: genai.Ptr(true),
	})
}

// AppendAudio streams one inbound frame as realtime PCM input.
func (g *GeminiLive) AppendAudio(frame entities.AudioFrame) error {
	session, err := g.liveSession()
	if err != nil {
		return err
	}
	return session.SendRealtimeInput(genai.LiveRealtimeInput{
		Media: &genai.Blob{
			Data:     frame.Data,
			MIMEType: fmt.Sprintf("audio/pcm;rate=%d", frame.SampleRate),
		},
	})
}

// IsConnected reports whether the Live session is open.
func (g *GeminiLive) IsConnected() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.connected
}

// Disconnect closes the Live session. Idempotent.
func (g *GeminiLive) Disconnect() error {
	g.mu.Lock()
	session := g.session
	wasConnected := g.connected
	g.session = nil
	g.connected = false
	g.mu.Unlock()

	if !wasConnected || session == nil {
		// Never fully connected; make sure the event stream still ends.
		g.closeOnce.Do(func() { close(g.events) })
		return nil
	}
	return session.Close()
}

// Events returns the backend event stream.
func (g *GeminiLive) Events() <-chan repositories.SessionEvent {
	return g.events
}

func (g *GeminiLive) liveSession() (*genai.Session, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.connected || g.session == nil {
		return nil, repositories.ErrNotConnected
	}
	return g.session, nil
}

// readLoop translates Live server messages into the closed SessionEvent
// set. It is the only closer of the events channel.
func (g *GeminiLive) readLoop(session *genai.Session) {
	defer g.closeOnce.Do(func() { close(g.events) })

	for {
		msg, err := session.Receive()
		if err != nil {
			g.mu.Lock()
			wasConnected := g.connected
			g.connected = false
			g.mu.Unlock()

			if wasConnected {
				g.events <- repositories.ClosedEvent{Err: err}
			} else {
				g.events <- repositories.ClosedEvent{}
			}
			return
		}

		content := msg.ServerContent
		if content == nil {
			continue
		}
		if content.Interrupted {
			g.events <- repositories.InterruptedEvent{}
		}
		if content.ModelTurn != nil {
			for _, part := range content.ModelTurn.Parts {
				if part.InlineData == nil || len(part.InlineData.Data) == 0 {
					continue
				}
				g.events <- repositories.AudioDeltaEvent{
					Frame: entities.NewPlaybackFrame(part.InlineData.Data),
				}
			}
		}
	}
}
