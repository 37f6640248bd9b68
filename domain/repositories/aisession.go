package repositories

import (
	"context"
	"errors"

	"github.com/soketai/callbridge/domain/entities"
)

// ErrNotConnected is returned by AppendAudio when the session transport has
// not been established yet.
var ErrNotConnected = errors.New("ai session not connected")

// AISessionClient abstracts the speech-to-speech backend connection. The
// relay session depends only on this contract, never on the wire protocol
// behind it.
type AISessionClient interface {
	// Connect establishes the session transport. Must succeed before any
	// audio is sent.
	Connect(ctx context.Context) error
	// Configure sets conversation instructions and turn-detection mode.
	// Must follow a successful Connect.
	Configure(ctx context.Context, conversation entities.ConversationConfig) error
	// SendKickoffMessage injects an initial user utterance to start the
	// conversation. Called once, immediately after Configure.
	SendKickoffMessage(ctx context.Context, text string) error
	// AppendAudio streams one inbound audio frame to the backend.
	AppendAudio(frame entities.AudioFrame) error
	// IsConnected reports whether audio can be forwarded immediately.
	IsConnected() bool
	// Disconnect tears down the session transport. Idempotent.
	Disconnect() error
	// Events delivers backend events on the client's own goroutine. The
	// channel is closed after the backend leg ends.
	Events() <-chan SessionEvent
}

// SessionEvent is one of the closed set of events a backend can emit:
// AudioDeltaEvent, InterruptedEvent or ClosedEvent.
type SessionEvent interface {
	sessionEvent()
}

// AudioDeltaEvent carries one chunk of synthesized speech.
type AudioDeltaEvent struct {
	Frame entities.AudioFrame
}

// InterruptedEvent signals that the caller spoke over the AI's output and
// playback must be cleared.
type InterruptedEvent struct{}

// ClosedEvent signals that the backend connection ended. Err is nil on a
// clean close.
type ClosedEvent struct {
	Err error
}

func (AudioDeltaEvent) sessionEvent()  {}
func (InterruptedEvent) sessionEvent() {}
func (ClosedEvent) sessionEvent()      {}
