package aisession

import (
	"context"
	"sync"
	"time"

	"github.com/soketai/callbridge/domain/entities"
	"github.com/soketai/callbridge/domain/repositories"
)

// MockClient is a scripted AISessionClient for tests. It records the order
// of operations and lets tests inject backend events.
type MockClient struct {
	// Scripted behavior, set before Connect.
	ConnectErr   error
	ConnectDelay time.Duration
	// ConnectGate, when set, blocks Connect until the channel is closed.
	ConnectGate  chan struct{}
	ConfigureErr error
	KickoffErr   error

	mu           sync.Mutex
	connected    bool
	calls        []string
	appended     []entities.AudioFrame
	configured   []entities.ConversationConfig
	kickoffs     []string
	disconnects  int
	eventsClosed bool

	events chan repositories.SessionEvent
}

// NewMockClient creates a mock with an open event stream.
func NewMockClient() *MockClient {
	return &MockClient{
		events: make(chan repositories.SessionEvent, 64),
	}
}

func (m *MockClient) record(call string) {
	m.mu.Lock()
	m.calls = append(m.calls, call)
	m.mu.Unlock()
}

func (m *MockClient) Connect(ctx context.Context) error {
	m.record("connect")
	if m.ConnectDelay > 0 {
		select {
		case <-time.After(m.ConnectDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if m.ConnectGate != nil {
		select {
		case <-m.ConnectGate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if m.ConnectErr != nil {
		return m.ConnectErr
	}
	m.mu.Lock()
	m.connected = true
	m.mu.Unlock()
	return nil
}

func (m *MockClient) Configure(ctx context.Context, conversation entities.ConversationConfig) error {
	m.record("configure")
	m.mu.Lock()
	m.configured = append(m.configured, conversation)
	m.mu.Unlock()
	return m.ConfigureErr
}

func (m *MockClient) SendKickoffMessage(ctx context.Context, text string) error {
	m.record("kickoff")
	m.mu.Lock()
	m.kickoffs = append(m.kickoffs, text)
	m.mu.Unlock()
	return m.KickoffErr
}

func (m *MockClient) AppendAudio(frame entities.AudioFrame) error {
	m.record("append")
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return repositories.ErrNotConnected
	}
	m.appended = append(m.appended, frame)
	return nil
}

func (m *MockClient) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *MockClient) Disconnect() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.disconnects++
	m.connected = false
	m.closeEventsLocked()
	return nil
}

func (m *MockClient) Events() <-chan repositories.SessionEvent {
	return m.events
}

func (m *MockClient) closeEventsLocked() {
	if !m.eventsClosed {
		m.eventsClosed = true
		close(m.events)
	}
}

// emit delivers an event unless the stream already ended. A close can race
// an emit when both legs tear down at once; the session only needs one.
func (m *MockClient) emit(ev repositories.SessionEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.eventsClosed {
		return
	}
	m.events <- ev
}

// EmitAudioDelta injects a synthesized speech chunk.
func (m *MockClient) EmitAudioDelta(frame entities.AudioFrame) {
	m.emit(repositories.AudioDeltaEvent{Frame: frame})
}

// EmitInterrupted injects an interruption signal.
func (m *MockClient) EmitInterrupted() {
	m.emit(repositories.InterruptedEvent{})
}

// EmitClosed injects a backend close and ends the event stream.
func (m *MockClient) EmitClosed(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.eventsClosed {
		return
	}
	m.events <- repositories.ClosedEvent{Err: err}
	m.closeEventsLocked()
}

// Calls returns the recorded operation order.
func (m *MockClient) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.calls))
	copy(out, m.calls)
	return out
}

// Appended returns every frame forwarded via AppendAudio, in order.
func (m *MockClient) Appended() []entities.AudioFrame {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]entities.AudioFrame, len(m.appended))
	copy(out, m.appended)
	return out
}

// Kickoffs returns the kickoff texts sent.
func (m *MockClient) Kickoffs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.kickoffs))
	copy(out, m.kickoffs)
	return out
}

// Configured returns the conversation configs applied.
func (m *MockClient) Configured() []entities.ConversationConfig {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]entities.ConversationConfig, len(m.configured))
	copy(out, m.configured)
	return out
}

// Disconnects returns how many times Disconnect was invoked.
func (m *MockClient) Disconnects() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.disconnects
}
