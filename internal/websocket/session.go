package websocket

import (
	"context"
	"errors"
	"sync"
	"time"

	gws "github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/soketai/callbridge/domain/entities"
	"github.com/soketai/callbridge/domain/repositories"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 512 * 1024 // 512KB for audio chunks

	// DefaultConnectTimeout bounds the AI backend connect so a stuck
	// backend fails the call instead of hanging it.
	DefaultConnectTimeout = 10 * time.Second

	// kickoffText is the initial user utterance that triggers the
	// conversation once the backend session is configured.
	kickoffText = "Hello!"
)

// Conn is the subset of *gorilla/websocket.Conn the session needs. Tests
// substitute an in-memory implementation.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetReadLimit(limit int64)
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(string) error)
	Close() error
}

// Session relays one telephony call to one AI backend session. It
// exclusively owns both leg handles for its lifetime and serializes all
// state changes onto a single event loop goroutine.
type Session struct {
	id  string
	hub *Hub

	// The telephony stream socket.
	conn Conn

	// The AI backend leg.
	client repositories.AISessionClient

	conversation   entities.ConversationConfig
	connectTimeout time.Duration

	// Inbound media frames decoded by readPump, consumed by run.
	inbound chan entities.AudioFrame

	// Outbound wire messages for writePump.
	send chan []byte

	// Closed by readPump when the telephony socket ends.
	socketClosed chan struct{}

	// Closed when the event loop has finished tearing down.
	done chan struct{}

	buffer *PendingAudioBuffer

	closeConnOnce  sync.Once
	disconnectOnce sync.Once

	mu        sync.Mutex
	state     entities.CallState
	startedAt time.Time

	logger *zap.Logger
}

func newSession(hub *Hub, conn Conn, client repositories.AISessionClient, callID string) *Session {
	s := &Session{
		id:             callID,
		hub:            hub,
		conn:           conn,
		client:         client,
		conversation:   hub.conversation,
		connectTimeout: hub.connectTimeout,
		inbound:        make(chan entities.AudioFrame, 64),
		send:           make(chan []byte, 256),
		socketClosed:   make(chan struct{}),
		done:           make(chan struct{}),
		buffer:         NewPendingAudioBuffer(hub.maxBufferedFrames),
		state:          entities.StateInitializing,
		startedAt:      time.Now(),
		logger:         hub.logger.With(zap.String("callID", callID)),
	}
	return s
}

// start registers the session and launches its pumps. All handlers are
// wired before any audio is exchanged, so no event is lost to a
// registration race.
func (s *Session) start() {
	s.hub.register <- s

	go s.writePump()
	go s.readPump()
	go s.run()
}

// ID returns the call identifier for this session.
func (s *Session) ID() string { return s.id }

// State returns the current lifecycle state.
func (s *Session) State() entities.CallState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// StartedAt returns when the telephony socket was accepted.
func (s *Session) StartedAt() time.Time { return s.startedAt }

// Done is closed once both legs have finished closing.
func (s *Session) Done() <-chan struct{} { return s.done }

func (s *Session) setState(state entities.CallState) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

// run drives the session state machine. It is the only goroutine that
// touches the pending buffer and the lifecycle state, which serializes the
// two asynchronous event sources (telephony socket, backend events).
func (s *Session) run() {
	defer s.teardown()

	if !s.runConnecting() {
		return
	}
	s.runActive()
}

// runConnecting buffers inbound media until the backend leg is ready.
// Returns true once the session reached ACTIVE.
func (s *Session) runConnecting() bool {
	s.setState(entities.StateConnecting)

	connectDone := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.connectTimeout)
		defer cancel()
		connectDone <- s.client.Connect(ctx)
	}()

	for {
		select {
		case frame := <-s.inbound:
			s.buffer.Append(frame)
			s.hub.metrics.FramesBuffered.Inc()

		case err := <-connectDone:
			if err != nil {
				s.hub.metrics.ConnectFailures.Inc()
				s.logger.Error("AI session connect failed",
					zap.String("state", string(entities.StateConnecting)),
					zap.Error(err))
				return false
			}
			return s.activate() == nil

		case ev, ok := <-s.client.Events():
			if s.handleBackendEvent(ev, ok) {
				return false
			}

		case <-s.socketClosed:
			s.logger.Info("Telephony socket closed while connecting")
			return false
		}
	}
}

// runActive forwards in both directions until either leg ends.
func (s *Session) runActive() {
	for {
		select {
		case frame := <-s.inbound:
			if err := s.client.AppendAudio(frame); err != nil {
				s.logger.Error("Failed to forward audio to AI session",
					zap.String("state", string(entities.StateActive)),
					zap.Error(err))
				return
			}
			s.hub.metrics.FramesToBackend.Inc()

		case ev, ok := <-s.client.Events():
			if s.handleBackendEvent(ev, ok) {
				return
			}

		case <-s.socketClosed:
			s.logger.Info("Telephony socket closed")
			return
		}
	}
}

// activate runs the connect-success sequence: configure, kick off the
// conversation, then drain the pending buffer strictly in arrival order
// before any newly arriving frame is forwarded.
func (s *Session) activate() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.connectTimeout)
	defer cancel()

	if err := s.client.Configure(ctx, s.conversation); err != nil {
		s.hub.metrics.ConnectFailures.Inc()
		s.logger.Error("Failed to configure AI session", zap.Error(err))
		return err
	}
	if err := s.client.SendKickoffMessage(ctx, kickoffText); err != nil {
		s.hub.metrics.ConnectFailures.Inc()
		s.logger.Error("Failed to send kickoff message", zap.Error(err))
		return err
	}

	pending := s.buffer.Drain()
	for _, frame := range pending {
		if err := s.client.AppendAudio(frame); err != nil {
			s.logger.Error("Failed to drain buffered audio", zap.Error(err))
			return err
		}
		s.hub.metrics.FramesToBackend.Inc()
	}
	if dropped := s.buffer.Dropped(); dropped > 0 {
		s.hub.metrics.FramesDropped.Add(float64(dropped))
		s.logger.Warn("Dropped oldest buffered frames while connecting",
			zap.Int("dropped", dropped))
	}

	s.setState(entities.StateActive)
	s.logger.Info("AI session active", zap.Int("drainedFrames", len(pending)))
	return nil
}

// handleBackendEvent maps one backend event onto the telephony leg.
// Returns true when the session must end.
func (s *Session) handleBackendEvent(ev repositories.SessionEvent, ok bool) bool {
	if !ok {
		s.logger.Info("AI session event stream ended")
		return true
	}

	switch e := ev.(type) {
	case repositories.AudioDeltaEvent:
		payload, err := EncodeTelephonyPlayAudio(e.Frame)
		if err != nil {
			s.logger.Error("Failed to encode playback frame", zap.Error(err))
			return false
		}
		s.hub.metrics.FramesToCaller.Inc()
		return !s.enqueue(payload)

	case repositories.InterruptedEvent:
		s.logger.Info("Caller interrupted AI playback")
		s.hub.metrics.Interruptions.Inc()
		return !s.enqueue(EncodeTelephonyClearAudio())

	case repositories.ClosedEvent:
		if e.Err != nil {
			s.logger.Warn("AI session closed with error", zap.Error(e.Err))
		} else {
			s.logger.Info("AI session closed")
		}
		return true

	default:
		s.logger.Warn("Unknown AI session event")
		return false
	}
}

// enqueue hands a wire message to writePump. Returns false when the
// telephony socket is already gone.
func (s *Session) enqueue(payload []byte) bool {
	select {
	case s.send <- payload:
		return true
	case <-s.socketClosed:
		return false
	}
}

// teardown closes both legs. Both directions are idempotent: closing an
// already-closed leg is a no-op.
func (s *Session) teardown() {
	s.setState(entities.StateClosing)

	s.disconnectOnce.Do(func() {
		if err := s.client.Disconnect(); err != nil {
			s.logger.Warn("AI session disconnect failed", zap.Error(err))
		}
	})
	s.closeConn()

	s.setState(entities.StateClosed)
	close(s.done)

	s.hub.unregister <- s
	s.hub.metrics.CallDuration.Observe(time.Since(s.startedAt).Seconds())
}

func (s *Session) closeConn() {
	s.closeConnOnce.Do(func() {
		s.conn.Close()
	})
}

// readPump pumps messages from the telephony socket into the event loop.
// Non-media messages are ignored; malformed ones are dropped one at a time.
func (s *Session) readPump() {
	defer func() {
		close(s.socketClosed)
		s.closeConn()
	}()

	s.conn.SetReadLimit(maxMessageSize)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := s.conn.ReadMessage()
		if err != nil {
			if gws.IsUnexpectedCloseError(err, gws.CloseGoingAway, gws.CloseNormalClosure, gws.CloseAbnormalClosure) {
				s.logger.Error("Telephony socket error", zap.Error(err))
			}
			return
		}

		frame, err := DecodeTelephonyMessage(message)
		if err != nil {
			if errors.Is(err, ErrNotAudio) {
				continue
			}
			s.hub.metrics.DecodeErrors.Inc()
			s.logger.Warn("Dropping malformed telephony message", zap.Error(err))
			continue
		}

		select {
		case s.inbound <- frame:
		case <-s.done:
			return
		}
	}
}

// writePump pumps outbound messages to the telephony socket and keeps the
// connection alive with pings.
func (s *Session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.closeConn()
	}()

	for {
		select {
		case message := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(gws.TextMessage, message); err != nil {
				s.logger.Error("Failed to write to telephony socket", zap.Error(err))
				return
			}

		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(gws.PingMessage, nil); err != nil {
				return
			}

		case <-s.done:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			s.conn.WriteMessage(gws.CloseMessage, []byte{})
			return
		}
	}
}
