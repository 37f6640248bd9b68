package websocket

import (
	"net/http"
	"sync"
	"time"

	gws "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/soketai/callbridge/domain/entities"
	"github.com/soketai/callbridge/domain/repositories"
	"github.com/soketai/callbridge/internal/metrics"
)

var upgrader = gws.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// The stream URL carries its own short-lived token; the telephony
		// provider does not send a browser Origin header.
		return true
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// ClientFactory builds one AI session client per inbound call.
type ClientFactory func() (repositories.AISessionClient, error)

// CallInfo is a point-in-time view of one relay session.
type CallInfo struct {
	ID        string             `json:"id"`
	State     entities.CallState `json:"state"`
	StartedAt time.Time          `json:"started_at"`
}

// Hub tracks the set of active relay sessions. Sessions are fully
// independent; the hub only exists for registration bookkeeping, metrics
// and the operational calls listing.
type Hub struct {
	// Registered sessions keyed by call ID.
	sessions map[string]*Session

	// Register requests from new sessions.
	register chan *Session

	// Unregister requests from finished sessions.
	unregister chan *Session

	// Mutex for thread-safe access to the sessions map.
	mu sync.RWMutex

	newClient         ClientFactory
	conversation      entities.ConversationConfig
	connectTimeout    time.Duration
	maxBufferedFrames int

	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewHub creates a relay session hub.
func NewHub(
	newClient ClientFactory,
	conversation entities.ConversationConfig,
	connectTimeout time.Duration,
	maxBufferedFrames int,
	m *metrics.Metrics,
	logger *zap.Logger,
) *Hub {
	if connectTimeout <= 0 {
		connectTimeout = DefaultConnectTimeout
	}
	return &Hub{
		sessions:          make(map[string]*Session),
		register:          make(chan *Session),
		unregister:        make(chan *Session),
		newClient:         newClient,
		conversation:      conversation,
		connectTimeout:    connectTimeout,
		maxBufferedFrames: maxBufferedFrames,
		metrics:           m,
		logger:            logger,
	}
}

// Run starts the hub's registration loop.
func (h *Hub) Run() {
	for {
		select {
		case session := <-h.register:
			h.mu.Lock()
			h.sessions[session.id] = session
			h.mu.Unlock()
			h.metrics.CallsStarted.Inc()
			h.metrics.ActiveCalls.Inc()
			h.logger.Info("Call registered", zap.String("callID", session.id))

		case session := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.sessions[session.id]; ok {
				delete(h.sessions, session.id)
				h.metrics.CallsEnded.Inc()
				h.metrics.ActiveCalls.Dec()
			}
			h.mu.Unlock()
			h.logger.Info("Call unregistered", zap.String("callID", session.id))
		}
	}
}

// Snapshot returns the active calls at this instant.
func (h *Hub) Snapshot() []CallInfo {
	h.mu.RLock()
	defer h.mu.RUnlock()

	calls := make([]CallInfo, 0, len(h.sessions))
	for _, s := range h.sessions {
		calls = append(calls, CallInfo{
			ID:        s.ID(),
			State:     s.State(),
			StartedAt: s.StartedAt(),
		})
	}
	return calls
}

// HandleStream upgrades an authenticated telephony stream request and hands
// it to a new relay session. The session owns both legs from here on.
func HandleStream(hub *Hub, c echo.Context, callID string, logger *zap.Logger) error {
	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		logger.Error("Stream upgrade failed",
			zap.String("callID", callID),
			zap.Error(err))
		return err
	}

	client, err := hub.newClient()
	if err != nil {
		logger.Error("Failed to build AI session client",
			zap.String("callID", callID),
			zap.Error(err))
		conn.Close()
		return nil
	}

	session := newSession(hub, conn, client, callID)
	session.start()
	return nil
}
