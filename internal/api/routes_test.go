package api

import (
	"encoding/xml"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/soketai/callbridge/adapters/aisession"
	"github.com/soketai/callbridge/domain/entities"
	"github.com/soketai/callbridge/domain/repositories"
	"github.com/soketai/callbridge/internal/auth"
	"github.com/soketai/callbridge/internal/config"
	"github.com/soketai/callbridge/internal/metrics"
	"github.com/soketai/callbridge/internal/websocket"
)

func setupAPI(t *testing.T) (*echo.Echo, *auth.TokenIssuer) {
	t.Helper()

	cfg := &config.Config{
		Port:              "8080",
		PublicWSURL:       "wss://relay.example.com",
		Backend:           config.BackendRealtime,
		S2SWSURL:          "wss://s2s.example.com",
		ConnectTimeout:    time.Second,
		MaxBufferedFrames: 8,
		StreamTokenSecret: "test-secret",
		StreamTokenTTL:    time.Minute,
	}

	hub := websocket.NewHub(
		func() (repositories.AISessionClient, error) { return aisession.NewMockClient(), nil },
		entities.ConversationConfig{Instructions: "test", TurnDetection: entities.TurnDetectionServerVAD},
		cfg.ConnectTimeout,
		cfg.MaxBufferedFrames,
		metrics.NewWith(prometheus.NewRegistry()),
		zap.NewNop(),
	)
	go hub.Run()

	issuer := auth.NewTokenIssuer(cfg.StreamTokenSecret, cfg.StreamTokenTTL)

	e := echo.New()
	InitRoutes(e, hub, issuer, cfg, zap.NewNop())
	return e, issuer
}

func TestAnswerCall(t *testing.T) {
	e, issuer := setupAPI(t)

	form := url.Values{"CallUUID": {"call-123"}}
	req := httptest.NewRequest(http.MethodPost, "/answer.xml", strings.NewReader(form.Encode()))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationForm)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get(echo.HeaderContentType); !strings.Contains(ct, "xml") {
		t.Errorf("expected XML content type, got %q", ct)
	}

	var resp AnswerResponse
	if err := xml.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}

	stream := resp.Stream
	if stream.AudioTrack != "inbound" {
		t.Errorf("audioTrack: got %q", stream.AudioTrack)
	}
	if !stream.Bidirectional {
		t.Error("bidirectional should be true")
	}
	if stream.ContentType != "audio/x-l16;rate=8000" {
		t.Errorf("contentType: got %q", stream.ContentType)
	}
	if !stream.KeepCallAlive {
		t.Error("keepCallAlive should be true")
	}
	if stream.StreamTimeout != 120 {
		t.Errorf("streamTimeout: got %d", stream.StreamTimeout)
	}

	if !strings.HasPrefix(stream.URL, "wss://relay.example.com"+config.StreamRoute+"?token=") {
		t.Fatalf("unexpected stream URL %q", stream.URL)
	}

	// The embedded token authorizes exactly this call.
	token := strings.TrimPrefix(stream.URL, "wss://relay.example.com"+config.StreamRoute+"?token=")
	claims, err := issuer.ValidateStreamToken(token)
	if err != nil {
		t.Fatalf("stream token invalid: %v", err)
	}
	if claims.CallID != "call-123" {
		t.Errorf("token call ID: got %q", claims.CallID)
	}
}

func TestAnswerCall_GeneratesCallID(t *testing.T) {
	e, issuer := setupAPI(t)

	req := httptest.NewRequest(http.MethodGet, "/answer.xml", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var resp AnswerResponse
	if err := xml.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	token := resp.Stream.URL[strings.Index(resp.Stream.URL, "token=")+len("token="):]
	claims, err := issuer.ValidateStreamToken(token)
	if err != nil {
		t.Fatalf("stream token invalid: %v", err)
	}
	if claims.CallID == "" {
		t.Error("expected a generated call ID")
	}
}

func TestStreamRoute_RejectsMissingOrBadToken(t *testing.T) {
	e, _ := setupAPI(t)

	for _, target := range []string{
		config.StreamRoute,
		config.StreamRoute + "?token=garbage",
	} {
		req := httptest.NewRequest(http.MethodGet, target, nil)
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)

		if rec.Code != http.StatusUnauthorized {
			t.Errorf("%s: expected 401, got %d", target, rec.Code)
		}
	}
}

func TestUnknownPathRejected(t *testing.T) {
	e, _ := setupAPI(t)

	req := httptest.NewRequest(http.MethodGet, "/some_other_stream", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestHealth(t *testing.T) {
	e, _ := setupAPI(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "ok") {
		t.Errorf("unexpected body %s", rec.Body.String())
	}
}

func TestListCalls_EmptySnapshot(t *testing.T) {
	e, _ := setupAPI(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/calls", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "calls") {
		t.Errorf("unexpected body %s", rec.Body.String())
	}
}
