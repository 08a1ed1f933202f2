package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	gws "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/satriahrh/arunika/voicelink/domain"
	"github.com/satriahrh/arunika/voicelink/internal/auth"
	"github.com/satriahrh/arunika/voicelink/internal/websocket"
)

// idlePipeline holds the session open until it is cancelled or audio ends
type idlePipeline struct{}

func (idlePipeline) Run(ctx context.Context, audio <-chan []byte, emit func(domain.Event) error) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case _, ok := <-audio:
			if !ok {
				return nil
			}
		}
	}
}

func newTestServer(t *testing.T, issuer *auth.TokenIssuer) *httptest.Server {
	t.Helper()
	hub := websocket.NewHub(idlePipeline{}, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)

	e := echo.New()
	InitRoutes(e, hub, issuer, zap.NewNop())
	server := httptest.NewServer(e)
	t.Cleanup(server.Close)
	return server
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"
}

func TestHealth(t *testing.T) {
	server := newTestServer(t, nil)

	resp, err := http.Get(server.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var body HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK || body.Status != "ok" {
		t.Errorf("Unexpected health response %d %+v", resp.StatusCode, body)
	}
}

func TestWebSocket_OpenWithoutIssuer(t *testing.T) {
	server := newTestServer(t, nil)

	ws, _, err := gws.DefaultDialer.Dial(wsURL(server), nil)
	if err != nil {
		t.Fatalf("WebSocket connection failed: %v", err)
	}
	ws.Close()
}

func TestWebSocket_Auth(t *testing.T) {
	issuer, _ := auth.NewTokenIssuer("s3cret", time.Hour)
	server := newTestServer(t, issuer)

	token, _, err := issuer.GenerateDeviceToken("device-1")
	if err != nil {
		t.Fatal(err)
	}

	// Header token
	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)
	ws, _, err := gws.DefaultDialer.Dial(wsURL(server), header)
	if err != nil {
		t.Fatalf("WebSocket connection with header token failed: %v", err)
	}
	ws.Close()

	// Query token
	ws, _, err = gws.DefaultDialer.Dial(wsURL(server)+"?token="+token, nil)
	if err != nil {
		t.Fatalf("WebSocket connection with query token failed: %v", err)
	}
	ws.Close()

	// Missing token
	_, resp, err := gws.DefaultDialer.Dial(wsURL(server), nil)
	if err == nil || resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("Expected 401 without token, got %v", err)
	}

	// Foreign token
	other, _ := auth.NewTokenIssuer("other", time.Hour)
	foreign, _, _ := other.GenerateDeviceToken("device-1")
	_, resp, err = gws.DefaultDialer.Dial(wsURL(server)+"?token="+foreign, nil)
	if err == nil || resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("Expected 401 for a foreign token, got %v", err)
	}
}
