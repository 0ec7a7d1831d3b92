package display_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/atmx/paper-desk/internal/display"
	"github.com/atmx/paper-desk/internal/feed"
	"github.com/atmx/paper-desk/internal/model"
)

type wireMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func dialHub(t *testing.T, hub *display.Hub) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	t.Cleanup(srv.Close)
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestHub_BurstNeverLosesLatestSession(t *testing.T) {
	hub := display.NewHub()

	hub.Broadcast(display.Message{Type: display.TypeSession, Data: model.Session{Identity: "alice", Status: model.StatusAuthenticated}})
	for i := 0; i < 1000; i++ {
		hub.Broadcast(display.Message{Type: display.TypeBars, Data: feed.Update{Ticker: "TICK"}})
	}
	hub.Broadcast(display.Message{Type: display.TypeSession, Data: model.Session{Status: model.StatusAnonymous}})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	conn := dialHub(t, hub)
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var msg wireMessage
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	if msg.Type != display.TypeSession {
		t.Fatalf("expected session replayed first, got %s", msg.Type)
	}
	var s model.Session
	json.Unmarshal(msg.Data, &s)
	if s.Status != model.StatusAnonymous || s.Identity != "" {
		t.Errorf("expected the anonymous session, got %+v", s)
	}
}

func TestHub_TradeIsNotReplayed(t *testing.T) {
	hub := display.NewHub()
	hub.Broadcast(display.Message{Type: display.TypeTrade, Data: model.TradeResult{Accepted: true}})
	hub.Broadcast(display.Message{Type: display.TypePortfolio, Data: map[string]string{"identity": "alice"}})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	conn := dialHub(t, hub)
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var msg wireMessage
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	if msg.Type != display.TypePortfolio {
		t.Errorf("expected only the portfolio replayed, got %s", msg.Type)
	}
}
