package pricing

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

func TestNewFeed_ZeroConfigGetsDefaults(t *testing.T) {
	feed := NewFeed("ws://example", FeedConfig{}, nil, zerolog.Nop())
	if feed.config != DefaultFeedConfig() {
		t.Errorf("zero config not normalized: %+v", feed.config)
	}
	if feed.config.PingInterval <= 0 || feed.config.ReconnectDelay <= 0 {
		t.Errorf("non-positive intervals survive construction: %+v", feed.config)
	}
}

func TestNewFeed_KeepsExplicitValues(t *testing.T) {
	feed := NewFeed("ws://example", FeedConfig{ReconnectDelay: 2 * time.Second}, nil, zerolog.Nop())
	if feed.config.ReconnectDelay != 2*time.Second {
		t.Errorf("explicit reconnect delay lost: %v", feed.config.ReconnectDelay)
	}
	if feed.config.PingInterval != DefaultFeedConfig().PingInterval {
		t.Errorf("unset ping interval not defaulted: %v", feed.config.PingInterval)
	}
}

func TestFeed_RunWithZeroConfigConnects(t *testing.T) {
	upgrader := websocket.Upgrader{}
	connected := make(chan struct{}, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		connected <- struct{}{}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	feed := NewFeed(wsURL, FeedConfig{}, nil, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- feed.Run(ctx) }()

	select {
	case <-connected:
	case <-time.After(2 * time.Second):
		t.Fatal("feed never connected")
	}

	cancel()
	feed.Close()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after Close")
	}
}
