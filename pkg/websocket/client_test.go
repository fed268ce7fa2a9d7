package websocket

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pairgrid/pkg/logging"
)

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func TestClientHeartbeat(t *testing.T) {
	var pings int32
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		conn.SetPingHandler(func(string) error {
			atomic.AddInt32(&pings, 1)
			return conn.WriteControl(websocket.PongMessage, []byte{}, time.Now().Add(time.Second))
		})

		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}))
	defer server.Close()

	client := NewClient(wsURL(server), func(message []byte) {}, logging.Nop())
	client.SetPingConfig(100*time.Millisecond, 50*time.Millisecond, 200*time.Millisecond)
	client.reconnectWait = 10 * time.Millisecond

	client.Start()
	defer client.Stop()

	time.Sleep(500 * time.Millisecond)
	assert.GreaterOrEqual(t, atomic.LoadInt32(&pings), int32(2), "heartbeat should ping repeatedly")
}

func TestClientReconnectsOnPongTimeout(t *testing.T) {
	var connections int32
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&connections, 1)
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		// Swallow pings without ponging so the client's read deadline
		// expires and forces a redial.
		conn.SetPingHandler(func(string) error { return nil })

		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}))
	defer server.Close()

	client := NewClient(wsURL(server), func(message []byte) {}, logging.Nop())
	client.SetPingConfig(100*time.Millisecond, 50*time.Millisecond, 200*time.Millisecond)
	client.reconnectWait = 10 * time.Millisecond

	client.Start()
	defer client.Stop()

	time.Sleep(600 * time.Millisecond)
	assert.GreaterOrEqual(t, atomic.LoadInt32(&connections), int32(2), "pong starvation should force redials")
}

func TestClientResubscribesOnEveryConnect(t *testing.T) {
	type subMsg struct {
		Op      string `json:"op"`
		Channel string `json:"channel"`
		Pair    string `json:"pair"`
	}
	subs := make(chan subMsg, 8)
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		// Read the subscription, then hang up to provoke a reconnect.
		_, raw, err := conn.ReadMessage()
		if err == nil {
			var msg subMsg
			if json.Unmarshal(raw, &msg) == nil {
				subs <- msg
			}
		}
		conn.Close()
	}))
	defer server.Close()

	client := NewClient(wsURL(server), func(message []byte) {}, logging.Nop())
	client.SubscribeOnConnect(subMsg{Op: "subscribe", Channel: "ticker", Pair: "DOGEUSD"})
	client.reconnectWait = 10 * time.Millisecond

	client.Start()
	defer client.Stop()

	for i := 0; i < 2; i++ {
		select {
		case msg := <-subs:
			assert.Equal(t, "subscribe", msg.Op)
			assert.Equal(t, "DOGEUSD", msg.Pair)
		case <-time.After(2 * time.Second):
			t.Fatalf("connection %d never subscribed", i+1)
		}
	}
}

func TestLastMessageAtTracksFrames(t *testing.T) {
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"price":"0.1"}`))
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}))
	defer server.Close()

	got := make(chan struct{}, 1)
	client := NewClient(wsURL(server), func(message []byte) {
		select {
		case got <- struct{}{}:
		default:
		}
	}, logging.Nop())
	client.reconnectWait = 10 * time.Millisecond

	require.True(t, client.LastMessageAt().IsZero(), "no frames yet")

	client.Start()
	defer client.Stop()

	select {
	case <-got:
	case <-time.After(2 * time.Second):
		t.Fatal("frame never arrived")
	}
	assert.WithinDuration(t, time.Now(), client.LastMessageAt(), 2*time.Second)
}
