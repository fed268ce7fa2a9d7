package websocket

import (
	"net/http"
	"net/http/httptest"
	"runtime"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"

	"pairgrid/pkg/logging"
)

// Stop must wait for the run and heartbeat goroutines; a heartbeat left
// behind after Stop shows up as a goroutine count that never settles.
func TestStopLeavesNoGoroutinesBehind(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		upgrader := websocket.Upgrader{}
		conn, _ := upgrader.Upgrade(w, r, nil)
		defer conn.Close()
		for {
			_, _, err := conn.ReadMessage()
			if err != nil {
				return
			}
		}
	}))
	defer server.Close()

	time.Sleep(100 * time.Millisecond)
	initialGoroutines := runtime.NumGoroutine()

	client := NewClient(wsURL(server), func(message []byte) {}, logging.Nop())
	client.SetPingConfig(10*time.Millisecond, 10*time.Millisecond, 10*time.Millisecond)

	client.Start()
	time.Sleep(200 * time.Millisecond)
	client.Stop()
	time.Sleep(50 * time.Millisecond)

	finalGoroutines := runtime.NumGoroutine()
	assert.LessOrEqual(t, finalGoroutines, initialGoroutines+1, "possible goroutine leak after Stop")
}
