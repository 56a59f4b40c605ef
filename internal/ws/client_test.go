package ws

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// dialTestConn gives a real client-side websocket connection backed by a
// throwaway test server that drains the server side.
func dialTestConn(t *testing.T) *websocket.Conn {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		go func() {
			for {
				if _, _, err := c.ReadMessage(); err != nil {
					return
				}
			}
		}()
	}))
	t.Cleanup(srv.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestEnqueueAfterCloseReportsFailure(t *testing.T) {
	f := newHubFixture(t)
	c := NewClient(f.hub, dialTestConn(t), "alice", 4)

	require.True(t, c.Enqueue(OutgoingMessage{Type: EventUserList}))
	c.Close()

	// Buffer space is still free; the result must reflect the closed pump,
	// not the available capacity.
	for i := 0; i < 3; i++ {
		assert.False(t, c.Enqueue(OutgoingMessage{Type: EventUserList}))
	}
}
