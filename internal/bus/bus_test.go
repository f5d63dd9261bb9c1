package bus

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	ws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// hub hands every accepted connection to conns.
func hub(t *testing.T) (string, <-chan *ws.Conn) {
	conns := make(chan *ws.Conn, 4)
	up := ws.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conns <- conn
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http"), conns
}

func next(t *testing.T, conns <-chan *ws.Conn) *ws.Conn {
	t.Helper()
	select {
	case c := <-conns:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("client never connected")
		return nil
	}
}

func echo(_ context.Context, text string) (string, error) {
	return "you said " + text, nil
}

func TestAnswersUtterances(t *testing.T) {
	url, conns := hub(t)
	c := New(url)
	c.Reconnect = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx, echo) }()

	conn := next(t, conns)
	defer conn.Close()

	// ignored: wrong kind, other recipient, garbage
	require.NoError(t, conn.WriteJSON(Message{From: "hub", Kind: "status", Content: "x"}))
	require.NoError(t, conn.WriteJSON(Message{From: "hub", To: "radio", Kind: KindUtterance, Content: "x"}))
	require.NoError(t, conn.WriteMessage(ws.TextMessage, []byte("{")))
	require.NoError(t, conn.WriteJSON(Message{From: "hub", To: "luna", Kind: KindUtterance, Content: "hello"}))

	var got Message
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, Message{From: "luna", To: "hub", Kind: KindReply, Content: "you said hello"}, got)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("client did not stop")
	}
}

func TestReconnects(t *testing.T) {
	url, conns := hub(t)
	c := New(url)
	c.Reconnect = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx, echo)

	first := next(t, conns)
	first.Close()

	second := next(t, conns)
	defer second.Close()

	require.NoError(t, second.WriteJSON(Message{From: "hub", Kind: KindUtterance, Content: "again"}))
	var got Message
	require.NoError(t, second.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, second.ReadJSON(&got))
	assert.Equal(t, "you said again", got.Content)
}
