package chain

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/degenduel/duel-settlement/entities"
	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var upgrader = websocket.Upgrader{}

// newWSServer upgrades, hands the connection to serve and counts disconnects.
func newWSServer(t *testing.T, serve func(conn *websocket.Conn)) (string, *atomic.Int32) {
	var closed atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		serve(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				closed.Add(1)
				return
			}
		}
	}))
	t.Cleanup(server.Close)
	return "ws" + strings.TrimPrefix(server.URL, "http"), &closed
}

func acceptSubscription(t *testing.T, conn *websocket.Conn) {
	var req rpcRequest
	var raw map[string]json.RawMessage
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &raw))
	require.NoError(t, json.Unmarshal(data, &req))
	assert.Equal(t, "eth_subscribe", req.Method)
	assert.Contains(t, string(raw["params"]), `"logs"`)
	assert.Contains(t, string(raw["params"]), strings.ToLower(testContract))
	_ = conn.WriteJSON(map[string]any{"jsonrpc": "2.0", "id": 1, "result": "0xsub"})
}

func notification(log map[string]any) map[string]any {
	return map[string]any{
		"jsonrpc": "2.0",
		"method":  "eth_subscription",
		"params":  map[string]any{"subscription": "0xsub", "result": log},
	}
}

func TestSubscriber_DialAndNext(t *testing.T) {
	url, closed := newWSServer(t, func(conn *websocket.Conn) {
		acceptSubscription(t, conn)
		_ = conn.WriteJSON(map[string]any{"jsonrpc": "2.0", "method": "something_else"})
		_ = conn.WriteJSON(notification(rpcLog(DuelCreatedTopic, duelSeven)))
	})

	sub, err := NewSubscriber(url, testContract, time.Second).Dial(t.Context())
	require.NoError(t, err)
	assert.Equal(t, "0xsub", sub.ID())

	event, err := sub.Next()
	require.NoError(t, err)
	assert.Equal(t, entities.DuelCreated, event.Type)
	assert.Equal(t, "7", event.DuelID)

	require.NoError(t, sub.Close())
	require.NoError(t, sub.Close())
	assert.Eventually(t, func() bool { return closed.Load() == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestSubscription_MalformedMessage(t *testing.T) {
	url, _ := newWSServer(t, func(conn *websocket.Conn) {
		acceptSubscription(t, conn)
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{not json`))
		_ = conn.WriteJSON(notification(map[string]any{"topics": "wrong"}))
		_ = conn.WriteJSON(notification(rpcLog(common.HexToHash("0x01"), duelSeven)))
	})

	sub, err := NewSubscriber(url, testContract, time.Second).Dial(t.Context())
	require.NoError(t, err)
	defer sub.Close()

	_, err = sub.Next()
	require.ErrorIs(t, err, ErrMalformedMessage)
	_, err = sub.Next()
	require.ErrorIs(t, err, ErrMalformedMessage)
	_, err = sub.Next()
	require.ErrorIs(t, err, ErrMalformedMessage)
}

func TestSubscription_ServerClosesNormally(t *testing.T) {
	url, _ := newWSServer(t, func(conn *websocket.Conn) {
		acceptSubscription(t, conn)
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"))
	})

	sub, err := NewSubscriber(url, testContract, time.Second).Dial(t.Context())
	require.NoError(t, err)
	defer sub.Close()

	_, err = sub.Next()
	require.ErrorIs(t, err, io.EOF)
}

func TestSubscription_NextFailsAfterClose(t *testing.T) {
	url, _ := newWSServer(t, func(conn *websocket.Conn) {
		acceptSubscription(t, conn)
	})

	sub, err := NewSubscriber(url, testContract, time.Second).Dial(t.Context())
	require.NoError(t, err)
	require.NoError(t, sub.Close())

	_, err = sub.Next()
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrMalformedMessage)
}

func TestSubscriber_DialFailures(t *testing.T) {
	t.Run("unreachable", func(t *testing.T) {
		server := httptest.NewServer(http.NotFoundHandler())
		url := "ws" + strings.TrimPrefix(server.URL, "http")
		server.Close()

		_, err := NewSubscriber(url, testContract, time.Second).Dial(t.Context())
		require.Error(t, err)
	})

	t.Run("not a websocket", func(t *testing.T) {
		server := httptest.NewServer(http.NotFoundHandler())
		defer server.Close()

		_, err := NewSubscriber("ws"+strings.TrimPrefix(server.URL, "http"), testContract, time.Second).Dial(t.Context())
		require.Error(t, err)
	})

	t.Run("rejected", func(t *testing.T) {
		url, _ := newWSServer(t, func(conn *websocket.Conn) {
			_, _, _ = conn.ReadMessage()
			_ = conn.WriteJSON(map[string]any{"jsonrpc": "2.0", "id": 1, "error": map[string]any{"code": -32601, "message": "method not found"}})
		})

		_, err := NewSubscriber(url, testContract, time.Second).Dial(t.Context())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "method not found")
	})

	t.Run("no reply within timeout", func(t *testing.T) {
		url, _ := newWSServer(t, func(conn *websocket.Conn) {
			_, _, _ = conn.ReadMessage()
		})

		started := time.Now()
		_, err := NewSubscriber(url, testContract, 200*time.Millisecond).Dial(t.Context())
		require.Error(t, err)
		assert.Less(t, time.Since(started), 2*time.Second)
	})
}
