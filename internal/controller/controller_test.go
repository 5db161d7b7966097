package controller

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jvsync/server/internal/resolver"
	"github.com/jvsync/server/internal/state"
)

func newTestServer(t *testing.T, heartbeat time.Duration, providerHandler http.HandlerFunc) *httptest.Server {
	t.Helper()

	logger := slog.Default()

	authority := state.NewAuthority(logger)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go authority.Run(ctx)

	provider := httptest.NewServer(providerHandler)
	t.Cleanup(provider.Close)

	listing := fmt.Sprintf(`[["test-provider", {"uri": %q, "monitor": {"uptime": 99, "down": false}}]]`, provider.URL)
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(listing))
	}))
	t.Cleanup(upstream.Close)

	directory := resolver.NewDirectory(upstream.URL, http.DefaultClient, logger)
	require.NoError(t, directory.Refresh(context.Background()))

	videoResolver := resolver.NewResolver(directory, http.DefaultClient, 5*time.Second, logger)

	ctrl := NewController(authority, videoResolver, &Config{HeartbeatInterval: heartbeat}, logger)

	server := httptest.NewServer(ctrl.Mux())
	t.Cleanup(server.Close)

	return server
}

func friendlyProvider(title string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"title": %q, "isFamilyFriendly": true}`, title)
	}
}

type testClient struct {
	t    *testing.T
	conn *websocket.Conn
}

func dial(t *testing.T, server *httptest.Server) *testClient {
	t.Helper()

	wsUrl := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsUrl, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	return &testClient{t: t, conn: conn}
}

func (c *testClient) send(v any) {
	c.t.Helper()
	require.NoError(c.t, c.conn.WriteJSON(v))
}

func (c *testClient) read(timeout time.Duration) (map[string]any, error) {
	c.conn.SetReadDeadline(time.Now().Add(timeout))
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		return nil, err
	}

	var msg map[string]any
	require.NoError(c.t, json.Unmarshal(data, &msg))

	return msg, nil
}

// readUntil discards messages until one of the wanted type arrives.
func (c *testClient) readUntil(messageType string) map[string]any {
	c.t.Helper()

	for {
		msg, err := c.read(3 * time.Second)
		require.NoError(c.t, err, "timed out waiting for %q", messageType)

		if msg["type"] == messageType {
			return msg
		}
	}
}

// collectUntil returns every message received before the first one of
// the given type.
func (c *testClient) collectUntil(messageType string) []map[string]any {
	c.t.Helper()

	var collected []map[string]any
	for {
		msg, err := c.read(3 * time.Second)
		require.NoError(c.t, err, "timed out waiting for %q", messageType)

		if msg["type"] == messageType {
			return collected
		}
		collected = append(collected, msg)
	}
}

// expectNone asserts no message of the given type arrives within the window.
func (c *testClient) expectNone(messageType string, window time.Duration) {
	c.t.Helper()

	deadline := time.Now().Add(window)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return
		}

		msg, err := c.read(remaining)
		if err != nil {
			return
		}
		assert.NotEqual(c.t, messageType, msg["type"])
	}
}

func assertNoneOfType(t *testing.T, msgs []map[string]any, messageType string) {
	t.Helper()

	for _, msg := range msgs {
		assert.NotEqual(t, messageType, msg["type"])
	}
}

func TestJoinBroadcastsRoomState(t *testing.T) {
	server := newTestServer(t, time.Minute, friendlyProvider("ignored"))

	a := dial(t, server)
	a.send(map[string]any{"type": "sendToRoom", "roomId": "movie-night"})
	a.readUntil("updateHistory")
	a.readUntil("connectedClients")
	a.readUntil("unlockSetVideo")

	b := dial(t, server)
	b.send(map[string]any{"type": "sendToRoom", "roomId": "movie-night"})
	b.readUntil("unlockSetVideo")

	// the earlier member sees the refreshed member list
	msg := a.readUntil("connectedClients")
	assert.Len(t, msg["clients"], 2)
}

func TestSetNameBroadcastsMemberList(t *testing.T) {
	server := newTestServer(t, time.Minute, friendlyProvider("ignored"))

	a := dial(t, server)
	a.send(map[string]any{"type": "sendToRoom", "roomId": "r"})
	a.readUntil("unlockSetVideo")

	a.send(map[string]any{"type": "setName", "name": "alice", "roomId": "r"})
	msg := a.readUntil("connectedClients")
	assert.Equal(t, []any{"alice"}, msg["clients"])
}

func TestReadinessQuorumBroadcast(t *testing.T) {
	server := newTestServer(t, time.Minute, friendlyProvider("ignored"))

	a := dial(t, server)
	a.send(map[string]any{"type": "sendToRoom", "roomId": "r"})
	a.readUntil("unlockSetVideo")

	b := dial(t, server)
	b.send(map[string]any{"type": "sendToRoom", "roomId": "r"})
	b.readUntil("unlockSetVideo")

	other := dial(t, server)
	other.send(map[string]any{"type": "sendToRoom", "roomId": "elsewhere"})
	other.readUntil("unlockSetVideo")

	a.send(map[string]any{"type": "setReady", "roomId": "r"})
	msgs := a.collectUntil("unlockSetVideo")
	assertNoneOfType(t, msgs, "setPlaying")

	b.send(map[string]any{"type": "setReady", "roomId": "r"})

	msg := a.readUntil("setPlaying")
	assert.Equal(t, true, msg["status"])
	msg = b.readUntil("setPlaying")
	assert.Equal(t, true, msg["status"])

	// quorum in one room never leaks into another
	other.expectNone("setPlaying", 300*time.Millisecond)
}

func TestSetVideoBroadcastAndIdempotence(t *testing.T) {
	server := newTestServer(t, time.Minute, friendlyProvider("Some Video"))

	a := dial(t, server)
	a.send(map[string]any{"type": "sendToRoom", "roomId": "r"})
	a.readUntil("unlockSetVideo")

	a.send(map[string]any{"type": "setVideo", "url": "https://youtu.be/ABC123", "roomId": "r"})

	msg := a.readUntil("setVideo")
	assert.Equal(t, "ABC123", msg["videoId"])
	assert.Equal(t, false, msg["isRestrictedVideo"])

	msg = a.readUntil("updateHistory")
	history := msg["history"].([]any)
	require.Len(t, history, 1)
	entry := history[0].(map[string]any)
	assert.Equal(t, "ABC123", entry["videoId"])
	assert.Equal(t, "Some Video", entry["title"])
	a.readUntil("unlockSetVideo")

	// selecting the already-current video is a no-op
	a.send(map[string]any{"type": "setVideo", "url": "https://www.youtube.com/watch?v=ABC123", "roomId": "r"})
	msgs := a.collectUntil("unlockSetVideo")
	assertNoneOfType(t, msgs, "setVideo")
	assertNoneOfType(t, msgs, "updateHistory")
}

func TestRestrictedVideoNotAnnounced(t *testing.T) {
	server := newTestServer(t, time.Minute, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"title": "Late Night", "isFamilyFriendly": false}`))
	})

	a := dial(t, server)
	a.send(map[string]any{"type": "sendToRoom", "roomId": "r"})
	a.readUntil("unlockSetVideo")

	a.send(map[string]any{"type": "setVideo", "url": "https://youtu.be/XYZ789", "roomId": "r"})
	msgs := a.collectUntil("unlockSetVideo")
	assertNoneOfType(t, msgs, "setVideo")
	assertNoneOfType(t, msgs, "updateHistory")

	// the selection is still recorded: a later joiner sees it in history
	b := dial(t, server)
	b.send(map[string]any{"type": "sendToRoom", "roomId": "r"})
	msg := b.readUntil("updateHistory")
	history := msg["history"].([]any)
	require.Len(t, history, 1)
	assert.Equal(t, "XYZ789", history[0].(map[string]any)["videoId"])
}

func TestSetVideoUnsupportedHostIgnored(t *testing.T) {
	server := newTestServer(t, time.Minute, friendlyProvider("ignored"))

	a := dial(t, server)
	a.send(map[string]any{"type": "sendToRoom", "roomId": "r"})
	a.readUntil("unlockSetVideo")

	a.send(map[string]any{"type": "setVideo", "url": "https://example.com/watch?v=XYZ789", "roomId": "r"})
	msgs := a.collectUntil("unlockSetVideo")
	assertNoneOfType(t, msgs, "setVideo")
}

func TestPlaybackPassthroughBroadcasts(t *testing.T) {
	server := newTestServer(t, time.Minute, friendlyProvider("ignored"))

	a := dial(t, server)
	a.send(map[string]any{"type": "sendToRoom", "roomId": "r"})
	a.readUntil("unlockSetVideo")

	b := dial(t, server)
	b.send(map[string]any{"type": "sendToRoom", "roomId": "r"})
	b.readUntil("unlockSetVideo")

	a.send(map[string]any{"type": "setPlaying", "status": false, "roomId": "r"})
	msg := b.readUntil("setPlaying")
	assert.Equal(t, false, msg["status"])

	a.send(map[string]any{"type": "seeked", "time": 42.5, "roomId": "r"})
	msg = b.readUntil("seeked")
	assert.Equal(t, 42.5, msg["time"])

	a.send(map[string]any{"type": "setPlaybackRate", "rate": 1.5, "roomId": "r"})
	msg = b.readUntil("setPlaybackRate")
	assert.Equal(t, 1.5, msg["rate"])

	a.send(map[string]any{"type": "rewind", "seconds": 10, "roomId": "r"})
	msg = b.readUntil("rewind")
	assert.Equal(t, 10.0, msg["seconds"])
	assert.Equal(t, true, msg["shouldAnnounce"])
}

func TestMalformedFramesDropped(t *testing.T) {
	server := newTestServer(t, time.Minute, friendlyProvider("ignored"))

	a := dial(t, server)
	require.NoError(t, a.conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	a.readUntil("unlockSetVideo")

	// missing required roomId: dropped, connection stays alive
	a.send(map[string]any{"type": "setReady"})
	a.readUntil("unlockSetVideo")

	a.send(map[string]any{"type": "noSuchCommand", "roomId": "r"})
	a.readUntil("unlockSetVideo")
}

func TestDisconnectNotifiesRemainingMembers(t *testing.T) {
	server := newTestServer(t, time.Minute, friendlyProvider("ignored"))

	a := dial(t, server)
	a.send(map[string]any{"type": "sendToRoom", "roomId": "r"})
	a.readUntil("unlockSetVideo")

	b := dial(t, server)
	b.send(map[string]any{"type": "sendToRoom", "roomId": "r"})
	b.readUntil("unlockSetVideo")

	msg := a.readUntil("connectedClients")
	require.Len(t, msg["clients"], 2)

	require.NoError(t, b.conn.Close())

	msg = a.readUntil("connectedClients")
	assert.Len(t, msg["clients"], 1)
}

func TestDisconnectNotifiesEveryJoinedRoom(t *testing.T) {
	server := newTestServer(t, time.Minute, friendlyProvider("ignored"))

	// b joins both rooms a and c are watching in
	a := dial(t, server)
	a.send(map[string]any{"type": "sendToRoom", "roomId": "r1"})
	a.readUntil("unlockSetVideo")

	c := dial(t, server)
	c.send(map[string]any{"type": "sendToRoom", "roomId": "r2"})
	c.readUntil("unlockSetVideo")

	b := dial(t, server)
	b.send(map[string]any{"type": "sendToRoom", "roomId": "r1"})
	b.readUntil("unlockSetVideo")
	b.send(map[string]any{"type": "sendToRoom", "roomId": "r2"})
	b.readUntil("unlockSetVideo")

	msg := a.readUntil("connectedClients")
	require.Len(t, msg["clients"], 2)
	msg = c.readUntil("connectedClients")
	require.Len(t, msg["clients"], 2)

	require.NoError(t, b.conn.Close())

	msg = a.readUntil("connectedClients")
	assert.Len(t, msg["clients"], 1)
	msg = c.readUntil("connectedClients")
	assert.Len(t, msg["clients"], 1)
}

func TestHeartbeatPingAndPongTimeout(t *testing.T) {
	server := newTestServer(t, 100*time.Millisecond, friendlyProvider("ignored"))

	a := dial(t, server)
	a.readUntil("ping")

	// never answering the ping gets the connection closed
	deadline := time.Now().Add(3 * time.Second)
	for {
		require.True(t, time.Now().Before(deadline), "connection was not closed after missed pong")
		if _, err := a.read(time.Until(deadline)); err != nil {
			break
		}
	}
}

func TestHeartbeatPongKeepsConnectionAlive(t *testing.T) {
	server := newTestServer(t, 100*time.Millisecond, friendlyProvider("ignored"))

	a := dial(t, server)
	for i := 0; i < 4; i++ {
		a.readUntil("ping")
		a.send(map[string]any{"type": "pong"})
	}

	// still serving commands after several heartbeat cycles
	a.send(map[string]any{"type": "sendToRoom", "roomId": "r"})
	a.readUntil("connectedClients")
}
