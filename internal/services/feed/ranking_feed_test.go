package feed

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFeedServer(t *testing.T, f *RankingFeed) string {
	t.Helper()
	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		f.Register(r.URL.Query().Get("guild"), conn)
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) ChangeEvent {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, message, err := conn.ReadMessage()
	require.NoError(t, err)
	var event ChangeEvent
	require.NoError(t, json.Unmarshal(message, &event))
	return event
}

func TestRankingFeed_DeliversPerGuild(t *testing.T) {
	f := NewRankingFeed()
	t.Cleanup(f.Shutdown)
	url := newFeedServer(t, f)

	g1 := dial(t, url+"?guild=g1")
	g2 := dial(t, url+"?guild=g2")
	require.Eventually(t, func() bool { return f.ClientCount() == 2 }, 2*time.Second, 10*time.Millisecond)

	f.NotifyGuildChanged("g2", "adjust")
	f.NotifyGuildChanged("g1", "activity")

	event := readEvent(t, g1)
	assert.Equal(t, "g1", event.GuildID)
	assert.Equal(t, "activity", event.Reason)
	assert.False(t, event.At.IsZero())

	event = readEvent(t, g2)
	assert.Equal(t, "g2", event.GuildID)
	assert.Equal(t, "adjust", event.Reason)
}

func TestRankingFeed_EmptyGuildBroadcastsToAll(t *testing.T) {
	f := NewRankingFeed()
	t.Cleanup(f.Shutdown)
	url := newFeedServer(t, f)

	g1 := dial(t, url+"?guild=g1")
	g2 := dial(t, url+"?guild=g2")
	require.Eventually(t, func() bool { return f.ClientCount() == 2 }, 2*time.Second, 10*time.Millisecond)

	f.NotifyGuildChanged("", "cache_clear")

	assert.Equal(t, "cache_clear", readEvent(t, g1).Reason)
	assert.Equal(t, "cache_clear", readEvent(t, g2).Reason)
}

func TestRankingFeed_UnregistersOnDisconnect(t *testing.T) {
	f := NewRankingFeed()
	t.Cleanup(f.Shutdown)
	url := newFeedServer(t, f)

	conn := dial(t, url+"?guild=g1")
	require.Eventually(t, func() bool { return f.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	conn.Close()
	assert.Eventually(t, func() bool { return f.ClientCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestRankingFeed_NotifyAfterShutdownDoesNotBlock(t *testing.T) {
	f := NewRankingFeed()
	f.Shutdown()

	done := make(chan struct{})
	go func() {
		f.NotifyGuildChanged("g1", "adjust")
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("NotifyGuildChanged blocked after Shutdown")
	}
}
