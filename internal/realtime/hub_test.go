package realtime

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

var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

// dial connects a real websocket client to the hub through an httptest
// server and waits until the hub has registered it.
func dial(t *testing.T, h *Hub) *websocket.Conn {
	t.Helper()

	before := h.ClientCount()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		h.Register("user-1", ws)
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	require.Eventually(t, func() bool { return h.ClientCount() == before+1 },
		time.Second, 5*time.Millisecond)
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) Event {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var ev Event
	require.NoError(t, json.Unmarshal(data, &ev))
	return ev
}

func TestHub_ToAllReachesEveryClient(t *testing.T) {
	h := NewHub()
	a := dial(t, h)
	b := dial(t, h)

	h.ToAll("notification", map[string]string{"title": "escalation"})

	for _, conn := range []*websocket.Conn{a, b} {
		ev := readEvent(t, conn)
		assert.Equal(t, "notification", ev.Event)
		assert.Empty(t, ev.ConversationID)
		assert.False(t, ev.Timestamp.IsZero())
	}
}

func TestHub_ToConversationOnlyReachesSubscribers(t *testing.T) {
	h := NewHub()
	subscriber := dial(t, h)
	bystander := dial(t, h)

	require.NoError(t, subscriber.WriteJSON(clientCommand{Action: "join", ConversationID: "conv-1"}))

	// Join is processed asynchronously by the read loop; probe until the
	// subscription is live.
	var ev Event
	require.Eventually(t, func() bool {
		h.ToConversation("conv-1", "new_message", map[string]string{"content": "hi"})
		subscriber.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
		_, data, err := subscriber.ReadMessage()
		if err != nil {
			return false
		}
		return json.Unmarshal(data, &ev) == nil
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, "new_message", ev.Event)
	assert.Equal(t, "conv-1", ev.ConversationID)

	// The bystander never joined conv-1 and must see nothing.
	bystander.SetReadDeadline(time.Now().Add(150 * time.Millisecond))
	_, _, err := bystander.ReadMessage()
	assert.Error(t, err, "expected read timeout for unsubscribed client")
}

func TestHub_LeaveStopsDelivery(t *testing.T) {
	h := NewHub()
	conn := dial(t, h)

	require.NoError(t, conn.WriteJSON(clientCommand{Action: "join", ConversationID: "conv-1"}))
	require.Eventually(t, func() bool {
		h.ToConversation("conv-1", "ping", nil)
		conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
		_, _, err := conn.ReadMessage()
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, conn.WriteJSON(clientCommand{Action: "leave", ConversationID: "conv-1"}))

	// After the leave lands, events stop arriving.
	assert.Eventually(t, func() bool {
		h.ToConversation("conv-1", "ping", nil)
		conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
		_, _, err := conn.ReadMessage()
		return err != nil
	}, 2*time.Second, 10*time.Millisecond)
}

func TestHub_ClientCountTracksDisconnects(t *testing.T) {
	h := NewHub()
	conn := dial(t, h)
	require.Equal(t, 1, h.ClientCount())

	conn.Close()
	require.Eventually(t, func() bool { return h.ClientCount() == 0 },
		time.Second, 5*time.Millisecond)
}

func TestNoopBroadcaster(t *testing.T) {
	// Must be safe to call with anything.
	var b Broadcaster = NoopBroadcaster{}
	b.ToAll("x", nil)
	b.ToConversation("c", "x", struct{}{})
}
