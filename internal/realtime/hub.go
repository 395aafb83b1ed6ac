package realtime

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	writeWait      = 10 * time.Second
	pingPeriod     = 30 * time.Second
	sendBufferSize = 128
)

// Event is the wire envelope pushed to dashboard clients.
type Event struct {
	Event          string    `json:"event"`
	ConversationID string    `json:"conversationId,omitempty"`
	Data           any       `json:"data,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// clientCommand is what connected clients send upstream: conversation room
// join/leave requests.
type clientCommand struct {
	Action         string `json:"action"` // "join" | "leave"
	ConversationID string `json:"conversationId"`
}

// Hub tracks connected dashboard clients and their conversation
// subscriptions. It implements Broadcaster.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*client
}

type client struct {
	id            string
	userID        string
	ws            *websocket.Conn
	send          chan []byte
	closeOnce     sync.Once
	closed        chan struct{}
	mu            sync.Mutex
	conversations map[string]struct{}
}

func NewHub() *Hub {
	return &Hub{clients: make(map[string]*client)}
}

// Register attaches an authenticated websocket connection to the hub and
// starts its read/write loops. Blocks until the client disconnects.
func (h *Hub) Register(userID string, ws *websocket.Conn) {
	c := &client{
		id:            uuid.NewString(),
		userID:        userID,
		ws:            ws,
		send:          make(chan []byte, sendBufferSize),
		closed:        make(chan struct{}),
		conversations: make(map[string]struct{}),
	}

	h.mu.Lock()
	h.clients[c.id] = c
	h.mu.Unlock()

	log.Debug().Str("user_id", userID).Str("client_id", c.id).Msg("realtime client connected")

	go c.writeLoop()
	c.readLoop() // returns on disconnect

	h.mu.Lock()
	delete(h.clients, c.id)
	h.mu.Unlock()
	c.close()

	log.Debug().Str("user_id", userID).Str("client_id", c.id).Msg("realtime client disconnected")
}

func (h *Hub) ToConversation(conversationID, event string, payload any) {
	h.broadcast(Event{
		Event:          event,
		ConversationID: conversationID,
		Data:           payload,
		Timestamp:      time.Now().UTC(),
	}, func(c *client) bool { return c.watches(conversationID) })
}

func (h *Hub) ToAll(event string, payload any) {
	h.broadcast(Event{
		Event:     event,
		Data:      payload,
		Timestamp: time.Now().UTC(),
	}, func(*client) bool { return true })
}

// ClientCount reports connected clients. Used by the health endpoint.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) broadcast(ev Event, match func(*client) bool) {
	payload, err := json.Marshal(ev)
	if err != nil {
		log.Error().Err(err).Str("event", ev.Event).Msg("failed to marshal realtime event")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients {
		if match(c) {
			c.trySend(payload)
		}
	}
}

func (c *client) watches(conversationID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.conversations[conversationID]
	return ok
}

// trySend enqueues without blocking; a slow client with a full buffer is
// disconnected to keep backpressure bounded.
func (c *client) trySend(payload []byte) {
	select {
	case <-c.closed:
	case c.send <- payload:
	default:
		log.Warn().Str("client_id", c.id).Msg("realtime send buffer full, dropping client")
		c.close()
	}
}

func (c *client) close() {
	c.closeOnce.Do(func() {
		close(c.closed)
		_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), time.Now().Add(writeWait))
		_ = c.ws.Close()
	})
}

func (c *client) readLoop() {
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			return
		}

		var cmd clientCommand
		if err := json.Unmarshal(data, &cmd); err != nil {
			continue
		}

		c.mu.Lock()
		switch cmd.Action {
		case "join":
			if cmd.ConversationID != "" {
				c.conversations[cmd.ConversationID] = struct{}{}
			}
		case "leave":
			delete(c.conversations, cmd.ConversationID)
		}
		c.mu.Unlock()
	}
}

func (c *client) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.closed:
			return
		case msg := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.close()
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				c.close()
				return
			}
		}
	}
}
