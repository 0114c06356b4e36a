package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/atomic"

	"Story-Loom/server/internal/engine"
	"Story-Loom/server/internal/interfaces"
)

const (
	commandTimeout = 10 * time.Second
	pingInterval   = 30 * time.Second
	readDeadline   = 60 * time.Second
	maxMessageSize = 4096
)

// Inbound message types
const (
	msgStartGame   = "start-game"
	msgTakeAction  = "take-action"
	msgSubmitPhoto = "submit-photo"
)

// Engine is the part of the turn orchestrator driven by clients
type Engine interface {
	StartGame(ctx context.Context, sessionID string) error
	TakeAction(ctx context.Context, sessionID, action string) error
	SubmitPhoto(ctx context.Context, sessionID, url string) error
	Reset(ctx context.Context, sessionID string) error
}

// clientMessage is what a client sends over its websocket
type clientMessage struct {
	Type   string `json:"type"`
	Action string `json:"action,omitempty"`
	URL    string `json:"url,omitempty"`
}

// serverMessage is what the server pushes to clients
type serverMessage struct {
	Type    string `json:"type"`
	Message string `json:"message,omitempty"`
}

// Client represents a WebSocket client connection bound to one session
type Client struct {
	ID        string
	SessionID string
	Conn      *websocket.Conn
	Send      chan []byte
	Hub       *SessionHub
	mu        sync.Mutex
	closed    *atomic.Bool
}

// SessionHub tracks the websocket clients of every session and fans
// notifications out to the clients of the session they name
type SessionHub struct {
	clients    map[string]map[string]*Client
	register   chan *Client
	unregister chan *Client
	broadcast  chan interfaces.Notification
	engine     Engine
	count      *atomic.Int32
	mu         sync.RWMutex

	// done is closed when Run returns
	done     chan struct{}
	stopOnce sync.Once
}

// NewSessionHub creates a hub that dispatches client commands to eng
func NewSessionHub(eng Engine) *SessionHub {
	return &SessionHub{
		clients:    make(map[string]map[string]*Client),
		register:   make(chan *Client, 100),
		unregister: make(chan *Client, 100),
		broadcast:  make(chan interfaces.Notification, 1000),
		engine:     eng,
		count:      atomic.NewInt32(0),
		done:       make(chan struct{}),
	}
}

// SetEngine attaches the engine once it exists; the engine needs the hub as
// its notifier, so one of them is wired after construction
func (h *SessionHub) SetEngine(eng Engine) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.engine = eng
}

// Run starts the hub's event loop and returns when ctx is done
func (h *SessionHub) Run(ctx context.Context) {
	defer h.stopOnce.Do(func() { close(h.done) })

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return

		case client := <-h.register:
			h.registerClient(client)

		case client := <-h.unregister:
			h.unregisterClient(client)

		case n := <-h.broadcast:
			h.broadcastNotification(n)
		}
	}
}

// Publish implements interfaces.Notifier for a single instance
func (h *SessionHub) Publish(ctx context.Context, n interfaces.Notification) error {
	if !h.Broadcast(n) {
		return fmt.Errorf("hub broadcast channel full, dropped %s for session %s", n.Type, n.SessionID)
	}
	return nil
}

// Broadcast queues a notification without blocking
func (h *SessionHub) Broadcast(n interfaces.Notification) bool {
	select {
	case h.broadcast <- n:
		return true
	default:
		log.Printf("[Hub] Broadcast channel full, dropping %s for session %s", n.Type, n.SessionID)
		return false
	}
}

// join hands a client to the event loop, failing once the loop has stopped
func (h *SessionHub) join(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.done:
		return false
	}
}

// leave hands a closing client to the event loop unless the loop has stopped
func (h *SessionHub) leave(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// GetClientCount returns the number of connected clients across sessions
func (h *SessionHub) GetClientCount() int {
	return int(h.count.Load())
}

func (h *SessionHub) registerClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.clients[client.SessionID] == nil {
		h.clients[client.SessionID] = make(map[string]*Client)
	}
	h.clients[client.SessionID][client.ID] = client
	total := h.count.Inc()
	log.Printf("[Hub] Client %s joined session %s (total: %d)", client.ID, client.SessionID, total)

	go client.writePump()
}

func (h *SessionHub) unregisterClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	clients := h.clients[client.SessionID]
	if _, ok := clients[client.ID]; !ok {
		return
	}
	delete(clients, client.ID)
	if len(clients) == 0 {
		delete(h.clients, client.SessionID)
	}
	close(client.Send)
	total := h.count.Dec()
	log.Printf("[Hub] Client %s left session %s (total: %d)", client.ID, client.SessionID, total)
}

func (h *SessionHub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for sessionID, clients := range h.clients {
		for _, client := range clients {
			client.Close()
		}
		delete(h.clients, sessionID)
	}
	h.count.Store(0)
}

// broadcastNotification sends a notification to the clients of its session
func (h *SessionHub) broadcastNotification(n interfaces.Notification) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	clients := h.clients[n.SessionID]
	if len(clients) == 0 {
		return
	}

	data, err := json.Marshal(serverMessage{Type: n.Type, Message: n.Message})
	if err != nil {
		log.Printf("[Hub] Failed to marshal notification: %v", err)
		return
	}

	for _, client := range clients {
		select {
		case client.Send <- data:
		default:
			log.Printf("[Hub] Client send buffer full: %s", client.ID)
		}
	}
}

func (h *SessionHub) currentEngine() Engine {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.engine
}

// newClient wraps an upgraded connection
func newClient(hub *SessionHub, sessionID string, conn *websocket.Conn) *Client {
	return &Client{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Conn:      conn,
		Send:      make(chan []byte, 256),
		Hub:       hub,
		closed:    atomic.NewBool(false),
	}
}

// writePump pumps messages from the hub to the WebSocket connection
func (c *Client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.mu.Lock()
			if !ok {
				// Hub closed the channel
				c.closed.Store(true)
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				c.mu.Unlock()
				return
			}

			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Printf("[Client] Error writing to %s: %v", c.ID, err)
				c.closed.Store(true)
				c.mu.Unlock()
				return
			}
			c.mu.Unlock()

		case <-ticker.C:
			c.mu.Lock()
			if c.closed.Load() {
				c.mu.Unlock()
				return
			}

			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Printf("[Client] Error sending ping to %s: %v", c.ID, err)
				c.closed.Store(true)
				c.mu.Unlock()
				return
			}
			c.mu.Unlock()
		}
	}
}

// Close closes the client connection
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Swap(true) {
		return
	}
	c.Conn.Close()
}

// readPump reads client commands and dispatches them to the engine
func (c *Client) readPump() {
	defer func() {
		c.Hub.leave(c)
		c.Close()
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(readDeadline))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(readDeadline))
		return nil
	})

	for {
		_, data, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("[Client] Unexpected close from %s: %v", c.ID, err)
			}
			break
		}
		c.Conn.SetReadDeadline(time.Now().Add(readDeadline))

		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.sendError("invalid message")
			continue
		}
		if err := c.dispatch(msg); err != nil {
			log.Printf("[Client] %s on session %s rejected: %v", msg.Type, c.SessionID, err)
			c.sendError(publicMessage(err))
		}
	}
}

// dispatch runs one command. Turns run on the engine's own context, so the
// command context only bounds the acceptance step.
func (c *Client) dispatch(msg clientMessage) error {
	eng := c.Hub.currentEngine()
	if eng == nil {
		return errEngineUnavailable
	}

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	switch msg.Type {
	case msgStartGame:
		return eng.StartGame(ctx, c.SessionID)
	case msgTakeAction:
		return eng.TakeAction(ctx, c.SessionID, msg.Action)
	case msgSubmitPhoto:
		return eng.SubmitPhoto(ctx, c.SessionID, msg.URL)
	default:
		return fmt.Errorf("%w: %q", errUnknownMessage, msg.Type)
	}
}

// sendError queues an error for this client only
func (c *Client) sendError(message string) {
	data, _ := json.Marshal(serverMessage{Type: interfaces.NotifyError, Message: message})
	if c.closed.Load() {
		return
	}
	select {
	case c.Send <- data:
	default:
		log.Printf("[Client] Send buffer full, dropping error for %s", c.ID)
	}
}

var (
	errEngineUnavailable = errors.New("engine unavailable")
	errUnknownMessage    = errors.New("unknown message type")
)

// publicMessage maps an error to the text a client may see
func publicMessage(err error) string {
	switch {
	case errors.Is(err, engine.ErrTurnAlreadyInProgress):
		return "the story is still being written"
	case errors.Is(err, engine.ErrBudgetExhausted):
		return "no actions left"
	case errors.Is(err, engine.ErrAlreadyStarted):
		return "the story has already started"
	case errors.Is(err, engine.ErrNotStarted):
		return "the story has not started yet"
	case errors.Is(err, engine.ErrEmptyAction):
		return "action is empty"
	case errors.Is(err, errUnknownMessage):
		return "unknown message type"
	default:
		return "request failed"
	}
}
