package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"debtapproval/internal/apperror"
	"debtapproval/internal/middleware"
	"debtapproval/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	maxFrameBytes   = 64 << 10
	dispatchTimeout = 30 * time.Second
	sendBuffer      = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Allow all origins; CORS is enforced on the HTTP API
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Frame types
const (
	FramePrompt = "prompt"
	FrameReply  = "reply"
	FrameError  = "error"
	FrameEvent  = "event"
	FrameAction = "action"
)

// Inbound is a frame sent by a client. ID is echoed back on the reply.
type Inbound struct {
	Type string          `json:"type"`
	ID   string          `json:"id,omitempty"`
	Data json.RawMessage `json:"data"`
}

// Outbound is a frame pushed to a client.
type Outbound struct {
	Type  string      `json:"type"`
	ID    string      `json:"id,omitempty"`
	Data  interface{} `json:"data,omitempty"`
	Error string      `json:"error,omitempty"`
	Code  string      `json:"code,omitempty"`
}

// Dispatcher handles inbound frames on behalf of an authenticated user.
type Dispatcher interface {
	Dispatch(ctx context.Context, id middleware.Identity, frame Inbound) (interface{}, error)
}

// Client represents a single connected WebSocket client
type Client struct {
	Hub      *Hub
	Conn     *websocket.Conn
	Send     chan []byte
	Identity middleware.Identity
}

// Hub keeps the connected clients per user and delivers prompts to them.
// It implements service.Messenger; a user with no open connection simply misses the push.
type Hub struct {
	clients    map[uuid.UUID]map[*Client]bool
	register   chan *Client
	unregister chan *Client
	mu         sync.RWMutex
	done       chan struct{}
	dispatcher Dispatcher
	logger     *logrus.Logger
}

var _ service.Messenger = (*Hub)(nil)

// NewHub initializes a new WS Hub instance
func NewHub(logger *logrus.Logger) *Hub {
	return &Hub{
		register:   make(chan *Client),
		unregister: make(chan *Client),
		clients:    make(map[uuid.UUID]map[*Client]bool),
		done:       make(chan struct{}),
		logger:     logger,
	}
}

// SetDispatcher installs the inbound frame handler; without one inbound frames are rejected.
func (h *Hub) SetDispatcher(d Dispatcher) {
	h.mu.Lock()
	h.dispatcher = d
	h.mu.Unlock()
}

// Run processes registrations until ctx is done, then closes every client.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			set, ok := h.clients[client.Identity.UserID]
			if !ok {
				set = make(map[*Client]bool)
				h.clients[client.Identity.UserID] = set
			}
			set[client] = true
			h.mu.Unlock()
			h.logger.WithField("user_id", client.Identity.UserID).Debug("websocket client connected")
		case client := <-h.unregister:
			h.mu.Lock()
			if h.remove(client) {
				h.logger.WithField("user_id", client.Identity.UserID).Debug("websocket client disconnected")
			}
			h.mu.Unlock()
		case <-ctx.Done():
			close(h.done)
			h.mu.Lock()
			for _, set := range h.clients {
				for client := range set {
					h.remove(client)
				}
			}
			h.mu.Unlock()
			return
		}
	}
}

// remove must be called with h.mu held.
func (h *Hub) remove(client *Client) bool {
	set, ok := h.clients[client.Identity.UserID]
	if !ok || !set[client] {
		return false
	}
	delete(set, client)
	close(client.Send)
	if len(set) == 0 {
		delete(h.clients, client.Identity.UserID)
	}
	return true
}

// Online reports how many connections the user has open.
func (h *Hub) Online(userID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID])
}

// Send pushes a prompt to every connection of the user.
func (h *Hub) Send(ctx context.Context, userID uuid.UUID, p service.Prompt) error {
	msg, err := json.Marshal(Outbound{Type: FramePrompt, Data: p})
	if err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients[userID] {
		select {
		case client.Send <- msg:
		default:
			h.logger.WithField("user_id", userID).Warn("websocket client too slow, dropping connection")
			h.remove(client)
		}
	}
	return nil
}

// reply queues a frame for one client; it is a no-op once the client is gone.
func (h *Hub) reply(client *Client, out Outbound) {
	msg, err := json.Marshal(out)
	if err != nil {
		h.logger.WithError(err).Error("encode websocket reply")
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.clients[client.Identity.UserID][client] {
		return
	}
	select {
	case client.Send <- msg:
	default:
		h.remove(client)
	}
}

func (h *Hub) dispatch(client *Client, frame Inbound) {
	h.mu.RLock()
	d := h.dispatcher
	h.mu.RUnlock()
	if d == nil {
		h.reply(client, errorFrame(frame.ID, apperror.Validation("Inbound frames are not accepted.")))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), dispatchTimeout)
	defer cancel()
	data, err := d.Dispatch(ctx, client.Identity, frame)
	if err != nil {
		e := apperror.From(err)
		if e.Kind == apperror.KindInternal {
			h.logger.WithError(err).WithField("user_id", client.Identity.UserID).Error("websocket dispatch failed")
		}
		h.reply(client, errorFrame(frame.ID, e))
		return
	}
	h.reply(client, Outbound{Type: FrameReply, ID: frame.ID, Data: data})
}

func errorFrame(id string, e *apperror.Error) Outbound {
	out := Outbound{Type: FrameError, ID: id, Error: e.Message, Code: e.Code}
	if len(e.Details) > 0 {
		out.Data = e.Details
	}
	return out
}

// writePump handles writing messages from the Hub to the WebSocket connection
func (c *Client) writePump() {
	defer func() {
		_ = c.Conn.Close()
	}()
	for message := range c.Send {
		if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
			return
		}
	}
	_ = c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
}

// readPump decodes inbound frames and hands them to the dispatcher in order.
func (c *Client) readPump() {
	defer func() {
		select {
		case c.Hub.unregister <- c:
		case <-c.Hub.done:
		}
		_ = c.Conn.Close()
	}()
	c.Conn.SetReadLimit(maxFrameBytes)
	for {
		_, data, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.Hub.logger.WithError(err).Warn("websocket read failed")
			}
			break
		}
		var frame Inbound
		if err := json.Unmarshal(data, &frame); err != nil {
			c.Hub.reply(c, errorFrame("", apperror.Validation("Frame is not valid JSON.")))
			continue
		}
		c.Hub.dispatch(c, frame)
	}
}

// ServeWs handles websocket requests from the peer
func ServeWs(hub *Hub, c *gin.Context, secret []byte) {
	// Authenticate via token query param
	tokenString := c.Query("token")
	if tokenString == "" {
		hub.logger.Info("websocket connection rejected: missing token")
		c.AbortWithStatus(http.StatusUnauthorized)
		return
	}
	id, err := middleware.ParseToken(tokenString, secret)
	if err != nil {
		hub.logger.WithError(err).Info("websocket connection rejected: invalid token")
		c.AbortWithStatus(http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		hub.logger.WithError(err).Warn("websocket upgrade failed")
		return
	}
	client := &Client{Hub: hub, Conn: conn, Send: make(chan []byte, sendBuffer), Identity: id}
	select {
	case hub.register <- client:
	case <-hub.done:
		_ = conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}
