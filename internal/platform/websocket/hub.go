// Package websocket pushes live events to connected users. Every connection
// is bound to an authenticated principal and subscribed to that user's
// topic; notifications are delivered there after the writing transaction
// commits.
package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	gorillawebsocket "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/villagecare/villagecare/internal/platform/auth"
	"github.com/villagecare/villagecare/internal/platform/metrics"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	sendBuffer = 64
)

// Event is the JSON frame sent to clients.
type Event struct {
	Type      string          `json:"type"`
	Topic     string          `json:"topic"`
	ProblemID int64           `json:"problem_id,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// ClientMessage is an inbound subscribe/unsubscribe request.
type ClientMessage struct {
	Action string   `json:"action"`
	Topics []string `json:"topics"`
}

// Publisher delivers events to subscribers of event.Topic.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

func UserTopic(userID int64) string { return fmt.Sprintf("user:%d", userID) }

func RoleTopic(role string) string { return "role:" + role }

// Client is one websocket connection.
type Client struct {
	ID        string
	Principal auth.Principal
	Topics    []string
	Send      chan []byte
}

// Hub tracks clients and their topic subscriptions.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]map[*Client]struct{}
	all     map[*Client]struct{}
	logger  zerolog.Logger
}

func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		clients: make(map[string]map[*Client]struct{}),
		all:     make(map[*Client]struct{}),
		logger:  logger.With().Str("component", "websocket").Logger(),
	}
}

func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.all[client] = struct{}{}
	for _, topic := range client.Topics {
		h.addLocked(topic, client)
	}
}

func (h *Hub) addLocked(topic string, client *Client) {
	if h.clients[topic] == nil {
		h.clients[topic] = make(map[*Client]struct{})
	}
	h.clients[topic][client] = struct{}{}
}

func (h *Hub) removeLocked(topic string, client *Client) {
	if subscribers, ok := h.clients[topic]; ok {
		delete(subscribers, client)
		if len(subscribers) == 0 {
			delete(h.clients, topic)
		}
	}
}

// Unregister removes client from every topic and closes its Send channel.
// Unregistering twice is a no-op.
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.all[client]; !ok {
		return
	}
	for _, topic := range client.Topics {
		h.removeLocked(topic, client)
	}
	delete(h.all, client)
	close(client.Send)
}

// AllowedTopic reports whether p may listen on topic: its own user topic or
// its role topic.
func AllowedTopic(p auth.Principal, topic string) bool {
	return topic == UserTopic(p.UserID) || topic == RoleTopic(p.Role)
}

// Subscribe adds the topics the client's principal is allowed to hear and
// returns those that were rejected.
func (h *Hub) Subscribe(client *Client, topics []string) []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	var rejected []string
	for _, topic := range topics {
		if !AllowedTopic(client.Principal, topic) {
			rejected = append(rejected, topic)
			continue
		}
		if _, already := h.clients[topic][client]; already {
			continue
		}
		h.addLocked(topic, client)
		client.Topics = append(client.Topics, topic)
	}
	return rejected
}

func (h *Hub) Unsubscribe(client *Client, topics []string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	removeSet := make(map[string]struct{}, len(topics))
	for _, t := range topics {
		removeSet[t] = struct{}{}
		h.removeLocked(t, client)
	}

	remaining := make([]string, 0, len(client.Topics))
	for _, t := range client.Topics {
		if _, rm := removeSet[t]; !rm {
			remaining = append(remaining, t)
		}
	}
	client.Topics = remaining
}

func (h *Hub) ProcessMessage(client *Client, msg ClientMessage) {
	switch msg.Action {
	case "subscribe":
		if rejected := h.Subscribe(client, msg.Topics); len(rejected) > 0 {
			h.logger.Warn().
				Int64("user_id", client.Principal.UserID).
				Strs("topics", rejected).
				Msg("rejected subscription")
		}
	case "unsubscribe":
		h.Unsubscribe(client, msg.Topics)
	}
}

// Broadcast sends event to every subscriber of topic. Slow clients whose
// buffer is full miss the event.
func (h *Hub) Broadcast(topic string, event Event) {
	data, err := json.Marshal(event)
	if err != nil {
		h.logger.Error().Err(err).Msg("marshal event")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.clients[topic] {
		select {
		case client.Send <- data:
		default:
			h.logger.Warn().Str("client_id", client.ID).Str("topic", topic).Msg("client buffer full, dropping event")
		}
	}
}

func (h *Hub) Publish(_ context.Context, event Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	h.Broadcast(event.Topic, event)
	return nil
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.all)
}

func (h *Hub) TopicCount(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[topic])
}

// Handler upgrades authenticated requests to websocket connections.
type Handler struct {
	hub      *Hub
	upgrader gorillawebsocket.Upgrader
}

// NewHandler builds a handler that accepts the listed origins. An empty list
// or "*" accepts any origin.
func NewHandler(hub *Hub, allowedOrigins []string) *Handler {
	allowAll := len(allowedOrigins) == 0
	origins := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		if o == "*" {
			allowAll = true
		}
		origins[o] = true
	}

	return &Handler{
		hub: hub,
		upgrader: gorillawebsocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return allowAll || origin == "" || origins[origin]
			},
		},
	}
}

func (wsh *Handler) RegisterRoutes(g *echo.Group) {
	g.GET("/ws", wsh.HandleConnect)
}

// HandleConnect subscribes the connection to the caller's user and role
// topics and starts the pumps.
func (wsh *Handler) HandleConnect(c echo.Context) error {
	p, err := auth.CurrentPrincipal(c)
	if err != nil {
		return err
	}

	ws, err := wsh.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}

	client := &Client{
		ID:        uuid.NewString(),
		Principal: p,
		Topics:    []string{UserTopic(p.UserID), RoleTopic(p.Role)},
		Send:      make(chan []byte, sendBuffer),
	}

	wsh.hub.Register(client)
	metrics.WebsocketConnected()

	go wsh.writePump(client, ws)
	go wsh.readPump(client, ws)

	return nil
}

func (wsh *Handler) readPump(client *Client, ws *gorillawebsocket.Conn) {
	defer func() {
		wsh.hub.Unregister(client)
		metrics.WebsocketDisconnected()
		ws.Close()
	}()

	ws.SetReadLimit(4096)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := ws.ReadMessage()
		if err != nil {
			return
		}

		var msg ClientMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			continue
		}
		wsh.hub.ProcessMessage(client, msg)
	}
}

func (wsh *Handler) writePump(client *Client, ws *gorillawebsocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		ws.Close()
	}()

	for {
		select {
		case message, ok := <-client.Send:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = ws.WriteMessage(gorillawebsocket.CloseMessage, []byte{})
				return
			}
			if err := ws.WriteMessage(gorillawebsocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(gorillawebsocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
