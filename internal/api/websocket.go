// Package api provides WebSocket functionality for simulation progress streaming.
package api

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// MessageType defines WebSocket message types.
type MessageType string

const (
	// Server -> Client messages
	MsgTypeSimulationStatus MessageType = "simulation_status"
	MsgTypeSubscribed       MessageType = "subscribed"
	MsgTypeUnsubscribed     MessageType = "unsubscribed"
	MsgTypeCommandResult    MessageType = "command_result"
	MsgTypeError            MessageType = "error"
	MsgTypeHeartbeat        MessageType = "heartbeat"

	// Client -> Server messages
	MsgTypeSubscribe   MessageType = "subscribe"
	MsgTypeUnsubscribe MessageType = "unsubscribe"
	MsgTypeCommand     MessageType = "command"
)

// Channels
const (
	ChannelSimulations = "simulations"
)

// SimulationChannel is the channel carrying one job's status updates
func SimulationChannel(id string) string {
	return ChannelSimulations + ":" + id
}

// WSMessage is a WebSocket message.
type WSMessage struct {
	Type      MessageType     `json:"type"`
	Channel   string          `json:"channel,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// CommandHandler answers a client command. The returned value is sent back
// as the command result.
type CommandHandler func(data json.RawMessage) (interface{}, error)

// Client is a WebSocket client connection.
type Client struct {
	id            string
	hub           *Hub
	conn          *websocket.Conn
	send          chan []byte
	subscriptions map[string]bool
	mu            sync.RWMutex
}

// Hub manages WebSocket connections.
type Hub struct {
	logger     *zap.Logger
	clients    map[*Client]bool
	broadcast  chan []byte
	unregister chan *Client
	channels   map[string]map[*Client]bool
	commands   CommandHandler
	closed     bool
	done       chan struct{}
	mu         sync.RWMutex
}

// NewHub creates a new WebSocket hub.
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		logger:     logger,
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, 256),
		unregister: make(chan *Client),
		channels:   make(map[string]map[*Client]bool),
		done:       make(chan struct{}),
	}
}

// SetCommandHandler installs the handler for client commands.
func (h *Hub) SetCommandHandler(fn CommandHandler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.commands = fn
}

// Run starts the hub and blocks until ctx is done.
func (h *Hub) Run(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			h.closed = true
			for client := range h.clients {
				h.removeClient(client)
			}
			h.mu.Unlock()
			return

		case client := <-h.unregister:
			h.mu.Lock()
			h.removeClient(client)
			h.mu.Unlock()
			h.logger.Debug("Client unregistered", zap.String("id", client.id))

		case message := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					h.removeClient(client)
				}
			}
			h.mu.Unlock()

		case <-ticker.C:
			h.sendHeartbeat()
		}
	}
}

// removeClient drops a client from every index and closes its send queue.
// Callers hold h.mu.
func (h *Hub) removeClient(client *Client) {
	if _, ok := h.clients[client]; !ok {
		return
	}
	delete(h.clients, client)
	close(client.send)

	client.mu.RLock()
	defer client.mu.RUnlock()
	for channel := range client.subscriptions {
		if clients, ok := h.channels[channel]; ok {
			delete(clients, client)
			if len(clients) == 0 {
				delete(h.channels, channel)
			}
		}
	}
}

// sendHeartbeat sends heartbeat to all clients.
func (h *Hub) sendHeartbeat() {
	msg := WSMessage{
		Type:      MsgTypeHeartbeat,
		Timestamp: time.Now().UnixMilli(),
	}

	data, _ := json.Marshal(msg)

	h.mu.RLock()
	for client := range h.clients {
		select {
		case client.send <- data:
		default:
		}
	}
	h.mu.RUnlock()
}

// Subscribe subscribes a client to a channel.
func (h *Hub) Subscribe(client *Client, channel string) {
	h.mu.Lock()
	if _, ok := h.clients[client]; !ok {
		h.mu.Unlock()
		return
	}
	if h.channels[channel] == nil {
		h.channels[channel] = make(map[*Client]bool)
	}
	h.channels[channel][client] = true

	client.mu.Lock()
	client.subscriptions[channel] = true
	client.mu.Unlock()
	h.mu.Unlock()

	h.logger.Debug("Client subscribed to channel",
		zap.String("client", client.id),
		zap.String("channel", channel))
	h.reply(client, MsgTypeSubscribed, channel, nil)
}

// Unsubscribe unsubscribes a client from a channel.
func (h *Hub) Unsubscribe(client *Client, channel string) {
	h.mu.Lock()
	if clients, ok := h.channels[channel]; ok {
		delete(clients, client)
		if len(clients) == 0 {
			delete(h.channels, channel)
		}
	}

	client.mu.Lock()
	delete(client.subscriptions, channel)
	client.mu.Unlock()
	h.mu.Unlock()

	h.reply(client, MsgTypeUnsubscribed, channel, nil)
}

// PublishToChannel publishes a message to a channel.
func (h *Hub) PublishToChannel(channel string, msgType MessageType, data interface{}) {
	msgBytes, err := encode(msgType, channel, data)
	if err != nil {
		h.logger.Error("Failed to marshal message", zap.Error(err))
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.channels[channel] {
		select {
		case client.send <- msgBytes:
		default:
		}
	}
}

// Broadcast sends a message to all clients.
func (h *Hub) Broadcast(msgType MessageType, data interface{}) {
	msgBytes, err := encode(msgType, "", data)
	if err != nil {
		h.logger.Error("Failed to marshal broadcast", zap.Error(err))
		return
	}

	select {
	case h.broadcast <- msgBytes:
	default:
		h.logger.Warn("Broadcast channel full, dropping message")
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// reply sends a message to a single client.
func (h *Hub) reply(client *Client, msgType MessageType, channel string, data interface{}) {
	msgBytes, err := encode(msgType, channel, data)
	if err != nil {
		h.logger.Error("Failed to marshal reply", zap.Error(err))
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	if _, ok := h.clients[client]; !ok {
		return
	}
	select {
	case client.send <- msgBytes:
	default:
	}
}

func encode(msgType MessageType, channel string, data interface{}) ([]byte, error) {
	msg := WSMessage{
		Type:      msgType,
		Channel:   channel,
		Timestamp: time.Now().UnixMilli(),
	}
	if data != nil {
		dataBytes, err := json.Marshal(data)
		if err != nil {
			return nil, err
		}
		msg.Data = dataBytes
	}
	return json.Marshal(msg)
}

// NewClient creates a new client.
func NewClient(id string, hub *Hub, conn *websocket.Conn) *Client {
	return &Client{
		id:            id,
		hub:           hub,
		conn:          conn,
		send:          make(chan []byte, 256),
		subscriptions: make(map[string]bool),
	}
}

// Register adds the client to the hub. It reports false when the hub has stopped.
func (h *Hub) Register(client *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[client] = true
	h.logger.Debug("Client registered", zap.String("id", client.id))
	return true
}

// ReadPump pumps messages from the WebSocket to the hub.
func (c *Client) ReadPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(65536)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Error("WebSocket read error", zap.Error(err))
			}
			break
		}

		var msg WSMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			c.hub.logger.Warn("Invalid WebSocket message", zap.Error(err))
			c.hub.reply(c, MsgTypeError, "", map[string]string{"error": "invalid message"})
			continue
		}

		switch msg.Type {
		case MsgTypeSubscribe:
			c.hub.Subscribe(c, msg.Channel)
		case MsgTypeUnsubscribe:
			c.hub.Unsubscribe(c, msg.Channel)
		case MsgTypeCommand:
			c.handleCommand(msg)
		default:
			c.hub.reply(c, MsgTypeError, msg.Channel, map[string]string{"error": "unknown message type"})
		}
	}
}

// WritePump pumps messages from the hub to the WebSocket, one frame per message.
func (c *Client) WritePump() {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleCommand handles client commands.
func (c *Client) handleCommand(msg WSMessage) {
	c.hub.mu.RLock()
	handler := c.hub.commands
	c.hub.mu.RUnlock()

	if handler == nil {
		c.hub.reply(c, MsgTypeError, msg.Channel, map[string]string{"error": "commands not supported"})
		return
	}

	result, err := handler(msg.Data)
	if err != nil {
		c.hub.reply(c, MsgTypeError, msg.Channel, map[string]string{"error": err.Error()})
		return
	}
	c.hub.reply(c, MsgTypeCommandResult, msg.Channel, result)
}
