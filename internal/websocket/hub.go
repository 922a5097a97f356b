// Package websocket streams live statistics to connected viewers. Overlay
// tools and the browser view subscribe here instead of polling the JSON
// endpoint.
package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/apmlive/apmlive-go-rewrite/internal/stats"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		// The listener binds to loopback only; cross-origin local pages
		// (OBS browser sources) are expected viewers.
		return true
	},
}

const (
	writeWait      = 10 * time.Second
	pingInterval   = 30 * time.Second
	clientSendSize = 64
)

// Message is the envelope for everything pushed to clients.
type Message struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// Client is one connected viewer.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	id   string
}

// Hub maintains the set of connected viewers and broadcasts statistics.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	mu         sync.RWMutex
	latest     func() stats.Statistics
}

// NewHub creates a hub. latest supplies the statistics pushed to a viewer on
// connect so a fresh overlay isn't blank until the next tick.
func NewHub(latest func() stats.Statistics) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		latest:     latest,
	}
}

// Run drives the hub until the context is cancelled.
func (h *Hub) Run(ctx context.Context) {
	pingTicker := time.NewTicker(pingInterval)
	defer pingTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			log.Debug().Str("client", client.id).Msg("Live view client connected")

			if h.latest != nil {
				if data, err := json.Marshal(Message{Type: "stats", Data: h.latest()}); err == nil {
					select {
					case client.send <- data:
					default:
					}
				}
			}

		case client := <-h.unregister:
			h.dropClient(client)

		case message := <-h.broadcast:
			h.mu.RLock()
			clients := make([]*Client, 0, len(h.clients))
			for client := range h.clients {
				clients = append(clients, client)
			}
			h.mu.RUnlock()

			for _, client := range clients {
				select {
				case client.send <- message:
				default:
					// Slow consumer; disconnect rather than stall the loop.
					h.dropClient(client)
				}
			}

		case <-pingTicker.C:
			h.mu.RLock()
			for client := range h.clients {
				select {
				case client.send <- nil: // nil means ping, see writePump
				default:
				}
			}
			h.mu.RUnlock()
		}
	}
}

// BroadcastStats pushes one tick's statistics to every viewer. Called from
// the session poll loop; never blocks.
func (h *Hub) BroadcastStats(s stats.Statistics) {
	data, err := json.Marshal(Message{Type: "stats", Data: s})
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal statistics broadcast")
		return
	}
	select {
	case h.broadcast <- data:
	default:
		// Broadcast buffer full; skip this tick, the next one supersedes it.
	}
}

// ClientCount returns the number of connected viewers.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// HandleWebSocket upgrades an HTTP request to a viewer connection.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to upgrade live view connection")
		return
	}

	client := &Client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, clientSendSize),
		id:   uuid.NewString(),
	}
	h.register <- client

	go client.writePump()
	go client.readPump()
}

func (h *Hub) dropClient(client *Client) {
	h.mu.Lock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
		log.Debug().Str("client", client.id).Msg("Live view client disconnected")
	}
	h.mu.Unlock()
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	for client := range h.clients {
		delete(h.clients, client)
		close(client.send)
	}
	h.mu.Unlock()
}

func (c *Client) writePump() {
	defer c.conn.Close()
	for message := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if message == nil {
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
			continue
		}
		if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
			return
		}
	}
	_ = c.conn.WriteMessage(websocket.CloseMessage, nil)
}

func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()
	// Viewers are read-only; the read loop exists to observe disconnects.
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
