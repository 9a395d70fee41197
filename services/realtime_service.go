package services

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// WebSocket hub configuration
const (
	MaxWebSocketClients   = 100
	WebSocketWriteTimeout = 10 * time.Second
	WebSocketPongTimeout  = 60 * time.Second
	WebSocketPingInterval = 30 * time.Second
)

// Event types pushed to dashboard clients
const (
	EventScanStarted   = "scan_started"
	EventScanCompleted = "scan_completed"
	EventPriceUpdated  = "price_updated"
)

// WebSocketMessage is one broadcast payload
type WebSocketMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
	Time string      `json:"time"`
}

// wsClient is one connected dashboard
type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

// RealtimeHub pushes scan lifecycle and price updates to dashboard clients.
type RealtimeHub struct {
	clients    map[*wsClient]bool
	broadcast  chan WebSocketMessage
	register   chan *wsClient
	unregister chan *wsClient
	shutdown   chan struct{}
	mu         sync.RWMutex
	upgrader   websocket.Upgrader
}

// Global realtime hub
var GlobalRealtimeHub *RealtimeHub

// InitRealtimeHub starts the WebSocket hub.
func InitRealtimeHub() *RealtimeHub {
	GlobalRealtimeHub = &RealtimeHub{
		clients:    make(map[*wsClient]bool),
		broadcast:  make(chan WebSocketMessage, 256),
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
		shutdown:   make(chan struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}

	go GlobalRealtimeHub.run()

	log.Println("Realtime hub initialized")
	return GlobalRealtimeHub
}

// Shutdown closes all client connections.
func (h *RealtimeHub) Shutdown() {
	close(h.shutdown)

	h.mu.Lock()
	for client := range h.clients {
		close(client.send)
		client.conn.Close()
	}
	h.clients = make(map[*wsClient]bool)
	h.mu.Unlock()

	log.Println("Realtime hub shutdown complete")
}

// Publish broadcasts an event to all connected clients. It never blocks;
// the event is dropped when the hub's buffer is full.
func (h *RealtimeHub) Publish(eventType string, data interface{}) {
	msg := WebSocketMessage{
		Type: eventType,
		Data: data,
		Time: time.Now().UTC().Format(time.RFC3339),
	}
	select {
	case h.broadcast <- msg:
	default:
		log.Printf("Realtime hub buffer full, dropped %s event", eventType)
	}
}

// run is the hub loop
func (h *RealtimeHub) run() {
	for {
		select {
		case <-h.shutdown:
			return

		case client := <-h.register:
			h.mu.Lock()
			if len(h.clients) >= MaxWebSocketClients {
				h.mu.Unlock()
				client.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "Server at capacity"))
				client.conn.Close()
				continue
			}
			h.clients[client] = true
			count := len(h.clients)
			h.mu.Unlock()
			log.Printf("WebSocket client connected. Total clients: %d", count)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()

		case message := <-h.broadcast:
			data, err := json.Marshal(message)
			if err != nil {
				log.Printf("Error marshaling broadcast message: %v", err)
				continue
			}

			h.mu.Lock()
			for client := range h.clients {
				select {
				case client.send <- data:
				default:
					// Client buffer full, drop it.
					delete(h.clients, client)
					close(client.send)
				}
			}
			h.mu.Unlock()
		}
	}
}

// HandleWebSocket upgrades an HTTP request to a hub connection.
func (h *RealtimeHub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	atCapacity := len(h.clients) >= MaxWebSocketClients
	h.mu.RUnlock()

	if atCapacity {
		http.Error(w, "Server at capacity", http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade error: %v", err)
		return
	}

	client := &wsClient{
		conn: conn,
		send: make(chan []byte, 256),
	}

	h.register <- client

	go client.writePump()
	go client.readPump(h)
}

// writePump writes messages to the WebSocket connection
func (c *wsClient) writePump() {
	ticker := time.NewTicker(WebSocketPingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(WebSocketWriteTimeout))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(WebSocketWriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump drains the connection so pongs are processed; clients only listen.
func (c *wsClient) readPump(h *RealtimeHub) {
	defer func() {
		h.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(WebSocketPongTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(WebSocketPongTimeout))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket read error: %v", err)
			}
			break
		}
	}
}

// PublishEvent is a nil-safe helper for callers that do not care whether the
// hub is running.
func PublishEvent(eventType string, data interface{}) {
	if GlobalRealtimeHub == nil {
		return
	}
	GlobalRealtimeHub.Publish(eventType, data)
}
