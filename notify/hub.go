// Package notify pushes pipeline events to connected websocket clients.
// Delivery is best-effort: slow or absent consumers never block processing.
package notify

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/printflow/printflow/models"
)

// EventType identifies a pipeline event pushed over the socket.
type EventType string

const (
	EventOrderCreated     EventType = "order_created"
	EventOrderStatus      EventType = "order_status"
	EventProcessingStatus EventType = "processing_status"
)

// Event is the wire envelope for one notification.
type Event struct {
	Type      EventType       `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

type client struct {
	id   string
	conn *websocket.Conn
	send chan []byte
}

// Hub fans pipeline events out to every connected client.
type Hub struct {
	clients    map[string]*client
	register   chan *client
	unregister chan *client
	broadcast  chan []byte
	done       chan struct{}
	mu         sync.RWMutex
	upgrader   websocket.Upgrader
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[string]*client),
		register:   make(chan *client),
		unregister: make(chan *client),
		broadcast:  make(chan []byte, 256),
		done:       make(chan struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// Run owns the client set until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			// Unblocks client pumps still trying to register or
			// unregister after the hub stopped draining.
			close(h.done)
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c.id] = c
			h.mu.Unlock()
			log.Printf("INFO (NotifyHub): Client %s connected", c.id)

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c.id]; ok {
				delete(h.clients, c.id)
				close(c.send)
			}
			h.mu.Unlock()
			log.Printf("INFO (NotifyHub): Client %s disconnected", c.id)

		case data := <-h.broadcast:
			h.mu.RLock()
			for _, c := range h.clients {
				select {
				case c.send <- data:
				default:
					// Slow consumer; this event is lost to it.
					log.Printf("WARN (NotifyHub): Client %s send buffer full, dropping event", c.id)
				}
			}
			h.mu.RUnlock()
		}
	}
}

// OrderCreated announces a newly persisted order.
func (h *Hub) OrderCreated(order *models.Order) {
	h.publish(EventOrderCreated, order)
}

// OrderStatusChanged announces an order status transition.
func (h *Hub) OrderStatusChanged(orderID string, poNumber string, status models.OrderStatus) {
	h.publish(EventOrderStatus, map[string]string{
		"order_id":  orderID,
		"po_number": poNumber,
		"status":    string(status),
	})
}

// ProcessingStatusChanged announces the poller starting or stopping.
func (h *Hub) ProcessingStatusChanged(running bool) {
	h.publish(EventProcessingStatus, map[string]bool{"running": running})
}

func (h *Hub) publish(eventType EventType, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("ERROR (NotifyHub): Could not marshal %s payload: %v", eventType, err)
		return
	}
	envelope, err := json.Marshal(Event{
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Data:      data,
	})
	if err != nil {
		log.Printf("ERROR (NotifyHub): Could not marshal %s event: %v", eventType, err)
		return
	}
	select {
	case h.broadcast <- envelope:
	default:
		log.Printf("WARN (NotifyHub): Broadcast buffer full, dropping %s event", eventType)
	}
}

// ServeHTTP upgrades the request and attaches the client to the hub.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ERROR (NotifyHub): Websocket upgrade failed: %v", err)
		return
	}
	c := &client{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, 64),
	}
	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}
	go c.writePump()
	go c.readPump(h)
}

func (c *client) readPump(h *Hub) {
	defer func() {
		select {
		case h.unregister <- c:
		case <-h.done:
		}
		c.conn.Close()
	}()
	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	})
	for {
		// Clients only listen; any inbound frame just refreshes the deadline.
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("WARN (NotifyHub): Client %s read error: %v", c.id, err)
			}
			return
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case data, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, c := range h.clients {
		close(c.send)
	}
	h.clients = make(map[string]*client)
}
