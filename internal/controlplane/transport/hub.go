package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	gorillaws "github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/sudocode/controlplane/internal/common/logger"
	"github.com/sudocode/controlplane/internal/events/bus"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
)

var upgrader = gorillaws.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// client is a single subscriber connection, fed exclusively by the hub's
// fan-out: it never reads application messages from the peer, only pings.
type client struct {
	conn *gorillaws.Conn
	send chan []byte
	log  *logger.Logger
}

func (c *client) readPump() {
	defer c.conn.Close()
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(gorillaws.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(gorillaws.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(gorillaws.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Hub fans out execution update events to websocket subscribers, one
// subscriber set per execution id.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[string]map[*client]bool
	watchers    map[string][]func()
	log         *logger.Logger
}

// NewHub constructs an empty hub.
func NewHub(log *logger.Logger) *Hub {
	return &Hub{
		subscribers: make(map[string]map[*client]bool),
		watchers:    make(map[string][]func()),
		log:         log.WithFields(zap.String("component", "ws_hub")),
	}
}

// OnLastUnsubscribe registers cb to run the next time execID's subscriber
// set becomes empty (including the case where it is already empty or has
// never had a subscriber). Implements agentsession.DisconnectWatcher. Each
// registration fires at most once.
func (h *Hub) OnLastUnsubscribe(execID string, cb func()) {
	h.mu.Lock()
	empty := len(h.subscribers[execID]) == 0
	if !empty {
		h.watchers[execID] = append(h.watchers[execID], cb)
	}
	h.mu.Unlock()
	if empty {
		cb()
	}
}

// Subscribe implements the bus.EventHandler signature expected by
// EventBus.Subscribe; register it against the "executions.*.updates"
// pattern so every published update reaches whichever clients are watching
// that execution.
func (h *Hub) Subscribe(ctx context.Context, event *bus.Event) error {
	execID, _ := event.Data["executionId"].(string)
	if execID == "" {
		return nil
	}
	data, err := json.Marshal(event)
	if err != nil {
		h.log.Error("failed to marshal event for broadcast", zap.Error(err))
		return nil
	}
	h.mu.RLock()
	clients := h.subscribers[execID]
	h.mu.RUnlock()
	for c := range clients {
		select {
		case c.send <- data:
		default:
			h.log.Warn("subscriber send buffer full, dropping update")
		}
	}
	return nil
}

func (h *Hub) add(execID string, c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.subscribers[execID] == nil {
		h.subscribers[execID] = make(map[*client]bool)
	}
	h.subscribers[execID][c] = true
}

func (h *Hub) remove(execID string, c *client) {
	h.mu.Lock()
	var fire []func()
	if clients, ok := h.subscribers[execID]; ok {
		delete(clients, c)
		if len(clients) == 0 {
			delete(h.subscribers, execID)
			fire = h.watchers[execID]
			delete(h.watchers, execID)
		}
	}
	h.mu.Unlock()
	close(c.send)
	for _, cb := range fire {
		cb()
	}
}

// Stream upgrades the connection and subscribes it to one execution's
// update stream until the client disconnects.
func (h *Hub) Stream(c *gin.Context) {
	execID := c.Param("id")
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error("failed to upgrade websocket connection", zap.Error(err))
		return
	}
	subscriber := &client{conn: conn, send: make(chan []byte, 256), log: h.log}
	h.add(execID, subscriber)
	defer h.remove(execID, subscriber)

	go subscriber.writePump()
	subscriber.readPump()
}
