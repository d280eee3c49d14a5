package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/stitts-dev/squad-optimizer/pkg/types"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	sendBuffer = 256
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Client is one subscriber to a run's progress feed.
type Client struct {
	RunID string
	Conn  *websocket.Conn
	Send  chan []byte
	Hub   *Hub
}

// Hub fans progress updates out to the clients watching each run.
type Hub struct {
	clients    map[*Client]bool
	runClients map[string][]*Client
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	logger     *logrus.Entry
	mutex      sync.RWMutex
}

func NewHub(logger *logrus.Entry) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		runClients: make(map[string][]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		logger:     logger,
	}
}

// Run handles registration until ctx is done, then closes every client.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			close(h.done)
			h.mutex.Lock()
			for client := range h.clients {
				close(client.Send)
			}
			h.clients = make(map[*Client]bool)
			h.runClients = make(map[string][]*Client)
			h.mutex.Unlock()
			return

		case client := <-h.register:
			h.mutex.Lock()
			h.clients[client] = true
			h.runClients[client.RunID] = append(h.runClients[client.RunID], client)
			total := len(h.clients)
			h.mutex.Unlock()

			h.logger.WithFields(logrus.Fields{
				"run_id":        client.RunID,
				"total_clients": total,
			}).Debug("Progress subscriber connected")

		case client := <-h.unregister:
			h.mutex.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.Send)

				subs := h.runClients[client.RunID]
				for i, c := range subs {
					if c == client {
						h.runClients[client.RunID] = append(subs[:i], subs[i+1:]...)
						break
					}
				}
				if len(h.runClients[client.RunID]) == 0 {
					delete(h.runClients, client.RunID)
				}
			}
			total := len(h.clients)
			h.mutex.Unlock()

			h.logger.WithFields(logrus.Fields{
				"run_id":        client.RunID,
				"total_clients": total,
			}).Debug("Progress subscriber disconnected")
		}
	}
}

// HandleWebSocket upgrades GET /ws/runs/:run_id.
func (h *Hub) HandleWebSocket(c *gin.Context) {
	runID := c.Param("run_id")
	if runID == "" || len(runID) > 64 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid run ID"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.WithError(err).Error("Failed to upgrade WebSocket connection")
		return
	}

	client := &Client{
		RunID: runID,
		Conn:  conn,
		Send:  make(chan []byte, sendBuffer),
		Hub:   h,
	}

	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

// Report sends an update to every subscriber of its run. Slow subscribers miss updates
// rather than block the solver.
func (h *Hub) Report(update types.ProgressUpdate) {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	clients := h.runClients[update.RunID]
	if len(clients) == 0 {
		return
	}

	data, err := json.Marshal(update)
	if err != nil {
		h.logger.WithError(err).Error("Failed to marshal progress update")
		return
	}

	for _, client := range clients {
		select {
		case client.Send <- data:
		default:
			h.logger.WithField("run_id", update.RunID).Debug("Dropped progress update for slow subscriber")
		}
	}
}

// ConnectionCount returns the number of open subscriber connections.
func (h *Hub) ConnectionCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

// Watching returns how many clients subscribe to runID.
func (h *Hub) Watching(runID string) int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.runClients[runID])
}

func (c *Client) readPump() {
	defer func() {
		select {
		case c.Hub.unregister <- c:
		case <-c.Hub.done:
		}
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(512)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		return c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.Conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.Hub.logger.WithError(err).Warn("WebSocket error")
			}
			break
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.Hub.logger.WithError(err).Debug("Failed to write WebSocket message")
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
