package services

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"kanflow/internal/models"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

type WebSocketMessage struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data"`
	UserID    string      `json:"user_id,omitempty"`
	BoardID   string      `json:"board_id,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

type WebSocketClient struct {
	ID      string
	UserID  string
	BoardID string
	Conn    *websocket.Conn
	Send    chan WebSocketMessage
	Hub     *NotificationHub
}

// NotificationHub pushes live notifications to connected browsers. A message
// with a UserID goes to that user's connections; otherwise to every
// connection watching BoardID.
type NotificationHub struct {
	clients    map[string]*WebSocketClient
	broadcast  chan WebSocketMessage
	register   chan *WebSocketClient
	unregister chan *WebSocketClient
	done       chan struct{}
	mutex      sync.RWMutex
	// 可选：用于处理客户端的已读回执
	db *gorm.DB
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

func NewNotificationHub() *NotificationHub {
	return &NotificationHub{
		clients:    make(map[string]*WebSocketClient),
		broadcast:  make(chan WebSocketMessage, 256),
		register:   make(chan *WebSocketClient),
		unregister: make(chan *WebSocketClient),
		done:       make(chan struct{}),
	}
}

// SetDB 注入数据库用于已读回执（可选）
func (h *NotificationHub) SetDB(db *gorm.DB) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	h.db = db
}

func (h *NotificationHub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			close(h.done)
			h.mutex.Lock()
			for id, client := range h.clients {
				close(client.Send)
				delete(h.clients, id)
			}
			h.mutex.Unlock()
			return

		case client := <-h.register:
			h.mutex.Lock()
			h.clients[client.ID] = client
			h.mutex.Unlock()
			logrus.Infof("Client %s connected (user=%s board=%s)", client.ID, client.UserID, client.BoardID)

		case client := <-h.unregister:
			h.mutex.Lock()
			if _, ok := h.clients[client.ID]; ok {
				delete(h.clients, client.ID)
				close(client.Send)
				logrus.Infof("Client %s disconnected", client.ID)
			}
			h.mutex.Unlock()

		case message := <-h.broadcast:
			h.mutex.Lock()
			for id, client := range h.clients {
				if !message.addresses(client) {
					continue
				}
				select {
				case client.Send <- message:
				default:
					close(client.Send)
					delete(h.clients, id)
				}
			}
			h.mutex.Unlock()
		}
	}
}

func (m WebSocketMessage) addresses(c *WebSocketClient) bool {
	if m.UserID != "" {
		return c.UserID == m.UserID
	}
	return m.BoardID != "" && c.BoardID == m.BoardID
}

// Push queues a message for delivery. It never blocks; when the queue is
// full the message is dropped and false is returned.
func (h *NotificationHub) Push(message WebSocketMessage) bool {
	if message.Timestamp.IsZero() {
		message.Timestamp = time.Now()
	}
	select {
	case h.broadcast <- message:
		return true
	default:
		logrus.Warnf("notification hub queue full, dropping %s message", message.Type)
		return false
	}
}

func (h *NotificationHub) HandleWebSocket(c *gin.Context) {
	userID := c.Query("user_id")
	boardID := c.Query("board_id")
	if userID == "" && boardID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id or board_id required"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logrus.Error("WebSocket upgrade failed:", err)
		return
	}

	client := &WebSocketClient{
		ID:      fmt.Sprintf("client_%d", time.Now().UnixNano()),
		UserID:  userID,
		BoardID: boardID,
		Conn:    conn,
		Send:    make(chan WebSocketMessage, 64),
		Hub:     h,
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

func (h *NotificationHub) GetClientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

func (c *WebSocketClient) readPump() {
	defer func() {
		select {
		case c.Hub.unregister <- c:
		case <-c.Hub.done:
		}
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(512)
	c.Conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, raw, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logrus.Errorf("WebSocket error: %v", err)
			}
			break
		}

		var message WebSocketMessage
		if err := json.Unmarshal(raw, &message); err != nil {
			logrus.Error("Invalid message format:", err)
			continue
		}

		switch message.Type {
		case "mark-read":
			c.markRead(message)
		default:
			logrus.Warnf("Unknown message type: %s", message.Type)
		}
	}
}

func (c *WebSocketClient) writePump() {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteJSON(message); err != nil {
				logrus.Error("WriteJSON error:", err)
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// markRead handles {"type":"mark-read","data":{"id":42}} from the owner of
// the notification.
func (c *WebSocketClient) markRead(message WebSocketMessage) {
	c.Hub.mutex.RLock()
	db := c.Hub.db
	c.Hub.mutex.RUnlock()
	if db == nil || c.UserID == "" {
		return
	}

	data, ok := message.Data.(map[string]interface{})
	if !ok {
		return
	}
	id, ok := data["id"].(float64)
	if !ok {
		return
	}
	now := time.Now()
	err := db.Model(&models.Notification{}).
		Where("id = ? AND user_id = ? AND read_at IS NULL", uint(id), c.UserID).
		Update("read_at", &now).Error
	if err != nil {
		logrus.Warnf("Failed to mark notification %v read: %v", id, err)
	}
}
