package handlers

import (
	"net/http"

	"kanflow/internal/services"

	"github.com/gin-gonic/gin"
)

type NotificationHandler struct {
	notifications *services.NotificationService
	hub           *services.NotificationHub
}

func NewNotificationHandler(notifications *services.NotificationService, hub *services.NotificationHub) *NotificationHandler {
	return &NotificationHandler{notifications: notifications, hub: hub}
}

// List 当前用户的站内通知
func (h *NotificationHandler) List(c *gin.Context) {
	user := currentUser(c)
	if user == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Missing user", Message: "X-User-ID header or user_id query required"})
		return
	}
	list, err := h.notifications.ListForUser(c.Request.Context(), user, c.Query("unread") == "true", queryInt(c, "limit", 50))
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to list notifications", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": list})
}

// Stats WebSocket 连接数
func (h *NotificationHandler) Stats(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"success": true, "data": gin.H{"clients": h.hub.GetClientCount()}})
}

// RegisterNotificationRoutes 注册通知与 WebSocket 路由
func RegisterNotificationRoutes(r *gin.RouterGroup, handler *NotificationHandler) {
	r.GET("/notifications", handler.List)
	r.GET("/ws", handler.hub.HandleWebSocket)
	r.GET("/ws/stats", handler.Stats)
}
