package handlers

import (
	"errors"
	"net/http"

	"kanflow/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// CardHandler 卡片处理器
type CardHandler struct {
	cards  *services.CardService
	logger *logrus.Logger
}

func NewCardHandler(cards *services.CardService, logger *logrus.Logger) *CardHandler {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &CardHandler{cards: cards, logger: logger}
}

func (h *CardHandler) fail(c *gin.Context, msg string, err error) {
	status := http.StatusInternalServerError
	if errors.Is(err, services.ErrCardNotFound) || errors.Is(err, services.ErrTaskNotFound) {
		status = http.StatusNotFound
	} else {
		h.logger.Errorf("%s: %v", msg, err)
	}
	c.JSON(status, ErrorResponse{Error: msg, Message: err.Error()})
}

// CreateCard 创建卡片
func (h *CardHandler) CreateCard(c *gin.Context) {
	var req services.CardCreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request body", Message: err.Error()})
		return
	}
	card, err := h.cards.CreateCard(c.Request.Context(), &req, currentUser(c))
	if err != nil {
		h.fail(c, "Failed to create card", err)
		return
	}
	c.JSON(http.StatusCreated, card)
}

func (h *CardHandler) GetCard(c *gin.Context) {
	card, err := h.cards.GetCard(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, "Failed to get card", err)
		return
	}
	c.JSON(http.StatusOK, card)
}

// UpdateCard 更新卡片
func (h *CardHandler) UpdateCard(c *gin.Context) {
	var req services.CardUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request body", Message: err.Error()})
		return
	}
	card, err := h.cards.UpdateCard(c.Request.Context(), c.Param("id"), &req, currentUser(c))
	if err != nil {
		h.fail(c, "Failed to update card", err)
		return
	}
	c.JSON(http.StatusOK, card)
}

type moveCardRequest struct {
	ListID string `json:"list_id" binding:"required"`
}

func (h *CardHandler) MoveCard(c *gin.Context) {
	var req moveCardRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request body", Message: err.Error()})
		return
	}
	card, err := h.cards.MoveCard(c.Request.Context(), c.Param("id"), req.ListID, currentUser(c))
	if err != nil {
		h.fail(c, "Failed to move card", err)
		return
	}
	c.JSON(http.StatusOK, card)
}

type assignCardRequest struct {
	AssigneeID string `json:"assignee_id" binding:"required"`
}

func (h *CardHandler) AssignCard(c *gin.Context) {
	var req assignCardRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request body", Message: err.Error()})
		return
	}
	card, err := h.cards.AssignCard(c.Request.Context(), c.Param("id"), req.AssigneeID, currentUser(c))
	if err != nil {
		h.fail(c, "Failed to assign card", err)
		return
	}
	c.JSON(http.StatusOK, card)
}

type commentRequest struct {
	Content string `json:"content" binding:"required"`
}

// AddComment 添加评论（@提及会触发 USER_MENTIONED）
func (h *CardHandler) AddComment(c *gin.Context) {
	var req commentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request body", Message: err.Error()})
		return
	}
	comment, err := h.cards.AddComment(c.Request.Context(), c.Param("id"), currentUser(c), req.Content)
	if err != nil {
		h.fail(c, "Failed to add comment", err)
		return
	}
	c.JSON(http.StatusCreated, comment)
}

func (h *CardHandler) AddAttachment(c *gin.Context) {
	var req services.AttachmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request body", Message: err.Error()})
		return
	}
	att, err := h.cards.AddAttachment(c.Request.Context(), c.Param("id"), currentUser(c), &req)
	if err != nil {
		h.fail(c, "Failed to add attachment", err)
		return
	}
	c.JSON(http.StatusCreated, att)
}

func (h *CardHandler) CompleteTask(c *gin.Context) {
	task, err := h.cards.CompleteTask(c.Request.Context(), c.Param("id"), currentUser(c))
	if err != nil {
		h.fail(c, "Failed to complete task", err)
		return
	}
	c.JSON(http.StatusOK, task)
}

// RegisterCardRoutes 注册卡片路由
func RegisterCardRoutes(r *gin.RouterGroup, handler *CardHandler) {
	cards := r.Group("/cards")
	{
		cards.POST("", handler.CreateCard)
		cards.GET("/:id", handler.GetCard)
		cards.PUT("/:id", handler.UpdateCard)
		cards.POST("/:id/move", handler.MoveCard)
		cards.POST("/:id/assign", handler.AssignCard)
		cards.POST("/:id/comments", handler.AddComment)
		cards.POST("/:id/attachments", handler.AddAttachment)
	}
	r.POST("/tasks/:id/complete", handler.CompleteTask)
}
