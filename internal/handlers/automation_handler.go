package handlers

import (
	"errors"
	"net/http"
	"time"

	"kanflow/internal/automation"
	"kanflow/internal/metrics"
	"kanflow/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// EngineStats exposes the runtime state of the rule engine.
type EngineStats interface {
	MaxDepth() int
	BreakerStates() map[string]string
}

// AutomationHandler 管理自动化规则、执行记录与事件投递
type AutomationHandler struct {
	rules      *services.RuleService
	activities *services.ActivityService
	dispatcher automation.Dispatcher
	stats      EngineStats
	logger     *logrus.Logger
}

func NewAutomationHandler(rules *services.RuleService, activities *services.ActivityService, dispatcher automation.Dispatcher, stats EngineStats, logger *logrus.Logger) *AutomationHandler {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &AutomationHandler{rules: rules, activities: activities, dispatcher: dispatcher, stats: stats, logger: logger}
}

// ListRules 获取规则列表
func (h *AutomationHandler) ListRules(c *gin.Context) {
	var req services.RuleListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid query", Message: err.Error()})
		return
	}
	if req.PageSize <= 0 {
		req.PageSize = 20
	}
	rules, total, err := h.rules.ListRules(c.Request.Context(), &req)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to list rules", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, paginated(rules, total, req.Page, req.PageSize))
}

// CreateRule 创建规则
func (h *AutomationHandler) CreateRule(c *gin.Context) {
	var req services.RuleCreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request", Message: err.Error()})
		return
	}
	if req.CreatedBy == "" {
		req.CreatedBy = currentUser(c)
	}
	rule, err := h.rules.CreateRule(c.Request.Context(), &req)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Failed to create rule", Message: err.Error()})
		return
	}
	c.JSON(http.StatusCreated, rule)
}

func (h *AutomationHandler) GetRule(c *gin.Context) {
	rule, err := h.rules.GetRule(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.ruleError(c, "Failed to get rule", err)
		return
	}
	c.JSON(http.StatusOK, rule)
}

type setActiveRequest struct {
	Active *bool `json:"active" binding:"required"`
}

// SetActive 启用/停用规则
func (h *AutomationHandler) SetActive(c *gin.Context) {
	var req setActiveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request", Message: err.Error()})
		return
	}
	rule, err := h.rules.SetActive(c.Request.Context(), c.Param("id"), *req.Active)
	if err != nil {
		h.ruleError(c, "Failed to update rule", err)
		return
	}
	c.JSON(http.StatusOK, rule)
}

// DeleteRule 删除规则
func (h *AutomationHandler) DeleteRule(c *gin.Context) {
	if err := h.rules.DeleteRule(c.Request.Context(), c.Param("id")); err != nil {
		h.ruleError(c, "Failed to delete rule", err)
		return
	}
	c.JSON(http.StatusOK, SuccessResponse{Message: "deleted"})
}

func (h *AutomationHandler) ruleError(c *gin.Context, msg string, err error) {
	status := http.StatusInternalServerError
	if errors.Is(err, services.ErrRuleNotFound) {
		status = http.StatusNotFound
	}
	c.JSON(status, ErrorResponse{Error: msg, Message: err.Error()})
}

// ListActivities 执行记录（最新在前）
func (h *AutomationHandler) ListActivities(c *gin.Context) {
	var req services.ActivityListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid query", Message: err.Error()})
		return
	}
	list, total, err := h.activities.ListActivities(c.Request.Context(), &req)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to list activities", Message: err.Error()})
		return
	}
	pageSize := req.PageSize
	if pageSize <= 0 || pageSize > 200 {
		pageSize = 50
	}
	c.JSON(http.StatusOK, paginated(list, total, req.Page, pageSize))
}

// EventRequest raises a trigger from an external producer.
type EventRequest struct {
	TriggerType string                  `json:"trigger_type" binding:"required"`
	BoardID     string                  `json:"board_id" binding:"required"`
	WorkspaceID string                  `json:"workspace_id"`
	Event       automation.EventContext `json:"event"`
}

// DispatchEvent 投递外部事件
func (h *AutomationHandler) DispatchEvent(c *gin.Context) {
	var req EventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request", Message: err.Error()})
		return
	}
	trigger := automation.TriggerType(req.TriggerType)
	if !trigger.IsValid() {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid trigger type", Message: req.TriggerType})
		return
	}
	if req.Event.UserID == "" {
		req.Event.UserID = currentUser(c)
	}

	start := time.Now()
	if err := h.dispatcher.Process(c.Request.Context(), trigger, req.Event, req.BoardID, req.WorkspaceID); err != nil {
		h.logger.Errorf("Failed to dispatch %s on board %s: %v", trigger, req.BoardID, err)
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "Failed to dispatch event", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, SuccessResponse{
		Message: "dispatched",
		Data:    gin.H{"trigger_type": trigger, "elapsed_ms": time.Since(start).Milliseconds()},
	})
}

// Stats 引擎运行状态
func (h *AutomationHandler) Stats(c *gin.Context) {
	resp := gin.H{"counters": metrics.Take()}
	if h.stats != nil {
		resp["max_depth"] = h.stats.MaxDepth()
		resp["breakers"] = h.stats.BreakerStates()
	}
	c.JSON(http.StatusOK, resp)
}

// Catalog lists the supported trigger and action types.
func (h *AutomationHandler) Catalog(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"triggers": automation.TriggerTypes(),
		"actions":  automation.ActionTypes(),
	})
}

// RegisterAutomationRoutes 注册路由；eventLimit 作用于事件投递
func RegisterAutomationRoutes(r *gin.RouterGroup, handler *AutomationHandler, eventLimit gin.HandlerFunc) {
	if eventLimit == nil {
		eventLimit = func(c *gin.Context) { c.Next() }
	}
	auto := r.Group("/automations")
	{
		auto.GET("", handler.ListRules)
		auto.POST("", handler.CreateRule)
		auto.GET("/catalog", handler.Catalog)
		auto.GET("/activities", handler.ListActivities)
		auto.GET("/stats", handler.Stats)
		auto.POST("/events", eventLimit, handler.DispatchEvent)
		auto.GET("/:id", handler.GetRule)
		auto.PUT("/:id/active", handler.SetActive)
		auto.DELETE("/:id", handler.DeleteRule)
	}
}
