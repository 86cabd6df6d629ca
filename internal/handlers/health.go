package handlers

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"kanflow/internal/version"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// HealthHandler 健康检查处理器
type HealthHandler struct {
	db      *gorm.DB
	clients func() int
	stats   EngineStats
}

// NewHealthHandler 创建健康检查处理器；clients 与 stats 可为 nil
func NewHealthHandler(db *gorm.DB, clients func() int, stats EngineStats) *HealthHandler {
	return &HealthHandler{db: db, clients: clients, stats: stats}
}

// HealthResponse 健康检查响应
type HealthResponse struct {
	Status    string                 `json:"status"`
	Version   string                 `json:"version"`
	Timestamp time.Time              `json:"timestamp"`
	Services  map[string]ServiceInfo `json:"services"`
	System    SystemInfo             `json:"system"`
}

// ServiceInfo 服务信息
type ServiceInfo struct {
	Status  string      `json:"status"`
	Latency string      `json:"latency,omitempty"`
	Error   string      `json:"error,omitempty"`
	Details interface{} `json:"details,omitempty"`
}

// SystemInfo 系统信息
type SystemInfo struct {
	Uptime    string `json:"uptime"`
	GoVersion string `json:"go_version"`
}

var startTime = time.Now()

// Health 健康检查端点
func (h *HealthHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	response := HealthResponse{
		Status:    "healthy",
		Version:   version.Version,
		Timestamp: time.Now(),
		Services:  make(map[string]ServiceInfo),
		System: SystemInfo{
			Uptime:    time.Since(startTime).Round(time.Second).String(),
			GoVersion: runtime.Version(),
		},
	}

	if info := h.checkDatabase(ctx); info.Status != "healthy" {
		response.Status = "unhealthy"
		response.Services["database"] = info
	} else {
		response.Services["database"] = info
	}

	if h.stats != nil {
		engine := ServiceInfo{Status: "healthy", Details: gin.H{
			"max_depth": h.stats.MaxDepth(),
			"breakers":  h.stats.BreakerStates(),
		}}
		// 断路器打开时降级但不影响存活
		for _, state := range h.stats.BreakerStates() {
			if state == "open" {
				engine.Status = "degraded"
				if response.Status == "healthy" {
					response.Status = "degraded"
				}
			}
		}
		response.Services["automation"] = engine
	}

	if h.clients != nil {
		response.Services["websocket"] = ServiceInfo{Status: "healthy", Details: gin.H{"clients": h.clients()}}
	}

	statusCode := http.StatusOK
	if response.Status == "unhealthy" {
		statusCode = http.StatusServiceUnavailable
	}
	c.JSON(statusCode, response)
}

// Ready 就绪检查端点，只检查数据库
func (h *HealthHandler) Ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	db := h.checkDatabase(ctx)
	ready := db.Status == "healthy"
	statusCode := http.StatusOK
	if !ready {
		statusCode = http.StatusServiceUnavailable
	}
	c.JSON(statusCode, gin.H{
		"ready":     ready,
		"timestamp": time.Now(),
		"services":  gin.H{"database": db.Status},
	})
}

func (h *HealthHandler) checkDatabase(ctx context.Context) ServiceInfo {
	start := time.Now()
	if h.db == nil {
		return ServiceInfo{Status: "unhealthy", Error: "database connection not initialized"}
	}
	sqlDB, err := h.db.DB()
	if err == nil {
		err = sqlDB.PingContext(ctx)
	}
	if err != nil {
		return ServiceInfo{Status: "unhealthy", Latency: time.Since(start).String(), Error: err.Error()}
	}
	return ServiceInfo{Status: "healthy", Latency: time.Since(start).String(), Details: gin.H{"driver": h.db.Dialector.Name()}}
}
