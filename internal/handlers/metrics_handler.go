package handlers

import (
	"fmt"
	"net/http"
	"runtime"
	"sort"
	"strings"
	"time"

	"kanflow/internal/metrics"
	"kanflow/internal/version"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// MetricsHandler 指标处理器
type MetricsHandler struct {
	clients   func() int
	db        *gorm.DB
	startedAt time.Time
}

func NewMetricsHandler(clients func() int, db *gorm.DB) *MetricsHandler {
	return &MetricsHandler{clients: clients, db: db, startedAt: time.Now()}
}

// GetMetrics 获取系统指标（Prometheus 格式）
func (h *MetricsHandler) GetMetrics(c *gin.Context) {
	s := metrics.Take()
	b := &strings.Builder{}

	fmt.Fprintf(b, "# HELP kanflow_info Information about the kanflow instance\n")
	fmt.Fprintf(b, "# TYPE kanflow_info gauge\n")
	fmt.Fprintf(b, "kanflow_info{version=%q,commit=%q,build_time=%q} 1\n\n", version.Version, version.Commit, version.BuildTime)

	fmt.Fprintf(b, "# HELP kanflow_uptime_seconds Uptime in seconds\n")
	fmt.Fprintf(b, "# TYPE kanflow_uptime_seconds counter\n")
	fmt.Fprintf(b, "kanflow_uptime_seconds %.0f\n\n", time.Since(h.startedAt).Seconds())

	fmt.Fprintf(b, "# HELP kanflow_automation_actions_total Action executions by type and status\n")
	fmt.Fprintf(b, "# TYPE kanflow_automation_actions_total counter\n")
	for _, k := range sortedKeys(s.Actions) {
		actionType, status, _ := strings.Cut(k, ":")
		fmt.Fprintf(b, "kanflow_automation_actions_total{action=%q,status=%q} %d\n", actionType, status, s.Actions[k])
	}
	b.WriteString("\n")

	fmt.Fprintf(b, "# HELP kanflow_automation_recursion_denied_total Synthetic events dropped by the recursion guard\n")
	fmt.Fprintf(b, "# TYPE kanflow_automation_recursion_denied_total counter\n")
	for _, k := range sortedKeys(s.RecursionDenied) {
		fmt.Fprintf(b, "kanflow_automation_recursion_denied_total{reason=%q} %d\n", k, s.RecursionDenied[k])
	}
	b.WriteString("\n")

	fmt.Fprintf(b, "# HELP kanflow_automation_rule_resolution_failures_total Dispatches that failed to load rules\n")
	fmt.Fprintf(b, "# TYPE kanflow_automation_rule_resolution_failures_total counter\n")
	fmt.Fprintf(b, "kanflow_automation_rule_resolution_failures_total %d\n\n", s.RuleResolutionFailures)

	fmt.Fprintf(b, "# HELP kanflow_rate_limit_drops_total Requests rejected by the rate limiter\n")
	fmt.Fprintf(b, "# TYPE kanflow_rate_limit_drops_total counter\n")
	for _, k := range sortedKeys(s.RateLimitByPrefix) {
		fmt.Fprintf(b, "kanflow_rate_limit_drops_total{scope=%q} %d\n", k, s.RateLimitByPrefix[k])
	}
	b.WriteString("\n")

	if h.clients != nil {
		fmt.Fprintf(b, "# HELP kanflow_websocket_active_connections Active WebSocket connections\n")
		fmt.Fprintf(b, "# TYPE kanflow_websocket_active_connections gauge\n")
		fmt.Fprintf(b, "kanflow_websocket_active_connections %d\n\n", h.clients())
	}

	fmt.Fprintf(b, "# HELP kanflow_go_goroutines Number of goroutines\n")
	fmt.Fprintf(b, "# TYPE kanflow_go_goroutines gauge\n")
	fmt.Fprintf(b, "kanflow_go_goroutines %d\n", runtime.NumGoroutine())

	if h.db != nil {
		if sqlDB, err := h.db.DB(); err == nil {
			ds := sqlDB.Stats()
			fmt.Fprintf(b, "\n# HELP kanflow_db_open_connections The number of established connections both in use and idle\n")
			fmt.Fprintf(b, "# TYPE kanflow_db_open_connections gauge\n")
			fmt.Fprintf(b, "kanflow_db_open_connections %d\n", ds.OpenConnections)
			fmt.Fprintf(b, "# HELP kanflow_db_wait_count The total number of connections waited for\n")
			fmt.Fprintf(b, "# TYPE kanflow_db_wait_count counter\n")
			fmt.Fprintf(b, "kanflow_db_wait_count %d\n", ds.WaitCount)
		}
	}

	c.Data(http.StatusOK, "text/plain; version=0.0.4", []byte(b.String()))
}

func sortedKeys(m map[string]uint64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
