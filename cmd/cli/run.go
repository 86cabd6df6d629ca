package cli

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"kanflow/internal/config"
	"kanflow/internal/handlers"
	"kanflow/internal/middleware"
	"kanflow/internal/models"
	"kanflow/internal/observability"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the kanflow server",
	Long:  `Run the kanflow HTTP server together with the notification hub and the due date sweep`,
	Run:   run,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func run(cmd *cobra.Command, args []string) {
	// 加载配置
	cfg := config.Load()

	// 初始化日志系统
	if err := config.InitLogger(cfg); err != nil {
		logrus.Fatalf("Failed to initialize logger: %v", err)
	}
	log := config.NewLogger()

	// OpenTelemetry 初始化（可选）
	if shutdown, err := observability.SetupTracing(context.Background(), cfg); err == nil {
		defer func() { _ = shutdown(context.Background()) }()
	} else {
		logrus.Warnf("init tracing: %v", err)
	}

	// 初始化数据库
	db, err := openDB(cfg)
	if err != nil {
		logrus.Fatalf("%v", err)
	}
	if err := db.AutoMigrate(models.All()...); err != nil {
		logrus.Fatalf("Failed to migrate database: %v", err)
	}

	s := buildStack(cfg, db, log)

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// 启动后台任务
	go s.hub.Run(ctx)
	if cfg.Automation.SweepInterval > 0 {
		go s.sweeper.StartDueDateSweep(ctx, cfg.Automation.SweepInterval)
	}

	// 设置 Gin 模式
	if cfg.Log.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	server := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: setupRouter(cfg, s),
	}

	go func() {
		logrus.Infof("Starting server on %s:%d", cfg.Server.Host, cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.Fatalf("Server failed to start: %v", err)
		}
	}()

	// 等待中断信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logrus.Info("Shutting down server...")

	// 优雅关闭
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logrus.Errorf("Server forced to shutdown: %v", err)
	}
	stop()

	logrus.Info("Server exited")
}

func setupRouter(cfg *config.Config, s *stack) *gin.Engine {
	router := gin.New()

	// 中间件
	router.Use(gin.Logger())
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())
	router.Use(otelgin.Middleware(cfg.Monitoring.Tracing.ServiceName))

	// 健康检查
	health := handlers.NewHealthHandler(s.db, s.hub.GetClientCount, s.engine)
	router.GET("/health", health.Health)
	router.GET("/ready", health.Ready)
	if cfg.Monitoring.Enabled {
		router.GET("/metrics", handlers.NewMetricsHandler(s.hub.GetClientCount, s.db).GetMetrics)
	}

	// API 路由组
	api := router.Group("/api/v1")
	{
		handlers.RegisterAutomationRoutes(api,
			handlers.NewAutomationHandler(s.rules, s.activities, s.engine, s.engine, logrus.StandardLogger()),
			middleware.RateLimitMiddleware(cfg, "events"))
		handlers.RegisterCardRoutes(api, handlers.NewCardHandler(s.cards, logrus.StandardLogger()))
		handlers.RegisterNotificationRoutes(api, handlers.NewNotificationHandler(s.notifications, s.hub))
	}

	return router
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Credentials", "true")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, X-User-ID, accept, origin, Cache-Control, X-Requested-With")
		c.Header("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}
