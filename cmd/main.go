// DeFi聚合器拆分路由服务主程序
// 负责加载配置、初始化报价客户端、阈值缓存和分片决策器
// 对外提供单笔与批量拆分路由接口
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"defi-aggregator/split-router/internal/adapters"
	"defi-aggregator/split-router/internal/handlers"
	"defi-aggregator/split-router/internal/metrics"
	"defi-aggregator/split-router/internal/middleware"
	"defi-aggregator/split-router/internal/networks"
	"defi-aggregator/split-router/internal/partcount"
	"defi-aggregator/split-router/internal/services"
	"defi-aggregator/split-router/internal/thresholds"
	"defi-aggregator/split-router/internal/types"
	"defi-aggregator/split-router/pkg/cache"
	"defi-aggregator/split-router/pkg/config"
	"defi-aggregator/split-router/pkg/database"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

const version = "1.0.0"

// Application 拆分路由应用程序
type Application struct {
	Config       *types.Config          // 应用配置
	Cache        cache.CacheManager     // 报价结果缓存
	RouteService *services.RouteService // 路由服务
	Handler      *handlers.RouteHandler // HTTP处理器
	Server       *http.Server           // HTTP服务器
	Logger       *logrus.Logger         // 日志记录器
}

func main() {
	app, err := NewApplication()
	if err != nil {
		logrus.Fatalf("创建拆分路由应用失败: %v", err)
	}

	if err := app.Run(); err != nil {
		logrus.Fatalf("运行拆分路由应用失败: %v", err)
	}
}

// NewApplication 创建拆分路由应用实例
func NewApplication() (*Application, error) {
	// 1. 加载配置
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("加载配置失败: %w", err)
	}

	// 2. 初始化日志记录器
	logger := initLogger(cfg)
	logger.Infof("启动DeFi聚合器拆分路由服务 - 环境: %s", cfg.Server.Environment)

	// 3. 指标
	var m *metrics.Metrics
	if cfg.Monitoring.MetricsEnabled {
		m = metrics.New()
	}

	// 4. 网络表与高价值代币注册表，数据库可选覆盖
	networkTable := networks.DefaultTable()
	registry := networks.DefaultHighValueRegistry()
	database.LoadRegistry(cfg.Database, networkTable, registry, logger)

	// 5. 报价客户端、阈值缓存、分片决策器
	logger.Info("初始化报价服务客户端...")
	quoteClient := adapters.NewQuoteClient(&cfg.Quoter, logger, m)
	thresholdCache := thresholds.NewCache(quoteClient, cfg.Thresholds.TTL, thresholds.SystemClock(), logger, m)
	resolver := partcount.NewResolver(registry, thresholdCache, logger, m)

	// 6. 报价结果缓存
	cacheCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	cacheManager := cache.New(cacheCtx, cfg.Cache, cfg.Redis, logger)
	cancel()

	// 7. 路由服务
	logger.Info("初始化拆分路由服务...")
	routeService := services.NewRouteService(cfg, services.Dependencies{
		Quoter:     quoteClient,
		Resolver:   resolver,
		Thresholds: thresholdCache,
		Networks:   networkTable,
		Cache:      cacheManager,
		Metrics:    m,
	}, logger)

	// 8. HTTP处理器与路由
	routeHandler := handlers.NewRouteHandler(routeService, version, logger)

	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}
	router := setupRouter(cfg, routeHandler, m, logger)

	server := &http.Server{
		Addr:           fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:        router,
		ReadTimeout:    30 * time.Second,
		WriteTimeout:   60 * time.Second, // 批量请求可能较慢
		IdleTimeout:    120 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	return &Application{
		Config:       cfg,
		Cache:        cacheManager,
		RouteService: routeService,
		Handler:      routeHandler,
		Server:       server,
		Logger:       logger,
	}, nil
}

// Run 启动应用程序并等待退出信号
func (app *Application) Run() error {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		app.Logger.Infof("拆分路由服务启动，监听端口: %s", app.Server.Addr)
		app.Logger.Info("API接口:")
		app.Logger.Info("  单笔路由: POST /api/v1/route")
		app.Logger.Info("  批量路由: POST /api/v1/route/batch")
		app.Logger.Info("  分片决策: POST /api/v1/part-count")
		app.Logger.Infof("  健康检查: GET  %s", app.Config.Monitoring.HealthCheckPath)

		if err := app.Server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			app.Logger.Fatalf("HTTP服务器启动失败: %v", err)
		}
	}()

	<-quit
	app.Logger.Info("接收到关闭信号，开始优雅关闭...")

	return app.Shutdown()
}

// Shutdown 优雅关闭应用程序
func (app *Application) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	app.Logger.Info("正在关闭HTTP服务器...")
	if err := app.Server.Shutdown(ctx); err != nil {
		app.Logger.Errorf("HTTP服务器关闭失败: %v", err)
		return err
	}

	app.Logger.Info("正在关闭缓存连接...")
	if err := app.Cache.Close(); err != nil {
		app.Logger.Errorf("缓存关闭失败: %v", err)
		return err
	}

	app.Logger.Info("拆分路由服务已优雅关闭")
	return nil
}

// initLogger 初始化日志记录器
func initLogger(cfg *types.Config) *logrus.Logger {
	logger := logrus.New()

	level, err := logrus.ParseLevel(cfg.Server.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	if cfg.Server.Environment == "production" {
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339,
		})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02 15:04:05",
			ForceColors:     true,
		})
	}

	return logger
}

// setupRouter 设置HTTP路由器
func setupRouter(cfg *types.Config, handler *handlers.RouteHandler, m *metrics.Metrics, logger *logrus.Logger) *gin.Engine {
	router := gin.New()

	router.Use(middleware.RequestID())
	router.Use(middleware.Recovery(logger))
	router.Use(middleware.RequestLogger(logger, &cfg.Monitoring))
	router.Use(middleware.ResponseHeaders(version))
	if m != nil {
		router.Use(middleware.Metrics(m))
	}
	router.Use(middleware.NewRateLimiter(&cfg.RateLimit, logger).RateLimit())

	handler.RegisterRoutes(router, &cfg.Monitoring)

	if m != nil {
		router.GET(cfg.Monitoring.MetricsPath, gin.WrapH(m.Handler()))
	}

	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, types.APIResponse{
			Success: false,
			Error: &types.APIError{
				Code:    types.ErrCodeNotFound,
				Message: "请求的资源不存在",
			},
			Timestamp: time.Now().Unix(),
			RequestID: c.GetString(middleware.ContextKeyRequestID),
		})
	})

	return router
}
