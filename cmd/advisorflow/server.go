package main

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/BaSui01/advisorflow/api/handlers"
	"github.com/BaSui01/advisorflow/config"
	"github.com/BaSui01/advisorflow/handoff"
	"github.com/BaSui01/advisorflow/internal/cache"
	"github.com/BaSui01/advisorflow/internal/metrics"
	"github.com/BaSui01/advisorflow/internal/server"
	"github.com/BaSui01/advisorflow/internal/telemetry"
	"github.com/BaSui01/advisorflow/internal/tlsutil"
	"github.com/BaSui01/advisorflow/queue"
	"github.com/BaSui01/advisorflow/realtime"
	"github.com/BaSui01/advisorflow/store"
	"github.com/BaSui01/advisorflow/types"
)

// =============================================================================
// 🖥️ Server 结构
// =============================================================================

// Server 是 AdvisorFlow 的主服务器
type Server struct {
	cfg    *config.Config
	logger *zap.Logger

	// 服务器管理器
	httpManager    *server.Manager
	metricsManager *server.Manager

	// 基础设施
	redisClient  *redis.Client
	cacheManager *cache.Manager
	otel         *telemetry.Providers

	// 领域组件
	handoffStore store.HandoffStore
	connStore    store.ConnectionStore
	controller   *handoff.Controller
	registry     *realtime.Registry
	eventBus     realtime.EventBus
	publisher    *realtime.Publisher
	workQueue    queue.Queue
	processor    *queue.Processor

	// 指标收集器
	metricsCollector *metrics.Collector

	// 后台任务生命周期
	backgroundCancel context.CancelFunc
}

// NewServer 创建新的服务器实例
func NewServer(cfg *config.Config, logger *zap.Logger, otel *telemetry.Providers) *Server {
	return &Server{
		cfg:    cfg,
		logger: logger,
		otel:   otel,
	}
}

// =============================================================================
// 🚀 启动流程
// =============================================================================

// Start 启动所有服务
func (s *Server) Start() error {
	s.metricsCollector = metrics.NewCollector("advisorflow", s.logger)

	// 1. 基础设施: Redis + 缓存
	if err := s.initInfrastructure(); err != nil {
		return fmt.Errorf("failed to init infrastructure: %w", err)
	}

	// 2. 领域组件: 存储 → 注册表 → 发布器 → 控制器 → 队列
	s.initComponents()

	// 3. 后台任务: 超时巡检、连接清扫、队列消费
	backgroundCtx, cancel := context.WithCancel(context.Background())
	s.backgroundCancel = cancel
	s.controller.StartSweeper(backgroundCtx)
	s.registry.StartSweeper(backgroundCtx)
	s.processor.Start(backgroundCtx)

	// 4. HTTP 与 Metrics 服务器
	if err := s.startHTTPServer(backgroundCtx); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	if err := s.startMetricsServer(); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	s.logger.Info("All servers started",
		zap.Int("http_port", s.cfg.Server.HTTPPort),
		zap.Int("metrics_port", s.cfg.Server.MetricsPort),
	)
	return nil
}

// =============================================================================
// 🔧 初始化方法
// =============================================================================

// initInfrastructure 建立 Redis 连接与缓存管理器
func (s *Server) initInfrastructure() error {
	var redisTLS *tls.Config
	if s.cfg.Redis.TLSEnabled {
		redisTLS = tlsutil.RedisTLSConfig(s.cfg.Redis.TLSServerName)
	}

	s.redisClient = redis.NewClient(&redis.Options{
		Addr:         s.cfg.Redis.Addr,
		Password:     s.cfg.Redis.Password,
		DB:           s.cfg.Redis.DB,
		PoolSize:     s.cfg.Redis.PoolSize,
		MinIdleConns: s.cfg.Redis.MinIdleConns,
		TLSConfig:    redisTLS,
	})

	cacheManager, err := cache.NewManager(cache.Config{
		Addr:         s.cfg.Redis.Addr,
		Password:     s.cfg.Redis.Password,
		DB:           s.cfg.Redis.DB,
		DefaultTTL:   s.cfg.Redis.CacheTTL,
		PoolSize:     s.cfg.Redis.PoolSize,
		MinIdleConns: s.cfg.Redis.MinIdleConns,
		TLS:          redisTLS,
	}, s.logger)
	if err != nil {
		return fmt.Errorf("cache manager: %w", err)
	}
	s.cacheManager = cacheManager
	return nil
}

// initComponents 按依赖顺序组装领域组件
func (s *Server) initComponents() {
	// 持久存储 + 旁路缓存
	redisStore := store.NewRedisHandoffStoreWithClient(
		s.redisClient, s.cfg.Redis.KeyPrefix, s.cfg.Handoff.RecordRetention)
	s.handoffStore = store.NewCachedHandoffStore(
		redisStore, s.cacheManager, s.metricsCollector, s.logger, s.cfg.Redis.CacheTTL)

	// 连接注册表
	s.connStore = store.NewRedisConnectionStore(s.redisClient, s.cfg.Redis.KeyPrefix)
	s.registry = realtime.NewRegistry(s.connStore, s.metricsCollector, s.logger, s.cfg.Notify)

	// 事件总线与通知发布器
	s.eventBus = realtime.NewRedisEventBus(s.redisClient, s.cfg.Redis.KeyPrefix+"events")
	s.publisher = realtime.NewPublisher(s.eventBus, s.registry, s.logger)

	// 转接控制器
	s.controller = handoff.NewController(
		s.handoffStore, s.publisher, s.metricsCollector, s.logger, s.cfg.Handoff)

	// 工作队列与消费处理器
	s.workQueue = queue.NewRedisQueue(s.redisClient, s.cfg.Queue, s.logger)
	executor := queue.NewExecutor(queue.RetryPolicy{
		MaxAttempts: s.cfg.Queue.MaxRetries,
		BaseDelay:   s.cfg.Queue.RetryBase,
		MaxDelay:    s.cfg.Queue.RetryMaxDelay,
		Jitter:      true,
	}, s.logger)
	s.processor = queue.NewProcessor(
		s.workQueue, s.deliverMessage, executor, s.metricsCollector, s.logger, s.cfg.Queue)

	s.logger.Info("Components initialized")
}

// deliverMessage 是队列消费处理器: 把消息推送给目标用户的所有
// 在线连接。没有在线连接不算失败，消息在用户重连后由上层补偿。
func (s *Server) deliverMessage(ctx context.Context, msg *types.QueueMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal queue message: %w", err)
	}

	if _, err := s.publisher.SendToUser(ctx, msg.Metadata.UserID, payload); err != nil {
		return fmt.Errorf("deliver to user %s: %w", msg.Metadata.UserID, err)
	}
	return nil
}

// =============================================================================
// 🌐 HTTP 服务器
// =============================================================================

func (s *Server) startHTTPServer(rateLimiterCtx context.Context) error {
	mux := handlers.NewRouter(handlers.RouterDeps{
		Controller: s.controller,
		Queue:      s.workQueue,
		Registry:   s.registry,
		Publisher:  s.publisher,
		Store:      s.handoffStore,
		Metrics:    s.metricsCollector,
		Logger:     s.logger,
	})

	// 探针与版本端点不做认证
	skipAuthPaths := []string{"/health", "/healthz", "/ready", "/version", "/metrics"}

	handler := Chain(mux,
		Recovery(s.logger),
		RequestID(),
		SecurityHeaders(),
		RequestLogger(s.logger),
		CORS(s.cfg.Server.CORSAllowedOrigins),
		RateLimiter(rateLimiterCtx, float64(s.cfg.Server.RateLimitRPS), s.cfg.Server.RateLimitBurst, s.logger),
		JWTAuth(s.cfg.JWT, skipAuthPaths, s.logger),
		MetricsMiddleware(s.metricsCollector),
	)

	serverConfig := server.Config{
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.HTTPPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		IdleTimeout:     2 * s.cfg.Server.ReadTimeout,
		MaxHeaderBytes:  1 << 20,
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}

	s.httpManager = server.NewManager(handler, serverConfig, s.logger)
	if err := s.httpManager.Start(); err != nil {
		return err
	}

	s.logger.Info("HTTP server started", zap.Int("port", s.cfg.Server.HTTPPort))
	return nil
}

// =============================================================================
// 📊 Metrics 服务器
// =============================================================================

func (s *Server) startMetricsServer() error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	serverConfig := server.Config{
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.MetricsPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}

	s.metricsManager = server.NewManager(mux, serverConfig, s.logger)
	if err := s.metricsManager.Start(); err != nil {
		return err
	}

	s.logger.Info("Metrics server started", zap.Int("port", s.cfg.Server.MetricsPort))
	return nil
}

// =============================================================================
// 🛑 关闭流程
// =============================================================================

// WaitForShutdown 等待关闭信号并优雅关闭
func (s *Server) WaitForShutdown() {
	if s.httpManager != nil {
		s.httpManager.WaitForShutdown()
	}
	s.Shutdown()
}

// Shutdown 优雅关闭所有服务
func (s *Server) Shutdown() {
	s.logger.Info("Starting graceful shutdown...")

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
	defer cancel()

	// 1. 停止后台任务，先让在途批次收尾
	if s.backgroundCancel != nil {
		s.backgroundCancel()
	}
	if s.processor != nil {
		s.processor.Stop()
	}
	if s.controller != nil {
		s.controller.Stop()
	}

	// 2. 关闭 HTTP 服务器
	if s.httpManager != nil {
		if err := s.httpManager.Shutdown(ctx); err != nil {
			s.logger.Error("HTTP server shutdown error", zap.Error(err))
		}
	}
	if s.metricsManager != nil {
		if err := s.metricsManager.Shutdown(ctx); err != nil {
			s.logger.Error("Metrics server shutdown error", zap.Error(err))
		}
	}

	// 3. 断开推送连接并释放存储
	if s.registry != nil {
		if err := s.registry.Close(ctx); err != nil {
			s.logger.Error("Registry shutdown error", zap.Error(err))
		}
	}
	if s.eventBus != nil {
		s.eventBus.Close()
	}
	if s.workQueue != nil {
		s.workQueue.Close()
	}
	// 存储关闭会一并释放共享的 Redis 客户端
	if s.handoffStore != nil {
		if err := s.handoffStore.Close(); err != nil {
			s.logger.Error("Store shutdown error", zap.Error(err))
		}
	}
	if s.cacheManager != nil {
		if err := s.cacheManager.Close(); err != nil {
			s.logger.Error("Cache shutdown error", zap.Error(err))
		}
	}

	// 4. 遥测落盘
	if s.otel != nil {
		if err := s.otel.Shutdown(ctx); err != nil {
			s.logger.Error("Telemetry shutdown error", zap.Error(err))
		}
	}

	s.logger.Info("Graceful shutdown completed")
}
