package handlers

import (
	"net/http"
	"runtime"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/advisorflow/store"
)

// 构建时通过 -ldflags 注入。
var (
	Version   = "dev"
	BuildTime = "unknown"
)

// HealthHandler 提供存活与就绪探针。
type HealthHandler struct {
	store   store.HandoffStore
	logger  *zap.Logger
	started time.Time
}

// NewHealthHandler 创建健康检查处理器。
func NewHealthHandler(s store.HandoffStore, logger *zap.Logger) *HealthHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HealthHandler{
		store:   s,
		logger:  logger.With(zap.String("component", "health_handler")),
		started: time.Now(),
	}
}

// HandleLiveness 处理 GET /health: 进程存活即可。
func (h *HealthHandler) HandleLiveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.logger, http.StatusOK, map[string]any{
		"status": "ok",
		"uptime": time.Since(h.started).Round(time.Second).String(),
	})
}

// HandleReadiness 处理 GET /ready: 检查存储后端连通。
func (h *HealthHandler) HandleReadiness(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Ping(r.Context()); err != nil {
		h.logger.Warn("readiness check failed", zap.Error(err))
		writeJSON(w, h.logger, http.StatusServiceUnavailable, map[string]string{
			"status": "unavailable",
			"reason": "store unreachable",
		})
		return
	}
	writeJSON(w, h.logger, http.StatusOK, map[string]string{"status": "ready"})
}

// HandleVersion 处理 GET /version。
func (h *HealthHandler) HandleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.logger, http.StatusOK, map[string]string{
		"version":    Version,
		"build_time": BuildTime,
		"go_version": runtime.Version(),
	})
}
