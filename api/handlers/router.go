package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/BaSui01/advisorflow/handoff"
	"github.com/BaSui01/advisorflow/internal/metrics"
	"github.com/BaSui01/advisorflow/queue"
	"github.com/BaSui01/advisorflow/realtime"
	"github.com/BaSui01/advisorflow/store"
)

// RouterDeps 汇集路由需要的全部依赖。
type RouterDeps struct {
	Controller *handoff.Controller
	Queue      queue.Queue
	Registry   *realtime.Registry
	Publisher  *realtime.Publisher
	Store      store.HandoffStore
	Metrics    *metrics.Collector
	Logger     *zap.Logger
}

// NewRouter 组装 API 路由。中间件由调用方在外层包裹。
func NewRouter(deps RouterDeps) *http.ServeMux {
	handoffH := NewHandoffHandler(deps.Controller, deps.Logger)
	messageH := NewMessageHandler(deps.Queue, deps.Metrics, deps.Logger)
	connectH := NewConnectHandler(deps.Registry, deps.Logger)
	adminH := NewAdminHandler(deps.Controller, deps.Queue, deps.Publisher, deps.Registry, deps.Logger)
	healthH := NewHealthHandler(deps.Store, deps.Logger)

	mux := http.NewServeMux()

	mux.HandleFunc("/api/v1/handoffs", handoffH.HandleCollection)
	mux.HandleFunc("/api/v1/handoffs/", handoffH.HandleItem)
	mux.HandleFunc("/api/v1/messages", messageH.HandleEnqueue)
	mux.HandleFunc("/api/v1/ws", connectH.HandleConnect)
	mux.HandleFunc("/api/v1/stats", adminH.HandleStats)
	mux.HandleFunc("/api/v1/broadcast", adminH.HandleBroadcast)

	mux.HandleFunc("/health", healthH.HandleLiveness)
	mux.HandleFunc("/healthz", healthH.HandleLiveness)
	mux.HandleFunc("/ready", healthH.HandleReadiness)
	mux.HandleFunc("/version", healthH.HandleVersion)

	return mux
}
