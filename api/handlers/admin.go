package handlers

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/BaSui01/advisorflow/handoff"
	"github.com/BaSui01/advisorflow/queue"
	"github.com/BaSui01/advisorflow/realtime"
	"github.com/BaSui01/advisorflow/types"
)

// AdminHandler 暴露运营接口: 队列与转接统计、定向广播。
type AdminHandler struct {
	controller *handoff.Controller
	queue      queue.Queue
	publisher  *realtime.Publisher
	registry   *realtime.Registry
	logger     *zap.Logger
}

// NewAdminHandler 创建运营处理器。
func NewAdminHandler(controller *handoff.Controller, q queue.Queue, publisher *realtime.Publisher, registry *realtime.Registry, logger *zap.Logger) *AdminHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AdminHandler{
		controller: controller,
		queue:      q,
		publisher:  publisher,
		registry:   registry,
		logger:     logger.With(zap.String("component", "admin_handler")),
	}
}

// statsResponse 汇总服务的实时状态。
type statsResponse struct {
	Handoffs        map[types.HandoffStatus]int64 `json:"handoffs"`
	QueueDepth      int64                         `json:"queue_depth"`
	DeadLetterDepth int64                         `json:"dead_letter_depth"`
	LiveConnections int                           `json:"live_connections"`
}

// HandleStats 处理 GET /api/v1/stats。
func (h *AdminHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, h.logger, "GET")
		return
	}

	counts, err := h.controller.Stats(r.Context())
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	resp := statsResponse{
		Handoffs:        counts,
		LiveConnections: h.registry.Count(),
	}
	// 队列深度取不到时保持 -1，不让统计接口整体失败
	resp.QueueDepth = -1
	resp.DeadLetterDepth = -1
	if depth, derr := h.queue.Depth(r.Context()); derr == nil {
		resp.QueueDepth = depth
	}
	if depth, derr := h.queue.DeadLetterDepth(r.Context()); derr == nil {
		resp.DeadLetterDepth = depth
	}

	writeJSON(w, h.logger, http.StatusOK, resp)
}

// broadcastRequest 是 POST /api/v1/broadcast 的请求体。
// UserIDs 为空时向所有在线连接广播。
type broadcastRequest struct {
	Message json.RawMessage `json:"message"`
	UserIDs []string        `json:"user_ids,omitempty"`
}

// HandleBroadcast 处理 POST /api/v1/broadcast，仅限顾问角色。
func (h *AdminHandler) HandleBroadcast(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, h.logger, "POST")
		return
	}

	if _, ok := types.Roles(r.Context()); ok && !types.HasRole(r.Context(), "advisor") {
		writeError(w, h.logger, types.NewError(types.ErrForbidden, "broadcast requires advisor role").
			WithHTTPStatus(http.StatusForbidden))
		return
	}

	var req broadcastRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	if len(req.Message) == 0 {
		writeError(w, h.logger, types.NewError(types.ErrValidationFailed, "message is required").
			WithHTTPStatus(http.StatusBadRequest))
		return
	}

	delivered, err := h.publisher.Broadcast(r.Context(), req.Message, req.UserIDs...)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	writeJSON(w, h.logger, http.StatusOK, map[string]int{"delivered": delivered})
}
