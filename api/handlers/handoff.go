package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/advisorflow/handoff"
	"github.com/BaSui01/advisorflow/types"
)

// defaultListLimit 列表接口的默认与最大条数。
const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// HandoffHandler 暴露转接生命周期的 REST 接口。
type HandoffHandler struct {
	controller *handoff.Controller
	logger     *zap.Logger
}

// NewHandoffHandler 创建转接处理器。
func NewHandoffHandler(controller *handoff.Controller, logger *zap.Logger) *HandoffHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HandoffHandler{
		controller: controller,
		logger:     logger.With(zap.String("component", "handoff_handler")),
	}
}

// assignRequest 是 POST /assign 的请求体。
type assignRequest struct {
	AdvisorID string `json:"advisor_id"`
}

// cancelRequest 是 POST /cancel 的请求体。
type cancelRequest struct {
	Reason string `json:"reason,omitempty"`
}

// HandleCollection 处理 /api/v1/handoffs: POST 创建, GET 按状态列出。
func (h *HandoffHandler) HandleCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.create(w, r)
	case http.MethodGet:
		h.list(w, r)
	default:
		methodNotAllowed(w, h.logger, "GET, POST")
	}
}

// HandleItem 处理 /api/v1/handoffs/{id} 与其子操作
// /assign /start /complete /cancel。
func (h *HandoffHandler) HandleItem(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/v1/handoffs/")
	queueID, action, _ := strings.Cut(rest, "/")
	if queueID == "" {
		writeError(w, h.logger, types.NewError(types.ErrInvalidRequest, "missing queue id").
			WithHTTPStatus(http.StatusBadRequest))
		return
	}

	switch action {
	case "":
		if r.Method != http.MethodGet {
			methodNotAllowed(w, h.logger, "GET")
			return
		}
		h.get(w, r, queueID)
	case "assign":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, h.logger, "POST")
			return
		}
		h.assign(w, r, queueID)
	case "start":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, h.logger, "POST")
			return
		}
		h.start(w, r, queueID)
	case "complete":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, h.logger, "POST")
			return
		}
		h.complete(w, r, queueID)
	case "cancel":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, h.logger, "POST")
			return
		}
		h.cancel(w, r, queueID)
	default:
		writeError(w, h.logger, types.NewError(types.ErrNotFound, "unknown handoff action: "+action).
			WithHTTPStatus(http.StatusNotFound))
	}
}

func (h *HandoffHandler) create(w http.ResponseWriter, r *http.Request) {
	var req types.CreateHandoffRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}

	// 请求体缺省时从认证上下文补全用户
	if req.UserID == "" {
		if userID, ok := types.UserID(r.Context()); ok {
			req.UserID = userID
		}
	}

	record, err := h.controller.Create(r.Context(), &req)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusCreated, record)
}

func (h *HandoffHandler) list(w http.ResponseWriter, r *http.Request) {
	limit := defaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, h.logger, types.NewError(types.ErrInvalidRequest, "invalid limit").
				WithHTTPStatus(http.StatusBadRequest))
			return
		}
		limit = parsed
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	status := types.HandoffStatus(r.URL.Query().Get("status"))
	if status == "" {
		status = types.HandoffPending
	}

	records, err := h.controller.ListByStatus(r.Context(), status, limit)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, map[string]any{
		"handoffs": records,
		"count":    len(records),
	})
}

func (h *HandoffHandler) get(w http.ResponseWriter, r *http.Request, queueID string) {
	record, err := h.controller.Get(r.Context(), queueID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, record)
}

func (h *HandoffHandler) assign(w http.ResponseWriter, r *http.Request, queueID string) {
	var req assignRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	if req.AdvisorID == "" {
		// 顾问自己点击认领时从认证上下文取 ID
		if userID, ok := types.UserID(r.Context()); ok {
			req.AdvisorID = userID
		}
	}

	record, err := h.controller.Assign(r.Context(), queueID, req.AdvisorID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, record)
}

func (h *HandoffHandler) start(w http.ResponseWriter, r *http.Request, queueID string) {
	record, err := h.controller.Start(r.Context(), queueID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, record)
}

func (h *HandoffHandler) complete(w http.ResponseWriter, r *http.Request, queueID string) {
	record, err := h.controller.Complete(r.Context(), queueID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, record)
}

func (h *HandoffHandler) cancel(w http.ResponseWriter, r *http.Request, queueID string) {
	var req cancelRequest
	// cancel 的请求体可省略
	if r.ContentLength > 0 {
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, h.logger, err)
			return
		}
	}

	record, err := h.controller.Cancel(r.Context(), queueID, req.Reason)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, record)
}
