package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/BaSui01/advisorflow/internal/metrics"
	"github.com/BaSui01/advisorflow/queue"
	"github.com/BaSui01/advisorflow/types"
)

// MessageHandler 接收消息并送入工作队列异步投递。
type MessageHandler struct {
	queue   queue.Queue
	metrics *metrics.Collector
	logger  *zap.Logger
}

// NewMessageHandler 创建消息处理器。
func NewMessageHandler(q queue.Queue, collector *metrics.Collector, logger *zap.Logger) *MessageHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MessageHandler{
		queue:   q,
		metrics: collector,
		logger:  logger.With(zap.String("component", "message_handler")),
	}
}

// enqueueRequest 是 POST /api/v1/messages 的请求体。
type enqueueRequest struct {
	Type     types.MessageType     `json:"type"`
	UserID   string                `json:"user_id,omitempty"`
	Priority types.HandoffPriority `json:"priority,omitempty"`
	Payload  types.MessagePayload  `json:"payload"`
}

// enqueueResponse 确认消息已被接受。
type enqueueResponse struct {
	MessageID string `json:"message_id"`
	Status    string `json:"status"`
}

// HandleEnqueue 处理 POST /api/v1/messages。重复提交在去重窗口内
// 被静默合并，响应与首次提交一致。
func (h *MessageHandler) HandleEnqueue(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, h.logger, "POST")
		return
	}

	var req enqueueRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}

	if req.Type == "" {
		req.Type = types.MessageTypeChat
	}
	if req.UserID == "" {
		if userID, ok := types.UserID(r.Context()); ok {
			req.UserID = userID
		}
	}

	msg := &types.QueueMessage{
		Type:    req.Type,
		Payload: req.Payload,
		Metadata: types.MessageMetadata{
			UserID:   req.UserID,
			Priority: req.Priority,
		},
	}

	if err := h.queue.Enqueue(r.Context(), msg); err != nil {
		if err == queue.ErrInvalidMessage {
			writeError(w, h.logger, types.NewError(types.ErrValidationFailed, "invalid message").
				WithHTTPStatus(http.StatusBadRequest).WithCause(err))
			return
		}
		writeError(w, h.logger, types.NewError(types.ErrTransientInfra, "enqueue failed").
			WithHTTPStatus(http.StatusServiceUnavailable).WithRetryable(true).WithCause(err))
		return
	}
	h.metrics.RecordEnqueue(string(msg.Type))

	writeJSON(w, h.logger, http.StatusAccepted, enqueueResponse{
		MessageID: msg.ID,
		Status:    "accepted",
	})
}
