package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/advisorflow/realtime"
	"github.com/BaSui01/advisorflow/types"
)

// ConnectHandler 将 HTTP 请求升级为 WebSocket 推送连接并登记到
// 连接注册表。客户端发来的任何帧都视为心跳，刷新活跃时间。
type ConnectHandler struct {
	registry *realtime.Registry
	logger   *zap.Logger
}

// NewConnectHandler 创建 WebSocket 接入处理器。
func NewConnectHandler(registry *realtime.Registry, logger *zap.Logger) *ConnectHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ConnectHandler{
		registry: registry,
		logger:   logger.With(zap.String("component", "connect_handler")),
	}
}

// HandleConnect 处理 GET /api/v1/ws。
func (h *ConnectHandler) HandleConnect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, h.logger, "GET")
		return
	}

	userID, ok := types.UserID(r.Context())
	if !ok || userID == "" {
		userID = r.URL.Query().Get("user_id")
	}
	if userID == "" {
		writeError(w, h.logger, types.NewError(types.ErrUnauthorized, "missing user identity").
			WithHTTPStatus(http.StatusUnauthorized))
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		CompressionMode: websocket.CompressionContextTakeover,
	})
	if err != nil {
		h.logger.Warn("websocket upgrade failed",
			zap.String("user_id", userID), zap.Error(err))
		return
	}

	info := &types.Connection{
		ConnectionID: uuid.New().String(),
		UserID:       userID,
		Status:       types.ConnectionConnected,
		LastActivity: time.Now(),
		Metadata: &types.ConnectionMetadata{
			Platform:  r.URL.Query().Get("platform"),
			IsAdvisor: types.HasRole(r.Context(), "advisor"),
		},
	}

	channel := realtime.NewWebSocketChannel(conn, h.logger)
	if err := h.registry.Register(r.Context(), info, channel); err != nil {
		h.logger.Error("connection registration failed",
			zap.String("connection_id", info.ConnectionID), zap.Error(err))
		conn.Close(websocket.StatusInternalError, "registration failed")
		return
	}

	h.logger.Info("websocket connected",
		zap.String("connection_id", info.ConnectionID),
		zap.String("user_id", userID),
		zap.Bool("is_advisor", info.Metadata.IsAdvisor),
	)

	h.readLoop(r.Context(), conn, info.ConnectionID)
}

// readLoop 排空入站帧并把每一帧当作心跳。连接关闭或出错时注销。
func (h *ConnectHandler) readLoop(ctx context.Context, conn *websocket.Conn, connectionID string) {
	defer func() {
		// 注销要用独立的 context: 请求 context 此时多半已取消
		cleanupCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := h.registry.Unregister(cleanupCtx, connectionID); err != nil {
			h.logger.Warn("unregister on disconnect failed",
				zap.String("connection_id", connectionID), zap.Error(err))
		}
	}()

	for {
		_, _, err := conn.Read(ctx)
		if err != nil {
			h.logger.Debug("websocket closed",
				zap.String("connection_id", connectionID), zap.Error(err))
			return
		}
		h.registry.Touch(ctx, connectionID)
	}
}
