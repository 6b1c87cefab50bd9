// Package realtime 提供实时推送层: 推送通道抽象、连接注册表的
// 扇出分发，以及领域事件的发布与路由。
package realtime

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/coder/websocket"
	"go.uber.org/zap"
)

// ErrConnectionGone 表示推送通道已失效，注册表应当移除该连接。
var ErrConnectionGone = errors.New("connection gone")

// PushChannel 是一条到客户端的单向推送通道。
// Send 在通道失效时必须返回可识别的 ErrConnectionGone。
type PushChannel interface {
	Send(ctx context.Context, data []byte) error
	Close() error
}

// WebSocketChannel 将 WebSocket 连接适配为 PushChannel。
// 写操作通过 mutex 保护，因为 WebSocket 不支持并发写。
type WebSocketChannel struct {
	conn   *websocket.Conn
	logger *zap.Logger
	mu     sync.Mutex // 保护写操作
	closed bool
}

// NewWebSocketChannel 从已建立的 WebSocket 连接创建推送通道。
func NewWebSocketChannel(conn *websocket.Conn, logger *zap.Logger) *WebSocketChannel {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebSocketChannel{
		conn:   conn,
		logger: logger.With(zap.String("component", "ws_channel")),
	}
}

// Send 通过 WebSocket 发送一条文本消息。
func (w *WebSocketChannel) Send(ctx context.Context, data []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrConnectionGone
	}

	if err := w.conn.Write(ctx, websocket.MessageText, data); err != nil {
		if isGone(err) {
			w.closed = true
			return fmt.Errorf("websocket write: %w", ErrConnectionGone)
		}
		return fmt.Errorf("websocket write: %w", err)
	}
	return nil
}

// Close 关闭 WebSocket 连接。
func (w *WebSocketChannel) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true
	return w.conn.Close(websocket.StatusNormalClosure, "closing")
}

// isGone 判断写失败是否意味着对端已经离开。
func isGone(err error) bool {
	if websocket.CloseStatus(err) != -1 {
		return true
	}
	if errors.Is(err, net.ErrClosed) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && !netErr.Timeout() {
		return true
	}
	return false
}

var _ PushChannel = (*WebSocketChannel)(nil)
