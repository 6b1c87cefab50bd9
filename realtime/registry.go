package realtime

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/advisorflow/config"
	"github.com/BaSui01/advisorflow/internal/metrics"
	"github.com/BaSui01/advisorflow/store"
	"github.com/BaSui01/advisorflow/types"
)

// liveConn 是注册表内的一条活跃连接。
type liveConn struct {
	info    *types.Connection
	channel PushChannel
}

// Registry 维护活跃推送连接并向用户扇出消息。
// 连接按 connectionId 登记，一个用户可以同时持有多条连接。
// 发送失败的失效连接会被自动摘除（自愈）。
type Registry struct {
	connStore store.ConnectionStore
	metrics   *metrics.Collector
	logger    *zap.Logger
	cfg       config.NotifyConfig

	mu    sync.RWMutex
	conns map[string]*liveConn

	sweepCancel context.CancelFunc
	sweepWG     sync.WaitGroup
	startOnce   sync.Once
}

// NewRegistry 创建连接注册表。
func NewRegistry(connStore store.ConnectionStore, collector *metrics.Collector, logger *zap.Logger, cfg config.NotifyConfig) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		connStore: connStore,
		metrics:   collector,
		logger:    logger.With(zap.String("component", "connection_registry")),
		cfg:       cfg,
		conns:     make(map[string]*liveConn),
	}
}

// Register 登记一条新连接并持久化其记录。
func (r *Registry) Register(ctx context.Context, info *types.Connection, ch PushChannel) error {
	if info == nil || info.ConnectionID == "" {
		return types.NewError(types.ErrInvalidRequest, "connection id is required")
	}

	if err := r.connStore.Save(ctx, info); err != nil {
		return types.NewError(types.ErrTransientInfra, "failed to persist connection").
			WithCause(err).WithRetryable(true)
	}

	r.mu.Lock()
	r.conns[info.ConnectionID] = &liveConn{info: info, channel: ch}
	count := len(r.conns)
	r.mu.Unlock()

	r.metrics.SetLiveConnections(count)
	r.logger.Info("connection registered",
		zap.String("connection_id", info.ConnectionID),
		zap.String("user_id", info.UserID),
	)
	return nil
}

// Unregister 摘除一条连接，关闭其通道并删除存储记录。
func (r *Registry) Unregister(ctx context.Context, connectionID string) error {
	r.mu.Lock()
	lc, ok := r.conns[connectionID]
	delete(r.conns, connectionID)
	count := len(r.conns)
	r.mu.Unlock()

	r.metrics.SetLiveConnections(count)
	if ok {
		if err := lc.channel.Close(); err != nil {
			r.logger.Debug("channel close failed", zap.String("connection_id", connectionID), zap.Error(err))
		}
	}
	if err := r.connStore.Remove(ctx, connectionID); err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}
	if ok {
		r.logger.Info("connection unregistered", zap.String("connection_id", connectionID))
	}
	return nil
}

// Touch 刷新连接的活跃时间，由每个入站帧触发。
func (r *Registry) Touch(ctx context.Context, connectionID string) {
	now := time.Now()
	r.mu.Lock()
	if lc, ok := r.conns[connectionID]; ok {
		lc.info.LastActivity = now
	}
	r.mu.Unlock()

	if err := r.connStore.Touch(ctx, connectionID, now); err != nil && !errors.Is(err, store.ErrNotFound) {
		r.logger.Debug("touch failed", zap.String("connection_id", connectionID), zap.Error(err))
	}
}

// connectionsForUser 返回该用户当前的活跃连接快照。
func (r *Registry) connectionsForUser(userID string) []*liveConn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*liveConn
	for _, lc := range r.conns {
		if lc.info.UserID == userID {
			out = append(out, lc)
		}
	}
	return out
}

// SendToUser 并行向用户的全部连接投递消息。
// 单条连接的失败不影响其它连接；失效连接被摘除。
// 用户没有任何连接时记录 no-recipient，不算作错误。
func (r *Registry) SendToUser(ctx context.Context, userID string, data []byte) int {
	targets := r.connectionsForUser(userID)
	if len(targets) == 0 {
		r.metrics.RecordNotifyFailed("no_recipient")
		r.logger.Debug("no live connections for user", zap.String("user_id", userID))
		return 0
	}
	return r.fanOut(ctx, targets, data)
}

// Broadcast 向指定用户集合投递消息；userIDs 为空时投递到全部活跃连接。
func (r *Registry) Broadcast(ctx context.Context, data []byte, userIDs ...string) int {
	var targets []*liveConn
	if len(userIDs) > 0 {
		seen := make(map[string]struct{}, len(userIDs))
		for _, id := range userIDs {
			seen[id] = struct{}{}
		}
		r.mu.RLock()
		for _, lc := range r.conns {
			if _, ok := seen[lc.info.UserID]; ok {
				targets = append(targets, lc)
			}
		}
		r.mu.RUnlock()
	} else {
		r.mu.RLock()
		targets = make([]*liveConn, 0, len(r.conns))
		for _, lc := range r.conns {
			targets = append(targets, lc)
		}
		r.mu.RUnlock()
	}
	return r.fanOut(ctx, targets, data)
}

// BroadcastToAdvisors 向全部顾问侧连接投递消息。
func (r *Registry) BroadcastToAdvisors(ctx context.Context, data []byte) int {
	r.mu.RLock()
	var targets []*liveConn
	for _, lc := range r.conns {
		if lc.info.Metadata != nil && lc.info.Metadata.IsAdvisor {
			targets = append(targets, lc)
		}
	}
	r.mu.RUnlock()
	return r.fanOut(ctx, targets, data)
}

// fanOut 并行投递，逐连接隔离失败，返回成功条数。
func (r *Registry) fanOut(ctx context.Context, targets []*liveConn, data []byte) int {
	if len(targets) == 0 {
		return 0
	}

	sendTimeout := r.cfg.SendTimeout
	if sendTimeout <= 0 {
		sendTimeout = 5 * time.Second
	}

	var delivered int64
	var mu sync.Mutex
	g, ctx := errgroup.WithContext(ctx)

	for _, lc := range targets {
		lc := lc
		g.Go(func() error {
			sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
			defer cancel()

			err := lc.channel.Send(sendCtx, data)
			if err == nil {
				mu.Lock()
				delivered++
				mu.Unlock()
				r.metrics.RecordNotifyDelivered()
				return nil
			}

			if errors.Is(err, ErrConnectionGone) {
				r.metrics.RecordNotifyFailed("gone")
				r.logger.Info("removing gone connection",
					zap.String("connection_id", lc.info.ConnectionID))
				if uerr := r.Unregister(ctx, lc.info.ConnectionID); uerr != nil {
					r.logger.Warn("failed to unregister gone connection",
						zap.String("connection_id", lc.info.ConnectionID), zap.Error(uerr))
				}
			} else {
				r.metrics.RecordNotifyFailed("error")
				r.logger.Warn("push delivery failed",
					zap.String("connection_id", lc.info.ConnectionID), zap.Error(err))
			}
			// 逐连接隔离: 不让单条失败中断整次扇出
			return nil
		})
	}
	_ = g.Wait()
	return int(delivered)
}

// SweepStale 摘除超过陈旧阈值的连接，返回被摘除的条数。
func (r *Registry) SweepStale(ctx context.Context) (int, error) {
	staleAfter := r.cfg.StaleAfter
	if staleAfter <= 0 {
		staleAfter = 10 * time.Minute
	}
	cutoff := time.Now().Add(-staleAfter)

	stale, err := r.connStore.ListStale(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, conn := range stale {
		if err := r.Unregister(ctx, conn.ConnectionID); err != nil {
			r.logger.Warn("stale sweep failed for connection",
				zap.String("connection_id", conn.ConnectionID), zap.Error(err))
			continue
		}
		removed++
	}
	if removed > 0 {
		r.logger.Info("stale connection sweep finished", zap.Int("removed", removed))
	}
	return removed, nil
}

// StartSweeper 启动后台陈旧连接巡检。
func (r *Registry) StartSweeper(ctx context.Context) {
	r.startOnce.Do(func() {
		ctx, r.sweepCancel = context.WithCancel(ctx)
		r.sweepWG.Add(1)
		go func() {
			defer r.sweepWG.Done()
			interval := r.cfg.SweepInterval
			if interval <= 0 {
				interval = time.Minute
			}
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					if _, err := r.SweepStale(ctx); err != nil {
						r.logger.Warn("stale sweep failed", zap.Error(err))
					}
				}
			}
		}()
	})
}

// Count 返回当前活跃连接数。
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// Close 摘除全部连接并停止巡检。
func (r *Registry) Close(ctx context.Context) error {
	if r.sweepCancel != nil {
		r.sweepCancel()
	}
	r.sweepWG.Wait()

	r.mu.Lock()
	ids := make([]string, 0, len(r.conns))
	for id := range r.conns {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	for _, id := range ids {
		if err := r.Unregister(ctx, id); err != nil {
			r.logger.Warn("failed to unregister on close", zap.String("connection_id", id), zap.Error(err))
		}
	}
	return nil
}
