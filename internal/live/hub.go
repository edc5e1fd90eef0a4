package live

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Loader 读取某个用户的当前完整结果
type Loader[T any] func(ctx context.Context, userID string) (T, error)

// Hub 管理实时订阅。同一用户的并发重算会被合并为一次。
type Hub[T any] struct {
	rdb    *redis.Client
	load   Loader[T]
	group  singleflight.Group
	logger *zap.Logger
}

func NewHub[T any](rdb *redis.Client, load Loader[T], logger *zap.Logger) *Hub[T] {
	return &Hub[T]{rdb: rdb, load: load, logger: logger.Named("live")}
}

// loadTimeout 限制一次合并后的重算最长能跑多久
const loadTimeout = 10 * time.Second

// recompute 合并同一用户的并发重算。共享的那次读取不跟随任何一个调用者的 ctx，
// 某个订阅者断开不会让其他等待者拿到 context.Canceled。
func (h *Hub[T]) recompute(ctx context.Context, userID string) (T, error) {
	var zero T
	ch := h.group.DoChan(userID, func() (interface{}, error) {
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), loadTimeout)
		defer cancel()
		return h.load(loadCtx, userID)
	})
	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return zero, res.Err
		}
		return res.Val.(T), nil
	}
}

// Subscribe 立即推送一次当前结果，此后每收到一次通知就推送重新计算的结果。
// 消费者跟不上时只保留最新的一份。ctx 结束后订阅被释放，channel 被关闭。
func (h *Hub[T]) Subscribe(ctx context.Context, userID string) (<-chan T, error) {
	sub := h.rdb.Subscribe(ctx, ChannelFor(userID))
	// 等待订阅确认，避免漏掉紧随其后的通知
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("订阅实时频道失败: %w", err)
	}

	initial, err := h.recompute(ctx, userID)
	if err != nil {
		_ = sub.Close()
		return nil, err
	}

	out := make(chan T, 1)
	out <- initial

	go func() {
		defer close(out)
		defer sub.Close()

		notifications := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-notifications:
				if !ok {
					return
				}
				snap, err := h.recompute(ctx, userID)
				if err != nil {
					if ctx.Err() == nil {
						h.logger.Warn("重新计算实时结果失败", zap.String("user_id", userID), zap.Error(err))
					}
					continue
				}
				select {
				case out <- snap:
				default:
					// 丢弃未被读取的旧结果
					select {
					case <-out:
					default:
					}
					out <- snap
				}
			}
		}
	}()

	return out, nil
}
