// Package live 为客户端提供"实时查询"：数据变化时推送重新计算的完整结果。
// 写入方通过 Notifier 在用户频道上发一条通知，Hub 收到后重新加载并推送快照。
package live

import (
	"context"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const channelPrefix = "uvbunny:live:"

// ChannelFor 返回用户的通知频道
func ChannelFor(userID string) string {
	return channelPrefix + userID
}

// Notifier 告诉订阅者某个用户的数据变了。通知是尽力而为的，失败只记日志。
type Notifier interface {
	Notify(ctx context.Context, userID string)
}

// PubSubNotifier 通过Redis发布订阅发送通知
type PubSubNotifier struct {
	rdb    *redis.Client
	logger *zap.Logger
}

func NewPubSubNotifier(rdb *redis.Client, logger *zap.Logger) *PubSubNotifier {
	return &PubSubNotifier{rdb: rdb, logger: logger.Named("live")}
}

func (n *PubSubNotifier) Notify(ctx context.Context, userID string) {
	if err := n.rdb.Publish(ctx, ChannelFor(userID), "changed").Err(); err != nil {
		n.logger.Warn("发送实时通知失败", zap.String("user_id", userID), zap.Error(err))
	}
}
