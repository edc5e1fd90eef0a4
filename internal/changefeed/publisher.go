package changefeed

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Publisher 是写入变更的一方所依赖的接口
type Publisher interface {
	Publish(ctx context.Context, c Change) error
}

// StreamPublisher 把变更追加到Redis Stream
type StreamPublisher struct {
	rdb    *redis.Client
	stream string
	maxLen int64
}

func NewStreamPublisher(rdb *redis.Client, stream string, maxLen int64) *StreamPublisher {
	return &StreamPublisher{rdb: rdb, stream: stream, maxLen: maxLen}
}

// Publish 追加一条变更，Stream 长度按近似 MAXLEN 裁剪
func (p *StreamPublisher) Publish(ctx context.Context, c Change) error {
	args := &redis.XAddArgs{
		Stream: p.stream,
		Values: c.values(),
	}
	if p.maxLen > 0 {
		args.MaxLen = p.maxLen
		args.Approx = true
	}
	if err := p.rdb.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("发布变更 %s 失败: %w", c.Kind, err)
	}
	return nil
}
