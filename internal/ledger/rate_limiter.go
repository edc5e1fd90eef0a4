package ledger

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/SlpAus/uvbunny-backend/internal/platform/apperr"
	"github.com/redis/go-redis/v9"
)

const (
	// giftKeyPrefix + 用户ID 是一个有序集合，Score 为微秒时间戳
	giftKeyPrefix = "uvbunny:gifts:"
	giftWindow    = time.Minute
	giftTTL       = 2 * time.Minute
)

// ErrRateLimited 表示用户在窗口内喂胡萝卜的次数超限
var ErrRateLimited = fmt.Errorf("%w: too many carrot gifts, slow down", apperr.ErrRateLimited)

// giftLimiter 是按用户的滑动窗口限流器
type giftLimiter struct {
	rdb   *redis.Client
	limit int64
}

// reservation 是一次已计入窗口的操作，业务失败时需要回滚
type reservation struct {
	rdb       *redis.Client
	key       string
	member    string
	committed bool
}

// generateMemberID 生成16字节的成员ID: [8字节纳秒时间戳 | 8字节随机数]
func generateMemberID(t time.Time) (string, error) {
	b := make([]byte, 16)
	binary.BigEndian.PutUint64(b[0:8], uint64(t.UnixNano()))
	if _, err := rand.Read(b[8:16]); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// reserve 原子地记录一次操作并返回窗口内的总数。超限时立即回滚并返回 ErrRateLimited。
// limit ≤ 0 表示不限流。
func (l *giftLimiter) reserve(ctx context.Context, userID string, now time.Time) (*reservation, error) {
	if l.limit <= 0 {
		return &reservation{committed: true}, nil
	}

	key := giftKeyPrefix + userID
	member, err := generateMemberID(now)
	if err != nil {
		return nil, fmt.Errorf("生成限流成员ID失败: %w", err)
	}
	minScore := float64(now.Add(-giftWindow).UnixMicro())

	pipe := l.rdb.TxPipeline()
	pipe.ZRemRangeByScore(ctx, key, "-inf", fmt.Sprintf("(%f", minScore))
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(now.UnixMicro()), Member: member})
	pipe.Expire(ctx, key, giftTTL)
	countCmd := pipe.ZCard(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("执行限流事务失败: %w", err)
	}

	r := &reservation{rdb: l.rdb, key: key, member: member}
	if countCmd.Val() > l.limit {
		_ = r.rollbackUnlessCommitted(ctx)
		return nil, ErrRateLimited
	}
	return r, nil
}

// commit 标记业务已成功，阻止回滚
func (r *reservation) commit() {
	r.committed = true
}

// rollbackUnlessCommitted 在 defer 中调用，未提交时把本次记录移出窗口
func (r *reservation) rollbackUnlessCommitted(ctx context.Context) error {
	if r.committed {
		return nil
	}
	r.committed = true
	return r.rdb.ZRem(context.WithoutCancel(ctx), r.key, r.member).Err()
}
