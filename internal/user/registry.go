package user

import (
	"context"
	"fmt"
	"time"

	"github.com/SlpAus/uvbunny-backend/internal/changefeed"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Registry 负责登记首次出现的用户，并发布 user.created 变更
type Registry struct {
	db        *gorm.DB
	rdb       *redis.Client
	publisher changefeed.Publisher
	logger    *zap.Logger
}

func NewRegistry(db *gorm.DB, rdb *redis.Client, publisher changefeed.Publisher, logger *zap.Logger) *Registry {
	return &Registry{db: db, rdb: rdb, publisher: publisher, logger: logger.Named("user")}
}

// isKnown 只查询Redis缓存。缓存不可用时返回false，让调用方走数据库路径。
func (r *Registry) isKnown(ctx context.Context, userID string) bool {
	known, err := r.rdb.SIsMember(ctx, KnownUsersKey, userID).Result()
	if err != nil {
		r.logger.Warn("检查用户缓存失败", zap.Error(err))
		return false
	}
	return known
}

// EnsureUser 确保用户已登记，返回本次调用是否新建了用户。
// 缓存中没有的用户都会重新发布 user.created；下游的默认配置写入是幂等的，
// 所以上一次发布失败的用户会在下一次请求时得到补发。
func (r *Registry) EnsureUser(ctx context.Context, userID string) (bool, error) {
	if r.isKnown(ctx, userID) {
		return false, nil
	}

	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&User{ID: userID})
	if res.Error != nil {
		return false, fmt.Errorf("无法登记用户: %w", res.Error)
	}
	created := res.RowsAffected == 1

	err := r.publisher.Publish(ctx, changefeed.Change{
		Kind:       changefeed.KindUserCreated,
		UserID:     userID,
		OccurredAt: time.Now(),
	})
	if err != nil {
		// 不写缓存，下次请求会再发布一次
		r.logger.Warn("发布 user.created 失败", zap.String("user_id", userID), zap.Error(err))
		return created, nil
	}

	if err := r.rdb.SAdd(ctx, KnownUsersKey, userID).Err(); err != nil {
		r.logger.Warn("写入用户缓存失败", zap.String("user_id", userID), zap.Error(err))
	}
	if created {
		r.logger.Info("新用户已登记", zap.String("user_id", userID))
	}
	return created, nil
}

// ListIDs 按ID顺序分页返回用户ID，after 为上一页的最后一个ID
func (r *Registry) ListIDs(ctx context.Context, after string, limit int) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).Model(&User{}).
		Where("id > ?", after).
		Order("id").
		Limit(limit).
		Pluck("id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("无法读取用户列表: %w", err)
	}
	return ids, nil
}

// WarmupCache 从数据库加载所有用户ID到Redis的Set中
func (r *Registry) WarmupCache(ctx context.Context) error {
	const page = 1000

	pipe := r.rdb.TxPipeline()
	pipe.Del(ctx, KnownUsersKey)

	total := 0
	after := ""
	for {
		ids, err := r.ListIDs(ctx, after, page)
		if err != nil {
			return err
		}
		if len(ids) == 0 {
			break
		}
		members := make([]interface{}, len(ids))
		for i, id := range ids {
			members[i] = id
		}
		pipe.SAdd(ctx, KnownUsersKey, members...)
		total += len(ids)
		after = ids[len(ids)-1]
		if len(ids) < page {
			break
		}
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("预热用户缓存失败: %w", err)
	}
	r.logger.Info("用户缓存预热完成", zap.Int("users", total))
	return nil
}
