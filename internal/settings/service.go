package settings

import (
	"context"
	"fmt"
	"time"

	"github.com/SlpAus/uvbunny-backend/internal/changefeed"
	"github.com/SlpAus/uvbunny-backend/internal/live"
	"github.com/SlpAus/uvbunny-backend/internal/platform/apperr"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Service 管理每个用户的幸福值参数
type Service struct {
	db        *gorm.DB
	rdb       *redis.Client
	publisher changefeed.Publisher
	notifier  live.Notifier
	logger    *zap.Logger
}

func NewService(db *gorm.DB, rdb *redis.Client, publisher changefeed.Publisher, notifier live.Notifier, logger *zap.Logger) *Service {
	return &Service{
		db:        db,
		rdb:       rdb,
		publisher: publisher,
		notifier:  notifier,
		logger:    logger.Named("settings"),
	}
}

// Get 返回用户配置，用户没有配置时返回默认值而不是空
func (s *Service) Get(ctx context.Context, userID string) (Config, error) {
	cached, err := getCached(ctx, s.rdb, userID)
	if err != nil {
		s.logger.Warn("读取配置缓存失败，回退到数据库", zap.String("user_id", userID), zap.Error(err))
	}
	if cached != nil {
		return *cached, nil
	}

	cfg, err := load(s.db.WithContext(ctx), userID)
	if err != nil {
		return Config{}, fmt.Errorf("无法读取用户配置: %w", err)
	}
	if err := fillCache(ctx, s.rdb, cfg); err != nil {
		s.logger.Warn("写入配置缓存失败", zap.String("user_id", userID), zap.Error(err))
	}
	return cfg, nil
}

// UpdatePointsPerCarrot 只修改 pointsPerCarrot
func (s *Service) UpdatePointsPerCarrot(ctx context.Context, userID string, n float64) (Config, error) {
	return s.Update(ctx, userID, Patch{PointsPerCarrot: &n})
}

// UpdateMaxHappinessPoints 只修改 maxHappinessPoints
func (s *Service) UpdateMaxHappinessPoints(ctx context.Context, userID string, n float64) (Config, error) {
	return s.Update(ctx, userID, Patch{MaxHappinessPoints: &n})
}

// UpdateMoodThresholds 同时修改两个心情阈值
func (s *Service) UpdateMoodThresholds(ctx context.Context, userID string, sad, avg float64) (Config, error) {
	return s.Update(ctx, userID, Patch{MoodSadThreshold: &sad, MoodAverageThreshold: &avg})
}

// Update 校验补丁中的每个字段，全部通过后做一次合并写入。
// 任何字段校验失败都不会写入任何内容。校验基于加锁后读到的行，
// 并发修改两个阈值时不会写出 sad >= average 的组合。
func (s *Service) Update(ctx context.Context, userID string, patch Patch) (Config, error) {
	if patch.empty() {
		return Config{}, fmt.Errorf("%w: no config fields provided", apperr.ErrValidation)
	}

	var updated Config
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := insertDefaults(tx, userID); err != nil {
			return fmt.Errorf("无法写入默认配置: %w", err)
		}
		current, err := loadForUpdate(tx, userID)
		if err != nil {
			return fmt.Errorf("无法读取用户配置: %w", err)
		}
		next, columns, err := patch.apply(current)
		if err != nil {
			return err
		}
		if err := mergeWrite(tx, next, columns); err != nil {
			return fmt.Errorf("无法写入用户配置: %w", err)
		}
		updated, err = load(tx, userID)
		return err
	})
	if err != nil {
		return Config{}, err
	}

	s.afterWrite(ctx, updated)
	return updated, nil
}

// afterWrite 用新配置覆盖缓存并通知下游。这些都是尽力而为的。
// 覆盖失败时删除缓存，避免继续返回旧值。
func (s *Service) afterWrite(ctx context.Context, cfg Config) {
	userID := cfg.UserID
	if err := setCached(ctx, s.rdb, cfg); err != nil {
		s.logger.Warn("写入配置缓存失败", zap.String("user_id", userID), zap.Error(err))
		if err := invalidate(ctx, s.rdb, userID); err != nil {
			s.logger.Warn("清除配置缓存失败", zap.String("user_id", userID), zap.Error(err))
		}
	}
	err := s.publisher.Publish(ctx, changefeed.Change{
		Kind:       changefeed.KindConfigUpdated,
		UserID:     userID,
		OccurredAt: time.Now(),
	})
	if err != nil {
		s.logger.Warn("发布 config.updated 失败", zap.String("user_id", userID), zap.Error(err))
	}
	s.notifier.Notify(ctx, userID)
}

// Bootstrap 为新用户写入默认配置，已有配置时不做任何修改
func (s *Service) Bootstrap(ctx context.Context, userID string) error {
	inserted, err := insertDefaults(s.db.WithContext(ctx), userID)
	if err != nil {
		return fmt.Errorf("无法写入默认配置: %w", err)
	}
	if inserted {
		s.logger.Debug("已写入默认配置", zap.String("user_id", userID))
	}
	return nil
}

// HandleUserCreated 是 user.created 的处理函数。失败只记录日志，不要求重新投递。
func (s *Service) HandleUserCreated(ctx context.Context, c changefeed.Change) error {
	if err := s.Bootstrap(ctx, c.UserID); err != nil {
		s.logger.Error("默认配置写入失败", zap.String("user_id", c.UserID), zap.Error(err))
	}
	return nil
}
