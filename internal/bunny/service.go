package bunny

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/SlpAus/uvbunny-backend/internal/changefeed"
	"github.com/SlpAus/uvbunny-backend/internal/happiness"
	"github.com/SlpAus/uvbunny-backend/internal/live"
	"github.com/SlpAus/uvbunny-backend/internal/platform/apperr"
	"github.com/SlpAus/uvbunny-backend/internal/settings"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const maxNameLength = 40

// Service 管理兔子的创建、读取和删除
type Service struct {
	db        *gorm.DB
	settings  *settings.Service
	publisher changefeed.Publisher
	notifier  live.Notifier
	logger    *zap.Logger
}

func NewService(db *gorm.DB, settingsSvc *settings.Service, publisher changefeed.Publisher, notifier live.Notifier, logger *zap.Logger) *Service {
	return &Service{
		db:        db,
		settings:  settingsSvc,
		publisher: publisher,
		notifier:  notifier,
		logger:    logger.Named("bunny"),
	}
}

// NormalizeName 去掉首尾空白并检查长度为1-40个字符
func NormalizeName(name string) (string, error) {
	name = strings.TrimSpace(name)
	n := utf8.RuneCountInString(name)
	if n < 1 || n > maxNameLength {
		return "", fmt.Errorf("%w: name must be 1-%d characters", apperr.ErrValidation, maxNameLength)
	}
	return name, nil
}

// Create 创建一只兔子。color 为空时随机挑选一个颜色。
func (s *Service) Create(ctx context.Context, userID, name, color string) (Bunny, error) {
	name, err := NormalizeName(name)
	if err != nil {
		return Bunny{}, err
	}
	if color == "" {
		color = randomColor()
	} else if !IsValidColor(color) {
		return Bunny{}, fmt.Errorf("%w: unknown color %q", apperr.ErrValidation, color)
	}

	id, err := uuid.NewV7()
	if err != nil {
		return Bunny{}, fmt.Errorf("无法生成UUID v7: %w", err)
	}
	b := Bunny{
		ID:         id.String(),
		UserID:     userID,
		Name:       name,
		ColorClass: color,
	}
	if err := s.db.WithContext(ctx).Create(&b).Error; err != nil {
		return Bunny{}, fmt.Errorf("无法创建兔子: %w", err)
	}

	s.notifier.Notify(ctx, userID)
	return b, nil
}

// Get 返回一只兔子
func (s *Service) Get(ctx context.Context, userID, bunnyID string) (Bunny, error) {
	return Find(s.db.WithContext(ctx), userID, bunnyID)
}

// GetWithHappiness 返回一只兔子和它按当前配置派生的幸福值
func (s *Service) GetWithHappiness(ctx context.Context, userID, bunnyID string) (View, error) {
	b, err := s.Get(ctx, userID, bunnyID)
	if err != nil {
		return View{}, err
	}
	cfg, err := s.settings.Get(ctx, userID)
	if err != nil {
		return View{}, err
	}
	return b.view(cfg.Params()), nil
}

// List 按创建时间升序返回用户的所有兔子
func (s *Service) List(ctx context.Context, userID string) ([]Bunny, error) {
	return listByUser(s.db.WithContext(ctx), userID)
}

// ListWithHappiness 每次调用都用当前的计数和当前的配置重新派生幸福值
func (s *Service) ListWithHappiness(ctx context.Context, userID string) (Overview, error) {
	bunnies, err := s.List(ctx, userID)
	if err != nil {
		return Overview{}, err
	}
	cfg, err := s.settings.Get(ctx, userID)
	if err != nil {
		return Overview{}, err
	}

	params := cfg.Params()
	views := make([]View, 0, len(bunnies))
	values := make([]int, 0, len(bunnies))
	for _, b := range bunnies {
		v := b.view(params)
		views = append(views, v)
		values = append(values, v.Happiness)
	}
	return Overview{Bunnies: views, AverageHappiness: happiness.Average(values)}, nil
}

// Delete 删除兔子并发布 bunny.deleted，由级联删除器清理它的事件
func (s *Service) Delete(ctx context.Context, userID, bunnyID string) error {
	res := s.db.WithContext(ctx).Where("user_id = ? AND id = ?", userID, bunnyID).Delete(&Bunny{})
	if res.Error != nil {
		return fmt.Errorf("无法删除兔子: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}

	err := s.publisher.Publish(ctx, changefeed.Change{
		Kind:       changefeed.KindBunnyDeleted,
		UserID:     userID,
		BunnyID:    bunnyID,
		OccurredAt: time.Now(),
	})
	if err != nil {
		// 兔子已经删除，残留事件由 purge-orphans 清理
		s.logger.Error("发布 bunny.deleted 失败", zap.String("bunny_id", bunnyID), zap.Error(err))
	}
	s.notifier.Notify(ctx, userID)
	return nil
}

// RefreshCachedHappiness 是 config.updated 的处理函数，按新配置刷新展示缓存。
// 它是尽力而为的，失败只记录日志。
func (s *Service) RefreshCachedHappiness(ctx context.Context, c changefeed.Change) error {
	cfg, err := s.settings.Get(ctx, c.UserID)
	if err != nil {
		s.logger.Warn("刷新幸福值缓存时读取配置失败", zap.String("user_id", c.UserID), zap.Error(err))
		return nil
	}

	res := s.db.WithContext(ctx).Model(&Bunny{}).
		Where("user_id = ?", c.UserID).
		UpdateColumns(map[string]interface{}{
			"cached_happiness": gorm.Expr("event_count * ?", cfg.PointsPerCarrot),
			"cached_at":        time.Now(),
		})
	if res.Error != nil {
		s.logger.Warn("刷新幸福值缓存失败", zap.String("user_id", c.UserID), zap.Error(res.Error))
		return nil
	}
	s.logger.Debug("幸福值缓存已刷新", zap.String("user_id", c.UserID), zap.Int64("bunnies", res.RowsAffected))
	return nil
}
