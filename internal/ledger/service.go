package ledger

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/SlpAus/uvbunny-backend/internal/bunny"
	"github.com/SlpAus/uvbunny-backend/internal/changefeed"
	"github.com/SlpAus/uvbunny-backend/internal/platform/apperr"
	"github.com/SlpAus/uvbunny-backend/pkg/cursor"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ErrEventNotFound 表示事件不存在、已删除或不属于该兔子
var ErrEventNotFound = fmt.Errorf("carrot event %w", apperr.ErrNotFound)

// Service 是胡萝卜事件账本
type Service struct {
	db        *gorm.DB
	signer    *cursor.Signer
	limiter   *giftLimiter
	publisher changefeed.Publisher
	logger    *zap.Logger
}

func NewService(db *gorm.DB, rdb *redis.Client, signer *cursor.Signer, giftsPerMinute int, publisher changefeed.Publisher, logger *zap.Logger) *Service {
	return &Service{
		db:        db,
		signer:    signer,
		limiter:   &giftLimiter{rdb: rdb, limit: int64(giftsPerMinute)},
		publisher: publisher,
		logger:    logger.Named("ledger"),
	}
}

// ValidateCarrots 要求胡萝卜数量是 [1,50] 内的整数
func ValidateCarrots(n float64) (int, error) {
	if math.IsNaN(n) || n != math.Trunc(n) || n < MinCarrots || n > MaxCarrots {
		return 0, fmt.Errorf("%w: carrots must be an integer between %d and %d", apperr.ErrValidation, MinCarrots, MaxCarrots)
	}
	return int(n), nil
}

// GiveCarrots 追加一条事件并发布 event.created，返回新事件。
// 兔子的计数由计数维护者异步更新，调用方不等待。
func (s *Service) GiveCarrots(ctx context.Context, userID, bunnyID string, carrots float64, notes, source string) (CarrotEvent, error) {
	n, err := ValidateCarrots(carrots)
	if err != nil {
		return CarrotEvent{}, err
	}
	if utf8.RuneCountInString(notes) > maxNotesRunes {
		return CarrotEvent{}, fmt.Errorf("%w: notes must be at most %d characters", apperr.ErrValidation, maxNotesRunes)
	}
	switch source {
	case "":
		source = SourceUI
	case SourceUI, SourceFunction:
	default:
		return CarrotEvent{}, fmt.Errorf("%w: unknown source %q", apperr.ErrValidation, source)
	}

	if _, err := bunny.Find(s.db.WithContext(ctx), userID, bunnyID); err != nil {
		return CarrotEvent{}, err
	}

	now := time.Now().UTC().Truncate(time.Microsecond)
	res, err := s.limiter.reserve(ctx, userID, now)
	if errors.Is(err, ErrRateLimited) {
		return CarrotEvent{}, err
	}
	if err != nil {
		// 限流依赖Redis，Redis不可用时放行
		s.logger.Warn("限流检查失败，放行本次请求", zap.String("user_id", userID), zap.Error(err))
	} else {
		defer func() {
			if err := res.rollbackUnlessCommitted(ctx); err != nil {
				s.logger.Warn("限流记录回滚失败", zap.String("user_id", userID), zap.Error(err))
			}
		}()
	}

	id, err := uuid.NewV7()
	if err != nil {
		return CarrotEvent{}, fmt.Errorf("无法生成UUID v7: %w", err)
	}
	ev := CarrotEvent{
		ID:        id.String(),
		UserID:    userID,
		BunnyID:   bunnyID,
		Type:      EventTypeCarrotGiven,
		Carrots:   n,
		Source:    source,
		Notes:     notes,
		CreatedAt: now,
	}
	if err := s.db.WithContext(ctx).Create(&ev).Error; err != nil {
		return CarrotEvent{}, fmt.Errorf("无法写入胡萝卜事件: %w", err)
	}
	if res != nil {
		res.commit()
	}

	if err := s.publisher.Publish(ctx, changeFor(changefeed.KindEventCreated, ev)); err != nil {
		// 事件已落库，对账器会补发
		s.logger.Warn("发布 event.created 失败", zap.String("event_id", ev.ID), zap.Error(err))
	}
	return ev, nil
}

func changeFor(kind changefeed.Kind, ev CarrotEvent) changefeed.Change {
	return changefeed.Change{
		Kind:       kind,
		UserID:     ev.UserID,
		BunnyID:    ev.BunnyID,
		EventID:    ev.ID,
		Type:       ev.Type,
		Carrots:    strconv.Itoa(ev.Carrots),
		OccurredAt: time.Now(),
	}
}

// ListEvents 返回最多10条事件，按创建时间倒序，时间相同时按ID倒序
func (s *Service) ListEvents(ctx context.Context, userID, bunnyID, token string) (Page, error) {
	db := s.db.WithContext(ctx)
	if _, err := bunny.Find(db, userID, bunnyID); err != nil {
		return Page{}, err
	}

	q := db.Where("user_id = ? AND bunny_id = ?", userID, bunnyID)
	if token != "" {
		pos, err := s.signer.Decode(token)
		if err != nil {
			return Page{}, fmt.Errorf("%w: invalid cursor", apperr.ErrValidation)
		}
		at := pos.CreatedAt.UTC()
		q = q.Where("created_at < ? OR (created_at = ? AND id < ?)", at, at, pos.ID)
	}

	var events []CarrotEvent
	err := q.Order("created_at DESC, id DESC").Limit(pageSize + 1).Find(&events).Error
	if err != nil {
		return Page{}, fmt.Errorf("无法读取事件: %w", err)
	}

	page := Page{Events: events}
	if len(events) > pageSize {
		page.Events = events[:pageSize]
		last := page.Events[pageSize-1]
		next, err := s.signer.Encode(cursor.Position{CreatedAt: last.CreatedAt, ID: last.ID})
		if err != nil {
			return Page{}, err
		}
		page.NextCursor = next
	}
	return page, nil
}

// DeleteEvent 软删除一条事件并发布携带胡萝卜数量的 event.deleted
func (s *Service) DeleteEvent(ctx context.Context, userID, bunnyID, eventID string) error {
	var ev CarrotEvent
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND bunny_id = ? AND id = ?", userID, bunnyID, eventID).
		First(&ev).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrEventNotFound
	}
	if err != nil {
		return fmt.Errorf("无法读取事件: %w", err)
	}

	res := s.db.WithContext(ctx).Delete(&ev)
	if res.Error != nil {
		return fmt.Errorf("无法删除事件: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		// 并发删除，另一方已经发布过变更
		return ErrEventNotFound
	}

	if err := s.publisher.Publish(ctx, changeFor(changefeed.KindEventDeleted, ev)); err != nil {
		s.logger.Warn("发布 event.deleted 失败", zap.String("event_id", ev.ID), zap.Error(err))
	}
	return nil
}
