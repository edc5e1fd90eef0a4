// Package cascade 在兔子被删除后清理它的胡萝卜事件。
package cascade

import (
	"context"
	"fmt"

	"github.com/SlpAus/uvbunny-backend/internal/changefeed"
	"github.com/SlpAus/uvbunny-backend/internal/counter"
	"github.com/SlpAus/uvbunny-backend/internal/ledger"
	"github.com/SlpAus/uvbunny-backend/internal/platform/database"
	"github.com/SlpAus/uvbunny-backend/internal/platform/metrics"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const defaultPageSize = 500

// Deleter 分页物理删除事件及其计数标记
type Deleter struct {
	db       *gorm.DB
	pageSize int
	// maxPages 为0表示一次调用删到没有剩余为止
	maxPages int
	logger   *zap.Logger
}

func NewDeleter(db *gorm.DB, pageSize, maxPages int, logger *zap.Logger) *Deleter {
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	if maxPages < 0 {
		maxPages = 0
	}
	return &Deleter{db: db, pageSize: pageSize, maxPages: maxPages, logger: logger.Named("cascade")}
}

// deletePage 在一个事务里删除最多 pageSize 个事件，返回删除的数量
func (d *Deleter) deletePage(ctx context.Context, bunnyID string) (int, error) {
	var deleted int
	err := database.WithRetry(ctx, func() error {
		return d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var ids []string
			err := tx.Unscoped().Model(&ledger.CarrotEvent{}).
				Where("bunny_id = ?", bunnyID).
				Order("id").
				Limit(d.pageSize).
				Pluck("id", &ids).Error
			if err != nil {
				return err
			}
			deleted = len(ids)
			if len(ids) == 0 {
				return nil
			}
			if err := tx.Where("event_id IN ?", ids).Delete(&counter.Application{}).Error; err != nil {
				return err
			}
			return tx.Unscoped().Where("id IN ?", ids).Delete(&ledger.CarrotEvent{}).Error
		})
	})
	return deleted, err
}

// drain 反复删除直到某一页不满或达到 maxPages。
// 返回删除的事件数以及是否已确认删完。
func (d *Deleter) drain(ctx context.Context, bunnyID string, maxPages int) (int, bool, error) {
	total := 0
	for page := 0; maxPages == 0 || page < maxPages; page++ {
		n, err := d.deletePage(ctx, bunnyID)
		total += n
		metrics.CascadeDeletedEvents.Add(float64(n))
		if err != nil {
			return total, false, fmt.Errorf("第 %d 页删除失败: %w", page+1, err)
		}
		if n < d.pageSize {
			return total, true, nil
		}
	}
	return total, false, nil
}

// HandleBunnyDeleted 是 bunny.deleted 的处理函数。
// 失败只记录日志，不交给分发器重试；遗留的事件由 PurgeOrphans 清理。
func (d *Deleter) HandleBunnyDeleted(ctx context.Context, c changefeed.Change) error {
	if c.BunnyID == "" {
		d.logger.Warn("bunny.deleted 缺少兔子ID", zap.String("user_id", c.UserID))
		return nil
	}

	total, complete, err := d.drain(ctx, c.BunnyID, d.maxPages)
	fields := []zap.Field{
		zap.String("user_id", c.UserID),
		zap.String("bunny_id", c.BunnyID),
		zap.Int("deleted", total),
	}
	switch {
	case err != nil:
		d.logger.Error("级联删除失败", append(fields, zap.Error(err))...)
	case !complete:
		d.logger.Warn("级联删除达到页数上限，可能仍有事件残留", append(fields, zap.Int("max_pages", d.maxPages))...)
	default:
		d.logger.Info("级联删除完成", fields...)
	}
	return nil
}

// PurgeOrphans 删除所属兔子已不存在的全部事件，返回删除的事件数。
// 不受 maxPages 限制。
func (d *Deleter) PurgeOrphans(ctx context.Context) (int, error) {
	var bunnyIDs []string
	err := d.db.WithContext(ctx).Unscoped().Model(&ledger.CarrotEvent{}).
		Distinct("carrot_events.bunny_id").
		Joins("LEFT JOIN bunnies b ON b.id = carrot_events.bunny_id").
		Where("b.id IS NULL").
		Pluck("carrot_events.bunny_id", &bunnyIDs).Error
	if err != nil {
		return 0, fmt.Errorf("无法查询孤立事件: %w", err)
	}

	total := 0
	for _, id := range bunnyIDs {
		n, _, err := d.drain(ctx, id, 0)
		total += n
		if err != nil {
			return total, err
		}
		d.logger.Info("已清理孤立事件", zap.String("bunny_id", id), zap.Int("deleted", n))
	}
	return total, nil
}
