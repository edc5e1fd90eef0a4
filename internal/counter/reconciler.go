package counter

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/SlpAus/uvbunny-backend/internal/changefeed"
	"github.com/SlpAus/uvbunny-backend/internal/ledger"
	"github.com/SlpAus/uvbunny-backend/pkg/lifecycle"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const reconcileBatch = 500

// Reconciler 定期巡查账本，为丢失了变更通知的事件补发 event.created / event.deleted。
// 只检查早于 grace 的事件，避免和正常路径抢跑；补发的重复投递由标记表吸收。
type Reconciler struct {
	db        *gorm.DB
	publisher changefeed.Publisher
	interval  time.Duration
	grace     time.Duration
	logger    *zap.Logger
}

func NewReconciler(db *gorm.DB, publisher changefeed.Publisher, interval, grace time.Duration, logger *zap.Logger) *Reconciler {
	return &Reconciler{
		db:        db,
		publisher: publisher,
		interval:  interval,
		grace:     grace,
		logger:    logger.Named("reconciler"),
	}
}

// missingCreates 返回没有创建标记的未删除事件。兔子已不存在的事件由级联删除处理，这里跳过。
func (r *Reconciler) missingCreates(ctx context.Context, cutoff time.Time) ([]ledger.CarrotEvent, error) {
	var events []ledger.CarrotEvent
	err := r.db.WithContext(ctx).
		Joins("JOIN bunnies b ON b.id = carrot_events.bunny_id").
		Joins("LEFT JOIN counter_applications a ON a.event_id = carrot_events.id AND a.op = ?", OpCreate).
		Where("a.event_id IS NULL AND carrot_events.created_at < ?", cutoff).
		Order("carrot_events.created_at ASC").
		Limit(reconcileBatch).
		Find(&events).Error
	return events, err
}

// missingDeletes 返回已软删除、创建已计入但删除尚未扣减的事件
func (r *Reconciler) missingDeletes(ctx context.Context, cutoff time.Time) ([]ledger.CarrotEvent, error) {
	var events []ledger.CarrotEvent
	err := r.db.WithContext(ctx).Unscoped().
		Joins("JOIN bunnies b ON b.id = carrot_events.bunny_id").
		Joins("JOIN counter_applications c ON c.event_id = carrot_events.id AND c.op = ? AND c.outcome = ?", OpCreate, OutcomeApplied).
		Joins("LEFT JOIN counter_applications d ON d.event_id = carrot_events.id AND d.op = ?", OpDelete).
		Where("d.event_id IS NULL AND carrot_events.deleted_at IS NOT NULL AND carrot_events.deleted_at < ?", cutoff).
		Order("carrot_events.deleted_at ASC").
		Limit(reconcileBatch).
		Find(&events).Error
	return events, err
}

func (r *Reconciler) republish(ctx context.Context, kind changefeed.Kind, events []ledger.CarrotEvent) int {
	sent := 0
	for _, ev := range events {
		if ctx.Err() != nil {
			break
		}
		err := r.publisher.Publish(ctx, changefeed.Change{
			Kind:       kind,
			UserID:     ev.UserID,
			BunnyID:    ev.BunnyID,
			EventID:    ev.ID,
			Type:       ev.Type,
			Carrots:    strconv.Itoa(ev.Carrots),
			OccurredAt: time.Now(),
		})
		if err != nil {
			r.logger.Warn("补发变更失败", zap.String("kind", string(kind)), zap.String("event_id", ev.ID), zap.Error(err))
			continue
		}
		sent++
	}
	return sent
}

// RunOnce 执行一次巡查，返回补发的变更数
func (r *Reconciler) RunOnce(ctx context.Context) (int, error) {
	cutoff := time.Now().UTC().Add(-r.grace)

	creates, err := r.missingCreates(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("无法查询遗漏的创建: %w", err)
	}
	deletes, err := r.missingDeletes(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("无法查询遗漏的删除: %w", err)
	}

	sent := r.republish(ctx, changefeed.KindEventCreated, creates)
	sent += r.republish(ctx, changefeed.KindEventDeleted, deletes)
	if sent > 0 {
		r.logger.Info("巡查发现遗漏的事件，已补发", zap.Int("created", len(creates)), zap.Int("deleted", len(deletes)))
	}
	return sent, nil
}

// Run 每隔 interval 执行一次巡查，直到停机
func (r *Reconciler) Run(h *lifecycle.Handle, healthy func() bool) {
	r.logger.Info("计数巡查已启动", zap.Duration("interval", r.interval))
	h.Every(r.interval, func(ctx context.Context) {
		if healthy != nil && !healthy() {
			return
		}
		if _, err := r.RunOnce(ctx); err != nil && ctx.Err() == nil {
			r.logger.Warn("计数巡查失败", zap.Error(err))
		}
	})
	r.logger.Info("计数巡查已停止")
}
