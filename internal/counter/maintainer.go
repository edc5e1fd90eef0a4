// Package counter 维护兔子的 eventCount，使其与胡萝卜事件账本保持一致。
//
// 每个事件的创建和删除各自只会被处理一次：处理结果记录在
// counter_applications 表中，与计数的修改在同一个事务里提交，
// 所以变更流的重复投递不会重复计数。
package counter

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/SlpAus/uvbunny-backend/internal/changefeed"
	"github.com/SlpAus/uvbunny-backend/internal/ledger"
	"github.com/SlpAus/uvbunny-backend/internal/live"
	"github.com/SlpAus/uvbunny-backend/internal/platform/database"
	"github.com/SlpAus/uvbunny-backend/internal/platform/metrics"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// outcomeDuplicate 只用于指标和日志，不会写入标记表
const outcomeDuplicate Outcome = "duplicate"

// Maintainer 处理 event.created 和 event.deleted
type Maintainer struct {
	db       *gorm.DB
	notifier live.Notifier
	logger   *zap.Logger
}

func NewMaintainer(db *gorm.DB, notifier live.Notifier, logger *zap.Logger) *Maintainer {
	return &Maintainer{db: db, notifier: notifier, logger: logger.Named("counter")}
}

// validate 检查变更携带的胡萝卜数量，创建时还要求事件类型正确
func validate(c changefeed.Change, requireType bool) (int, error) {
	if c.EventID == "" || c.BunnyID == "" {
		return 0, errors.New("missing event or bunny id")
	}
	if requireType && c.Type != ledger.EventTypeCarrotGiven {
		return 0, fmt.Errorf("unexpected event type %q", c.Type)
	}
	n, err := strconv.Atoi(c.Carrots)
	if err != nil {
		return 0, fmt.Errorf("carrots %q is not an integer", c.Carrots)
	}
	if n < ledger.MinCarrots || n > ledger.MaxCarrots {
		return 0, fmt.Errorf("carrots %d out of range", n)
	}
	return n, nil
}

// reject 记录一个未通过校验的事件。事件本身保留，计数不变。
func (m *Maintainer) reject(ctx context.Context, op Op, c changefeed.Change, cause error) error {
	m.logger.Warn("忽略无效的胡萝卜事件",
		zap.String("op", string(op)),
		zap.String("event_id", c.EventID),
		zap.String("bunny_id", c.BunnyID),
		zap.String("carrots", c.Carrots),
		zap.Error(cause))
	metrics.CounterUpdates.WithLabelValues(string(op), string(OutcomeRejected)).Inc()

	if c.EventID == "" {
		return nil
	}
	if err := insertMarkerIfAbsent(m.db.WithContext(ctx), c.EventID, op, OutcomeRejected); err != nil {
		// 标记写不进去只影响对账器的效率
		m.logger.Warn("无法记录被拒绝的事件", zap.String("event_id", c.EventID), zap.Error(err))
	}
	return nil
}

// run 在带重试的事务中执行 fn。主键冲突说明另一个投递已经处理了同一事件。
func (m *Maintainer) run(ctx context.Context, fn func(tx *gorm.DB) (Outcome, error)) (Outcome, error) {
	var outcome Outcome
	err := database.WithRetry(ctx, func() error {
		return m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var err error
			outcome, err = fn(tx)
			return err
		})
	})
	if err != nil && database.IsDuplicateKeyError(err) {
		return outcomeDuplicate, nil
	}
	return outcome, err
}

func (m *Maintainer) finish(ctx context.Context, op Op, c changefeed.Change, outcome Outcome, err error) error {
	if err != nil {
		metrics.CounterUpdates.WithLabelValues(string(op), "error").Inc()
		return fmt.Errorf("事件 %s 的计数更新失败: %w", c.EventID, err)
	}
	metrics.CounterUpdates.WithLabelValues(string(op), string(outcome)).Inc()
	m.logger.Debug("计数已处理",
		zap.String("op", string(op)),
		zap.String("event_id", c.EventID),
		zap.String("outcome", string(outcome)))
	if outcome == OutcomeApplied {
		m.notifier.Notify(ctx, c.UserID)
	}
	return nil
}

// ApplyCreated 是 event.created 的处理函数：eventCount += carrots
func (m *Maintainer) ApplyCreated(ctx context.Context, c changefeed.Change) error {
	carrots, err := validate(c, true)
	if err != nil {
		return m.reject(ctx, OpCreate, c, err)
	}

	outcome, err := m.run(ctx, func(tx *gorm.DB) (Outcome, error) {
		markers, err := loadMarkers(tx, c.EventID)
		if err != nil {
			return "", err
		}
		if _, done := markers[OpCreate]; done {
			return outcomeDuplicate, nil
		}
		if _, deleted := markers[OpDelete]; deleted {
			// 删除已经先到，创建与之抵消
			return OutcomeCancelled, insertMarkers(tx, c.EventID, map[Op]Outcome{OpCreate: OutcomeCancelled})
		}

		if _, err := lockBunny(tx, c.UserID, c.BunnyID); err != nil {
			return "", err
		}
		if err := addToCount(tx, c.BunnyID, carrots); err != nil {
			return "", err
		}
		return OutcomeApplied, insertMarkers(tx, c.EventID, map[Op]Outcome{OpCreate: OutcomeApplied})
	})
	return m.finish(ctx, OpCreate, c, outcome, err)
}

// ApplyDeleted 是 event.deleted 的处理函数：eventCount = max(0, eventCount - carrots)
func (m *Maintainer) ApplyDeleted(ctx context.Context, c changefeed.Change) error {
	carrots, err := validate(c, false)
	if err != nil {
		return m.reject(ctx, OpDelete, c, err)
	}

	outcome, err := m.run(ctx, func(tx *gorm.DB) (Outcome, error) {
		markers, err := loadMarkers(tx, c.EventID)
		if err != nil {
			return "", err
		}
		if _, done := markers[OpDelete]; done {
			return outcomeDuplicate, nil
		}
		created, seen := markers[OpCreate]
		if !seen {
			// 创建还没有被处理：两者一起记为抵消，迟到的创建会被跳过
			return OutcomeCancelled, insertMarkers(tx, c.EventID, map[Op]Outcome{
				OpCreate: OutcomeCancelled,
				OpDelete: OutcomeCancelled,
			})
		}
		if created != OutcomeApplied {
			return OutcomeCancelled, insertMarkers(tx, c.EventID, map[Op]Outcome{OpDelete: OutcomeCancelled})
		}

		if _, err := lockBunny(tx, c.UserID, c.BunnyID); err != nil {
			return "", err
		}
		if err := subtractFromCount(tx, c.BunnyID, carrots); err != nil {
			return "", err
		}
		return OutcomeApplied, insertMarkers(tx, c.EventID, map[Op]Outcome{OpDelete: OutcomeApplied})
	})
	return m.finish(ctx, OpDelete, c, outcome, err)
}
