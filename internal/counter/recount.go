package counter

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/SlpAus/uvbunny-backend/internal/bunny"
	"github.com/SlpAus/uvbunny-backend/internal/ledger"
	"github.com/SlpAus/uvbunny-backend/internal/platform/database"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const recountPage = 200

// Recount 根据账本重建 eventCount，并补齐缺失的标记，使之后迟到的投递成为空操作。
// userID 为空时处理所有用户。返回处理的兔子数。
func (m *Maintainer) Recount(ctx context.Context, userID string) (int, error) {
	total := 0
	after := ""
	for {
		var ids []string
		q := m.db.WithContext(ctx).Model(&bunny.Bunny{}).Where("id > ?", after)
		if userID != "" {
			q = q.Where("user_id = ?", userID)
		}
		if err := q.Order("id").Limit(recountPage).Pluck("id", &ids).Error; err != nil {
			return total, fmt.Errorf("无法读取兔子列表: %w", err)
		}

		for _, id := range ids {
			if err := ctx.Err(); err != nil {
				return total, err
			}
			if err := m.recountBunny(ctx, id); err != nil {
				return total, err
			}
			total++
		}
		if len(ids) < recountPage {
			return total, nil
		}
		after = ids[len(ids)-1]
	}
}

func (m *Maintainer) recountBunny(ctx context.Context, bunnyID string) error {
	now := time.Now()
	valid := "e.type = ? AND e.carrots BETWEEN ? AND ?"
	validArgs := []interface{}{ledger.EventTypeCarrotGiven, ledger.MinCarrots, ledger.MaxCarrots}

	return database.WithRetry(ctx, func() error {
		return m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var b bunny.Bunny
			err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", bunnyID).First(&b).Error
			if errors.Is(err, gorm.ErrRecordNotFound) {
				// 期间被删除，交给级联删除器
				return nil
			}
			if err != nil {
				return err
			}

			var sum int
			err = tx.Raw("SELECT COALESCE(SUM(e.carrots), 0) FROM carrot_events e WHERE e.bunny_id = ? AND e.deleted_at IS NULL AND "+valid,
				append([]interface{}{bunnyID}, validArgs...)...).Scan(&sum).Error
			if err != nil {
				return err
			}
			if err := tx.Model(&bunny.Bunny{}).Where("id = ?", bunnyID).UpdateColumn("event_count", sum).Error; err != nil {
				return err
			}

			noMarker := func(op Op) string {
				return fmt.Sprintf("NOT EXISTS (SELECT 1 FROM counter_applications a WHERE a.event_id = e.id AND a.op = '%s')", op)
			}
			backfills := []struct {
				sql  string
				args []interface{}
			}{
				// 已计入总和的有效事件
				{
					"INSERT INTO counter_applications (event_id, op, outcome, created_at) SELECT e.id, ?, ?, ? FROM carrot_events e WHERE e.bunny_id = ? AND e.deleted_at IS NULL AND " + valid + " AND " + noMarker(OpCreate),
					append([]interface{}{OpCreate, OutcomeApplied, now, bunnyID}, validArgs...),
				},
				// 已删除、创建曾被计入的事件
				{
					"INSERT INTO counter_applications (event_id, op, outcome, created_at) SELECT e.id, ?, ?, ? FROM carrot_events e WHERE e.bunny_id = ? AND e.deleted_at IS NOT NULL AND EXISTS (SELECT 1 FROM counter_applications c WHERE c.event_id = e.id AND c.op = 'create' AND c.outcome = 'applied') AND " + noMarker(OpDelete),
					[]interface{}{OpDelete, OutcomeApplied, now, bunnyID},
				},
				// 已删除、创建从未被处理的事件：整对抵消
				{
					"INSERT INTO counter_applications (event_id, op, outcome, created_at) SELECT e.id, ?, ?, ? FROM carrot_events e WHERE e.bunny_id = ? AND e.deleted_at IS NOT NULL AND " + noMarker(OpCreate),
					[]interface{}{OpCreate, OutcomeCancelled, now, bunnyID},
				},
				{
					"INSERT INTO counter_applications (event_id, op, outcome, created_at) SELECT e.id, ?, ?, ? FROM carrot_events e WHERE e.bunny_id = ? AND e.deleted_at IS NOT NULL AND " + noMarker(OpDelete),
					[]interface{}{OpDelete, OutcomeCancelled, now, bunnyID},
				},
			}
			for _, bf := range backfills {
				if err := tx.Exec(bf.sql, bf.args...).Error; err != nil {
					return fmt.Errorf("无法补齐计数标记: %w", err)
				}
			}
			return nil
		})
	})
}
