package counter

import (
	"errors"
	"fmt"

	"github.com/SlpAus/uvbunny-backend/internal/bunny"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrBunnyNotFound 表示事件的兔子已不存在。计数更新会中止并等待重新投递。
var ErrBunnyNotFound = fmt.Errorf("parent %w", bunny.ErrNotFound)

func loadMarkers(tx *gorm.DB, eventID string) (map[Op]Outcome, error) {
	var rows []Application
	if err := tx.Where("event_id = ?", eventID).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("无法读取计数标记: %w", err)
	}
	markers := make(map[Op]Outcome, len(rows))
	for _, r := range rows {
		markers[r.Op] = r.Outcome
	}
	return markers, nil
}

func insertMarkers(tx *gorm.DB, eventID string, marks map[Op]Outcome) error {
	rows := make([]Application, 0, len(marks))
	for op, outcome := range marks {
		rows = append(rows, Application{EventID: eventID, Op: op, Outcome: outcome})
	}
	return tx.Create(&rows).Error
}

// insertMarkerIfAbsent 用于校验失败的记录，重复写入被忽略
func insertMarkerIfAbsent(tx *gorm.DB, eventID string, op Op, outcome Outcome) error {
	return tx.Clauses(clause.OnConflict{DoNothing: true}).
		Create(&Application{EventID: eventID, Op: op, Outcome: outcome}).Error
}

// lockBunny 以 SELECT ... FOR UPDATE 锁住兔子行，
// 同一只兔子上的并发加减因此串行执行。SQLite 本身只有一个写者，会忽略这个子句。
func lockBunny(tx *gorm.DB, userID, bunnyID string) (bunny.Bunny, error) {
	var b bunny.Bunny
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("user_id = ? AND id = ?", userID, bunnyID).
		First(&b).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return b, ErrBunnyNotFound
	}
	if err != nil {
		return b, fmt.Errorf("无法锁定兔子: %w", err)
	}
	return b, nil
}

func addToCount(tx *gorm.DB, bunnyID string, delta int) error {
	return tx.Model(&bunny.Bunny{}).Where("id = ?", bunnyID).
		UpdateColumn("event_count", gorm.Expr("event_count + ?", delta)).Error
}

// subtractFromCount 扣减计数，下限为0
func subtractFromCount(tx *gorm.DB, bunnyID string, delta int) error {
	return tx.Model(&bunny.Bunny{}).Where("id = ?", bunnyID).
		UpdateColumn("event_count", gorm.Expr("CASE WHEN event_count > ? THEN event_count - ? ELSE 0 END", delta, delta)).Error
}
