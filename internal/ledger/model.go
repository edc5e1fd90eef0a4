package ledger

import (
	"time"

	"gorm.io/gorm"
)

const (
	// EventTypeCarrotGiven 是目前唯一的事件类型
	EventTypeCarrotGiven = "CARROT_GIVEN"

	SourceUI       = "ui"
	SourceFunction = "function"

	MinCarrots    = 1
	MaxCarrots    = 50
	maxNotesRunes = 280
	pageSize      = 10
)

// CarrotEvent 是一次喂胡萝卜的记录。事件只追加不修改；
// 单独删除时是软删除，计数维护者据此扣减，兔子被删除时由级联删除器物理删除。
type CarrotEvent struct {
	ID        string         `gorm:"primaryKey;type:varchar(36)" json:"id"`
	UserID    string         `gorm:"type:varchar(128);not null;index" json:"-"`
	BunnyID   string         `gorm:"type:varchar(36);not null;index:idx_events_bunny_created,priority:1" json:"bunnyId"`
	Type      string         `gorm:"type:varchar(32);not null" json:"type"`
	Carrots   int            `gorm:"not null" json:"carrots"`
	Source    string         `gorm:"type:varchar(16)" json:"source,omitempty"`
	Notes     string         `gorm:"type:text" json:"notes,omitempty"`
	CreatedAt time.Time      `gorm:"index:idx_events_bunny_created,priority:2" json:"createdAt"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

func (CarrotEvent) TableName() string {
	return "carrot_events"
}

// Page 是一页事件，NextCursor 为空表示没有下一页
type Page struct {
	Events     []CarrotEvent `json:"events"`
	NextCursor string        `json:"nextCursor"`
}
