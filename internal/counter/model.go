package counter

import "time"

// Op 是计数维护者处理的事件变更方向
type Op string

const (
	OpCreate Op = "create"
	OpDelete Op = "delete"
)

// Outcome 是一次处理的结果
type Outcome string

const (
	// OutcomeApplied 表示计数已经按该事件调整
	OutcomeApplied Outcome = "applied"
	// OutcomeRejected 表示事件未通过校验，计数没有调整
	OutcomeRejected Outcome = "rejected"
	// OutcomeCancelled 表示删除先于创建被观察到，两者互相抵消
	OutcomeCancelled Outcome = "cancelled"
)

// Application 记录某个事件的某个方向已经被处理过，使重复投递成为空操作
type Application struct {
	EventID   string  `gorm:"primaryKey;type:varchar(36)"`
	Op        Op      `gorm:"primaryKey;type:varchar(8)"`
	Outcome   Outcome `gorm:"type:varchar(16);not null"`
	CreatedAt time.Time
}

func (Application) TableName() string {
	return "counter_applications"
}
