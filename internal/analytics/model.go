package analytics

import "time"

// GlobalStats 是某个用户在上一次快照时的汇总
type GlobalStats struct {
	UserID       string    `gorm:"primaryKey;type:varchar(128)" json:"-"`
	AvgHappiness int       `gorm:"not null" json:"avgHappiness"`
	BunnyCount   int       `gorm:"not null" json:"bunnyCount"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

func (GlobalStats) TableName() string {
	return "user_stats"
}

// Summary 描述一次快照的执行结果
type Summary struct {
	Users     int `json:"users"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}
