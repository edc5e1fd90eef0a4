package settings

import (
	"time"

	"github.com/SlpAus/uvbunny-backend/internal/happiness"
)

const (
	DefaultPointsPerCarrot      = 3
	DefaultMoodSadThreshold     = 20
	DefaultMoodAverageThreshold = 49
)

// Config 是每个用户一份的幸福值参数
type Config struct {
	UserID          string `gorm:"primaryKey;type:varchar(128)" json:"-"`
	PointsPerCarrot int    `gorm:"not null" json:"pointsPerCarrot"`
	// MaxHappinessPoints 为nil时取 PointsPerCarrot*100
	MaxHappinessPoints   *int      `json:"maxHappinessPoints,omitempty"`
	MoodSadThreshold     int       `gorm:"not null" json:"moodSadThreshold"`
	MoodAverageThreshold int       `gorm:"not null" json:"moodAverageThreshold"`
	UpdatedAt            time.Time `json:"updatedAt"`
}

func (Config) TableName() string {
	return "user_configs"
}

// Defaults 返回用户没有配置记录时使用的默认配置
func Defaults(userID string) Config {
	return Config{
		UserID:               userID,
		PointsPerCarrot:      DefaultPointsPerCarrot,
		MoodSadThreshold:     DefaultMoodSadThreshold,
		MoodAverageThreshold: DefaultMoodAverageThreshold,
	}
}

// Params 转换为幸福值计算的参数
func (c Config) Params() happiness.Params {
	return happiness.Params{
		PointsPerCarrot:      c.PointsPerCarrot,
		MaxHappinessPoints:   c.MaxHappinessPoints,
		MoodSadThreshold:     c.MoodSadThreshold,
		MoodAverageThreshold: c.MoodAverageThreshold,
	}
}

// Patch 是一次部分更新，nil 字段保持不变。
// 数值以 float64 接收，以便拒绝非整数而不是悄悄截断。
type Patch struct {
	PointsPerCarrot      *float64 `json:"pointsPerCarrot"`
	MaxHappinessPoints   *float64 `json:"maxHappinessPoints"`
	MoodSadThreshold     *float64 `json:"moodSadThreshold"`
	MoodAverageThreshold *float64 `json:"moodAverageThreshold"`
}

func (p Patch) empty() bool {
	return p.PointsPerCarrot == nil && p.MaxHappinessPoints == nil &&
		p.MoodSadThreshold == nil && p.MoodAverageThreshold == nil
}
