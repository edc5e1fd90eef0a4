package bunny

import (
	"time"

	"github.com/SlpAus/uvbunny-backend/internal/happiness"
)

// Bunny 是用户创建的虚拟兔子。
// EventCount 是胡萝卜事件的冗余累计值，只由计数维护者修改；事件账本才是真实来源。
type Bunny struct {
	ID         string `gorm:"primaryKey;type:varchar(36)"`
	UserID     string `gorm:"type:varchar(128);not null;index:idx_bunnies_user_created,priority:1"`
	Name       string `gorm:"type:varchar(160);not null"`
	ColorClass string `gorm:"type:varchar(16);not null"`
	EventCount int    `gorm:"not null;default:0"`

	// CachedHappiness 只是配置变更时顺手写入的展示缓存，任何读取路径都不以它为依据
	CachedHappiness *int
	CachedAt        *time.Time

	CreatedAt time.Time `gorm:"index:idx_bunnies_user_created,priority:2"`
	UpdatedAt time.Time
}

// View 是带派生幸福值的兔子
type View struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	ColorClass string    `json:"colorClass"`
	EventCount int       `json:"eventCount"`
	CreatedAt  time.Time `json:"createdAt"`
	happiness.Result
}

// Overview 是一个用户所有兔子的实时视图
type Overview struct {
	Bunnies          []View `json:"bunnies"`
	AverageHappiness int    `json:"averageHappiness"`
}

func (b Bunny) view(p happiness.Params) View {
	return View{
		ID:         b.ID,
		Name:       b.Name,
		ColorClass: b.ColorClass,
		EventCount: b.EventCount,
		CreatedAt:  b.CreatedAt,
		Result:     happiness.Derive(b.EventCount, p),
	}
}
