package user

import "time"

// User 记录出现过的外部身份。ID 由身份提供方给出，对本服务来说是不透明的字符串。
type User struct {
	ID        string `gorm:"primaryKey;type:varchar(128)"`
	CreatedAt time.Time
}
