package bunny

import (
	"errors"
	"fmt"

	"github.com/SlpAus/uvbunny-backend/internal/platform/apperr"
	"gorm.io/gorm"
)

// ErrNotFound 表示兔子不存在或不属于当前用户
var ErrNotFound = fmt.Errorf("bunny %w", apperr.ErrNotFound)

// Find 在给定的连接或事务里读取一只兔子
func Find(db *gorm.DB, userID, bunnyID string) (Bunny, error) {
	var b Bunny
	err := db.Where("user_id = ? AND id = ?", userID, bunnyID).First(&b).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Bunny{}, ErrNotFound
	}
	if err != nil {
		return Bunny{}, fmt.Errorf("无法读取兔子: %w", err)
	}
	return b, nil
}

func listByUser(db *gorm.DB, userID string) ([]Bunny, error) {
	var bunnies []Bunny
	err := db.Where("user_id = ?", userID).Order("created_at ASC, id ASC").Find(&bunnies).Error
	if err != nil {
		return nil, fmt.Errorf("无法读取兔子列表: %w", err)
	}
	return bunnies, nil
}
