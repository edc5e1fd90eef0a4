package metadata

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GetValue 读取键对应的值，键不存在时返回空字符串
func GetValue(ctx context.Context, db *gorm.DB, key string) (string, error) {
	var meta Metadata
	err := db.WithContext(ctx).Where("key = ?", key).First(&meta).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", nil
		}
		return "", err
	}
	return meta.Value, nil
}

// SetValue 以 upsert 写入键值
func SetValue(ctx context.Context, db *gorm.DB, key, value string) error {
	meta := Metadata{Key: key, Value: value}
	return db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&meta).Error
}

// GetTime 读取并解析一个时间值，键不存在时返回零值
func GetTime(ctx context.Context, db *gorm.DB, key string) (time.Time, error) {
	value, err := GetValue(ctx, db, key)
	if err != nil || value == "" {
		return time.Time{}, err
	}
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("无法解析元数据 '%s' 的值: %w", key, err)
	}
	return t, nil
}

func SetTime(ctx context.Context, db *gorm.DB, key string, t time.Time) error {
	return SetValue(ctx, db, key, t.UTC().Format(time.RFC3339Nano))
}
