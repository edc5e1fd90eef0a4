package settings

import (
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// load 读取用户配置，不存在时返回默认值
func load(db *gorm.DB, userID string) (Config, error) {
	var cfg Config
	err := db.Where("user_id = ?", userID).First(&cfg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Defaults(userID), nil
	}
	if err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// loadForUpdate 在事务中锁住用户的配置行并读取。调用前必须保证该行存在。
func loadForUpdate(tx *gorm.DB, userID string) (Config, error) {
	var cfg Config
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("user_id = ?", userID).First(&cfg).Error
	return cfg, err
}

// mergeWrite 写入配置：记录不存在时插入整行，存在时只更新 columns 和 updated_at
func mergeWrite(db *gorm.DB, cfg Config, columns []string) error {
	cfg.UpdatedAt = time.Now()
	return db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns(append(columns, "updated_at")),
	}).Create(&cfg).Error
}

// insertDefaults 写入默认配置，已有配置时什么也不做
func insertDefaults(db *gorm.DB, userID string) (bool, error) {
	cfg := Defaults(userID)
	cfg.UpdatedAt = time.Now()
	res := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&cfg)
	return res.RowsAffected == 1, res.Error
}
