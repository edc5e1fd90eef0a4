package health

import (
	"context"
	"errors"
	"regexp"
	"time"

	"github.com/SlpAus/uvbunny-backend/pkg/lifecycle"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	checkInterval = 5 * time.Second
	pingTimeout   = 2 * time.Second
)

var runIDPattern = regexp.MustCompile(`run_id:([a-f0-9]+)`)

// RebuildFunc 在Redis重启后恢复丢失的状态，例如已知用户集合和消费者组
type RebuildFunc func(ctx context.Context) error

type Checker struct {
	db      *gorm.DB
	rdb     *redis.Client
	status  *Status
	rebuild RebuildFunc
	logger  *zap.Logger
}

func NewChecker(db *gorm.DB, rdb *redis.Client, status *Status, rebuild RebuildFunc, logger *zap.Logger) *Checker {
	return &Checker{db: db, rdb: rdb, status: status, rebuild: rebuild, logger: logger.Named("health")}
}

// RedisRunID 从Redis服务器信息中提取run_id
func (c *Checker) RedisRunID(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	info, err := c.rdb.Info(ctx, "server").Result()
	if err != nil {
		return "", err
	}
	matches := runIDPattern.FindStringSubmatch(info)
	if len(matches) < 2 {
		return "", errors.New("无法在Redis INFO中找到run_id")
	}
	return matches[1], nil
}

// InitializeRunID 在启动时记录初始的run_id。取不到时只记录警告，第一次检查会处理。
func (c *Checker) InitializeRunID(ctx context.Context) {
	runID, err := c.RedisRunID(ctx)
	if err != nil {
		c.logger.Warn("无法获取初始Redis run_id", zap.Error(err))
		return
	}
	c.status.SetInitialRunID(runID)
}

func (c *Checker) checkDB(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	sqlDB, err := c.db.DB()
	if err == nil {
		err = sqlDB.PingContext(ctx)
	}
	c.status.SetDBHealthy(err == nil)
}

// PerformCheck 执行一次完整的健康检查和可能的修复操作
func (c *Checker) PerformCheck(ctx context.Context) {
	c.checkDB(ctx)

	runID, err := c.RedisRunID(ctx)
	if !c.status.Assess(err == nil, runID) {
		return
	}

	if c.rebuild == nil {
		c.status.MarkRebuildComplete(true, runID)
		return
	}
	if err := c.rebuild(ctx); err != nil {
		c.logger.Error("缓存重建失败", zap.Error(err))
		c.status.MarkRebuildComplete(false, "")
		return
	}
	after, err := c.RedisRunID(ctx)
	if err != nil {
		c.status.MarkRebuildComplete(false, "")
		return
	}
	c.status.MarkRebuildComplete(true, after)
}

// Run 定期执行检查，直到停机
func (c *Checker) Run(h *lifecycle.Handle) {
	c.logger.Info("健康检查器已启动")
	h.Every(checkInterval, c.PerformCheck)
	c.logger.Info("健康检查器已停止")
}
