// Package analytics 定期为每个用户计算兔子的平均幸福值并持久化。
package analytics

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/SlpAus/uvbunny-backend/internal/bunny"
	"github.com/SlpAus/uvbunny-backend/internal/platform/metadata"
	"github.com/SlpAus/uvbunny-backend/internal/platform/metrics"
	"github.com/SlpAus/uvbunny-backend/pkg/lifecycle"
	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const userPage = 200

// UserLister 分页列出所有用户ID
type UserLister interface {
	ListIDs(ctx context.Context, after string, limit int) ([]string, error)
}

// OverviewSource 给出用户兔子的当前幸福值，bunny.Service 实现了它
type OverviewSource interface {
	ListWithHappiness(ctx context.Context, userID string) (bunny.Overview, error)
}

type Snapshotter struct {
	db          *gorm.DB
	users       UserLister
	overviews   OverviewSource
	interval    time.Duration
	concurrency int
	logger      *zap.Logger

	// 避免定时任务和命令行同时执行
	mu sync.Mutex
}

func NewSnapshotter(db *gorm.DB, users UserLister, overviews OverviewSource, interval time.Duration, concurrency int, logger *zap.Logger) *Snapshotter {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Snapshotter{
		db:          db,
		users:       users,
		overviews:   overviews,
		interval:    interval,
		concurrency: concurrency,
		logger:      logger.Named("analytics"),
	}
}

func (s *Snapshotter) snapshotUser(ctx context.Context, userID string, now time.Time) error {
	overview, err := s.overviews.ListWithHappiness(ctx, userID)
	if err != nil {
		return err
	}
	stats := GlobalStats{
		UserID:       userID,
		AvgHappiness: overview.AverageHappiness,
		BunnyCount:   len(overview.Bunnies),
		UpdatedAt:    now,
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"avg_happiness", "bunny_count", "updated_at"}),
	}).Create(&stats).Error
}

// RunOnce 为所有用户生成一次快照。
// 单个用户失败只记录日志和计数，不影响其他用户；只有无法列出用户时才返回错误。
func (s *Snapshotter) RunOnce(ctx context.Context) (Summary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	now := start.UTC()
	var users, failed atomic.Int64

	after := ""
	for {
		ids, err := s.users.ListIDs(ctx, after, userPage)
		if err != nil {
			metrics.AnalyticsRuns.WithLabelValues("error").Inc()
			return s.summary(&users, &failed), fmt.Errorf("无法列出用户: %w", err)
		}
		if len(ids) == 0 {
			break
		}

		p := pool.New().WithContext(ctx).WithMaxGoroutines(s.concurrency)
		for _, id := range ids {
			p.Go(func(ctx context.Context) error {
				users.Add(1)
				if err := s.snapshotUser(ctx, id, now); err != nil {
					failed.Add(1)
					metrics.AnalyticsUserFailures.Inc()
					s.logger.Warn("用户快照失败", zap.String("user_id", id), zap.Error(err))
				}
				return nil
			})
		}
		_ = p.Wait()

		if err := ctx.Err(); err != nil {
			metrics.AnalyticsRuns.WithLabelValues("cancelled").Inc()
			return s.summary(&users, &failed), err
		}
		if len(ids) < userPage {
			break
		}
		after = ids[len(ids)-1]
	}

	summary := s.summary(&users, &failed)
	if err := metadata.SetTime(ctx, s.db, metadata.LastAnalyticsSnapshotKey, now); err != nil {
		s.logger.Warn("无法记录快照时间", zap.Error(err))
	}

	result := "ok"
	if summary.Failed > 0 {
		result = "partial"
	}
	metrics.AnalyticsRuns.WithLabelValues(result).Inc()
	s.logger.Info("分析快照完成",
		zap.Int("users", summary.Users),
		zap.Int("failed", summary.Failed),
		zap.Duration("elapsed", time.Since(start)))
	return summary, nil
}

func (s *Snapshotter) summary(users, failed *atomic.Int64) Summary {
	u, f := int(users.Load()), int(failed.Load())
	return Summary{Users: u, Succeeded: u - f, Failed: f}
}

// firstDelay 根据上次运行的时间决定第一次运行前要等多久，
// 重启不会打乱整体节奏
func (s *Snapshotter) firstDelay(ctx context.Context, now time.Time) time.Duration {
	last, err := metadata.GetTime(ctx, s.db, metadata.LastAnalyticsSnapshotKey)
	if err != nil {
		s.logger.Warn("无法读取上次快照时间，立即执行", zap.Error(err))
		return 0
	}
	if last.IsZero() {
		return 0
	}
	delay := s.interval - now.Sub(last)
	if delay < 0 {
		return 0
	}
	return delay
}

// Run 按 interval 定期执行快照，直到停机
func (s *Snapshotter) Run(h *lifecycle.Handle, healthy func() bool) {
	delay := s.firstDelay(h.Ctx(), time.Now())
	s.logger.Info("分析快照调度器已启动", zap.Duration("first_run_in", delay), zap.Duration("interval", s.interval))

	for {
		if err := h.Sleep(delay); err != nil {
			s.logger.Info("分析快照调度器已停止")
			return
		}
		delay = s.interval

		if healthy != nil && !healthy() {
			s.logger.Warn("存储不可用，跳过本次快照")
			continue
		}
		if _, err := s.RunOnce(h.Ctx()); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error("分析快照失败", zap.Error(err))
		}
	}
}

// GetStats 返回用户最近一次快照，从未快照过时返回零值
func (s *Snapshotter) GetStats(ctx context.Context, userID string) (GlobalStats, error) {
	var stats GlobalStats
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&stats).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return GlobalStats{UserID: userID}, nil
	}
	if err != nil {
		return GlobalStats{}, fmt.Errorf("无法读取统计: %w", err)
	}
	return stats, nil
}
