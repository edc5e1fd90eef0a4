// Package testutil 为各模块的测试提供临时数据库和Redis。
package testutil

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/SlpAus/uvbunny-backend/internal/changefeed"
	"github.com/SlpAus/uvbunny-backend/internal/platform/config"
	"github.com/SlpAus/uvbunny-backend/internal/platform/database"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// NewRedis 启动一个miniredis并返回连接它的客户端
func NewRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb, mr
}

// NewDB 在临时目录中创建SQLite数据库并迁移给定的模型
func NewDB(t *testing.T, models ...interface{}) *gorm.DB {
	t.Helper()
	cfg := config.DatabaseConfig{
		Driver:   database.DriverSQLite,
		DSN:      filepath.Join(t.TempDir(), "test.db"),
		LogLevel: "silent",
	}
	db, err := database.Open(cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close(db) })

	if len(models) > 0 {
		require.NoError(t, db.AutoMigrate(models...))
	}
	return db
}

// Config 返回测试用的默认配置
func Config() *config.Config {
	cfg := config.Default()
	cfg.Cursor.Secret = "test-secret"
	return cfg
}

// RecordingPublisher 记录所有发布的变更
type RecordingPublisher struct {
	mu      sync.Mutex
	Changes []changefeed.Change
	// Err 不为nil时 Publish 返回它且不记录
	Err error
}

func (p *RecordingPublisher) Publish(ctx context.Context, c changefeed.Change) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return p.Err
	}
	p.Changes = append(p.Changes, c)
	return nil
}

// Kinds 返回已发布变更的种类序列
func (p *RecordingPublisher) Kinds() []changefeed.Kind {
	p.mu.Lock()
	defer p.mu.Unlock()
	kinds := make([]changefeed.Kind, 0, len(p.Changes))
	for _, c := range p.Changes {
		kinds = append(kinds, c.Kind)
	}
	return kinds
}

// Last 返回最后一条变更
func (p *RecordingPublisher) Last() changefeed.Change {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.Changes) == 0 {
		return changefeed.Change{}
	}
	return p.Changes[len(p.Changes)-1]
}

// RecordingNotifier 统计每个用户收到的实时通知
type RecordingNotifier struct {
	mu     sync.Mutex
	counts map[string]int
}

func (n *RecordingNotifier) Notify(ctx context.Context, userID string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.counts == nil {
		n.counts = make(map[string]int)
	}
	n.counts[userID]++
}

func (n *RecordingNotifier) Count(userID string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.counts[userID]
}
