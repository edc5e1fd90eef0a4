// Package startup 负责打开存储、迁移表结构并把所有模块装配在一起。
package startup

import (
	"context"
	"errors"
	"fmt"

	"github.com/SlpAus/uvbunny-backend/api"
	"github.com/SlpAus/uvbunny-backend/internal/analytics"
	"github.com/SlpAus/uvbunny-backend/internal/bunny"
	"github.com/SlpAus/uvbunny-backend/internal/cascade"
	"github.com/SlpAus/uvbunny-backend/internal/changefeed"
	"github.com/SlpAus/uvbunny-backend/internal/counter"
	"github.com/SlpAus/uvbunny-backend/internal/ledger"
	"github.com/SlpAus/uvbunny-backend/internal/live"
	"github.com/SlpAus/uvbunny-backend/internal/platform/config"
	"github.com/SlpAus/uvbunny-backend/internal/platform/database"
	"github.com/SlpAus/uvbunny-backend/internal/platform/health"
	"github.com/SlpAus/uvbunny-backend/internal/platform/metadata"
	"github.com/SlpAus/uvbunny-backend/internal/settings"
	"github.com/SlpAus/uvbunny-backend/internal/user"
	"github.com/SlpAus/uvbunny-backend/pkg/cursor"
	"github.com/SlpAus/uvbunny-backend/pkg/lifecycle"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Migrate 迁移所有模块的表结构
func Migrate(db *gorm.DB) error {
	models := []interface{}{
		&user.User{},
		&settings.Config{},
		&bunny.Bunny{},
		&ledger.CarrotEvent{},
		&counter.Application{},
		&analytics.GlobalStats{},
		&metadata.Metadata{},
	}
	if err := db.AutoMigrate(models...); err != nil {
		return fmt.Errorf("数据库迁移失败: %w", err)
	}
	return nil
}

// App 持有装配好的全部组件
type App struct {
	Config *config.Config
	Logger *zap.Logger
	DB     *gorm.DB
	Redis  *redis.Client

	Publisher *changefeed.StreamPublisher
	Notifier  *live.PubSubNotifier
	Identity  *user.HeaderIdentity
	Users     *user.Registry
	Settings  *settings.Service
	Bunnies   *bunny.Service
	BunnyHub  *live.Hub[bunny.Overview]
	Ledger    *ledger.Service

	Counter    *counter.Maintainer
	Reconciler *counter.Reconciler
	Cascade    *cascade.Deleter
	Analytics  *analytics.Snapshotter
	Dispatcher *changefeed.Dispatcher

	Status  *health.Status
	Checker *health.Checker
}

// Open 连接数据库和Redis并迁移表结构，然后装配所有组件
func Open(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	db, err := database.Open(cfg.Database, logger)
	if err != nil {
		return nil, err
	}
	if err := Migrate(db); err != nil {
		_ = database.Close(db)
		return nil, err
	}
	rdb, err := database.OpenRedis(ctx, cfg.Database.Redis)
	if err != nil {
		_ = database.Close(db)
		return nil, err
	}

	app, err := New(cfg, db, rdb, logger)
	if err != nil {
		_ = app.Close()
		return nil, err
	}
	return app, nil
}

// New 在已打开的连接上装配组件，测试直接使用它
func New(cfg *config.Config, db *gorm.DB, rdb *redis.Client, logger *zap.Logger) (*App, error) {
	a := &App{Config: cfg, Logger: logger, DB: db, Redis: rdb}

	if err := bunny.RegisterValidators(); err != nil {
		return a, err
	}

	signer, err := cursor.NewSigner(cfg.Cursor.Secret)
	if err != nil {
		return a, fmt.Errorf("无法初始化游标签名: %w", err)
	}
	if cfg.Cursor.Secret == "" {
		logger.Warn("未配置 cursor.secret，使用随机密钥，重启后旧游标失效")
	}

	a.Publisher = changefeed.NewStreamPublisher(rdb, cfg.Changefeed.Stream, cfg.Changefeed.MaxLen)
	a.Notifier = live.NewPubSubNotifier(rdb, logger)
	a.Identity = user.NewHeaderIdentity(cfg.Auth.Header)
	a.Users = user.NewRegistry(db, rdb, a.Publisher, logger)
	a.Settings = settings.NewService(db, rdb, a.Publisher, a.Notifier, logger)
	a.Bunnies = bunny.NewService(db, a.Settings, a.Publisher, a.Notifier, logger)
	a.BunnyHub = live.NewHub(rdb, a.Bunnies.ListWithHappiness, logger)
	a.Ledger = ledger.NewService(db, rdb, signer, cfg.Limits.CarrotGiftsPerMinute, a.Publisher, logger)

	a.Counter = counter.NewMaintainer(db, a.Notifier, logger)
	a.Reconciler = counter.NewReconciler(db, a.Publisher, cfg.Reconciler.Interval, cfg.Reconciler.Grace, logger)
	a.Cascade = cascade.NewDeleter(db, cfg.Cascade.PageSize, cfg.Cascade.MaxPages, logger)
	a.Analytics = analytics.NewSnapshotter(db, a.Users, a.Bunnies, cfg.Analytics.Interval, cfg.Analytics.Concurrency, logger)

	a.Dispatcher = changefeed.NewDispatcher(rdb, cfg.Changefeed, logger)
	a.Dispatcher.Handle(changefeed.KindEventCreated, a.Counter.ApplyCreated)
	a.Dispatcher.Handle(changefeed.KindEventDeleted, a.Counter.ApplyDeleted)
	a.Dispatcher.Handle(changefeed.KindBunnyDeleted, a.Cascade.HandleBunnyDeleted)
	a.Dispatcher.Handle(changefeed.KindUserCreated, a.Settings.HandleUserCreated)
	a.Dispatcher.Handle(changefeed.KindConfigUpdated, a.Bunnies.RefreshCachedHappiness)

	a.Status = health.NewStatus(logger)
	a.Checker = health.NewChecker(db, rdb, a.Status, a.RebuildCache, logger)
	return a, nil
}

// RebuildCache 在Redis重启后恢复已知用户集合和消费者组。
// 丢失的变更由计数巡查补发。
func (a *App) RebuildCache(ctx context.Context) error {
	if err := a.Users.WarmupCache(ctx); err != nil {
		return err
	}
	return a.Dispatcher.EnsureGroup(ctx)
}

// Prepare 是服务启动前的一次性初始化
func (a *App) Prepare(ctx context.Context) error {
	a.Checker.InitializeRunID(ctx)
	if err := a.RebuildCache(ctx); err != nil {
		return fmt.Errorf("缓存预热失败: %w", err)
	}
	a.Checker.PerformCheck(ctx)
	return nil
}

// StartBackground 在两个生命周期管理器下启动所有后台服务
func (a *App) StartBackground(graceful, forceful *lifecycle.Manager) error {
	gh, err := graceful.NewServiceHandle("dispatcher")
	if err != nil {
		return err
	}
	fh, err := forceful.NewServiceHandle("dispatcher")
	if err != nil {
		gh.Close()
		return err
	}
	go func() {
		defer gh.Close()
		defer fh.Close()
		a.Dispatcher.Run(gh, fh, a.Status.IsHealthy)
	}()

	return errors.Join(
		graceful.Go("reconciler", func(h *lifecycle.Handle) {
			a.Reconciler.Run(h, a.Status.IsHealthy)
		}),
		graceful.Go("analytics", func(h *lifecycle.Handle) {
			a.Analytics.Run(h, a.Status.IsDBHealthy)
		}),
		graceful.Go("health", a.Checker.Run),
	)
}

// Router 构造HTTP路由
func (a *App) Router() *gin.Engine {
	return api.NewRouter(api.Options{
		Server:   a.Config.Server,
		Logger:   a.Logger,
		Identity: a.Identity,
		Users:    a.Users,
		Status:   a.Status,
	},
		settings.NewHandler(a.Settings),
		bunny.NewHandler(a.Bunnies, a.BunnyHub),
		ledger.NewHandler(a.Ledger),
		analytics.NewHandler(a.Analytics),
	)
}

// Close 关闭Redis和数据库连接
func (a *App) Close() error {
	var errs []error
	if a.Redis != nil {
		errs = append(errs, a.Redis.Close())
	}
	if a.DB != nil {
		errs = append(errs, database.Close(a.DB))
	}
	return errors.Join(errs...)
}
