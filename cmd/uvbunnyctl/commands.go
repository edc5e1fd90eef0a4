package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/SlpAus/uvbunny-backend/internal/platform/config"
	"github.com/SlpAus/uvbunny-backend/internal/platform/database"
	"github.com/SlpAus/uvbunny-backend/internal/platform/logging"
	"github.com/SlpAus/uvbunny-backend/internal/platform/startup"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	recountUser string

	rootCmd = &cobra.Command{
		Use:           "uvbunnyctl",
		Short:         "Maintenance commands for the UVbunny backend",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	migrateCmd = &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE:  runMigrate,
	}

	recountCmd = &cobra.Command{
		Use:   "recount",
		Short: "Rebuild bunny event counts from the carrot event ledger",
		RunE:  runRecount,
	}

	snapshotCmd = &cobra.Command{
		Use:   "snapshot",
		Short: "Run the analytics snapshot once",
		RunE:  runSnapshot,
	}

	purgeOrphansCmd = &cobra.Command{
		Use:   "purge-orphans",
		Short: "Delete carrot events whose bunny no longer exists",
		RunE:  runPurgeOrphans,
	}
)

func init() {
	recountCmd.Flags().StringVar(&recountUser, "user", "", "only recount the bunnies of this user")
	rootCmd.AddCommand(migrateCmd, recountCmd, snapshotCmd, purgeOrphansCmd)
}

// env 是每个子命令共享的配置、日志和可被信号中断的 ctx
type env struct {
	cfg    *config.Config
	logger *zap.Logger
	ctx    context.Context
	stop   context.CancelFunc
}

func newEnv() (*env, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("无法加载配置: %w", err)
	}
	logger, err := logging.New(cfg.Log)
	if err != nil {
		return nil, err
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	return &env{cfg: cfg, logger: logger, ctx: ctx, stop: stop}, nil
}

func (e *env) close() {
	e.stop()
	_ = e.logger.Sync()
}

// withApp 打开完整的应用装配，命令执行完后关闭连接
func withApp(fn func(e *env, app *startup.App) error) error {
	e, err := newEnv()
	if err != nil {
		return err
	}
	defer e.close()

	app, err := startup.Open(e.ctx, e.cfg, e.logger)
	if err != nil {
		return err
	}
	defer func() { _ = app.Close() }()
	return fn(e, app)
}

func runMigrate(cmd *cobra.Command, args []string) error {
	e, err := newEnv()
	if err != nil {
		return err
	}
	defer e.close()

	db, err := database.Open(e.cfg.Database, e.logger)
	if err != nil {
		return err
	}
	defer func() { _ = database.Close(db) }()

	if err := startup.Migrate(db); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "数据库迁移完成")
	return nil
}

func runRecount(cmd *cobra.Command, args []string) error {
	return withApp(func(e *env, app *startup.App) error {
		n, err := app.Counter.Recount(e.ctx, recountUser)
		if err != nil {
			return fmt.Errorf("重新计数在处理 %d 只兔子后失败: %w", n, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "已重新计数 %d 只兔子\n", n)
		return nil
	})
}

func runSnapshot(cmd *cobra.Command, args []string) error {
	return withApp(func(e *env, app *startup.App) error {
		summary, err := app.Analytics.RunOnce(e.ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "快照完成: 用户 %d, 成功 %d, 失败 %d\n",
			summary.Users, summary.Succeeded, summary.Failed)
		return nil
	})
}

func runPurgeOrphans(cmd *cobra.Command, args []string) error {
	return withApp(func(e *env, app *startup.App) error {
		n, err := app.Cascade.PurgeOrphans(e.ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "已删除 %d 个孤立事件\n", n)
		return nil
	})
}
