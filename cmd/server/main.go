package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"

	"github.com/SlpAus/uvbunny-backend/internal/platform/config"
	"github.com/SlpAus/uvbunny-backend/internal/platform/logging"
	"github.com/SlpAus/uvbunny-backend/internal/platform/shutdown"
	"github.com/SlpAus/uvbunny-backend/internal/platform/startup"
	"github.com/SlpAus/uvbunny-backend/pkg/lifecycle"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "无法加载配置: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "无法初始化日志: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()
	gin.SetMode(cfg.Server.Mode)

	ctx := context.Background()
	app, err := startup.Open(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("应用初始化失败，无法启动", zap.Error(err))
	}
	if err := app.Prepare(ctx); err != nil {
		logger.Fatal("启动准备失败", zap.Error(err))
	}

	gracefulManager := lifecycle.NewManager("graceful", logger)
	forcefulManager := lifecycle.NewManager("forceful", logger)
	if err := app.StartBackground(gracefulManager, forcefulManager); err != nil {
		logger.Fatal("无法启动后台服务", zap.Error(err))
	}

	// SSE 连接不会自己结束，停机时通过基础 ctx 通知它们
	streamCtx, cancelStreams := context.WithCancel(ctx)
	server := &http.Server{
		Addr:        cfg.Server.Address,
		Handler:     app.Router(),
		BaseContext: func(net.Listener) context.Context { return streamCtx },
	}
	server.RegisterOnShutdown(cancelStreams)

	coordinator := shutdown.NewCoordinator(gracefulManager, forcefulManager, logger)
	coordinator.AddFinalizer("close-stores", app.Close)

	go func() {
		logger.Info("服务器已准备就绪，开始监听", zap.String("address", cfg.Server.Address))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("服务器启动失败", zap.Error(err))
		}
	}()

	coordinator.ListenForSignalsAndShutdown(server)
}
