// Package api 组装HTTP路由。
package api

import (
	"time"

	"github.com/SlpAus/uvbunny-backend/internal/platform/config"
	"github.com/SlpAus/uvbunny-backend/internal/platform/health"
	"github.com/SlpAus/uvbunny-backend/internal/platform/logging"
	"github.com/SlpAus/uvbunny-backend/internal/platform/metrics"
	"github.com/SlpAus/uvbunny-backend/internal/user"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Registrar 是各模块的HTTP处理器，在 /api 分组下注册自己的路由
type Registrar interface {
	Register(rg *gin.RouterGroup)
}

// Options 是构造路由所需的共享依赖
type Options struct {
	Server   config.ServerConfig
	Logger   *zap.Logger
	Identity user.IdentityProvider
	Users    *user.Registry
	Status   *health.Status
}

// NewRouter 注册项目的所有路由。/api 下的请求都必须带有可识别的用户身份。
func NewRouter(opts Options, handlers ...Registrar) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logging.GinMiddleware(opts.Logger.Named("http")))
	r.Use(metrics.GinMiddleware())
	r.Use(cors.New(cors.Config{
		AllowOrigins:     opts.Server.Cors.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "X-User-ID"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	r.GET("/healthz", health.Liveness)
	r.GET("/readyz", opts.Status.Readiness)
	r.GET("/metrics", metrics.Handler())

	apiGroup := r.Group("/api", user.RequireUser(opts.Identity, opts.Users))
	for _, h := range handlers {
		h.Register(apiGroup)
	}
	return r
}
