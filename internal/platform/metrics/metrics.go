// Package metrics 集中定义服务暴露的Prometheus指标。
package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	CounterUpdates = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "uvbunny_counter_updates_total",
		Help: "Counter maintainer outcomes by operation",
	}, []string{"op", "outcome"})

	ChangefeedDeliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "uvbunny_changefeed_deliveries_total",
		Help: "Change feed deliveries by kind and result",
	}, []string{"kind", "result"})

	CascadeDeletedEvents = promauto.NewCounter(prometheus.CounterOpts{
		Name: "uvbunny_cascade_deleted_events_total",
		Help: "Carrot events removed by bunny cascade deletes",
	})

	AnalyticsRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "uvbunny_analytics_runs_total",
		Help: "Analytics snapshot runs by result",
	}, []string{"result"})

	AnalyticsUserFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "uvbunny_analytics_user_failures_total",
		Help: "Per-user analytics aggregation failures",
	})

	httpDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "uvbunny_http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route", "status"})
)

// GinMiddleware 记录每个路由的请求耗时
func GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		httpDuration.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).
			Observe(time.Since(start).Seconds())
	}
}

// Handler 暴露 /metrics
func Handler() gin.HandlerFunc {
	return gin.WrapH(promhttp.Handler())
}
