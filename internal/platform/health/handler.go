package health

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// Liveness 处理 /healthz，只说明进程还活着
func Liveness(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"service": "UVbunny",
		"ok":      true,
		"time":    time.Now().UTC().Format(time.RFC3339),
	})
}

// Readiness 处理 /readyz，任一依赖不可用时返回503
func (s *Status) Readiness(c *gin.Context) {
	redisState := s.RedisState()
	db := "ok"
	if !s.IsDBHealthy() {
		db = "unreachable"
	}
	code := http.StatusOK
	if !s.IsHealthy() {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{
		"ok":       code == http.StatusOK,
		"redis":    redisState.String(),
		"database": db,
	})
}
