package apperr

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Respond 按错误类别写出 {"error": "..."} 响应。
// 服务端错误不向客户端暴露细节，原始错误挂到 gin 上下文里供日志中间件记录。
func Respond(c *gin.Context, err error) {
	status := Status(err)
	_ = c.Error(err)
	if status >= http.StatusInternalServerError {
		c.AbortWithStatusJSON(status, gin.H{"error": "internal server error"})
		return
	}
	c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
}
