package user

import (
	"github.com/SlpAus/uvbunny-backend/internal/platform/apperr"
	"github.com/gin-gonic/gin"
)

// UserIDKey 是当前用户ID在Gin上下文中的键
const UserIDKey = "userID"

// RequireUser 解析身份并登记用户；没有有效身份的请求直接以401结束。
func RequireUser(identity IdentityProvider, registry *Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, err := identity.UserID(c.Request)
		if err != nil {
			apperr.Respond(c, err)
			return
		}
		if _, err := registry.EnsureUser(c.Request.Context(), userID); err != nil {
			apperr.Respond(c, err)
			return
		}
		c.Set(UserIDKey, userID)
		c.Next()
	}
}

// IDFromContext 返回 RequireUser 放入上下文的用户ID
func IDFromContext(c *gin.Context) string {
	return c.GetString(UserIDKey)
}
