package settings

import (
	"net/http"

	"github.com/SlpAus/uvbunny-backend/internal/platform/apperr"
	"github.com/SlpAus/uvbunny-backend/internal/user"
	"github.com/gin-gonic/gin"
)

// Handler 暴露 /api/config
type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) Register(rg *gin.RouterGroup) {
	rg.GET("/config", h.GetConfig)
	rg.PATCH("/config", h.UpdateConfig)
}

// GetConfig 处理 GET /api/config
func (h *Handler) GetConfig(c *gin.Context) {
	cfg, err := h.svc.Get(c.Request.Context(), user.IDFromContext(c))
	if err != nil {
		apperr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, cfg)
}

// UpdateConfig 处理 PATCH /api/config
func (h *Handler) UpdateConfig(c *gin.Context) {
	var patch Patch
	if err := c.ShouldBindJSON(&patch); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	cfg, err := h.svc.Update(c.Request.Context(), user.IDFromContext(c), patch)
	if err != nil {
		apperr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, cfg)
}
