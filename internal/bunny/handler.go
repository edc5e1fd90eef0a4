package bunny

import (
	"io"
	"net/http"

	"github.com/SlpAus/uvbunny-backend/internal/live"
	"github.com/SlpAus/uvbunny-backend/internal/platform/apperr"
	"github.com/SlpAus/uvbunny-backend/internal/user"
	"github.com/gin-gonic/gin"
)

// CreateRequest 是 POST /api/bunnies 的请求体
type CreateRequest struct {
	Name  string `json:"name" binding:"required"`
	Color string `json:"color" binding:"omitempty,bunnycolor"`
}

// Handler 暴露 /api/bunnies 下的兔子接口
type Handler struct {
	svc *Service
	hub *live.Hub[Overview]
}

// NewHandler 要求 bunnycolor 规则已可用，注册失败时 panic
func NewHandler(svc *Service, hub *live.Hub[Overview]) *Handler {
	if err := RegisterValidators(); err != nil {
		panic(err)
	}
	return &Handler{svc: svc, hub: hub}
}

func (h *Handler) Register(rg *gin.RouterGroup) {
	rg.GET("/bunnies", h.ListBunnies)
	rg.POST("/bunnies", h.CreateBunny)
	rg.GET("/bunnies/stream", h.StreamBunnies)
	rg.GET("/bunnies/:id", h.GetBunny)
	rg.DELETE("/bunnies/:id", h.DeleteBunny)
}

// ListBunnies 处理 GET /api/bunnies
func (h *Handler) ListBunnies(c *gin.Context) {
	overview, err := h.svc.ListWithHappiness(c.Request.Context(), user.IDFromContext(c))
	if err != nil {
		apperr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, overview)
}

// CreateBunny 处理 POST /api/bunnies
func (h *Handler) CreateBunny(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "name is required and color must be one of the palette"})
		return
	}
	b, err := h.svc.Create(c.Request.Context(), user.IDFromContext(c), req.Name, req.Color)
	if err != nil {
		apperr.Respond(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": b.ID})
}

// GetBunny 处理 GET /api/bunnies/:id
func (h *Handler) GetBunny(c *gin.Context) {
	v, err := h.svc.GetWithHappiness(c.Request.Context(), user.IDFromContext(c), c.Param("id"))
	if err != nil {
		apperr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, v)
}

// DeleteBunny 处理 DELETE /api/bunnies/:id
func (h *Handler) DeleteBunny(c *gin.Context) {
	if err := h.svc.Delete(c.Request.Context(), user.IDFromContext(c), c.Param("id")); err != nil {
		apperr.Respond(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// StreamBunnies 处理 GET /api/bunnies/stream，以SSE推送实时的兔子列表
func (h *Handler) StreamBunnies(c *gin.Context) {
	ctx := c.Request.Context()
	snapshots, err := h.hub.Subscribe(ctx, user.IDFromContext(c))
	if err != nil {
		apperr.Respond(c, err)
		return
	}

	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")
	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case snap, ok := <-snapshots:
			if !ok {
				return false
			}
			c.SSEvent("bunnies", snap)
			return true
		}
	})
}
