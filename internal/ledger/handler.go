package ledger

import (
	"net/http"

	"github.com/SlpAus/uvbunny-backend/internal/platform/apperr"
	"github.com/SlpAus/uvbunny-backend/internal/user"
	"github.com/gin-gonic/gin"
)

// GiveCarrotsRequest 是 POST /api/bunnies/:id/carrots 的请求体。
// Carrots 以浮点数接收，非整数由服务层拒绝。
type GiveCarrotsRequest struct {
	Carrots *float64 `json:"carrots" binding:"required"`
	Notes   string   `json:"notes"`
}

// Handler 暴露兔子下的事件接口
type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) Register(rg *gin.RouterGroup) {
	rg.POST("/bunnies/:id/carrots", h.GiveCarrots)
	rg.GET("/bunnies/:id/events", h.ListEvents)
	rg.DELETE("/bunnies/:id/events/:eventId", h.DeleteEvent)
}

// GiveCarrots 处理 POST /api/bunnies/:id/carrots。计数异步更新，所以返回202。
func (h *Handler) GiveCarrots(c *gin.Context) {
	var req GiveCarrotsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "carrots is required"})
		return
	}
	ev, err := h.svc.GiveCarrots(c.Request.Context(), user.IDFromContext(c), c.Param("id"), *req.Carrots, req.Notes, SourceUI)
	if err != nil {
		apperr.Respond(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"eventId": ev.ID})
}

// ListEvents 处理 GET /api/bunnies/:id/events?cursor=
func (h *Handler) ListEvents(c *gin.Context) {
	page, err := h.svc.ListEvents(c.Request.Context(), user.IDFromContext(c), c.Param("id"), c.Query("cursor"))
	if err != nil {
		apperr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

// DeleteEvent 处理 DELETE /api/bunnies/:id/events/:eventId
func (h *Handler) DeleteEvent(c *gin.Context) {
	err := h.svc.DeleteEvent(c.Request.Context(), user.IDFromContext(c), c.Param("id"), c.Param("eventId"))
	if err != nil {
		apperr.Respond(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
