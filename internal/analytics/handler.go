package analytics

import (
	"net/http"

	"github.com/SlpAus/uvbunny-backend/internal/platform/apperr"
	"github.com/SlpAus/uvbunny-backend/internal/user"
	"github.com/gin-gonic/gin"
)

type Handler struct {
	svc *Snapshotter
}

func NewHandler(svc *Snapshotter) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) Register(rg *gin.RouterGroup) {
	rg.GET("/stats", h.GetStats)
}

// GetStats 处理 GET /api/stats
func (h *Handler) GetStats(c *gin.Context) {
	stats, err := h.svc.GetStats(c.Request.Context(), user.IDFromContext(c))
	if err != nil {
		apperr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}
