package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// HealthResponse is the liveness probe body.
type HealthResponse struct {
	Status     string `json:"status" example:"ok"`
	QueueDepth int    `json:"queueDepth" example:"0"`
}

// Health godoc
// @ID          health
// @Summary     Liveness probe
// @Tags        Health
// @Produce     json
// @Success     200  {object}  handlers.HealthResponse
// @Router      /health [get]
func (h *Handlers) Health(c *gin.Context) {
	resp := HealthResponse{Status: "ok"}
	if h.queueSize != nil {
		resp.QueueDepth = h.queueSize()
	}
	ok(c, http.StatusOK, resp)
}
