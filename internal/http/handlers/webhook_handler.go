// Live-chat webhook handler.
//
//   - POST /livechat/webhook
//
// The platform redelivers on non-2xx, so every business outcome (duplicate,
// bot sender, nothing to answer, queue full) is a 200. Only structurally
// invalid payloads (400) and internal failures (500) are errors.
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/livechat-bridge/internal/domain"
	"github.com/tbourn/livechat-bridge/internal/http/middleware"
	"github.com/tbourn/livechat-bridge/internal/services"
	"github.com/tbourn/livechat-bridge/internal/validation"
)

// WebhookResponse acknowledges a webhook delivery.
type WebhookResponse struct {
	Success bool                 `json:"success" example:"true"`
	Message string               `json:"message" example:"message accepted for processing"`
	Skipped bool                 `json:"skipped,omitempty"`
	Reason  string               `json:"reason,omitempty" example:"deduplication"`
	Data    *services.IngestData `json:"data,omitempty"`
}

// LivechatWebhook godoc
// @ID          livechatWebhook
// @Summary     Receive a live-chat webhook delivery
// @Description Runs dedup and bot-loop gates on the latest message and queues a reply.
// @Description Never waits for the conversational agent.
// @Tags        Webhook
// @Accept      json
// @Produce     json
// @Param       X-RocketChat-Livechat-Token  header  string  false  "Shared webhook secret, when configured"
// @Param       body  body  domain.LivechatEvent  true  "Livechat event"
// @Success     200  {object}  handlers.WebhookResponse
// @Failure     400  {object}  handlers.ErrorResponse  "Invalid payload"
// @Failure     401  {object}  handlers.ErrorResponse  "Bad webhook secret"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /livechat/webhook [post]
func (h *Handlers) LivechatWebhook(c *gin.Context) {
	if h.bridge == nil {
		fail(c, http.StatusNotFound, ErrCodeNotFound, "webhook not enabled")
		return
	}

	var ev domain.LivechatEvent
	if err := c.ShouldBindJSON(&ev); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeInvalidPayload, "malformed JSON body")
		return
	}

	out, err := h.bridge.Ingest(c.Request.Context(), &ev)
	if err != nil {
		var verr *validation.Error
		switch {
		case errors.As(err, &verr):
			failFields(c, http.StatusBadRequest, ErrCodeInvalidPayload, "invalid webhook payload", verr.Fields)
		case errors.Is(err, validation.ErrInvalid):
			fail(c, http.StatusBadRequest, ErrCodeInvalidPayload, "invalid webhook payload")
		case errors.Is(err, services.ErrDedupUnavailable):
			fail(c, http.StatusInternalServerError, ErrCodeDedupUnavailable, "dedup backend unavailable")
		default:
			fail(c, http.StatusInternalServerError, ErrCodeInternal, "internal error")
		}
		return
	}

	lg := middleware.LoggerFrom(c)
	lg.Debug().
		Str("conversation_id", ev.ID).
		Str("outcome", out.Outcome).
		Msg("webhook processed")

	ok(c, http.StatusOK, WebhookResponse{
		Success: true,
		Message: out.Message,
		Skipped: out.Skipped,
		Reason:  out.Reason,
		Data:    out.Data,
	})
}
