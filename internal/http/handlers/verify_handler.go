// Human-verification handler.
//
//   - POST /chat/verify
//
// The body always has the verification shape so the widget can read
// `canRetry` and `message` whatever the status code.
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/livechat-bridge/internal/domain"
	"github.com/tbourn/livechat-bridge/internal/http/middleware"
	"github.com/tbourn/livechat-bridge/internal/services"
)

// VerifyChat godoc
// @ID          verifyChat
// @Summary     Verify a human-verification token
// @Description Checks a challenge token for the given browser session. Used for the
// @Description initial verification and for background refreshes (refreshAttempt=true).
// @Tags        Verification
// @Accept      json
// @Produce     json
// @Param       body  body  domain.VerifyRequest  true  "Token and session"
// @Success     200  {object}  domain.VerifyResult  "Verified"
// @Failure     400  {object}  domain.VerifyResult  "Rejected or malformed"
// @Failure     429  {object}  handlers.ErrorResponse  "Rate limited"
// @Failure     500  {object}  domain.VerifyResult  "Verification not configured"
// @Failure     503  {object}  domain.VerifyResult  "Challenge service unreachable"
// @Router      /chat/verify [post]
func (h *Handlers) VerifyChat(c *gin.Context) {
	if h.verifier == nil {
		fail(c, http.StatusNotFound, ErrCodeNotFound, "verification not enabled")
		return
	}

	var req domain.VerifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, badVerifyRequest("malformed JSON body"))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, badVerifyRequest("token and sessionId are required"))
		return
	}

	res, err := h.verifier.Verify(c.Request.Context(), req, c.ClientIP())
	status := http.StatusOK
	switch {
	case err == nil:
	case errors.Is(err, services.ErrVerificationFailed):
		status = http.StatusBadRequest
	case errors.Is(err, services.ErrVerifierUnavailable):
		status = http.StatusServiceUnavailable
	default:
		status = http.StatusInternalServerError
	}

	if status >= http.StatusInternalServerError {
		lg := middleware.LoggerFrom(c)
		lg.Error().Err(err).Int("status", status).Msg("verification error")
	}
	ok(c, status, res)
}

func badVerifyRequest(msg string) domain.VerifyResult {
	retry := false
	return domain.VerifyResult{
		Success:    false,
		ErrorCodes: []string{"bad-request"},
		CanRetry:   &retry,
		Message:    msg,
	}
}
