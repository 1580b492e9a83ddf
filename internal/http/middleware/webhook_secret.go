package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
)

// HeaderLivechatToken carries the shared secret configured on the chat
// platform's webhook integration.
const HeaderLivechatToken = "X-RocketChat-Livechat-Token"

// WebhookSecret rejects requests whose X-RocketChat-Livechat-Token does not
// match secret, comparing in constant time. An empty secret disables the check.
func WebhookSecret(secret string) gin.HandlerFunc {
	want := []byte(secret)
	return func(c *gin.Context) {
		if len(want) == 0 {
			c.Next()
			return
		}
		got := []byte(c.GetHeader(HeaderLivechatToken))
		if subtle.ConstantTimeCompare(got, want) != 1 {
			LoggerFrom(c).Warn().Str("remote_ip", c.ClientIP()).Msg("webhook secret mismatch")
			abortJSON(c, http.StatusUnauthorized, "unauthorized", "invalid webhook token")
			return
		}
		c.Next()
	}
}
