// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file verifies the X-Twilio-Signature header on inbound webhooks: the
// base64 HMAC-SHA1, keyed by the account auth token, of the public request
// URL followed by every POST parameter name and value in name order.
package middleware

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/gin-gonic/gin"
)

// HeaderTwilioSignature carries the provider's request signature.
const HeaderTwilioSignature = "X-Twilio-Signature"

// TwilioSignature rejects webhooks whose signature does not match. The URL
// is rebuilt from publicBaseURL, since behind a proxy the request host and
// scheme differ from what the provider called. An empty authToken disables
// the check.
func TwilioSignature(authToken, publicBaseURL string) gin.HandlerFunc {
	base := strings.TrimRight(publicBaseURL, "/")
	return func(c *gin.Context) {
		if authToken == "" {
			c.Next()
			return
		}
		sig := c.GetHeader(HeaderTwilioSignature)
		if sig == "" {
			abortForbidden(c, "missing signature")
			return
		}
		if err := c.Request.ParseForm(); err != nil {
			abortForbidden(c, "unreadable form")
			return
		}
		u := base + c.Request.URL.RequestURI()
		want := SignTwilio(authToken, u, c.Request.PostForm)
		if !hmac.Equal([]byte(want), []byte(sig)) {
			LoggerFrom(c).Warn().Str("path", c.Request.URL.Path).Msg("webhook signature mismatch")
			abortForbidden(c, "invalid signature")
			return
		}
		c.Next()
	}
}

// SignTwilio computes the signature the provider sends for a POST to u with
// the given form parameters.
func SignTwilio(authToken, u string, form url.Values) string {
	keys := make([]string, 0, len(form))
	for k := range form {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(u)
	for _, k := range keys {
		vals := append([]string(nil), form[k]...)
		sort.Strings(vals)
		for _, v := range vals {
			b.WriteString(k)
			b.WriteString(v)
		}
	}

	mac := hmac.New(sha1.New, []byte(authToken))
	mac.Write([]byte(b.String()))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func abortForbidden(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
		"request_id": c.Writer.Header().Get(requestIDHeader),
		"code":       "forbidden",
		"message":    msg,
	})
}
