// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file implements RedactingLogger, the access logger. It never logs
// bodies, masks credential and provider-signature headers, and scrubs phone
// numbers, e-mails and UUIDs out of the query string and remaining headers.
// For form-encoded webhooks it logs the sender with all but the last four
// digits hidden so a conversation can still be followed in the logs.
package middleware

import (
	"regexp"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// RedactOptions adds header names to the masked set. Matching ignores case.
type RedactOptions struct {
	MaskHeaders []string
}

var (
	uuidRE = regexp.MustCompile(`(?i)\b[0-9a-f]{8}\-[0-9a-f]{4}\-[1-5][0-9a-f]{3}\-[89ab][0-9a-f]{3}\-[0-9a-f]{12}\b`)
	// E.164 numbers as carried in whatsapp:+5511999990000 addresses.
	e164RE  = regexp.MustCompile(`\+\d{8,15}`)
	emailRE = regexp.MustCompile(`(?i)\b[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}\b`)
	phoneRE = regexp.MustCompile(`\b(?:\+?\d{1,3}[ .-]?)?(?:\(?\d{2,4}\)?[ .-]?)?\d{3,4}[ .-]?\d{4}\b`)

	defaultMasked = []string{
		"authorization",
		"cookie",
		"set-cookie",
		"x-twilio-signature",
		strings.ToLower(HeaderTwilioIdempotency),
	}
)

// redact scrubs identifiers from s. UUIDs go first so the loose phone
// pattern cannot eat their digit groups.
func redact(s string) string {
	if s == "" {
		return s
	}
	s = uuidRE.ReplaceAllString(s, "[REDACTED:id]")
	s = e164RE.ReplaceAllString(s, "[REDACTED:phone]")
	s = emailRE.ReplaceAllString(s, "[REDACTED:email]")
	return phoneRE.ReplaceAllString(s, "[REDACTED:phone]")
}

// maskSender keeps the channel prefix and the last four characters of a
// sender address: "whatsapp:+5511999990000" becomes "whatsapp:***0000".
func maskSender(addr string) string {
	prefix := ""
	if i := strings.LastIndex(addr, ":"); i >= 0 {
		prefix, addr = addr[:i+1], addr[i+1:]
	}
	if len(addr) <= 4 {
		return prefix + "***"
	}
	return prefix + "***" + addr[len(addr)-4:]
}

// RedactingLogger logs one line per request at info, warn (4xx) or
// error (5xx).
func RedactingLogger(opts RedactOptions) gin.HandlerFunc {
	masked := make(map[string]struct{}, len(defaultMasked)+len(opts.MaskHeaders))
	for _, h := range append(defaultMasked, opts.MaskHeaders...) {
		if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
			masked[h] = struct{}{}
		}
	}

	return func(c *gin.Context) {
		start := time.Now()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		query := redact(c.Request.URL.RawQuery)

		headers := make(map[string]string, len(c.Request.Header))
		for k, vv := range c.Request.Header {
			if _, ok := masked[strings.ToLower(k)]; ok {
				headers[k] = "[REDACTED]"
				continue
			}
			headers[k] = redact(strings.Join(vv, ", "))
		}

		c.Next()

		status := c.Writer.Status()
		rid := c.Writer.Header().Get(requestIDHeader)
		if rid == "" {
			rid = c.GetHeader(requestIDHeader)
		}

		ev := log.Info()
		switch {
		case status >= 500:
			ev = log.Error()
		case status >= 400:
			ev = log.Warn()
		}
		// Reads the form parsed by the handler; never parses it here.
		if c.Request.PostForm != nil {
			if from := c.Request.PostForm.Get("From"); from != "" {
				ev = ev.Str("from", maskSender(from))
			}
		}
		if len(c.Errors) > 0 {
			ev = ev.Str("errors", c.Errors.String())
		}
		ev.
			Str("request_id", rid).
			Str("method", c.Request.Method).
			Str("path", path).
			Str("query", query).
			Str("remote_ip", c.ClientIP()).
			Int("status", status).
			Int("bytes", c.Writer.Size()).
			Dur("latency", time.Since(start)).
			Interface("headers", headers).
			Msg("http_request")
	}
}
