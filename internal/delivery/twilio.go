package delivery

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const defaultTwilioBaseURL = "https://api.twilio.com"

// TwilioConfig configures the Twilio Messages API client.
type TwilioConfig struct {
	BaseURL      string
	AccountSID   string
	AuthToken    string
	From         string // WhatsApp-enabled number, with or without the whatsapp: prefix
	Timeout      time.Duration
	RetryCount   int
	RetryWait    time.Duration
	RetryMaxWait time.Duration
}

// TwilioSender sends WhatsApp messages through the Twilio REST API. Transient
// failures (transport errors, 429, 5xx) are retried inside the adapter.
type TwilioSender struct {
	http *resty.Client
	sid  string
	from string
}

type twilioMessage struct {
	SID    string `json:"sid"`
	Status string `json:"status"`
}

type twilioError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"status"`
}

// NewTwilioSender builds a sender from cfg.
func NewTwilioSender(cfg TwilioConfig) *TwilioSender {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = defaultTwilioBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	client := resty.New().
		SetBaseURL(base).
		SetBasicAuth(cfg.AccountSID, cfg.AuthToken).
		SetHeader("User-Agent", "go-atendente/1.0").
		SetTimeout(timeout).
		SetRetryCount(cfg.RetryCount).
		SetRetryWaitTime(cfg.RetryWait).
		SetRetryMaxWaitTime(cfg.RetryMaxWait).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() == http.StatusTooManyRequests || r.StatusCode() >= 500
		})
	return &TwilioSender{http: client, sid: cfg.AccountSID, from: whatsapp(cfg.From)}
}

func whatsapp(addr string) string {
	addr = strings.TrimSpace(addr)
	if addr == "" || strings.HasPrefix(addr, "whatsapp:") {
		return addr
	}
	return "whatsapp:" + addr
}

// Send implements Sender.
func (s *TwilioSender) Send(ctx context.Context, to, text string) error {
	ctx, span := otel.Tracer("delivery/TwilioSender").Start(ctx, "Send",
		trace.WithAttributes(attribute.Int("body.len", len(text))))
	defer span.End()

	var ok twilioMessage
	var fail twilioError
	resp, err := s.http.R().
		SetContext(ctx).
		SetPathParam("sid", s.sid).
		SetFormData(map[string]string{
			"From": s.from,
			"To":   whatsapp(to),
			"Body": text,
		}).
		SetResult(&ok).
		SetError(&fail).
		Post("/2010-04-01/Accounts/{sid}/Messages.json")
	if err != nil {
		span.RecordError(err)
		return &Error{Err: err}
	}
	if resp.IsError() {
		e := &Error{Status: resp.StatusCode(), Code: fail.Code, Message: fail.Message}
		if e.Message == "" {
			e.Message = http.StatusText(resp.StatusCode())
		}
		span.RecordError(e)
		return e
	}
	span.SetAttributes(attribute.String("message.sid", ok.SID))
	return nil
}
