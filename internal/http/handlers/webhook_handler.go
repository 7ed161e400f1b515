package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-atendente/internal/http/middleware"
	"github.com/tbourn/go-atendente/internal/services"
)

// emptyTwiML acknowledges a webhook without sending a synchronous reply; the
// answer goes out through the REST API once the pipeline has run.
const emptyTwiML = `<?xml version="1.0" encoding="UTF-8"?><Response></Response>`

// ReceiveWhatsApp godoc
// @ID          receiveWhatsApp
// @Summary     Inbound WhatsApp webhook
// @Description Stores an inbound message and schedules the assistant's reply. Redeliveries of the same MessageSid or I-Twilio-Idempotency-Token are acknowledged without a second job.
// @Tags        Webhook
// @Accept      x-www-form-urlencoded
// @Produce     xml
//
// @Param       From                        formData  string  true   "Sender address"  example(whatsapp:+5511999990000)
// @Param       Body                        formData  string  false  "Message text"
// @Param       MessageSid                  formData  string  true   "Provider message id"
// @Param       X-Twilio-Signature          header    string  false  "Request signature"
// @Param       I-Twilio-Idempotency-Token  header    string  false  "Redelivery token"
//
// @Success     200  {string}  string  "Empty TwiML"
// @Failure     400  {object}  handlers.ErrorResponse  "Missing sender"
// @Failure     403  {object}  handlers.ErrorResponse  "Invalid signature"
// @Failure     413  {object}  handlers.ErrorResponse  "Body too long"
// @Failure     500  {object}  handlers.ErrorResponse  "Store or queue unavailable; the provider retries"
// @Router      /webhook/whatsapp [post]
func (h *Handlers) ReceiveWhatsApp(c *gin.Context) {
	in := services.Inbound{
		From:       c.PostForm("From"),
		Body:       c.PostForm("Body"),
		ProviderID: firstNonBlank(c.PostForm("MessageSid"), c.PostForm("SmsMessageSid")),
	}
	if key, ok := middleware.GetIdempotencyKey(c); ok {
		in.IdempotencyKey = key
	}

	lg := middleware.LoggerFrom(c)
	res, err := h.ingest.Receive(c.Request.Context(), in)
	switch {
	case err == nil:
		ev := lg.Info().
			Uint("conversation_id", res.Conversation.ID).
			Uint("message_id", res.Message.ID).
			Bool("duplicate", res.Duplicate)
		if res.Job != nil {
			ev = ev.Str("job_id", res.Job.ID)
		}
		ev.Msg("inbound message accepted")
	case errors.Is(err, services.ErrEmptyBody):
		// Media-only and status callbacks carry no text.
		lg.Debug().Str("message_sid", in.ProviderID).Msg("ignoring inbound without text")
	case errors.Is(err, services.ErrMissingSender):
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "From is required")
		return
	case errors.Is(err, services.ErrTooLong):
		fail(c, http.StatusRequestEntityTooLarge, ErrCodeTooLarge, "message body too long")
		return
	default:
		fail(c, http.StatusInternalServerError, ErrCodeIngestFailed, err.Error())
		return
	}

	c.Data(http.StatusOK, "text/xml; charset=utf-8", []byte(emptyTwiML))
}

func firstNonBlank(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
