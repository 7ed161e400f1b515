package extraction

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/go-atendente/internal/domain"
)

const systemPrompt = `Você é um assistente de agendamento de um salão. Extraia da conversa do cliente:
- name: nome do cliente, se mencionado
- service: serviço desejado (ex: corte, manicure, coloração)
- preferred_date: data desejada no formato YYYY-MM-DD
- preferred_time: horário desejado no formato HH:MM (24h)
- missing_slots: lista com os campos que faltam entre "service", "preferred_date" e "preferred_time"
- confidence: confiança de 0 a 100

Hoje é %s (%s). Converta datas relativas ("amanhã", "sexta") para datas absolutas.
Responda SOMENTE com JSON válido, sem texto extra, usando null para campos ausentes.`

var weekdaysPT = [...]string{"domingo", "segunda-feira", "terça-feira", "quarta-feira", "quinta-feira", "sexta-feira", "sábado"}

// LLMAnalyzer extracts booking intent with a chat model.
type LLMAnalyzer struct {
	Completer Completer
	Timeout   time.Duration
	Location  *time.Location
	Now       func() time.Time
}

// NewLLMAnalyzer returns an analyzer using c with the given per-call timeout
// and business time zone (for resolving relative dates).
func NewLLMAnalyzer(c Completer, timeout time.Duration, loc *time.Location) *LLMAnalyzer {
	if loc == nil {
		loc = time.UTC
	}
	return &LLMAnalyzer{Completer: c, Timeout: timeout, Location: loc, Now: time.Now}
}

// Analyze implements Analyzer.
func (a *LLMAnalyzer) Analyze(ctx context.Context, req Request) (domain.ExtractionResult, error) {
	tr := otel.Tracer("extraction/LLMAnalyzer")
	ctx, span := tr.Start(ctx, "Analyze", trace.WithAttributes(
		attribute.Int("history.len", len(req.History)),
	))
	defer span.End()

	if a.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.Timeout)
		defer cancel()
	}

	raw, err := a.Completer.Complete(ctx, a.system(), userPrompt(req))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "upstream")
		if errors.Is(err, errNoChoices) {
			return domain.ExtractionResult{}, malformed(err)
		}
		return domain.ExtractionResult{}, unavailable(err)
	}

	res, err := Parse(raw)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "malformed")
		return domain.ExtractionResult{}, err
	}
	span.SetAttributes(
		attribute.Int("confidence", res.Confidence),
		attribute.Int("missing.len", res.Missing.Len()),
	)
	return res, nil
}

func (a *LLMAnalyzer) system() string {
	now := time.Now
	if a.Now != nil {
		now = a.Now
	}
	loc := a.Location
	if loc == nil {
		loc = time.UTC
	}
	today := now().In(loc)
	return fmt.Sprintf(systemPrompt, today.Format("2006-01-02"), weekdaysPT[today.Weekday()])
}

func userPrompt(req Request) string {
	if len(req.History) == 0 {
		return strings.TrimSpace(req.Text)
	}
	var b strings.Builder
	b.WriteString("Mensagens anteriores do cliente:\n")
	for _, h := range req.History {
		b.WriteString("- ")
		b.WriteString(strings.TrimSpace(h))
		b.WriteByte('\n')
	}
	b.WriteString("\nMensagem atual:\n")
	b.WriteString(strings.TrimSpace(req.Text))
	return b.String()
}
