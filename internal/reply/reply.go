// Package reply composes the user-facing texts the assistant sends. Compose
// is pure and deterministic: the same intent and data always yield the same
// text.
package reply

import (
	"fmt"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/tbourn/go-atendente/internal/domain"
)

// Intent is the closed set of reply kinds.
type Intent int

const (
	IntentDefault Intent = iota
	IntentAskSlot
	IntentConfirm
	IntentError
	IntentNoAvailability
)

// AllIntents lists every defined intent.
func AllIntents() []Intent {
	return []Intent{IntentDefault, IntentAskSlot, IntentConfirm, IntentError, IntentNoAvailability}
}

func (i Intent) String() string {
	switch i {
	case IntentDefault:
		return "default"
	case IntentAskSlot:
		return "ask_slot"
	case IntentConfirm:
		return "confirm"
	case IntentError:
		return "error"
	case IntentNoAvailability:
		return "no_availability"
	}
	return fmt.Sprintf("intent(%d)", int(i))
}

// Data carries what an intent needs. Unused fields are ignored.
type Data struct {
	Slot    domain.SlotName // IntentAskSlot; empty asks generically
	Service string          // IntentConfirm
	When    domain.Slot     // IntentConfirm
}

const (
	TextAskService     = "Qual serviço você gostaria de agendar? 😊"
	TextAskDate        = "Qual data você prefere? 📅"
	TextAskTime        = "Que horário é melhor para você? ⏰"
	TextAskGeneric     = "Só preciso de mais um detalhe. Qual informação está faltando?"
	TextNoAvailability = "Infelizmente não temos horários disponíveis para essa data. Podemos tentar outro dia? 📅"
	TextError          = "Desculpe, houve um erro ao processar sua solicitação. Por favor, tente novamente. 🙏"
	TextDefault        = "Obrigado pelo contato! 🚀"
)

type rule func(Data) string

var rules = map[Intent]rule{
	IntentDefault:        func(Data) string { return TextDefault },
	IntentAskSlot:        askSlot,
	IntentConfirm:        confirm,
	IntentError:          func(Data) string { return TextError },
	IntentNoAvailability: func(Data) string { return TextNoAvailability },
}

var askTexts = map[domain.SlotName]string{
	domain.SlotService: TextAskService,
	domain.SlotDate:    TextAskDate,
	domain.SlotTime:    TextAskTime,
}

func askSlot(d Data) string {
	if t, ok := askTexts[d.Slot]; ok {
		return t
	}
	return TextAskGeneric
}

func confirm(d Data) string {
	svc := strings.TrimSpace(d.Service)
	if svc == "" {
		return fmt.Sprintf("Perfeito! Seu agendamento está marcado para %s. Confirmado! ✅", d.When)
	}
	svc = cases.Title(language.BrazilianPortuguese).String(svc)
	return fmt.Sprintf("Perfeito! Seu agendamento de %s está marcado para %s. Confirmado! ✅", svc, d.When)
}

// Compose returns the text for intent. Unknown intents get the default text.
func Compose(intent Intent, d Data) string {
	r, ok := rules[intent]
	if !ok {
		return TextDefault
	}
	return r(d)
}
