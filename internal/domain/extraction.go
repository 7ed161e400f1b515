package domain

import (
	"strings"
	"time"
)

// SlotName names a piece of booking information the assistant needs.
type SlotName string

const (
	SlotService SlotName = "service"
	SlotDate    SlotName = "preferred_date"
	SlotTime    SlotName = "preferred_time"
)

// slotPriority is the fixed order in which missing slots are asked for.
var slotPriority = []SlotName{SlotService, SlotDate, SlotTime}

// ParseSlotName maps the names an analyzer may emit onto the canonical
// slot names. Unknown names are returned lowercased and trimmed.
func ParseSlotName(s string) SlotName {
	n := strings.ToLower(strings.TrimSpace(s))
	switch n {
	case "service", "servico", "serviço":
		return SlotService
	case "preferred_date", "date", "data":
		return SlotDate
	case "preferred_time", "time", "hora", "horario", "horário":
		return SlotTime
	}
	return SlotName(n)
}

// SlotSet is an ordered set of slot names. The zero value is empty.
type SlotSet struct {
	names []SlotName
}

// NewSlotSet builds a set from names, dropping duplicates and empty names.
func NewSlotSet(names ...SlotName) SlotSet {
	var s SlotSet
	for _, n := range names {
		s.Add(n)
	}
	return s
}

// Add inserts n if absent.
func (s *SlotSet) Add(n SlotName) {
	if n == "" || s.Has(n) {
		return
	}
	s.names = append(s.names, n)
}

// Remove deletes n if present.
func (s *SlotSet) Remove(n SlotName) {
	for i, v := range s.names {
		if v == n {
			s.names = append(s.names[:i:i], s.names[i+1:]...)
			return
		}
	}
}

// Has reports membership.
func (s SlotSet) Has(n SlotName) bool {
	for _, v := range s.names {
		if v == n {
			return true
		}
	}
	return false
}

// Len returns the number of names.
func (s SlotSet) Len() int { return len(s.names) }

// Empty reports whether the set has no names.
func (s SlotSet) Empty() bool { return len(s.names) == 0 }

// Names returns a copy of the names in insertion order.
func (s SlotSet) Names() []SlotName {
	out := make([]SlotName, len(s.names))
	copy(out, s.names)
	return out
}

// ExtractionResult is the structured interpretation of one inbound message.
// Nil fields are absent; the analyzer never returns a present-but-empty
// field. Confidence is in 1..100; zero is reserved for extraction failure
// and never appears in a returned result.
type ExtractionResult struct {
	Name          *string
	Service       *string
	PreferredDate *string // YYYY-MM-DD
	PreferredTime *string // HH:MM
	Missing       SlotSet
	Confidence    int
}

// Present reports whether the field backing slot n carries a value.
// Slots that are not backed by a field are never present.
func (r ExtractionResult) Present(n SlotName) bool {
	switch n {
	case SlotService:
		return r.Service != nil
	case SlotDate:
		return r.PreferredDate != nil
	case SlotTime:
		return r.PreferredTime != nil
	}
	return false
}

// NextMissing returns the slot to ask about: the first of service, date,
// time that is listed as missing and absent, otherwise "" with ok=true for a
// generic follow-up when other unknown slots are missing. ok is false when
// nothing is missing.
func (r ExtractionResult) NextMissing() (SlotName, bool) {
	if r.Missing.Empty() {
		return "", false
	}
	for _, n := range slotPriority {
		if r.Missing.Has(n) && !r.Present(n) {
			return n, true
		}
	}
	return "", true
}

// Complete reports whether the result carries everything needed to book.
func (r ExtractionResult) Complete() bool {
	_, missing := r.NextMissing()
	return !missing
}

// Str returns the value of an optional field or "".
func Str(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

// Slot is a candidate appointment window.
type Slot struct {
	Start time.Time
	End   time.Time
}

// String formats the slot start the way replies name it.
func (s Slot) String() string { return s.Start.Format("2006-01-02 15:04") }

// Criteria are the booking preferences handed to a calendar.
type Criteria struct {
	Service  string
	Date     string // YYYY-MM-DD
	Time     string // HH:MM, may be empty
	Duration time.Duration

	// SourceMessageID is the inbound message asking for the booking, 0 when
	// unknown.
	SourceMessageID uint
}
