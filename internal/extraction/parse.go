package extraction

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/tbourn/go-atendente/internal/domain"
)

type payload struct {
	Name          *string         `json:"name"`
	Service       *string         `json:"service"`
	PreferredDate *string         `json:"preferred_date"`
	PreferredTime *string         `json:"preferred_time"`
	MissingSlots  []string        `json:"missing_slots"`
	Confidence    json.RawMessage `json:"confidence"`
}

var required = []domain.SlotName{domain.SlotService, domain.SlotDate, domain.SlotTime}

// Parse interprets a model answer. It accepts bare JSON or JSON wrapped in a
// markdown fence or surrounding prose. Invalid dates and times are dropped
// (and so become missing). A missing, non-numeric, or non-positive confidence
// is malformed.
func Parse(raw string) (domain.ExtractionResult, error) {
	body, ok := jsonObject(raw)
	if !ok {
		return domain.ExtractionResult{}, malformed(errors.New("no JSON object in response"))
	}
	var p payload
	if err := json.Unmarshal([]byte(body), &p); err != nil {
		return domain.ExtractionResult{}, malformed(err)
	}

	conf, err := confidence(p.Confidence)
	if err != nil {
		return domain.ExtractionResult{}, malformed(err)
	}
	if conf <= 0 {
		return domain.ExtractionResult{}, malformed(errors.New("zero confidence"))
	}

	res := domain.ExtractionResult{
		Name:          clean(p.Name),
		Service:       clean(p.Service),
		PreferredDate: normalizeDate(clean(p.PreferredDate)),
		PreferredTime: normalizeTime(clean(p.PreferredTime)),
		Confidence:    conf,
	}
	for _, n := range p.MissingSlots {
		res.Missing.Add(domain.ParseSlotName(n))
	}
	for _, n := range required {
		if !res.Present(n) {
			res.Missing.Add(n)
		}
	}
	for _, n := range required {
		if res.Present(n) {
			res.Missing.Remove(n)
		}
	}
	return res, nil
}

// jsonObject returns the outermost {...} span of s.
func jsonObject(s string) (string, bool) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	i := strings.Index(s, "{")
	j := strings.LastIndex(s, "}")
	if i < 0 || j <= i {
		return "", false
	}
	return s[i : j+1], true
}

func confidence(raw json.RawMessage) (int, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return 0, errors.New("confidence missing")
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, fmt.Errorf("confidence: %w", err)
		}
		s = strings.TrimSuffix(strings.TrimSpace(s), "%")
		f, err = strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, fmt.Errorf("confidence: %w", err)
		}
	}
	// Some models answer on a 0..1 scale; a whole 1 is still a percentage.
	if f > 0 && f < 1 {
		f *= 100
	}
	c := int(math.Round(f))
	if c > 100 {
		c = 100
	}
	return c, nil
}

func clean(p *string) *string {
	if p == nil {
		return nil
	}
	s := strings.TrimSpace(*p)
	if s == "" || strings.EqualFold(s, "null") || strings.EqualFold(s, "none") {
		return nil
	}
	return &s
}

var dateLayouts = []string{"2006-01-02", "02/01/2006", "2/1/2006", "02-01-2006"}

func normalizeDate(p *string) *string {
	if p == nil {
		return nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, *p); err == nil {
			s := t.Format("2006-01-02")
			return &s
		}
	}
	return nil
}

var timeRE = regexp.MustCompile(`^(\d{1,2})\s*(?:[:h]\s*(\d{2})?)?\s*(?:h|hs|hrs)?$`)

func normalizeTime(p *string) *string {
	if p == nil {
		return nil
	}
	m := timeRE.FindStringSubmatch(strings.ToLower(*p))
	if m == nil {
		return nil
	}
	h, _ := strconv.Atoi(m[1])
	mm := 0
	if m[2] != "" {
		mm, _ = strconv.Atoi(m[2])
	}
	if h > 23 || mm > 59 {
		return nil
	}
	s := fmt.Sprintf("%02d:%02d", h, mm)
	return &s
}
