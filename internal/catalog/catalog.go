// Package catalog holds the services a business offers and how long each one
// takes. It resolves the free-form service label an analyzer extracted
// ("corte de cabelo", "Manicure") to a canonical catalog entry.
//
// The catalog is immutable after construction and safe for concurrent use.
// Matching is accent- and case-insensitive: labels are folded with
// golang.org/x/text before comparison, then scored by Jaccard similarity of
// their word sets: score = |Q ∩ S| / |Q ∪ S|.
package catalog

import (
	"bytes"
	"io"
	"os"
	"regexp"
	"sort"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Service is one bookable offering.
type Service struct {
	Name     string
	Duration time.Duration
}

// ----------------------------------------------------------------------------
// Options

type Option func(*config)

type config struct {
	defaultDuration time.Duration
	minScore        float64
}

func defaultConfig() config {
	return config{
		defaultDuration: 30 * time.Minute,
		minScore:        0.34,
	}
}

// WithDefaultDuration sets the duration used for labels that match nothing.
func WithDefaultDuration(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.defaultDuration = d
		}
	}
}

// WithMinScore sets the similarity a fuzzy match must reach (0..1].
func WithMinScore(s float64) Option {
	return func(c *config) {
		if s > 0 && s <= 1 {
			c.minScore = s
		}
	}
}

// ----------------------------------------------------------------------------
// Implementation

type entry struct {
	svc    Service
	key    string
	tokens map[string]struct{}
}

// Catalog resolves labels to services.
type Catalog struct {
	cfg     config
	entries []entry
}

// New builds a catalog from services. Entries with an empty name are
// skipped; a later duplicate (after folding) replaces an earlier one.
func New(services []Service, opts ...Option) *Catalog {
	cfg := defaultConfig()
	for _, o := range opts {
		o(&cfg)
	}
	c := &Catalog{cfg: cfg}
	pos := map[string]int{}
	for _, s := range services {
		name := strings.TrimSpace(s.Name)
		if name == "" {
			continue
		}
		if s.Duration <= 0 {
			s.Duration = cfg.defaultDuration
		}
		s.Name = name
		e := entry{svc: s, key: Fold(name), tokens: tokenize(name)}
		if i, ok := pos[e.key]; ok {
			c.entries[i] = e
			continue
		}
		pos[e.key] = len(c.entries)
		c.entries = append(c.entries, e)
	}
	return c
}

// Load reads a catalog file. An empty path yields an empty catalog where
// every label resolves to itself with the default duration.
func Load(path string, opts ...Option) (*Catalog, error) {
	if strings.TrimSpace(path) == "" {
		return New(nil, opts...), nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return New(nil, opts...), err
	}
	return Parse(bytes.NewReader(b), opts...)
}

// Parse reads services from markdown. Accepted shapes, one service per line:
//
//	| corte | 30 |
//	corte: 30
//	- manicure: 45min
//
// Table separator rows and header rows (no duration) are ignored.
func Parse(r io.Reader, opts ...Option) (*Catalog, error) {
	all, err := io.ReadAll(r)
	if err != nil {
		return New(nil, opts...), err
	}
	var svcs []Service
	for _, raw := range strings.Split(string(all), "\n") {
		if s, ok := parseLine(raw); ok {
			svcs = append(svcs, s)
		}
	}
	return New(svcs, opts...), nil
}

// Services returns the catalog entries in file order.
func (c *Catalog) Services() []Service {
	out := make([]Service, len(c.entries))
	for i, e := range c.entries {
		out[i] = e.svc
	}
	return out
}

// DefaultDuration is the duration given to unknown services.
func (c *Catalog) DefaultDuration() time.Duration { return c.cfg.defaultDuration }

// Resolve maps label onto a catalog service. An exact folded match wins,
// then the best fuzzy match at or above the minimum score (ties go to the
// earlier entry). Unknown labels come back trimmed, with the default
// duration, and ok=false.
func (c *Catalog) Resolve(label string) (Service, bool) {
	label = strings.TrimSpace(label)
	unknown := Service{Name: label, Duration: c.cfg.defaultDuration}
	if label == "" || len(c.entries) == 0 {
		return unknown, false
	}
	key := Fold(label)
	for _, e := range c.entries {
		if e.key == key {
			return e.svc, true
		}
	}

	q := tokenize(label)
	if len(q) == 0 {
		return unknown, false
	}
	type scored struct {
		idx   int
		score float64
	}
	var buf []scored
	for i, e := range c.entries {
		over := overlap(q, e.tokens)
		if over == 0 {
			continue
		}
		score := float64(over) / float64(len(q)+len(e.tokens)-over)
		if score >= c.cfg.minScore {
			buf = append(buf, scored{idx: i, score: score})
		}
	}
	if len(buf) == 0 {
		return unknown, false
	}
	sort.SliceStable(buf, func(a, b int) bool { return buf[a].score > buf[b].score })
	return c.entries[buf[0].idx].svc, true
}

// ----------------------------------------------------------------------------
// Helpers

var foldChain = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Fold lowercases s, strips diacritics, and collapses whitespace, so
// "Serviço  Médio" and "servico medio" compare equal.
func Fold(s string) string {
	out, _, err := transform.String(foldChain, s)
	if err != nil {
		out = s
	}
	return strings.Join(strings.Fields(strings.ToLower(out)), " ")
}

var wordRE = regexp.MustCompile(`\p{L}+\p{N}*`)

// stopwords are Portuguese connectives that carry no service meaning.
var stopwords = map[string]struct{}{
	"de": {}, "do": {}, "da": {}, "dos": {}, "das": {}, "e": {}, "com": {}, "para": {}, "um": {}, "uma": {}, "o": {}, "a": {},
}

func tokenize(s string) map[string]struct{} {
	words := wordRE.FindAllString(Fold(s), -1)
	if len(words) == 0 {
		return nil
	}
	out := make(map[string]struct{}, len(words))
	for _, w := range words {
		if _, skip := stopwords[w]; skip {
			continue
		}
		out[w] = struct{}{}
	}
	return out
}

func overlap(a, b map[string]struct{}) int {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	n := 0
	if len(a) > len(b) {
		a, b = b, a
	}
	for k := range a {
		if _, ok := b[k]; ok {
			n++
		}
	}
	return n
}
