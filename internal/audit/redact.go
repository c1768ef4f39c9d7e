package audit

import (
	"math"
	"regexp"
	"strings"
)

// RedactionToken replaces every matched secret span. Non-matched content is
// preserved byte for byte.
const RedactionToken = "[REDACTED]"

// RedactRule is one compiled secret detector. A rule only fires if its
// keyword gate passes (when present), its designated capture group matches,
// the captured text clears the entropy floor (when set), and nothing on the
// allowlists suppresses the match.
type RedactRule struct {
	// ID is stable across releases and shows up in nothing user-visible;
	// it exists for tests and for rule-set configuration.
	ID string
	// Pattern matches candidate spans.
	Pattern *regexp.Regexp
	// Group selects the capture group holding the secret. 0 means the
	// whole match.
	Group int
	// MinEntropy is a Shannon-entropy floor in bits per byte for the
	// captured text. 0 disables the check.
	MinEntropy float64
	// Keywords gate the rule: it only runs if the lowercased input
	// contains at least one. Empty means always run.
	Keywords []string
	// AllowSubstrings suppress a match when the captured text contains
	// any of them (case-insensitive).
	AllowSubstrings []string
	// AllowPatterns suppress a match when the captured text matches.
	AllowPatterns []*regexp.Regexp
}

// DefaultRules returns the built-in rule set. The set is compiled once at
// startup and shared; rules are immutable after construction.
func DefaultRules() []RedactRule {
	return []RedactRule{
		{
			ID:      "pem-private-key",
			Pattern: regexp.MustCompile(`-----BEGIN [A-Z0-9 ]*PRIVATE KEY-----[\s\S]*?-----END [A-Z0-9 ]*PRIVATE KEY-----`),
		},
		{
			ID:      "aws-access-key-id",
			Pattern: regexp.MustCompile(`\b(?:A3T[A-Z0-9]|AKIA|ASIA|ABIA|ACCA)[A-Z0-9]{16}\b`),
		},
		{
			ID:      "jwt",
			Pattern: regexp.MustCompile(`\beyJ[A-Za-z0-9_-]{6,}\.[A-Za-z0-9_-]{6,}\.[A-Za-z0-9_-]{6,}\b`),
		},
		{
			ID:      "password-in-url",
			Pattern: regexp.MustCompile(`[a-zA-Z][a-zA-Z0-9+.-]*://[^/\s:@]+:([^@/\s]{3,})@`),
			Group:   1,
		},
		{
			ID:       "bearer-token",
			Pattern:  regexp.MustCompile(`(?i)\b(?:bearer|token)[ =:]+([A-Za-z0-9_~+/.=-]{16,})`),
			Group:    1,
			Keywords: []string{"bearer", "token"},
			AllowSubstrings: []string{
				"not-a-secret",
				"placeholder",
				"changeme",
			},
		},
		{
			ID:         "high-entropy-hex",
			Pattern:    regexp.MustCompile(`\b[0-9a-fA-F]{32,}\b`),
			MinEntropy: 3.0,
			AllowPatterns: []*regexp.Regexp{
				// Repeated filler like deadbeefdeadbeef... clears the
				// length bar but not this.
				regexp.MustCompile(`^(?:(?:deadbeef)+|(?:cafebabe)+|0+|f+|F+)$`),
			},
		},
		{
			ID:         "high-entropy-base64",
			Pattern:    regexp.MustCompile(`\b[A-Za-z0-9+/_-]{24,}={0,2}`),
			MinEntropy: 4.0,
			Keywords:   []string{"secret", "token", "key", "password", "credential", "authorization"},
		},
	}
}

// shannonEntropy returns bits per byte of s.
func shannonEntropy(s string) float64 {
	if s == "" {
		return 0
	}
	var freq [256]int
	for i := 0; i < len(s); i++ {
		freq[s[i]]++
	}
	total := float64(len(s))
	entropy := 0.0
	for _, c := range freq {
		if c == 0 {
			continue
		}
		p := float64(c) / total
		entropy -= p * math.Log2(p)
	}
	return entropy
}

func (r *RedactRule) allowed(candidate string) bool {
	lower := strings.ToLower(candidate)
	for _, s := range r.AllowSubstrings {
		if strings.Contains(lower, strings.ToLower(s)) {
			return true
		}
	}
	for _, p := range r.AllowPatterns {
		if p.MatchString(candidate) {
			return true
		}
	}
	return false
}

// Redactor scans text for secret-shaped substrings and replaces them with
// RedactionToken. It is safe for concurrent use.
type Redactor struct {
	rules []RedactRule
}

// NewRedactor builds a redactor from the given rules. Nil means
// DefaultRules.
func NewRedactor(rules []RedactRule) *Redactor {
	if rules == nil {
		rules = DefaultRules()
	}
	return &Redactor{rules: rules}
}

// RedactText applies every rule to s and returns the scrubbed result.
func (r *Redactor) RedactText(s string) string {
	if s == "" {
		return s
	}
	for i := range r.rules {
		s = r.rules[i].apply(s)
	}
	return s
}

type span struct{ start, end int }

func (r *RedactRule) apply(s string) string {
	if len(r.Keywords) > 0 {
		lower := strings.ToLower(s)
		gated := false
		for _, kw := range r.Keywords {
			if strings.Contains(lower, kw) {
				gated = true
				break
			}
		}
		if !gated {
			return s
		}
	}

	matches := r.Pattern.FindAllStringSubmatchIndex(s, -1)
	if matches == nil {
		return s
	}

	var spans []span
	for _, m := range matches {
		gi := 2 * r.Group
		if gi+1 >= len(m) || m[gi] < 0 {
			continue
		}
		start, end := m[gi], m[gi+1]
		candidate := s[start:end]
		if r.MinEntropy > 0 && shannonEntropy(candidate) < r.MinEntropy {
			continue
		}
		if r.allowed(candidate) {
			continue
		}
		spans = append(spans, span{start, end})
	}
	if spans == nil {
		return s
	}

	var b strings.Builder
	prev := 0
	for _, sp := range spans {
		if sp.start < prev {
			continue
		}
		b.WriteString(s[prev:sp.start])
		b.WriteString(RedactionToken)
		prev = sp.end
	}
	b.WriteString(s[prev:])
	return b.String()
}

// Redact scrubs every text-valued field of the enriched event, including
// nested attribute values and the strings the enricher joined on. The input
// is not mutated; shared structure is copied before rewriting.
func (r *Redactor) Redact(e EnrichedEvent) EnrichedEvent {
	out := e
	base := e.Base

	base.Message = r.RedactText(base.Message)
	base.UserAgent = r.RedactText(base.UserAgent)
	if base.Target != nil {
		t := *base.Target
		t.DisplayName = r.RedactText(t.DisplayName)
		base.Target = &t
	}
	if base.Attributes != nil {
		base.Attributes = r.redactMap(base.Attributes)
	}
	out.Base = base

	if e.Session != nil {
		s := *e.Session
		s.DeviceLabel = r.RedactText(s.DeviceLabel)
		if s.Geo != nil {
			g := *s.Geo
			g.City = r.RedactText(g.City)
			g.Country = r.RedactText(g.Country)
			s.Geo = &g
		}
		out.Session = &s
	}
	if e.Org != nil {
		o := *e.Org
		o.OrgSlug = r.RedactText(o.OrgSlug)
		out.Org = &o
	}
	return out
}

func (r *Redactor) redactMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = r.redactValue(v)
	}
	return out
}

func (r *Redactor) redactValue(v any) any {
	switch val := v.(type) {
	case string:
		return r.RedactText(val)
	case map[string]any:
		return r.redactMap(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = r.redactValue(item)
		}
		return out
	default:
		return v
	}
}
