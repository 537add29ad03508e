// Package filter implements the ResponseFilter (C8): regex-based redaction
// of credential-shaped and PII-shaped text in streamed response chunks.
package filter

import "regexp"

// replacement tags substituted for matched spans.
const (
	tagCredential = "[REDACTED]"
	tagBase64     = "[REDACTED_BASE64]"
	tagPII        = "[REDACTED_PII]"
)

// pattern pairs a compiled regex with the replacement tag emitted for each
// match, mirroring the detector's tagged-pattern-table idiom.
type pattern struct {
	re          *regexp.Regexp
	replacement string
}

// defaultPatterns covers the credential and PII shapes named in the
// response-filter contract: provider API keys, embedded-credential URLs,
// key=value secret pairs, long base64 runs, SSNs, and card numbers.
func defaultPatterns() []pattern {
	return []pattern{
		{regexp.MustCompile(`sk-[A-Za-z0-9]{20,}`), tagCredential},
		{regexp.MustCompile(`AKIA[0-9A-Z]{16}`), tagCredential},
		{regexp.MustCompile(`ya29\.[A-Za-z0-9_-]{20,}`), tagCredential},
		{regexp.MustCompile(`xox[bprs]-[A-Za-z0-9-]{10,}`), tagCredential},
		{regexp.MustCompile(`ghp_[A-Za-z0-9]{30,}`), tagCredential},
		{regexp.MustCompile(`(?i)[a-z][a-z0-9+.-]*://[^\s/@]+:[^\s/@]+@`), tagCredential},
		{regexp.MustCompile(`(?i)\b(password|secret|token|key)\s*=\s*\S+`), tagCredential},
		{regexp.MustCompile(`\b[A-Za-z0-9+/]{40,}={0,2}\b`), tagBase64},
		{regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`), tagPII},
		{regexp.MustCompile(`\b\d{4}[\s-]?\d{4}[\s-]?\d{4}[\s-]?\d{4}\b`), tagPII},
	}
}

// Config lets callers extend or override the default pattern set without
// touching the code that applies it.
type Config struct {
	// Extra is appended after the built-in patterns, evaluated in order.
	Extra []ConfigPattern
}

// ConfigPattern is a user-supplied regex/replacement pair.
type ConfigPattern struct {
	Pattern     string
	Replacement string
}

// compile turns a Config into the internal pattern slice, built-ins first.
func compile(cfg Config) ([]pattern, error) {
	patterns := defaultPatterns()
	for _, c := range cfg.Extra {
		re, err := regexp.Compile(c.Pattern)
		if err != nil {
			return nil, err
		}
		replacement := c.Replacement
		if replacement == "" {
			replacement = tagCredential
		}
		patterns = append(patterns, pattern{re: re, replacement: replacement})
	}
	return patterns, nil
}

// Filter rewrites streamed text, substituting every configured pattern match
// with its replacement tag. A Filter instance is scoped to a single request:
// it carries a small trailing-text buffer across successive chunks so a
// credential split across a chunk boundary is still caught, but never
// persists anything across requests.
type Filter struct {
	patterns []pattern
	carry    string
	maxCarry int
}

// New builds a Filter from cfg. An empty Config uses only the built-in
// pattern table.
func New(cfg Config) (*Filter, error) {
	patterns, err := compile(cfg)
	if err != nil {
		return nil, err
	}
	return &Filter{patterns: patterns, maxCarry: longestPatternReach(patterns)}, nil
}

// longestPatternReach bounds how much trailing text is worth carrying into
// the next chunk: long enough to reassemble the longest fixed-length
// patterns (API key prefixes, base64 runs), capped so the carry buffer never
// grows unbounded against a pathological pattern.
func longestPatternReach(patterns []pattern) int {
	const reach = 128
	return reach
}

// Apply redacts content, returning the rewritten text to emit now. Any
// trailing substring that might be the prefix of a match spanning into the
// next call is held back internally and prefixed onto the next Apply call.
func (f *Filter) Apply(content string) string {
	combined := f.carry + content
	f.carry = ""

	if len(combined) > f.maxCarry {
		holdback := f.maxCarry
		safe := combined[:len(combined)-holdback]
		tail := combined[len(combined)-holdback:]
		return f.redact(safe) + f.holdTail(tail)
	}
	return f.holdTail(combined)
}

// holdTail stashes the given text as carry and returns nothing; used when
// there isn't enough buffered text yet to safely redact and flush.
func (f *Filter) holdTail(tail string) string {
	f.carry = tail
	return ""
}

func (f *Filter) redact(s string) string {
	for _, p := range f.patterns {
		s = p.re.ReplaceAllString(s, p.replacement)
	}
	return s
}

// Flush redacts and returns any buffered tail at the end of a request (e.g.
// on the terminal chunk), since there is no further chunk to merge with.
func (f *Filter) Flush() string {
	if f.carry == "" {
		return ""
	}
	out := f.redact(f.carry)
	f.carry = ""
	return out
}
