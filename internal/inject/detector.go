// Package inject implements the InjectionDetector (C4): regex, heuristic,
// and optional LLM screening strategies composed into a single verdict,
// with per-user rate limiting and an emergency bypass path.
package inject

import (
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/pearlgate/gateway/internal/ratelimit"
	"github.com/pearlgate/gateway/pkg/models"
)

// BypassToken is a live emergency-bypass credential, config-loaded.
type BypassToken struct {
	Token        string
	ValidUntil   time.Time
	MaxUses      int
	AllowedUsers []string // empty means any user
}

// SecurityContext carries the per-request signals the detector consults
// beyond the message text itself.
type SecurityContext struct {
	UserID          string
	IsAdmin         bool
	RiskScore       float64
	SessionHistory  []bool // true = message in this session was previously flagged suspicious
	EmergencyBypass string
}

// Config configures a Detector.
type Config struct {
	RegexEnabled     bool
	HeuristicEnabled bool
	LLMEnabled       bool
	ActionMap        map[models.Severity]models.DetectionAction
	BanConfig        ratelimit.BanConfig
	BypassTokens     []BypassToken

	// LLMStrategy, when LLMEnabled, is consulted last. It is a narrow seam
	// (not core) so the pipeline can be deployed without a judge model.
	LLMStrategy func(message string) (models.ThreatMatch, bool, error)
}

// DefaultActionMap is the config default from spec §4.4.
func DefaultActionMap() map[models.Severity]models.DetectionAction {
	return map[models.Severity]models.DetectionAction{
		models.SeverityNone:     models.ActionAllow,
		models.SeverityLow:      models.ActionFlag,
		models.SeverityMedium:   models.ActionFlag,
		models.SeverityHigh:     models.ActionBlock,
		models.SeverityCritical: models.ActionBlock,
	}
}

// Detector evaluates messages for prompt-injection threats. Safe for
// concurrent use.
type Detector struct {
	config      Config
	rateLimiter *ratelimit.BanLimiter

	bypassMu   sync.Mutex
	bypassUses map[string]int
}

// NewDetector builds a Detector from config.
func NewDetector(config Config) *Detector {
	if config.ActionMap == nil {
		config.ActionMap = DefaultActionMap()
	}
	return &Detector{
		config:      config,
		rateLimiter: ratelimit.NewBanLimiter(config.BanConfig),
		bypassUses:  make(map[string]int),
	}
}

// Analyze runs all enabled strategies against message and composes a
// DetectionResult, applying rate limiting, context escalation, and
// false-positive softening per spec §4.4.
func (d *Detector) Analyze(message string, sec SecurityContext, now time.Time) models.DetectionResult {
	if bypass := d.checkBypass(sec, now); bypass != nil {
		return *bypass
	}

	if sec.UserID != "" {
		state := d.rateLimiter.RecordAttempt(sec.UserID, now)
		if state.IsBanned(now) {
			return models.DetectionResult{
				Severity:   models.SeverityCritical,
				Action:     models.ActionBlock,
				Threats:    []models.ThreatMatch{{Category: "rate_limit", Confidence: 1.0, Severity: models.SeverityCritical}},
				Confidence: 1.0,
				Reasoning:  "user is rate-limit banned for repeated injection attempts",
			}
		}
	}

	var threats []models.ThreatMatch
	if d.config.RegexEnabled {
		threats = append(threats, regexStrategy(message)...)
	}
	if d.config.HeuristicEnabled {
		threats = append(threats, heuristicStrategy(message)...)
	}
	if d.config.LLMEnabled && d.config.LLMStrategy != nil {
		if t, ok, err := d.config.LLMStrategy(message); err == nil && ok {
			threats = append(threats, t)
		}
	}

	severity, confidence := combineThreats(threats)
	reasoning := ""
	if len(threats) > 0 {
		reasoning = "matched threat categories: " + joinCategories(threats)
	}

	var factors []string
	severity, factors = escalate(severity, sec, factors)

	severity, confidence = applyFalsePositiveFilters(message, threats, severity, confidence)

	action := d.config.ActionMap[severity]
	if action == "" {
		action = models.ActionAllow
	}

	return models.DetectionResult{
		Severity:       severity,
		Action:         action,
		Threats:        threats,
		Confidence:     confidence,
		Reasoning:      reasoning,
		ContextFactors: factors,
	}
}

func (d *Detector) checkBypass(sec SecurityContext, now time.Time) *models.DetectionResult {
	if sec.EmergencyBypass == "" {
		return nil
	}
	d.bypassMu.Lock()
	defer d.bypassMu.Unlock()
	for _, bt := range d.config.BypassTokens {
		if bt.Token != sec.EmergencyBypass {
			continue
		}
		if now.After(bt.ValidUntil) {
			continue
		}
		if len(bt.AllowedUsers) > 0 && !containsString(bt.AllowedUsers, sec.UserID) {
			continue
		}
		if d.bypassUses[bt.Token] >= bt.MaxUses {
			continue
		}
		d.bypassUses[bt.Token]++
		return &models.DetectionResult{
			Severity:  models.SeverityMedium,
			Action:    models.ActionAllow,
			Reasoning: "emergency bypass token used",
		}
	}
	return nil
}

func containsString(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func joinCategories(threats []models.ThreatMatch) string {
	seen := make(map[string]bool)
	var parts []string
	for _, t := range threats {
		if seen[t.Category] {
			continue
		}
		seen[t.Category] = true
		parts = append(parts, t.Category)
	}
	return strings.Join(parts, ", ")
}

// combineThreats takes the maximum severity and maximum confidence across
// all matched threats, per spec §4.4's strategy-composition rule.
func combineThreats(threats []models.ThreatMatch) (models.Severity, float64) {
	severity := models.SeverityNone
	confidence := 0.0
	for _, t := range threats {
		if severityRank(t.Severity) > severityRank(severity) {
			severity = t.Severity
		}
		if t.Confidence > confidence {
			confidence = t.Confidence
		}
	}
	return severity, confidence
}

func severityRank(s models.Severity) int {
	switch s {
	case models.SeverityLow:
		return 1
	case models.SeverityMedium:
		return 2
	case models.SeverityHigh:
		return 3
	case models.SeverityCritical:
		return 4
	default:
		return 0
	}
}

func stepUp(s models.Severity) models.Severity {
	switch s {
	case models.SeverityNone:
		return models.SeverityLow
	case models.SeverityLow:
		return models.SeverityMedium
	case models.SeverityMedium:
		return models.SeverityHigh
	default:
		return models.SeverityCritical
	}
}

// escalate applies the three context-escalation rules from spec §4.4. Only
// one step is applied per rule, in the order admin, risk score, multi-turn.
func escalate(severity models.Severity, sec SecurityContext, factors []string) (models.Severity, []string) {
	if sec.IsAdmin && severity != models.SeverityNone {
		severity = stepUp(severity)
		factors = append(factors, "admin_injection_attempt")
	}
	if sec.RiskScore > 0.7 {
		severity = stepUp(severity)
		factors = append(factors, "high_risk_user")
	}
	if suspiciousInLast(sec.SessionHistory, 5) >= 2 && sec.RiskScore > 0.5 {
		severity = stepUp(severity)
		factors = append(factors, "multi_turn_escalation")
	}
	return severity, factors
}

func suspiciousInLast(history []bool, n int) int {
	start := len(history) - n
	if start < 0 {
		start = 0
	}
	count := 0
	for _, flagged := range history[start:] {
		if flagged {
			count++
		}
	}
	return count
}

// regexStrategy matches the message against the ten category patterns,
// scoring confidence per spec §4.4.
func regexStrategy(message string) []models.ThreatMatch {
	trimmed := strings.TrimSpace(message)
	if trimmed == "" {
		return nil
	}
	var out []models.ThreatMatch
	for _, p := range patternTable {
		loc := p.re.FindStringIndex(trimmed)
		if loc == nil {
			continue
		}
		matchLen := loc[1] - loc[0]
		confidence := 0.7
		if matchLen == len(trimmed) {
			confidence += 0.2
		}
		if p.severity == models.SeverityCritical {
			confidence += 0.15
		}
		if matchLen < 10 && len(trimmed) > 100 {
			confidence -= 0.1
		}
		if confidence > 1.0 {
			confidence = 1.0
		}
		if confidence < 0 {
			confidence = 0
		}
		out = append(out, models.ThreatMatch{
			Category:   p.category,
			Pattern:    p.re.String(),
			Confidence: confidence,
			Severity:   p.severity,
		})
	}
	return out
}

// heuristicStrategy computes the four normalized scores from spec §4.4 and
// emits a threat per triggered heuristic.
func heuristicStrategy(message string) []models.ThreatMatch {
	trimmed := strings.TrimSpace(message)
	if trimmed == "" {
		return nil
	}

	var matches []models.ThreatMatch

	if rep := repetitionScore(trimmed); rep > 0.6 {
		matches = append(matches, models.ThreatMatch{Category: "repetition", Confidence: rep, Severity: severityFromHeuristics(rep, 1)})
	}
	if caps := capsScore(trimmed); caps > 0.7 {
		matches = append(matches, models.ThreatMatch{Category: "caps_abuse", Confidence: caps, Severity: severityFromHeuristics(caps, 1)})
	}
	if homo := homoglyphScore(trimmed); homo > 0.5 {
		matches = append(matches, models.ThreatMatch{Category: "homoglyph", Confidence: homo, Severity: severityFromHeuristics(homo, 1)})
	}
	if enc, decoded := encodingScore(trimmed); enc > 0.6 {
		matches = append(matches, models.ThreatMatch{Category: "encoding_smuggling", Confidence: enc, Severity: severityFromHeuristics(enc, 1)})
		if decoded != "" {
			matches = append(matches, regexStrategy(decoded)...)
		}
	}

	total := len(matches)
	maxConf := 0.0
	for _, m := range matches {
		if m.Confidence > maxConf {
			maxConf = m.Confidence
		}
	}
	overallSeverity := severityFromHeuristics(maxConf, total)
	for i := range matches {
		matches[i].Severity = overallSeverity
	}
	return matches
}

// severityFromHeuristics maps a heuristic's (confidence, threatCount) pair
// to a severity bucket per spec §4.4.
func severityFromHeuristics(confidence float64, threatCount int) models.Severity {
	switch {
	case confidence > 0.8 || threatCount >= 3:
		return models.SeverityHigh
	case confidence > 0.6 || threatCount >= 2:
		return models.SeverityMedium
	case confidence > 0.3 || threatCount >= 1:
		return models.SeverityLow
	default:
		return models.SeverityNone
	}
}

func repetitionScore(s string) float64 {
	words := strings.Fields(strings.ToLower(s))
	if len(words) < 4 {
		return 0
	}
	counts := make(map[string]int, len(words))
	for _, w := range words {
		counts[w]++
	}
	repeated := 0
	for _, c := range counts {
		if c > 1 {
			repeated += c
		}
	}
	return float64(repeated) / float64(len(words))
}

func capsScore(s string) float64 {
	letters, upper, exclamations := 0, 0, 0
	for _, r := range s {
		if unicode.IsLetter(r) {
			letters++
			if unicode.IsUpper(r) {
				upper++
			}
		}
		if r == '!' {
			exclamations++
		}
	}
	if letters == 0 {
		return 0
	}
	ratio := float64(upper) / float64(letters)
	bonus := float64(exclamations) / 5.0
	if bonus > 0.3 {
		bonus = 0.3
	}
	return ratio + bonus
}

func homoglyphScore(s string) float64 {
	if len(s) == 0 {
		return 0
	}
	lookalikes := 0
	total := 0
	for _, r := range s {
		if !unicode.IsLetter(r) {
			continue
		}
		total++
		if isHomoglyph(r) {
			lookalikes++
		}
	}
	if total == 0 {
		return 0
	}
	return float64(lookalikes) / float64(total)
}

// isHomoglyph reports whether r is a Cyrillic, Greek, or fullwidth Latin
// look-alike of a basic-Latin letter.
func isHomoglyph(r rune) bool {
	switch {
	case r >= 0x0400 && r <= 0x04FF: // Cyrillic
		return true
	case r >= 0x0370 && r <= 0x03FF: // Greek
		return true
	case r >= 0xFF21 && r <= 0xFF5A: // Fullwidth Latin
		return true
	default:
		return false
	}
}

const minBase64RunLength = 32

func encodingScore(s string) (float64, string) {
	score := 0.0

	if run := longestBase64Run(s); len(run) >= minBase64RunLength {
		score += 0.5
		if decoded := tryBase64Decode(run); decoded != "" {
			return score + 0.2, decoded
		}
	}

	urlEncoded := strings.Count(s, "%2")
	if density := float64(urlEncoded) / float64(max(len(s), 1)); density > 0.02 {
		score += 0.3
	}

	entities := strings.Count(s, "&#")
	if density := float64(entities) / float64(max(len(s), 1)); density > 0.02 {
		score += 0.2
	}

	if score > 1.0 {
		score = 1.0
	}
	return score, ""
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
