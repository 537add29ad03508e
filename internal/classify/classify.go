// Package classify derives a structured Classification from the latest user
// message in a chat request. Classification is pure and never calls out; it
// is the first stage of the request pipeline.
package classify

import (
	"math"
	"regexp"
	"strings"

	"github.com/pearlgate/gateway/pkg/models"
)

var (
	ssnRegex  = regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`)
	cardRegex = regexp.MustCompile(`\b\d{4}[\s-]?\d{4}[\s-]?\d{4}[\s-]?\d{4}\b`)

	sensitiveKeywords = []string{"api_key", "token", "secret", "credential", "password"}
	healthKeywords    = []string{"diagnosis", "prescription", "medication", "symptom", "medical", "doctor", "patient"}

	codeKeywords     = []string{"func", "class", "def ", "package ", "import ", "select ", "insert ", "update ", "delete ", "```", "compile", "stack trace", "function", "variable", "algorithm", "code"}
	creativeKeywords = []string{"write a story", "poem", "screenplay", "lyrics", "fiction", "imagine a world", "write a song", "creative writing"}
	analysisKeywords = []string{"analyze", "compare", "evaluate", "pros and cons", "tradeoff", "why", "explain the difference", "assess"}
	greetingRegex    = regexp.MustCompile(`(?i)^\s*(hi|hello|hey|good morning|good afternoon|good evening|thanks|thank you)\b`)

	technicalTermRegex = regexp.MustCompile(`(?i)\b(api|database|algorithm|kubernetes|async|thread|mutex|race condition|regex|latency|throughput|concurrency)\b`)
	advancedTermRegex  = regexp.MustCompile(`(?i)\b(distributed system|race condition|byzantine|consensus protocol|zero[- ]knowledge|formal verification)\b`)
	complexityWordRegex = regexp.MustCompile(`(?i)\b(complex|complicated|advanced|in[- ]depth|thorough|comprehensive)\b`)
)

// Classify derives a Classification from the latest user message in
// messages. It never inspects anything but message content.
func Classify(messages []models.Message) models.Classification {
	content := lastUserContent(messages)
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return models.Classification{
			Complexity:      models.ComplexityLow,
			Type:            models.TypeGeneral,
			Sensitive:       false,
			EstimatedTokens: 0,
			RequiresTools:   false,
		}
	}

	sensitive := isSensitive(trimmed)
	reqType := classifyType(trimmed)
	complexity := classifyComplexity(trimmed, reqType)
	estimated := estimateTokens(trimmed, complexity)

	return models.Classification{
		Complexity:      complexity,
		Type:            reqType,
		Sensitive:       sensitive,
		EstimatedTokens: estimated,
		RequiresTools:   false,
	}
}

func lastUserContent(messages []models.Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == models.RoleUser {
			return messages[i].Content
		}
	}
	return ""
}

func isSensitive(content string) bool {
	if ssnRegex.MatchString(content) || cardRegex.MatchString(content) {
		return true
	}
	lower := strings.ToLower(content)
	for _, kw := range sensitiveKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	for _, kw := range healthKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// classifyType checks keyword sets in order code, creative, analysis, then
// greeting patterns, falling back to general.
func classifyType(content string) models.RequestType {
	lower := strings.ToLower(content)

	if hits := countHits(lower, codeKeywords); hits > 0 {
		return models.TypeCode
	}
	if hits := countHits(lower, creativeKeywords); hits > 0 {
		return models.TypeCreative
	}
	if hits := countHits(lower, analysisKeywords); hits > 0 {
		return models.TypeAnalysis
	}
	if greetingRegex.MatchString(content) {
		return models.TypeChat
	}
	return models.TypeGeneral
}

func countHits(lower string, keywords []string) int {
	hits := 0
	for _, kw := range keywords {
		if strings.Contains(lower, kw) {
			hits++
		}
	}
	return hits
}

func classifyComplexity(content string, reqType models.RequestType) models.Complexity {
	words := strings.Fields(content)
	wordCount := len(words)
	length := len(content)
	technicalHits := len(technicalTermRegex.FindAllString(content, -1))

	var level models.Complexity
	switch {
	case length < 50 && technicalHits == 0:
		level = models.ComplexityLow
	case length > 300 || wordCount > 60 || technicalHits >= 2:
		level = models.ComplexityHigh
	default:
		level = models.ComplexityMedium
	}

	if level == models.ComplexityLow && (reqType == models.TypeCode || reqType == models.TypeCreative || reqType == models.TypeAnalysis) {
		level = models.ComplexityMedium
	}

	if complexityWordRegex.MatchString(content) {
		level = bumpComplexity(level)
	}

	if advancedTermRegex.MatchString(content) {
		level = models.ComplexityHigh
	}

	return level
}

func bumpComplexity(level models.Complexity) models.Complexity {
	switch level {
	case models.ComplexityLow:
		return models.ComplexityMedium
	case models.ComplexityMedium:
		return models.ComplexityHigh
	default:
		return level
	}
}

func estimateTokens(content string, complexity models.Complexity) int {
	words := len(strings.Fields(content))
	byLength := int(math.Ceil(float64(len(content)) / 3.5))
	byWords := int(math.Ceil(float64(words) * 1.5))
	estimate := byLength
	if byWords > estimate {
		estimate = byWords
	}
	if complexity == models.ComplexityHigh && estimate < 501 {
		estimate = 501
	}
	return estimate
}
