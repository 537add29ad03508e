package inject

import (
	"strings"

	"github.com/pearlgate/gateway/pkg/models"
)

// Vocabulary that softens an otherwise-triggered result, per spec §4.4.
// The development list never softens secret_extraction.
var (
	educationalVocab = []string{"for my class", "homework assignment", "studying for", "textbook example", "course material", "learning about prompt injection", "security research paper"}
	gamingVocab       = []string{"roleplay game", "dungeons and dragons", "tabletop rpg", "character sheet", "in this story", "fictional scenario", "for my novel"}
	devVocab          = []string{"unit test", "test fixture", "writing a linter", "ast parser", "code review", "pull request", "sample payload", "fuzzing harness"}
)

// applyFalsePositiveFilters softens severity/confidence when the message
// contains educational, gaming, or development vocabulary, except for
// secret_extraction threats which are never softened.
func applyFalsePositiveFilters(message string, threats []models.ThreatMatch, severity models.Severity, confidence float64) (models.Severity, float64) {
	if hasSecretExtraction(threats) {
		return severity, confidence
	}

	lower := strings.ToLower(message)
	multiplier := 1.0
	softened := false

	if containsAny(lower, educationalVocab) {
		multiplier = minFloat(multiplier, 0.3)
		softened = true
	}
	if containsAny(lower, gamingVocab) {
		multiplier = minFloat(multiplier, 0.5)
		softened = true
	}
	if containsAny(lower, devVocab) {
		multiplier = minFloat(multiplier, 0.7)
		softened = true
	}

	if !softened {
		return severity, confidence
	}

	confidence *= multiplier
	if multiplier <= 0.3 {
		severity = capSeverity(severity, models.SeverityNone)
	} else {
		severity = capSeverity(severity, models.SeverityLow)
	}
	return severity, confidence
}

func hasSecretExtraction(threats []models.ThreatMatch) bool {
	for _, t := range threats {
		if t.Category == "secret_extraction" {
			return true
		}
	}
	return false
}

func containsAny(haystack string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(haystack, n) {
			return true
		}
	}
	return false
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

// capSeverity returns the lesser of severity and cap.
func capSeverity(severity, cap models.Severity) models.Severity {
	if severityRank(severity) > severityRank(cap) {
		return cap
	}
	return severity
}
