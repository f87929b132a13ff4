package audit

import (
	"math"
	"strings"
	"unicode"

	"story-pipeline-backend/internal/models"
)

// Tokenize case-folds s and splits it on anything that is not a letter or
// digit. Duplicate tokens are dropped, first occurrence wins.
func Tokenize(s string) []string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	seen := make(map[string]bool, len(fields))
	out := fields[:0]
	for _, f := range fields {
		if !seen[f] {
			seen[f] = true
			out = append(out, f)
		}
	}
	return out
}

// Score counts target tokens present in the candidate's title, summary and
// source URL. The score is matched/len(target) times weight, capped at 1.
func Score(targetTokens []string, c models.AuditCandidate, weight float64) (int, float64) {
	haystack := make(map[string]bool)
	for _, text := range []string{c.Title, c.Summary, c.SourceURL} {
		for _, tok := range Tokenize(text) {
			haystack[tok] = true
		}
	}

	matched := 0
	for _, tok := range targetTokens {
		if haystack[tok] {
			matched++
		}
	}

	denom := len(targetTokens)
	if denom < 1 {
		denom = 1
	}
	score := float64(matched) / float64(denom) * weight
	if score > 1 {
		score = 1
	}
	return matched, math.Round(score*10000) / 10000
}
