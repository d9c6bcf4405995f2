package store

import (
	"regexp"
	"strings"
)

// wordPattern extracts word tokens (letters, digits, underscore).
var wordPattern = regexp.MustCompile(`\w+`)

// Tokenize lowercases text, extracts word tokens, and drops stopwords and
// single-character tokens. Deterministic and pure; queries and chunk content
// go through the same rules.
func Tokenize(text string) []string {
	words := wordPattern.FindAllString(strings.ToLower(text), -1)

	tokens := make([]string, 0, len(words))
	for _, w := range words {
		if len(w) <= 1 {
			continue
		}
		if _, stop := stopwords[w]; stop {
			continue
		}
		tokens = append(tokens, w)
	}
	return tokens
}
