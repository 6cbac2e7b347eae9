package interview

import (
	"strings"
	"unicode"
)

// keyword extraction stop list; deliberately small, precision is not the
// point here. The anchor keeps all substantive words from the original
// framing, including solution-level ones.
var stopWords = map[string]struct{}{
	"the": {}, "and": {}, "for": {}, "with": {}, "that": {}, "this": {},
	"have": {}, "from": {}, "want": {}, "would": {}, "could": {}, "should": {},
	"about": {}, "into": {}, "need": {}, "our": {}, "are": {}, "was": {},
	"its": {}, "they": {}, "them": {}, "there": {}, "been": {}, "more": {},
	"some": {}, "when": {}, "what": {}, "how": {}, "why": {}, "can": {},
}

// ExtractKeywords splits free text into lowercase keyword tokens, dropping
// stop words and tokens shorter than two runes
func ExtractKeywords(text string) []string {
	fields := strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	seen := make(map[string]struct{}, len(fields))
	keywords := make([]string, 0, len(fields))
	for _, f := range fields {
		w := strings.ToLower(f)
		if len([]rune(w)) < 2 {
			continue
		}
		if _, ok := stopWords[w]; ok {
			continue
		}
		if _, ok := seen[w]; ok {
			continue
		}
		seen[w] = struct{}{}
		keywords = append(keywords, w)
	}
	return keywords
}
