package interview

import (
	"strings"

	"github.com/m-mizutani/kiku/pkg/model"
)

// Deterministic lexical checks over a topic verdict. No model call; the
// flags are telemetry attached to the turn, never hard blockers.

var positiveTerms = []string{
	"clear", "solid", "well established", "thorough", "comprehensive",
	"strong", "good understanding", "sufficient", "detailed",
}

var deficiencyTerms = []string{
	"missing", "unclear", "vague", "lacks", "lacking", "insufficient",
	"no concrete", "not specific", "unquantified", "unknown", "thin",
	"needs", "absent", "ambiguous",
}

var bannedAdvicePhrases = []string{
	"try to be more specific",
	"please elaborate",
	"add more detail",
	"think about it more",
	"consider all aspects",
	"provide more information",
	"dig deeper",
}

var imperativeOpeners = []string{
	"describe ", "explain ", "list ", "provide ", "write ", "tell me",
	"you should", "try ", "consider ", "please ",
}

var proceduralMarkers = []string{
	"updated the", "recorded the", "moved to", "set the status",
	"saved the", "noted the", "marked as",
}

var analysisMarkers = []string{
	"because", "suggests", "indicates", "implies", "which means",
	"points to", "the user", "this shows", "evidence",
}

func containsAny(s string, terms []string) string {
	lower := strings.ToLower(s)
	for _, t := range terms {
		if strings.Contains(lower, t) {
			return t
		}
	}
	return ""
}

// lexicalCheck runs all deterministic checks against one topic update
func lexicalCheck(u *model.TopicUpdate) []model.LexicalViolation {
	if u == nil {
		return nil
	}
	var out []model.LexicalViolation

	// A thin verdict whose rationale praises the evidence without naming
	// any deficiency contradicts itself.
	if u.Status == model.TopicThin {
		if pos := containsAny(u.Rationale, positiveTerms); pos != "" {
			if containsAny(u.Rationale, deficiencyTerms) == "" {
				out = append(out, model.LexicalViolation{
					Topic:  u.Key,
					Flag:   model.FlagSelfContradiction,
					Field:  "rationale",
					Detail: "thin verdict with positive-only rationale (" + pos + ")",
				})
			}
		}
	}

	if phrase := containsAny(u.Advice, bannedAdvicePhrases); phrase != "" {
		out = append(out, model.LexicalViolation{
			Topic:  u.Key,
			Flag:   model.FlagGenericAdvice,
			Field:  "advice",
			Detail: "generic non-actionable advice: " + phrase,
		})
	}

	// The example field must show an exemplar answer, not instruct the user
	if u.Example != "" {
		lower := strings.ToLower(strings.TrimSpace(u.Example))
		for _, opener := range imperativeOpeners {
			if strings.HasPrefix(lower, opener) {
				out = append(out, model.LexicalViolation{
					Topic:  u.Key,
					Flag:   model.FlagInstructionalExample,
					Field:  "example",
					Detail: "example reads as an instruction: starts with " + strings.TrimSpace(opener),
				})
				break
			}
		}
	}

	if u.Rationale != "" {
		if containsAny(u.Rationale, proceduralMarkers) != "" && containsAny(u.Rationale, analysisMarkers) == "" {
			out = append(out, model.LexicalViolation{
				Topic:  u.Key,
				Flag:   model.FlagProceduralRationale,
				Field:  "rationale",
				Detail: "rationale records bookkeeping without evidence of analysis",
			})
		}
	}

	return out
}
