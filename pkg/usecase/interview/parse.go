package interview

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"google.golang.org/genai"
)

var fencedJSONRe = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)```")

// responseText extracts the first text part of a completion response
func responseText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", goerr.New("invalid response structure from gemini")
	}
	return resp.Candidates[0].Content.Parts[0].Text, nil
}

// decodeStructured unmarshals a model response that should be JSON, stripping
// the code fences or surrounding prose models sometimes add even when a
// structured response was requested.
func decodeStructured(raw string, out any) error {
	candidate := strings.TrimSpace(raw)
	if m := fencedJSONRe.FindStringSubmatch(candidate); m != nil {
		candidate = strings.TrimSpace(m[1])
	}

	if err := json.Unmarshal([]byte(candidate), out); err == nil {
		return nil
	}

	// Last resort: the outermost brace pair in the text
	start := strings.Index(candidate, "{")
	end := strings.LastIndex(candidate, "}")
	if start >= 0 && end > start {
		if err := json.Unmarshal([]byte(candidate[start:end+1]), out); err == nil {
			return nil
		}
	}

	return goerr.New("failed to decode structured response", goerr.V("raw", truncateRunes(raw, 200)))
}
