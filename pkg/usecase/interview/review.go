package interview

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"text/template"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/kiku/pkg/adapter"
	"github.com/m-mizutani/kiku/pkg/model"
	"github.com/m-mizutani/kiku/pkg/utils/logging"
	"google.golang.org/genai"
)

//go:embed prompt/review.md
var reviewPromptRaw string

var reviewPromptTmpl = template.Must(template.New("review").Parse(reviewPromptRaw))

// reviewer gives a skeptical second opinion on ok-judged topics
type reviewer struct {
	gemini adapter.Gemini
}

func newReviewer(gemini adapter.Gemini) *reviewer {
	return &reviewer{gemini: gemini}
}

// Demotion downgrades one ok verdict to thin, with the reason recorded on
// the topic state.
type Demotion struct {
	Key    model.TopicKey `json:"key"`
	Reason string         `json:"reason"`
}

type reviewVerdict struct {
	Demotions []Demotion `json:"demotions"`
}

var reviewSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"demotions": {
			Type: genai.TypeArray,
			Items: &genai.Schema{
				Type: genai.TypeObject,
				Properties: map[string]*genai.Schema{
					"key":    {Type: genai.TypeString},
					"reason": {Type: genai.TypeString},
				},
				Required: []string{"key", "reason"},
			},
		},
	},
	Required: []string{"demotions"},
}

// Review re-examines the ok-judged topics against the raw conversation and
// returns the demotions to apply. Demotions without a reason are dropped;
// a failed or unparseable review leaves every verdict standing.
func (r *reviewer) Review(ctx context.Context, history []*model.Message, topics []*model.TopicState) ([]Demotion, error) {
	okTopics := make([]*model.TopicState, 0, len(topics))
	for _, t := range topics {
		if t.Status == model.TopicOK {
			okTopics = append(okTopics, t)
		}
	}
	if len(okTopics) == 0 {
		return nil, nil
	}

	topicsJSON, err := json.MarshalIndent(okTopics, "", "  ")
	if err != nil {
		return nil, goerr.Wrap(err, "failed to marshal topics for review")
	}

	historyLines := make([]string, 0, len(history))
	for _, m := range history {
		historyLines = append(historyLines, "["+string(m.Role)+"] "+m.Content)
	}

	var buf bytes.Buffer
	if err := reviewPromptTmpl.Execute(&buf, map[string]any{
		"History":    historyLines,
		"TopicsJSON": string(topicsJSON),
	}); err != nil {
		return nil, goerr.Wrap(err, "failed to execute review prompt template")
	}

	config := &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		ResponseSchema:   reviewSchema,
	}
	contents := []*genai.Content{genai.NewContentFromText(buf.String(), genai.RoleUser)}
	resp, err := r.gemini.GenerateContent(ctx, contents, config)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to run coverage review")
	}

	rawText, err := responseText(resp)
	if err != nil {
		return nil, err
	}

	var verdict reviewVerdict
	if err := decodeStructured(rawText, &verdict); err != nil {
		logging.From(ctx).Warn("review verdict unparseable, keeping verdicts", "error", err)
		return nil, nil
	}

	known := make(map[model.TopicKey]bool, len(okTopics))
	for _, t := range okTopics {
		known[t.Key] = true
	}

	demotions := make([]Demotion, 0, len(verdict.Demotions))
	for _, d := range verdict.Demotions {
		if d.Reason == "" || !known[d.Key] {
			continue
		}
		demotions = append(demotions, d)
	}
	return demotions, nil
}
