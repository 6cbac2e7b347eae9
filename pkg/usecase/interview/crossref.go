package interview

import (
	"bytes"
	"context"
	_ "embed"
	"text/template"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/kiku/pkg/adapter"
	"github.com/m-mizutani/kiku/pkg/model"
	"github.com/m-mizutani/kiku/pkg/utils/logging"
	"google.golang.org/genai"
)

//go:embed prompt/crossref.md
var crossrefPromptRaw string

var crossrefPromptTmpl = template.Must(template.New("crossref").Parse(crossrefPromptRaw))

// crossReferencer propagates one utterance across the out-of-focus topics.
// The planner already judged the in-focus topic; this second pass decides
// whether the same statement materially changes any of the others.
type crossReferencer struct {
	gemini adapter.Gemini
	cfg    Config
	budget *budgeter
}

func newCrossReferencer(gemini adapter.Gemini, cfg Config) *crossReferencer {
	return &crossReferencer{gemini: gemini, cfg: cfg, budget: newBudgeter(cfg)}
}

// CrossRefCandidate is one proposed update to an out-of-focus topic.
type CrossRefCandidate struct {
	Topic       model.TopicKey `json:"topic"`
	Relevance   float64        `json:"relevance"`
	Status      string         `json:"status"`
	Text        string         `json:"text"`
	Rationale   string         `json:"rationale"`
	Contradicts bool           `json:"contradicts"`
	Note        string         `json:"note"`
}

// CrossRefResult separates the candidates the pipeline acts on from those
// only worth logging, plus any contradictions to surface to the user.
type CrossRefResult struct {
	Applied        []CrossRefCandidate
	Logged         []CrossRefCandidate
	Contradictions []CrossRefCandidate
}

type crossrefVerdict struct {
	Candidates []CrossRefCandidate `json:"candidates"`
}

var crossrefSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"candidates": {
			Type: genai.TypeArray,
			Items: &genai.Schema{
				Type: genai.TypeObject,
				Properties: map[string]*genai.Schema{
					"topic":     {Type: genai.TypeString},
					"relevance": {Type: genai.TypeNumber},
					"status": {
						Type: genai.TypeString,
						Enum: []string{"empty", "thin", "ok", "skipped"},
					},
					"text":        {Type: genai.TypeString},
					"rationale":   {Type: genai.TypeString},
					"contradicts": {Type: genai.TypeBoolean},
					"note":        {Type: genai.TypeString},
				},
				Required: []string{"topic", "relevance", "status", "text", "rationale", "contradicts", "note"},
			},
		},
	},
	Required: []string{"candidates"},
}

// Examine asks the model which out-of-focus topics the new message touches
// and sorts the candidates into buckets by the configured relevance
// thresholds. A contradiction suppresses the update regardless of relevance.
// An empty candidate list is a legitimate outcome, not an error.
func (c *crossReferencer) Examine(ctx context.Context, topics []*model.TopicState, focus model.TopicKey, history []*model.Message, userMessage string) (*CrossRefResult, error) {
	result := &CrossRefResult{}
	others := 0
	for _, t := range topics {
		if t.Key != focus {
			others++
		}
	}
	if others == 0 {
		return result, nil
	}

	historyLines := make([]string, 0, len(history))
	for _, m := range history {
		historyLines = append(historyLines, "["+string(m.Role)+"] "+m.Content)
	}

	var buf bytes.Buffer
	if err := crossrefPromptTmpl.Execute(&buf, map[string]any{
		"TopicView":   c.budget.FullView(topics),
		"Focus":       focus,
		"History":     historyLines,
		"UserMessage": userMessage,
	}); err != nil {
		return nil, goerr.Wrap(err, "failed to execute cross-reference prompt template")
	}

	config := &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		ResponseSchema:   crossrefSchema,
	}
	contents := []*genai.Content{genai.NewContentFromText(buf.String(), genai.RoleUser)}
	resp, err := c.gemini.GenerateContent(ctx, contents, config)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to run cross-reference")
	}

	rawText, err := responseText(resp)
	if err != nil {
		return nil, err
	}

	var verdict crossrefVerdict
	if err := decodeStructured(rawText, &verdict); err != nil {
		logging.From(ctx).Warn("cross-reference verdict unparseable, skipping", "error", err)
		return result, nil
	}

	known := make(map[model.TopicKey]bool, len(topics))
	for _, t := range topics {
		known[t.Key] = true
	}

	logger := logging.From(ctx)
	for _, cand := range verdict.Candidates {
		if cand.Topic == "" || cand.Topic == focus || !known[cand.Topic] {
			continue
		}
		switch {
		case cand.Contradicts:
			result.Contradictions = append(result.Contradictions, cand)
			logger.Info("cross-reference contradiction",
				"topic", cand.Topic, "relevance", cand.Relevance, "note", cand.Note)
		case cand.Relevance >= c.cfg.ApplyThreshold:
			if cand.Text == "" {
				logger.Info("cross-reference candidate without replacement text, skipping",
					"topic", cand.Topic, "relevance", cand.Relevance)
				continue
			}
			result.Applied = append(result.Applied, cand)
		case cand.Relevance >= c.cfg.LogThreshold:
			result.Logged = append(result.Logged, cand)
			logger.Info("cross-reference candidate below apply threshold",
				"topic", cand.Topic, "relevance", cand.Relevance, "note", cand.Note)
		}
	}
	return result, nil
}
