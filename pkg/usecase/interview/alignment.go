package interview

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"text/template"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/kiku/pkg/adapter"
	"github.com/m-mizutani/kiku/pkg/model"
	"github.com/m-mizutani/kiku/pkg/utils/logging"
	"google.golang.org/genai"
)

//go:embed prompt/alignment.md
var alignmentPromptRaw string

var alignmentPromptTmpl = template.Must(template.New("alignment").Parse(alignmentPromptRaw))

// alignmentChecker audits each plan against the session anchor
type alignmentChecker struct {
	gemini adapter.Gemini
	cfg    Config
}

func newAlignmentChecker(gemini adapter.Gemini, cfg Config) *alignmentChecker {
	return &alignmentChecker{gemini: gemini, cfg: cfg}
}

type alignmentVerdict struct {
	Score         int    `json:"score"`
	DriftDetected bool   `json:"drift_detected"`
	Feedback      string `json:"feedback"`
}

var alignmentSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"score":          {Type: genai.TypeInteger},
		"drift_detected": {Type: genai.TypeBoolean},
		"feedback":       {Type: genai.TypeString},
	},
	Required: []string{"score", "drift_detected", "feedback"},
}

// Check returns corrective feedback for a drifted plan, or an empty string
// when the plan is aligned. A completeness jump beyond the configured limit
// is rejected without consulting the model; an unparseable verdict is
// treated as aligned so the audit never blocks the interview.
func (c *alignmentChecker) Check(ctx context.Context, anchor *model.Anchor, prev *model.Plan, plan *model.Plan) (int, string, error) {
	if prev != nil {
		jump := plan.Completeness - prev.Completeness
		if jump > c.cfg.CompletenessJumpLimit {
			feedback := fmt.Sprintf(
				"completeness jumped from %d to %d in one turn; re-score based only on what the user confirmed this turn",
				prev.Completeness, plan.Completeness)
			return 0, feedback, nil
		}
	}

	planJSON, err := json.MarshalIndent(plan, "", "  ")
	if err != nil {
		return 0, "", goerr.Wrap(err, "failed to marshal plan for alignment check")
	}

	var buf bytes.Buffer
	if err := alignmentPromptTmpl.Execute(&buf, map[string]any{
		"Anchor":    anchor,
		"Turn":      plan.Turn,
		"PlanJSON":  string(planJSON),
		"Threshold": c.cfg.AlignmentThreshold,
	}); err != nil {
		return 0, "", goerr.Wrap(err, "failed to execute alignment prompt template")
	}

	config := &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		ResponseSchema:   alignmentSchema,
	}
	contents := []*genai.Content{genai.NewContentFromText(buf.String(), genai.RoleUser)}
	resp, err := c.gemini.GenerateContent(ctx, contents, config)
	if err != nil {
		return 0, "", goerr.Wrap(err, "failed to run alignment check", goerr.V("turn", plan.Turn))
	}

	rawText, err := responseText(resp)
	if err != nil {
		return 0, "", err
	}

	var verdict alignmentVerdict
	if err := decodeStructured(rawText, &verdict); err != nil {
		logging.From(ctx).Warn("alignment verdict unparseable, accepting plan",
			"turn", plan.Turn, "error", err)
		return 100, "", nil
	}

	if verdict.Score < c.cfg.AlignmentThreshold || verdict.DriftDetected {
		feedback := verdict.Feedback
		if feedback == "" {
			feedback = "the plan drifted from the anchored purpose; return to the original request"
		}
		return verdict.Score, feedback, nil
	}
	return verdict.Score, "", nil
}
