package interview

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"text/template"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/kiku/pkg/adapter"
	"github.com/m-mizutani/kiku/pkg/model"
	"github.com/m-mizutani/kiku/pkg/utils/logging"
	"google.golang.org/genai"
)

//go:embed prompt/planner.md
var plannerPromptRaw string

var plannerPromptTmpl = template.Must(template.New("planner").Parse(plannerPromptRaw))

// planner produces the per-turn structured interview plan
type planner struct {
	gemini adapter.Gemini
	cfg    Config
}

func newPlanner(gemini adapter.Gemini, cfg Config) *planner {
	return &planner{gemini: gemini, cfg: cfg}
}

// plannerInput is everything the planner sees for one turn
type plannerInput struct {
	SessionID   model.SessionID
	Turn        int
	UserMessage string
	Anchor      *model.Anchor
	PrevPlan    *model.Plan
	Insights    []*model.Insight
	History     []*model.Message
	TopicView   string // focused view from the budgeter
	FocusTopic  model.TopicKey
	Feedback    string // corrective feedback from the alignment check
}

// rawPlan mirrors the schema the model is asked to fill
type rawPlan struct {
	Completeness int      `json:"completeness"`
	Purpose      string   `json:"purpose"`
	HowTerms     []string `json:"how_terms"`
	WhatTerms    []string `json:"what_terms"`
	SubQuestions []struct {
		Question string `json:"question"`
		Layer    string `json:"layer"`
		Status   string `json:"status"`
	} `json:"sub_questions"`
	Insights []struct {
		Label        string  `json:"label"`
		Layer        string  `json:"layer"`
		Strength     int     `json:"strength"`
		Confirmation float64 `json:"confirmation"`
	} `json:"insights"`
	NextFocus struct {
		TargetLayer string `json:"target_layer"`
		Focus       string `json:"focus"`
	} `json:"next_focus"`
	TopicUpdate *struct {
		Key       string `json:"key"`
		Status    string `json:"status"`
		Text      string `json:"text"`
		Rationale string `json:"rationale"`
		Advice    string `json:"advice"`
		Example   string `json:"example"`
		Quote     string `json:"quote"`
		NextTopic string `json:"next_topic"`
	} `json:"topic_update"`
}

// Generate runs one planner call. Service errors are returned to the caller
// for retry; unparseable output degrades to the minimal default plan so the
// conversation never stalls on a malformed response.
func (p *planner) Generate(ctx context.Context, in plannerInput) (*model.Plan, error) {
	prompt, err := p.buildPrompt(in)
	if err != nil {
		return nil, err
	}

	config := &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		ResponseSchema:   plannerSchema,
	}

	contents := []*genai.Content{genai.NewContentFromText(prompt, genai.RoleUser)}
	resp, err := p.gemini.GenerateContent(ctx, contents, config)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to generate plan", goerr.V("turn", in.Turn))
	}

	rawText, err := responseText(resp)
	if err != nil {
		return nil, err
	}

	var raw rawPlan
	if err := decodeStructured(rawText, &raw); err != nil {
		prevPurpose := ""
		prevCompleteness := 0
		if in.PrevPlan != nil {
			prevPurpose = in.PrevPlan.Purpose
			prevCompleteness = in.PrevPlan.Completeness
		}
		logging.From(ctx).Warn("planner output unparseable, using fallback plan",
			"turn", in.Turn, "error", err)
		return model.DefaultPlan(in.SessionID, in.Turn, prevPurpose, prevCompleteness), nil
	}

	return p.normalize(in, &raw), nil
}

func (p *planner) buildPrompt(in plannerInput) (string, error) {
	historyLines := make([]string, 0, len(in.History))
	for _, m := range in.History {
		historyLines = append(historyLines, "["+string(m.Role)+"] "+m.Content)
	}

	insightsJSON := []byte("[]")
	if len(in.Insights) > 0 {
		if data, err := json.MarshalIndent(in.Insights, "", "  "); err == nil {
			insightsJSON = data
		}
	}

	prevJSON := []byte("null")
	if in.PrevPlan != nil {
		if data, err := json.MarshalIndent(in.PrevPlan, "", "  "); err == nil {
			prevJSON = data
		}
	}

	var buf bytes.Buffer
	if err := plannerPromptTmpl.Execute(&buf, map[string]any{
		"Turn":           in.Turn,
		"UserMessage":    in.UserMessage,
		"Anchor":         in.Anchor,
		"PrevPlanJSON":   string(prevJSON),
		"InsightsJSON":   string(insightsJSON),
		"History":        historyLines,
		"TopicView":      in.TopicView,
		"FocusTopic":     in.FocusTopic,
		"Feedback":       in.Feedback,
		"AttributeInc":   model.LayerAttribute.Increment(),
		"ConsequenceInc": model.LayerConsequence.Increment(),
		"ValueInc":       model.LayerValue.Increment(),
	}); err != nil {
		return "", goerr.Wrap(err, "failed to execute planner prompt template")
	}
	return buf.String(), nil
}

// normalize converts the raw model output into a Plan and enforces the
// invariants the model cannot be trusted with: value clamping, monotonic
// completeness outside corrections, style selection, and a fresh
// sub-question after a rejected hypothesis.
func (p *planner) normalize(in plannerInput, raw *rawPlan) *model.Plan {
	plan := &model.Plan{
		SessionID:    in.SessionID,
		Turn:         in.Turn,
		Completeness: clampInt(raw.Completeness, 0, 100),
		Purpose:      raw.Purpose,
		Filtered: model.FilteredTerms{
			How:  raw.HowTerms,
			What: raw.WhatTerms,
		},
		CreatedAt: time.Now(),
	}

	for _, q := range raw.SubQuestions {
		if q.Question == "" {
			continue
		}
		status := model.SubQuestionStatus(q.Status)
		if status != model.SubQuestionResolved {
			status = model.SubQuestionActive
		}
		plan.SubQuestions = append(plan.SubQuestions, model.SubQuestion{
			Question: q.Question,
			Layer:    normalizeLayer(q.Layer),
			Status:   status,
		})
	}

	for _, ins := range raw.Insights {
		if ins.Label == "" {
			continue
		}
		conf := ins.Confirmation
		if conf < 0 {
			conf = 0
		}
		if conf > 1 {
			conf = 1
		}
		plan.Insights = append(plan.Insights, model.Insight{
			SessionID:    in.SessionID,
			Label:        ins.Label,
			Layer:        normalizeLayer(ins.Layer),
			Strength:     clampInt(ins.Strength, 0, 100),
			Confirmation: conf,
			FirstTurn:    in.Turn,
			LastTurn:     in.Turn,
		})
	}

	// Completeness never decreases unless the user rejected or corrected a
	// hypothesis this turn.
	if in.PrevPlan != nil && !plan.HasCorrection() && plan.Completeness < in.PrevPlan.Completeness {
		plan.Completeness = in.PrevPlan.Completeness
	}

	// A zero-strength correction scores nothing and must open a new line of
	// questioning instead.
	if plan.HasCorrection() && countActive(plan.SubQuestions) == 0 {
		plan.SubQuestions = append(plan.SubQuestions, model.SubQuestion{
			Question: "What did the previous assumption get wrong?",
			Layer:    model.LayerConsequence,
			Status:   model.SubQuestionActive,
		})
	}

	style := model.StyleOpen
	if plan.Completeness >= p.cfg.HypothesisThreshold {
		style = model.StyleHypothesis
	}
	plan.NextFocus = model.NextFocus{
		TargetLayer: normalizeLayer(raw.NextFocus.TargetLayer),
		Focus:       raw.NextFocus.Focus,
		Style:       style,
	}

	if raw.TopicUpdate != nil && raw.TopicUpdate.Key != "" {
		status := model.TopicStatus(raw.TopicUpdate.Status)
		if status.Validate() != nil {
			status = model.TopicThin
		}
		plan.TopicUpdate = &model.TopicUpdate{
			Key:       model.TopicKey(raw.TopicUpdate.Key),
			Status:    status,
			Text:      raw.TopicUpdate.Text,
			Rationale: raw.TopicUpdate.Rationale,
			Advice:    raw.TopicUpdate.Advice,
			Example:   raw.TopicUpdate.Example,
			Quote:     raw.TopicUpdate.Quote,
			NextTopic: model.TopicKey(raw.TopicUpdate.NextTopic),
		}
	}

	return plan
}

func normalizeLayer(s string) model.Layer {
	l := model.Layer(s)
	if l.Validate() != nil {
		return model.LayerAttribute
	}
	return l
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func countActive(qs []model.SubQuestion) int {
	n := 0
	for _, q := range qs {
		if q.Status == model.SubQuestionActive {
			n++
		}
	}
	return n
}

// plannerSchema constrains the structured planner response
var plannerSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"completeness": {
			Type:        genai.TypeInteger,
			Description: "0-100 measure of how well the underlying Why is established",
		},
		"purpose": {
			Type:        genai.TypeString,
			Description: "Canonical one-sentence restatement of the session purpose",
		},
		"how_terms": {
			Type:        genai.TypeArray,
			Description: "Solution-level How terms detected in the conversation",
			Items:       &genai.Schema{Type: genai.TypeString},
		},
		"what_terms": {
			Type:        genai.TypeArray,
			Description: "Subject-level What terms detected in the conversation",
			Items:       &genai.Schema{Type: genai.TypeString},
		},
		"sub_questions": {
			Type:        genai.TypeArray,
			Description: "Derived ambiguities still to settle, tagged by abstraction layer",
			Items: &genai.Schema{
				Type: genai.TypeObject,
				Properties: map[string]*genai.Schema{
					"question": {Type: genai.TypeString},
					"layer": {
						Type: genai.TypeString,
						Enum: []string{"attribute", "consequence", "value"},
					},
					"status": {
						Type: genai.TypeString,
						Enum: []string{"active", "resolved"},
					},
				},
				Required: []string{"question", "layer", "status"},
			},
		},
		"insights": {
			Type:        genai.TypeArray,
			Description: "Insights newly confirmed or updated this turn only",
			Items: &genai.Schema{
				Type: genai.TypeObject,
				Properties: map[string]*genai.Schema{
					"label": {Type: genai.TypeString},
					"layer": {
						Type: genai.TypeString,
						Enum: []string{"attribute", "consequence", "value"},
					},
					"strength": {Type: genai.TypeInteger},
					"confirmation": {
						Type:        genai.TypeNumber,
						Description: "0-1 strength of the user's confirmation; 0 means rejected",
					},
				},
				Required: []string{"label", "layer", "strength", "confirmation"},
			},
		},
		"next_focus": {
			Type:        genai.TypeObject,
			Description: "The single next-step task for this turn",
			Properties: map[string]*genai.Schema{
				"target_layer": {
					Type: genai.TypeString,
					Enum: []string{"attribute", "consequence", "value"},
				},
				"focus": {Type: genai.TypeString},
			},
			Required: []string{"target_layer", "focus"},
		},
		"topic_update": {
			Type:        genai.TypeObject,
			Description: "Verdict on the in-focus topic",
			Properties: map[string]*genai.Schema{
				"key": {Type: genai.TypeString},
				"status": {
					Type: genai.TypeString,
					Enum: []string{"empty", "thin", "ok", "skipped"},
				},
				"text":      {Type: genai.TypeString},
				"rationale": {Type: genai.TypeString},
				"advice":    {Type: genai.TypeString},
				"example":   {Type: genai.TypeString},
				"quote":     {Type: genai.TypeString},
				"next_topic": {
					Type:        genai.TypeString,
					Description: "Topic to focus next; may name a new topic key",
				},
			},
			Required: []string{"key", "status", "text", "rationale"},
		},
	},
	Required: []string{"completeness", "purpose", "sub_questions", "insights", "next_focus"},
}
