package interview

import (
	"bytes"
	"context"
	_ "embed"
	"strings"
	"text/template"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/kiku/pkg/adapter"
	"github.com/m-mizutani/kiku/pkg/model"
	"github.com/m-mizutani/kiku/pkg/utils/logging"
	"google.golang.org/genai"
)

//go:embed prompt/interviewer.md
var interviewerPromptRaw string

var interviewerPromptTmpl = template.Must(template.New("interviewer").Parse(interviewerPromptRaw))

//go:embed prompt/fallback_question.md
var fallbackQuestionRaw string

// fallbackQuestion keeps the conversation moving when question generation
// yields nothing usable
var fallbackQuestion = strings.TrimSpace(fallbackQuestionRaw)

// interviewer turns a plan into the single question shown to the user
type interviewer struct {
	gemini adapter.Gemini
}

func newInterviewer(gemini adapter.Gemini) *interviewer {
	return &interviewer{gemini: gemini}
}

// Ask generates the next question from the plan. The output is free text,
// not structured; an empty or How-contaminated response falls back to a
// generic deepening question rather than failing the turn.
func (i *interviewer) Ask(ctx context.Context, plan *model.Plan, history []*model.Message, userMessage string) (string, error) {
	historyLines := make([]string, 0, len(history))
	for _, m := range history {
		historyLines = append(historyLines, "["+string(m.Role)+"] "+m.Content)
	}

	var buf bytes.Buffer
	if err := interviewerPromptTmpl.Execute(&buf, map[string]any{
		"HowTerms":    plan.Filtered.How,
		"TargetLayer": plan.NextFocus.TargetLayer,
		"Focus":       plan.NextFocus.Focus,
		"Style":       string(plan.NextFocus.Style),
		"History":     historyLines,
		"UserMessage": userMessage,
	}); err != nil {
		return "", goerr.Wrap(err, "failed to execute interviewer prompt template")
	}

	contents := []*genai.Content{genai.NewContentFromText(buf.String(), genai.RoleUser)}
	resp, err := i.gemini.GenerateContent(ctx, contents, nil)
	if err != nil {
		return "", goerr.Wrap(err, "failed to generate question", goerr.V("turn", plan.Turn))
	}

	question, err := responseText(resp)
	if err != nil {
		return "", err
	}
	question = strings.TrimSpace(question)

	if question == "" {
		logging.From(ctx).Warn("empty question from model, using fallback", "turn", plan.Turn)
		return fallbackQuestion, nil
	}
	if term := containsFiltered(question, plan.Filtered.How); term != "" {
		logging.From(ctx).Warn("question contained filtered term, using fallback",
			"turn", plan.Turn, "term", term)
		return fallbackQuestion, nil
	}
	return question, nil
}

func containsFiltered(question string, terms []string) string {
	lower := strings.ToLower(question)
	for _, t := range terms {
		if t == "" {
			continue
		}
		if strings.Contains(lower, strings.ToLower(t)) {
			return t
		}
	}
	return ""
}
