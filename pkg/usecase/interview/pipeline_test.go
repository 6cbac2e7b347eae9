package interview_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/kiku/pkg/model"
	"github.com/m-mizutani/kiku/pkg/repository"
	"github.com/m-mizutani/kiku/pkg/usecase/interview"
	"google.golang.org/genai"
)

// scriptedGemini dispatches on the requested response schema so one mock can
// play every role in the pipeline.
type scriptedGemini struct {
	plans      []string // consumed per planner call; the last entry repeats
	alignments []string // consumed per alignment call; pass when exhausted
	review     string
	crossref   string
	freeText   string

	planCalls  int
	alignCalls int
}

func (m *scriptedGemini) GenerateContent(ctx context.Context, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	if config == nil || config.ResponseSchema == nil {
		text := m.freeText
		if text == "" {
			text = "What would success look like for you?"
		}
		return textResponse(text), nil
	}

	props := config.ResponseSchema.Properties
	switch {
	case props["drift_detected"] != nil:
		m.alignCalls++
		if len(m.alignments) > 0 {
			next := m.alignments[0]
			m.alignments = m.alignments[1:]
			return textResponse(next), nil
		}
		return textResponse(`{"score": 90, "drift_detected": false, "feedback": ""}`), nil
	case props["demotions"] != nil:
		if m.review == "" {
			return textResponse(`{"demotions": []}`), nil
		}
		return textResponse(m.review), nil
	case props["candidates"] != nil:
		if m.crossref == "" {
			return textResponse(`{"candidates": []}`), nil
		}
		return textResponse(m.crossref), nil
	case props["completeness"] != nil:
		m.planCalls++
		idx := m.planCalls - 1
		if idx >= len(m.plans) {
			idx = len(m.plans) - 1
		}
		return textResponse(m.plans[idx]), nil
	}
	return nil, errors.New("unexpected schema")
}

func textResponse(text string) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{
			{
				Content: &genai.Content{
					Parts: []*genai.Part{{Text: text}},
				},
			},
		},
	}
}

// planJSON builds a planner response with n confirmed insights
func planJSON(completeness int, resolved bool, insights int, topicStatus string) string {
	status := "active"
	if resolved {
		status = "resolved"
	}
	insightList := ""
	for i := 0; i < insights; i++ {
		if i > 0 {
			insightList += ","
		}
		insightList += fmt.Sprintf(
			`{"label": "insight %d", "layer": "value", "strength": 75, "confirmation": 0.9}`, i)
	}
	topic := ""
	if topicStatus != "" {
		topic = fmt.Sprintf(`, "topic_update": {"key": "problem", "status": %q, "text": "t", "rationale": "the user tied the problem to evidence", "next_topic": "impact"}`, topicStatus)
	}
	return fmt.Sprintf(`{
		"completeness": %d,
		"purpose": "reduce reporting toil",
		"sub_questions": [{"question": "q", "layer": "value", "status": %q}],
		"insights": [%s],
		"next_focus": {"target_layer": "value", "focus": "f"}%s
	}`, completeness, status, insightList, topic)
}

func newTestPipeline(t *testing.T, mock *scriptedGemini, tune func(*interview.Config)) (*interview.Pipeline, repository.Repository) {
	t.Helper()
	cfg := interview.DefaultConfig()
	if tune != nil {
		tune(&cfg)
	}
	repo := repository.NewMemory()
	return interview.New(repo, mock, cfg), repo
}

func TestPipelineConversationTurn(t *testing.T) {
	ctx := context.Background()
	mock := &scriptedGemini{
		plans:    []string{planJSON(20, false, 1, "thin")},
		freeText: "Why does Friday matter so much?",
	}
	pipeline, repo := newTestPipeline(t, mock, nil)

	session, err := pipeline.CreateSession(ctx)
	gt.NoError(t, err)
	gt.V(t, session.Phase).Equal(model.PhaseWelcome)

	result, err := pipeline.HandleTurn(ctx, session.ID, "we need a sales dashboard")
	gt.NoError(t, err)
	gt.V(t, result.Turn).Equal(0)
	gt.V(t, result.Phase).Equal(model.PhaseConversation)
	gt.V(t, result.Question).Equal("Why does Friday matter so much?")
	gt.V(t, result.Completeness).Equal(20)

	// the anchor pins the original framing
	anchor, err := repo.GetAnchor(ctx, session.ID)
	gt.NoError(t, err)
	gt.V(t, anchor.OriginalMessage).Equal("we need a sales dashboard")
	gt.True(t, len(anchor.CoreKeywords) > 0)

	// user and assistant messages stored for the turn
	msgs, err := repo.ListMessages(ctx, session.ID)
	gt.NoError(t, err)
	gt.V(t, len(msgs)).Equal(2)
	gt.V(t, msgs[1].Role).Equal(model.RoleAssistant)
	gt.V(t, msgs[1].Meta.Plan.Completeness).Equal(20)

	// the next turn numbers itself after the stored log
	result, err = pipeline.HandleTurn(ctx, session.ID, "the weekly report takes all of Friday")
	gt.NoError(t, err)
	gt.V(t, result.Turn).Equal(1)
}

func TestPipelineWeightingTransition(t *testing.T) {
	ctx := context.Background()
	mock := &scriptedGemini{
		plans: []string{planJSON(85, true, 3, "ok")},
	}
	pipeline, repo := newTestPipeline(t, mock, nil)

	session, err := pipeline.CreateSession(ctx)
	gt.NoError(t, err)

	result, err := pipeline.HandleTurn(ctx, session.ID, "we need a sales dashboard")
	gt.NoError(t, err)
	gt.V(t, result.Phase).Equal(model.PhaseWeighting)
	gt.V(t, result.Question).Equal("")
	gt.V(t, len(result.Ranked)).Equal(3)

	got, err := repo.GetSession(ctx, session.ID)
	gt.NoError(t, err)
	gt.V(t, got.Phase).Equal(model.PhaseWeighting)

	// the handover snapshots the topic states
	snaps, err := repo.ListSnapshots(ctx, session.ID)
	gt.NoError(t, err)
	gt.V(t, len(snaps)).Equal(1)
	gt.V(t, snaps[0].Volume).Equal(1)

	// a weighting session no longer accepts messages directly
	_, err = pipeline.HandleTurn(ctx, session.ID, "one more thing")
	gt.Error(t, err)
	gt.True(t, errors.Is(err, model.ErrPhaseMismatch))
}

func TestPipelineWeightingWithSingleInsight(t *testing.T) {
	ctx := context.Background()
	mock := &scriptedGemini{
		plans: []string{planJSON(85, true, 1, "")},
	}
	pipeline, _ := newTestPipeline(t, mock, nil)

	session, err := pipeline.CreateSession(ctx)
	gt.NoError(t, err)

	// one confirmed insight is enough; the guard only protects against an
	// empty weighting screen
	result, err := pipeline.HandleTurn(ctx, session.ID, "we need a sales dashboard")
	gt.NoError(t, err)
	gt.V(t, result.Phase).Equal(model.PhaseWeighting)
	gt.V(t, len(result.Ranked)).Equal(1)
}

func TestPipelineCrossRefPropagation(t *testing.T) {
	ctx := context.Background()
	mock := &scriptedGemini{
		plans: []string{planJSON(20, false, 1, "thin")},
		crossref: `{"candidates": [
			{"topic": "audience", "relevance": 0.9, "status": "thin", "text": "the sales lead reviews the numbers weekly", "rationale": "the statement names who reads the reports", "contradicts": false, "note": ""},
			{"topic": "urgency", "relevance": 0.65, "status": "thin", "text": "quarter end is close", "rationale": "borderline", "contradicts": false, "note": ""},
			{"topic": "impact", "relevance": 0.95, "status": "ok", "text": "", "rationale": "", "contradicts": true, "note": "earlier the impact was said to be negligible"}
		]}`,
	}
	pipeline, repo := newTestPipeline(t, mock, nil)

	session, err := pipeline.CreateSession(ctx)
	gt.NoError(t, err)

	result, err := pipeline.HandleTurn(ctx, session.ID, "our sales lead reads them every Monday")
	gt.NoError(t, err)

	// the contradiction is surfaced, never silently overwritten
	gt.V(t, len(result.Conflicts)).Equal(1)
	gt.V(t, result.Conflicts[0].Topic).Equal(model.TopicImpact)

	topics, err := repo.ListTopicStates(ctx, session.ID)
	gt.NoError(t, err)
	for _, topic := range topics {
		switch topic.Key {
		case model.TopicAudience:
			// the high-relevance candidate lands on the out-of-focus topic
			gt.V(t, topic.Status).Equal(model.TopicThin)
			gt.V(t, topic.Text).Equal("the sales lead reviews the numbers weekly")
			gt.V(t, topic.Rationale).Equal("the statement names who reads the reports")
		case model.TopicUrgency:
			// 0.65 is below the apply boundary
			gt.V(t, topic.Text).Equal("")
		case model.TopicImpact:
			gt.V(t, topic.Text).Equal("")
		}
	}
}

func TestPipelineFallbackPlanKeepsCompleteness(t *testing.T) {
	ctx := context.Background()
	mock := &scriptedGemini{
		plans: []string{
			planJSON(40, false, 1, ""),
			"this is not a plan at all",
		},
	}
	pipeline, repo := newTestPipeline(t, mock, nil)

	session, err := pipeline.CreateSession(ctx)
	gt.NoError(t, err)

	_, err = pipeline.HandleTurn(ctx, session.ID, "we need a sales dashboard")
	gt.NoError(t, err)

	result, err := pipeline.HandleTurn(ctx, session.ID, "the weekly report takes all of Friday")
	gt.NoError(t, err)
	gt.V(t, result.Completeness).Equal(40)

	plan, err := repo.GetLatestPlan(ctx, session.ID)
	gt.NoError(t, err)
	gt.V(t, plan.Turn).Equal(1)
	gt.V(t, plan.Completeness).Equal(40)
}

func TestPipelineTurnCeiling(t *testing.T) {
	ctx := context.Background()

	t.Run("ceiling with insights forces weighting", func(t *testing.T) {
		mock := &scriptedGemini{plans: []string{planJSON(30, false, 1, "")}}
		pipeline, _ := newTestPipeline(t, mock, func(cfg *interview.Config) {
			cfg.TurnCeiling = 1
		})

		session, err := pipeline.CreateSession(ctx)
		gt.NoError(t, err)

		result, err := pipeline.HandleTurn(ctx, session.ID, "first message")
		gt.NoError(t, err)
		gt.V(t, result.Phase).Equal(model.PhaseWeighting)
	})

	t.Run("ceiling with no insights extends the conversation", func(t *testing.T) {
		mock := &scriptedGemini{plans: []string{planJSON(30, false, 0, "")}}
		pipeline, _ := newTestPipeline(t, mock, func(cfg *interview.Config) {
			cfg.TurnCeiling = 1
		})

		session, err := pipeline.CreateSession(ctx)
		gt.NoError(t, err)

		result, err := pipeline.HandleTurn(ctx, session.ID, "first message")
		gt.NoError(t, err)
		gt.V(t, result.Phase).Equal(model.PhaseConversation)
		gt.V(t, result.Question).NotEqual("")
	})
}

func TestPipelineDriftRetry(t *testing.T) {
	ctx := context.Background()
	mock := &scriptedGemini{
		plans: []string{planJSON(20, false, 1, "")},
		alignments: []string{
			`{"score": 40, "drift_detected": true, "feedback": "the plan wandered off the dashboard request"}`,
			`{"score": 90, "drift_detected": false, "feedback": ""}`,
		},
	}
	pipeline, _ := newTestPipeline(t, mock, nil)

	session, err := pipeline.CreateSession(ctx)
	gt.NoError(t, err)

	result, err := pipeline.HandleTurn(ctx, session.ID, "we need a sales dashboard")
	gt.NoError(t, err)
	gt.V(t, result.Phase).Equal(model.PhaseConversation)

	gt.V(t, mock.planCalls).Equal(2)
	gt.V(t, result.Validation.Retries).Equal(1)
	gt.True(t, result.Validation.DriftDetected)
	gt.False(t, result.Validation.Degraded)
	gt.V(t, len(result.Validation.Violations)).Equal(1)
}

func TestPipelineDriftPastBudget(t *testing.T) {
	ctx := context.Background()
	drift := `{"score": 40, "drift_detected": true, "feedback": "still off topic"}`
	mock := &scriptedGemini{
		plans:      []string{planJSON(20, false, 1, "")},
		alignments: []string{drift, drift, drift},
	}
	pipeline, _ := newTestPipeline(t, mock, nil)

	session, err := pipeline.CreateSession(ctx)
	gt.NoError(t, err)

	// the turn still completes; the degradation is recorded, not raised
	result, err := pipeline.HandleTurn(ctx, session.ID, "we need a sales dashboard")
	gt.NoError(t, err)
	gt.V(t, result.Phase).Equal(model.PhaseConversation)
	gt.True(t, result.Validation.Degraded)
	gt.V(t, mock.planCalls).Equal(3)
}

func TestPipelineReviewDemotion(t *testing.T) {
	ctx := context.Background()
	mock := &scriptedGemini{
		plans:  []string{planJSON(20, false, 1, "ok")},
		review: `{"demotions": [{"key": "problem", "reason": "only one vague mention of the workflow"}]}`,
	}
	pipeline, repo := newTestPipeline(t, mock, nil)

	session, err := pipeline.CreateSession(ctx)
	gt.NoError(t, err)

	result, err := pipeline.HandleTurn(ctx, session.ID, "we need a sales dashboard")
	gt.NoError(t, err)
	gt.True(t, result.Validation.ReviewApplied)

	topics, err := repo.ListTopicStates(ctx, session.ID)
	gt.NoError(t, err)
	for _, topic := range topics {
		if topic.Key == model.TopicProblem {
			gt.V(t, topic.Status).Equal(model.TopicThin)
			gt.V(t, topic.Rationale).Equal("only one vague mention of the workflow")
		}
	}
}

func TestPipelineResumeConversation(t *testing.T) {
	ctx := context.Background()
	mock := &scriptedGemini{
		plans: []string{
			planJSON(85, true, 3, "ok"),
			planJSON(90, true, 3, "ok"),
		},
	}
	pipeline, _ := newTestPipeline(t, mock, nil)

	session, err := pipeline.CreateSession(ctx)
	gt.NoError(t, err)

	result, err := pipeline.HandleTurn(ctx, session.ID, "we need a sales dashboard")
	gt.NoError(t, err)
	gt.V(t, result.Phase).Equal(model.PhaseWeighting)

	reopened, err := pipeline.ResumeConversation(ctx, session.ID)
	gt.NoError(t, err)
	gt.V(t, reopened.Phase).Equal(model.PhaseConversation)

	// the reopened conversation picks up turn numbering where it left off
	result, err = pipeline.HandleTurn(ctx, session.ID, "actually there is more to it")
	gt.NoError(t, err)
	gt.V(t, result.Turn).Equal(1)
	gt.V(t, result.Phase).Equal(model.PhaseWeighting)

	// only a weighting session can reopen
	_, err = pipeline.ResumeConversation(ctx, session.ID)
	gt.NoError(t, err)
	_, err = pipeline.ResumeConversation(ctx, session.ID)
	gt.Error(t, err)
	gt.True(t, errors.Is(err, model.ErrPhaseMismatch))
}

func TestPipelineFinalize(t *testing.T) {
	ctx := context.Background()
	mock := &scriptedGemini{
		plans:    []string{planJSON(85, true, 3, "ok")},
		freeText: "# Discovery report\n\nYou want visibility, not a dashboard.",
	}
	pipeline, repo := newTestPipeline(t, mock, nil)

	session, err := pipeline.CreateSession(ctx)
	gt.NoError(t, err)

	result, err := pipeline.HandleTurn(ctx, session.ID, "we need a sales dashboard")
	gt.NoError(t, err)
	gt.V(t, result.Phase).Equal(model.PhaseWeighting)

	// a weight for an unknown insight fails before anything is written
	_, err = pipeline.Finalize(ctx, session.ID, map[string]int{"no such insight": 50})
	gt.Error(t, err)
	gt.True(t, errors.Is(err, model.ErrInsightNotFound))

	report, err := pipeline.Finalize(ctx, session.ID, map[string]int{"insight 1": 95})
	gt.NoError(t, err)
	gt.S(t, report.Markdown).Contains("visibility")
	gt.V(t, report.Purpose).Equal("reduce reporting toil")

	got, err := repo.GetSession(ctx, session.ID)
	gt.NoError(t, err)
	gt.V(t, got.Phase).Equal(model.PhaseReport)

	insights, err := repo.ListInsights(ctx, session.ID)
	gt.NoError(t, err)
	for _, ins := range insights {
		if ins.Label == "insight 1" {
			gt.V(t, ins.Weight).Equal(95)
		}
	}

	gt.NoError(t, pipeline.CompleteSession(ctx, session.ID))
	got, err = repo.GetSession(ctx, session.ID)
	gt.NoError(t, err)
	gt.V(t, got.Phase).Equal(model.PhaseComplete)

	// a finalized session is closed to everything
	_, err = pipeline.HandleTurn(ctx, session.ID, "wait")
	gt.Error(t, err)
	gt.Error(t, pipeline.CompleteSession(ctx, session.ID))
}

func TestPipelineState(t *testing.T) {
	ctx := context.Background()
	mock := &scriptedGemini{plans: []string{planJSON(85, true, 3, "ok")}}
	pipeline, _ := newTestPipeline(t, mock, nil)

	session, err := pipeline.CreateSession(ctx)
	gt.NoError(t, err)

	_, err = pipeline.HandleTurn(ctx, session.ID, "we need a sales dashboard")
	gt.NoError(t, err)

	// everything a client needs comes back from storage alone
	state, err := pipeline.State(ctx, session.ID)
	gt.NoError(t, err)
	gt.V(t, state.Session.Phase).Equal(model.PhaseWeighting)
	gt.V(t, state.Anchor.OriginalMessage).Equal("we need a sales dashboard")
	gt.V(t, len(state.Messages)).Equal(2)
	gt.V(t, state.Plan.Completeness).Equal(85)
	gt.V(t, len(state.Insights)).Equal(3)
	gt.V(t, len(state.Ranked)).Equal(3)
	gt.V(t, len(state.Topics)).Equal(len(model.BaseTopics))
}
