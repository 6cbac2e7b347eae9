package interview

import (
	"context"
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/kiku/pkg/model"
	"google.golang.org/genai"
)

func crossrefTopics() []*model.TopicState {
	return []*model.TopicState{
		{Key: model.TopicBackground, Status: model.TopicThin, Text: "weekly reporting is manual"},
		{Key: model.TopicProblem, Status: model.TopicOK, Text: "reports eat Friday"},
		{Key: model.TopicAudience, Status: model.TopicEmpty},
		{Key: model.TopicImpact, Status: model.TopicThin, Text: "the team ships less"},
	}
}

func TestCrossRefBuckets(t *testing.T) {
	verdict := `{"candidates": [
		{"topic": "audience", "relevance": 0.9, "status": "thin", "text": "the sales lead reads the numbers every Monday", "rationale": "the statement names who consumes the reports", "contradicts": false, "note": ""},
		{"topic": "impact", "relevance": 0.65, "status": "thin", "text": "morale is slipping", "rationale": "borderline connection", "contradicts": false, "note": ""},
		{"topic": "background", "relevance": 0.2, "status": "thin", "text": "weak", "rationale": "weak", "contradicts": false, "note": ""},
		{"topic": "problem", "relevance": 0.95, "status": "ok", "text": "", "rationale": "", "contradicts": true, "note": "earlier the reports were said to be quick"},
		{"topic": "budget", "relevance": 0.9, "status": "thin", "text": "hallucinated", "rationale": "no such topic", "contradicts": false, "note": ""}
	]}`

	mock := &mockGemini{
		generateFunc: func(ctx context.Context, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
			return textResponse(verdict), nil
		},
	}
	c := newCrossReferencer(mock, DefaultConfig())

	result, err := c.Examine(context.Background(), crossrefTopics(), model.TopicBackground, nil, "our sales lead reviews them every Monday morning")
	gt.NoError(t, err)

	gt.V(t, len(result.Applied)).Equal(1)
	gt.V(t, result.Applied[0].Topic).Equal(model.TopicAudience)
	gt.V(t, result.Applied[0].Text).Equal("the sales lead reads the numbers every Monday")

	// 0.65 sits between the log and apply thresholds: logged, not applied
	gt.V(t, len(result.Logged)).Equal(1)
	gt.V(t, result.Logged[0].Topic).Equal(model.TopicImpact)

	// contradiction wins over relevance
	gt.V(t, len(result.Contradictions)).Equal(1)
	gt.V(t, result.Contradictions[0].Topic).Equal(model.TopicProblem)
}

func TestCrossRefSkipsFocusTopic(t *testing.T) {
	verdict := `{"candidates": [
		{"topic": "background", "relevance": 0.9, "status": "ok", "text": "new text", "rationale": "r", "contradicts": false, "note": ""}
	]}`
	mock := &mockGemini{
		generateFunc: func(ctx context.Context, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
			return textResponse(verdict), nil
		},
	}
	c := newCrossReferencer(mock, DefaultConfig())

	// the in-focus topic belongs to the planner, not to propagation
	result, err := c.Examine(context.Background(), crossrefTopics(), model.TopicBackground, nil, "msg")
	gt.NoError(t, err)
	gt.V(t, len(result.Applied)).Equal(0)
}

func TestCrossRefEmptyTextNotApplied(t *testing.T) {
	verdict := `{"candidates": [
		{"topic": "audience", "relevance": 0.9, "status": "thin", "text": "", "rationale": "r", "contradicts": false, "note": ""}
	]}`
	mock := &mockGemini{
		generateFunc: func(ctx context.Context, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
			return textResponse(verdict), nil
		},
	}
	c := newCrossReferencer(mock, DefaultConfig())

	result, err := c.Examine(context.Background(), crossrefTopics(), model.TopicBackground, nil, "msg")
	gt.NoError(t, err)
	gt.V(t, len(result.Applied)).Equal(0)
}

func TestCrossRefNoOtherTopics(t *testing.T) {
	mock := &mockGemini{}
	c := newCrossReferencer(mock, DefaultConfig())

	topics := []*model.TopicState{{Key: model.TopicBackground, Status: model.TopicThin}}
	result, err := c.Examine(context.Background(), topics, model.TopicBackground, nil, "anything")
	gt.NoError(t, err)
	gt.V(t, len(result.Applied)).Equal(0)
	// nothing to propagate to, no model call
	gt.V(t, mock.calls).Equal(0)
}

func TestCrossRefUnparseable(t *testing.T) {
	mock := &mockGemini{
		generateFunc: func(ctx context.Context, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
			return textResponse("no connections worth mentioning"), nil
		},
	}
	c := newCrossReferencer(mock, DefaultConfig())

	result, err := c.Examine(context.Background(), crossrefTopics(), model.TopicBackground, nil, "msg")
	gt.NoError(t, err)
	gt.V(t, len(result.Applied)).Equal(0)
	gt.V(t, len(result.Logged)).Equal(0)
}
