package model

import (
	"math"
	"time"

	"github.com/m-mizutani/goerr/v2"
)

// Layer classifies a sub-question or insight by abstraction depth
type Layer string

const (
	LayerAttribute   Layer = "attribute"
	LayerConsequence Layer = "consequence"
	LayerValue       Layer = "value"
)

// Validate checks if the layer is valid
func (l Layer) Validate() error {
	switch l {
	case LayerAttribute, LayerConsequence, LayerValue:
		return nil
	default:
		return goerr.New("invalid layer", goerr.V("layer", l))
	}
}

// Increment returns the completeness contribution of resolving an ambiguity
// at this layer, before scaling by confirmation strength.
func (l Layer) Increment() int {
	switch l {
	case LayerAttribute:
		return 5
	case LayerConsequence:
		return 10
	case LayerValue:
		return 20
	default:
		return 0
	}
}

// ScaledIncrement returns the layer increment scaled by a confirmation
// strength in [0,1]. A strength of 0 contributes nothing.
func (l Layer) ScaledIncrement(confirmation float64) int {
	if confirmation <= 0 {
		return 0
	}
	if confirmation > 1 {
		confirmation = 1
	}
	return int(math.Round(float64(l.Increment()) * confirmation))
}

// QuestionStyle selects how the interviewer frames the next question
type QuestionStyle string

const (
	StyleOpen       QuestionStyle = "open"       // listen broadly, low completeness
	StyleHypothesis QuestionStyle = "hypothesis" // present a hypothesis to confirm or reject
)

// SubQuestionStatus tracks whether an ambiguity is still being chased
type SubQuestionStatus string

const (
	SubQuestionActive   SubQuestionStatus = "active"
	SubQuestionResolved SubQuestionStatus = "resolved"
)

// SubQuestion is one derived ambiguity the interview still has to settle
type SubQuestion struct {
	Question string            `json:"question"`
	Layer    Layer             `json:"layer"`
	Status   SubQuestionStatus `json:"status"`
}

// FilteredTerms holds solution-level vocabulary detected in the conversation.
// How-terms must not leak into Why reasoning or interviewer questions;
// What-terms are allowed in conversation but classified for the report.
type FilteredTerms struct {
	How  []string `json:"how"`
	What []string `json:"what"`
}

// NextFocus is the single active next-step task of a plan
type NextFocus struct {
	TargetLayer Layer         `json:"target_layer"`
	Focus       string        `json:"focus"`
	Style       QuestionStyle `json:"style"`
}

// TopicUpdate is the planner's verdict on the in-focus topic for the turn
type TopicUpdate struct {
	Key       TopicKey    `json:"key"`
	Status    TopicStatus `json:"status"`
	Text      string      `json:"text"`
	Rationale string      `json:"rationale"`
	Advice    string      `json:"advice"`
	Example   string      `json:"example"`
	Quote     string      `json:"quote"`
	NextTopic TopicKey    `json:"next_topic,omitempty"`
}

// Plan is the planner's per-turn structured assessment. Plans are immutable
// once written; only the most recent plan per session is "current".
type Plan struct {
	SessionID    SessionID     `json:"session_id"`
	Turn         int           `json:"turn"`
	Completeness int           `json:"completeness"` // 0-100 Why understanding
	Purpose      string        `json:"purpose"`      // canonical restatement
	Filtered     FilteredTerms `json:"filtered"`
	SubQuestions []SubQuestion `json:"sub_questions"`
	Insights     []Insight     `json:"insights"` // delta for this turn only
	NextFocus    NextFocus     `json:"next_focus"`
	TopicUpdate  *TopicUpdate  `json:"topic_update,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
}

// AllResolved reports whether every sub-question has been settled. An empty
// sub-question set does not count as resolved.
func (p *Plan) AllResolved() bool {
	if len(p.SubQuestions) == 0 {
		return false
	}
	for _, q := range p.SubQuestions {
		if q.Status != SubQuestionResolved {
			return false
		}
	}
	return true
}

// HasCorrection reports whether any insight in the plan carries a
// confirmation strength of zero, meaning the user rejected or corrected a
// hypothesis this turn.
func (p *Plan) HasCorrection() bool {
	for _, ins := range p.Insights {
		if ins.Confirmation == 0 {
			return true
		}
	}
	return false
}

// DefaultPlan returns the minimal fallback plan used when the planner output
// cannot be parsed. It carries one generic deepening task so the conversation
// can continue, and the previous turn's purpose and completeness so one bad
// response never reads as lost progress.
func DefaultPlan(sessionID SessionID, turn int, purpose string, completeness int) *Plan {
	return &Plan{
		SessionID:    sessionID,
		Turn:         turn,
		Completeness: completeness,
		Purpose:      purpose,
		SubQuestions: []SubQuestion{
			{
				Question: "What outcome would make this effort worthwhile for you?",
				Layer:    LayerConsequence,
				Status:   SubQuestionActive,
			},
		},
		NextFocus: NextFocus{
			TargetLayer: LayerConsequence,
			Focus:       "deepen the most recent statement",
			Style:       StyleOpen,
		},
		CreatedAt: time.Now(),
	}
}
