package model

import (
	"time"

	"github.com/m-mizutani/goerr/v2"
)

// TopicKey identifies a tracked interview dimension. The key set is dynamic:
// a base set exists from the start and the planner may introduce new topics
// at any turn.
type TopicKey string

// BaseTopics is the initial topic set for every session
var BaseTopics = []TopicKey{
	TopicBackground,
	TopicProblem,
	TopicAudience,
	TopicImpact,
	TopicUrgency,
}

const (
	TopicBackground TopicKey = "background"
	TopicProblem    TopicKey = "problem"
	TopicAudience   TopicKey = "audience"
	TopicImpact     TopicKey = "impact"
	TopicUrgency    TopicKey = "urgency"
)

// TopicStatus is the evidence level recorded for a topic
type TopicStatus string

const (
	TopicEmpty   TopicStatus = "empty"
	TopicThin    TopicStatus = "thin"
	TopicOK      TopicStatus = "ok"
	TopicSkipped TopicStatus = "skipped"
)

// Validate checks if the status is valid
func (s TopicStatus) Validate() error {
	switch s {
	case TopicEmpty, TopicThin, TopicOK, TopicSkipped:
		return nil
	default:
		return goerr.New("invalid topic status", goerr.V("status", s))
	}
}

// TopicState is the accumulated understanding of one interview dimension
type TopicState struct {
	SessionID SessionID
	Key       TopicKey
	Status    TopicStatus
	Text      string
	Rationale string
	Advice    string
	Example   string
	Quote     string
	Revision  int
	UpdatedAt time.Time
}

// NewTopicState creates an empty state for a topic key
func NewTopicState(sessionID SessionID, key TopicKey) *TopicState {
	return &TopicState{
		SessionID: sessionID,
		Key:       key,
		Status:    TopicEmpty,
		UpdatedAt: time.Now(),
	}
}

// Transition moves the topic to a new status. An "ok" verdict may only
// regress to a lower status when a non-empty reason is given; the reason is
// recorded in the rationale so the regression is never silent.
func (t *TopicState) Transition(next TopicStatus, reason string) error {
	if err := next.Validate(); err != nil {
		return err
	}
	if t.Status == TopicOK && next != TopicOK && reason == "" {
		return goerr.Wrap(ErrStatusRegression, "ok verdict demoted without reason",
			goerr.V("topic", t.Key), goerr.V("to", next))
	}
	if reason != "" && t.Status == TopicOK && next != TopicOK {
		t.Rationale = reason
	}
	t.Status = next
	t.Revision++
	t.UpdatedAt = time.Now()
	return nil
}

// Apply merges a topic update into the state, bumping the revision. Only
// non-empty fields overwrite existing content.
func (t *TopicState) Apply(u *TopicUpdate, demoteReason string) error {
	if err := t.Transition(u.Status, demoteReason); err != nil {
		return err
	}
	if u.Text != "" {
		t.Text = u.Text
	}
	if u.Rationale != "" {
		t.Rationale = u.Rationale
	}
	if u.Advice != "" {
		t.Advice = u.Advice
	}
	if u.Example != "" {
		t.Example = u.Example
	}
	if u.Quote != "" {
		t.Quote = u.Quote
	}
	return nil
}
