package repository

import (
	"context"

	"github.com/m-mizutani/kiku/pkg/model"
)

// Repository defines the persistence operations the interview pipeline
// requires. Only create/read/update-by-key/append semantics are needed; no
// cross-collection transactions.
type Repository interface {
	// PutSession saves a session record
	PutSession(ctx context.Context, session *model.Session) error

	// GetSession retrieves a session by ID
	GetSession(ctx context.Context, id model.SessionID) (*model.Session, error)

	// ListSessions retrieves sessions ordered by creation time descending
	ListSessions(ctx context.Context, offset, limit int) ([]*model.Session, error)

	// UpdateSessionPhase updates only the phase field of a session
	UpdateSessionPhase(ctx context.Context, id model.SessionID, phase model.Phase) error

	// PutAnchor saves the session anchor. Written once at turn 0.
	PutAnchor(ctx context.Context, anchor *model.Anchor) error

	// GetAnchor retrieves the session anchor, nil when not yet written
	GetAnchor(ctx context.Context, id model.SessionID) (*model.Anchor, error)

	// PutMessage appends a message. Fails when the (session, turn, role)
	// entry already exists; messages are never mutated.
	PutMessage(ctx context.Context, msg *model.Message) error

	// ListMessages retrieves all messages of a session ordered by turn
	ListMessages(ctx context.Context, id model.SessionID) ([]*model.Message, error)

	// PutPlan appends a plan record keyed by (session, turn)
	PutPlan(ctx context.Context, plan *model.Plan) error

	// GetLatestPlan retrieves the most recent plan, nil when none exists
	GetLatestPlan(ctx context.Context, id model.SessionID) (*model.Plan, error)

	// PutTopicState upserts a topic state by (session, key)
	PutTopicState(ctx context.Context, state *model.TopicState) error

	// ListTopicStates retrieves all topic states of a session
	ListTopicStates(ctx context.Context, id model.SessionID) ([]*model.TopicState, error)

	// UpsertInsight inserts or merges an insight by (session, label)
	UpsertInsight(ctx context.Context, insight *model.Insight) error

	// ListInsights retrieves all insights of a session
	ListInsights(ctx context.Context, id model.SessionID) ([]*model.Insight, error)

	// UpdateInsightWeight sets the user-adjusted weight of an insight
	UpdateInsightWeight(ctx context.Context, id model.SessionID, label string, weight int) error

	// PutSnapshot appends a snapshot keyed by (session, volume); each
	// volume is write-once
	PutSnapshot(ctx context.Context, snapshot *model.Snapshot) error

	// ListSnapshots retrieves all snapshots of a session ordered by volume
	ListSnapshots(ctx context.Context, id model.SessionID) ([]*model.Snapshot, error)

	// PutReport saves the final report of a session
	PutReport(ctx context.Context, report *model.Report) error

	// GetReport retrieves the final report, nil when not yet composed
	GetReport(ctx context.Context, id model.SessionID) (*model.Report, error)
}
