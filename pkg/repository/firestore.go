package repository

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/kiku/pkg/model"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	collSessions  = "sessions"
	collMessages  = "messages"
	collPlans     = "plans"
	collTopics    = "topics"
	collInsights  = "insights"
	collSnapshots = "snapshots"
	collMeta      = "meta"
)

// firestoreRepo implements Repository using Firestore. Each session is a
// document with messages/plans/topics/insights/snapshots subcollections.
type firestoreRepo struct {
	client *firestore.Client
}

// NewFirestore creates a new Firestore repository
func NewFirestore(ctx context.Context, projectID, databaseID string) (Repository, error) {
	client, err := firestore.NewClientWithDatabase(ctx, projectID, databaseID)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create firestore client",
			goerr.V("project", projectID), goerr.V("database", databaseID))
	}
	return &firestoreRepo{client: client}, nil
}

func (r *firestoreRepo) session(id model.SessionID) *firestore.DocumentRef {
	return r.client.Collection(collSessions).Doc(string(id))
}

// insightDocID encodes a free-form label into a Firestore-safe document ID
func insightDocID(label string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(label))
}

func notFound(err error) bool {
	return status.Code(err) == codes.NotFound
}

func (r *firestoreRepo) PutSession(ctx context.Context, session *model.Session) error {
	if _, err := r.session(session.ID).Set(ctx, session); err != nil {
		return goerr.Wrap(err, "failed to put session", goerr.V("session_id", session.ID))
	}
	return nil
}

func (r *firestoreRepo) GetSession(ctx context.Context, id model.SessionID) (*model.Session, error) {
	doc, err := r.session(id).Get(ctx)
	if err != nil {
		if notFound(err) {
			return nil, goerr.Wrap(model.ErrSessionNotFound, "no such session document", goerr.V("session_id", id))
		}
		return nil, goerr.Wrap(err, "failed to get session", goerr.V("session_id", id))
	}
	var session model.Session
	if err := doc.DataTo(&session); err != nil {
		return nil, goerr.Wrap(err, "failed to decode session", goerr.V("session_id", id))
	}
	return &session, nil
}

func (r *firestoreRepo) ListSessions(ctx context.Context, offset, limit int) ([]*model.Session, error) {
	q := r.client.Collection(collSessions).OrderBy("CreatedAt", firestore.Desc).Offset(offset)
	if limit > 0 {
		q = q.Limit(limit)
	}
	docs, err := q.Documents(ctx).GetAll()
	if err != nil {
		return nil, goerr.Wrap(err, "failed to list sessions")
	}
	sessions := make([]*model.Session, 0, len(docs))
	for _, doc := range docs {
		var s model.Session
		if err := doc.DataTo(&s); err != nil {
			return nil, goerr.Wrap(err, "failed to decode session", goerr.V("doc", doc.Ref.ID))
		}
		sessions = append(sessions, &s)
	}
	return sessions, nil
}

func (r *firestoreRepo) UpdateSessionPhase(ctx context.Context, id model.SessionID, phase model.Phase) error {
	_, err := r.session(id).Update(ctx, []firestore.Update{
		{Path: "Phase", Value: phase},
		{Path: "UpdatedAt", Value: time.Now()},
	})
	if err != nil {
		return goerr.Wrap(err, "failed to update session phase",
			goerr.V("session_id", id), goerr.V("phase", phase))
	}
	return nil
}

func (r *firestoreRepo) PutAnchor(ctx context.Context, anchor *model.Anchor) error {
	if _, err := r.session(anchor.SessionID).Collection(collMeta).Doc("anchor").Set(ctx, anchor); err != nil {
		return goerr.Wrap(err, "failed to put anchor", goerr.V("session_id", anchor.SessionID))
	}
	return nil
}

func (r *firestoreRepo) GetAnchor(ctx context.Context, id model.SessionID) (*model.Anchor, error) {
	doc, err := r.session(id).Collection(collMeta).Doc("anchor").Get(ctx)
	if err != nil {
		if notFound(err) {
			return nil, nil
		}
		return nil, goerr.Wrap(err, "failed to get anchor", goerr.V("session_id", id))
	}
	var anchor model.Anchor
	if err := doc.DataTo(&anchor); err != nil {
		return nil, goerr.Wrap(err, "failed to decode anchor", goerr.V("session_id", id))
	}
	return &anchor, nil
}

func (r *firestoreRepo) PutMessage(ctx context.Context, msg *model.Message) error {
	docID := fmt.Sprintf("%06d-%s", msg.Turn, msg.Role)
	// Create rejects an existing document; messages are append-only
	if _, err := r.session(msg.SessionID).Collection(collMessages).Doc(docID).Create(ctx, msg); err != nil {
		if status.Code(err) == codes.AlreadyExists {
			return goerr.Wrap(model.ErrDuplicateTurn, "message document exists",
				goerr.V("session_id", msg.SessionID), goerr.V("turn", msg.Turn), goerr.V("role", msg.Role))
		}
		return goerr.Wrap(err, "failed to put message",
			goerr.V("session_id", msg.SessionID), goerr.V("turn", msg.Turn))
	}
	return nil
}

func (r *firestoreRepo) ListMessages(ctx context.Context, id model.SessionID) ([]*model.Message, error) {
	docs, err := r.session(id).Collection(collMessages).
		OrderBy(firestore.DocumentID, firestore.Asc).Documents(ctx).GetAll()
	if err != nil {
		return nil, goerr.Wrap(err, "failed to list messages", goerr.V("session_id", id))
	}
	msgs := make([]*model.Message, 0, len(docs))
	for _, doc := range docs {
		var m model.Message
		if err := doc.DataTo(&m); err != nil {
			return nil, goerr.Wrap(err, "failed to decode message", goerr.V("doc", doc.Ref.ID))
		}
		msgs = append(msgs, &m)
	}
	return msgs, nil
}

func (r *firestoreRepo) PutPlan(ctx context.Context, plan *model.Plan) error {
	docID := fmt.Sprintf("%06d", plan.Turn)
	if _, err := r.session(plan.SessionID).Collection(collPlans).Doc(docID).Set(ctx, plan); err != nil {
		return goerr.Wrap(err, "failed to put plan",
			goerr.V("session_id", plan.SessionID), goerr.V("turn", plan.Turn))
	}
	return nil
}

func (r *firestoreRepo) GetLatestPlan(ctx context.Context, id model.SessionID) (*model.Plan, error) {
	docs, err := r.session(id).Collection(collPlans).
		OrderBy(firestore.DocumentID, firestore.Desc).Limit(1).Documents(ctx).GetAll()
	if err != nil {
		return nil, goerr.Wrap(err, "failed to get latest plan", goerr.V("session_id", id))
	}
	if len(docs) == 0 {
		return nil, nil
	}
	var plan model.Plan
	if err := docs[0].DataTo(&plan); err != nil {
		return nil, goerr.Wrap(err, "failed to decode plan", goerr.V("doc", docs[0].Ref.ID))
	}
	return &plan, nil
}

func (r *firestoreRepo) PutTopicState(ctx context.Context, state *model.TopicState) error {
	if _, err := r.session(state.SessionID).Collection(collTopics).Doc(string(state.Key)).Set(ctx, state); err != nil {
		return goerr.Wrap(err, "failed to put topic state",
			goerr.V("session_id", state.SessionID), goerr.V("topic", state.Key))
	}
	return nil
}

func (r *firestoreRepo) ListTopicStates(ctx context.Context, id model.SessionID) ([]*model.TopicState, error) {
	docs, err := r.session(id).Collection(collTopics).Documents(ctx).GetAll()
	if err != nil {
		return nil, goerr.Wrap(err, "failed to list topic states", goerr.V("session_id", id))
	}
	states := make([]*model.TopicState, 0, len(docs))
	for _, doc := range docs {
		var s model.TopicState
		if err := doc.DataTo(&s); err != nil {
			return nil, goerr.Wrap(err, "failed to decode topic state", goerr.V("doc", doc.Ref.ID))
		}
		states = append(states, &s)
	}
	return states, nil
}

func (r *firestoreRepo) UpsertInsight(ctx context.Context, insight *model.Insight) error {
	ref := r.session(insight.SessionID).Collection(collInsights).Doc(insightDocID(insight.Label))
	err := r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		doc, err := tx.Get(ref)
		if err != nil {
			if notFound(err) {
				stored := *insight
				if stored.Weight == 0 {
					stored.Weight = stored.Strength
				}
				return tx.Set(ref, &stored)
			}
			return err
		}
		var existing model.Insight
		if err := doc.DataTo(&existing); err != nil {
			return err
		}
		existing.Merge(insight)
		return tx.Set(ref, &existing)
	})
	if err != nil {
		return goerr.Wrap(err, "failed to upsert insight",
			goerr.V("session_id", insight.SessionID), goerr.V("label", insight.Label))
	}
	return nil
}

func (r *firestoreRepo) ListInsights(ctx context.Context, id model.SessionID) ([]*model.Insight, error) {
	docs, err := r.session(id).Collection(collInsights).
		OrderBy("FirstTurn", firestore.Asc).Documents(ctx).GetAll()
	if err != nil {
		return nil, goerr.Wrap(err, "failed to list insights", goerr.V("session_id", id))
	}
	insights := make([]*model.Insight, 0, len(docs))
	for _, doc := range docs {
		var ins model.Insight
		if err := doc.DataTo(&ins); err != nil {
			return nil, goerr.Wrap(err, "failed to decode insight", goerr.V("doc", doc.Ref.ID))
		}
		insights = append(insights, &ins)
	}
	return insights, nil
}

func (r *firestoreRepo) UpdateInsightWeight(ctx context.Context, id model.SessionID, label string, weight int) error {
	ref := r.session(id).Collection(collInsights).Doc(insightDocID(label))
	_, err := ref.Update(ctx, []firestore.Update{
		{Path: "Weight", Value: weight},
		{Path: "UpdatedAt", Value: time.Now()},
	})
	if err != nil {
		if notFound(err) {
			return goerr.Wrap(model.ErrInsightNotFound, "no such insight document",
				goerr.V("session_id", id), goerr.V("label", label))
		}
		return goerr.Wrap(err, "failed to update insight weight",
			goerr.V("session_id", id), goerr.V("label", label))
	}
	return nil
}

func (r *firestoreRepo) PutSnapshot(ctx context.Context, snapshot *model.Snapshot) error {
	docID := fmt.Sprintf("%06d", snapshot.Volume)
	if _, err := r.session(snapshot.SessionID).Collection(collSnapshots).Doc(docID).Create(ctx, snapshot); err != nil {
		if status.Code(err) == codes.AlreadyExists {
			return goerr.Wrap(model.ErrDuplicateVolume, "snapshot volume exists",
				goerr.V("session_id", snapshot.SessionID), goerr.V("volume", snapshot.Volume))
		}
		return goerr.Wrap(err, "failed to put snapshot",
			goerr.V("session_id", snapshot.SessionID), goerr.V("volume", snapshot.Volume))
	}
	return nil
}

func (r *firestoreRepo) ListSnapshots(ctx context.Context, id model.SessionID) ([]*model.Snapshot, error) {
	docs, err := r.session(id).Collection(collSnapshots).
		OrderBy(firestore.DocumentID, firestore.Asc).Documents(ctx).GetAll()
	if err != nil {
		return nil, goerr.Wrap(err, "failed to list snapshots", goerr.V("session_id", id))
	}
	snaps := make([]*model.Snapshot, 0, len(docs))
	for _, doc := range docs {
		var s model.Snapshot
		if err := doc.DataTo(&s); err != nil {
			return nil, goerr.Wrap(err, "failed to decode snapshot", goerr.V("doc", doc.Ref.ID))
		}
		snaps = append(snaps, &s)
	}
	return snaps, nil
}

func (r *firestoreRepo) PutReport(ctx context.Context, report *model.Report) error {
	if _, err := r.session(report.SessionID).Collection(collMeta).Doc("report").Set(ctx, report); err != nil {
		return goerr.Wrap(err, "failed to put report", goerr.V("session_id", report.SessionID))
	}
	return nil
}

func (r *firestoreRepo) GetReport(ctx context.Context, id model.SessionID) (*model.Report, error) {
	doc, err := r.session(id).Collection(collMeta).Doc("report").Get(ctx)
	if err != nil {
		if notFound(err) {
			return nil, nil
		}
		return nil, goerr.Wrap(err, "failed to get report", goerr.V("session_id", id))
	}
	var report model.Report
	if err := doc.DataTo(&report); err != nil {
		return nil, goerr.Wrap(err, "failed to decode report", goerr.V("session_id", id))
	}
	return &report, nil
}
