package repository_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/kiku/pkg/model"
	"github.com/m-mizutani/kiku/pkg/repository"
)

func TestMemorySession(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemory()

	session := model.NewSession("rebuild the intranet")
	gt.NoError(t, repo.PutSession(ctx, session))

	got, err := repo.GetSession(ctx, session.ID)
	gt.NoError(t, err)
	gt.V(t, got.Intent).Equal("rebuild the intranet")
	gt.V(t, got.Phase).Equal(model.PhaseWelcome)

	gt.NoError(t, repo.UpdateSessionPhase(ctx, session.ID, model.PhaseConversation))
	got, err = repo.GetSession(ctx, session.ID)
	gt.NoError(t, err)
	gt.V(t, got.Phase).Equal(model.PhaseConversation)

	_, err = repo.GetSession(ctx, model.NewSessionID())
	gt.Error(t, err)
	gt.True(t, errors.Is(err, model.ErrSessionNotFound))
}

func TestMemoryMessagesAppendOnly(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemory()
	session := model.NewSession("")
	gt.NoError(t, repo.PutSession(ctx, session))

	msg := &model.Message{
		SessionID: session.ID,
		Turn:      0,
		Role:      model.RoleUser,
		Content:   "we need a dashboard",
		CreatedAt: time.Now(),
	}
	gt.NoError(t, repo.PutMessage(ctx, msg))

	// Same (turn, role) must be rejected, not overwritten.
	dup := *msg
	dup.Content = "something else"
	err := repo.PutMessage(ctx, &dup)
	gt.Error(t, err)
	gt.True(t, errors.Is(err, model.ErrDuplicateTurn))

	gt.NoError(t, repo.PutMessage(ctx, &model.Message{
		SessionID: session.ID, Turn: 0, Role: model.RoleAssistant, Content: "why a dashboard?",
	}))
	gt.NoError(t, repo.PutMessage(ctx, &model.Message{
		SessionID: session.ID, Turn: 1, Role: model.RoleUser, Content: "to see progress",
	}))

	msgs, err := repo.ListMessages(ctx, session.ID)
	gt.NoError(t, err)
	gt.V(t, len(msgs)).Equal(3)
	gt.V(t, msgs[0].Content).Equal("we need a dashboard")
	gt.V(t, msgs[2].Turn).Equal(1)
}

func TestMemoryInsightUpsert(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemory()
	session := model.NewSession("")
	gt.NoError(t, repo.PutSession(ctx, session))

	first := &model.Insight{
		SessionID:    session.ID,
		Label:        "visibility reduces anxiety",
		Layer:        model.LayerConsequence,
		Strength:     40,
		Confirmation: 0.6,
		FirstTurn:    1,
		LastTurn:     1,
	}
	gt.NoError(t, repo.UpsertInsight(ctx, first))

	// Re-upserting merges by label; strength only moves up.
	gt.NoError(t, repo.UpsertInsight(ctx, &model.Insight{
		SessionID:    session.ID,
		Label:        "visibility reduces anxiety",
		Layer:        model.LayerConsequence,
		Strength:     70,
		Confirmation: 0.9,
		FirstTurn:    3,
		LastTurn:     3,
	}))
	gt.NoError(t, repo.UpsertInsight(ctx, &model.Insight{
		SessionID:    session.ID,
		Label:        "visibility reduces anxiety",
		Layer:        model.LayerConsequence,
		Strength:     50,
		Confirmation: 0.9,
		LastTurn:     4,
	}))

	insights, err := repo.ListInsights(ctx, session.ID)
	gt.NoError(t, err)
	gt.V(t, len(insights)).Equal(1)
	gt.V(t, insights[0].Strength).Equal(70)
	gt.V(t, insights[0].FirstTurn).Equal(1)
	gt.V(t, insights[0].LastTurn).Equal(4)

	gt.NoError(t, repo.UpdateInsightWeight(ctx, session.ID, "visibility reduces anxiety", 95))
	insights, err = repo.ListInsights(ctx, session.ID)
	gt.NoError(t, err)
	gt.V(t, insights[0].Weight).Equal(95)
	gt.V(t, insights[0].Strength).Equal(70)

	err = repo.UpdateInsightWeight(ctx, session.ID, "no such label", 10)
	gt.Error(t, err)
	gt.True(t, errors.Is(err, model.ErrInsightNotFound))
}

func TestMemorySnapshotWriteOnce(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemory()
	session := model.NewSession("")
	gt.NoError(t, repo.PutSession(ctx, session))

	snap := &model.Snapshot{
		SessionID: session.ID,
		Volume:    1,
		Turn:      4,
		Topics:    []*model.TopicState{model.NewTopicState(session.ID, model.TopicProblem)},
	}
	gt.NoError(t, repo.PutSnapshot(ctx, snap))

	err := repo.PutSnapshot(ctx, &model.Snapshot{SessionID: session.ID, Volume: 1, Turn: 9})
	gt.Error(t, err)
	gt.True(t, errors.Is(err, model.ErrDuplicateVolume))

	gt.NoError(t, repo.PutSnapshot(ctx, &model.Snapshot{SessionID: session.ID, Volume: 2, Turn: 9}))
	snaps, err := repo.ListSnapshots(ctx, session.ID)
	gt.NoError(t, err)
	gt.V(t, len(snaps)).Equal(2)
	gt.V(t, snaps[0].Volume).Equal(1)
}

func TestMemoryPlansAndTopics(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemory()
	session := model.NewSession("")
	gt.NoError(t, repo.PutSession(ctx, session))

	none, err := repo.GetLatestPlan(ctx, session.ID)
	gt.NoError(t, err)
	gt.Nil(t, none)

	gt.NoError(t, repo.PutPlan(ctx, &model.Plan{SessionID: session.ID, Turn: 0, Completeness: 10}))
	gt.NoError(t, repo.PutPlan(ctx, &model.Plan{SessionID: session.ID, Turn: 1, Completeness: 25}))

	latest, err := repo.GetLatestPlan(ctx, session.ID)
	gt.NoError(t, err)
	gt.V(t, latest.Turn).Equal(1)
	gt.V(t, latest.Completeness).Equal(25)

	st := model.NewTopicState(session.ID, model.TopicUrgency)
	gt.NoError(t, st.Transition(model.TopicThin, ""))
	gt.NoError(t, repo.PutTopicState(ctx, st))

	topics, err := repo.ListTopicStates(ctx, session.ID)
	gt.NoError(t, err)
	gt.V(t, len(topics)).Equal(1)
	gt.V(t, topics[0].Status).Equal(model.TopicThin)

	// Upsert replaces the stored state for the same key.
	gt.NoError(t, st.Transition(model.TopicOK, ""))
	gt.NoError(t, repo.PutTopicState(ctx, st))
	topics, err = repo.ListTopicStates(ctx, session.ID)
	gt.NoError(t, err)
	gt.V(t, len(topics)).Equal(1)
	gt.V(t, topics[0].Status).Equal(model.TopicOK)
}
