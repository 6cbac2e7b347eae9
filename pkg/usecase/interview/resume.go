package interview

import (
	"context"
	"sort"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/kiku/pkg/model"
	"github.com/m-mizutani/kiku/pkg/utils/logging"
)

// SessionState is the full reconstructed view of a stored session. Any
// client can rebuild its display from this alone; nothing about a session
// lives only in process memory.
type SessionState struct {
	Session   *model.Session
	Anchor    *model.Anchor
	Messages  []*model.Message
	Plan      *model.Plan // latest
	Topics    []*model.TopicState
	Insights  []*model.Insight
	Snapshots []*model.Snapshot
	Report    *model.Report
	Ranked    []RankedInsight // populated while the session is in weighting
}

// State reconstructs a session from persistence.
func (p *Pipeline) State(ctx context.Context, sessionID model.SessionID) (*SessionState, error) {
	session, err := p.repo.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	state := &SessionState{Session: session}

	if state.Anchor, err = p.repo.GetAnchor(ctx, sessionID); err != nil {
		return nil, err
	}
	if state.Messages, err = p.repo.ListMessages(ctx, sessionID); err != nil {
		return nil, err
	}
	if state.Plan, err = p.repo.GetLatestPlan(ctx, sessionID); err != nil {
		return nil, err
	}
	if state.Topics, err = p.repo.ListTopicStates(ctx, sessionID); err != nil {
		return nil, err
	}
	if state.Insights, err = p.repo.ListInsights(ctx, sessionID); err != nil {
		return nil, err
	}
	if state.Snapshots, err = p.repo.ListSnapshots(ctx, sessionID); err != nil {
		return nil, err
	}
	if state.Report, err = p.repo.GetReport(ctx, sessionID); err != nil {
		return nil, err
	}

	if session.Phase == model.PhaseWeighting && state.Anchor != nil {
		state.Ranked = Synthesize(state.Insights, state.Anchor.OriginalMessage, p.cfg)
	}
	return state, nil
}

// ListSessions pages over stored sessions, newest first.
func (p *Pipeline) ListSessions(ctx context.Context, offset, limit int) ([]*model.Session, error) {
	return p.repo.ListSessions(ctx, offset, limit)
}

// ResumeConversation reopens a weighting session for more questions. This
// is the only backward phase movement the session accepts; the weighting
// screen is discarded and the next user message continues the interview.
func (p *Pipeline) ResumeConversation(ctx context.Context, sessionID model.SessionID) (*model.Session, error) {
	mu := p.lock(sessionID)
	mu.Lock()
	defer mu.Unlock()

	session, err := p.repo.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Phase != model.PhaseWeighting {
		return nil, goerr.Wrap(model.ErrPhaseMismatch, "only a weighting session can reopen the conversation",
			goerr.V("session_id", sessionID), goerr.V("phase", session.Phase))
	}
	if err := p.advancePhase(ctx, session, model.PhaseConversation); err != nil {
		return nil, err
	}
	logging.From(ctx).Info("conversation reopened from weighting", "session_id", sessionID)
	return session, nil
}

// Finalize applies the user's weight adjustments, composes the report, and
// moves the session into the report phase. Weights are clamped to 0-100;
// a label that matches no stored insight fails the call before anything is
// written.
func (p *Pipeline) Finalize(ctx context.Context, sessionID model.SessionID, weights map[string]int) (*model.Report, error) {
	mu := p.lock(sessionID)
	mu.Lock()
	defer mu.Unlock()

	session, err := p.repo.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Phase != model.PhaseWeighting {
		return nil, goerr.Wrap(model.ErrPhaseMismatch, "session is not ready for weighting",
			goerr.V("session_id", sessionID), goerr.V("phase", session.Phase))
	}

	anchor, err := p.repo.GetAnchor(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if anchor == nil {
		return nil, goerr.New("session has no anchor", goerr.V("session_id", sessionID))
	}

	insights, err := p.repo.ListInsights(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	known := make(map[string]bool, len(insights))
	for _, ins := range insights {
		known[ins.Label] = true
	}
	for label := range weights {
		if !known[label] {
			return nil, goerr.Wrap(model.ErrInsightNotFound, "weight for unknown insight",
				goerr.V("session_id", sessionID), goerr.V("label", label))
		}
	}
	for label, w := range weights {
		if err := p.repo.UpdateInsightWeight(ctx, sessionID, label, clampInt(w, 0, 100)); err != nil {
			return nil, err
		}
	}
	if len(weights) > 0 {
		if insights, err = p.repo.ListInsights(ctx, sessionID); err != nil {
			return nil, err
		}
	}

	purpose := anchor.InitialPurpose
	if plan, err := p.repo.GetLatestPlan(ctx, sessionID); err != nil {
		return nil, err
	} else if plan != nil && plan.Purpose != "" {
		purpose = plan.Purpose
	}

	ranked := Synthesize(insights, anchor.OriginalMessage, p.cfg)
	// The user's adjustments, not discovery order, decide prominence in the
	// report.
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Weight > ranked[j].Weight
	})

	topics, err := p.repo.ListTopicStates(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	markdown, err := p.reporter.Write(ctx, anchor, purpose, p.budget.MinimalView(topics), ranked)
	if err != nil {
		return nil, err
	}

	report := &model.Report{
		SessionID: sessionID,
		Purpose:   purpose,
		Markdown:  markdown,
		CreatedAt: time.Now(),
	}
	if err := p.repo.PutReport(ctx, report); err != nil {
		return nil, err
	}
	if err := p.advancePhase(ctx, session, model.PhaseReport); err != nil {
		return nil, err
	}
	p.archiveReport(ctx, report)
	return report, nil
}

// CompleteSession closes a reported session.
func (p *Pipeline) CompleteSession(ctx context.Context, sessionID model.SessionID) error {
	mu := p.lock(sessionID)
	mu.Lock()
	defer mu.Unlock()

	session, err := p.repo.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if session.Phase != model.PhaseReport {
		return goerr.Wrap(model.ErrPhaseMismatch, "session has no presented report",
			goerr.V("session_id", sessionID), goerr.V("phase", session.Phase))
	}
	return p.advancePhase(ctx, session, model.PhaseComplete)
}

// archiveReport mirrors the report to object storage when configured.
// Archive failures are logged; the report of record lives in the repository.
func (p *Pipeline) archiveReport(ctx context.Context, report *model.Report) {
	if p.storage == nil {
		return
	}
	logger := logging.From(ctx)
	key := "sessions/" + string(report.SessionID) + "/report.md"
	w, err := p.storage.Put(ctx, key)
	if err != nil {
		logger.Warn("failed to open report archive object", "key", key, "error", err)
		return
	}
	if _, err := w.Write([]byte(report.Markdown)); err != nil {
		logger.Warn("failed to write report archive", "key", key, "error", err)
		_ = w.Close()
		return
	}
	if err := w.Close(); err != nil {
		logger.Warn("failed to finalize report archive", "key", key, "error", err)
		return
	}
	logger.Info("report archived", "key", key)
}
