package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/kiku/pkg/model"
)

// memoryRepo is an in-memory Repository used for local runs and tests
type memoryRepo struct {
	mu        sync.RWMutex
	sessions  map[model.SessionID]*model.Session
	anchors   map[model.SessionID]*model.Anchor
	messages  map[model.SessionID][]*model.Message
	plans     map[model.SessionID][]*model.Plan
	topics    map[model.SessionID]map[model.TopicKey]*model.TopicState
	insights  map[model.SessionID]map[string]*model.Insight
	snapshots map[model.SessionID][]*model.Snapshot
	reports   map[model.SessionID]*model.Report
}

// NewMemory creates a new in-memory repository
func NewMemory() Repository {
	return &memoryRepo{
		sessions:  make(map[model.SessionID]*model.Session),
		anchors:   make(map[model.SessionID]*model.Anchor),
		messages:  make(map[model.SessionID][]*model.Message),
		plans:     make(map[model.SessionID][]*model.Plan),
		topics:    make(map[model.SessionID]map[model.TopicKey]*model.TopicState),
		insights:  make(map[model.SessionID]map[string]*model.Insight),
		snapshots: make(map[model.SessionID][]*model.Snapshot),
		reports:   make(map[model.SessionID]*model.Report),
	}
}

func (r *memoryRepo) PutSession(ctx context.Context, session *model.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *session
	r.sessions[session.ID] = &cp
	return nil
}

func (r *memoryRepo) GetSession(ctx context.Context, id model.SessionID) (*model.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, goerr.Wrap(model.ErrSessionNotFound, "session not in memory store", goerr.V("session_id", id))
	}
	cp := *s
	return &cp, nil
}

func (r *memoryRepo) ListSessions(ctx context.Context, offset, limit int) ([]*model.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	all := make([]*model.Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		cp := *s
		all = append(all, &cp)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	if offset >= len(all) {
		return nil, nil
	}
	all = all[offset:]
	if limit > 0 && limit < len(all) {
		all = all[:limit]
	}
	return all, nil
}

func (r *memoryRepo) UpdateSessionPhase(ctx context.Context, id model.SessionID, phase model.Phase) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return goerr.Wrap(model.ErrSessionNotFound, "session not in memory store", goerr.V("session_id", id))
	}
	s.Phase = phase
	s.UpdatedAt = time.Now()
	return nil
}

func (r *memoryRepo) PutAnchor(ctx context.Context, anchor *model.Anchor) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *anchor
	r.anchors[anchor.SessionID] = &cp
	return nil
}

func (r *memoryRepo) GetAnchor(ctx context.Context, id model.SessionID) (*model.Anchor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.anchors[id]
	if !ok {
		return nil, nil
	}
	cp := *a
	return &cp, nil
}

func (r *memoryRepo) PutMessage(ctx context.Context, msg *model.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.messages[msg.SessionID] {
		if m.Turn == msg.Turn && m.Role == msg.Role {
			return goerr.Wrap(model.ErrDuplicateTurn, "message already saved",
				goerr.V("session_id", msg.SessionID), goerr.V("turn", msg.Turn), goerr.V("role", msg.Role))
		}
	}
	cp := *msg
	r.messages[msg.SessionID] = append(r.messages[msg.SessionID], &cp)
	return nil
}

func (r *memoryRepo) ListMessages(ctx context.Context, id model.SessionID) ([]*model.Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	msgs := make([]*model.Message, 0, len(r.messages[id]))
	for _, m := range r.messages[id] {
		cp := *m
		msgs = append(msgs, &cp)
	}
	sort.SliceStable(msgs, func(i, j int) bool {
		if msgs[i].Turn != msgs[j].Turn {
			return msgs[i].Turn < msgs[j].Turn
		}
		// user message precedes the assistant reply within a turn
		return msgs[i].Role == model.RoleUser && msgs[j].Role != model.RoleUser
	})
	return msgs, nil
}

func (r *memoryRepo) PutPlan(ctx context.Context, plan *model.Plan) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *plan
	r.plans[plan.SessionID] = append(r.plans[plan.SessionID], &cp)
	return nil
}

func (r *memoryRepo) GetLatestPlan(ctx context.Context, id model.SessionID) (*model.Plan, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	plans := r.plans[id]
	if len(plans) == 0 {
		return nil, nil
	}
	latest := plans[0]
	for _, p := range plans[1:] {
		if p.Turn >= latest.Turn {
			latest = p
		}
	}
	cp := *latest
	return &cp, nil
}

func (r *memoryRepo) PutTopicState(ctx context.Context, state *model.TopicState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.topics[state.SessionID] == nil {
		r.topics[state.SessionID] = make(map[model.TopicKey]*model.TopicState)
	}
	cp := *state
	r.topics[state.SessionID][state.Key] = &cp
	return nil
}

func (r *memoryRepo) ListTopicStates(ctx context.Context, id model.SessionID) ([]*model.TopicState, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	states := make([]*model.TopicState, 0, len(r.topics[id]))
	for _, s := range r.topics[id] {
		cp := *s
		states = append(states, &cp)
	}
	sort.Slice(states, func(i, j int) bool { return states[i].Key < states[j].Key })
	return states, nil
}

func (r *memoryRepo) UpsertInsight(ctx context.Context, insight *model.Insight) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.insights[insight.SessionID] == nil {
		r.insights[insight.SessionID] = make(map[string]*model.Insight)
	}
	if existing, ok := r.insights[insight.SessionID][insight.Label]; ok {
		existing.Merge(insight)
		return nil
	}
	cp := *insight
	if cp.Weight == 0 {
		cp.Weight = cp.Strength
	}
	r.insights[insight.SessionID][insight.Label] = &cp
	return nil
}

func (r *memoryRepo) ListInsights(ctx context.Context, id model.SessionID) ([]*model.Insight, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	insights := make([]*model.Insight, 0, len(r.insights[id]))
	for _, ins := range r.insights[id] {
		cp := *ins
		insights = append(insights, &cp)
	}
	sort.Slice(insights, func(i, j int) bool {
		if insights[i].FirstTurn != insights[j].FirstTurn {
			return insights[i].FirstTurn < insights[j].FirstTurn
		}
		return insights[i].Label < insights[j].Label
	})
	return insights, nil
}

func (r *memoryRepo) UpdateInsightWeight(ctx context.Context, id model.SessionID, label string, weight int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	ins, ok := r.insights[id][label]
	if !ok {
		return goerr.Wrap(model.ErrInsightNotFound, "insight not in memory store",
			goerr.V("session_id", id), goerr.V("label", label))
	}
	ins.Weight = weight
	ins.UpdatedAt = time.Now()
	return nil
}

func (r *memoryRepo) PutSnapshot(ctx context.Context, snapshot *model.Snapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.snapshots[snapshot.SessionID] {
		if s.Volume == snapshot.Volume {
			return goerr.Wrap(model.ErrDuplicateVolume, "snapshot volume already written",
				goerr.V("session_id", snapshot.SessionID), goerr.V("volume", snapshot.Volume))
		}
	}
	cp := *snapshot
	cp.Topics = make([]*model.TopicState, 0, len(snapshot.Topics))
	for _, t := range snapshot.Topics {
		tc := *t
		cp.Topics = append(cp.Topics, &tc)
	}
	r.snapshots[snapshot.SessionID] = append(r.snapshots[snapshot.SessionID], &cp)
	return nil
}

func (r *memoryRepo) ListSnapshots(ctx context.Context, id model.SessionID) ([]*model.Snapshot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	snaps := make([]*model.Snapshot, 0, len(r.snapshots[id]))
	for _, s := range r.snapshots[id] {
		cp := *s
		snaps = append(snaps, &cp)
	}
	sort.Slice(snaps, func(i, j int) bool { return snaps[i].Volume < snaps[j].Volume })
	return snaps, nil
}

func (r *memoryRepo) PutReport(ctx context.Context, report *model.Report) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *report
	r.reports[report.SessionID] = &cp
	return nil
}

func (r *memoryRepo) GetReport(ctx context.Context, id model.SessionID) (*model.Report, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rep, ok := r.reports[id]
	if !ok {
		return nil, nil
	}
	cp := *rep
	return &cp, nil
}
