package interview

import (
	"context"
	_ "embed"
	"strings"
	"sync"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/kiku/pkg/adapter"
	"github.com/m-mizutani/kiku/pkg/model"
	"github.com/m-mizutani/kiku/pkg/repository"
	"github.com/m-mizutani/kiku/pkg/utils/logging"
)

// minConfirmedInsights gates the normal transition into weighting: a
// high completeness score with nothing confirmed is a scoring artifact,
// not a finished conversation.
const minConfirmedInsights = 1

//go:embed prompt/closing.md
var closingMessageRaw string

// closingMessage is shown when the conversation hands over to weighting
var closingMessage = strings.TrimSpace(closingMessageRaw)

// Pipeline coordinates the interview roles for each conversational turn.
// All model calls and persistence for one session are serialized; turns on
// different sessions proceed independently.
type Pipeline struct {
	repo    repository.Repository
	storage adapter.Storage
	cfg     Config

	planner     *planner
	interviewer *interviewer
	alignment   *alignmentChecker
	reviewer    *reviewer
	crossref    *crossReferencer
	reporter    *reporter
	budget      *budgeter

	sessionLocks sync.Map // model.SessionID -> *sync.Mutex
}

type Option func(*Pipeline)

// WithStorage enables archiving of composed reports to object storage.
func WithStorage(s adapter.Storage) Option {
	return func(p *Pipeline) {
		p.storage = s
	}
}

func New(repo repository.Repository, gemini adapter.Gemini, cfg Config, opts ...Option) *Pipeline {
	p := &Pipeline{
		repo:        repo,
		cfg:         cfg,
		planner:     newPlanner(gemini, cfg),
		interviewer: newInterviewer(gemini),
		alignment:   newAlignmentChecker(gemini, cfg),
		reviewer:    newReviewer(gemini),
		crossref:    newCrossReferencer(gemini, cfg),
		reporter:    newReporter(gemini),
		budget:      newBudgeter(cfg),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Pipeline) lock(id model.SessionID) *sync.Mutex {
	mu, _ := p.sessionLocks.LoadOrStore(id, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// CreateSession starts a new interview in the welcome phase and seeds the
// base topic set.
func (p *Pipeline) CreateSession(ctx context.Context) (*model.Session, error) {
	session := model.NewSession("")
	if err := p.repo.PutSession(ctx, session); err != nil {
		return nil, err
	}
	for _, key := range model.BaseTopics {
		if err := p.repo.PutTopicState(ctx, model.NewTopicState(session.ID, key)); err != nil {
			return nil, err
		}
	}
	logging.From(ctx).Info("session created", "session_id", session.ID)
	return session, nil
}

// TurnResult is what one conversational turn hands back to the caller.
type TurnResult struct {
	SessionID    model.SessionID
	Turn         int
	Phase        model.Phase
	Question     string          // set while the conversation continues
	Ranked       []RankedInsight // set when the turn moved into weighting
	Conflicts    []CrossRefCandidate
	Completeness int
	Validation   *model.ValidationOutcome
}

// HandleTurn runs one full turn: record the user message, plan under the
// alignment audit, apply the topic verdict, propagate the message across the
// out-of-focus topics, then either ask the next question or hand the session
// over to weighting.
func (p *Pipeline) HandleTurn(ctx context.Context, sessionID model.SessionID, userMessage string) (*TurnResult, error) {
	mu := p.lock(sessionID)
	mu.Lock()
	defer mu.Unlock()

	logger := logging.From(ctx)

	session, err := p.repo.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Phase != model.PhaseWelcome && session.Phase != model.PhaseConversation {
		return nil, goerr.Wrap(model.ErrPhaseMismatch, "session does not accept messages",
			goerr.V("session_id", sessionID), goerr.V("phase", session.Phase))
	}

	msgs, err := p.repo.ListMessages(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	turn := countUserTurns(msgs)

	if err := p.repo.PutMessage(ctx, &model.Message{
		SessionID: sessionID,
		Turn:      turn,
		Role:      model.RoleUser,
		Content:   userMessage,
		CreatedAt: time.Now(),
	}); err != nil {
		return nil, err
	}

	anchor, err := p.repo.GetAnchor(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if anchor == nil {
		anchor = &model.Anchor{
			SessionID:       sessionID,
			OriginalMessage: userMessage,
			CoreKeywords:    ExtractKeywords(userMessage),
			InitialPurpose:  userMessage,
			CreatedAt:       time.Now(),
		}
		if err := p.repo.PutAnchor(ctx, anchor); err != nil {
			return nil, err
		}
		session.Intent = userMessage
		session.UpdatedAt = time.Now()
		if err := p.repo.PutSession(ctx, session); err != nil {
			logger.Warn("failed to store session intent", "error", err)
		}
		if session.Phase == model.PhaseWelcome {
			if err := p.advancePhase(ctx, session, model.PhaseConversation); err != nil {
				return nil, err
			}
		}
		logger.Info("anchor established",
			"session_id", sessionID, "keywords", anchor.CoreKeywords)
	}

	insights, err := p.repo.ListInsights(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	prevPlan, err := p.repo.GetLatestPlan(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	topics, err := p.repo.ListTopicStates(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	history := p.budget.History(msgs)

	plan, validation := p.runPlanner(ctx, plannerInput{
		SessionID:   sessionID,
		Turn:        turn,
		UserMessage: userMessage,
		Anchor:      anchor,
		PrevPlan:    prevPlan,
		Insights:    insights,
		History:     history,
		TopicView:   p.budget.FocusedView(topics, focusTopic(prevPlan)),
		FocusTopic:  focusTopic(prevPlan),
	}, prevPlan)
	if err := ctx.Err(); err != nil {
		return nil, goerr.Wrap(err, "turn canceled during planning")
	}

	p.applyTopicUpdate(ctx, plan, topics, validation)

	if err := p.repo.PutPlan(ctx, plan); err != nil {
		logger.Warn("failed to persist plan", "turn", turn, "error", err)
	}
	for i := range plan.Insights {
		ins := plan.Insights[i]
		// A rejected hypothesis contributes nothing; the planner already
		// opened a fresh sub-question for it.
		if ins.Confirmation == 0 {
			continue
		}
		ins.LastTurn = turn
		if err := p.repo.UpsertInsight(ctx, &ins); err != nil {
			logger.Warn("failed to persist insight", "label", ins.Label, "error", err)
		}
	}

	insights, err = p.repo.ListInsights(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	topics, err = p.repo.ListTopicStates(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	// Cross-reference after the in-focus verdict has landed: the same
	// utterance may change topics the planner never looked at.
	focus := focusTopic(prevPlan)
	if plan.TopicUpdate != nil && plan.TopicUpdate.Key != "" {
		focus = plan.TopicUpdate.Key
	}
	xref, err := p.crossref.Examine(ctx, topics, focus, history, userMessage)
	if err != nil {
		if ctx.Err() != nil {
			return nil, goerr.Wrap(ctx.Err(), "turn canceled during cross-reference")
		}
		logger.Warn("cross-reference failed, continuing without it", "error", err)
		xref = &CrossRefResult{}
	}
	p.applyCrossRefs(ctx, topics, xref)

	p.runReview(ctx, msgs, topics, validation)
	if err := ctx.Err(); err != nil {
		return nil, goerr.Wrap(err, "turn canceled during review")
	}

	result := &TurnResult{
		SessionID:    sessionID,
		Turn:         turn,
		Phase:        model.PhaseConversation,
		Conflicts:    xref.Contradictions,
		Completeness: plan.Completeness,
		Validation:   validation,
	}

	if p.shouldWeight(ctx, plan, turn, len(insights)) {
		if err := p.snapshotTopics(ctx, sessionID, turn, topics); err != nil {
			logger.Warn("failed to write topic snapshot", "error", err)
		}
		if err := p.advancePhase(ctx, session, model.PhaseWeighting); err != nil {
			return nil, err
		}
		result.Phase = model.PhaseWeighting
		result.Ranked = Synthesize(insights, anchor.OriginalMessage, p.cfg)
		p.putAssistantMessage(ctx, sessionID, turn, closingMessage, plan, validation)
		return result, nil
	}

	question, err := p.interviewer.Ask(ctx, plan, history, userMessage)
	if err != nil {
		if ctx.Err() != nil {
			return nil, goerr.Wrap(ctx.Err(), "turn canceled during question generation")
		}
		logger.Warn("question generation failed, using fallback", "error", err)
		question = fallbackQuestion
	}
	p.putAssistantMessage(ctx, sessionID, turn, question, plan, validation)
	result.Question = question
	return result, nil
}

// runPlanner generates the turn plan under the bounded alignment retry. The
// plan that comes back is always usable: when drift survives the retry
// budget the last candidate is accepted and the outcome marked degraded.
func (p *Pipeline) runPlanner(ctx context.Context, in plannerInput, prevPlan *model.Plan) (*model.Plan, *model.ValidationOutcome) {
	prevPurpose := ""
	prevCompleteness := 0
	if prevPlan != nil {
		prevPurpose = prevPlan.Purpose
		prevCompleteness = prevPlan.Completeness
	}
	fallback := model.DefaultPlan(in.SessionID, in.Turn, prevPurpose, prevCompleteness)

	lastScore := 100
	var violations []string
	plan, attempts, resolved := boundedRetry(ctx, p.cfg.MaxValidationRetries, fallback,
		func(ctx context.Context, feedback string) (*model.Plan, error) {
			in.Feedback = feedback
			return p.planner.Generate(ctx, in)
		},
		func(ctx context.Context, candidate *model.Plan) (string, error) {
			score, feedback, err := p.alignment.Check(ctx, in.Anchor, prevPlan, candidate)
			if err != nil {
				return "", err
			}
			lastScore = score
			if feedback != "" {
				violations = append(violations, feedback)
			}
			return feedback, nil
		})

	outcome := &model.ValidationOutcome{
		AlignmentScore: lastScore,
		DriftDetected:  len(violations) > 0,
		Violations:     violations,
		Retries:        attempts - 1,
		Degraded:       !resolved,
	}
	if !resolved {
		logging.From(ctx).Warn("alignment drift survived the retry budget, proceeding",
			"turn", in.Turn, "score", lastScore)
	}
	return plan, outcome
}

// applyTopicUpdate runs the lexical checks over the planner's topic verdict,
// scrubs flagged guidance fields, and merges the verdict into the stored
// topic state. Status regressions without a reason are dropped, not applied.
func (p *Pipeline) applyTopicUpdate(ctx context.Context, plan *model.Plan, topics []*model.TopicState, validation *model.ValidationOutcome) {
	if plan.TopicUpdate == nil {
		return
	}
	logger := logging.From(ctx)
	update := plan.TopicUpdate

	for _, v := range lexicalCheck(update) {
		validation.Lexical = append(validation.Lexical, v)
		logger.Warn("topic verdict flagged",
			"topic", v.Topic, "flag", v.Flag, "field", v.Field, "detail", v.Detail)
		switch v.Flag {
		case model.FlagGenericAdvice:
			update.Advice = ""
		case model.FlagInstructionalExample:
			update.Example = ""
		}
	}

	var state *model.TopicState
	for _, t := range topics {
		if t.Key == update.Key {
			state = t
			break
		}
	}
	if state == nil {
		// The planner may open a topic outside the base set.
		state = model.NewTopicState(plan.SessionID, update.Key)
	}

	if err := state.Apply(update, update.Rationale); err != nil {
		logger.Warn("topic verdict rejected", "topic", update.Key, "error", err)
		return
	}
	if err := p.repo.PutTopicState(ctx, state); err != nil {
		logger.Warn("failed to persist topic state", "topic", update.Key, "error", err)
	}
}

// applyCrossRefs merges high-relevance updates into the out-of-focus topic
// states. Contradicted topics are left untouched; the conflict is surfaced
// to the caller instead of silently overwritten.
func (p *Pipeline) applyCrossRefs(ctx context.Context, topics []*model.TopicState, xref *CrossRefResult) {
	logger := logging.From(ctx)
	byKey := make(map[model.TopicKey]*model.TopicState, len(topics))
	for _, t := range topics {
		byKey[t.Key] = t
	}
	for _, cand := range xref.Applied {
		state, ok := byKey[cand.Topic]
		if !ok {
			continue
		}
		status := model.TopicStatus(cand.Status)
		if status.Validate() != nil {
			status = model.TopicThin
		}
		update := &model.TopicUpdate{
			Key:       cand.Topic,
			Status:    status,
			Text:      cand.Text,
			Rationale: cand.Rationale,
		}
		if err := state.Apply(update, cand.Rationale); err != nil {
			logger.Warn("cross-reference update rejected", "topic", cand.Topic, "error", err)
			continue
		}
		if err := p.repo.PutTopicState(ctx, state); err != nil {
			logger.Warn("failed to persist cross-reference update", "topic", cand.Topic, "error", err)
			continue
		}
		logger.Info("topic updated by cross-reference",
			"topic", cand.Topic, "relevance", cand.Relevance, "status", status)
	}
}

// runReview applies the second-opinion demotions. A failed review leaves
// every verdict standing; the session never blocks on it.
func (p *Pipeline) runReview(ctx context.Context, msgs []*model.Message, topics []*model.TopicState, validation *model.ValidationOutcome) {
	logger := logging.From(ctx)
	demotions, err := p.reviewer.Review(ctx, p.budget.History(msgs), topics)
	if err != nil {
		logger.Warn("coverage review failed, keeping verdicts", "error", err)
		return
	}
	for _, d := range demotions {
		for _, t := range topics {
			if t.Key != d.Key {
				continue
			}
			if err := t.Transition(model.TopicThin, d.Reason); err != nil {
				logger.Warn("failed to demote topic", "topic", d.Key, "error", err)
				break
			}
			if err := p.repo.PutTopicState(ctx, t); err != nil {
				logger.Warn("failed to persist demoted topic", "topic", d.Key, "error", err)
				break
			}
			validation.ReviewApplied = true
			logger.Info("topic demoted on review", "topic", d.Key, "reason", d.Reason)
			break
		}
	}
}

// shouldWeight decides whether the conversation hands over to weighting.
// The turn ceiling forces the handover even below the completeness
// threshold, except when nothing was confirmed at all: then one more
// conversational turn is worth more than an empty weighting screen.
func (p *Pipeline) shouldWeight(ctx context.Context, plan *model.Plan, turn, confirmed int) bool {
	if plan.Completeness >= p.cfg.CompletenessThreshold &&
		plan.AllResolved() &&
		confirmed >= minConfirmedInsights {
		return true
	}
	if turn+1 >= p.cfg.TurnCeiling {
		if confirmed == 0 {
			logging.From(ctx).Warn("turn ceiling reached with no confirmed insights, extending conversation",
				"turn", turn)
			return false
		}
		logging.From(ctx).Info("turn ceiling reached, moving to weighting",
			"turn", turn, "completeness", plan.Completeness)
		return true
	}
	return false
}

func (p *Pipeline) snapshotTopics(ctx context.Context, sessionID model.SessionID, turn int, topics []*model.TopicState) error {
	existing, err := p.repo.ListSnapshots(ctx, sessionID)
	if err != nil {
		return err
	}
	return p.repo.PutSnapshot(ctx, &model.Snapshot{
		SessionID: sessionID,
		Volume:    len(existing) + 1,
		Turn:      turn,
		Topics:    topics,
		CreatedAt: time.Now(),
	})
}

func (p *Pipeline) putAssistantMessage(ctx context.Context, sessionID model.SessionID, turn int, content string, plan *model.Plan, validation *model.ValidationOutcome) {
	if err := p.repo.PutMessage(ctx, &model.Message{
		SessionID: sessionID,
		Turn:      turn,
		Role:      model.RoleAssistant,
		Content:   content,
		Meta: &model.MessageMeta{
			Plan:       plan,
			Validation: validation,
		},
		CreatedAt: time.Now(),
	}); err != nil {
		logging.From(ctx).Warn("failed to persist assistant message", "turn", turn, "error", err)
	}
}

func (p *Pipeline) advancePhase(ctx context.Context, session *model.Session, next model.Phase) error {
	if err := session.Phase.CanAdvanceTo(next); err != nil {
		return err
	}
	if err := p.repo.UpdateSessionPhase(ctx, session.ID, next); err != nil {
		return err
	}
	logging.From(ctx).Info("phase advanced",
		"session_id", session.ID, "from", session.Phase, "to", next)
	session.Phase = next
	return nil
}

func countUserTurns(msgs []*model.Message) int {
	n := 0
	for _, m := range msgs {
		if m.Role == model.RoleUser {
			n++
		}
	}
	return n
}

func focusTopic(prevPlan *model.Plan) model.TopicKey {
	if prevPlan != nil && prevPlan.TopicUpdate != nil && prevPlan.TopicUpdate.NextTopic != "" {
		return prevPlan.TopicUpdate.NextTopic
	}
	return model.BaseTopics[0]
}
