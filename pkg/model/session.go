package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/m-mizutani/goerr/v2"
)

var (
	ErrInvalidPhase     = goerr.New("invalid phase")
	ErrPhaseTransition  = goerr.New("phase transition not allowed")
	ErrSessionNotFound  = goerr.New("session not found")
	ErrPhaseMismatch    = goerr.New("operation not allowed in current phase")
	ErrDuplicateTurn    = goerr.New("message turn already exists")
	ErrDuplicateVolume  = goerr.New("snapshot volume already exists")
	ErrStatusRegression = goerr.New("status regression requires a reason")
	ErrInsightNotFound  = goerr.New("insight not found")
)

type SessionID string

// NewSessionID generates a new unique SessionID
func NewSessionID() SessionID {
	return SessionID(uuid.New().String())
}

// Phase represents the interview lifecycle stage
type Phase string

const (
	PhaseWelcome      Phase = "WELCOME"
	PhaseConversation Phase = "CONVERSATION"
	PhaseWeighting    Phase = "WEIGHTING"
	PhaseReport       Phase = "REPORT"
	PhaseComplete     Phase = "COMPLETE"
)

var phaseOrder = map[Phase]int{
	PhaseWelcome:      0,
	PhaseConversation: 1,
	PhaseWeighting:    2,
	PhaseReport:       3,
	PhaseComplete:     4,
}

// Validate checks if the phase is valid
func (p Phase) Validate() error {
	if _, ok := phaseOrder[p]; !ok {
		return goerr.Wrap(ErrInvalidPhase, "unknown phase", goerr.V("phase", p))
	}
	return nil
}

// Terminal reports whether no further transition is allowed from the phase
func (p Phase) Terminal() bool {
	return p == PhaseReport || p == PhaseComplete
}

// CanAdvanceTo checks whether a transition to next is allowed. Phases advance
// monotonically, except the explicit WEIGHTING -> CONVERSATION resume edge.
func (p Phase) CanAdvanceTo(next Phase) error {
	if err := p.Validate(); err != nil {
		return err
	}
	if err := next.Validate(); err != nil {
		return err
	}
	if p == PhaseWeighting && next == PhaseConversation {
		return nil
	}
	if p.Terminal() && next != PhaseComplete {
		return goerr.Wrap(ErrPhaseTransition, "phase is terminal", goerr.V("from", p), goerr.V("to", next))
	}
	if phaseOrder[next] < phaseOrder[p] {
		return goerr.Wrap(ErrPhaseTransition, "phase cannot move backward", goerr.V("from", p), goerr.V("to", next))
	}
	return nil
}

// Session represents one Why-discovery interview
type Session struct {
	ID        SessionID
	Phase     Phase
	Intent    string // original user request, verbatim
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewSession creates a session in the WELCOME phase
func NewSession(intent string) *Session {
	now := time.Now()
	return &Session{
		ID:        NewSessionID(),
		Phase:     PhaseWelcome,
		Intent:    intent,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Anchor pins the session to the user's original framing. It is written once
// at turn 0 and never updated; the alignment check compares every plan to it.
type Anchor struct {
	SessionID       SessionID
	OriginalMessage string
	CoreKeywords    []string
	InitialPurpose  string
	CreatedAt       time.Time
}
