package model

import (
	"time"

	"github.com/m-mizutani/goerr/v2"
)

// Insight is a confirmed claim about the user's underlying motivation,
// extracted from the conversation. Insights are upserted by
// (session, label), so re-confirming the same claim is idempotent.
type Insight struct {
	SessionID    SessionID `json:"session_id"`
	Label        string    `json:"label"`
	Layer        Layer     `json:"layer"`
	Strength     int       `json:"strength"`     // 0-100
	Confirmation float64   `json:"confirmation"` // 0-1, latest confirming response
	Weight       int       `json:"weight"`       // user-adjusted emphasis, initialized to Strength
	FirstTurn    int       `json:"first_turn"`
	LastTurn     int       `json:"last_turn"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Validate checks the insight invariants
func (i *Insight) Validate() error {
	if i.Label == "" {
		return goerr.New("insight label is empty")
	}
	if err := i.Layer.Validate(); err != nil {
		return err
	}
	if i.Strength < 0 || i.Strength > 100 {
		return goerr.New("insight strength out of range", goerr.V("strength", i.Strength))
	}
	if i.Confirmation < 0 || i.Confirmation > 1 {
		return goerr.New("confirmation strength out of range", goerr.V("confirmation", i.Confirmation))
	}
	return nil
}

// Merge folds a re-confirmation of the same label into the stored insight
func (i *Insight) Merge(update *Insight) {
	if update.Strength > i.Strength {
		i.Strength = update.Strength
		i.Weight = update.Strength
	}
	i.Confirmation = update.Confirmation
	i.Layer = update.Layer
	if update.LastTurn > i.LastTurn {
		i.LastTurn = update.LastTurn
	}
	i.UpdatedAt = time.Now()
}
