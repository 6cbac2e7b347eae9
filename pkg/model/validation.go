package model

// LexicalFlag identifies one deterministic quality check
type LexicalFlag string

const (
	FlagSelfContradiction    LexicalFlag = "self_contradiction"    // thin verdict with positive-only rationale
	FlagGenericAdvice        LexicalFlag = "generic_advice"        // non-actionable boilerplate advice
	FlagInstructionalExample LexicalFlag = "instructional_example" // instruction instead of an exemplar
	FlagProceduralRationale  LexicalFlag = "procedural_rationale"  // bookkeeping text without analysis
)

// LexicalViolation is one flagged quality issue. Violations are telemetry
// attached to the turn, never hard blockers.
type LexicalViolation struct {
	Topic  TopicKey    `json:"topic"`
	Flag   LexicalFlag `json:"flag"`
	Field  string      `json:"field"`
	Detail string      `json:"detail"`
}

// ValidationOutcome is the combined result of the per-turn plan validation
type ValidationOutcome struct {
	AlignmentScore int                `json:"alignment_score"`
	DriftDetected  bool               `json:"drift_detected"`
	Violations     []string           `json:"violations,omitempty"`
	Retries        int                `json:"retries"`
	Lexical        []LexicalViolation `json:"lexical,omitempty"`
	ReviewApplied  bool               `json:"review_applied"`
	Degraded       bool               `json:"degraded"` // drift persisted past the retry budget
}
