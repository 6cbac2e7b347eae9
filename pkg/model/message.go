package model

import "time"

// MessageRole identifies the author of a turn message
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleSystem    MessageRole = "system"
)

// Message is one turn entry in the conversation log. Messages are append-only
// and ordered by strictly increasing turn number within a session.
type Message struct {
	SessionID SessionID
	Turn      int
	Role      MessageRole
	Content   string
	Meta      *MessageMeta
	CreatedAt time.Time
}

// MessageMeta carries the structured byproducts of the turn that produced an
// assistant message, so historical validation output can be re-associated
// with the message on resume.
type MessageMeta struct {
	Plan       *Plan              `json:"plan,omitempty" firestore:"Plan,omitempty"`
	Validation *ValidationOutcome `json:"validation,omitempty" firestore:"Validation,omitempty"`
}
