package model

import "time"

// Snapshot is a versioned full capture of all topic states at one point in
// the conversation. Volumes increase monotonically per session and each
// volume is write-once.
type Snapshot struct {
	SessionID SessionID
	Volume    int
	Turn      int
	Topics    []*TopicState
	CreatedAt time.Time
}

// Report is the final composed output of a session
type Report struct {
	SessionID SessionID
	Purpose   string
	Markdown  string
	CreatedAt time.Time
}
