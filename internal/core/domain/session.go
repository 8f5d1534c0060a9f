package domain

import "time"

// Turn is one user query plus its completed answer within a session.
// Immutable once persisted; Incomplete marks turns whose generation was cut
// short so the partial answer is still part of coherent history.
type Turn struct {
	Query      string        `json:"query"`
	Answer     string        `json:"answer"`
	Citations  []CitationRef `json:"citations,omitempty"`
	Incomplete bool          `json:"incomplete,omitempty"`
	CreatedAt  time.Time     `json:"created_at"`
}

type Session struct {
	ID           string    `json:"session_id"`
	Turns        []Turn    `json:"turns"`
	LastActivity time.Time `json:"last_activity"`
}
