package domain

// SearchFilter restricts a vector query to a subset of the corpus.
// Zero value means no restriction.
type SearchFilter struct {
	DocumentIDs []string
	SourceType  SourceType
}

// RetrievedPassage is a read-only projection of a chunk plus its similarity
// score, produced per query and never persisted.
type RetrievedPassage struct {
	DocumentID string  `json:"document_id"`
	Source     string  `json:"source"`
	ChunkIndex int     `json:"chunk_index"`
	Page       int     `json:"page,omitempty"`
	Text       string  `json:"text"`
	Score      float64 `json:"score"`
}

// CitationRef identifies a cited passage by chunk identity, without
// duplicating its text in session history.
type CitationRef struct {
	DocumentID string `json:"document_id"`
	ChunkIndex int    `json:"chunk_index"`
}

// ChatAnswer is the non-streaming response shape: the full answer text plus
// the resolved source passages for the turn.
type ChatAnswer struct {
	Response  string             `json:"response"`
	Sources   []RetrievedPassage `json:"sources"`
	SessionID string             `json:"session_id"`
}
