package domain

import "time"

type DocumentStatus string

const (
	StatusUploaded   DocumentStatus = "uploaded"
	StatusProcessing DocumentStatus = "processing"
	StatusReady      DocumentStatus = "ready"
	StatusFailed     DocumentStatus = "failed"
)

// SourceType is a closed tag distinguishing pre-loaded reference documents
// from user uploads. Behavior differences are lookups on the tag, not subtypes.
type SourceType string

const (
	SourceSystem SourceType = "system"
	SourceUser   SourceType = "user"
)

func (s SourceType) Valid() bool {
	return s == SourceSystem || s == SourceUser
}

// Reingestable reports whether bulk re-ingestion covers documents of this tag.
// Only the configured system document set is re-ingested from disk.
func (s SourceType) Reingestable() bool {
	return s == SourceSystem
}

type Document struct {
	ID         string         `json:"id"`
	Filename   string         `json:"filename"`
	SourceType SourceType     `json:"source_type"`
	ChunkCount int            `json:"chunk_count"`
	Status     DocumentStatus `json:"status"`
	Error      string         `json:"error,omitempty"`
	CreatedAt  time.Time      `json:"uploaded_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// ReingestError records a per-file failure during bulk re-ingestion.
// One bad file never aborts the batch.
type ReingestError struct {
	File  string `json:"file"`
	Error string `json:"error"`
}

// ReingestReport summarizes a bulk re-ingestion run over the system corpus.
type ReingestReport struct {
	DocumentsProcessed int             `json:"documents_processed"`
	TotalChunks        int             `json:"total_chunks"`
	Errors             []ReingestError `json:"errors,omitempty"`
}

// Page is one ordered unit of extracted document text. Number is 1-based;
// extractors for formats without physical pages assign logical section numbers.
type Page struct {
	Number int
	Text   string
}

// Chunk is the unit of retrieval. Index is zero-based, assigned once at
// ingestion, unique within the document and increasing in reading order.
type Chunk struct {
	DocumentID string `json:"document_id"`
	Index      int    `json:"chunk_index"`
	Page       int    `json:"page,omitempty"`
	Text       string `json:"text"`
}
