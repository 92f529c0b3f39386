package models

import "time"

// Chunk is one embedded slice of a document, stored as a vector row.
type Chunk struct {
	ID         string                 `json:"id"`
	DocumentID string                 `json:"document_id"`
	Index      int                    `json:"chunk_index"`
	Content    string                 `json:"content"`
	Embedding  []float32              `json:"-"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt  time.Time              `json:"created_at"`
	UpdatedAt  time.Time              `json:"updated_at"`
}

// VectorStats summarizes the vector index.
type VectorStats struct {
	TotalChunks       int64 `json:"total_chunks"`
	DistinctDocuments int64 `json:"distinct_documents"`
	Dimension         int   `json:"dimension"`
}

// RetrievedChunk is a chunk returned from search, annotated with scores.
// VectorSimilarity is the raw cosine similarity; LexicalScore and
// CombinedScore are filled by hybrid fusion.
type RetrievedChunk struct {
	Chunk
	Score            float64 `json:"score"`
	VectorSimilarity float64 `json:"vector_similarity"`
	LexicalScore     float64 `json:"lexical_score"`
	CombinedScore    float64 `json:"combined_score"`

	// Joined from the catalog for filtering and display.
	SourceType     SourceType `json:"source_type"`
	StoredFilename string     `json:"stored_filename"`
	DocumentTitle  string     `json:"document_title,omitempty"`
}

// SearchResult is the envelope returned to search callers.
type SearchResult struct {
	Query        string           `json:"query"`
	RefinedQuery string           `json:"refined_query,omitempty"`
	Results      []RetrievedChunk `json:"results"`
	TotalHits    int              `json:"total_hits"`
	SearchTimeMs float64          `json:"search_time_ms"`
	Cached       bool             `json:"cached"`
}
