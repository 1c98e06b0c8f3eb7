package outputlog

// Chunk is a captured block of terminal output.
type Chunk struct {
	ID        int64   `json:"id"`
	SessionID string  `json:"session_id"`
	TS        float64 `json:"ts"`
	Content   string  `json:"content"`
}

// SearchResult is a full-text search match with an FTS5 snippet.
type SearchResult struct {
	ID        int64   `json:"id"`
	SessionID string  `json:"session_id"`
	TS        float64 `json:"ts"`
	Snippet   string  `json:"snippet"`
}

// HistoryPage is a paginated slice of chunks, oldest first.
// EarliestTS is the timestamp of the oldest returned chunk, used by clients
// as the `before` cursor for the next page. Zero when no chunks matched.
type HistoryPage struct {
	Chunks     []Chunk `json:"chunks"`
	EarliestTS float64 `json:"earliest_ts"`
}
