package models

// SearchResult is one chunk returned by a similarity lookup.
type SearchResult struct {
	ID         int64   `json:"id"`
	DocumentID string  `json:"document_id"`
	Title      string  `json:"title,omitempty"`
	Score      float64 `json:"score"`
	Text       string  `json:"text"`
}

// SearchResponse is the response of a similarity lookup.
type SearchResponse struct {
	Query     string          `json:"query"`
	Results   []*SearchResult `json:"results"`
	QueryTime int64           `json:"query_time_ms"`
}
