package models

// SearchResult is a single ranked image hit.
type SearchResult struct {
	FilePath string  `json:"file_path"`
	Filename string  `json:"filename"`
	Label    string  `json:"label"`
	Category string  `json:"category,omitempty"`
	Score    float64 `json:"score"`
	Rank     int     `json:"rank"`
}

// SearchResponse is the response for a search request.
type SearchResponse struct {
	Results []*SearchResult `json:"results"`
	// KeywordResults are label-lookup hits, populated only when the query
	// enables keyword matching. Disjoint paths may overlap with Results.
	KeywordResults []*SearchResult `json:"keyword_results,omitempty"`
	Total          int             `json:"total"`
	QueryTime      int64           `json:"query_time_ms"`
	Query          string          `json:"query"`
	// Degraded indicates the query embedding failed and the semantic list is
	// empty for that reason rather than because nothing matched.
	Degraded bool `json:"degraded,omitempty"`
}
