package models

import (
	"fmt"
	"strings"
)

// SearchQuery is a search request against the image index.
type SearchQuery struct {
	Query string `json:"query"`
	TopK  int    `json:"top_k,omitempty"`
	// APIKey optionally overrides the configured remote credential for this query.
	APIKey string `json:"api_key,omitempty"`
	// KeywordEnabled additionally runs an exact/fuzzy label lookup.
	KeywordEnabled bool `json:"keyword_enabled,omitempty"`
	FuzzyEnabled   bool `json:"fuzzy_enabled,omitempty"`
}

// Validate ensures the query has valid fields and sets defaults.
// Returns an error if the query text is empty; otherwise normalizes top_k.
func (q *SearchQuery) Validate(defaultLimit, maxLimit int) error {
	q.Query = strings.TrimSpace(q.Query)
	if q.Query == "" {
		return fmt.Errorf("query cannot be empty")
	}
	if q.TopK <= 0 {
		q.TopK = defaultLimit
	}
	if maxLimit > 0 && q.TopK > maxLimit {
		q.TopK = maxLimit
	}
	return nil
}
