// Package models defines core data structures for cache records, queries, and results.
package models

import "time"

// CategoryUncategorized is the category assigned to images whose directory
// carries no category tag.
const CategoryUncategorized = "uncategorized"

// EmbeddingRecord is one entry in the vector cache: a single image file and
// the embedding of its label.
type EmbeddingRecord struct {
	// FilePath is the absolute path of the image file (unique key within a cache).
	FilePath string `json:"file_path"`
	// Filename is the original filename with extension, used for display.
	Filename string `json:"filename"`
	// Label is the text that was actually embedded. It is derived from the
	// filename and may differ via a directory rewrite rule.
	Label string `json:"label"`
	// Embedding is L2-normalized to unit length; all records in one cache
	// share the same dimensionality.
	Embedding []float32 `json:"embedding"`
	Category  string    `json:"category,omitempty"`
}

// BuildReport summarizes one cache build run.
type BuildReport struct {
	RunID    string        `json:"run_id"`
	Mode     string        `json:"mode"`
	Model    string        `json:"model,omitempty"`
	Total    int           `json:"total"`
	Embedded int           `json:"embedded"`
	Reused   int           `json:"reused"`
	Pruned   int           `json:"pruned"`
	Failed   int           `json:"failed"`
	Failures []string      `json:"failures,omitempty"`
	Duration time.Duration `json:"-"`
}
