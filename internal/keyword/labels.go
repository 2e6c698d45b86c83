// Package keyword provides a Bleve index over image labels for exact and
// fuzzy filename lookup next to semantic search.
package keyword

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	blevequery "github.com/blevesearch/bleve/v2/search/query"

	"github.com/hyperjump/gazou/internal/models"
)

// Result is a single label lookup hit. ID is the image file path.
type Result struct {
	ID    string
	Score float64
}

// labelDoc is the indexed document per image.
type labelDoc struct {
	Label    string `json:"label"`
	Filename string `json:"filename"`
	Category string `json:"category"`
}

// LabelIndex indexes image labels with Bleve, keyed by file path.
type LabelIndex struct {
	index bleve.Index
}

// NewLabelIndex creates or opens a Bleve label index at path. An existing
// index is reused; Sync reconciles it with the current cache contents.
func NewLabelIndex(path string) (*LabelIndex, error) {
	im := bleve.NewIndexMapping()
	docMapping := bleve.NewDocumentMapping()
	textFieldMapping := bleve.NewTextFieldMapping()
	// Standard analyzer (lowercase + tokenize, no stemming) so short label
	// words match exactly.
	textFieldMapping.Analyzer = standard.Name
	docMapping.AddFieldMappingsAt("label", textFieldMapping)
	docMapping.AddFieldMappingsAt("filename", textFieldMapping)
	docMapping.AddFieldMappingsAt("category", bleve.NewKeywordFieldMapping())
	im.AddDocumentMapping("label", docMapping)
	im.DefaultType = "label"
	im.DefaultMapping = docMapping

	if _, err := os.Stat(path); err == nil {
		index, openErr := bleve.Open(path)
		if openErr != nil {
			return nil, fmt.Errorf("failed to open label index: %w", openErr)
		}
		return &LabelIndex{index: index}, nil
	}
	index, err := bleve.New(path, im)
	if err != nil {
		return nil, fmt.Errorf("failed to create label index: %w", err)
	}
	return &LabelIndex{index: index}, nil
}

// Sync makes the index contents match records exactly: current records are
// upserted and entries for paths no longer cached are removed.
func (li *LabelIndex) Sync(records []models.EmbeddingRecord) error {
	want := make(map[string]bool, len(records))
	batch := li.index.NewBatch()
	for _, rec := range records {
		want[rec.FilePath] = true
		doc := labelDoc{
			// Underscores as spaces so multi-word queries match labels like
			// "cat_with_hat" (the standard analyzer does not split on underscore).
			Label:    strings.ReplaceAll(rec.Label, "_", " "),
			Filename: strings.ReplaceAll(rec.Filename, "_", " "),
			Category: rec.Category,
		}
		if err := batch.Index(rec.FilePath, doc); err != nil {
			return fmt.Errorf("batch label: %w", err)
		}
	}
	stale, err := li.allIDs()
	if err != nil {
		return err
	}
	for _, id := range stale {
		if !want[id] {
			batch.Delete(id)
		}
	}
	if err := li.index.Batch(batch); err != nil {
		return fmt.Errorf("label index batch failed: %w", err)
	}
	return nil
}

// allIDs lists every document id currently in the index.
func (li *LabelIndex) allIDs() ([]string, error) {
	count, err := li.index.DocCount()
	if err != nil {
		return nil, fmt.Errorf("label index count: %w", err)
	}
	if count == 0 {
		return nil, nil
	}
	req := bleve.NewSearchRequest(bleve.NewMatchAllQuery())
	req.Size = int(count)
	res, err := li.index.Search(req)
	if err != nil {
		return nil, fmt.Errorf("label index scan: %w", err)
	}
	ids := make([]string, len(res.Hits))
	for i, hit := range res.Hits {
		ids[i] = hit.ID
	}
	return ids, nil
}

// Search runs a match query over labels and filenames and returns up to limit
// hits. When fuzzy is true, each term is matched with edit distance tolerance.
func (li *LabelIndex) Search(ctx context.Context, query string, limit int, fuzzy bool) ([]*Result, error) {
	var q blevequery.Query
	if fuzzy {
		q = buildFuzzyQuery(query)
	} else {
		q = bleve.NewMatchQuery(query)
	}
	req := bleve.NewSearchRequest(q)
	req.Size = limit
	res, err := li.index.Search(req)
	if err != nil {
		return nil, fmt.Errorf("label search failed: %w", err)
	}
	out := make([]*Result, len(res.Hits))
	for i, hit := range res.Hits {
		out[i] = &Result{ID: hit.ID, Score: hit.Score}
	}
	return out, nil
}

// buildFuzzyQuery builds a disjunction of per-term fuzzy queries.
func buildFuzzyQuery(query string) blevequery.Query {
	terms := strings.Fields(strings.ToLower(query))
	if len(terms) == 0 {
		return bleve.NewMatchAllQuery()
	}
	queries := make([]blevequery.Query, 0, len(terms))
	for _, term := range terms {
		fq := bleve.NewFuzzyQuery(term)
		fq.SetFuzziness(2)
		queries = append(queries, fq)
	}
	return bleve.NewDisjunctionQuery(queries...)
}

// Close closes the underlying Bleve index.
func (li *LabelIndex) Close() error {
	return li.index.Close()
}
