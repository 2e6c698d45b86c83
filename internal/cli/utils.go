// Package cli provides CLI output helpers for Gazou.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/hyperjump/gazou/internal/models"
)

// SearchOutputFormat is the format for search result output.
type SearchOutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText SearchOutputFormat = "text"
	// OutputPaths prints one matched file path per line, for piping into
	// other tools (xargs, open, etc.).
	OutputPaths SearchOutputFormat = "paths"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON SearchOutputFormat = "json"
)

// WriteSearchResults writes search results to w in the given format.
func WriteSearchResults(w io.Writer, response *models.SearchResponse, format SearchOutputFormat) error {
	switch format {
	case OutputJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(response)
	case OutputPaths:
		for _, result := range response.Results {
			fmt.Fprintln(w, result.FilePath)
		}
		return nil
	default:
		writeSearchResultsText(w, response)
		return nil
	}
}

func writeSearchResultsText(w io.Writer, response *models.SearchResponse) {
	fmt.Fprintf(w, "\nFound %d results in %dms\n", response.Total, response.QueryTime)
	if response.Degraded {
		fmt.Fprintln(w, "(degraded: query embedding failed, semantic ranking unavailable)")
	}
	fmt.Fprintln(w)
	for _, result := range response.Results {
		writeOneResult(w, result)
	}
	if len(response.KeywordResults) > 0 {
		fmt.Fprintln(w, "--- Label keyword matches ---")
		for _, result := range response.KeywordResults {
			writeOneResult(w, result)
		}
	}
}

func writeOneResult(w io.Writer, result *models.SearchResult) {
	fmt.Fprintf(w, "%2d. %.4f  %s\n", result.Rank, result.Score, result.FilePath)
	label := result.Label
	if result.Category != "" && result.Category != models.CategoryUncategorized {
		label = fmt.Sprintf("%s  [%s]", label, result.Category)
	}
	fmt.Fprintf(w, "    %s\n", label)
}

// WriteBuildReport writes a cache build report to w.
func WriteBuildReport(w io.Writer, report *models.BuildReport) {
	fmt.Fprintf(w, "Build %s (%s/%s)\n", report.RunID, report.Mode, report.Model)
	fmt.Fprintf(w, "  total:    %d\n", report.Total)
	fmt.Fprintf(w, "  embedded: %d\n", report.Embedded)
	fmt.Fprintf(w, "  reused:   %d\n", report.Reused)
	fmt.Fprintf(w, "  pruned:   %d\n", report.Pruned)
	if report.Failed > 0 {
		fmt.Fprintf(w, "  failed:   %d\n", report.Failed)
		for _, f := range report.Failures {
			fmt.Fprintf(w, "    - %s\n", f)
		}
	}
	fmt.Fprintf(w, "  duration: %s\n", report.Duration.Round(1e6))
}

// ParseOutputFormat validates a user-supplied output format string.
func ParseOutputFormat(s string) (SearchOutputFormat, error) {
	switch strings.ToLower(s) {
	case "text", "":
		return OutputText, nil
	case "paths":
		return OutputPaths, nil
	case "json":
		return OutputJSON, nil
	default:
		return "", fmt.Errorf("unknown output format %q; use text, paths, or json", s)
	}
}
