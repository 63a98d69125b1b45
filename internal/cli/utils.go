// Package cli provides output helpers for the docsight command line.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/hyperjump/docsight/internal/answer"
	"github.com/hyperjump/docsight/internal/models"
	"github.com/hyperjump/docsight/pkg/utils"
)

// OutputFormat is the format for command output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputCompact prints one result per line.
	OutputCompact OutputFormat = "compact"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

const snippetChars = 200

var (
	headingStyle = lipgloss.NewStyle().Bold(true)
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	rankStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("6"))
)

// ParseOutputFormat maps a flag value to an OutputFormat.
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch OutputFormat(s) {
	case OutputText, OutputCompact, OutputJSON:
		return OutputFormat(s), nil
	case "":
		return OutputText, nil
	}
	return "", fmt.Errorf("unknown output format %q; use text, compact, or json", s)
}

// WriteSearchResults writes search results to w in the given format.
func WriteSearchResults(w io.Writer, response *models.SearchResponse, format OutputFormat) error {
	switch format {
	case OutputJSON:
		return writeJSON(w, response)
	case OutputCompact:
		for _, hit := range response.Results {
			fmt.Fprintf(w, "%d\t%.4f\t%s\t%s\n", hit.Rank, hit.Similarity, hit.FileName, oneLine(hit.Content))
		}
		return nil
	default:
		writeSearchResultsText(w, response)
		return nil
	}
}

func writeSearchResultsText(w io.Writer, response *models.SearchResponse) {
	fmt.Fprintf(w, "\n%s\n", headingStyle.Render(fmt.Sprintf("Found %d results in %dms (%s search, path: %s)",
		response.Total, response.QueryTimeMs, response.SearchType, response.Metadata.Path)))
	if response.Degraded {
		fmt.Fprintln(w, warnStyle.Render("Degraded: "+response.Metadata.FallbackReason))
	}
	fmt.Fprintln(w)
	for _, hit := range response.Results {
		fmt.Fprintf(w, "─────────────────────────────────────────────────────────\n")
		fmt.Fprintln(w, rankStyle.Render(fmt.Sprintf("Rank: %d | Similarity: %.4f", hit.Rank, hit.Similarity)))
		fmt.Fprintf(w, "File: %s (chunk %d)\n", hit.FileName, hit.ChunkIndex)
		fmt.Fprintf(w, "Document: %s\n", hit.DocumentID)
		fmt.Fprintf(w, "\n%s\n\n", utils.Truncate(hit.Content, snippetChars))
	}
}

// WriteAnswer writes a synthesized answer and the results it was grounded on.
func WriteAnswer(w io.Writer, resp *answer.AskResponse, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, resp)
	}
	a := resp.Answer
	fmt.Fprintf(w, "\n%s\n\n", a.Answer)
	fmt.Fprintf(w, "Confidence: %.2f\n", a.Confidence)
	if len(a.Sources) > 0 && resp.Search != nil {
		fmt.Fprintln(w, headingStyle.Render("Sources:"))
		for _, n := range a.Sources {
			if n < 1 || n > len(resp.Search.Results) {
				continue
			}
			hit := resp.Search.Results[n-1]
			fmt.Fprintf(w, "  [%d] %s (chunk %d)\n", n, hit.FileName, hit.ChunkIndex)
		}
	}
	if len(a.FollowUpQuestions) > 0 {
		fmt.Fprintln(w, headingStyle.Render("Follow-up questions:"))
		for _, q := range a.FollowUpQuestions {
			fmt.Fprintf(w, "  - %s\n", q)
		}
	}
	return nil
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func oneLine(s string) string {
	return utils.Truncate(strings.Join(strings.Fields(s), " "), snippetChars)
}
