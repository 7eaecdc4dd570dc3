// Package cli formats command output for docvec.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/hyperjump/docvec/internal/ingest"
	"github.com/hyperjump/docvec/internal/models"
	"github.com/hyperjump/docvec/internal/vectorstore"
	"github.com/hyperjump/docvec/pkg/utils"
)

// OutputFormat is the format for command output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputCompact prints one line per result.
	OutputCompact OutputFormat = "compact"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

// ParseOutputFormat validates a -output flag value.
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch f := OutputFormat(strings.ToLower(strings.TrimSpace(s))); f {
	case OutputText, OutputCompact, OutputJSON:
		return f, nil
	default:
		return "", fmt.Errorf("unknown output format %q; use text, compact, or json", s)
	}
}

// StatusReport mirrors GET /api/v1/vectordb/status.
type StatusReport struct {
	VectorDB         vectorstore.Status     `json:"vectordb"`
	Catalogue        ingest.Stats           `json:"catalogue"`
	DiskUsageBytes   *int64                 `json:"disk_usage_bytes,omitempty"`
	WatchDirectories []string               `json:"watch_directories,omitempty"`
	Config           map[string]interface{} `json:"config,omitempty"`
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// WriteSearchResults writes search results to w in the given format.
func WriteSearchResults(w io.Writer, response *models.SearchResponse, format OutputFormat) error {
	switch format {
	case OutputJSON:
		return writeJSON(w, response)
	case OutputCompact:
		for _, r := range response.Results {
			fmt.Fprintf(w, "%.4f\t%s\t%s\n", r.Score, r.DocumentID, TruncateWords(oneLine(r.Text), 12))
		}
		return nil
	default:
		writeSearchResultsText(w, response)
		return nil
	}
}

func writeSearchResultsText(w io.Writer, response *models.SearchResponse) {
	fmt.Fprintf(w, "\nFound %d results in %dms\n\n", len(response.Results), response.QueryTime)
	for i, r := range response.Results {
		fmt.Fprintf(w, "─────────────────────────────────────────────────────────\n")
		fmt.Fprintf(w, "Rank: %d | Score: %.4f\n", i+1, r.Score)
		fmt.Fprintf(w, "Document: %s\n", r.DocumentID)
		if r.Title != "" {
			fmt.Fprintf(w, "Title: %s\n", r.Title)
		}
		fmt.Fprintf(w, "\n%s\n\n", utils.Truncate(r.Text, 200))
	}
}

// WriteStatus writes a status report to w. Compact is treated as text.
func WriteStatus(w io.Writer, st *StatusReport, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, st)
	}
	v := st.VectorDB
	fmt.Fprintf(w, "Vector store:   %s\n", v.State)
	fmt.Fprintf(w, "  index:        %s, %d vectors, %d dimensions\n", orNone(v.IndexType), v.Size, v.Dimensions)
	fmt.Fprintf(w, "  unsaved:      %d of %d\n", v.DocsSincePersist, v.SaveInterval)
	fmt.Fprintf(w, "  snapshot:     %d (%d persists)\n", v.SnapshotVersion, v.Persists)
	if v.LastPersist != nil {
		fmt.Fprintf(w, "  last persist: %s\n", v.LastPersist.Local().Format("2006-01-02 15:04:05"))
	}
	if v.LoadError != "" {
		fmt.Fprintf(w, "  load error:   %s\n", v.LoadError)
	}
	c := st.Catalogue
	fmt.Fprintf(w, "Catalogue:      %d documents, %d chunks (%d pending)\n", c.Documents, c.Chunks, c.PendingChunks)
	if st.DiskUsageBytes != nil {
		fmt.Fprintf(w, "Disk usage:     %s\n", FormatBytes(*st.DiskUsageBytes))
	}
	if len(st.WatchDirectories) > 0 {
		fmt.Fprintf(w, "Watching:       %s\n", strings.Join(st.WatchDirectories, ", "))
	}
	if len(st.Config) > 0 {
		keys := make([]string, 0, len(st.Config))
		for k := range st.Config {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		fmt.Fprintln(w, "Config:")
		for _, k := range keys {
			fmt.Fprintf(w, "  %s: %v\n", k, st.Config[k])
		}
	}
	return nil
}

// WriteDirectoryResult summarizes a directory ingest, listing each failed file.
func WriteDirectoryResult(w io.Writer, res *ingest.DirectoryResult, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, res)
	}
	fmt.Fprintf(w, "Ingested %d files (%d chunks), %d unchanged, %d failed\n",
		res.Ingested, res.Chunks, res.Skipped, len(res.Failed))
	for _, f := range res.Failed {
		fmt.Fprintf(w, "  failed: %s: %s\n", f.Path, f.Err)
	}
	return nil
}

// FormatBytes renders n with a binary unit suffix.
func FormatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

// TruncateWords returns up to maxWords from the space-separated string.
func TruncateWords(s string, maxWords int) string {
	words := strings.Fields(s)
	if len(words) <= maxWords {
		return s
	}
	return strings.Join(words[:maxWords], " ") + "..."
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func orNone(s string) string {
	if s == "" {
		return "none"
	}
	return s
}
