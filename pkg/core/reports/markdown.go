package reports

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"arthakosh/pkg/core/ingest"
)

var batchMarkdown = goldmark.New(
	goldmark.WithExtensions(extension.Table),
)

// BatchSummaryMarkdown renders a batch report as a markdown document.
func BatchSummaryMarkdown(report *ingest.BatchReport) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Ingestion Batch %s\n\n", report.BatchID)
	fmt.Fprintf(&b, "- **Status:** %s\n", report.Status)
	fmt.Fprintf(&b, "- **Files:** %d\n", len(report.Files))
	fmt.Fprintf(&b, "- **Records:** %d\n", report.RecordsCount)
	fmt.Fprintf(&b, "- **Duration:** %s\n", report.CompletedAt.Sub(report.StartedAt).Round(1e6))
	if report.DryRun {
		b.WriteString("- **Dry run:** nothing was committed\n")
	}
	b.WriteString("\n| File | Parser | Status | Records | Error |\n")
	b.WriteString("| --- | --- | --- | --- | --- |\n")
	for _, f := range report.Files {
		fmt.Fprintf(&b, "| %s | %s | %s | %d | %s |\n",
			f.File, f.Parser, f.Status, f.Records, strings.ReplaceAll(f.Error, "|", "\\|"))
	}

	warned := false
	for _, f := range report.Files {
		for _, w := range f.Warnings {
			if !warned {
				b.WriteString("\n## Warnings\n\n")
				warned = true
			}
			fmt.Fprintf(&b, "- `%s`: %s\n", f.File, w)
		}
	}
	return b.String()
}

// BatchSummaryHTML converts the markdown summary to an HTML fragment.
func BatchSummaryHTML(report *ingest.BatchReport) (string, error) {
	var out bytes.Buffer
	if err := batchMarkdown.Convert([]byte(BatchSummaryMarkdown(report)), &out); err != nil {
		return "", err
	}
	return out.String(), nil
}
