package pipeline

import (
	"fmt"
	"strings"

	"github.com/mattn/go-runewidth"

	"github.com/EvnyaGH/NewsAICopy/types"
)

const titleWidth = 72

// TitlePreview returns up to n titles truncated to a fixed display width.
func TitlePreview(records []types.Record, n int) []string {
	if n > len(records) {
		n = len(records)
	}
	titles := make([]string, 0, n)
	for _, r := range records[:n] {
		titles = append(titles, runewidth.Truncate(r.Title, titleWidth, "..."))
	}
	return titles
}

// FormatReport renders a report as an aligned plain-text summary.
func FormatReport(r types.RunReport) string {
	rows := [][2]string{
		{"Run", r.TraceID},
		{"Status", r.Status},
		{"Query", r.Query},
		{"Start / Max", fmt.Sprintf("%d / %d", r.Start, r.MaxResults)},
		{"Fetched", fmt.Sprintf("%d", r.Fetched)},
		{"Normalized", fmt.Sprintf("%d (%d failed)", r.Normalized, r.NormalizeFailed)},
		{"Valid / Invalid", fmt.Sprintf("%d / %d", r.Valid, r.Invalid)},
		{"Quality rate", fmt.Sprintf("%.2f%%", r.QualityRate)},
		{"Written", fmt.Sprintf("%d (attempts %d, duplicates %d)", r.Written, r.Attempts, r.Duplicates)},
		{"Load rate", fmt.Sprintf("%.2f%%", r.LoadRate())},
		{"Duration", fmt.Sprintf("%dms", r.DurationMs)},
	}
	if r.ArchiveKey != "" {
		rows = append(rows, [2]string{"Archive", r.ArchiveKey})
	}
	if r.FailedStage != "" {
		rows = append(rows, [2]string{"Failed stage", r.FailedStage})
	}
	if r.Error != "" {
		rows = append(rows, [2]string{"Error", r.Error})
	}

	width := 0
	for _, row := range rows {
		if w := runewidth.StringWidth(row[0]); w > width {
			width = w
		}
	}

	var b strings.Builder
	for _, row := range rows {
		fmt.Fprintf(&b, "%s  %s\n", runewidth.FillRight(row[0], width), row[1])
	}
	for _, title := range r.Titles {
		fmt.Fprintf(&b, "  - %s\n", title)
	}
	return b.String()
}
