package export

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/sells-group/thriving-index/internal/model"
)

var printer = message.NewPrinter(language.AmericanEnglish)

// PrintOverallTable renders the overall index as a fixed-width console
// table sorted by score descending.
func PrintOverallTable(w io.Writer, names map[string]string, scores []model.OverallScore) {
	sorted := make([]model.OverallScore, len(scores))
	copy(sorted, scores)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Score != sorted[j].Score {
			return sorted[i].Score > sorted[j].Score
		}
		return sorted[i].TargetKey < sorted[j].TargetKey
	})

	fmt.Fprintf(w, "%-4s %-10s %-32s %8s %6s\n", "#", "REGION", "NAME", "SCORE", "COMPS")
	fmt.Fprintln(w, strings.Repeat("-", 64))
	for i, sc := range sorted {
		name := names[sc.TargetKey]
		if len(name) > 32 {
			name = name[:29] + "..."
		}
		fmt.Fprintf(w, "%-4d %-10s %-32s %8.1f %6d\n",
			i+1, sc.TargetKey, name, sc.Score, sc.ComponentCount)
	}
}

// PrintComponentTable renders one target's component breakdown.
func PrintComponentTable(w io.Writer, targetKey string, scores []model.ComponentScore) {
	fmt.Fprintf(w, "Components for %s:\n", targetKey)
	for _, sc := range scores {
		if sc.TargetKey != targetKey {
			continue
		}
		fmt.Fprintf(w, "  %-24s %8.1f  (%d measures)\n", sc.Component, sc.Score, sc.MeasureCount)
	}
}

// PrintCoverage renders a coverage-check summary with grouped counts.
func PrintCoverage(w io.Writer, resolved, unresolved int) {
	printer.Fprintf(w, "Resolved:   %d counties\n", resolved)
	printer.Fprintf(w, "Unresolved: %d counties\n", unresolved)
}

// FormatCount renders an integer with digit grouping for log-friendly
// population and employment figures.
func FormatCount(v int64) string {
	return printer.Sprintf("%d", v)
}
