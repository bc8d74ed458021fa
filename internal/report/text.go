// Package report renders analysis results and usage figures for people.
package report

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"ratesim/internal/model"
)

const (
	dateTimeLayout = "2006-01-02 15:04:05"
	clockLayout    = "15:04:05"

	heavyRule = "═══════════════════════════════════════════════════════════"
	lightRule = "───────────────────────────────────────────────────────────"

	lowSuccessRate = 50.0
)

// Violation renders the full abuse report of one analysis run.
func Violation(rec model.ReportRecord) string {
	var b strings.Builder
	s := rec.Stats

	b.WriteString(heavyRule + "\n")
	b.WriteString("           API ABUSE & VIOLATION REPORT\n")
	b.WriteString(heavyRule + "\n\n")

	section(&b, "CLIENT INFORMATION")
	fmt.Fprintf(&b, "Client ID:        %s\n", rec.ClientID)
	fmt.Fprintf(&b, "Report Date:      %s\n", rec.AnalyzedAt.Local().Format(dateTimeLayout))
	fmt.Fprintf(&b, "Severity Level:   %s\n\n", rec.Level)

	section(&b, "USAGE STATISTICS")
	fmt.Fprintf(&b, "Total Requests:   %d\n", s.Total)
	fmt.Fprintf(&b, "Allowed:          %d (%.1f%%)\n", s.Admitted, share(s.Admitted, s.Total))
	fmt.Fprintf(&b, "Blocked:          %d (%.1f%%)\n", s.Rejected, share(s.Rejected, s.Total))
	fmt.Fprintf(&b, "Success Rate:     %s\n", s.SuccessRateText())
	fmt.Fprintf(&b, "Last Activity:    %s\n\n", formatTime(s.LastActivity, dateTimeLayout))

	if len(s.Distribution) > 0 {
		section(&b, "REQUEST TYPE DISTRIBUTION ("+s.DistributionSource+")")
		for _, c := range s.Distribution {
			fmt.Fprintf(&b, "%-10s: %3d requests (%.1f%%) %s\n", c.Category, c.Count, c.Percent, bar(c.Percent))
		}
		b.WriteString("\n")
	}

	section(&b, "VIOLATIONS DETECTED")
	if len(rec.Violations) == 0 {
		b.WriteString("No violations detected - Clean usage pattern\n\n")
	} else {
		fmt.Fprintf(&b, "Total Violations: %d\n\n", len(rec.Violations))
		for i, v := range rec.Violations {
			fmt.Fprintf(&b, "[%d] %s\n", i+1, v)
		}
		b.WriteString("\n")
	}

	section(&b, "RECOMMENDATIONS")
	b.WriteString(Recommendations(rec.Level, s))
	b.WriteString("\n")

	b.WriteString(heavyRule + "\n")
	b.WriteString("                    END OF REPORT\n")
	b.WriteString(heavyRule + "\n")
	return b.String()
}

// Recommendations lists follow-up actions for a level. A success rate under
// half adds an integration hint.
func Recommendations(level model.Level, s model.ClientStats) string {
	var b strings.Builder
	switch level {
	case model.LevelCritical:
		b.WriteString("CRITICAL: Immediate action required!\n")
		b.WriteString("   -> Consider blocking this client temporarily\n")
		b.WriteString("   -> Review client's API key and permissions\n")
		b.WriteString("   -> Contact client about usage patterns\n")
	case model.LevelWarning:
		b.WriteString("WARNING: Monitor this client closely\n")
		b.WriteString("   -> Send usage warning notification\n")
		b.WriteString("   -> Review if rate limits need adjustment\n")
		b.WriteString("   -> Track for pattern escalation\n")
	default:
		b.WriteString("NORMAL: No action required\n")
		b.WriteString("   -> Client is using API within acceptable limits\n")
		b.WriteString("   -> Continue standard monitoring\n")
	}
	if s.Total > 0 && s.SuccessRate < lowSuccessRate {
		b.WriteString("\nLow success rate detected:\n")
		b.WriteString("   -> Client may need help with integration\n")
		b.WriteString("   -> Consider providing API usage documentation\n")
	}
	return b.String()
}

// Usage renders a compact summary of one client.
func Usage(s model.ClientStats, at time.Time) string {
	var b strings.Builder
	b.WriteString("CLIENT USAGE SUMMARY\n")
	b.WriteString(lightRule + "\n")
	fmt.Fprintf(&b, "Client:           %s\n", s.ClientID)
	fmt.Fprintf(&b, "Report Time:      %s\n\n", at.Format(clockLayout))
	fmt.Fprintf(&b, "Total Requests:   %d\n", s.Total)
	fmt.Fprintf(&b, "Allowed:          %d\n", s.Admitted)
	fmt.Fprintf(&b, "Blocked:          %d\n", s.Rejected)
	fmt.Fprintf(&b, "Success Rate:     %s\n", s.SuccessRateText())
	if !s.First.IsZero() {
		fmt.Fprintf(&b, "\nFirst Request:    %s\n", s.First.Format(clockLayout))
		fmt.Fprintf(&b, "Latest Request:   %s\n", s.Last.Format(clockLayout))
	}
	b.WriteString(lightRule + "\n")
	return b.String()
}

// Comparison renders one row per client in the given order.
func Comparison(all []model.ClientStats) string {
	var b strings.Builder
	b.WriteString(heavyRule + "\n")
	b.WriteString("              MULTI-CLIENT COMPARISON REPORT\n")
	b.WriteString(heavyRule + "\n\n")
	fmt.Fprintf(&b, "%-12s | %8s | %8s | %8s | %10s\n", "CLIENT", "TOTAL", "ALLOWED", "BLOCKED", "SUCCESS %")
	b.WriteString(lightRule + "\n")
	if len(all) == 0 {
		b.WriteString("(no clients)\n")
	}
	for _, s := range all {
		fmt.Fprintf(&b, "%-12s | %8d | %8d | %8d | %9.1f%%\n", s.ClientID, s.Total, s.Admitted, s.Rejected, s.SuccessRate)
	}
	b.WriteString(heavyRule + "\n")
	return b.String()
}

// Export writes text to path, creating parent directories.
func Export(path, text string) error {
	if strings.TrimSpace(path) == "" {
		return fmt.Errorf("export: empty path")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("export %s: %w", path, err)
		}
	}
	if err := os.WriteFile(path, []byte(text), 0o644); err != nil {
		return fmt.Errorf("export %s: %w", path, err)
	}
	return nil
}

func section(b *strings.Builder, title string) {
	b.WriteString(title + "\n")
	b.WriteString(lightRule + "\n")
}

func share(part, total int) float64 {
	if total <= 0 {
		return 0
	}
	return float64(part) * 100 / float64(total)
}

// bar draws one block per full ten percent.
func bar(percent float64) string {
	n := int(percent) / 10
	if n <= 0 {
		return ""
	}
	return strings.Repeat("█", n)
}

func formatTime(ts time.Time, layout string) string {
	if ts.IsZero() {
		return "-"
	}
	return ts.Format(layout)
}
