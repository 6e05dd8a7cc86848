package ui

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/pterm/pterm"

	"github.com/CodeKage25/smart-audit-assistant/internal/baseline"
	"github.com/CodeKage25/smart-audit-assistant/internal/model"
	"github.com/CodeKage25/smart-audit-assistant/internal/output"
	"github.com/CodeKage25/smart-audit-assistant/internal/severity"
)

func severityLabel(level severity.Level) string {
	switch level {
	case severity.Critical:
		return pterm.FgRed.Sprint("CRITICAL")
	case severity.High:
		return pterm.FgLightRed.Sprint("HIGH")
	case severity.Medium:
		return pterm.FgYellow.Sprint("MEDIUM")
	case severity.Low:
		return pterm.FgBlue.Sprint("LOW")
	default:
		return pterm.FgGray.Sprint("INFO")
	}
}

func riskLabel(score int) string {
	s := strconv.Itoa(score)
	switch {
	case score >= 70:
		return pterm.FgRed.Sprint(s)
	case score >= 40:
		return pterm.FgYellow.Sprint(s)
	default:
		return pterm.FgGreen.Sprint(s)
	}
}

func statusLabel(status model.Status) string {
	switch status {
	case model.StatusCompleted:
		return pterm.FgGreen.Sprint(string(status))
	case model.StatusFailed:
		return pterm.FgRed.Sprint(string(status))
	default:
		return pterm.FgYellow.Sprint(string(status))
	}
}

func formatTime(ts int64) string {
	return time.Unix(ts, 0).UTC().Format("2006-01-02 15:04:05")
}

// PrintReport renders a report as a findings table followed by a summary.
func PrintReport(w io.Writer, report model.ScanReport) {
	findings := report.Findings()
	if len(findings) == 0 {
		pterm.Success.WithWriter(w).Printf("No findings in %s\n", report.Path)
	} else {
		pterm.Warning.WithWriter(w).Printf("Found %d findings in %s:\n\n", len(findings), report.Path)
		data := [][]string{{"Severity", "Source", "Title", "Location", "Confidence"}}
		for _, f := range findings {
			conf := "-"
			if f.Confidence != nil {
				conf = fmt.Sprintf("%.0f%%", *f.Confidence*100)
			}
			source := f.Source
			if source == "" {
				source = "-"
			}
			data = append(data, []string{severityLabel(f.Severity), pterm.FgCyan.Sprint(source), f.Title, f.Location, conf})
		}
		_ = pterm.DefaultTable.WithHasHeader().WithData(data).WithWriter(w).Render()
	}

	counts := output.SeverityCounts(findings)
	parts := make([]string, 0, len(severity.All))
	for _, l := range severity.All {
		parts = append(parts, fmt.Sprintf("%s=%d", l, counts[l]))
	}
	pterm.Fprintln(w)
	pterm.Fprintln(w, fmt.Sprintf("Scan %s  pipeline=%s  duration=%s", report.ID, report.Pipeline, time.Duration(report.Duration)*time.Millisecond))
	pterm.Fprintln(w, fmt.Sprintf("Risk score: %s/100  %s", riskLabel(report.Metadata.RiskScore), strings.Join(parts, " ")))
	if report.Metadata.GasOptimizationCount > 0 {
		pterm.Fprintln(w, fmt.Sprintf("Gas optimizations: %d", report.Metadata.GasOptimizationCount))
	}
}

func PrintHistory(w io.Writer, entries []model.HistoryEntry) {
	if len(entries) == 0 {
		pterm.Info.WithWriter(w).Println("No scans recorded yet.")
		return
	}
	data := [][]string{{"ID", "When (UTC)", "Status", "Pipeline", "AI", "Findings", "Risk", "Path"}}
	for _, e := range entries {
		ai := "no"
		if e.AIEnabled {
			ai = "yes"
		}
		data = append(data, []string{
			e.ID,
			formatTime(e.Timestamp),
			statusLabel(e.Status),
			string(e.Pipeline),
			ai,
			strconv.Itoa(e.FindingsCount),
			riskLabel(e.RiskScore),
			e.Path,
		})
	}
	_ = pterm.DefaultTable.WithHasHeader().WithData(data).WithWriter(w).Render()
}

func PrintBaseline(w io.Writer, b baseline.File) {
	if len(b.Entries) == 0 {
		pterm.Info.WithWriter(w).Println("Baseline is empty.")
		return
	}
	data := [][]string{{"Severity", "Title", "Location", "Scan", "Accepted by", "Reason"}}
	for _, e := range b.Entries {
		data = append(data, []string{
			severityLabel(e.Severity),
			e.Title,
			e.Location,
			e.ScanID,
			e.AcceptedBy,
			e.Reason,
		})
	}
	_ = pterm.DefaultTable.WithHasHeader().WithData(data).WithWriter(w).Render()
}

func PrintAnalytics(w io.Writer, snap model.AnalyticsSnapshot) {
	pterm.Fprintln(w, fmt.Sprintf("Scans: %d  Findings: %d  Average risk: %s",
		snap.TotalScans, snap.TotalFindings, riskLabel(snap.AverageRiskScore)))
	if snap.TotalScans == 0 {
		return
	}

	dist := [][]string{{"Severity", "Count"}}
	for _, l := range severity.All {
		dist = append(dist, []string{severityLabel(l), strconv.Itoa(snap.SeverityDistribution[string(l)])})
	}
	pterm.Fprintln(w)
	_ = pterm.DefaultTable.WithHasHeader().WithData(dist).WithWriter(w).Render()

	if len(snap.ScanTrends) > 0 {
		trend := [][]string{{"Date", "Scans", "Findings", "Avg risk"}}
		for _, b := range snap.ScanTrends {
			trend = append(trend, []string{b.Date, strconv.Itoa(b.Scans), strconv.Itoa(b.Findings), riskLabel(b.AvgRiskScore)})
		}
		pterm.Fprintln(w)
		_ = pterm.DefaultTable.WithHasHeader().WithData(trend).WithWriter(w).Render()
	}

	if len(snap.TopVulnerabilities) > 0 {
		top := [][]string{{"#", "Vulnerability", "Count", "Typical severity"}}
		for i, v := range snap.TopVulnerabilities {
			top = append(top, []string{strconv.Itoa(i + 1), v.Title, strconv.Itoa(v.Count), severityLabel(severity.Level(v.AvgSeverity))})
		}
		pterm.Fprintln(w)
		_ = pterm.DefaultTable.WithHasHeader().WithData(top).WithWriter(w).Render()
	}
}

func PrintStatus(w io.Writer, id string, st model.ScanStatus) {
	pterm.Fprintln(w, fmt.Sprintf("%s  %s  %s  (%s)", id, statusLabel(st.Status), st.Message, formatTime(st.Timestamp)))
}

func StartSpinner(w io.Writer, text string) *pterm.SpinnerPrinter {
	spinner, _ := pterm.DefaultSpinner.WithWriter(w).Start(text)
	return spinner
}
