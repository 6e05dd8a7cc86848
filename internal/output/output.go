package output

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/CodeKage25/smart-audit-assistant/internal/model"
	"github.com/CodeKage25/smart-audit-assistant/internal/severity"
)

// ToolVersion is reported as the SARIF driver version.
var ToolVersion = "dev"

func Write(report model.ScanReport, format string, w io.Writer) error {
	switch strings.ToLower(format) {
	case "human":
		writeHuman(report, w)
		return nil
	case "json":
		return writeJSON(report, w)
	case "sarif":
		return writeSARIF(report, w)
	default:
		return fmt.Errorf("unsupported output format: %s", format)
	}
}

func writeHuman(report model.ScanReport, w io.Writer) {
	fmt.Fprintln(w, "Smart Audit scan result")
	fmt.Fprintln(w, "-----------------------")
	fmt.Fprintf(w, "Scan:     %s\n", report.ID)
	fmt.Fprintf(w, "Target:   %s\n", report.Path)
	fmt.Fprintf(w, "Pipeline: %s\n", report.Pipeline)
	fmt.Fprintf(w, "Started:  %s (%s)\n", time.Unix(report.Timestamp, 0).UTC().Format(time.RFC3339), time.Duration(report.Duration)*time.Millisecond)
	fmt.Fprintln(w)

	writeSection(w, "Static analysis", report.Static)
	if report.Metadata.AIEnabled {
		writeSection(w, "AI analysis", report.AI)
	}

	counts := SeverityCounts(report.Findings())
	fmt.Fprintf(w, "Summary: %d findings, risk score %d/100\n", report.Metadata.TotalFindings, report.Metadata.RiskScore)
	fmt.Fprintf(w, "  Severity: critical=%d high=%d medium=%d low=%d info=%d\n",
		counts[severity.Critical], counts[severity.High], counts[severity.Medium], counts[severity.Low], counts[severity.Info])
	if report.Metadata.GasOptimizationCount > 0 {
		fmt.Fprintf(w, "  Gas optimizations: %d\n", report.Metadata.GasOptimizationCount)
	}
	if len(report.Metadata.ToolsUsed) > 0 {
		fmt.Fprintf(w, "  Tools: %s\n", strings.Join(report.Metadata.ToolsUsed, ", "))
	}
}

func writeSection(w io.Writer, title string, findings []model.Finding) {
	fmt.Fprintf(w, "%s (%d)\n", title, len(findings))
	for _, f := range findings {
		fmt.Fprintf(w, "%s %s\n", severityBadge(f.Severity), f.Title)
		fmt.Fprintf(w, "  Location: %s\n", f.Location)
		if f.Source != "" {
			fmt.Fprintf(w, "  Source:   %s\n", f.Source)
		}
		if f.Description != "" {
			fmt.Fprintf(w, "  Detail:   %s\n", f.Description)
		}
		if f.Confidence != nil {
			fmt.Fprintf(w, "  Confidence: %.0f%%\n", *f.Confidence*100)
		}
		if f.SuggestedFix != "" {
			fmt.Fprintf(w, "  Fix:      %s\n", f.SuggestedFix)
		}
	}
	fmt.Fprintln(w)
}

// SeverityCounts tallies findings per canonical level.
func SeverityCounts(findings []model.Finding) map[severity.Level]int {
	out := make(map[severity.Level]int, len(severity.All))
	for _, l := range severity.All {
		out[l] = 0
	}
	for _, f := range findings {
		out[f.Severity]++
	}
	return out
}

func writeJSON(report model.ScanReport, w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}

func writeSARIF(report model.ScanReport, w io.Writer) error {
	type artifactLocation struct {
		URI string `json:"uri"`
	}
	type region struct {
		StartLine int `json:"startLine"`
	}
	type physicalLocation struct {
		ArtifactLocation artifactLocation `json:"artifactLocation"`
		Region           *region          `json:"region,omitempty"`
	}
	type location struct {
		PhysicalLocation physicalLocation `json:"physicalLocation"`
	}
	type result struct {
		RuleID     string         `json:"ruleId"`
		Level      string         `json:"level"`
		Message    any            `json:"message"`
		Locations  []location     `json:"locations"`
		Properties map[string]any `json:"properties,omitempty"`
	}

	findings := report.Findings()
	results := make([]result, 0, len(findings))
	for _, f := range findings {
		file, line := splitLocation(f.Location, report.Path)
		loc := physicalLocation{ArtifactLocation: artifactLocation{URI: file}}
		if line > 0 {
			loc.Region = &region{StartLine: line}
		}
		text := f.Title
		if f.Description != "" {
			text = f.Title + ": " + f.Description
		}
		props := map[string]any{"severity": string(f.Severity)}
		if f.Source != "" {
			props["source"] = f.Source
		}
		if f.Confidence != nil {
			props["confidence"] = *f.Confidence
		}
		results = append(results, result{
			RuleID:     ruleID(f.Title),
			Level:      sarifLevel(f.Severity),
			Message:    map[string]string{"text": text},
			Locations:  []location{{PhysicalLocation: loc}},
			Properties: props,
		})
	}

	sarif := map[string]any{
		"$schema": "https://json.schemastore.org/sarif-2.1.0.json",
		"version": "2.1.0",
		"runs": []any{
			map[string]any{
				"tool": map[string]any{
					"driver": map[string]any{
						"name":            "smart-audit",
						"semanticVersion": ToolVersion,
					},
				},
				"results": results,
				"properties": map[string]any{
					"scanId":    report.ID,
					"riskScore": report.Metadata.RiskScore,
					"pipeline":  string(report.Pipeline),
				},
			},
		},
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(sarif)
}

// splitLocation turns "File.sol:42" into its file and line. Locations without
// a trailing line number fall back to the whole file.
func splitLocation(loc string, fallback string) (string, int) {
	loc = strings.TrimSpace(loc)
	if loc == "" {
		return fallback, 0
	}
	if i := strings.LastIndex(loc, ":"); i > 0 {
		if n, err := strconv.Atoi(loc[i+1:]); err == nil && n > 0 {
			return loc[:i], n
		}
	}
	if strings.HasPrefix(loc, "{") {
		return fallback, 0
	}
	return loc, 0
}

func ruleID(title string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(title) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			if dash && b.Len() > 0 {
				b.WriteByte('-')
			}
			dash = false
			b.WriteRune(r)
			continue
		}
		dash = true
	}
	if b.Len() == 0 {
		return "finding"
	}
	return b.String()
}

func severityBadge(level severity.Level) string {
	switch level {
	case severity.Critical:
		return "[CRITICAL]"
	case severity.High:
		return "[HIGH]"
	case severity.Medium:
		return "[MEDIUM]"
	case severity.Low:
		return "[LOW]"
	default:
		return "[INFO]"
	}
}

func sarifLevel(level severity.Level) string {
	switch level {
	case severity.Critical, severity.High:
		return "error"
	case severity.Medium:
		return "warning"
	default:
		return "note"
	}
}
