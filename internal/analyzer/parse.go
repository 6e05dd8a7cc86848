package analyzer

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"strings"

	"github.com/CodeKage25/smart-audit-assistant/internal/model"
	"github.com/CodeKage25/smart-audit-assistant/internal/severity"
)

// document is the artifact written by analyzers.
type document struct {
	Static []rawFinding `json:"static"`
	AI     []rawFinding `json:"ai"`
}

type rawFinding struct {
	Source       string          `json:"source"`
	Tool         string          `json:"tool"`
	Severity     string          `json:"severity"`
	Title        string          `json:"title"`
	Description  string          `json:"description"`
	Location     json.RawMessage `json:"location"`
	Confidence   *float64        `json:"confidence"`
	Reasoning    string          `json:"reasoning"`
	SuggestedFix string          `json:"suggested_fix"`
}

// rejected describes a finding dropped at ingestion.
type rejected struct {
	Title    string
	Severity string
}

type parsed struct {
	Findings []model.Finding
	Rejected []rejected
	Filtered int
}

func readArtifact(path string) (document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return document{}, fmt.Errorf("%w: artifact %s was not written", ErrOutputParse, path)
		}
		return document{}, fmt.Errorf("%w: read artifact: %v", ErrOutputParse, err)
	}
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return document{}, fmt.Errorf("%w: parse artifact: %v", ErrOutputParse, err)
	}
	return doc, nil
}

// normalize converts raw findings to canonical ones. Findings with an
// unrecognized severity are rejected; findings below floor are filtered.
func normalize(raw []rawFinding, target string, floor severity.Level) parsed {
	out := parsed{Findings: make([]model.Finding, 0, len(raw))}
	for _, r := range raw {
		level, err := severity.Normalize(r.Severity)
		if err != nil {
			out.Rejected = append(out.Rejected, rejected{Title: r.Title, Severity: r.Severity})
			continue
		}
		if !severity.MeetsOrAbove(level, floor) {
			out.Filtered++
			continue
		}

		f := model.Finding{
			Source:       firstNonEmpty(r.Source, r.Tool),
			Severity:     level,
			Title:        strings.TrimSpace(r.Title),
			Description:  strings.TrimSpace(r.Description),
			Location:     locationString(r.Location),
			Confidence:   clampConfidence(r.Confidence),
			Reasoning:    strings.TrimSpace(r.Reasoning),
			SuggestedFix: strings.TrimSpace(r.SuggestedFix),
		}
		if f.Title == "" {
			f.Title = "Untitled finding"
		}
		if f.Location == "" {
			f.Location = target
		}
		out.Findings = append(out.Findings, f)
	}
	return out
}

// locationString accepts either a JSON string or any other JSON value, which
// is kept in compact form.
func locationString(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(raw)
	}
	return buf.String()
}

func clampConfidence(c *float64) *float64 {
	if c == nil || math.IsNaN(*c) {
		return nil
	}
	v := math.Min(math.Max(*c, 0), 1)
	return &v
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}
