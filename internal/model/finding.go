package model

import "github.com/CodeKage25/smart-audit-assistant/internal/severity"

// DefaultConfidence is assumed for findings that carry no confidence value.
const DefaultConfidence = 0.8

type Finding struct {
	Source       string         `json:"source,omitempty"`
	Severity     severity.Level `json:"severity"`
	Title        string         `json:"title"`
	Description  string         `json:"description,omitempty"`
	Location     string         `json:"location"`
	Confidence   *float64       `json:"confidence,omitempty"`
	Reasoning    string         `json:"reasoning,omitempty"`
	SuggestedFix string         `json:"suggested_fix,omitempty"`
}

// EffectiveConfidence returns the finding's confidence or DefaultConfidence.
func (f Finding) EffectiveConfidence() float64 {
	if f.Confidence == nil {
		return DefaultConfidence
	}
	return *f.Confidence
}
