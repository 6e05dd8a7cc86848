package risk

import (
	"math"

	"github.com/CodeKage25/smart-audit-assistant/internal/model"
	"github.com/CodeKage25/smart-audit-assistant/internal/severity"
)

const MaxScore = 100

// Score sums weight(severity) x confidence over all findings, rounds, and clamps
// the total to [0, MaxScore]. Findings must already carry canonical severities.
func Score(findings []model.Finding) int {
	total := 0.0
	for _, f := range findings {
		total += severity.Weight(f.Severity) * clampConfidence(f.EffectiveConfidence())
	}
	return clamp(int(math.Round(total)))
}

func clampConfidence(c float64) float64 {
	if math.IsNaN(c) || c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}

func clamp(v int) int {
	if v < 0 {
		return 0
	}
	if v > MaxScore {
		return MaxScore
	}
	return v
}
