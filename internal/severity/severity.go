package severity

import (
	"fmt"
	"strings"
)

type Level string

const (
	Critical Level = "critical"
	High     Level = "high"
	Medium   Level = "medium"
	Low      Level = "low"
	Info     Level = "info"
)

// All lists the canonical levels from most to least severe.
var All = []Level{Critical, High, Medium, Low, Info}

var order = map[Level]int{
	Info:     1,
	Low:      2,
	Medium:   3,
	High:     4,
	Critical: 5,
}

var weights = map[Level]float64{
	Info:     1,
	Low:      2,
	Medium:   4,
	High:     7,
	Critical: 10,
}

var aliases = map[string]Level{
	"informational": Info,
	"optimization":  Info,
	"note":          Info,
	"warning":       Medium,
	"error":         High,
}

// Normalize maps raw analyzer output onto a canonical level. Matching is
// case-insensitive and accepts a small set of aliases emitted by common tools.
func Normalize(level string) (Level, error) {
	l := Level(strings.ToLower(strings.TrimSpace(level)))
	if _, ok := order[l]; ok {
		return l, nil
	}
	if alias, ok := aliases[string(l)]; ok {
		return alias, nil
	}
	return "", fmt.Errorf("invalid severity level: %s", level)
}

func Valid(level Level) bool {
	_, ok := order[level]
	return ok
}

// Rank returns 0 for unknown levels.
func Rank(level Level) int {
	return order[level]
}

// Weight returns the risk weight of a canonical level, 0 for unknown levels.
func Weight(level Level) float64 {
	return weights[level]
}

func MeetsOrAbove(level Level, threshold Level) bool {
	l, okL := order[level]
	t, okT := order[threshold]
	if !okL || !okT {
		return false
	}
	return l >= t
}

// Max returns the most severe canonical level, "" when none is recognized.
func Max(levels ...Level) Level {
	maxRank := 0
	var maxLevel Level
	for _, l := range levels {
		r := Rank(l)
		if r > maxRank {
			maxRank = r
			maxLevel = l
		}
	}
	return maxLevel
}
