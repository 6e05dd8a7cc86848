package model

type Pipeline string

const (
	PipelineFast       Pipeline = "fast"
	PipelineThorough   Pipeline = "thorough"
	PipelineAIEnhanced Pipeline = "ai-enhanced"
)

func (p Pipeline) Valid() bool {
	switch p {
	case PipelineFast, PipelineThorough, PipelineAIEnhanced:
		return true
	}
	return false
}

// ScanReport is immutable once finalized.
type ScanReport struct {
	ID        string    `json:"id"`
	Path      string    `json:"path"`
	Timestamp int64     `json:"timestamp"`
	Duration  int64     `json:"duration"`
	Pipeline  Pipeline  `json:"pipeline"`
	Static    []Finding `json:"static"`
	AI        []Finding `json:"ai"`
	Metadata  Metadata  `json:"metadata"`
}

type Metadata struct {
	ToolsUsed            []string `json:"tools_used"`
	AIEnabled            bool     `json:"ai_enabled"`
	TotalFindings        int      `json:"total_findings"`
	RiskScore            int      `json:"risk_score"`
	GasOptimizationCount int      `json:"gas_optimization_count"`
}

// Findings returns static findings followed by AI findings.
func (r ScanReport) Findings() []Finding {
	out := make([]Finding, 0, len(r.Static)+len(r.AI))
	out = append(out, r.Static...)
	return append(out, r.AI...)
}
