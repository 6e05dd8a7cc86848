package model

type HistoryEntry struct {
	ID            string   `json:"id"`
	Path          string   `json:"path"`
	Timestamp     int64    `json:"timestamp"`
	Duration      int64    `json:"duration"`
	FindingsCount int      `json:"findings_count"`
	RiskScore     int      `json:"risk_score"`
	Status        Status   `json:"status"`
	Pipeline      Pipeline `json:"pipeline"`
	AIEnabled     bool     `json:"ai_enabled"`
}

type AnalyticsSnapshot struct {
	TotalScans           int                 `json:"totalScans"`
	TotalFindings        int                 `json:"totalFindings"`
	AverageRiskScore     int                 `json:"averageRiskScore"`
	SeverityDistribution map[string]int      `json:"severityDistribution"`
	ScanTrends           []TrendBucket       `json:"scanTrends"`
	TopVulnerabilities   []VulnerabilityRank `json:"topVulnerabilities"`
}

type TrendBucket struct {
	Date         string `json:"date"`
	Scans        int    `json:"scans"`
	Findings     int    `json:"findings"`
	AvgRiskScore int    `json:"avgRiskScore"`
}

type VulnerabilityRank struct {
	Title       string `json:"title"`
	Count       int    `json:"count"`
	AvgSeverity string `json:"avgSeverity"`
}
