// Package analytics derives aggregate views over the scan history.
package analytics

import (
	"context"
	"errors"
	"math"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/pterm/pterm"

	"github.com/CodeKage25/smart-audit-assistant/internal/logging"
	"github.com/CodeKage25/smart-audit-assistant/internal/model"
	"github.com/CodeKage25/smart-audit-assistant/internal/severity"
	"github.com/CodeKage25/smart-audit-assistant/internal/store"
)

const (
	DefaultWindow    = 50
	DefaultTrendDays = 30
	DefaultTopN      = 10
)

type Options struct {
	Ledger  store.Ledger
	Reports store.ReportCache
	// Window is the number of most recent ledger entries whose reports are
	// replayed for finding-level statistics.
	Window    int
	TrendDays int
	TopN      int
	Logger    *pterm.Logger
}

type Engine struct {
	ledger    store.Ledger
	reports   store.ReportCache
	window    int
	trendDays int
	topN      int
	log       *pterm.Logger
}

func New(opts Options) *Engine {
	e := &Engine{
		ledger:    opts.Ledger,
		reports:   opts.Reports,
		window:    opts.Window,
		trendDays: opts.TrendDays,
		topN:      opts.TopN,
		log:       logging.OrDiscard(opts.Logger),
	}
	if e.window <= 0 {
		e.window = DefaultWindow
	}
	if e.trendDays <= 0 {
		e.trendDays = DefaultTrendDays
	}
	if e.topN <= 0 {
		e.topN = DefaultTopN
	}
	return e
}

// Compute builds a snapshot from the ledger and a bounded window of cached
// reports. Reports that cannot be loaded are skipped.
func (e *Engine) Compute(ctx context.Context) (model.AnalyticsSnapshot, error) {
	entries, err := e.ledger.List(ctx)
	if err != nil {
		return model.AnalyticsSnapshot{}, err
	}

	snap := model.AnalyticsSnapshot{
		TotalScans:           len(entries),
		SeverityDistribution: emptyDistribution(),
		ScanTrends:           trends(entries, e.trendDays),
		TopVulnerabilities:   []model.VulnerabilityRank{},
	}
	if len(entries) == 0 {
		return snap, nil
	}

	riskSum := 0
	for _, entry := range entries {
		snap.TotalFindings += entry.FindingsCount
		riskSum += entry.RiskScore
	}
	snap.AverageRiskScore = roundMean(riskSum, len(entries))

	window := entries
	if len(window) > e.window {
		window = window[:e.window]
	}
	clusters := newClusterSet()
	for _, entry := range window {
		report, err := e.reports.Get(ctx, entry.ID)
		if err != nil {
			if !errors.Is(err, store.ErrNotFound) {
				e.log.Warn("skipping unreadable report", e.log.Args("scan_id", entry.ID, "error", err.Error()))
			}
			continue
		}
		for _, f := range report.Findings() {
			if !severity.Valid(f.Severity) {
				continue
			}
			snap.SeverityDistribution[string(f.Severity)]++
			clusters.add(f)
		}
	}
	snap.TopVulnerabilities = clusters.top(e.topN)
	return snap, nil
}

func emptyDistribution() map[string]int {
	out := make(map[string]int, len(severity.All))
	for _, level := range severity.All {
		out[string(level)] = 0
	}
	return out
}

type trendAccumulator struct {
	scans    int
	findings int
	risk     int
}

// trends buckets entries by UTC calendar day, ascending, keeping the most
// recent days buckets.
func trends(entries []model.HistoryEntry, days int) []model.TrendBucket {
	buckets := map[string]*trendAccumulator{}
	for _, entry := range entries {
		date := time.Unix(entry.Timestamp, 0).UTC().Format("2006-01-02")
		acc, ok := buckets[date]
		if !ok {
			acc = &trendAccumulator{}
			buckets[date] = acc
		}
		acc.scans++
		acc.findings += entry.FindingsCount
		acc.risk += entry.RiskScore
	}

	dates := make([]string, 0, len(buckets))
	for date := range buckets {
		dates = append(dates, date)
	}
	sort.Strings(dates)
	if len(dates) > days {
		dates = dates[len(dates)-days:]
	}

	out := make([]model.TrendBucket, 0, len(dates))
	for _, date := range dates {
		acc := buckets[date]
		out = append(out, model.TrendBucket{
			Date:         date,
			Scans:        acc.scans,
			Findings:     acc.findings,
			AvgRiskScore: roundMean(acc.risk, acc.scans),
		})
	}
	return out
}

func roundMean(sum, n int) int {
	if n == 0 {
		return 0
	}
	return int(math.Round(float64(sum) / float64(n)))
}

// ClusterKey normalizes a finding title for grouping: lowercase, runs of
// non-alphanumeric characters collapsed to one space, trimmed.
func ClusterKey(title string) string {
	var b strings.Builder
	pendingSpace := false
	for _, r := range strings.ToLower(title) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if pendingSpace && b.Len() > 0 {
				b.WriteByte(' ')
			}
			pendingSpace = false
			b.WriteRune(r)
			continue
		}
		pendingSpace = true
	}
	return b.String()
}

func titleCase(key string) string {
	words := strings.Fields(key)
	for i, w := range words {
		runes := []rune(w)
		runes[0] = unicode.ToUpper(runes[0])
		words[i] = string(runes)
	}
	return strings.Join(words, " ")
}

type cluster struct {
	key        string
	count      int
	severities []severity.Level
}

type clusterSet struct {
	byKey map[string]*cluster
	order []*cluster
}

func newClusterSet() *clusterSet {
	return &clusterSet{byKey: map[string]*cluster{}}
}

func (s *clusterSet) add(f model.Finding) {
	key := ClusterKey(f.Title)
	if key == "" {
		return
	}
	c, ok := s.byKey[key]
	if !ok {
		c = &cluster{key: key}
		s.byKey[key] = c
		s.order = append(s.order, c)
	}
	c.count++
	c.severities = append(c.severities, f.Severity)
}

// top ranks clusters by descending count. Equal counts keep first-seen order.
func (s *clusterSet) top(n int) []model.VulnerabilityRank {
	ranked := append([]*cluster(nil), s.order...)
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].count > ranked[j].count })
	if len(ranked) > n {
		ranked = ranked[:n]
	}
	out := make([]model.VulnerabilityRank, 0, len(ranked))
	for _, c := range ranked {
		out = append(out, model.VulnerabilityRank{
			Title:       titleCase(c.key),
			Count:       c.count,
			AvgSeverity: string(mode(c.severities)),
		})
	}
	return out
}

// mode returns the most frequent level; the first seen wins ties.
func mode(levels []severity.Level) severity.Level {
	counts := map[severity.Level]int{}
	var best severity.Level
	bestCount := 0
	for _, l := range levels {
		counts[l]++
	}
	for _, l := range levels {
		if counts[l] > bestCount {
			best, bestCount = l, counts[l]
		}
	}
	return best
}
