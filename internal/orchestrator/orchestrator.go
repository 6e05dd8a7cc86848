// Package orchestrator runs scans end to end and answers queries about them.
//
// Each scan is an independent task. Only that task writes the scan's status,
// and once the status is terminal it is never written again. Cancellation is
// not supported: a scan runs to completion or to its analyzer timeouts even
// when the caller goes away.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pterm/pterm"

	"github.com/CodeKage25/smart-audit-assistant/internal/analytics"
	"github.com/CodeKage25/smart-audit-assistant/internal/analyzer"
	"github.com/CodeKage25/smart-audit-assistant/internal/logging"
	"github.com/CodeKage25/smart-audit-assistant/internal/model"
	"github.com/CodeKage25/smart-audit-assistant/internal/risk"
	"github.com/CodeKage25/smart-audit-assistant/internal/scan"
	"github.com/CodeKage25/smart-audit-assistant/internal/severity"
	"github.com/CodeKage25/smart-audit-assistant/internal/store"
)

var ErrScanInProgress = errors.New("scan already in progress")

const (
	msgInitializing = "Initializing scan..."
	msgStatic       = "Running static analysis..."
	msgAI           = "Running AI analysis..."
	msgProcessing   = "Processing results..."
)

// ScanError is returned for failures after a scan id was allocated.
type ScanError struct {
	ScanID string
	Err    error
}

func (e *ScanError) Error() string {
	return fmt.Sprintf("scan %s: %v", e.ScanID, e.Err)
}

func (e *ScanError) Unwrap() error { return e.Err }

// Request describes one scan. Empty fields take the service defaults.
type Request struct {
	ContractPath string   `json:"contractPath"`
	IncludeAI    *bool    `json:"includeAI,omitempty"`
	Severity     string   `json:"severity,omitempty"`
	Tools        []string `json:"tools,omitempty"`
	Pipeline     string   `json:"pipeline,omitempty"`
}

type Defaults struct {
	IncludeAI bool
	Severity  severity.Level
	Pipeline  model.Pipeline
	Tools     []string
}

type Resolver interface {
	Resolve(raw string) (scan.Target, error)
}

type Analyzer interface {
	RunStatic(ctx context.Context, req analyzer.StaticRequest) ([]model.Finding, error)
	RunAI(ctx context.Context, req analyzer.AIRequest) ([]model.Finding, error)
	Cleanup(scanID string) error
}

// Suppressor drops findings that were accepted as known risk.
type Suppressor interface {
	Filter(findings []model.Finding) ([]model.Finding, int, error)
}

type Options struct {
	Resolver       Resolver
	Analyzer       Analyzer
	Baseline       Suppressor
	Status         store.StatusStore
	Reports        store.ReportCache
	Ledger         store.Ledger
	Analytics      *analytics.Engine
	Defaults       Defaults
	DedupeInflight bool
	PruneOrphans   bool
	Logger         *pterm.Logger
	Now            func() time.Time
	NewID          func() string
}

type Orchestrator struct {
	opts Options
	log  *pterm.Logger

	mu       sync.Mutex
	inflight map[string]string
	wg       sync.WaitGroup
}

func New(opts Options) *Orchestrator {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	if opts.Defaults.Severity == "" {
		opts.Defaults.Severity = severity.Info
	}
	if opts.Defaults.Pipeline == "" {
		opts.Defaults.Pipeline = model.PipelineThorough
	}
	if opts.Analytics == nil {
		opts.Analytics = analytics.New(analytics.Options{Ledger: opts.Ledger, Reports: opts.Reports, Logger: opts.Logger})
	}
	return &Orchestrator{opts: opts, log: logging.OrDiscard(opts.Logger), inflight: map[string]string{}}
}

type plan struct {
	target    scan.Target
	includeAI bool
	floor     severity.Level
	tools     []string
	pipeline  model.Pipeline
	key       string
}

// StartScan runs a scan synchronously and returns its report. Validation
// errors are returned before any id is allocated; later failures are wrapped
// in *ScanError after the status has been marked failed.
//
// The scan is detached from ctx cancellation: a caller that goes away does
// not abort the analyzers or leave the scan half-recorded.
func (o *Orchestrator) StartScan(ctx context.Context, req Request) (model.ScanReport, error) {
	start := o.opts.Now()
	p, err := o.prepare(req)
	if err != nil {
		return model.ScanReport{}, err
	}
	ctx = context.WithoutCancel(ctx)
	id, err := o.begin(ctx, p)
	if err != nil {
		return model.ScanReport{}, err
	}
	defer o.release(p)
	return o.run(ctx, id, p, start)
}

// Submit validates the request, records the scan as running and completes it
// in the background. The returned id can be polled with GetStatus.
func (o *Orchestrator) Submit(ctx context.Context, req Request) (string, error) {
	start := o.opts.Now()
	p, err := o.prepare(req)
	if err != nil {
		return "", err
	}
	id, err := o.begin(ctx, p)
	if err != nil {
		return "", err
	}

	bg := context.WithoutCancel(ctx)
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer o.release(p)
		if _, err := o.run(bg, id, p, start); err != nil {
			o.log.Debug("background scan ended with error", o.log.Args("scan_id", id, "error", err.Error()))
		}
	}()
	return id, nil
}

// Wait blocks until every submitted scan has finished.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

func (o *Orchestrator) GetStatus(ctx context.Context, id string) (model.ScanStatus, error) {
	return o.opts.Status.GetStatus(ctx, id)
}

func (o *Orchestrator) GetReport(ctx context.Context, id string) (model.ScanReport, error) {
	return o.opts.Reports.Get(ctx, id)
}

// Latest returns nil when no scan has completed yet.
func (o *Orchestrator) Latest(ctx context.Context) (*model.ScanReport, error) {
	return o.opts.Reports.Latest(ctx)
}

func (o *Orchestrator) History(ctx context.Context) ([]model.HistoryEntry, error) {
	entries, err := o.opts.Ledger.List(ctx)
	if err != nil {
		return nil, err
	}
	if entries == nil {
		entries = []model.HistoryEntry{}
	}
	return entries, nil
}

func (o *Orchestrator) Analytics(ctx context.Context) (model.AnalyticsSnapshot, error) {
	return o.opts.Analytics.Compute(ctx)
}

func (o *Orchestrator) prepare(req Request) (plan, error) {
	d := o.opts.Defaults
	p := plan{includeAI: d.IncludeAI, floor: d.Severity, pipeline: d.Pipeline, tools: d.Tools}

	if req.IncludeAI != nil {
		p.includeAI = *req.IncludeAI
	}
	if strings.TrimSpace(req.Severity) != "" {
		level, err := severity.Normalize(req.Severity)
		if err != nil {
			return plan{}, fmt.Errorf("%w: %v", scan.ErrInvalidInput, err)
		}
		p.floor = level
	}
	if strings.TrimSpace(req.Pipeline) != "" {
		pl := model.Pipeline(strings.ToLower(strings.TrimSpace(req.Pipeline)))
		if !pl.Valid() {
			return plan{}, fmt.Errorf("%w: invalid pipeline %q", scan.ErrInvalidInput, req.Pipeline)
		}
		p.pipeline = pl
	}
	if tools := cleanTools(req.Tools); len(tools) > 0 {
		p.tools = tools
	}

	target, err := o.opts.Resolver.Resolve(req.ContractPath)
	if err != nil {
		return plan{}, err
	}
	p.target = target
	p.key = fmt.Sprintf("%s|%s|%t", target.Path, p.pipeline, p.includeAI)
	return p, nil
}

func cleanTools(tools []string) []string {
	out := make([]string, 0, len(tools))
	seen := map[string]bool{}
	for _, t := range tools {
		t = strings.TrimSpace(t)
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}

// begin allocates the scan id and writes the initial running status.
func (o *Orchestrator) begin(ctx context.Context, p plan) (string, error) {
	id := o.opts.NewID()
	if o.opts.DedupeInflight {
		o.mu.Lock()
		if running, ok := o.inflight[p.key]; ok {
			o.mu.Unlock()
			return "", fmt.Errorf("%w: %s (scan %s)", ErrScanInProgress, p.target.Path, running)
		}
		o.inflight[p.key] = id
		o.mu.Unlock()
	}
	o.setStatus(ctx, id, model.StatusRunning, msgInitializing)
	o.log.Info("scan started", o.log.Args("scan_id", id, "path", p.target.Path, "pipeline", string(p.pipeline), "ai", p.includeAI))
	return id, nil
}

func (o *Orchestrator) release(p plan) {
	if !o.opts.DedupeInflight {
		return
	}
	o.mu.Lock()
	delete(o.inflight, p.key)
	o.mu.Unlock()
}

func (o *Orchestrator) run(ctx context.Context, id string, p plan, start time.Time) (report model.ScanReport, err error) {
	defer func() {
		if r := recover(); r != nil {
			report, err = model.ScanReport{}, o.fail(ctx, id, p, start, fmt.Errorf("internal error: %v", r))
		}
	}()
	defer func() {
		if cerr := o.opts.Analyzer.Cleanup(id); cerr != nil {
			o.log.Warn("failed to remove analyzer artifacts", o.log.Args("scan_id", id, "error", cerr.Error()))
		}
	}()

	o.setStatus(ctx, id, model.StatusRunning, msgStatic)
	static, err := o.opts.Analyzer.RunStatic(ctx, analyzer.StaticRequest{
		ScanID:   id,
		Target:   p.target.Path,
		Tools:    p.tools,
		Floor:    p.floor,
		Pipeline: p.pipeline,
	})
	if err != nil {
		return model.ScanReport{}, o.fail(ctx, id, p, start, err)
	}

	ai := []model.Finding{}
	if p.includeAI {
		o.setStatus(ctx, id, model.StatusRunning, msgAI)
		ai, err = o.opts.Analyzer.RunAI(ctx, analyzer.AIRequest{
			ScanID:   id,
			Target:   p.target.Path,
			Static:   static,
			Floor:    p.floor,
			Pipeline: p.pipeline,
		})
		if err != nil {
			o.log.Warn("ai analysis degraded", o.log.Args("scan_id", id, "error", err.Error()))
			ai = []model.Finding{}
		}
	}

	o.setStatus(ctx, id, model.StatusRunning, msgProcessing)
	static, ai = o.suppress(id, static, ai)
	report = o.assemble(id, p, start, static, ai)
	o.persist(ctx, report, p)
	o.setStatus(ctx, id, model.StatusCompleted, fmt.Sprintf("Scan completed: %d findings", report.Metadata.TotalFindings))
	o.log.Info("scan completed", o.log.Args(
		"scan_id", id, "findings", report.Metadata.TotalFindings, "risk_score", report.Metadata.RiskScore, "duration_ms", report.Duration))
	return report, nil
}

func (o *Orchestrator) assemble(id string, p plan, start time.Time, static, ai []model.Finding) model.ScanReport {
	if static == nil {
		static = []model.Finding{}
	}
	report := model.ScanReport{
		ID:        id,
		Path:      p.target.Path,
		Timestamp: start.Unix(),
		Duration:  o.opts.Now().Sub(start).Milliseconds(),
		Pipeline:  p.pipeline,
		Static:    static,
		AI:        ai,
	}
	all := report.Findings()
	report.Metadata = model.Metadata{
		ToolsUsed:            append([]string{}, p.tools...),
		AIEnabled:            p.includeAI,
		TotalFindings:        len(all),
		RiskScore:            risk.Score(all),
		GasOptimizationCount: gasCount(all),
	}
	return report
}

// suppress applies the baseline. A baseline that cannot be read suppresses
// nothing.
func (o *Orchestrator) suppress(id string, static, ai []model.Finding) ([]model.Finding, []model.Finding) {
	if o.opts.Baseline == nil {
		return static, ai
	}
	keptStatic, nStatic, err := o.opts.Baseline.Filter(static)
	if err != nil {
		o.log.Warn("baseline unavailable, reporting all findings", o.log.Args("scan_id", id, "error", err.Error()))
		return static, ai
	}
	keptAI, nAI, err := o.opts.Baseline.Filter(ai)
	if err != nil {
		o.log.Warn("baseline unavailable, reporting all findings", o.log.Args("scan_id", id, "error", err.Error()))
		return static, ai
	}
	if n := nStatic + nAI; n > 0 {
		o.log.Info("findings suppressed by baseline", o.log.Args("scan_id", id, "count", n))
	}
	return keptStatic, keptAI
}

func gasCount(findings []model.Finding) int {
	n := 0
	for _, f := range findings {
		if strings.Contains(strings.ToLower(f.Title+" "+f.Description), "gas") {
			n++
		}
	}
	return n
}

// persist writes the report to the cache and the ledger. Failures are logged
// and never reach the caller, who already holds the report.
func (o *Orchestrator) persist(ctx context.Context, report model.ScanReport, p plan) {
	if err := o.opts.Reports.Put(ctx, report); err != nil {
		o.log.Error("failed to cache report", o.log.Args("scan_id", report.ID, "error", err.Error()))
	} else if err := o.opts.Reports.MarkLatest(ctx, report.ID); err != nil {
		o.log.Error("failed to update latest report", o.log.Args("scan_id", report.ID, "error", err.Error()))
	}

	o.appendHistory(ctx, model.HistoryEntry{
		ID:            report.ID,
		Path:          report.Path,
		Timestamp:     report.Timestamp,
		Duration:      report.Duration,
		FindingsCount: report.Metadata.TotalFindings,
		RiskScore:     report.Metadata.RiskScore,
		Status:        model.StatusCompleted,
		Pipeline:      p.pipeline,
		AIEnabled:     p.includeAI,
	})
}

func (o *Orchestrator) appendHistory(ctx context.Context, entry model.HistoryEntry) {
	evicted, err := o.opts.Ledger.Append(ctx, entry)
	if err != nil {
		o.log.Error("failed to append history", o.log.Args("scan_id", entry.ID, "error", err.Error()))
		return
	}
	if !o.opts.PruneOrphans {
		return
	}
	for _, old := range evicted {
		if old.ID == entry.ID {
			continue
		}
		if err := o.opts.Reports.Delete(ctx, old.ID); err != nil {
			o.log.Warn("failed to prune evicted report", o.log.Args("scan_id", old.ID, "error", err.Error()))
			continue
		}
		o.log.Debug("pruned evicted report", o.log.Args("scan_id", old.ID))
	}
}

// fail marks the scan failed, records it in the ledger and returns the
// wrapped error.
func (o *Orchestrator) fail(ctx context.Context, id string, p plan, start time.Time, cause error) error {
	if !o.setStatus(ctx, id, model.StatusFailed, "Scan failed: "+cause.Error()) {
		o.log.Error("scan errored after reaching a terminal state", o.log.Args("scan_id", id, "error", cause.Error()))
		return &ScanError{ScanID: id, Err: cause}
	}
	o.appendHistory(ctx, model.HistoryEntry{
		ID:        id,
		Path:      p.target.Path,
		Timestamp: start.Unix(),
		Duration:  o.opts.Now().Sub(start).Milliseconds(),
		Status:    model.StatusFailed,
		Pipeline:  p.pipeline,
		AIEnabled: p.includeAI,
	})
	o.log.Error("scan failed", o.log.Args("scan_id", id, "path", p.target.Path, "error", cause.Error()))
	return &ScanError{ScanID: id, Err: cause}
}

// setStatus returns false without writing once the scan is terminal.
func (o *Orchestrator) setStatus(ctx context.Context, id string, status model.Status, message string) bool {
	if cur, err := o.opts.Status.GetStatus(ctx, id); err == nil && cur.Status.Terminal() {
		o.log.Warn("ignoring status update for finished scan", o.log.Args(
			"scan_id", id, "current", string(cur.Status), "status", string(status)))
		return false
	}
	st := model.ScanStatus{Status: status, Message: message, Timestamp: o.opts.Now().Unix()}
	if err := o.opts.Status.SetStatus(ctx, id, st); err != nil {
		o.log.Error("failed to write scan status", o.log.Args("scan_id", id, "status", string(status), "error", err.Error()))
	}
	return true
}
