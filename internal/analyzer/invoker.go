package analyzer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pterm/pterm"

	"github.com/CodeKage25/smart-audit-assistant/internal/logging"
	"github.com/CodeKage25/smart-audit-assistant/internal/model"
	"github.com/CodeKage25/smart-audit-assistant/internal/severity"
)

var (
	ErrStaticAnalysisFailed = errors.New("static analysis failed")
	ErrAIAnalysisDegraded   = errors.New("ai analysis degraded")
	ErrOutputParse          = errors.New("analyzer output parse error")
	ErrTimeout              = errors.New("analyzer timed out")
)

// Timeouts supplies per-pipeline subprocess deadlines.
type Timeouts interface {
	StaticTimeout(p model.Pipeline) time.Duration
	AITimeout(p model.Pipeline) time.Duration
}

type Options struct {
	Runner        Runner
	StaticCommand []string
	AICommand     []string
	WorkDir       string
	Retries       int
	Timeouts      Timeouts
	Logger        *pterm.Logger
	Sleep         func(time.Duration)
}

type Invoker struct {
	opts Options
	log  *pterm.Logger
}

func New(opts Options) *Invoker {
	if opts.Runner == nil {
		opts.Runner = OSRunner{}
	}
	if opts.WorkDir == "" {
		opts.WorkDir = filepath.Join(os.TempDir(), "smart-audit")
	}
	if opts.Retries < 0 {
		opts.Retries = 0
	}
	if opts.Sleep == nil {
		opts.Sleep = time.Sleep
	}
	return &Invoker{opts: opts, log: logging.OrDiscard(opts.Logger)}
}

type StaticRequest struct {
	ScanID   string
	Target   string
	Tools    []string
	Floor    severity.Level
	Pipeline model.Pipeline
}

type AIRequest struct {
	ScanID   string
	Target   string
	Static   []model.Finding
	Floor    severity.Level
	Pipeline model.Pipeline
}

// RunStatic runs the mandatory static pass. Non-zero exits are retried with
// exponential backoff. Timeouts and a cancelled ctx are not retried.
func (i *Invoker) RunStatic(ctx context.Context, req StaticRequest) ([]model.Finding, error) {
	dir, err := i.scanDir(req.ScanID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStaticAnalysisFailed, err)
	}
	artifact := filepath.Join(dir, "static.json")

	args := []string{
		"--target", req.Target,
		"--output", artifact,
		"--severity", string(req.Floor),
		"--pipeline", string(req.Pipeline),
	}
	if len(req.Tools) > 0 {
		args = append(args, "--tools", strings.Join(req.Tools, ","))
	}
	inv := Invocation{Command: i.opts.StaticCommand, Args: args, Artifact: artifact}
	timeout := i.staticTimeout(req.Pipeline)

	for attempt := 0; ; attempt++ {
		err := i.invoke(ctx, inv, timeout)
		if err == nil {
			break
		}
		if attempt >= i.opts.Retries || errors.Is(err, ErrTimeout) || errors.Is(err, context.Canceled) {
			return nil, fmt.Errorf("%w: %w", ErrStaticAnalysisFailed, err)
		}
		backoff := time.Duration(1<<attempt) * time.Second
		i.log.Warn("static analyzer failed, retrying", i.log.Args(
			"scan_id", req.ScanID, "attempt", attempt+1, "backoff", backoff.String(), "error", err.Error()))
		i.opts.Sleep(backoff)
	}

	doc, err := readArtifact(artifact)
	if err != nil {
		return nil, err
	}
	res := normalize(doc.Static, req.Target, req.Floor)
	i.logRejected(req.ScanID, "static", res)
	return res.Findings, nil
}

// RunAI runs the best-effort AI pass. It always returns a non-nil slice; on
// failure the slice is empty and the error wraps ErrAIAnalysisDegraded.
func (i *Invoker) RunAI(ctx context.Context, req AIRequest) ([]model.Finding, error) {
	empty := []model.Finding{}
	dir, err := i.scanDir(req.ScanID)
	if err != nil {
		return empty, fmt.Errorf("%w: %v", ErrAIAnalysisDegraded, err)
	}
	artifact := filepath.Join(dir, "ai.json")
	input := filepath.Join(dir, "ai-input.json")

	data, err := json.Marshal(map[string]any{"static": req.Static})
	if err != nil {
		return empty, fmt.Errorf("%w: %v", ErrAIAnalysisDegraded, err)
	}
	if err := os.WriteFile(input, data, 0o644); err != nil {
		return empty, fmt.Errorf("%w: %v", ErrAIAnalysisDegraded, err)
	}

	inv := Invocation{
		Command: i.opts.AICommand,
		Args: []string{
			"--target", req.Target,
			"--output", artifact,
			"--severity", string(req.Floor),
			"--pipeline", string(req.Pipeline),
			"--ai",
			"--static-findings", input,
		},
		Artifact: artifact,
	}
	if err := i.invoke(ctx, inv, i.aiTimeout(req.Pipeline)); err != nil {
		return empty, fmt.Errorf("%w: %v", ErrAIAnalysisDegraded, err)
	}

	doc, err := readArtifact(artifact)
	if err != nil {
		return empty, fmt.Errorf("%w: %v", ErrAIAnalysisDegraded, err)
	}
	res := normalize(doc.AI, req.Target, req.Floor)
	i.logRejected(req.ScanID, "ai", res)
	return res.Findings, nil
}

// Cleanup removes the scan's artifacts.
func (i *Invoker) Cleanup(scanID string) error {
	if scanID == "" {
		return nil
	}
	return os.RemoveAll(filepath.Join(i.opts.WorkDir, scanID))
}

func (i *Invoker) invoke(ctx context.Context, inv Invocation, timeout time.Duration) error {
	if len(inv.Command) == 0 {
		return errors.New("analyzer command is not configured")
	}
	if err := os.Remove(inv.Artifact); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("clear stale artifact: %w", err)
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	out, err := i.opts.Runner.Run(runCtx, inv)
	if errors.Is(ctx.Err(), context.Canceled) {
		return fmt.Errorf("analyzer run aborted: %w", ctx.Err())
	}
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w after %s", ErrTimeout, timeout)
	}
	if err != nil {
		return err
	}
	if out.ExitCode != 0 {
		if out.Stderr != "" {
			return fmt.Errorf("%s exited with code %d: %s", inv.Command[0], out.ExitCode, out.Stderr)
		}
		return fmt.Errorf("%s exited with code %d", inv.Command[0], out.ExitCode)
	}
	return nil
}

func (i *Invoker) scanDir(scanID string) (string, error) {
	if scanID == "" {
		return "", errors.New("scan id is required")
	}
	dir := filepath.Join(i.opts.WorkDir, scanID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	return dir, nil
}

func (i *Invoker) staticTimeout(p model.Pipeline) time.Duration {
	if i.opts.Timeouts != nil {
		if t := i.opts.Timeouts.StaticTimeout(p); t > 0 {
			return t
		}
	}
	if p == model.PipelineFast {
		return 60 * time.Second
	}
	return 180 * time.Second
}

func (i *Invoker) aiTimeout(p model.Pipeline) time.Duration {
	if i.opts.Timeouts != nil {
		if t := i.opts.Timeouts.AITimeout(p); t > 0 {
			return t
		}
	}
	if p == model.PipelineFast {
		return 90 * time.Second
	}
	return 300 * time.Second
}

func (i *Invoker) logRejected(scanID string, pass string, res parsed) {
	for _, r := range res.Rejected {
		i.log.Warn("dropping finding with unrecognized severity", i.log.Args(
			"scan_id", scanID, "pass", pass, "title", r.Title, "severity", r.Severity))
	}
	if res.Filtered > 0 {
		i.log.Debug("findings below severity floor filtered", i.log.Args(
			"scan_id", scanID, "pass", pass, "count", res.Filtered))
	}
}
