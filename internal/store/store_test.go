package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"reflect"
	"sync"
	"testing"

	"github.com/CodeKage25/smart-audit-assistant/internal/model"
	"github.com/CodeKage25/smart-audit-assistant/internal/severity"
)

type fullStore interface {
	StatusStore
	ReportCache
	Ledger
}

func backends(t *testing.T) map[string]func(t *testing.T, limit int) fullStore {
	t.Helper()
	out := map[string]func(t *testing.T, limit int) fullStore{
		"file": func(t *testing.T, limit int) fullStore {
			f, err := NewFile(t.TempDir(), limit)
			if err != nil {
				t.Fatalf("NewFile error: %v", err)
			}
			return f
		},
		"memory": func(t *testing.T, limit int) fullStore {
			return NewMemory(limit)
		},
	}
	if dsn := os.Getenv("SMART_AUDIT_TEST_POSTGRES_DSN"); dsn != "" {
		out["postgres"] = func(t *testing.T, limit int) fullStore {
			p, err := OpenPostgres(context.Background(), dsn, limit)
			if err != nil {
				t.Fatalf("OpenPostgres error: %v", err)
			}
			if _, err := p.db.Exec(`TRUNCATE scan_status, scan_reports, scan_latest, scan_history`); err != nil {
				t.Fatalf("truncate: %v", err)
			}
			t.Cleanup(func() { _ = p.Close() })
			return p
		}
	}
	return out
}

func sampleReport(id string) model.ScanReport {
	conf := 0.65
	return model.ScanReport{
		ID:        id,
		Path:      "/contracts/Vault.sol",
		Timestamp: 1700000000,
		Duration:  1234,
		Pipeline:  model.PipelineAIEnhanced,
		Static: []model.Finding{
			{Source: "slither", Severity: severity.High, Title: "Reentrancy", Location: "Vault.sol:42"},
		},
		AI: []model.Finding{
			{Source: "ai", Severity: severity.Medium, Title: "Oracle", Location: "Vault.sol:7", Confidence: &conf, Reasoning: "spot price", SuggestedFix: "TWAP"},
		},
		Metadata: model.Metadata{ToolsUsed: []string{"slither"}, AIEnabled: true, TotalFindings: 2, RiskScore: 8},
	}
}

func TestStatusLifecycle(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			s := open(t, 0)
			ctx := context.Background()

			st, err := s.GetStatus(ctx, "missing")
			if err != nil {
				t.Fatalf("GetStatus error: %v", err)
			}
			if st.Status != model.StatusNotFound {
				t.Fatalf("expected not_found, got %s", st.Status)
			}

			if err := s.SetStatus(ctx, "scan-1", model.ScanStatus{Status: model.StatusRunning, Message: "Initializing scan...", Timestamp: 1}); err != nil {
				t.Fatalf("SetStatus error: %v", err)
			}
			if err := s.SetStatus(ctx, "scan-1", model.ScanStatus{Status: model.StatusCompleted, Message: "Scan completed", Timestamp: 2}); err != nil {
				t.Fatalf("SetStatus error: %v", err)
			}
			st, err = s.GetStatus(ctx, "scan-1")
			if err != nil {
				t.Fatalf("GetStatus error: %v", err)
			}
			want := model.ScanStatus{Status: model.StatusCompleted, Message: "Scan completed", Timestamp: 2}
			if st != want {
				t.Fatalf("unexpected status: %+v", st)
			}
		})
	}
}

func TestReportRoundTripAndWriteOnce(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			s := open(t, 0)
			ctx := context.Background()
			report := sampleReport("scan-rt")

			if err := s.Put(ctx, report); err != nil {
				t.Fatalf("Put error: %v", err)
			}
			got, err := s.Get(ctx, report.ID)
			if err != nil {
				t.Fatalf("Get error: %v", err)
			}
			if !reflect.DeepEqual(got, report) {
				t.Fatalf("round trip mismatch:\n got %+v\nwant %+v", got, report)
			}

			changed := report
			changed.Metadata.RiskScore = 99
			if err := s.Put(ctx, changed); !errors.Is(err, ErrAlreadyExists) {
				t.Fatalf("expected ErrAlreadyExists, got %v", err)
			}
			got, _ = s.Get(ctx, report.ID)
			if got.Metadata.RiskScore != report.Metadata.RiskScore {
				t.Fatalf("report was overwritten")
			}

			if _, err := s.Get(ctx, "nope"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("expected ErrNotFound, got %v", err)
			}
		})
	}
}

func TestLatestAndDelete(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			s := open(t, 0)
			ctx := context.Background()

			latest, err := s.Latest(ctx)
			if err != nil || latest != nil {
				t.Fatalf("expected no latest report, got %+v err=%v", latest, err)
			}

			for _, id := range []string{"a", "b"} {
				if err := s.Put(ctx, sampleReport(id)); err != nil {
					t.Fatalf("Put error: %v", err)
				}
				if err := s.MarkLatest(ctx, id); err != nil {
					t.Fatalf("MarkLatest error: %v", err)
				}
			}
			latest, err = s.Latest(ctx)
			if err != nil || latest == nil || latest.ID != "b" {
				t.Fatalf("expected latest b, got %+v err=%v", latest, err)
			}

			if err := s.Delete(ctx, "b"); err != nil {
				t.Fatalf("Delete error: %v", err)
			}
			if _, err := s.Get(ctx, "b"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("expected deleted report to be gone, got %v", err)
			}
			latest, err = s.Latest(ctx)
			if err != nil || latest != nil {
				t.Fatalf("expected nil latest after delete, got %+v err=%v", latest, err)
			}
			if err := s.Delete(ctx, "b"); err != nil {
				t.Fatalf("second Delete error: %v", err)
			}
		})
	}
}

func TestLedgerBoundedNewestFirst(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			s := open(t, 100)
			ctx := context.Background()

			list, err := s.List(ctx)
			if err != nil {
				t.Fatalf("List error: %v", err)
			}
			if list == nil || len(list) != 0 {
				t.Fatalf("expected empty non-nil ledger, got %#v", list)
			}

			var evicted []model.HistoryEntry
			for i := 0; i < 105; i++ {
				out, err := s.Append(ctx, model.HistoryEntry{ID: fmt.Sprintf("scan-%03d", i), Timestamp: int64(i), Status: model.StatusCompleted, Pipeline: model.PipelineFast})
				if err != nil {
					t.Fatalf("Append error: %v", err)
				}
				evicted = append(evicted, out...)
			}

			list, err = s.List(ctx)
			if err != nil {
				t.Fatalf("List error: %v", err)
			}
			if len(list) != 100 {
				t.Fatalf("expected 100 entries, got %d", len(list))
			}
			if list[0].ID != "scan-104" || list[99].ID != "scan-005" {
				t.Fatalf("unexpected ordering: first=%s last=%s", list[0].ID, list[99].ID)
			}
			if len(evicted) != 5 {
				t.Fatalf("expected 5 evicted entries, got %d", len(evicted))
			}
			seen := map[string]bool{}
			for _, e := range evicted {
				seen[e.ID] = true
			}
			for i := 0; i < 5; i++ {
				if !seen[fmt.Sprintf("scan-%03d", i)] {
					t.Fatalf("expected scan-%03d to be evicted, got %+v", i, evicted)
				}
			}
		})
	}
}

func TestLedgerConcurrentAppends(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			s := open(t, 100)
			ctx := context.Background()

			var wg sync.WaitGroup
			for i := 0; i < 20; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					if _, err := s.Append(ctx, model.HistoryEntry{ID: fmt.Sprintf("c-%d", i)}); err != nil {
						t.Errorf("Append error: %v", err)
					}
				}(i)
			}
			wg.Wait()

			list, err := s.List(ctx)
			if err != nil {
				t.Fatalf("List error: %v", err)
			}
			if len(list) != 20 {
				t.Fatalf("expected no lost updates, got %d entries", len(list))
			}
		})
	}
}

func TestFileRejectsUnsafeIDs(t *testing.T) {
	f, err := NewFile(t.TempDir(), 0)
	if err != nil {
		t.Fatalf("NewFile error: %v", err)
	}
	ctx := context.Background()
	if err := f.SetStatus(ctx, "../escape", model.ScanStatus{Status: model.StatusRunning}); !errors.Is(err, ErrPersistenceWrite) {
		t.Fatalf("expected ErrPersistenceWrite, got %v", err)
	}
	st, err := f.GetStatus(ctx, "../escape")
	if err != nil || st.Status != model.StatusNotFound {
		t.Fatalf("expected not_found for unsafe id, got %+v err=%v", st, err)
	}
	if _, err := f.Get(ctx, "../../etc/passwd"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPrependBounded(t *testing.T) {
	entries := []model.HistoryEntry{{ID: "b"}, {ID: "a"}}
	kept, evicted := prependBounded(entries, model.HistoryEntry{ID: "c"}, 2)
	if len(kept) != 2 || kept[0].ID != "c" || kept[1].ID != "b" {
		t.Fatalf("unexpected kept: %+v", kept)
	}
	if len(evicted) != 1 || evicted[0].ID != "a" {
		t.Fatalf("unexpected evicted: %+v", evicted)
	}
}

func TestLedgerLimitIsCapped(t *testing.T) {
	for in, want := range map[int]int{0: 100, -3: 100, 20: 20, 100: 100, 500: 100} {
		if got := ledgerLimit(in); got != want {
			t.Fatalf("ledgerLimit(%d) = %d, want %d", in, got, want)
		}
	}

	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			s := open(t, 500)
			ctx := context.Background()
			for i := 0; i < 120; i++ {
				if _, err := s.Append(ctx, model.HistoryEntry{ID: fmt.Sprintf("scan-%03d", i), Timestamp: int64(i), Status: model.StatusCompleted, Pipeline: model.PipelineFast}); err != nil {
					t.Fatalf("Append error: %v", err)
				}
			}
			list, err := s.List(ctx)
			if err != nil {
				t.Fatalf("List error: %v", err)
			}
			if len(list) != DefaultHistoryLimit {
				t.Fatalf("expected ledger capped at %d, got %d", DefaultHistoryLimit, len(list))
			}
		})
	}
}
