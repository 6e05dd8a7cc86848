package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/CodeKage25/smart-audit-assistant/internal/model"
)

// File keeps every store as JSON documents under one directory:
//
//	status/<id>.json   one status record per scan
//	reports/<id>.json  one cached report per scan
//	history.json       the ledger
//	latest.json        pointer to the latest report
type File struct {
	dir   string
	limit int
	now   func() time.Time

	// ledgerMu serializes the ledger read-modify-write.
	ledgerMu sync.Mutex
}

func NewFile(dir string, historyLimit int) (*File, error) {
	if dir == "" {
		return nil, errors.New("data directory is required")
	}
	for _, sub := range []string{"status", "reports"} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			return nil, fmt.Errorf("create data directory: %w", err)
		}
	}
	historyLimit = ledgerLimit(historyLimit)
	return &File{dir: dir, limit: historyLimit, now: time.Now}, nil
}

func (f *File) statusPath(id string) string {
	return filepath.Join(f.dir, "status", id+".json")
}

func (f *File) reportPath(id string) string {
	return filepath.Join(f.dir, "reports", id+".json")
}

func (f *File) SetStatus(_ context.Context, id string, status model.ScanStatus) error {
	if !ValidID(id) {
		return fmt.Errorf("%w: invalid scan id %q", ErrPersistenceWrite, id)
	}
	if err := writeJSONAtomic(f.statusPath(id), status); err != nil {
		return fmt.Errorf("%w: status %s: %v", ErrPersistenceWrite, id, err)
	}
	return nil
}

func (f *File) GetStatus(_ context.Context, id string) (model.ScanStatus, error) {
	if !ValidID(id) {
		return model.NotFoundStatus(f.now().Unix()), nil
	}
	var st model.ScanStatus
	if err := readJSON(f.statusPath(id), &st); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return model.NotFoundStatus(f.now().Unix()), nil
		}
		return model.ScanStatus{}, fmt.Errorf("%w: %v", ErrStatusStoreUnavailable, err)
	}
	return st, nil
}

func (f *File) Put(_ context.Context, report model.ScanReport) error {
	if !ValidID(report.ID) {
		return fmt.Errorf("%w: invalid scan id %q", ErrPersistenceWrite, report.ID)
	}
	if err := writeJSONOnce(f.reportPath(report.ID), report); err != nil {
		if errors.Is(err, ErrAlreadyExists) {
			return fmt.Errorf("report %s: %w", report.ID, ErrAlreadyExists)
		}
		return fmt.Errorf("%w: report %s: %v", ErrPersistenceWrite, report.ID, err)
	}
	return nil
}

func (f *File) Get(_ context.Context, id string) (model.ScanReport, error) {
	if !ValidID(id) {
		return model.ScanReport{}, fmt.Errorf("report %s: %w", id, ErrNotFound)
	}
	var report model.ScanReport
	if err := readJSON(f.reportPath(id), &report); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return model.ScanReport{}, fmt.Errorf("report %s: %w", id, ErrNotFound)
		}
		return model.ScanReport{}, err
	}
	return report, nil
}

func (f *File) Delete(_ context.Context, id string) error {
	if !ValidID(id) {
		return nil
	}
	if err := os.Remove(f.reportPath(id)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

type latestPointer struct {
	ID string `json:"id"`
}

func (f *File) MarkLatest(_ context.Context, id string) error {
	if err := writeJSONAtomic(filepath.Join(f.dir, "latest.json"), latestPointer{ID: id}); err != nil {
		return fmt.Errorf("%w: latest pointer: %v", ErrPersistenceWrite, err)
	}
	return nil
}

func (f *File) Latest(ctx context.Context) (*model.ScanReport, error) {
	var ptr latestPointer
	if err := readJSON(filepath.Join(f.dir, "latest.json"), &ptr); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	report, err := f.Get(ctx, ptr.ID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &report, nil
}

func (f *File) Append(_ context.Context, entry model.HistoryEntry) ([]model.HistoryEntry, error) {
	f.ledgerMu.Lock()
	defer f.ledgerMu.Unlock()

	entries, err := f.readLedger()
	if err != nil {
		return nil, err
	}
	kept, evicted := prependBounded(entries, entry, f.limit)
	if err := writeJSONAtomic(filepath.Join(f.dir, "history.json"), kept); err != nil {
		return nil, fmt.Errorf("%w: history: %v", ErrPersistenceWrite, err)
	}
	return evicted, nil
}

func (f *File) List(_ context.Context) ([]model.HistoryEntry, error) {
	f.ledgerMu.Lock()
	defer f.ledgerMu.Unlock()
	return f.readLedger()
}

func (f *File) readLedger() ([]model.HistoryEntry, error) {
	entries := []model.HistoryEntry{}
	if err := readJSON(filepath.Join(f.dir, "history.json"), &entries); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []model.HistoryEntry{}, nil
		}
		return nil, err
	}
	if entries == nil {
		entries = []model.HistoryEntry{}
	}
	return entries, nil
}
