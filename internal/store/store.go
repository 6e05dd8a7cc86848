// Package store holds the durable state shared across scans: per-scan status
// records, the report cache and the bounded history ledger.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/CodeKage25/smart-audit-assistant/internal/model"
)

var (
	ErrNotFound               = errors.New("not found")
	ErrAlreadyExists          = errors.New("already exists")
	ErrPersistenceWrite       = errors.New("persistence write failed")
	ErrStatusStoreUnavailable = errors.New("status store unavailable")
)

// DefaultHistoryLimit is the ledger's hard cap. Backends may be configured
// with a smaller limit, never a larger one.
const DefaultHistoryLimit = 100

func ledgerLimit(n int) int {
	if n <= 0 || n > DefaultHistoryLimit {
		return DefaultHistoryLimit
	}
	return n
}

// StatusStore maps a scan id to its latest status. Writes replace the whole
// record. GetStatus never reports a missing id as an error; it returns a
// synthetic not_found status instead.
type StatusStore interface {
	SetStatus(ctx context.Context, id string, status model.ScanStatus) error
	GetStatus(ctx context.Context, id string) (model.ScanStatus, error)
}

// ReportCache is write-once per id.
type ReportCache interface {
	Put(ctx context.Context, report model.ScanReport) error
	Get(ctx context.Context, id string) (model.ScanReport, error)
	Delete(ctx context.Context, id string) error
	MarkLatest(ctx context.Context, id string) error
	// Latest returns nil when no report has been marked.
	Latest(ctx context.Context) (*model.ScanReport, error)
}

// Ledger is the newest-first scan history. Append returns the entries it
// evicted to stay within its limit.
type Ledger interface {
	Append(ctx context.Context, entry model.HistoryEntry) ([]model.HistoryEntry, error)
	List(ctx context.Context) ([]model.HistoryEntry, error)
}

var idPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]{0,127}$`)

// ValidID reports whether id is safe to use as a storage key.
func ValidID(id string) bool {
	return idPattern.MatchString(id)
}

// prependBounded inserts entry at the head of entries and splits off
// everything beyond limit.
func prependBounded(entries []model.HistoryEntry, entry model.HistoryEntry, limit int) (kept, evicted []model.HistoryEntry) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	next := make([]model.HistoryEntry, 0, len(entries)+1)
	next = append(next, entry)
	next = append(next, entries...)
	if len(next) <= limit {
		return next, nil
	}
	evicted = append([]model.HistoryEntry(nil), next[limit:]...)
	return next[:limit], evicted
}

// writeJSONAtomic replaces path with the JSON encoding of v so that readers
// never observe a partially written file.
func writeJSONAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := writeTemp(path, data)
	if err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}

// writeJSONOnce creates path with the JSON encoding of v, failing with
// ErrAlreadyExists if path is already present.
func writeJSONOnce(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := writeTemp(path, data)
	if err != nil {
		return err
	}
	defer os.Remove(tmp)
	if err := os.Link(tmp, path); err != nil {
		if errors.Is(err, os.ErrExist) {
			return ErrAlreadyExists
		}
		return err
	}
	return nil
}

func writeTemp(path string, data []byte) (string, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	f, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return "", err
	}
	tmp := f.Name()
	if _, err := f.Write(append(data, '\n')); err != nil {
		f.Close()
		_ = os.Remove(tmp)
		return "", err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return "", err
	}
	return tmp, nil
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	return nil
}
