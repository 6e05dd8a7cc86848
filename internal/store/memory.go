package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/CodeKage25/smart-audit-assistant/internal/model"
)

// Memory implements every store in process memory. Reports are held in
// encoded form so callers can never mutate a cached report.
type Memory struct {
	mu       sync.RWMutex
	statuses map[string]model.ScanStatus
	reports  map[string][]byte
	latest   string
	history  []model.HistoryEntry
	limit    int
	now      func() time.Time
}

func NewMemory(historyLimit int) *Memory {
	historyLimit = ledgerLimit(historyLimit)
	return &Memory{
		statuses: map[string]model.ScanStatus{},
		reports:  map[string][]byte{},
		history:  []model.HistoryEntry{},
		limit:    historyLimit,
		now:      time.Now,
	}
}

func (m *Memory) SetStatus(_ context.Context, id string, status model.ScanStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statuses[id] = status
	return nil
}

func (m *Memory) GetStatus(_ context.Context, id string) (model.ScanStatus, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st, ok := m.statuses[id]
	if !ok {
		return model.NotFoundStatus(m.now().Unix()), nil
	}
	return st, nil
}

func (m *Memory) Put(_ context.Context, report model.ScanReport) error {
	data, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("%w: encode report: %v", ErrPersistenceWrite, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.reports[report.ID]; ok {
		return fmt.Errorf("report %s: %w", report.ID, ErrAlreadyExists)
	}
	m.reports[report.ID] = data
	return nil
}

func (m *Memory) Get(_ context.Context, id string) (model.ScanReport, error) {
	m.mu.RLock()
	data, ok := m.reports[id]
	m.mu.RUnlock()
	if !ok {
		return model.ScanReport{}, fmt.Errorf("report %s: %w", id, ErrNotFound)
	}
	var report model.ScanReport
	if err := json.Unmarshal(data, &report); err != nil {
		return model.ScanReport{}, err
	}
	return report, nil
}

func (m *Memory) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.reports, id)
	return nil
}

func (m *Memory) MarkLatest(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.latest = id
	return nil
}

func (m *Memory) Latest(ctx context.Context) (*model.ScanReport, error) {
	m.mu.RLock()
	id := m.latest
	_, ok := m.reports[id]
	m.mu.RUnlock()
	if id == "" || !ok {
		return nil, nil
	}
	report, err := m.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return &report, nil
}

func (m *Memory) Append(_ context.Context, entry model.HistoryEntry) ([]model.HistoryEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept, evicted := prependBounded(m.history, entry, m.limit)
	m.history = kept
	return evicted, nil
}

func (m *Memory) List(_ context.Context) ([]model.HistoryEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]model.HistoryEntry{}, m.history...), nil
}
