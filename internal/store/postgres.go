package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/CodeKage25/smart-audit-assistant/internal/model"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS scan_status (
	id         TEXT PRIMARY KEY,
	status     TEXT NOT NULL,
	message    TEXT NOT NULL,
	updated_at BIGINT NOT NULL
);
CREATE TABLE IF NOT EXISTS scan_reports (
	id         TEXT PRIMARY KEY,
	body       JSONB NOT NULL,
	created_at BIGINT NOT NULL
);
CREATE TABLE IF NOT EXISTS scan_latest (
	singleton BOOLEAN PRIMARY KEY DEFAULT TRUE CHECK (singleton),
	id        TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS scan_history (
	seq            BIGSERIAL PRIMARY KEY,
	id             TEXT NOT NULL,
	path           TEXT NOT NULL,
	timestamp      BIGINT NOT NULL,
	duration       BIGINT NOT NULL,
	findings_count INTEGER NOT NULL,
	risk_score     INTEGER NOT NULL,
	status         TEXT NOT NULL,
	pipeline       TEXT NOT NULL,
	ai_enabled     BOOLEAN NOT NULL
);
`

// ledgerLockKey identifies the advisory lock that serializes ledger appends.
const ledgerLockKey = 0x5a5544

// Postgres implements every store on a PostgreSQL database.
type Postgres struct {
	db    *sqlx.DB
	limit int
	now   func() time.Time
}

type statusRow struct {
	ID        string `db:"id"`
	Status    string `db:"status"`
	Message   string `db:"message"`
	UpdatedAt int64  `db:"updated_at"`
}

type historyRow struct {
	Seq           int64  `db:"seq"`
	ID            string `db:"id"`
	Path          string `db:"path"`
	Timestamp     int64  `db:"timestamp"`
	Duration      int64  `db:"duration"`
	FindingsCount int    `db:"findings_count"`
	RiskScore     int    `db:"risk_score"`
	Status        string `db:"status"`
	Pipeline      string `db:"pipeline"`
	AIEnabled     bool   `db:"ai_enabled"`
}

func (r historyRow) entry() model.HistoryEntry {
	return model.HistoryEntry{
		ID:            r.ID,
		Path:          r.Path,
		Timestamp:     r.Timestamp,
		Duration:      r.Duration,
		FindingsCount: r.FindingsCount,
		RiskScore:     r.RiskScore,
		Status:        model.Status(r.Status),
		Pipeline:      model.Pipeline(r.Pipeline),
		AIEnabled:     r.AIEnabled,
	}
}

// OpenPostgres connects to dsn and creates the schema if needed.
func OpenPostgres(ctx context.Context, dsn string, historyLimit int) (*Postgres, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if _, err := db.ExecContext(ctx, postgresSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	historyLimit = ledgerLimit(historyLimit)
	return &Postgres{db: db, limit: historyLimit, now: time.Now}, nil
}

func (p *Postgres) Close() error {
	return p.db.Close()
}

func (p *Postgres) SetStatus(ctx context.Context, id string, status model.ScanStatus) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO scan_status (id, status, message, updated_at) VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET status = EXCLUDED.status, message = EXCLUDED.message, updated_at = EXCLUDED.updated_at`,
		id, string(status.Status), status.Message, status.Timestamp)
	if err != nil {
		return fmt.Errorf("%w: status %s: %v", ErrPersistenceWrite, id, err)
	}
	return nil
}

func (p *Postgres) GetStatus(ctx context.Context, id string) (model.ScanStatus, error) {
	var row statusRow
	err := p.db.GetContext(ctx, &row, `SELECT id, status, message, updated_at FROM scan_status WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return model.NotFoundStatus(p.now().Unix()), nil
	}
	if err != nil {
		return model.ScanStatus{}, fmt.Errorf("%w: %v", ErrStatusStoreUnavailable, err)
	}
	return model.ScanStatus{Status: model.Status(row.Status), Message: row.Message, Timestamp: row.UpdatedAt}, nil
}

func (p *Postgres) Put(ctx context.Context, report model.ScanReport) error {
	body, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("%w: encode report: %v", ErrPersistenceWrite, err)
	}
	_, err = p.db.ExecContext(ctx, `INSERT INTO scan_reports (id, body, created_at) VALUES ($1, $2, $3)`,
		report.ID, string(body), report.Timestamp)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return fmt.Errorf("report %s: %w", report.ID, ErrAlreadyExists)
		}
		return fmt.Errorf("%w: report %s: %v", ErrPersistenceWrite, report.ID, err)
	}
	return nil
}

func (p *Postgres) Get(ctx context.Context, id string) (model.ScanReport, error) {
	var body []byte
	err := p.db.GetContext(ctx, &body, `SELECT body FROM scan_reports WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return model.ScanReport{}, fmt.Errorf("report %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return model.ScanReport{}, err
	}
	var report model.ScanReport
	if err := json.Unmarshal(body, &report); err != nil {
		return model.ScanReport{}, fmt.Errorf("decode report %s: %w", id, err)
	}
	return report, nil
}

func (p *Postgres) Delete(ctx context.Context, id string) error {
	_, err := p.db.ExecContext(ctx, `DELETE FROM scan_reports WHERE id = $1`, id)
	return err
}

func (p *Postgres) MarkLatest(ctx context.Context, id string) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO scan_latest (singleton, id) VALUES (TRUE, $1)
		ON CONFLICT (singleton) DO UPDATE SET id = EXCLUDED.id`, id)
	if err != nil {
		return fmt.Errorf("%w: latest pointer: %v", ErrPersistenceWrite, err)
	}
	return nil
}

func (p *Postgres) Latest(ctx context.Context) (*model.ScanReport, error) {
	var id string
	err := p.db.GetContext(ctx, &id, `SELECT id FROM scan_latest WHERE singleton`)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	report, err := p.Get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &report, nil
}

// Append inserts the entry and trims the ledger inside one transaction. An
// advisory lock serializes concurrent appends across processes.
func (p *Postgres) Append(ctx context.Context, entry model.HistoryEntry) ([]model.HistoryEntry, error) {
	tx, err := p.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: history: %v", ErrPersistenceWrite, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, ledgerLockKey); err != nil {
		return nil, fmt.Errorf("%w: history lock: %v", ErrPersistenceWrite, err)
	}
	_, err = tx.NamedExecContext(ctx, `
		INSERT INTO scan_history (id, path, timestamp, duration, findings_count, risk_score, status, pipeline, ai_enabled)
		VALUES (:id, :path, :timestamp, :duration, :findings_count, :risk_score, :status, :pipeline, :ai_enabled)`,
		historyRow{
			ID:            entry.ID,
			Path:          entry.Path,
			Timestamp:     entry.Timestamp,
			Duration:      entry.Duration,
			FindingsCount: entry.FindingsCount,
			RiskScore:     entry.RiskScore,
			Status:        string(entry.Status),
			Pipeline:      string(entry.Pipeline),
			AIEnabled:     entry.AIEnabled,
		})
	if err != nil {
		return nil, fmt.Errorf("%w: history: %v", ErrPersistenceWrite, err)
	}

	var rows []historyRow
	err = tx.SelectContext(ctx, &rows, `
		DELETE FROM scan_history WHERE seq IN (
			SELECT seq FROM scan_history ORDER BY seq DESC OFFSET $1
		) RETURNING seq, id, path, timestamp, duration, findings_count, risk_score, status, pipeline, ai_enabled`, p.limit)
	if err != nil {
		return nil, fmt.Errorf("%w: history trim: %v", ErrPersistenceWrite, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("%w: history: %v", ErrPersistenceWrite, err)
	}

	evicted := make([]model.HistoryEntry, 0, len(rows))
	for _, r := range rows {
		evicted = append(evicted, r.entry())
	}
	return evicted, nil
}

func (p *Postgres) List(ctx context.Context) ([]model.HistoryEntry, error) {
	var rows []historyRow
	err := p.db.SelectContext(ctx, &rows, `
		SELECT seq, id, path, timestamp, duration, findings_count, risk_score, status, pipeline, ai_enabled
		FROM scan_history ORDER BY seq DESC LIMIT $1`, p.limit)
	if err != nil {
		return nil, err
	}
	entries := make([]model.HistoryEntry, 0, len(rows))
	for _, r := range rows {
		entries = append(entries, r.entry())
	}
	return entries, nil
}
