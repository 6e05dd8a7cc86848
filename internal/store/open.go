package store

import (
	"context"
	"fmt"

	"github.com/pterm/pterm"

	"github.com/CodeKage25/smart-audit-assistant/internal/config"
	"github.com/CodeKage25/smart-audit-assistant/internal/logging"
)

// Backend groups the three stores used by a scan service.
type Backend struct {
	Status  StatusStore
	Reports ReportCache
	Ledger  Ledger

	closers []func() error
}

func (b *Backend) Close() error {
	var first error
	for _, c := range b.closers {
		if err := c(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Open builds the stores selected by cfg. The report cache may be moved to S3
// independently of the status and ledger backend.
func Open(ctx context.Context, cfg config.StorageConfig, logger *pterm.Logger) (*Backend, error) {
	log := logging.OrDiscard(logger)
	b := &Backend{}

	switch cfg.Backend {
	case "", "file":
		f, err := NewFile(cfg.DataDir, cfg.HistoryLimit)
		if err != nil {
			return nil, err
		}
		b.Status, b.Reports, b.Ledger = f, f, f
		log.Debug("using file storage", log.Args("dir", cfg.DataDir))
	case "memory":
		m := NewMemory(cfg.HistoryLimit)
		b.Status, b.Reports, b.Ledger = m, m, m
		log.Debug("using in-memory storage")
	case "postgres":
		p, err := OpenPostgres(ctx, cfg.PostgresDSN, cfg.HistoryLimit)
		if err != nil {
			return nil, err
		}
		b.Status, b.Reports, b.Ledger = p, p, p
		b.closers = append(b.closers, p.Close)
		log.Debug("using postgres storage")
	default:
		return nil, fmt.Errorf("unknown storage backend: %s", cfg.Backend)
	}

	if cfg.ReportCache.Backend == "s3" {
		s3c := cfg.ReportCache.S3
		cache, arn, err := NewS3Cache(ctx, s3c.Bucket, s3c.Prefix, s3c.Region)
		if err != nil {
			_ = b.Close()
			return nil, err
		}
		b.Reports = cache
		log.Info("report cache on s3", log.Args("bucket", s3c.Bucket, "prefix", s3c.Prefix, "caller", arn))
	}
	return b, nil
}
