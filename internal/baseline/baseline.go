// Package baseline records findings accepted as known risk so later scans
// of the same contract stop reporting them.
package baseline

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/CodeKage25/smart-audit-assistant/internal/model"
	"github.com/CodeKage25/smart-audit-assistant/internal/severity"
)

type File struct {
	Version     string  `json:"version"`
	GeneratedAt string  `json:"generated_at"`
	GeneratedBy string  `json:"generated_by"`
	Entries     []Entry `json:"entries"`
}

type Entry struct {
	Fingerprint string         `json:"fingerprint"`
	Source      string         `json:"source,omitempty"`
	Severity    severity.Level `json:"severity"`
	Title       string         `json:"title"`
	Location    string         `json:"location"`
	ScanID      string         `json:"scan_id,omitempty"`
	Reason      string         `json:"reason,omitempty"`
	AcceptedAt  string         `json:"accepted_at"`
	AcceptedBy  string         `json:"accepted_by,omitempty"`
}

// Fingerprint identifies a finding across scans. Severity and confidence are
// left out so a reclassified finding stays accepted.
func Fingerprint(f model.Finding) string {
	key := strings.ToLower(strings.TrimSpace(f.Source)) + "|" +
		strings.ToLower(strings.Join(strings.Fields(f.Title), " ")) + "|" +
		strings.TrimSpace(f.Location)
	sum := sha256.Sum256([]byte(key))
	return "sha256:" + hex.EncodeToString(sum[:])
}

// Load reads a baseline. A missing file is an empty baseline.
func Load(path string) (File, error) {
	if path == "" {
		return Empty(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Empty(), nil
		}
		return File{}, err
	}

	var f File
	if err := json.Unmarshal(data, &f); err != nil {
		return File{}, fmt.Errorf("parse baseline: %w", err)
	}
	if f.Version == "" {
		f.Version = "1"
	}
	if f.Entries == nil {
		f.Entries = []Entry{}
	}
	return f, nil
}

func Empty() File {
	return File{Version: "1", Entries: []Entry{}}
}

func Save(path string, b File) error {
	if path == "" {
		return fmt.Errorf("baseline path required")
	}
	if b.Version == "" {
		b.Version = "1"
	}
	if b.GeneratedAt == "" {
		b.GeneratedAt = time.Now().UTC().Format(time.RFC3339)
	}
	if b.GeneratedBy == "" {
		b.GeneratedBy = "smart-audit"
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(b, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func (b File) index() map[string]struct{} {
	idx := make(map[string]struct{}, len(b.Entries))
	for _, e := range b.Entries {
		idx[e.Fingerprint] = struct{}{}
	}
	return idx
}

// Filter returns the findings not covered by b and how many were dropped.
// The result is never nil.
func (b File) Filter(findings []model.Finding) ([]model.Finding, int) {
	idx := b.index()
	kept := make([]model.Finding, 0, len(findings))
	for _, f := range findings {
		if _, ok := idx[Fingerprint(f)]; ok {
			continue
		}
		kept = append(kept, f)
	}
	return kept, len(findings) - len(kept)
}

// Accept upserts an entry per finding. Re-accepting a known finding refreshes
// its reason and acceptance metadata in place.
func Accept(base File, scanID string, findings []model.Finding, reason string, by string, now time.Time) File {
	out := base
	if out.Version == "" {
		out.Version = "1"
	}
	out.Entries = append([]Entry{}, base.Entries...)
	index := map[string]int{}
	for i, e := range out.Entries {
		index[e.Fingerprint] = i
	}

	stamp := now.UTC().Format(time.RFC3339)
	for _, f := range findings {
		entry := Entry{
			Fingerprint: Fingerprint(f),
			Source:      f.Source,
			Severity:    f.Severity,
			Title:       f.Title,
			Location:    f.Location,
			ScanID:      scanID,
			Reason:      reason,
			AcceptedAt:  stamp,
			AcceptedBy:  by,
		}
		if idx, ok := index[entry.Fingerprint]; ok {
			out.Entries[idx] = entry
			continue
		}
		out.Entries = append(out.Entries, entry)
		index[entry.Fingerprint] = len(out.Entries) - 1
	}
	out.GeneratedAt = stamp
	out.GeneratedBy = "smart-audit"
	return out
}

// Path filters findings against the baseline file at a fixed location,
// re-reading it on every call so edits apply to the next scan.
type Path string

func (p Path) Filter(findings []model.Finding) ([]model.Finding, int, error) {
	b, err := Load(string(p))
	if err != nil {
		return findings, 0, err
	}
	kept, n := b.Filter(findings)
	return kept, n, nil
}
