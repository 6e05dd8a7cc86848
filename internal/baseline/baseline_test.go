package baseline

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/CodeKage25/smart-audit-assistant/internal/model"
	"github.com/CodeKage25/smart-audit-assistant/internal/severity"
)

func finding(title, location string, level severity.Level) model.Finding {
	return model.Finding{Source: "slither", Severity: level, Title: title, Location: location}
}

func TestFingerprintIgnoresSeverityAndSpacing(t *testing.T) {
	a := finding("Reentrancy  in withdraw", "Vault.sol:42", severity.High)
	b := finding("reentrancy in Withdraw", "Vault.sol:42", severity.Medium)
	if Fingerprint(a) != Fingerprint(b) {
		t.Fatal("expected equal fingerprints")
	}
	c := finding("Reentrancy in withdraw", "Vault.sol:43", severity.High)
	if Fingerprint(a) == Fingerprint(c) {
		t.Fatal("different locations must not collide")
	}
}

func TestAcceptUpsertsAndFilters(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	reentrancy := finding("Reentrancy", "Vault.sol:3", severity.High)
	timestamp := finding("Block timestamp", "Vault.sol:5", severity.Medium)

	b := Accept(Empty(), "scan-1", []model.Finding{reentrancy}, "guarded by mutex", "alice", now)
	b = Accept(b, "scan-2", []model.Finding{reentrancy}, "reviewed again", "bob", now.Add(time.Hour))
	if len(b.Entries) != 1 {
		t.Fatalf("expected 1 entry after upsert, got %d", len(b.Entries))
	}
	if b.Entries[0].Reason != "reviewed again" || b.Entries[0].ScanID != "scan-2" {
		t.Fatalf("entry not refreshed: %+v", b.Entries[0])
	}

	kept, dropped := b.Filter([]model.Finding{reentrancy, timestamp})
	if dropped != 1 || len(kept) != 1 || kept[0].Title != "Block timestamp" {
		t.Fatalf("unexpected filter result: kept=%+v dropped=%d", kept, dropped)
	}

	kept, dropped = b.Filter(nil)
	if kept == nil || dropped != 0 {
		t.Fatalf("empty input should yield empty non-nil slice, got %#v", kept)
	}
}

func TestLoadMissingReturnsEmpty(t *testing.T) {
	b, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if b.Version != "1" || len(b.Entries) != 0 {
		t.Fatalf("unexpected baseline: %+v", b)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "baseline.json")
	b := Accept(Empty(), "scan-1", []model.Finding{finding("Reentrancy", "Vault.sol:3", severity.High)}, "", "", time.Now())
	if err := Save(path, b); err != nil {
		t.Fatalf("save: %v", err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(loaded.Entries) != 1 || loaded.Entries[0].Fingerprint != b.Entries[0].Fingerprint {
		t.Fatalf("round trip mismatch: %+v", loaded)
	}
	if loaded.GeneratedBy != "smart-audit" {
		t.Fatalf("unexpected generator: %q", loaded.GeneratedBy)
	}
}

func TestPathFilterReportsParseErrors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "baseline.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	in := []model.Finding{finding("Reentrancy", "Vault.sol:3", severity.High)}
	kept, n, err := Path(path).Filter(in)
	if err == nil {
		t.Fatal("expected parse error")
	}
	if len(kept) != 1 || n != 0 {
		t.Fatalf("findings must pass through on error: %+v", kept)
	}
}
