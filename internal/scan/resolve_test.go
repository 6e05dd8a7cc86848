package scan

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

var testExcludes = []string{"**/node_modules/**", "**/.git/**"}

func writeFile(t *testing.T, path string, body string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
}

func newTestResolver(t *testing.T) (*Resolver, string) {
	t.Helper()
	root := t.TempDir()
	r, err := NewResolver(root, ".sol", testExcludes)
	if err != nil {
		t.Fatal(err)
	}
	return r, r.Root()
}

func TestResolveRejectsEmpty(t *testing.T) {
	r, _ := newTestResolver(t)
	if _, err := r.Resolve("   "); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestResolveRejectsEscape(t *testing.T) {
	r, root := newTestResolver(t)
	outside := t.TempDir()
	writeFile(t, filepath.Join(outside, "Evil.sol"), "contract Evil {}")

	for _, raw := range []string{"../x.sol", filepath.Join(outside, "Evil.sol"), filepath.Join(root, "..", "x.sol")} {
		if _, err := r.Resolve(raw); !errors.Is(err, ErrPathEscape) {
			t.Fatalf("Resolve(%q): expected ErrPathEscape, got %v", raw, err)
		}
	}
}

func TestResolveRejectsSymlinkEscape(t *testing.T) {
	r, root := newTestResolver(t)
	outside := t.TempDir()
	writeFile(t, filepath.Join(outside, "Evil.sol"), "contract Evil {}")
	if err := os.Symlink(filepath.Join(outside, "Evil.sol"), filepath.Join(root, "link.sol")); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}
	if _, err := r.Resolve("link.sol"); !errors.Is(err, ErrPathEscape) {
		t.Fatalf("expected ErrPathEscape, got %v", err)
	}
}

func TestResolveFile(t *testing.T) {
	r, root := newTestResolver(t)
	writeFile(t, filepath.Join(root, "contracts", "Token.sol"), "contract Token {}")
	writeFile(t, filepath.Join(root, "README.md"), "# readme")

	got, err := r.Resolve("contracts/Token.sol")
	if err != nil {
		t.Fatal(err)
	}
	if got.Dir || got.Path != filepath.Join(root, "contracts", "Token.sol") {
		t.Fatalf("unexpected target: %+v", got)
	}

	if _, err := r.Resolve("README.md"); !errors.Is(err, ErrUnsupportedFileType) {
		t.Fatalf("expected ErrUnsupportedFileType, got %v", err)
	}
}

func TestResolveDirectory(t *testing.T) {
	r, root := newTestResolver(t)
	writeFile(t, filepath.Join(root, "project", "src", "nested", "Vault.sol"), "contract Vault {}")
	writeFile(t, filepath.Join(root, "deps", "node_modules", "lib", "Lib.sol"), "contract Lib {}")
	writeFile(t, filepath.Join(root, "empty", "notes.txt"), "nothing")

	got, err := r.Resolve("project")
	if err != nil {
		t.Fatal(err)
	}
	if !got.Dir {
		t.Fatalf("expected directory target: %+v", got)
	}
	files, err := r.Sources(got)
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 1 {
		t.Fatalf("expected one source, got %v", files)
	}

	if _, err := r.Resolve("deps"); !errors.Is(err, ErrNoMatchingFiles) {
		t.Fatalf("excluded sources must not count, got %v", err)
	}
	if _, err := r.Resolve("empty"); !errors.Is(err, ErrNoMatchingFiles) {
		t.Fatalf("expected ErrNoMatchingFiles, got %v", err)
	}
}

func TestResolveMissing(t *testing.T) {
	r, _ := newTestResolver(t)
	if _, err := r.Resolve("nope/Missing.sol"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
