package scan

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

var (
	ErrInvalidInput        = errors.New("invalid input")
	ErrPathEscape          = errors.New("path escapes trusted root")
	ErrUnsupportedFileType = errors.New("unsupported file type")
	ErrNoMatchingFiles     = errors.New("no matching source files")
	ErrNotFound            = errors.New("path not found")
)

var errStopWalk = errors.New("stop walk")

// Target is a validated scan target inside the trusted root.
type Target struct {
	Path string
	Dir  bool
}

// Resolver validates user supplied scan targets against a trusted root.
type Resolver struct {
	root      string
	extension string
	exclude   []string
}

func NewResolver(root string, extension string, exclude []string) (*Resolver, error) {
	if strings.TrimSpace(root) == "" {
		root = "."
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve trusted root: %w", err)
	}
	real, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("resolve trusted root: %w", err)
	}
	return &Resolver{root: real, extension: strings.ToLower(extension), exclude: exclude}, nil
}

func (r *Resolver) Root() string { return r.root }

// Resolve canonicalizes raw and checks it is a source file, or a directory
// holding at least one source file, beneath the trusted root. Relative paths
// are interpreted against the root.
func (r *Resolver) Resolve(raw string) (Target, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Target{}, fmt.Errorf("%w: contract path is required", ErrInvalidInput)
	}

	p := raw
	if !filepath.IsAbs(p) {
		p = filepath.Join(r.root, p)
	}
	p = filepath.Clean(p)
	if !r.within(p) {
		return Target{}, fmt.Errorf("%w: %s", ErrPathEscape, raw)
	}

	real, err := filepath.EvalSymlinks(p)
	if err != nil {
		return Target{}, fmt.Errorf("%w: %s", ErrNotFound, raw)
	}
	if !r.within(real) {
		return Target{}, fmt.Errorf("%w: %s", ErrPathEscape, raw)
	}

	info, err := os.Stat(real)
	if err != nil {
		return Target{}, fmt.Errorf("%w: %s", ErrNotFound, raw)
	}

	if !info.IsDir() {
		if !r.isSource(real) {
			return Target{}, fmt.Errorf("%w: %s (expected %s)", ErrUnsupportedFileType, raw, r.extension)
		}
		return Target{Path: real}, nil
	}

	found := false
	err = r.walkSources(real, func(string) error {
		found = true
		return errStopWalk
	})
	if err != nil && !errors.Is(err, errStopWalk) {
		return Target{}, fmt.Errorf("%w: %s", ErrNotFound, raw)
	}
	if !found {
		return Target{}, fmt.Errorf("%w: no %s files in %s", ErrNoMatchingFiles, r.extension, raw)
	}
	return Target{Path: real, Dir: true}, nil
}

// Sources lists the source files of a resolved target, sorted.
func (r *Resolver) Sources(t Target) ([]string, error) {
	if !t.Dir {
		return []string{t.Path}, nil
	}
	files := make([]string, 0)
	err := r.walkSources(t.Path, func(path string) error {
		files = append(files, path)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}

func (r *Resolver) within(path string) bool {
	rel, err := filepath.Rel(r.root, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func (r *Resolver) isSource(path string) bool {
	return strings.ToLower(filepath.Ext(path)) == r.extension
}

func (r *Resolver) walkSources(dir string, fn func(path string) error) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() || !r.isSource(path) {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		if r.excluded(filepath.ToSlash(rel)) {
			return nil
		}
		return fn(path)
	})
}

func (r *Resolver) excluded(rel string) bool {
	for _, pattern := range r.exclude {
		m, err := doublestar.Match(pattern, rel)
		if err == nil && m {
			return true
		}
	}
	return false
}
