package project

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/starford/stencil/internal/checksum"
)

// Model is the cached object model of a project tree. Entries are keyed by
// item path and refreshed lazily when the content checksum changes.
type Model struct {
	root   string
	filter Filter
	logger *slog.Logger

	mu    sync.RWMutex
	files map[string]*File
	stale map[string]struct{}
}

// NewModel creates a model for the tree rooted at root.
func NewModel(root string, filter Filter, logger *slog.Logger) (*Model, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("project: resolve root: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Model{
		root:   abs,
		filter: filter,
		logger: logger,
		files:  make(map[string]*File),
		stale:  make(map[string]struct{}),
	}, nil
}

// Root returns the absolute project root.
func (m *Model) Root() string {
	return m.root
}

// Filter returns the item filter.
func (m *Model) Filter() Filter {
	return m.filter
}

// Items walks the tree and returns every item path, sorted.
func (m *Model) Items() ([]string, error) {
	var out []string
	err := filepath.WalkDir(m.root, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		rel, _ := filepath.Rel(m.root, p)
		rel = filepath.ToSlash(rel)
		if d.IsDir() {
			if m.filter.SkipDir(rel) {
				return filepath.SkipDir
			}
			return nil
		}
		if m.filter.Accept(rel) {
			out = append(out, rel)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("project: walk: %w", err)
	}
	sort.Strings(out)
	return out, nil
}

// File returns the model of one item, parsing it when uncached, invalidated
// or changed on disk. When a changed file no longer parses, the last good
// model is returned and the failure is logged.
func (m *Model) File(rel string) (*File, error) {
	data, err := os.ReadFile(filepath.Join(m.root, filepath.FromSlash(rel)))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			m.Forget(rel)
		}
		return nil, fmt.Errorf("project: read %s: %w", rel, err)
	}
	sum := checksum.Sum(data)

	m.mu.RLock()
	cached, ok := m.files[rel]
	_, stale := m.stale[rel]
	m.mu.RUnlock()
	if ok && !stale && cached.Checksum == sum {
		return cached, nil
	}

	f, err := ParseFile(rel, data)
	if err != nil {
		if ok {
			m.logger.Warn("project: keeping last good model",
				slog.String("path", rel), slog.String("error", err.Error()))
			return cached, nil
		}
		return nil, err
	}

	m.mu.Lock()
	m.files[rel] = f
	delete(m.stale, rel)
	m.mu.Unlock()
	return f, nil
}

// Files returns the model of every item in the tree, sorted by path.
// Items that cannot be parsed are skipped.
func (m *Model) Files() ([]*File, error) {
	items, err := m.Items()
	if err != nil {
		return nil, err
	}
	out := make([]*File, 0, len(items))
	for _, rel := range items {
		f, err := m.File(rel)
		if err != nil {
			m.logger.Warn("project: skipping item", slog.String("path", rel), slog.String("error", err.Error()))
			continue
		}
		out = append(out, f)
	}
	return out, nil
}

// Cached returns the cached model of rel without touching the disk.
func (m *Model) Cached(rel string) (*File, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	f, ok := m.files[rel]
	return f, ok
}

// KindsOf returns the union of the cached kinds and the kinds currently on
// disk for rel. It returns nil when neither is known.
func (m *Model) KindsOf(rel string) []Kind {
	seen := map[Kind]bool{}
	if f, ok := m.Cached(rel); ok {
		for _, k := range f.Kinds() {
			seen[k] = true
		}
	}
	if data, err := os.ReadFile(filepath.Join(m.root, filepath.FromSlash(rel))); err == nil {
		if f, err := ParseFile(rel, data); err == nil {
			for _, k := range f.Kinds() {
				seen[k] = true
			}
		}
	}
	if len(seen) == 0 {
		return nil
	}
	out := make([]Kind, 0, len(seen))
	for _, k := range Kinds {
		if seen[k] {
			out = append(out, k)
		}
	}
	return out
}

// Invalidate marks rel for re-parsing on next access.
func (m *Model) Invalidate(rel string) {
	m.mu.Lock()
	m.stale[rel] = struct{}{}
	m.mu.Unlock()
}

// Forget drops rel from the cache.
func (m *Model) Forget(rel string) {
	m.mu.Lock()
	delete(m.files, rel)
	delete(m.stale, rel)
	m.mu.Unlock()
}

// Rename re-keys the cached model of oldRel under newRel.
func (m *Model) Rename(oldRel, newRel string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if f, ok := m.files[oldRel]; ok {
		moved := *f
		moved.Path = newRel
		m.files[newRel] = &moved
		delete(m.files, oldRel)
	}
	delete(m.stale, oldRel)
	m.stale[newRel] = struct{}{}
}

// Len returns the number of cached items.
func (m *Model) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.files)
}
