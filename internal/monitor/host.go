// Package monitor watches a tree of items (project sources or template files)
// and turns raw file notifications into debounced logical ChangeEvents.
package monitor

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/starford/stencil/internal/checksum"
	"github.com/starford/stencil/internal/project"
)

// Op is a raw notification kind.
type Op int

const (
	OpCreate Op = 1 << iota
	OpWrite
	OpRemove
	OpRename
)

// RawEvent is a single native notification. Path is slash-separated and
// relative to the host root.
type RawEvent struct {
	Path string
	Op   Op
}

// Host is the capability a Monitor needs from the thing it watches.
type Host interface {
	// Items enumerates the current items.
	Items() ([]string, error)
	// Checksum returns the content digest of an item. A missing item yields
	// an error matching fs.ErrNotExist.
	Checksum(rel string) (string, error)
	// Subscribe starts native notifications. Both channels are closed when
	// ctx ends. An error on the error channel means notifications stopped.
	Subscribe(ctx context.Context) (<-chan RawEvent, <-chan error, error)
}

// FSHost is a Host over a directory tree, backed by fsnotify.
type FSHost struct {
	root   string
	filter project.Filter
	logger *slog.Logger
}

// NewFSHost creates a host for the tree at root.
func NewFSHost(root string, filter project.Filter, logger *slog.Logger) (*FSHost, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &FSHost{root: abs, filter: filter, logger: logger}, nil
}

// Root returns the absolute root.
func (h *FSHost) Root() string {
	return h.root
}

// Items implements Host.
func (h *FSHost) Items() ([]string, error) {
	var out []string
	err := filepath.WalkDir(h.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel := h.rel(p)
		if d.IsDir() {
			if h.filter.SkipDir(rel) {
				return filepath.SkipDir
			}
			return nil
		}
		if h.filter.Accept(rel) {
			out = append(out, rel)
		}
		return nil
	})
	return out, err
}

// Checksum implements Host.
func (h *FSHost) Checksum(rel string) (string, error) {
	p := filepath.Join(h.root, filepath.FromSlash(rel))
	info, err := os.Stat(p)
	if err != nil {
		return "", err
	}
	if info.IsDir() {
		return "", errIsDir
	}
	return checksum.File(p)
}

var errIsDir = errors.New("is a directory")

// Subscribe implements Host. Directories created at runtime are added to the
// watch list and the items already inside them are reported as created.
func (h *FSHost) Subscribe(ctx context.Context) (<-chan RawEvent, <-chan error, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, nil, err
	}
	if err := h.addDirsRecursive(w, h.root); err != nil {
		_ = w.Close()
		return nil, nil, err
	}

	events := make(chan RawEvent, 256)
	errs := make(chan error, 1)

	go func() {
		defer close(events)
		defer close(errs)
		defer w.Close()

		emit := func(ev RawEvent) bool {
			select {
			case events <- ev:
				return true
			case <-ctx.Done():
				return false
			}
		}

		for {
			select {
			case <-ctx.Done():
				return

			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				rel := h.rel(ev.Name)

				if ev.Op&fsnotify.Create != 0 {
					if info, statErr := os.Stat(ev.Name); statErr == nil && info.IsDir() {
						if h.filter.SkipDir(rel) {
							continue
						}
						if addErr := h.addDirsRecursive(w, ev.Name); addErr != nil {
							h.logger.Warn("monitor: add new dir failed",
								slog.String("path", rel), slog.String("error", addErr.Error()))
						}
						for _, item := range h.itemsUnder(ev.Name) {
							if !emit(RawEvent{Path: item, Op: OpCreate}) {
								return
							}
						}
						continue
					}
				}

				var op Op
				switch {
				case ev.Op&fsnotify.Create != 0:
					op = OpCreate
				case ev.Op&fsnotify.Write != 0:
					op = OpWrite
				case ev.Op&fsnotify.Remove != 0:
					op = OpRemove
				case ev.Op&fsnotify.Rename != 0:
					op = OpRename
				default:
					continue
				}
				// Removals and renames are forwarded for any path, since a
				// vanished directory can only be expanded by the monitor.
				if op&(OpCreate|OpWrite) != 0 && !h.filter.Accept(rel) {
					continue
				}
				if op&(OpRemove|OpRename) != 0 && h.filter.SkipDir(rel) {
					continue
				}
				if !emit(RawEvent{Path: rel, Op: op}) {
					return
				}

			case watchErr, ok := <-w.Errors:
				if !ok {
					return
				}
				select {
				case errs <- watchErr:
				default:
				}
				return
			}
		}
	}()

	return events, errs, nil
}

func (h *FSHost) rel(abs string) string {
	rel, err := filepath.Rel(h.root, abs)
	if err != nil {
		return ""
	}
	if rel == "." {
		return ""
	}
	return filepath.ToSlash(rel)
}

func (h *FSHost) itemsUnder(dir string) []string {
	var out []string
	_ = filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		rel := h.rel(p)
		if d.IsDir() {
			if h.filter.SkipDir(rel) {
				return filepath.SkipDir
			}
			return nil
		}
		if h.filter.Accept(rel) {
			out = append(out, rel)
		}
		return nil
	})
	return out
}

// addDirsRecursive adds root and all its non-ignored subdirectories to the watcher.
func (h *FSHost) addDirsRecursive(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if h.filter.SkipDir(h.rel(p)) {
			return filepath.SkipDir
		}
		return w.Add(p)
	})
}
