// Package registry tracks known templates, their parsed headers and their
// most recent parse, and resolves change events to affected templates.
package registry

import (
	"log/slog"
	"sort"
	"sync"

	"github.com/starford/stencil/internal/apperr"
	"github.com/starford/stencil/internal/model"
	"github.com/starford/stencil/internal/project"
	"github.com/starford/stencil/internal/templates"
)

// Descriptor is the registry's view of one template file.
type Descriptor struct {
	Identity string
	Header   templates.Header
	// Template is set when the last parse succeeded.
	Template *templates.Template
	// Err is set when the last parse failed.
	Err error
	// ParsedSeq is the change sequence the last applied parse started at.
	ParsedSeq uint64
	// ChangedSeq is the sequence of the latest observed change to the file.
	ChangedSeq uint64
}

// Parsed reports whether a parse result has been applied.
func (d Descriptor) Parsed() bool {
	return d.ParsedSeq > 0
}

// Stale reports whether the file changed after the last applied parse.
func (d Descriptor) Stale() bool {
	return d.ParsedSeq == 0 || d.ParsedSeq < d.ChangedSeq
}

// Diagnostics returns the diagnostics of a failed parse.
func (d Descriptor) Diagnostics() []apperr.Diagnostic {
	return apperr.DiagnosticsOf(d.Err)
}

// ParseResult is the outcome of parsing a template file.
type ParseResult struct {
	Template *templates.Template
	Err      error
}

// KindLookup reports the kinds a project item contains.
type KindLookup interface {
	KindsOf(rel string) []project.Kind
}

// OwnerLookup reports the templates that previously produced output from a
// project item.
type OwnerLookup interface {
	TemplatesForSource(source string) ([]string, error)
}

// Registry is safe for concurrent use. Mutations take the write lock, reads
// work on snapshots.
type Registry struct {
	kinds  KindLookup
	owners OwnerLookup
	logger *slog.Logger

	mu     sync.RWMutex
	byID   map[string]*Descriptor
	byKind map[project.Kind]map[string]struct{}
}

// Option configures a Registry.
type Option func(*Registry)

// WithOwners adds output ownership to project-item resolution, so templates
// that generated from an item are re-run even after the item lost the bound kind.
func WithOwners(o OwnerLookup) Option {
	return func(r *Registry) { r.owners = o }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) { r.logger = l }
}

// New creates an empty registry.
func New(kinds KindLookup, opts ...Option) *Registry {
	r := &Registry{
		kinds:  kinds,
		logger: slog.Default(),
		byID:   make(map[string]*Descriptor),
		byKind: make(map[project.Kind]map[string]struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Touch records that the template file changed at seq, creating the
// descriptor if the template is new.
func (r *Registry) Touch(id string, seq uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.byID[id]
	if !ok {
		d = &Descriptor{Identity: id}
		r.byID[id] = d
	}
	if seq > d.ChangedSeq {
		d.ChangedSeq = seq
	}
}

// Update applies a parse result tagged with the sequence the parse started
// at. It is discarded, returning false, when the descriptor already reflects
// a parse at or after seq.
func (r *Registry) Update(id string, res ParseResult, seq uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.byID[id]
	if !ok {
		d = &Descriptor{Identity: id}
		r.byID[id] = d
	}
	if d.ParsedSeq >= seq {
		r.logger.Debug("registry: discarding stale parse",
			slog.String("template", id), slog.Uint64("seq", seq), slog.Uint64("parsed_seq", d.ParsedSeq))
		return false
	}

	r.unindex(d)
	d.ParsedSeq = seq
	d.Template = res.Template
	d.Err = res.Err
	if res.Template != nil {
		d.Header = res.Template.Header
		d.Err = nil
	}
	r.index(d)
	return true
}

// Remove forgets a template.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if d, ok := r.byID[id]; ok {
		r.unindex(d)
		delete(r.byID, id)
	}
}

// Lookup returns a copy of the descriptor for id.
func (r *Registry) Lookup(id string) (Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.byID[id]
	if !ok {
		return Descriptor{}, false
	}
	return *d, true
}

// Snapshot returns copies of all descriptors sorted by identity.
func (r *Registry) Snapshot() []Descriptor {
	r.mu.RLock()
	out := make([]Descriptor, 0, len(r.byID))
	for _, d := range r.byID {
		out = append(out, *d)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Identity < out[j].Identity })
	return out
}

// Identities returns the sorted identities of every known template.
func (r *Registry) Identities() []string {
	r.mu.RLock()
	out := make([]string, 0, len(r.byID))
	for id := range r.byID {
		out = append(out, id)
	}
	r.mu.RUnlock()
	sort.Strings(out)
	return out
}

// BoundTo returns the sorted identities of templates bound to kind.
func (r *Registry) BoundTo(kind project.Kind) []string {
	r.mu.RLock()
	out := make([]string, 0, len(r.byKind[kind]))
	for id := range r.byKind[kind] {
		out = append(out, id)
	}
	r.mu.RUnlock()
	sort.Strings(out)
	return out
}

// ResolveAffected maps a change event to the sorted identities of the
// templates it affects.
//
// A template event affects the template itself and, for a rename, its old
// identity; the template's change sequence is recorded as a side effect.
// A project item event affects every parsed template whose bind kind is
// present in the item (before or after the change) and whose match glob
// selects the item, plus every template that owns outputs generated from it.
func (r *Registry) ResolveAffected(ev model.ChangeEvent) []string {
	if ev.Source == model.SourceTemplate {
		r.Touch(ev.Identity, ev.Seq)
		ids := []string{ev.Identity}
		if ev.Kind == model.Renamed && ev.OldIdentity != "" {
			r.Touch(ev.OldIdentity, ev.Seq)
			ids = append(ids, ev.OldIdentity)
		}
		sort.Strings(ids)
		return ids
	}

	paths := []string{ev.Identity}
	if ev.Kind == model.Renamed && ev.OldIdentity != "" {
		paths = append(paths, ev.OldIdentity)
	}

	// Gather kinds and owners before locking; both may touch the disk.
	kinds := map[project.Kind]bool{}
	unknown := false
	for _, p := range paths {
		ks := r.kinds.KindsOf(p)
		if ks == nil {
			unknown = true
		}
		for _, k := range ks {
			kinds[k] = true
		}
	}
	affected := map[string]struct{}{}
	if r.owners != nil {
		for _, p := range paths {
			owners, err := r.owners.TemplatesForSource(p)
			if err != nil {
				r.logger.Warn("registry: owner lookup failed", slog.String("source", p), slog.String("error", err.Error()))
				continue
			}
			for _, id := range owners {
				affected[id] = struct{}{}
			}
		}
	}

	r.mu.RLock()
	for id, d := range r.byID {
		if d.Template == nil {
			continue
		}
		if !unknown && !kinds[d.Header.Bind] {
			continue
		}
		for _, p := range paths {
			if d.Template.Matches(p) {
				affected[id] = struct{}{}
				break
			}
		}
	}
	r.mu.RUnlock()

	out := make([]string, 0, len(affected))
	for id := range affected {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (r *Registry) index(d *Descriptor) {
	if d.Template == nil {
		return
	}
	set, ok := r.byKind[d.Header.Bind]
	if !ok {
		set = make(map[string]struct{})
		r.byKind[d.Header.Bind] = set
	}
	set[d.Identity] = struct{}{}
}

func (r *Registry) unindex(d *Descriptor) {
	if set, ok := r.byKind[d.Header.Bind]; ok {
		delete(set, d.Identity)
	}
}
