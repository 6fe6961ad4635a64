// Package workspace is the read and control surface shared by the HTTP API
// and the MCP server: templates, outputs, status and manual regeneration.
package workspace

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"time"

	"github.com/starford/stencil/internal/apperr"
	"github.com/starford/stencil/internal/generator"
	"github.com/starford/stencil/internal/ledger"
	"github.com/starford/stencil/internal/model"
	"github.com/starford/stencil/internal/outline"
	"github.com/starford/stencil/internal/queue"
	"github.com/starford/stencil/internal/registry"
	"github.com/starford/stencil/internal/status"
	"github.com/starford/stencil/internal/storage"
	"github.com/starford/stencil/internal/templates"
)

// TemplateInfo is a lightweight item in a template list.
type TemplateInfo struct {
	ID          string              `json:"id"`
	Name        string              `json:"name"`
	Bind        string              `json:"bind,omitempty"`
	Match       string              `json:"match,omitempty"`
	Output      string              `json:"output,omitempty"`
	Valid       bool                `json:"valid"`
	Error       string              `json:"error,omitempty"`
	Diagnostics []apperr.Diagnostic `json:"diagnostics,omitempty"`
	Checksum    string              `json:"checksum"`
	UpdatedAt   time.Time           `json:"updated_at"`
}

// TemplateDetail is the full representation of a template file.
type TemplateDetail struct {
	TemplateInfo
	Content string   `json:"content"`
	Outputs []string `json:"outputs"`
}

// StatusInfo describes the pipeline as a whole.
type StatusInfo struct {
	Message string            `json:"message"`
	Level   string            `json:"level,omitempty"`
	Sticky  bool              `json:"sticky"`
	Queue   queue.Stats       `json:"queue"`
	Pending [][]string        `json:"pending"`
	LastRun *model.RunSummary `json:"last_run,omitempty"`
	Stopped bool              `json:"stopped"`
	Fatal   string            `json:"fatal,omitempty"`
}

// Deps are the components the service reads from.
type Deps struct {
	Templates storage.Provider
	Extension string
	Registry  *registry.Registry
	Ledger    ledger.Journal
	Status    *status.Reporter
	Queue     *queue.Queue
	Generator *generator.Controller
	Outlines  *outline.Cache
}

// Service coordinates the pipeline components for external callers.
type Service struct {
	d Deps
}

// NewService creates a workspace service.
func NewService(d Deps) *Service {
	if d.Extension == "" {
		d.Extension = ".tpl"
	}
	if d.Outlines == nil {
		d.Outlines = outline.NewCache()
	}
	return &Service{d: d}
}

// TemplateIDs returns the identities of every template file, plus those the
// ledger still holds outputs for. The latter cover templates deleted while
// nothing was watching; generating them removes their outputs.
func (s *Service) TemplateIDs(_ context.Context) ([]string, error) {
	entries, err := s.d.Templates.List("", s.d.Extension)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(entries))
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		seen[e.Path] = true
		ids = append(ids, e.Path)
	}
	rows, err := s.d.Ledger.All()
	if err != nil {
		return nil, fmt.Errorf("workspace: ledger: %w", err)
	}
	for _, r := range rows {
		if !seen[r.Template] {
			seen[r.Template] = true
			ids = append(ids, r.Template)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// ListTemplates returns every template file with its header and parse state.
func (s *Service) ListTemplates(_ context.Context) ([]TemplateInfo, error) {
	entries, err := s.d.Templates.List("", s.d.Extension)
	if err != nil {
		return nil, err
	}
	out := make([]TemplateInfo, 0, len(entries))
	for _, e := range entries {
		info := TemplateInfo{ID: e.Path, Name: e.Path, Checksum: e.Checksum, UpdatedAt: e.UpdatedAt}
		s.describe(&info)
		out = append(out, info)
	}
	return out, nil
}

// GetTemplate returns one template file.
func (s *Service) GetTemplate(_ context.Context, id string) (*TemplateDetail, error) {
	data, err := s.read(id)
	if err != nil {
		return nil, err
	}
	d := &TemplateDetail{
		TemplateInfo: TemplateInfo{ID: id, Name: id},
		Content:      string(data),
		Outputs:      []string{},
	}
	s.describeContent(&d.TemplateInfo, data)
	rows, err := s.d.Ledger.ByTemplate(id)
	if err != nil {
		return nil, err
	}
	for _, r := range rows {
		d.Outputs = append(d.Outputs, r.Path)
	}
	return d, nil
}

// TemplateBlocks returns the foldable regions of a template file.
func (s *Service) TemplateBlocks(_ context.Context, id string) ([]outline.Span, error) {
	data, err := s.read(id)
	if err != nil {
		return nil, err
	}
	spans, err := s.d.Outlines.For(id).Blocks(data)
	if err != nil {
		return nil, err
	}
	if spans == nil {
		spans = []outline.Span{}
	}
	return spans, nil
}

// ListOutputs returns the recorded outputs, optionally of one template.
func (s *Service) ListOutputs(_ context.Context, template string) ([]ledger.Row, error) {
	var rows []ledger.Row
	var err error
	if template == "" {
		rows, err = s.d.Ledger.All()
	} else {
		rows, err = s.d.Ledger.ByTemplate(template)
	}
	if err != nil {
		return nil, err
	}
	if rows == nil {
		rows = []ledger.Row{}
	}
	return rows, nil
}

// Status returns the current pipeline state.
func (s *Service) Status(_ context.Context) StatusInfo {
	info := StatusInfo{
		Queue:   s.d.Queue.Stats(),
		Pending: s.d.Queue.Pending(),
		Sticky:  s.d.Status.Sticky(),
	}
	if m, ok := s.d.Status.Current(); ok {
		info.Message = m.Text
		info.Level = m.Level.String()
	}
	if s.d.Generator != nil {
		if last, ok := s.d.Generator.LastRun(); ok {
			info.LastRun = &last
		}
		info.Stopped = s.d.Generator.Stopped()
		if err := s.d.Generator.Err(); err != nil {
			info.Fatal = err.Error()
		}
	}
	return info
}

// Regenerate queues the given templates, or every template when ids is
// empty, and returns how many were queued.
func (s *Service) Regenerate(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		all, err := s.TemplateIDs(ctx)
		if err != nil {
			return 0, err
		}
		ids = all
	} else {
		for _, id := range ids {
			if !strings.HasSuffix(id, s.d.Extension) {
				return 0, fmt.Errorf("workspace: %s: not a %s template: %w", id, s.d.Extension, apperr.ErrNotFound)
			}
		}
	}
	if err := s.d.Queue.EnqueueTemplates(ids); err != nil {
		return 0, err
	}
	return len(ids), nil
}

func (s *Service) read(id string) ([]byte, error) {
	data, err := s.d.Templates.Read(id)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, apperr.ErrNotFound
		}
		return nil, err
	}
	return data, nil
}

// describe fills info from the registry, parsing the file when the registry
// has no current parse of it.
func (s *Service) describe(info *TemplateInfo) {
	if d, ok := s.d.Registry.Lookup(info.ID); ok && !d.Stale() {
		fill(info, d.Template, d.Err)
		return
	}
	data, err := s.d.Templates.Read(info.ID)
	if err != nil {
		info.Error = err.Error()
		return
	}
	s.describeContent(info, data)
}

func (s *Service) describeContent(info *TemplateInfo, data []byte) {
	t, err := templates.Parse(info.ID, data)
	fill(info, t, err)
}

func fill(info *TemplateInfo, t *templates.Template, err error) {
	if t != nil {
		info.Valid = true
		info.Name = t.Name()
		info.Bind = string(t.Header.Bind)
		info.Match = t.Header.Match
		info.Output = t.Header.Output
		info.Checksum = t.Checksum
		return
	}
	if err != nil {
		info.Error = err.Error()
		info.Diagnostics = apperr.DiagnosticsOf(err)
	}
}
