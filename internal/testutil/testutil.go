// Package testutil wires a complete generation pipeline over temporary
// directories for tests of the outer surfaces.
package testutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/starford/stencil/internal/generator"
	"github.com/starford/stencil/internal/ledger"
	"github.com/starford/stencil/internal/outline"
	"github.com/starford/stencil/internal/project"
	"github.com/starford/stencil/internal/queue"
	"github.com/starford/stencil/internal/registry"
	"github.com/starford/stencil/internal/status"
	"github.com/starford/stencil/internal/storage"
	"github.com/starford/stencil/internal/workspace"
)

// Pipeline is a wired pipeline whose consumer loop is not started; tests
// drive runs with Generator.Generate or Drain.
type Pipeline struct {
	t *testing.T

	ProjectDir  string
	TemplateDir string
	OutputDir   string

	Model     *project.Model
	Ledger    *ledger.DB
	Registry  *registry.Registry
	Queue     *queue.Queue
	Status    *status.Reporter
	Outlines  *outline.Cache
	Generator *generator.Controller
	Service   *workspace.Service
}

// TestLedger opens a ledger in a temporary directory.
func TestLedger(t *testing.T) *ledger.DB {
	t.Helper()
	db, err := ledger.Open(filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// NewPipeline builds a pipeline with empty project, template and output
// directories.
func NewPipeline(t *testing.T) *Pipeline {
	t.Helper()
	base := t.TempDir()
	p := &Pipeline{
		t:           t,
		ProjectDir:  filepath.Join(base, "project"),
		TemplateDir: filepath.Join(base, "templates"),
		OutputDir:   filepath.Join(base, "out"),
	}
	for _, d := range []string{p.ProjectDir, p.TemplateDir, p.OutputDir} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			t.Fatal(err)
		}
	}

	var err error
	p.Model, err = project.NewModel(p.ProjectDir, project.Filter{Extensions: []string{".go"}, Ignore: project.DefaultIgnore}, nil)
	if err != nil {
		t.Fatal(err)
	}
	p.Ledger = TestLedger(t)
	p.Registry = registry.New(p.Model, registry.WithOwners(p.Ledger))
	p.Queue = queue.New(p.Registry)
	p.Status = status.New(status.WithInfoTTL(0))
	p.Outlines = outline.NewCache()

	tplFS, err := storage.NewFS(p.TemplateDir)
	if err != nil {
		t.Fatal(err)
	}
	outFS, err := storage.NewFS(p.OutputDir)
	if err != nil {
		t.Fatal(err)
	}

	p.Generator, err = generator.New(generator.Deps{
		Queue:     p.Queue,
		Registry:  p.Registry,
		Project:   p.Model,
		Templates: tplFS,
		Outputs:   outFS,
		Ledger:    p.Ledger,
		Status:    p.Status,
	}, generator.WithTemplateRemoved(p.Outlines.Close))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(p.Generator.Stop)

	p.Service = workspace.NewService(workspace.Deps{
		Templates: tplFS,
		Extension: ".tpl",
		Registry:  p.Registry,
		Ledger:    p.Ledger,
		Status:    p.Status,
		Queue:     p.Queue,
		Generator: p.Generator,
		Outlines:  p.Outlines,
	})
	return p
}

// WriteSource writes a project item.
func (p *Pipeline) WriteSource(rel, src string) {
	p.t.Helper()
	p.write(p.ProjectDir, rel, src)
}

// WriteTemplate writes a template file.
func (p *Pipeline) WriteTemplate(rel, src string) {
	p.t.Helper()
	p.write(p.TemplateDir, rel, src)
}

// Output returns the content of a generated file.
func (p *Pipeline) Output(rel string) (string, bool) {
	data, err := os.ReadFile(filepath.Join(p.OutputDir, filepath.FromSlash(rel)))
	if err != nil {
		return "", false
	}
	return string(data), true
}

func (p *Pipeline) write(root, rel, content string) {
	p.t.Helper()
	full := filepath.Join(root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		p.t.Fatal(err)
	}
	if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
		p.t.Fatal(err)
	}
}
