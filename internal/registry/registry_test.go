package registry

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/stencil/internal/model"
	"github.com/starford/stencil/internal/project"
	"github.com/starford/stencil/internal/templates"
)

type fakeKinds map[string][]project.Kind

func (f fakeKinds) KindsOf(rel string) []project.Kind { return f[rel] }

type fakeOwners map[string][]string

func (f fakeOwners) TemplatesForSource(src string) ([]string, error) { return f[src], nil }

func parse(t *testing.T, id, bind, match string) ParseResult {
	t.Helper()
	src := "---\nbind: " + bind + "\n"
	if match != "" {
		src += "match: \"" + match + "\"\n"
	}
	src += "output: \"{Name}.txt\"\n---\n{{.Name}}\n"
	tmpl, err := templates.Parse(id, []byte(src))
	require.NoError(t, err)
	return ParseResult{Template: tmpl}
}

func TestUpdateDiscardsStaleParse(t *testing.T) {
	r := New(fakeKinds{})

	require.True(t, r.Update("a.tpl", parse(t, "a.tpl", "Class", ""), 10))
	assert.False(t, r.Update("a.tpl", parse(t, "a.tpl", "File", ""), 5), "older parse must be discarded")
	assert.False(t, r.Update("a.tpl", parse(t, "a.tpl", "File", ""), 10), "equal sequence must be discarded")

	d, ok := r.Lookup("a.tpl")
	require.True(t, ok)
	assert.Equal(t, project.KindClass, d.Header.Bind)
	assert.Equal(t, uint64(10), d.ParsedSeq)

	require.True(t, r.Update("a.tpl", parse(t, "a.tpl", "File", ""), 11))
	assert.Equal(t, []string{"a.tpl"}, r.BoundTo(project.KindFile))
	assert.Empty(t, r.BoundTo(project.KindClass))
}

func TestUpdateConcurrentKeepsNewest(t *testing.T) {
	r := New(fakeKinds{})
	res := parse(t, "a.tpl", "Class", "")

	var wg sync.WaitGroup
	for seq := uint64(1); seq <= 50; seq++ {
		wg.Add(1)
		go func(s uint64) {
			defer wg.Done()
			r.Update("a.tpl", res, s)
		}(seq)
	}
	wg.Wait()

	d, _ := r.Lookup("a.tpl")
	assert.Equal(t, uint64(50), d.ParsedSeq)
}

func TestStaleness(t *testing.T) {
	r := New(fakeKinds{})
	r.Touch("a.tpl", 3)
	d, _ := r.Lookup("a.tpl")
	assert.True(t, d.Stale())
	assert.False(t, d.Parsed())

	r.Update("a.tpl", parse(t, "a.tpl", "Class", ""), 4)
	d, _ = r.Lookup("a.tpl")
	assert.False(t, d.Stale())

	r.Touch("a.tpl", 7)
	d, _ = r.Lookup("a.tpl")
	assert.True(t, d.Stale())
}

func TestFailedParseUnbinds(t *testing.T) {
	r := New(fakeKinds{"x.go": {project.KindClass, project.KindFile}})
	r.Update("a.tpl", parse(t, "a.tpl", "Class", ""), 1)
	r.Update("a.tpl", ParseResult{Err: errors.New("broken")}, 2)

	d, _ := r.Lookup("a.tpl")
	require.Error(t, d.Err)
	assert.Nil(t, d.Template)
	assert.Empty(t, r.BoundTo(project.KindClass))

	ev := model.NewEvent(model.SourceProjectItem, model.Modified, "x.go", "")
	assert.Empty(t, r.ResolveAffected(ev))
}

func TestResolveTemplateEvent(t *testing.T) {
	r := New(fakeKinds{})
	ev := model.NewEvent(model.SourceTemplate, model.Modified, "b.tpl", "")
	assert.Equal(t, []string{"b.tpl"}, r.ResolveAffected(ev))

	d, ok := r.Lookup("b.tpl")
	require.True(t, ok)
	assert.Equal(t, ev.Seq, d.ChangedSeq)

	ren := model.NewEvent(model.SourceTemplate, model.Renamed, "c.tpl", "b.tpl")
	assert.Equal(t, []string{"b.tpl", "c.tpl"}, r.ResolveAffected(ren))
}

func TestResolveProjectEvent(t *testing.T) {
	kinds := fakeKinds{
		"models/order.go": {project.KindClass, project.KindFile},
		"api/handler.go":  {project.KindInterface, project.KindFile},
	}
	r := New(kinds)
	r.Update("class.tpl", parse(t, "class.tpl", "Class", "models/**"), 1)
	r.Update("iface.tpl", parse(t, "iface.tpl", "Interface", ""), 1)
	r.Update("file.tpl", parse(t, "file.tpl", "File", ""), 1)
	r.Update("other.tpl", parse(t, "other.tpl", "Class", "other/*.go"), 1)

	ev := model.NewEvent(model.SourceProjectItem, model.Modified, "models/order.go", "")
	assert.Equal(t, []string{"class.tpl", "file.tpl"}, r.ResolveAffected(ev))

	ev = model.NewEvent(model.SourceProjectItem, model.Added, "api/handler.go", "")
	assert.Equal(t, []string{"file.tpl", "iface.tpl"}, r.ResolveAffected(ev))
}

func TestResolveUnknownKindsMatchesEveryBinding(t *testing.T) {
	r := New(fakeKinds{})
	r.Update("class.tpl", parse(t, "class.tpl", "Class", ""), 1)
	r.Update("scoped.tpl", parse(t, "scoped.tpl", "Class", "models/*.go"), 1)

	ev := model.NewEvent(model.SourceProjectItem, model.Removed, "gone.go", "")
	assert.Equal(t, []string{"class.tpl"}, r.ResolveAffected(ev))
}

func TestResolveIncludesOwners(t *testing.T) {
	kinds := fakeKinds{"x.go": {project.KindFile}}
	r := New(kinds, WithOwners(fakeOwners{"x.go": {"class.tpl"}}))
	r.Update("class.tpl", parse(t, "class.tpl", "Class", ""), 1)

	ev := model.NewEvent(model.SourceProjectItem, model.Modified, "x.go", "")
	assert.Equal(t, []string{"class.tpl"}, r.ResolveAffected(ev))
}

func TestResolveRenameUsesBothPaths(t *testing.T) {
	kinds := fakeKinds{"new/order.go": {project.KindClass, project.KindFile}}
	r := New(kinds)
	r.Update("old.tpl", parse(t, "old.tpl", "Class", "old/*.go"), 1)
	r.Update("new.tpl", parse(t, "new.tpl", "Class", "new/*.go"), 1)

	ev := model.NewEvent(model.SourceProjectItem, model.Renamed, "new/order.go", "old/order.go")
	assert.Equal(t, []string{"new.tpl", "old.tpl"}, r.ResolveAffected(ev))
}

func TestRemoveAndSnapshot(t *testing.T) {
	r := New(fakeKinds{})
	r.Update("b.tpl", parse(t, "b.tpl", "File", ""), 1)
	r.Update("a.tpl", parse(t, "a.tpl", "File", ""), 1)

	snap := r.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, "a.tpl", snap[0].Identity)
	assert.Equal(t, []string{"a.tpl", "b.tpl"}, r.Identities())

	r.Remove("a.tpl")
	_, ok := r.Lookup("a.tpl")
	assert.False(t, ok)
	assert.Equal(t, []string{"b.tpl"}, r.BoundTo(project.KindFile))
}
