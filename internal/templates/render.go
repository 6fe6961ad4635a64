package templates

import (
	"bytes"
	"fmt"
	"path"
	"strings"

	"github.com/starford/stencil/internal/project"
)

// Item is one bound element of the project model and the data a template
// body is executed with.
type Item struct {
	Kind      project.Kind
	Name      string
	File      *project.File
	Class     *project.Class
	Interface *project.Interface
	Template  string
}

// Source returns the project item path the element comes from.
func (it Item) Source() string {
	return it.File.Path
}

// Items returns the elements of f that the template binds to, in
// declaration order.
func (t *Template) Items(f *project.File) []Item {
	var out []Item
	switch t.Header.Bind {
	case project.KindClass:
		for i := range f.Classes {
			c := &f.Classes[i]
			out = append(out, Item{Kind: project.KindClass, Name: c.Name, File: f, Class: c, Template: t.Identity})
		}
	case project.KindInterface:
		for i := range f.Interfaces {
			in := &f.Interfaces[i]
			out = append(out, Item{Kind: project.KindInterface, Name: in.Name, File: f, Interface: in, Template: t.Identity})
		}
	case project.KindFile:
		out = append(out, Item{Kind: project.KindFile, Name: fileName(f.Path), File: f, Template: t.Identity})
	}
	return out
}

// Render executes the template body for item. Panics raised while executing
// are returned as errors.
func (t *Template) Render(item Item) (out []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic while rendering %s: %v", item.Name, r)
		}
	}()
	var buf bytes.Buffer
	if err := t.tmpl.Execute(&buf, item); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// OutputPath maps item to its output path through the header's output
// mapping. The result is slash-separated and relative.
func (t *Template) OutputPath(item Item) (string, error) {
	dir := path.Dir(item.File.Path)
	if dir == "." {
		dir = ""
	}
	values := map[string]string{
		"Name":          item.Name,
		"ClassName":     item.Name,
		"InterfaceName": item.Name,
		"FileName":      fileName(item.File.Path),
		"Dir":           dir,
		"Package":       item.File.Package,
		"Template":      fileName(t.Identity),
	}
	var missing string
	out := placeholderRe.ReplaceAllStringFunc(t.Header.Output, func(m string) string {
		key := m[1 : len(m)-1]
		v, ok := values[key]
		if !ok {
			missing = key
		}
		return v
	})
	if missing != "" {
		return "", fmt.Errorf("output %q: unknown placeholder {%s}", t.Header.Output, missing)
	}
	out = path.Clean(strings.TrimPrefix(out, "/"))
	if out == "." || out == ".." || strings.HasPrefix(out, "../") {
		return "", fmt.Errorf("output %q resolves outside the output root for %s", t.Header.Output, item.Name)
	}
	return out, nil
}

func fileName(p string) string {
	base := path.Base(p)
	if i := strings.IndexByte(base, '.'); i > 0 {
		return base[:i]
	}
	return base
}
