package templates

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/stencil/internal/apperr"
	"github.com/starford/stencil/internal/project"
)

const dtoTemplate = `---
name: DTO
bind: Class
match: "**/*.go"
output: "{Dir}/{ClassName}.g.txt"
---
// {{.Name}} from {{.File.Path}}
{{range .Class.Properties}}{{.Name}} {{.Type}} {{snake .Name}}
{{end}}`

func mustFile(t *testing.T, rel, src string) *project.File {
	t.Helper()
	f, err := project.ParseFile(rel, []byte(src))
	require.NoError(t, err)
	return f
}

func TestParseAndRender(t *testing.T) {
	tmpl, err := Parse("dto.tpl", []byte(dtoTemplate))
	require.NoError(t, err)
	assert.Equal(t, "DTO", tmpl.Name())
	assert.Equal(t, project.KindClass, tmpl.Header.Bind)
	assert.Equal(t, 7, tmpl.BodyLine)

	f := mustFile(t, "shop/order.go", "package shop\ntype Order struct {\n\tID int64\n\tCustomerName string\n}\n")
	items := tmpl.Items(f)
	require.Len(t, items, 1)

	out, err := tmpl.Render(items[0])
	require.NoError(t, err)
	assert.Equal(t, "// Order from shop/order.go\nID int64 id\nCustomerName string customer_name\n", string(out))

	p, err := tmpl.OutputPath(items[0])
	require.NoError(t, err)
	assert.Equal(t, "shop/Order.g.txt", p)
}

func TestRenderIsDeterministic(t *testing.T) {
	tmpl, err := Parse("dto.tpl", []byte(dtoTemplate))
	require.NoError(t, err)
	f := mustFile(t, "a.go", "package a\ntype A struct{ X, Y int }\n")
	first, err := tmpl.Render(tmpl.Items(f)[0])
	require.NoError(t, err)
	second, err := tmpl.Render(tmpl.Items(f)[0])
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestOutputPathAtRoot(t *testing.T) {
	tmpl, err := Parse("x.tpl", []byte("---\nbind: Class\noutput: \"{ClassName}.g.txt\"\n---\n{{.Name}}\n"))
	require.NoError(t, err)
	f := mustFile(t, "order.go", "package shop\ntype Order struct{}\n")
	p, err := tmpl.OutputPath(tmpl.Items(f)[0])
	require.NoError(t, err)
	assert.Equal(t, "Order.g.txt", p)
}

func TestOutputPathEscapeRejected(t *testing.T) {
	tmpl, err := Parse("x.tpl", []byte("---\nbind: File\noutput: \"../{FileName}.txt\"\n---\nx\n"))
	require.NoError(t, err)
	f := mustFile(t, "order.go", "package shop\n")
	_, err = tmpl.OutputPath(tmpl.Items(f)[0])
	require.Error(t, err)
}

func TestBindKinds(t *testing.T) {
	src := "package p\ntype A struct{}\ntype B struct{}\ntype I interface{ M() }\n"
	f := mustFile(t, "p.go", src)

	cases := []struct {
		bind string
		want []string
	}{
		{"Class", []string{"A", "B"}},
		{"Interface", []string{"I"}},
		{"File", []string{"p"}},
	}
	for _, tc := range cases {
		t.Run(tc.bind, func(t *testing.T) {
			tmpl, err := Parse("t.tpl", []byte("---\nbind: "+tc.bind+"\noutput: \"{Name}.txt\"\n---\n{{.Name}}"))
			require.NoError(t, err)
			var names []string
			for _, it := range tmpl.Items(f) {
				names = append(names, it.Name)
			}
			assert.Equal(t, tc.want, names)
		})
	}
}

func TestParseErrors(t *testing.T) {
	cases := []struct {
		name     string
		src      string
		wantLine int
		wantMsg  string
	}{
		{"missing header", "{{.Name}}\n", 1, "missing header"},
		{"unterminated header", "---\nbind: Class\n", 1, "missing header"},
		{"invalid yaml", "---\nbind: Class\noutput: [unclosed\n---\nbody\n", 0, ""},
		{"unknown field", "---\nbind: Class\noutput: x\ncolour: red\n---\n", 4, "colour"},
		{"missing bind", "---\noutput: x.txt\n---\n", 2, "bind: cannot be blank"},
		{"unknown kind", "---\nbind: Struct\noutput: x.txt\n---\n", 2, "bind: must be a valid value"},
		{"wrong placeholder for kind", "---\nbind: File\noutput: \"{ClassName}.txt\"\n---\n", 3, "requires bind Class"},
		{"unknown placeholder", "---\nbind: File\noutput: \"{Nope}.txt\"\n---\n", 3, "unknown placeholder {Nope}"},
		{"bad glob", "---\nbind: File\nmatch: \"[\"\noutput: x.txt\n---\n", 3, "invalid glob"},
		{"body syntax", "---\nbind: File\noutput: x.txt\n---\nline one\n{{end}}\n", 6, "unexpected"},
		{"unknown func", "---\nbind: File\noutput: x.txt\n---\n\n{{nope .Name}}\n", 6, "nope"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse("broken.tpl", []byte(tc.src))
			require.Error(t, err)
			assert.Equal(t, apperr.CodeTemplateParse, apperr.CodeOf(err))
			diags := apperr.DiagnosticsOf(err)
			require.NotEmpty(t, diags)
			if tc.wantLine > 0 {
				assert.Equal(t, tc.wantLine, diags[0].Line, diags[0].String())
			}
			if tc.wantMsg != "" {
				assert.Contains(t, diags[0].Message, tc.wantMsg)
			}
		})
	}
}

func TestRenderMissingKeyFails(t *testing.T) {
	tmpl, err := Parse("t.tpl", []byte("---\nbind: File\noutput: x.txt\n---\n{{.Class.Name}}"))
	require.NoError(t, err)
	f := mustFile(t, "p.go", "package p\n")
	_, err = tmpl.Render(tmpl.Items(f)[0])
	require.Error(t, err)
}

func TestMatches(t *testing.T) {
	tmpl, err := Parse("t.tpl", []byte("---\nbind: File\nmatch: \"models/**/*.go\"\noutput: x.txt\n---\n"))
	require.NoError(t, err)
	assert.True(t, tmpl.Matches("models/a.go"))
	assert.True(t, tmpl.Matches("models/x/y/a.go"))
	assert.False(t, tmpl.Matches("api/a.go"))
}

func TestMatchGlob(t *testing.T) {
	cases := []struct {
		pattern, name string
		want          bool
	}{
		{"*.go", "a.go", true},
		{"*.go", "x/a.go", false},
		{"**/*.go", "a.go", true},
		{"**/*.go", "x/y/a.go", true},
		{"x/**", "x/y/z", true},
		{"x/**/z.go", "x/z.go", true},
		{"x/?.go", "x/ab.go", false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, matchGlob(tc.pattern, tc.name), "%s ~ %s", tc.pattern, tc.name)
	}
}

func TestFuncs(t *testing.T) {
	assert.Equal(t, "httpServer", camel("HTTPServer"))
	assert.Equal(t, "order", camel("Order"))
	assert.Equal(t, "order_item_id", snake("OrderItemID"))
	assert.Equal(t, "http_server", snake("HTTPServer"))
	assert.Equal(t, "Hello World", title("hello world"))
	assert.True(t, strings.HasPrefix(Funcs()["lower"].(func(string) string)("ABC"), "abc"))
}
