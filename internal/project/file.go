// Package project builds the object model of a Go source tree: files,
// classes (struct types), interfaces, their properties and methods.
package project

import (
	"bytes"
	"fmt"
	"go/ast"
	"go/parser"
	"go/printer"
	"go/token"
	"reflect"
	"sort"
	"strings"

	"github.com/starford/stencil/internal/checksum"
)

// Kind is the code-model kind a template binds to.
type Kind string

const (
	KindClass     Kind = "Class"
	KindInterface Kind = "Interface"
	KindFile      Kind = "File"
)

// Kinds lists every bindable kind.
var Kinds = []Kind{KindClass, KindInterface, KindFile}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	switch k {
	case KindClass, KindInterface, KindFile:
		return true
	default:
		return false
	}
}

// Property is a struct field.
type Property struct {
	Name     string
	Type     string
	Tag      string
	Doc      string
	Embedded bool
}

// TagValue returns the value of key in the property's struct tag.
func (p Property) TagValue(key string) string {
	return reflect.StructTag(p.Tag).Get(key)
}

// Method is a method of a class or interface.
type Method struct {
	Name    string
	Params  string
	Results string
	Doc     string
}

// Signature returns the method in "Name(params) results" form.
func (m Method) Signature() string {
	s := m.Name + "(" + m.Params + ")"
	if m.Results != "" {
		s += " " + m.Results
	}
	return s
}

// Class is an exported or unexported struct type.
type Class struct {
	Name       string
	Doc        string
	Properties []Property
	Methods    []Method
}

// Interface is an interface type.
type Interface struct {
	Name    string
	Doc     string
	Methods []Method
}

// File is one parsed project item.
type File struct {
	Path       string
	Package    string
	Classes    []Class
	Interfaces []Interface
	Checksum   string
}

// Kinds returns the kinds present in the file. Every file is a KindFile.
func (f *File) Kinds() []Kind {
	kinds := make([]Kind, 0, 3)
	if len(f.Classes) > 0 {
		kinds = append(kinds, KindClass)
	}
	if len(f.Interfaces) > 0 {
		kinds = append(kinds, KindInterface)
	}
	return append(kinds, KindFile)
}

// Class returns the class with the given name.
func (f *File) Class(name string) (*Class, bool) {
	for i := range f.Classes {
		if f.Classes[i].Name == name {
			return &f.Classes[i], true
		}
	}
	return nil, false
}

// ParseFile builds the model of a single Go source file. rel is the
// slash-separated path used as the item identity.
func ParseFile(rel string, src []byte) (*File, error) {
	fset := token.NewFileSet()
	af, err := parser.ParseFile(fset, rel, src, parser.ParseComments|parser.SkipObjectResolution)
	if err != nil {
		return nil, fmt.Errorf("project: parse %s: %w", rel, err)
	}

	f := &File{
		Path:     rel,
		Package:  af.Name.Name,
		Checksum: checksum.Sum(src),
	}

	classIdx := map[string]int{}
	methods := map[string][]Method{}

	for _, decl := range af.Decls {
		switch d := decl.(type) {
		case *ast.GenDecl:
			if d.Tok != token.TYPE {
				continue
			}
			for _, spec := range d.Specs {
				ts := spec.(*ast.TypeSpec)
				doc := docText(ts.Doc)
				if doc == "" && len(d.Specs) == 1 {
					doc = docText(d.Doc)
				}
				switch t := ts.Type.(type) {
				case *ast.StructType:
					classIdx[ts.Name.Name] = len(f.Classes)
					f.Classes = append(f.Classes, Class{
						Name:       ts.Name.Name,
						Doc:        doc,
						Properties: properties(fset, t),
					})
				case *ast.InterfaceType:
					f.Interfaces = append(f.Interfaces, Interface{
						Name:    ts.Name.Name,
						Doc:     doc,
						Methods: interfaceMethods(fset, t),
					})
				}
			}
		case *ast.FuncDecl:
			if d.Recv == nil || len(d.Recv.List) == 0 {
				continue
			}
			recv := receiverName(d.Recv.List[0].Type)
			if recv == "" {
				continue
			}
			methods[recv] = append(methods[recv], Method{
				Name:    d.Name.Name,
				Params:  fieldList(fset, d.Type.Params),
				Results: results(fset, d.Type.Results),
				Doc:     docText(d.Doc),
			})
		}
	}

	for name, ms := range methods {
		i, ok := classIdx[name]
		if !ok {
			continue
		}
		sort.SliceStable(ms, func(a, b int) bool { return ms[a].Name < ms[b].Name })
		f.Classes[i].Methods = ms
	}
	return f, nil
}

func properties(fset *token.FileSet, st *ast.StructType) []Property {
	var out []Property
	for _, field := range st.Fields.List {
		typ := expr(fset, field.Type)
		tag := ""
		if field.Tag != nil {
			tag = strings.Trim(field.Tag.Value, "`")
		}
		doc := docText(field.Doc)
		if doc == "" {
			doc = docText(field.Comment)
		}
		if len(field.Names) == 0 {
			out = append(out, Property{
				Name:     strings.TrimPrefix(typ[strings.LastIndex(typ, ".")+1:], "*"),
				Type:     typ,
				Tag:      tag,
				Doc:      doc,
				Embedded: true,
			})
			continue
		}
		for _, n := range field.Names {
			out = append(out, Property{Name: n.Name, Type: typ, Tag: tag, Doc: doc})
		}
	}
	return out
}

func interfaceMethods(fset *token.FileSet, it *ast.InterfaceType) []Method {
	var out []Method
	for _, m := range it.Methods.List {
		ft, ok := m.Type.(*ast.FuncType)
		if !ok || len(m.Names) == 0 {
			continue
		}
		out = append(out, Method{
			Name:    m.Names[0].Name,
			Params:  fieldList(fset, ft.Params),
			Results: results(fset, ft.Results),
			Doc:     docText(m.Doc),
		})
	}
	return out
}

func receiverName(e ast.Expr) string {
	switch t := e.(type) {
	case *ast.StarExpr:
		return receiverName(t.X)
	case *ast.Ident:
		return t.Name
	case *ast.IndexExpr:
		return receiverName(t.X)
	case *ast.IndexListExpr:
		return receiverName(t.X)
	}
	return ""
}

func fieldList(fset *token.FileSet, fl *ast.FieldList) string {
	if fl == nil {
		return ""
	}
	parts := make([]string, 0, len(fl.List))
	for _, f := range fl.List {
		typ := expr(fset, f.Type)
		if len(f.Names) == 0 {
			parts = append(parts, typ)
			continue
		}
		names := make([]string, 0, len(f.Names))
		for _, n := range f.Names {
			names = append(names, n.Name)
		}
		parts = append(parts, strings.Join(names, ", ")+" "+typ)
	}
	return strings.Join(parts, ", ")
}

func results(fset *token.FileSet, fl *ast.FieldList) string {
	s := fieldList(fset, fl)
	if fl != nil && (len(fl.List) > 1 || (len(fl.List) == 1 && len(fl.List[0].Names) > 0)) {
		return "(" + s + ")"
	}
	return s
}

func expr(fset *token.FileSet, e ast.Expr) string {
	var buf bytes.Buffer
	_ = printer.Fprint(&buf, fset, e)
	return buf.String()
}

func docText(cg *ast.CommentGroup) string {
	if cg == nil {
		return ""
	}
	return strings.TrimSpace(cg.Text())
}
