package templates

import (
	"bytes"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"text/template"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"gopkg.in/yaml.v3"

	"github.com/starford/stencil/internal/apperr"
	"github.com/starford/stencil/internal/checksum"
)

const delim = "---"

// Template is a parsed template file.
type Template struct {
	Identity string
	Header   Header
	Body     string
	Checksum string
	// BodyLine is the 1-based file line on which the body starts.
	BodyLine int

	tmpl *template.Template
}

var (
	yamlLineRe = regexp.MustCompile(`line (\d+): (.*)`)
	tmplLineRe = regexp.MustCompile(`^template: [^:]*:(\d+):(?:\d+:)?\s*(.*)$`)
)

// Parse parses a template file. Any failure is returned as a
// TEMPLATE_PARSE error carrying located diagnostics.
func Parse(identity string, data []byte) (*Template, error) {
	block, body, headerLine, bodyLine, ok := splitHeader(data)
	if !ok {
		return nil, apperr.TemplateParse(identity, nil,
			apperr.Diagnostic{Line: 1, Message: "missing header: file must start with a --- delimited YAML block"})
	}

	h, diags := parseHeader(block, headerLine)
	if len(diags) > 0 {
		return nil, apperr.TemplateParse(identity, nil, diags...)
	}

	tmpl, err := template.New(identity).Funcs(Funcs()).Option("missingkey=error").Parse(body)
	if err != nil {
		return nil, apperr.TemplateParse(identity, nil, bodyDiagnostic(err, bodyLine))
	}

	return &Template{
		Identity: identity,
		Header:   h,
		Body:     body,
		Checksum: checksum.Sum(data),
		BodyLine: bodyLine,
		tmpl:     tmpl,
	}, nil
}

// splitHeader separates the YAML header from the body. headerLine is the file
// line of the first header line, bodyLine the file line of the first body line.
func splitHeader(data []byte) (block []byte, body string, headerLine, bodyLine int, ok bool) {
	lines := strings.SplitAfter(string(data), "\n")
	i := 0
	for i < len(lines) && strings.TrimSpace(lines[i]) == "" {
		i++
	}
	if i == len(lines) || strings.TrimSpace(lines[i]) != delim {
		return nil, "", 0, 0, false
	}
	open := i
	for j := open + 1; j < len(lines); j++ {
		if strings.TrimRight(lines[j], " \t\r\n") == delim {
			block = []byte(strings.Join(lines[open+1:j], ""))
			body = strings.Join(lines[j+1:], "")
			return block, body, open + 2, j + 2, true
		}
	}
	return nil, "", 0, 0, false
}

func parseHeader(block []byte, headerLine int) (Header, []apperr.Diagnostic) {
	var h Header

	var node yaml.Node
	if err := yaml.Unmarshal(block, &node); err != nil {
		return h, []apperr.Diagnostic{yamlDiagnostic(err, headerLine)}
	}
	if len(node.Content) == 0 {
		return h, []apperr.Diagnostic{{Line: headerLine, Message: "empty header"}}
	}

	dec := yaml.NewDecoder(bytes.NewReader(block))
	dec.KnownFields(true)
	if err := dec.Decode(&h); err != nil {
		return h, []apperr.Diagnostic{yamlDiagnostic(err, headerLine)}
	}

	err := h.Validate()
	if err == nil {
		return h, nil
	}
	var verrs validation.Errors
	if !errors.As(err, &verrs) {
		return h, []apperr.Diagnostic{{Line: headerLine, Message: err.Error()}}
	}
	keyLines := headerKeyLines(node.Content[0], headerLine)
	fields := make([]string, 0, len(verrs))
	for f := range verrs {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	diags := make([]apperr.Diagnostic, 0, len(fields))
	for _, f := range fields {
		line, ok := keyLines[f]
		if !ok {
			line = headerLine
		}
		diags = append(diags, apperr.Diagnostic{Line: line, Message: fmt.Sprintf("%s: %s", f, verrs[f].Error())})
	}
	return h, diags
}

func headerKeyLines(n *yaml.Node, headerLine int) map[string]int {
	out := map[string]int{}
	if n.Kind != yaml.MappingNode {
		return out
	}
	for i := 0; i+1 < len(n.Content); i += 2 {
		out[n.Content[i].Value] = headerLine + n.Content[i].Line - 1
	}
	return out
}

func yamlDiagnostic(err error, headerLine int) apperr.Diagnostic {
	msg := strings.TrimPrefix(err.Error(), "yaml: ")
	if m := yamlLineRe.FindStringSubmatch(msg); m != nil {
		n, _ := strconv.Atoi(m[1])
		return apperr.Diagnostic{Line: headerLine + n - 1, Message: m[2]}
	}
	return apperr.Diagnostic{Line: headerLine, Message: msg}
}

func bodyDiagnostic(err error, bodyLine int) apperr.Diagnostic {
	msg := err.Error()
	if m := tmplLineRe.FindStringSubmatch(msg); m != nil {
		n, _ := strconv.Atoi(m[1])
		return apperr.Diagnostic{Line: bodyLine + n - 1, Message: m[2]}
	}
	return apperr.Diagnostic{Line: bodyLine, Message: msg}
}

// Matches reports whether the project item rel is selected by the header's
// match glob. An empty glob selects every item.
func (t *Template) Matches(rel string) bool {
	if t.Header.Match == "" {
		return true
	}
	return matchGlob(t.Header.Match, rel)
}

// Name returns the display name, falling back to the identity.
func (t *Template) Name() string {
	if t.Header.Name != "" {
		return t.Header.Name
	}
	return t.Identity
}
