// Package templates parses template files and renders them against items of
// the project model.
//
// A template file is a YAML header between "---" lines followed by a
// text/template body:
//
//	---
//	bind: Class
//	match: "models/**/*.go"
//	output: "{ClassName}.g.txt"
//	---
//	type {{.Name}}DTO struct { ... }
package templates

import (
	"errors"
	"fmt"
	"path"
	"regexp"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/stencil/internal/project"
)

// Header is the parsed metadata block of a template file.
type Header struct {
	Name   string       `yaml:"name" json:"name,omitempty"`
	Bind   project.Kind `yaml:"bind" json:"bind"`
	Match  string       `yaml:"match" json:"match,omitempty"`
	Output string       `yaml:"output" json:"output"`
}

var placeholderRe = regexp.MustCompile(`\{([A-Za-z]+)\}`)

// placeholders maps each output placeholder to the kinds that may use it.
// A nil entry means any kind.
var placeholders = map[string][]project.Kind{
	"Name":          nil,
	"FileName":      nil,
	"Dir":           nil,
	"Package":       nil,
	"Template":      nil,
	"ClassName":     {project.KindClass},
	"InterfaceName": {project.KindInterface},
}

// Validate validates the header.
func (h *Header) Validate() error {
	return validation.ValidateStruct(h,
		validation.Field(&h.Bind, validation.Required,
			validation.In(project.KindClass, project.KindInterface, project.KindFile)),
		validation.Field(&h.Match, validation.By(validGlob)),
		validation.Field(&h.Output, validation.Required, validation.By(h.validOutput)),
	)
}

func validGlob(v any) error {
	s, _ := v.(string)
	if s == "" {
		return nil
	}
	for _, seg := range splitSegments(s) {
		if seg == "**" {
			continue
		}
		if _, err := path.Match(seg, ""); err != nil {
			return errors.New("invalid glob pattern")
		}
	}
	return nil
}

func (h *Header) validOutput(v any) error {
	s, _ := v.(string)
	for _, m := range placeholderRe.FindAllStringSubmatch(s, -1) {
		kinds, ok := placeholders[m[1]]
		if !ok {
			return fmt.Errorf("unknown placeholder {%s}", m[1])
		}
		if kinds == nil {
			continue
		}
		allowed := false
		for _, k := range kinds {
			if k == h.Bind {
				allowed = true
			}
		}
		if !allowed {
			return fmt.Errorf("placeholder {%s} requires bind %s", m[1], kinds[0])
		}
	}
	return nil
}
