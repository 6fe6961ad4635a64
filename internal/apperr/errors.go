// Package apperr defines the error taxonomy of the generation pipeline.
package apperr

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict")
	ErrClosed   = errors.New("closed")
)

// Code classifies a pipeline error.
type Code string

const (
	CodeTemplateParse Code = "TEMPLATE_PARSE"
	CodeRender        Code = "RENDER"
	CodeOutputWrite   Code = "OUTPUT_WRITE"
	CodeMonitorFault  Code = "MONITOR_FAULT"
	CodeQueue         Code = "QUEUE"
)

// Diagnostic is a single located problem in a template file.
// Line is 1-based and counts from the top of the file; 0 means unknown.
type Diagnostic struct {
	Line    int    `json:"line"`
	Message string `json:"message"`
}

func (d Diagnostic) String() string {
	if d.Line > 0 {
		return fmt.Sprintf("line %d: %s", d.Line, d.Message)
	}
	return d.Message
}

// E is a structured pipeline error. Subject names the template, project item
// or output path the error is about.
type E struct {
	Code        Code
	Op          string
	Subject     string
	Err         error
	Diagnostics []Diagnostic
}

func (e *E) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Code))
	if e.Op != "" {
		b.WriteString(": ")
		b.WriteString(e.Op)
	}
	if e.Subject != "" {
		b.WriteString(" ")
		b.WriteString(e.Subject)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	} else if len(e.Diagnostics) > 0 {
		b.WriteString(": ")
		b.WriteString(e.Diagnostics[0].String())
	}
	return b.String()
}

func (e *E) Unwrap() error {
	return e.Err
}

// Is matches another *E by code, so errors.Is(err, &E{Code: CodeRender}) works.
func (e *E) Is(target error) bool {
	t, ok := target.(*E)
	if !ok {
		return false
	}
	return t.Code == e.Code && t.Subject == "" && t.Op == "" && t.Err == nil
}

// TemplateParse reports a template whose header or body cannot be parsed.
func TemplateParse(template string, err error, diags ...Diagnostic) error {
	return &E{Code: CodeTemplateParse, Op: "parse", Subject: template, Err: err, Diagnostics: diags}
}

// Render reports a failure rendering a template against a bound item.
func Render(template string, err error) error {
	return &E{Code: CodeRender, Op: "render", Subject: template, Err: err}
}

// OutputWrite reports a failure persisting a generated output.
func OutputWrite(path string, err error) error {
	return &E{Code: CodeOutputWrite, Op: "write", Subject: path, Err: err}
}

// MonitorFault reports that a change source stopped delivering notifications.
func MonitorFault(op string, err error) error {
	return &E{Code: CodeMonitorFault, Op: op, Err: err}
}

// QueueFault reports a failure of the work queue itself.
func QueueFault(err error) error {
	return &E{Code: CodeQueue, Op: "dequeue", Err: err}
}

// CodeOf returns the code of the first *E in err's chain, or "".
func CodeOf(err error) Code {
	var e *E
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// DiagnosticsOf returns the diagnostics carried by err, if any.
func DiagnosticsOf(err error) []Diagnostic {
	var e *E
	if errors.As(err, &e) {
		return e.Diagnostics
	}
	return nil
}

// IsFatal reports whether err stops the whole pipeline rather than a single template.
func IsFatal(err error) bool {
	switch CodeOf(err) {
	case CodeMonitorFault, CodeQueue:
		return true
	default:
		return false
	}
}
