// Package outline extracts foldable code blocks from template documents:
// the YAML header and the bodies of block actions such as range, if, with,
// define and block.
package outline

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"text/template/parse"

	"github.com/starford/stencil/internal/checksum"
)

// Span is one foldable region. Lines are 1-based and inclusive.
type Span struct {
	Kind      string `json:"kind"`
	Label     string `json:"label"`
	StartLine int    `json:"start_line"`
	EndLine   int    `json:"end_line"`
}

const headerDelim = "---"

var openers = map[string]bool{
	"range":  true,
	"if":     true,
	"with":   true,
	"define": true,
	"block":  true,
}

// Extractor computes spans. The zero value is ready to use.
type Extractor struct{}

// CodeBlocks returns the foldable regions of doc ordered by start line.
// A body that does not parse yields an error and no spans.
func (Extractor) CodeBlocks(doc []byte) ([]Span, error) {
	text := string(doc)
	var spans []Span

	bodyStart, bodyLine := 0, 1
	if hdrEnd, endLine, ok := header(text); ok {
		spans = append(spans, Span{Kind: "header", Label: "header", StartLine: 1, EndLine: endLine})
		bodyStart, bodyLine = hdrEnd, endLine+1
	}
	body := text[bodyStart:]

	tree := parse.New("outline")
	tree.Mode = parse.SkipFuncCheck | parse.ParseComments
	if _, err := tree.Parse(body, "", "", map[string]*parse.Tree{}); err != nil {
		return nil, fmt.Errorf("outline: %w", err)
	}

	type open struct {
		kind, label string
		line        int
	}
	var stack []open
	for _, a := range actions(body) {
		line := bodyLine + a.line - 1
		switch {
		case openers[a.keyword]:
			stack = append(stack, open{kind: a.keyword, label: a.text, line: line})
		case a.keyword == "end" && len(stack) > 0:
			top := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if line > top.line {
				spans = append(spans, Span{Kind: top.kind, Label: top.label, StartLine: top.line, EndLine: line})
			}
		}
	}

	sort.SliceStable(spans, func(i, j int) bool {
		if spans[i].StartLine != spans[j].StartLine {
			return spans[i].StartLine < spans[j].StartLine
		}
		return spans[i].EndLine > spans[j].EndLine
	})
	return spans, nil
}

// header returns the byte offset just past the closing delimiter line and
// that line's number.
func header(text string) (end, line int, ok bool) {
	if !strings.HasPrefix(text, headerDelim+"\n") && !strings.HasPrefix(text, headerDelim+"\r\n") {
		return 0, 0, false
	}
	off := strings.IndexByte(text, '\n') + 1
	line = 2
	for off < len(text) {
		next := strings.IndexByte(text[off:], '\n')
		var l string
		if next < 0 {
			l = text[off:]
			next = len(text) - off
		} else {
			l = text[off : off+next]
			next++
		}
		if strings.TrimRight(l, "\r") == headerDelim {
			return off + next, line, true
		}
		off += next
		line++
	}
	return 0, 0, false
}

type action struct {
	keyword string
	text    string
	line    int
}

// actions lists the {{ }} actions of body with their 1-based start lines.
func actions(body string) []action {
	var out []action
	line, off := 1, 0
	for {
		i := strings.Index(body[off:], "{{")
		if i < 0 {
			return out
		}
		line += strings.Count(body[off:off+i], "\n")
		start := off + i + 2
		j := strings.Index(body[start:], "}}")
		if j < 0 {
			return out
		}
		inner := body[start : start+j]
		off = start + j + 2

		inner = strings.TrimPrefix(inner, "- ")
		inner = strings.TrimSuffix(inner, " -")
		inner = strings.TrimSpace(inner)
		if !strings.HasPrefix(inner, "/*") {
			kw := inner
			if k := strings.IndexAny(inner, " \t\n"); k >= 0 {
				kw = inner[:k]
			}
			out = append(out, action{keyword: kw, text: label(inner), line: line})
		}
		line += strings.Count(body[start:off], "\n")
	}
}

func label(action string) string {
	action = strings.Join(strings.Fields(action), " ")
	const maxLabel = 60
	if r := []rune(action); len(r) > maxLabel {
		return string(r[:maxLabel]) + "…"
	}
	return action
}

// Folder serves the spans of one document, recomputing them only when the
// content changes.
type Folder struct {
	id string
	ex Extractor

	mu    sync.Mutex
	sum   string
	spans []Span
	err   error
}

// ID returns the document identity.
func (f *Folder) ID() string { return f.id }

// Blocks returns the spans of doc.
func (f *Folder) Blocks(doc []byte) ([]Span, error) {
	sum := checksum.Sum(doc)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sum == sum && f.sum != "" {
		return f.spans, f.err
	}
	f.spans, f.err = f.ex.CodeBlocks(doc)
	f.sum = sum
	return f.spans, f.err
}

// Cache holds one Folder per document identity.
type Cache struct {
	ex Extractor

	mu      sync.Mutex
	folders map[string]*Folder
}

// NewCache creates an empty cache.
func NewCache() *Cache {
	return &Cache{folders: make(map[string]*Folder)}
}

// For returns the folder for id, creating it on first request.
func (c *Cache) For(id string) *Folder {
	c.mu.Lock()
	defer c.mu.Unlock()
	f, ok := c.folders[id]
	if !ok {
		f = &Folder{id: id, ex: c.ex}
		c.folders[id] = f
	}
	return f
}

// Close drops the folder for id.
func (c *Cache) Close(id string) {
	c.mu.Lock()
	delete(c.folders, id)
	c.mu.Unlock()
}

// Len returns the number of open folders.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.folders)
}
