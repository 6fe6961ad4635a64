package generator

import (
	"fmt"
	"sort"
	"strings"

	"github.com/starford/stencil/internal/model"
)

// summaryText is the one-line status shown after a run.
func summaryText(s model.RunSummary) string {
	var b strings.Builder
	if s.Failed == 0 {
		fmt.Fprintf(&b, "Generated %d %s", s.Templates, plural(s.Templates, "template"))
	} else {
		fmt.Fprintf(&b, "Generated %d of %d %s, %d failed", s.Succeeded, s.Templates, plural(s.Templates, "template"), s.Failed)
	}
	if s.Written > 0 || s.Removed > 0 {
		fmt.Fprintf(&b, " (%d written, %d removed)", s.Written, s.Removed)
	}
	return b.String()
}

// failingText names the first failing template in identity order.
func failingText(failing map[string]string) string {
	ids := make([]string, 0, len(failing))
	for id := range failing {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	text := fmt.Sprintf("template %s: %s", ids[0], failing[ids[0]])
	if n := len(ids) - 1; n > 0 {
		text += fmt.Sprintf(" (%d more failing)", n)
	}
	return text
}

func plural(n int, word string) string {
	if n == 1 {
		return word
	}
	return word + "s"
}

func firstLine(err error) string {
	msg := err.Error()
	if i := strings.IndexByte(msg, '\n'); i >= 0 {
		return msg[:i]
	}
	return msg
}
