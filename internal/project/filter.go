package project

import (
	"path"
	"strings"
)

// DefaultIgnore lists directory names never descended into.
var DefaultIgnore = []string{".git", "vendor", "node_modules", "testdata"}

// Filter decides which paths under a watched root are items.
// Paths are slash-separated and relative to the root.
type Filter struct {
	Extensions []string
	Ignore     []string
}

// Accept reports whether rel names an item file.
func (f Filter) Accept(rel string) bool {
	if rel == "" || f.ignored(rel) {
		return false
	}
	base := path.Base(rel)
	if strings.HasPrefix(base, ".") {
		return false
	}
	if len(f.Extensions) == 0 {
		return true
	}
	for _, ext := range f.Extensions {
		if strings.HasSuffix(base, ext) {
			return true
		}
	}
	return false
}

// SkipDir reports whether the directory rel should not be walked or watched.
func (f Filter) SkipDir(rel string) bool {
	if rel == "" || rel == "." {
		return false
	}
	return f.ignored(rel)
}

func (f Filter) ignored(rel string) bool {
	for _, seg := range strings.Split(rel, "/") {
		for _, ig := range f.Ignore {
			if ok, _ := path.Match(ig, seg); ok {
				return true
			}
		}
	}
	return false
}
