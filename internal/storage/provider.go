// Package storage defines the file-system abstraction for template sources
// and generated outputs.
package storage

import "time"

// Entry describes one file under a provider root.
type Entry struct {
	Path      string    `json:"path"`
	Checksum  string    `json:"checksum"`
	Size      int64     `json:"size"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Provider is the interface for rooted file operations. All paths are
// slash-separated and relative to the provider root.
type Provider interface {
	// List returns metadata for every file under dir whose name ends with ext.
	// An empty ext matches every file.
	List(dir, ext string) ([]Entry, error)
	// Read returns the raw bytes of the file at path.
	Read(path string) ([]byte, error)
	// Write atomically writes content to path.
	Write(path string, content []byte) error
	// WriteIfChanged writes content only when it differs from the current file.
	// It reports whether a write happened.
	WriteIfChanged(path string, content []byte) (bool, error)
	// Delete removes the file at path.
	Delete(path string) error
	// Root returns the absolute root directory.
	Root() string
}
