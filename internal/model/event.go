// Package model defines the change events and generation results shared by
// the pipeline components.
package model

import (
	"sync/atomic"
	"time"
)

// Source identifies which watched tree produced a ChangeEvent.
type Source int

const (
	SourceTemplate Source = iota
	SourceProjectItem
)

func (s Source) String() string {
	switch s {
	case SourceTemplate:
		return "template"
	case SourceProjectItem:
		return "project"
	default:
		return "unknown"
	}
}

// Kind is the logical change observed for an identity.
type Kind int

const (
	Added Kind = iota
	Modified
	Removed
	Renamed
)

func (k Kind) String() string {
	switch k {
	case Added:
		return "added"
	case Modified:
		return "modified"
	case Removed:
		return "removed"
	case Renamed:
		return "renamed"
	default:
		return "unknown"
	}
}

// ChangeEvent is a single logical change to a template file or a project item.
// Identity is a slash-separated path relative to the watched root.
// OldIdentity is set only for Renamed events.
type ChangeEvent struct {
	Seq         uint64    `json:"seq"`
	Source      Source    `json:"source"`
	Identity    string    `json:"identity"`
	Kind        Kind      `json:"kind"`
	OldIdentity string    `json:"old_identity,omitempty"`
	At          time.Time `json:"at"`
}

var seq atomic.Uint64

// NextSeq returns the next value of the process-wide change sequence.
func NextSeq() uint64 {
	return seq.Add(1)
}

// CurrentSeq returns the most recently issued sequence number.
func CurrentSeq() uint64 {
	return seq.Load()
}

// NewEvent creates a ChangeEvent stamped with a fresh sequence number.
func NewEvent(src Source, kind Kind, identity, oldIdentity string) ChangeEvent {
	if kind != Renamed {
		oldIdentity = ""
	}
	return ChangeEvent{
		Seq:         NextSeq(),
		Source:      src,
		Identity:    identity,
		Kind:        kind,
		OldIdentity: oldIdentity,
		At:          time.Now(),
	}
}
