// Package model defines the messages and group metadata exchanged between
// sources and the viewer.
package model

import "time"

// Default capacity hints used when a group does not specify its own.
const (
	DefaultCapacity       = 10
	DefaultPinnedCapacity = 5
)

// Message is a single notification shown inside a group. Messages with the
// same ID in the same group replace each other.
type Message struct {
	// ID identifies the message within its group, e.g. a chat name or an
	// email address.
	ID string `json:"id"`

	// Tags are short labels rendered in front of the body.
	Tags []string `json:"tags,omitempty"`

	Body string `json:"body,omitempty"`

	// Counter is how many underlying notifications this message stands for,
	// e.g. unread count of a chat.
	Counter *uint64 `json:"counter,omitempty"`

	Time *time.Time `json:"time,omitempty"`
}

// Count returns the counter, or 0 when unset.
func (m Message) Count() uint64 {
	if m.Counter == nil {
		return 0
	}
	return *m.Counter
}

// GroupMeta describes a group of messages.
type GroupMeta struct {
	// ID is unique across the registry.
	ID string `json:"id"`

	Title string `json:"title"`

	// Importance orders groups for display, highest first.
	Importance int32 `json:"importance"`

	// Capacity is the number of regular messages kept.
	Capacity uint32 `json:"capacity"`

	// PinnedCapacity is the number of pinned messages kept.
	PinnedCapacity uint32 `json:"pinned_capacity"`
}

// NewGroupMeta returns metadata with the default capacities.
func NewGroupMeta(id, title string) GroupMeta {
	return GroupMeta{
		ID:             id,
		Title:          title,
		Capacity:       DefaultCapacity,
		PinnedCapacity: DefaultPinnedCapacity,
	}
}
