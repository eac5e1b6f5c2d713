package pipeline

import "github.com/daviddao/nadir_viewer/internal/model"

// Command is a decoded mutation delivered by a source.
type Command interface {
	// Kind names the command in logs.
	Kind() string
}

// Add inserts messages into a group. Within Items, the last copy of a
// repeated id wins and the first-listed message ends up most recent.
type Add struct {
	Group  string
	Items  []model.Message
	Pinned bool
}

// Remove deletes messages by id. Unknown ids are ignored.
type Remove struct {
	Group  string
	IDs    []string
	Pinned bool
}

// PutGroup creates a group or replaces an existing one, dropping its
// messages. The new group's counter starts at InitCount.
type PutGroup struct {
	Meta      model.GroupMeta
	InitCount uint64
}

// UpdateGroup changes the metadata of an existing group and keeps its
// messages.
type UpdateGroup struct {
	Meta model.GroupMeta
}

// RemoveGroup deletes a group.
type RemoveGroup struct {
	Group string
}

// SetCounter sets a group counter.
type SetCounter struct {
	Group   string
	Counter uint64
}

// IncCounter adds a signed delta to a group counter, saturating at 0 and
// the uint64 maximum.
type IncCounter struct {
	Group string
	Delta int64
}

func (Add) Kind() string         { return "add" }
func (Remove) Kind() string      { return "remove" }
func (PutGroup) Kind() string    { return "put_group" }
func (UpdateGroup) Kind() string { return "update_group" }
func (RemoveGroup) Kind() string { return "remove_group" }
func (SetCounter) Kind() string  { return "set_counter" }
func (IncCounter) Kind() string  { return "inc_counter" }

// target returns the group id a command refers to.
func target(cmd Command) string {
	switch c := cmd.(type) {
	case Add:
		return c.Group
	case Remove:
		return c.Group
	case PutGroup:
		return c.Meta.ID
	case UpdateGroup:
		return c.Meta.ID
	case RemoveGroup:
		return c.Group
	case SetCounter:
		return c.Group
	case IncCounter:
		return c.Group
	}
	return ""
}
