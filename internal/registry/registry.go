// Package registry keeps the set of groups and their display order.
//
// Groups are ordered by importance, highest first, then by id ascending, so
// any set of groups has exactly one order. The registry caches each group's
// importance; metadata changes must go through SetMeta so the cache and the
// order stay in step.
package registry

import (
	"cmp"
	"fmt"
	"iter"
	"slices"
	"strings"

	"github.com/daviddao/nadir_viewer/internal/dirty"
	"github.com/daviddao/nadir_viewer/internal/group"
	"github.com/daviddao/nadir_viewer/internal/model"
)

// Guard is the lock-guarded cell the registry lives in.
type Guard = dirty.Lock[Registry]

// NewGuard returns an empty registry behind a dirty lock.
func NewGuard() *Guard { return dirty.New(*New()) }

type entry struct {
	importance int32
	handle     *group.Handle
}

// Registry maps group ids to group handles. It is not safe for concurrent
// use on its own; hold it behind a Guard.
type Registry struct {
	entries   map[string]entry
	order     []string
	stale     bool
	iterating int
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{entries: make(map[string]entry)}
}

// Len returns the number of groups.
func (r *Registry) Len() int { return len(r.entries) }

// Get returns the handle for id.
func (r *Registry) Get(id string) (*group.Handle, bool) {
	e, ok := r.entries[id]
	return e.handle, ok
}

// Stale reports whether Reorder must run before the order is observed.
func (r *Registry) Stale() bool { return r.stale }

// Put inserts h, replacing any group with the same id, and reorders. A
// replaced handle is detached: its holders keep seeing the old group.
func (r *Registry) Put(h *group.Handle) {
	r.PutDeferred(h)
	r.Reorder()
}

// PutDeferred is Put without the reorder. The caller must call Reorder
// before the order is observed again.
func (r *Registry) PutDeferred(h *group.Handle) {
	var (
		id         string
		importance int32
	)
	h.Read(func(g *group.Group) {
		id = g.ID()
		importance = g.Meta().Importance
	})

	r.mutate()
	if _, ok := r.entries[id]; !ok {
		r.order = append(r.order, id)
	}
	r.entries[id] = entry{importance: importance, handle: h}
	r.stale = true
}

// Remove deletes the group with the given id and returns its handle.
// Removal keeps a sorted order sorted, so no reorder is needed.
func (r *Registry) Remove(id string) (*group.Handle, bool) {
	e, ok := r.entries[id]
	if !ok {
		return nil, false
	}
	r.mutate()
	delete(r.entries, id)
	if i := slices.Index(r.order, id); i >= 0 {
		r.order = slices.Delete(r.order, i, i+1)
	}
	return e.handle, true
}

// SetMeta updates the metadata of an existing group and reorders.
func (r *Registry) SetMeta(meta model.GroupMeta) error {
	if err := r.SetMetaDeferred(meta); err != nil {
		return err
	}
	r.Reorder()
	return nil
}

// SetMetaDeferred is SetMeta without the reorder.
func (r *Registry) SetMetaDeferred(meta model.GroupMeta) error {
	e, ok := r.entries[meta.ID]
	if !ok {
		return fmt.Errorf("set meta: %w: %q", ErrNotFound, meta.ID)
	}
	var err error
	e.handle.Write(func(g *group.Group) { err = g.SetMeta(meta) })
	if err != nil {
		return fmt.Errorf("set meta: %w", err)
	}
	if e.importance != meta.Importance {
		r.mutate()
		e.importance = meta.Importance
		r.entries[meta.ID] = e
		r.stale = true
	}
	return nil
}

// Reorder recomputes the display order. It costs O(n log n), so batches of
// metadata changes should use the deferred calls and reorder once.
func (r *Registry) Reorder() {
	r.mutate()
	slices.SortFunc(r.order, func(a, b string) int {
		ia, ib := r.entries[a].importance, r.entries[b].importance
		if ia != ib {
			return cmp.Compare(ib, ia)
		}
		return strings.Compare(a, b)
	})
	r.stale = false
}

// Ordered yields (id, handle) pairs in display order. It panics if the order
// is stale. The registry must not be mutated until iteration finishes.
func (r *Registry) Ordered() iter.Seq2[string, *group.Handle] {
	return func(yield func(string, *group.Handle) bool) {
		if r.stale {
			panic("registry: order observed before Reorder")
		}
		r.iterating++
		defer func() { r.iterating-- }()
		for _, id := range r.order {
			if !yield(id, r.entries[id].handle) {
				return
			}
		}
	}
}

// IDs returns the group ids in display order.
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.order))
	for id := range r.Ordered() {
		ids = append(ids, id)
	}
	return ids
}

func (r *Registry) mutate() {
	if r.iterating > 0 {
		panic("registry: mutated during Ordered iteration")
	}
}
