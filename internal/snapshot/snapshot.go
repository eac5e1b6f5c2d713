// Package snapshot captures the registry into immutable views for rendering.
//
// A DataSnapshot holds every group in display order with its messages copied
// out, so the UI never touches a lock. Snapshots are rebuilt after each flush
// and swapped into the UI model. Groups that did not change since the last
// build reuse their previous capture.
package snapshot

import (
	"sync"
	"time"

	"github.com/daviddao/nadir_viewer/internal/group"
	"github.com/daviddao/nadir_viewer/internal/model"
	"github.com/daviddao/nadir_viewer/internal/registry"
)

// GroupView is an immutable copy of one group.
type GroupView struct {
	Meta    model.GroupMeta
	Counter uint64

	// Most recent first.
	Pinned   []model.Message
	Messages []model.Message

	Cap       int
	CapPinned int
}

// Len returns the number of messages of both kinds.
func (v GroupView) Len() int { return len(v.Pinned) + len(v.Messages) }

// DataSnapshot is an immutable view of the registry, groups in display order.
type DataSnapshot struct {
	Groups []GroupView

	// Counts.
	TotalMessages int
	TotalPinned   int

	// Timestamp of snapshot creation.
	BuiltAt time.Time
}

// Builder turns the registry into snapshots, re-capturing only groups whose
// dirty flag is set. It is safe for concurrent use.
type Builder struct {
	mu    sync.Mutex
	views map[*group.Handle]GroupView
	last  *DataSnapshot
	now   func() time.Time
}

// NewBuilder returns an empty builder.
func NewBuilder() *Builder {
	return &Builder{
		views: make(map[*group.Handle]GroupView),
		now:   time.Now,
	}
}

// Build returns a snapshot of reg and whether it differs from the previous
// one. When the registry has not been written since the last build the
// previous snapshot is returned as is.
func (b *Builder) Build(reg *registry.Guard) (*DataSnapshot, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.last != nil && !reg.IsDirty() {
		return b.last, false
	}

	snap := &DataSnapshot{}
	seen := make(map[*group.Handle]GroupView, len(b.views))
	reg.Consume(func(r *registry.Registry) {
		snap.Groups = make([]GroupView, 0, r.Len())
		for _, h := range r.Ordered() {
			view, ok := b.views[h]
			captured := h.ConsumeIfDirty(func(g *group.Group) { view = capture(g) })
			if !ok && !captured {
				// Known clean handle we have never seen, e.g. after the
				// builder was reset. Read it anyway.
				h.Read(func(g *group.Group) { view = capture(g) })
			}
			seen[h] = view
			snap.Groups = append(snap.Groups, view)
			snap.TotalMessages += len(view.Messages)
			snap.TotalPinned += len(view.Pinned)
		}
	})
	// Removed groups drop out of the cache here.
	b.views = seen
	snap.BuiltAt = b.now()
	b.last = snap
	return snap, true
}

// Reset forgets all cached captures so the next Build reads every group.
func (b *Builder) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	clear(b.views)
	b.last = nil
}

func capture(g *group.Group) GroupView {
	return GroupView{
		Meta:      g.Meta(),
		Counter:   g.Counter(),
		Pinned:    g.RecentPinned(g.LenPinned()),
		Messages:  g.Recent(g.Len()),
		Cap:       g.Cap(),
		CapPinned: g.CapPinned(),
	}
}
