// Package group holds the per-group message stores.
//
// A Group owns two LRU caches, one for pinned and one for regular messages,
// plus its metadata and a counter. Groups are shared through a Handle, which
// the registry owns; anything else holding a Handle is only borrowing it.
package group

import (
	"fmt"
	"iter"
	"math"

	"github.com/daviddao/nadir_viewer/internal/dirty"
	"github.com/daviddao/nadir_viewer/internal/lru"
	"github.com/daviddao/nadir_viewer/internal/model"
)

// DefaultHardMax caps every cache so a misbehaving source cannot grow memory
// without bound.
const DefaultHardMax = 400

// Handle is the lock-guarded cell a Group lives in.
type Handle = dirty.Lock[Group]

type cache = lru.Cache[string, model.Message]

// Group is a capacity-bounded container of messages.
type Group struct {
	meta    model.GroupMeta
	counter uint64
	hardMax int

	msgs   *cache
	pinned *cache
}

// New creates a group. hardMax <= 0 selects DefaultHardMax.
func New(meta model.GroupMeta, hardMax int) (*Group, error) {
	if hardMax <= 0 {
		hardMax = DefaultHardMax
	}
	capacity, pinnedCapacity, err := capacities(meta, hardMax)
	if err != nil {
		return nil, fmt.Errorf("group %q: %w", meta.ID, err)
	}
	msgs, _ := lru.New[string, model.Message](capacity)
	pinned, _ := lru.New[string, model.Message](pinnedCapacity)
	return &Group{
		meta:    meta,
		hardMax: hardMax,
		msgs:    msgs,
		pinned:  pinned,
	}, nil
}

// NewHandle creates a group and wraps it in a fresh Handle.
func NewHandle(meta model.GroupMeta, hardMax int) (*Handle, error) {
	g, err := New(meta, hardMax)
	if err != nil {
		return nil, err
	}
	return dirty.New(*g), nil
}

func capacities(meta model.GroupMeta, hardMax int) (int, int, error) {
	capacity, err := clamp(meta.Capacity, hardMax)
	if err != nil {
		return 0, 0, fmt.Errorf("capacity: %w", err)
	}
	pinned, err := clamp(meta.PinnedCapacity, hardMax)
	if err != nil {
		return 0, 0, fmt.Errorf("pinned capacity: %w", err)
	}
	return capacity, pinned, nil
}

func clamp(n uint32, hardMax int) (int, error) {
	if n == 0 {
		return 0, lru.ErrZeroCapacity
	}
	return min(int(n), hardMax), nil
}

func (g *Group) Meta() model.GroupMeta { return g.meta }
func (g *Group) ID() string            { return g.meta.ID }
func (g *Group) Counter() uint64       { return g.counter }

// Cap returns the effective regular capacity after clamping.
func (g *Group) Cap() int { return g.msgs.Cap() }

// CapPinned returns the effective pinned capacity after clamping.
func (g *Group) CapPinned() int { return g.pinned.Cap() }

func (g *Group) Len() int       { return g.msgs.Len() }
func (g *Group) LenPinned() int { return g.pinned.Len() }

// SetMeta replaces title, importance and capacities. A zero capacity fails
// and leaves the group untouched.
func (g *Group) SetMeta(meta model.GroupMeta) error {
	capacity, pinnedCapacity, err := capacities(meta, g.hardMax)
	if err != nil {
		return fmt.Errorf("group %q: %w", g.meta.ID, err)
	}
	// Both sizes are validated, so neither resize can fail.
	_, _ = g.msgs.Resize(capacity)
	_, _ = g.pinned.Resize(pinnedCapacity)
	g.meta = meta
	return nil
}

func (g *Group) SetCounter(n uint64) { g.counter = n }

// IncCounter adds delta, saturating at 0 and math.MaxUint64.
func (g *Group) IncCounter(delta int64) {
	if delta >= 0 {
		d := uint64(delta)
		if g.counter > math.MaxUint64-d {
			g.counter = math.MaxUint64
			return
		}
		g.counter += d
		return
	}
	// -(delta+1) cannot overflow, even for math.MinInt64.
	d := uint64(-(delta + 1)) + 1
	if g.counter < d {
		g.counter = 0
		return
	}
	g.counter -= d
}

// AddMessage inserts or replaces a regular message.
func (g *Group) AddMessage(m model.Message) { g.msgs.Put(m.ID, m) }

// AddPinnedMessage inserts or replaces a pinned message.
func (g *Group) AddPinnedMessage(m model.Message) { g.pinned.Put(m.ID, m) }

// AddMessages inserts a batch of regular messages. See addBatch.
func (g *Group) AddMessages(msgs []model.Message) { addBatch(g.msgs, msgs) }

// AddPinnedMessages inserts a batch of pinned messages. See addBatch.
func (g *Group) AddPinnedMessages(msgs []model.Message) { addBatch(g.pinned, msgs) }

// addBatch applies a listed batch. When ids repeat, the last listed copy wins.
// The survivors are the last c.Cap() distinct entries, which are inserted in
// reverse list order so the first-listed survivor ends up most recently used.
func addBatch(c *cache, msgs []model.Message) {
	last := make(map[string]int, len(msgs))
	for i, m := range msgs {
		last[m.ID] = i
	}
	winners := make([]model.Message, 0, len(last))
	for i, m := range msgs {
		if last[m.ID] == i {
			winners = append(winners, m)
		}
	}
	if len(winners) > c.Cap() {
		winners = winners[len(winners)-c.Cap():]
	}
	for i := len(winners) - 1; i >= 0; i-- {
		c.Put(winners[i].ID, winners[i])
	}
}

// RemoveMessages deletes regular messages. Absent ids are ignored.
func (g *Group) RemoveMessages(ids []string) int { return removeAll(g.msgs, ids) }

// RemovePinnedMessages deletes pinned messages. Absent ids are ignored.
func (g *Group) RemovePinnedMessages(ids []string) int { return removeAll(g.pinned, ids) }

func removeAll(c *cache, ids []string) int {
	n := 0
	for _, id := range ids {
		if _, ok := c.Remove(id); ok {
			n++
		}
	}
	return n
}

// Messages yields regular messages from least to most recently used.
func (g *Group) Messages() iter.Seq2[string, model.Message] { return g.msgs.All() }

// PinnedMessages yields pinned messages from least to most recently used.
func (g *Group) PinnedMessages() iter.Seq2[string, model.Message] { return g.pinned.All() }

// Recent returns up to n regular messages, most recent first.
func (g *Group) Recent(n int) []model.Message { return recent(g.msgs, n) }

// RecentPinned returns up to n pinned messages, most recent first.
func (g *Group) RecentPinned(n int) []model.Message { return recent(g.pinned, n) }

func recent(c *cache, n int) []model.Message {
	if n <= 0 {
		return nil
	}
	out := make([]model.Message, 0, min(n, c.Len()))
	for _, m := range c.Backward() {
		if len(out) == n {
			break
		}
		out = append(out, m)
	}
	return out
}
