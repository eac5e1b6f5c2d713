package pipeline

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"go.uber.org/goleak"

	"github.com/daviddao/nadir_viewer/internal/group"
	"github.com/daviddao/nadir_viewer/internal/model"
	"github.com/daviddao/nadir_viewer/internal/registry"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type harness struct {
	reg     *registry.Guard
	p       *Pipeline
	flushes chan FlushStats
	cancel  context.CancelFunc
	done    chan error
}

func start(t *testing.T, opts Options) *harness {
	t.Helper()
	h := &harness{
		reg:     registry.NewGuard(),
		flushes: make(chan FlushStats, 64),
		done:    make(chan error, 1),
	}
	opts.OnFlush = func(s FlushStats) { h.flushes <- s }
	h.p = New(h.reg, zerolog.Nop(), opts)

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() { h.done <- h.p.Run(ctx) }()
	t.Cleanup(h.stop)
	return h
}

func (h *harness) stop() {
	h.cancel()
	<-h.done
	h.done <- nil // keep stop idempotent
}

func (h *harness) submit(t *testing.T, cmds ...Command) {
	t.Helper()
	for _, cmd := range cmds {
		if err := h.p.Submit(context.Background(), cmd); err != nil {
			t.Fatalf("Submit(%s): %v", cmd.Kind(), err)
		}
	}
}

func (h *harness) flush(t *testing.T) FlushStats {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := h.p.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	select {
	case s := <-h.flushes:
		return s
	default:
		return FlushStats{}
	}
}

func (h *harness) group(t *testing.T, id string) *group.Handle {
	t.Helper()
	var (
		gh *group.Handle
		ok bool
	)
	h.reg.Read(func(r *registry.Registry) { gh, ok = r.Get(id) })
	if !ok {
		t.Fatalf("group %q not found", id)
	}
	return gh
}

func putGroup(id string, importance int32, capacity, pinned uint32) PutGroup {
	return PutGroup{Meta: model.GroupMeta{
		ID: id, Title: id, Importance: importance, Capacity: capacity, PinnedCapacity: pinned,
	}}
}

func msgs(ids ...string) []model.Message {
	out := make([]model.Message, len(ids))
	for i, id := range ids {
		out[i] = model.Message{ID: id, Body: id}
	}
	return out
}

// longWindow keeps the quiescence timer out of the way so tests control
// flushes explicitly.
var longWindow = Options{Window: time.Hour}

func TestBurstAppliesAsOneBatch(t *testing.T) {
	h := start(t, longWindow)

	h.submit(t, putGroup("g", 0, 100, 5))
	for i := 0; i < 49; i++ {
		h.submit(t, Add{Group: "g", Items: msgs(string(rune('a' + i%26)))})
	}
	stats := h.flush(t)

	if stats.Commands != 50 || stats.Applied != 50 || stats.Dropped != 0 {
		t.Errorf("stats = %+v, want 50 applied in one batch", stats)
	}
	select {
	case extra := <-h.flushes:
		t.Errorf("unexpected second flush %+v", extra)
	default:
	}
}

func TestQuiescenceWindowFlushes(t *testing.T) {
	h := start(t, Options{Window: 5 * time.Millisecond})
	h.submit(t, putGroup("g", 0, 1, 1))

	select {
	case s := <-h.flushes:
		if s.Applied != 1 {
			t.Errorf("stats = %+v, want 1 applied", s)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the quiescence flush")
	}
}

func TestMaxBatchForcesFlush(t *testing.T) {
	h := start(t, Options{Window: time.Hour, MaxBatch: 3})
	h.submit(t, putGroup("a", 0, 1, 1), putGroup("b", 0, 1, 1), putGroup("c", 0, 1, 1))

	select {
	case s := <-h.flushes:
		if s.Commands != 3 {
			t.Errorf("stats = %+v, want 3 commands", s)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("MaxBatch did not force a flush")
	}
}

func TestAddScenarioKeepsLastListed(t *testing.T) {
	h := start(t, longWindow)
	h.submit(t,
		putGroup("g", 0, 2, 1),
		Add{Group: "g", Items: msgs("m1", "m2", "m3")},
	)
	h.flush(t)

	var got []string
	h.group(t, "g").Read(func(g *group.Group) {
		for id := range g.Messages() {
			got = append(got, id)
		}
	})
	slices.Sort(got)
	if !slices.Equal(got, []string{"m2", "m3"}) {
		t.Errorf("regular cache = %v, want {m2 m3}", got)
	}
}

func TestPinnedCommands(t *testing.T) {
	h := start(t, longWindow)
	h.submit(t,
		putGroup("g", 0, 2, 2),
		Add{Group: "g", Items: msgs("p1", "p2"), Pinned: true},
		Remove{Group: "g", IDs: []string{"p1"}, Pinned: true},
		Add{Group: "g", Items: msgs("r1")},
		Remove{Group: "g", IDs: []string{"p2"}},
	)
	h.flush(t)

	h.group(t, "g").Read(func(g *group.Group) {
		if g.LenPinned() != 1 || g.Len() != 1 {
			t.Errorf("pinned=%d regular=%d, want 1 and 1", g.LenPinned(), g.Len())
		}
	})
}

func TestUnknownGroupIsDropped(t *testing.T) {
	h := start(t, longWindow)
	h.reg.Consume(func(*registry.Registry) {})

	h.submit(t, SetCounter{Group: "x", Counter: 7})
	stats := h.flush(t)

	if stats.Dropped != 1 || stats.Applied != 0 {
		t.Errorf("stats = %+v, want 1 dropped", stats)
	}
	h.reg.Read(func(r *registry.Registry) {
		if r.Len() != 0 {
			t.Errorf("registry len = %d, want 0", r.Len())
		}
	})
}

func TestCapacityErrorDropsOnlyThatCommand(t *testing.T) {
	h := start(t, longWindow)
	h.submit(t,
		putGroup("bad", 0, 0, 1),
		putGroup("good", 0, 3, 1),
		Add{Group: "good", Items: msgs("a")},
		Add{Group: "bad", Items: msgs("a")},
	)
	stats := h.flush(t)

	if stats.Applied != 2 || stats.Dropped != 2 {
		t.Errorf("stats = %+v, want 2 applied, 2 dropped", stats)
	}
	h.group(t, "good").Read(func(g *group.Group) {
		if g.Len() != 1 {
			t.Errorf("good len = %d, want 1", g.Len())
		}
	})
}

func TestCommandsApplyInArrivalOrder(t *testing.T) {
	h := start(t, longWindow)
	h.submit(t,
		putGroup("g", 0, 5, 1),
		Add{Group: "g", Items: msgs("old")},
		RemoveGroup{Group: "g"},
		putGroup("g", 0, 5, 1),
		Add{Group: "g", Items: msgs("new")},
		SetCounter{Group: "g", Counter: 10},
		IncCounter{Group: "g", Delta: -3},
	)
	h.flush(t)

	h.group(t, "g").Read(func(g *group.Group) {
		recent := g.Recent(5)
		if len(recent) != 1 || recent[0].ID != "new" {
			t.Errorf("messages = %+v, want only new", recent)
		}
		if g.Counter() != 7 {
			t.Errorf("counter = %d, want 7", g.Counter())
		}
	})
}

func TestDirtyOnlyOnTouchedGroups(t *testing.T) {
	h := start(t, longWindow)
	h.submit(t, putGroup("a", 0, 5, 1), putGroup("b", 0, 5, 1))
	h.flush(t)

	a, b := h.group(t, "a"), h.group(t, "b")
	h.reg.Consume(func(*registry.Registry) {})
	a.Consume(func(*group.Group) {})
	b.Consume(func(*group.Group) {})

	h.submit(t, Add{Group: "a", Items: msgs("x")}, Add{Group: "a", Items: msgs("y")})
	stats := h.flush(t)

	if stats.Reordered {
		t.Error("an add-only batch should not reorder")
	}
	if !a.IsDirty() {
		t.Error("touched group should be dirty")
	}
	if b.IsDirty() {
		t.Error("untouched group should stay clean")
	}
	if !h.reg.IsDirty() {
		t.Error("registry should be dirty after a flush")
	}
}

func TestPutGroupReordersOncePerBatch(t *testing.T) {
	h := start(t, longWindow)
	h.submit(t, putGroup("b", 5, 1, 1), putGroup("a", 5, 1, 1), putGroup("c", 9, 1, 1))
	stats := h.flush(t)

	if !stats.Reordered {
		t.Error("PutGroup batch should reorder")
	}
	var ids []string
	h.reg.Read(func(r *registry.Registry) { ids = r.IDs() })
	if !slices.Equal(ids, []string{"c", "a", "b"}) {
		t.Errorf("order = %v, want [c a b]", ids)
	}
}

func TestUpdateGroupKeepsMessages(t *testing.T) {
	h := start(t, longWindow)
	h.submit(t,
		putGroup("a", 0, 5, 1),
		putGroup("b", 1, 5, 1),
		Add{Group: "a", Items: msgs("m")},
	)
	h.flush(t)

	h.submit(t,
		UpdateGroup{Meta: model.GroupMeta{ID: "a", Title: "A", Importance: 2, Capacity: 5, PinnedCapacity: 1}},
		UpdateGroup{Meta: model.GroupMeta{ID: "missing", Capacity: 1, PinnedCapacity: 1}},
	)
	stats := h.flush(t)
	if stats.Applied != 1 || stats.Dropped != 1 {
		t.Errorf("stats = %+v, want 1 applied, 1 dropped", stats)
	}

	var ids []string
	h.reg.Read(func(r *registry.Registry) { ids = r.IDs() })
	if !slices.Equal(ids, []string{"a", "b"}) {
		t.Errorf("order = %v, want [a b]", ids)
	}
	h.group(t, "a").Read(func(g *group.Group) {
		if g.Len() != 1 || g.Meta().Title != "A" {
			t.Errorf("len=%d title=%q, want 1 and A", g.Len(), g.Meta().Title)
		}
	})
}

func TestShutdownAppliesQueuedCommands(t *testing.T) {
	h := start(t, longWindow)
	h.submit(t, putGroup("g", 0, 1, 1), Add{Group: "g", Items: msgs("m")})
	h.stop()

	h.reg.Read(func(r *registry.Registry) {
		if r.Len() != 1 {
			t.Errorf("registry len = %d, want 1", r.Len())
		}
	})
	if err := h.p.Submit(context.Background(), RemoveGroup{Group: "g"}); !errors.Is(err, ErrClosed) {
		t.Errorf("Submit after shutdown = %v, want ErrClosed", err)
	}
	if err := h.p.Flush(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("Flush after shutdown = %v, want ErrClosed", err)
	}
}

func TestSubmitHonoursContext(t *testing.T) {
	p := New(registry.NewGuard(), zerolog.Nop(), Options{QueueSize: 1})
	ctx, cancel := context.WithCancel(context.Background())
	if err := p.Submit(ctx, RemoveGroup{Group: "a"}); err != nil {
		t.Fatalf("first Submit: %v", err)
	}
	cancel()
	if err := p.Submit(ctx, RemoveGroup{Group: "b"}); !errors.Is(err, context.Canceled) {
		t.Errorf("Submit on full queue = %v, want context.Canceled", err)
	}
}

func TestPumpForwardsUntilClosed(t *testing.T) {
	h := start(t, longWindow)
	ch := make(chan Command, 2)
	ch <- putGroup("g", 0, 1, 1)
	ch <- SetCounter{Group: "g", Counter: 3}
	close(ch)

	if err := Pump(context.Background(), ChanSource(ch), h.p); err != nil {
		t.Fatalf("Pump: %v", err)
	}
	h.flush(t)
	h.group(t, "g").Read(func(g *group.Group) {
		if g.Counter() != 3 {
			t.Errorf("counter = %d, want 3", g.Counter())
		}
	})
}

type failingSource struct{ err error }

func (f failingSource) Next(context.Context) (Command, error) { return nil, f.err }

func TestPumpReturnsSourceError(t *testing.T) {
	boom := errors.New("boom")
	err := Pump(context.Background(), failingSource{err: boom}, New(registry.NewGuard(), zerolog.Nop(), Options{}))
	if !errors.Is(err, boom) {
		t.Errorf("Pump error = %v, want boom", err)
	}
}
