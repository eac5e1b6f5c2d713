package lru

import (
	"errors"
	"math/rand"
	"slices"
	"testing"
)

func newCache(t *testing.T, capacity int) *Cache[string, int] {
	t.Helper()
	c, err := New[string, int](capacity)
	if err != nil {
		t.Fatalf("New(%d): %v", capacity, err)
	}
	return c
}

func TestNewZeroCapacity(t *testing.T) {
	if _, err := New[string, int](0); !errors.Is(err, ErrZeroCapacity) {
		t.Errorf("New(0) error = %v, want ErrZeroCapacity", err)
	}
}

func TestPutEvictsLeastRecentlyUsed(t *testing.T) {
	c := newCache(t, 3)
	var evicted []string
	for i, k := range []string{"a", "b", "c", "d"} {
		if e, ok := c.Put(k, i); ok {
			evicted = append(evicted, e.Key)
		}
	}

	if got, want := c.Keys(), []string{"b", "c", "d"}; !slices.Equal(got, want) {
		t.Errorf("Keys() = %v, want %v", got, want)
	}
	if !slices.Equal(evicted, []string{"a"}) {
		t.Errorf("evicted = %v, want [a]", evicted)
	}
}

func TestPutExistingKeyRefreshesRecency(t *testing.T) {
	c := newCache(t, 3)
	c.Put("a", 1)
	c.Put("b", 2)
	c.Put("c", 3)

	if _, ok := c.Put("a", 10); ok {
		t.Error("replacing an existing key should not evict")
	}
	if c.Len() != 3 {
		t.Errorf("Len() = %d, want 3", c.Len())
	}
	if got, want := c.Keys(), []string{"b", "c", "a"}; !slices.Equal(got, want) {
		t.Errorf("Keys() = %v, want %v", got, want)
	}
	if v, _ := c.Peek("a"); v != 10 {
		t.Errorf("Peek(a) = %d, want 10", v)
	}

	// "b" is now the oldest and must be the one to go.
	e, ok := c.Put("d", 4)
	if !ok || e.Key != "b" || e.Value != 2 {
		t.Errorf("evicted = %+v, %v; want b=2", e, ok)
	}
}

func TestPeekDoesNotTouch(t *testing.T) {
	c := newCache(t, 2)
	c.Put("a", 1)
	c.Put("b", 2)
	c.Peek("a")
	c.Put("c", 3)
	if c.Contains("a") {
		t.Error("Peek should not refresh recency; a should have been evicted")
	}
}

func TestRemove(t *testing.T) {
	c := newCache(t, 2)
	c.Put("a", 1)

	v, ok := c.Remove("a")
	if !ok || v != 1 {
		t.Errorf("Remove(a) = %d, %v; want 1, true", v, ok)
	}
	if _, ok := c.Remove("a"); ok {
		t.Error("second Remove(a) should report not found")
	}
	if c.Len() != 0 {
		t.Errorf("Len() = %d, want 0", c.Len())
	}
}

func TestResizeZeroLeavesCacheUnchanged(t *testing.T) {
	c := newCache(t, 3)
	c.Put("a", 1)
	c.Put("b", 2)

	for i := 0; i < 2; i++ {
		if _, err := c.Resize(0); !errors.Is(err, ErrZeroCapacity) {
			t.Fatalf("Resize(0) error = %v, want ErrZeroCapacity", err)
		}
		if c.Cap() != 3 || c.Len() != 2 {
			t.Fatalf("after Resize(0): cap=%d len=%d, want 3 and 2", c.Cap(), c.Len())
		}
		if got := c.Keys(); !slices.Equal(got, []string{"a", "b"}) {
			t.Fatalf("Keys() = %v, want [a b]", got)
		}
	}
}

func TestResizeShrinkAndGrow(t *testing.T) {
	c := newCache(t, 4)
	for i, k := range []string{"a", "b", "c", "d"} {
		c.Put(k, i)
	}

	evicted, err := c.Resize(2)
	if err != nil {
		t.Fatalf("Resize(2): %v", err)
	}
	var keys []string
	for _, e := range evicted {
		keys = append(keys, e.Key)
	}
	if !slices.Equal(keys, []string{"a", "b"}) {
		t.Errorf("evicted = %v, want [a b]", keys)
	}
	if got := c.Keys(); !slices.Equal(got, []string{"c", "d"}) {
		t.Errorf("Keys() = %v, want [c d]", got)
	}

	evicted, err = c.Resize(10)
	if err != nil || len(evicted) != 0 {
		t.Errorf("Resize(10) = %v, %v; want no evictions", evicted, err)
	}
	if c.Cap() != 10 || c.Len() != 2 {
		t.Errorf("cap=%d len=%d, want 10 and 2", c.Cap(), c.Len())
	}
}

func TestBackwardIsMostRecentFirst(t *testing.T) {
	c := newCache(t, 3)
	c.Put("a", 1)
	c.Put("b", 2)
	c.Put("c", 3)

	var got []string
	for k := range c.Backward() {
		got = append(got, k)
	}
	if !slices.Equal(got, []string{"c", "b", "a"}) {
		t.Errorf("Backward() = %v, want [c b a]", got)
	}

	// Restartable, and stops early when the consumer does.
	got = got[:0]
	for k := range c.Backward() {
		got = append(got, k)
		if len(got) == 2 {
			break
		}
	}
	if !slices.Equal(got, []string{"c", "b"}) {
		t.Errorf("partial Backward() = %v, want [c b]", got)
	}
}

// TestHoldsMostRecentDistinctKeys checks the cache against a reference model
// over random put sequences.
func TestHoldsMostRecentDistinctKeys(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	keys := []string{"a", "b", "c", "d", "e", "f", "g"}

	for round := 0; round < 200; round++ {
		capacity := 1 + rng.Intn(5)
		c := newCache(t, capacity)
		var touched []string // reference: most recent last, distinct

		for step := 0; step < 30; step++ {
			k := keys[rng.Intn(len(keys))]
			c.Put(k, step)
			touched = slices.DeleteFunc(touched, func(s string) bool { return s == k })
			touched = append(touched, k)

			want := touched
			if len(want) > capacity {
				want = want[len(want)-capacity:]
			}
			if got := c.Keys(); !slices.Equal(got, want) {
				t.Fatalf("round %d step %d: Keys() = %v, want %v", round, step, got, want)
			}
			if c.Len() > capacity {
				t.Fatalf("Len() = %d exceeds capacity %d", c.Len(), capacity)
			}
		}
	}
}
