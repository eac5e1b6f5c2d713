package datasource

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/daviddao/nadir_viewer/internal/model"
	"github.com/daviddao/nadir_viewer/internal/pipeline"
)

// demoSlots is how many distinct message ids each demo group cycles through.
const demoSlots = 24

// DemoOptions tunes the generator.
type DemoOptions struct {
	Groups int

	// Rate is messages per second; zero or less sends as fast as asked.
	Rate float64
}

// Demo generates a steady stream of messages over a few groups. Message ids
// repeat, so older messages get replaced and the counters keep moving.
type Demo struct {
	groups  []model.GroupMeta
	limiter *rate.Limiter
	now     func() time.Time

	next int // groups announced so far
	i    uint64
	seq  uint64
}

func NewDemo(opts DemoOptions) *Demo {
	n := max(opts.Groups, 1)
	groups := make([]model.GroupMeta, n)
	for k := range groups {
		meta := model.NewGroupMeta(fmt.Sprintf("demo-%d", k), fmt.Sprintf("Demo %d", k+1))
		meta.Importance = int32(n - k)
		groups[k] = meta
	}
	limit := rate.Inf
	if opts.Rate > 0 {
		limit = rate.Limit(opts.Rate)
	}
	return &Demo{
		groups:  groups,
		limiter: rate.NewLimiter(limit, 1),
		now:     time.Now,
		i:       1,
	}
}

// Next announces the groups, then paces out one command per token.
func (d *Demo) Next(ctx context.Context) (pipeline.Command, error) {
	if d.next < len(d.groups) {
		meta := d.groups[d.next]
		d.next++
		return pipeline.PutGroup{Meta: meta}, nil
	}
	if err := d.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	d.seq++
	g := d.groups[d.seq%uint64(len(d.groups))].ID
	if d.seq%7 == 0 {
		return pipeline.IncCounter{Group: g, Delta: 1}, nil
	}

	slot := d.i % demoSlots
	now := d.now()
	cmd := pipeline.Add{Group: g, Items: []model.Message{{
		ID:   fmt.Sprintf("demo%d", slot),
		Tags: []string{fmt.Sprintf("foo%d", slot)},
		Body: fmt.Sprintf("%d", d.i),
		Time: &now,
	}}}
	if d.seq%5 == 0 {
		cmd.Pinned = true
	}
	// Scrambles the slot sequence.
	d.i += d.i<<17 + d.i>>13
	return cmd, nil
}
