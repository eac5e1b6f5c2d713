// Package pipeline batches mutation commands from sources and applies them to
// the group registry.
//
// The pipeline is Idle until a command arrives, then Draining: it keeps
// collecting while commands arrive within the quiescence window, resetting
// the window each time. When the window passes quietly, when Flush is called,
// or when the batch reaches MaxBatch, the whole batch is applied in arrival
// order under one registry write lock and the pipeline goes back to Idle.
// A burst therefore costs one dirty transition and at most one reorder.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/daviddao/nadir_viewer/internal/group"
	"github.com/daviddao/nadir_viewer/internal/registry"
)

const (
	DefaultWindow    = 10 * time.Millisecond
	DefaultMaxBatch  = 1024
	DefaultQueueSize = 256
)

var (
	// ErrUnknownGroup marks a command whose group is not in the registry.
	ErrUnknownGroup = errors.New("unknown group")

	// ErrClosed is returned by Submit and Flush once Run is shutting down.
	ErrClosed = errors.New("pipeline closed")
)

// Options tunes a Pipeline. Zero values select the defaults.
type Options struct {
	Window    time.Duration
	MaxBatch  int
	QueueSize int

	// HardMax caps group capacities created by PutGroup.
	HardMax int

	// OnFlush is called from the Run goroutine after each applied batch.
	OnFlush func(FlushStats)
}

// FlushStats describes one applied batch.
type FlushStats struct {
	Commands  int
	Applied   int
	Dropped   int
	Reordered bool
	Took      time.Duration
}

// Pipeline applies queued commands to a registry.
type Pipeline struct {
	reg  *registry.Guard
	opts Options
	log  zerolog.Logger

	queue   chan Command
	flushes chan chan struct{}

	mu       sync.RWMutex
	closed   bool
	stopping chan struct{}
	stopOnce sync.Once

	warn       *rate.Limiter
	suppressed int
}

// New creates a pipeline writing into reg.
func New(reg *registry.Guard, log zerolog.Logger, opts Options) *Pipeline {
	if opts.Window <= 0 {
		opts.Window = DefaultWindow
	}
	if opts.MaxBatch <= 0 {
		opts.MaxBatch = DefaultMaxBatch
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	if opts.HardMax <= 0 {
		opts.HardMax = group.DefaultHardMax
	}
	return &Pipeline{
		reg:      reg,
		opts:     opts,
		log:      log.With().Str("component", "pipeline").Logger(),
		queue:    make(chan Command, opts.QueueSize),
		flushes:  make(chan chan struct{}),
		stopping: make(chan struct{}),
		warn:     rate.NewLimiter(rate.Limit(10), 20),
	}
}

// Submit enqueues cmd, blocking while the queue is full. Commands are never
// rejected for content; failures are logged when the batch is applied.
func (p *Pipeline) Submit(ctx context.Context, cmd Command) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrClosed
	}
	select {
	case p.queue <- cmd:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-p.stopping:
		return ErrClosed
	}
}

// Flush applies everything queued so far and waits until it is visible.
func (p *Pipeline) Flush(ctx context.Context) error {
	ack := make(chan struct{})
	select {
	case p.flushes <- ack:
	case <-ctx.Done():
		return ctx.Err()
	case <-p.stopping:
		return ErrClosed
	}
	select {
	case <-ack:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run drives the Idle/Draining state machine until ctx is done. Commands
// already enqueued when ctx ends are still applied before Run returns.
func (p *Pipeline) Run(ctx context.Context) error {
	timer := time.NewTimer(p.opts.Window)
	timer.Stop()
	defer timer.Stop()

	var (
		batch    []Command
		draining bool
	)
	flush := func() {
		p.apply(batch)
		clear(batch)
		batch = batch[:0]
		draining = false
		timer.Stop()
	}

	for {
		var quiet <-chan time.Time
		if draining {
			quiet = timer.C
		}

		select {
		case cmd := <-p.queue:
			batch = append(batch, cmd)
			if len(batch) >= p.opts.MaxBatch {
				flush()
				continue
			}
			draining = true
			timer.Reset(p.opts.Window)

		case <-quiet:
			flush()

		case ack := <-p.flushes:
			batch = p.drain(batch)
			flush()
			close(ack)

		case <-ctx.Done():
			p.shutdown()
			batch = p.drain(batch)
			flush()
			return nil
		}
	}
}

// shutdown stops new submissions and waits for in-flight Submit calls.
func (p *Pipeline) shutdown() {
	p.stopOnce.Do(func() { close(p.stopping) })
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
}

// drain moves every command currently buffered in the queue into batch.
func (p *Pipeline) drain(batch []Command) []Command {
	for {
		select {
		case cmd := <-p.queue:
			batch = append(batch, cmd)
		default:
			return batch
		}
	}
}

func (p *Pipeline) apply(batch []Command) {
	if len(batch) == 0 {
		return
	}
	start := time.Now()
	stats := FlushStats{Commands: len(batch)}

	p.reg.Write(func(r *registry.Registry) {
		for _, cmd := range batch {
			if err := p.applyOne(r, cmd); err != nil {
				stats.Dropped++
				p.dropped(cmd, err)
				continue
			}
			stats.Applied++
		}
		if r.Stale() {
			r.Reorder()
			stats.Reordered = true
		}
	})
	stats.Took = time.Since(start)

	p.log.Debug().
		Int("commands", stats.Commands).
		Int("applied", stats.Applied).
		Int("dropped", stats.Dropped).
		Bool("reordered", stats.Reordered).
		Dur("took", stats.Took).
		Msg("batch applied")

	if p.opts.OnFlush != nil {
		p.opts.OnFlush(stats)
	}
}

func (p *Pipeline) applyOne(r *registry.Registry, cmd Command) error {
	switch c := cmd.(type) {
	case Add:
		return p.withGroup(r, cmd, func(g *group.Group) {
			if c.Pinned {
				g.AddPinnedMessages(c.Items)
			} else {
				g.AddMessages(c.Items)
			}
		})

	case Remove:
		return p.withGroup(r, cmd, func(g *group.Group) {
			if c.Pinned {
				g.RemovePinnedMessages(c.IDs)
			} else {
				g.RemoveMessages(c.IDs)
			}
		})

	case PutGroup:
		h, err := group.NewHandle(c.Meta, p.opts.HardMax)
		if err != nil {
			return err
		}
		if c.InitCount > 0 {
			h.Write(func(g *group.Group) { g.SetCounter(c.InitCount) })
		}
		r.PutDeferred(h)
		return nil

	case UpdateGroup:
		if _, ok := r.Get(c.Meta.ID); !ok {
			return unknown(cmd)
		}
		return r.SetMetaDeferred(c.Meta)

	case RemoveGroup:
		if _, ok := r.Remove(c.Group); !ok {
			return unknown(cmd)
		}
		return nil

	case SetCounter:
		return p.withGroup(r, cmd, func(g *group.Group) { g.SetCounter(c.Counter) })

	case IncCounter:
		return p.withGroup(r, cmd, func(g *group.Group) { g.IncCounter(c.Delta) })
	}
	return fmt.Errorf("unsupported command %T", cmd)
}

func (p *Pipeline) withGroup(r *registry.Registry, cmd Command, fn func(g *group.Group)) error {
	h, ok := r.Get(target(cmd))
	if !ok {
		return unknown(cmd)
	}
	h.Write(fn)
	return nil
}

func unknown(cmd Command) error {
	return fmt.Errorf("%s %q: %w", cmd.Kind(), target(cmd), ErrUnknownGroup)
}

// dropped logs a failed command. Floods of failures are thrown away by the
// limiter and reported as a count on the next warning that gets through.
func (p *Pipeline) dropped(cmd Command, err error) {
	if !p.warn.Allow() {
		p.suppressed++
		return
	}
	p.log.Warn().
		Err(err).
		Str("kind", cmd.Kind()).
		Str("group", target(cmd)).
		Int("suppressed", p.suppressed).
		Msg("command dropped")
	p.suppressed = 0
}
