package datasource

import (
	"context"
	"fmt"
	"io"
	"slices"
	"time"

	"github.com/daviddao/clockmail/pkg/model"
	"github.com/daviddao/clockmail/pkg/store"
	"github.com/rs/zerolog"

	nmodel "github.com/daviddao/nadir_viewer/internal/model"
	"github.com/daviddao/nadir_viewer/internal/pipeline"
)

// ClockmailGroupPrefix namespaces the groups mirrored from clockmail.
const ClockmailGroupPrefix = "clockmail/"

// fetchLimit bounds a single event query.
const fetchLimit = 500

const (
	defaultStaleAfter = 10 * time.Minute
	defaultResync     = 30 * time.Second
)

// ClockmailOptions tunes the mirror.
type ClockmailOptions struct {
	// DB is the database path; empty means Discover.
	DB string

	// EventLimit is how many of the newest events are shown on start.
	EventLimit int

	Capacity       uint32
	PinnedCapacity uint32

	// StaleAfter demotes agents not seen for this long.
	StaleAfter time.Duration

	// Resync re-reads the database this often even without file changes,
	// so agents go stale on time.
	Resync time.Duration
}

// clockmailReader is the part of the store the mirror reads.
type clockmailReader interface {
	ListAgents() ([]model.Agent, error)
	MaxEventID() int64
	EventsSince(id int64) ([]model.Event, error)
	ListLocks() ([]model.Lock, error)
}

type storeReader struct{ *store.Store }

func (r storeReader) EventsSince(id int64) ([]model.Event, error) {
	return r.ListEventsSinceID(id, fetchLimit)
}

// Clockmail mirrors a clockmail coordination database. Every agent becomes
// a group, its events become messages and the locks it holds become pinned
// messages.
type Clockmail struct {
	db      clockmailReader
	changes <-chan struct{}
	closers []io.Closer
	log     zerolog.Logger
	opts    ClockmailOptions
	now     func() time.Time

	mirror  *mirror
	pending []pipeline.Command
	synced  bool
}

// NewClockmail opens the database and starts watching it.
func NewClockmail(opts ClockmailOptions, log zerolog.Logger) (*Clockmail, error) {
	s, path, err := openStore(opts.DB)
	if err != nil {
		return nil, err
	}
	log = log.With().Str("component", "clockmail").Str("db", path).Logger()
	w, err := NewDBWatcher(path, log)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("watch %s: %w", path, err)
	}
	c := newClockmail(storeReader{s}, w.Changes(), opts, log)
	c.closers = []io.Closer{w, s}
	return c, nil
}

func newClockmail(db clockmailReader, changes <-chan struct{}, opts ClockmailOptions, log zerolog.Logger) *Clockmail {
	if opts.EventLimit <= 0 {
		opts.EventLimit = fetchLimit
	}
	if opts.Capacity == 0 {
		opts.Capacity = nmodel.DefaultCapacity
	}
	if opts.PinnedCapacity == 0 {
		opts.PinnedCapacity = nmodel.DefaultPinnedCapacity
	}
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = defaultStaleAfter
	}
	if opts.Resync <= 0 {
		opts.Resync = defaultResync
	}
	return &Clockmail{
		db:      db,
		changes: changes,
		log:     log,
		opts:    opts,
		now:     time.Now,
		mirror:  newMirror(opts),
	}
}

// Next returns the next mirrored change, syncing with the database when
// nothing is pending. The first call syncs right away.
func (c *Clockmail) Next(ctx context.Context) (pipeline.Command, error) {
	var resync *time.Timer
	defer func() {
		if resync != nil {
			resync.Stop()
		}
	}()
	for len(c.pending) == 0 {
		if c.synced {
			if resync == nil {
				resync = time.NewTimer(c.opts.Resync)
			}
			select {
			case _, ok := <-c.changes:
				if !ok {
					return nil, io.EOF
				}
			case <-resync.C:
				resync.Reset(c.opts.Resync)
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		c.synced = true
		cmds, err := c.sync()
		if err != nil {
			// Keep the mirror alive; the next change retries.
			c.log.Warn().Err(err).Msg("sync failed")
			continue
		}
		c.pending = cmds
	}
	cmd := c.pending[0]
	c.pending[0] = nil
	c.pending = c.pending[1:]
	return cmd, nil
}

// Close stops watching and closes the database.
func (c *Clockmail) Close() error {
	var first error
	for _, cl := range c.closers {
		if err := cl.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (c *Clockmail) sync() ([]pipeline.Command, error) {
	agents, err := c.db.ListAgents()
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}

	since := c.mirror.lastEventID
	if floor := c.db.MaxEventID() - int64(c.opts.EventLimit); since < floor {
		since = floor
	}
	var events []model.Event
	for {
		batch, err := c.db.EventsSince(since)
		if err != nil {
			return nil, fmt.Errorf("list events: %w", err)
		}
		events = append(events, batch...)
		if len(batch) < fetchLimit {
			break
		}
		since = batch[len(batch)-1].ID
	}

	locks, err := c.db.ListLocks()
	if err != nil {
		return nil, fmt.Errorf("list locks: %w", err)
	}

	cmds := c.mirror.apply(agents, events, locks, c.now())
	if len(cmds) > 0 {
		c.log.Debug().
			Int("agents", len(agents)).
			Int("events", len(events)).
			Int("locks", len(locks)).
			Int("commands", len(cmds)).
			Msg("synced")
	}
	return cmds, nil
}

// mirror remembers what has been sent so each sync emits only differences.
type mirror struct {
	opts        ClockmailOptions
	agents      map[string]int32               // group id -> importance
	counts      map[string]map[string]uint64   // group id -> message id -> events seen
	locks       map[string]map[string]struct{} // group id -> locked paths
	lastEventID int64
}

func newMirror(opts ClockmailOptions) *mirror {
	return &mirror{
		opts:   opts,
		agents: make(map[string]int32),
		counts: make(map[string]map[string]uint64),
		locks:  make(map[string]map[string]struct{}),
	}
}

func groupID(agent string) string { return ClockmailGroupPrefix + agent }

func (m *mirror) meta(agent string, importance int32) nmodel.GroupMeta {
	return nmodel.GroupMeta{
		ID:             groupID(agent),
		Title:          agent,
		Importance:     importance,
		Capacity:       m.opts.Capacity,
		PinnedCapacity: m.opts.PinnedCapacity,
	}
}

// apply turns the current database state into commands. Order: new and
// updated groups, messages, pinned locks, counters, removed groups.
func (m *mirror) apply(agents []model.Agent, events []model.Event, locks []model.Lock, now time.Time) []pipeline.Command {
	var (
		groups   []pipeline.Command
		content  []pipeline.Command
		counters []pipeline.Command
		removed  []pipeline.Command
	)

	live := make(map[string]bool, len(agents))
	ensure := func(agent string, importance int32) {
		id := groupID(agent)
		live[id] = true
		old, ok := m.agents[id]
		switch {
		case !ok:
			groups = append(groups, pipeline.PutGroup{Meta: m.meta(agent, importance)})
		case old != importance:
			groups = append(groups, pipeline.UpdateGroup{Meta: m.meta(agent, importance)})
		default:
			return
		}
		m.agents[id] = importance
	}
	for _, ag := range agents {
		importance := int32(1)
		if now.Sub(ag.LastSeen) > m.opts.StaleAfter {
			importance = 0
		}
		ensure(ag.ID, importance)
	}

	// Events, newest first per agent so the latest ends up most recent.
	perAgent := make(map[string][]model.Event)
	var order []string
	for _, e := range events {
		if e.ID <= m.lastEventID {
			continue
		}
		m.lastEventID = e.ID
		if _, ok := perAgent[e.AgentID]; !ok {
			order = append(order, e.AgentID)
		}
		perAgent[e.AgentID] = append(perAgent[e.AgentID], e)
	}
	for _, agent := range order {
		if id := groupID(agent); !live[id] {
			// Events from an agent missing from the agent table.
			if _, ok := m.agents[id]; !ok {
				ensure(agent, 0)
			}
			live[id] = true
		}
		evs := perAgent[agent]
		content = append(content, m.addEvents(agent, evs))
		counters = append(counters, pipeline.IncCounter{Group: groupID(agent), Delta: int64(len(evs))})
	}

	content = append(content, m.diffLocks(locks, live, ensure)...)

	var gone []string
	for id := range m.agents {
		if !live[id] {
			gone = append(gone, id)
		}
	}
	slices.Sort(gone)
	for _, id := range gone {
		delete(m.agents, id)
		delete(m.counts, id)
		delete(m.locks, id)
		removed = append(removed, pipeline.RemoveGroup{Group: id})
	}

	out := make([]pipeline.Command, 0, len(groups)+len(content)+len(counters)+len(removed))
	out = append(out, groups...)
	out = append(out, content...)
	out = append(out, counters...)
	return append(out, removed...)
}

func (m *mirror) addEvents(agent string, evs []model.Event) pipeline.Command {
	id := groupID(agent)
	counts := m.counts[id]
	if counts == nil {
		counts = make(map[string]uint64)
		m.counts[id] = counts
	}
	for _, e := range evs {
		counts[eventMessageID(e)]++
	}

	items := make([]nmodel.Message, 0, len(evs))
	seen := make(map[string]bool, len(evs))
	for i := len(evs) - 1; i >= 0; i-- {
		msg := eventMessage(evs[i])
		if seen[msg.ID] {
			continue
		}
		seen[msg.ID] = true
		n := counts[msg.ID]
		msg.Counter = &n
		items = append(items, msg)
	}
	return pipeline.Add{Group: id, Items: keepNewest(items, m.opts.Capacity)}
}

func (m *mirror) diffLocks(locks []model.Lock, live map[string]bool, ensure func(string, int32)) []pipeline.Command {
	held := make(map[string]map[string]model.Lock)
	var owners []string
	for _, l := range locks {
		id := groupID(l.AgentID)
		if !live[id] {
			ensure(l.AgentID, 0)
		}
		if held[id] == nil {
			held[id] = make(map[string]model.Lock)
			owners = append(owners, id)
		}
		held[id][l.Path] = l
	}

	var out []pipeline.Command
	for _, id := range owners {
		prev := m.locks[id]
		if prev == nil {
			prev = make(map[string]struct{})
			m.locks[id] = prev
		}
		var added []nmodel.Message
		for _, path := range sortedKeys(held[id]) {
			if _, ok := prev[path]; ok {
				continue
			}
			prev[path] = struct{}{}
			added = append(added, lockMessage(held[id][path]))
		}
		if len(added) > 0 {
			out = append(out, pipeline.Add{Group: id, Items: added, Pinned: true})
		}
	}
	for _, id := range sortedKeys(m.locks) {
		var released []string
		for _, path := range sortedKeys(m.locks[id]) {
			if _, ok := held[id][path]; !ok {
				released = append(released, path)
				delete(m.locks[id], path)
			}
		}
		if len(released) > 0 && live[id] {
			out = append(out, pipeline.Remove{Group: id, IDs: released, Pinned: true})
		}
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// eventMessageID groups events that replace each other on screen: all
// messages to the same target, all lock traffic on the same path, and all
// progress reports.
func eventMessageID(e model.Event) string {
	switch e.Kind {
	case model.EventMsg:
		return "msg:" + e.Target
	case model.EventLockReq, model.EventLockRel:
		return "lock:" + e.Target
	case model.EventProgress:
		return "progress"
	}
	return string(e.Kind) + ":" + e.Target
}

func eventMessage(e model.Event) nmodel.Message {
	tags := []string{string(e.Kind)}
	body := e.Body
	switch e.Kind {
	case model.EventMsg:
		tags = append(tags, "→"+e.Target)
	case model.EventLockReq, model.EventLockRel:
		if body == "" {
			body = e.Target
		}
	case model.EventProgress:
		if body == "" {
			body = fmt.Sprintf("epoch %d round %d", e.Epoch, e.Round)
		}
	}
	t := e.CreatedAt
	return nmodel.Message{
		ID:   eventMessageID(e),
		Tags: append(tags, fmt.Sprintf("L:%d", e.LamportTS)),
		Body: body,
		Time: &t,
	}
}

func lockMessage(l model.Lock) nmodel.Message {
	tags := []string{"lock"}
	if l.Exclusive {
		tags = append(tags, "excl")
	}
	return nmodel.Message{
		ID:   l.Path,
		Tags: append(tags, fmt.Sprintf("L:%d", l.LamportTS)),
		Body: l.Path,
	}
}
