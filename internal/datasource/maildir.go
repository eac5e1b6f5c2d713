package datasource

import (
	"cmp"
	"context"
	"fmt"
	"io"
	"mime"
	"net/mail"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/daviddao/nadir_viewer/internal/model"
	"github.com/daviddao/nadir_viewer/internal/pipeline"
)

// maxSenderRunes bounds the sender tag.
const maxSenderRunes = 16

// MaildirOptions describes the group an inbox is shown in.
type MaildirOptions struct {
	// Path is the maildir root holding new/, cur/ and tmp/.
	Path string

	Group      string
	Title      string
	Importance int32

	Capacity       uint32
	PinnedCapacity uint32
}

// Maildir shows the unread mail of a maildir: one message per file in new/,
// tagged with the sender and showing the subject.
type Maildir struct {
	dir     string
	meta    model.GroupMeta
	changes <-chan struct{}
	closer  io.Closer
	log     zerolog.Logger

	known   map[string]struct{}
	pending []pipeline.Command
	synced  bool
}

// NewMaildir starts watching the inbox at opts.Path.
func NewMaildir(opts MaildirOptions, log zerolog.Logger) (*Maildir, error) {
	dir := filepath.Join(opts.Path, "new")
	log = log.With().Str("component", "maildir").Str("path", opts.Path).Logger()
	w, err := newWatcher(dir, nil, fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename, log)
	if err != nil {
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}
	m := newMaildir(dir, w.Changes(), opts, log)
	m.closer = w
	return m, nil
}

func newMaildir(dir string, changes <-chan struct{}, opts MaildirOptions, log zerolog.Logger) *Maildir {
	if opts.Group == "" {
		opts.Group = "maildir"
	}
	if opts.Title == "" {
		opts.Title = "Mail"
	}
	meta := model.NewGroupMeta(opts.Group, opts.Title)
	meta.Importance = opts.Importance
	if opts.Capacity > 0 {
		meta.Capacity = opts.Capacity
	}
	if opts.PinnedCapacity > 0 {
		meta.PinnedCapacity = opts.PinnedCapacity
	}
	return &Maildir{
		dir:     dir,
		meta:    meta,
		changes: changes,
		log:     log,
		known:   make(map[string]struct{}),
	}
}

// Next returns the next change to the inbox. The first call creates the
// group and lists the current mail.
func (m *Maildir) Next(ctx context.Context) (pipeline.Command, error) {
	for len(m.pending) == 0 {
		if !m.synced {
			m.pending = append(m.pending, pipeline.PutGroup{Meta: m.meta})
		} else {
			select {
			case _, ok := <-m.changes:
				if !ok {
					return nil, io.EOF
				}
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		m.synced = true
		cmds, err := m.scan()
		if err != nil {
			m.log.Warn().Err(err).Msg("scan failed")
		}
		m.pending = append(m.pending, cmds...)
	}
	cmd := m.pending[0]
	m.pending[0] = nil
	m.pending = m.pending[1:]
	return cmd, nil
}

func (m *Maildir) Close() error {
	if m.closer == nil {
		return nil
	}
	return m.closer.Close()
}

// scan diffs new/ against what was sent before.
func (m *Maildir) scan() ([]pipeline.Command, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return nil, err
	}

	present := make(map[string]struct{}, len(entries))
	var added []model.Message
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		id := mailID(e.Name())
		present[id] = struct{}{}
		if _, ok := m.known[id]; ok {
			continue
		}
		msg, err := readMail(filepath.Join(m.dir, e.Name()), id)
		if err != nil {
			// Possibly still being delivered; a later write retries.
			m.log.Debug().Err(err).Str("file", e.Name()).Msg("skipping mail")
			delete(present, id)
			continue
		}
		m.known[id] = struct{}{}
		added = append(added, msg)
	}

	var gone []string
	for id := range m.known {
		if _, ok := present[id]; !ok {
			gone = append(gone, id)
		}
	}
	slices.Sort(gone)
	for _, id := range gone {
		delete(m.known, id)
	}

	var cmds []pipeline.Command
	if len(gone) > 0 {
		cmds = append(cmds, pipeline.Remove{Group: m.meta.ID, IDs: gone})
	}
	if len(added) > 0 {
		// Newest first so the newest ends up most recent.
		slices.SortStableFunc(added, func(a, b model.Message) int {
			return cmp.Compare(mailTime(b).UnixNano(), mailTime(a).UnixNano())
		})
		cmds = append(cmds, pipeline.Add{Group: m.meta.ID, Items: keepNewest(added, m.meta.Capacity)})
	}
	return cmds, nil
}

// mailID strips the maildir info suffix, which changes as flags change.
func mailID(name string) string {
	id, _, _ := strings.Cut(name, ":")
	return id
}

func mailTime(m model.Message) time.Time {
	if m.Time == nil {
		return time.Time{}
	}
	return *m.Time
}

// keepNewest trims a newest-first batch to capacity. An Add that overflows
// the group keeps its last-listed items, which here are the oldest.
func keepNewest(items []model.Message, capacity uint32) []model.Message {
	if capacity > 0 && len(items) > int(capacity) {
		return items[:capacity]
	}
	return items
}

func readMail(path, id string) (model.Message, error) {
	f, err := os.Open(path)
	if err != nil {
		return model.Message{}, err
	}
	defer f.Close()

	msg, err := mail.ReadMessage(f)
	if err != nil {
		return model.Message{}, err
	}

	dec := new(mime.WordDecoder)
	subject, err := dec.DecodeHeader(msg.Header.Get("Subject"))
	if err != nil || subject == "" {
		subject = "No Subject"
	}

	out := model.Message{ID: id, Body: subject}
	if from := sender(msg.Header.Get("From")); from != "" {
		out.Tags = []string{from}
	}
	if t, err := msg.Header.Date(); err == nil {
		out.Time = &t
	}
	return out, nil
}

func sender(raw string) string {
	if raw == "" {
		return ""
	}
	name := raw
	if addr, err := mail.ParseAddress(raw); err == nil {
		name = addr.Name
		if name == "" {
			name = addr.Address
		}
	}
	r := []rune(name)
	if len(r) > maxSenderRunes {
		r = r[:maxSenderRunes]
	}
	return string(r)
}
