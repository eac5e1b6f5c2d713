package datasource

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// DefaultDebounce is how long a watcher waits for writes to settle.
const DefaultDebounce = 100 * time.Millisecond

// Watcher signals changes to files in one directory. Bursts of events
// collapse into a single signal once the directory has been quiet for the
// debounce interval.
type Watcher struct {
	watcher  *fsnotify.Watcher
	match    func(name string) bool
	ops      fsnotify.Op
	debounce time.Duration
	log      zerolog.Logger

	onChange chan struct{}
	done     chan struct{}
	wg       sync.WaitGroup
	once     sync.Once
}

// NewWatcher watches dir for writes and creates of files whose base name
// satisfies match. A nil match accepts every file.
func NewWatcher(dir string, match func(name string) bool, log zerolog.Logger) (*Watcher, error) {
	return newWatcher(dir, match, fsnotify.Write|fsnotify.Create, log)
}

func newWatcher(dir string, match func(string) bool, ops fsnotify.Op, log zerolog.Logger) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(dir); err != nil {
		w.Close()
		return nil, err
	}
	if match == nil {
		match = func(string) bool { return true }
	}

	watcher := &Watcher{
		watcher:  w,
		match:    match,
		ops:      ops,
		debounce: DefaultDebounce,
		log:      log,
		onChange: make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	watcher.wg.Add(1)
	go watcher.loop()
	return watcher, nil
}

// NewDBWatcher watches a SQLite database file together with its WAL and
// shared-memory files. It watches the parent directory to catch WAL
// checkpoint writes.
func NewDBWatcher(dbPath string, log zerolog.Logger) (*Watcher, error) {
	base := filepath.Base(dbPath)
	return NewWatcher(filepath.Dir(dbPath), func(name string) bool {
		return name == base || name == base+"-wal" || name == base+"-shm"
	}, log)
}

// Changes receives a signal after each settled burst of changes.
func (w *Watcher) Changes() <-chan struct{} {
	return w.onChange
}

// Close stops the watcher. Pending signals are discarded.
func (w *Watcher) Close() error {
	var err error
	w.once.Do(func() {
		close(w.done)
		err = w.watcher.Close()
		w.wg.Wait()
	})
	return err
}

func (w *Watcher) loop() {
	defer w.wg.Done()

	timer := time.NewTimer(w.debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&w.ops == 0 || !w.match(filepath.Base(event.Name)) {
				continue
			}
			timer.Reset(w.debounce)
		case <-timer.C:
			select {
			case w.onChange <- struct{}{}:
			default: // already signaled
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Warn().Err(err).Msg("watch error")
		}
	}
}
