// Package watcher debounces keymap file changes for hot reload. Editors
// save by writing a temporary file and renaming it over the target, so the
// parent directory is watched and the content hash decides whether the
// file really changed.
package watcher

import (
	"crypto/sha256"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"keymapd/internal/logging"
)

// DefaultDebounce is the quiet period after the last write before a change
// event fires.
const DefaultDebounce = 100 * time.Millisecond

// Event is one settled change to the watched file.
type Event struct {
	Path      string
	Hash      [32]byte
	Size      int64
	Timestamp time.Time
}

// Watcher reports settled changes to a single file. A rewrite with
// identical content produces no event.
type Watcher struct {
	path     string
	base     string
	debounce time.Duration
	log      *logging.Logger

	fs     *fsnotify.Watcher
	events chan Event
	errors chan error

	mu       sync.Mutex
	lastHash [32]byte

	done chan struct{}
	wg   sync.WaitGroup
}

// New prepares a watcher for path. Nothing is watched until Start.
func New(path string, debounce time.Duration, logger *logging.Logger) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", path, err)
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Watcher{
		path:     abs,
		base:     filepath.Base(abs),
		debounce: debounce,
		log:      logger.WithComponent("watcher"),
		events:   make(chan Event, 8),
		errors:   make(chan error, 8),
		done:     make(chan struct{}),
	}, nil
}

// Events returns the channel of settled changes.
func (w *Watcher) Events() <-chan Event {
	return w.events
}

// Errors returns the channel of watch errors.
func (w *Watcher) Errors() <-chan error {
	return w.errors
}

// Start begins watching. The parent directory must exist; the file itself
// may appear later.
func (w *Watcher) Start() error {
	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := fs.Add(filepath.Dir(w.path)); err != nil {
		fs.Close()
		return fmt.Errorf("watch %s: %w", filepath.Dir(w.path), err)
	}
	w.fs = fs

	// Prime the hash so startup state does not count as a change.
	if hash, _, err := HashFile(w.path); err == nil {
		w.mu.Lock()
		w.lastHash = hash
		w.mu.Unlock()
	}

	w.wg.Add(1)
	go w.loop()
	return nil
}

// Stop shuts the watcher down and closes the event channels.
func (w *Watcher) Stop() error {
	if w.fs == nil {
		return nil
	}
	close(w.done)
	err := w.fs.Close()
	w.wg.Wait()
	close(w.events)
	close(w.errors)
	return err
}

func (w *Watcher) loop() {
	defer w.wg.Done()

	var timer *time.Timer
	var timerC <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-w.done:
			return

		case event, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != w.base {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			timerC = timer.C

		case <-timerC:
			timerC = nil
			w.check()

		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.sendError(err)
		}
	}
}

// check hashes the settled file and emits an event if the content moved.
func (w *Watcher) check() {
	hash, size, err := HashFile(w.path)
	if err != nil {
		if os.IsNotExist(err) {
			// Mid-rename or deleted; the create that follows retriggers.
			return
		}
		w.sendError(err)
		return
	}

	w.mu.Lock()
	same := hash == w.lastHash
	if !same {
		w.lastHash = hash
	}
	w.mu.Unlock()
	if same {
		w.log.Debug("file touched without change", "path", w.path)
		return
	}

	ev := Event{Path: w.path, Hash: hash, Size: size, Timestamp: time.Now()}
	select {
	case w.events <- ev:
	default:
		w.log.Warn("dropping change event, subscriber is behind", "path", w.path)
	}
}

func (w *Watcher) sendError(err error) {
	select {
	case w.errors <- err:
	default:
	}
}

// HashFile streams a file through SHA-256, returning the digest and size.
func HashFile(path string) ([32]byte, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return [32]byte{}, 0, err
	}
	defer f.Close()

	h := sha256.New()
	size, err := io.Copy(h, f)
	if err != nil {
		return [32]byte{}, 0, err
	}

	var hash [32]byte
	copy(hash[:], h.Sum(nil))
	return hash, size, nil
}
