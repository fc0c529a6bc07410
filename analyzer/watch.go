package analyzer

import (
	"os"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"

	"github.com/buildforge/engine/digest"
)

// Watcher implements the spec §4.3 "optional proactive mode": when the host
// watcher component reports file-system events, the cache entry for a file
// whose content changed is invalidated eagerly. The analyzer still runs the
// tier-one metadata check for every source on the next build; the watcher
// does not bypass it. The
// host watcher itself is an external collaborator; this is the in-process
// fsnotify-backed implementation that satisfies its interface for local
// development.
type Watcher struct {
	fsw   *fsnotify.Watcher
	store *Store
	log   logrus.FieldLogger

	// known maps a watched path to the content digest last recorded for it,
	// so a write event can be resolved to the cache entry to invalidate
	// without re-reading the file from inside the event loop.
	known map[string]digest.Digest
}

// NewWatcher creates a Watcher bound to store; call Add for every source
// path the analyzer should watch proactively, then Run in a goroutine.
func NewWatcher(store *Store, log logrus.FieldLogger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Watcher{fsw: fsw, store: store, log: log, known: make(map[string]digest.Digest)}, nil
}

// Add registers path for watching, associating it with the digest last
// computed for its content so later invalidation can target the right entry.
func (w *Watcher) Add(path string, current digest.Digest) error {
	w.known[path] = current
	return w.fsw.Add(path)
}

// Close stops the underlying fsnotify watcher.
func (w *Watcher) Close() error { return w.fsw.Close() }

// Run drains file-system events until done is closed, invalidating the
// analysis cache entry for any path whose content actually changed. A
// metadata-only touch (mtime bump, no content change) is absorbed here too,
// same as the passive two-tier check, so a proactive watch never causes
// more re-analysis than the passive path would.
func (w *Watcher) Run(done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			w.handleEvent(ev.Name)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.WithError(err).Warn("analyzer: watch error")
		}
	}
}

func (w *Watcher) handleEvent(path string) {
	prevDigest, tracked := w.known[path]
	if !tracked {
		return
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return
	}
	newDigest := digest.FromBytes(content)
	if newDigest.Equal(prevDigest) {
		return // touch without content change; nothing to invalidate
	}
	w.known[path] = newDigest
	if err := w.store.Invalidate(prevDigest); err != nil {
		w.log.WithError(err).WithField("path", path).Warn("analyzer: failed to invalidate entry")
	}
}
