package memory

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// dirtyDebounce collapses a burst of writes into one invalidation
const dirtyDebounce = 500 * time.Millisecond

// logWatcher watches the memory directory so facts edited outside the
// process (a text editor on facts.jsonl, a sync tool) still invalidate
// the index.
type logWatcher struct {
	fs     *fsnotify.Watcher
	logger zerolog.Logger
	dirty  *time.Timer
	stopCh chan struct{}
}

func newLogWatcher(logger zerolog.Logger, onDirty func()) (*logWatcher, error) {
	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &logWatcher{
		fs:     fs,
		logger: logger,
		stopCh: make(chan struct{}),
	}

	// One reusable timer, armed by handle. It starts stopped.
	w.dirty = time.AfterFunc(dirtyDebounce, func() {
		logger.Debug().Msg("Marking memory index dirty after fact log change")
		onDirty()
	})
	w.dirty.Stop()

	go w.run()
	return w, nil
}

// Watch adds dir to the watch set
func (w *logWatcher) Watch(dir string) error {
	return w.fs.Add(dir)
}

// Stop halts event processing and releases the notify handle
func (w *logWatcher) Stop() error {
	close(w.stopCh)
	w.dirty.Stop()
	return w.fs.Close()
}

func (w *logWatcher) run() {
	for {
		select {
		case ev, ok := <-w.fs.Events:
			if !ok {
				return
			}
			w.handle(ev)

		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.logger.Error().Err(err).Msg("Memory watcher error")

		case <-w.stopCh:
			return
		}
	}
}

// handle pushes the debounce timer out on any change to a fact log.
// Index and quarantine files churn during sync and are ignored.
func (w *logWatcher) handle(ev fsnotify.Event) {
	if !strings.HasSuffix(strings.ToLower(ev.Name), ".jsonl") {
		return
	}
	if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Remove) {
		return
	}

	w.logger.Debug().
		Str("file", filepath.Base(ev.Name)).
		Str("op", ev.Op.String()).
		Msg("Fact log change detected")

	w.dirty.Reset(dirtyDebounce)
}
