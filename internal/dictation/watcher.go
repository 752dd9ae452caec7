package dictation

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"lcars-os/internal/domain"
	"lcars-os/internal/logging"
)

const defaultDebounce = 50 * time.Millisecond

// Watcher turns result-file changes in the data dir into DictationUpdates.
type Watcher struct {
	mu       sync.Mutex
	dir      string
	fsw      *fsnotify.Watcher
	emit     func(domain.DictationUpdate)
	logger   zerolog.Logger
	debounce time.Duration
	pending  map[string]time.Time
	last     map[string]string
	running  bool
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewWatcher creates a watcher over dir that calls emit for every settled
// change.
func NewWatcher(dir string, emit func(domain.DictationUpdate)) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		dir:      dir,
		fsw:      fsw,
		emit:     emit,
		logger:   logging.WithComponent("dictation-watcher"),
		debounce: defaultDebounce,
		pending:  make(map[string]time.Time),
		last:     make(map[string]string),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}, nil
}

// Start begins watching. It is non-blocking.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return nil
	}

	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	if err := w.fsw.Add(w.dir); err != nil {
		return fmt.Errorf("watch %s: %w", w.dir, err)
	}
	w.logger.Debug().Str("dir", w.dir).Msg("Watching dictation results")

	// running is only set once the loop exists to close doneCh.
	w.running = true
	go w.run(ctx)
	return nil
}

// Stop stops the watcher and waits for its loop to exit.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		_ = w.fsw.Close()
		return
	}
	w.running = false
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh
	if err := w.fsw.Close(); err != nil {
		w.logger.Warn().Err(err).Msg("Close watcher")
	}
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.doneCh)

	ticker := time.NewTicker(w.debounce / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn().Err(err).Msg("Watcher error")
		case <-ticker.C:
			w.flush(time.Now())
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if _, _, ok := ParseSessionFile(event.Name); !ok {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	switch {
	case event.Has(fsnotify.Create), event.Has(fsnotify.Write):
		w.pending[event.Name] = time.Now()
	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		delete(w.pending, event.Name)
		delete(w.last, event.Name)
	}
}

// flush emits updates for files that have been quiet for the debounce period.
func (w *Watcher) flush(now time.Time) {
	var ready []string
	w.mu.Lock()
	for name, seen := range w.pending {
		if now.Sub(seen) >= w.debounce {
			ready = append(ready, name)
			delete(w.pending, name)
		}
	}
	w.mu.Unlock()

	for _, name := range ready {
		update, ok := w.read(name)
		if !ok {
			continue
		}

		w.mu.Lock()
		prev, seen := w.last[name]
		w.last[name] = update.Text
		w.mu.Unlock()
		if seen && prev == update.Text {
			continue
		}
		w.emit(update)
	}
}

func (w *Watcher) read(name string) (domain.DictationUpdate, bool) {
	sessionID, file, ok := ParseSessionFile(name)
	if !ok {
		return domain.DictationUpdate{}, false
	}

	text, err := readTrimmed(name)
	if errors.Is(err, os.ErrNotExist) {
		return domain.DictationUpdate{}, false
	}
	if err != nil {
		w.logger.Debug().Err(err).Str("file", name).Msg("Read result file")
		return domain.DictationUpdate{}, false
	}

	update := domain.DictationUpdate{SessionID: sessionID, Text: text}
	switch file {
	case "":
		update.Kind = domain.DictationUpdateFinal
	case partialSuffix:
		update.Kind = domain.DictationUpdatePartial
	case errSuffix:
		update.Kind = domain.DictationUpdateError
	case stopSuffix:
		update.Kind = domain.DictationUpdateStopped
		update.Text = ""
	default:
		return domain.DictationUpdate{}, false
	}
	return update, true
}
