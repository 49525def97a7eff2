package settings

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// ErrWatcherFailed indicates the filesystem watcher failed to initialize.
var ErrWatcherFailed = errors.New("failed to initialize settings watcher")

// reloadDebounce coalesces the write/rename bursts editors produce.
const reloadDebounce = 50 * time.Millisecond

// Watcher reloads a Store when its file is edited by another process.
type Watcher struct {
	store   *Store
	watcher *fsnotify.Watcher
	stop    chan struct{}
	done    chan struct{}
}

// Watch starts watching the store's file. The parent directory is watched
// so atomic replace-by-rename is observed. Stop releases the watcher.
func Watch(ctx context.Context, store *Store) (*Watcher, error) {
	if store.Path() == "" {
		return nil, fmt.Errorf("%w: store has no backing file", ErrWatcherFailed)
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWatcherFailed, err)
	}
	if err := fw.Add(filepath.Dir(store.Path())); err != nil {
		_ = fw.Close()
		return nil, fmt.Errorf("%w: %v", ErrWatcherFailed, err)
	}

	w := &Watcher{
		store:   store,
		watcher: fw,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go w.processEvents(ctx)
	return w, nil
}

// Stop stops the watcher and waits for its goroutine to exit.
func (w *Watcher) Stop() {
	select {
	case <-w.stop:
	default:
		close(w.stop)
		_ = w.watcher.Close()
	}
	<-w.done
}

func (w *Watcher) processEvents(ctx context.Context) {
	defer close(w.done)

	target := filepath.Clean(w.store.Path())
	var timer *time.Timer
	var fire <-chan time.Time

	for {
		select {
		case <-w.stop:
			return
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) && !event.Has(fsnotify.Remove) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(reloadDebounce)
			} else {
				timer.Reset(reloadDebounce)
			}
			fire = timer.C
		case <-fire:
			fire = nil
			if err := w.store.Reload(); err != nil {
				w.store.logger.Warn(ctx, "settings reload failed", zap.Error(err))
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.store.logger.Warn(ctx, "settings watcher error", zap.Error(err))
		}
	}
}
