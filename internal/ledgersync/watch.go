package ledgersync

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const defaultWatchDebounce = 500 * time.Millisecond

type WatcherOptions struct {
	// Path is the ledger file to watch.
	Path string
	// Debounce coalesces bursts of filesystem events into one callback.
	// Zero means defaultWatchDebounce.
	Debounce time.Duration
	// OnChange runs after the debounce window closes.
	OnChange func()
}

// Watcher invokes a callback when a ledger file changes on disk. The parent
// directory is watched rather than the file itself: editors and atomic
// writers replace the file by rename, which would silently detach a direct
// watch.
type Watcher struct {
	path      string
	debounce  time.Duration
	onChange  func()
	fsWatcher *fsnotify.Watcher
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

func NewWatcher(opts WatcherOptions) (*Watcher, error) {
	if opts.Path == "" {
		return nil, fmt.Errorf("%w: watch path is required", ErrInvalidInput)
	}
	if opts.OnChange == nil {
		return nil, fmt.Errorf("%w: watch callback is required", ErrInvalidInput)
	}
	debounce := opts.Debounce
	if debounce <= 0 {
		debounce = defaultWatchDebounce
	}
	absPath, err := filepath.Abs(opts.Path)
	if err != nil {
		return nil, err
	}
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsWatcher.Add(filepath.Dir(absPath)); err != nil {
		_ = fsWatcher.Close()
		return nil, err
	}
	w := &Watcher{
		path:      absPath,
		debounce:  debounce,
		onChange:  opts.OnChange,
		fsWatcher: fsWatcher,
		done:      make(chan struct{}),
	}
	w.wg.Add(1)
	go w.run()
	return w, nil
}

func (w *Watcher) run() {
	defer w.wg.Done()
	var timer *time.Timer
	var fire <-chan time.Time
	for {
		select {
		case <-w.done:
			if timer != nil {
				timer.Stop()
			}
			return
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				fire = timer.C
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(w.debounce)
			}
		case <-fire:
			timer = nil
			fire = nil
			w.onChange()
		case _, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
		}
	}
}

// Close stops the watcher and waits for the event loop to exit. A callback
// in flight completes before Close returns.
func (w *Watcher) Close() error {
	var err error
	w.closeOnce.Do(func() {
		close(w.done)
		err = w.fsWatcher.Close()
		w.wg.Wait()
	})
	return err
}
