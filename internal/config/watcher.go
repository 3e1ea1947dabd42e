package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/dooshek/keymon/internal/logger"
)

const defaultDebounce = 100 * time.Millisecond

// Watcher calls onChange after files it watches settle. Files are watched
// through their parent directory so editors that replace the file are seen;
// directories match any file inside them.
type Watcher struct {
	files    map[string]bool
	dirs     map[string]bool
	debounce time.Duration
	onChange func(path string)

	watcher *fsnotify.Watcher
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}

	mu    sync.Mutex
	timer *time.Timer
}

func NewWatcher(files, dirs []string, onChange func(path string)) *Watcher {
	ctx, cancel := context.WithCancel(context.Background())
	w := &Watcher{
		files:    make(map[string]bool),
		dirs:     make(map[string]bool),
		debounce: defaultDebounce,
		onChange: onChange,
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	for _, f := range files {
		w.files[filepath.Clean(f)] = true
	}
	for _, d := range dirs {
		w.dirs[filepath.Clean(d)] = true
	}
	return w
}

// SetDebounce changes the settle delay. Call before Start.
func (w *Watcher) SetDebounce(d time.Duration) {
	w.debounce = d
}

// Start begins watching. Directories that do not exist are skipped.
func (w *Watcher) Start() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	w.watcher = watcher

	added := 0
	for _, dir := range w.watchDirs() {
		if err := watcher.Add(dir); err != nil {
			logger.Debugf("Not watching %s: %v", dir, err)
			continue
		}
		added++
	}
	if added == 0 {
		watcher.Close()
		return fmt.Errorf("watch: none of %v could be watched", w.watchDirs())
	}

	go w.watchLoop()
	return nil
}

func (w *Watcher) watchDirs() []string {
	seen := make(map[string]bool)
	var out []string
	add := func(d string) {
		if !seen[d] {
			seen[d] = true
			out = append(out, d)
		}
	}
	for f := range w.files {
		add(filepath.Dir(f))
	}
	for d := range w.dirs {
		add(d)
	}
	return out
}

func (w *Watcher) matches(name string) bool {
	name = filepath.Clean(name)
	return w.files[name] || w.dirs[filepath.Dir(name)]
}

func (w *Watcher) watchLoop() {
	defer close(w.done)
	for {
		select {
		case <-w.ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !w.matches(event.Name) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			w.schedule(event.Name)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logger.Warnf("File watcher error: %v", err)
		}
	}
}

func (w *Watcher) schedule(name string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, func() {
		if w.ctx.Err() != nil {
			return
		}
		logger.Debugf("Reloading after change to %s", name)
		w.onChange(name)
	})
}

// Close stops the watcher and releases resources.
func (w *Watcher) Close() error {
	w.cancel()
	w.mu.Lock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()
	if w.watcher == nil {
		return nil
	}
	err := w.watcher.Close()
	<-w.done
	return err
}
