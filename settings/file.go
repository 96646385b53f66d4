package settings

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// reloadDebounce coalesces the burst of filesystem events editors
// produce for a single save.
const reloadDebounce = 100 * time.Millisecond

// FileSource loads settings from a YAML file and hot-reloads on change.
// The watch covers the containing directory, not the file itself, so
// atomic-rename saves are seen as well.
type FileSource struct {
	path   string
	logger *slog.Logger

	mu        sync.Mutex
	callbacks []func(Settings)
	watcher   *fsnotify.Watcher
	closed    bool
	done      chan struct{}
}

// NewFileSource creates a FileSource for the given path. The file is not
// read until Load.
func NewFileSource(path string, logger *slog.Logger) *FileSource {
	if logger == nil {
		logger = slog.Default()
	}
	return &FileSource{path: path, logger: logger}
}

// Load reads and parses the settings file, applying defaults.
func (f *FileSource) Load() (Settings, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		return Settings{}, fmt.Errorf("settings: read %s: %w", f.path, err)
	}
	var s Settings
	if err := yaml.Unmarshal(data, &s); err != nil {
		return Settings{}, fmt.Errorf("settings: parse %s: %w", f.path, err)
	}
	s.applyDefaults()
	return s, nil
}

// OnChange registers a callback and starts the filesystem watch on first
// registration. A reload that fails to parse keeps the previous settings
// and is logged, never delivered.
func (f *FileSource) OnChange(fn func(Settings)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.callbacks = append(f.callbacks, fn)
	if f.watcher != nil || f.closed {
		return
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		f.logger.Error("settings: create watcher", "error", err)
		return
	}
	if err := w.Add(filepath.Dir(f.path)); err != nil {
		f.logger.Error("settings: watch directory", "error", err)
		w.Close()
		return
	}
	f.watcher = w
	f.done = make(chan struct{})
	go f.watchLoop(w, f.done)
}

func (f *FileSource) watchLoop(w *fsnotify.Watcher, done chan struct{}) {
	defer close(done)
	var debounce *time.Timer
	for {
		select {
		case event, ok := <-w.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != filepath.Base(f.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(reloadDebounce, f.reload)

		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			f.logger.Warn("settings: watcher error", "error", err)
		}
	}
}

func (f *FileSource) reload() {
	s, err := f.Load()
	if err != nil {
		f.logger.Warn("settings: reload failed, keeping previous", "error", err)
		return
	}
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	callbacks := make([]func(Settings), len(f.callbacks))
	copy(callbacks, f.callbacks)
	f.mu.Unlock()

	f.logger.Info("settings: reloaded", "path", f.path)
	for _, fn := range callbacks {
		fn(s)
	}
}

// Close stops the filesystem watch.
func (f *FileSource) Close() error {
	f.mu.Lock()
	f.closed = true
	w := f.watcher
	done := f.done
	f.watcher = nil
	f.mu.Unlock()

	if w == nil {
		return nil
	}
	err := w.Close()
	<-done
	return err
}
