package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

const reloadDebounce = 500 * time.Millisecond

// ParseOptions decodes, defaults and validates an options document.
func ParseOptions(data []byte) (*Options, error) {
	var opts Options
	if err := yaml.Unmarshal(data, &opts); err != nil {
		return nil, fmt.Errorf("failed to parse options: %w", err)
	}
	opts.ApplyDefaults()
	if err := opts.Validate(); err != nil {
		return nil, fmt.Errorf("invalid options: %w", err)
	}
	return &opts, nil
}

// LoadOptions reads and parses the options file at path.
func LoadOptions(path string) (*Options, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read options: %w", err)
	}
	return ParseOptions(data)
}

// Loader holds the current options and reloads them when the file changes.
// A failed reload keeps the previous options.
type Loader struct {
	path      string
	logger    *zap.Logger
	reloadMu  sync.Mutex
	mu        sync.RWMutex
	options   *Options
	listeners []func(*Options)
	watcher   *fsnotify.Watcher
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewLoader creates a loader for the options file at path
func NewLoader(path string, logger *zap.Logger) *Loader {
	return &Loader{
		path:   path,
		logger: logger.Named("config"),
	}
}

// Load reads the options file. It must succeed once before Get is used.
func (l *Loader) Load() error {
	l.logger.Info("Loading options", zap.String("path", l.path))

	opts, err := LoadOptions(l.path)
	if err != nil {
		return err
	}

	l.mu.Lock()
	l.options = opts
	l.mu.Unlock()

	l.logger.Info("Options loaded",
		zap.Int("zones", len(opts.ActiveZones())),
		zap.Int("window_sensors", len(opts.WindowSensors())),
		zap.Int("trigger_entities", len(opts.MainTriggerEntities())))
	return nil
}

// Get returns the current options. Callers must not modify the result.
func (l *Loader) Get() *Options {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.options
}

// OnReload registers fn to be called after every successful reload
func (l *Loader) OnReload(fn func(*Options)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.listeners = append(l.listeners, fn)
}

// Reload re-reads the file and notifies listeners when it parses cleanly.
// Concurrent reloads run one at a time.
func (l *Loader) Reload() error {
	l.reloadMu.Lock()
	defer l.reloadMu.Unlock()

	opts, err := LoadOptions(l.path)
	if err != nil {
		l.logger.Error("Options reload failed, keeping previous options", zap.Error(err))
		return err
	}

	l.mu.Lock()
	l.options = opts
	listeners := append(([]func(*Options))(nil), l.listeners...)
	l.mu.Unlock()

	l.logger.Info("Options reloaded", zap.Int("zones", len(opts.ActiveZones())))
	for _, fn := range listeners {
		fn(opts)
	}
	return nil
}

// StartWatcher watches the options file and reloads it on change. Editors
// often replace the file, so the parent directory is watched and events are
// filtered by name.
func (l *Loader) StartWatcher(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(l.path)); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("failed to watch options directory: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	l.watcher = watcher
	l.cancel = cancel
	l.done = make(chan struct{})

	l.logger.Info("Watching options file for changes", zap.String("path", l.path))
	go l.watchLoop(ctx)
	return nil
}

func (l *Loader) watchLoop(ctx context.Context) {
	defer close(l.done)

	var debounce *time.Timer
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()

	name := filepath.Clean(l.path)
	for {
		select {
		case <-ctx.Done():
			_ = l.watcher.Close()
			return

		case event, ok := <-l.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != name {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			l.logger.Debug("Options file changed", zap.String("op", event.Op.String()))

			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(reloadDebounce, func() {
				if ctx.Err() != nil {
					return
				}
				_ = l.Reload()
			})

		case err, ok := <-l.watcher.Errors:
			if !ok {
				return
			}
			l.logger.Error("Options watcher error", zap.Error(err))
		}
	}
}

// Stop stops the watcher and waits for its goroutine to exit
func (l *Loader) Stop() {
	if l.cancel == nil {
		return
	}
	l.cancel()
	<-l.done
	l.cancel = nil
}
