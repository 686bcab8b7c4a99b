package config

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Watcher watches the config file and invokes a reload callback on change.
// Reloads are debounced so editors that write in multiple steps trigger one.
type Watcher struct {
	watcher    *fsnotify.Watcher
	logger     zerolog.Logger
	configPath string
	onChange   func(*Config)
	debounce   time.Duration
	timerMu    sync.Mutex
	timer      *time.Timer
	stopCh     chan struct{}
}

// NewWatcher creates a new config watcher. onChange receives the freshly
// loaded config; load failures are logged and the previous config stays live.
func NewWatcher(configPath string, logger zerolog.Logger, onChange func(*Config)) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		watcher:    fsw,
		logger:     logger.With().Str("component", "config-watcher").Logger(),
		configPath: configPath,
		onChange:   onChange,
		debounce:   500 * time.Millisecond,
		stopCh:     make(chan struct{}),
	}

	// Watch the directory; editors replace files rather than writing in place.
	if err := fsw.Add(filepath.Dir(configPath)); err != nil {
		fsw.Close()
		return nil, err
	}

	go w.run()

	return w, nil
}

// Stop stops the config watcher
func (w *Watcher) Stop() error {
	close(w.stopCh)
	return w.watcher.Close()
}

func (w *Watcher) run() {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}

			if filepath.Clean(event.Name) != filepath.Clean(w.configPath) {
				continue
			}

			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				w.logger.Debug().Str("op", event.Op.String()).Msg("Config change detected")
				w.scheduleReload()
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error().Err(err).Msg("Config watcher error")

		case <-w.stopCh:
			return
		}
	}
}

func (w *Watcher) scheduleReload() {
	w.timerMu.Lock()
	defer w.timerMu.Unlock()

	if w.timer != nil {
		w.timer.Stop()
	}

	w.timer = time.AfterFunc(w.debounce, func() {
		cfg, err := NewLoader(w.configPath).Load()
		if err != nil {
			w.logger.Warn().Err(err).Msg("Config reload failed, keeping previous config")
			return
		}
		w.logger.Info().Msg("Config reloaded")
		w.onChange(cfg)
	})
}
