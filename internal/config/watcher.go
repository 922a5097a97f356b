package config

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// Reload carries the runtime-adjustable values picked up from a changed .env.
type Reload struct {
	Window       time.Duration
	PollInterval time.Duration
}

// Watcher monitors the .env file and reports window / poll-interval changes.
type Watcher struct {
	cfg         *Config
	envPath     string
	watcher     *fsnotify.Watcher
	stopChan    chan struct{}
	lastModTime time.Time
	mu          sync.Mutex
	onReload    func(Reload)
}

// NewWatcher creates a watcher for the config's .env file.
func NewWatcher(cfg *Config, onReload func(Reload)) (*Watcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		cfg:      cfg,
		envPath:  cfg.EnvFile(),
		watcher:  watcher,
		stopChan: make(chan struct{}),
		onReload: onReload,
	}
	if stat, err := os.Stat(w.envPath); err == nil {
		w.lastModTime = stat.ModTime()
	}
	return w, nil
}

// Start begins watching. The directory is watched rather than the file so
// atomic editor saves (rename-over) are still observed.
func (w *Watcher) Start() error {
	if err := w.watcher.Add(filepath.Dir(w.envPath)); err != nil {
		return err
	}

	go func() {
		// Debounce rapid write bursts from editors.
		var debounce *time.Timer
		for {
			select {
			case <-w.stopChan:
				return
			case event, ok := <-w.watcher.Events:
				if !ok {
					return
				}
				if event.Name != w.envPath {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(200*time.Millisecond, w.reload)
			case err, ok := <-w.watcher.Errors:
				if !ok {
					return
				}
				log.Warn().Err(err).Msg("Config watcher error")
			}
		}
	}()

	log.Info().Str("file", w.envPath).Msg("Watching config file for changes")
	return nil
}

// Stop terminates the watcher.
func (w *Watcher) Stop() {
	close(w.stopChan)
	_ = w.watcher.Close()
}

func (w *Watcher) reload() {
	w.mu.Lock()
	defer w.mu.Unlock()

	stat, err := os.Stat(w.envPath)
	if err != nil {
		return
	}
	if !stat.ModTime().After(w.lastModTime) {
		return
	}
	w.lastModTime = stat.ModTime()

	values, err := godotenv.Read(w.envPath)
	if err != nil {
		log.Warn().Err(err).Str("file", w.envPath).Msg("Failed to re-read .env file")
		return
	}

	reload := Reload{Window: w.cfg.Window, PollInterval: w.cfg.PollInterval}
	changed := false
	if v, ok := values["APM_WINDOW"]; ok {
		if d, err := parseSecondsOrDuration(v); err == nil && d > 0 && d != reload.Window {
			reload.Window = d
			changed = true
		} else if err != nil {
			log.Warn().Err(err).Str("value", v).Msg("Ignoring invalid APM_WINDOW on reload")
		}
	}
	if v, ok := values["APM_POLL_INTERVAL"]; ok {
		if d, err := parseSecondsOrDuration(v); err == nil && d > 0 && d != reload.PollInterval {
			reload.PollInterval = d
			changed = true
		} else if err != nil {
			log.Warn().Err(err).Str("value", v).Msg("Ignoring invalid APM_POLL_INTERVAL on reload")
		}
	}
	if !changed {
		return
	}

	w.cfg.Window = reload.Window
	w.cfg.PollInterval = reload.PollInterval
	log.Info().
		Dur("window", reload.Window).
		Dur("pollInterval", reload.PollInterval).
		Msg("Applied runtime config reload")

	if w.onReload != nil {
		w.onReload(reload)
	}
}
