package main

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/decred/slog"
	"github.com/devindeed/aurelay/internal/settings"
	"github.com/fsnotify/fsnotify"
)

// reloadDebounce is how long to wait after the last change to the config file
// before reloading it.
const reloadDebounce = 100 * time.Millisecond

// reloadApplier returns the function that applies reloaded settings to the
// running daemon. Command line overrides still take precedence over the
// reloaded file. Only the log levels change without a restart.
func reloadApplier(cfg *settings.Settings, flags *cmdFlags,
	setLevels func(string) error, log slog.Logger) func(*settings.Settings) error {

	return func(newCfg *settings.Settings) error {
		flags.applyOverrides(newCfg)
		if newCfg.Target != cfg.Target {
			log.Warnf("New target %q only takes effect after a restart",
				newCfg.Target)
		}
		return setLevels(newCfg.DebugLevel)
	}
}

// runConfigWatcher reloads the config file every time it changes and calls
// apply with the new settings. The dir of the config file is watched (and not
// the file itself) so that editors that replace the file are handled.
func runConfigWatcher(ctx context.Context, filename string,
	apply func(*settings.Settings) error, log slog.Logger) error {

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("unable to start filesystem watcher: %w", err)
	}
	defer watcher.Close()

	filename = filepath.Clean(filename)
	if err := watcher.Add(filepath.Dir(filename)); err != nil {
		return fmt.Errorf("unable to watch config dir: %w", err)
	}

	var chanReload <-chan time.Time
	log.Debugf("Watching config file %s", filename)
	for {
		select {
		case <-ctx.Done():
			return nil

		case <-chanReload:
			chanReload = nil
			cfg := settings.New()
			if err := cfg.Load(filename); err != nil {
				log.Errorf("Unable to reload config file: %v", err)
				continue
			}
			if err := apply(cfg); err != nil {
				log.Errorf("Unable to apply reloaded config: %v", err)
				continue
			}
			log.Infof("Reloaded config file")

		case event, ok := <-watcher.Events:
			if !ok {
				log.Warnf("watcher.Events not ok")
				return nil
			}
			if filepath.Clean(event.Name) != filename ||
				!event.Has(fsnotify.Write|fsnotify.Create|fsnotify.Rename) {
				continue
			}
			log.Tracef("Watcher event: %s", event)
			chanReload = time.After(reloadDebounce)

		case err, ok := <-watcher.Errors:
			if !ok {
				log.Warnf("watcher.Errors not ok")
				return nil
			}
			log.Debugf("Watcher error: %v", err)
		}
	}
}
