package sources

import (
	"context"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads source configurations when files in the sources
// directory change, so edits take effect without a restart.
type Watcher struct {
	cache    *ConfigCache
	onReload func(sourceName string)
	fsw      *fsnotify.Watcher
}

func NewWatcher(cache *ConfigCache, onReload func(sourceName string)) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	return &Watcher{
		cache:    cache,
		onReload: onReload,
		fsw:      fsw,
	}, nil
}

func (w *Watcher) Run(ctx context.Context) error {
	if err := w.fsw.Add(w.cache.sourcesDir); err != nil {
		return err
	}

	go func() {
		defer w.fsw.Close()

		for {
			select {
			case <-ctx.Done():
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
				slog.Warn("Source watcher error", "error", err)
			}
		}
	}()

	return nil
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
		return
	}
	if filepath.Ext(event.Name) != ".yml" {
		return
	}

	sourceName := strings.TrimSuffix(filepath.Base(event.Name), ".yml")

	if _, err := w.cache.LoadConfig(sourceName); err != nil {
		slog.Warn("Failed to reload source configuration", "source", sourceName, "error", err)
		return
	}

	slog.Info("Source configuration reloaded", "source", sourceName)

	if w.onReload != nil {
		w.onReload(sourceName)
	}
}
