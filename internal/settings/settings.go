// Package settings reads, writes and watches the user preferences file.
package settings

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/MegaGrindStone/thinkmate/internal/fsutil"
	"github.com/MegaGrindStone/thinkmate/internal/models"
	"github.com/fsnotify/fsnotify"
)

// FileName is the name of the settings file inside the data directory.
const FileName = "config.json"

const errLoggerKey = "error"

// Read returns the settings stored in dir. A missing or unparsable file yields the default settings
// and false.
func Read(dir string) (models.Settings, bool) {
	data, err := os.ReadFile(filepath.Join(dir, FileName))
	if err != nil {
		return models.DefaultSettings(), false
	}

	s := models.DefaultSettings()
	if err := json.Unmarshal(data, &s); err != nil {
		return models.DefaultSettings(), false
	}
	return s, true
}

// Write stores s in dir, replacing the previous file atomically.
func Write(dir string, s models.Settings) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}
	return fsutil.AtomicWriteFile(filepath.Join(dir, FileName), data, 0600)
}

// Watch calls fn with the new settings whenever the settings file in dir is replaced or written,
// until ctx is done. The directory is watched rather than the file, since every save renames a new
// file over it.
func Watch(ctx context.Context, dir string, logger *slog.Logger, fn func(models.Settings)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	go func() {
		defer watcher.Close()

		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Base(event.Name) != FileName {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
					continue
				}
				if s, ok := Read(dir); ok {
					fn(s)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warn("Settings watcher error", slog.String(errLoggerKey, err.Error()))
			}
		}
	}()
	return nil
}
