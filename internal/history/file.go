package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/MegaGrindStone/thinkmate/internal/fsutil"
	"github.com/MegaGrindStone/thinkmate/internal/models"
)

// FileName is the name of the history file inside the data directory.
const FileName = "history.json"

// FileStore keeps the history as a JSON array in a single file, replaced atomically on every save.
type FileStore struct {
	path   string
	logger *slog.Logger
}

// NewFileStore creates a store for the history file inside dir.
func NewFileStore(dir string, logger *slog.Logger) FileStore {
	return FileStore{
		path:   filepath.Join(dir, FileName),
		logger: logger.With(slog.String("module", "history-file")),
	}
}

// Load implements Store. A missing or unparsable file is an empty history, not an error.
func (f FileStore) Load(context.Context) ([]models.SavedChat[string], error) {
	return ReadHistory(f.path, f.logger), nil
}

// Save implements Store.
func (f FileStore) Save(_ context.Context, chats []models.SavedChat[string]) error {
	data, err := Serialize(chats)
	if err != nil {
		return err
	}
	return fsutil.AtomicWriteFile(f.path, data, 0600)
}

// Close implements Store.
func (FileStore) Close() error {
	return nil
}

// ReadHistory reads the history file at path. A missing file yields an empty history silently; an
// unparsable one yields an empty history and a warning.
func ReadHistory(path string, logger *slog.Logger) []models.SavedChat[string] {
	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			logger.Warn("Failed to read history file",
				slog.String("path", path),
				slog.String(errLoggerKey, err.Error()))
		}
		return []models.SavedChat[string]{}
	}

	var chats []models.SavedChat[string]
	if err := json.Unmarshal(data, &chats); err != nil {
		logger.Warn("Ignoring unparsable history file",
			slog.String("path", path),
			slog.String(errLoggerKey, err.Error()))
		return []models.SavedChat[string]{}
	}
	if chats == nil {
		chats = []models.SavedChat[string]{}
	}
	return chats
}

// Serialize encodes chats in the history file format: an indented JSON array.
func Serialize(chats []models.SavedChat[string]) ([]byte, error) {
	if chats == nil {
		chats = []models.SavedChat[string]{}
	}
	data, err := json.MarshalIndent(chats, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal history: %w", err)
	}
	return data, nil
}
