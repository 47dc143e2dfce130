package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/MegaGrindStone/thinkmate/internal/models"
	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store with a SQLite database holding one row per chat.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore opens or creates the database at path.
func NewSQLiteStore(path string, logger *slog.Logger) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create db dir: %w", err)
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open db: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger.With(slog.String("module", "history-sqlite")),
	}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to migrate: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS chats (
		id      TEXT PRIMARY KEY,
		model   TEXT NOT NULL,
		content TEXT NOT NULL
	);`)
	return err
}

// Load implements Store. Rows that fail to decode are skipped.
func (s *SQLiteStore) Load(ctx context.Context) ([]models.SavedChat[string], error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, model, content FROM chats ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query chats: %w", err)
	}
	defer rows.Close()

	chats := []models.SavedChat[string]{}
	for rows.Next() {
		var id, model, content string
		if err := rows.Scan(&id, &model, &content); err != nil {
			return nil, fmt.Errorf("failed to scan chat: %w", err)
		}

		c, err := decodeRow(id, model, content)
		if err != nil {
			s.logger.Warn("Skipping unparsable chat",
				slog.String("id", id),
				slog.String(errLoggerKey, err.Error()))
			continue
		}
		chats = append(chats, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate chats: %w", err)
	}
	return chats, nil
}

func decodeRow(id, model, content string) (models.SavedChat[string], error) {
	parsed, err := ulid.ParseStrict(id)
	if err != nil {
		return models.SavedChat[string]{}, fmt.Errorf("invalid id: %w", err)
	}
	var turns []models.Turn[string]
	if err := json.Unmarshal([]byte(content), &turns); err != nil {
		return models.SavedChat[string]{}, fmt.Errorf("invalid content: %w", err)
	}
	return models.SavedChat[string]{ID: parsed, Model: model, Content: turns}, nil
}

// Save implements Store by replacing every row in a single transaction.
func (s *SQLiteStore) Save(ctx context.Context, chats []models.SavedChat[string]) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM chats`); err != nil {
		return fmt.Errorf("failed to clear chats: %w", err)
	}
	for _, c := range chats {
		content, err := json.Marshal(c.Content)
		if err != nil {
			return fmt.Errorf("failed to marshal chat content: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO chats (id, model, content) VALUES (?, ?, ?)`,
			c.ID.String(), c.Model, string(content)); err != nil {
			return fmt.Errorf("failed to insert chat: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
