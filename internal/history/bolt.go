package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/MegaGrindStone/thinkmate/internal/models"
	bolt "go.etcd.io/bbolt"
)

var chatsBucket = []byte("chats")

// BoltDB implements Store with a BoltDB file. Every chat is a JSON record keyed by its ID, so the
// bucket's byte order is the chats' creation order.
type BoltDB struct {
	db     *bolt.DB
	logger *slog.Logger
}

// NewBoltDB opens or creates the database at path with the chats bucket. The file is created with
// 0600 permissions.
func NewBoltDB(path string, logger *slog.Logger) (BoltDB, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return BoltDB{}, fmt.Errorf("failed to open bolt db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(chatsBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return BoltDB{}, fmt.Errorf("failed to create chats bucket: %w", err)
	}

	return BoltDB{
		db:     db,
		logger: logger.With(slog.String("module", "history-bolt")),
	}, nil
}

// Load implements Store. Records that fail to decode are skipped.
func (b BoltDB) Load(context.Context) ([]models.SavedChat[string], error) {
	chats := []models.SavedChat[string]{}
	err := b.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(chatsBucket)
		if bucket == nil {
			return nil
		}

		return bucket.ForEach(func(k, v []byte) error {
			var c models.SavedChat[string]
			if err := json.Unmarshal(v, &c); err != nil {
				b.logger.Warn("Skipping unparsable chat",
					slog.String("key", string(k)),
					slog.String(errLoggerKey, err.Error()))
				return nil
			}
			chats = append(chats, c)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read chats: %w", err)
	}
	return chats, nil
}

// Save implements Store by replacing the chats bucket in a single transaction.
func (b BoltDB) Save(_ context.Context, chats []models.SavedChat[string]) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket(chatsBucket); err != nil && !errors.Is(err, bolt.ErrBucketNotFound) {
			return fmt.Errorf("failed to clear chats: %w", err)
		}
		bucket, err := tx.CreateBucket(chatsBucket)
		if err != nil {
			return fmt.Errorf("failed to create chats bucket: %w", err)
		}

		for _, c := range chats {
			v, err := json.Marshal(c)
			if err != nil {
				return fmt.Errorf("failed to marshal chat: %w", err)
			}
			if err := bucket.Put([]byte(c.ID.String()), v); err != nil {
				return fmt.Errorf("failed to put chat: %w", err)
			}
		}
		return nil
	})
}

// Close implements Store.
func (b BoltDB) Close() error {
	return b.db.Close()
}
