package bolt

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"

	"github.com/goodtune/playtimed/internal/storage"
)

const (
	bucketCheckpoint = "live_session"
	keyCheckpoint    = "current"
)

// Store implements storage.CheckpointStore using bbolt. It holds the single
// live-session checkpoint that survives a crash.
type Store struct {
	db *bbolt.DB
}

// Open opens a BoltDB-backed checkpoint store.
func Open(path string) (*Store, error) {
	if err := ensureDir(path); err != nil {
		return nil, err
	}

	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt db: %w", err)
	}

	store := &Store{db: db}
	if err := store.ensureBuckets(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." {
		return nil
	}
	return storage.EnsureDir(dir)
}

func (s *Store) ensureBuckets() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(bucketCheckpoint)); err != nil {
			return fmt.Errorf("create bucket %s: %w", bucketCheckpoint, err)
		}
		return nil
	})
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Put stores the live-session checkpoint, replacing any previous one.
func (s *Store) Put(cp storage.Checkpoint) error {
	data, err := marshal(cp)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketCheckpoint))
		if b == nil {
			return fmt.Errorf("bucket missing: %s", bucketCheckpoint)
		}
		return b.Put([]byte(keyCheckpoint), data)
	})
}

// Get returns the stored checkpoint, or storage.ErrNotFound when no live
// session is checkpointed.
func (s *Store) Get() (*storage.Checkpoint, error) {
	var cp *storage.Checkpoint
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketCheckpoint))
		if b == nil {
			return storage.ErrNotFound
		}
		value := b.Get([]byte(keyCheckpoint))
		if value == nil {
			return storage.ErrNotFound
		}
		var result storage.Checkpoint
		if err := unmarshal(value, &result); err != nil {
			return err
		}
		cp = &result
		return nil
	})
	if err != nil {
		return nil, err
	}
	return cp, nil
}

// Clear removes the checkpoint. Clearing an absent checkpoint is a no-op.
func (s *Store) Clear() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketCheckpoint))
		if b == nil {
			return nil
		}
		return b.Delete([]byte(keyCheckpoint))
	})
}

func marshal(value any) ([]byte, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("marshal value: %w", err)
	}
	return data, nil
}

func unmarshal(data []byte, out any) error {
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("unmarshal value: %w", err)
	}
	return nil
}
