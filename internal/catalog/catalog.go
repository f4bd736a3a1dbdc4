// Package catalog keeps a local index of completed acquisition sessions
// in a bbolt database, so recordings can be listed without scanning the
// output directory.
package catalog

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

var ErrNotFound = errors.New("session not found")

const sessionsBucket = "sessions"

// SessionRecord summarizes one completed acquisition.
type SessionRecord struct {
	ID          string    `json:"id"`
	Interface   string    `json:"interface"`
	Transport   string    `json:"transport"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	PacketCount uint64    `json:"packet_count"`
	Files       []string  `json:"files"`
}

// Catalog wraps the bbolt handle.
type Catalog struct {
	db *bolt.DB
}

// Open opens (creating if needed) the catalog database at path.
func Open(path string) (*Catalog, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create catalog directory: %w", err)
	}
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(sessionsBucket))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create sessions bucket: %w", err)
	}
	return &Catalog{db: db}, nil
}

// Put stores or replaces a session record keyed by its ID.
func (c *Catalog) Put(rec SessionRecord) error {
	if rec.ID == "" {
		return errors.New("session record has empty ID")
	}
	out, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return c.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(sessionsBucket)).Put([]byte(rec.ID), out)
	})
}

// Get fetches one session record by ID.
func (c *Catalog) Get(id string) (SessionRecord, error) {
	var rec SessionRecord
	err := c.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket([]byte(sessionsBucket)).Get([]byte(id))
		if raw == nil {
			return fmt.Errorf("%w: %q", ErrNotFound, id)
		}
		return json.Unmarshal(raw, &rec)
	})
	return rec, err
}

// List returns all session records in key order.
func (c *Catalog) List() ([]SessionRecord, error) {
	var records []SessionRecord
	err := c.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(sessionsBucket)).ForEach(func(_, v []byte) error {
			var rec SessionRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			records = append(records, rec)
			return nil
		})
	})
	return records, err
}

// Close closes the underlying database.
func (c *Catalog) Close() error {
	return c.db.Close()
}
