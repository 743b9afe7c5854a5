// Package hotstore implements the latency tier of the state surface over
// BadgerDB. Entries carry a TTL and may disappear at any time; the cold tier
// remains the source of truth for durable writes.
package hotstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// DefaultTTL bounds how long a hot entry lives without being rewritten.
const DefaultTTL = 15 * time.Minute

// Options configures the hot store.
type Options struct {
	// Path is the BadgerDB directory. Ignored when InMemory is set.
	Path string
	// InMemory keeps all entries in RAM, used by tests and the ephemeral
	// runtime profile.
	InMemory bool
	// TTL applies to every written entry. Zero means DefaultTTL.
	TTL time.Duration
}

// Store is a tenant-scoped key-value cache with per-entry TTL.
type Store struct {
	db  *badger.DB
	ttl time.Duration
}

// Open opens a hot store.
func Open(opts Options) (*Store, error) {
	if !opts.InMemory && strings.TrimSpace(opts.Path) == "" {
		return nil, fmt.Errorf("hot store path is required")
	}
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	var badgerOpts badger.Options
	if opts.InMemory {
		badgerOpts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(opts.Path, 0o750); err != nil {
			return nil, fmt.Errorf("create hot store directory: %w", err)
		}
		badgerOpts = badger.DefaultOptions(opts.Path)
	}
	badgerOpts = badgerOpts.WithLogger(nil)

	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, fmt.Errorf("open hot store: %w", err)
	}
	return &Store{db: db, ttl: ttl}, nil
}

// OpenInMemory opens an isolated in-memory hot store.
func OpenInMemory() (*Store, error) {
	return Open(Options{InMemory: true})
}

// Close releases the underlying database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// entryKey namespaces keys by tenant and owner so scopes cannot collide.
func entryKey(tenantID, ownerID, key string) []byte {
	return []byte("state:" + tenantID + ":" + ownerID + ":" + key)
}

// Set writes a value with the store's TTL.
func (s *Store) Set(ctx context.Context, tenantID, ownerID, key string, value any) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("hot store is not configured")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	encoded, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode hot entry: %w", err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry(entryKey(tenantID, ownerID, key), encoded).WithTTL(s.ttl)
		return txn.SetEntry(entry)
	})
	if err != nil {
		return fmt.Errorf("set hot entry: %w", err)
	}
	return nil
}

// Get reads a value. The second return reports whether the key was present;
// expired entries read as absent.
func (s *Store) Get(ctx context.Context, tenantID, ownerID, key string) (any, bool, error) {
	if s == nil || s.db == nil {
		return nil, false, fmt.Errorf("hot store is not configured")
	}
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	var encoded []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(entryKey(tenantID, ownerID, key))
		if err != nil {
			return err
		}
		encoded, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get hot entry: %w", err)
	}

	var value any
	if err := json.Unmarshal(encoded, &value); err != nil {
		return nil, false, fmt.Errorf("decode hot entry: %w", err)
	}
	return value, true, nil
}

// Delete removes a key. Deleting a missing key is not an error.
func (s *Store) Delete(ctx context.Context, tenantID, ownerID, key string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("hot store is not configured")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(entryKey(tenantID, ownerID, key))
	})
	if err != nil {
		return fmt.Errorf("delete hot entry: %w", err)
	}
	return nil
}
