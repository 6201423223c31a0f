package kv

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/zarlcorp/core/pkg/zfilesystem"
	"github.com/zarlcorp/core/pkg/zstore"
)

const collectionName = "kv"

// entry is the stored record. Records are filed under a digest of the key,
// so the key itself is kept alongside the value for listings.
type entry struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Encrypted is a Store backed by a zstore collection. Every value is
// encrypted at rest with the store passphrase.
type Encrypted struct {
	mu    sync.Mutex
	store *zstore.Store
	col   *zstore.Collection[entry]
	owned bool
}

// OpenEncrypted opens (or initializes) a zstore on fsys and returns a Store
// over its kv collection. Close releases the underlying zstore.
func OpenEncrypted(fsys zfilesystem.ReadWriteFileFS, passphrase []byte) (*Encrypted, error) {
	s, err := zstore.Open(fsys, passphrase)
	if err != nil {
		return nil, fmt.Errorf("open kv store: %w", err)
	}

	e, err := NewEncrypted(s)
	if err != nil {
		s.Close()
		return nil, err
	}
	e.owned = true
	return e, nil
}

// NewEncrypted returns a Store over an already open zstore. The caller keeps
// ownership of s.
func NewEncrypted(s *zstore.Store) (*Encrypted, error) {
	col, err := zstore.NewCollection[entry](s, collectionName)
	if err != nil {
		return nil, fmt.Errorf("open kv collection: %w", err)
	}
	return &Encrypted{store: s, col: col}, nil
}

func (e *Encrypted) GetItem(ctx context.Context, key string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	ent, err := e.col.Get(recordID(key))
	if errors.Is(err, zstore.ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get %s: %w", key, err)
	}
	if ent.Key != key {
		return "", false, fmt.Errorf("get %s: record holds %q", key, ent.Key)
	}
	return ent.Value, true, nil
}

func (e *Encrypted) SetItem(ctx context.Context, key, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.col.Put(recordID(key), entry{Key: key, Value: value}); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

func (e *Encrypted) RemoveItem(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	return e.remove(key)
}

func (e *Encrypted) AllKeys(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	entries, err := e.col.List()
	if err != nil {
		return nil, fmt.Errorf("list keys: %w", err)
	}

	keys := make([]string, 0, len(entries))
	for _, ent := range entries {
		keys = append(keys, ent.Key)
	}
	sort.Strings(keys)
	return keys, nil
}

// MultiRemove removes every key, continuing past failures. The first
// failure is returned.
func (e *Encrypted) MultiRemove(ctx context.Context, keys []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	var first error
	for _, k := range keys {
		if err := e.remove(k); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Close releases the zstore if this Store opened it. The key material is
// erased by zstore on close.
func (e *Encrypted) Close() error {
	if !e.owned || e.store == nil {
		return nil
	}
	e.store.Close()
	e.store = nil
	return nil
}

func (e *Encrypted) remove(key string) error {
	err := e.col.Delete(recordID(key))
	if err == nil || errors.Is(err, zstore.ErrNotFound) {
		return nil
	}
	return fmt.Errorf("remove %s: %w", key, err)
}

// recordID maps key to a flat, fixed-length, lowercase file name. Keys carry
// raw email addresses, which may hold path characters, differ only in case
// or exceed file name limits.
func recordID(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}
