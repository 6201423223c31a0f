package userdata

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/zarlcorp/zplaces/internal/kv"
)

// IdentityResolver reports which identity is signed in.
type IdentityResolver interface {
	CurrentIdentity(ctx context.Context) (string, error)
}

// Store reads and writes fields of one identity at a time. Methods without
// an identity argument act on the identity reported by the resolver.
//
// Storage here is best-effort: failures come back as errors and reads fall
// back to a default, nothing panics.
type Store struct {
	kv  kv.Store
	log *slog.Logger

	mu       sync.RWMutex
	resolver IdentityResolver
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used for swallowed read failures.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.log = l }
}

// WithResolver sets the current-identity resolver.
func WithResolver(r IdentityResolver) Option {
	return func(s *Store) { s.resolver = r }
}

// New creates a Store over kv.
func New(store kv.Store, opts ...Option) *Store {
	s := &Store{kv: store, log: slog.Default()}
	for _, o := range opts {
		o(s)
	}
	return s
}

// SetResolver replaces the current-identity resolver. The auth layer sits
// above the store, so it is attached after both are built.
func (s *Store) SetResolver(r IdentityResolver) {
	s.mu.Lock()
	s.resolver = r
	s.mu.Unlock()
}

// KV returns the underlying key-value store.
func (s *Store) KV() kv.Store {
	return s.kv
}

// Current resolves the signed-in identity.
func (s *Store) Current(ctx context.Context) (string, error) {
	s.mu.RLock()
	r := s.resolver
	s.mu.RUnlock()

	if r == nil {
		return "", ErrInvalidIdentity
	}

	id, err := r.CurrentIdentity(ctx)
	if err != nil {
		return "", fmt.Errorf("resolve identity: %w: %w", ErrInvalidIdentity, err)
	}
	if !ValidIdentity(id) {
		return "", ErrInvalidIdentity
	}
	return id, nil
}

// Set stores v under field for the current identity.
func (s *Store) Set(ctx context.Context, field string, v any) error {
	id, err := s.Current(ctx)
	if err != nil {
		return fmt.Errorf("set %s: %w", field, err)
	}
	return s.SetFor(ctx, id, field, v)
}

// SetFor stores v under field for identity.
func (s *Store) SetFor(ctx context.Context, identity, field string, v any) error {
	val, err := Encode(v)
	if err != nil {
		return fmt.Errorf("set %s: %w", field, err)
	}
	return s.SetRaw(ctx, identity, field, val)
}

// SetRaw stores an already encoded value.
func (s *Store) SetRaw(ctx context.Context, identity, field string, v Value) error {
	k, err := DeriveKey(identity, field)
	if err != nil {
		return fmt.Errorf("set %s: %w", field, err)
	}
	if err := s.kv.SetItem(ctx, k.String(), string(v)); err != nil {
		return fmt.Errorf("set %s: %w", field, err)
	}
	return nil
}

// Raw returns the stored value of field for identity.
func (s *Store) Raw(ctx context.Context, identity, field string) (Value, bool, error) {
	k, err := DeriveKey(identity, field)
	if err != nil {
		return "", false, fmt.Errorf("get %s: %w", field, err)
	}

	v, ok, err := s.kv.GetItem(ctx, k.String())
	if err != nil {
		return "", false, fmt.Errorf("get %s: %w", field, err)
	}
	return Value(v), ok, nil
}

// Has reports whether identity has a value for field. Read failures count
// as absent.
func (s *Store) Has(ctx context.Context, identity, field string) bool {
	_, ok, err := s.Raw(ctx, identity, field)
	return err == nil && ok
}

// Remove deletes field for the current identity.
func (s *Store) Remove(ctx context.Context, field string) error {
	id, err := s.Current(ctx)
	if err != nil {
		return fmt.Errorf("remove %s: %w", field, err)
	}
	return s.RemoveFor(ctx, id, field)
}

// RemoveFor deletes field for identity.
func (s *Store) RemoveFor(ctx context.Context, identity, field string) error {
	k, err := DeriveKey(identity, field)
	if err != nil {
		return fmt.Errorf("remove %s: %w", field, err)
	}
	if err := s.kv.RemoveItem(ctx, k.String()); err != nil {
		return fmt.Errorf("remove %s: %w", field, err)
	}
	return nil
}

// GetAll returns every field stored for identity, keyed by field name.
func (s *Store) GetAll(ctx context.Context, identity string) (Record, error) {
	keys, err := s.keysFor(ctx, identity)
	if err != nil {
		return nil, fmt.Errorf("get all: %w", err)
	}

	rec := make(Record, len(keys))
	for _, k := range keys {
		v, ok, err := s.kv.GetItem(ctx, k.String())
		if err != nil {
			return nil, fmt.Errorf("get all: %w", err)
		}
		if !ok {
			// removed between listing and reading
			continue
		}
		rec[k.Field] = Value(v)
	}
	return rec, nil
}

// ClearAll removes every field stored for identity and returns how many
// keys were removed.
func (s *Store) ClearAll(ctx context.Context, identity string) (int, error) {
	keys, err := s.keysFor(ctx, identity)
	if err != nil {
		return 0, fmt.Errorf("clear all: %w", err)
	}
	if len(keys) == 0 {
		return 0, nil
	}

	raw := make([]string, len(keys))
	for i, k := range keys {
		raw[i] = k.String()
	}
	if err := s.kv.MultiRemove(ctx, raw); err != nil {
		return 0, fmt.Errorf("clear all: %w", err)
	}
	return len(raw), nil
}

// Identities lists every identity with at least one stored field.
func (s *Store) Identities(ctx context.Context) ([]string, error) {
	all, err := s.kv.AllKeys(ctx)
	if err != nil {
		return nil, fmt.Errorf("list identities: %w", err)
	}

	seen := make(map[string]bool)
	var ids []string
	for _, raw := range all {
		k, ok := ParseKey(raw)
		if !ok || seen[k.Identity] {
			continue
		}
		seen[k.Identity] = true
		ids = append(ids, k.Identity)
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *Store) keysFor(ctx context.Context, identity string) ([]Key, error) {
	if !ValidIdentity(identity) {
		return nil, ErrInvalidIdentity
	}

	all, err := s.kv.AllKeys(ctx)
	if err != nil {
		return nil, err
	}

	prefix := keyPrefix + identity + "_"
	var keys []Key
	for _, raw := range all {
		if !strings.HasPrefix(raw, prefix) {
			continue
		}
		// the prefix of a shorter identity can match a longer one's keys;
		// parsing settles who owns the key
		k, ok := ParseKey(raw)
		if !ok || k.Identity != identity {
			continue
		}
		keys = append(keys, k)
	}
	return keys, nil
}

// Get reads field for the current identity, returning def when the identity
// cannot be resolved, the field is absent, the read fails or the stored
// value does not decode into T.
func Get[T any](ctx context.Context, s *Store, field string, def T) T {
	id, err := s.Current(ctx)
	if err != nil {
		s.log.Debug("userdata get: no identity", "field", field, "err", err)
		return def
	}
	return GetFor(ctx, s, id, field, def)
}

// GetFor reads field for identity. String destinations receive the stored
// value verbatim; other types are JSON-decoded.
func GetFor[T any](ctx context.Context, s *Store, identity, field string, def T) T {
	v, ok, err := s.Raw(ctx, identity, field)
	if err != nil {
		s.log.Debug("userdata get", "identity", identity, "field", field, "err", err)
		return def
	}
	if !ok {
		return def
	}
	return decodeAs(v, def)
}
