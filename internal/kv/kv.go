// Package kv defines the process-local key-value capability the rest of
// zplaces stores through, and the backends that provide it.
package kv

import "context"

// Store is a string-keyed, string-valued store local to one device.
// A missing key is not an error: GetItem reports it with ok == false and
// RemoveItem treats it as already removed.
type Store interface {
	GetItem(ctx context.Context, key string) (value string, ok bool, err error)
	SetItem(ctx context.Context, key, value string) error
	RemoveItem(ctx context.Context, key string) error
	AllKeys(ctx context.Context) ([]string, error)
	MultiRemove(ctx context.Context, keys []string) error
}
