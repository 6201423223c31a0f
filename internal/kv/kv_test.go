package kv

import (
	"context"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"testing"

	"github.com/zarlcorp/core/pkg/zfilesystem"
)

func openEncrypted(t *testing.T) Store {
	t.Helper()
	s, err := OpenEncrypted(zfilesystem.NewMemFS(), []byte("testpass"))
	if err != nil {
		t.Fatalf("open encrypted: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func openSQLite(t *testing.T) Store {
	t.Helper()
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "kv.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

var backends = []struct {
	name string
	open func(t *testing.T) Store
}{
	{"encrypted", openEncrypted},
	{"sqlite", openSQLite},
	{"memory", func(*testing.T) Store { return NewMemory() }},
}

func TestGetMissing(t *testing.T) {
	for _, b := range backends {
		t.Run(b.name, func(t *testing.T) {
			s := b.open(t)

			v, ok, err := s.GetItem(context.Background(), "nope")
			if err != nil {
				t.Fatalf("get: %v", err)
			}
			if ok {
				t.Errorf("ok = true, want false (value %q)", v)
			}
		})
	}
}

func TestSetGetOverwrite(t *testing.T) {
	ctx := context.Background()
	for _, b := range backends {
		t.Run(b.name, func(t *testing.T) {
			s := b.open(t)

			if err := s.SetItem(ctx, "user_a@x.com_favorites", `["p1"]`); err != nil {
				t.Fatalf("set: %v", err)
			}
			if err := s.SetItem(ctx, "user_a@x.com_favorites", `["p2"]`); err != nil {
				t.Fatalf("overwrite: %v", err)
			}

			v, ok, err := s.GetItem(ctx, "user_a@x.com_favorites")
			if err != nil || !ok {
				t.Fatalf("get: ok=%v err=%v", ok, err)
			}
			if v != `["p2"]` {
				t.Errorf("value = %q, want %q", v, `["p2"]`)
			}
		})
	}
}

func TestRemoveMissingIsNoop(t *testing.T) {
	for _, b := range backends {
		t.Run(b.name, func(t *testing.T) {
			s := b.open(t)
			if err := s.RemoveItem(context.Background(), "nope"); err != nil {
				t.Errorf("remove missing: %v", err)
			}
		})
	}
}

func TestAllKeysAndMultiRemove(t *testing.T) {
	ctx := context.Background()
	for _, b := range backends {
		t.Run(b.name, func(t *testing.T) {
			s := b.open(t)

			for _, k := range []string{"c", "a", "b"} {
				if err := s.SetItem(ctx, k, "v"); err != nil {
					t.Fatalf("set %s: %v", k, err)
				}
			}

			keys, err := s.AllKeys(ctx)
			if err != nil {
				t.Fatalf("all keys: %v", err)
			}
			if want := []string{"a", "b", "c"}; !slices.Equal(keys, want) {
				t.Errorf("keys = %v, want %v", keys, want)
			}

			if err := s.MultiRemove(ctx, []string{"a", "c", "missing"}); err != nil {
				t.Fatalf("multi remove: %v", err)
			}

			keys, err = s.AllKeys(ctx)
			if err != nil {
				t.Fatalf("all keys: %v", err)
			}
			if want := []string{"b"}; !slices.Equal(keys, want) {
				t.Errorf("keys after remove = %v, want %v", keys, want)
			}
		})
	}
}

func TestKeysStayDistinct(t *testing.T) {
	ctx := context.Background()
	keys := []string{
		"user_b@x.com_favorites",
		"user_z/../user_b@x.com_favorites",
		"../user_b@x.com_favorites",
		"user_B@x.com_favorites",
		"user_b@x.com_favorites/",
		strings.Repeat("k", 400),
	}

	for _, b := range backends {
		t.Run(b.name, func(t *testing.T) {
			s := b.open(t)

			for i, k := range keys {
				if err := s.SetItem(ctx, k, strconv.Itoa(i)); err != nil {
					t.Fatalf("set %q: %v", k, err)
				}
			}

			for i, k := range keys {
				v, ok, err := s.GetItem(ctx, k)
				if err != nil || !ok {
					t.Fatalf("get %q: ok=%v err=%v", k, ok, err)
				}
				if v != strconv.Itoa(i) {
					t.Errorf("get %q = %q, want %d", k, v, i)
				}
			}

			all, err := s.AllKeys(ctx)
			if err != nil {
				t.Fatalf("all keys: %v", err)
			}
			if len(all) != len(keys) {
				t.Errorf("all keys = %d entries, want %d", len(all), len(keys))
			}
		})
	}
}

func TestCanceledContext(t *testing.T) {
	s := openEncrypted(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := s.SetItem(ctx, "k", "v"); err == nil {
		t.Error("set with canceled context should fail")
	}
}

func TestEncryptedPersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	fs := zfilesystem.NewMemFS()

	s1, err := OpenEncrypted(fs, []byte("testpass"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := s1.SetItem(ctx, "isAuthenticated", "true"); err != nil {
		t.Fatalf("set: %v", err)
	}
	s1.Close()

	s2, err := OpenEncrypted(fs, []byte("testpass"))
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()

	v, ok, err := s2.GetItem(ctx, "isAuthenticated")
	if err != nil || !ok || v != "true" {
		t.Errorf("get after reopen = %q ok=%v err=%v", v, ok, err)
	}
}

func TestEncryptedWrongPassphrase(t *testing.T) {
	fs := zfilesystem.NewMemFS()

	s, err := OpenEncrypted(fs, []byte("correct"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	s.Close()

	if _, err := OpenEncrypted(fs, []byte("wrong")); err == nil {
		t.Fatal("expected error for wrong passphrase")
	}
}
