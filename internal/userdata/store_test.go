package userdata

import (
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/zarlcorp/core/pkg/zfilesystem"
	"github.com/zarlcorp/zplaces/internal/kv"
)

// fakes

type staticResolver struct {
	id  string
	err error
}

func (r staticResolver) CurrentIdentity(context.Context) (string, error) {
	return r.id, r.err
}

// failingKV fails every call once err is set.
type failingKV struct {
	*kv.Memory
	err error
}

func (f *failingKV) GetItem(ctx context.Context, key string) (string, bool, error) {
	if f.err != nil {
		return "", false, f.err
	}
	return f.Memory.GetItem(ctx, key)
}

func (f *failingKV) SetItem(ctx context.Context, key, value string) error {
	if f.err != nil {
		return f.err
	}
	return f.Memory.SetItem(ctx, key, value)
}

func (f *failingKV) AllKeys(ctx context.Context) ([]string, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.Memory.AllKeys(ctx)
}

func newStore(t *testing.T) (*Store, *kv.Memory) {
	t.Helper()
	mem := kv.NewMemory()
	return New(mem), mem
}

// key tests

func TestDeriveKeyRejectsInvalidIdentity(t *testing.T) {
	for _, id := range []string{"", "   ", "a", "z/../user_b@x.com", "a@x.com\n", "visitor2"} {
		if _, err := DeriveKey(id, FieldFavorites); !errors.Is(err, ErrInvalidIdentity) {
			t.Errorf("DeriveKey(%q): got %v, want ErrInvalidIdentity", id, err)
		}
	}
}

func TestDeriveKeyRejectsBadField(t *testing.T) {
	for _, f := range []string{"", "has_underscore", "1abc", "a.b"} {
		if _, err := DeriveKey("a@x.com", f); !errors.Is(err, ErrInvalidField) {
			t.Errorf("DeriveKey field %q: got %v, want ErrInvalidField", f, err)
		}
	}
}

func TestKeyString(t *testing.T) {
	k, err := DeriveKey("a@x.com", FieldFavorites)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := k.String(), "user_a@x.com_favorites"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}

func TestParseKeyRoundTrip(t *testing.T) {
	ids := []string{"visitor", "a@x.com", "john_doe@x.com", "a_b_c@d.org"}
	fields := []string{FieldFavorites, FieldProfile, FieldStats, "custom2"}

	for _, id := range ids {
		for _, f := range fields {
			k, err := DeriveKey(id, f)
			if err != nil {
				t.Fatalf("derive %s/%s: %v", id, f, err)
			}
			got, ok := ParseKey(k.String())
			if !ok {
				t.Fatalf("ParseKey(%q) failed", k.String())
			}
			if got != k {
				t.Errorf("ParseKey(%q) = %+v, want %+v", k.String(), got, k)
			}
		}
	}
}

func TestParseKeyRejectsNonNamespaced(t *testing.T) {
	tests := []string{
		"isAuthenticated",
		"userProfile",
		"user_a@x.com",        // legacy flat record
		"user_john_doe@x.com", // legacy flat record with underscore
		"user__favorites",
		"user_visitor_",
	}
	for _, raw := range tests {
		if k, ok := ParseKey(raw); ok {
			t.Errorf("ParseKey(%q) = %+v, want rejection", raw, k)
		}
	}
}

// store tests

func TestRoundTrip(t *testing.T) {
	ctx := context.Background()
	s, _ := newStore(t)

	type prefs struct {
		Wheelchair bool     `json:"wheelchair"`
		Tags       []string `json:"tags"`
	}

	t.Run("struct", func(t *testing.T) {
		want := prefs{Wheelchair: true, Tags: []string{"ramp", "lift"}}
		if err := s.SetFor(ctx, "a@x.com", FieldAccessibilityPrefs, want); err != nil {
			t.Fatal(err)
		}
		got := GetFor(ctx, s, "a@x.com", FieldAccessibilityPrefs, prefs{})
		if !reflect.DeepEqual(got, want) {
			t.Errorf("got %+v, want %+v", got, want)
		}
	})

	t.Run("slice", func(t *testing.T) {
		want := []string{"p1", "p2"}
		if err := s.SetFor(ctx, "a@x.com", FieldFavorites, want); err != nil {
			t.Fatal(err)
		}
		got := GetFor[[]string](ctx, s, "a@x.com", FieldFavorites, nil)
		if !reflect.DeepEqual(got, want) {
			t.Errorf("got %v, want %v", got, want)
		}
	})

	t.Run("number", func(t *testing.T) {
		if err := s.SetFor(ctx, "a@x.com", FieldSearchRadius, 2500); err != nil {
			t.Fatal(err)
		}
		if got := GetFor(ctx, s, "a@x.com", FieldSearchRadius, 0); got != 2500 {
			t.Errorf("got %d, want 2500", got)
		}
	})

	strs := []string{"dark", "true", "123", `{"not":"decoded"}`, `"quoted"`, ""}
	for _, want := range strs {
		t.Run("string "+want, func(t *testing.T) {
			if err := s.SetFor(ctx, "a@x.com", FieldMapStyle, want); err != nil {
				t.Fatal(err)
			}
			if got := GetFor(ctx, s, "a@x.com", FieldMapStyle, "default"); got != want {
				t.Errorf("got %q, want %q", got, want)
			}
		})
	}
}

func TestStringIsNotDoubleEncoded(t *testing.T) {
	ctx := context.Background()
	s, mem := newStore(t)

	if err := s.SetFor(ctx, "visitor", FieldPushToken, "tok-123"); err != nil {
		t.Fatal(err)
	}

	raw, _, _ := mem.GetItem(ctx, "user_visitor_pushToken")
	if raw != "tok-123" {
		t.Errorf("stored %q, want bare string", raw)
	}
}

func TestGetLegacyNonJSONAsAny(t *testing.T) {
	ctx := context.Background()
	s, mem := newStore(t)

	mem.SetItem(ctx, "user_a@x.com_mapStyle", "satellite view")

	got := GetFor[any](ctx, s, "a@x.com", FieldMapStyle, nil)
	if got != "satellite view" {
		t.Errorf("got %v, want raw string", got)
	}
}

func TestGetDefaults(t *testing.T) {
	ctx := context.Background()
	s, mem := newStore(t)

	if got := GetFor(ctx, s, "a@x.com", FieldSearchRadius, 1000); got != 1000 {
		t.Errorf("absent: got %d, want default", got)
	}

	mem.SetItem(ctx, "user_a@x.com_searchRadius", "not a number")
	if got := GetFor(ctx, s, "a@x.com", FieldSearchRadius, 1000); got != 1000 {
		t.Errorf("undecodable: got %d, want default", got)
	}

	f := &failingKV{Memory: kv.NewMemory(), err: errors.New("disk gone")}
	fs := New(f)
	if got := GetFor(ctx, fs, "a@x.com", FieldSearchRadius, 1000); got != 1000 {
		t.Errorf("read error: got %d, want default", got)
	}
}

func TestSetReportsIOError(t *testing.T) {
	ioErr := errors.New("disk full")
	s := New(&failingKV{Memory: kv.NewMemory(), err: ioErr})

	err := s.SetFor(context.Background(), "a@x.com", FieldFavorites, []string{"p1"})
	if !errors.Is(err, ioErr) {
		t.Errorf("got %v, want wrapped io error", err)
	}
}

func TestCurrentIdentityResolution(t *testing.T) {
	ctx := context.Background()
	s, mem := newStore(t)

	if err := s.Set(ctx, FieldFavorites, []string{"p1"}); !errors.Is(err, ErrInvalidIdentity) {
		t.Fatalf("no resolver: got %v, want ErrInvalidIdentity", err)
	}

	s.SetResolver(staticResolver{err: errors.New("signed out")})
	if err := s.Set(ctx, FieldFavorites, []string{"p1"}); !errors.Is(err, ErrInvalidIdentity) {
		t.Fatalf("resolver error: got %v, want ErrInvalidIdentity", err)
	}
	if keys, _ := mem.AllKeys(ctx); len(keys) != 0 {
		t.Fatalf("nothing should be written without identity, got %v", keys)
	}

	s.SetResolver(staticResolver{id: "a@x.com"})
	if err := s.Set(ctx, FieldFavorites, []string{"p1"}); err != nil {
		t.Fatalf("set: %v", err)
	}
	if !s.Has(ctx, "a@x.com", FieldFavorites) {
		t.Error("field not written under resolved identity")
	}
	if got := Get[[]string](ctx, s, FieldFavorites, nil); !reflect.DeepEqual(got, []string{"p1"}) {
		t.Errorf("Get = %v", got)
	}

	if err := s.Remove(ctx, FieldFavorites); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if s.Has(ctx, "a@x.com", FieldFavorites) {
		t.Error("field still present after Remove")
	}
}

func TestGetAllStripsPrefix(t *testing.T) {
	ctx := context.Background()
	s, mem := newStore(t)

	s.SetFor(ctx, "a@x.com", FieldFavorites, []string{"p1"})
	s.SetFor(ctx, "a@x.com", FieldMapStyle, "dark")
	mem.SetItem(ctx, "isAuthenticated", "true")
	mem.SetItem(ctx, "user_a@x.com", `{"email":"a@x.com"}`)

	rec, err := s.GetAll(ctx, "a@x.com")
	if err != nil {
		t.Fatal(err)
	}

	want := Record{FieldFavorites: `["p1"]`, FieldMapStyle: "dark"}
	if !reflect.DeepEqual(rec, want) {
		t.Errorf("GetAll = %v, want %v", rec, want)
	}
}

func TestGetAllErrors(t *testing.T) {
	s := New(&failingKV{Memory: kv.NewMemory(), err: errors.New("io")})
	if _, err := s.GetAll(context.Background(), "a@x.com"); err == nil {
		t.Error("expected error from failing store")
	}

	s2, _ := newStore(t)
	if _, err := s2.GetAll(context.Background(), ""); !errors.Is(err, ErrInvalidIdentity) {
		t.Errorf("empty identity: got %v", err)
	}
}

func TestIsolation(t *testing.T) {
	backends := []struct {
		name string
		open func(t *testing.T) kv.Store
	}{
		{"memory", func(t *testing.T) kv.Store { return kv.NewMemory() }},
		{"encrypted", func(t *testing.T) kv.Store {
			e, err := kv.OpenEncrypted(zfilesystem.NewMemFS(), []byte("testpass"))
			if err != nil {
				t.Fatal(err)
			}
			t.Cleanup(func() { e.Close() })
			return e
		}},
		{"sqlite", func(t *testing.T) kv.Store {
			db, err := kv.OpenSQLite(filepath.Join(t.TempDir(), "kv.db"))
			if err != nil {
				t.Fatal(err)
			}
			t.Cleanup(func() { db.Close() })
			return db
		}},
	}

	// prefixes of one another and differing only in case on purpose
	ids := []string{"a@x.com", "a@x.co", "visitor", "a_b@x.com", "b_a@x.com", "A@x.com"}

	for _, b := range backends {
		t.Run(b.name, func(t *testing.T) {
			ctx := context.Background()
			s := New(b.open(t))

			for _, id := range ids {
				if err := s.SetFor(ctx, id, FieldFavorites, []string{id}); err != nil {
					t.Fatal(err)
				}
			}

			for _, writer := range ids {
				before := make(map[string]Record)
				for _, other := range ids {
					rec, err := s.GetAll(ctx, other)
					if err != nil {
						t.Fatal(err)
					}
					before[other] = rec
				}

				if err := s.SetFor(ctx, writer, FieldHistory, []string{"by " + writer}); err != nil {
					t.Fatal(err)
				}

				for _, other := range ids {
					if other == writer {
						continue
					}
					after, err := s.GetAll(ctx, other)
					if err != nil {
						t.Fatal(err)
					}
					if !reflect.DeepEqual(after, before[other]) {
						t.Errorf("write to %q changed %q: %v -> %v", writer, other, before[other], after)
					}
				}
			}

			for _, id := range ids {
				got := GetFor(ctx, s, id, FieldFavorites, []string(nil))
				if !reflect.DeepEqual(got, []string{id}) {
					t.Errorf("favorites of %q = %v", id, got)
				}
			}
		})
	}
}

func TestMalformedIdentityCannotReachAnotherNamespace(t *testing.T) {
	ctx := context.Background()
	e, err := kv.OpenEncrypted(zfilesystem.NewMemFS(), []byte("testpass"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { e.Close() })
	s := New(e)

	if err := s.SetFor(ctx, "b@x.com", FieldFavorites, []string{"mine"}); err != nil {
		t.Fatal(err)
	}

	for _, id := range []string{"z/../user_b@x.com", "../b@x.com", "b@x.com/..", "a b@x.com", "visitor/x"} {
		err := s.SetFor(ctx, id, FieldFavorites, []string{"other"})
		if !errors.Is(err, ErrInvalidIdentity) {
			t.Errorf("SetFor(%q): got %v, want ErrInvalidIdentity", id, err)
		}
	}

	got := GetFor(ctx, s, "b@x.com", FieldFavorites, []string(nil))
	if !reflect.DeepEqual(got, []string{"mine"}) {
		t.Errorf("favorites of b@x.com = %v, want [mine]", got)
	}
}

func TestClearAll(t *testing.T) {
	ctx := context.Background()
	s, mem := newStore(t)

	s.SetFor(ctx, "visitor", FieldFavorites, []string{"p1"})
	s.SetFor(ctx, "visitor", FieldMapMarkers, []string{"m1"})
	s.SetFor(ctx, "visitor_x@y.com", FieldFavorites, []string{"keep"})
	mem.SetItem(ctx, "isAuthenticated", "true")

	n, err := s.ClearAll(ctx, "visitor")
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("removed %d, want 2", n)
	}

	rec, _ := s.GetAll(ctx, "visitor")
	if len(rec) != 0 {
		t.Errorf("visitor not empty: %v", rec)
	}
	if !s.Has(ctx, "visitor_x@y.com", FieldFavorites) {
		t.Error("clear removed another identity's data")
	}
	if _, ok, _ := mem.GetItem(ctx, "isAuthenticated"); !ok {
		t.Error("clear removed a global key")
	}
}

func TestIdentities(t *testing.T) {
	ctx := context.Background()
	s, mem := newStore(t)

	s.SetFor(ctx, "visitor", FieldFavorites, []string{"p1"})
	s.SetFor(ctx, "b@x.com", FieldFavorites, []string{"p1"})
	s.SetFor(ctx, "b@x.com", FieldMapStyle, "dark")
	mem.SetItem(ctx, "user_c@x.com", "{}")

	ids, err := s.Identities(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if want := []string{"b@x.com", "visitor"}; !reflect.DeepEqual(ids, want) {
		t.Errorf("Identities = %v, want %v", ids, want)
	}
}

func TestEncodeValue(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want Value
	}{
		{"string", "plain", "plain"},
		{"value", Value(`["x"]`), `["x"]`},
		{"bool", true, "true"},
		{"map", map[string]int{"a": 1}, `{"a":1}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Encode(tt.in)
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("Encode(%v) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}

	if _, err := Encode(func() {}); err == nil {
		t.Error("encoding a func should fail")
	}
}
