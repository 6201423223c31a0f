package local

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/zarlcorp/core/pkg/zfilesystem"
	"github.com/zarlcorp/core/pkg/zstore"
	"github.com/zarlcorp/zplaces/internal/review"
)

func openTestRepo(t *testing.T) *Repository {
	t.Helper()
	r, _ := openTestRepoFS(t)
	return r
}

func openTestRepoFS(t *testing.T) (*Repository, *zfilesystem.MemFS) {
	t.Helper()
	fsys := zfilesystem.NewMemFS()
	s, err := zstore.Open(fsys, []byte("test"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	r, err := New(s)
	if err != nil {
		t.Fatal(err)
	}
	return r, fsys
}

func TestAddAndListByOwner(t *testing.T) {
	r := openTestRepo(t)
	ctx := context.Background()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	second, _ := r.Add(ctx, review.Record{PlaceID: "p2", UserID: "visitor", CreatedAt: base.Add(time.Hour)})
	first, _ := r.Add(ctx, review.Record{PlaceID: "p1", UserID: "visitor", CreatedAt: base})
	r.Add(ctx, review.Record{PlaceID: "p3", UserID: "a@x.com", CreatedAt: base})

	got, err := r.ByOwner(ctx, "visitor")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d reviews, want 2", len(got))
	}
	if got[0].ID != first || got[1].ID != second {
		t.Errorf("order = [%s %s], want [%s %s]", got[0].ID, got[1].ID, first, second)
	}
	if got[0].PlaceID != "p1" {
		t.Errorf("place = %q, want p1", got[0].PlaceID)
	}
}

func TestAddAssignsFreshID(t *testing.T) {
	r := openTestRepo(t)
	ctx := context.Background()

	a, _ := r.Add(ctx, review.Record{ID: "fixed", UserID: "u"})
	b, _ := r.Add(ctx, review.Record{ID: "fixed", UserID: "u"})
	if a == "fixed" || a == b {
		t.Errorf("ids = %q, %q", a, b)
	}
}

func TestDelete(t *testing.T) {
	r := openTestRepo(t)
	ctx := context.Background()

	id, _ := r.Add(ctx, review.Record{UserID: "visitor"})
	if err := r.Delete(ctx, id); err != nil {
		t.Fatal(err)
	}

	got, _ := r.ByOwner(ctx, "visitor")
	if len(got) != 0 {
		t.Errorf("review survived delete: %v", got)
	}

	if err := r.Delete(ctx, id); !errors.Is(err, review.ErrNotFound) {
		t.Errorf("second delete: got %v, want ErrNotFound", err)
	}
}

func TestDeleteUnreadableRecord(t *testing.T) {
	r, fsys := openTestRepoFS(t)
	ctx := context.Background()

	if err := fsys.WriteFile(collectionName+"/broken.enc", []byte("not ciphertext"), 0o600); err != nil {
		t.Fatal(err)
	}

	err := r.Delete(ctx, "broken")
	if err == nil {
		t.Fatal("expected error for unreadable record")
	}
	if errors.Is(err, review.ErrNotFound) {
		t.Errorf("unreadable record reported as missing: %v", err)
	}
	if _, readErr := fsys.ReadFile(collectionName + "/broken.enc"); readErr != nil {
		t.Errorf("record removed after failed read: %v", readErr)
	}
}

func TestServiceOverLocal(t *testing.T) {
	svc := review.NewService(openTestRepo(t), nil)
	ctx := context.Background()

	svc.AddReview(ctx, review.Record{PlaceID: "p1"}, "visitor")
	svc.AddReview(ctx, review.Record{PlaceID: "p2"}, "visitor")

	n, err := svc.DeleteReviewsByOwner(ctx, "visitor")
	if err != nil || n != 2 {
		t.Fatalf("deleted %d, err %v", n, err)
	}
	if left, _ := svc.ReviewsByOwner(ctx, "visitor"); len(left) != 0 {
		t.Errorf("left = %v", left)
	}
}
