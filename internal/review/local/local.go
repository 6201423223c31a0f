// Package local stores reviews in a zstore collection on the device.
package local

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/zarlcorp/core/pkg/zstore"
	"github.com/zarlcorp/zplaces/internal/review"
)

const collectionName = "reviews"

// Repository is a review.Repository over a zstore collection.
type Repository struct {
	mu  sync.Mutex
	col *zstore.Collection[review.Record]
}

// New returns a Repository using the reviews collection of s.
func New(s *zstore.Store) (*Repository, error) {
	col, err := zstore.NewCollection[review.Record](s, collectionName)
	if err != nil {
		return nil, fmt.Errorf("open reviews collection: %w", err)
	}
	return &Repository{col: col}, nil
}

func (r *Repository) Add(ctx context.Context, rec review.Record) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	rec.ID = uuid.NewString()
	if err := r.col.Put(rec.ID, rec); err != nil {
		return "", fmt.Errorf("put review: %w", err)
	}
	return rec.ID, nil
}

func (r *Repository) ByOwner(ctx context.Context, owner string) ([]review.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	all, err := r.col.List()
	if err != nil {
		return nil, fmt.Errorf("list reviews: %w", err)
	}

	var out []review.Record
	for _, rec := range all {
		if rec.UserID == owner {
			out = append(out, rec)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (r *Repository) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, err := r.col.Get(id); err != nil {
		if errors.Is(err, zstore.ErrNotFound) {
			return review.ErrNotFound
		}
		return fmt.Errorf("delete review %s: %w", id, err)
	}
	if err := r.col.Delete(id); err != nil {
		return fmt.Errorf("delete review %s: %w", id, err)
	}
	return nil
}
