// Package cloud stores reviews in Google Cloud Datastore.
//
// Reviews are entities of kind Review keyed by a generated name, optionally
// isolated by a Datastore namespace:
//
//	client, _ := datastore.NewClient(ctx, projectID)
//	repo := cloud.New(client, "")
package cloud

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"cloud.google.com/go/datastore"
	"github.com/google/uuid"
	"github.com/zarlcorp/zplaces/internal/review"
)

// KindReview is the Datastore kind of review entities.
const KindReview = "Review"

// ReviewEntity is the Datastore entity for a review.
type ReviewEntity struct {
	Key       *datastore.Key `datastore:"__key__"`
	PlaceID   string         `datastore:"placeId"`
	PlaceName string         `datastore:"placeName"`
	Rating    int            `datastore:"rating"`
	Comment   string         `datastore:"comment,noindex"`
	Photos    []string       `datastore:"photos,noindex"`
	Features  []string       `datastore:"features"`
	UserID    string         `datastore:"userId"`
	UserName  string         `datastore:"userName"`
	CreatedAt time.Time      `datastore:"createdAt"`
}

func (e *ReviewEntity) toRecord() review.Record {
	return review.Record{
		ID:        e.Key.Name,
		PlaceID:   e.PlaceID,
		PlaceName: e.PlaceName,
		Rating:    e.Rating,
		Comment:   e.Comment,
		Photos:    e.Photos,
		Features:  e.Features,
		UserID:    e.UserID,
		UserName:  e.UserName,
		CreatedAt: e.CreatedAt,
	}
}

func recordToEntity(r review.Record, key *datastore.Key) *ReviewEntity {
	return &ReviewEntity{
		Key:       key,
		PlaceID:   r.PlaceID,
		PlaceName: r.PlaceName,
		Rating:    r.Rating,
		Comment:   r.Comment,
		Photos:    r.Photos,
		Features:  r.Features,
		UserID:    r.UserID,
		UserName:  r.UserName,
		CreatedAt: r.CreatedAt,
	}
}

// Repository is a review.Repository over Datastore.
type Repository struct {
	client    *datastore.Client
	namespace string
}

// New creates a Datastore-backed Repository.
func New(client *datastore.Client, namespace string) *Repository {
	return &Repository{client: client, namespace: namespace}
}

func (r *Repository) namespacedKey(name string) *datastore.Key {
	key := datastore.NameKey(KindReview, name, nil)
	key.Namespace = r.namespace
	return key
}

func (r *Repository) Add(ctx context.Context, rec review.Record) (string, error) {
	id := uuid.NewString()
	key := r.namespacedKey(id)

	if _, err := r.client.Put(ctx, key, recordToEntity(rec, key)); err != nil {
		return "", fmt.Errorf("put review: %w", err)
	}
	return id, nil
}

func (r *Repository) ByOwner(ctx context.Context, owner string) ([]review.Record, error) {
	query := datastore.NewQuery(KindReview).
		FilterField("userId", "=", owner)
	if r.namespace != "" {
		query = query.Namespace(r.namespace)
	}

	var entities []ReviewEntity
	if _, err := r.client.GetAll(ctx, query, &entities); err != nil {
		return nil, fmt.Errorf("query reviews: %w", err)
	}

	out := make([]review.Record, 0, len(entities))
	for i := range entities {
		out = append(out, entities[i].toRecord())
	}

	// ordering in memory avoids a composite index on (userId, createdAt)
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (r *Repository) Delete(ctx context.Context, id string) error {
	key := r.namespacedKey(id)

	var e ReviewEntity
	if err := r.client.Get(ctx, key, &e); err != nil {
		if errors.Is(err, datastore.ErrNoSuchEntity) {
			return review.ErrNotFound
		}
		return fmt.Errorf("get review: %w", err)
	}

	if err := r.client.Delete(ctx, key); err != nil {
		return fmt.Errorf("delete review: %w", err)
	}
	return nil
}

// DeleteByOwner removes every review owned by owner in one batch.
func (r *Repository) DeleteByOwner(ctx context.Context, owner string) (int, error) {
	query := datastore.NewQuery(KindReview).
		FilterField("userId", "=", owner).
		KeysOnly()
	if r.namespace != "" {
		query = query.Namespace(r.namespace)
	}

	keys, err := r.client.GetAll(ctx, query, nil)
	if err != nil {
		return 0, fmt.Errorf("query review keys: %w", err)
	}
	if len(keys) == 0 {
		return 0, nil
	}

	if err := r.client.DeleteMulti(ctx, keys); err != nil {
		return 0, fmt.Errorf("delete reviews: %w", err)
	}
	return len(keys), nil
}
