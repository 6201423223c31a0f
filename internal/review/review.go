// Package review is the remote review store used when visitor data moves to a
// registered account. Records live in a Repository; photos go through an
// Uploader.
package review

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// ErrNotFound is returned when a review does not exist.
var ErrNotFound = errors.New("review not found")

// ErrNoUploader is returned by UploadImage when no photo store is configured.
var ErrNoUploader = errors.New("no photo uploader configured")

// Record is one accessibility review of a place.
type Record struct {
	ID        string    `json:"id"`
	PlaceID   string    `json:"placeId"`
	PlaceName string    `json:"placeName"`
	Rating    int       `json:"rating"`
	Comment   string    `json:"comment"`
	Photos    []string  `json:"photos"`
	Features  []string  `json:"features"`
	UserID    string    `json:"userId"`
	UserName  string    `json:"userName"`
	CreatedAt time.Time `json:"createdAt"`
}

// Repository persists review records.
type Repository interface {
	// Add stores r under a new ID and returns it. r.ID is ignored.
	Add(ctx context.Context, r Record) (string, error)
	// ByOwner returns every review whose UserID is owner, oldest first.
	ByOwner(ctx context.Context, owner string) ([]Record, error)
	// Delete removes a review. A missing review yields ErrNotFound.
	Delete(ctx context.Context, id string) error
}

// Uploader stores a photo and returns the URL it can be fetched from.
type Uploader interface {
	Upload(ctx context.Context, src, folder string) (string, error)
}

// Service combines a Repository and an Uploader.
type Service struct {
	repo Repository
	up   Uploader
	now  func() time.Time
	log  *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.log = l }
}

// WithClock overrides time.Now for CreatedAt stamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates a Service. up may be nil, in which case UploadImage
// fails with ErrNoUploader.
func NewService(repo Repository, up Uploader, opts ...Option) *Service {
	s := &Service{repo: repo, up: up, now: time.Now, log: slog.Default()}
	for _, o := range opts {
		o(s)
	}
	return s
}

// AddReview stores data as a review owned by owner.
func (s *Service) AddReview(ctx context.Context, data Record, owner string) (string, error) {
	if owner == "" {
		return "", errors.New("add review: owner is required")
	}

	data.ID = ""
	data.UserID = owner
	if data.CreatedAt.IsZero() {
		data.CreatedAt = s.now().UTC()
	}

	id, err := s.repo.Add(ctx, data)
	if err != nil {
		return "", fmt.Errorf("add review: %w", err)
	}

	s.log.Debug("review added", "id", id, "owner", owner, "place", data.PlaceID)
	return id, nil
}

// ReviewsByOwner lists the reviews owned by owner.
func (s *Service) ReviewsByOwner(ctx context.Context, owner string) ([]Record, error) {
	rs, err := s.repo.ByOwner(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("reviews by owner: %w", err)
	}
	return rs, nil
}

// DeleteReview removes a review.
func (s *Service) DeleteReview(ctx context.Context, id string) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete review %s: %w", id, err)
	}
	return nil
}

// ownerDeleter is implemented by repositories that can remove all of an
// owner's reviews in one call.
type ownerDeleter interface {
	DeleteByOwner(ctx context.Context, owner string) (int, error)
}

// DeleteReviewsByOwner removes every review owned by owner and returns how
// many went. Without batch support each review is deleted in turn; failures
// do not stop the loop and are returned joined.
func (s *Service) DeleteReviewsByOwner(ctx context.Context, owner string) (int, error) {
	if d, ok := s.repo.(ownerDeleter); ok {
		n, err := d.DeleteByOwner(ctx, owner)
		if err != nil {
			return n, fmt.Errorf("delete reviews by owner: %w", err)
		}
		return n, nil
	}

	rs, err := s.ReviewsByOwner(ctx, owner)
	if err != nil {
		return 0, err
	}

	var errs []error
	n := 0
	for _, r := range rs {
		if err := s.repo.Delete(ctx, r.ID); err != nil && !errors.Is(err, ErrNotFound) {
			errs = append(errs, fmt.Errorf("%s: %w", r.ID, err))
			continue
		}
		n++
	}
	return n, errors.Join(errs...)
}

// UploadImage stores the photo at uriOrURL under folder.
func (s *Service) UploadImage(ctx context.Context, uriOrURL, folder string) (string, error) {
	if s.up == nil {
		return "", ErrNoUploader
	}

	u, err := s.up.Upload(ctx, uriOrURL, folder)
	if err != nil {
		return "", fmt.Errorf("upload image: %w", err)
	}
	return u, nil
}
