// Package stats keeps per-identity usage counters and derives the trusted
// contributor badge from them.
package stats

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/zarlcorp/zplaces/internal/userdata"
)

// VerifiedReviewThreshold is the number of reviews that earns the badge.
const VerifiedReviewThreshold = 3

// UsageStats are the counters stored under the userStats field.
// IsVerified and VerifiedAt cache the last badge computation.
type UsageStats struct {
	PlacesAdded  int        `json:"placesAdded"`
	ReviewsAdded int        `json:"reviewsAdded"`
	IsVisitor    bool       `json:"isVisitor"`
	JoinDate     time.Time  `json:"joinDate"`
	LastActivity time.Time  `json:"lastActivity"`
	IsVerified   bool       `json:"isVerified"`
	VerifiedAt   *time.Time `json:"verifiedAt,omitempty"`
}

// Criteria shows how far an identity is from the badge.
type Criteria struct {
	ReviewsAdded    int  `json:"reviewsAdded"`
	ReviewsRequired int  `json:"reviewsRequired"`
	IsVisitor       bool `json:"isVisitor"`
}

// Status is the outcome of a verification check.
type Status struct {
	IsVerified bool       `json:"isVerified"`
	Criteria   Criteria   `json:"criteria"`
	VerifiedAt *time.Time `json:"verifiedAt,omitempty"`
}

// Tracker reads and updates usage stats.
type Tracker struct {
	data *userdata.Store
	now  func() time.Time
	log  *slog.Logger
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(t *Tracker) { t.log = l }
}

// New creates a Tracker over data.
func New(data *userdata.Store, opts ...Option) *Tracker {
	t := &Tracker{data: data, now: time.Now, log: slog.Default()}
	for _, o := range opts {
		o(t)
	}
	return t
}

// Get returns the stats of identity. Missing or unreadable stats come back
// as fresh counters.
func (t *Tracker) Get(ctx context.Context, identity string) (UsageStats, error) {
	v, ok, err := t.data.Raw(ctx, identity, userdata.FieldStats)
	if err != nil {
		return UsageStats{}, fmt.Errorf("get stats: %w", err)
	}

	fresh := UsageStats{IsVisitor: identity == userdata.Visitor}
	if !ok {
		return fresh, nil
	}

	var s UsageStats
	if err := v.Decode(&s); err != nil {
		t.log.Warn("stats unreadable, starting over", "identity", identity, "err", err)
		return fresh, nil
	}
	return s, nil
}

// Init writes fresh stats for identity unless some already exist.
func (t *Tracker) Init(ctx context.Context, identity string) error {
	if t.data.Has(ctx, identity, userdata.FieldStats) {
		return nil
	}

	now := t.now().UTC()
	s := UsageStats{
		IsVisitor:    identity == userdata.Visitor,
		JoinDate:     now,
		LastActivity: now,
	}
	if err := t.data.SetFor(ctx, identity, userdata.FieldStats, s); err != nil {
		return fmt.Errorf("init stats: %w", err)
	}
	return nil
}

// IncrementPlacesAdded counts one added place.
func (t *Tracker) IncrementPlacesAdded(ctx context.Context, identity string) (UsageStats, error) {
	return t.AddCounts(ctx, identity, 0, 1)
}

// IncrementReviewsAdded counts one added review and refreshes the badge.
func (t *Tracker) IncrementReviewsAdded(ctx context.Context, identity string) (UsageStats, error) {
	return t.AddCounts(ctx, identity, 1, 0)
}

// AddCounts adds to the review and place counters, stamps the activity time
// and refreshes the badge.
func (t *Tracker) AddCounts(ctx context.Context, identity string, reviews, places int) (UsageStats, error) {
	s, err := t.Get(ctx, identity)
	if err != nil {
		return UsageStats{}, err
	}

	now := t.now().UTC()
	if s.JoinDate.IsZero() {
		s.JoinDate = now
	}
	s.ReviewsAdded += reviews
	s.PlacesAdded += places
	s.LastActivity = now
	s.IsVisitor = identity == userdata.Visitor
	t.applyBadge(identity, &s)

	if err := t.data.SetFor(ctx, identity, userdata.FieldStats, s); err != nil {
		return UsageStats{}, fmt.Errorf("update stats: %w", err)
	}
	return s, nil
}

// CheckVerificationStatus recomputes the badge from the counters and
// persists the result. The cached IsVerified flag is never trusted as input.
func (t *Tracker) CheckVerificationStatus(ctx context.Context, identity string) (Status, error) {
	s, err := t.Get(ctx, identity)
	if err != nil {
		return Status{}, fmt.Errorf("check verification: %w", err)
	}

	wasVerified, wasAt := s.IsVerified, s.VerifiedAt
	t.applyBadge(identity, &s)

	if s.IsVerified != wasVerified || !sameTime(s.VerifiedAt, wasAt) {
		if err := t.data.SetFor(ctx, identity, userdata.FieldStats, s); err != nil {
			// the computed status is still correct; only the cache is stale
			t.log.Warn("persist verification", "identity", identity, "err", err)
		}
	}

	return Status{
		IsVerified: s.IsVerified,
		Criteria: Criteria{
			ReviewsAdded:    s.ReviewsAdded,
			ReviewsRequired: VerifiedReviewThreshold,
			IsVisitor:       identity == userdata.Visitor,
		},
		VerifiedAt: s.VerifiedAt,
	}, nil
}

// applyBadge sets IsVerified from the counters. VerifiedAt is stamped the
// first time the badge is earned and dropped when it is lost.
func (t *Tracker) applyBadge(identity string, s *UsageStats) {
	s.IsVerified = Verified(identity, s.ReviewsAdded)
	switch {
	case s.IsVerified && s.VerifiedAt == nil:
		at := t.now().UTC()
		s.VerifiedAt = &at
	case !s.IsVerified:
		s.VerifiedAt = nil
	}
}

// Verified is the badge rule.
func Verified(identity string, reviewsAdded int) bool {
	return identity != userdata.Visitor && reviewsAdded >= VerifiedReviewThreshold
}

func sameTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}
