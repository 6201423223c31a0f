// Package migrate moves the visitor's data to a newly registered account.
//
// Local fields are copied first, then remote reviews are recreated under the
// new owner with their photos re-uploaded. Nothing spans both stores
// transactionally, so every remote step is best-effort and failures only
// lower the counts in the Result.
package migrate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/zarlcorp/zplaces/internal/purge"
	"github.com/zarlcorp/zplaces/internal/review"
	"github.com/zarlcorp/zplaces/internal/stats"
	"github.com/zarlcorp/zplaces/internal/userdata"
)

// ErrInvalidTarget is returned for the visitor itself or a target that is
// not an email address.
var ErrInvalidTarget = errors.New("invalid migration target")

// Reviews is the remote review store.
type Reviews interface {
	AddReview(ctx context.Context, data review.Record, owner string) (string, error)
	ReviewsByOwner(ctx context.Context, owner string) ([]review.Record, error)
	DeleteReview(ctx context.Context, id string) error
	UploadImage(ctx context.Context, uriOrURL, folder string) (string, error)
}

// Result describes one migration.
type Result struct {
	Migrated        bool
	Count           int
	ReviewsMigrated int
	// Err is set only when the visitor's data could not be read at all.
	Err error
	// Cleanup is the purge report when the visitor namespace was cleared.
	Cleanup *purge.Report
}

// Engine migrates visitor data. Migrations out of the same source identity
// are serialized.
type Engine struct {
	data    *userdata.Store
	reviews Reviews
	stats   *stats.Tracker
	log     *slog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// WithStats sets the tracker updated after a migration.
func WithStats(t *stats.Tracker) Option {
	return func(e *Engine) { e.stats = t }
}

// New creates an Engine. reviews may be nil when no remote store is
// configured; review steps are then skipped.
func New(data *userdata.Store, reviews Reviews, opts ...Option) *Engine {
	e := &Engine{
		data:    data,
		reviews: reviews,
		log:     slog.Default(),
		locks:   make(map[string]*sync.Mutex),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

func (e *Engine) lock(identity string) func() {
	e.mu.Lock()
	l, ok := e.locks[identity]
	if !ok {
		l = &sync.Mutex{}
		e.locks[identity] = l
	}
	e.mu.Unlock()

	l.Lock()
	return l.Unlock
}

// MigrateVisitorDataToUser copies the visitor's data to target. With
// cleanup set, the visitor namespace is purged afterwards if anything moved.
func (e *Engine) MigrateVisitorDataToUser(ctx context.Context, target string, cleanup bool) Result {
	if target == userdata.Visitor || !userdata.ValidIdentity(target) {
		return Result{Err: fmt.Errorf("migrate to %q: %w", target, ErrInvalidTarget)}
	}

	unlock := e.lock(userdata.Visitor)
	defer unlock()

	log := e.log.With("target", target)

	// 1. read everything the visitor has
	rec, err := e.data.GetAll(ctx, userdata.Visitor)
	if err != nil {
		log.Error("migrate: read visitor data", "err", err)
		return Result{Err: fmt.Errorf("read visitor data: %w", err)}
	}

	// 2. copy fields
	res := Result{Count: e.copyFields(ctx, log, rec, target)}

	// 3. move remote reviews, 4. sweep leftovers
	if e.reviews != nil {
		res.ReviewsMigrated = e.moveReviews(ctx, log, target)
		if n, err := e.sweep(ctx); err != nil {
			log.Warn("migrate: sweep visitor reviews", "deleted", n, "err", err)
		}
	}

	res.Migrated = res.Count > 0 || res.ReviewsMigrated > 0

	// 5. stats
	if res.Migrated && e.stats != nil {
		e.updateStats(ctx, log, rec, target, res.ReviewsMigrated)
	}

	// 6. cleanup
	if cleanup && res.Migrated {
		report := purge.Execute(ctx, purge.Request{
			Identity:  userdata.Visitor,
			Data:      e.data,
			Namespace: purge.ScopeAll,
			Global:    true,
		})
		if report.HasErrors() {
			log.Warn("migrate: cleanup", "err", report.Err())
		}
		res.Cleanup = &report
	}

	log.Info("visitor data migrated",
		"fields", res.Count,
		"reviews", res.ReviewsMigrated,
		"cleanup", res.Cleanup != nil,
	)
	return res
}

// DiscardVisitorData destroys the visitor's local data, the global session
// keys and the visitor's remote reviews.
func (e *Engine) DiscardVisitorData(ctx context.Context) purge.Report {
	unlock := e.lock(userdata.Visitor)
	defer unlock()

	req := purge.Request{
		Identity:  userdata.Visitor,
		Data:      e.data,
		Namespace: purge.ScopeAll,
		Global:    true,
	}
	if e.reviews != nil {
		req.Reviews = e.deleter()
	}

	report := purge.Execute(ctx, req)
	if report.HasErrors() {
		e.log.Warn("discard visitor data", "err", report.Err())
	}
	return report
}

// copyFields writes every non-session field of rec under target and returns
// how many were written. With a tracker, userStats counts as migrated but is
// merged into the target's counters by updateStats instead of overwriting
// them.
func (e *Engine) copyFields(ctx context.Context, log *slog.Logger, rec userdata.Record, target string) int {
	fields := make([]string, 0, len(rec))
	for f := range rec {
		if userdata.IsSessionField(f) {
			continue
		}
		fields = append(fields, f)
	}
	sort.Strings(fields)

	n := 0
	for _, f := range fields {
		if f == userdata.FieldStats && e.stats != nil {
			n++
			continue
		}
		if err := e.data.SetRaw(ctx, target, f, rec[f]); err != nil {
			log.Warn("migrate: copy field", "field", f, "err", err)
			continue
		}
		n++
	}
	return n
}

func (e *Engine) moveReviews(ctx context.Context, log *slog.Logger, target string) int {
	rs, err := e.reviews.ReviewsByOwner(ctx, userdata.Visitor)
	if err != nil {
		log.Warn("migrate: list visitor reviews", "err", err)
		return 0
	}

	n := 0
	for _, r := range rs {
		r.Photos = e.movePhotos(ctx, log, r, target)

		oldID := r.ID
		if _, err := e.reviews.AddReview(ctx, r, target); err != nil {
			log.Warn("migrate: recreate review", "review", oldID, "err", err)
			continue
		}
		n++

		if err := e.reviews.DeleteReview(ctx, oldID); err != nil {
			log.Warn("migrate: delete visitor review", "review", oldID, "err", err)
		}
	}
	return n
}

// movePhotos re-uploads each photo of r. A failed upload keeps the original
// reference.
func (e *Engine) movePhotos(ctx context.Context, log *slog.Logger, r review.Record, target string) []string {
	if len(r.Photos) == 0 {
		return r.Photos
	}

	folder := "reviews/" + target
	out := make([]string, len(r.Photos))
	for i, src := range r.Photos {
		u, err := e.reviews.UploadImage(ctx, src, folder)
		if err != nil {
			log.Warn("migrate: upload photo", "review", r.ID, "photo", src, "err", err)
			out[i] = src
			continue
		}
		out[i] = u
	}
	return out
}

// deleter returns something that can remove all visitor reviews, batching
// when the store supports it.
func (e *Engine) deleter() purge.ReviewDeleter {
	if d, ok := e.reviews.(purge.ReviewDeleter); ok {
		return d
	}
	return reviewSweeper{e.reviews}
}

func (e *Engine) sweep(ctx context.Context) (int, error) {
	return e.deleter().DeleteReviewsByOwner(ctx, userdata.Visitor)
}

func (e *Engine) updateStats(ctx context.Context, log *slog.Logger, rec userdata.Record, target string, reviews int) {
	var markers []any
	if v, ok := rec[userdata.FieldMapMarkers]; ok {
		if err := v.Decode(&markers); err != nil {
			log.Debug("migrate: map markers not a list", "err", err)
		}
	}

	if _, err := e.stats.AddCounts(ctx, target, reviews, len(markers)); err != nil {
		log.Warn("migrate: update stats", "err", err)
		return
	}
	if _, err := e.stats.CheckVerificationStatus(ctx, target); err != nil {
		log.Warn("migrate: verification status", "err", err)
	}
}

// reviewSweeper deletes an owner's reviews one at a time.
type reviewSweeper struct {
	r Reviews
}

func (s reviewSweeper) DeleteReviewsByOwner(ctx context.Context, owner string) (int, error) {
	rs, err := s.r.ReviewsByOwner(ctx, owner)
	if err != nil {
		return 0, err
	}

	var errs []error
	n := 0
	for _, r := range rs {
		if err := s.r.DeleteReview(ctx, r.ID); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", r.ID, err))
			continue
		}
		n++
	}
	return n, errors.Join(errs...)
}
