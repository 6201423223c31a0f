// Package auth resolves who is signed in and performs login, registration
// and logout across the three storage layouts the app has used:
//
//   - root keys (isAuthenticated, userProfile, ...) acting as a session
//     projection,
//   - identity-namespaced keys user_<identity>_<field>,
//   - flat records user_<email> holding {email, password, name}.
//
// Readers for each layout are kept in fixed priority order. Writers update
// all layouts so that every reader stays consistent.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/zarlcorp/zplaces/internal/kv"
	"github.com/zarlcorp/zplaces/internal/migrate"
	"github.com/zarlcorp/zplaces/internal/purge"
	"github.com/zarlcorp/zplaces/internal/stats"
	"github.com/zarlcorp/zplaces/internal/userdata"
	"github.com/zarlcorp/zplaces/internal/vault"
)

// MinPasswordLength is the shortest password accepted for an account.
const MinPasswordLength = 6

// DefaultResetTokenTTL is how long a password reset token stays valid.
const DefaultResetTokenTTL = time.Hour

var (
	ErrEmailInUse           = errors.New("email already registered")
	ErrInvalidCredentials   = errors.New("invalid email or password")
	ErrTokenExpired         = errors.New("reset token expired")
	ErrInvalidToken         = errors.New("invalid reset token")
	ErrInvalidEmail         = errors.New("invalid email address")
	ErrWeakPassword         = errors.New("password too short")
	ErrNotAuthenticated     = errors.New("not signed in")
	ErrBiometricUnavailable = errors.New("biometric login not enabled")
)

// ValidEmail reports whether email looks like an address.
func ValidEmail(email string) bool {
	return userdata.ValidEmail(email)
}

// Profile is the stored user profile.
type Profile struct {
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	Phone     string    `json:"phone,omitempty"`
	IsVisitor bool      `json:"isVisitor,omitempty"`
	CreatedAt time.Time `json:"createdAt,omitzero"`
}

// Valid reports whether the profile can back a session.
func (p Profile) Valid() bool {
	return p.Email != "" && p.Name != ""
}

// VisitorMigrator moves or discards the visitor's data at registration.
type VisitorMigrator interface {
	MigrateVisitorDataToUser(ctx context.Context, target string, cleanup bool) migrate.Result
	DiscardVisitorData(ctx context.Context) purge.Report
}

// Resolver is the authentication state machine.
type Resolver struct {
	data     *userdata.Store
	kv       kv.Store
	vault    *vault.Vault
	migrator VisitorMigrator
	stats    *stats.Tracker
	now      func() time.Time
	resetTTL time.Duration
	log      *slog.Logger

	sessions []sessionSource
	accounts []accountSource
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Resolver) { r.log = l }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Resolver) { r.now = now }
}

// WithMigrator sets the visitor data migrator used by Register.
func WithMigrator(m VisitorMigrator) Option {
	return func(r *Resolver) { r.migrator = m }
}

// WithStats sets the usage tracker initialized for new identities.
func WithStats(t *stats.Tracker) Option {
	return func(r *Resolver) { r.stats = t }
}

// WithResetTokenTTL sets the password reset token lifetime.
func WithResetTokenTTL(d time.Duration) Option {
	return func(r *Resolver) { r.resetTTL = d }
}

// New creates a Resolver and installs it as the current-identity resolver
// of data.
func New(data *userdata.Store, v *vault.Vault, opts ...Option) *Resolver {
	r := &Resolver{
		data:     data,
		kv:       data.KV(),
		vault:    v,
		now:      time.Now,
		resetTTL: DefaultResetTokenTTL,
		log:      slog.Default(),
	}
	for _, o := range opts {
		o(r)
	}

	r.sessions = []sessionSource{
		biometricLayout{kv: r.kv, data: data},
		globalLayout{kv: r.kv, data: data},
	}
	r.accounts = []accountSource{
		legacyLayout{kv: r.kv},
		namespacedLayout{data: data},
		directLayout{kv: r.kv},
	}

	data.SetResolver(r)
	return r
}

// Session returns the current session, checking the biometric layout
// before the global projection.
func (r *Resolver) Session(ctx context.Context) (Session, bool) {
	for _, src := range r.sessions {
		s, ok, err := src.session(ctx)
		if err != nil {
			r.log.Warn("read session", "layout", src.name(), "err", err)
			continue
		}
		if ok {
			return s, true
		}
	}
	return Session{}, false
}

// CurrentIdentity returns the signed-in identity.
func (r *Resolver) CurrentIdentity(ctx context.Context) (string, error) {
	s, ok := r.Session(ctx)
	if !ok {
		return "", ErrNotAuthenticated
	}
	return s.Identity, nil
}

// IsAuthenticated reports whether a valid session exists.
func (r *Resolver) IsAuthenticated(ctx context.Context) bool {
	_, ok := r.Session(ctx)
	return ok
}

// CurrentUser returns the profile of the signed-in identity.
func (r *Resolver) CurrentUser(ctx context.Context) (Profile, bool) {
	s, ok := r.Session(ctx)
	return s.Profile, ok
}

// IsCurrentUserVisitor reports whether the signed-in profile is the visitor.
func (r *Resolver) IsCurrentUserVisitor(ctx context.Context) bool {
	s, ok := r.Session(ctx)
	return ok && (s.Profile.IsVisitor || s.Identity == userdata.Visitor)
}

// lookup returns the first layout holding an account for email.
func (r *Resolver) lookup(ctx context.Context, email string) (account, bool) {
	for _, src := range r.accounts {
		a, ok, err := src.account(ctx, email)
		if err != nil {
			r.log.Warn("read account", "layout", src.name(), "email", email, "err", err)
			continue
		}
		if ok {
			return a, true
		}
	}
	return account{}, false
}

// authenticate tries every layout in order and returns the first whose
// credential matches password.
func (r *Resolver) authenticate(ctx context.Context, email, password string) (account, error) {
	for _, src := range r.accounts {
		a, ok, err := src.account(ctx, email)
		if err != nil {
			r.log.Warn("read account", "layout", src.name(), "email", email, "err", err)
			continue
		}
		if !ok {
			continue
		}
		if r.vault.Matches(a.Credential, password) {
			return a, nil
		}
		r.log.Debug("credential mismatch", "layout", src.name(), "email", email)
	}
	return account{}, ErrInvalidCredentials
}

// exists reports whether email has a profile in the namespaced or flat
// layout.
func (r *Resolver) exists(ctx context.Context, email string) (bool, error) {
	if _, ok, err := r.data.Raw(ctx, email, userdata.FieldProfile); err != nil || ok {
		return ok, err
	}
	_, ok, err := r.kv.GetItem(ctx, userdata.LegacyRecordKey(email))
	return ok, err
}

func (r *Resolver) signedIn(ctx context.Context) (Session, error) {
	s, ok := r.Session(ctx)
	if !ok || s.Identity == userdata.Visitor {
		return Session{}, ErrNotAuthenticated
	}
	return s, nil
}

func validatePassword(pw string) error {
	if len(pw) < MinPasswordLength {
		return fmt.Errorf("%w: minimum %d characters", ErrWeakPassword, MinPasswordLength)
	}
	return nil
}
