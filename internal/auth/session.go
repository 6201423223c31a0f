package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/zarlcorp/zplaces/internal/migrate"
	"github.com/zarlcorp/zplaces/internal/purge"
	"github.com/zarlcorp/zplaces/internal/userdata"
	"github.com/zarlcorp/zplaces/internal/vault"
)

// Fields are the optional profile fields given at registration.
type Fields struct {
	Name  string
	Phone string
}

// Registration is the outcome of Register.
type Registration struct {
	Profile Profile
	// Migration is set when visitor data was migrated.
	Migration *migrate.Result
	// Discard is set when visitor data was discarded.
	Discard *purge.Report
}

// Register creates an account for email and signs it in.
//
// With migrateVisitorData the visitor's data is moved to the new account
// first; a failed migration is logged and registration goes on. Without it
// the visitor's data is destroyed. Registering the visitor identity skips
// the uniqueness check and overwrites the previous visitor profile.
func (r *Resolver) Register(ctx context.Context, email, password string, fields Fields, migrateVisitorData bool) (Registration, error) {
	email = strings.TrimSpace(email)
	if email == userdata.Visitor {
		p, err := r.ContinueAsVisitor(ctx)
		return Registration{Profile: p}, err
	}

	if !ValidEmail(email) {
		return Registration{}, ErrInvalidEmail
	}
	if err := validatePassword(password); err != nil {
		return Registration{}, err
	}

	taken, err := r.exists(ctx, email)
	if err != nil {
		return Registration{}, fmt.Errorf("register: %w", err)
	}
	if taken {
		return Registration{}, ErrEmailInUse
	}

	// the visitor purge below drops the root projection, so end whoever it
	// names first
	r.endPrevious(ctx, email)

	var reg Registration
	if migrateVisitorData {
		reg.Migration = r.migrateVisitor(ctx, email)
	} else {
		report := r.discardVisitor(ctx)
		reg.Discard = &report
	}

	cred, err := r.vault.Seal(vault.Plaintext(password))
	if err != nil {
		return Registration{}, fmt.Errorf("register: %w", err)
	}

	name := strings.TrimSpace(fields.Name)
	if name == "" {
		name = defaultName(email)
	}
	reg.Profile = Profile{
		Email:     email,
		Name:      name,
		Phone:     fields.Phone,
		CreatedAt: r.now().UTC(),
	}

	if err := r.writeLegacy(ctx, email, legacyRecord{Email: email, Password: cred.Stored(), Name: name}); err != nil {
		return Registration{}, fmt.Errorf("register: %w", err)
	}
	if err := r.establish(ctx, account{Identity: email, Profile: reg.Profile, Credential: cred}); err != nil {
		return Registration{}, fmt.Errorf("register: %w", err)
	}

	r.initStats(ctx, email)
	r.log.Info("account registered", "email", email, "migrated", migrateVisitorData)
	return reg, nil
}

// migrateVisitor moves visitor data to email and clears whatever the
// migration left behind in the visitor namespace.
func (r *Resolver) migrateVisitor(ctx context.Context, email string) *migrate.Result {
	if r.migrator == nil {
		r.log.Warn("register: no migrator configured, visitor data kept")
		return nil
	}

	res := r.migrator.MigrateVisitorDataToUser(ctx, email, true)
	if res.Err != nil {
		r.log.Warn("register: visitor migration failed", "email", email, "err", res.Err)
		return &res
	}

	// session fields stay behind when nothing was migrated
	report := purge.Execute(ctx, purge.Request{
		Identity:  userdata.Visitor,
		Data:      r.data,
		Namespace: purge.ScopeAll,
		Global:    true,
	})
	if report.HasErrors() {
		r.log.Warn("register: clear visitor", "err", report.Err())
	}
	return &res
}

func (r *Resolver) discardVisitor(ctx context.Context) purge.Report {
	if r.migrator != nil {
		return r.migrator.DiscardVisitorData(ctx)
	}

	report := purge.Execute(ctx, purge.Request{
		Identity:  userdata.Visitor,
		Data:      r.data,
		Namespace: purge.ScopeAll,
		Global:    true,
	})
	if report.HasErrors() {
		r.log.Warn("register: discard visitor", "err", report.Err())
	}
	return report
}

// ContinueAsVisitor signs in the disposable visitor identity, replacing any
// previous visitor profile.
func (r *Resolver) ContinueAsVisitor(ctx context.Context) (Profile, error) {
	p := Profile{
		Email:     userdata.Visitor,
		Name:      "Visitor",
		IsVisitor: true,
		CreatedAt: r.now().UTC(),
	}

	if err := r.establish(ctx, account{Identity: userdata.Visitor, Profile: p}); err != nil {
		return Profile{}, fmt.Errorf("continue as visitor: %w", err)
	}

	r.initStats(ctx, userdata.Visitor)
	return p, nil
}

// Login checks password against each account layout in order: flat record,
// namespaced store, then raw keys. The first match wins and becomes the
// session. A plaintext credential is re-stored encrypted.
func (r *Resolver) Login(ctx context.Context, email, password string) (Profile, error) {
	email = strings.TrimSpace(email)
	if email == userdata.Visitor {
		return r.ContinueAsVisitor(ctx)
	}

	a, err := r.authenticate(ctx, email, password)
	if err != nil {
		r.log.Info("login rejected", "email", email)
		return Profile{}, err
	}

	// the namespaced profile carries more than the flat record does
	if raw, ok, err := r.data.Raw(ctx, email, userdata.FieldProfile); err == nil && ok {
		if p, valid := parseProfile(string(raw)); valid {
			a.Profile = p
		}
	}

	if !a.Credential.Encrypted() {
		sealed, err := r.vault.Seal(a.Credential)
		if err != nil {
			r.log.Warn("login: encrypt legacy credential", "email", email, "err", err)
		} else {
			a.Credential = sealed
			if err := r.updateLegacy(ctx, email, func(rec map[string]any) { rec["password"] = sealed.Stored() }); err != nil {
				r.log.Warn("login: rewrite legacy credential", "email", email, "err", err)
			}
		}
	}

	if err := r.establish(ctx, a); err != nil {
		return Profile{}, fmt.Errorf("login: %w", err)
	}

	r.log.Info("signed in", "email", email, "layout", a.Source)
	return a.Profile, nil
}

// Logout ends the current session. It never fails: every cleanup step is
// attempted and the report lists what went wrong.
func (r *Resolver) Logout(ctx context.Context) purge.Report {
	req := purge.Request{Data: r.data, Global: true}

	if s, ok := r.Session(ctx); ok {
		req.Identity = s.Identity
	} else if raw, ok, err := r.kv.GetItem(ctx, userdata.FieldCurrentUser); err == nil && ok {
		// a dangling projection still names whose flags to clear
		req.Identity = unwrap(raw)
	}

	if req.Identity != "" {
		req.Namespace = purge.ScopeSession
		req.Legacy = purge.LegacySession
	}

	report := purge.Execute(ctx, req)
	if report.HasErrors() {
		r.log.Warn("logout", "err", report.Err())
	}
	r.log.Info("signed out", "identity", req.Identity)
	return report
}

// establish writes a session for a to the namespaced keys, the root
// projection and, for accounts, the flat record. A different identity that
// was signed in loses its session flag.
func (r *Resolver) establish(ctx context.Context, a account) error {
	r.endPrevious(ctx, a.Identity)

	profile, err := userdata.Encode(a.Profile)
	if err != nil {
		return err
	}

	id := a.Identity
	var errs []error
	set := func(field string, v userdata.Value) {
		if err := r.data.SetRaw(ctx, id, field, v); err != nil {
			errs = append(errs, err)
		}
	}
	setRoot := func(key string, v userdata.Value) {
		if err := r.kv.SetItem(ctx, key, string(v)); err != nil {
			errs = append(errs, fmt.Errorf("set %s: %w", key, err))
		}
	}

	set(userdata.FieldProfile, profile)
	set(userdata.FieldCurrentUser, userdata.Value(id))
	if !a.Credential.IsZero() {
		set(userdata.FieldPassword, userdata.Value(a.Credential.Stored()))
	}
	set(userdata.FieldAuthenticated, "true")

	setRoot(userdata.FieldProfile, profile)
	setRoot(userdata.FieldCurrentUser, userdata.Value(id))
	if a.Credential.IsZero() {
		if err := r.kv.RemoveItem(ctx, userdata.FieldPassword); err != nil {
			errs = append(errs, err)
		}
	} else {
		setRoot(userdata.FieldPassword, userdata.Value(a.Credential.Stored()))
	}
	setRoot(userdata.FieldAuthenticated, "true")

	if id != userdata.Visitor {
		if err := r.updateLegacy(ctx, id, func(rec map[string]any) { rec["isAuthenticated"] = true }); err != nil {
			r.log.Warn("mark legacy record signed in", "email", id, "err", err)
		}
	}

	return errors.Join(errs...)
}

// endPrevious clears the session flag of a signed-in identity other than
// next.
func (r *Resolver) endPrevious(ctx context.Context, next string) {
	prev, ok := r.Session(ctx)
	if !ok || prev.Identity == next {
		return
	}
	if err := r.data.RemoveFor(ctx, prev.Identity, userdata.FieldAuthenticated); err != nil {
		r.log.Warn("end previous session", "identity", prev.Identity, "err", err)
	}
}

// writeLegacy stores a new flat record.
func (r *Resolver) writeLegacy(ctx context.Context, email string, rec legacyRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	if err := r.kv.SetItem(ctx, userdata.LegacyRecordKey(email), string(data)); err != nil {
		return fmt.Errorf("write legacy record: %w", err)
	}
	return nil
}

// updateLegacy rewrites an existing flat record through fn, keeping members
// it does not know about. A missing or unparsable record is left alone.
func (r *Resolver) updateLegacy(ctx context.Context, email string, fn func(map[string]any)) error {
	key := userdata.LegacyRecordKey(email)
	raw, ok, err := r.kv.GetItem(ctx, key)
	if err != nil || !ok {
		return err
	}

	var rec map[string]any
	if err := json.Unmarshal([]byte(unwrap(raw)), &rec); err != nil {
		return nil
	}
	fn(rec)

	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return r.kv.SetItem(ctx, key, string(data))
}

func (r *Resolver) initStats(ctx context.Context, identity string) {
	if r.stats == nil {
		return
	}
	if err := r.stats.Init(ctx, identity); err != nil {
		r.log.Warn("init stats", "identity", identity, "err", err)
	}
}
