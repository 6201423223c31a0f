package auth

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/zarlcorp/zplaces/internal/kv"
	"github.com/zarlcorp/zplaces/internal/userdata"
	"github.com/zarlcorp/zplaces/internal/vault"
)

// Session is a resolved signed-in identity.
type Session struct {
	Identity string
	Profile  Profile
	Source   string
}

// account is a stored identity with its credential, as found by one layout.
type account struct {
	Identity   string
	Profile    Profile
	Credential vault.Credential
	Source     string
}

// sessionSource reads the current session from one storage layout.
type sessionSource interface {
	name() string
	session(ctx context.Context) (Session, bool, error)
}

// accountSource reads an account by email from one storage layout.
type accountSource interface {
	name() string
	account(ctx context.Context, email string) (account, bool, error)
}

// biometricPointer is the root biometricPreferences record naming the
// identity linked to the device biometrics.
type biometricPointer struct {
	Enabled bool   `json:"enabled"`
	Email   string `json:"email"`
}

// legacyRecord is the flat user_<email> record of early builds.
type legacyRecord struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

// biometricLayout resolves the identity named by the biometric pointer when
// that identity's own flag says it is signed in.
type biometricLayout struct {
	kv   kv.Store
	data *userdata.Store
}

func (biometricLayout) name() string { return "biometric" }

func (l biometricLayout) session(ctx context.Context) (Session, bool, error) {
	raw, ok, err := l.kv.GetItem(ctx, userdata.FieldBiometric)
	if err != nil || !ok {
		return Session{}, false, err
	}

	var p biometricPointer
	if err := json.Unmarshal([]byte(unwrap(raw)), &p); err != nil || !p.Enabled || p.Email == "" {
		return Session{}, false, nil
	}

	flag, ok, err := l.data.Raw(ctx, p.Email, userdata.FieldAuthenticated)
	if err != nil || !ok || !parseFlag(string(flag)) {
		return Session{}, false, err
	}

	prof, ok, err := l.data.Raw(ctx, p.Email, userdata.FieldProfile)
	if err != nil || !ok {
		return Session{}, false, err
	}
	profile, valid := parseProfile(string(prof))
	if !valid {
		return Session{}, false, nil
	}
	return Session{Identity: p.Email, Profile: profile, Source: "biometric"}, true, nil
}

// globalLayout reads the root session projection. The projection is only a
// cache: when the identity's own flag exists it must agree.
type globalLayout struct {
	kv   kv.Store
	data *userdata.Store
}

func (globalLayout) name() string { return "global" }

func (l globalLayout) session(ctx context.Context) (Session, bool, error) {
	flag, ok, err := l.kv.GetItem(ctx, userdata.FieldAuthenticated)
	if err != nil || !ok || !parseFlag(flag) {
		return Session{}, false, err
	}

	raw, ok, err := l.kv.GetItem(ctx, userdata.FieldProfile)
	if err != nil || !ok {
		return Session{}, false, err
	}
	profile, valid := parseProfile(raw)
	if !valid {
		return Session{}, false, nil
	}

	own, ok, err := l.data.Raw(ctx, profile.Email, userdata.FieldAuthenticated)
	if err != nil {
		return Session{}, false, err
	}
	if ok && !parseFlag(string(own)) {
		return Session{}, false, nil
	}
	return Session{Identity: profile.Email, Profile: profile, Source: "global"}, true, nil
}

// legacyLayout reads the flat user_<email> record.
type legacyLayout struct {
	kv kv.Store
}

func (legacyLayout) name() string { return "legacy" }

func (l legacyLayout) account(ctx context.Context, email string) (account, bool, error) {
	raw, ok, err := l.kv.GetItem(ctx, userdata.LegacyRecordKey(email))
	if err != nil || !ok {
		return account{}, false, err
	}

	var rec legacyRecord
	if err := json.Unmarshal([]byte(unwrap(raw)), &rec); err != nil || rec.Password == "" {
		return account{}, false, nil
	}

	p := Profile{Email: email, Name: rec.Name}
	if p.Name == "" {
		p.Name = defaultName(email)
	}
	return account{
		Identity:   email,
		Profile:    p,
		Credential: vault.ParseCredential(rec.Password),
		Source:     "legacy",
	}, true, nil
}

// namespacedLayout reads user_<email>_userProfile and _userPassword through
// the typed store.
type namespacedLayout struct {
	data *userdata.Store
}

func (namespacedLayout) name() string { return "namespaced" }

func (l namespacedLayout) account(ctx context.Context, email string) (account, bool, error) {
	prof, ok, err := l.data.Raw(ctx, email, userdata.FieldProfile)
	if err != nil || !ok {
		return account{}, false, err
	}
	var p Profile
	if err := prof.Decode(&p); err != nil || !p.Valid() {
		return account{}, false, nil
	}

	pw, ok, err := l.data.Raw(ctx, email, userdata.FieldPassword)
	if err != nil || !ok || pw == "" {
		return account{}, false, err
	}

	return account{
		Identity:   email,
		Profile:    p,
		Credential: vault.ParseCredential(string(pw)),
		Source:     "namespaced",
	}, true, nil
}

// directLayout reads the namespaced keys straight from the key-value store
// and tolerates values that earlier code double-encoded. A missing profile
// is synthesized from the email.
type directLayout struct {
	kv kv.Store
}

func (directLayout) name() string { return "direct" }

func (l directLayout) account(ctx context.Context, email string) (account, bool, error) {
	pwKey, err := userdata.DeriveKey(email, userdata.FieldPassword)
	if err != nil {
		return account{}, false, err
	}
	pw, ok, err := l.kv.GetItem(ctx, pwKey.String())
	if err != nil || !ok {
		return account{}, false, err
	}
	pw = unwrap(pw)
	if pw == "" {
		return account{}, false, nil
	}

	p := Profile{Email: email, Name: defaultName(email)}
	profKey, _ := userdata.DeriveKey(email, userdata.FieldProfile)
	if raw, ok, err := l.kv.GetItem(ctx, profKey.String()); err == nil && ok {
		if parsed, valid := parseProfile(raw); valid {
			p = parsed
		}
	}

	return account{
		Identity:   email,
		Profile:    p,
		Credential: vault.ParseCredential(pw),
		Source:     "direct",
	}, true, nil
}

// unwrap strips JSON string layers left by writers that encoded an already
// encoded value.
func unwrap(raw string) string {
	for range 3 {
		var s string
		if err := json.Unmarshal([]byte(raw), &s); err != nil {
			return raw
		}
		raw = s
	}
	return raw
}

func parseFlag(raw string) bool {
	return unwrap(raw) == "true"
}

// parseProfile decodes a stored profile. It reports false unless both email
// and name are present.
func parseProfile(raw string) (Profile, bool) {
	var p Profile
	if err := json.Unmarshal([]byte(unwrap(raw)), &p); err != nil {
		return Profile{}, false
	}
	return p, p.Valid()
}

func defaultName(email string) string {
	local, _, _ := strings.Cut(email, "@")
	return local
}
