package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/zarlcorp/zplaces/internal/purge"
	"github.com/zarlcorp/zplaces/internal/userdata"
)

// BiometricVerifier prompts the device owner for a biometric check.
type BiometricVerifier interface {
	Verify(ctx context.Context, prompt string) (bool, error)
}

// biometricPrefs is the per-identity biometricPreferences field.
type biometricPrefs struct {
	Enabled   bool      `json:"enabled"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// EnableBiometric links the signed-in account to the device biometrics.
func (r *Resolver) EnableBiometric(ctx context.Context) error {
	s, err := r.signedIn(ctx)
	if err != nil {
		return err
	}

	if err := r.data.SetFor(ctx, s.Identity, userdata.FieldBiometric, biometricPrefs{Enabled: true, UpdatedAt: r.now().UTC()}); err != nil {
		return fmt.Errorf("enable biometric: %w", err)
	}
	if err := r.writePointer(ctx, biometricPointer{Enabled: true, Email: s.Identity}); err != nil {
		return fmt.Errorf("enable biometric: %w", err)
	}
	return nil
}

// DisableBiometric unlinks the signed-in account. The device pointer is
// removed only if it names this account.
func (r *Resolver) DisableBiometric(ctx context.Context) error {
	s, err := r.signedIn(ctx)
	if err != nil {
		return err
	}

	if err := r.data.SetFor(ctx, s.Identity, userdata.FieldBiometric, biometricPrefs{UpdatedAt: r.now().UTC()}); err != nil {
		return fmt.Errorf("disable biometric: %w", err)
	}

	if p, ok := r.pointer(ctx); ok && p.Email == s.Identity {
		if err := r.kv.RemoveItem(ctx, userdata.FieldBiometric); err != nil {
			return fmt.Errorf("disable biometric: %w", err)
		}
	}
	return nil
}

// BiometricIdentity returns the account linked to the device biometrics.
func (r *Resolver) BiometricIdentity(ctx context.Context) (string, bool) {
	p, ok := r.pointer(ctx)
	if !ok || !p.Enabled || p.Email == "" {
		return "", false
	}
	return p.Email, true
}

// LoginWithBiometric signs in the linked account once verifier confirms the
// device owner.
func (r *Resolver) LoginWithBiometric(ctx context.Context, verifier BiometricVerifier) (Profile, error) {
	email, ok := r.BiometricIdentity(ctx)
	if !ok {
		return Profile{}, ErrBiometricUnavailable
	}

	passed, err := verifier.Verify(ctx, "sign in as "+email)
	if err != nil {
		return Profile{}, fmt.Errorf("biometric login: %w", err)
	}
	if !passed {
		return Profile{}, ErrInvalidCredentials
	}

	a, ok := r.lookup(ctx, email)
	if !ok {
		return Profile{}, ErrInvalidCredentials
	}
	if err := r.establish(ctx, a); err != nil {
		return Profile{}, fmt.Errorf("biometric login: %w", err)
	}

	r.log.Info("signed in", "email", email, "layout", "biometric")
	return a.Profile, nil
}

// DeleteAccount verifies password and destroys every local trace of the
// signed-in account. Remote reviews are kept.
func (r *Resolver) DeleteAccount(ctx context.Context, password string) (purge.Report, error) {
	s, err := r.signedIn(ctx)
	if err != nil {
		return purge.Report{}, err
	}
	if _, err := r.authenticate(ctx, s.Identity, password); err != nil {
		return purge.Report{}, err
	}

	req := purge.Request{
		Identity:  s.Identity,
		Data:      r.data,
		Namespace: purge.ScopeAll,
		Legacy:    purge.LegacyRecord,
		Global:    true,
	}
	if p, ok := r.pointer(ctx); ok && p.Email == s.Identity {
		req.Keys = []string{userdata.FieldBiometric}
	}

	report := purge.Execute(ctx, req)
	if report.HasErrors() {
		r.log.Warn("delete account", "email", s.Identity, "err", report.Err())
	}
	r.log.Info("account deleted", "email", s.Identity)
	return report, nil
}

func (r *Resolver) pointer(ctx context.Context) (biometricPointer, bool) {
	raw, ok, err := r.kv.GetItem(ctx, userdata.FieldBiometric)
	if err != nil || !ok {
		return biometricPointer{}, false
	}
	var p biometricPointer
	if err := json.Unmarshal([]byte(unwrap(raw)), &p); err != nil {
		return biometricPointer{}, false
	}
	return p, true
}

func (r *Resolver) writePointer(ctx context.Context, p biometricPointer) error {
	data, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return r.kv.SetItem(ctx, userdata.FieldBiometric, string(data))
}
