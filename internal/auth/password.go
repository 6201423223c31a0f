package auth

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/zarlcorp/core/pkg/zcrypto"
	"github.com/zarlcorp/zplaces/internal/userdata"
	"github.com/zarlcorp/zplaces/internal/vault"
	"golang.org/x/crypto/bcrypt"
)

const resetTokenBytes = 16

// resetToken is stored under user_<email>_resetToken. Only the bcrypt hash
// of the token is kept.
type resetToken struct {
	Hash      string    `json:"hash"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// RequestPasswordReset issues a reset token for email. The plaintext token
// is returned once; delivering it is up to the caller.
func (r *Resolver) RequestPasswordReset(ctx context.Context, email string) (string, time.Time, error) {
	if !ValidEmail(email) {
		return "", time.Time{}, ErrInvalidEmail
	}
	if _, ok := r.lookup(ctx, email); !ok {
		return "", time.Time{}, ErrInvalidCredentials
	}

	raw, err := zcrypto.RandBytes(resetTokenBytes)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("reset request: %w", err)
	}
	token := hex.EncodeToString(raw)

	hash, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("reset request: hash token: %w", err)
	}

	expires := r.now().UTC().Add(r.resetTTL)
	if err := r.data.SetFor(ctx, email, userdata.FieldResetToken, resetToken{Hash: string(hash), ExpiresAt: expires}); err != nil {
		return "", time.Time{}, fmt.Errorf("reset request: %w", err)
	}

	r.log.Info("password reset requested", "email", email, "expires", expires)
	return token, expires, nil
}

// VerifyResetToken checks token for email. An expired token is rejected
// even when it matches.
func (r *Resolver) VerifyResetToken(ctx context.Context, email, token string) error {
	v, ok, err := r.data.Raw(ctx, email, userdata.FieldResetToken)
	if err != nil {
		return fmt.Errorf("verify reset token: %w", err)
	}
	if !ok {
		return ErrInvalidToken
	}

	var t resetToken
	if err := v.Decode(&t); err != nil || t.Hash == "" {
		return ErrInvalidToken
	}

	if !r.now().Before(t.ExpiresAt) {
		return ErrTokenExpired
	}
	if err := bcrypt.CompareHashAndPassword([]byte(t.Hash), []byte(token)); err != nil {
		return ErrInvalidToken
	}
	return nil
}

// ResetPassword sets a new password for email after verifying token. The
// token is consumed. The account is not signed in.
func (r *Resolver) ResetPassword(ctx context.Context, email, token, newPassword string) error {
	if err := r.VerifyResetToken(ctx, email, token); err != nil {
		return err
	}
	if err := validatePassword(newPassword); err != nil {
		return err
	}

	if err := r.setPassword(ctx, email, newPassword); err != nil {
		return fmt.Errorf("reset password: %w", err)
	}

	if err := r.data.RemoveFor(ctx, email, userdata.FieldResetToken); err != nil {
		r.log.Warn("reset password: remove token", "email", email, "err", err)
	}

	r.log.Info("password reset", "email", email)
	return nil
}

// ChangePassword replaces the signed-in account's password.
func (r *Resolver) ChangePassword(ctx context.Context, current, newPassword string) error {
	s, err := r.signedIn(ctx)
	if err != nil {
		return err
	}
	if _, err := r.authenticate(ctx, s.Identity, current); err != nil {
		return err
	}
	if err := validatePassword(newPassword); err != nil {
		return err
	}

	if err := r.setPassword(ctx, s.Identity, newPassword); err != nil {
		return fmt.Errorf("change password: %w", err)
	}

	r.log.Info("password changed", "email", s.Identity)
	return nil
}

// setPassword stores an encrypted credential in every layout holding one
// for email, and in the root projection when email is signed in there.
func (r *Resolver) setPassword(ctx context.Context, email, password string) error {
	cred, err := r.vault.Seal(vault.Plaintext(password))
	if err != nil {
		return err
	}
	stored := cred.Stored()

	var errs []error
	if err := r.data.SetFor(ctx, email, userdata.FieldPassword, stored); err != nil {
		errs = append(errs, err)
	}
	if err := r.updateLegacy(ctx, email, func(rec map[string]any) { rec["password"] = stored }); err != nil {
		errs = append(errs, err)
	}

	cur, ok, err := r.kv.GetItem(ctx, userdata.FieldCurrentUser)
	if err == nil && ok && unwrap(cur) == email {
		if err := r.kv.SetItem(ctx, userdata.FieldPassword, stored); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

