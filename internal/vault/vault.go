// Package vault encrypts stored credentials with a single process-wide key.
//
// Ciphertexts are written as "zenc1:" followed by base64 AES-GCM output.
// Values without that prefix are legacy plaintext and read back unchanged.
package vault

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/zarlcorp/core/pkg/zcrypto"
	"github.com/zarlcorp/zplaces/internal/kv"
)

// Prefix marks an encrypted credential.
const Prefix = "zenc1:"

// saltKey is the root key holding the hex key-derivation salt.
const saltKey = "credentialSalt"

// ErrCryptoFailure is returned when a credential cannot be encrypted or
// decrypted. Callers treat it as an unreadable credential and deny access.
var ErrCryptoFailure = errors.New("credential crypto failure")

// Vault encrypts and decrypts credential strings.
type Vault struct {
	key []byte
	kv  kv.Store
	log *slog.Logger
}

// Option configures a Vault.
type Option func(*Vault)

// WithLogger sets the logger used during credential migration.
func WithLogger(l *slog.Logger) Option {
	return func(v *Vault) { v.log = l }
}

// Open derives the vault key from secret. The salt is read from the store,
// or generated and saved on first use.
func Open(ctx context.Context, store kv.Store, secret []byte, opts ...Option) (*Vault, error) {
	if len(secret) == 0 {
		return nil, errors.New("open vault: secret is required")
	}

	salt, err := readOrCreateSalt(ctx, store)
	if err != nil {
		return nil, fmt.Errorf("open vault: %w", err)
	}

	key, _, err := zcrypto.DeriveKey(secret, salt)
	if err != nil {
		return nil, fmt.Errorf("open vault: derive key: %w", err)
	}

	v := &Vault{key: key, kv: store, log: slog.Default()}
	for _, o := range opts {
		o(v)
	}
	return v, nil
}

// Close erases the key from memory.
func (v *Vault) Close() error {
	zcrypto.Erase(v.key)
	v.key = nil
	return nil
}

// Encrypt seals plaintext.
func (v *Vault) Encrypt(plaintext string) (string, error) {
	if v.key == nil {
		return "", fmt.Errorf("encrypt: %w: vault closed", ErrCryptoFailure)
	}

	ct, err := zcrypto.Encrypt(v.key, []byte(plaintext))
	if err != nil {
		return "", fmt.Errorf("encrypt: %w: %w", ErrCryptoFailure, err)
	}
	return Prefix + base64.StdEncoding.EncodeToString(ct), nil
}

// Decrypt opens value. Legacy plaintext is returned unchanged.
func (v *Vault) Decrypt(value string) (string, error) {
	data, ok := strings.CutPrefix(value, Prefix)
	if !ok {
		return value, nil
	}
	if v.key == nil {
		return "", fmt.Errorf("decrypt: %w: vault closed", ErrCryptoFailure)
	}

	ct, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return "", fmt.Errorf("decrypt: %w: %w", ErrCryptoFailure, err)
	}

	plain, err := zcrypto.Decrypt(v.key, ct)
	if err != nil {
		return "", fmt.Errorf("decrypt: %w: %w", ErrCryptoFailure, err)
	}
	return string(plain), nil
}

// IsEncrypted reports whether value carries the ciphertext prefix.
func (v *Vault) IsEncrypted(value string) bool {
	return IsEncrypted(value)
}

// IsEncrypted reports whether value carries the ciphertext prefix.
func IsEncrypted(value string) bool {
	return strings.HasPrefix(value, Prefix)
}

// Seal returns c in encrypted form. Already sealed credentials are returned
// as-is.
func (v *Vault) Seal(c Credential) (Credential, error) {
	if c.Encrypted() {
		return c, nil
	}
	ct, err := v.Encrypt(c.plain)
	if err != nil {
		return Credential{}, err
	}
	return Credential{stored: ct, encrypted: true}, nil
}

// Reveal returns the plaintext of c.
func (v *Vault) Reveal(c Credential) (string, error) {
	if !c.Encrypted() {
		return c.plain, nil
	}
	return v.Decrypt(c.stored)
}

// Matches reports whether c holds password. An unreadable credential never
// matches.
func (v *Vault) Matches(c Credential, password string) bool {
	if c.IsZero() {
		return false
	}
	plain, err := v.Reveal(c)
	if err != nil {
		v.log.Warn("credential unreadable", "err", err)
		return false
	}
	return constantTimeEqual(plain, password)
}

func readOrCreateSalt(ctx context.Context, store kv.Store) ([]byte, error) {
	raw, ok, err := store.GetItem(ctx, saltKey)
	if err != nil {
		return nil, fmt.Errorf("read salt: %w", err)
	}
	if ok {
		salt, err := hex.DecodeString(raw)
		if err != nil {
			return nil, fmt.Errorf("decode salt: %w", err)
		}
		return salt, nil
	}

	salt, err := zcrypto.RandBytes(zcrypto.SaltSize)
	if err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}

	if err := store.SetItem(ctx, saltKey, hex.EncodeToString(salt)); err != nil {
		return nil, fmt.Errorf("write salt: %w", err)
	}
	return salt, nil
}
