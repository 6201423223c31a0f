package vault

import "crypto/subtle"

// Credential is a stored password in one of two forms: legacy plaintext or
// sealed ciphertext. ParseCredential is the only place the stored prefix is
// inspected.
type Credential struct {
	plain     string
	stored    string
	encrypted bool
}

// Plaintext wraps a cleartext password.
func Plaintext(s string) Credential {
	return Credential{plain: s, stored: s}
}

// ParseCredential interprets a value read from storage.
func ParseCredential(stored string) Credential {
	if IsEncrypted(stored) {
		return Credential{stored: stored, encrypted: true}
	}
	return Plaintext(stored)
}

// Encrypted reports whether the credential is sealed.
func (c Credential) Encrypted() bool {
	return c.encrypted
}

// Stored returns the form written to storage.
func (c Credential) Stored() string {
	return c.stored
}

// IsZero reports whether no credential is held.
func (c Credential) IsZero() bool {
	return c.stored == ""
}

func constantTimeEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
