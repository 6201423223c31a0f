// Package userdata scopes key-value storage to one identity at a time.
//
// Every identity owns the keys user_<identity>_<field>. Field names are
// letters and digits only, so the last underscore in a key always separates
// the identity from the field and two identities can never share a key.
package userdata

import (
	"errors"
	"regexp"
	"strings"
)

// Visitor is the sentinel identity for people using the app without an
// account.
const Visitor = "visitor"

const keyPrefix = "user_"

// Known field names. The set is open; any name passing ValidField may be
// stored.
const (
	FieldProfile            = "userProfile"
	FieldPassword           = "userPassword"
	FieldAuthenticated      = "isAuthenticated"
	FieldCurrentUser        = "currentUser"
	FieldFavorites          = "favorites"
	FieldMapMarkers         = "mapMarkers"
	FieldAccessibilityPrefs = "accessibilityPrefs"
	FieldNotifications      = "notifications"
	FieldSearchRadius       = "searchRadius"
	FieldMapStyle           = "mapStyle"
	FieldBiometric          = "biometricPreferences"
	FieldPushToken          = "pushToken"
	FieldHistory            = "history"
	FieldSettings           = "settings"
	FieldStats              = "userStats"
	FieldResetToken         = "resetToken"
)

// SessionFields describe a session or a credential rather than user data.
// They are never copied between identities.
var SessionFields = []string{FieldProfile, FieldAuthenticated, FieldPassword, FieldCurrentUser}

var (
	// ErrInvalidIdentity is returned when an identity is empty or is neither
	// the visitor nor an email address.
	ErrInvalidIdentity = errors.New("invalid identity")

	// ErrInvalidField is returned for field names that could collide with
	// the key separator.
	ErrInvalidField = errors.New("invalid field name")
)

var emailPattern = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

// ValidEmail reports whether email looks like an address.
func ValidEmail(email string) bool {
	return emailPattern.MatchString(email)
}

// ValidIdentity reports whether identity may own keys: the visitor or an
// email address. Path separators and whitespace never pass.
func ValidIdentity(identity string) bool {
	return identity == Visitor || ValidEmail(identity)
}

// Key addresses one field of one identity.
type Key struct {
	Identity string
	Field    string
}

// DeriveKey builds the key for field under identity. An empty or malformed
// identity is rejected rather than mapped to a shared namespace.
func DeriveKey(identity, field string) (Key, error) {
	if !ValidIdentity(identity) {
		return Key{}, ErrInvalidIdentity
	}
	if !ValidField(field) {
		return Key{}, ErrInvalidField
	}
	return Key{Identity: identity, Field: field}, nil
}

// String returns the on-disk form user_<identity>_<field>.
func (k Key) String() string {
	return keyPrefix + k.Identity + "_" + k.Field
}

// ParseKey splits an on-disk key back into its parts. It reports false for
// global keys, legacy flat records and anything else not produced by
// Key.String.
func ParseKey(s string) (Key, bool) {
	rest, ok := strings.CutPrefix(s, keyPrefix)
	if !ok {
		return Key{}, false
	}

	i := strings.LastIndexByte(rest, '_')
	if i <= 0 {
		return Key{}, false
	}

	k := Key{Identity: rest[:i], Field: rest[i+1:]}
	if !ValidField(k.Field) || !ValidIdentity(k.Identity) {
		return Key{}, false
	}
	return k, true
}

// ValidField reports whether name can be used as a field: an ASCII letter
// followed by letters or digits.
func ValidField(name string) bool {
	if name == "" {
		return false
	}
	for i, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}

// LegacyRecordKey is the key of the flat test-user record user_<email>
// written by early builds.
func LegacyRecordKey(email string) string {
	return keyPrefix + email
}

// IsSessionField reports whether field is one of SessionFields.
func IsSessionField(field string) bool {
	for _, f := range SessionFields {
		if f == field {
			return true
		}
	}
	return false
}
