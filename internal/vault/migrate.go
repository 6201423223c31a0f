package vault

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/zarlcorp/zplaces/internal/userdata"
)

// MigrationReport counts what MigrateLegacyCredentials found.
type MigrationReport struct {
	Scanned   int
	Encrypted int
	Failed    int
}

// MigrateLegacyCredentials encrypts every plaintext credential in the store:
// namespaced userPassword fields, the global userPassword key and the
// password inside legacy flat records. Sealed values are left untouched, so
// running it again changes nothing.
func (v *Vault) MigrateLegacyCredentials(ctx context.Context) (MigrationReport, error) {
	var r MigrationReport

	keys, err := v.kv.AllKeys(ctx)
	if err != nil {
		return r, fmt.Errorf("migrate credentials: %w", err)
	}

	for _, key := range keys {
		if k, ok := userdata.ParseKey(key); ok {
			if k.Field == userdata.FieldPassword {
				v.migrateValue(ctx, key, &r)
			}
			continue
		}

		switch {
		case key == userdata.FieldPassword:
			v.migrateValue(ctx, key, &r)
		case strings.HasPrefix(key, "user_"):
			v.migrateRecord(ctx, key, &r)
		}
	}

	return r, nil
}

func (v *Vault) migrateValue(ctx context.Context, key string, r *MigrationReport) {
	raw, ok, err := v.kv.GetItem(ctx, key)
	if err != nil {
		r.Failed++
		v.log.Warn("migrate credential: read", "key", key, "err", err)
		return
	}
	if !ok || raw == "" {
		return
	}
	r.Scanned++

	if IsEncrypted(raw) {
		return
	}

	ct, err := v.Encrypt(raw)
	if err != nil {
		r.Failed++
		v.log.Warn("migrate credential: encrypt", "key", key, "err", err)
		return
	}
	if err := v.kv.SetItem(ctx, key, ct); err != nil {
		r.Failed++
		v.log.Warn("migrate credential: write", "key", key, "err", err)
		return
	}
	r.Encrypted++
}

// migrateRecord handles the flat {email, password, name} records. Keys
// under user_ that are not such a record are skipped.
func (v *Vault) migrateRecord(ctx context.Context, key string, r *MigrationReport) {
	raw, ok, err := v.kv.GetItem(ctx, key)
	if err != nil {
		r.Failed++
		v.log.Warn("migrate credential: read record", "key", key, "err", err)
		return
	}
	if !ok {
		return
	}

	var rec map[string]any
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return
	}
	pw, ok := rec["password"].(string)
	if !ok || pw == "" {
		return
	}
	r.Scanned++

	if IsEncrypted(pw) {
		return
	}

	ct, err := v.Encrypt(pw)
	if err != nil {
		r.Failed++
		v.log.Warn("migrate credential: encrypt record", "key", key, "err", err)
		return
	}
	rec["password"] = ct

	data, err := json.Marshal(rec)
	if err != nil {
		r.Failed++
		return
	}
	if err := v.kv.SetItem(ctx, key, string(data)); err != nil {
		r.Failed++
		v.log.Warn("migrate credential: write record", "key", key, "err", err)
		return
	}
	r.Encrypted++
}
