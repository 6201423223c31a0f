// Package purge implements best-effort cascading cleanup of an identity's
// local and remote data.
package purge

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/zarlcorp/zplaces/internal/userdata"
)

// Scope selects which namespaced keys of the identity are removed.
type Scope int

const (
	// ScopeNone leaves the namespace alone.
	ScopeNone Scope = iota
	// ScopeSession removes only the session and credential fields.
	ScopeSession
	// ScopeAll removes every key of the identity.
	ScopeAll
)

// Legacy selects what happens to the flat user_<email> record.
type Legacy int

const (
	// LegacyKeep leaves the flat record alone.
	LegacyKeep Legacy = iota
	// LegacySession drops the session flag from the flat record.
	LegacySession
	// LegacyRecord deletes the flat record.
	LegacyRecord
)

// legacySessionFields are the flat-record members describing a session.
var legacySessionFields = []string{"isAuthenticated"}

// ReviewDeleter removes remote reviews.
type ReviewDeleter interface {
	DeleteReviewsByOwner(ctx context.Context, owner string) (int, error)
}

// Request describes what to purge.
type Request struct {
	Identity  string
	Data      *userdata.Store
	Namespace Scope
	Legacy    Legacy
	Global    bool          // remove the global session keys
	Keys      []string      // extra root keys to remove
	Reviews   ReviewDeleter // nil to keep remote reviews
}

// StepStatus records the outcome of one cascade step.
type StepStatus struct {
	Description string
	Err         error
}

// Report summarizes a completed purge. Failures never stop the cascade; they
// are listed here instead.
type Report struct {
	Identity       string
	Attempted      int
	Succeeded      int
	Failed         []string
	KeysRemoved    int
	ReviewsDeleted int
	Steps          []StepStatus
}

// HasErrors returns true if any step failed.
func (r Report) HasErrors() bool {
	return len(r.Failed) > 0
}

// Err returns the step failures joined into one error, or nil.
func (r Report) Err() error {
	if !r.HasErrors() {
		return nil
	}
	return fmt.Errorf("purge %s: %s", r.Identity, strings.Join(r.Failed, "; "))
}

// Summary returns a human-readable summary of the purge.
func (r Report) Summary() string {
	var b strings.Builder

	if r.HasErrors() {
		fmt.Fprintf(&b, "purged %s (%d/%d steps, with errors)", r.Identity, r.Succeeded, r.Attempted)
	} else {
		fmt.Fprintf(&b, "purged %s (%d steps)", r.Identity, r.Attempted)
	}

	for _, s := range r.Steps {
		if s.Err != nil {
			fmt.Fprintf(&b, "\n- %s: %v", s.Description, s.Err)
		} else {
			fmt.Fprintf(&b, "\n- %s", s.Description)
		}
	}

	return b.String()
}

// GlobalKeys are the root-level session projection keys.
func GlobalKeys() []string {
	return append([]string(nil), userdata.SessionFields...)
}

// Plan returns a list of human-readable descriptions of what will happen.
// Used to populate the confirmation dialog.
func Plan(ctx context.Context, req Request) []string {
	var steps []string

	if req.Reviews != nil {
		steps = append(steps, fmt.Sprintf("delete remote reviews owned by %s", req.Identity))
	}

	switch req.Legacy {
	case LegacySession:
		steps = append(steps, "end session in legacy record")
	case LegacyRecord:
		steps = append(steps, "delete legacy record")
	}

	switch req.Namespace {
	case ScopeSession:
		steps = append(steps, fmt.Sprintf("remove session fields of %s", req.Identity))
	case ScopeAll:
		n := "?"
		if rec, err := req.Data.GetAll(ctx, req.Identity); err == nil {
			n = fmt.Sprint(len(rec))
		}
		steps = append(steps, fmt.Sprintf("remove all fields of %s (%s)", req.Identity, n))
	}

	if req.Global {
		steps = append(steps, "remove global session keys")
	}
	if len(req.Keys) > 0 {
		steps = append(steps, fmt.Sprintf("remove %s", strings.Join(req.Keys, ", ")))
	}

	return steps
}

// Execute runs the purge cascade. It is best-effort: each step is attempted
// regardless of whether previous steps failed. Remote reviews go first and
// the global session keys last.
func Execute(ctx context.Context, req Request) Report {
	r := Report{Identity: req.Identity}

	if req.Reviews != nil {
		r.deleteReviews(ctx, req)
	}

	if req.Identity != userdata.Visitor {
		switch req.Legacy {
		case LegacySession:
			r.endLegacySession(ctx, req)
		case LegacyRecord:
			r.removeRoot(ctx, req, "delete legacy record", []string{userdata.LegacyRecordKey(req.Identity)})
		}
	}

	switch req.Namespace {
	case ScopeSession:
		r.removeSessionFields(ctx, req)
	case ScopeAll:
		r.clearNamespace(ctx, req)
	}

	if len(req.Keys) > 0 {
		r.removeRoot(ctx, req, "remove "+strings.Join(req.Keys, ", "), req.Keys)
	}

	if req.Global {
		r.removeRoot(ctx, req, "remove global session keys", GlobalKeys())
	}

	return r
}

func (r *Report) record(desc string, err error) {
	r.Attempted++
	r.Steps = append(r.Steps, StepStatus{Description: desc, Err: err})
	if err != nil {
		r.Failed = append(r.Failed, fmt.Sprintf("%s: %v", desc, err))
		return
	}
	r.Succeeded++
}

func (r *Report) deleteReviews(ctx context.Context, req Request) {
	n, err := req.Reviews.DeleteReviewsByOwner(ctx, req.Identity)
	r.ReviewsDeleted = n
	r.record(fmt.Sprintf("deleted %d remote reviews", n), err)
}

func (r *Report) removeSessionFields(ctx context.Context, req Request) {
	keys := make([]string, 0, len(userdata.SessionFields))
	for _, f := range userdata.SessionFields {
		k, err := userdata.DeriveKey(req.Identity, f)
		if err != nil {
			r.record("remove session fields", err)
			return
		}
		keys = append(keys, k.String())
	}

	if err := req.Data.KV().MultiRemove(ctx, keys); err != nil {
		r.record("remove session fields", err)
		return
	}
	r.KeysRemoved += len(keys)
	r.record(fmt.Sprintf("removed session fields of %s", req.Identity), nil)
}

func (r *Report) clearNamespace(ctx context.Context, req Request) {
	n, err := req.Data.ClearAll(ctx, req.Identity)
	if err != nil {
		r.record("clear namespace", err)
		return
	}
	r.KeysRemoved += n
	r.record(fmt.Sprintf("removed %d fields of %s", n, req.Identity), nil)
}

func (r *Report) removeRoot(ctx context.Context, req Request, desc string, keys []string) {
	if err := req.Data.KV().MultiRemove(ctx, keys); err != nil {
		r.record(desc, err)
		return
	}
	r.KeysRemoved += len(keys)
	r.record(desc, nil)
}

// endLegacySession rewrites the flat record without its session members.
// A missing or unparsable record has no session to end.
func (r *Report) endLegacySession(ctx context.Context, req Request) {
	const desc = "end session in legacy record"
	key := userdata.LegacyRecordKey(req.Identity)
	store := req.Data.KV()

	raw, ok, err := store.GetItem(ctx, key)
	if err != nil {
		r.record(desc, err)
		return
	}
	if !ok {
		r.record(desc, nil)
		return
	}

	var rec map[string]any
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		r.record(desc, nil)
		return
	}

	changed := false
	for _, f := range legacySessionFields {
		if _, ok := rec[f]; ok {
			delete(rec, f)
			changed = true
		}
	}
	if !changed {
		r.record(desc, nil)
		return
	}

	data, err := json.Marshal(rec)
	if err != nil {
		r.record(desc, err)
		return
	}
	r.record(desc, store.SetItem(ctx, key, string(data)))
}
