// Package cli implements zplaces' command-line subcommands.
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"syscall"

	"github.com/zarlcorp/zplaces/internal/auth"
	"github.com/zarlcorp/zplaces/internal/purge"
	"github.com/zarlcorp/zplaces/internal/review"
	"github.com/zarlcorp/zplaces/internal/userdata"
	"golang.org/x/term"
)

// ErrUsage is returned when a command is called with missing arguments.
var ErrUsage = errors.New("usage")

// ReadPassword prompts for a password on w and reads it without echo.
func ReadPassword(prompt string, w io.Writer) (string, error) {
	fmt.Fprint(w, prompt)
	b, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(w)
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	return string(b), nil
}

// ReadNewPassword prompts for a new password with confirmation.
func ReadNewPassword(w io.Writer) (string, error) {
	pass, err := ReadPassword("new password: ", w)
	if err != nil {
		return "", err
	}
	confirm, err := ReadPassword("confirm password: ", w)
	if err != nil {
		return "", err
	}
	if pass != confirm {
		return "", fmt.Errorf("passwords do not match")
	}
	return pass, nil
}

// IsFirstRun checks whether the zstore in dir has been initialized.
func IsFirstRun(dir string) bool {
	_, err := os.Stat(dir + "/salt")
	return err != nil
}

// newPassword prompts twice through e.Prompt.
func (e *Env) newPassword() (string, error) {
	pass, err := e.Prompt("new password: ")
	if err != nil {
		return "", err
	}
	confirm, err := e.Prompt("confirm password: ")
	if err != nil {
		return "", err
	}
	if pass != confirm {
		return "", fmt.Errorf("passwords do not match")
	}
	return pass, nil
}

// CmdRegister creates an account and signs it in. Visitor data is migrated
// unless --discard-visitor is given.
func CmdRegister(ctx context.Context, e *Env, args []string) error {
	email := firstArg(args)
	if email == "" {
		return fmt.Errorf("%w: register <email> [--name N] [--phone P] [--discard-visitor]", ErrUsage)
	}

	pass, err := e.newPassword()
	if err != nil {
		return err
	}

	fields := auth.Fields{
		Name:  flagValue(args, "--name"),
		Phone: flagValue(args, "--phone"),
	}
	reg, err := e.Auth.Register(ctx, email, pass, fields, !hasFlag(args, "--discard-visitor"))
	if err != nil {
		return err
	}

	fmt.Fprintf(e.Out, "registered %s <%s>\n", reg.Profile.Name, reg.Profile.Email)
	if m := reg.Migration; m != nil {
		if m.Err != nil {
			fmt.Fprintf(e.Out, "  visitor data not migrated: %v\n", m.Err)
		} else {
			fmt.Fprintf(e.Out, "  migrated %d fields, %d reviews\n", m.Count, m.ReviewsMigrated)
		}
	}
	if d := reg.Discard; d != nil {
		fmt.Fprintln(e.Out, "visitor data discarded")
		fmt.Fprintln(e.Out, d.Summary())
	}
	return nil
}

// CmdLogin signs in an existing account.
func CmdLogin(ctx context.Context, e *Env, args []string) error {
	email := firstArg(args)
	if email == "" {
		return fmt.Errorf("%w: login <email>", ErrUsage)
	}

	pass, err := e.Prompt("password: ")
	if err != nil {
		return err
	}

	p, err := e.Auth.Login(ctx, email, pass)
	if err != nil {
		return err
	}
	fmt.Fprintf(e.Out, "signed in as %s <%s>\n", p.Name, p.Email)
	return nil
}

// CmdVisitor signs in the visitor identity.
func CmdVisitor(ctx context.Context, e *Env) error {
	if _, err := e.Auth.ContinueAsVisitor(ctx); err != nil {
		return err
	}
	fmt.Fprintln(e.Out, "continuing as visitor")
	return nil
}

// CmdLogout ends the session. Cleanup failures are reported, not returned.
func CmdLogout(ctx context.Context, e *Env) error {
	report := e.Auth.Logout(ctx)
	fmt.Fprintln(e.Out, "signed out")
	fmt.Fprintln(e.Out, report.Summary())
	return nil
}

// CmdWhoami prints the signed-in profile and its badge status.
func CmdWhoami(ctx context.Context, e *Env, args []string) error {
	p, ok := e.Auth.CurrentUser(ctx)
	if !ok {
		return auth.ErrNotAuthenticated
	}

	st, err := e.Stats.CheckVerificationStatus(ctx, p.Email)
	if err != nil {
		return err
	}

	if hasFlag(args, "--json") {
		return printJSON(e.Out, struct {
			Profile auth.Profile `json:"profile"`
			Status  any          `json:"verification"`
		}{p, st})
	}

	fmt.Fprintf(e.Out, "  email:    %s\n", p.Email)
	fmt.Fprintf(e.Out, "  name:     %s\n", p.Name)
	if p.Phone != "" {
		fmt.Fprintf(e.Out, "  phone:    %s\n", p.Phone)
	}
	fmt.Fprintf(e.Out, "  visitor:  %v\n", e.Auth.IsCurrentUserVisitor(ctx))
	fmt.Fprintf(e.Out, "  verified: %v (%d/%d reviews)\n",
		st.IsVerified, st.Criteria.ReviewsAdded, st.Criteria.ReviewsRequired)
	return nil
}

// CmdDump prints every field of an identity, the current one by default.
func CmdDump(ctx context.Context, e *Env, args []string) error {
	id, err := e.identityArg(ctx, args)
	if err != nil {
		return err
	}

	rec, err := e.Data.GetAll(ctx, id)
	if err != nil {
		return err
	}

	if hasFlag(args, "--json") {
		out := make(map[string]any, len(rec))
		for f, v := range rec {
			out[f] = v.Any()
		}
		return printJSON(e.Out, out)
	}

	if len(rec) == 0 {
		fmt.Fprintf(e.Out, "no data for %s\n", id)
		return nil
	}

	fields := make([]string, 0, len(rec))
	for f := range rec {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	for _, f := range fields {
		v := rec[f].String()
		if f == userdata.FieldPassword {
			v = "********"
		}
		fmt.Fprintf(e.Out, "  %-22s %s\n", f, v)
	}
	return nil
}

// CmdIdentities lists every identity that has stored data.
func CmdIdentities(ctx context.Context, e *Env) error {
	ids, err := e.Data.Identities(ctx)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		fmt.Fprintln(e.Out, "no identities")
		return nil
	}

	cur, _ := e.Auth.CurrentIdentity(ctx)
	for _, id := range ids {
		mark := " "
		if id == cur {
			mark = "*"
		}
		fmt.Fprintf(e.Out, "%s %s\n", mark, id)
	}
	return nil
}

// CmdClear removes every namespaced field of an identity.
func CmdClear(ctx context.Context, e *Env, args []string) error {
	id := firstArg(args)
	if id == "" {
		return fmt.Errorf("%w: clear <identity>", ErrUsage)
	}

	req := purge.Request{Identity: id, Data: e.Data, Namespace: purge.ScopeAll}
	report := purge.Execute(ctx, req)
	fmt.Fprintln(e.Out, report.Summary())
	return report.Err()
}

// CmdMigrate copies visitor data to an account. The visitor namespace is
// purged afterwards unless --keep is given.
func CmdMigrate(ctx context.Context, e *Env, args []string) error {
	target := firstArg(args)
	if target == "" {
		return fmt.Errorf("%w: migrate <email> [--keep]", ErrUsage)
	}

	res := e.Migrate.MigrateVisitorDataToUser(ctx, target, !hasFlag(args, "--keep"))
	if res.Err != nil {
		return res.Err
	}

	if !res.Migrated {
		fmt.Fprintln(e.Out, "nothing to migrate")
		return nil
	}
	fmt.Fprintf(e.Out, "migrated %d fields, %d reviews to %s\n", res.Count, res.ReviewsMigrated, target)
	if res.Cleanup != nil {
		fmt.Fprintln(e.Out, res.Cleanup.Summary())
	}
	return nil
}

// CmdVerify recomputes the verified badge of an identity.
func CmdVerify(ctx context.Context, e *Env, args []string) error {
	id, err := e.identityArg(ctx, args)
	if err != nil {
		return err
	}

	st, err := e.Stats.CheckVerificationStatus(ctx, id)
	if err != nil {
		return err
	}
	if hasFlag(args, "--json") {
		return printJSON(e.Out, st)
	}

	state := "not verified"
	if st.IsVerified {
		state = "verified"
		if st.VerifiedAt != nil {
			state += " since " + st.VerifiedAt.Format("2006-01-02")
		}
	}
	fmt.Fprintf(e.Out, "%s: %s (%d/%d reviews)\n", id, state, st.Criteria.ReviewsAdded, st.Criteria.ReviewsRequired)
	return nil
}

// CmdEncryptCredentials encrypts every plaintext credential in the store.
func CmdEncryptCredentials(ctx context.Context, e *Env) error {
	r, err := e.Vault.MigrateLegacyCredentials(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(e.Out, "scanned %d credentials, encrypted %d, failed %d\n", r.Scanned, r.Encrypted, r.Failed)
	return nil
}

// CmdResetRequest issues a password reset token. Delivery is out of band,
// so the token is printed.
func CmdResetRequest(ctx context.Context, e *Env, args []string) error {
	email := firstArg(args)
	if email == "" {
		return fmt.Errorf("%w: reset-request <email>", ErrUsage)
	}

	token, expires, err := e.Auth.RequestPasswordReset(ctx, email)
	if err != nil {
		return err
	}
	fmt.Fprintf(e.Out, "token:   %s\n", token)
	fmt.Fprintf(e.Out, "expires: %s\n", expires.Format("2006-01-02 15:04 MST"))
	return nil
}

// CmdReset sets a new password with a reset token.
func CmdReset(ctx context.Context, e *Env, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("%w: reset <email> <token>", ErrUsage)
	}

	if err := e.Auth.VerifyResetToken(ctx, args[0], args[1]); err != nil {
		return err
	}
	pass, err := e.newPassword()
	if err != nil {
		return err
	}
	if err := e.Auth.ResetPassword(ctx, args[0], args[1], pass); err != nil {
		return err
	}
	fmt.Fprintln(e.Out, "password reset")
	return nil
}

// CmdPasswd changes the signed-in account's password.
func CmdPasswd(ctx context.Context, e *Env) error {
	cur, err := e.Prompt("current password: ")
	if err != nil {
		return err
	}
	pass, err := e.newPassword()
	if err != nil {
		return err
	}
	if err := e.Auth.ChangePassword(ctx, cur, pass); err != nil {
		return err
	}
	fmt.Fprintln(e.Out, "password changed")
	return nil
}

// CmdBiometric turns biometric sign-in on or off, or signs in with it.
func CmdBiometric(ctx context.Context, e *Env, args []string) error {
	switch firstArg(args) {
	case "on":
		if err := e.Auth.EnableBiometric(ctx); err != nil {
			return err
		}
		fmt.Fprintln(e.Out, "biometric sign-in enabled")
	case "off":
		if err := e.Auth.DisableBiometric(ctx); err != nil {
			return err
		}
		fmt.Fprintln(e.Out, "biometric sign-in disabled")
	case "login":
		p, err := e.Auth.LoginWithBiometric(ctx, promptVerifier{e.Prompt})
		if err != nil {
			return err
		}
		fmt.Fprintf(e.Out, "signed in as %s <%s>\n", p.Name, p.Email)
	default:
		return fmt.Errorf("%w: biometric on|off|login", ErrUsage)
	}
	return nil
}

// CmdDeleteAccount destroys the signed-in account after a password check.
func CmdDeleteAccount(ctx context.Context, e *Env) error {
	pass, err := e.Prompt("password: ")
	if err != nil {
		return err
	}
	report, err := e.Auth.DeleteAccount(ctx, pass)
	if err != nil {
		return err
	}
	fmt.Fprintln(e.Out, "account deleted")
	fmt.Fprintln(e.Out, report.Summary())
	return nil
}

// CmdPlace records a map marker for the current identity.
func CmdPlace(ctx context.Context, e *Env, args []string) error {
	placeID := firstArg(args)
	if placeID == "" {
		return fmt.Errorf("%w: place <placeId> [--name N]", ErrUsage)
	}

	id, err := e.Data.Current(ctx)
	if err != nil {
		return err
	}

	markers := userdata.Get(ctx, e.Data, userdata.FieldMapMarkers, []map[string]any(nil))
	markers = append(markers, map[string]any{
		"placeId": placeID,
		"name":    flagValue(args, "--name"),
	})
	if err := e.Data.Set(ctx, userdata.FieldMapMarkers, markers); err != nil {
		return err
	}

	s, err := e.Stats.IncrementPlacesAdded(ctx, id)
	if err != nil {
		return err
	}
	fmt.Fprintf(e.Out, "added %s (%d places)\n", placeID, s.PlacesAdded)
	return nil
}

// CmdReview adds or lists reviews of the current identity.
func CmdReview(ctx context.Context, e *Env, args []string) error {
	id, err := e.Data.Current(ctx)
	if err != nil {
		return err
	}

	switch firstArg(args) {
	case "add":
		return addReview(ctx, e, id, args[1:])
	case "list":
		return listReviews(ctx, e, id, args[1:])
	default:
		return fmt.Errorf("%w: review add <placeId> <rating> [--comment C] [--photo P] | review list [--json]", ErrUsage)
	}
}

func addReview(ctx context.Context, e *Env, owner string, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("%w: review add <placeId> <rating>", ErrUsage)
	}
	rating, err := strconv.Atoi(args[1])
	if err != nil || rating < 1 || rating > 5 {
		return fmt.Errorf("rating must be 1-5, got %q", args[1])
	}

	name := owner
	if p, ok := e.Auth.CurrentUser(ctx); ok {
		name = p.Name
	}

	rec := review.Record{
		PlaceID:  args[0],
		Rating:   rating,
		Comment:  flagValue(args, "--comment"),
		UserName: name,
	}
	for _, src := range flagValues(args, "--photo") {
		u, err := e.Reviews.UploadImage(ctx, src, "reviews/"+owner)
		if err != nil {
			return err
		}
		rec.Photos = append(rec.Photos, u)
	}

	rid, err := e.Reviews.AddReview(ctx, rec, owner)
	if err != nil {
		return err
	}
	if _, err := e.Stats.IncrementReviewsAdded(ctx, owner); err != nil {
		return err
	}
	fmt.Fprintf(e.Out, "review %s added\n", rid)
	return nil
}

func listReviews(ctx context.Context, e *Env, owner string, args []string) error {
	rs, err := e.Reviews.ReviewsByOwner(ctx, owner)
	if err != nil {
		return err
	}
	if hasFlag(args, "--json") {
		return printJSON(e.Out, rs)
	}
	if len(rs) == 0 {
		fmt.Fprintln(e.Out, "no reviews")
		return nil
	}
	for _, r := range rs {
		fmt.Fprintf(e.Out, "  %-36s %-20s %d/5 %s\n", r.ID, r.PlaceID, r.Rating, r.CreatedAt.Format("2006-01-02"))
	}
	return nil
}

// promptVerifier stands in for the device biometric prompt on a terminal.
type promptVerifier struct {
	prompt func(string) (string, error)
}

func (v promptVerifier) Verify(_ context.Context, msg string) (bool, error) {
	answer, err := v.prompt(msg + "? [y/N] ")
	if err != nil {
		return false, err
	}
	answer = strings.ToLower(strings.TrimSpace(answer))
	return answer == "y" || answer == "yes", nil
}

// identityArg returns the first positional argument or the current identity.
func (e *Env) identityArg(ctx context.Context, args []string) (string, error) {
	if id := firstArg(args); id != "" {
		return id, nil
	}
	return e.Auth.CurrentIdentity(ctx)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode json: %w", err)
	}
	return nil
}

func hasFlag(args []string, flag string) bool {
	for _, a := range args {
		if strings.EqualFold(a, flag) {
			return true
		}
	}
	return false
}

// flagValue returns the argument following flag.
func flagValue(args []string, flag string) string {
	vs := flagValues(args, flag)
	if len(vs) == 0 {
		return ""
	}
	return vs[len(vs)-1]
}

func flagValues(args []string, flag string) []string {
	var out []string
	for i := 0; i < len(args)-1; i++ {
		if strings.EqualFold(args[i], flag) {
			out = append(out, args[i+1])
			i++
		}
	}
	return out
}

// firstArg returns the first argument that is neither a flag nor a flag's
// value.
func firstArg(args []string) string {
	for i := 0; i < len(args); i++ {
		a := args[i]
		if !strings.HasPrefix(a, "--") {
			return a
		}
		if valueFlags[strings.ToLower(a)] {
			i++
		}
	}
	return ""
}

var valueFlags = map[string]bool{
	"--name":    true,
	"--phone":   true,
	"--comment": true,
	"--photo":   true,
}
