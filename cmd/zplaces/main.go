package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/zarlcorp/core/pkg/zapp"
	"github.com/zarlcorp/zplaces/internal/cli"
	"github.com/zarlcorp/zplaces/internal/config"
	"github.com/zarlcorp/zplaces/internal/tui"
)

// version is set at build time via ldflags.
var version = "dev"

const usage = `usage: zplaces [command] [args]

with no command the admin console starts.

commands:
  register <email> [--name N] [--phone P] [--discard-visitor]
  login <email>
  visitor
  logout
  whoami [--json]
  identities
  dump [identity] [--json]
  clear <identity>
  migrate <email> [--keep]
  verify [identity] [--json]
  encrypt-credentials
  reset-request <email>
  reset <email> <token>
  passwd
  biometric on|off|login
  delete-account
  place <place-id> [--name N]
  review add <place-id> <rating> [--comment C] [--photo FILE]
  review list [--json]
  version`

func main() {
	app := zapp.New(zapp.WithName("zplaces"))

	ctx, cancel := zapp.SignalContext(context.Background())
	defer cancel()

	if err := run(ctx, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "zplaces: %v\n", err)
		if errors.Is(err, cli.ErrUsage) {
			fmt.Fprintln(os.Stderr, usage)
		}
		cancel()
		_ = app.Close()
		os.Exit(1)
	}

	if err := app.Close(); err != nil {
		slog.Error("shutdown", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	if len(args) > 0 {
		switch args[0] {
		case "version":
			fmt.Printf("zplaces %s\n", version)
			return nil
		case "help", "-h", "--help":
			fmt.Println(usage)
			return nil
		}
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	log, err := newLogger(os.Stderr, cfg)
	if err != nil {
		return err
	}
	slog.SetDefault(log)

	env, err := cli.Open(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := env.Close(); err != nil {
			log.Error("close", "err", err)
		}
	}()

	if len(args) == 0 {
		return runTUI(ctx, env)
	}
	return runCLI(ctx, env, args[0], args[1:])
}

// newLogger returns a text logger on w at the configured level.
func newLogger(w io.Writer, cfg config.Config) (*slog.Logger, error) {
	lvl, err := cfg.Level()
	if err != nil {
		return nil, err
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl})), nil
}

func runCLI(ctx context.Context, env *cli.Env, cmd string, args []string) error {
	switch cmd {
	case "register":
		return cli.CmdRegister(ctx, env, args)
	case "login":
		return cli.CmdLogin(ctx, env, args)
	case "visitor":
		return cli.CmdVisitor(ctx, env)
	case "logout":
		return cli.CmdLogout(ctx, env)
	case "whoami":
		return cli.CmdWhoami(ctx, env, args)
	case "identities":
		return cli.CmdIdentities(ctx, env)
	case "dump":
		return cli.CmdDump(ctx, env, args)
	case "clear":
		return cli.CmdClear(ctx, env, args)
	case "migrate":
		return cli.CmdMigrate(ctx, env, args)
	case "verify":
		return cli.CmdVerify(ctx, env, args)
	case "encrypt-credentials":
		return cli.CmdEncryptCredentials(ctx, env)
	case "reset-request":
		return cli.CmdResetRequest(ctx, env, args)
	case "reset":
		return cli.CmdReset(ctx, env, args)
	case "passwd":
		return cli.CmdPasswd(ctx, env)
	case "biometric":
		return cli.CmdBiometric(ctx, env, args)
	case "delete-account":
		return cli.CmdDeleteAccount(ctx, env)
	case "place":
		return cli.CmdPlace(ctx, env, args)
	case "review":
		return cli.CmdReview(ctx, env, args)
	default:
		return fmt.Errorf("%w: unknown command %q", cli.ErrUsage, cmd)
	}
}

func runTUI(ctx context.Context, env *cli.Env) error {
	m := tui.New(ctx, version, tui.Services{
		Auth:  env.Auth,
		Data:  env.Data,
		Stats: env.Stats,
	})
	p := tea.NewProgram(m, tea.WithContext(ctx))
	if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return fmt.Errorf("tui: %w", err)
	}
	return nil
}
