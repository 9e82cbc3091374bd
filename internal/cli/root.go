// Package cli implements the issuedesk command line.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roeyazroel/issuedesk/internal/app"
	"github.com/roeyazroel/issuedesk/internal/config"
	"github.com/roeyazroel/issuedesk/internal/deskapi"
	"github.com/roeyazroel/issuedesk/internal/kvstore"
	"github.com/roeyazroel/issuedesk/internal/logger"
	"github.com/roeyazroel/issuedesk/internal/telemetry"
)

// Options lets callers supply configuration and storage instead of loading
// them from the environment.
type Options struct {
	Version string
	Config  *config.Config
	KV      kvstore.Store
}

type env struct {
	opts Options

	yes     bool
	jsonOut bool
	verbose bool

	cfg    config.Config
	kv     kvstore.Store
	ownsKV bool
	app    *app.App
	closed bool
}

// Execute runs the command line with args and releases everything it opened.
func Execute(ctx context.Context, opts Options, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	e := &env{opts: opts}
	cmd := newRootCmd(e)
	cmd.SetArgs(args)
	cmd.SetIn(stdin)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	err := cmd.ExecuteContext(ctx)
	e.close(ctx)
	switch {
	case errors.Is(err, app.ErrCancelled):
		fmt.Fprintln(stderr, "Cancelled")
	case err != nil:
		fmt.Fprintln(stderr, "Error:", describe(err))
	}
	return err
}

func newRootCmd(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "issuedesk",
		Short:         "Issue tracker client",
		Version:       e.opts.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		Example: strings.TrimSpace(`
  issuedesk login --email you@example.com
  issuedesk org list
  issuedesk issue list --status in_review
  issuedesk issue create --title "Broken login" --description "Steps..."
`),
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return e.open(cmd)
		},
	}
	cmd.SetVersionTemplate("{{.Version}}\n")

	cmd.PersistentFlags().BoolVarP(&e.yes, "yes", "y", false, "Skip confirmation of destructive actions")
	cmd.PersistentFlags().BoolVar(&e.jsonOut, "json", false, "Print JSON instead of text")
	cmd.PersistentFlags().BoolVar(&e.verbose, "verbose", false, "Log debug output to stderr")

	cmd.AddCommand(newLoginCmd(e))
	cmd.AddCommand(newSignupCmd(e))
	cmd.AddCommand(newLogoutCmd(e))
	cmd.AddCommand(newWhoamiCmd(e))
	cmd.AddCommand(newAccountCmd(e))
	cmd.AddCommand(newOrgCmd(e))
	cmd.AddCommand(newIssueCmd(e))
	return cmd
}

// open loads configuration, storage and the persisted session.
func (e *env) open(cmd *cobra.Command) error {
	ctx := cmd.Context()

	if e.opts.Config != nil {
		e.cfg = *e.opts.Config
	} else {
		cfg, err := config.LoadFromEnv()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		e.cfg = cfg
	}

	if e.verbose {
		logger.InitWriter(cmd.ErrOrStderr(), logger.LevelDebug)
	} else if err := logger.Init(e.cfg.LogFile, logger.ParseLevel(e.cfg.LogLevel)); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	if err := telemetry.Init(ctx, telemetry.Options{
		Enabled:     e.cfg.OTelEnabled,
		Stdout:      e.cfg.OTelStdout,
		Version:     e.opts.Version,
		Writer:      cmd.ErrOrStderr(),
		ServiceName: "issuedesk",
	}); err != nil {
		logger.ErrorWithErr(err, "cli: telemetry disabled")
	}

	if e.opts.KV != nil {
		e.kv = e.opts.KV
	} else {
		kv, err := kvstore.OpenSQLite(ctx, e.cfg.StatePath)
		if err != nil {
			return fmt.Errorf("open state: %w", err)
		}
		e.kv = kv
		e.ownsKV = true
	}

	e.app = app.New(app.Options{
		KV: e.kv,
		Client: deskapi.ClientConfig{
			BaseURL: e.cfg.APIBase,
			Timeout: e.cfg.Timeout,
			Retries: e.cfg.Retries,
		},
		Navigator:     navigator{},
		Confirmer:     &promptConfirmer{in: cmd.InOrStdin(), out: cmd.ErrOrStderr(), yes: e.yes},
		ManualRefresh: true,
	})
	if err := e.app.Session.Restore(ctx); err != nil {
		return err
	}
	logger.Debug("cli: running %s api=%s", cmd.CommandPath(), e.cfg.APIBase)
	return nil
}

func (e *env) close(ctx context.Context) {
	if e.closed {
		return
	}
	e.closed = true
	if e.app != nil {
		e.app.Close()
	}
	if e.ownsKV && e.kv != nil {
		if err := e.kv.Close(); err != nil {
			logger.ErrorWithErr(err, "cli: close state")
		}
	}
	if err := telemetry.Shutdown(ctx); err != nil {
		logger.ErrorWithErr(err, "cli: flush telemetry")
	}
	logger.Close()
}

// activeWorkspace loads the workspace list and returns the active id. The
// issue list is not fetched.
func (e *env) activeWorkspace(ctx context.Context) (string, error) {
	if _, err := e.app.Workspaces(ctx); err != nil {
		return "", err
	}
	sel := e.app.Selector.Current()
	if !sel.Active() {
		return "", errors.New("no workspace yet; create one with `issuedesk org create`")
	}
	return sel.OrgID, nil
}

// describe turns err into the line shown to the user.
func describe(err error) string {
	msg := deskapi.Message(err)
	if deskapi.IsKind(err, deskapi.KindAuth) && msg == "Not logged in" {
		return msg + ". Run `issuedesk login` first."
	}
	return msg
}

// navigator records screen changes in the log; each command prints its own
// result instead.
type navigator struct{}

func (navigator) Push(route string)    { logger.Debug("cli: navigate push=%s", route) }
func (navigator) Replace(route string) { logger.Debug("cli: navigate replace=%s", route) }
