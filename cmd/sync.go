package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/scholarsync/api/schemas"
	"github.com/xkilldash9x/scholarsync/internal/actions"
	"github.com/xkilldash9x/scholarsync/internal/bibliography"
	"github.com/xkilldash9x/scholarsync/internal/browser"
	"github.com/xkilldash9x/scholarsync/internal/config"
	"github.com/xkilldash9x/scholarsync/internal/ledger"
	"github.com/xkilldash9x/scholarsync/internal/observability"
	"github.com/xkilldash9x/scholarsync/internal/orchestrator"
	"github.com/xkilldash9x/scholarsync/internal/report"
	"github.com/xkilldash9x/scholarsync/internal/resolver"
	"github.com/xkilldash9x/scholarsync/internal/session"
)

// ErrRunAborted is returned when the batch stopped before the last record.
var ErrRunAborted = errors.New("run aborted")

// passwordEnv lets the password stay off the command line.
const passwordEnv = envPrefix + "_PASSWORD"

// newDriverFactory is swapped out in tests to avoid launching Chrome.
var newDriverFactory = func(cfg config.BrowserConfig, logger *zap.Logger) browser.Factory {
	return browser.NewCDPFactory(cfg, logger)
}

type syncOptions struct {
	email    string
	password string
	waitTime int
}

func newSyncCmd() *cobra.Command {
	var opts syncOptions

	syncCmd := &cobra.Command{
		Use:   "sync",
		Short: "Add every paper of a bibliography to alerts and the library",
		Long: `sync signs in once, then for each record of the Zotero export searches the
paper by title, verifies the match, activates an alert and saves it to the
library. Records already in the ledger are skipped.

The password can also be given through the ` + passwordEnv + ` environment variable.
When --email is omitted, the address recorded in the run log is reused.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Get()
			if cmd.Flags().Changed("wait-time") {
				if opts.waitTime < 0 {
					return fmt.Errorf("--wait-time must not be negative")
				}
				cfg.Batch.WaitTime = time.Duration(opts.waitTime) * time.Second
			}
			return runSync(cmd.Context(), cmd, cfg, opts)
		},
	}

	flags := syncCmd.Flags()
	flags.StringVarP(&opts.email, "email", "l", "", "Semantic Scholar account email")
	flags.StringVarP(&opts.password, "password", "p", "", "Semantic Scholar account password (or "+passwordEnv+")")
	flags.StringP("input", "i", "", "Zotero CSV export to read")
	flags.IntVarP(&opts.waitTime, "wait-time", "w", 37, "seconds between two searches")
	flags.String("ledger", "", "ledger of processed records")
	flags.String("run-log", "", "human readable run log")
	flags.Bool("headless", false, "run the browser without a window")
	return syncCmd
}

func runSync(ctx context.Context, cmd *cobra.Command, cfg *config.Config, opts syncOptions) error {
	logger := observability.GetLogger()

	creds, err := resolveCredentials(cfg, opts)
	if err != nil {
		return err
	}

	imp, err := bibliography.ReadFile(cfg.Batch.InputPath, itemTypes(cfg.Batch.AcceptedItemTypes))
	if err != nil {
		return err
	}
	logger.Info("Bibliography loaded.",
		zap.String("path", cfg.Batch.InputPath),
		zap.Int("records", len(imp.Records)),
		zap.Int("ineligible", imp.Ineligible),
		zap.Int("duplicates", imp.Duplicates),
		zap.Int("blank", imp.Blank),
	)

	led, err := ledger.Open(cfg.Batch.LedgerPath, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := led.Close(); err != nil {
			logger.Warn("Could not close the ledger.", zap.Error(err))
		}
	}()

	runlog, err := ledger.OpenRunLog(cfg.Batch.RunLogPath)
	if err != nil {
		return err
	}
	defer runlog.Close()
	if err := runlog.Begin(creds.Email); err != nil {
		return err
	}

	mgr := session.New(cfg, newDriverFactory(cfg.Browser, logger), creds, logger)
	defer mgr.Stop(context.WithoutCancel(ctx))

	page := mgr.Page()
	orch := orchestrator.New(
		mgr,
		resolver.New(page, cfg.Scholar, nil, logger),
		actions.New(page, cfg.Scholar, logger),
		led,
		runlog,
		cfg.Batch,
		logger,
	)

	var final schemas.FinalReport
	var g errgroup.Group
	g.Go(func() error {
		consumeProgress(cmd.ErrOrStderr(), orch.Progress(), len(imp.Records))
		return nil
	})
	g.Go(func() error {
		var runErr error
		final, runErr = orch.Run(ctx, imp.Records)
		return runErr
	})
	if err := g.Wait(); err != nil {
		return err
	}

	for _, line := range strings.Split(strings.TrimRight(final.Summary(), "\n"), "\n") {
		if err := runlog.Printf("%s", line); err != nil {
			logger.Warn("Could not write the summary to the run log.", zap.Error(err))
			break
		}
	}
	out := cmd.OutOrStdout()
	if err := report.Render(out, final, report.Colorize(out)); err != nil {
		return err
	}

	if final.Aborted {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("%w: %w", ErrRunAborted, ctxErr)
		}
		return fmt.Errorf("%w: %s", ErrRunAborted, final.AbortReason)
	}
	return nil
}

// resolveCredentials fills in the password from the environment and the
// email from the run log when the flags leave them out.
func resolveCredentials(cfg *config.Config, opts syncOptions) (schemas.Credentials, error) {
	creds := schemas.Credentials{Email: opts.email, Password: opts.password}
	if creds.Password == "" {
		creds.Password = os.Getenv(passwordEnv)
	}
	if creds.Email == "" {
		recalled, err := ledger.Identity(cfg.Batch.RunLogPath)
		if err != nil {
			return creds, err
		}
		creds.Email = recalled
	}
	if err := creds.Validate(); err != nil {
		return creds, fmt.Errorf("%w (use --email and --password or %s)", err, passwordEnv)
	}
	return creds, nil
}

func itemTypes(names []string) []schemas.ItemType {
	types := make([]schemas.ItemType, 0, len(names))
	for _, n := range names {
		types = append(types, schemas.ItemType(n))
	}
	return types
}

// consumeProgress draws a progress bar on terminals and prints one line per
// record elsewhere. It returns once the channel is closed.
func consumeProgress(w io.Writer, progress <-chan schemas.ProgressSnapshot, total int) {
	if !report.Colorize(w) {
		for snap := range progress {
			fmt.Fprintf(w, "[%d/%d %3.0f%%] %-8s %s (eta %s)\n",
				snap.Processed, snap.Total, snap.Percent(), snap.Status, snap.Current, report.Duration(snap.EstimatedRemaining))
		}
		return
	}

	bar := progressbar.NewOptions(total,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetDescription("Syncing"),
		progressbar.OptionShowCount(),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionSetWidth(30),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionOnCompletion(func() { fmt.Fprintln(w) }),
	)
	for snap := range progress {
		bar.Describe(fmt.Sprintf("%-8s", snap.Status))
		_ = bar.Set(snap.Processed)
	}
	_ = bar.Finish()
}
