package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/dhcgn/mbox-contacts/audit"
	"github.com/dhcgn/mbox-contacts/config"
	"github.com/dhcgn/mbox-contacts/dedupe"
	"github.com/dhcgn/mbox-contacts/extract"
	"github.com/dhcgn/mbox-contacts/filter"
	"github.com/dhcgn/mbox-contacts/mbox"
	"github.com/dhcgn/mbox-contacts/progress"
	"github.com/dhcgn/mbox-contacts/roster"
	"github.com/dhcgn/mbox-contacts/runner"
	"github.com/dhcgn/mbox-contacts/stats"
)

func newExtractCommand() (*cobra.Command, error) {
	cmd := &cobra.Command{
		Use:   "extract [archive.mbox...]",
		Short: "Extract contacts from mbox archives into a roster CSV",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, cleanup, err := prepare(cmd, args)
			if err != nil {
				return err
			}
			defer func() {
				_ = cleanup()
			}()

			if len(cfg.MboxPaths) == 0 {
				return fmt.Errorf("no mbox archives given")
			}
			logger.Info("starting extraction", "mbox", cfg.MboxPaths, "output", cfg.Output, "dedupe", !cfg.NoDedupe, "namePolicy", cfg.Rules.NameMatchPolicy)

			return runExtract(cmd.Context(), cfg, logger)
		},
	}

	if err := config.RegisterExtractFlags(cmd); err != nil {
		return nil, err
	}
	return cmd, nil
}

func newFilter(cfg config.Config) (*filter.Filter, error) {
	f, err := filter.New(filter.Options{
		IncludeHeader: cfg.IncludeHeader,
		IncludeBody:   cfg.IncludeBody,
		ExcludeHeader: cfg.ExcludeHeader,
		ExcludeBody:   cfg.ExcludeBody,
	})
	if err != nil {
		return nil, fmt.Errorf("create filter: %w", err)
	}
	return f, nil
}

func runExtract(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	f, err := newFilter(cfg)
	if err != nil {
		return err
	}
	ext, err := extract.New(cfg.Rules)
	if err != nil {
		return fmt.Errorf("extract.New: %w", err)
	}
	policy, err := dedupe.ParsePolicy(cfg.Rules.NameMatchPolicy)
	if err != nil {
		return err
	}

	total := 0
	for _, path := range cfg.MboxPaths {
		n, err := mbox.CountMessages(path)
		if err != nil {
			return err
		}
		total += n
	}

	r := runner.New(logger)
	stats.NewReporter(r, logger)
	bar := progress.New(total, progress.Enabled(cfg.LogLevel, os.Stdout))
	reporter := progress.NewReporter(r, bar)

	readerOpts := mbox.Options{DefaultCharset: cfg.Rules.DefaultCharset, Filter: f}
	if _, err := mbox.NewProducer(cfg.MboxPaths, readerOpts, r, logger); err != nil {
		return fmt.Errorf("mbox.NewProducer: %w", err)
	}
	stage := extract.NewStage(ext, r, logger)

	stop := context.AfterFunc(ctx, func() { r.Abort(ctx.Err()) })
	defer stop()

	runErr := r.Start()
	summary := reporter.Summary()
	if runErr == nil {
		runErr = writeRoster(ctx, cfg, stage.Store(), policy, !cfg.NoDedupe, &summary, logger)
	}

	if progress.Enabled(cfg.LogLevel, os.Stdout) {
		reporter.Print(summary, runErr)
	}
	return runErr
}

// writeRoster optionally merges the store, then commits the roster and its
// audit file together.
func writeRoster(ctx context.Context, cfg config.Config, store *roster.Store, policy dedupe.Policy, merge bool, summary *stats.Summary, logger *slog.Logger) error {
	summary.InputContacts = store.Len()

	if merge {
		res, err := dedupe.Deduplicate(store.Records(), policy)
		if err != nil {
			return fmt.Errorf("deduplicate: %w", err)
		}
		store.Replace(res.Records)
		summary.MergedGroups = res.Merged
		logger.Debug("contacts merged", "input", summary.InputContacts, "groups", res.Groups, "merged", res.Merged, "policy", policy)
	}
	summary.Records = store.Len()

	rows := roster.Rows(store.Records())
	w := audit.NewWriter()
	if err := roster.Commit(ctx, cfg.Output, rows, w.Sidecar(cfg.AuditPath, rows)); err != nil {
		return fmt.Errorf("write roster: %w", err)
	}
	summary.RowsWritten = len(rows)

	logger.Info("roster written",
		"output", cfg.Output,
		"audit", cfg.AuditPath,
		"runID", w.RunID(),
		"contacts", summary.InputContacts,
		"rows", summary.RowsWritten,
		"mergedGroups", summary.MergedGroups,
	)
	return nil
}
