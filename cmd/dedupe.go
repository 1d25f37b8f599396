package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/dhcgn/mbox-contacts/audit"
	"github.com/dhcgn/mbox-contacts/config"
	"github.com/dhcgn/mbox-contacts/dedupe"
	"github.com/dhcgn/mbox-contacts/model"
	"github.com/dhcgn/mbox-contacts/roster"
	"github.com/dhcgn/mbox-contacts/stats"
)

func newDedupeCommand() (*cobra.Command, error) {
	cmd := &cobra.Command{
		Use:   "dedupe",
		Short: "Merge the contacts of one or more roster files",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, cleanup, err := prepare(cmd, args)
			if err != nil {
				return err
			}
			defer func() {
				_ = cleanup()
			}()

			logger.Info("starting deduplication", "inputs", cfg.Inputs, "output", cfg.Output, "namePolicy", cfg.Rules.NameMatchPolicy)
			return runDedupe(cmd.Context(), cfg, logger)
		},
	}

	if err := config.RegisterDedupeFlags(cmd); err != nil {
		return nil, err
	}
	return cmd, nil
}

func runDedupe(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	policy, err := dedupe.ParsePolicy(cfg.Rules.NameMatchPolicy)
	if err != nil {
		return err
	}

	store := roster.NewStore()
	for _, input := range cfg.Inputs {
		records, err := loadRoster(input, logger)
		if err != nil {
			return err
		}
		for _, c := range records {
			store.Add(c)
		}
	}

	var summary stats.Summary
	return writeRoster(ctx, cfg, store, policy, true, &summary, logger)
}

// loadRoster reads a roster and restores provenance from its audit file.
func loadRoster(path string, logger *slog.Logger) ([]model.Contact, error) {
	records, err := roster.ReadFile(path)
	if err != nil {
		return nil, err
	}

	auditPath := config.DefaultAuditPath(path)
	entries, err := audit.Load(auditPath)
	if err != nil {
		return nil, fmt.Errorf("load audit for %s: %w", path, err)
	}
	matched := audit.Reattach(records, entries)
	logger.Debug("roster loaded", "path", path, "records", len(records), "audit", auditPath, "provenanceRestored", matched)
	return records, nil
}
