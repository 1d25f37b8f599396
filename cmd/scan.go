package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dhcgn/mbox-contacts/config"
	"github.com/dhcgn/mbox-contacts/dedupe"
	"github.com/dhcgn/mbox-contacts/extract"
	"github.com/dhcgn/mbox-contacts/mbox"
	"github.com/dhcgn/mbox-contacts/model"
	"github.com/dhcgn/mbox-contacts/normalize"
	"github.com/dhcgn/mbox-contacts/roster"
	"github.com/dhcgn/mbox-contacts/stats"
)

// scanReport summarizes what an extraction over the archives would find.
type scanReport struct {
	Messages     int
	DecodeErrors int
	Recovered    int
	Duplicates   int
	NoMatch      int
	Signatures   int
	Candidates   int
	Rejected     int
	Contacts     int

	Senders    map[string]int
	Recipients map[string]int
	Roles      map[string]int
}

func newScanCommand() (*cobra.Command, error) {
	var topN int

	cmd := &cobra.Command{
		Use:   "scan archive.mbox [archive.mbox...]",
		Short: "Show archive statistics and the contacts an extraction would find",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, cleanup, err := prepare(cmd, args)
			if err != nil {
				return err
			}
			defer func() {
				_ = cleanup()
			}()

			report, err := scanArchives(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			printScan(cmd.OutOrStdout(), report, topN)
			return nil
		},
	}

	if err := config.RegisterScanFlags(cmd); err != nil {
		return nil, err
	}
	cmd.Flags().IntVarP(&topN, "top", "t", 10, "Number of top items to display in statistics")
	return cmd, nil
}

func scanArchives(ctx context.Context, cfg config.Config, logger *slog.Logger) (scanReport, error) {
	report := scanReport{
		Senders:    make(map[string]int),
		Recipients: make(map[string]int),
		Roles:      make(map[string]int),
	}

	f, err := newFilter(cfg)
	if err != nil {
		return report, err
	}
	ext, err := extract.New(cfg.Rules)
	if err != nil {
		return report, fmt.Errorf("extract.New: %w", err)
	}
	policy, err := dedupe.ParsePolicy(cfg.Rules.NameMatchPolicy)
	if err != nil {
		return report, err
	}

	store := roster.NewStore()
	seen := make(map[string]struct{})

	for _, path := range cfg.MboxPaths {
		opts := mbox.Options{Path: path, DefaultCharset: cfg.Rules.DefaultCharset, Filter: f}
		err := mbox.Read(ctx, opts, func(env model.Envelope) error {
			if env.Err != nil {
				report.DecodeErrors++
				logger.Warn("message skipped", "err", env.Err)
				return nil
			}

			msg := env.Message
			key := msg.ID
			if key == "" {
				key = msg.Hash
			}
			if _, dup := seen[key]; dup && key != "" {
				report.Duplicates++
				return nil
			}
			seen[key] = struct{}{}

			report.Messages++
			if msg.Recovered {
				report.Recovered++
			}
			for _, a := range msg.From {
				report.Senders[addressLabel(a)]++
			}
			for _, list := range [][]model.Address{msg.To, msg.Cc} {
				for _, a := range list {
					report.Recipients[addressLabel(a)]++
				}
			}

			res := ext.Extract(msg)
			if len(res.Candidates) == 0 {
				report.NoMatch++
				return nil
			}
			for _, cand := range res.Candidates {
				if cand.Source == model.SourceSignature {
					report.Signatures++
				}
				contact, rejected := normalize.Contact(cand)
				report.Rejected += len(rejected)
				if store.Add(contact) {
					report.Candidates++
					for _, role := range contact.Roles {
						report.Roles[role]++
					}
				}
			}
			return nil
		})
		if err != nil {
			var unreadable *mbox.ArchiveUnreadableError
			if errors.As(err, &unreadable) {
				return report, err
			}
			return report, fmt.Errorf("scan %s: %w", path, err)
		}
	}

	res, err := dedupe.Deduplicate(store.Records(), policy)
	if err != nil {
		return report, fmt.Errorf("deduplicate: %w", err)
	}
	report.Contacts = res.Groups

	logger.Debug("scan finished", "messages", report.Messages, "candidates", report.Candidates, "contacts", report.Contacts)
	return report, nil
}

func addressLabel(a model.Address) string {
	email := strings.ToLower(a.Email)
	if a.Name == "" {
		return email
	}
	return fmt.Sprintf("%s <%s>", a.Name, email)
}

func printScan(w io.Writer, report scanReport, topN int) {
	overview := [][]string{
		{"Messages", strconv.Itoa(report.Messages)},
		{"Undecodable messages", strconv.Itoa(report.DecodeErrors)},
		{"Charset fallbacks", strconv.Itoa(report.Recovered)},
		{"Duplicate messages", strconv.Itoa(report.Duplicates)},
		{"Messages without contact", strconv.Itoa(report.NoMatch)},
		{"Signature blocks", strconv.Itoa(report.Signatures)},
		{"Candidate contacts", strconv.Itoa(report.Candidates)},
		{"Rejected fields", strconv.Itoa(report.Rejected)},
		{"Distinct contacts", strconv.Itoa(report.Contacts)},
	}
	fmt.Fprintln(w, renderTable("Archive", []string{"Metric", "Count"}, overview, []columnAlignment{alignLeft, alignRight}))

	for _, section := range []struct {
		title  string
		counts map[string]int
	}{
		{"Top senders", report.Senders},
		{"Top recipients", report.Recipients},
		{"Top roles", report.Roles},
	} {
		top := stats.Top(section.counts, topN)
		if len(top) == 0 {
			continue
		}
		rows := make([][]string, 0, len(top))
		for _, c := range top {
			rows = append(rows, []string{c.Key, strconv.Itoa(c.Value)})
		}
		fmt.Fprintln(w)
		fmt.Fprintln(w, renderTable(section.title, []string{"Value", "Count"}, rows, []columnAlignment{alignLeft, alignRight}))
	}
}
