package cmd

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dhcgn/mbox-contacts/roster"
)

func newShowCommand() (*cobra.Command, error) {
	var withProvenance bool

	cmd := &cobra.Command{
		Use:   "show roster.csv",
		Short: "Render a roster file as a table",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, logger, cleanup, err := prepare(cmd, nil)
			if err != nil {
				return err
			}
			defer func() {
				_ = cleanup()
			}()

			path := args[0]
			records, err := loadRoster(path, logger)
			if err != nil {
				return err
			}
			rows := roster.Rows(records)

			headers := []string{"#", "Name", "Emails", "Phones", "Roles"}
			aligns := []columnAlignment{alignRight, alignLeft, alignLeft, alignLeft, alignLeft}
			if withProvenance {
				headers = append(headers, "Provenance")
				aligns = append(aligns, alignLeft)
			}

			data := make([][]string, 0, len(rows))
			for _, r := range rows {
				line := []string{
					strconv.Itoa(r.Number),
					r.Name,
					strings.Join(r.Contact.Emails, "\n"),
					strings.Join(r.Contact.Phones, "\n"),
					strings.Join(r.Contact.Roles, "\n"),
				}
				if withProvenance {
					line = append(line, strings.Join(r.Contact.Provenance, "\n"))
				}
				data = append(data, line)
			}

			title := fmt.Sprintf("%s (%d contacts)", filepath.Base(path), len(rows))
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(title, headers, data, aligns))
			return nil
		},
	}

	cmd.Flags().BoolVar(&withProvenance, "provenance", false, "Show the source messages recorded in the audit file")
	return cmd, nil
}
