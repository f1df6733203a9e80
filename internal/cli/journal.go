package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"actionqueue/internal/app"
	"actionqueue/internal/storage"
)

func newJournalCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "journal",
		Short: "Print the most recent settlements from the configured journal",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, _ := cmd.Flags().GetString("config")
			limit, _ := cmd.Flags().GetInt("limit")
			asJSON, _ := cmd.Flags().GetBool("json")
			if limit <= 0 {
				return fmt.Errorf("--limit must be > 0")
			}

			st, err := app.OpenJournal(path)
			if err != nil {
				return err
			}
			defer st.Close()
			recs, err := st.Recent(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				for _, r := range recs {
					if err := enc.Encode(r); err != nil {
						return err
					}
				}
				return nil
			}
			printRecords(cmd.OutOrStdout(), recs)
			return nil
		},
	}
	cmd.Flags().Int("limit", 20, "number of records to print")
	cmd.Flags().Bool("json", false, "print JSON lines instead of a table")
	return cmd
}

func printRecords(w io.Writer, recs []storage.Record) {
	for _, r := range recs {
		name := r.Name
		if name == "" {
			name = "-"
		}
		line := fmt.Sprintf("%s  %-8s %-20s %-8s took=%s", r.At.Format(time.RFC3339), r.Outcome, name, r.Mode, r.Took.Round(time.Millisecond))
		if r.Error != "" {
			line += "  err=" + strings.ReplaceAll(r.Error, "\n", " ")
		}
		fmt.Fprintln(w, line)
	}
}
