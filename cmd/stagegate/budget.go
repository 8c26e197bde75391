package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func newBudgetCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "budget",
		Short: "Inspect stage 2 token budgets",
	}

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show budget usage vs limits",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !a.cfg.Budget.Enabled {
				fmt.Fprintln(cmd.OutOrStdout(), "Budget enforcement is disabled.")
				return nil
			}
			rt, err := a.open()
			if err != nil {
				return err
			}
			defer rt.Close()

			statuses, err := rt.engine.Budget().Status(cmd.Context())
			if err != nil {
				return err
			}
			if len(statuses) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No budget policies configured.")
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "BAND\tPERIOD\tMAX TOKENS\tUSED\tREMAINING")
			for _, s := range statuses {
				band := string(s.Policy.Band)
				if band == "" {
					band = "*"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
					band, s.Policy.Period, humanize.Comma(s.Policy.MaxTokens),
					humanize.Comma(s.Used), humanize.Comma(s.Remaining))
			}
			return w.Flush()
		},
	}

	cmd.AddCommand(statusCmd)
	return cmd
}
