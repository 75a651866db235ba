package main

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/blockberries/tallyberry/engine"
	"github.com/blockberries/tallyberry/types"
)

func leaderCmd(configPath *string) *cobra.Command {
	var (
		asJSON     bool
		withTotals bool
	)

	cmd := &cobra.Command{
		Use:   "leader <project> <key>",
		Short: "Show the leading value of an item key",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(cmd.Context(), *configPath)
			if err != nil {
				return err
			}
			defer a.close()

			eng, err := a.newEngine()
			if err != nil {
				return err
			}
			project, key := types.ProjectID(args[0]), types.ItemKey(args[1])

			l, err := eng.LeadingValue(cmd.Context(), project, key)
			if err != nil {
				return err
			}
			var totals *engine.Totals
			if withTotals {
				if totals, err = eng.Totals(cmd.Context(), project, key); err != nil {
					return err
				}
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(struct {
					Leader *engine.Leader `json:"leader"`
					Totals *engine.Totals `json:"totals,omitempty"`
				}{l, totals})
			}
			printLeader(out, project, key, l)
			if totals != nil {
				printTotals(out, totals)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")
	cmd.Flags().BoolVar(&withTotals, "totals", false, "Include per-candidate totals")
	return cmd
}

func printLeader(out io.Writer, project types.ProjectID, key types.ItemKey, l *engine.Leader) {
	if l == nil {
		color.New(color.FgYellow).Fprintf(out, "%s/%s: no leader\n", project, key)
		return
	}
	color.New(color.FgGreen, color.Bold).Fprintf(out, "%s/%s: %s\n", project, key, string(l.Value))
	fmt.Fprintf(out, "  candidate: %s\n  creator:   %s\n  since:     %s\n",
		l.Candidate, l.Creator, l.Since.Format(time.RFC3339))
	if l.Reference != "" {
		fmt.Fprintf(out, "  reference: %s\n", l.Reference)
	}
}

func printTotals(out io.Writer, t *engine.Totals) {
	fmt.Fprintf(out, "  quorum %d, points %d\n", t.Thresholds.Quorum, t.Thresholds.PointsNeeded)
	for _, tl := range t.Tallies {
		line := fmt.Sprintf("  %-44s weight %6d  voters %3d", tl.Candidate, tl.Weight, tl.Participants)
		if tl.Validated {
			color.New(color.FgGreen).Fprintln(out, line+"  validated")
		} else {
			fmt.Fprintln(out, line)
		}
	}
}
