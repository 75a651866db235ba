package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/blockberries/tallyberry/engine"
	"github.com/blockberries/tallyberry/wal"
)

// ErrDrift is returned by verify when the journal and the store disagree.
var ErrDrift = errors.New("journal and store disagree")

func verifyCmd(configPath *string) *cobra.Command {
	var dir string

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Replay the journal and compare it with the store",
		Long: `Verify folds every event in the journal into per-candidate totals and
leaders and compares them, key by key, with the live ledger. It exits
non-zero when any key disagrees.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(cmd.Context(), *configPath)
			if err != nil {
				return err
			}
			defer a.close()

			if dir == "" {
				dir = a.cfg.Journal.Dir
			}
			if dir == "" {
				return fmt.Errorf("%w: set journal.dir or --journal", engine.ErrNoJournal)
			}

			r, err := wal.OpenWALForReading(dir)
			if errors.Is(err, wal.ErrWALNotFound) {
				return fmt.Errorf("%w: %s", engine.ErrNoJournal, dir)
			}
			if err != nil {
				return err
			}
			defer r.Close()

			eng, err := a.newEngine()
			if err != nil {
				return err
			}
			report, err := eng.Verify(cmd.Context(), r)
			if err != nil {
				return err
			}
			printReport(cmd.OutOrStdout(), report)
			if !report.OK() {
				return ErrDrift
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&dir, "journal", "", "Journal directory (defaults to journal.dir)")
	return cmd
}

func printReport(out io.Writer, report *engine.VerifyReport) {
	fmt.Fprintf(out, "events: %d  last seq: %d  keys: %d\n", report.Events, report.LastSeq, report.Keys)
	if report.OK() {
		color.New(color.FgGreen).Fprintln(out, "OK")
		return
	}
	red := color.New(color.FgRed)
	for _, m := range report.Mismatches {
		red.Fprintln(out, m.String())
	}
	red.Fprintf(out, "%d mismatches\n", len(report.Mismatches))
}
