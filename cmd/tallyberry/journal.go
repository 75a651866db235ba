package main

import (
	"fmt"
	"strconv"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/blockberries/tallyberry/engine"
	"github.com/blockberries/tallyberry/wal"
)

func journalCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "journal",
		Short: "Inspect and trim the event journal",
		Long: `Journal commands open the configured journal directly. Run them while the
server is stopped: a running server holds the journal open for appending.`,
	}
	cmd.AddCommand(
		journalInfoCmd(configPath),
		journalCheckpointCmd(configPath),
	)
	return cmd
}

// withJournal starts the configured journal for fn and stops it afterwards.
func withJournal(cmd *cobra.Command, configPath string, fn func(w *wal.FileWAL) error) error {
	a, err := loadApp(cmd.Context(), configPath)
	if err != nil {
		return err
	}
	defer a.close()

	w, err := a.openJournal()
	if err != nil {
		return err
	}
	if w == nil {
		return fmt.Errorf("%w: set journal.dir", engine.ErrNoJournal)
	}
	defer func() {
		if err := w.Stop(); err != nil {
			a.log.WithError(err).Warn("stop journal")
		}
	}()
	return fn(w)
}

func journalInfoCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Show the journal's segments and last sequence number",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withJournal(cmd, *configPath, func(w *wal.FileWAL) error {
				out := cmd.OutOrStdout()
				g := w.Group()
				fmt.Fprintf(out, "dir:       %s\n", g.Dir)
				fmt.Fprintf(out, "segments:  %d (%s%05d .. %s%05d)\n", w.SegmentCount(), g.Prefix, g.MinIndex, g.Prefix, g.MaxIndex)
				fmt.Fprintf(out, "last seq:  %d\n", w.LastSeq())
				fmt.Fprintf(out, "open size: %d of %d bytes\n", w.CurrentSegmentSize(), g.MaxSize)
				return nil
			})
		},
	}
}

func journalCheckpointCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "checkpoint <seq>",
		Short: "Delete journal segments holding only events up to seq",
		Long: `Checkpoint deletes the oldest journal segments whose events all have a
sequence number at or below seq. The open segment is always kept.
Deleted events no longer take part in verify, so keys whose history
started before the checkpoint will be reported as drifted.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			upTo, err := strconv.ParseUint(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid sequence number %q: %w", args[0], err)
			}
			return withJournal(cmd, *configPath, func(w *wal.FileWAL) error {
				before := w.SegmentCount()
				if err := w.Checkpoint(upTo); err != nil {
					return err
				}
				color.New(color.FgGreen).Fprintf(cmd.OutOrStdout(),
					"removed %d segments through seq %d, %d left\n", before-w.SegmentCount(), upTo, w.SegmentCount())
				return nil
			})
		},
	}
}
