package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"montage/internal/catalog"
	"montage/internal/ledger"
)

func newLedgerCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Inspect or edit the clip usage ledger",
	}
	cmd.AddCommand(newLedgerShowCommand(ctx))
	cmd.AddCommand(newLedgerMarkCommand(ctx))
	cmd.AddCommand(newLedgerResetCommand(ctx))
	return cmd
}

func newLedgerShowCommand(ctx *commandContext) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show clips recorded as used",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			led, err := ledger.Load(cfg.Paths.LedgerFile)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			ids := led.Snapshot()
			fmt.Fprintf(out, "Ledger: %s\n", cfg.Paths.LedgerFile)
			fmt.Fprintf(out, "Used clips: %s\n", humanize.Comma(int64(len(ids))))
			if len(ids) == 0 {
				return nil
			}
			if limit > 0 && len(ids) > limit {
				ids = ids[:limit]
			}
			rows := make([][]string, 0, len(ids))
			for _, id := range ids {
				rows = append(rows, []string{catalog.DisplayName(id), id})
			}
			fmt.Fprintln(out, renderTable([]column{textCol("Name"), textCol("Path")}, rows))
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "Maximum rows to show (0 for all)")
	return cmd
}

func newLedgerMarkCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "mark <clip>...",
		Short: "Record clips as used so selection skips them",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			ids := make([]string, 0, len(args))
			for _, arg := range args {
				if id := strings.TrimSpace(arg); id != "" {
					ids = append(ids, id)
				}
			}
			if len(ids) == 0 {
				return errors.New("no clip paths given")
			}
			var added int
			err = withLockedLedger(cfg.Paths.LedgerFile, func(store *ledger.Store) error {
				led, err := store.Load()
				if err != nil {
					return err
				}
				before := led.Len()
				led.MarkUsed(ids...)
				added = led.Len() - before
				return store.Commit(led)
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Marked %d clip(s) as used (%d already recorded)\n", added, len(ids)-added)
			return nil
		},
	}
}

func newLedgerResetCommand(ctx *commandContext) *cobra.Command {
	var confirmed bool
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Forget all recorded clip usage",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if !confirmed {
				return errors.New("refusing to clear the ledger without --yes")
			}
			var cleared int
			err = withLockedLedger(cfg.Paths.LedgerFile, func(store *ledger.Store) error {
				if current, err := store.Load(); err == nil {
					cleared = current.Len()
				}
				return store.Commit(ledger.New())
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Cleared %d ledger entries\n", cleared)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&confirmed, "yes", "y", false, "Confirm clearing the ledger")
	return cmd
}

func withLockedLedger(path string, fn func(*ledger.Store) error) error {
	store := ledger.NewStore(path)
	if err := store.Lock(); err != nil {
		return err
	}
	defer store.Unlock()
	return fn(store)
}
