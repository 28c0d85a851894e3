package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"montage/internal/durationfmt"
	"montage/internal/history"
)

func newHistoryCommand(ctx *commandContext) *cobra.Command {
	var (
		limit      int
		runID      string
		onlyFailed bool
		clip       string
		pruneDays  int
		showInputs bool
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List past compositions",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			store, err := history.Open(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			out := cmd.OutOrStdout()
			if pruneDays > 0 {
				cutoff := time.Now().AddDate(0, 0, -pruneDays)
				removed, err := store.Prune(cmd.Context(), cutoff)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "Pruned %d composition(s) finished before %s\n", removed, cutoff.Format("2006-01-02"))
				return nil
			}

			comps, err := store.List(cmd.Context(), history.ListOptions{
				Limit:      limit,
				RunID:      strings.TrimSpace(runID),
				OnlyFailed: onlyFailed,
				Clip:       strings.TrimSpace(clip),
			})
			if err != nil {
				return err
			}
			if len(comps) == 0 {
				fmt.Fprintln(out, "No compositions recorded")
				return nil
			}

			now := time.Now()
			rows := make([][]string, 0, len(comps))
			for _, c := range comps {
				result := c.OutputPath
				if c.State == history.StateFailed {
					result = c.Error
				}
				finished := "-"
				if !c.FinishedAt.IsZero() {
					finished = humanize.RelTime(c.FinishedAt, now, "ago", "from now")
				}
				rows = append(rows, []string{
					fmt.Sprintf("%d", c.ID),
					shortRunID(c.RunID),
					c.TaskID,
					string(c.State),
					fmt.Sprintf("%d", len(c.Inputs)),
					durationfmt.FormatClock(c.TotalSeconds),
					c.Elapsed().Round(time.Second).String(),
					finished,
					result,
				})
			}
			fmt.Fprintln(out, renderTable(
				[]column{numCol("ID"), textCol("Run"), textCol("Task"), textCol("State"), numCol("Clips"), numCol("Length"), numCol("Took"), textCol("Finished"), textCol("Result")},
				rows,
			))
			if showInputs {
				for _, c := range comps {
					fmt.Fprintf(out, "\n#%d %s:\n", c.ID, c.TaskID)
					for i, id := range c.Inputs {
						fmt.Fprintf(out, "  %3d  %s\n", i+1, id)
					}
				}
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum compositions to list (0 for all)")
	cmd.Flags().StringVar(&runID, "run", "", "Only show compositions from this run id")
	cmd.Flags().BoolVar(&onlyFailed, "failed", false, "Only show failed compositions")
	cmd.Flags().StringVar(&clip, "clip", "", "Only show compositions that used this clip path")
	cmd.Flags().IntVar(&pruneDays, "prune-days", 0, "Delete compositions older than this many days instead of listing")
	cmd.Flags().BoolVar(&showInputs, "inputs", false, "List the clips of each composition")
	return cmd
}

func shortRunID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
