package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/kastlog/kastlog/internal/stats"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List session history",
	Long: `List all recorded sessions, newest first.

Reads the merged view from the cloud record service when reachable,
falling back to the local database otherwise. Duplicate cloud records
for the same session are collapsed to the canonical copy.`,
	Run: func(cmd *cobra.Command, args []string) {
		eng, _, cleanup, err := newEngine(quietLogger())
		if err != nil {
			exitErr("%v", err)
		}
		defer cleanup()

		sessions, err := eng.FetchAll(context.Background())
		if err != nil {
			exitErr("%v", err)
		}
		if len(sessions) == 0 {
			fmt.Println("No sessions recorded yet.")
			return
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "DATE\tKUBBS\tTARGET\tBATONS\tACCURACY\tROUNDS\tSTATUS")
		for _, sum := range stats.SummarizeAll(sessions) {
			status := "incomplete"
			if sum.TargetReached {
				status = "complete"
			}
			fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%.1f%%\t%d\t%s\n",
				sum.Date, sum.TotalKubbs, sum.Target, sum.TotalBatons,
				sum.Accuracy*100, sum.RoundCount, status)
		}
		w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(listCmd)
}
