package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/kastlog/kastlog/internal/stats"
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export session history as CSV or JSON",
	Long: `Export session history to stdout or a file.

Formats:
  csv   flat per-session summary rows (date, totals, accuracy, rounds)
  json  full structured dump including rounds and individual throws

Examples:
  kastlog export --format csv > sessions.csv
  kastlog export --format json --output sessions.json`,
	Run: func(cmd *cobra.Command, args []string) {
		format, _ := cmd.Flags().GetString("format")
		output, _ := cmd.Flags().GetString("output")

		if format != "csv" && format != "json" {
			exitErr("unknown format %q (expected csv or json)", format)
		}

		eng, _, cleanup, err := newEngine(quietLogger())
		if err != nil {
			exitErr("%v", err)
		}
		defer cleanup()

		sessions, err := eng.FetchAll(context.Background())
		if err != nil {
			exitErr("%v", err)
		}

		var w io.Writer = os.Stdout
		if output != "" {
			f, err := os.Create(output)
			if err != nil {
				exitErr("failed to create %s: %v", output, err)
			}
			defer f.Close()
			w = f
		}

		switch format {
		case "csv":
			err = stats.WriteCSV(w, stats.SummarizeAll(sessions))
		case "json":
			err = stats.WriteJSON(w, sessions)
		}
		if err != nil {
			exitErr("export failed: %v", err)
		}

		if output != "" {
			fmt.Printf("Exported %d session(s) to %s\n", len(sessions), output)
		}
	},
}

func init() {
	exportCmd.Flags().StringP("format", "f", "csv", "export format: csv or json")
	exportCmd.Flags().StringP("output", "o", "", "output file (default: stdout)")
	rootCmd.AddCommand(exportCmd)
}
