package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Push all local sessions to the cloud record service",
	Long: `Run a full sync pass: every locally stored session is pushed to the
cloud record service, then duplicate remote records are swept.

Sessions that fail to sync are reported and skipped; the next pass
picks them up again. The pass is idempotent.`,
	Run: func(cmd *cobra.Command, args []string) {
		logger := log.New(os.Stderr, "[sync] ", log.LstdFlags)
		eng, _, cleanup, err := newEngine(logger)
		if err != nil {
			exitErr("%v", err)
		}
		defer cleanup()

		start := time.Now()
		if err := eng.SyncAll(context.Background()); err != nil {
			exitErr("sync failed: %v", err)
		}
		fmt.Printf("Sync complete in %v\n", time.Since(start).Round(time.Millisecond))
	},
}

var dedupeCmd = &cobra.Command{
	Use:   "dedupe",
	Short: "Remove duplicate cloud records",
	Long: `Sweep the cloud record service for duplicate records of the same
session and delete all but the canonical copy (most recently modified;
ties broken deterministically). Safe to run repeatedly.`,
	Run: func(cmd *cobra.Command, args []string) {
		logger := log.New(os.Stderr, "[dedupe] ", log.LstdFlags)
		eng, _, cleanup, err := newEngine(logger)
		if err != nil {
			exitErr("%v", err)
		}
		defer cleanup()

		removed, err := eng.Deduplicate(context.Background())
		if err != nil {
			exitErr("dedupe failed: %v", err)
		}
		if removed == 0 {
			fmt.Println("No duplicate records found.")
			return
		}
		fmt.Printf("Removed %d duplicate record(s)\n", removed)
	},
}

func init() {
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(dedupeCmd)
}
