package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/kastlog/kastlog/internal/daemon"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the background sync daemon",
	Long: `Run the auto-sync daemon in the foreground.

The daemon watches the local database for writes (including writes from
other kastlog processes), pushes changed sessions to the cloud record
service after a short debounce, and runs a periodic full resync to pick
up changes made on other devices. Duplicate remote records are swept on
every pass.

With daemon.log_file configured, output is written to a rotating log
file instead of stderr.

Example:
  kastlog daemon`,
	Run: func(cmd *cobra.Command, args []string) {
		var out io.Writer = os.Stderr
		if cfg.Daemon.LogFile != "" {
			out = &lumberjack.Logger{
				Filename:   cfg.Daemon.LogFile,
				MaxSize:    10, // MB
				MaxBackups: 3,
				MaxAge:     14, // days
				Compress:   true,
			}
		}
		logger := log.New(out, "[daemon] ", log.LstdFlags)

		eng, local, cleanup, err := newEngine(logger)
		if err != nil {
			exitErr("%v", err)
		}
		defer cleanup()

		dcfg := daemon.DefaultConfig()
		dcfg.Logger = logger
		if d, err := time.ParseDuration(cfg.Daemon.ResyncInterval); err == nil && d > 0 {
			dcfg.ResyncInterval = d
		}
		if d, err := time.ParseDuration(cfg.Daemon.DebounceInterval); err == nil && d > 0 {
			dcfg.DebounceInterval = d
		}

		d, err := daemon.New(eng, cfg.Storage.DataDir, dcfg)
		if err != nil {
			exitErr("%v", err)
		}

		fmt.Printf("Sync daemon running (database: %s)\n", local.Path())
		fmt.Println("Press Ctrl+C to stop...")

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		if err := d.Start(ctx); err != nil {
			exitErr("daemon error: %v", err)
		}
	},
}

func init() {
	rootCmd.AddCommand(daemonCmd)
}
