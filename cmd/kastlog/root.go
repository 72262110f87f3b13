package main

import (
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/kastlog/kastlog/internal/config"
	"github.com/kastlog/kastlog/internal/engine"
	"github.com/kastlog/kastlog/internal/retry"
	kredis "github.com/kastlog/kastlog/internal/store/redis"
	"github.com/kastlog/kastlog/internal/store/sqlite"
)

var (
	cfgFile string
	cfg     *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "kastlog",
	Short: "Offline-first kubb practice session tracker",
	Long: `kastlog records timed kubb practice sessions throw by throw.

Every write lands in the local database first, so recording works with
no connectivity at all. A background sync pushes sessions to the cloud
record service when it is reachable; conflicts between devices are
resolved automatically (highest recorded progress wins, then the most
recent edit).

Typical flow:
  kastlog start --target 30     # begin a session aiming at 30 kubbs
  kastlog throw --hit           # record a hit
  kastlog throw --miss          # record a miss
  kastlog status                # current round and totals
  kastlog end                   # stop early; resumable later today
  kastlog list                  # session history`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return err
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ~/.kastlog/config.yaml)")
}

// newEngine constructs the local store, remote store and sync engine
// from the loaded config. The returned cleanup flushes in-flight remote
// work and closes both stores.
func newEngine(logger *log.Logger) (*engine.Engine, *sqlite.Store, func(), error) {
	local, err := sqlite.Open(cfg.Storage.DatabasePath())
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to open local store: %w", err)
	}
	if err := local.InitSchema(); err != nil {
		local.Close()
		return nil, nil, nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	remote := kredis.Open(kredis.Config{
		Addr:     cfg.Remote.Addr,
		Password: cfg.Remote.Password,
		DB:       cfg.Remote.DB,
	})

	policy := retry.Default()
	if cfg.Retry.MaxAttempts > 0 {
		policy.MaxAttempts = cfg.Retry.MaxAttempts
	}
	if d, err := cfg.Retry.BaseDelayDuration(); err == nil && d > 0 {
		policy.BaseDelay = d
	}

	eng := engine.New(local, remote, policy, logger)

	cleanup := func() {
		// Let the background remote push land before tearing down; the
		// retry policy bounds how long this can take. Close only cancels
		// whatever Flush could not finish.
		eng.Flush()
		eng.Close()
		if err := remote.Close(); err != nil {
			log.Printf("Warning: failed to close remote store: %v", err)
		}
		if err := local.Close(); err != nil {
			log.Printf("Warning: failed to close local store: %v", err)
		}
	}
	return eng, local, cleanup, nil
}

// quietLogger discards engine chatter for interactive commands; the
// daemon and sync commands pass a real logger instead.
func quietLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	m := (d % time.Hour) / time.Minute
	s := (d % time.Minute) / time.Second
	if h > 0 {
		return fmt.Sprintf("%dh%02dm%02ds", h, m, s)
	}
	return fmt.Sprintf("%dm%02ds", m, s)
}

func exitErr(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}
