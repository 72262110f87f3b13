// Package daemon provides the background auto-sync daemon.
//
// The daemon:
//  1. Performs an initial full sync pass (push local sessions, dedupe)
//  2. Watches the local data directory for writes by other processes
//  3. Re-syncs on debounced change batches and on a periodic ticker
//  4. Handles graceful shutdown
//
// Every pass is a plain engine.SyncAll, which is idempotent: a pass
// interrupted by suspension is simply repeated on the next trigger.
package daemon

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/kastlog/kastlog/internal/engine"
)

// Config holds configuration for the daemon.
type Config struct {
	// ResyncInterval is how often to run a full sync pass regardless of
	// local activity, picking up writes from other devices.
	ResyncInterval time.Duration

	// DebounceInterval is how long to wait after a file event before
	// syncing, batching rapid local writes together.
	DebounceInterval time.Duration

	// Logger for daemon activity
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		ResyncInterval:   30 * time.Second,
		DebounceInterval: 500 * time.Millisecond,
		Logger:           log.New(os.Stderr, "[daemon] ", log.LstdFlags),
	}
}

// Daemon watches the data directory and drives the sync engine.
type Daemon struct {
	engine   *engine.Engine
	watchDir string
	config   *Config

	watcher *fsnotify.Watcher

	pendingMu sync.Mutex
	pendingAt time.Time
	pending   bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Daemon that watches watchDir (the directory holding the
// local database) and syncs through eng.
func New(eng *engine.Engine, watchDir string, config *Config) (*Daemon, error) {
	if eng == nil {
		return nil, fmt.Errorf("engine cannot be nil")
	}
	if watchDir == "" {
		return nil, fmt.Errorf("watchDir cannot be empty")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.Logger == nil {
		config.Logger = DefaultConfig().Logger
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Daemon{
		engine:   eng,
		watchDir: watchDir,
		config:   config,
		watcher:  watcher,
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

// Start begins the daemon's operation and blocks until ctx is cancelled.
func (d *Daemon) Start(ctx context.Context) error {
	d.config.Logger.Println("Starting sync daemon")

	// Initial pass; a failure here is informational, the periodic
	// ticker will try again.
	if err := d.engine.SyncAll(d.ctx); err != nil {
		d.config.Logger.Printf("Initial sync degraded: %v", err)
	}

	if err := d.watcher.Add(d.watchDir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", d.watchDir, err)
	}
	d.config.Logger.Printf("Watching: %s", d.watchDir)

	d.wg.Add(2)
	go d.watchFileEvents()
	go d.syncLoop()

	select {
	case <-ctx.Done():
		d.config.Logger.Println("Shutdown signal received")
		return d.Stop()
	case <-d.ctx.Done():
		return nil
	}
}

// Stop gracefully shuts down the daemon.
func (d *Daemon) Stop() error {
	d.config.Logger.Println("Stopping sync daemon")
	d.cancel()
	if err := d.watcher.Close(); err != nil {
		d.config.Logger.Printf("Error closing watcher: %v", err)
	}
	d.wg.Wait()
	d.engine.Flush()
	d.config.Logger.Println("Sync daemon stopped")
	return nil
}

// Trigger requests a sync pass outside the normal schedule (used by the
// CLI's explicit refresh path and by tests).
func (d *Daemon) Trigger() {
	d.markPending()
}

// watchFileEvents monitors filesystem events and marks a pending sync.
func (d *Daemon) watchFileEvents() {
	defer d.wg.Done()

	for {
		select {
		case <-d.ctx.Done():
			return

		case event, ok := <-d.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove) == 0 {
				continue
			}
			// The database plus its WAL sidecars all signal local writes.
			base := filepath.Base(event.Name)
			if filepath.Ext(base) == ".log" {
				continue
			}
			d.markPending()

		case err, ok := <-d.watcher.Errors:
			if !ok {
				return
			}
			d.config.Logger.Printf("Watcher error: %v", err)
		}
	}
}

func (d *Daemon) markPending() {
	d.pendingMu.Lock()
	d.pending = true
	d.pendingAt = time.Now()
	d.pendingMu.Unlock()
}

// syncLoop runs debounced change-driven syncs and the periodic resync.
func (d *Daemon) syncLoop() {
	defer d.wg.Done()

	debounce := time.NewTicker(d.config.DebounceInterval)
	defer debounce.Stop()
	resync := time.NewTicker(d.config.ResyncInterval)
	defer resync.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return

		case <-debounce.C:
			d.pendingMu.Lock()
			due := d.pending && time.Since(d.pendingAt) >= d.config.DebounceInterval
			if due {
				d.pending = false
			}
			d.pendingMu.Unlock()
			if due {
				d.runSync("change")
			}

		case <-resync.C:
			d.runSync("periodic")
		}
	}
}

func (d *Daemon) runSync(reason string) {
	if err := d.engine.SyncAll(d.ctx); err != nil {
		d.config.Logger.Printf("Sync (%s) degraded: %v", reason, err)
		return
	}
	d.config.Logger.Printf("Sync (%s) complete", reason)
}
