package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kastlog/kastlog/internal/dashboard"
	"github.com/kastlog/kastlog/internal/engine"
	"github.com/kastlog/kastlog/internal/store/sqlite"
)

var dashboardCmd = &cobra.Command{
	Use:   "dashboard",
	Short: "Start the real-time sync status dashboard",
	Long: `Start a WebSocket server that broadcasts sync activity in real time.

Connected clients receive a message for every sync status transition
(idle, syncing, success, error), session save and session deletion, so
a monitoring page can show what the background sync is doing without
polling.

Example usage:
  kastlog dashboard                # default port 8571
  kastlog dashboard --port 9000

Connect with a WebSocket client:
  ws://localhost:8571/ws`,
	Run: func(cmd *cobra.Command, args []string) {
		port, _ := cmd.Flags().GetInt("port")
		if port == 0 {
			port = cfg.Dashboard.Port
		}

		logger := log.New(os.Stderr, "[dashboard] ", log.LstdFlags)
		eng, local, cleanup, err := newEngine(logger)
		if err != nil {
			exitErr("%v", err)
		}
		defer cleanup()

		server := dashboard.NewServer(&dashboard.Config{
			Port:   port,
			Logger: logger,
		})
		server.Attach(eng)

		if err := server.Start(); err != nil {
			exitErr("failed to start dashboard: %v", err)
		}

		statsCtx, stopStats := context.WithCancel(context.Background())
		defer stopStats()
		go broadcastStats(statsCtx, server, eng, local)

		fmt.Printf("Dashboard server started on http://localhost:%d\n", port)
		fmt.Printf("WebSocket endpoint: ws://localhost:%d/ws\n", port)
		fmt.Printf("Health check: http://localhost:%d/health\n", port)
		fmt.Println("\nPress Ctrl+C to stop...")

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()
		<-ctx.Done()

		fmt.Println("\nShutting down dashboard server...")
		if err := server.Stop(); err != nil {
			exitErr("shutdown error: %v", err)
		}
		fmt.Println("Dashboard server stopped")
	},
}

// broadcastStats periodically pushes collection statistics to clients.
func broadcastStats(ctx context.Context, server *dashboard.Server, eng *engine.Engine, local *sqlite.Store) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			count, err := local.Count()
			if err != nil {
				continue
			}
			status, msg := eng.Status()
			data, err := json.Marshal(dashboard.StatsData{
				Sessions:   count,
				SyncStatus: status,
				LastError:  msg,
			})
			if err != nil {
				continue
			}
			server.Broadcast(dashboard.Message{
				Type: dashboard.MessageTypeStats,
				Data: data,
			})
		}
	}
}

func init() {
	dashboardCmd.Flags().IntP("port", "p", 0, "Port to listen on (default from config)")
	rootCmd.AddCommand(dashboardCmd)
}
