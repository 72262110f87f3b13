package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/kastlog/kastlog/internal/controller"
	"github.com/kastlog/kastlog/internal/engine"
	"github.com/kastlog/kastlog/internal/model"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start a new practice session",
	Long: `Start a new practice session with a kubb target.

The session is written to the local database immediately and pushed to
the cloud record service in the background. Recording works offline.

Example:
  kastlog start --target 30`,
	Run: func(cmd *cobra.Command, args []string) {
		target, _ := cmd.Flags().GetInt("target")

		eng, _, cleanup, err := newEngine(quietLogger())
		if err != nil {
			exitErr("%v", err)
		}
		defer cleanup()

		ctx := context.Background()
		if existing, err := eng.FetchIncomplete(ctx, time.Now()); err == nil && existing != nil {
			fmt.Fprintf(os.Stderr, "Note: an incomplete session from today exists (%d/%d kubbs).\n",
				existing.TotalKubbs, existing.Target)
			fmt.Fprintf(os.Stderr, "Use 'kastlog throw' to resume it, or 'kastlog delete' to discard it.\n")
		}

		ctrl := controller.New(eng)
		s, err := ctrl.Start(ctx, target)
		if err != nil {
			exitErr("%v", err)
		}

		fmt.Printf("Session started: target %d kubbs\n", s.Target)
		fmt.Printf("Session ID: %s\n", s.ID)
	},
}

var throwCmd = &cobra.Command{
	Use:   "throw",
	Short: "Record a throw in the current session",
	Long: `Record a single throw outcome in the current round.

Resumes today's incomplete session automatically. A round holds six
throws: five baton throws at the baseline kubbs, then the king throw.
The king throw only scores when all five baseline throws hit.

Examples:
  kastlog throw --hit
  kastlog throw --miss`,
	Run: func(cmd *cobra.Command, args []string) {
		hit, _ := cmd.Flags().GetBool("hit")
		miss, _ := cmd.Flags().GetBool("miss")
		if hit == miss {
			exitErr("specify exactly one of --hit or --miss")
		}

		eng, _, cleanup, err := newEngine(quietLogger())
		if err != nil {
			exitErr("%v", err)
		}
		defer cleanup()

		ctx := context.Background()
		ctrl, s := resumeSession(ctx, eng)

		throw, err := ctrl.RecordThrow(ctx, hit)
		if err != nil {
			exitErr("%v", err)
		}

		outcome := "miss"
		if throw.IsHit {
			outcome = "hit"
		}
		kind := "baton"
		if throw.Type == model.ThrowKing {
			kind = "king"
		}
		fmt.Printf("Recorded %s %s (throw %d of round %d)\n",
			kind, outcome, throw.Number, len(s.Rounds))
		fmt.Printf("Progress: %d/%d kubbs, %d batons\n", s.TotalKubbs, s.Target, s.TotalBatons)

		if ctrl.State() == controller.StateCompleted {
			fmt.Printf("\nTarget reached! Session complete.\n")
		}
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the current session's progress",
	Run: func(cmd *cobra.Command, args []string) {
		eng, _, cleanup, err := newEngine(quietLogger())
		if err != nil {
			exitErr("%v", err)
		}
		defer cleanup()

		ctx := context.Background()
		s, err := eng.FetchIncomplete(ctx, time.Now())
		if err != nil {
			exitErr("%v", err)
		}
		if s == nil {
			fmt.Println("No session in progress. Start one with 'kastlog start --target N'.")
			return
		}

		printSession(s)
	},
}

var completeCmd = &cobra.Command{
	Use:   "complete",
	Short: "Mark the current session as finished",
	Run: func(cmd *cobra.Command, args []string) {
		eng, _, cleanup, err := newEngine(quietLogger())
		if err != nil {
			exitErr("%v", err)
		}
		defer cleanup()

		ctx := context.Background()
		ctrl, s := resumeSession(ctx, eng)

		if err := ctrl.Complete(ctx); err != nil {
			exitErr("%v", err)
		}
		fmt.Printf("Session complete: %d/%d kubbs in %d rounds\n",
			s.TotalKubbs, s.Target, len(s.Rounds))
	},
}

var endCmd = &cobra.Command{
	Use:   "end",
	Short: "End the current session early",
	Long: `End the current session without reaching the target.

The session stays resumable for the rest of the day: the next
'kastlog throw' picks it up where it left off.`,
	Run: func(cmd *cobra.Command, args []string) {
		eng, _, cleanup, err := newEngine(quietLogger())
		if err != nil {
			exitErr("%v", err)
		}
		defer cleanup()

		ctx := context.Background()
		ctrl, s := resumeSession(ctx, eng)

		if err := ctrl.EndEarly(ctx); err != nil {
			exitErr("%v", err)
		}
		fmt.Printf("Session ended at %d/%d kubbs. Resume it today with 'kastlog throw'.\n",
			s.TotalKubbs, s.Target)
	},
}

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Clear the current round's throws",
	Long: `Discard the throws of the round in progress.

Only the current round is affected; completed rounds and session totals
from them are kept.`,
	Run: func(cmd *cobra.Command, args []string) {
		eng, _, cleanup, err := newEngine(quietLogger())
		if err != nil {
			exitErr("%v", err)
		}
		defer cleanup()

		ctx := context.Background()
		ctrl, s := resumeSession(ctx, eng)

		if err := ctrl.ResetCurrentRound(ctx); err != nil {
			exitErr("%v", err)
		}
		fmt.Printf("Round %d reset. Progress: %d/%d kubbs\n",
			len(s.Rounds), s.TotalKubbs, s.Target)
	},
}

var resumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Resume today's incomplete session",
	Run: func(cmd *cobra.Command, args []string) {
		eng, _, cleanup, err := newEngine(quietLogger())
		if err != nil {
			exitErr("%v", err)
		}
		defer cleanup()

		ctx := context.Background()
		_, s := resumeSession(ctx, eng)

		fmt.Printf("Resumed session from %s\n", s.Date)
		printSession(s)
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete",
	Short: "Delete today's incomplete session",
	Long: `Delete today's incomplete session from the local database and,
in the background, every copy of it in the cloud record service.`,
	Run: func(cmd *cobra.Command, args []string) {
		eng, _, cleanup, err := newEngine(quietLogger())
		if err != nil {
			exitErr("%v", err)
		}
		defer cleanup()

		ctx := context.Background()
		ctrl, s := resumeSession(ctx, eng)

		if err := ctrl.Delete(ctx); err != nil {
			exitErr("%v", err)
		}
		fmt.Printf("Deleted session %s\n", s.ID)
	},
}

// resumeSession loads today's incomplete session into a fresh controller,
// exiting with a helpful message when there is nothing to resume.
func resumeSession(ctx context.Context, eng *engine.Engine) (*controller.Controller, *model.Session) {
	s, err := eng.FetchIncomplete(ctx, time.Now())
	if err != nil {
		exitErr("%v", err)
	}
	if s == nil {
		exitErr("no session in progress; start one with 'kastlog start --target N'")
	}

	ctrl := controller.New(eng)
	if err := ctrl.Resume(s); err != nil {
		exitErr("%v", err)
	}
	return ctrl, s
}

func printSession(s *model.Session) {
	fmt.Printf("Session %s (%s)\n", s.ID, s.Date)
	fmt.Printf("  Progress: %d/%d kubbs, %d batons thrown\n", s.TotalKubbs, s.Target, s.TotalBatons)
	fmt.Printf("  Rounds:   %d\n", len(s.Rounds))
	if r := s.CurrentRound(); r != nil {
		fmt.Printf("  Current round: %d throws, %d hits\n", len(r.Throws), r.Hits())
	}
	if !s.StartTime.IsZero() {
		end := time.Now()
		if s.EndTime != nil {
			end = *s.EndTime
		}
		if end.After(s.StartTime) {
			fmt.Printf("  Duration: %s\n", formatDuration(end.Sub(s.StartTime)))
		}
	}
}

func init() {
	startCmd.Flags().IntP("target", "t", 30, "kubb target for the session")

	throwCmd.Flags().Bool("hit", false, "the throw knocked a kubb (or the king) down")
	throwCmd.Flags().Bool("miss", false, "the throw missed")

	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(throwCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(completeCmd)
	rootCmd.AddCommand(endCmd)
	rootCmd.AddCommand(resetCmd)
	rootCmd.AddCommand(resumeCmd)
	rootCmd.AddCommand(deleteCmd)
}
