// Package stats derives read-only projections from fetched sessions:
// flat summary rows for history views and CSV export, plus a
// full-fidelity structured dump. Projections are never fed back into
// the sync path.
package stats

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/kastlog/kastlog/internal/model"
)

// Summary is the flat tabular projection of one session.
type Summary struct {
	SessionID      string  `json:"sessionId"`
	Date           string  `json:"date"`
	Target         int     `json:"target"`
	TotalKubbs     int     `json:"totalKubbs"`
	TotalBatons    int     `json:"totalBatons"`
	Accuracy       float64 `json:"accuracy"`
	DurationSec    float64 `json:"durationSeconds"`
	RoundCount     int     `json:"roundCount"`
	BaselineClears int     `json:"baselineClears"`
	KingThrows     int     `json:"kingThrows"`
	KingHits       int     `json:"kingHits"`
	KingAccuracy   float64 `json:"kingAccuracy"`
	TargetReached  bool    `json:"targetReached"`
}

// Summarize computes the flat projection for a session.
func Summarize(s *model.Session) Summary {
	sum := Summary{
		SessionID:     s.ID,
		Date:          s.Date,
		Target:        s.Target,
		TotalKubbs:    s.TotalKubbs,
		TotalBatons:   s.TotalBatons,
		RoundCount:    len(s.Rounds),
		TargetReached: s.TargetReached(),
	}
	if s.TotalBatons > 0 {
		sum.Accuracy = float64(s.TotalKubbs) / float64(s.TotalBatons)
	}

	end := time.Now()
	if s.EndTime != nil {
		end = *s.EndTime
	}
	if !s.StartTime.IsZero() && end.After(s.StartTime) {
		sum.DurationSec = end.Sub(s.StartTime).Seconds()
	}

	for i := range s.Rounds {
		r := &s.Rounds[i]
		if r.BaselineClear() {
			sum.BaselineClears++
		}
		for _, t := range r.Throws {
			if t.Type == model.ThrowKing {
				sum.KingThrows++
				if t.IsHit {
					sum.KingHits++
				}
			}
		}
	}
	if sum.KingThrows > 0 {
		sum.KingAccuracy = float64(sum.KingHits) / float64(sum.KingThrows)
	}
	return sum
}

// SummarizeAll projects every session, preserving order.
func SummarizeAll(sessions []*model.Session) []Summary {
	out := make([]Summary, len(sessions))
	for i, s := range sessions {
		out[i] = Summarize(s)
	}
	return out
}

// WriteCSV encodes summary rows, header first.
func WriteCSV(w io.Writer, summaries []Summary) error {
	cw := csv.NewWriter(w)
	header := []string{
		"date", "target", "total_kubbs", "total_batons", "accuracy",
		"duration_seconds", "rounds", "baseline_clears",
		"king_throws", "king_hits", "king_accuracy", "target_reached",
	}
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}
	for _, s := range summaries {
		row := []string{
			s.Date,
			strconv.Itoa(s.Target),
			strconv.Itoa(s.TotalKubbs),
			strconv.Itoa(s.TotalBatons),
			strconv.FormatFloat(s.Accuracy, 'f', 3, 64),
			strconv.FormatFloat(s.DurationSec, 'f', 1, 64),
			strconv.Itoa(s.RoundCount),
			strconv.Itoa(s.BaselineClears),
			strconv.Itoa(s.KingThrows),
			strconv.Itoa(s.KingHits),
			strconv.FormatFloat(s.KingAccuracy, 'f', 3, 64),
			strconv.FormatBool(s.TargetReached),
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("failed to write CSV row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteJSON encodes the full-fidelity structured dump of the sessions,
// rounds and throws included, pretty-printed.
func WriteJSON(w io.Writer, sessions []*model.Session) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(sessions); err != nil {
		return fmt.Errorf("failed to encode sessions: %w", err)
	}
	return nil
}
