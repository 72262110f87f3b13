// Package model provides the core value types for kastlog practice sessions.
//
// A Session is one practice attempt toward a numeric target, composed of
// ordered Rounds of up to six ThrowEvents each. The types here are pure
// values with no I/O: stores serialize them, the controller mutates them,
// and the sync engine moves them between stores.
package model

import (
	"fmt"
	"time"
)

// ThrowType distinguishes ordinary baseline throws from the king throw.
type ThrowType string

const (
	// ThrowKubb is an ordinary baseline throw.
	ThrowKubb ThrowType = "kubb"
	// ThrowKing is the sixth throw of a round in which throws 1-5 all hit.
	ThrowKing ThrowType = "king"
)

// ThrowsPerRound is the number of throws that completes a round.
const ThrowsPerRound = 6

// DateLayout is the calendar-day format used for Session.Date.
const DateLayout = "2006-01-02"

// ThrowEvent is a single recorded baton throw within a round.
type ThrowEvent struct {
	ID        string    `json:"id"`
	IsHit     bool      `json:"isHit"`
	Type      ThrowType `json:"throwType"`
	Number    int       `json:"throwNumber"` // 1-based within the round
	Timestamp time.Time `json:"timestamp"`
}

// Round is a block of up to six throw attempts at one baseline.
type Round struct {
	ID         string       `json:"id"`
	Number     int          `json:"roundNumber"` // 1-based, sequential within the session
	IsComplete bool         `json:"isComplete"`
	Throws     []ThrowEvent `json:"throws"`
}

// Hits returns the number of hits in the round.
func (r *Round) Hits() int {
	n := 0
	for _, t := range r.Throws {
		if t.IsHit {
			n++
		}
	}
	return n
}

// BaselineClear reports whether throws 1-5 were all hits.
// A round with fewer than five throws cannot be a baseline clear.
func (r *Round) BaselineClear() bool {
	if len(r.Throws) < ThrowsPerRound-1 {
		return false
	}
	for _, t := range r.Throws {
		if t.Number <= ThrowsPerRound-1 && !t.IsHit {
			return false
		}
	}
	return true
}

// Session is one practice attempt toward a numeric target.
//
// ID is the sole cross-store identity: the local store keys its rows by it
// and the remote store groups (possibly duplicated) records by it.
// ModifiedAt orders conflicting copies of the same session and must be
// non-decreasing within a single store for a given ID.
type Session struct {
	ID          string     `json:"id"`
	Date        string     `json:"date"` // calendar day, DateLayout
	Target      int        `json:"target"`
	TotalKubbs  int        `json:"totalKubbs"`
	TotalBatons int        `json:"totalBatons"`
	StartTime   time.Time  `json:"startTime"`
	EndTime     *time.Time `json:"endTime,omitempty"`
	IsComplete  bool       `json:"isComplete"`
	Rounds      []Round    `json:"rounds"`
	CreatedAt   time.Time  `json:"createdAt"`
	ModifiedAt  time.Time  `json:"modifiedAt"`
}

// New creates an empty session starting now with the given target.
func New(id string, target int, now time.Time) *Session {
	return &Session{
		ID:         id,
		Date:       now.Format(DateLayout),
		Target:     target,
		StartTime:  now,
		CreatedAt:  now,
		ModifiedAt: now,
	}
}

// Validate checks the session's required fields and cached totals.
func (s *Session) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("id is required")
	}
	if s.Target <= 0 {
		return fmt.Errorf("target must be positive (got %d)", s.Target)
	}
	if _, err := time.Parse(DateLayout, s.Date); err != nil {
		return fmt.Errorf("invalid date %q: %w", s.Date, err)
	}
	if s.CreatedAt.IsZero() {
		return fmt.Errorf("createdAt is required")
	}
	if s.ModifiedAt.IsZero() {
		return fmt.Errorf("modifiedAt is required")
	}
	kubbs, batons := s.RecomputeTotals()
	if kubbs != s.TotalKubbs || batons != s.TotalBatons {
		return fmt.Errorf("cached totals (%d/%d) drifted from rounds (%d/%d)",
			s.TotalKubbs, s.TotalBatons, kubbs, batons)
	}
	return nil
}

// RecomputeTotals derives (hits, throws) from the rounds. The result must
// always equal the cached TotalKubbs/TotalBatons.
func (s *Session) RecomputeTotals() (kubbs, batons int) {
	for i := range s.Rounds {
		for _, t := range s.Rounds[i].Throws {
			batons++
			if t.IsHit {
				kubbs++
			}
		}
	}
	return kubbs, batons
}

// CurrentRound returns the single incomplete round, or nil if every round is
// complete (or no round exists yet). At most one round is ever incomplete.
func (s *Session) CurrentRound() *Round {
	if len(s.Rounds) == 0 {
		return nil
	}
	last := &s.Rounds[len(s.Rounds)-1]
	if last.IsComplete {
		return nil
	}
	return last
}

// RecordThrow appends a throw outcome to the current round, creating the
// round if needed, and updates the cached totals.
//
// The throw type follows the king rule: throw six is a king throw iff
// throws 1-5 of the round were all hits. A sixth throw completes the round;
// the next RecordThrow opens round N+1.
func (s *Session) RecordThrow(throwID, roundID string, isHit bool, now time.Time) *ThrowEvent {
	round := s.CurrentRound()
	if round == nil {
		s.Rounds = append(s.Rounds, Round{
			ID:     roundID,
			Number: len(s.Rounds) + 1,
		})
		round = &s.Rounds[len(s.Rounds)-1]
	}

	number := len(round.Throws) + 1
	typ := ThrowKubb
	if number == ThrowsPerRound && round.Hits() == ThrowsPerRound-1 {
		typ = ThrowKing
	}

	round.Throws = append(round.Throws, ThrowEvent{
		ID:        throwID,
		IsHit:     isHit,
		Type:      typ,
		Number:    number,
		Timestamp: now,
	})
	if len(round.Throws) == ThrowsPerRound {
		round.IsComplete = true
	}

	s.TotalBatons++
	if isHit {
		s.TotalKubbs++
	}
	s.Touch(now)
	return &round.Throws[len(round.Throws)-1]
}

// ResetCurrentRound clears the throws of the current round only.
// Rounds already completed are untouched. Returns false if there is no
// current round to reset.
func (s *Session) ResetCurrentRound(now time.Time) bool {
	round := s.CurrentRound()
	if round == nil {
		return false
	}
	for _, t := range round.Throws {
		s.TotalBatons--
		if t.IsHit {
			s.TotalKubbs--
		}
	}
	round.Throws = nil
	s.Touch(now)
	return true
}

// TargetReached reports whether the hit total has met the session target.
func (s *Session) TargetReached() bool {
	return s.TotalKubbs >= s.Target
}

// Incomplete reports whether the session is resumable: it belongs to the
// current calendar day, the target is unmet, and it was never completed.
func (s *Session) Incomplete(now time.Time) bool {
	return s.Date == now.Format(DateLayout) && s.TotalKubbs < s.Target && !s.IsComplete
}

// Touch advances ModifiedAt. ModifiedAt never moves backwards, even if the
// supplied clock does.
func (s *Session) Touch(now time.Time) {
	if now.After(s.ModifiedAt) {
		s.ModifiedAt = now
	} else {
		s.ModifiedAt = s.ModifiedAt.Add(time.Millisecond)
	}
}

// Clone returns a deep copy. The sync engine hands clones to background
// goroutines so remote sync never shares mutable state with the controller.
func (s *Session) Clone() *Session {
	out := *s
	if s.EndTime != nil {
		t := *s.EndTime
		out.EndTime = &t
	}
	out.Rounds = make([]Round, len(s.Rounds))
	for i, r := range s.Rounds {
		out.Rounds[i] = r
		out.Rounds[i].Throws = append([]ThrowEvent(nil), r.Throws...)
	}
	return &out
}
