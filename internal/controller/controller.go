// Package controller owns the state machine of the currently active
// practice session and drives the sync engine on each mutation.
//
// A single in-process actor drives transitions; the controller is not
// safe for concurrent use. Every mutation writes through the engine:
// the local store synchronously (a failure there aborts the transition),
// the remote store in the background (its outcome never blocks the user).
package controller

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kastlog/kastlog/internal/engine"
	"github.com/kastlog/kastlog/internal/model"
)

// State is the controller's position in the session lifecycle.
type State string

const (
	// StateIdle means no active session.
	StateIdle State = "idle"
	// StateActive means a session is in progress with one current round.
	StateActive State = "active"
	// StateCompleted is terminal: the target was reached.
	StateCompleted State = "completed"
	// StateEndedEarly means the session was exited before the target;
	// it stays resumable while the incomplete predicate holds.
	StateEndedEarly State = "endedEarly"
)

// Controller runs the session state machine.
type Controller struct {
	engine  *engine.Engine
	now     func() time.Time
	newID   func() string
	state   State
	session *model.Session
}

// Option customizes a Controller.
type Option func(*Controller)

// WithClock injects the time source (tests).
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// WithIDGenerator injects the identity source (tests).
func WithIDGenerator(newID func() string) Option {
	return func(c *Controller) { c.newID = newID }
}

// New creates an idle controller bound to the given engine.
func New(eng *engine.Engine, opts ...Option) *Controller {
	c := &Controller{
		engine: eng,
		now:    time.Now,
		newID:  uuid.NewString,
		state:  StateIdle,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// State returns the current lifecycle state.
func (c *Controller) State() State {
	return c.state
}

// Session returns the session under control, or nil when idle.
func (c *Controller) Session() *model.Session {
	return c.session
}

// Start creates a new session with the given target and activates it.
func (c *Controller) Start(ctx context.Context, target int) (*model.Session, error) {
	if c.state == StateActive {
		return nil, fmt.Errorf("a session is already active")
	}
	if target <= 0 {
		return nil, fmt.Errorf("target must be positive (got %d)", target)
	}

	s := model.New(c.newID(), target, c.now())
	if err := c.engine.Save(ctx, s); err != nil {
		return nil, err
	}
	c.session = s
	c.state = StateActive
	return s, nil
}

// RecordThrow appends a throw outcome to the current round, persists the
// session, and completes it automatically once the target is reached.
func (c *Controller) RecordThrow(ctx context.Context, isHit bool) (*model.ThrowEvent, error) {
	if c.state != StateActive {
		return nil, fmt.Errorf("no active session (state %s)", c.state)
	}

	// Keep a pristine copy so a failed local write aborts the
	// transition without leaving the in-memory session half-mutated.
	backup := c.session.Clone()
	throw := c.session.RecordThrow(c.newID(), c.newID(), isHit, c.now())

	if err := c.engine.Save(ctx, c.session); err != nil {
		c.session = backup
		return nil, err
	}

	if c.session.TargetReached() {
		if err := c.Complete(ctx); err != nil {
			return throw, err
		}
	}
	return throw, nil
}

// Complete marks the session as successfully finished.
func (c *Controller) Complete(ctx context.Context) error {
	if c.session == nil {
		return fmt.Errorf("no session to complete")
	}
	now := c.now()
	backup := c.session.Clone()
	c.session.IsComplete = true
	c.session.EndTime = &now
	c.session.Touch(now)

	if err := c.engine.Save(ctx, c.session); err != nil {
		c.session = backup
		return err
	}
	c.state = StateCompleted
	return nil
}

// EndEarly exits the session without completing it. The session remains
// resumable for as long as the incomplete predicate holds.
func (c *Controller) EndEarly(ctx context.Context) error {
	if c.state != StateActive {
		return fmt.Errorf("no active session (state %s)", c.state)
	}
	now := c.now()
	backup := c.session.Clone()
	c.session.EndTime = &now
	c.session.Touch(now)

	if err := c.engine.Save(ctx, c.session); err != nil {
		c.session = backup
		return err
	}
	c.state = StateEndedEarly
	return nil
}

// ResetCurrentRound clears the throws of the current round only and
// persists the session.
func (c *Controller) ResetCurrentRound(ctx context.Context) error {
	if c.state != StateActive {
		return fmt.Errorf("no active session (state %s)", c.state)
	}
	backup := c.session.Clone()
	if !c.session.ResetCurrentRound(c.now()) {
		return nil
	}
	if err := c.engine.Save(ctx, c.session); err != nil {
		c.session = backup
		return err
	}
	return nil
}

// Resume re-enters the active state from an ended-early or freshly loaded
// incomplete session without mutating stored data.
func (c *Controller) Resume(s *model.Session) error {
	if s == nil {
		return fmt.Errorf("no session to resume")
	}
	if !s.Incomplete(c.now()) {
		return fmt.Errorf("session %s is not resumable", s.ID)
	}
	c.session = s
	c.state = StateActive
	return nil
}

// Delete removes the session from both stores and returns to idle.
func (c *Controller) Delete(ctx context.Context) error {
	if c.session == nil {
		return fmt.Errorf("no session to delete")
	}
	if err := c.engine.Delete(ctx, c.session); err != nil {
		return err
	}
	c.session = nil
	c.state = StateIdle
	return nil
}
