// Package engine orchestrates session persistence across the local and
// remote stores.
//
// The engine gives one hard guarantee: every save is durably committed to
// the local store before anything else happens, and only a local failure
// is ever surfaced to the caller. The remote side runs in the background
// through the retry policy and the conflict resolver; its outcome reaches
// consumers only as a non-fatal status signal and typed events.
//
// There is no two-phase commit between the stores. Divergence is expected
// and reconciled on the next save or fetch, never avoided.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/kastlog/kastlog/internal/model"
	"github.com/kastlog/kastlog/internal/resolve"
	"github.com/kastlog/kastlog/internal/retry"
	"github.com/kastlog/kastlog/internal/store"
	"github.com/kastlog/kastlog/internal/store/sqlite"
)

// conflictRounds bounds the refetch-and-re-resolve loop on CAS conflicts.
const conflictRounds = 3

// Engine coordinates the local store, the remote store, the retry policy
// and the conflict resolver. Construct one per process and inject it; the
// engine holds no global state.
type Engine struct {
	local  *sqlite.Store
	remote store.RemoteStore
	policy retry.Policy
	logger *log.Logger

	mu        sync.Mutex
	status    Status
	statusMsg string
	subs      []func(Event)

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates an Engine. If logger is nil a default stderr logger is used.
//
// Example:
//
//	eng := engine.New(local, remote, retry.Default(), nil)
//	defer eng.Close()
func New(local *sqlite.Store, remote store.RemoteStore, policy retry.Policy, logger *log.Logger) *Engine {
	if logger == nil {
		logger = log.New(os.Stderr, "[engine] ", log.LstdFlags)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		local:  local,
		remote: remote,
		policy: policy,
		logger: logger,
		status: StatusIdle,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Subscribe registers a callback for engine events. Callbacks run on the
// emitting goroutine and must not block.
func (e *Engine) Subscribe(fn func(Event)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.subs = append(e.subs, fn)
}

// Status returns the current sync status and, for StatusError, the reason.
func (e *Engine) Status() (Status, string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status, e.statusMsg
}

// Save persists the session.
//
// The local write happens first and synchronously; its failure aborts the
// operation and is the only error this method returns. The remote save
// then proceeds on a background goroutine, resolver-governed, and reports
// through the status signal only.
func (e *Engine) Save(ctx context.Context, s *model.Session) error {
	if err := e.local.SaveContext(ctx, s); err != nil {
		return fmt.Errorf("local save failed: %w", err)
	}
	e.emit(Event{Type: EventSessionUpdated, SessionID: s.ID})

	snapshot := s.Clone()
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.syncRemote(e.ctx, snapshot)
	}()
	return nil
}

// syncRemote pushes one session to the remote store through the retry
// policy and the resolver, updating the status signal.
func (e *Engine) syncRemote(ctx context.Context, s *model.Session) {
	e.setStatus(StatusSyncing, "")

	var err error
	for round := 0; round < conflictRounds; round++ {
		err = e.policy.Do(ctx, func(ctx context.Context) error {
			return e.saveRemoteOnce(ctx, s)
		})
		if !store.IsConflict(err) {
			break
		}
		// CAS lost: another device wrote since our read. Refetch and
		// re-resolve on the next round.
	}

	switch {
	case err == nil:
		e.setStatus(StatusSuccess, "")
	case store.IsConflict(err):
		// A persistently contended record means another device is
		// actively writing a copy at least as new as ours. The
		// resolver will reconcile on its next pass; not a failure.
		e.logger.Printf("session %s: remote contended, leaving remote copy", s.ID)
		e.setStatus(StatusSuccess, "")
	default:
		e.logger.Printf("session %s: remote save degraded to local: %v", s.ID, err)
		e.setStatus(StatusError, err.Error())
	}
}

// saveRemoteOnce performs a single resolver-governed remote save attempt.
func (e *Engine) saveRemoteOnce(ctx context.Context, s *model.Session) error {
	records, err := e.findRecords(ctx, s.ID)
	if err != nil {
		return err
	}

	if len(records) == 0 {
		_, err := e.remote.Save(ctx, store.FromSession(s))
		return err
	}

	canonical := resolve.CanonicalRecord(records)
	if !resolve.ShouldOverwrite(s, canonical.Session()) {
		// The remote copy wins; leave it untouched so a slower device
		// never regresses progress recorded elsewhere.
		return nil
	}

	rec := store.FromSession(s)
	rec.RecordID = canonical.RecordID
	rec.BaseModifiedAt = canonical.ModifiedAt
	_, err = e.remote.Save(ctx, rec)
	return err
}

// findRecords locates the remote records for a logical session id.
//
// The identity index lookup may itself fail Terminal (index unavailable);
// in that case a full scan matching the session id field is tried. When
// both paths are unavailable the session is treated as absent, which is
// precisely how duplicate remote records come to exist.
func (e *Engine) findRecords(ctx context.Context, sessionID string) ([]*store.Record, error) {
	records, err := e.remote.FindBySession(ctx, sessionID)
	if err == nil {
		return records, nil
	}
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if store.IsTransient(err) {
		return nil, err
	}

	records, err = e.remote.Query(ctx, store.QueryFilter{SessionID: sessionID})
	if err != nil {
		if store.IsTransient(err) {
			return nil, err
		}
		e.logger.Printf("session %s: identity lookup unavailable, treating as absent: %v", sessionID, err)
		return nil, nil
	}
	return records, nil
}

// FetchAll returns the deduplicated remote session set, or the local
// store's full collection when the remote is unavailable after retries.
//
// Remote-only sessions are not merged back into the local store; the
// remote set serves as a discovery index for read-only consumers.
func (e *Engine) FetchAll(ctx context.Context) ([]*model.Session, error) {
	var records []*store.Record
	err := e.policy.Do(ctx, func(ctx context.Context) error {
		var qerr error
		records, qerr = e.remote.Query(ctx, store.QueryFilter{})
		return qerr
	})
	if err != nil {
		e.logger.Printf("fetchAll degraded to local: %v", err)
		e.setStatus(StatusError, err.Error())
		return e.local.LoadAllContext(ctx)
	}

	canonical := resolve.Canonical(records)
	sessions := make([]*model.Session, 0, len(canonical))
	for _, rec := range canonical {
		sessions = append(sessions, rec.Session())
	}
	e.setStatus(StatusSuccess, "")
	return sessions, nil
}

// FetchIncomplete returns the single resumable session: the canonical
// remote record that satisfies the incomplete predicate at now, falling
// back to the local store's lookup when the remote is unavailable.
// Returns (nil, nil) when nothing is resumable.
func (e *Engine) FetchIncomplete(ctx context.Context, now time.Time) (*model.Session, error) {
	var records []*store.Record
	err := e.policy.Do(ctx, func(ctx context.Context) error {
		var qerr error
		records, qerr = e.remote.Query(ctx, store.QueryFilter{OnlyIncomplete: true})
		return qerr
	})
	if err != nil {
		e.logger.Printf("fetchIncomplete degraded to local: %v", err)
		e.setStatus(StatusError, err.Error())
		return e.local.FindIncompleteContext(ctx, now)
	}

	var best *model.Session
	for _, rec := range resolve.Canonical(records) {
		s := rec.Session()
		if !s.Incomplete(now) {
			continue
		}
		if best == nil || s.ModifiedAt.After(best.ModifiedAt) {
			best = s
		}
	}
	e.setStatus(StatusSuccess, "")
	return best, nil
}

// Delete removes the session from both stores.
//
// The local delete is synchronous and its failure aborts the operation.
// The remote delete is best-effort on a background goroutine: every record
// for the logical id is removed (index lookup, falling back to a full
// scan), and a failure never reverts the local delete.
func (e *Engine) Delete(ctx context.Context, s *model.Session) error {
	if err := e.local.DeleteContext(ctx, s.ID); err != nil {
		return fmt.Errorf("local delete failed: %w", err)
	}
	e.emit(Event{Type: EventDataCleared, SessionID: s.ID})

	sessionID := s.ID
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.deleteRemote(e.ctx, sessionID)
	}()
	return nil
}

func (e *Engine) deleteRemote(ctx context.Context, sessionID string) {
	e.setStatus(StatusSyncing, "")

	err := e.policy.Do(ctx, func(ctx context.Context) error {
		records, err := e.findRecords(ctx, sessionID)
		if err != nil {
			return err
		}
		for _, rec := range records {
			if err := e.remote.Delete(ctx, rec.RecordID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		e.logger.Printf("session %s: remote delete failed (local delete stands): %v", sessionID, err)
		e.setStatus(StatusError, err.Error())
		return
	}
	e.setStatus(StatusSuccess, "")
}

// Deduplicate permanently deletes all but the greatest-ModifiedAt record
// per logical session from the remote store. Idempotent: a second run
// against already-unique records deletes nothing. Returns the number of
// records removed.
func (e *Engine) Deduplicate(ctx context.Context) (int, error) {
	var records []*store.Record
	err := e.policy.Do(ctx, func(ctx context.Context) error {
		var qerr error
		records, qerr = e.remote.Query(ctx, store.QueryFilter{})
		return qerr
	})
	if err != nil {
		return 0, fmt.Errorf("deduplicate query failed: %w", err)
	}

	removed := 0
	for _, id := range resolve.Duplicates(records) {
		err := e.policy.Do(ctx, func(ctx context.Context) error {
			return e.remote.Delete(ctx, id)
		})
		if err != nil {
			return removed, fmt.Errorf("deduplicate delete %s failed: %w", id, err)
		}
		removed++
	}
	if removed > 0 {
		e.logger.Printf("deduplicated %d remote records", removed)
	}
	return removed, nil
}

// SyncAll pushes every locally stored session through the resolver-
// governed remote save, then runs a deduplication sweep. Used by the
// daemon's periodic resync and the explicit sync command. Individual
// session failures are logged and do not stop the pass.
func (e *Engine) SyncAll(ctx context.Context) error {
	sessions, err := e.local.LoadAllContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to load local sessions: %w", err)
	}

	e.setStatus(StatusSyncing, "")
	var lastErr error
	for _, s := range sessions {
		err = e.policy.Do(ctx, func(ctx context.Context) error {
			return e.saveRemoteOnce(ctx, s)
		})
		if err != nil && !store.IsConflict(err) {
			e.logger.Printf("sync: session %s failed: %v", s.ID, err)
			lastErr = err
		}
	}
	if lastErr != nil {
		e.setStatus(StatusError, lastErr.Error())
		return lastErr
	}

	if _, err := e.Deduplicate(ctx); err != nil {
		e.setStatus(StatusError, err.Error())
		return err
	}
	e.setStatus(StatusSuccess, "")
	return nil
}

// Flush waits for in-flight background remote operations to finish.
func (e *Engine) Flush() {
	e.wg.Wait()
}

// Close abandons in-flight remote operations (no rollback - repeating them
// later is safe) and waits for their goroutines to exit.
func (e *Engine) Close() {
	e.cancel()
	e.wg.Wait()
}

// setStatus records a status transition and notifies subscribers.
func (e *Engine) setStatus(status Status, msg string) {
	e.mu.Lock()
	changed := e.status != status || e.statusMsg != msg
	e.status = status
	e.statusMsg = msg
	e.mu.Unlock()

	if changed {
		e.emit(Event{Type: EventStatusChanged, Status: status, Message: msg})
	}
}

func (e *Engine) emit(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	e.mu.Lock()
	subs := make([]func(Event), len(e.subs))
	copy(subs, e.subs)
	e.mu.Unlock()

	for _, fn := range subs {
		fn(ev)
	}
}
