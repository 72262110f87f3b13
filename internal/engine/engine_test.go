package engine

import (
	"context"
	"io"
	"log"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"

	"github.com/kastlog/kastlog/internal/model"
	"github.com/kastlog/kastlog/internal/retry"
	"github.com/kastlog/kastlog/internal/store"
	kredis "github.com/kastlog/kastlog/internal/store/redis"
	"github.com/kastlog/kastlog/internal/store/sqlite"
)

var testClock = time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

// instantPolicy retries without waiting so degradation tests run fast.
func instantPolicy() retry.Policy {
	return retry.Policy{
		MaxAttempts: 3,
		BaseDelay:   time.Millisecond,
		Sleep:       func(ctx context.Context, d time.Duration) error { return ctx.Err() },
	}
}

func quietLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func newTestEngine(t *testing.T) (*Engine, *sqlite.Store, *kredis.Store, *miniredis.Miniredis) {
	t.Helper()

	local, err := sqlite.Open(filepath.Join(t.TempDir(), "sessions.db"))
	if err != nil {
		t.Fatalf("sqlite.Open: %v", err)
	}
	t.Cleanup(func() { local.Close() })
	if err := local.InitSchema(); err != nil {
		t.Fatalf("InitSchema: %v", err)
	}

	mr := miniredis.RunT(t)
	remote := kredis.NewWithClient(goredis.NewClient(&goredis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { remote.Close() })

	eng := New(local, remote, instantPolicy(), quietLogger())
	t.Cleanup(eng.Close)
	return eng, local, remote, mr
}

func testSession(id string, now time.Time) *model.Session {
	s := model.New(id, 30, now)
	s.RecordThrow(id+"-t1", id+"-r1", true, now)
	s.RecordThrow(id+"-t2", id+"-r1", true, now.Add(time.Second))
	return s
}

func TestSaveWritesLocalThenRemote(t *testing.T) {
	eng, local, remote, _ := newTestEngine(t)
	ctx := context.Background()

	s := testSession("s1", testClock)
	if err := eng.Save(ctx, s); err != nil {
		t.Fatalf("Save: %v", err)
	}

	// Local copy is durable before Save returns.
	if _, err := local.Get("s1"); err != nil {
		t.Fatalf("local Get immediately after Save: %v", err)
	}

	eng.Flush()

	records, err := remote.FindBySession(ctx, "s1")
	if err != nil {
		t.Fatalf("remote FindBySession after flush: %v", err)
	}
	if len(records) != 1 || records[0].TotalKubbs != 2 {
		t.Errorf("remote records = %+v, want one with 2 kubbs", records)
	}

	status, msg := eng.Status()
	if status != StatusSuccess {
		t.Errorf("status = %s (%s), want success", status, msg)
	}
}

func TestShutdownWaitsForPendingPush(t *testing.T) {
	eng, _, remote, _ := newTestEngine(t)
	ctx := context.Background()

	s := testSession("s1", testClock)
	if err := eng.Save(ctx, s); err != nil {
		t.Fatalf("Save: %v", err)
	}

	// The CLI teardown sequence: drain the in-flight remote push, then
	// cancel. Closing without flushing would abandon the push mid-flight
	// and leave the remote empty until the next sync pass.
	eng.Flush()
	eng.Close()

	records, err := remote.FindBySession(ctx, "s1")
	if err != nil {
		t.Fatalf("FindBySession after shutdown: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("remote has %d records after shutdown, want 1", len(records))
	}
}

func TestSaveDegradesWhenRemoteDown(t *testing.T) {
	eng, local, _, mr := newTestEngine(t)
	ctx := context.Background()
	mr.Close()

	s := testSession("s1", testClock)
	if err := eng.Save(ctx, s); err != nil {
		t.Fatalf("Save must succeed on the local store alone: %v", err)
	}

	if _, err := local.Get("s1"); err != nil {
		t.Fatalf("local Get: %v", err)
	}

	eng.Flush()
	status, msg := eng.Status()
	if status != StatusError {
		t.Errorf("status = %s, want error after remote degrade", status)
	}
	if msg == "" {
		t.Error("error status should carry a reason")
	}
}

func TestSaveUpdatesExistingRemoteRecord(t *testing.T) {
	eng, _, remote, _ := newTestEngine(t)
	ctx := context.Background()

	s := testSession("s1", testClock)
	if err := eng.Save(ctx, s); err != nil {
		t.Fatalf("Save: %v", err)
	}
	eng.Flush()

	s.RecordThrow("s1-t3", "s1-r1", true, testClock.Add(time.Minute))
	if err := eng.Save(ctx, s); err != nil {
		t.Fatalf("second Save: %v", err)
	}
	eng.Flush()

	records, err := remote.FindBySession(ctx, "s1")
	if err != nil {
		t.Fatalf("FindBySession: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("remote has %d records, want 1 (update in place)", len(records))
	}
	if records[0].TotalKubbs != 3 {
		t.Errorf("remote TotalKubbs = %d, want 3", records[0].TotalKubbs)
	}
}

func TestSaveNeverRegressesRemoteProgress(t *testing.T) {
	eng, _, remote, _ := newTestEngine(t)
	ctx := context.Background()

	// Another device already pushed further progress for the same session.
	ahead := testSession("s1", testClock)
	ahead.RecordThrow("s1-t3", "s1-r1", true, testClock.Add(time.Minute))
	ahead.RecordThrow("s1-t4", "s1-r1", true, testClock.Add(2*time.Minute))
	if _, err := remote.Save(ctx, store.FromSession(ahead)); err != nil {
		t.Fatalf("seed remote: %v", err)
	}

	// This device holds an older snapshot with fewer kubbs and batons,
	// but a newer wall clock.
	behind := testSession("s1", testClock)
	behind.ModifiedAt = testClock.Add(time.Hour)
	if err := eng.Save(ctx, behind); err != nil {
		t.Fatalf("Save: %v", err)
	}
	eng.Flush()

	records, err := remote.FindBySession(ctx, "s1")
	if err != nil {
		t.Fatalf("FindBySession: %v", err)
	}
	if len(records) != 1 || records[0].TotalKubbs != 4 {
		t.Errorf("remote progress regressed: %+v", records)
	}

	// The declined push is not a failure.
	status, msg := eng.Status()
	if status != StatusSuccess {
		t.Errorf("status = %s (%s), want success", status, msg)
	}
}

func TestFetchAllCollapsesDuplicates(t *testing.T) {
	eng, _, remote, _ := newTestEngine(t)
	ctx := context.Background()

	// Two records for one logical session, as left behind by a device
	// that could not see the first record when it wrote.
	older := testSession("s1", testClock)
	if _, err := remote.Save(ctx, store.FromSession(older)); err != nil {
		t.Fatalf("seed: %v", err)
	}
	newer := testSession("s1", testClock)
	newer.RecordThrow("s1-t3", "s1-r1", false, testClock.Add(time.Minute))
	if _, err := remote.Save(ctx, store.FromSession(newer)); err != nil {
		t.Fatalf("seed: %v", err)
	}

	sessions, err := eng.FetchAll(ctx)
	if err != nil {
		t.Fatalf("FetchAll: %v", err)
	}
	if len(sessions) != 1 {
		t.Fatalf("FetchAll returned %d sessions, want 1 canonical", len(sessions))
	}
	if sessions[0].TotalBatons != 3 {
		t.Errorf("canonical TotalBatons = %d, want the newer copy's 3", sessions[0].TotalBatons)
	}
}

func TestFetchAllFallsBackToLocal(t *testing.T) {
	eng, local, _, mr := newTestEngine(t)
	ctx := context.Background()

	if err := local.Save(testSession("local-only", testClock)); err != nil {
		t.Fatalf("local Save: %v", err)
	}
	mr.Close()

	sessions, err := eng.FetchAll(ctx)
	if err != nil {
		t.Fatalf("FetchAll should degrade, not fail: %v", err)
	}
	if len(sessions) != 1 || sessions[0].ID != "local-only" {
		t.Errorf("FetchAll = %+v, want the local collection", sessions)
	}

	status, _ := eng.Status()
	if status != StatusError {
		t.Errorf("status = %s, want error while degraded", status)
	}
}

func TestFetchIncomplete(t *testing.T) {
	eng, _, remote, _ := newTestEngine(t)
	ctx := context.Background()

	done := testSession("done", testClock)
	done.IsComplete = true
	if _, err := remote.Save(ctx, store.FromSession(done)); err != nil {
		t.Fatalf("seed: %v", err)
	}
	open := testSession("open", testClock)
	if _, err := remote.Save(ctx, store.FromSession(open)); err != nil {
		t.Fatalf("seed: %v", err)
	}

	s, err := eng.FetchIncomplete(ctx, testClock)
	if err != nil {
		t.Fatalf("FetchIncomplete: %v", err)
	}
	if s == nil || s.ID != "open" {
		t.Fatalf("FetchIncomplete = %v, want the open session", s)
	}

	// The next day nothing is resumable.
	s, err = eng.FetchIncomplete(ctx, testClock.Add(24*time.Hour))
	if err != nil {
		t.Fatalf("FetchIncomplete: %v", err)
	}
	if s != nil {
		t.Errorf("FetchIncomplete on the next day = %v, want nil", s)
	}
}

func TestFetchIncompleteFallsBackToLocal(t *testing.T) {
	eng, local, _, mr := newTestEngine(t)
	ctx := context.Background()

	if err := local.Save(testSession("s1", testClock)); err != nil {
		t.Fatalf("local Save: %v", err)
	}
	mr.Close()

	s, err := eng.FetchIncomplete(ctx, testClock)
	if err != nil {
		t.Fatalf("FetchIncomplete should degrade, not fail: %v", err)
	}
	if s == nil || s.ID != "s1" {
		t.Fatalf("FetchIncomplete = %v, want the local session", s)
	}
}

func TestDeleteRemovesAllRemoteRecords(t *testing.T) {
	eng, local, remote, _ := newTestEngine(t)
	ctx := context.Background()

	s := testSession("s1", testClock)
	if err := local.Save(s); err != nil {
		t.Fatalf("local Save: %v", err)
	}
	// Two duplicate remote records.
	if _, err := remote.Save(ctx, store.FromSession(s)); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, err := remote.Save(ctx, store.FromSession(s)); err != nil {
		t.Fatalf("seed: %v", err)
	}

	if err := eng.Delete(ctx, s); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	eng.Flush()

	if _, err := local.Get("s1"); err == nil {
		t.Error("local copy should be gone")
	}
	if _, err := remote.FindBySession(ctx, "s1"); err == nil {
		t.Error("every remote record should be gone, duplicates included")
	}
}

func TestDeleteSurvivesRemoteOutage(t *testing.T) {
	eng, local, _, mr := newTestEngine(t)
	ctx := context.Background()

	s := testSession("s1", testClock)
	if err := local.Save(s); err != nil {
		t.Fatalf("local Save: %v", err)
	}
	mr.Close()

	if err := eng.Delete(ctx, s); err != nil {
		t.Fatalf("Delete must succeed on the local store alone: %v", err)
	}
	eng.Flush()

	if _, err := local.Get("s1"); err == nil {
		t.Error("local delete must stand despite the remote failure")
	}
}

func TestDeduplicate(t *testing.T) {
	eng, _, remote, _ := newTestEngine(t)
	ctx := context.Background()

	older := testSession("s1", testClock)
	if _, err := remote.Save(ctx, store.FromSession(older)); err != nil {
		t.Fatalf("seed: %v", err)
	}
	newer := testSession("s1", testClock)
	newer.Touch(testClock.Add(time.Minute))
	if _, err := remote.Save(ctx, store.FromSession(newer)); err != nil {
		t.Fatalf("seed: %v", err)
	}

	removed, err := eng.Deduplicate(ctx)
	if err != nil {
		t.Fatalf("Deduplicate: %v", err)
	}
	if removed != 1 {
		t.Errorf("removed %d records, want 1", removed)
	}

	records, err := remote.FindBySession(ctx, "s1")
	if err != nil {
		t.Fatalf("FindBySession: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("%d records remain, want 1", len(records))
	}
	if !records[0].ModifiedAt.Equal(newer.ModifiedAt) {
		t.Error("the surviving record must be the newest copy")
	}

	// Sweeping again removes nothing.
	removed, err = eng.Deduplicate(ctx)
	if err != nil {
		t.Fatalf("second Deduplicate: %v", err)
	}
	if removed != 0 {
		t.Errorf("second sweep removed %d records, want 0", removed)
	}
}

func TestSyncAllPushesEverything(t *testing.T) {
	eng, local, remote, _ := newTestEngine(t)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		if err := local.Save(testSession(id, testClock)); err != nil {
			t.Fatalf("local Save: %v", err)
		}
	}

	if err := eng.SyncAll(ctx); err != nil {
		t.Fatalf("SyncAll: %v", err)
	}

	records, err := remote.Query(ctx, store.QueryFilter{})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(records) != 3 {
		t.Errorf("remote has %d records, want 3", len(records))
	}

	status, _ := eng.Status()
	if status != StatusSuccess {
		t.Errorf("status = %s, want success", status)
	}
}

func TestSyncAllReportsFailure(t *testing.T) {
	eng, local, _, mr := newTestEngine(t)
	ctx := context.Background()

	if err := local.Save(testSession("s1", testClock)); err != nil {
		t.Fatalf("local Save: %v", err)
	}
	mr.Close()

	if err := eng.SyncAll(ctx); err == nil {
		t.Fatal("SyncAll with an unreachable remote should return the failure")
	}
	status, _ := eng.Status()
	if status != StatusError {
		t.Errorf("status = %s, want error", status)
	}
}

func TestEvents(t *testing.T) {
	eng, _, _, _ := newTestEngine(t)
	ctx := context.Background()

	events := make(chan Event, 16)
	eng.Subscribe(func(ev Event) { events <- ev })

	s := testSession("s1", testClock)
	if err := eng.Save(ctx, s); err != nil {
		t.Fatalf("Save: %v", err)
	}
	eng.Flush()

	var sawUpdate, sawSuccess bool
	for len(events) > 0 {
		ev := <-events
		switch {
		case ev.Type == EventSessionUpdated && ev.SessionID == "s1":
			sawUpdate = true
		case ev.Type == EventStatusChanged && ev.Status == StatusSuccess:
			sawSuccess = true
		}
	}
	if !sawUpdate {
		t.Error("expected a session_updated event for the save")
	}
	if !sawSuccess {
		t.Error("expected a status transition to success after the remote sync")
	}
}
