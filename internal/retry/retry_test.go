package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kastlog/kastlog/internal/store"
)

// fakeSleep records requested delays without waiting.
type fakeSleep struct {
	delays []time.Duration
}

func (f *fakeSleep) sleep(ctx context.Context, d time.Duration) error {
	f.delays = append(f.delays, d)
	return ctx.Err()
}

func testPolicy(sleep *fakeSleep) Policy {
	return Policy{MaxAttempts: 3, BaseDelay: 100 * time.Millisecond, Sleep: sleep.sleep}
}

func TestDoSucceedsFirstTry(t *testing.T) {
	sleep := &fakeSleep{}
	calls := 0

	err := testPolicy(sleep).Do(context.Background(), func(ctx context.Context) error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("Do() = %v, want nil", err)
	}
	if calls != 1 {
		t.Errorf("fn called %d times, want 1", calls)
	}
	if len(sleep.delays) != 0 {
		t.Errorf("slept %v, want no sleeps", sleep.delays)
	}
}

func TestDoRetriesTransientWithDoubledDelays(t *testing.T) {
	sleep := &fakeSleep{}
	calls := 0
	transient := store.NewRemoteError(store.ClassTransient, "save", errors.New("connection refused"))

	err := testPolicy(sleep).Do(context.Background(), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return transient
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do() = %v, want nil after recovery", err)
	}
	if calls != 3 {
		t.Errorf("fn called %d times, want 3", calls)
	}
	want := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}
	if len(sleep.delays) != len(want) {
		t.Fatalf("delays = %v, want %v", sleep.delays, want)
	}
	for i := range want {
		if sleep.delays[i] != want[i] {
			t.Errorf("delay[%d] = %v, want %v", i, sleep.delays[i], want[i])
		}
	}
}

func TestDoExhaustsAttempts(t *testing.T) {
	sleep := &fakeSleep{}
	calls := 0
	transient := store.NewRemoteError(store.ClassTransient, "save", errors.New("i/o timeout"))

	err := testPolicy(sleep).Do(context.Background(), func(ctx context.Context) error {
		calls++
		return transient
	})
	if !errors.Is(err, transient) {
		t.Fatalf("Do() = %v, want the last transient error", err)
	}
	if calls != 3 {
		t.Errorf("fn called %d times, want 3", calls)
	}
	// No sleep after the final failed attempt.
	if len(sleep.delays) != 2 {
		t.Errorf("slept %d times, want 2", len(sleep.delays))
	}
}

func TestDoTerminalReturnsImmediately(t *testing.T) {
	sleep := &fakeSleep{}
	calls := 0
	terminal := store.NewRemoteError(store.ClassTerminal, "query", errors.New("WRONGTYPE"))

	err := testPolicy(sleep).Do(context.Background(), func(ctx context.Context) error {
		calls++
		return terminal
	})
	if !errors.Is(err, terminal) {
		t.Fatalf("Do() = %v, want terminal error", err)
	}
	if calls != 1 {
		t.Errorf("fn called %d times, want 1 (no retry on terminal)", calls)
	}
}

func TestDoConflictReturnsImmediately(t *testing.T) {
	sleep := &fakeSleep{}
	calls := 0
	conflict := store.NewRemoteError(store.ClassConflict, "save", errors.New("record changed"))

	err := testPolicy(sleep).Do(context.Background(), func(ctx context.Context) error {
		calls++
		return conflict
	})
	if !store.IsConflict(err) {
		t.Fatalf("Do() = %v, want conflict error", err)
	}
	if calls != 1 {
		t.Errorf("fn called %d times, want 1 (no retry on conflict)", calls)
	}
}

func TestDoUnclassifiedErrorIsRetried(t *testing.T) {
	sleep := &fakeSleep{}
	calls := 0

	_ = testPolicy(sleep).Do(context.Background(), func(ctx context.Context) error {
		calls++
		return errors.New("something the adapter never classified")
	})
	if calls != 3 {
		t.Errorf("fn called %d times, want 3 (unclassified treated as transient)", calls)
	}
}

func TestDoHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	transient := store.NewRemoteError(store.ClassTransient, "save", errors.New("connection reset"))

	p := Policy{MaxAttempts: 5, BaseDelay: time.Millisecond, Sleep: func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	}}
	err := p.Do(ctx, func(ctx context.Context) error {
		calls++
		return transient
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Do() = %v, want context.Canceled", err)
	}
	if calls != 1 {
		t.Errorf("fn called %d times, want 1 (cancelled during backoff)", calls)
	}
}

func TestDefaultsApplied(t *testing.T) {
	sleep := &fakeSleep{}
	calls := 0
	transient := store.NewRemoteError(store.ClassTransient, "save", errors.New("EOF"))

	p := Policy{Sleep: sleep.sleep} // zero values fall back to defaults
	_ = p.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return transient
	})
	if calls != DefaultMaxAttempts {
		t.Errorf("fn called %d times, want %d", calls, DefaultMaxAttempts)
	}
	if len(sleep.delays) == 0 || sleep.delays[0] != DefaultBaseDelay {
		t.Errorf("first delay = %v, want %v", sleep.delays, DefaultBaseDelay)
	}
}
