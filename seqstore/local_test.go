package seqstore

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestLocalSnapshotManyIncludesAllAndZeroForMissing(t *testing.T) {
	ctx := context.Background()
	s := NewLocal(0, 0)
	t.Cleanup(func() { _ = s.Close(ctx) })

	keys := []string{"a", "b", "c"}
	// bump b twice -> seq=2
	if _, err := s.Bump(ctx, "b"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Bump(ctx, "b"); err != nil {
		t.Fatal(err)
	}

	got, err := s.SnapshotMany(ctx, keys)
	if err != nil {
		t.Fatal(err)
	}

	if got["a"] != 0 || got["b"] != 2 || got["c"] != 0 {
		t.Fatalf("got=%v want a=0,b=2,c=0", got)
	}
}

func TestLocalBumpIsMonotonicUnderConcurrency(t *testing.T) {
	ctx := context.Background()
	s := NewLocal(0, 0)
	t.Cleanup(func() { _ = s.Close(ctx) })

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = s.Bump(ctx, "k")
		}()
	}
	wg.Wait()
	if g, _ := s.Snapshot(ctx, "k"); g != 50 {
		t.Fatalf("expected 50, got %d", g)
	}
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func TestLocalCleanupPrunesIdleKeys(t *testing.T) {
	ctx := context.Background()
	clk := &fakeClock{t: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)}
	s := NewLocalWith(LocalOptions{Now: clk.Now})
	t.Cleanup(func() { _ = s.Close(ctx) })

	_, _ = s.Bump(ctx, "old")
	clk.Advance(2 * time.Hour)
	_, _ = s.Bump(ctx, "fresh")
	s.Cleanup(time.Hour)

	if n := s.Len(); n != 1 {
		t.Fatalf("expected only the fresh key tracked, got %d", n)
	}
	if g, _ := s.Snapshot(ctx, "fresh"); g != 1 {
		t.Fatalf("fresh key should keep its seq, got %d", g)
	}
}

// A reader that snapshots before a prune must still lose against any later
// write, even though the key was forgotten in between.
func TestLocalPruneNeverReusesASequence(t *testing.T) {
	ctx := context.Background()
	clk := &fakeClock{t: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)}
	s := NewLocalWith(LocalOptions{Now: clk.Now})
	t.Cleanup(func() { _ = s.Close(ctx) })

	for range 3 {
		_, _ = s.Bump(ctx, "accounts")
	}
	observed, _ := s.Snapshot(ctx, "accounts")

	clk.Advance(2 * time.Hour)
	s.Cleanup(time.Hour)

	if g, _ := s.Snapshot(ctx, "accounts"); g != observed {
		t.Fatalf("prune alone must not move the seq: observed %d, now %d", observed, g)
	}
	next, _ := s.Bump(ctx, "accounts")
	if next <= observed {
		t.Fatalf("bump after prune reused a sequence: %d <= %d", next, observed)
	}
	if g, _ := s.Snapshot(ctx, "never-written"); g != observed {
		t.Fatalf("unknown keys should report the prune floor %d, got %d", observed, g)
	}
}

func TestLocalCloseIsIdempotent(t *testing.T) {
	s := NewLocal(time.Millisecond, time.Hour)
	if err := s.Close(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(context.Background()); err != nil {
		t.Fatal(err)
	}
}
