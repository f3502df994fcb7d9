package watchdog

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestEdgeTriggeredCallbacks(t *testing.T) {
	t.Parallel()

	base := time.UnixMilli(1_700_000_000_000)
	w := New(time.Second, time.Minute, nil)
	w.SetClock(func() time.Time { return base })

	var idle, active int
	w.OnIdle(func() { idle++ })
	w.OnActive(func() { active++ })

	if !w.Check(base.Add(30 * time.Second)) {
		t.Fatal("expected active before the threshold")
	}
	if w.Check(base.Add(time.Minute)) {
		t.Fatal("expected idle at the threshold")
	}
	w.Check(base.Add(2 * time.Minute))
	w.Check(base.Add(3 * time.Minute))
	if idle != 1 || active != 0 {
		t.Fatalf("expected one idle edge, got idle=%d active=%d", idle, active)
	}

	at := base.Add(4 * time.Minute)
	w.SetClock(func() time.Time { return at })
	w.Touch()
	if w.Active() {
		t.Fatal("touch must not flip state before the next poll")
	}
	w.Check(at.Add(time.Second))
	w.Check(at.Add(2 * time.Second))
	if active != 1 || !w.Active() {
		t.Fatalf("expected one active edge, got %d", active)
	}
}

func TestRunPolls(t *testing.T) {
	t.Parallel()

	w := New(10*time.Millisecond, 20*time.Millisecond, nil)
	var idle atomic.Int32
	w.OnIdle(func() { idle.Add(1) })

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		w.Run(ctx)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for idle.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	wg.Wait()

	if idle.Load() != 1 {
		t.Fatalf("expected exactly one idle edge, got %d", idle.Load())
	}
}

func TestDefaults(t *testing.T) {
	t.Parallel()

	w := New(0, 0, nil)
	if w.interval != DefaultPollInterval || w.threshold != DefaultIdleThreshold {
		t.Fatalf("unexpected defaults %v/%v", w.interval, w.threshold)
	}
	if !w.Active() {
		t.Fatal("a new watchdog starts active")
	}
}
