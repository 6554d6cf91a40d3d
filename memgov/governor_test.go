package memgov

import (
	"sync"
	"testing"
	"time"
)

// TestNoDeadlockUnderPressureCallback reproduces spec §8 Testable Property 7:
// concurrent acquire/release workers plus a pressure callback that itself
// calls back into Acquire must terminate within a bounded time.
func TestNoDeadlockUnderPressureCallback(t *testing.T) {
	g := New()
	g.SetLimits(1<<20, 0)

	g.RegisterPressureCallback(func(level int) {
		// Reentrant call into the governor from within a callback must not
		// deadlock (spec §4.2 invariant).
		buf := g.Acquire(1024, "callback-reentrant")
		g.Release(buf, 1024, "callback-reentrant")
	})

	done := make(chan struct{})
	go func() {
		var wg sync.WaitGroup
		for i := 0; i < 4; i++ {
			wg.Add(1)
			go func(worker int) {
				defer wg.Done()
				for j := 0; j < 200; j++ {
					buf := g.Acquire(4096, "worker")
					g.Release(buf, 4096, "worker")
				}
			}(i)
		}
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("deadlock: workers + reentrant pressure callback did not terminate")
	}
}

func TestAcquireReleaseRoundTrip(t *testing.T) {
	g := New()
	buf := g.Acquire(100, "demuxer")
	if len(buf) != 100 {
		t.Fatalf("want len 100, got %d", len(buf))
	}
	stats := g.Stats()
	if stats.TotalBytes == 0 {
		t.Fatalf("want nonzero TotalBytes after acquire")
	}
	g.Release(buf, 100, "demuxer")
	stats = g.Stats()
	if stats.TotalBytes != 0 {
		t.Fatalf("want 0 TotalBytes after release, got %d", stats.TotalBytes)
	}
}

func TestDoubleReleaseIsDetected(t *testing.T) {
	g := New()
	buf := g.Acquire(100, "demuxer")
	g.Release(buf, 100, "demuxer")
	g.Release(buf, 100, "demuxer")

	stats := g.Audit()
	if stats.DoubleFrees != 1 {
		t.Fatalf("want 1 double-free detected, got %d", stats.DoubleFrees)
	}
}

func TestPressureCallbackFiresAboveThreshold(t *testing.T) {
	g := New()
	g.SetLimits(1000, 0)

	var mu sync.Mutex
	var maxLevel int
	g.RegisterPressureCallback(func(level int) {
		mu.Lock()
		if level > maxLevel {
			maxLevel = level
		}
		mu.Unlock()
	})

	buf := g.Acquire(960, "big")
	_ = buf

	mu.Lock()
	defer mu.Unlock()
	if maxLevel < PressureHigh {
		t.Fatalf("want pressure level >= %d after a 960-byte acquire against a 1000-byte limit, got %d", PressureHigh, maxLevel)
	}
}
