package workerpool

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestSubmitRunsAllTasks(t *testing.T) {
	p := New(4)
	defer p.Shutdown()

	var count int64
	var wg sync.WaitGroup
	const n = 500
	wg.Add(n)
	for i := 0; i < n; i++ {
		p.Submit(func() {
			atomic.AddInt64(&count, 1)
			wg.Done()
		})
	}
	wg.Wait()
	if atomic.LoadInt64(&count) != n {
		t.Fatalf("expected %d tasks run, got %d", n, count)
	}
}

func TestSubmitNeverDrops(t *testing.T) {
	// A pool with a single worker and a slow first task must still
	// queue (not drop) everything submitted behind it.
	p := New(1)
	defer p.Shutdown()

	block := make(chan struct{})
	p.Submit(func() { <-block })

	var ran int64
	const n = 1000
	for i := 0; i < n; i++ {
		p.Submit(func() { atomic.AddInt64(&ran, 1) })
	}

	time.Sleep(20 * time.Millisecond)
	if depth := p.QueueDepth(); depth != n {
		t.Fatalf("expected all %d tasks still queued behind the blocker, got %d", n, depth)
	}
	close(block)

	deadline := time.Now().Add(2 * time.Second)
	for atomic.LoadInt64(&ran) != n && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if got := atomic.LoadInt64(&ran); got != n {
		t.Fatalf("expected %d tasks eventually run, got %d", n, got)
	}
}

func TestShutdownDrainsRemainingTasks(t *testing.T) {
	p := New(2)
	var ran int64
	for i := 0; i < 50; i++ {
		p.Submit(func() { atomic.AddInt64(&ran, 1) })
	}
	p.Shutdown()
	if atomic.LoadInt64(&ran) != 50 {
		t.Fatalf("expected all tasks drained before shutdown returns, got %d", ran)
	}
}
