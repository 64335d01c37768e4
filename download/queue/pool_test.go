package queue

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func waitFor(t *testing.T, d time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestPoolRunsJobs(t *testing.T) {
	p := NewPool("test", 2, nil)
	defer p.Stop()

	var done sync.WaitGroup
	var count int32
	done.Add(5)
	for i := 0; i < 5; i++ {
		p.Submit(Job{TaskID: "t", Run: func() {
			atomic.AddInt32(&count, 1)
			done.Done()
		}})
	}

	finished := make(chan struct{})
	go func() {
		done.Wait()
		close(finished)
	}()
	select {
	case <-finished:
	case <-time.After(2 * time.Second):
		t.Fatal("jobs never ran")
	}
	if got := atomic.LoadInt32(&count); got != 5 {
		t.Errorf("ran %d jobs, want 5", got)
	}
}

func TestPoolConcurrencyLimit(t *testing.T) {
	p := NewPool("test", 2, nil)
	defer p.Stop()

	var running, peak int32
	var done sync.WaitGroup
	done.Add(6)
	for i := 0; i < 6; i++ {
		p.Submit(Job{TaskID: "t", Run: func() {
			n := atomic.AddInt32(&running, 1)
			for {
				old := atomic.LoadInt32(&peak)
				if n <= old || atomic.CompareAndSwapInt32(&peak, old, n) {
					break
				}
			}
			time.Sleep(50 * time.Millisecond)
			atomic.AddInt32(&running, -1)
			done.Done()
		}})
	}

	finished := make(chan struct{})
	go func() {
		done.Wait()
		close(finished)
	}()
	select {
	case <-finished:
	case <-time.After(3 * time.Second):
		t.Fatal("jobs never finished")
	}
	if got := atomic.LoadInt32(&peak); got > 2 {
		t.Errorf("peak parallelism %d exceeds concurrency 2", got)
	}
}

func TestSubmitAfterDefers(t *testing.T) {
	p := NewPool("test", 1, nil)
	defer p.Stop()

	var ran int32
	p.SubmitAfter(Job{TaskID: "t", Run: func() { atomic.AddInt32(&ran, 1) }}, 150*time.Millisecond)

	time.Sleep(50 * time.Millisecond)
	if atomic.LoadInt32(&ran) != 0 {
		t.Fatal("deferred job ran before its delay")
	}
	if p.DeferredCount() != 1 {
		t.Errorf("DeferredCount() = %d, want 1", p.DeferredCount())
	}

	waitFor(t, time.Second, "deferred job to run", func() bool {
		return atomic.LoadInt32(&ran) == 1
	})
	if p.DeferredCount() != 0 {
		t.Errorf("DeferredCount() = %d after firing, want 0", p.DeferredCount())
	}
}

func TestFlushDeferredReleasesEarly(t *testing.T) {
	p := NewPool("test", 1, nil)
	defer p.Stop()

	var ran int32
	p.SubmitAfter(Job{TaskID: "a", Run: func() { atomic.AddInt32(&ran, 1) }}, time.Hour)
	p.SubmitAfter(Job{TaskID: "b", Run: func() { atomic.AddInt32(&ran, 1) }}, time.Hour)

	if released := p.FlushDeferred(); released != 2 {
		t.Errorf("FlushDeferred() = %d, want 2", released)
	}
	waitFor(t, time.Second, "flushed jobs to run", func() bool {
		return atomic.LoadInt32(&ran) == 2
	})
}

func TestResizeIncreasesParallelism(t *testing.T) {
	p := NewPool("test", 1, nil)
	defer p.Stop()

	gate := make(chan struct{})
	defer close(gate)
	for i := 0; i < 3; i++ {
		id := string(rune('a' + i))
		p.Submit(Job{TaskID: id, Run: func() { <-gate }})
	}

	waitFor(t, time.Second, "one job to start", func() bool { return p.ActiveCount() == 1 })

	p.Resize(3)
	if p.Concurrency() != 3 {
		t.Errorf("Concurrency() = %d, want 3", p.Concurrency())
	}
	waitFor(t, time.Second, "three jobs to run in parallel", func() bool {
		return p.ActiveCount() == 3
	})
}

func TestStopWaitsForRunningJob(t *testing.T) {
	p := NewPool("test", 1, nil)

	var finished int32
	started := make(chan struct{})
	p.Submit(Job{TaskID: "t", Run: func() {
		close(started)
		time.Sleep(100 * time.Millisecond)
		atomic.StoreInt32(&finished, 1)
	}})

	<-started
	p.Stop()
	if atomic.LoadInt32(&finished) != 1 {
		t.Error("Stop() returned before the running job finished")
	}
}

func TestStopCancelsDeferredJobs(t *testing.T) {
	p := NewPool("test", 1, nil)

	var ran int32
	p.SubmitAfter(Job{TaskID: "t", Run: func() { atomic.AddInt32(&ran, 1) }}, 50*time.Millisecond)
	p.Stop()

	time.Sleep(120 * time.Millisecond)
	if atomic.LoadInt32(&ran) != 0 {
		t.Error("deferred job ran after Stop()")
	}
}
