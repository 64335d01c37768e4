package queue

import (
	"io"
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

const jobBuffer = 1000

// Job is one unit of work dispatched to a pool. Run carries its own
// context via closure; the scheduler owns per-task cancellation.
type Job struct {
	TaskID string
	Run    func()
}

type deferredJob struct {
	job   Job
	timer *time.Timer
}

// workerSet is one generation of workers. Resize retires the current set
// and starts a fresh one; in-flight jobs finish on the old generation.
type workerSet struct {
	stop chan struct{}
	wg   sync.WaitGroup
}

// Pool runs jobs on a fixed number of workers fed from a buffered queue.
// Jobs may be deferred; deferred jobs enter the queue when their timer
// fires or when FlushDeferred releases them early.
type Pool struct {
	name   string
	jobs   chan Job
	logger *log.Logger

	mu          sync.Mutex
	concurrency int
	current     *workerSet
	deferred    map[*deferredJob]bool
	active      map[string]bool
	closed      bool
}

// NewPool creates and starts a pool with the given concurrency.
func NewPool(name string, concurrency int, logger *log.Logger) *Pool {
	if concurrency <= 0 {
		concurrency = 1
	}
	if logger == nil {
		logger = log.New(io.Discard)
	}
	p := &Pool{
		name:        name,
		jobs:        make(chan Job, jobBuffer),
		logger:      logger,
		concurrency: concurrency,
		deferred:    make(map[*deferredJob]bool),
		active:      make(map[string]bool),
	}
	p.current = p.startWorkers(concurrency)
	return p
}

func (p *Pool) startWorkers(n int) *workerSet {
	set := &workerSet{stop: make(chan struct{})}
	for i := 0; i < n; i++ {
		set.wg.Add(1)
		go p.worker(set)
	}
	return set
}

func (p *Pool) worker(set *workerSet) {
	defer set.wg.Done()
	for {
		select {
		case <-set.stop:
			return
		case j, ok := <-p.jobs:
			if !ok {
				return
			}
			p.mu.Lock()
			p.active[j.TaskID] = true
			p.mu.Unlock()

			j.Run()

			p.mu.Lock()
			delete(p.active, j.TaskID)
			p.mu.Unlock()
		}
	}
}

// Submit queues a job for immediate pickup.
func (p *Pool) Submit(j Job) {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return
	}
	p.jobs <- j
}

// SubmitAfter queues a job that becomes eligible after delay.
func (p *Pool) SubmitAfter(j Job, delay time.Duration) {
	if delay <= 0 {
		p.Submit(j)
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	d := &deferredJob{job: j}
	d.timer = time.AfterFunc(delay, func() {
		p.mu.Lock()
		released := p.deferred[d]
		delete(p.deferred, d)
		closed := p.closed
		p.mu.Unlock()
		if released && !closed {
			p.jobs <- d.job
		}
	})
	p.deferred[d] = true
}

// FlushDeferred releases every deferred job immediately and returns how
// many were released.
func (p *Pool) FlushDeferred() int {
	p.mu.Lock()
	var fire []Job
	for d := range p.deferred {
		// Stop reports false when the timer already fired; that path
		// delivers the job itself.
		if d.timer.Stop() {
			fire = append(fire, d.job)
		}
		delete(p.deferred, d)
	}
	closed := p.closed
	p.mu.Unlock()

	if closed {
		return 0
	}
	for _, j := range fire {
		p.jobs <- j
	}
	return len(fire)
}

// Resize retires the current worker set and starts a new one with the
// given concurrency. Jobs already running finish on the old workers.
func (p *Pool) Resize(n int) {
	if n <= 0 {
		return
	}
	p.mu.Lock()
	if p.closed || n == p.concurrency {
		p.mu.Unlock()
		return
	}
	old := p.current
	p.concurrency = n
	p.current = p.startWorkers(n)
	p.mu.Unlock()

	close(old.stop)
	p.logger.Info("worker pool resized", "pool", p.name, "concurrency", n)
}

// Concurrency returns the current worker count.
func (p *Pool) Concurrency() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.concurrency
}

// ActiveCount returns the number of jobs currently running.
func (p *Pool) ActiveCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.active)
}

// QueuedCount returns the number of jobs waiting for a worker.
func (p *Pool) QueuedCount() int {
	return len(p.jobs)
}

// DeferredCount returns the number of jobs waiting on a deferral timer.
func (p *Pool) DeferredCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.deferred)
}

// Stop cancels deferred timers, stops accepting jobs, and waits for the
// running workers to finish their current job.
func (p *Pool) Stop() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	for d := range p.deferred {
		d.timer.Stop()
		delete(p.deferred, d)
	}
	set := p.current
	p.mu.Unlock()

	close(set.stop)
	set.wg.Wait()
}
