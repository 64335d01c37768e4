package queue

import (
	"io"
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

// DefaultMonitorInterval is how often the monitor re-reads the configured
// downloads concurrency.
const DefaultMonitorInterval = 10 * time.Second

// Monitor watches the configured downloads-pool concurrency and resizes
// the pool when it changes. Only the downloads pool is ever restarted by
// this path; the utility pool keeps its fixed size.
type Monitor struct {
	pool     *Pool
	read     func() int
	interval time.Duration
	logger   *log.Logger

	stop     chan struct{}
	stopOnce sync.Once
}

func NewMonitor(pool *Pool, read func() int, interval time.Duration, logger *log.Logger) *Monitor {
	if interval <= 0 {
		interval = DefaultMonitorInterval
	}
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &Monitor{
		pool:     pool,
		read:     read,
		interval: interval,
		logger:   logger,
		stop:     make(chan struct{}),
	}
}

func (m *Monitor) Start() {
	go func() {
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.check()
			case <-m.stop:
				return
			}
		}
	}()
}

func (m *Monitor) check() {
	want := m.read()
	if want <= 0 {
		return
	}
	if current := m.pool.Concurrency(); want != current {
		m.logger.Info("downloads concurrency changed", "from", current, "to", want)
		m.pool.Resize(want)
	}
}

func (m *Monitor) Stop() {
	m.stopOnce.Do(func() { close(m.stop) })
}
