// Package state is the in-process coordination store for live task state.
// Per task it holds the info record, the append-only status log with its
// dense id counter, and a notification channel consumed by SSE and
// websocket streams. The scheduler and workers treat it as the single
// source of truth while a task is live; finished tasks expire after a TTL.
package state

import (
	"errors"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/spotizerr-dev/spotizerr-sub000/download/task"
)

const (
	// DefaultTTL matches the retention of task records after their last write.
	DefaultTTL = 7 * 24 * time.Hour

	defaultJanitorInterval = time.Hour
	subscriberBuffer       = 16
)

// ErrTerminalStatus is returned by Append when the task already reached a
// terminal status. Progress callbacks racing a cancellation hit this and
// drop the event.
var ErrTerminalStatus = errors.New("task already in terminal status")

// ErrUnknownTask is returned for operations against a task id with no record.
var ErrUnknownTask = errors.New("unknown task")

type record struct {
	info      *task.Info
	statuses  []task.StatusEntry
	nextID    int
	expiresAt time.Time
}

// Snapshot pairs a task's info with its most recent status entry.
type Snapshot struct {
	Info *task.Info
	Last task.StatusEntry
}

// Options tune the store. Zero values select the defaults.
type Options struct {
	TTL             time.Duration
	JanitorInterval time.Duration
}

// Store holds all live task state. Safe for concurrent use.
type Store struct {
	mu      sync.RWMutex
	tasks   map[string]*record
	subs    map[string]map[chan task.Update]bool
	allSubs map[chan task.Update]bool

	ttl             time.Duration
	janitorInterval time.Duration
	logger          *log.Logger

	stop     chan struct{}
	stopOnce sync.Once
}

func New(opts Options, logger *log.Logger) *Store {
	if logger == nil {
		logger = log.New(io.Discard)
	}
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.JanitorInterval <= 0 {
		opts.JanitorInterval = defaultJanitorInterval
	}
	return &Store{
		tasks:           make(map[string]*record),
		subs:            make(map[string]map[chan task.Update]bool),
		allSubs:         make(map[chan task.Update]bool),
		ttl:             opts.TTL,
		janitorInterval: opts.JanitorInterval,
		logger:          logger,
		stop:            make(chan struct{}),
	}
}

// PutInfo stores the task-info record, creating the task if needed and
// refreshing its TTL.
func (s *Store) PutInfo(info *task.Info) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r := s.tasks[info.TaskID]
	if r == nil {
		r = &record{nextID: 1}
		s.tasks[info.TaskID] = r
	}
	r.info = cloneInfo(info)
	r.expiresAt = time.Now().Add(s.ttl)
}

// Info returns a copy of the task-info record.
func (s *Store) Info(taskID string) (*task.Info, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r := s.tasks[taskID]
	if r == nil || r.info == nil {
		return nil, false
	}
	return cloneInfo(r.info), true
}

// UpdateInfo applies fn to the stored info record under the lock. The
// worker uses this for its progress counters.
func (s *Store) UpdateInfo(taskID string, fn func(*task.Info)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r := s.tasks[taskID]
	if r == nil || r.info == nil {
		return ErrUnknownTask
	}
	fn(r.info)
	r.expiresAt = time.Now().Add(s.ttl)
	return nil
}

// Append adds a status entry to the task's log, assigning the next dense
// status id starting from 1, and publishes an update to subscribers. It
// refuses to append past a terminal status.
func (s *Store) Append(taskID string, e task.StatusEntry) (int, error) {
	s.mu.Lock()

	r := s.tasks[taskID]
	if r == nil {
		r = &record{nextID: 1}
		s.tasks[taskID] = r
	}
	if n := len(r.statuses); n > 0 && r.statuses[n-1].Status.IsTerminal() {
		s.mu.Unlock()
		return 0, ErrTerminalStatus
	}

	e.StatusID = r.nextID
	r.nextID++
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	r.statuses = append(r.statuses, e)
	r.expiresAt = time.Now().Add(s.ttl)

	update := task.Update{TaskID: taskID, StatusID: e.StatusID, Status: e.Status}
	targets := make([]chan task.Update, 0, len(s.subs[taskID])+len(s.allSubs))
	for ch := range s.subs[taskID] {
		targets = append(targets, ch)
	}
	for ch := range s.allSubs {
		targets = append(targets, ch)
	}
	s.mu.Unlock()

	for _, ch := range targets {
		select {
		case ch <- update:
		default:
			// Slow consumer; drop rather than block the writer.
		}
	}
	return e.StatusID, nil
}

// Statuses returns a copy of the full status log for a task.
func (s *Store) Statuses(taskID string) []task.StatusEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r := s.tasks[taskID]
	if r == nil {
		return nil
	}
	out := make([]task.StatusEntry, len(r.statuses))
	copy(out, r.statuses)
	return out
}

// StatusesSince returns entries with status id greater than afterID, for
// stream consumers resuming after a gap.
func (s *Store) StatusesSince(taskID string, afterID int) []task.StatusEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r := s.tasks[taskID]
	if r == nil {
		return nil
	}
	// Ids are dense from 1, so the slice offset is the id itself.
	if afterID < 0 {
		afterID = 0
	}
	if afterID >= len(r.statuses) {
		return nil
	}
	out := make([]task.StatusEntry, len(r.statuses)-afterID)
	copy(out, r.statuses[afterID:])
	return out
}

// LastStatus returns the most recent status entry for a task.
func (s *Store) LastStatus(taskID string) (task.StatusEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r := s.tasks[taskID]
	if r == nil || len(r.statuses) == 0 {
		return task.StatusEntry{}, false
	}
	return r.statuses[len(r.statuses)-1], true
}

// List returns a snapshot of every live task, ordered by creation time.
func (s *Store) List() []Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Snapshot, 0, len(s.tasks))
	for _, r := range s.tasks {
		if r.info == nil {
			continue
		}
		snap := Snapshot{Info: cloneInfo(r.info)}
		if n := len(r.statuses); n > 0 {
			snap.Last = r.statuses[n-1]
		}
		out = append(out, snap)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Info.CreatedAt.Before(out[j].Info.CreatedAt)
	})
	return out
}

// Count returns the number of live task records.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tasks)
}

// Delete removes a task record and its subscriber set.
func (s *Store) Delete(taskID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tasks, taskID)
	for ch := range s.subs[taskID] {
		close(ch)
	}
	delete(s.subs, taskID)
}

// Subscribe returns a channel of updates for one task and a cancel
// function. The channel is buffered; slow consumers miss updates instead
// of blocking writers.
func (s *Store) Subscribe(taskID string) (<-chan task.Update, func()) {
	ch := make(chan task.Update, subscriberBuffer)

	s.mu.Lock()
	if s.subs[taskID] == nil {
		s.subs[taskID] = make(map[chan task.Update]bool)
	}
	s.subs[taskID][ch] = true
	s.mu.Unlock()

	cancel := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if set := s.subs[taskID]; set[ch] {
			delete(set, ch)
			close(ch)
			if len(set) == 0 {
				delete(s.subs, taskID)
			}
		}
	}
	return ch, cancel
}

// SubscribeAll returns a channel receiving updates for every task.
func (s *Store) SubscribeAll() (<-chan task.Update, func()) {
	ch := make(chan task.Update, subscriberBuffer)

	s.mu.Lock()
	s.allSubs[ch] = true
	s.mu.Unlock()

	cancel := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.allSubs[ch] {
			delete(s.allSubs, ch)
			close(ch)
		}
	}
	return ch, cancel
}

// StartJanitor launches the background sweep that evicts expired records.
func (s *Store) StartJanitor() {
	go func() {
		ticker := time.NewTicker(s.janitorInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.sweep()
			case <-s.stop:
				return
			}
		}
	}()
}

// Close stops the janitor. Subscriber channels stay open until cancelled.
func (s *Store) Close() {
	s.stopOnce.Do(func() { close(s.stop) })
}

func (s *Store) sweep() {
	now := time.Now()
	s.mu.Lock()
	var expired []string
	for id, r := range s.tasks {
		if now.After(r.expiresAt) {
			expired = append(expired, id)
		}
	}
	for _, id := range expired {
		delete(s.tasks, id)
		for ch := range s.subs[id] {
			close(ch)
		}
		delete(s.subs, id)
	}
	s.mu.Unlock()

	if len(expired) > 0 {
		s.logger.Debug("expired task records evicted", "count", len(expired))
	}
}

func cloneInfo(in *task.Info) *task.Info {
	out := *in
	if in.OrigRequest != nil {
		out.OrigRequest = make(map[string]string, len(in.OrigRequest))
		for k, v := range in.OrigRequest {
			out.OrigRequest[k] = v
		}
	}
	return &out
}
