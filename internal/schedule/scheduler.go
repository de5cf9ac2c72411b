// Package schedule runs named jobs at absolute times. Jobs fire once;
// recurring work reschedules itself from its own callback.
package schedule

import (
	"container/heap"
	"errors"
	"sync"
	"time"
)

// ErrStopped is returned by Schedule after Stop has been called.
var ErrStopped = errors.New("scheduler is stopped")

// Job is one pending unit of work.
type Job struct {
	ID    string
	RunAt time.Time
	Fn    func()
	index int // position in the heap
}

// jobHeap is a min-heap of jobs ordered by RunAt.
type jobHeap []*Job

func (h jobHeap) Len() int { return len(h) }

func (h jobHeap) Less(i, j int) bool {
	return h[i].RunAt.Before(h[j].RunAt)
}

func (h jobHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *jobHeap) Push(x any) {
	n := len(*h)
	job := x.(*Job)
	job.index = n
	*h = append(*h, job)
}

func (h *jobHeap) Pop() any {
	old := *h
	n := len(old)
	job := old[n-1]
	old[n-1] = nil
	job.index = -1
	*h = old[0 : n-1]
	return job
}

// Scheduler dispatches jobs at their scheduled times.
type Scheduler struct {
	mu      sync.Mutex
	heap    jobHeap
	pending map[string]*Job // O(1) lookup by ID
	wakeup  chan struct{}
	stopCh  chan struct{}
	stopped bool
}

// NewScheduler creates a scheduler. Jobs may be scheduled before Start.
func NewScheduler() *Scheduler {
	s := &Scheduler{
		heap:    make(jobHeap, 0),
		pending: make(map[string]*Job),
		wakeup:  make(chan struct{}, 1),
		stopCh:  make(chan struct{}),
	}
	heap.Init(&s.heap)
	return s
}

// Start launches the dispatch loop.
func (s *Scheduler) Start() {
	go s.run()
}

// Stop shuts the scheduler down. Jobs already dispatched keep running;
// nothing new fires afterward.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	close(s.stopCh)
	s.mu.Unlock()
}

// Schedule registers fn to run at runAt. Scheduling an ID that is already
// pending replaces the earlier entry.
func (s *Scheduler) Schedule(id string, runAt time.Time, fn func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return ErrStopped
	}

	if existing, ok := s.pending[id]; ok {
		heap.Remove(&s.heap, existing.index)
		delete(s.pending, id)
	}

	job := &Job{ID: id, RunAt: runAt, Fn: fn}
	heap.Push(&s.heap, job)
	s.pending[id] = job

	// Wake the loop if this job is now the earliest.
	if s.heap[0] == job {
		select {
		case s.wakeup <- struct{}{}:
		default:
		}
	}

	return nil
}

// Cancel removes a pending job and reports whether the ID was pending.
func (s *Scheduler) Cancel(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.pending[id]
	if !ok {
		return false
	}

	heap.Remove(&s.heap, job.index)
	delete(s.pending, id)
	return true
}

// Pending returns the number of jobs waiting to fire.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

func (s *Scheduler) run() {
	for {
		s.mu.Lock()

		if s.stopped {
			s.mu.Unlock()
			return
		}

		// With nothing pending, sleep until a Schedule call wakes us.
		wait := 24 * time.Hour
		if s.heap.Len() > 0 {
			next := s.heap[0]
			wait = time.Until(next.RunAt)

			if wait <= 0 {
				job := heap.Pop(&s.heap).(*Job)
				delete(s.pending, job.ID)
				go job.Fn()

				s.mu.Unlock()
				continue
			}
		}

		s.mu.Unlock()

		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-s.wakeup:
			timer.Stop()
		case <-s.stopCh:
			timer.Stop()
			return
		}
	}
}
