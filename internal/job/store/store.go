// Package store implements ProgressStore: an in-memory, read-biased
// registry of Jobs keyed by id, with bounded retention of completed
// jobs. Grounded on the teacher's internal/realtime/cache.PriceCache
// RWMutex-guarded map pattern, generalized from a TTL'd quote cache to
// an insertion-ordered FIFO eviction policy over completed jobs only —
// running jobs are never evicted.
package store

import (
	"sync"

	"github.com/wonny/aegis/v13/backend/internal/job"
)

// defaultRetention matches the configuration surface default in §6.
const defaultRetention = 64

// Store is a thread-safe map from job id to *job.Job.
type Store struct {
	mu        sync.RWMutex
	jobs      map[string]*job.Job
	completed []string // insertion order of completed/failed/cancelled ids
	retention int
}

// New creates a Store with the given completed-job retention bound. A
// retention of 0 falls back to defaultRetention.
func New(retention int) *Store {
	if retention <= 0 {
		retention = defaultRetention
	}
	return &Store{
		jobs:      make(map[string]*job.Job),
		retention: retention,
	}
}

// Put inserts or updates a job record. When the job transitions into a
// terminal state for the first time, it is appended to the completed
// list and the oldest entry is evicted if retention is exceeded.
func (s *Store) Put(j *job.Job) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, existed := s.jobs[j.ID]
	s.jobs[j.ID] = j

	if j.State.Terminal() && (!existed || !prev.State.Terminal()) {
		s.completed = append(s.completed, j.ID)
		s.evictLocked()
	}
}

func (s *Store) evictLocked() {
	for len(s.completed) > s.retention {
		oldest := s.completed[0]
		s.completed = s.completed[1:]
		delete(s.jobs, oldest)
	}
}

// Get returns a shallow copy of the job record, or (zero Job, false) if id
// is unknown. Returning a copy means callers never observe a partially
// mutated Job while the orchestrator is writing to it — the orchestrator
// always calls Put with a fresh value after mutating its own local copy.
func (s *Store) Get(id string) (job.Job, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.jobs[id]
	if !ok {
		return job.Job{}, false
	}
	return *j, true
}

// Evict removes id unconditionally, used by tests and administrative
// cleanup; JobEngine itself never calls this directly — retention is
// enforced automatically by Put.
func (s *Store) Evict(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.jobs, id)
}

// Len reports the current number of tracked jobs, for test assertions
// and capacity checks.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.jobs)
}

// CountActive reports jobs in pending or running state, used by
// JobEngine.Start to enforce CapacityExceeded.
func (s *Store) CountActive() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, j := range s.jobs {
		if !j.State.Terminal() {
			n++
		}
	}
	return n
}
