package transport

import (
	"context"
	"sync"
)

// TaskSet tracks in-flight request-handling tasks so the server can
// drain them on shutdown. Entries are added when a connection's handler
// starts and removed exactly once when it finishes, whatever the outcome.
//
// All methods are safe for concurrent access.
type TaskSet struct {
	mu      sync.Mutex
	entries map[string]struct{}
	waitCh  chan struct{} // non-nil while a Wait blocks on a non-empty set
}

// NewTaskSet creates a new empty task set.
func NewTaskSet() *TaskSet {
	return &TaskSet{
		entries: make(map[string]struct{}),
	}
}

// Add records a task as in-flight.
func (s *TaskSet) Add(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[id] = struct{}{}
}

// Remove marks a task as finished. Removing an unknown or already-removed
// id is a no-op, so completion continuations may run on every exit path
// without double-release concerns.
func (s *TaskSet) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[id]; !ok {
		return
	}
	delete(s.entries, id)
	if len(s.entries) == 0 && s.waitCh != nil {
		close(s.waitCh)
		s.waitCh = nil
	}
}

// Len returns the number of in-flight tasks.
func (s *TaskSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Wait blocks until the set is empty or ctx is done, returning ctx.Err()
// in the latter case. Multiple callers may wait concurrently.
func (s *TaskSet) Wait(ctx context.Context) error {
	for {
		s.mu.Lock()
		if len(s.entries) == 0 {
			s.mu.Unlock()
			return nil
		}
		if s.waitCh == nil {
			s.waitCh = make(chan struct{})
		}
		ch := s.waitCh
		s.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
