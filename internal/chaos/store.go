// internal/chaos/store.go
package chaos

import (
	"context"
	"errors"
	"sync"
	"time"

	"membercycle/internal/docstore"
)

// ErrInjected is the default error returned by a fault.
var ErrInjected = errors.New("chaos: injected fault")

// Op names a store operation a fault can target.
type Op string

const (
	OpQuery  Op = "query"
	OpGet    Op = "get"
	OpLookup Op = "lookup"
	OpCommit Op = "commit"
)

// Fault makes the After+1-th call of Op sleep Latency and then fail with Err.
// A nil Err means ErrInjected, unless Latency is set: then the call only
// slows down. With Repeat, every later call is hit too.
type Fault struct {
	Op      Op
	After   int
	Err     error
	Latency time.Duration
	Repeat  bool
}

// ErrorEvent records one injected failure.
type ErrorEvent struct {
	Timestamp time.Time `json:"timestamp"`
	Error     string    `json:"error"`
	Component string    `json:"component"`
}

// Store wraps a docstore.Store and injects faults into its operations.
type Store struct {
	inner docstore.Store

	mu     sync.Mutex
	faults []Fault
	calls  map[Op]int
	events []ErrorEvent
}

// NewStore wraps inner with no faults armed.
func NewStore(inner docstore.Store) *Store {
	return &Store{inner: inner, calls: map[Op]int{}}
}

// Inject arms a fault. Call counts restart for its Op.
func (s *Store) Inject(f Fault) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults = append(s.faults, f)
	s.calls[f.Op] = 0
}

// Clear disarms every fault.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults = nil
}

// Events returns the failures injected so far.
func (s *Store) Events() []ErrorEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ErrorEvent, len(s.events))
	copy(out, s.events)
	return out
}

// Calls returns how many times op was invoked since its last Inject.
func (s *Store) Calls(op Op) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

func (s *Store) trip(ctx context.Context, op Op) error {
	s.mu.Lock()
	n := s.calls[op]
	s.calls[op] = n + 1

	var hit *Fault
	for i := range s.faults {
		f := &s.faults[i]
		if f.Op == op && (n == f.After || (f.Repeat && n > f.After)) {
			hit = f
			break
		}
	}
	if hit == nil {
		s.mu.Unlock()
		return nil
	}
	err := hit.Err
	if err == nil && hit.Latency == 0 {
		err = ErrInjected
	}
	latency := hit.Latency
	if err != nil {
		s.events = append(s.events, ErrorEvent{Timestamp: time.Now(), Error: err.Error(), Component: string(op)})
	}
	s.mu.Unlock()

	if latency > 0 {
		select {
		case <-time.After(latency):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

func (s *Store) Query(ctx context.Context, q docstore.Query) (*docstore.Page, error) {
	if err := s.trip(ctx, OpQuery); err != nil {
		return nil, &docstore.Error{Op: "query", Err: err}
	}
	return s.inner.Query(ctx, q)
}

func (s *Store) Get(ctx context.Context, ref docstore.Ref) (*docstore.Document, error) {
	if err := s.trip(ctx, OpGet); err != nil {
		return nil, &docstore.Error{Op: "get", Ref: ref, Err: err}
	}
	return s.inner.Get(ctx, ref)
}

func (s *Store) Lookup(ctx context.Context, collection, key string) ([]string, error) {
	if err := s.trip(ctx, OpLookup); err != nil {
		return nil, &docstore.Error{Op: "lookup", Err: err}
	}
	return s.inner.Lookup(ctx, collection, key)
}

func (s *Store) MaxBatchSize() int { return s.inner.MaxBatchSize() }

func (s *Store) NewBatch() docstore.Batch {
	return &batch{store: s, inner: s.inner.NewBatch()}
}

type batch struct {
	store *Store
	inner docstore.Batch
}

func (b *batch) Add(w docstore.Write) { b.inner.Add(w) }

func (b *batch) Len() int { return b.inner.Len() }

func (b *batch) Commit(ctx context.Context) error {
	if err := b.store.trip(ctx, OpCommit); err != nil {
		return &docstore.Error{Op: "commit", Err: err}
	}
	return b.inner.Commit(ctx)
}
