package approval

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dagbolade/sudomode/internal/policy"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const maxIDAttempts = 5

// InMemoryStore keeps approval requests for the life of the process.
type InMemoryStore struct {
	mu       sync.RWMutex
	requests map[string]*Request
	order    []string
	closed   bool
	notifyCh chan struct{}

	now   func() time.Time
	newID func() string
}

type StoreOption func(*InMemoryStore)

// WithClock overrides the time source used for timestamps.
func WithClock(now func() time.Time) StoreOption {
	return func(s *InMemoryStore) { s.now = now }
}

// WithIDGenerator overrides request id generation.
func WithIDGenerator(gen func() string) StoreOption {
	return func(s *InMemoryStore) { s.newID = gen }
}

func NewInMemoryStore(opts ...StoreOption) *InMemoryStore {
	s := &InMemoryStore{
		requests: make(map[string]*Request),
		notifyCh: make(chan struct{}, 100),
		now:      time.Now,
		newID:    func() string { return uuid.New().String() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *InMemoryStore) Create(ctx context.Context, req policy.Request, reason string) (Request, error) {
	s.mu.Lock()

	if s.closed {
		s.mu.Unlock()
		return Request{}, fmt.Errorf("store closed")
	}

	id, err := s.uniqueID()
	if err != nil {
		s.mu.Unlock()
		return Request{}, err
	}

	now := s.now().UTC()
	stored := &Request{
		ID:        id,
		Resource:  req.Resource,
		Action:    req.Action,
		Args:      copyArgs(req.Args),
		Status:    StatusPending,
		Reason:    reason,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.requests[id] = stored
	s.order = append(s.order, id)
	out := snapshot(stored)
	s.mu.Unlock()

	s.notifyWatchers()
	log.Info().Str("id", id).Str("resource", req.Resource).Str("action", req.Action).Msg("approval request created")

	return out, nil
}

func (s *InMemoryStore) Get(ctx context.Context, id string) (Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	req, ok := s.requests[id]
	if !ok {
		return Request{}, &NotFoundError{ID: id}
	}
	return snapshot(req), nil
}

// List returns requests in creation order.
func (s *InMemoryStore) List(ctx context.Context, filter ListFilter) ([]Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Request, 0, len(s.order))
	for _, id := range s.order {
		req := s.requests[id]
		if filter.Status != "" && req.Status != filter.Status {
			continue
		}
		out = append(out, snapshot(req))
	}
	return out, nil
}

func (s *InMemoryStore) Transition(ctx context.Context, id string, to Status) (Request, error) {
	if !to.Terminal() {
		return Request{}, fmt.Errorf("invalid transition target %q", to)
	}

	s.mu.Lock()
	req, ok := s.requests[id]
	if !ok {
		s.mu.Unlock()
		return Request{}, &NotFoundError{ID: id}
	}
	if req.Status != StatusPending {
		current := req.Status
		s.mu.Unlock()
		return Request{}, &ConflictError{ID: id, Current: current}
	}

	req.Status = to
	req.UpdatedAt = s.now().UTC()
	out := snapshot(req)
	s.mu.Unlock()

	s.notifyWatchers()
	log.Info().Str("id", id).Str("status", string(to)).Msg("approval request resolved")

	return out, nil
}

func (s *InMemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	if _, ok := s.requests[id]; !ok {
		s.mu.Unlock()
		return &NotFoundError{ID: id}
	}

	delete(s.requests, id)
	for i, existing := range s.order {
		if existing == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	s.mu.Unlock()

	s.notifyWatchers()
	return nil
}

// NotifyChannel receives a signal after every change to the store.
func (s *InMemoryStore) NotifyChannel() <-chan struct{} {
	return s.notifyCh
}

// PendingCount reports how many requests are still waiting for a human.
func (s *InMemoryStore) PendingCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, req := range s.requests {
		if req.Status == StatusPending {
			n++
		}
	}
	return n
}

func (s *InMemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	close(s.notifyCh)
	return nil
}

// uniqueID must be called with s.mu held.
func (s *InMemoryStore) uniqueID() (string, error) {
	for i := 0; i < maxIDAttempts; i++ {
		id := s.newID()
		if _, taken := s.requests[id]; !taken && id != "" {
			return id, nil
		}
	}
	return "", fmt.Errorf("generate request id: %d collisions", maxIDAttempts)
}

func (s *InMemoryStore) notifyWatchers() {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return
	}

	select {
	case s.notifyCh <- struct{}{}:
	default:
	}
}

func snapshot(req *Request) Request {
	out := *req
	out.Args = copyArgs(req.Args)
	return out
}

// copyArgs copies the top level of args so callers cannot mutate stored
// state. Nested values are shared; they are never written after creation.
func copyArgs(args map[string]any) map[string]any {
	out := make(map[string]any, len(args))
	for k, v := range args {
		out[k] = v
	}
	return out
}
