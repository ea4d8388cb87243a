package queuekit

import (
	"context"
	"sync"
)

// Mock types for testing

// memoryStore is an in-memory ActionStore used by the engine tests. It
// mirrors the SQL stores' contract: Put/Delete keep the action map and the
// id manifest consistent together.
type memoryStore struct {
	mu      sync.Mutex
	actions map[string]*Action
	index   map[string]struct{}

	// failPuts makes Put return this error when set
	failPuts error

	// failDeletes makes Delete return this error when set
	failDeletes error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		actions: make(map[string]*Action),
		index:   make(map[string]struct{}),
	}
}

func (s *memoryStore) Put(ctx context.Context, action *Action) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failPuts != nil {
		return s.failPuts
	}
	s.actions[action.ID] = action.clone()
	s.index[action.ID] = struct{}{}
	return nil
}

func (s *memoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failDeletes != nil {
		return s.failDeletes
	}
	delete(s.actions, id)
	delete(s.index, id)
	return nil
}

func (s *memoryStore) LoadAll(ctx context.Context) ([]*Action, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Action, 0, len(s.actions))
	for id := range s.index {
		if a, ok := s.actions[id]; ok {
			out = append(out, a.clone())
		}
	}
	return out, nil
}

func (s *memoryStore) SaveIndex(ctx context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.index = make(map[string]struct{}, len(ids))
	for _, id := range ids {
		s.index[id] = struct{}{}
	}
	return nil
}

func (s *memoryStore) LoadIndex(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.index))
	for id := range s.index {
		ids = append(ids, id)
	}
	return ids, nil
}

func (s *memoryStore) Close() error { return nil }

// manualSignal is a ConnectivitySignal driven explicitly by tests.
type manualSignal struct {
	mu        sync.Mutex
	online    bool
	nextToken int
	callbacks map[int]func()
}

func newManualSignal(online bool) *manualSignal {
	return &manualSignal{
		online:    online,
		callbacks: make(map[int]func()),
	}
}

func (s *manualSignal) IsOnline() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.online
}

func (s *manualSignal) OnBecameOnline(fn func()) (cancel func()) {
	s.mu.Lock()
	s.nextToken++
	token := s.nextToken
	s.callbacks[token] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.callbacks, token)
		s.mu.Unlock()
	}
}

func (s *manualSignal) callbackCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.callbacks)
}

// SetOnline flips the state, firing registered callbacks on the
// offline-to-online edge only.
func (s *manualSignal) SetOnline(online bool) {
	s.mu.Lock()
	wasOnline := s.online
	s.online = online
	var fns []func()
	if online && !wasOnline {
		for _, fn := range s.callbacks {
			fns = append(fns, fn)
		}
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}
