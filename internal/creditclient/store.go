package creditclient

import "sync"

// Store owns a State for one session. It is safe for concurrent use.
type Store struct {
	mu        sync.RWMutex
	state     State
	listeners []func(State)
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{}
}

// State returns a snapshot of the current state.
func (s *Store) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Dispatch applies a and notifies subscribers with the new state.
func (s *Store) Dispatch(a Action) State {
	s.mu.Lock()
	s.state = Reduce(s.state, a)
	next := s.state
	listeners := make([]func(State), len(s.listeners))
	copy(listeners, s.listeners)
	s.mu.Unlock()

	for _, fn := range listeners {
		fn(next)
	}
	return next
}

// Subscribe registers fn to be called after every dispatch. The returned
// func removes it.
func (s *Store) Subscribe(fn func(State)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
	idx := len(s.listeners) - 1

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			s.listeners[idx] = func(State) {}
		})
	}
}
