package state

import (
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"stepdeck/internal/logging"
)

// Listener observes every applied change. Both snapshots are read-only.
type Listener func(newState, oldState Tree, source string)

// PropertyListener observes a single path. It only fires when the value at
// that path differs between the old and new snapshot.
type PropertyListener func(newValue, oldValue any)

type subscription struct {
	id       uint64
	listener Listener
}

type change struct {
	next, old Tree
	source    string
}

// Store holds the single authoritative snapshot of orchestration state.
//
// Published snapshots are never mutated: every change clones the current
// tree, merges into the clone, and swaps it in under the store lock. The
// lock is the serialization point for every writer, so concurrent updates
// resolve as last-write-wins.
//
// Listeners see changes in merge order. One goroutine at a time delivers
// queued changes; a change merged while another goroutine is delivering (or
// by a listener itself) is queued and delivered by that goroutine once the
// earlier listeners return.
type Store struct {
	logger *slog.Logger

	mu          sync.Mutex
	snapshot    Tree
	pending     []change
	dispatching bool

	subMu  sync.RWMutex
	subs   []subscription
	nextID atomic.Uint64
}

// NewStore builds a store seeded with initial (which is cloned).
func NewStore(initial Tree, logger *slog.Logger) *Store {
	return &Store{
		logger:   logging.NewComponentLogger(logger, "state-store"),
		snapshot: cloneTree(initial),
	}
}

// SetState merges partial into the current snapshot. Listeners run only when
// the merge produced a structural change; the return value reports whether
// it did.
func (s *Store) SetState(partial Tree, source string) bool {
	return s.Update(source, func(Tree) Tree { return partial })
}

// Update performs an atomic read-modify-write. fn receives the current
// snapshot (read-only) and returns the partial to merge, or nil to leave the
// state untouched.
func (s *Store) Update(source string, fn func(current Tree) Tree) bool {
	s.mu.Lock()
	old := s.snapshot
	partial := fn(old)
	if len(partial) == 0 {
		s.mu.Unlock()
		return false
	}
	next := cloneTree(old)
	merge(next, partial)
	if equal(next, old) {
		s.mu.Unlock()
		return false
	}
	s.snapshot = next
	s.pending = append(s.pending, change{next: next, old: old, source: source})
	deliver := !s.dispatching
	s.dispatching = true
	s.mu.Unlock()

	s.logger.Debug("state updated",
		logging.String("source", source),
		logging.Int("keys", len(partial)),
	)
	if deliver {
		s.drain()
	}
	return true
}

// drain delivers queued changes until the queue is empty.
func (s *Store) drain() {
	for {
		s.mu.Lock()
		if len(s.pending) == 0 {
			s.dispatching = false
			s.mu.Unlock()
			return
		}
		c := s.pending[0]
		s.pending[0] = change{}
		s.pending = s.pending[1:]
		s.mu.Unlock()

		s.notify(c.next, c.old, c.source)
	}
}

// Get returns a copy of the value at a dotted path.
func (s *Store) Get(path string) (any, bool) {
	s.mu.Lock()
	root := s.snapshot
	s.mu.Unlock()
	value, ok := lookup(root, path)
	if !ok {
		return nil, false
	}
	return cloneValue(value), true
}

// Snapshot returns a deep copy of the full state.
func (s *Store) Snapshot() Tree {
	s.mu.Lock()
	root := s.snapshot
	s.mu.Unlock()
	return cloneTree(root)
}

// Subscribe registers a listener for every applied change and returns a
// function that removes it.
func (s *Store) Subscribe(listener Listener) func() {
	if listener == nil {
		return func() {}
	}
	id := s.nextID.Add(1)
	s.subMu.Lock()
	s.subs = append(s.subs, subscription{id: id, listener: listener})
	s.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { s.unsubscribe(id) })
	}
}

// SubscribeToProperty registers a listener that only fires when the value at
// path changes.
func (s *Store) SubscribeToProperty(path string, listener PropertyListener) func() {
	if listener == nil {
		return func() {}
	}
	return s.Subscribe(func(newState, oldState Tree, _ string) {
		newValue, _ := lookup(newState, path)
		oldValue, _ := lookup(oldState, path)
		if equal(newValue, oldValue) {
			return
		}
		listener(cloneValue(newValue), cloneValue(oldValue))
	})
}

func (s *Store) unsubscribe(id uint64) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for i, sub := range s.subs {
		if sub.id == id {
			s.subs = append(s.subs[:i:i], s.subs[i+1:]...)
			return
		}
	}
}

func (s *Store) notify(next, old Tree, source string) {
	s.subMu.RLock()
	subs := make([]subscription, len(s.subs))
	copy(subs, s.subs)
	s.subMu.RUnlock()

	for _, sub := range subs {
		s.safeCall(sub.listener, next, old, source)
	}
}

func (s *Store) safeCall(listener Listener, next, old Tree, source string) {
	defer func() {
		if r := recover(); r != nil {
			logging.ErrorWithContext(s.logger, "state listener panicked", "state_listener_panic",
				logging.String("source", source),
				logging.Any("panic", r),
				logging.String("stack", string(debug.Stack())),
			)
		}
	}()
	listener(next, old, source)
}
