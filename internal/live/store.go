// Package live keeps typed in-memory lists in sync with change feeds.
package live

import (
	"log/slog"
	"sync"

	"printfleet/dashboard-server/internal/apperr"
	"printfleet/dashboard-server/internal/feed"
	"printfleet/dashboard-server/internal/metrics"
)

// State is a copied view of a store.
type State[T any] struct {
	Items   []T
	Loading bool
	Err     *apperr.Error
}

// Store owns the authoritative list for one entity kind and at most one live feed handle.
//
// Refresh and Close are serialized by refreshMu. Feed callbacks only take mu, and every callback
// carries the generation of the Refresh that opened it; anything older than the current generation
// is dropped.
type Store[T any] struct {
	name      string
	opener    feed.Opener
	query     feed.Query
	normalize func(feed.Document) T
	logger    *slog.Logger

	refreshMu sync.Mutex

	mu       sync.Mutex
	handle   feed.Handle
	gen      uint64
	errGen   uint64
	items    []T
	loading  bool
	err      *apperr.Error
	closed   bool
	watchers map[chan struct{}]struct{}
}

// New creates an idle store. Nothing is opened until Refresh.
func New[T any](name string, opener feed.Opener, q feed.Query, normalize func(feed.Document) T, logger *slog.Logger) *Store[T] {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store[T]{
		name:      name,
		opener:    opener,
		query:     q,
		normalize: normalize,
		logger:    logger.With("store", name),
		items:     []T{},
		watchers:  make(map[chan struct{}]struct{}),
	}
}

// Name returns the store name.
func (s *Store[T]) Name() string {
	return s.name
}

// Query returns the feed query the store opens.
func (s *Store[T]) Query() feed.Query {
	return s.query
}

// Refresh cancels the installed handle, if any, and opens a new one. Items are kept until the new
// handle delivers.
func (s *Store[T]) Refresh() {
	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	old := s.handle
	s.handle = nil
	s.gen++
	gen := s.gen
	s.mu.Unlock()

	if old != nil {
		old.Cancel()
	}

	s.mu.Lock()
	s.loading = true
	s.err = nil
	s.mu.Unlock()
	s.notify()

	metrics.StoreRefreshed(s.name)
	s.logger.Debug("store refresh", "query", s.query.String())

	h := s.opener.Open(s.query, feed.Listener{
		OnSnapshot: func(docs []feed.Document) { s.applySnapshot(gen, docs) },
		OnError:    func(err error) { s.applyError(gen, err) },
	})

	s.mu.Lock()
	install := s.errGen != gen
	if install {
		s.handle = h
	}
	s.mu.Unlock()

	if !install {
		h.Cancel()
	}
}

// Close cancels the installed handle and ends every Watch channel. A closed store ignores Refresh.
func (s *Store[T]) Close() {
	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.gen++
	old := s.handle
	s.handle = nil
	s.loading = false
	watchers := s.watchers
	s.watchers = nil
	s.mu.Unlock()

	if old != nil {
		old.Cancel()
	}
	for ch := range watchers {
		close(ch)
	}
	s.logger.Debug("store closed")
}

func (s *Store[T]) applySnapshot(gen uint64, docs []feed.Document) {
	items := make([]T, 0, len(docs))
	for _, d := range docs {
		items = append(items, s.normalize(d))
	}

	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return
	}
	s.items = items
	s.err = nil
	s.loading = false
	s.mu.Unlock()

	metrics.SnapshotApplied(s.name)
	s.logger.Debug("snapshot applied", "items", len(items))
	s.notify()
}

func (s *Store[T]) applyError(gen uint64, err error) {
	classified := feed.Classify(err, s.query.Collection)

	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return
	}
	s.items = []T{}
	s.err = classified
	s.loading = false
	s.handle = nil
	s.errGen = gen
	s.mu.Unlock()

	metrics.StoreFailed(s.name, string(classified.Code))
	s.logger.Error("subscription failed", "code", classified.Code, "error", err)
	s.notify()
}

// State returns a copy of the current state.
func (s *Store[T]) State() State[T] {
	s.mu.Lock()
	defer s.mu.Unlock()

	items := make([]T, len(s.items))
	copy(items, s.items)
	return State[T]{Items: items, Loading: s.loading, Err: s.err}
}

// Items returns a copy of the current items.
func (s *Store[T]) Items() []T {
	return s.State().Items
}

// Loading reports whether the installed handle has not answered yet.
func (s *Store[T]) Loading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loading
}

// Err returns the last subscription error, or nil.
func (s *Store[T]) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err == nil {
		return nil
	}
	return s.err
}

// Live reports whether a handle is installed.
func (s *Store[T]) Live() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handle != nil
}

// Watch returns a channel that receives a value after state changes. Signals coalesce, so readers
// should call State after each receive. The channel closes when the store closes or stop is called.
func (s *Store[T]) Watch() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		close(ch)
		return ch, func() {}
	}
	s.watchers[ch] = struct{}{}

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if _, ok := s.watchers[ch]; ok {
				delete(s.watchers, ch)
				close(ch)
			}
		})
	}
}

func (s *Store[T]) notify() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for ch := range s.watchers {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}
