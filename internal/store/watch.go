package store

import (
	"context"

	"printfleet/dashboard-server/internal/feed"
	"printfleet/dashboard-server/internal/metrics"
)

type watch struct {
	query feed.Query
	sub   *feed.Subscription
	dirty chan struct{}
	stop  chan struct{}
}

// Open implements feed.Opener. The query runs once on open and again after every write to its
// collection; bursts of writes collapse into one re-query.
func (s *Store) Open(q feed.Query, l feed.Listener) feed.Handle {
	w := &watch{
		query: q,
		dirty: make(chan struct{}, 1),
		stop:  make(chan struct{}),
	}
	w.sub = feed.NewSubscription(l, func() {
		s.removeWatch(w)
		close(w.stop)
	})

	if err := q.Validate(); err != nil {
		go w.sub.Fail(&feed.Error{Code: feed.CodeInvalidArgument, Message: err.Error(), Cause: err})
		return w.sub
	}

	s.watchMu.Lock()
	if s.closed {
		s.watchMu.Unlock()
		go w.sub.Fail(feed.Errorf(feed.CodeUnavailable, "document store closed"))
		return w.sub
	}
	set, ok := s.watches[q.Collection]
	if !ok {
		set = make(map[*watch]struct{})
		s.watches[q.Collection] = set
	}
	set[w] = struct{}{}
	s.watchMu.Unlock()

	metrics.SubscriptionOpened(q.Collection)
	s.logger.Debug("feed opened", "query", q.String())

	w.dirty <- struct{}{}
	go s.run(w)
	return w.sub
}

func (s *Store) run(w *watch) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-w.stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	for {
		select {
		case <-w.stop:
			return
		case <-w.dirty:
		}

		docs, err := s.QueryDocuments(ctx, w.query)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.logger.Error("feed query failed", "query", w.query.String(), "error", err)
			w.sub.Fail(&feed.Error{Code: feed.CodeInternal, Message: err.Error(), Cause: err})
			return
		}

		if !w.sub.Deliver(docs) {
			return
		}
	}
}

func (s *Store) notify(collection string) {
	s.watchMu.Lock()
	defer s.watchMu.Unlock()

	for w := range s.watches[collection] {
		select {
		case w.dirty <- struct{}{}:
		default:
		}
	}
}

func (s *Store) removeWatch(w *watch) {
	s.watchMu.Lock()
	set := s.watches[w.query.Collection]
	_, ok := set[w]
	if ok {
		delete(set, w)
		if len(set) == 0 {
			delete(s.watches, w.query.Collection)
		}
	}
	s.watchMu.Unlock()

	if ok {
		metrics.SubscriptionClosed(w.query.Collection)
		s.logger.Debug("feed closed", "query", w.query.String())
	}
}
