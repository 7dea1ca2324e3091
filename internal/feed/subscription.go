package feed

import "sync"

type subState int

const (
	stateLive subState = iota
	stateCancelled
	stateFailed
)

// Subscription is the Handle implementation backends build on. The lock is held while a callback
// runs, so a delivery racing with Cancel either completes before Cancel returns or is dropped.
type Subscription struct {
	mu       sync.Mutex
	state    subState
	listener Listener

	release     func()
	releaseOnce sync.Once
}

// NewSubscription wraps l. release frees backend resources and runs once, after cancellation or a
// terminal error.
func NewSubscription(l Listener, release func()) *Subscription {
	return &Subscription{listener: l, release: release}
}

// Deliver hands a snapshot to the listener. It reports false once the handle is no longer live.
func (s *Subscription) Deliver(docs []Document) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != stateLive {
		return false
	}
	if s.listener.OnSnapshot != nil {
		s.listener.OnSnapshot(docs)
	}
	return true
}

// Fail delivers the terminal error and releases the backend. It reports false when the handle was
// already cancelled or failed.
func (s *Subscription) Fail(err error) bool {
	s.mu.Lock()
	if s.state != stateLive {
		s.mu.Unlock()
		return false
	}
	s.state = stateFailed
	if s.listener.OnError != nil {
		s.listener.OnError(err)
	}
	s.mu.Unlock()

	s.doRelease()
	return true
}

// Cancel implements Handle.
func (s *Subscription) Cancel() {
	s.mu.Lock()
	if s.state == stateLive {
		s.state = stateCancelled
	}
	s.mu.Unlock()

	s.doRelease()
}

// Live reports whether deliveries are still accepted.
func (s *Subscription) Live() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == stateLive
}

func (s *Subscription) doRelease() {
	s.releaseOnce.Do(func() {
		if s.release != nil {
			s.release()
		}
	})
}
