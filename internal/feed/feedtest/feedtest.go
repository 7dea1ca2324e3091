// Package feedtest provides a scripted feed.Opener for tests.
package feedtest

import (
	"sync"

	"printfleet/dashboard-server/internal/feed"
)

// Opened records one call to Open.
type Opened struct {
	Query feed.Query
	Sub   *feed.Subscription

	mu       sync.Mutex
	released bool
}

// Released reports whether the backend side of the handle has been freed.
func (o *Opened) Released() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.released
}

// Opener hands out subscriptions the test drives by hand.
type Opener struct {
	mu     sync.Mutex
	opened []*Opened
}

// Open implements feed.Opener.
func (o *Opener) Open(q feed.Query, l feed.Listener) feed.Handle {
	rec := &Opened{Query: q}
	rec.Sub = feed.NewSubscription(l, func() {
		rec.mu.Lock()
		rec.released = true
		rec.mu.Unlock()
	})

	o.mu.Lock()
	o.opened = append(o.opened, rec)
	o.mu.Unlock()
	return rec.Sub
}

// Count returns how many feeds have been opened.
func (o *Opener) Count() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.opened)
}

// At returns the i-th opened feed.
func (o *Opener) At(i int) *Opened {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.opened[i]
}

// Last returns the most recently opened feed.
func (o *Opener) Last() *Opened {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.opened[len(o.opened)-1]
}

// Live returns the feeds whose handles still accept deliveries.
func (o *Opener) Live() []*Opened {
	o.mu.Lock()
	defer o.mu.Unlock()

	var live []*Opened
	for _, rec := range o.opened {
		if rec.Sub.Live() {
			live = append(live, rec)
		}
	}
	return live
}

// Docs builds documents from id/data pairs.
func Docs(pairs ...any) []feed.Document {
	docs := make([]feed.Document, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		docs = append(docs, feed.Document{ID: pairs[i].(string), Data: pairs[i+1].(map[string]any)})
	}
	return docs
}
