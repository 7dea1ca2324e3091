// Package feed defines the change-feed contract shared by every document backend: a query is opened
// with a listener and answered with complete ordered snapshots until it is cancelled or fails.
package feed

import (
	"fmt"
	"strconv"
)

// DefaultLimit bounds time-ordered feeds when the caller does not pick a limit.
const DefaultLimit = 50

// Document is one raw record delivered by a change feed.
type Document struct {
	ID   string         `json:"id"`
	Data map[string]any `json:"data"`
}

// Query selects the documents of one collection.
type Query struct {
	Collection string
	OrderBy    string
	Descending bool
	Limit      int
}

// Validate rejects collection and field names that are not plain identifiers.
func (q Query) Validate() error {
	if !isIdentifier(q.Collection) {
		return fmt.Errorf("invalid collection %q", q.Collection)
	}
	if q.OrderBy != "" && !isIdentifier(q.OrderBy) {
		return fmt.Errorf("invalid order field %q", q.OrderBy)
	}
	if q.Limit < 0 {
		return fmt.Errorf("invalid limit %d", q.Limit)
	}
	return nil
}

func (q Query) String() string {
	s := q.Collection
	if q.OrderBy != "" {
		dir := "asc"
		if q.Descending {
			dir = "desc"
		}
		s += " order by " + q.OrderBy + " " + dir
	}
	if q.Limit > 0 {
		s += " limit " + strconv.Itoa(q.Limit)
	}
	return s
}

func isIdentifier(s string) bool {
	if s == "" || len(s) > 64 {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}

// Listener receives the deliveries of one handle. OnSnapshot may run many times; OnError at most once
// and nothing runs after it.
type Listener struct {
	OnSnapshot func([]Document)
	OnError    func(error)
}

// Handle cancels one open feed. Cancel is idempotent; once it returns no callback of the handle runs
// again. It must not be called from inside the handle's own callbacks.
type Handle interface {
	Cancel()
}

// Opener opens change feeds. Open never fails synchronously: setup errors are delivered through
// Listener.OnError.
type Opener interface {
	Open(q Query, l Listener) Handle
}
