// Package wsfeed carries change feeds over WebSocket: Handler serves any feed.Opener to remote
// clients and Client is a feed.Opener backed by such a server.
package wsfeed

import (
	"net/url"
	"strconv"

	"printfleet/dashboard-server/internal/feed"
)

// Frame types.
const (
	FrameSnapshot = "snapshot"
	FrameError    = "error"
)

// APIKeyHeader carries the shared key on the upgrade request. The key query parameter is accepted too.
const APIKeyHeader = "X-Api-Key"

// Frame is one server-to-client message.
type Frame struct {
	Type      string          `json:"type"`
	Documents []feed.Document `json:"documents,omitempty"`
	Code      string          `json:"code,omitempty"`
	Message   string          `json:"message,omitempty"`
}

func encodeQuery(q feed.Query, v url.Values) {
	v.Set("collection", q.Collection)
	if q.OrderBy != "" {
		v.Set("orderBy", q.OrderBy)
	}
	if q.Descending {
		v.Set("desc", "true")
	}
	if q.Limit > 0 {
		v.Set("limit", strconv.Itoa(q.Limit))
	}
}

func decodeQuery(v url.Values) (feed.Query, error) {
	q := feed.Query{
		Collection: v.Get("collection"),
		OrderBy:    v.Get("orderBy"),
	}
	if s := v.Get("desc"); s != "" {
		b, err := strconv.ParseBool(s)
		if err != nil {
			return q, feed.Errorf(feed.CodeInvalidArgument, "invalid desc %q", s)
		}
		q.Descending = b
	}
	if s := v.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			return q, feed.Errorf(feed.CodeInvalidArgument, "invalid limit %q", s)
		}
		q.Limit = n
	}
	if err := q.Validate(); err != nil {
		return q, &feed.Error{Code: feed.CodeInvalidArgument, Message: err.Error(), Cause: err}
	}
	return q, nil
}
