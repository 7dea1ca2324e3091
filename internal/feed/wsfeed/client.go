package wsfeed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"printfleet/dashboard-server/internal/feed"
)

// Client opens feeds served by a remote Handler.
type Client struct {
	url    string
	apiKey string
	dialer *websocket.Dialer
	logger *slog.Logger
}

// NewClient targets the feed endpoint at rawURL, e.g. ws://localhost:8080/ws/feed.
func NewClient(rawURL, apiKey string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		url:    rawURL,
		apiKey: apiKey,
		dialer: &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		logger: logger,
	}
}

type remoteFeed struct {
	sub    *feed.Subscription
	cancel context.CancelFunc

	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool
}

// attach records the live connection. It reports false when the feed was cancelled while dialing.
func (f *remoteFeed) attach(conn *websocket.Conn) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return false
	}
	f.conn = conn
	return true
}

func (f *remoteFeed) release() {
	f.cancel()
	f.mu.Lock()
	f.closed = true
	conn := f.conn
	f.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
}

// Open implements feed.Opener.
func (c *Client) Open(q feed.Query, l feed.Listener) feed.Handle {
	ctx, cancel := context.WithCancel(context.Background())
	f := &remoteFeed{cancel: cancel}
	f.sub = feed.NewSubscription(l, f.release)

	go c.run(ctx, q, f)
	return f.sub
}

func (c *Client) run(ctx context.Context, q feed.Query, f *remoteFeed) {
	target, err := url.Parse(c.url)
	if err != nil {
		f.sub.Fail(&feed.Error{Code: feed.CodeInvalidArgument, Message: fmt.Sprintf("invalid feed url: %v", err), Cause: err})
		return
	}
	values := target.Query()
	encodeQuery(q, values)
	target.RawQuery = values.Encode()

	header := http.Header{}
	if c.apiKey != "" {
		header.Set(APIKeyHeader, c.apiKey)
	}

	conn, resp, err := c.dialer.DialContext(ctx, target.String(), header)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		f.sub.Fail(dialError(err, resp))
		return
	}
	if !f.attach(conn) {
		_ = conn.Close()
		return
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Debug("feed connection lost", "query", q.String(), "error", err)
			f.sub.Fail(&feed.Error{Code: feed.CodeUnavailable, Message: err.Error(), Cause: err})
			return
		}

		var fr Frame
		if err := json.Unmarshal(data, &fr); err != nil {
			f.sub.Fail(&feed.Error{Code: feed.CodeInternal, Message: fmt.Sprintf("malformed frame: %v", err), Cause: err})
			return
		}

		switch fr.Type {
		case FrameSnapshot:
			docs := fr.Documents
			if docs == nil {
				docs = []feed.Document{}
			}
			if !f.sub.Deliver(docs) {
				return
			}
		case FrameError:
			f.sub.Fail(&feed.Error{Code: fr.Code, Message: fr.Message})
			return
		default:
			c.logger.Debug("ignoring feed frame", "type", fr.Type)
		}
	}
}

func dialError(err error, resp *http.Response) error {
	if resp != nil && errors.Is(err, websocket.ErrBadHandshake) {
		switch resp.StatusCode {
		case http.StatusForbidden, http.StatusUnauthorized:
			return &feed.Error{Code: feed.CodePermissionDenied, Message: "api key rejected", Cause: err}
		case http.StatusBadRequest:
			return &feed.Error{Code: feed.CodeInvalidArgument, Message: "query rejected", Cause: err}
		}
	}
	return &feed.Error{Code: feed.CodeUnavailable, Message: err.Error(), Cause: err}
}
