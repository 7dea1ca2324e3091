package wsfeed

import (
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"printfleet/dashboard-server/internal/feed"
)

const writeWait = 10 * time.Second

// Handler upgrades requests to WebSocket and streams the snapshots of one feed per connection.
type Handler struct {
	opener  feed.Opener
	apiKey  string
	allowed map[string]bool
	logger  *slog.Logger

	upgrader websocket.Upgrader
}

// NewHandler serves feeds opened on opener. An empty apiKey disables the key check; collections is
// the allow-list of readable collections.
func NewHandler(opener feed.Opener, apiKey string, collections []string, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	allowed := make(map[string]bool, len(collections))
	for _, c := range collections {
		allowed[c] = true
	}
	return &Handler{
		opener:  opener,
		apiKey:  apiKey,
		allowed: allowed,
		logger:  logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

func (h *Handler) authorized(r *http.Request) bool {
	if h.apiKey == "" {
		return true
	}
	key := r.Header.Get(APIKeyHeader)
	if key == "" {
		key = r.URL.Query().Get("key")
	}
	return subtle.ConstantTimeCompare([]byte(key), []byte(h.apiKey)) == 1
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !h.authorized(r) {
		http.Error(w, "invalid api key", http.StatusForbidden)
		return
	}

	q, err := decodeQuery(r.URL.Query())
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("feed upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	log := h.logger.With("remote", r.RemoteAddr, "query", q.String())

	if !h.allowed[q.Collection] {
		log.Warn("feed rejected: collection not readable")
		_ = writeFrame(conn, Frame{Type: FrameError, Code: feed.CodePermissionDenied, Message: "collection " + q.Collection + " is not readable"})
		closeNormal(conn)
		return
	}

	box := newOutbox()
	handle := h.opener.Open(q, feed.Listener{
		OnSnapshot: box.putSnapshot,
		OnError:    box.putError,
	})
	defer handle.Cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	log.Info("feed client connected")
	defer log.Info("feed client disconnected")

	for {
		select {
		case <-done:
			return
		case <-box.wake:
		}

		docs, hasSnapshot, failure := box.take()
		if hasSnapshot {
			if err := writeFrame(conn, Frame{Type: FrameSnapshot, Documents: docs}); err != nil {
				log.Warn("feed write failed", "error", err)
				return
			}
		}
		if failure != nil {
			if err := writeFrame(conn, *failure); err != nil {
				log.Warn("feed write failed", "error", err)
				return
			}
			closeNormal(conn)
			return
		}
	}
}

func writeFrame(conn *websocket.Conn, f Frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, data)
}

func closeNormal(conn *websocket.Conn) {
	_ = conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait),
	)
}

// outbox keeps the newest undelivered snapshot and the terminal error for the writer loop, so the
// feed callbacks never wait on the network.
type outbox struct {
	mu          sync.Mutex
	snapshot    []feed.Document
	hasSnapshot bool
	failure     *Frame
	wake        chan struct{}
}

func newOutbox() *outbox {
	return &outbox{wake: make(chan struct{}, 1)}
}

func (o *outbox) putSnapshot(docs []feed.Document) {
	o.mu.Lock()
	o.snapshot = docs
	o.hasSnapshot = true
	o.mu.Unlock()
	o.poke()
}

func (o *outbox) putError(err error) {
	f := Frame{Type: FrameError, Code: feed.CodeInternal, Message: err.Error()}
	var fe *feed.Error
	if errors.As(err, &fe) {
		f.Code = fe.Code
		f.Message = fe.Message
	}

	o.mu.Lock()
	o.failure = &f
	o.mu.Unlock()
	o.poke()
}

func (o *outbox) poke() {
	select {
	case o.wake <- struct{}{}:
	default:
	}
}

func (o *outbox) take() ([]feed.Document, bool, *Frame) {
	o.mu.Lock()
	defer o.mu.Unlock()

	docs, has, failure := o.snapshot, o.hasSnapshot, o.failure
	o.snapshot, o.hasSnapshot = nil, false
	return docs, has, failure
}
