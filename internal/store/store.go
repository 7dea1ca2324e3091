package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"

	"printfleet/dashboard-server/internal/apperr"
	"printfleet/dashboard-server/internal/feed"

	_ "modernc.org/sqlite"
)

// TimeLayout is the fixed-width UTC layout used for stored timestamps, so that lexical order of the
// stored strings matches time order.
const TimeLayout = "2006-01-02T15:04:05.000000000Z"

// FormatTime renders t in TimeLayout.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// Store wraps the SQLite document database and the change feeds opened on it.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time

	watchMu sync.Mutex
	watches map[string]map[*watch]struct{}
	closed  bool
}

// Open initializes the database connection, creating directories as needed.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)", path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)
	db.SetConnMaxIdleTime(5 * time.Minute)

	return New(db, logger), nil
}

// New wraps an already opened database handle.
func New(db *sql.DB, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		db:      db,
		logger:  logger,
		now:     time.Now,
		watches: make(map[string]map[*watch]struct{}),
	}
}

// Close cancels every open feed and releases the database handle.
func (s *Store) Close() error {
	s.watchMu.Lock()
	s.closed = true
	var open []*watch
	for _, set := range s.watches {
		for w := range set {
			open = append(open, w)
		}
	}
	s.watchMu.Unlock()

	for _, w := range open {
		w.sub.Cancel()
	}

	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// InitSchema ensures baseline tables exist.
func (s *Store) InitSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS documents (
			collection TEXT NOT NULL,
			id TEXT NOT NULL,
			body TEXT NOT NULL,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			PRIMARY KEY (collection, id)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_documents_collection_created ON documents(collection, created_at);`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}

	return nil
}

// DB exposes the underlying sql.DB for callers that need raw access.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("store not initialized")
	}
	return s.db.PingContext(ctx)
}

// InsertDocument stores data as a new document and returns its generated id.
func (s *Store) InsertDocument(ctx context.Context, collection string, data map[string]any) (string, error) {
	if s.db == nil {
		return "", fmt.Errorf("store not initialized")
	}

	body, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("encode document: %w", err)
	}

	id := uuid.NewString()
	now := FormatTime(s.now())

	_, err = s.db.ExecContext(
		ctx,
		`INSERT INTO documents (collection, id, body, created_at, updated_at) VALUES (?, ?, ?, ?, ?);`,
		collection,
		id,
		string(body),
		now,
		now,
	)
	if err != nil {
		return "", fmt.Errorf("insert document: %w", err)
	}

	s.notify(collection)
	return id, nil
}

// UpdateDocument merges patch into the top-level fields of an existing document.
func (s *Store) UpdateDocument(ctx context.Context, collection, id string, patch map[string]any) error {
	if s.db == nil {
		return fmt.Errorf("store not initialized")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin update: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var raw string
	err = tx.QueryRowContext(ctx, `SELECT body FROM documents WHERE collection = ? AND id = ?;`, collection, id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return apperr.New(apperr.CodeNotFound, fmt.Sprintf("%s %q not found", collection, id))
	}
	if err != nil {
		return fmt.Errorf("load document: %w", err)
	}

	data := make(map[string]any)
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		return fmt.Errorf("decode document: %w", err)
	}
	for k, v := range patch {
		data[k] = v
	}

	body, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode document: %w", err)
	}

	if _, err := tx.ExecContext(
		ctx,
		`UPDATE documents SET body = ?, updated_at = ? WHERE collection = ? AND id = ?;`,
		string(body),
		FormatTime(s.now()),
		collection,
		id,
	); err != nil {
		return fmt.Errorf("update document: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit update: %w", err)
	}

	s.notify(collection)
	return nil
}

// DeleteDocument removes a document.
func (s *Store) DeleteDocument(ctx context.Context, collection, id string) error {
	if s.db == nil {
		return fmt.Errorf("store not initialized")
	}

	res, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE collection = ? AND id = ?;`, collection, id)
	if err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	if n == 0 {
		return apperr.New(apperr.CodeNotFound, fmt.Sprintf("%s %q not found", collection, id))
	}

	s.notify(collection)
	return nil
}

// GetDocument loads one document.
func (s *Store) GetDocument(ctx context.Context, collection, id string) (feed.Document, error) {
	if s.db == nil {
		return feed.Document{}, fmt.Errorf("store not initialized")
	}

	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT body FROM documents WHERE collection = ? AND id = ?;`, collection, id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return feed.Document{}, apperr.New(apperr.CodeNotFound, fmt.Sprintf("%s %q not found", collection, id))
	}
	if err != nil {
		return feed.Document{}, fmt.Errorf("get document: %w", err)
	}

	doc := feed.Document{ID: id, Data: make(map[string]any)}
	if err := json.Unmarshal([]byte(raw), &doc.Data); err != nil {
		return feed.Document{}, fmt.Errorf("decode document: %w", err)
	}
	return doc, nil
}

// QueryDocuments returns the current result set of q.
func (s *Store) QueryDocuments(ctx context.Context, q feed.Query) ([]feed.Document, error) {
	if s.db == nil {
		return nil, fmt.Errorf("store not initialized")
	}
	if err := q.Validate(); err != nil {
		return nil, err
	}

	var b strings.Builder
	args := []any{q.Collection}
	b.WriteString(`SELECT id, body FROM documents WHERE collection = ?`)
	if q.OrderBy != "" {
		b.WriteString(` ORDER BY json_extract(body, ?)`)
		args = append(args, "$."+q.OrderBy)
		if q.Descending {
			b.WriteString(` DESC`)
		}
	}
	if q.Limit > 0 {
		b.WriteString(` LIMIT ?`)
		args = append(args, q.Limit)
	}
	b.WriteString(`;`)

	rows, err := s.db.QueryContext(ctx, b.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("query documents: %w", err)
	}
	defer rows.Close()

	docs := make([]feed.Document, 0)
	for rows.Next() {
		var id, raw string
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		data := make(map[string]any)
		if err := json.Unmarshal([]byte(raw), &data); err != nil {
			return nil, fmt.Errorf("decode document %s: %w", id, err)
		}
		docs = append(docs, feed.Document{ID: id, Data: data})
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}

	return docs, nil
}
