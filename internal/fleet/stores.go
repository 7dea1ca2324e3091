// Package fleet binds the printer fleet's collections to feed queries, typed live stores and the
// write operations the dashboard exposes.
package fleet

import (
	"log/slog"

	"printfleet/dashboard-server/internal/feed"
	"printfleet/dashboard-server/internal/live"
	"printfleet/dashboard-server/internal/model"
)

// Collection names, shared by reads and writes.
const (
	CollectionPrinters  = "printer"
	CollectionLogs      = "logs"
	CollectionTemplates = "template"
)

// Store names.
const (
	StorePrinters  = "printers"
	StoreLogs      = "logs"
	StoreTemplates = "templates"
)

// Collections lists the collections readable over the feed.
func Collections() []string {
	return []string{CollectionPrinters, CollectionLogs, CollectionTemplates}
}

// PrintersQuery selects every printer in backend order.
func PrintersQuery() feed.Query {
	return feed.Query{Collection: CollectionPrinters}
}

// LogsQuery selects the newest limit log entries, newest first.
func LogsQuery(limit int) feed.Query {
	if limit <= 0 {
		limit = feed.DefaultLimit
	}
	return feed.Query{Collection: CollectionLogs, OrderBy: "time", Descending: true, Limit: limit}
}

// TemplatesQuery selects every template in backend order.
func TemplatesQuery() feed.Query {
	return feed.Query{Collection: CollectionTemplates}
}

func NewPrinterStore(o feed.Opener, logger *slog.Logger) *live.Store[model.Printer] {
	return live.New(StorePrinters, o, PrintersQuery(), NormalizePrinter, logger)
}

func NewLogStore(o feed.Opener, limit int, logger *slog.Logger) *live.Store[model.LogEntry] {
	return live.New(StoreLogs, o, LogsQuery(limit), NormalizeLog, logger)
}

func NewTemplateStore(o feed.Opener, logger *slog.Logger) *live.Store[model.ReceiptTemplate] {
	return live.New(StoreTemplates, o, TemplatesQuery(), NormalizeTemplate, logger)
}
