// Package view holds pure projections over live store items. Nothing here caches; callers recompute
// from the current items whenever an input changes.
package view

import (
	"strings"

	"printfleet/dashboard-server/internal/model"
)

// LogFilter narrows a log list. A zero Level matches every level and an empty Search matches every
// entry.
type LogFilter struct {
	Level  model.Level
	Search string
}

// Match reports whether e passes both the level and the search predicate.
func (f LogFilter) Match(e model.LogEntry) bool {
	if f.Level != "" && e.Level != f.Level {
		return false
	}
	q := strings.ToLower(f.Search)
	if q == "" {
		return true
	}
	return strings.Contains(strings.ToLower(e.Message), q) || strings.Contains(strings.ToLower(e.ID), q)
}

// FilterLogs returns the entries matching f in their original order. The result is never nil.
func FilterLogs(items []model.LogEntry, f LogFilter) []model.LogEntry {
	out := make([]model.LogEntry, 0, len(items))
	for _, e := range items {
		if f.Match(e) {
			out = append(out, e)
		}
	}
	return out
}

// LogCounts tallies an unfiltered log list.
type LogCounts struct {
	Total   int                 `json:"total"`
	ByLevel map[model.Level]int `json:"byLevel"`
}

// CountLogs counts items per level. Every known level is present in ByLevel.
func CountLogs(items []model.LogEntry) LogCounts {
	c := LogCounts{Total: len(items), ByLevel: make(map[model.Level]int, 4)}
	for _, l := range model.Levels() {
		c.ByLevel[l] = 0
	}
	for _, e := range items {
		if _, ok := c.ByLevel[e.Level]; ok {
			c.ByLevel[e.Level]++
		}
	}
	return c
}

// RecentLogs returns at most n leading entries of a newest-first list.
func RecentLogs(items []model.LogEntry, n int) []model.LogEntry {
	if n < 0 {
		n = 0
	}
	if n > len(items) {
		n = len(items)
	}
	out := make([]model.LogEntry, n)
	copy(out, items[:n])
	return out
}

// FleetSummary is the dashboard status card data.
type FleetSummary struct {
	Total   int `json:"total"`
	Online  int `json:"online"`
	Offline int `json:"offline"`
}

func SummarizePrinters(items []model.Printer) FleetSummary {
	s := FleetSummary{Total: len(items)}
	for _, p := range items {
		if p.IsOnline {
			s.Online++
		}
	}
	s.Offline = s.Total - s.Online
	return s
}
