package fleet

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"printfleet/dashboard-server/internal/feed"
	"printfleet/dashboard-server/internal/model"
)

// DefaultTemplateName names templates whose document carries no name.
const DefaultTemplateName = "Untitled Template"

var now = time.Now

// NormalizePrinter converts a printer document. Location falls back to the label.
func NormalizePrinter(d feed.Document) model.Printer {
	p := model.Printer{
		ID:       d.ID,
		Label:    stringField(d.Data, "label"),
		Location: stringField(d.Data, "location"),
		URL:      stringField(d.Data, "url"),
	}
	if b, ok := d.Data["isOnline"].(bool); ok {
		p.IsOnline = b
	}
	if p.Location == "" {
		p.Location = p.Label
	}
	return p
}

// NormalizeLog converts a log document. Unknown levels read as info and a missing or unreadable
// time reads as now.
func NormalizeLog(d feed.Document) model.LogEntry {
	e := model.LogEntry{
		ID:      d.ID,
		Level:   model.Level(strings.ToLower(stringField(d.Data, "level"))),
		Message: stringField(d.Data, "message"),
	}
	if !e.Level.Valid() {
		e.Level = model.LevelInfo
	}
	if t, ok := coerceTime(d.Data["time"]); ok {
		e.Time = t
	} else {
		e.Time = now().UTC()
	}
	return e
}

// NormalizeTemplate converts a template document, backfilling every section style and dropping
// line decorations that are invalid or reuse a line.
func NormalizeTemplate(d feed.Document) model.ReceiptTemplate {
	tpl := model.ReceiptTemplate{
		ID:       d.ID,
		Name:     stringField(d.Data, "name"),
		Sections: normalizeSections(d.Data["sections"]),
		Lines:    normalizeLines(d.Data["lines"]),
	}
	if tpl.Name == "" {
		tpl.Name = DefaultTemplateName
	}
	if t, ok := coerceTime(d.Data["createdAt"]); ok {
		tpl.CreatedAt = t
	} else {
		tpl.CreatedAt = now().UTC()
	}
	if t, ok := coerceTime(d.Data["updatedAt"]); ok {
		tpl.UpdatedAt = &t
	}
	return tpl
}

func normalizeSections(v any) model.SectionStyleMap {
	out := model.DefaultSections()
	raw, ok := v.(map[string]any)
	if !ok {
		return out
	}

	for _, sec := range model.Sections() {
		fields, ok := raw[string(sec)].(map[string]any)
		if !ok {
			continue
		}
		st, _ := out.Style(sec)
		if n, ok := intValue(fields["fontSize"]); ok && n >= model.MinSectionFontSize && n <= model.MaxSectionFontSize {
			st.FontSize = n
		}
		if s, ok := fields["alignment"].(string); ok && model.Alignment(s).Valid() {
			st.Alignment = model.Alignment(s)
		}
		if b, ok := fields["isBold"].(bool); ok {
			st.IsBold = b
		}
		out.SetStyle(sec, st)
	}
	return out
}

func normalizeLines(v any) []model.LineDecoration {
	raw, ok := v.([]any)
	if !ok {
		return nil
	}

	out := make([]model.LineDecoration, 0, len(raw))
	usedLines := make(map[int]bool)
	usedIDs := make(map[string]bool)
	for _, item := range raw {
		fields, ok := item.(map[string]any)
		if !ok {
			continue
		}
		line, ok := intValue(fields["line"])
		if !ok || line < 1 || usedLines[line] {
			continue
		}
		d := model.LineDecoration{
			ID:        stringField(fields, "id"),
			Line:      line,
			FontSize:  model.DefaultLineFontSize,
			Alignment: model.AlignLeft,
		}
		if d.ID == "" {
			d.ID = fmt.Sprintf("line-%d", line)
		}
		if usedIDs[d.ID] {
			continue
		}
		if n, ok := intValue(fields["fontSize"]); ok && n >= model.MinLineFontSize && n <= model.MaxLineFontSize {
			d.FontSize = n
		}
		if s, ok := fields["alignment"].(string); ok && model.Alignment(s).Valid() {
			d.Alignment = model.Alignment(s)
		}
		usedLines[line] = true
		usedIDs[d.ID] = true
		out = append(out, d)
	}
	return out
}

func stringField(data map[string]any, key string) string {
	s, _ := data[key].(string)
	return strings.TrimSpace(s)
}

func intValue(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		if n != math.Trunc(n) || math.IsInf(n, 0) {
			return 0, false
		}
		return int(n), true
	case json.Number:
		i, err := n.Int64()
		return int(i), err == nil
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(n))
		return i, err == nil
	}
	return 0, false
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// coerceTime accepts time values, ISO strings, epoch milliseconds and {seconds, nanoseconds}
// timestamp objects.
func coerceTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		if t.IsZero() {
			return time.Time{}, false
		}
		return t.UTC(), true
	case *time.Time:
		if t == nil || t.IsZero() {
			return time.Time{}, false
		}
		return t.UTC(), true
	case string:
		s := strings.TrimSpace(t)
		for _, layout := range timeLayouts {
			if parsed, err := time.Parse(layout, s); err == nil {
				return parsed.UTC(), true
			}
		}
		return time.Time{}, false
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) || t <= 0 {
			return time.Time{}, false
		}
		return time.UnixMilli(int64(t)).UTC(), true
	case int64:
		if t <= 0 {
			return time.Time{}, false
		}
		return time.UnixMilli(t).UTC(), true
	case int:
		if t <= 0 {
			return time.Time{}, false
		}
		return time.UnixMilli(int64(t)).UTC(), true
	case map[string]any:
		secs, ok := intValue(firstOf(t, "seconds", "_seconds"))
		if !ok {
			return time.Time{}, false
		}
		nanos, _ := intValue(firstOf(t, "nanoseconds", "_nanoseconds"))
		return time.Unix(int64(secs), int64(nanos)).UTC(), true
	}
	return time.Time{}, false
}

func firstOf(m map[string]any, keys ...string) any {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			return v
		}
	}
	return nil
}
