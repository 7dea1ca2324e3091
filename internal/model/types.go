package model

import "time"

// Printer is a networked receipt printer registered with the dashboard.
type Printer struct {
	ID       string `json:"id"`
	Label    string `json:"label"`
	Location string `json:"location,omitempty"`
	IsOnline bool   `json:"isOnline"`
	URL      string `json:"url,omitempty"`
}

// Level classifies an activity log entry.
type Level string

const (
	LevelInfo    Level = "info"
	LevelSuccess Level = "success"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Levels returns every log level in display order.
func Levels() []Level {
	return []Level{LevelInfo, LevelSuccess, LevelWarning, LevelError}
}

// Valid reports whether l is one of the known levels.
func (l Level) Valid() bool {
	switch l {
	case LevelInfo, LevelSuccess, LevelWarning, LevelError:
		return true
	}
	return false
}

// LogEntry is one activity record streamed from the fleet.
type LogEntry struct {
	ID      string    `json:"id"`
	Level   Level     `json:"level"`
	Message string    `json:"message"`
	Time    time.Time `json:"time"`
}

// ReceiptTemplate is a reusable receipt layout. Sections is always complete once normalized;
// Lines holds the optional line-addressed decorations of the same template.
type ReceiptTemplate struct {
	ID        string           `json:"id"`
	Name      string           `json:"name"`
	Sections  SectionStyleMap  `json:"sections"`
	Lines     []LineDecoration `json:"lines,omitempty"`
	CreatedAt time.Time        `json:"createdAt"`
	UpdatedAt *time.Time       `json:"updatedAt,omitempty"`
}
