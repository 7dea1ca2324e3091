package fleet

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"printfleet/dashboard-server/internal/apperr"
	"printfleet/dashboard-server/internal/model"
	"printfleet/dashboard-server/internal/store"
)

// DocumentWriter is the write side of the document backend.
type DocumentWriter interface {
	InsertDocument(ctx context.Context, collection string, data map[string]any) (string, error)
	UpdateDocument(ctx context.Context, collection, id string, patch map[string]any) error
	DeleteDocument(ctx context.Context, collection, id string) error
}

// Service validates fleet writes before they reach the backend.
type Service struct {
	docs   DocumentWriter
	logger *slog.Logger
	now    func() time.Time
}

func NewService(docs DocumentWriter, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{docs: docs, logger: logger, now: time.Now}
}

// PrinterPatch lists the printer fields an update may change; nil fields are left alone.
type PrinterPatch struct {
	Label    *string `json:"label,omitempty"`
	IsOnline *bool   `json:"isOnline,omitempty"`
	URL      *string `json:"url,omitempty"`
}

// CreatePrinter registers a printer. The location defaults to the label.
func (s *Service) CreatePrinter(ctx context.Context, label, location string) (string, error) {
	label = strings.TrimSpace(label)
	if label == "" {
		return "", apperr.Validation("printer label is required")
	}
	location = strings.TrimSpace(location)
	if location == "" {
		location = label
	}

	id, err := s.docs.InsertDocument(ctx, CollectionPrinters, map[string]any{
		"label":    label,
		"location": location,
		"isOnline": false,
	})
	if err != nil {
		return "", fmt.Errorf("create printer: %w", err)
	}
	s.logger.Info("printer created", "printer", id, "label", label)
	return id, nil
}

// UpdatePrinter applies patch to printer id.
func (s *Service) UpdatePrinter(ctx context.Context, id string, patch PrinterPatch) error {
	if strings.TrimSpace(id) == "" {
		return apperr.Validation("printer id is required")
	}

	fields := make(map[string]any)
	if patch.Label != nil {
		label := strings.TrimSpace(*patch.Label)
		if label == "" {
			return apperr.Validation("printer label cannot be empty")
		}
		fields["label"] = label
	}
	if patch.IsOnline != nil {
		fields["isOnline"] = *patch.IsOnline
	}
	if patch.URL != nil {
		fields["url"] = strings.TrimSpace(*patch.URL)
	}
	if len(fields) == 0 {
		return apperr.Validation("printer update has no fields")
	}

	if err := s.docs.UpdateDocument(ctx, CollectionPrinters, id, fields); err != nil {
		return fmt.Errorf("update printer: %w", err)
	}
	return nil
}

// CreateTemplate stores a template seeded with the default section styles.
func (s *Service) CreateTemplate(ctx context.Context, name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", apperr.Validation("template name is required")
	}

	ts := store.FormatTime(s.now())
	id, err := s.docs.InsertDocument(ctx, CollectionTemplates, map[string]any{
		"name":      name,
		"sections":  model.DefaultSections(),
		"createdAt": ts,
		"updatedAt": ts,
	})
	if err != nil {
		return "", fmt.Errorf("create template: %w", err)
	}
	s.logger.Info("template created", "template", id, "name", name)
	return id, nil
}

// DeleteTemplate removes template id.
func (s *Service) DeleteTemplate(ctx context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return apperr.Validation("template id is required")
	}
	if err := s.docs.DeleteDocument(ctx, CollectionTemplates, id); err != nil {
		return fmt.Errorf("delete template: %w", err)
	}
	s.logger.Info("template deleted", "template", id)
	return nil
}

// SaveTemplateSections replaces the section styles of template id.
func (s *Service) SaveTemplateSections(ctx context.Context, id string, sections model.SectionStyleMap) error {
	if strings.TrimSpace(id) == "" {
		return apperr.Validation("template id is required")
	}
	if err := sections.Validate(); err != nil {
		return apperr.Validation(err.Error())
	}

	if err := s.docs.UpdateDocument(ctx, CollectionTemplates, id, map[string]any{
		"sections":  sections,
		"updatedAt": store.FormatTime(s.now()),
	}); err != nil {
		return fmt.Errorf("save template sections: %w", err)
	}
	return nil
}

// SaveTemplateLines replaces the line decorations of template id. Lines and ids must be unique.
func (s *Service) SaveTemplateLines(ctx context.Context, id string, lines []model.LineDecoration) error {
	if strings.TrimSpace(id) == "" {
		return apperr.Validation("template id is required")
	}

	usedLines := make(map[int]bool, len(lines))
	usedIDs := make(map[string]bool, len(lines))
	for _, d := range lines {
		if d.ID == "" {
			return apperr.Validation("line decoration id is required")
		}
		if err := d.Validate(); err != nil {
			return apperr.Validation(fmt.Sprintf("decoration %s: %v", d.ID, err))
		}
		if usedLines[d.Line] {
			return apperr.Validation(fmt.Sprintf("line %d is decorated twice", d.Line))
		}
		if usedIDs[d.ID] {
			return apperr.Validation(fmt.Sprintf("decoration id %s is used twice", d.ID))
		}
		usedLines[d.Line] = true
		usedIDs[d.ID] = true
	}
	if lines == nil {
		lines = []model.LineDecoration{}
	}

	if err := s.docs.UpdateDocument(ctx, CollectionTemplates, id, map[string]any{
		"lines":     lines,
		"updatedAt": store.FormatTime(s.now()),
	}); err != nil {
		return fmt.Errorf("save template lines: %w", err)
	}
	return nil
}

// AppendLog records an activity entry. A zero time means now.
func (s *Service) AppendLog(ctx context.Context, level model.Level, message string, at time.Time) (string, error) {
	if !level.Valid() {
		return "", apperr.Validation(fmt.Sprintf("unknown log level %q", level))
	}
	message = strings.TrimSpace(message)
	if message == "" {
		return "", apperr.Validation("log message is required")
	}
	if at.IsZero() {
		at = s.now()
	}

	id, err := s.docs.InsertDocument(ctx, CollectionLogs, map[string]any{
		"level":   string(level),
		"message": message,
		"time":    store.FormatTime(at),
	})
	if err != nil {
		return "", fmt.Errorf("append log: %w", err)
	}
	return id, nil
}
