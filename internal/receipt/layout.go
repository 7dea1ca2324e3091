package receipt

import (
	"fmt"

	"github.com/google/uuid"

	"printfleet/dashboard-server/internal/apperr"
	"printfleet/dashboard-server/internal/model"
)

// LineLayout edits the line decorations of one template. It is not safe for concurrent use.
type LineLayout struct {
	universe    int
	decorations []model.LineDecoration
	selected    string
	newID       func() string
}

// NewLineLayout starts from a copy of decorations. Add picks lines from 1..universe; a universe of
// zero or less uses model.DefaultLineUniverse.
func NewLineLayout(decorations []model.LineDecoration, universe int) *LineLayout {
	if universe <= 0 {
		universe = model.DefaultLineUniverse
	}
	ds := make([]model.LineDecoration, len(decorations))
	copy(ds, decorations)
	return &LineLayout{universe: universe, decorations: ds, newID: uuid.NewString}
}

// Decorations returns a copy of the current set.
func (l *LineLayout) Decorations() []model.LineDecoration {
	out := make([]model.LineDecoration, len(l.decorations))
	copy(out, l.decorations)
	return out
}

func (l *LineLayout) index(id string) int {
	for i, d := range l.decorations {
		if d.ID == id {
			return i
		}
	}
	return -1
}

func (l *LineLayout) lineOwner(line int) int {
	for i, d := range l.decorations {
		if d.Line == line {
			return i
		}
	}
	return -1
}

// Add decorates the lowest free line with the default style and selects the new decoration. It
// fails without changing anything when every line of the universe is taken.
func (l *LineLayout) Add() (model.LineDecoration, error) {
	for n := 1; n <= l.universe; n++ {
		if l.lineOwner(n) >= 0 {
			continue
		}
		d := model.LineDecoration{
			ID:        l.newID(),
			Line:      n,
			FontSize:  model.DefaultLineFontSize,
			Alignment: model.AlignLeft,
		}
		l.decorations = append(l.decorations, d)
		l.selected = d.ID
		return d, nil
	}
	return model.LineDecoration{}, apperr.Validation(fmt.Sprintf("all %d lines already have a decoration", l.universe))
}

// SetLine moves decoration id to line. A line held by another decoration is rejected and the
// decoration keeps its line.
func (l *LineLayout) SetLine(id string, line int) error {
	i := l.index(id)
	if i < 0 {
		return notFound(id)
	}
	if line < 1 {
		return apperr.Validation(fmt.Sprintf("line %d must be at least 1", line))
	}
	if owner := l.lineOwner(line); owner >= 0 && owner != i {
		return apperr.Validation(fmt.Sprintf("line %d already has a decoration", line))
	}
	l.decorations[i].Line = line
	return nil
}

// SetStyle changes the size and alignment of decoration id.
func (l *LineLayout) SetStyle(id string, fontSize int, alignment model.Alignment) error {
	i := l.index(id)
	if i < 0 {
		return notFound(id)
	}
	next := l.decorations[i]
	next.FontSize = fontSize
	next.Alignment = alignment
	if err := next.Validate(); err != nil {
		return apperr.Validation(err.Error())
	}
	l.decorations[i] = next
	return nil
}

// Delete removes decoration id, clearing the selection if it pointed there.
func (l *LineLayout) Delete(id string) error {
	i := l.index(id)
	if i < 0 {
		return notFound(id)
	}
	l.decorations = append(l.decorations[:i], l.decorations[i+1:]...)
	if l.selected == id {
		l.selected = ""
	}
	return nil
}

// Select marks decoration id as selected.
func (l *LineLayout) Select(id string) error {
	if l.index(id) < 0 {
		return notFound(id)
	}
	l.selected = id
	return nil
}

// Selected returns the selected decoration, if any.
func (l *LineLayout) Selected() (model.LineDecoration, bool) {
	if i := l.index(l.selected); l.selected != "" && i >= 0 {
		return l.decorations[i], true
	}
	return model.LineDecoration{}, false
}

func notFound(id string) error {
	return apperr.New(apperr.CodeNotFound, fmt.Sprintf("line decoration %q not found", id))
}
