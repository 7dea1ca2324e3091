package model

import "fmt"

// Alignment is the horizontal placement of a rendered line.
type Alignment string

const (
	AlignLeft   Alignment = "left"
	AlignCenter Alignment = "center"
	AlignRight  Alignment = "right"
)

// Valid reports whether a is a known alignment.
func (a Alignment) Valid() bool {
	return a == AlignLeft || a == AlignCenter || a == AlignRight
}

// Section is one of the fixed semantic regions of a receipt.
type Section string

const (
	SectionHeader   Section = "header"
	SectionMetadata Section = "metadata"
	SectionItemRow  Section = "itemRow"
	SectionTotals   Section = "totals"
	SectionFooter   Section = "footer"
)

// Sections returns the receipt sections in print order.
func Sections() []Section {
	return []Section{SectionHeader, SectionMetadata, SectionItemRow, SectionTotals, SectionFooter}
}

// Valid reports whether s is one of the five receipt sections.
func (s Section) Valid() bool {
	switch s {
	case SectionHeader, SectionMetadata, SectionItemRow, SectionTotals, SectionFooter:
		return true
	}
	return false
}

// Font size bounds of the section-addressed scheme, in pixels.
const (
	MinSectionFontSize = 8
	MaxSectionFontSize = 48
)

// TextStyle describes how every line of a section renders.
type TextStyle struct {
	FontSize  int       `json:"fontSize"`
	Alignment Alignment `json:"alignment"`
	IsBold    bool      `json:"isBold"`
}

// Validate checks the style against the section scheme bounds.
func (s TextStyle) Validate() error {
	if s.FontSize < MinSectionFontSize || s.FontSize > MaxSectionFontSize {
		return fmt.Errorf("font size %d outside %d..%d", s.FontSize, MinSectionFontSize, MaxSectionFontSize)
	}
	if !s.Alignment.Valid() {
		return fmt.Errorf("unknown alignment %q", s.Alignment)
	}
	return nil
}

// SectionStyleMap carries a TextStyle for each of the five sections.
type SectionStyleMap struct {
	Header   TextStyle `json:"header"`
	Metadata TextStyle `json:"metadata"`
	ItemRow  TextStyle `json:"itemRow"`
	Totals   TextStyle `json:"totals"`
	Footer   TextStyle `json:"footer"`
}

// DefaultSections returns the style map new templates are seeded with.
func DefaultSections() SectionStyleMap {
	return SectionStyleMap{
		Header:   TextStyle{FontSize: 24, Alignment: AlignCenter, IsBold: true},
		Metadata: TextStyle{FontSize: 12, Alignment: AlignLeft},
		ItemRow:  TextStyle{FontSize: 14, Alignment: AlignLeft},
		Totals:   TextStyle{FontSize: 16, Alignment: AlignRight, IsBold: true},
		Footer:   TextStyle{FontSize: 12, Alignment: AlignCenter},
	}
}

// DefaultSectionStyle returns the fixed default for sec.
func DefaultSectionStyle(sec Section) (TextStyle, bool) {
	return DefaultSections().Style(sec)
}

// Style returns the style stored for sec.
func (m SectionStyleMap) Style(sec Section) (TextStyle, bool) {
	switch sec {
	case SectionHeader:
		return m.Header, true
	case SectionMetadata:
		return m.Metadata, true
	case SectionItemRow:
		return m.ItemRow, true
	case SectionTotals:
		return m.Totals, true
	case SectionFooter:
		return m.Footer, true
	}
	return TextStyle{}, false
}

// SetStyle replaces the style of sec. It reports false for an unknown section.
func (m *SectionStyleMap) SetStyle(sec Section, style TextStyle) bool {
	switch sec {
	case SectionHeader:
		m.Header = style
	case SectionMetadata:
		m.Metadata = style
	case SectionItemRow:
		m.ItemRow = style
	case SectionTotals:
		m.Totals = style
	case SectionFooter:
		m.Footer = style
	default:
		return false
	}
	return true
}

// Validate checks every section style.
func (m SectionStyleMap) Validate() error {
	for _, sec := range Sections() {
		st, _ := m.Style(sec)
		if err := st.Validate(); err != nil {
			return fmt.Errorf("%s: %w", sec, err)
		}
	}
	return nil
}

// Bounds of the line-addressed scheme.
const (
	MinLineFontSize     = 1
	MaxLineFontSize     = 10
	DefaultLineFontSize = 3
	BoldLineThreshold   = 4 // largest size that still renders at normal weight
	DefaultLineUniverse = 15
)

// LineDecoration overrides the style of one absolute output line.
type LineDecoration struct {
	ID        string    `json:"id"`
	Line      int       `json:"line"`
	FontSize  int       `json:"fontSize"`
	Alignment Alignment `json:"alignment"`
}

// IsBold is derived from the font size.
func (d LineDecoration) IsBold() bool {
	return d.FontSize > BoldLineThreshold
}

// Validate checks the decoration bounds.
func (d LineDecoration) Validate() error {
	if d.Line < 1 {
		return fmt.Errorf("line %d must be at least 1", d.Line)
	}
	if d.FontSize < MinLineFontSize || d.FontSize > MaxLineFontSize {
		return fmt.Errorf("font size %d outside %d..%d", d.FontSize, MinLineFontSize, MaxLineFontSize)
	}
	if !d.Alignment.Valid() {
		return fmt.Errorf("unknown alignment %q", d.Alignment)
	}
	return nil
}
