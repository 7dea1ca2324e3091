// Package receipt resolves receipt line styles under either addressing scheme and composes content
// into render instructions.
package receipt

import (
	"fmt"

	"printfleet/dashboard-server/internal/model"
)

// Scale names the unit of Style.FontSize.
type Scale string

const (
	// ScalePixels is the section scheme's 8..48 pixel size.
	ScalePixels Scale = "px"
	// ScaleSteps is the line scheme's 1..10 step size.
	ScaleSteps Scale = "steps"
)

// Style is the effective style of one rendered line.
type Style struct {
	FontSize  int             `json:"fontSize"`
	Alignment model.Alignment `json:"alignment"`
	Bold      bool            `json:"bold"`
	Scale     Scale           `json:"scale"`
}

// Line is one content line. Section addresses it under the section scheme; Line addresses it under
// the line scheme, where zero means its 1-based position in the content.
type Line struct {
	Text    string        `json:"text"`
	Section model.Section `json:"section,omitempty"`
	Line    int           `json:"line,omitempty"`
}

// StyleModel is either Sectioned or LineIndexed.
type StyleModel interface {
	// EffectiveStyle resolves l, found at 1-based position in the content.
	EffectiveStyle(l Line, position int) Style
	Scheme() Scheme
	styleModel()
}

// Scheme names a StyleModel variant.
type Scheme string

const (
	SchemeSections Scheme = "sections"
	SchemeLines    Scheme = "lines"
)

// ParseScheme accepts "sections" (also the empty string) and "lines".
func ParseScheme(s string) (Scheme, error) {
	switch Scheme(s) {
	case "", SchemeSections:
		return SchemeSections, nil
	case SchemeLines:
		return SchemeLines, nil
	}
	return "", fmt.Errorf("unknown style scheme %q", s)
}

// ModelFor selects one scheme of a template. The two schemes are never merged.
func ModelFor(tpl model.ReceiptTemplate, scheme Scheme) StyleModel {
	if scheme == SchemeLines {
		return LineIndexed{Decorations: tpl.Lines}
	}
	return Sectioned{Sections: tpl.Sections}
}

// Sectioned styles every line of a section alike.
type Sectioned struct {
	Sections model.SectionStyleMap
}

func (Sectioned) styleModel() {}

func (Sectioned) Scheme() Scheme { return SchemeSections }

func (m Sectioned) EffectiveStyle(l Line, _ int) Style {
	return SectionStyle(l.Section, m.Sections)
}

// unknownSectionStyle applies to lines tagged with a section outside the fixed five.
var unknownSectionStyle = model.TextStyle{FontSize: 12, Alignment: model.AlignLeft}

// SectionStyle is the section scheme's effective style: the template's entry when set, else the
// section default.
func SectionStyle(sec model.Section, sections model.SectionStyleMap) Style {
	st, ok := sections.Style(sec)
	if !ok {
		st = unknownSectionStyle
	} else if st.FontSize == 0 || !st.Alignment.Valid() {
		st, _ = model.DefaultSectionStyle(sec)
	}
	return Style{FontSize: st.FontSize, Alignment: st.Alignment, Bold: st.IsBold, Scale: ScalePixels}
}

// LineIndexed styles individual output lines.
type LineIndexed struct {
	Decorations []model.LineDecoration
}

func (LineIndexed) styleModel() {}

func (LineIndexed) Scheme() Scheme { return SchemeLines }

func (m LineIndexed) EffectiveStyle(l Line, position int) Style {
	n := l.Line
	if n == 0 {
		n = position
	}
	return LineStyle(n, m.Decorations)
}

// LineStyle is the line scheme's effective style for line n. Undecorated lines use the default size,
// left aligned and not bold.
func LineStyle(n int, decorations []model.LineDecoration) Style {
	for _, d := range decorations {
		if d.Line == n {
			return Style{FontSize: d.FontSize, Alignment: d.Alignment, Bold: d.IsBold(), Scale: ScaleSteps}
		}
	}
	return Style{FontSize: model.DefaultLineFontSize, Alignment: model.AlignLeft, Scale: ScaleSteps}
}
