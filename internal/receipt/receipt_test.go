package receipt

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"printfleet/dashboard-server/internal/apperr"
	"printfleet/dashboard-server/internal/model"
)

func TestSectionStyleDefaults(t *testing.T) {
	defaults := model.DefaultSections()

	assert.Equal(t, Style{FontSize: 24, Alignment: model.AlignCenter, Bold: true, Scale: ScalePixels}, SectionStyle(model.SectionHeader, defaults))
	assert.Equal(t, Style{FontSize: 16, Alignment: model.AlignRight, Bold: true, Scale: ScalePixels}, SectionStyle(model.SectionTotals, defaults))

	assert.Equal(t, Style{FontSize: 14, Alignment: model.AlignLeft, Scale: ScalePixels}, SectionStyle(model.SectionItemRow, model.SectionStyleMap{}))
	assert.Equal(t, Style{FontSize: 12, Alignment: model.AlignLeft, Scale: ScalePixels}, SectionStyle("qrCode", defaults))

	custom := defaults
	custom.Footer = model.TextStyle{FontSize: 20, Alignment: model.AlignRight, IsBold: true}
	assert.Equal(t, Style{FontSize: 20, Alignment: model.AlignRight, Bold: true, Scale: ScalePixels}, SectionStyle(model.SectionFooter, custom))
}

func TestLineStyleBoldDerivation(t *testing.T) {
	decorations := []model.LineDecoration{
		{ID: "a", Line: 1, FontSize: 5, Alignment: model.AlignCenter},
		{ID: "b", Line: 2, FontSize: 4, Alignment: model.AlignRight},
	}

	assert.True(t, LineStyle(1, decorations).Bold)
	assert.False(t, LineStyle(2, decorations).Bold)
	assert.Equal(t, model.AlignRight, LineStyle(2, decorations).Alignment)
	assert.Equal(t, Style{FontSize: model.DefaultLineFontSize, Alignment: model.AlignLeft, Scale: ScaleSteps}, LineStyle(3, decorations))
}

func TestComposeIsDeterministicAndOrdered(t *testing.T) {
	lines := []Line{{Text: "A", Section: model.SectionHeader}, {Text: "B", Section: model.SectionItemRow}}
	m := Sectioned{Sections: model.DefaultSections()}

	first := Compose(lines, m)
	second := Compose(lines, m)

	assert.Equal(t, first, second)
	require.Len(t, first, 2)
	assert.Equal(t, "A", first[0].Text)
	assert.Equal(t, "B", first[1].Text)
	assert.True(t, first[0].Style.Bold)
	assert.Equal(t, 14, first[1].Style.FontSize)
}

func TestComposeLineSchemeUsesPosition(t *testing.T) {
	m := LineIndexed{Decorations: []model.LineDecoration{{ID: "d", Line: 2, FontSize: 8, Alignment: model.AlignCenter}}}
	out := Compose([]Line{{Text: "one"}, {Text: "two"}, {Text: "explicit", Line: 2}}, m)

	require.Len(t, out, 3)
	assert.False(t, out[0].Style.Bold)
	assert.Equal(t, Style{FontSize: 8, Alignment: model.AlignCenter, Bold: true, Scale: ScaleSteps}, out[1].Style)
	assert.Equal(t, out[1].Style, out[2].Style)
}

func TestSampleReceiptKeepsEveryLine(t *testing.T) {
	sample := SampleReceipt()
	require.Len(t, sample, 18)

	out := Compose(sample, ModelFor(model.ReceiptTemplate{Sections: model.DefaultSections()}, SchemeSections))
	require.Len(t, out, 18)
	for i := range sample {
		assert.Equal(t, sample[i].Text, out[i].Text)
	}
	assert.Equal(t, 24, out[0].Style.FontSize)
	assert.Equal(t, model.AlignCenter, out[17].Style.Alignment)
}

func TestModelForAndParseScheme(t *testing.T) {
	tpl := model.ReceiptTemplate{Sections: model.DefaultSections(), Lines: []model.LineDecoration{{ID: "x", Line: 1, FontSize: 9, Alignment: model.AlignLeft}}}

	assert.Equal(t, SchemeSections, ModelFor(tpl, SchemeSections).Scheme())
	assert.Equal(t, SchemeLines, ModelFor(tpl, SchemeLines).Scheme())

	s, err := ParseScheme("")
	require.NoError(t, err)
	assert.Equal(t, SchemeSections, s)
	s, err = ParseScheme("lines")
	require.NoError(t, err)
	assert.Equal(t, SchemeLines, s)
	_, err = ParseScheme("both")
	assert.Error(t, err)
}

func newLayout(ds []model.LineDecoration, universe int) *LineLayout {
	l := NewLineLayout(ds, universe)
	n := 0
	l.newID = func() string {
		n++
		return fmt.Sprintf("dec-%d", n)
	}
	return l
}

func TestAddPicksLowestFreeLine(t *testing.T) {
	var ds []model.LineDecoration
	for n := 1; n <= 15; n++ {
		if n == 7 {
			continue
		}
		ds = append(ds, model.LineDecoration{ID: fmt.Sprintf("l%d", n), Line: n, FontSize: 3, Alignment: model.AlignLeft})
	}
	l := newLayout(ds, 0)

	d, err := l.Add()
	require.NoError(t, err)
	assert.Equal(t, 7, d.Line)
	assert.Equal(t, model.DefaultLineFontSize, d.FontSize)
	assert.Equal(t, model.AlignLeft, d.Alignment)

	selected, ok := l.Selected()
	require.True(t, ok)
	assert.Equal(t, d, selected)
}

func TestAddFailsWhenUniverseIsFull(t *testing.T) {
	var ds []model.LineDecoration
	for n := 1; n <= 15; n++ {
		ds = append(ds, model.LineDecoration{ID: fmt.Sprintf("l%d", n), Line: n, FontSize: 3, Alignment: model.AlignLeft})
	}
	l := newLayout(ds, 15)

	_, err := l.Add()
	require.Error(t, err)
	assert.Equal(t, apperr.CodeValidation, apperr.CodeOf(err))
	assert.Equal(t, ds, l.Decorations())
}

func TestSetLineRejectsConflicts(t *testing.T) {
	l := newLayout(nil, 5)
	a, err := l.Add()
	require.NoError(t, err)
	b, err := l.Add()
	require.NoError(t, err)
	require.Equal(t, 2, b.Line)

	err = l.SetLine(b.ID, a.Line)
	assert.Equal(t, apperr.CodeValidation, apperr.CodeOf(err))
	assert.Equal(t, 2, l.Decorations()[1].Line)

	require.NoError(t, l.SetLine(b.ID, 9))
	require.NoError(t, l.SetLine(b.ID, 9))
	assert.Equal(t, 9, l.Decorations()[1].Line)

	assert.Error(t, l.SetLine(b.ID, 0))
	assert.Equal(t, apperr.CodeNotFound, apperr.CodeOf(l.SetLine("missing", 3)))

	next, err := l.Add()
	require.NoError(t, err)
	assert.Equal(t, 2, next.Line)
}

func TestSetStyleValidates(t *testing.T) {
	l := newLayout(nil, 0)
	d, err := l.Add()
	require.NoError(t, err)

	require.NoError(t, l.SetStyle(d.ID, 6, model.AlignRight))
	assert.True(t, l.Decorations()[0].IsBold())

	assert.Error(t, l.SetStyle(d.ID, 11, model.AlignRight))
	assert.Error(t, l.SetStyle(d.ID, 5, "justify"))
	assert.Equal(t, 6, l.Decorations()[0].FontSize)
}

func TestDeleteClearsSelection(t *testing.T) {
	l := newLayout(nil, 0)
	a, _ := l.Add()
	b, _ := l.Add()

	require.NoError(t, l.Select(a.ID))
	require.NoError(t, l.Delete(b.ID))
	sel, ok := l.Selected()
	require.True(t, ok)
	assert.Equal(t, a.ID, sel.ID)

	require.NoError(t, l.Delete(a.ID))
	_, ok = l.Selected()
	assert.False(t, ok)
	assert.Empty(t, l.Decorations())

	assert.Equal(t, apperr.CodeNotFound, apperr.CodeOf(l.Delete(a.ID)))
	assert.Equal(t, apperr.CodeNotFound, apperr.CodeOf(l.Select("nope")))
}

func TestNewLineLayoutCopiesInput(t *testing.T) {
	ds := []model.LineDecoration{{ID: "a", Line: 1, FontSize: 3, Alignment: model.AlignLeft}}
	l := NewLineLayout(ds, 0)
	require.NoError(t, l.SetLine("a", 4))
	assert.Equal(t, 1, ds[0].Line)
}
