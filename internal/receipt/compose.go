package receipt

import "printfleet/dashboard-server/internal/model"

// Instruction is one rendered line.
type Instruction struct {
	Text  string `json:"text"`
	Style Style  `json:"style"`
}

// Compose resolves every line under m, keeping input order.
func Compose(lines []Line, m StyleModel) []Instruction {
	out := make([]Instruction, len(lines))
	for i, l := range lines {
		out[i] = Instruction{Text: l.Text, Style: m.EffectiveStyle(l, i+1)}
	}
	return out
}

// SampleReceipt is the preview content shown for templates.
func SampleReceipt() []Line {
	return []Line{
		{Text: "COFFEE SHOP", Section: model.SectionHeader},
		{Text: "123 Main Street, Auckland", Section: model.SectionHeader},
		{Text: "", Section: model.SectionHeader},
		{Text: "Order #12345", Section: model.SectionMetadata},
		{Text: "Date: 28/01/2026 2:45 PM", Section: model.SectionMetadata},
		{Text: "Cashier: Emma", Section: model.SectionMetadata},
		{Text: "------------------------", Section: model.SectionMetadata},
		{Text: "2x Flat White         $9.00", Section: model.SectionItemRow},
		{Text: "1x Long Black         $4.50", Section: model.SectionItemRow},
		{Text: "1x Cappuccino         $5.00", Section: model.SectionItemRow},
		{Text: "------------------------", Section: model.SectionTotals},
		{Text: "Subtotal:           $18.50", Section: model.SectionTotals},
		{Text: "Tax (GST 15%):       $2.78", Section: model.SectionTotals},
		{Text: "Total:              $21.28", Section: model.SectionTotals},
		{Text: "", Section: model.SectionFooter},
		{Text: "Thank you for your visit!", Section: model.SectionFooter},
		{Text: "Visit us again soon", Section: model.SectionFooter},
		{Text: "www.coffeeshop.com", Section: model.SectionFooter},
	}
}
