// Package escpos turns composed receipts into ESC/POS byte streams and sends them to raw-TCP
// printers.
package escpos

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"time"

	"printfleet/dashboard-server/internal/model"
	"printfleet/dashboard-server/internal/receipt"
)

// DefaultPort is the raw printing port most network receipt printers listen on.
const DefaultPort = "9100"

const (
	esc = 0x1B
	gs  = 0x1D
	lf  = 0x0A
)

// Encode renders instructions as one print job: initialize, one styled line per instruction, feed
// three lines, partial cut.
func Encode(lines []receipt.Instruction) []byte {
	var b bytes.Buffer

	b.Write([]byte{esc, '@'})
	for _, in := range lines {
		b.Write([]byte{esc, 'a', alignByte(in.Style.Alignment)})
		bold := byte(0)
		if in.Style.Bold {
			bold = 1
		}
		b.Write([]byte{esc, 'E', bold})
		m := Magnification(in.Style)
		b.Write([]byte{gs, '!', byte((m-1)<<4 | (m - 1))})
		b.Write(printable(in.Text))
		b.WriteByte(lf)
	}
	b.Write([]byte{esc, 'E', 0, gs, '!', 0, esc, 'a', 0})
	b.Write([]byte{esc, 'd', 3})
	b.Write([]byte{gs, 'V', 'A', 0})

	return b.Bytes()
}

// Magnification maps a style's font size onto the printer's 1..8 character magnification.
func Magnification(st receipt.Style) int {
	var m int
	switch st.Scale {
	case receipt.ScaleSteps:
		m = (st.FontSize + 2) / 3
	default:
		m = (st.FontSize-model.MinSectionFontSize)/12 + 1
	}
	if m < 1 {
		m = 1
	}
	if m > 8 {
		m = 8
	}
	return m
}

func alignByte(a model.Alignment) byte {
	switch a {
	case model.AlignCenter:
		return 1
	case model.AlignRight:
		return 2
	}
	return 0
}

func printable(s string) []byte {
	out := make([]byte, 0, len(s))
	for _, r := range s {
		if r < 0x20 || r > 0x7E {
			r = '?'
		}
		out = append(out, byte(r))
	}
	return out
}

// Send writes payload to the printer at addr. A bare host gets DefaultPort.
func Send(ctx context.Context, addr string, payload []byte) error {
	if _, _, err := net.SplitHostPort(addr); err != nil {
		addr = net.JoinHostPort(addr, DefaultPort)
	}

	d := net.Dialer{Timeout: 5 * time.Second}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("dial printer %s: %w", addr, err)
	}
	defer conn.Close()

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(10 * time.Second)
	}
	_ = conn.SetWriteDeadline(deadline)

	if _, err := conn.Write(payload); err != nil {
		return fmt.Errorf("write printer %s: %w", addr, err)
	}
	return nil
}
