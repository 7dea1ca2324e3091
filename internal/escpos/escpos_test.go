package escpos

import (
	"bytes"
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"printfleet/dashboard-server/internal/model"
	"printfleet/dashboard-server/internal/receipt"
)

func TestEncodeFraming(t *testing.T) {
	out := Encode([]receipt.Instruction{
		{Text: "HELLO", Style: receipt.Style{FontSize: 24, Alignment: model.AlignCenter, Bold: true, Scale: receipt.ScalePixels}},
		{Text: "ok", Style: receipt.Style{FontSize: 12, Alignment: model.AlignRight, Scale: receipt.ScalePixels}},
	})

	require.True(t, bytes.HasPrefix(out, []byte{0x1B, '@'}))
	require.True(t, bytes.HasSuffix(out, []byte{0x1B, 'd', 3, 0x1D, 'V', 'A', 0}))

	first := []byte{0x1B, 'a', 1, 0x1B, 'E', 1, 0x1D, '!', 0x11, 'H', 'E', 'L', 'L', 'O', '\n'}
	second := []byte{0x1B, 'a', 2, 0x1B, 'E', 0, 0x1D, '!', 0x00, 'o', 'k', '\n'}
	assert.True(t, bytes.Contains(out, first))
	assert.True(t, bytes.Contains(out, second))
	assert.Less(t, bytes.Index(out, first), bytes.Index(out, second))
}

func TestEncodeReplacesNonASCII(t *testing.T) {
	out := Encode([]receipt.Instruction{{Text: "café", Style: receipt.Style{FontSize: 3, Scale: receipt.ScaleSteps}}})
	assert.True(t, bytes.Contains(out, []byte("caf?\n")))
}

func TestMagnification(t *testing.T) {
	px := func(n int) receipt.Style { return receipt.Style{FontSize: n, Scale: receipt.ScalePixels} }
	steps := func(n int) receipt.Style { return receipt.Style{FontSize: n, Scale: receipt.ScaleSteps} }

	assert.Equal(t, 1, Magnification(px(8)))
	assert.Equal(t, 1, Magnification(px(16)))
	assert.Equal(t, 2, Magnification(px(24)))
	assert.Equal(t, 4, Magnification(px(48)))
	assert.Equal(t, 1, Magnification(steps(1)))
	assert.Equal(t, 1, Magnification(steps(3)))
	assert.Equal(t, 2, Magnification(steps(5)))
	assert.Equal(t, 4, Magnification(steps(10)))
	assert.Equal(t, 1, Magnification(px(0)))
}

func TestSendWritesPayload(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	got := make(chan []byte, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		data, _ := io.ReadAll(conn)
		got <- data
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, Send(ctx, ln.Addr().String(), []byte{0x1B, '@', 'x'}))

	select {
	case data := <-got:
		assert.Equal(t, []byte{0x1B, '@', 'x'}, data)
	case <-time.After(2 * time.Second):
		t.Fatal("printer received nothing")
	}
}

func TestSendDialFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	err = Send(context.Background(), addr, []byte("x"))
	assert.ErrorContains(t, err, "dial printer")
}
