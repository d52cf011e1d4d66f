//go:build rp2040 || rp2350

package console

import (
	"context"
	"machine"

	uartx "github.com/jangala-dev/tinygo-uartx/uartx"
)

// uartxPort adapts a uartx UART to the console Port.
type uartxPort struct{ u *uartx.UART }

func (p *uartxPort) Write(b []byte) (int, error) { return p.u.Write(b) }
func (p *uartxPort) RecvSomeContext(ctx context.Context, buf []byte) (int, error) {
	return p.u.RecvSomeContext(ctx, buf)
}

// DefaultPort configures uart0 on the board-default pins.
func DefaultPort(baud uint32) Port {
	hw := uartx.UART0
	_ = hw.Configure(uartx.UARTConfig{
		BaudRate: baud,
		TX:       machine.UART0_TX_PIN,
		RX:       machine.UART0_RX_PIN,
	})
	return &uartxPort{u: hw}
}
