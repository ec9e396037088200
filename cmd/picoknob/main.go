//go:build rp2040

package main

import (
	"machine"
	"time"

	uartx "github.com/jangala-dev/tinygo-uartx/uartx"

	rotary "github.com/jangala-dev/rotary-go"
	"github.com/jangala-dev/rotary-go/gpio"
	"github.com/jangala-dev/rotary-go/platform/rp2"
)

// KY-040 wiring on the Pico: CLK GP2, DT GP3, SW GP4. Event lines go
// out on UART0 (TX GP0, RX GP1); the USB console carries boot and
// heartbeat messages only.
const (
	clkPin    = 2
	dtPin     = 3
	buttonPin = 4

	uartTX   = 0
	uartRX   = 1
	uartBaud = 115200
)

func main() {
	println("[knob] boot …")
	time.Sleep(1500 * time.Millisecond)

	uart := uartx.UART0
	_ = uart.Configure(uartx.UARTConfig{
		BaudRate: uartBaud,
		TX:       machine.Pin(uartTX),
		RX:       machine.Pin(uartRX),
	})

	bank := rp2.New()
	scaler := rotary.NewStepScaler(1, 8, 250*time.Millisecond)

	// Handlers fire before Open returns the encoder, so they guard the
	// captured pointer. Inline dispatch keeps every callback on the
	// bank's pump goroutine, so the UART sees a single writer.
	var enc *rotary.Encoder

	emitTurn := func(dir rotary.Direction) {
		step := scaler.Step(dir)
		pos := 0
		if enc != nil {
			pos = int(enc.Position())
		}
		writeLine(uart, "turn "+dir.String()+" pos="+itoa(pos)+" step="+itoa(step))
	}

	enc, err := rotary.Open(bank, rotary.Config{
		CLK:            clkPin,
		DT:             dtPin,
		Button:         buttonPin,
		PhasePull:      gpio.PullUp,
		ButtonPull:     gpio.PullUp,
		ButtonInvert:   true,
		ButtonDebounce: 50 * time.Millisecond,
		Dispatch:       rotary.DispatchInline,
	}, rotary.Handlers{
		OnClockwise:        func() { emitTurn(rotary.Clockwise) },
		OnCounterClockwise: func() { emitTurn(rotary.CounterClockwise) },
		OnButtonDown:       func() { writeLine(uart, "btn down") },
		OnButtonUp:         func() { writeLine(uart, "btn up") },
	})
	if err != nil {
		println("[knob] open failed:", err.Error())
		return
	}

	println("[knob] ready: clk=GP", clkPin, " dt=GP", dtPin, " sw=GP", buttonPin)

	for {
		time.Sleep(5 * time.Second)
		println("[knob] pos=", int(enc.Position()), " drops=", bank.ISRDrops())
	}
}

func writeLine(u *uartx.UART, s string) {
	_, _ = u.Write([]byte(s))
	_, _ = u.Write([]byte{'\r', '\n'})
}

// itoa avoids fmt on the device.
func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	sign := ""
	if i < 0 {
		sign = "-"
		i = -i
	}
	var buf [32]byte
	b := len(buf)
	for i > 0 {
		b--
		buf[b] = byte('0' + (i % 10))
		i /= 10
	}
	if sign != "" {
		b--
		buf[b] = '-'
	}
	return string(buf[b:])
}
