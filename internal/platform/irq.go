// internal/platform/irq.go
package platform

import (
	"context"
	"fmt"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
)

// edgeWait bounds each WaitForEdge so cancellation is noticed.
const edgeWait = 100 * time.Millisecond

// irqPin is the part of gpio.PinIO the watcher uses.
type irqPin interface {
	In(pull gpio.Pull, edge gpio.Edge) error
	WaitForEdge(timeout time.Duration) bool
	Read() gpio.Level
	Halt() error
}

// pinByName is replaced in tests.
var pinByName = func(name string) (irqPin, error) {
	if err := initHost(); err != nil {
		return nil, err
	}
	p := gpioreg.ByName(name)
	if p == nil {
		return nil, fmt.Errorf("gpio %q: no such pin", name)
	}
	return p, nil
}

// WatchIRQ calls fn on every falling edge of the named pin until ctx is
// done. The MPR121 IRQ output is open-drain and active low; it stays low
// until the touch status is read, so fn is also called once at start if the
// line is already asserted.
func WatchIRQ(ctx context.Context, name string, fn func()) error {
	p, err := pinByName(name)
	if err != nil {
		return err
	}
	if err := p.In(gpio.PullUp, gpio.FallingEdge); err != nil {
		return fmt.Errorf("gpio %q: %w", name, err)
	}

	go func() {
		defer p.Halt()
		if p.Read() == gpio.Low {
			fn()
		}
		for ctx.Err() == nil {
			if p.WaitForEdge(edgeWait) && ctx.Err() == nil {
				fn()
			}
		}
	}()
	return nil
}
