// internal/platform/i2c.go

// Package platform opens the Linux peripherals a touch sensor needs: I²C
// buses by number and an optional interrupt pin.
package platform

import (
	"errors"
	"fmt"
	"strconv"
	"sync"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/host/v3"

	"tinygo.org/x/drivers"
)

// A periph bus is a drivers.I2C as is.
var _ drivers.I2C = i2c.Bus(nil)

// DefaultI2CSpeed is the MPR121's fast-mode limit.
const DefaultI2CSpeed = 400 * physic.KiloHertz

var (
	hostOnce sync.Once
	hostErr  error
)

func initHost() error {
	hostOnce.Do(func() {
		_, hostErr = host.Init()
	})
	return hostErr
}

// openBus is replaced in tests.
var openBus = func(name string) (i2c.BusCloser, error) {
	if err := initHost(); err != nil {
		return nil, err
	}
	return i2creg.Open(name)
}

// I2CFactory hands out one shared bus per number (/dev/i2c-N). Sensors on
// the same bus share the handle.
type I2CFactory struct {
	Speed physic.Frequency // 0 leaves the kernel default

	mu    sync.Mutex
	buses map[int]i2c.BusCloser
}

func NewI2CFactory(speed physic.Frequency) *I2CFactory {
	return &I2CFactory{Speed: speed, buses: make(map[int]i2c.BusCloser)}
}

// ByID opens bus n on first use. A negative n selects the first bus the
// host registered.
func (f *I2CFactory) ByID(n int) (drivers.I2C, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if b, ok := f.buses[n]; ok {
		return b, nil
	}

	name := ""
	if n >= 0 {
		name = strconv.Itoa(n)
	}
	b, err := openBus(name)
	if err != nil {
		return nil, fmt.Errorf("i2c%d: %w", n, err)
	}
	if f.Speed > 0 {
		// sysfs adapters reject this; the bus keeps the kernel-configured rate.
		_ = b.SetSpeed(f.Speed)
	}
	if f.buses == nil {
		f.buses = make(map[int]i2c.BusCloser)
	}
	f.buses[n] = b
	return b, nil
}

// Close releases every bus opened so far.
func (f *I2CFactory) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	var errs []error
	for n, b := range f.buses {
		if err := b.Close(); err != nil {
			errs = append(errs, fmt.Errorf("i2c%d: %w", n, err))
		}
		delete(f.buses, n)
	}
	return errors.Join(errs...)
}
