package touch

import (
	"errors"
	"sync"
	"testing"
	"time"

	"touchcode-go/drivers/mpr121"

	"tinygo.org/x/drivers"
)

// Compile-time check.
var _ drivers.I2C = (*fakeMPR121)(nil)

var errNack = errors.New("i2c: nack")

// Register-file MPR121 fake. Status reads can be gated to hold a sample
// on the bus.
type fakeMPR121 struct {
	mu       sync.Mutex
	regs     [256]byte
	failReg  int // register whose write fails; -1 = none
	failSkip int // writes to failReg that still succeed first
	readErr  error

	gate    chan struct{} // status reads block until it yields
	entered chan struct{} // signalled when a gated status read starts
	reads   int
}

func newFakeMPR121() *fakeMPR121 { return &fakeMPR121{failReg: -1} }

func (f *fakeMPR121) setMask(m uint16) {
	f.mu.Lock()
	f.regs[mpr121.TOUCHSTATUS_L] = byte(m)
	f.regs[mpr121.TOUCHSTATUS_H] = byte(m >> 8)
	f.mu.Unlock()
}

func (f *fakeMPR121) setReadErr(err error) {
	f.mu.Lock()
	f.readErr = err
	f.mu.Unlock()
}

func (f *fakeMPR121) statusReads() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reads
}

func (f *fakeMPR121) Tx(addr uint16, w, r []byte) error {
	f.mu.Lock()
	if len(w) == 2 && len(r) == 0 {
		defer f.mu.Unlock()
		if int(w[0]) == f.failReg {
			if f.failSkip == 0 {
				return errNack
			}
			f.failSkip--
		}
		f.regs[w[0]] = w[1]
		return nil
	}
	if len(w) != 1 || len(r) == 0 {
		f.mu.Unlock()
		return errors.New("fake: unexpected transaction")
	}
	if w[0] == mpr121.TOUCHSTATUS_L {
		f.reads++
		if gate := f.gate; gate != nil {
			entered := f.entered
			f.mu.Unlock()
			select {
			case entered <- struct{}{}:
			default:
			}
			<-gate
			f.mu.Lock()
		}
	}
	defer f.mu.Unlock()
	if f.readErr != nil {
		return f.readErr
	}
	for i := range r {
		r[i] = f.regs[int(w[0])+i]
	}
	return nil
}

// recorder collects every event a sensor emits.
type recorder struct {
	mu  sync.Mutex
	evs []Event
	ch  chan Event
}

func record(s *Sensor) *recorder {
	r := &recorder{ch: make(chan Event, 256)}
	s.OnAny(func(ev Event) {
		r.mu.Lock()
		r.evs = append(r.evs, ev)
		r.mu.Unlock()
		select {
		case r.ch <- ev:
		default:
		}
	})
	return r
}

func (r *recorder) all() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.evs...)
}

func (r *recorder) count(kind EventKind) int {
	n := 0
	for _, ev := range r.all() {
		if ev.Kind == kind {
			n++
		}
	}
	return n
}

// waitFor returns the next event of kind, skipping others.
func (r *recorder) waitFor(t *testing.T, kind EventKind) Event {
	t.Helper()
	deadline := time.After(time.Second)
	for {
		select {
		case ev := <-r.ch:
			if ev.Kind == kind {
				return ev
			}
		case <-deadline:
			t.Fatalf("timeout waiting for %v event", kind)
			return Event{}
		}
	}
}

func (r *recorder) expectQuiet(t *testing.T, d time.Duration) {
	t.Helper()
	select {
	case ev := <-r.ch:
		t.Fatalf("unexpected event: %+v", ev)
	case <-time.After(d):
	}
}

func testConfig(every time.Duration) Config {
	return Config{
		Name:         "pad0",
		Bus:          1,
		PollInterval: every,
		ResetDelay:   time.Millisecond,
	}
}
