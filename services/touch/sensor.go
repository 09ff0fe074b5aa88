// Package touch turns an MPR121 into a stream of per-channel touch and
// release events.
//
// A Sensor owns the bring-up of one controller, an optional polling loop and
// a cache of the last observed touch state. Events go to registered
// listeners; a Publisher mirrors them onto the bus.
package touch

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"touchcode-go/drivers/mpr121"
	"touchcode-go/errcode"
	"touchcode-go/x/timex"

	"tinygo.org/x/drivers"
)

// Config describes one sensor. Zero values take driver defaults; a zero
// PollInterval disables polling (manual Poll only).
type Config struct {
	Name         string
	Bus          int // informational; the caller opens the bus
	Address      uint16
	PollInterval time.Duration
	Sensitivity  mpr121.Sensitivity
	Thresholds   *mpr121.Thresholds
	Electrodes   int
	ResetDelay   time.Duration
}

// Sensor is the handle for one MPR121.
type Sensor struct {
	cfg Config
	drv *mpr121.Device

	io     sync.Mutex // serialises driver access (shared buffers)
	initMu sync.Mutex // serialises bring-up

	mu       sync.Mutex
	ready    bool
	state    [mpr121.Channels]bool
	pending  bool               // Start requested before ready
	cancel   context.CancelFunc // poll loop; nil when stopped
	gen      uint64             // bumped on every start/stop
	initErr  error
	initDone chan struct{}
	initOnce sync.Once

	emitMu      sync.Mutex  // serialises dispatch
	dispatching atomic.Bool // listeners are running
	sampling    atomic.Bool // a status read+diff is in progress

	ls listeners
}

// New creates a Sensor over an already configured I2C bus. It does not
// touch the device; call Init (or use Open).
func New(bus drivers.I2C, cfg Config) *Sensor {
	if cfg.Address == 0 {
		cfg.Address = mpr121.AddressDefault
	}
	drv := mpr121.New(bus)
	drv.Address = cfg.Address
	return &Sensor{
		cfg:      cfg,
		drv:      drv,
		initDone: make(chan struct{}),
	}
}

// Open creates a Sensor, requests polling and runs bring-up on its own
// goroutine. Polling begins once bring-up succeeds. Listeners registered
// after Open returns can miss EventReady; use WaitReady, or New followed by
// On, Start and Init.
func Open(ctx context.Context, bus drivers.I2C, cfg Config) *Sensor {
	s := New(bus, cfg)
	s.Start()
	go s.Init(ctx)
	return s
}

func (s *Sensor) Name() string { return s.cfg.Name }

// Config returns the sensor configuration, including thresholds applied at
// runtime through SetThresholds.
func (s *Sensor) Config() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// Init runs the bring-up sequence. On success the sensor becomes ready,
// EventReady is emitted and a pending Start is honoured once. On failure a
// single EventError is emitted, the sensor stays not ready and any pending
// Start is dropped. Init is never retried automatically; calling it again
// repeats the whole sequence.
func (s *Sensor) Init(ctx context.Context) error {
	err := s.bringUp(ctx)
	if err != nil {
		s.mu.Lock()
		s.ready = false
		s.pending = false
		s.initErr = err
		s.mu.Unlock()
		s.initOnce.Do(func() { close(s.initDone) })
		s.emit(Event{Kind: EventError, Err: err, Op: OpInit, TSms: timex.NowMs()})
		return err
	}

	s.mu.Lock()
	s.ready = true
	s.initErr = nil
	s.mu.Unlock()
	s.initOnce.Do(func() { close(s.initDone) })
	s.emit(Event{Kind: EventReady, TSms: timex.NowMs()})

	// Stop may have cleared the request while EventReady was dispatched.
	s.mu.Lock()
	if s.pending {
		s.pending = false
		s.startLocked()
	}
	s.mu.Unlock()
	return nil
}

func (s *Sensor) bringUp(ctx context.Context) error {
	s.initMu.Lock()
	defer s.initMu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	s.ready = false
	s.mu.Unlock()

	cfg := s.Config()
	s.io.Lock()
	defer s.io.Unlock()
	return s.drv.ConfigureContext(ctx, mpr121.Config{
		Address:     cfg.Address,
		Sensitivity: cfg.Sensitivity,
		Thresholds:  cfg.Thresholds,
		Electrodes:  cfg.Electrodes,
		ResetDelay:  cfg.ResetDelay,
	})
}

// WaitReady blocks until the first bring-up attempt finishes or ctx is done.
// It returns the error of the most recent attempt.
func (s *Sensor) WaitReady(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.initDone:
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.initErr
}

// Ready reports whether bring-up has completed successfully.
func (s *Sensor) Ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ready
}

// IsTouched returns the cached state of channel. It returns false before
// the sensor is ready and for channels outside [0,11].
func (s *Sensor) IsTouched(channel int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.ready || channel < 0 || channel >= mpr121.Channels {
		return false
	}
	return s.state[channel]
}

// State returns a copy of the cached per-channel state.
func (s *Sensor) State() [mpr121.Channels]bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Touched reads the 12-bit touch status mask from the device, bypassing the
// cache.
func (s *Sensor) Touched() (uint16, error) {
	s.io.Lock()
	defer s.io.Unlock()
	return s.drv.Touched()
}

// FilteredData reads the filtered electrode data for channel.
func (s *Sensor) FilteredData(channel int) (uint16, error) {
	s.io.Lock()
	defer s.io.Unlock()
	return s.drv.FilteredData(channel)
}

// BaselineData reads and decodes the baseline value for channel.
func (s *Sensor) BaselineData(channel int) (uint16, error) {
	s.io.Lock()
	defer s.io.Unlock()
	return s.drv.BaselineData(channel)
}

// SetThresholds re-applies touch/release thresholds to all electrodes. On
// success the pair replaces Config.Thresholds, so a later Init keeps it. A
// failure that leaves the electrodes stopped makes the sensor not ready and
// emits EventError with Op OpThresholds; Init recovers it.
func (s *Sensor) SetThresholds(touch, release int) error {
	s.io.Lock()
	err := s.drv.SetThresholds(touch, release)
	lost := err != nil && !s.drv.Configured()
	s.io.Unlock()

	if err == nil {
		s.mu.Lock()
		s.cfg.Thresholds = &mpr121.Thresholds{Touch: touch, Release: release}
		s.mu.Unlock()
		return nil
	}
	if lost {
		s.mu.Lock()
		wasReady := s.ready
		s.ready = false
		s.mu.Unlock()
		if wasReady {
			s.emit(Event{Kind: EventError, Err: err, Op: OpThresholds, TSms: timex.NowMs()})
		}
	}
	return err
}

// Thresholds returns the thresholds last written to the device.
func (s *Sensor) Thresholds() mpr121.Thresholds {
	s.io.Lock()
	defer s.io.Unlock()
	return s.drv.CurrentThresholds()
}

// Close stops polling. The bus is owned by the caller.
func (s *Sensor) Close() error {
	s.Stop()
	return nil
}

// errStale marks a sample discarded because polling stopped mid-read.
var errStale = &errcode.E{C: errcode.Busy, Msg: "sample discarded after stop"}
