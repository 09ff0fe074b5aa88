package touch

import (
	"context"
	"time"

	"touchcode-go/errcode"
	"touchcode-go/x/timex"
)

// Start arms periodic sampling at Config.PollInterval. Before the sensor is
// ready the request is remembered and honoured once when Init succeeds. A
// zero interval or an already running loop makes Start a no-op.
func (s *Sensor) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cfg.PollInterval <= 0 || s.cancel != nil {
		return
	}
	if !s.ready {
		s.pending = true
		return
	}
	s.startLocked()
}

func (s *Sensor) startLocked() {
	ctx, cancel := context.WithCancel(context.Background())
	s.gen++
	s.cancel = cancel
	go s.loop(ctx, s.gen, s.cfg.PollInterval)
}

// Stop cancels sampling and any pending Start. It is safe to call at any
// time, repeatedly, and from a listener. No status read starts after Stop
// returns and a read already on the bus is discarded. A sample whose diff
// was applied before Stop is still delivered in full, so listeners may see
// the rest of that one batch after Stop returns.
func (s *Sensor) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = false
	if s.cancel == nil {
		return
	}
	s.cancel()
	s.cancel = nil
	s.gen++
}

// Running reports whether the polling loop is armed.
func (s *Sensor) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancel != nil
}

// Pending reports whether a Start is waiting for bring-up.
func (s *Sensor) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending
}

// loop ticks until ctx is cancelled. time.Ticker drops ticks for a slow
// receiver, so samples never overlap within a loop.
func (s *Sensor) loop(ctx context.Context, gen uint64, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			_, _ = s.sample(gen, true)
		}
	}
}

// Poll takes one sample on demand and feeds it through the diff engine. It
// returns errcode.NotReady before bring-up and errcode.Busy when another
// sample is in progress.
func (s *Sensor) Poll(ctx context.Context) (uint16, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return s.sample(0, false)
}

// sample reads the status register and applies the diff. At most one sample
// runs at a time; overlapping requests are skipped. When fromLoop is set the
// result is dropped if the loop generation changed during the read.
func (s *Sensor) sample(gen uint64, fromLoop bool) (uint16, error) {
	if !fromLoop && s.dispatching.Load() {
		return 0, errcode.Busy
	}
	if !s.sampling.CompareAndSwap(false, true) {
		return 0, errcode.Busy
	}
	defer s.sampling.Store(false)

	s.mu.Lock()
	ok := s.ready && (!fromLoop || s.gen == gen)
	s.mu.Unlock()
	if !ok {
		return 0, errcode.NotReady
	}

	mask, err := s.Touched()

	s.emitMu.Lock()
	defer s.emitMu.Unlock()

	s.mu.Lock()
	if fromLoop && s.gen != gen {
		s.mu.Unlock()
		return 0, errStale
	}
	if err != nil {
		s.mu.Unlock()
		s.dispatch(Event{Kind: EventError, Err: err, Op: OpPoll, TSms: timex.NowMs()})
		return 0, err
	}
	evs := diffMask(&s.state, mask, timex.NowMs())
	s.mu.Unlock()

	s.dispatch(evs...)
	return mask, nil
}
