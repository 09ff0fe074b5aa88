package touch

import (
	"sync"

	"touchcode-go/drivers/mpr121"
)

// EventKind identifies what an Event reports.
type EventKind uint8

const (
	EventReady   EventKind = iota + 1 // bring-up complete
	EventError                        // bring-up, sampling or threshold failure; Err set
	EventTouch                        // Channel went from released to touched
	EventRelease                      // Channel went from touched to released
	EventState                        // Channel changed; Touched is the new state
)

func (k EventKind) String() string {
	switch k {
	case EventReady:
		return "ready"
	case EventError:
		return "error"
	case EventTouch:
		return "touch"
	case EventRelease:
		return "release"
	case EventState:
		return "state"
	default:
		return "unknown"
	}
}

// Error sources carried in Event.Op.
const (
	OpInit       = "init"
	OpPoll       = "poll"
	OpThresholds = "thresholds"
)

// Event is delivered to listeners in the order it was produced.
type Event struct {
	Kind    EventKind
	Channel int   // touch, release, state
	Touched bool  // state
	Err     error // error
	Op      string
	TSms    int64
}

type listener struct {
	id   uint64
	kind EventKind // 0 = all kinds
	fn   func(Event)
}

// listeners is a copy-on-dispatch callback registry.
type listeners struct {
	mu   sync.RWMutex
	next uint64
	ls   []listener
}

func (l *listeners) add(kind EventKind, fn func(Event)) (off func()) {
	l.mu.Lock()
	l.next++
	id := l.next
	l.ls = append(l.ls, listener{id: id, kind: kind, fn: fn})
	l.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			for i := range l.ls {
				if l.ls[i].id == id {
					l.ls = append(l.ls[:i], l.ls[i+1:]...)
					return
				}
			}
		})
	}
}

func (l *listeners) snapshot() []listener {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]listener(nil), l.ls...)
}

// On registers fn for one kind of event. The returned func unregisters it.
//
// Listeners run synchronously on the goroutine that produced the event (the
// polling loop or the bring-up goroutine) and must not block. They may call
// Stop, IsTouched, State and the register queries; Poll called from a
// listener returns errcode.Busy. Init and SetThresholds must not be called
// from a listener.
func (s *Sensor) On(kind EventKind, fn func(Event)) (off func()) {
	return s.ls.add(kind, fn)
}

// OnAny registers fn for every event.
func (s *Sensor) OnAny(fn func(Event)) (off func()) {
	return s.ls.add(0, fn)
}

// OnChannel registers fn for state changes of a single channel. Channels
// outside [0,11] never fire.
func (s *Sensor) OnChannel(channel int, fn func(touched bool)) (off func()) {
	return s.ls.add(EventState, func(ev Event) {
		if ev.Channel == channel {
			fn(ev.Touched)
		}
	})
}

// dispatch delivers events in order. Caller holds emitMu.
func (s *Sensor) dispatch(evs ...Event) {
	if len(evs) == 0 {
		return
	}
	ls := s.ls.snapshot()
	s.dispatching.Store(true)
	defer s.dispatching.Store(false)
	for _, ev := range evs {
		for _, l := range ls {
			if l.kind == 0 || l.kind == ev.Kind {
				l.fn(ev)
			}
		}
	}
}

func (s *Sensor) emit(evs ...Event) {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()
	s.dispatch(evs...)
}

// diffMask compares mask against prev, updates prev and returns the edge
// events in ascending channel order: a touch or release followed by the
// state change for the same channel. Unchanged channels produce nothing.
func diffMask(prev *[mpr121.Channels]bool, mask uint16, ts int64) []Event {
	var evs []Event
	for i := range prev {
		cur := mask&(1<<uint(i)) != 0
		if cur == prev[i] {
			continue
		}
		prev[i] = cur
		kind := EventRelease
		if cur {
			kind = EventTouch
		}
		evs = append(evs,
			Event{Kind: kind, Channel: i, Touched: cur, TSms: ts},
			Event{Kind: EventState, Channel: i, Touched: cur, TSms: ts},
		)
	}
	return evs
}
