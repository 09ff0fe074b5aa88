package touch

import (
	"context"

	"touchcode-go/bus"
	"touchcode-go/errcode"
	"touchcode-go/types"
	"touchcode-go/x/timex"
)

const eventQueueLen = 32

// Topic helpers.
//
//	touch/<name>/info                   retained types.Info
//	touch/<name>/state                  retained types.SensorState
//	touch/<name>/status                 retained types.SensorStatus
//	touch/<name>/channel/<i>/value      retained types.ChannelValue
//	touch/<name>/event/{touch,release}  types.ChannelEvent
//	touch/<name>/control/<verb>         request/reply

func TopicBase(name string) bus.Topic   { return bus.T("touch", name) }
func TopicInfo(name string) bus.Topic   { return TopicBase(name).Append("info") }
func TopicState(name string) bus.Topic  { return TopicBase(name).Append("state") }
func TopicStatus(name string) bus.Topic { return TopicBase(name).Append("status") }
func TopicChannel(name string, ch int) bus.Topic {
	return TopicBase(name).Append("channel", ch, "value")
}
func TopicEvent(name, tag string) bus.Topic { return TopicBase(name).Append("event", tag) }
func TopicControl(name, verb string) bus.Topic {
	return TopicBase(name).Append("control", verb)
}

// Publisher mirrors a Sensor onto the bus and serves its control verbs.
// All publication happens on the Run goroutine; sensor events are handed
// over through a bounded queue and dropped under pressure. A drop schedules
// a resync that republishes the retained topics from the sensor cache, so
// retained values converge even when individual events are lost.
type Publisher struct {
	s    *Sensor
	conn *bus.Connection
	name string

	evCh   chan Event
	resync chan struct{} // cap 1; pending after a drop
	off    func()
	link   types.Link
	level  string
}

// NewPublisher registers with the sensor immediately so that no event
// produced before Run starts is lost (up to the queue length).
func NewPublisher(conn *bus.Connection, s *Sensor) *Publisher {
	p := &Publisher{
		s:      s,
		conn:   conn,
		name:   s.Name(),
		evCh:   make(chan Event, eventQueueLen),
		resync: make(chan struct{}, 1),
		link:   types.LinkDown,
	}
	if p.name == "" {
		p.name = "mpr121"
	}
	p.off = s.OnAny(func(ev Event) { p.Emit(ev) })
	return p
}

// Emit enqueues ev for publication. It never blocks; false means the event
// was dropped and a resync is pending.
func (p *Publisher) Emit(ev Event) bool {
	select {
	case p.evCh <- ev:
		return true
	default:
	}
	select {
	case p.resync <- struct{}{}:
	default:
	}
	return false
}

// Run publishes until ctx is done.
func (p *Publisher) Run(ctx context.Context) {
	ctrl := p.conn.Subscribe(TopicBase(p.name).Append("control", "+"))
	defer p.conn.Unsubscribe(ctrl)
	defer p.off()

	p.publishInfo()
	if p.s.Ready() {
		p.pubState(types.LevelReady, "")
		p.pubStatus(types.LinkUp, "", timex.NowMs())
	} else {
		p.pubState(types.LevelIdle, "")
		p.pubStatus(types.LinkDown, "", timex.NowMs())
	}

	for {
		select {
		case <-ctx.Done():
			p.pubState(types.LevelStopped, "context_cancelled")
			return
		case ev := <-p.evCh:
			p.handleEvent(ev)
		case <-p.resync:
			p.drain()
			p.republish()
		case m, ok := <-ctrl.Channel():
			if !ok {
				return
			}
			p.handleControl(ctx, m)
		}
	}
}

// drain handles everything already queued so that older events cannot
// overwrite the snapshot taken by republish.
func (p *Publisher) drain() {
	for {
		select {
		case ev := <-p.evCh:
			p.handleEvent(ev)
		default:
			return
		}
	}
}

// republish rewrites the retained lifecycle and channel topics from the
// sensor's current state.
func (p *Publisher) republish() {
	ts := timex.NowMs()
	if p.s.Ready() && p.level != types.LevelReady {
		p.pubState(types.LevelReady, "")
		p.pubStatus(types.LinkUp, "", ts)
	}
	for ch, on := range p.s.State() {
		p.conn.Publish(p.conn.NewMessage(
			TopicChannel(p.name, ch),
			types.ChannelValue{Touched: on, TS: ts},
			true,
		))
	}
}

func (p *Publisher) publishInfo() {
	cfg := p.s.Config()
	p.conn.Publish(p.conn.NewMessage(TopicInfo(p.name), types.Info{
		SchemaVersion: 1,
		Driver:        "mpr121",
		Detail: types.TouchInfo{
			Bus:          cfg.Bus,
			Addr:         cfg.Address,
			Channels:     len(p.s.State()),
			Sensitivity:  cfg.Sensitivity.String(),
			PollInterval: int(cfg.PollInterval.Milliseconds()),
		},
	}, true))
}

func (p *Publisher) handleEvent(ev Event) {
	switch ev.Kind {
	case EventReady:
		p.pubState(types.LevelReady, "")
		p.pubStatus(types.LinkUp, "", ev.TSms)
	case EventError:
		code := string(errcode.MapDriverErr(ev.Err))
		if ev.Op != OpPoll {
			p.pubState(types.LevelFailed, code)
		}
		p.pubStatus(types.LinkDegraded, code, ev.TSms)
	case EventTouch, EventRelease:
		p.conn.Publish(p.conn.NewMessage(
			TopicEvent(p.name, ev.Kind.String()),
			types.ChannelEvent{Channel: ev.Channel, TS: ev.TSms},
			false,
		))
		if p.link != types.LinkUp {
			p.pubStatus(types.LinkUp, "", ev.TSms)
		}
	case EventState:
		p.conn.Publish(p.conn.NewMessage(
			TopicChannel(p.name, ev.Channel),
			types.ChannelValue{Touched: ev.Touched, TS: ev.TSms},
			true,
		))
	}
}

func (p *Publisher) pubState(level, status string) {
	p.level = level
	p.conn.Publish(p.conn.NewMessage(
		TopicState(p.name),
		types.SensorState{Level: level, Status: status, TS: timex.NowMs()},
		true,
	))
}

func (p *Publisher) pubStatus(link types.Link, code string, ts int64) {
	p.link = link
	p.conn.Publish(p.conn.NewMessage(
		TopicStatus(p.name),
		types.SensorStatus{Link: link, TS: ts, Error: code},
		true,
	))
}

// handleControl serves touch/<name>/control/<verb>.
func (p *Publisher) handleControl(ctx context.Context, m *bus.Message) {
	if m.Topic.Len() != 4 {
		p.replyErr(m, errcode.InvalidTopic)
		return
	}
	verb, _ := m.Topic.At(3).(string)

	switch verb {
	case "start":
		p.s.Start()
		p.replyOK(m)
	case "stop":
		p.s.Stop()
		p.replyOK(m)
	case "is_touched":
		q, code := as[types.ChannelQuery](m.Payload)
		if code != "" {
			p.replyErr(m, code)
			return
		}
		p.reply(m, types.IsTouchedValue{Channel: q.Channel, Touched: p.s.IsTouched(q.Channel)})
	case "read", "touched", "filtered", "baseline", "thresholds":
		if !p.s.Ready() {
			p.replyErr(m, errcode.NotReady)
			return
		}
		p.handleIO(ctx, m, verb)
	default:
		p.replyErr(m, errcode.Unsupported)
	}
}

func (p *Publisher) handleIO(ctx context.Context, m *bus.Message, verb string) {
	switch verb {
	case "read":
		mask, err := p.s.Poll(ctx)
		if err != nil {
			p.replyErr(m, errcode.MapDriverErr(err))
			return
		}
		p.reply(m, types.TouchMask{Mask: mask})
	case "touched":
		mask, err := p.s.Touched()
		if err != nil {
			p.replyErr(m, errcode.MapDriverErr(err))
			return
		}
		p.reply(m, types.TouchMask{Mask: mask})
	case "filtered", "baseline":
		q, code := as[types.ChannelQuery](m.Payload)
		if code != "" {
			p.replyErr(m, code)
			return
		}
		read := p.s.FilteredData
		if verb == "baseline" {
			read = p.s.BaselineData
		}
		v, err := read(q.Channel)
		if err != nil {
			p.replyErr(m, errcode.MapDriverErr(err))
			return
		}
		p.reply(m, types.ChannelData{Channel: q.Channel, Value: v})
	case "thresholds":
		t, code := as[types.ThresholdsSet](m.Payload)
		if code != "" || m.Payload == nil {
			p.replyErr(m, errcode.InvalidPayload)
			return
		}
		if err := p.s.SetThresholds(t.Touch, t.Release); err != nil {
			p.replyErr(m, errcode.MapDriverErr(err))
			return
		}
		p.replyOK(m)
	}
}

func (p *Publisher) reply(m *bus.Message, v any) {
	p.conn.Reply(m, v, false)
}

func (p *Publisher) replyOK(m *bus.Message) {
	p.conn.Reply(m, types.OKReply{OK: true}, false)
}

func (p *Publisher) replyErr(m *bus.Message, code errcode.Code) {
	if code == "" {
		code = errcode.Error
	}
	p.conn.Reply(m, types.ErrorReply{OK: false, Error: string(code)}, false)
}

// as asserts a payload to the concrete value type T. A nil payload is the
// zero value of T.
func as[T any](v any) (T, errcode.Code) {
	var zero T
	if v == nil {
		return zero, ""
	}
	t, ok := v.(T)
	if !ok {
		return zero, errcode.InvalidPayload
	}
	return t, ""
}
