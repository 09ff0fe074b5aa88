package touch

import (
	"context"
	"testing"
	"time"

	"touchcode-go/bus"
	"touchcode-go/drivers/mpr121"
	"touchcode-go/errcode"
	"touchcode-go/types"
)

func startPublisher(t *testing.T, s *Sensor) (*bus.Connection, context.CancelFunc) {
	t.Helper()
	b := bus.NewBus(32)
	conn := b.NewConnection("test")
	p := NewPublisher(b.NewConnection("touch"), s)

	info := conn.Subscribe(TopicInfo(s.Name()))
	defer conn.Unsubscribe(info)

	ctx, cancel := context.WithCancel(context.Background())
	go p.Run(ctx)
	t.Cleanup(cancel)

	// info is published after the control subscription is in place
	select {
	case <-info.Channel():
	case <-time.After(time.Second):
		t.Fatal("publisher did not announce itself")
	}
	return conn, cancel
}

func request(t *testing.T, conn *bus.Connection, name, verb string, payload any) any {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	m, err := conn.RequestWait(ctx, conn.NewMessage(TopicControl(name, verb), payload, false))
	if err != nil {
		t.Fatalf("%s: %v", verb, err)
	}
	return m.Payload
}

func expectErrorReply(t *testing.T, got any, code errcode.Code) {
	t.Helper()
	er, ok := got.(types.ErrorReply)
	if !ok {
		t.Fatalf("reply = %#v, want ErrorReply", got)
	}
	if er.OK || er.Error != string(code) {
		t.Fatalf("reply = %+v, want %q", er, code)
	}
}

func nextOn(t *testing.T, sub *bus.Subscription) *bus.Message {
	t.Helper()
	select {
	case m := <-sub.Channel():
		return m
	case <-time.After(time.Second):
		t.Fatalf("no message on %v", sub.Topic())
		return nil
	}
}

func TestPublisher_LifecycleState(t *testing.T) {
	f := newFakeMPR121()
	s := New(f, testConfig(0))
	conn, _ := startPublisher(t, s)

	st := conn.Subscribe(TopicState("pad0"))
	if v := nextOn(t, st).Payload.(types.SensorState); v.Level != types.LevelIdle {
		t.Fatalf("initial level = %q", v.Level)
	}

	status := conn.Subscribe(TopicStatus("pad0"))
	if v := nextOn(t, status).Payload.(types.SensorStatus); v.Link != types.LinkDown {
		t.Fatalf("initial link = %q", v.Link)
	}

	if err := s.Init(context.Background()); err != nil {
		t.Fatal(err)
	}
	if v := nextOn(t, st).Payload.(types.SensorState); v.Level != types.LevelReady {
		t.Fatalf("level after Init = %q", v.Level)
	}
	if v := nextOn(t, status).Payload.(types.SensorStatus); v.Link != types.LinkUp {
		t.Fatalf("link after Init = %q", v.Link)
	}
}

func TestPublisher_InitFailure(t *testing.T) {
	f := newFakeMPR121()
	f.failReg = mpr121.ECR
	s := New(f, testConfig(0))
	conn, _ := startPublisher(t, s)
	st := conn.Subscribe(TopicState("pad0"))
	nextOn(t, st) // idle

	if err := s.Init(context.Background()); err == nil {
		t.Fatal("Init succeeded")
	}
	v := nextOn(t, st).Payload.(types.SensorState)
	if v.Level != types.LevelFailed || v.Status != string(errcode.IOError) {
		t.Fatalf("state = %+v", v)
	}
}

func TestPublisher_TouchEvents(t *testing.T) {
	f := newFakeMPR121()
	s := New(f, testConfig(0))
	if err := s.Init(context.Background()); err != nil {
		t.Fatal(err)
	}
	conn, _ := startPublisher(t, s)

	touches := conn.Subscribe(TopicEvent("pad0", "touch"))
	releases := conn.Subscribe(TopicEvent("pad0", "release"))

	f.setMask(1 << 3)
	if _, err := s.Poll(context.Background()); err != nil {
		t.Fatal(err)
	}
	m := nextOn(t, touches)
	if m.Retained || m.Payload.(types.ChannelEvent).Channel != 3 {
		t.Fatalf("touch = %+v", m)
	}

	// channel value is retained for late subscribers
	val := conn.Subscribe(TopicChannel("pad0", 3))
	cv := nextOn(t, val)
	if !cv.Retained || !cv.Payload.(types.ChannelValue).Touched {
		t.Fatalf("channel value = %+v", cv)
	}

	f.setMask(0)
	s.Poll(context.Background())
	if ev := nextOn(t, releases).Payload.(types.ChannelEvent); ev.Channel != 3 {
		t.Fatalf("release = %+v", ev)
	}
	if v := nextOn(t, val).Payload.(types.ChannelValue); v.Touched {
		t.Fatal("channel 3 still touched")
	}
}

func TestPublisher_ControlNotReady(t *testing.T) {
	s := New(newFakeMPR121(), testConfig(0))
	conn, _ := startPublisher(t, s)

	for _, verb := range []string{"read", "touched", "filtered", "baseline", "thresholds"} {
		expectErrorReply(t, request(t, conn, "pad0", verb, nil), errcode.NotReady)
	}

	got := request(t, conn, "pad0", "is_touched", types.ChannelQuery{Channel: 2})
	if v := got.(types.IsTouchedValue); v.Touched {
		t.Fatalf("is_touched before ready = %+v", v)
	}
}

func TestPublisher_ControlQueries(t *testing.T) {
	f := newFakeMPR121()
	s := New(f, testConfig(0))
	if err := s.Init(context.Background()); err != nil {
		t.Fatal(err)
	}
	conn, _ := startPublisher(t, s)

	f.setMask(0xF004)
	if v := request(t, conn, "pad0", "read", nil).(types.TouchMask); v.Mask != 0x0004 {
		t.Fatalf("read mask = %#x", v.Mask)
	}
	if v := request(t, conn, "pad0", "is_touched", types.ChannelQuery{Channel: 2}).(types.IsTouchedValue); !v.Touched {
		t.Fatal("is_touched(2) = false after read")
	}
	if v := request(t, conn, "pad0", "touched", nil).(types.TouchMask); v.Mask != 0x0004 {
		t.Fatalf("touched mask = %#x", v.Mask)
	}

	f.mu.Lock()
	f.regs[mpr121.BASELINE_0+1] = 0x10
	f.mu.Unlock()
	if v := request(t, conn, "pad0", "baseline", types.ChannelQuery{Channel: 1}).(types.ChannelData); v.Value != 0x40 {
		t.Fatalf("baseline = %#x", v.Value)
	}
	expectErrorReply(t,
		request(t, conn, "pad0", "filtered", types.ChannelQuery{Channel: 12}),
		errcode.OutOfRange)
	expectErrorReply(t,
		request(t, conn, "pad0", "filtered", "not a query"),
		errcode.InvalidPayload)
}

func TestPublisher_ControlThresholds(t *testing.T) {
	f := newFakeMPR121()
	s := New(f, testConfig(0))
	if err := s.Init(context.Background()); err != nil {
		t.Fatal(err)
	}
	conn, _ := startPublisher(t, s)

	expectErrorReply(t, request(t, conn, "pad0", "thresholds", nil), errcode.InvalidPayload)
	expectErrorReply(t,
		request(t, conn, "pad0", "thresholds", types.ThresholdsSet{Touch: 300, Release: 1}),
		errcode.OutOfRange)

	got := request(t, conn, "pad0", "thresholds", types.ThresholdsSet{Touch: 20, Release: 7})
	if ok, _ := got.(types.OKReply); !ok.OK {
		t.Fatalf("reply = %#v", got)
	}
	if th := s.Thresholds(); th.Touch != 20 || th.Release != 7 {
		t.Fatalf("thresholds = %+v", th)
	}
}

func TestPublisher_ControlStartStop(t *testing.T) {
	f := newFakeMPR121()
	s := New(f, testConfig(tick))
	defer s.Stop()
	conn, _ := startPublisher(t, s)

	if ok := request(t, conn, "pad0", "start", nil).(types.OKReply); !ok.OK {
		t.Fatal("start not acknowledged")
	}
	if !s.Pending() {
		t.Fatal("start before ready not pending")
	}
	if err := s.Init(context.Background()); err != nil {
		t.Fatal(err)
	}
	if !s.Running() {
		t.Fatal("not running after Init")
	}
	request(t, conn, "pad0", "stop", nil)
	if s.Running() {
		t.Fatal("still running after stop")
	}

	expectErrorReply(t, request(t, conn, "pad0", "reboot", nil), errcode.Unsupported)
}

func TestPublisher_StoppedOnCancel(t *testing.T) {
	s := New(newFakeMPR121(), testConfig(0))
	conn, cancel := startPublisher(t, s)
	st := conn.Subscribe(TopicState("pad0"))
	nextOn(t, st) // idle

	cancel()
	v := nextOn(t, st).Payload.(types.SensorState)
	if v.Level != types.LevelStopped {
		t.Fatalf("level = %q", v.Level)
	}
}

func TestPublisher_ResyncAfterOverflow(t *testing.T) {
	f := newFakeMPR121()
	s := New(f, testConfig(0))
	if err := s.Init(context.Background()); err != nil {
		t.Fatal(err)
	}
	b := bus.NewBus(64)
	conn := b.NewConnection("test")
	p := NewPublisher(b.NewConnection("touch"), s)

	// Run is not started yet, so the queue fills and the tail is dropped.
	ctx := context.Background()
	for i := 0; i < eventQueueLen; i++ {
		f.setMask(1)
		if _, err := s.Poll(ctx); err != nil {
			t.Fatal(err)
		}
		f.setMask(0)
		if _, err := s.Poll(ctx); err != nil {
			t.Fatal(err)
		}
	}
	f.setMask(1 << 5)
	if _, err := s.Poll(ctx); err != nil {
		t.Fatal(err)
	}
	if n := len(p.evCh); n != eventQueueLen {
		t.Fatalf("queued = %d, want full queue", n)
	}

	sub := conn.Subscribe(TopicChannel("pad0", 5))
	runCtx, cancel := context.WithCancel(ctx)
	t.Cleanup(cancel)
	go p.Run(runCtx)

	for {
		v, ok := nextOn(t, sub).Payload.(types.ChannelValue)
		if !ok {
			t.Fatal("unexpected payload type")
		}
		if v.Touched {
			break
		}
	}

	ch0 := conn.Subscribe(TopicChannel("pad0", 0))
	if v := nextOn(t, ch0).Payload.(types.ChannelValue); v.Touched {
		t.Fatal("channel 0 retained as touched after release")
	}
}
