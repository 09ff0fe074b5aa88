// cmd/touch-monitor/main.go
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"touchcode-go/bus"
	"touchcode-go/errcode"
	"touchcode-go/internal/platform"
	"touchcode-go/services/config"
	"touchcode-go/services/touch"

	"tinygo.org/x/drivers"
)

func main() {
	cfgPath := flag.String("config", "", "YAML config file (default: embedded single sensor)")
	verbose := flag.Bool("v", false, "print every touch/# bus message")
	flag.Parse()

	// --------------------
	// Load + validate config
	// --------------------

	cfg := config.Default()
	if *cfgPath != "" {
		var err error
		if cfg, err = config.Load(*cfgPath); err != nil {
			log.Fatalf("config load failed: %v", err)
		}
	}
	if err := config.Validate(cfg); err != nil {
		log.Fatalf("config validation failed: %v", err)
	}
	config.Normalize(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	buses := platform.NewI2CFactory(platform.DefaultI2CSpeed)
	err := run(ctx, cfg, buses, *verbose)
	if cerr := buses.Close(); cerr != nil {
		log.Printf("[main] closing buses: %v", cerr)
	}
	if err != nil {
		stop()
		log.Fatalf("[main] %v", err)
	}
}

// busOpener hands out I2C buses by number.
type busOpener interface {
	ByID(n int) (drivers.I2C, error)
}

// watchIRQ is replaced in tests.
var watchIRQ = platform.WatchIRQ

// run wires every configured sensor to the bus and blocks until ctx is done.
// Sensors started before a setup failure are closed before it returns.
func run(ctx context.Context, cfg *config.Config, buses busOpener, verbose bool) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	log.Println("[main] bootstrapping bus")
	b := bus.NewBus(16)
	uiConn := b.NewConnection("ui")
	config.Publish(b.NewConnection("config"), cfg)

	if verbose {
		mon := uiConn.Subscribe(bus.T("touch", "#"))
		go func() {
			for m := range mon.Channel() {
				log.Printf("[monitor] <- %s %+v", topicString(m.Topic), m.Payload)
			}
		}()
	}

	// --------------------
	// Per-sensor pipelines
	// --------------------

	var sensors []*touch.Sensor
	defer func() {
		for _, s := range sensors {
			s.Close()
		}
	}()

	for _, sc := range cfg.Touch.Sensors {
		i2c, err := buses.ByID(sc.BusNumber())
		if err != nil {
			return fmt.Errorf("open bus failed (sensor=%s): %w", sc.Name, err)
		}

		s := touch.New(i2c, sc.ToTouch())
		watch(s)
		sensors = append(sensors, s)

		pub := touch.NewPublisher(b.NewConnection("touch-"+sc.Name), s)
		go pub.Run(ctx)

		if sc.IRQPin != "" {
			if err := watchIRQ(ctx, sc.IRQPin, irqPoll(ctx, s)); err != nil {
				return fmt.Errorf("irq setup failed (sensor=%s): %w", sc.Name, err)
			}
		}

		s.Start()
		go bringUp(ctx, s)
	}

	<-ctx.Done()
	log.Println("[main] shutting down")
	cancel()
	// let publishers retain their stopped state
	time.Sleep(50 * time.Millisecond)
	return nil
}

// irqPoll samples s on every interrupt edge.
func irqPoll(ctx context.Context, s *touch.Sensor) func() {
	return func() {
		if _, err := s.Poll(ctx); reportPollErr(err) {
			log.Printf("[%s] irq poll: %v", s.Name(), err)
		}
	}
}

// reportPollErr filters the expected outcomes of an edge-triggered poll:
// a sample already in progress, and edges before or between bring-ups.
func reportPollErr(err error) bool {
	return err != nil && !errors.Is(err, errcode.Busy) && !errors.Is(err, errcode.NotReady)
}

// watch prints touch and release edges for every channel, and state changes
// for channel 3.
func watch(s *touch.Sensor) {
	name := s.Name()
	s.On(touch.EventTouch, func(ev touch.Event) {
		log.Printf("[%s] pin %d touched", name, ev.Channel)
	})
	s.On(touch.EventRelease, func(ev touch.Event) {
		log.Printf("[%s] pin %d released", name, ev.Channel)
	})
	s.OnChannel(3, func(touched bool) {
		log.Printf("[%s] pin 3 is %s", name, stateWord(touched))
	})
	s.On(touch.EventError, func(ev touch.Event) {
		log.Printf("[%s] %s error: %v", name, ev.Op, ev.Err)
	})
}

func bringUp(ctx context.Context, s *touch.Sensor) {
	if err := s.Init(ctx); err != nil {
		log.Printf("[%s] bring-up failed: %v", s.Name(), err)
		return
	}
	th := s.Thresholds()
	log.Printf("[%s] ready (touch=%d release=%d)", s.Name(), th.Touch, th.Release)
	log.Printf("[%s] pin 2 is %s", s.Name(), stateWord(s.IsTouched(2)))
}

func stateWord(touched bool) string {
	if touched {
		return "touched"
	}
	return "released"
}

func topicString(t bus.Topic) string {
	parts := make([]string, t.Len())
	for i := range parts {
		switch v := t.At(i).(type) {
		case string:
			parts[i] = v
		case int:
			parts[i] = strconv.Itoa(v)
		default:
			parts[i] = "?"
		}
	}
	return strings.Join(parts, "/")
}
