package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"touchcode-go/bus"
	"touchcode-go/drivers/mpr121"
	"touchcode-go/errcode"
)

func intp(v int) *int { return &v }

func sensor(name string) SensorConfig {
	return SensorConfig{Name: name}
}

func TestParse_Full(t *testing.T) {
	cfg, err := Parse([]byte(`
touch:
  sensors:
    - name: pad0
      bus: 1
      address: 0x5B
      poll_interval_ms: 50
      sensitivity: extra
      touch_threshold: 20
      release_threshold: 7
      electrodes: 4
      irq_pin: GPIO4
`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(cfg.Touch.Sensors) != 1 {
		t.Fatalf("sensors = %d", len(cfg.Touch.Sensors))
	}
	s := cfg.Touch.Sensors[0]
	if s.Name != "pad0" || s.BusNumber() != 1 || s.Address != 0x5B || s.IRQPin != "GPIO4" {
		t.Fatalf("sensor = %+v", s)
	}
	if s.PollIntervalMs == nil || *s.PollIntervalMs != 50 {
		t.Fatalf("poll_interval_ms = %v", s.PollIntervalMs)
	}
	if err := Validate(cfg); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	tc := s.ToTouch()
	if tc.PollInterval != 50*time.Millisecond || tc.Sensitivity != mpr121.ExtraSensitive || tc.Electrodes != 4 {
		t.Fatalf("touch config = %+v", tc)
	}
	if tc.Thresholds == nil || *tc.Thresholds != (mpr121.Thresholds{Touch: 20, Release: 7}) {
		t.Fatalf("thresholds = %+v", tc.Thresholds)
	}
}

func TestParse_UnknownKey(t *testing.T) {
	_, err := Parse([]byte("touch:\n  sensors:\n    - name: a\n      treshold: 3\n"))
	if err == nil {
		t.Fatal("unknown key accepted")
	}
}

func TestParse_Empty(t *testing.T) {
	cfg, err := Parse(nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := Validate(cfg); !errors.Is(err, errcode.InvalidParams) {
		t.Fatalf("empty config err = %v", err)
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "touch.yaml")
	if err := os.WriteFile(path, []byte("touch:\n  sensors:\n    - name: a\n      bus: 2\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if n := cfg.Touch.Sensors[0].BusNumber(); n != 2 {
		t.Fatalf("bus = %d", n)
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("missing file accepted")
	}
}

func TestDefault(t *testing.T) {
	cfg := Default()
	if err := Validate(cfg); err != nil {
		t.Fatalf("embedded default invalid: %v", err)
	}
	Normalize(cfg)
	s := cfg.Touch.Sensors[0]
	if s.Address != mpr121.AddressDefault || *s.PollIntervalMs != DefaultPollIntervalMs {
		t.Fatalf("default sensor = %+v", s)
	}
}

func TestNormalize_Defaults(t *testing.T) {
	cfg := &Config{Touch: TouchConfig{Sensors: []SensorConfig{sensor("a")}}}
	if err := Validate(cfg); err != nil {
		t.Fatal(err)
	}
	Normalize(cfg)

	s := cfg.Touch.Sensors[0]
	if s.BusNumber() != 1 || s.Address != 0x5A || s.Electrodes != 12 || s.Sensitivity != "standard" {
		t.Fatalf("normalized = %+v", s)
	}
	if s.PollIntervalMs == nil || *s.PollIntervalMs != 100 {
		t.Fatalf("poll_interval_ms = %v", s.PollIntervalMs)
	}
	if tc := s.ToTouch(); tc.PollInterval != 100*time.Millisecond || tc.Thresholds != nil {
		t.Fatalf("touch config = %+v", tc)
	}
}

func TestNormalize_ZeroIntervalKept(t *testing.T) {
	s := sensor("a")
	s.PollIntervalMs = intp(0)
	cfg := &Config{Touch: TouchConfig{Sensors: []SensorConfig{s}}}
	Normalize(cfg)
	if tc := cfg.Touch.Sensors[0].ToTouch(); tc.PollInterval != 0 {
		t.Fatalf("poll interval = %v, want polling disabled", tc.PollInterval)
	}
}

func TestValidate_Rejects(t *testing.T) {
	cases := []struct {
		name string
		mut  func(s *SensorConfig)
	}{
		{"empty name", func(s *SensorConfig) { s.Name = "" }},
		{"wildcard in name", func(s *SensorConfig) { s.Name = "pad/+" }},
		{"negative bus", func(s *SensorConfig) { s.Bus = intp(-1) }},
		{"10-bit address", func(s *SensorConfig) { s.Address = 0x100 }},
		{"negative interval", func(s *SensorConfig) { s.PollIntervalMs = intp(-5) }},
		{"unknown sensitivity", func(s *SensorConfig) { s.Sensitivity = "ultra" }},
		{"touch without release", func(s *SensorConfig) { s.TouchThreshold = intp(10) }},
		{"release without touch", func(s *SensorConfig) { s.ReleaseThreshold = intp(10) }},
		{"touch out of range", func(s *SensorConfig) { s.TouchThreshold, s.ReleaseThreshold = intp(256), intp(6) }},
		{"release negative", func(s *SensorConfig) { s.TouchThreshold, s.ReleaseThreshold = intp(12), intp(-1) }},
		{"too many electrodes", func(s *SensorConfig) { s.Electrodes = 13 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := sensor("a")
			tc.mut(&s)
			err := Validate(&Config{Touch: TouchConfig{Sensors: []SensorConfig{s}}})
			if !errors.Is(err, errcode.InvalidParams) {
				t.Fatalf("err = %v", err)
			}
		})
	}
}

func TestValidate_Collisions(t *testing.T) {
	dup := &Config{Touch: TouchConfig{Sensors: []SensorConfig{sensor("a"), sensor("a")}}}
	if err := Validate(dup); err == nil {
		t.Fatal("duplicate names accepted")
	}

	// 0 means the default address
	b := sensor("b")
	b.Address = 0x5A
	clash := &Config{Touch: TouchConfig{Sensors: []SensorConfig{sensor("a"), b}}}
	if err := Validate(clash); err == nil {
		t.Fatal("address clash accepted")
	}

	b.Bus = intp(2)
	ok := &Config{Touch: TouchConfig{Sensors: []SensorConfig{sensor("a"), b}}}
	if err := Validate(ok); err != nil {
		t.Fatalf("same address on different buses: %v", err)
	}
}

func TestValidate_DoesNotMutate(t *testing.T) {
	cfg := &Config{Touch: TouchConfig{Sensors: []SensorConfig{sensor("a")}}}
	if err := Validate(cfg); err != nil {
		t.Fatal(err)
	}
	s := cfg.Touch.Sensors[0]
	if s.Bus != nil || s.Address != 0 || s.PollIntervalMs != nil || s.Electrodes != 0 {
		t.Fatalf("Validate mutated config: %+v", s)
	}
}

func TestPublish_RetainedPerSensor(t *testing.T) {
	cfg := &Config{Touch: TouchConfig{Sensors: []SensorConfig{sensor("a"), sensor("b")}}}
	b := bus.NewBus(16)
	Publish(b.NewConnection("config"), cfg)

	conn := b.NewConnection("test")
	sub := conn.Subscribe(bus.T(configPrefix, "touch", "+"))

	got := map[string]SensorConfig{}
	deadline := time.After(500 * time.Millisecond)
	for len(got) < 2 {
		select {
		case m := <-sub.Channel():
			if !m.Retained {
				t.Fatalf("not retained: %v", m.Topic)
			}
			name, _ := m.Topic.At(2).(string)
			got[name] = m.Payload.(SensorConfig)
		case <-deadline:
			t.Fatalf("got %d retained configs", len(got))
		}
	}
	if got["a"].Name != "a" || got["b"].Name != "b" {
		t.Fatalf("payloads = %+v", got)
	}
}
