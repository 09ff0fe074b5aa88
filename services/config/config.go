// Package config loads the touch sensor configuration from YAML and
// publishes it on the bus.
package config

import (
	"bytes"
	"errors"
	"io"
	"os"

	"touchcode-go/drivers/mpr121"
	"touchcode-go/services/touch"
	"touchcode-go/x/timex"

	"gopkg.in/yaml.v3"
)

// Defaults for omitted keys.
const (
	DefaultBus            = 1
	DefaultPollIntervalMs = 100
)

type Config struct {
	Touch TouchConfig `yaml:"touch"`
}

type TouchConfig struct {
	Sensors []SensorConfig `yaml:"sensors"`
}

// ---- SENSOR ----

type SensorConfig struct {
	Name    string `yaml:"name"`
	Bus     *int   `yaml:"bus"`     // nil = DefaultBus (/dev/i2c-1)
	Address uint16 `yaml:"address"` // 0 = 0x5A

	// nil = DefaultPollIntervalMs, 0 = manual polling only
	PollIntervalMs *int `yaml:"poll_interval_ms"`

	Sensitivity string `yaml:"sensitivity"` // standard | extra

	// Threshold override; both or neither.
	TouchThreshold   *int `yaml:"touch_threshold"`
	ReleaseThreshold *int `yaml:"release_threshold"`

	Electrodes int    `yaml:"electrodes"` // 0 = all 12
	IRQPin     string `yaml:"irq_pin"`    // optional
}

// Load reads and parses a YAML file. The result is not validated.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(b)
}

// Parse decodes YAML, rejecting unknown keys.
func Parse(b []byte) (*Config, error) {
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)

	var cfg Config
	if err := dec.Decode(&cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return &cfg, nil
		}
		return nil, err
	}
	return &cfg, nil
}

// Default returns the embedded configuration.
func Default() *Config {
	cfg, err := Parse([]byte(defaultYAML))
	if err != nil {
		panic("config: embedded default: " + err.Error())
	}
	return cfg
}

// Normalize fills defaults. It MUST be called only after Validate().
func Normalize(cfg *Config) {
	if cfg == nil {
		return
	}
	for i := range cfg.Touch.Sensors {
		s := &cfg.Touch.Sensors[i]
		if s.Bus == nil {
			bus := DefaultBus
			s.Bus = &bus
		}
		if s.Address == 0 {
			s.Address = mpr121.AddressDefault
		}
		if s.PollIntervalMs == nil {
			ms := DefaultPollIntervalMs
			s.PollIntervalMs = &ms
		}
		sens, _ := mpr121.ParseSensitivity(s.Sensitivity)
		s.Sensitivity = sens.String()
		if s.Electrodes == 0 {
			s.Electrodes = mpr121.Channels
		}
	}
}

// BusNumber returns the configured bus, or DefaultBus.
func (s SensorConfig) BusNumber() int {
	if s.Bus == nil {
		return DefaultBus
	}
	return *s.Bus
}

// ToTouch converts a sensor entry into a touch.Config.
func (s SensorConfig) ToTouch() touch.Config {
	sens, _ := mpr121.ParseSensitivity(s.Sensitivity)
	tc := touch.Config{
		Name:         s.Name,
		Bus:          s.BusNumber(),
		Address:      s.Address,
		PollInterval: timex.Ms(DefaultPollIntervalMs),
		Sensitivity:  sens,
		Electrodes:   s.Electrodes,
	}
	if s.PollIntervalMs != nil {
		tc.PollInterval = timex.Ms(*s.PollIntervalMs)
	}
	if s.TouchThreshold != nil && s.ReleaseThreshold != nil {
		tc.Thresholds = &mpr121.Thresholds{
			Touch:   *s.TouchThreshold,
			Release: *s.ReleaseThreshold,
		}
	}
	return tc
}
