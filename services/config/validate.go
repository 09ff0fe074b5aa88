package config

import (
	"fmt"
	"strings"

	"touchcode-go/drivers/mpr121"
	"touchcode-go/errcode"
	"touchcode-go/x/mathx"
)

// Validate checks configuration correctness.
// It MUST NOT mutate configuration.
func Validate(cfg *Config) error {
	if cfg == nil || len(cfg.Touch.Sensors) == 0 {
		return invalid("no sensors configured")
	}

	names := make(map[string]int)
	addrs := make(map[string]string) // key = bus | address

	for i, s := range cfg.Touch.Sensors {
		if s.Name == "" {
			return invalid("sensor %d: name is required", i)
		}
		if strings.ContainsAny(s.Name, "/+#") {
			return invalid("sensor %q: name must not contain '/', '+' or '#'", s.Name)
		}
		if prev, dup := names[s.Name]; dup {
			return invalid("sensor %q: duplicate name (entries %d and %d)", s.Name, prev, i)
		}
		names[s.Name] = i

		if s.BusNumber() < 0 {
			return invalid("sensor %q: bus must be >= 0", s.Name)
		}
		if s.Address > 0x7F {
			return invalid("sensor %q: address %#x is not a 7-bit I2C address", s.Name, s.Address)
		}
		addr := s.Address
		if addr == 0 {
			addr = mpr121.AddressDefault
		}
		key := fmt.Sprintf("%d|%#x", s.BusNumber(), addr)
		if other, clash := addrs[key]; clash {
			return invalid("sensor %q: bus %d address %#x already used by %q", s.Name, s.BusNumber(), addr, other)
		}
		addrs[key] = s.Name

		if s.PollIntervalMs != nil && *s.PollIntervalMs < 0 {
			return invalid("sensor %q: poll_interval_ms must be >= 0", s.Name)
		}
		if _, ok := mpr121.ParseSensitivity(s.Sensitivity); !ok {
			return invalid("sensor %q: unknown sensitivity %q", s.Name, s.Sensitivity)
		}

		if (s.TouchThreshold == nil) != (s.ReleaseThreshold == nil) {
			return invalid("sensor %q: touch_threshold and release_threshold must be set together", s.Name)
		}
		if s.TouchThreshold != nil {
			if !mathx.Between(*s.TouchThreshold, 0, 255) {
				return invalid("sensor %q: touch_threshold %d out of range 0..255", s.Name, *s.TouchThreshold)
			}
			if !mathx.Between(*s.ReleaseThreshold, 0, 255) {
				return invalid("sensor %q: release_threshold %d out of range 0..255", s.Name, *s.ReleaseThreshold)
			}
		}

		if !mathx.Between(s.Electrodes, 0, mpr121.Channels) {
			return invalid("sensor %q: electrodes %d out of range 1..%d", s.Name, s.Electrodes, mpr121.Channels)
		}
	}
	return nil
}

func invalid(format string, args ...any) error {
	return &errcode.E{C: errcode.InvalidParams, Op: "config", Msg: fmt.Sprintf(format, args...)}
}
