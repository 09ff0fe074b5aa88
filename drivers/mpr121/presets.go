package mpr121

import "strings"

// Sensitivity selects a threshold/filter preset.
type Sensitivity uint8

const (
	Standard Sensitivity = iota
	// ExtraSensitive lowers thresholds for thick overlays or small pads.
	ExtraSensitive
)

func (s Sensitivity) String() string {
	switch s {
	case Standard:
		return "standard"
	case ExtraSensitive:
		return "extra"
	default:
		return "unknown"
	}
}

// ParseSensitivity accepts "standard" (or "") and "extra"/"extra_sensitive".
func ParseSensitivity(s string) (Sensitivity, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "standard":
		return Standard, true
	case "extra", "extra_sensitive", "sensitive":
		return ExtraSensitive, true
	default:
		return Standard, false
	}
}

// Thresholds are deviation-from-baseline counts; both must be in [0,255].
type Thresholds struct {
	Touch   int
	Release int
}

// regValue is one register write of a preset.
type regValue struct {
	reg uint8
	val uint8
}

type preset struct {
	thresholds Thresholds
	filters    [11]regValue // MHDR..FDLT in address order
	config1    uint8
	config2    uint8
}

var presets = [...]preset{
	Standard: {
		thresholds: Thresholds{Touch: 12, Release: 6},
		filters: [11]regValue{
			{MHDR, 0x01}, {NHDR, 0x01}, {NCLR, 0x0E}, {FDLR, 0x00},
			{MHDF, 0x01}, {NHDF, 0x05}, {NCLF, 0x01}, {FDLF, 0x00},
			{NHDT, 0x00}, {NCLT, 0x00}, {FDLT, 0x00},
		},
		config1: 0x10, // FFI=6 samples, 16 µA
		config2: 0x20, // 0.5 µs charge, 1 ms period
	},
	ExtraSensitive: {
		thresholds: Thresholds{Touch: 3, Release: 1},
		filters: [11]regValue{
			{MHDR, 0x01}, {NHDR, 0x01}, {NCLR, 0x0E}, {FDLR, 0x00},
			{MHDF, 0x01}, {NHDF, 0x01}, {NCLF, 0x10}, {FDLF, 0x20},
			{NHDT, 0x00}, {NCLT, 0x00}, {FDLT, 0x00},
		},
		config1: 0x20, // FFI=6 samples, 32 µA
		config2: 0x20,
	},
}

func presetFor(s Sensitivity) preset {
	if int(s) < len(presets) {
		return presets[s]
	}
	return presets[Standard]
}

// DefaultThresholds returns the preset thresholds for s.
func DefaultThresholds(s Sensitivity) Thresholds { return presetFor(s).thresholds }
