// Package mpr121 provides register addresses and bit values for the MPR121
// 12-channel capacitive touch controller.
package mpr121

const (
	// 7-bit I2C address with ADDR tied to GND; VDD/SDA/SCL give 0x5B..0x5D.
	AddressDefault = 0x5A
	AddressVDD     = 0x5B
	AddressSDA     = 0x5C
	AddressSCL     = 0x5D

	// Channels is the number of capacitive sensing electrodes.
	Channels = 12
	// thresholdPairs includes the proximity (ELEPROX) channel.
	thresholdPairs = Channels + 1

	// touchMask keeps the electrode bits of TOUCHSTATUS; bits 12..15 are
	// ELEPROX and over-current flags.
	touchMask = 0x0FFF

	softResetValue = 0x63

	// ECR (0x5E) fields.
	ecrBaselineTracking = 0x80 // CL=10: baseline tracking, initial value from 5 MSBs
	ecrElectrodesAll    = 0x0F
)

// Register sub-addresses (8-bit).
const (
	// Status / data
	TOUCHSTATUS_L = 0x00
	TOUCHSTATUS_H = 0x01
	FILTDATA_0L   = 0x04 // 2 bytes per channel, little endian
	FILTDATA_0H   = 0x05
	BASELINE_0    = 0x1E // 1 byte per channel, value >> 2

	// Baseline filter: rising
	MHDR = 0x2B
	NHDR = 0x2C
	NCLR = 0x2D
	FDLR = 0x2E
	// Baseline filter: falling
	MHDF = 0x2F
	NHDF = 0x30
	NCLF = 0x31
	FDLF = 0x32
	// Baseline filter: touched
	NHDT = 0x33
	NCLT = 0x34
	FDLT = 0x35

	// Thresholds, stride 2, 13 entries
	TOUCHTH_0   = 0x41
	RELEASETH_0 = 0x42

	DEBOUNCE     = 0x5B
	CONFIG1      = 0x5C // FFI | CDC (charge current)
	CONFIG2      = 0x5D // CDT (charge time) | SFI | ESI
	ECR          = 0x5E
	CHARGECURR_0 = 0x5F
	CHARGETIME_1 = 0x6C

	GPIODIR    = 0x76
	GPIOEN     = 0x77
	GPIOSET    = 0x78
	GPIOCLR    = 0x79
	GPIOTOGGLE = 0x7A

	AUTOCONFIG0 = 0x7B
	AUTOCONFIG1 = 0x7C
	UPLIMIT     = 0x7D
	LOWLIMIT    = 0x7E
	TARGETLIMIT = 0x7F

	SOFTRESET = 0x80
)
