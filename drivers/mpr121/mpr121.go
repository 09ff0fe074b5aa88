// Package mpr121 provides a driver for the MPR121 capacitive touch sensor
// controller.
//
// Datasheet: https://www.nxp.com/docs/en/data-sheet/MPR121.pdf
//
// The driver is synchronous and stateless apart from the last applied
// configuration. Typical use:
//
//	d := mpr121.New(i2c)
//	err := d.Configure(mpr121.Config{})   // reset, thresholds, filters, enable
//	mask, err := d.Touched()              // bit i = electrode i touched
//
// Every register is written explicitly during Configure (no
// read-modify-write), so calling it again reproduces the same device state.
package mpr121

import (
	"context"
	"time"

	"touchcode-go/errcode"
	"touchcode-go/x/mathx"

	"tinygo.org/x/drivers"
)

const defaultResetDelay = 100 * time.Millisecond

// Config controls bring-up. All fields are optional.
type Config struct {
	// Address defaults to 0x5A if zero.
	Address uint16
	// Sensitivity selects the threshold/filter preset.
	Sensitivity Sensitivity
	// Thresholds overrides the preset thresholds when non-nil.
	Thresholds *Thresholds
	// Electrodes is the number of electrodes (from ELE0) to run, 1..12.
	// Zero runs all of them.
	Electrodes int
	// ResetDelay is the settle time after a soft reset. Default 100 ms.
	ResetDelay time.Duration
}

// Device wraps an I2C connection to an MPR121 device.
type Device struct {
	bus     drivers.I2C
	Address uint16

	sens       Sensitivity
	thr        Thresholds
	ecr        uint8
	configured bool

	// Fixed buffers to avoid per-call heap allocations.
	w [2]byte
	r [2]byte
}

// New creates a new MPR121 connection. The I2C bus must already be
// configured. This function only creates the Device object; it does not
// touch the device.
func New(bus drivers.I2C) *Device {
	return &Device{
		bus:     bus,
		Address: AddressDefault,
		thr:     DefaultThresholds(Standard),
		ecr:     ecrBaselineTracking | ecrElectrodesAll,
	}
}

// Configure runs the bring-up sequence: soft reset, settle, stop electrodes,
// thresholds, baseline filters, debounce, charge configuration, enable.
// Parameters are validated before the first write. Any bus failure aborts
// the sequence and leaves the device unconfigured.
func (d *Device) Configure(cfg Config) error {
	return d.ConfigureContext(context.Background(), cfg)
}

// ConfigureContext is Configure with a cancellable reset settle. If ctx is
// done before the settle ends, ctx.Err() is returned and the device is left
// unconfigured.
func (d *Device) ConfigureContext(ctx context.Context, cfg Config) error {
	p := presetFor(cfg.Sensitivity)
	thr := p.thresholds
	if cfg.Thresholds != nil {
		thr = *cfg.Thresholds
	}
	if err := validateThresholds("configure", thr.Touch, thr.Release); err != nil {
		return err
	}
	if !mathx.Between(cfg.Electrodes, 0, Channels) {
		return &errcode.E{C: errcode.InvalidParams, Op: "configure", Msg: "electrodes must be in [0,12]"}
	}
	ecr := uint8(ecrBaselineTracking | ecrElectrodesAll)
	if cfg.Electrodes > 0 {
		ecr = ecrBaselineTracking | uint8(cfg.Electrodes)
	}
	delay := cfg.ResetDelay
	if delay <= 0 {
		delay = defaultResetDelay
	}
	if cfg.Address != 0 {
		d.Address = cfg.Address
	}

	d.configured = false
	d.sens = cfg.Sensitivity

	if err := d.writeByte(SOFTRESET, softResetValue); err != nil {
		return err
	}
	// The device ignores writes until its internal reset completes.
	settle := time.NewTimer(delay)
	select {
	case <-ctx.Done():
		settle.Stop()
		return ctx.Err()
	case <-settle.C:
	}

	// Stop mode: configuration registers only accept writes while ECR=0.
	if err := d.writeByte(ECR, 0x00); err != nil {
		return err
	}
	if err := d.writeThresholds(thr.Touch, thr.Release); err != nil {
		return err
	}
	for _, rv := range p.filters {
		if err := d.writeByte(rv.reg, rv.val); err != nil {
			return err
		}
	}
	// Edge detection is done by the caller; no hardware debounce.
	if err := d.writeByte(DEBOUNCE, 0x00); err != nil {
		return err
	}
	if err := d.writeByte(CONFIG1, p.config1); err != nil {
		return err
	}
	if err := d.writeByte(CONFIG2, p.config2); err != nil {
		return err
	}
	if err := d.writeByte(ECR, ecr); err != nil {
		return err
	}

	d.ecr = ecr
	d.configured = true
	return nil
}

// SetThresholds writes the touch/release pair to all 13 threshold registers.
// Both values must be in [0,255]; nothing is written otherwise. On a running
// device the electrodes are stopped for the update and restarted afterwards,
// also when a threshold write fails part way. If the restart itself fails
// the device is left in stop mode and reports !Configured().
func (d *Device) SetThresholds(touch, release int) error {
	if err := validateThresholds("set_thresholds", touch, release); err != nil {
		return err
	}
	if !d.configured {
		return d.writeThresholds(touch, release)
	}
	if err := d.writeByte(ECR, 0x00); err != nil {
		return err
	}
	if err := d.writeThresholds(touch, release); err != nil {
		if rerr := d.writeByte(ECR, d.ecr); rerr != nil {
			d.configured = false
		}
		return err
	}
	if err := d.writeByte(ECR, d.ecr); err != nil {
		d.configured = false
		return err
	}
	return nil
}

func validateThresholds(op string, touch, release int) error {
	if !mathx.Between(touch, 0, 255) {
		return &errcode.E{C: errcode.OutOfRange, Op: op, Msg: "touch threshold must be in [0,255]"}
	}
	if !mathx.Between(release, 0, 255) {
		return &errcode.E{C: errcode.OutOfRange, Op: op, Msg: "release threshold must be in [0,255]"}
	}
	return nil
}

func (d *Device) writeThresholds(touch, release int) error {
	for i := uint8(0); i < thresholdPairs; i++ {
		if err := d.writeByte(TOUCHTH_0+2*i, uint8(touch)); err != nil {
			return err
		}
		if err := d.writeByte(RELEASETH_0+2*i, uint8(release)); err != nil {
			return err
		}
	}
	d.thr = Thresholds{Touch: touch, Release: release}
	return nil
}

// Touched returns the 12-bit touch status mask; bit i is electrode i.
func (d *Device) Touched() (uint16, error) {
	v, err := d.readWord(TOUCHSTATUS_L)
	if err != nil {
		return 0, err
	}
	return v & touchMask, nil
}

// FilteredData returns the 10-bit filtered electrode data for channel.
func (d *Device) FilteredData(channel int) (uint16, error) {
	if err := checkChannel("filtered_data", channel); err != nil {
		return 0, err
	}
	return d.readWord(FILTDATA_0L + uint8(channel)*2)
}

// BaselineData returns the baseline value for channel. The register holds
// the 8 MSBs of a 10-bit value, so it is shifted left by 2.
func (d *Device) BaselineData(channel int) (uint16, error) {
	if err := checkChannel("baseline_data", channel); err != nil {
		return 0, err
	}
	b, err := d.readByte(BASELINE_0 + uint8(channel))
	if err != nil {
		return 0, err
	}
	return uint16(b) << 2, nil
}

func checkChannel(op string, channel int) error {
	if channel < 0 || channel >= Channels {
		return &errcode.E{C: errcode.OutOfRange, Op: op, Msg: "channel must be in [0,11]"}
	}
	return nil
}

// Introspection.
func (d *Device) Configured() bool              { return d.configured }
func (d *Device) Sensitivity() Sensitivity      { return d.sens }
func (d *Device) CurrentThresholds() Thresholds { return d.thr }
func (d *Device) ECR() uint8                    { return d.ecr }

// ---- register I/O ----

func (d *Device) readByte(reg uint8) (uint8, error) {
	d.w[0] = reg
	if err := d.bus.Tx(d.Address, d.w[:1], d.r[:1]); err != nil {
		return 0, errcode.Wrap(errcode.IOError, "read "+regName(reg), err)
	}
	return d.r[0], nil
}

// readWord reads two consecutive registers, low byte first (SMBus order).
func (d *Device) readWord(reg uint8) (uint16, error) {
	d.w[0] = reg
	if err := d.bus.Tx(d.Address, d.w[:1], d.r[:2]); err != nil {
		return 0, errcode.Wrap(errcode.IOError, "read "+regName(reg), err)
	}
	return uint16(d.r[0]) | uint16(d.r[1])<<8, nil
}

func (d *Device) writeByte(reg, val uint8) error {
	d.w[0] = reg
	d.w[1] = val
	if err := d.bus.Tx(d.Address, d.w[:2], nil); err != nil {
		return errcode.Wrap(errcode.IOError, "write "+regName(reg), err)
	}
	return nil
}

func regName(reg uint8) string {
	const hex = "0123456789abcdef"
	return "0x" + string([]byte{hex[reg>>4], hex[reg&0x0F]})
}
