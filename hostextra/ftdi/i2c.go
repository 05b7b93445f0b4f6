// Copyright 2019 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Interfacing I²C:
// http://www.ftdichip.com/Support/Documents/AppNotes/AN_113_FTDI_Hi_Speed_USB_To_I2C_Example.pdf
//
// Implementation based on
// http://www.ftdichip.com/Support/Documents/AppNotes/AN_255_USB%20to%20I2C%20Example%20using%20the%20FT232H%20and%20FT201X%20devices.pdf
//
// Page 18: MPSSE does not automatically support clock stretching for I²C.
// The acknowledge clock is thus generated by hand: SCL is released and polled
// until the slave lets it go high.

package ftdi

import (
	"errors"
	"fmt"

	"github.com/golang/glog"
	"periph.io/x/periph/conn"
	"periph.io/x/periph/conn/gpio"
	"periph.io/x/periph/conn/i2c"
	"periph.io/x/periph/conn/physic"
)

// I2CConfig configures the I²C master.
type I2CConfig struct {
	// StretchPolls bounds how many times SCL is read back while a slave
	// stretches the clock on the acknowledge bit. Defaults to 100.
	StretchPolls int
	// Speed is the initial bus speed. Defaults to 100kHz.
	Speed physic.Frequency
	// Dir is an optional pin controlling an external buffer direction. It is
	// high while the host drives SDA.
	Dir Pin
	// StartStopLen is how many times each step of a START or STOP condition
	// is sent; more lengthens the conditions. Defaults to 3.
	StartStopLen int
}

// I2C returns an I²C bus on the channel with the default configuration.
//
// It is the opener registered in i2creg.
func (c *Channel) I2C() (i2c.BusCloser, error) {
	return c.OpenI2C(nil)
}

// OpenI2C takes ownership of the channel as an I²C master.
//
// D0 is SCL, D1 drives SDA and D2 reads SDA; D1 and D2 must be wired
// together. Both lines need a pull up.
func (c *Channel) OpenI2C(cfg *I2CConfig) (*I2CBus, error) {
	d := &I2CBus{c: c, pins: c.profile.I2C, polls: 100, steps: 3}
	speed := 100 * physic.KiloHertz
	if cfg != nil {
		if cfg.StretchPolls > 0 {
			d.polls = cfg.StretchPolls
		}
		if cfg.Speed != 0 {
			speed = cfg.Speed
		}
		if cfg.StartStopLen > 0 {
			d.steps = cfg.StartStopLen
		}
		d.dir = cfg.Dir
	}
	if d.dir.Valid() {
		if err := distinct(namedPin{"SCL", d.pins.SCL}, namedPin{"SDA", d.pins.SDAOut}, namedPin{"SDA in", d.pins.SDAIn}, namedPin{"direction pin", d.dir}); err != nil {
			return nil, err
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.acquire(UseI2C, d.pins.SCL, d.pins.SDAOut, d.pins.SDAIn, d.dir); err != nil {
		return nil, err
	}
	if err := d.setupI2C(speed); err != nil {
		c.releaseMaster(UseI2C)
		return nil, err
	}
	glog.V(1).Infof("ftdi: %s: I²C at %s", c, c.freq)
	return d, nil
}

// I2CBus is an I²C master over a MPSSE channel.
//
// I2CBus implements i2c.BusCloser and i2c.Pins.
type I2CBus struct {
	// Immutable.
	c     *Channel
	pins  I2CPins
	dir   Pin
	polls int
	steps int

	// Mutable. Last state set on each line.
	scl    line
	sda    line
	closed bool
}

// line is the state of an open drain line.
type line uint8

const (
	lineLow  line = iota // Driven low.
	lineHigh             // Driven high, floating when tristate is enabled.
	lineFree             // Released as an input.
)

// Close stops I²C mode, returns to 2 phases clocking, disables tri-state
// and releases the pins.
func (d *I2CBus) Close() error {
	d.c.mu.Lock()
	defer d.c.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	var cmd command
	cmd.raw(clock2Phase)
	if d.c.profile.DriveZero {
		cmd.tristate(0, 0)
	}
	d.lines(&cmd, lineFree, lineFree)
	d.c.setPin(d.dir, false, gpio.Low)
	d.c.emit(&cmd, d.dir)
	d.c.releaseMaster(UseI2C)
	if d.c.closed {
		return nil
	}
	_, err := d.c.h.exec(&cmd)
	return err
}

// Duplex implements conn.Conn.
func (d *I2CBus) Duplex() conn.Duplex {
	return conn.Half
}

func (d *I2CBus) String() string {
	return d.c.String()
}

// SetSpeed implements i2c.Bus.
//
// The engine clock is set to 3/2 of f since each bit takes 3 phases.
func (d *I2CBus) SetSpeed(f physic.Frequency) error {
	if f > 10*physic.MegaHertz {
		return configErr(fmt.Sprintf("invalid speed %s; maximum supported clock is 10MHz", f), nil)
	}
	if f < 100*physic.Hertz {
		return configErr(fmt.Sprintf("invalid speed %s; minimum supported clock is 100Hz; did you forget to multiply by physic.KiloHertz?", f), nil)
	}
	d.c.mu.Lock()
	defer d.c.mu.Unlock()
	if err := d.check(); err != nil {
		return err
	}
	_, err := d.c.setFrequency(f * 3 / 2)
	return err
}

// Tx implements i2c.Bus.
//
// A write followed by a read is done with a repeated start. A NACK is
// returned as a *BusProtocolError matching ErrNACK; a STOP is sent first so
// the bus is idle again.
func (d *I2CBus) Tx(addr uint16, w, r []byte) error {
	if addr > 0x7F {
		return configErr(fmt.Sprintf("invalid address %#x; 10 bits addressing is not supported", addr), nil)
	}
	d.c.mu.Lock()
	defer d.c.mu.Unlock()
	if err := d.check(); err != nil {
		return err
	}
	var cmd command
	if len(w) != 0 || len(r) == 0 {
		d.start(&cmd, false)
		if err := d.send(&cmd, byte(addr<<1), fmt.Sprintf("address %#02x", addr)); err != nil {
			return err
		}
		for i, b := range w {
			cmd = command{}
			if err := d.send(&cmd, b, fmt.Sprintf("address %#02x byte %d", addr, i)); err != nil {
				return err
			}
		}
		cmd = command{}
	}
	if len(r) != 0 {
		d.start(&cmd, len(w) != 0)
		if err := d.send(&cmd, byte(addr<<1)|1, fmt.Sprintf("address %#02x", addr)); err != nil {
			return err
		}
		for i := range r {
			cmd = command{}
			v, err := d.recv(&cmd, i != len(r)-1)
			if err != nil {
				return err
			}
			r[i] = v
		}
		cmd = command{}
	}
	d.stop(&cmd)
	_, err := d.c.h.exec(&cmd)
	return err
}

// Write writes w to the device at addr.
func (d *I2CBus) Write(addr uint16, w []byte) error {
	return d.Tx(addr, w, nil)
}

// Read reads n bytes from the device at addr.
func (d *I2CBus) Read(addr uint16, n int) ([]byte, error) {
	r := make([]byte, n)
	if err := d.Tx(addr, nil, r); err != nil {
		return nil, err
	}
	return r, nil
}

// Scan returns the addresses in the range [0x08, 0x77] that acknowledge.
func (d *I2CBus) Scan() ([]uint16, error) {
	var out []uint16
	for addr := uint16(0x08); addr <= 0x77; addr++ {
		err := d.Tx(addr, nil, nil)
		if err == nil {
			out = append(out, addr)
			continue
		}
		if !errors.Is(err, ErrNACK) {
			return out, err
		}
	}
	return out, nil
}

// SCL implements i2c.Pins.
func (d *I2CBus) SCL() gpio.PinIO {
	return d.c.pinOf(d.pins.SCL)
}

// SDA implements i2c.Pins.
func (d *I2CBus) SDA() gpio.PinIO {
	return d.c.pinOf(d.pins.SDAOut)
}

//

// setupI2C initializes the MPSSE to the state to run an I²C transaction.
func (d *I2CBus) setupI2C(f physic.Frequency) error {
	if _, err := d.c.setFrequency(f * 3 / 2); err != nil {
		return err
	}
	var cmd command
	cmd.raw(clock3Phase)
	// Tristate makes Out(High) float instead of driving high. Low still drives
	// low. That's called open collector.
	//
	// For hardware which doesn't support tristate, the data bits are driven
	// high, which works as long as the slave only drives during the
	// acknowledge bit.
	if d.c.profile.DriveZero {
		cmd.tristate(d.pins.SCL.mask()|d.pins.SDAOut.mask(), 0)
	}
	d.c.setPin(d.pins.SDAIn, false, gpio.Low)
	d.lines(&cmd, lineHigh, lineHigh)
	_, err := d.c.h.exec(&cmd)
	return err
}

func (d *I2CBus) check() error {
	if d.closed || d.c.closed {
		return ErrClosed
	}
	return nil
}

// lines appends the command to set SCL and SDA, and the direction pin.
func (d *I2CBus) lines(cmd *command, scl, sda line) {
	d.c.setPin(d.pins.SCL, scl != lineFree, gpio.Level(scl == lineHigh))
	d.c.setPin(d.pins.SDAOut, sda != lineFree, gpio.Level(sda == lineHigh))
	d.c.setPin(d.dir, true, gpio.Level(sda != lineFree))
	d.c.emit(cmd, d.pins.SCL, d.pins.SDAOut, d.dir)
	d.scl = scl
	d.sda = sda
}

// sclLow pulls SCL low without touching SDA, after the acknowledge clock
// left it released.
func (d *I2CBus) sclLow(cmd *command) {
	if d.scl != lineLow {
		d.lines(cmd, lineLow, d.sda)
	}
}

// start appends a START, or a repeated START, condition.
//
// Each state is repeated as a way to delay execution.
func (d *I2CBus) start(cmd *command, repeated bool) {
	if repeated {
		d.sclLow(cmd)
		d.lines(cmd, lineLow, lineHigh)
	}
	for i := 0; i < d.steps; i++ {
		// SCL high, SDA high.
		d.lines(cmd, lineHigh, lineHigh)
	}
	for i := 0; i < d.steps; i++ {
		// SCL high, SDA low for 600ns.
		d.lines(cmd, lineHigh, lineLow)
	}
}

// stop appends a STOP condition.
func (d *I2CBus) stop(cmd *command) {
	d.sclLow(cmd)
	for i := 0; i < d.steps; i++ {
		d.lines(cmd, lineLow, lineLow)
	}
	for i := 0; i < d.steps; i++ {
		d.lines(cmd, lineHigh, lineLow)
	}
	for i := 0; i < d.steps; i++ {
		d.lines(cmd, lineHigh, lineHigh)
	}
}

// abort sends a STOP after a clock stretch timeout so the bus is left idle.
//
// The STOP is best effort; err is returned either way.
func (d *I2CBus) abort(err error) error {
	var te *TimeoutError
	if !errors.As(err, &te) {
		return err
	}
	var cmd command
	d.stop(&cmd)
	if _, serr := d.c.h.exec(&cmd); serr != nil {
		glog.Warningf("ftdi: %s: I²C STOP after timeout: %v", d.c, serr)
	}
	return err
}

// send writes one byte and reads the acknowledge.
//
// On NACK, a STOP is sent.
func (d *I2CBus) send(cmd *command, b byte, op string) error {
	d.sclLow(cmd)
	d.lines(cmd, lineLow, lineLow)
	// Data out on the falling edge, MSB first.
	if err := cmd.clockBits(b, 8, true, false, gpio.FallingEdge, gpio.RisingEdge, false); err != nil {
		return err
	}
	d.ackClock(cmd, lineFree)
	res, err := d.c.h.exec(cmd)
	if err != nil {
		return err
	}
	v, err := d.waitSCL(res[len(res)-1][0])
	if err != nil {
		return d.abort(err)
	}
	if v&d.pins.SDAIn.mask() == 0 {
		return nil
	}
	glog.V(1).Infof("ftdi: %s: I²C NACK on %s", d.c, op)
	var stop command
	d.stop(&stop)
	if _, err := d.c.h.exec(&stop); err != nil {
		return err
	}
	return &BusProtocolError{Bus: "i2c", Op: op, Err: ErrNACK}
}

// recv reads one byte and sends ACK if ack is true, NACK otherwise.
func (d *I2CBus) recv(cmd *command, ack bool) (byte, error) {
	d.sclLow(cmd)
	d.lines(cmd, lineLow, lineFree)
	// Data in on the rising edge, MSB first.
	if err := cmd.clockBits(0, 8, false, true, gpio.FallingEdge, gpio.RisingEdge, false); err != nil {
		return 0, err
	}
	sda := lineFree
	if ack {
		sda = lineLow
	}
	d.ackClock(cmd, sda)
	res, err := d.c.h.exec(cmd)
	if err != nil {
		return 0, err
	}
	if _, err := d.waitSCL(res[1][0]); err != nil {
		return 0, d.abort(err)
	}
	return res[0][0], nil
}

// ackClock appends the 9th clock: SDA is set while SCL is low, then SCL is
// released and the lines are read back.
func (d *I2CBus) ackClock(cmd *command, sda line) {
	d.lines(cmd, lineLow, sda)
	d.lines(cmd, lineFree, sda)
	cmd.gpioRead(Lower)
}

// waitSCL polls the lines until SCL is high.
//
// v is the value already read. It returns the value read once SCL is high.
func (d *I2CBus) waitSCL(v byte) (byte, error) {
	m := d.pins.SCL.mask()
	for i := 0; v&m == 0; i++ {
		if i == d.polls {
			return 0, &TimeoutError{Op: "i2c: clock stretch", Attempts: i}
		}
		var cmd command
		cmd.gpioRead(Lower)
		res, err := d.c.h.exec(&cmd)
		if err != nil {
			return 0, err
		}
		v = res[0][0]
	}
	return v, nil
}

var _ i2c.BusCloser = &I2CBus{}
var _ i2c.Pins = &I2CBus{}
