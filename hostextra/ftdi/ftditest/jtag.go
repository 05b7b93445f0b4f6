// Copyright 2019 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package ftditest

import (
	"github.com/ftdaye/mpsse/hostextra/ftdi/tap"
)

// Reg is a user data register of a JTAGDevice.
type Reg struct {
	Len   int
	Value uint64
}

// JTAGDevice is a device on a simulated scan chain.
type JTAGDevice struct {
	// IRLen is the instruction register length, at most 64 bits.
	IRLen int
	// IDCode is selected after a TAP reset. 0 means the device has no IDCODE
	// register and selects BYPASS instead.
	IDCode uint32
	// IDCodeIR is the IDCODE instruction; defaults to 1.
	IDCodeIR uint64
	// Regs maps instructions to user data registers. Capture-DR loads Value,
	// Update-DR stores the bits shifted in.
	Regs map[uint64]*Reg

	ir  uint64
	sr  []bool
	sel *Reg // Captured user register, if any.
}

// IR returns the current instruction.
func (d *JTAGDevice) IR() uint64 {
	return d.ir
}

func (d *JTAGDevice) reset() {
	d.ir = ones(d.IRLen)
	if d.IDCode != 0 {
		d.ir = d.IDCodeIR
		if d.ir == 0 {
			d.ir = 1
		}
	}
}

func (d *JTAGDevice) captureIR() {
	d.sr = fill(d.sr, d.IRLen, 1)
	d.sel = nil
}

func (d *JTAGDevice) captureDR() {
	d.sel = nil
	if d.IDCode != 0 && d.ir == d.idcodeIR() {
		d.sr = fill(d.sr, 32, uint64(d.IDCode))
		return
	}
	if r, ok := d.Regs[d.ir]; ok && d.ir != ones(d.IRLen) {
		d.sr = fill(d.sr, r.Len, r.Value)
		d.sel = r
		return
	}
	// BYPASS captures 0.
	d.sr = fill(d.sr, 1, 0)
}

func (d *JTAGDevice) idcodeIR() uint64 {
	if d.IDCodeIR == 0 {
		return 1
	}
	return d.IDCodeIR
}

// shift shifts in one bit and returns the bit shifted out.
func (d *JTAGDevice) shift(in bool) bool {
	out := d.sr[0]
	copy(d.sr, d.sr[1:])
	d.sr[len(d.sr)-1] = in
	return out
}

func (d *JTAGDevice) value() uint64 {
	var v uint64
	for i, b := range d.sr {
		if b && i < 64 {
			v |= 1 << uint(i)
		}
	}
	return v
}

// JTAGChain simulates a scan chain.
//
// Devices[0] is the device closest to TDO; TDI feeds the last one. A chain
// without devices connects TDI to TDO.
type JTAGChain struct {
	Devices []*JTAGDevice
	// Pin numbers.
	TCK, TDI, TDO, TMS uint8

	state tap.State
	tck   bool
	tdo   bool
}

// NewJTAGChain returns a chain on the MPSSE JTAG pins, in Test-Logic-Reset.
func NewJTAGChain(devs ...*JTAGDevice) *JTAGChain {
	c := &JTAGChain{Devices: devs, TCK: 0, TDI: 1, TDO: 2, TMS: 3, tdo: true}
	for _, d := range devs {
		d.reset()
	}
	return c
}

// State returns the TAP state shared by all the devices.
func (c *JTAGChain) State() tap.State {
	return c.state
}

// Drive implements Target.
func (c *JTAGChain) Drive(out uint16) uint16 {
	tck := out&(1<<c.TCK) != 0
	tdi := out&(1<<c.TDI) != 0
	if len(c.Devices) == 0 {
		c.tck = tck
		c.tdo = tdi
		return c.output()
	}
	if tck && !c.tck {
		c.rising(out&(1<<c.TMS) != 0, tdi)
	} else if !tck && c.tck {
		c.tdo = true
		if c.state.IsShift() {
			c.tdo = c.Devices[0].sr[0]
		}
	}
	c.tck = tck
	return c.output()
}

func (c *JTAGChain) output() uint16 {
	if c.tdo {
		return 0xFFFF
	}
	return ^uint16(1 << c.TDO)
}

func (c *JTAGChain) rising(tms, tdi bool) {
	switch c.state {
	case tap.TestLogicReset:
		for _, d := range c.Devices {
			d.reset()
		}
	case tap.CaptureIR:
		for _, d := range c.Devices {
			d.captureIR()
		}
	case tap.CaptureDR:
		for _, d := range c.Devices {
			d.captureDR()
		}
	case tap.ShiftIR, tap.ShiftDR:
		in := tdi
		for i := len(c.Devices) - 1; i >= 0; i-- {
			in = c.Devices[i].shift(in)
		}
	case tap.UpdateIR:
		for _, d := range c.Devices {
			d.ir = d.value()
		}
	case tap.UpdateDR:
		for _, d := range c.Devices {
			if d.sel != nil {
				d.sel.Value = d.value()
			}
		}
	}
	c.state = tap.NextState(c.state, tms)
	if c.state == tap.TestLogicReset {
		for _, d := range c.Devices {
			d.reset()
		}
	}
}

// fill sets sr to n bits of v, LSB first.
func fill(sr []bool, n int, v uint64) []bool {
	if cap(sr) < n {
		sr = make([]bool, n)
	}
	sr = sr[:n]
	for i := range sr {
		sr[i] = i < 64 && v&(1<<uint(i)) != 0
	}
	return sr
}

func ones(n int) uint64 {
	if n >= 64 {
		return ^uint64(0)
	}
	return 1<<uint(n) - 1
}
