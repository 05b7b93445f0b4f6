// Copyright 2019 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// JTAG over MPSSE:
// http://www.ftdichip.com/Support/Documents/AppNotes/AN_129_FTDI_Hi_Speed_USB_To_JTAG_Example.pdf

package ftdi

import (
	"fmt"

	"github.com/ftdaye/mpsse/hostextra/ftdi/tap"
	"github.com/golang/glog"
	"periph.io/x/periph/conn/gpio"
	"periph.io/x/periph/conn/physic"
)

// Register selects the instruction or the data register chain.
type Register uint8

// Registers.
const (
	DR Register = iota
	IR
)

func (r Register) String() string {
	if r == IR {
		return "IR"
	}
	return "DR"
}

// JTAGConfig configures the JTAG master.
type JTAGConfig struct {
	// Speed is the TCK frequency. Defaults to 1MHz.
	Speed physic.Frequency
	// Adaptive enables adaptive clocking: each TCK edge waits for RTCK (D7)
	// to follow.
	Adaptive bool
}

// ScanResult is the data read back while shifting a register.
//
// Data holds Bits bits, packed LSB first: the first bit out of TDO is bit 0
// of Data[0].
type ScanResult struct {
	Bits int
	Data []byte
}

// Bit returns the i-th bit shifted out.
func (s ScanResult) Bit(i int) bool {
	return s.Data[i/8]&(1<<uint(i&7)) != 0
}

// Uint32 returns the 32 bits starting at bit off.
func (s ScanResult) Uint32(off int) uint32 {
	var v uint32
	for i := 0; i < 32; i++ {
		if s.Bit(off + i) {
			v |= 1 << uint(i)
		}
	}
	return v
}

func (s ScanResult) String() string {
	b := make([]byte, s.Bits)
	for i := range b {
		b[i] = '0'
		if s.Bit(i) {
			b[i] = '1'
		}
	}
	return string(b)
}

// OpenJTAG takes ownership of the channel as a JTAG master.
//
// D0 is TCK, D1 TDI, D2 TDO and D3 TMS; these are fixed by the MPSSE engine.
// The TAP is reset and left in Run-Test/Idle.
func (c *Channel) OpenJTAG(cfg *JTAGConfig) (*JTAG, error) {
	j := &JTAG{c: c, pins: c.profile.JTAG}
	speed := physic.MegaHertz
	if cfg != nil {
		if cfg.Speed != 0 {
			speed = cfg.Speed
		}
		j.adaptive = cfg.Adaptive
	}
	pins := []Pin{j.pins.TCK, j.pins.TDI, j.pins.TDO, j.pins.TMS}
	if j.adaptive {
		pins = append(pins, j.pins.RTCK)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.acquire(UseJTAG, pins...); err != nil {
		return nil, err
	}
	if _, err := c.setFrequency(speed); err != nil {
		c.releaseMaster(UseJTAG)
		return nil, err
	}
	c.setPin(j.pins.TCK, true, gpio.Low)
	c.setPin(j.pins.TDI, true, gpio.Low)
	c.setPin(j.pins.TDO, false, gpio.Low)
	c.setPin(j.pins.TMS, true, gpio.High)
	if j.adaptive {
		c.setPin(j.pins.RTCK, false, gpio.Low)
	}
	var cmd command
	c.emit(&cmd, pins...)
	if j.adaptive {
		cmd.raw(clockAdaptive)
	}
	j.reset(&cmd)
	if err := j.goTo(&cmd, tap.RunTestIdle); err != nil {
		c.releaseMaster(UseJTAG)
		return nil, err
	}
	if _, err := c.h.exec(&cmd); err != nil {
		c.releaseMaster(UseJTAG)
		return nil, err
	}
	glog.V(1).Infof("ftdi: %s: JTAG at %s", c, c.freq)
	return j, nil
}

// JTAG is a JTAG master over a MPSSE channel.
//
// It tracks the TAP state in software. Every TMS sequence is applied to the
// tracked state when it is queued, so the tracked state is the hardware
// state once the command is sent.
type JTAG struct {
	// Immutable.
	c    *Channel
	pins JTAGPins

	// Mutable.
	sm       tap.StateMachine
	adaptive bool
	// lost is set when a command failed to complete; the hardware state is
	// then unknown and the TAP is reset before the next operation.
	lost   bool
	closed bool
}

func (j *JTAG) String() string {
	return j.c.String()
}

// Close releases the pins and the channel.
func (j *JTAG) Close() error {
	j.c.mu.Lock()
	defer j.c.mu.Unlock()
	if j.closed {
		return nil
	}
	j.closed = true
	var cmd command
	if j.adaptive {
		cmd.raw(clockNormal)
	}
	for _, p := range []Pin{j.pins.TCK, j.pins.TDI, j.pins.TMS, j.pins.RTCK} {
		j.c.setPin(p, false, gpio.Low)
	}
	j.c.emit(&cmd, j.pins.TCK, j.pins.RTCK)
	j.c.releaseMaster(UseJTAG)
	if j.c.closed {
		return nil
	}
	_, err := j.c.h.exec(&cmd)
	return err
}

// State returns the tracked TAP state.
func (j *JTAG) State() tap.State {
	j.c.mu.Lock()
	defer j.c.mu.Unlock()
	return j.sm.State()
}

// Reset forces the TAP to Test-Logic-Reset with 5 TMS high clocks.
func (j *JTAG) Reset() error {
	j.c.mu.Lock()
	defer j.c.mu.Unlock()
	if err := j.check(); err != nil {
		return err
	}
	var cmd command
	j.reset(&cmd)
	return j.exec(&cmd)
}

// GotoState moves the TAP to s with the minimal TMS sequence.
func (j *JTAG) GotoState(s tap.State) error {
	j.c.mu.Lock()
	defer j.c.mu.Unlock()
	if err := j.check(); err != nil {
		return err
	}
	saved := j.sm
	var cmd command
	j.begin(&cmd)
	if err := j.goTo(&cmd, s); err != nil {
		j.sm = saved
		return err
	}
	return j.exec(&cmd)
}

// Shift shifts bits through a register and returns to Run-Test/Idle.
//
// w is clocked out LSB first on TDI; it must hold at least (bits+7)/8 bytes,
// or be nil to shift zeros. The last bit is clocked with TMS high to exit
// the Shift state. When capture is false, TDO is not read and the returned
// ScanResult is empty.
func (j *JTAG) Shift(reg Register, w []byte, bits int, capture bool) (ScanResult, error) {
	j.c.mu.Lock()
	defer j.c.mu.Unlock()
	if err := j.check(); err != nil {
		return ScanResult{}, err
	}
	return j.shift(reg, w, bits, capture)
}

// ShiftIR shifts bits through the instruction registers and returns what was
// captured.
func (j *JTAG) ShiftIR(w []byte, bits int) (ScanResult, error) {
	return j.Shift(IR, w, bits, true)
}

// ShiftDR shifts bits through the data registers and returns what was
// captured.
func (j *JTAG) ShiftDR(w []byte, bits int) (ScanResult, error) {
	return j.Shift(DR, w, bits, true)
}

// Idle moves to Run-Test/Idle and stays there for n TCK cycles.
func (j *JTAG) Idle(n int) error {
	if n < 0 {
		return configErr(fmt.Sprintf("invalid cycle count %d", n), nil)
	}
	j.c.mu.Lock()
	defer j.c.mu.Unlock()
	if err := j.check(); err != nil {
		return err
	}
	saved := j.sm
	var cmd command
	j.begin(&cmd)
	if err := j.goTo(&cmd, tap.RunTestIdle); err != nil {
		j.sm = saved
		return err
	}
	cmd.clockPulses(n)
	return j.exec(&cmd)
}

// AdaptiveClock enables or disables waiting for RTCK on each TCK edge.
func (j *JTAG) AdaptiveClock(on bool) error {
	j.c.mu.Lock()
	defer j.c.mu.Unlock()
	if err := j.check(); err != nil {
		return err
	}
	if on == j.adaptive {
		return nil
	}
	var cmd command
	if on {
		if err := j.c.claim(UseJTAG, j.pins.RTCK); err != nil {
			return err
		}
		j.c.setPin(j.pins.RTCK, false, gpio.Low)
		j.c.emit(&cmd, j.pins.RTCK)
		cmd.raw(clockAdaptive)
	} else {
		cmd.raw(clockNormal)
	}
	if err := j.exec(&cmd); err != nil {
		return err
	}
	if !on {
		j.c.releasePin(UseJTAG, j.pins.RTCK)
	}
	j.adaptive = on
	return nil
}

//

func (j *JTAG) check() error {
	if j.closed || j.c.closed {
		return ErrClosed
	}
	return nil
}

// exec sends the command and discards the response.
func (j *JTAG) exec(cmd *command) error {
	_, err := j.run(cmd)
	return err
}

// begin resets the TAP first if the hardware state was lost.
func (j *JTAG) begin(cmd *command) {
	if j.lost {
		glog.Warningf("ftdi: %s: resetting TAP after a failed command", j.c)
		j.reset(cmd)
	}
}

// run sends the command. On failure the hardware TAP state is unknown.
func (j *JTAG) run(cmd *command) ([][]byte, error) {
	res, err := j.c.h.exec(cmd)
	j.lost = err != nil
	return res, err
}

func (j *JTAG) reset(cmd *command) {
	q := j.sm.Reset()
	cmd.tmsSeq(uint32(q.TMS), q.Len, true)
}

// goTo appends the TMS sequence to reach s.
func (j *JTAG) goTo(cmd *command, s tap.State) error {
	from := j.sm.State()
	q, err := j.sm.GoTo(s)
	if err != nil {
		return configErr("invalid TAP state "+s.String(), err)
	}
	if q.Len == 0 {
		return nil
	}
	if glog.V(3) {
		glog.Infof("ftdi: TAP %s -> %s: TMS %s", from, s, q)
	}
	cmd.tmsSeq(uint32(q.TMS), q.Len, true)
	return nil
}

func (j *JTAG) shift(reg Register, w []byte, bits int, capture bool) (ScanResult, error) {
	if bits < 1 {
		return ScanResult{}, configErr(fmt.Sprintf("invalid bit count %d", bits), nil)
	}
	l := (bits + 7) / 8
	if w == nil {
		w = make([]byte, l)
	} else if len(w) < l {
		return ScanResult{}, configErr(fmt.Sprintf("%d bits need %d bytes; got %d", bits, l, len(w)), nil)
	}
	target := tap.ShiftDR
	if reg == IR {
		target = tap.ShiftIR
	}
	// Nothing is sent if the command cannot be built.
	saved := j.sm
	var cmd command
	j.begin(&cmd)
	err := j.queueShift(&cmd, target, w, bits, capture)
	if err != nil {
		j.sm = saved
		return ScanResult{}, err
	}
	res, err := j.run(&cmd)
	if err != nil || !capture {
		return ScanResult{}, err
	}
	return assemble(res, bits), nil
}

// queueShift appends the whole shift: enter the Shift state, clock bits-1
// bits with TMS low, clock the last bit with TMS high, go to Run-Test/Idle.
func (j *JTAG) queueShift(cmd *command, target tap.State, w []byte, bits int, capture bool) error {
	if err := j.goTo(cmd, target); err != nil {
		return err
	}
	n := bits - 1
	full := n / 8
	rem := n & 7
	r := 0
	if capture {
		r = full
	}
	// TDI is written on the falling edge, TDO read on the rising edge.
	if err := cmd.clockBytes(w[:full], r, gpio.FallingEdge, gpio.RisingEdge, true); err != nil {
		return err
	}
	if rem != 0 {
		if err := cmd.clockBits(w[full], rem, true, capture, gpio.FallingEdge, gpio.RisingEdge, true); err != nil {
			return err
		}
	}
	last := w[n/8]&(1<<uint(n&7)) != 0
	if err := cmd.tms(1, 1, last, capture); err != nil {
		return err
	}
	j.sm.Clock(true)
	return j.goTo(cmd, tap.RunTestIdle)
}

// assemble packs the response segments of a shift in a ScanResult.
//
// The segments are the byte streams, then the remaining bits if any, then
// the last bit read along the TMS exit.
func assemble(res [][]byte, bits int) ScanResult {
	s := ScanResult{Bits: bits, Data: make([]byte, (bits+7)/8)}
	rem := (bits - 1) & 7
	streams := len(res) - 1
	if rem != 0 {
		streams--
	}
	pos := 0
	for _, seg := range res[:streams] {
		copy(s.Data[pos/8:], seg)
		pos += 8 * len(seg)
	}
	add := func(b bool) {
		if b {
			s.Data[pos/8] |= 1 << uint(pos&7)
		}
		pos++
	}
	if rem != 0 {
		v := res[streams][0]
		for i := 0; i < rem; i++ {
			add(v&(1<<uint(i)) != 0)
		}
	}
	add(res[len(res)-1][0]&1 != 0)
	return s
}
