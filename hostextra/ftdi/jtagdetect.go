// Copyright 2019 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package ftdi

import (
	"fmt"

	"github.com/ftdaye/mpsse/hostextra/ftdi/idcode"
	"github.com/golang/glog"
	"periph.io/x/periph/conn/gpio"
)

// MaxChainDevices is the longest chain DetectChain() can measure.
const MaxChainDevices = 64

// irFlushBits is the number of ones shifted in the instruction registers to
// select BYPASS on every device. It is longer than any sane chain.
const irFlushBits = 1024

// DetectChain enumerates the devices on the scan chain.
//
// It returns one entry per device, the device closest to TDO first. The
// entry is the IDCODE the device selects after a TAP reset, or 0 for a
// device that only has a BYPASS register. An empty slice means no device was
// found; it is not an error.
//
// The device count is measured first by putting every device in BYPASS and
// timing a marker through the chain. The data register length after reset is
// measured the same way, which allows to split the captured bits without
// relying on bit 0 alone when every device has an IDCODE.
func (j *JTAG) DetectChain() ([]uint32, error) {
	j.c.mu.Lock()
	defer j.c.mu.Unlock()
	if err := j.check(); err != nil {
		return nil, err
	}

	// Every device in BYPASS.
	var cmd command
	j.reset(&cmd)
	if err := j.exec(&cmd); err != nil {
		return nil, err
	}
	if _, err := j.shift(IR, ones(irFlushBits), irFlushBits, false); err != nil {
		return nil, err
	}
	n, err := j.measure(MaxChainDevices)
	if err != nil || n <= 0 {
		return nil, err
	}
	glog.V(1).Infof("ftdi: %s: %d device(s) on the chain", j.c, n)

	// Back to the reset instruction, IDCODE or BYPASS.
	cmd = command{}
	j.reset(&cmd)
	if err := j.exec(&cmd); err != nil {
		return nil, err
	}
	maxDR := 32 * n
	s, err := j.shift(DR, marker(maxDR), 2*maxDR+1, true)
	if err != nil {
		return nil, err
	}
	l := firstOne(s, maxDR) - maxDR
	if l < n || l > maxDR {
		return nil, fmt.Errorf("ftdi: jtag: inconsistent chain; %d devices but %d bits data register", n, l)
	}
	out := make([]uint32, 0, n)
	if l == maxDR {
		for i := 0; i < n; i++ {
			out = append(out, s.Uint32(32*i))
		}
	} else {
		for pos := 0; pos < l; {
			if !s.Bit(pos) {
				out = append(out, 0)
				pos++
				continue
			}
			if pos+32 > l {
				return nil, fmt.Errorf("ftdi: jtag: truncated IDCODE at bit %d", pos)
			}
			out = append(out, s.Uint32(pos))
			pos += 32
		}
	}
	if len(out) != n {
		glog.Warningf("ftdi: %s: found %d IDCODEs for %d devices", j.c, len(out), n)
	}
	cmd = command{}
	j.reset(&cmd)
	return out, j.exec(&cmd)
}

// measure returns the length of the data register chain, up to max bits.
//
// It shifts max zeros followed by max+1 ones; the first one out of TDO at or
// after position max was delayed by the chain length. It returns 0 when TDO
// doesn't behave like a shift register.
func (j *JTAG) measure(max int) (int, error) {
	s, err := j.shift(DR, marker(max), 2*max+1, true)
	if err != nil {
		return 0, err
	}
	i := firstOne(s, 0)
	if i < max {
		// TDO stuck high or floating.
		glog.V(1).Infof("ftdi: %s: no chain; TDO high at bit %d", j.c, i)
		return 0, nil
	}
	if i == s.Bits {
		glog.V(1).Infof("ftdi: %s: no chain; TDO stuck low", j.c)
		return 0, nil
	}
	return i - max, nil
}

// TDOCandidate is a pin that shifted out a plausible IDCODE.
type TDOCandidate struct {
	Pin    Pin
	IDCode uint32
}

// ScanTDO looks for the TDO line of an unknown JTAG port.
//
// tck and tms are driven by bit banging, the TAP is moved to Shift-DR after a
// reset and 32 bits are clocked while every other free pin is sampled. A pin
// is reported when the 32 bits form a valid IDCODE. TDI is left floating so
// only the first device of the chain is identified.
//
// The channel must not have an active master.
func (c *Channel) ScanTDO(tck, tms Pin) ([]TDOCandidate, error) {
	if err := distinct(namedPin{"TCK", tck}, namedPin{"TMS", tms}); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.acquire(UseJTAG, tck, tms); err != nil {
		return nil, err
	}
	defer c.releaseMaster(UseJTAG)

	cands := c.freePins()
	for _, p := range cands {
		c.setPin(p, false, gpio.Low)
	}
	b := bitbang{c: c, tck: tck, tms: tms}
	b.start(cands...)
	upper := c.cbus.n != 0
	banks := []Bank{Lower}
	if upper {
		banks = append(banks, Upper)
	}
	for i := 0; i < 32; i++ {
		b.shift(NoPin, gpio.Low, banks...)
	}
	b.stop()
	res, err := b.flush()
	if err != nil {
		return nil, err
	}
	var out []TDOCandidate
	for _, p := range cands {
		var v uint32
		for i := 0; i < 32; i++ {
			k := i
			if upper {
				k = 2 * i
				if p.Bank == Upper {
					k++
				}
			}
			if res[k][0]&p.mask() != 0 {
				v |= 1 << uint(i)
			}
		}
		if v == 0xFFFFFFFF {
			continue
		}
		if _, err := idcode.Parse(v); err != nil {
			continue
		}
		out = append(out, TDOCandidate{Pin: p, IDCode: v})
	}
	return out, nil
}

// TDICandidate is a pin whose data came back on TDO.
type TDICandidate struct {
	Pin Pin
	// Length is the number of bits between TDI and TDO after a TAP reset;
	// 32 per device with an IDCODE, 1 per device in BYPASS.
	Length int
}

// tdiPattern is shifted in a candidate TDI and looked for on TDO.
const tdiPattern = "0110011101001101101000010111001001"

// ScanTDI looks for the TDI line of a JTAG port once TCK, TDO and TMS are
// known.
//
// Every other free pin is tried in turn: the TAP is moved to Shift-DR and a
// pattern is clocked in the pin while TDO is sampled. The pin is reported when
// the pattern comes out of TDO, delayed by at most MaxChainDevices IDCODEs.
//
// The channel must not have an active master.
func (c *Channel) ScanTDI(tck, tdo, tms Pin) ([]TDICandidate, error) {
	if err := distinct(namedPin{"TCK", tck}, namedPin{"TDO", tdo}, namedPin{"TMS", tms}); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.acquire(UseJTAG, tck, tdo, tms); err != nil {
		return nil, err
	}
	defer c.releaseMaster(UseJTAG)

	maxDelay := 32 * MaxChainDevices
	n := maxDelay + len(tdiPattern)
	var out []TDICandidate
	for _, p := range c.freePins() {
		c.setPin(tdo, false, gpio.Low)
		b := bitbang{c: c, tck: tck, tms: tms}
		b.start(tdo, p)
		got := make([]byte, 0, n)
		for i := 0; i < n; {
			for k := 0; k < 256 && i < n; k, i = k+1, i+1 {
				b.shift(p, gpio.Level(tdiPattern[i%len(tdiPattern)] == '1'), tdo.Bank)
			}
			res, err := b.flush()
			if err != nil {
				return out, err
			}
			for _, r := range res {
				v := byte('0')
				if r[0]&tdo.mask() != 0 {
					v = '1'
				}
				got = append(got, v)
			}
		}
		if err := b.end(p); err != nil {
			return out, err
		}
		for d := 0; d <= maxDelay; d++ {
			if string(got[d:d+len(tdiPattern)]) == tdiPattern {
				glog.V(1).Infof("ftdi: %s: TDI on %s, %d bits to TDO", c, p, d)
				out = append(out, TDICandidate{Pin: p, Length: d})
				break
			}
		}
	}
	return out, nil
}

// ScanChain reads the IDCODEs of a JTAG port on arbitrary pins by bit
// banging, holding TDI at tdi.
//
// It returns one entry per device, the device closest to TDO first, 0 for a
// device in BYPASS. The scan ends on an all ones IDCODE or on 32 zeros in a
// row, which is what TDI shifts through the chain once every device went
// out. With tdi low, devices in BYPASS next to TDI are not told apart from
// TDI and are not reported.
//
// The channel must not have an active master.
func (c *Channel) ScanChain(p JTAGPins, tdi gpio.Level) ([]uint32, error) {
	if err := distinct(namedPin{"TCK", p.TCK}, namedPin{"TDI", p.TDI}, namedPin{"TDO", p.TDO}, namedPin{"TMS", p.TMS}); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.acquire(UseJTAG, p.TCK, p.TDI, p.TDO, p.TMS); err != nil {
		return nil, err
	}
	defer c.releaseMaster(UseJTAG)

	c.setPin(p.TDO, false, gpio.Low)
	b := bitbang{c: c, tck: p.TCK, tms: p.TMS}
	b.start(p.TDO, p.TDI)
	var out []uint32
	var id uint32
	bits, zeros := 0, 0
	for total := 0; total < 32*(MaxChainDevices+2); total += 64 {
		for i := 0; i < 64; i++ {
			b.shift(p.TDI, tdi, p.TDO.Bank)
		}
		res, err := b.flush()
		if err != nil {
			return nil, err
		}
		for _, r := range res {
			v := r[0]&p.TDO.mask() != 0
			if bits == 0 && !v {
				out = append(out, 0)
				if zeros++; zeros == 32 {
					return out[:len(out)-32], b.end(p.TDI)
				}
				continue
			}
			zeros = 0
			id >>= 1
			if v {
				id |= 0x80000000
			}
			if bits++; bits != 32 {
				continue
			}
			if id == 0xFFFFFFFF {
				return out, b.end(p.TDI)
			}
			out = append(out, id)
			id, bits = 0, 0
		}
	}
	if err := b.end(p.TDI); err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("ftdi: jtag: no end of chain after %d devices", len(out))
}

// bitbang drives a TAP by toggling GPIOs.
//
// Must be used with Channel.mu held.
type bitbang struct {
	c        *Channel
	tck, tms Pin
	cmd      command
}

// start sets the pins up and moves the TAP to Shift-DR after a reset.
//
// pins are the other pins to set along with TCK and TMS.
func (b *bitbang) start(pins ...Pin) {
	b.c.setPin(b.tck, true, gpio.Low)
	b.c.setPin(b.tms, true, gpio.High)
	b.c.emit(&b.cmd, append([]Pin{b.tck, b.tms}, pins...)...)
	// Test-Logic-Reset then Shift-DR: 11111 0100.
	for i := 0; i < 5; i++ {
		b.clock(gpio.High)
	}
	for _, l := range []gpio.Level{gpio.Low, gpio.High, gpio.Low, gpio.Low} {
		b.clock(l)
	}
}

// clock pulses TCK once with TMS at l.
func (b *bitbang) clock(l gpio.Level) {
	b.c.setPin(b.tms, true, l)
	b.c.setPin(b.tck, true, gpio.Low)
	b.c.emit(&b.cmd, b.tck, b.tms)
	b.c.setPin(b.tck, true, gpio.High)
	b.c.emit(&b.cmd, b.tck)
}

// shift pulses TCK once in Shift-DR with tdi at l, and reads the banks while
// TCK is low, since TDO changes on the falling edge.
func (b *bitbang) shift(tdi Pin, l gpio.Level, banks ...Bank) {
	b.c.setPin(b.tck, true, gpio.Low)
	b.c.setPin(tdi, true, l)
	b.c.emit(&b.cmd, b.tck, tdi)
	for _, bk := range banks {
		b.cmd.gpioRead(bk)
	}
	b.c.setPin(b.tck, true, gpio.High)
	b.c.emit(&b.cmd, b.tck)
}

// stop leaves the TAP in reset and releases TCK, TMS and pins.
func (b *bitbang) stop(pins ...Pin) {
	for i := 0; i < 5; i++ {
		b.clock(gpio.High)
	}
	b.c.setPin(b.tck, false, gpio.Low)
	b.c.setPin(b.tms, false, gpio.Low)
	for _, p := range pins {
		b.c.setPin(p, false, gpio.Low)
	}
	b.c.emit(&b.cmd, append([]Pin{b.tck, b.tms}, pins...)...)
}

// flush sends the queued commands.
func (b *bitbang) flush() ([][]byte, error) {
	res, err := b.c.h.exec(&b.cmd)
	b.cmd = command{}
	return res, err
}

// end runs stop and sends it.
func (b *bitbang) end(pins ...Pin) error {
	b.stop(pins...)
	_, err := b.flush()
	return err
}

// freePins returns the pins of both banks not allocated to any use.
//
// Must be called with Channel.mu held.
func (c *Channel) freePins() []Pin {
	var out []Pin
	for _, g := range []*gpiosMPSSE{&c.dbus, &c.cbus} {
		for i := 0; i < g.n; i++ {
			if g.use[i] == Unused {
				out = append(out, Pin{g.bank, uint8(i)})
			}
		}
	}
	return out
}

type namedPin struct {
	name string
	p    Pin
}

// distinct checks that the pins are valid and all different.
func distinct(pins ...namedPin) error {
	seen := map[Pin]string{}
	for _, n := range pins {
		if !n.p.Valid() {
			return configErr(fmt.Sprintf("invalid %s %s", n.name, n.p), nil)
		}
		if other, ok := seen[n.p]; ok {
			return configErr(fmt.Sprintf("%s and %s are both %s", other, n.name, n.p), nil)
		}
		seen[n.p] = n.name
	}
	return nil
}

//

func ones(bits int) []byte {
	b := make([]byte, (bits+7)/8)
	for i := range b {
		b[i] = 0xFF
	}
	return b
}

// marker returns n zeros followed by n+1 ones.
func marker(n int) []byte {
	bits := 2*n + 1
	b := make([]byte, (bits+7)/8)
	for i := n; i < bits; i++ {
		b[i/8] |= 1 << uint(i&7)
	}
	return b
}

// firstOne returns the index of the first bit set at or after from, or
// s.Bits if none.
func firstOne(s ScanResult, from int) int {
	for i := from; i < s.Bits; i++ {
		if s.Bit(i) {
			return i
		}
	}
	return s.Bits
}
