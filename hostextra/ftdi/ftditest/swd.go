// Copyright 2019 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package ftditest

import (
	"math/bits"
)

// SWD acknowledges.
const (
	swdOK    = 1
	swdWait  = 2
	swdFault = 4
)

// CTRL/STAT sticky flags.
const (
	stickyErr = 1 << 5
	wdataErr  = 1 << 7
)

type swdPhase uint8

const (
	phIdle swdPhase = iota
	phRequest
	phAck
	phRead
	phWrite
	phTurnaround
)

// SWDTarget simulates the debug port of an ARM target.
//
// SWCLK is D0. The host drives SWDIO on D1 and reads it on D2; the target
// drives both as they are wired together. The target starts in JTAG mode and
// must receive the JTAG to SWD sequence followed by a line reset. After a
// line reset, only a DPIDR read is answered.
type SWDTarget struct {
	// IDCode is returned by DPIDR.
	IDCode uint32
	// AP holds the access port registers, indexed by APBANKSEL<<4|address.
	// AP reads are posted: a read returns the result of the previous one.
	AP map[uint8]uint32
	// WaitCount is the number of requests answered WAIT.
	WaitCount int
	// Fault makes every request answered FAULT, except a DPIDR read, an
	// ABORT write and a CTRL/STAT read, until an ABORT with STKERRCLR.
	Fault bool
	// CorruptParity flips the parity bit of the data read.
	CorruptParity bool

	// Requests counts the valid requests received.
	Requests int

	clk     bool
	enabled bool
	armed   bool // At least 50 ones seen in JTAG mode.
	ready   bool // A line reset was seen in SWD mode.
	inReset bool // Only DPIDR can be read.
	ones    int
	magic   uint16
	magicN  int

	phase swdPhase
	next  swdPhase // Phase after the turnaround.
	req   byte
	n     int
	ack   int
	data  uint64 // Data and parity bit.
	drive bool
	out   bool

	ctrl   uint32
	sel    uint32
	rdbuff uint32
}

// Enabled returns true once the target switched to SWD.
func (t *SWDTarget) Enabled() bool {
	return t.enabled
}

// Drive implements Target.
func (t *SWDTarget) Drive(out uint16) uint16 {
	clk := out&1 != 0
	if clk && !t.clk {
		t.rising(out&2 != 0)
	}
	t.clk = clk
	if t.drive {
		if t.out {
			return 0xFFFF
		}
		return ^uint16(6)
	}
	// D1 and D2 are wired together.
	if out&2 != 0 {
		return 0xFFFF
	}
	return ^uint16(4)
}

func (t *SWDTarget) rising(bit bool) {
	if t.listening() {
		if bit {
			t.ones++
			if t.ones >= 50 {
				t.lineReset()
				return
			}
		} else {
			t.ones = 0
		}
	}
	if !t.enabled {
		t.jtag(bit)
		return
	}
	switch t.phase {
	case phIdle:
		if bit {
			t.phase = phRequest
			t.req = 1
			t.n = 1
		}
	case phRequest:
		if bit {
			t.req |= 1 << uint(t.n)
		}
		t.n++
		if t.n == 8 {
			t.request()
		}
	case phTurnaround:
		t.phase = t.next
		t.n = 0
		switch t.phase {
		case phAck:
			t.drive = true
			t.out = t.ack&1 != 0
		case phWrite:
			t.data = 0
		}
	case phAck:
		// The bit driven now is sampled on the next rising edge.
		t.n++
		if t.n < 3 {
			t.out = t.ack&(1<<uint(t.n)) != 0
			return
		}
		t.afterAck()
	case phRead:
		t.n++
		if t.n <= 32 {
			t.out = t.data&(1<<uint(t.n)) != 0
			return
		}
		t.turnaround(phIdle)
	case phWrite:
		if bit {
			t.data |= 1 << uint(t.n)
		}
		t.n++
		if t.n == 33 {
			t.write()
			t.phase = phIdle
		}
	}
}

// listening returns true when the host is expected to drive SWDIO.
func (t *SWDTarget) listening() bool {
	return !t.enabled || t.phase == phIdle || t.phase == phRequest || t.phase == phWrite
}

// turnaround releases SWDIO for one clock.
func (t *SWDTarget) turnaround(next swdPhase) {
	t.drive = false
	t.phase = phTurnaround
	t.next = next
}

func (t *SWDTarget) lineReset() {
	t.phase = phIdle
	t.drive = false
	if !t.enabled {
		t.armed = true
		t.magicN = 0
		return
	}
	t.ready = true
	t.inReset = true
}

// jtag looks for the 16 bits JTAG to SWD sequence following at least 50
// ones.
func (t *SWDTarget) jtag(bit bool) {
	if t.magicN == 0 && (!t.armed || bit) {
		return
	}
	t.magic >>= 1
	if bit {
		t.magic |= 0x8000
	}
	t.magicN++
	if t.magicN == 16 {
		t.enabled = t.magic == 0xE79E
		t.armed = false
		t.magicN = 0
	}
}

func (t *SWDTarget) request() {
	r := t.req
	ap := r&0x02 != 0
	rnw := r&0x04 != 0
	addr := (r >> 1) & 0x0C
	valid := r&0x01 != 0 && r&0x40 == 0 && r&0x80 != 0 &&
		byte(bits.OnesCount8(r&0x1E)&1) == (r>>5)&1
	t.phase = phIdle
	if !valid || !t.ready {
		return
	}
	if t.inReset && (ap || !rnw || addr != 0) {
		// Not answered until DPIDR is read.
		return
	}
	t.Requests++
	switch {
	case t.WaitCount > 0:
		t.WaitCount--
		t.ack = swdWait
	case (t.Fault || t.ctrl&wdataErr != 0) && !exempt(ap, rnw, addr):
		t.ack = swdFault
		t.ctrl |= stickyErr
	default:
		t.ack = swdOK
	}
	t.turnaround(phAck)
	t.data = 0
	if rnw && t.ack == swdOK {
		t.data = uint64(t.read(ap, addr))
		p := uint64(bits.OnesCount32(uint32(t.data)) & 1)
		if t.CorruptParity {
			p ^= 1
		}
		t.data |= p << 32
	}
}

// exempt returns true for the requests answered even with a sticky error.
func exempt(ap, rnw bool, addr byte) bool {
	return !ap && addr == 0 || !ap && rnw && addr == 4
}

// afterAck runs once the 3 acknowledge bits were sent.
func (t *SWDTarget) afterAck() {
	rnw := t.req&0x04 != 0
	if rnw && t.ack == swdOK {
		t.phase = phRead
		t.n = 0
		t.out = t.data&1 != 0
		return
	}
	if !rnw && t.ack == swdOK {
		t.turnaround(phWrite)
		return
	}
	t.turnaround(phIdle)
}

func (t *SWDTarget) read(ap bool, addr byte) uint32 {
	if ap {
		v := t.rdbuff
		t.rdbuff = t.AP[byte(t.sel&0xF0)|addr]
		return v
	}
	switch addr {
	case 0x0:
		t.inReset = false
		return t.IDCode
	case 0x4:
		v := t.ctrl
		if t.Fault {
			v |= stickyErr
		}
		return v
	case 0x8:
		return t.sel
	default:
		return t.rdbuff
	}
}

func (t *SWDTarget) write() {
	v := uint32(t.data)
	if byte(bits.OnesCount32(v)&1) != byte(t.data>>32)&1 {
		t.ctrl |= wdataErr
		return
	}
	ap := t.req&0x02 != 0
	addr := (t.req >> 1) & 0x0C
	if ap {
		if t.AP == nil {
			t.AP = map[uint8]uint32{}
		}
		t.AP[byte(t.sel&0xF0)|addr] = v
		return
	}
	switch addr {
	case 0x0:
		// ABORT.
		if v&(1<<2) != 0 {
			t.Fault = false
			t.ctrl &^= stickyErr
		}
		if v&(1<<3) != 0 {
			t.ctrl &^= wdataErr
		}
	case 0x4:
		t.ctrl = v &^ (stickyErr | wdataErr)
	case 0x8:
		t.sel = v
	}
}
