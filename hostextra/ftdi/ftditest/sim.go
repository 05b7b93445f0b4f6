// Copyright 2019 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package ftditest implements fakes for package ftdi.
//
// Sim is a MPSSE engine simulator. It decodes the command stream, keeps the
// state of the 16 pins and clocks data through Target implementations wired
// to the pins: a SPI loopback wire, a JTAG scan chain, a SWD target and an
// I²C slave. Playback replays a recorded byte exchange.
package ftditest

import (
	"errors"
	"fmt"
	"sync"
)

// Target is a device wired to the pins of a Sim.
//
// Pin n of the lower bank (D0~D7) is bit n and pin n of the upper bank
// (C0~C7) is bit n+8.
type Target interface {
	// Drive is called after every change on the pins and on every GPIO read.
	//
	// out is the level driven by the host on each pin; pins released by the
	// host read high. It returns the level the target drives on each pin; a 1
	// means released. The outputs of all the targets are wired-AND.
	Drive(out uint16) uint16
}

// Bit modes, as passed to SetBitMode.
const (
	modeReset = 0x00
	modeMPSSE = 0x02
)

// Sim simulates the MPSSE engine of one interface.
//
// Sim implements ftdi.Transport and ftdi.Controller. Responses are only
// returned to the host after a send immediate (0x87) command.
type Sim struct {
	// Targets are the devices connected to the pins.
	Targets []Target
	// NoUpper rejects the upper bank commands, like on a FT4232H.
	NoUpper bool
	// NoDriveZero rejects the drive zero command, like on a FT2232H.
	NoDriveZero bool
	// MaxRead, if not 0, bounds the number of bytes returned per Read() call.
	MaxRead int
	// ReadErr and WriteErr are returned by Read() and Write() when set.
	ReadErr  error
	WriteErr error
	// Drop discards that many response bytes, to simulate a short read.
	Drop int

	mu      sync.Mutex
	calls   []string
	mode    byte
	latency uint8
	closed  bool
	in      []byte // Partial command.
	queued  []byte // Response not flushed yet.
	ready   []byte // Response readable by the host.

	// Engine state.
	dir      uint16
	val      uint16
	tri      uint16
	loopback bool
	div      uint16
	div5     bool
	phase3   bool
	adaptive bool
	tout     uint16 // Wired-AND of the targets outputs.
}

// Calls returns the Controller calls received so far, for example
// "bitmode 0x02 mask 0x00".
func (s *Sim) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

// Pins returns the direction and value registers of both banks.
func (s *Sim) Pins() (dir, val uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dir, s.val
}

// Levels returns the level of every pin.
func (s *Sim) Levels() uint16 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.levels()
}

// Divisor returns the clock divisor and whether the divide by 5 prescaler is
// enabled.
func (s *Sim) Divisor() (uint16, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.div, s.div5
}

// ThreePhase returns true when 3 phases data clocking is enabled.
func (s *Sim) ThreePhase() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase3
}

// Tristate returns the drive zero mask.
func (s *Sim) Tristate() uint16 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tri
}

// Loopback returns true when D1 is internally connected to D2.
func (s *Sim) Loopback() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loopback
}

// Adaptive returns true when adaptive clocking is enabled.
func (s *Sim) Adaptive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.adaptive
}

// Pending returns the number of command bytes waiting for their arguments.
func (s *Sim) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.in)
}

// Read implements ftdi.Transport.
func (s *Sim) Read(b []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, errClosed
	}
	if s.ReadErr != nil {
		return 0, s.ReadErr
	}
	if s.MaxRead > 0 && len(b) > s.MaxRead {
		b = b[:s.MaxRead]
	}
	n := copy(b, s.ready)
	s.ready = s.ready[n:]
	return n, nil
}

// Write implements ftdi.Transport.
func (s *Sim) Write(b []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, errClosed
	}
	if s.WriteErr != nil {
		return 0, s.WriteErr
	}
	if s.mode != modeMPSSE {
		// Bytes sent in the wrong mode are lost.
		return len(b), nil
	}
	s.in = append(s.in, b...)
	for len(s.in) != 0 {
		n := s.decode(s.in)
		if n == 0 {
			break
		}
		s.in = s.in[n:]
	}
	return len(b), nil
}

// Close implements io.Closer.
func (s *Sim) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Reset implements ftdi.Controller.
func (s *Sim) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, "reset")
	s.in = nil
	s.queued = nil
	s.ready = nil
	return nil
}

// Purge implements ftdi.Controller.
func (s *Sim) Purge() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, "purge")
	s.in = nil
	s.queued = nil
	s.ready = nil
	return nil
}

// SetLatencyTimer implements ftdi.Controller.
func (s *Sim) SetLatencyTimer(ms uint8) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, fmt.Sprintf("latency %d", ms))
	s.latency = ms
	return nil
}

// SetBitMode implements ftdi.Controller.
func (s *Sim) SetBitMode(mask, mode byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, fmt.Sprintf("bitmode 0x%02x mask 0x%02x", mode, mask))
	switch mode {
	case modeReset:
		s.dir = 0
		s.tri = 0
		s.loopback = false
		s.adaptive = false
		s.phase3 = false
	case modeMPSSE:
	default:
		return fmt.Errorf("ftditest: unsupported bit mode %#x", mode)
	}
	s.mode = mode
	s.update()
	return nil
}

//

var errClosed = errors.New("ftditest: closed")

// decode runs the first command in b and returns its length, or 0 if the
// command is incomplete.
func (s *Sim) decode(b []byte) int {
	op := b[0]
	switch {
	case op&0xC0 == 0 && op&0x30 != 0:
		return s.data(b)
	case op == 0x4A || op == 0x4B || op == 0x6A || op == 0x6B || op == 0x6E || op == 0x6F:
		if len(b) < 3 {
			return 0
		}
		s.tms(op, int(b[1])+1, b[2])
		return 3
	}
	switch op {
	case 0x80, 0x82:
		if len(b) < 3 {
			return 0
		}
		if op == 0x82 && s.NoUpper {
			s.bad(op)
			return 1
		}
		if op == 0x80 {
			s.val = s.val&0xFF00 | uint16(b[1])
			s.dir = s.dir&0xFF00 | uint16(b[2])
		} else {
			s.val = s.val&0x00FF | uint16(b[1])<<8
			s.dir = s.dir&0x00FF | uint16(b[2])<<8
		}
		s.update()
		return 3
	case 0x81, 0x83:
		if op == 0x83 && s.NoUpper {
			s.bad(op)
			return 1
		}
		s.update()
		l := s.levels()
		if op == 0x83 {
			l >>= 8
		}
		s.queued = append(s.queued, byte(l))
		return 1
	case 0x84:
		s.loopback = true
		return 1
	case 0x85:
		s.loopback = false
		return 1
	case 0x86:
		if len(b) < 3 {
			return 0
		}
		s.div = uint16(b[1]) | uint16(b[2])<<8
		return 3
	case 0x87:
		s.flush()
		return 1
	case 0x8A:
		s.div5 = false
		return 1
	case 0x8B:
		s.div5 = true
		return 1
	case 0x8C:
		s.phase3 = true
		return 1
	case 0x8D:
		s.phase3 = false
		return 1
	case 0x8E:
		if len(b) < 2 {
			return 0
		}
		for i := 0; i <= int(b[1]); i++ {
			s.pulse(nil, false, false)
		}
		return 2
	case 0x8F:
		if len(b) < 3 {
			return 0
		}
		n := 8 * (int(b[1]) | int(b[2])<<8 + 1)
		for i := 0; i < n; i++ {
			s.pulse(nil, false, false)
		}
		return 3
	case 0x96:
		s.adaptive = true
		return 1
	case 0x97:
		s.adaptive = false
		return 1
	case 0x9E:
		if len(b) < 3 {
			return 0
		}
		if s.NoDriveZero {
			s.bad(op)
			return 1
		}
		s.tri = uint16(b[1]) | uint16(b[2])<<8
		s.update()
		return 3
	default:
		s.bad(op)
		return 1
	}
}

// data runs a data shifting command.
func (s *Sim) data(b []byte) int {
	op := b[0]
	write := op&0x10 != 0
	read := op&0x20 != 0
	fallW := op&0x01 != 0
	fallR := op&0x04 != 0
	lsbf := op&0x08 != 0
	if op&0x02 != 0 {
		// Bits.
		l := 2
		if write {
			l = 3
		}
		if len(b) < l {
			return 0
		}
		n := int(b[1]) + 1
		if n > 8 {
			// The engine only looks at the 3 low bits.
			n = int(b[1]&7) + 1
		}
		var w byte
		if write {
			w = b[2]
		}
		var r byte
		for i := 0; i < n; i++ {
			var bit bool
			if lsbf {
				bit = w&(1<<uint(i)) != 0
			} else {
				bit = w&(0x80>>uint(i)) != 0
			}
			in := s.pulse(s.setDO(write, bit), fallW, fallR)
			if lsbf {
				r >>= 1
				if in {
					r |= 0x80
				}
			} else {
				r <<= 1
				if in {
					r |= 1
				}
			}
		}
		if read {
			s.queued = append(s.queued, r)
		}
		return l
	}
	if len(b) < 3 {
		return 0
	}
	n := int(b[1]) | int(b[2])<<8 + 1
	l := 3
	if write {
		l += n
	}
	if len(b) < l {
		return 0
	}
	for k := 0; k < n; k++ {
		var w byte
		if write {
			w = b[3+k]
		}
		var r byte
		for i := 0; i < 8; i++ {
			m := byte(0x80 >> uint(i))
			if lsbf {
				m = 1 << uint(i)
			}
			if s.pulse(s.setDO(write, w&m != 0), fallW, fallR) {
				r |= m
			}
		}
		if read {
			s.queued = append(s.queued, r)
		}
	}
	return l
}

// tms runs a TMS command: bits 6~0 on D3, bit 7 held on D1.
func (s *Sim) tms(op byte, n int, v byte) {
	if n > 7 {
		n = 7
	}
	s.setPin(1, v&0x80 != 0)
	s.update()
	var r byte
	for i := 0; i < n; i++ {
		bit := v&(1<<uint(i)) != 0
		in := s.pulse(func() { s.setPin(3, bit) }, op&0x01 != 0, op&0x04 != 0)
		r >>= 1
		if in {
			r |= 0x80
		}
	}
	if op&0x20 != 0 {
		s.queued = append(s.queued, r)
	}
}

// setDO returns the function presenting a data bit on D1, or nil.
func (s *Sim) setDO(write, bit bool) func() {
	if !write {
		return nil
	}
	return func() { s.setPin(1, bit) }
}

// pulse clocks D0 once from its idle level and back.
//
// set, if not nil, presents the output bit at the write edge. It returns the
// input bit sampled at the read edge, as seen just before the edge.
func (s *Sim) pulse(set func(), fallW, fallR bool) bool {
	leadFall := s.val&1 != 0
	var in bool
	if set != nil && fallW != leadFall {
		set()
		s.update()
	}
	if fallR == leadFall {
		in = s.di()
	}
	s.val ^= 1
	if set != nil && fallW == leadFall {
		set()
	}
	s.update()
	if fallR != leadFall {
		in = s.di()
	}
	s.val ^= 1
	s.update()
	return in
}

func (s *Sim) setPin(n uint, l bool) {
	if l {
		s.val |= 1 << n
	} else {
		s.val &^= 1 << n
	}
}

// di returns the data input level.
func (s *Sim) di() bool {
	if s.loopback {
		return s.val&2 != 0
	}
	return s.levels()&4 != 0
}

// hostOut returns the level driven by the host; released pins read high.
func (s *Sim) hostOut() uint16 {
	return ^s.dir | s.val
}

// levels returns the resulting level of each pin.
func (s *Sim) levels() uint16 {
	released := ^s.dir | s.dir&s.val&s.tri
	return s.val&^released | released&s.tout
}

// update lets the targets react to the pins.
func (s *Sim) update() {
	out := s.hostOut()
	t := uint16(0xFFFF)
	for _, d := range s.Targets {
		t &= d.Drive(out)
	}
	s.tout = t
}

func (s *Sim) bad(op byte) {
	s.queued = append(s.queued, 0xFA, op)
}

func (s *Sim) flush() {
	q := s.queued
	s.queued = nil
	if s.Drop > 0 {
		n := s.Drop
		if n > len(q) {
			n = len(q)
		}
		q = q[:len(q)-n]
		s.Drop -= n
	}
	s.ready = append(s.ready, q...)
}
