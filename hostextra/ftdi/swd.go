// Copyright 2019 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// ARM Serial Wire Debug:
// https://developer.arm.com/documentation/ihi0031/latest/
//
// SWDIO is bidirectional. D1 drives it through a resistor (around 470Ω) and
// D2 reads it. D1 is set as an input whenever the target drives the line.

package ftdi

import (
	"fmt"
	"math/bits"

	"github.com/golang/glog"
	"periph.io/x/periph/conn/gpio"
	"periph.io/x/periph/conn/physic"
)

// Port is the SWD register bank targeted by a request.
type Port uint8

// Ports.
const (
	DP Port = 0 // Debug port
	AP Port = 1 // Access port
)

func (p Port) String() string {
	if p == AP {
		return "AP"
	}
	return "DP"
}

// Ack is the 3 bits acknowledge of a SWD request.
type Ack uint8

// Acknowledges.
const (
	AckOK    Ack = 1
	AckWait  Ack = 2
	AckFault Ack = 4
)

func (a Ack) String() string {
	switch a {
	case AckOK:
		return "OK"
	case AckWait:
		return "WAIT"
	case AckFault:
		return "FAULT"
	default:
		return fmt.Sprintf("Ack(%#x)", uint8(a))
	}
}

// Debug port register byte addresses.
const (
	DPIDR  uint8 = 0x0 // Read
	ABORT  uint8 = 0x0 // Write
	CTRL   uint8 = 0x4
	SELECT uint8 = 0x8
	RDBUFF uint8 = 0xC
)

// ABORT register flags.
const (
	AbortDAP    uint32 = 1 << 0
	AbortSTKCMP uint32 = 1 << 1
	AbortSTKERR uint32 = 1 << 2
	AbortWDERR  uint32 = 1 << 3
	AbortORUN   uint32 = 1 << 4
	// AbortAll clears all the sticky flags.
	AbortAll = AbortSTKCMP | AbortSTKERR | AbortWDERR | AbortORUN
)

// SWDTransaction is one SWD request and its outcome.
type SWDTransaction struct {
	Port Port
	Read bool
	// Addr is the register byte address: 0x0, 0x4, 0x8 or 0xC.
	Addr uint8
	// Data is written, or set to the value read.
	Data uint32
	// Ack is set to the target's acknowledge.
	Ack Ack
}

// Request returns the 8 bits request header.
func (t *SWDTransaction) Request() byte {
	var b byte = 1 // Start
	if t.Port == AP {
		b |= 1 << 1
	}
	if t.Read {
		b |= 1 << 2
	}
	b |= (t.Addr & 0x0C) << 1
	if bits.OnesCount8(b&0x1E)&1 != 0 {
		b |= 1 << 5
	}
	// Stop is 0, park is 1.
	return b | 1<<7
}

func (t *SWDTransaction) String() string {
	rw := "write"
	if t.Read {
		rw = "read"
	}
	return fmt.Sprintf("%s %s %#x", rw, t.Port, t.Addr)
}

// SWDConfig configures the SWD master.
type SWDConfig struct {
	// Speed is the SWCLK frequency. Defaults to 1MHz.
	Speed physic.Frequency
	// Dir is an optional pin controlling an external buffer direction. It is
	// high when the host drives SWDIO.
	Dir Pin
	// MaxWaitRetries is the number of times a request answered WAIT is
	// retried. 0 means a WAIT is returned to the caller as is.
	MaxWaitRetries int
}

// OpenSWD takes ownership of the channel as a SWD master.
//
// D0 is SWCLK, D1 drives SWDIO and D2 reads it.
func (c *Channel) OpenSWD(cfg *SWDConfig) (*SWD, error) {
	s := &SWD{c: c, pins: c.profile.SWD}
	speed := physic.MegaHertz
	if cfg != nil {
		if cfg.Speed != 0 {
			speed = cfg.Speed
		}
		s.dir = cfg.Dir
		if cfg.MaxWaitRetries > 0 {
			s.retries = cfg.MaxWaitRetries
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.acquire(UseSWD, s.pins.SWCLK, s.pins.SWDIOOut, s.pins.SWDIOIn, s.dir); err != nil {
		return nil, err
	}
	if _, err := c.setFrequency(speed); err != nil {
		c.releaseMaster(UseSWD)
		return nil, err
	}
	c.setPin(s.pins.SWCLK, true, gpio.Low)
	c.setPin(s.pins.SWDIOIn, false, gpio.Low)
	var cmd command
	s.drive(&cmd, true)
	c.emit(&cmd, s.pins.SWCLK)
	if _, err := c.h.exec(&cmd); err != nil {
		c.releaseMaster(UseSWD)
		return nil, err
	}
	glog.V(1).Infof("ftdi: %s: SWD at %s", c, c.freq)
	return s, nil
}

// SWD is a Serial Wire Debug master over a MPSSE channel.
type SWD struct {
	// Immutable.
	c       *Channel
	pins    SWDPins
	dir     Pin
	retries int

	// Mutable.
	closed bool
}

func (s *SWD) String() string {
	return s.c.String()
}

// Close releases the pins and the channel.
func (s *SWD) Close() error {
	s.c.mu.Lock()
	defer s.c.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	for _, p := range []Pin{s.pins.SWCLK, s.pins.SWDIOOut, s.dir} {
		s.c.setPin(p, false, gpio.Low)
	}
	var cmd command
	s.c.emit(&cmd, s.pins.SWCLK, s.dir)
	s.c.releaseMaster(UseSWD)
	if s.c.closed {
		return nil
	}
	_, err := s.c.h.exec(&cmd)
	return err
}

// Enable switches a target from JTAG to SWD.
//
// It sends a line reset, the 0xE79E switch sequence and another line reset.
// The target stays in reset state until DPIDR is read.
func (s *SWD) Enable() error {
	s.c.mu.Lock()
	defer s.c.mu.Unlock()
	if err := s.check(); err != nil {
		return err
	}
	w := make([]byte, 0, 16)
	w = append(w, ones(56)...)
	w = append(w, 0x9E, 0xE7)
	w = append(w, ones(56)...)
	var cmd command
	s.drive(&cmd, true)
	cmd.writeLSB(w)
	cmd.writeBitsLSB(0, 2)
	_, err := s.c.h.exec(&cmd)
	return err
}

// ResetLine sends at least 50 clocks with SWDIO high followed by 2 idle
// clocks.
func (s *SWD) ResetLine() error {
	s.c.mu.Lock()
	defer s.c.mu.Unlock()
	if err := s.check(); err != nil {
		return err
	}
	var cmd command
	s.drive(&cmd, true)
	cmd.writeLSB(ones(56))
	cmd.writeBitsLSB(0, 2)
	_, err := s.c.h.exec(&cmd)
	return err
}

// ReadRegister reads a DP or AP register.
//
// A WAIT, FAULT, invalid acknowledge or parity mismatch is returned as a
// *BusProtocolError matching ErrWait, ErrFault, ErrProtocol or ErrParity.
func (s *SWD) ReadRegister(p Port, addr uint8) (uint32, error) {
	t := SWDTransaction{Port: p, Read: true, Addr: addr}
	err := s.Transaction(&t)
	return t.Data, err
}

// WriteRegister writes a DP or AP register.
func (s *SWD) WriteRegister(p Port, addr uint8, v uint32) error {
	t := SWDTransaction{Port: p, Addr: addr, Data: v}
	return s.Transaction(&t)
}

// ReadIDCode reads DPIDR. It is the first request after Enable().
func (s *SWD) ReadIDCode() (uint32, error) {
	return s.ReadRegister(DP, DPIDR)
}

// Abort writes flags to the DP ABORT register to clear the sticky errors
// after a FAULT.
func (s *SWD) Abort(flags uint32) error {
	return s.WriteRegister(DP, ABORT, flags)
}

// Transaction runs one request, retrying on WAIT up to MaxWaitRetries times.
func (s *SWD) Transaction(t *SWDTransaction) error {
	if t.Addr&^0x0C != 0 {
		return configErr(fmt.Sprintf("invalid register address %#x", t.Addr), nil)
	}
	s.c.mu.Lock()
	defer s.c.mu.Unlock()
	if err := s.check(); err != nil {
		return err
	}
	for i := 0; ; i++ {
		err := s.transaction(t)
		if t.Ack != AckWait {
			return err
		}
		if s.retries == 0 {
			return err
		}
		if i == s.retries {
			return &TimeoutError{Op: "swd: " + t.String(), Attempts: i + 1, Err: err}
		}
		glog.V(2).Infof("ftdi: %s: SWD WAIT on %s", s.c, t)
	}
}

//

func (s *SWD) check() error {
	if s.closed || s.c.closed {
		return ErrClosed
	}
	return nil
}

// drive sets SWDIO as driven by the host, or released for the target.
func (s *SWD) drive(cmd *command, on bool) {
	s.c.setPin(s.pins.SWDIOOut, on, gpio.Low)
	s.c.setPin(s.dir, true, gpio.Level(on))
	s.c.emit(cmd, s.pins.SWDIOOut, s.dir)
}

// turnaround appends one clock with nobody driving SWDIO.
func (s *SWD) turnaround(cmd *command) {
	cmd.clockPulses(1)
}

// idle appends 8 idle clocks with SWDIO low, so the target completes the
// transfer.
func (s *SWD) idle(cmd *command) {
	cmd.writeBitsLSB(0, 8)
}

// transaction runs the request once.
func (s *SWD) transaction(t *SWDTransaction) error {
	// Request, turnaround, acknowledge.
	var cmd command
	s.drive(&cmd, true)
	cmd.writeBitsLSB(uint32(t.Request()), 8)
	s.drive(&cmd, false)
	s.turnaround(&cmd)
	cmd.readBitsLSB(3)
	if !t.Read {
		s.turnaround(&cmd)
	}
	res, err := s.c.h.exec(&cmd)
	if err != nil {
		return err
	}
	t.Ack = Ack(res[0][0])
	if t.Ack != AckOK {
		cmd = command{}
		if t.Read {
			s.turnaround(&cmd)
		}
		s.drive(&cmd, true)
		s.idle(&cmd)
		if _, err := s.c.h.exec(&cmd); err != nil {
			return err
		}
		e := ErrProtocol
		switch t.Ack {
		case AckWait:
			e = ErrWait
		case AckFault:
			e = ErrFault
		}
		return &BusProtocolError{Bus: "swd", Op: t.String(), Ack: byte(t.Ack), Err: e}
	}

	// Data phase.
	cmd = command{}
	if t.Read {
		cmd.readLSB(4)
		cmd.readBitsLSB(1)
		s.turnaround(&cmd)
		s.drive(&cmd, true)
		s.idle(&cmd)
		res, err := s.c.h.exec(&cmd)
		if err != nil {
			return err
		}
		d := res[0]
		t.Data = uint32(d[0]) | uint32(d[1])<<8 | uint32(d[2])<<16 | uint32(d[3])<<24
		if res[1][0]&1 != byte(bits.OnesCount32(t.Data)&1) {
			return &BusProtocolError{Bus: "swd", Op: t.String(), Ack: byte(t.Ack), Err: ErrParity}
		}
		return nil
	}
	s.drive(&cmd, true)
	w := [4]byte{byte(t.Data), byte(t.Data >> 8), byte(t.Data >> 16), byte(t.Data >> 24)}
	cmd.writeLSB(w[:])
	cmd.writeBitsLSB(uint32(bits.OnesCount32(t.Data)&1), 1)
	s.idle(&cmd)
	_, err = s.c.h.exec(&cmd)
	return err
}
