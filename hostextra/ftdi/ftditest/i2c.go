// Copyright 2019 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package ftditest

type i2cState uint8

const (
	i2cIdle  i2cState = iota
	i2cAddr           // Receiving the address.
	i2cWrite          // Receiving data.
	i2cAck            // Acknowledging a byte received.
	i2cRead           // Sending data.
	i2cMAck           // Master acknowledging a byte sent.
)

// I2CSlave simulates an I²C memory with a 8 bits address pointer, like a
// small EEPROM.
//
// SCL is D0. The host drives SDA on D1 and reads it on D2; the slave drives
// both as they are wired together. The first byte written after the address
// sets the pointer, the following bytes are written at the pointer. Reads
// start at the pointer. The pointer auto increments.
type I2CSlave struct {
	// Addr is the 7 bits address.
	Addr uint8
	Mem  [256]byte
	// Stretch is the number of Drive calls SCL is held low on every
	// acknowledge clock.
	Stretch int

	// Starts and Stops count the conditions seen on the bus.
	Starts int
	Stops  int

	powered   bool
	scl, sda  bool // Bus levels.
	state     i2cState
	bit       int
	shift     byte
	rw        bool
	ack       bool
	nack      bool
	ptr       byte
	pointer   bool // Next written byte is the pointer.
	cur       byte
	release   bool // SDA not driven low.
	hold      int
	stretched bool
}

// Drive implements Target.
func (s *I2CSlave) Drive(out uint16) uint16 {
	if !s.powered {
		s.powered = true
		s.scl, s.sda, s.release = true, true, true
	}
	hostSCL := out&1 != 0
	hostSDA := out&2 != 0
	if s.hold > 0 {
		s.hold--
	}
	if hostSCL && !s.scl && !s.stretched && s.Stretch > 0 && (s.state == i2cAck || s.state == i2cMAck) {
		s.stretched = true
		s.hold = s.Stretch
	}
	scl := hostSCL && s.hold == 0
	sda := hostSDA && s.release
	switch {
	case scl && s.scl:
		if s.sda && !sda {
			s.start()
		} else if !s.sda && sda {
			s.stop()
		}
	case scl && !s.scl:
		s.rising(sda)
	case !scl && s.scl:
		s.falling()
	}
	s.scl = scl
	s.sda = hostSDA && s.release
	v := uint16(0xFFFF)
	if s.hold > 0 {
		v &^= 1
	}
	if !s.sda {
		v &^= 4
	}
	if !s.release {
		v &^= 2
	}
	return v
}

func (s *I2CSlave) start() {
	s.Starts++
	s.state = i2cAddr
	s.bit = 0
	s.shift = 0
	s.pointer = true
	s.nack = false
	s.release = true
}

func (s *I2CSlave) stop() {
	s.Stops++
	s.state = i2cIdle
	s.release = true
}

func (s *I2CSlave) rising(sda bool) {
	switch s.state {
	case i2cAddr, i2cWrite:
		s.shift <<= 1
		if sda {
			s.shift |= 1
		}
		s.bit++
		if s.bit != 8 {
			return
		}
		if s.state == i2cAddr {
			if s.shift>>1 != s.Addr {
				s.state = i2cIdle
				return
			}
			s.rw = s.shift&1 != 0
		} else if s.pointer {
			s.ptr = s.shift
			s.pointer = false
		} else {
			s.Mem[s.ptr] = s.shift
			s.ptr++
		}
		s.ack = true
	case i2cRead:
		s.bit++
	case i2cMAck:
		s.nack = sda
	}
}

func (s *I2CSlave) falling() {
	s.stretched = false
	switch s.state {
	case i2cAddr, i2cWrite:
		if s.ack {
			s.ack = false
			s.release = false
			s.state = i2cAck
		}
	case i2cAck:
		s.release = true
		s.bit = 0
		s.shift = 0
		if s.rw {
			s.load()
		} else {
			s.state = i2cWrite
		}
	case i2cRead:
		if s.bit < 8 {
			s.release = s.cur&(0x80>>uint(s.bit)) != 0
			return
		}
		s.release = true
		s.state = i2cMAck
	case i2cMAck:
		if s.nack {
			s.state = i2cIdle
			return
		}
		s.bit = 0
		s.load()
	}
}

// load starts sending the byte at the pointer.
func (s *I2CSlave) load() {
	s.state = i2cRead
	s.cur = s.Mem[s.ptr]
	s.ptr++
	s.release = s.cur&0x80 != 0
}
