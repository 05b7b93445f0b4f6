// Copyright 2019 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// MPSSE is Multi-Protocol Synchronous Serial Engine
//
// MPSSE basics:
// http://www.ftdichip.com/Support/Documents/AppNotes/AN_135_MPSSE_Basics.pdf
//
// MPSSE and MCU emulation modes:
// http://www.ftdichip.com/Support/Documents/AppNotes/AN_108_Command_Processor_for_MPSSE_and_MCU_Host_Bus_Emulation_Modes.pdf

package ftdi

import (
	"fmt"

	"periph.io/x/periph/conn/gpio"
)

const (
	// Serial data clocked on D0, written on D1 and read from D2.
	//
	// Byte stream, [1, 65536] bytes:
	//   <op>, <LengthLow-1>, <LengthHigh-1>, <byte0>, ..., <byteN>
	//
	// Bits (dataBit), [1, 8] bits:
	//   <op>, <Length-1>, <byte>
	//
	// Flags:
	dataOut     byte = 0x10 // Enable output, default on +VE (Rise)
	dataIn      byte = 0x20 // Enable input, default on +VE (Rise)
	dataOutFall byte = 0x01 // instead of Rise
	dataInFall  byte = 0x04 // instead of Rise
	dataLSBF    byte = 0x08 // instead of MSBF
	dataBit     byte = 0x02 // instead of Byte

	// Pins set to 1 in the mask only drive low and float otherwise. FT232H
	// only.
	//   <op>, <lower mask>, <upper mask>
	dataTristate byte = 0x9E

	// TMS is clocked out on D3, bits 6 to 0 LSB first. Bit 7 is held on D1
	// during the whole command. The "In" variants read D2 like dataIn.
	//   <op>, <Length-1>, <byte>
	tmsOutLSBFRise byte = 0x4A
	tmsOutLSBFFall byte = 0x4B
	tmsIOLSBInRise byte = 0x6A
	tmsIOLSBInFall byte = 0x6B

	// GPIO. Direction 1 means output.
	//   <op>, <value>, <direction>
	gpioSetD byte = 0x80
	gpioSetC byte = 0x82
	// <op>, returns <value>
	gpioReadD byte = 0x81
	gpioReadC byte = 0x83

	// Connects D1 to D2 internally.
	internalLoopbackEnable  byte = 0x84
	internalLoopbackDisable byte = 0x85

	// Clock.
	//
	// The inactive clock level is the D0 value set with gpioSetD.
	clock30MHz byte = 0x8A // 60MHz base clock, divide by 5 disabled.
	clock6MHz  byte = 0x8B // 12MHz base clock.
	// <op>, <valueL>, <valueH>
	clockSetDivisor byte = 0x86
	// Data is valid on both clock edges for 3 phases. Needed for I²C.
	clock3Phase byte = 0x8C
	clock2Phase byte = 0x8D
	// Clock pulses without data, [1, 8] pulses.
	//   <op>, <length-1>
	clockOnShort byte = 0x8E
	// Clock pulses without data, [1, 65536] bytes of 8 pulses.
	//   <op>, <lengthL-1>, <lengthH-1>
	clockOnLong byte = 0x8F
	// Adaptive clocking waits for D7 (RTCK) to follow D0 on each edge.
	clockAdaptive byte = 0x96
	clockNormal   byte = 0x97

	// Flush the response buffer back to the host.
	flush byte = 0x87

	// The engine answers an unknown opcode with badCommand followed by the
	// opcode.
	badCommand byte = 0xFA
)

// maxStream is the largest byte stream a single data command can carry.
const maxStream = 65536

// readSpec describes one response segment of a command.
type readSpec struct {
	// bits is 0 for a byte stream of n bytes, otherwise the number of bits
	// read in a single byte.
	n    int
	bits int
	lsbf bool
}

// command is a batch of MPSSE commands along with the plan to decode the
// response.
//
// It is created per operation, executed once with device.exec() and then
// discarded.
type command struct {
	b     []byte
	reads []readSpec
	n     int
}

// expects returns the number of response bytes.
func (c *command) expects() int {
	return c.n
}

func (c *command) raw(b ...byte) {
	c.b = append(c.b, b...)
}

func (c *command) gpioSet(b Bank, value, direction byte) {
	op := gpioSetD
	if b == Upper {
		op = gpioSetC
	}
	c.b = append(c.b, op, value, direction)
}

func (c *command) gpioRead(b Bank) {
	op := gpioReadD
	if b == Upper {
		op = gpioReadC
	}
	c.b = append(c.b, op)
	c.addRead(readSpec{n: 1})
}

func (c *command) divisor(div uint16, div5 bool) {
	clk := clock30MHz
	if div5 {
		clk = clock6MHz
	}
	c.b = append(c.b, clk, clockSetDivisor, byte(div), byte(div>>8))
}

func (c *command) tristate(lower, upper byte) {
	c.b = append(c.b, dataTristate, lower, upper)
}

// clockBytes clocks a byte stream.
//
// w is written if not nil. r bytes are read if r is not 0. When both are
// specified, len(w) must be equal to r. Streams larger than 65536 bytes are
// split in multiple commands.
func (c *command) clockBytes(w []byte, r int, ew, er gpio.Edge, lsbf bool) error {
	l := len(w)
	if r != 0 {
		if l != 0 && l != r {
			return configErr(fmt.Sprintf("mismatched buffer lengths %d and %d", l, r), nil)
		}
		l = r
	}
	if l == 0 {
		return nil
	}
	c.stream(dataOp(w != nil, r != 0, ew, er, lsbf, false), w, l, r != 0, lsbf)
	return nil
}

// stream appends op for l bytes, in chunks of at most 65536 bytes.
func (c *command) stream(op byte, w []byte, l int, read, lsbf bool) {
	for off := 0; off < l; off += maxStream {
		n := l - off
		if n > maxStream {
			n = maxStream
		}
		c.b = append(c.b, op, byte(n-1), byte((n-1)>>8))
		if w != nil {
			c.b = append(c.b, w[off:off+n]...)
		}
		if read {
			c.addRead(readSpec{n: n, lsbf: lsbf})
		}
	}
}

// writeLSB clocks w out LSB first, written on the falling edge.
func (c *command) writeLSB(w []byte) {
	c.stream(dataOp(true, false, gpio.FallingEdge, gpio.RisingEdge, true, false), w, len(w), false, true)
}

// readLSB clocks n bytes in LSB first, read on the rising edge.
func (c *command) readLSB(n int) {
	c.stream(dataOp(false, true, gpio.FallingEdge, gpio.RisingEdge, true, false), nil, n, true, true)
}

// writeBitsLSB clocks the n low bits of v out LSB first, written on the
// falling edge, 8 bits per command.
func (c *command) writeBitsLSB(v uint32, n int) {
	op := dataOp(true, false, gpio.FallingEdge, gpio.RisingEdge, true, true)
	for n > 0 {
		k := n
		if k > 8 {
			k = 8
		}
		c.b = append(c.b, op, byte(k-1), byte(v))
		v >>= uint(k)
		n -= k
	}
}

// readBitsLSB clocks n bits in LSB first, read on the rising edge. Each
// command of up to 8 bits is one response segment.
func (c *command) readBitsLSB(n int) {
	op := dataOp(false, true, gpio.FallingEdge, gpio.RisingEdge, true, true)
	for n > 0 {
		k := n
		if k > 8 {
			k = 8
		}
		c.b = append(c.b, op, byte(k-1))
		c.addRead(readSpec{n: 1, bits: k, lsbf: true})
		n -= k
	}
}

// clockBits clocks between 1 and 8 bits.
//
// When lsbf is false, the bits are taken from the top of w.
func (c *command) clockBits(w byte, n int, write, read bool, ew, er gpio.Edge, lsbf bool) error {
	if n < 1 || n > 8 {
		return configErr(fmt.Sprintf("invalid bit count %d", n), nil)
	}
	op := dataOp(write, read, ew, er, lsbf, true)
	c.b = append(c.b, op, byte(n-1))
	if write {
		c.b = append(c.b, w)
	}
	if read {
		c.addRead(readSpec{n: 1, bits: n, lsbf: lsbf})
	}
	return nil
}

// tms clocks up to 7 TMS bits, LSB first, while holding tdi.
//
// The bits are written on the falling edge. When read is true, TDO is read on
// the rising edge.
func (c *command) tms(bits byte, n int, tdi, read bool) error {
	if n < 1 || n > 7 {
		return configErr(fmt.Sprintf("invalid TMS bit count %d", n), nil)
	}
	op := tmsOutLSBFFall
	if read {
		op = tmsIOLSBInFall
	}
	v := bits & 0x7F
	if tdi {
		v |= 0x80
	}
	c.b = append(c.b, op, byte(n-1), v)
	if read {
		c.addRead(readSpec{n: 1, bits: n, lsbf: true})
	}
	return nil
}

// tmsSeq clocks the n low bits of bits on TMS, LSB first, while holding tdi.
//
// A single command carries 7 bits so longer sequences are split. Nothing is
// read.
func (c *command) tmsSeq(bits uint32, n int, tdi bool) {
	for n > 0 {
		k := n
		if k > 7 {
			k = 7
		}
		v := byte(bits) & 0x7F
		if tdi {
			v |= 0x80
		}
		c.b = append(c.b, tmsOutLSBFFall, byte(k-1), v)
		bits >>= uint(k)
		n -= k
	}
}

// clockPulses clocks n times without any data transfer.
func (c *command) clockPulses(n int) {
	for n >= 8 {
		l := n / 8
		if l > maxStream {
			l = maxStream
		}
		c.b = append(c.b, clockOnLong, byte(l-1), byte((l-1)>>8))
		n -= 8 * l
	}
	if n != 0 {
		c.b = append(c.b, clockOnShort, byte(n-1))
	}
}

func (c *command) addRead(r readSpec) {
	c.reads = append(c.reads, r)
	c.n += r.n
}

// dataOp returns the data command opcode.
func dataOp(write, read bool, ew, er gpio.Edge, lsbf, bits bool) byte {
	op := byte(0)
	if write {
		op |= dataOut
		if ew == gpio.FallingEdge {
			op |= dataOutFall
		}
	}
	if read {
		op |= dataIn
		if er == gpio.FallingEdge {
			op |= dataInFall
		}
	}
	if lsbf {
		op |= dataLSBF
	}
	if bits {
		op |= dataBit
	}
	return op
}

// decode splits the raw response into one segment per readSpec.
//
// Bit reads are normalized so the first bit received is bit 0 when read LSB
// first, and bit n-1 when read MSB first; the unused bits are cleared. The
// engine shifts LSB first bits in from bit 7 and MSB first bits in from bit 0.
func decode(reads []readSpec, raw []byte) ([][]byte, error) {
	out := make([][]byte, len(reads))
	off := 0
	for i, r := range reads {
		if off+r.n > len(raw) {
			return nil, &ProtocolAlignmentError{Want: off + r.n, Got: len(raw)}
		}
		s := raw[off : off+r.n]
		off += r.n
		if r.bits != 0 {
			v := s[0]
			if r.lsbf {
				v >>= uint(8 - r.bits)
			} else {
				v &= byte(1<<uint(r.bits) - 1)
			}
			s = []byte{v}
		}
		out[i] = s
	}
	return out, nil
}
