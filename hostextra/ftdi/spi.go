// Copyright 2019 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Interfacing SPI:
// http://www.ftdichip.com/Support/Documents/AppNotes/AN_114_FTDI_Hi_Speed_USB_To_SPI_Example.pdf
//
// Implementation based on
// http://www.ftdichip.com/Support/Documents/AppNotes/AN_180_FT232H%20MPSSE%20Example%20-%20USB%20Current%20Meter%20using%20the%20SPI%20interface.pdf

package ftdi

import (
	"errors"
	"fmt"

	"github.com/golang/glog"
	"periph.io/x/periph/conn"
	"periph.io/x/periph/conn/gpio"
	"periph.io/x/periph/conn/physic"
	"periph.io/x/periph/conn/spi"
)

// SPIConfig overrides the profile's default SPI pin map.
//
// CLK, MOSI and MISO cannot be moved. CS can be any free pin, or NoPin when
// the connection is always used with spi.NoCS.
type SPIConfig struct {
	CS Pin
	// CSActiveHigh inverts the chip select polarity.
	CSActiveHigh bool
}

// SPI returns a SPI port on the channel with the default pin map.
//
// It is the opener registered in spireg.
func (c *Channel) SPI() (spi.PortCloser, error) {
	return c.OpenSPI(nil)
}

// OpenSPI takes ownership of the channel as a SPI master.
func (c *Channel) OpenSPI(cfg *SPIConfig) (*SPIPort, error) {
	pins := c.profile.SPI
	csHigh := false
	if cfg != nil {
		pins.CS = cfg.CS
		csHigh = cfg.CSActiveHigh
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.acquire(UseSPI, pins.CLK, pins.MOSI, pins.MISO, pins.CS); err != nil {
		return nil, err
	}
	s := &SPIPort{c: SPIConn{c: c, pins: pins, csHigh: csHigh}}
	// Idle state until Connect() is called: clock low, CS inactive.
	c.setPin(pins.CLK, true, gpio.Low)
	c.setPin(pins.MOSI, true, gpio.Low)
	c.setPin(pins.MISO, false, gpio.Low)
	c.setPin(pins.CS, true, gpio.Level(!csHigh))
	var cmd command
	c.emit(&cmd, pins.CLK, pins.CS)
	if _, err := c.h.exec(&cmd); err != nil {
		c.releaseMaster(UseSPI)
		return nil, err
	}
	glog.V(1).Infof("ftdi: %s: SPI on %s", c, pinNames(pins.CLK, pins.MOSI, pins.MISO, pins.CS))
	return s, nil
}

// SPIPort is a SPI port over a MPSSE channel.
//
// SPIPort implements spi.PortCloser.
type SPIPort struct {
	c SPIConn

	// Mutable.
	maxFreq physic.Frequency
}

// Close releases the pins and the channel.
func (s *SPIPort) Close() error {
	c := s.c.c
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.master != UseSPI || s.c.closed {
		return nil
	}
	s.c.closed = true
	c.setPin(s.c.pins.MOSI, false, gpio.Low)
	c.setPin(s.c.pins.CLK, false, gpio.Low)
	c.setPin(s.c.pins.CS, false, gpio.Low)
	var cmd command
	c.emit(&cmd, s.c.pins.CLK, s.c.pins.CS)
	c.releaseMaster(UseSPI)
	if c.closed {
		return nil
	}
	_, err := c.h.exec(&cmd)
	return err
}

func (s *SPIPort) String() string {
	return s.c.String()
}

// Connect implements spi.Port.
//
// bits must be a multiple of 8. Use SPIConn.TxBits() for partial bytes.
func (s *SPIPort) Connect(f physic.Frequency, m spi.Mode, bits int) (spi.Conn, error) {
	if bits&7 != 0 {
		return nil, configErr("bits must be multiple of 8", nil)
	}
	ew, er, idle, err := spiEdges(m &^ (spi.HalfDuplex | spi.NoCS | spi.LSBFirst))
	if err != nil {
		return nil, err
	}
	if m&spi.NoCS == 0 && !s.c.pins.CS.Valid() {
		return nil, configErr("no CS pin configured; use spi.NoCS", nil)
	}
	c := s.c.c
	c.mu.Lock()
	defer c.mu.Unlock()
	if s.c.closed || c.closed {
		return nil, ErrClosed
	}
	if s.maxFreq != 0 && f > s.maxFreq {
		f = s.maxFreq
	}
	if _, err := c.setFrequency(f); err != nil {
		return nil, err
	}
	s.c.ew = ew
	s.c.er = er
	s.c.idle = idle
	s.c.lsbf = m&spi.LSBFirst != 0
	s.c.half = m&spi.HalfDuplex != 0
	s.c.noCS = m&spi.NoCS != 0
	c.setPin(s.c.pins.CLK, true, idle)
	var cmd command
	c.emit(&cmd, s.c.pins.CLK)
	if _, err := c.h.exec(&cmd); err != nil {
		return nil, err
	}
	s.c.connected = true
	return &s.c, nil
}

// LimitSpeed implements spi.Port.
func (s *SPIPort) LimitSpeed(f physic.Frequency) error {
	if _, err := computeClock(s.c.c.profile.BaseClock, f); err != nil {
		return err
	}
	c := s.c.c
	c.mu.Lock()
	defer c.mu.Unlock()
	if s.maxFreq == 0 || f < s.maxFreq {
		s.maxFreq = f
	}
	if c.freq > s.maxFreq {
		_, err := c.setFrequency(s.maxFreq)
		return err
	}
	return nil
}

// Transfer connects in mode m at frequency f and clocks w out in a single
// transaction, returning what was read meanwhile.
func (s *SPIPort) Transfer(m spi.Mode, f physic.Frequency, w []byte) ([]byte, error) {
	conn, err := s.Connect(f, m, 8)
	if err != nil {
		return nil, err
	}
	r := make([]byte, len(w))
	if err := conn.Tx(w, r); err != nil {
		return nil, err
	}
	return r, nil
}

// CLK returns the SCK (clock) pin.
func (s *SPIPort) CLK() gpio.PinOut {
	return s.c.CLK()
}

// MOSI returns the SDO (master out, slave in) pin.
func (s *SPIPort) MOSI() gpio.PinOut {
	return s.c.MOSI()
}

// MISO returns the SDI (master in, slave out) pin.
func (s *SPIPort) MISO() gpio.PinIn {
	return s.c.MISO()
}

// CS returns the CSN (chip select) pin.
func (s *SPIPort) CS() gpio.PinOut {
	return s.c.CS()
}

// SPIConn is a connected SPI port.
//
// SPIConn implements spi.Conn and spi.Pins.
type SPIConn struct {
	// Immutable.
	c      *Channel
	pins   SPIPins
	csHigh bool

	// Initialized at Connect().
	ew        gpio.Edge
	er        gpio.Edge
	idle      gpio.Level
	lsbf      bool
	half      bool
	noCS      bool
	connected bool
	closed    bool
}

func (s *SPIConn) String() string {
	return s.c.String()
}

// Duplex implements conn.Conn.
func (s *SPIConn) Duplex() conn.Duplex {
	if s.half {
		return conn.Half
	}
	return conn.Full
}

// Tx implements conn.Conn.
func (s *SPIConn) Tx(w, r []byte) error {
	var p = [1]spi.Packet{{W: w, R: r}}
	return s.TxPackets(p[:])
}

// TxPackets implements spi.Conn.
//
// All the packets are sent as a single command batch. CS is asserted for
// every packet, even an empty one, and deasserted after it unless KeepCS is
// set. CS is always deasserted after the last packet.
func (s *SPIConn) TxPackets(pkts []spi.Packet) error {
	for _, p := range pkts {
		if p.BitsPerWord&7 != 0 {
			return configErr("bits must be a multiple of 8", nil)
		}
		if !s.half && len(p.W) != 0 && len(p.R) != 0 && len(p.W) != len(p.R) {
			return configErr(fmt.Sprintf("both buffers must have the same size; got %d and %d", len(p.W), len(p.R)), nil)
		}
	}
	s.c.mu.Lock()
	defer s.c.mu.Unlock()
	if err := s.check(); err != nil {
		return err
	}
	var cmd command
	// Destination buffer of each packet read.
	var dst [][]byte
	asserted := false
	for i, p := range pkts {
		if !asserted {
			s.assert(&cmd, true)
			asserted = true
		}
		n, err := s.queue(&cmd, p.W, p.R)
		if err != nil {
			return err
		}
		if n != 0 {
			dst = append(dst, p.R)
		}
		if !p.KeepCS || i == len(pkts)-1 {
			s.assert(&cmd, false)
			asserted = false
		}
	}
	res, err := s.c.h.exec(&cmd)
	if err != nil {
		return err
	}
	return scatter(res, dst)
}

// TxBits clocks an arbitrary number of bits in a single CS frame.
//
// w and r, if not nil, must hold (bits+7)/8 bytes. The trailing bits of a
// partial byte are taken from and stored at the top of the last byte in
// MSB first order, and at the bottom in LSB first order, as they would be if
// the byte was clocked whole.
func (s *SPIConn) TxBits(w, r []byte, bits int) error {
	if bits <= 0 {
		return configErr(fmt.Sprintf("invalid bit count %d", bits), nil)
	}
	l := (bits + 7) / 8
	if (w != nil && len(w) != l) || (r != nil && len(r) != l) {
		return configErr(fmt.Sprintf("%d bits need %d bytes buffers", bits, l), nil)
	}
	if s.half && w != nil && r != nil {
		return configErr("half duplex bit transfers cannot both write and read", nil)
	}
	s.c.mu.Lock()
	defer s.c.mu.Unlock()
	if err := s.check(); err != nil {
		return err
	}
	full := bits / 8
	rem := bits & 7
	var cmd command
	s.assert(&cmd, true)
	if s.half && r != nil {
		s.c.setPin(s.pins.MOSI, false, gpio.Low)
		s.c.emit(&cmd, s.pins.MOSI)
	}
	var wf []byte
	if w != nil {
		wf = w[:full]
	}
	rn := 0
	if r != nil {
		rn = full
	}
	if err := cmd.clockBytes(wf, rn, s.ew, s.er, s.lsbf); err != nil {
		return err
	}
	if rem != 0 {
		var last byte
		if w != nil {
			last = w[full]
		}
		if err := cmd.clockBits(last, rem, w != nil, r != nil, s.ew, s.er, s.lsbf); err != nil {
			return err
		}
	}
	if s.half && r != nil {
		s.c.setPin(s.pins.MOSI, true, gpio.Low)
		s.c.emit(&cmd, s.pins.MOSI)
	}
	s.assert(&cmd, false)
	res, err := s.c.h.exec(&cmd)
	if err != nil || r == nil {
		return err
	}
	i := 0
	for off := 0; off < full; i++ {
		off += copy(r[off:full], res[i])
	}
	if rem != 0 {
		v := res[i][0]
		if !s.lsbf {
			v <<= uint(8 - rem)
		}
		r[full] = v
	}
	return nil
}

// CLK returns the SCK (clock) pin.
func (s *SPIConn) CLK() gpio.PinOut {
	return s.c.pinOf(s.pins.CLK)
}

// MOSI returns the SDO (master out, slave in) pin.
func (s *SPIConn) MOSI() gpio.PinOut {
	return s.c.pinOf(s.pins.MOSI)
}

// MISO returns the SDI (master in, slave out) pin.
func (s *SPIConn) MISO() gpio.PinIn {
	return s.c.pinOf(s.pins.MISO)
}

// CS returns the CSN (chip select) pin.
func (s *SPIConn) CS() gpio.PinOut {
	return s.c.pinOf(s.pins.CS)
}

func (s *SPIConn) check() error {
	if s.closed || s.c.closed {
		return ErrClosed
	}
	if !s.connected {
		return errors.New("ftdi: spi: call Connect() first")
	}
	return nil
}

// assert appends the CS change, unless NoCS was requested.
func (s *SPIConn) assert(cmd *command, active bool) {
	if s.noCS || !s.pins.CS.Valid() {
		return
	}
	s.c.setPin(s.pins.CS, true, gpio.Level(active == s.csHigh))
	s.c.emit(cmd, s.pins.CS)
}

// queue appends the data commands of one packet and returns the number of
// read segments added.
func (s *SPIConn) queue(cmd *command, w, r []byte) (int, error) {
	if !s.half {
		if len(w) == 0 && len(r) == 0 {
			return 0, nil
		}
		if len(w) == 0 {
			// Reading only; MOSI keeps its last level.
			w = nil
		}
		before := len(cmd.reads)
		if err := cmd.clockBytes(w, len(r), s.ew, s.er, s.lsbf); err != nil {
			return 0, err
		}
		return len(cmd.reads) - before, nil
	}
	// Half duplex: the single data line is released while reading. MISO is
	// expected to be wired to MOSI through a resistor.
	if len(w) != 0 {
		if err := cmd.clockBytes(w, 0, s.ew, s.er, s.lsbf); err != nil {
			return 0, err
		}
	}
	if len(r) == 0 {
		return 0, nil
	}
	s.c.setPin(s.pins.MOSI, false, gpio.Low)
	s.c.emit(cmd, s.pins.MOSI)
	before := len(cmd.reads)
	if err := cmd.clockBytes(nil, len(r), s.ew, s.er, s.lsbf); err != nil {
		return 0, err
	}
	s.c.setPin(s.pins.MOSI, true, gpio.Low)
	s.c.emit(cmd, s.pins.MOSI)
	return len(cmd.reads) - before, nil
}

// scatter copies the decoded segments into the destination buffers.
//
// A buffer larger than 65536 bytes is split over several segments.
func scatter(res [][]byte, dst [][]byte) error {
	i := 0
	for _, d := range dst {
		for off := 0; off < len(d); {
			if i >= len(res) {
				return &ProtocolAlignmentError{Want: len(dst), Got: len(res)}
			}
			off += copy(d[off:], res[i])
			i++
		}
	}
	return nil
}

// spiEdges returns the edges used to write and read, and the clock idle
// level.
func spiEdges(m spi.Mode) (ew, er gpio.Edge, idle gpio.Level, err error) {
	switch m {
	case spi.Mode0:
		return gpio.FallingEdge, gpio.RisingEdge, gpio.Low, nil
	case spi.Mode1:
		return gpio.RisingEdge, gpio.FallingEdge, gpio.Low, nil
	case spi.Mode2:
		return gpio.RisingEdge, gpio.FallingEdge, gpio.High, nil
	case spi.Mode3:
		return gpio.FallingEdge, gpio.RisingEdge, gpio.High, nil
	default:
		return 0, 0, false, configErr(fmt.Sprintf("unknown mode %v", m), nil)
	}
}

var _ spi.PortCloser = &SPIPort{}
var _ spi.Conn = &SPIConn{}
var _ spi.Pins = &SPIConn{}
