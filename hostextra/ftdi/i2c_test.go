// Copyright 2019 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package ftdi

import (
	"bytes"
	"errors"
	"testing"

	"github.com/ftdaye/mpsse/hostextra/ftdi/ftditest"
	"periph.io/x/periph/conn/physic"
)

func TestI2C_WriteRead(t *testing.T) {
	for _, v := range []Variant{FT232H, FT2232H} {
		slave := &ftditest.I2CSlave{Addr: 0x50}
		c, s := newChannel(t, v, slave)
		b, err := c.OpenI2C(nil)
		if err != nil {
			t.Fatal(err)
		}
		if !s.ThreePhase() {
			t.Fatalf("%s: 3 phases clocking must be enabled", v)
		}
		if v == FT232H && s.Tristate() != 3 {
			t.Fatalf("SCL and SDA must be open drain; got %#x", s.Tristate())
		}
		if err := b.Tx(0x50, []byte{0x10, 0xDE, 0xAD, 0xBE}, nil); err != nil {
			t.Fatalf("%s: %v", v, err)
		}
		if !bytes.Equal(slave.Mem[0x10:0x13], []byte{0xDE, 0xAD, 0xBE}) {
			t.Fatalf("%s: Mem = %#v", v, slave.Mem[0x10:0x13])
		}
		r := make([]byte, 3)
		if err := b.Tx(0x50, []byte{0x10}, r); err != nil {
			t.Fatalf("%s: %v", v, err)
		}
		if !bytes.Equal(r, []byte{0xDE, 0xAD, 0xBE}) {
			t.Fatalf("%s: Tx() read %#v", v, r)
		}
		// The write, then the write and the repeated start.
		if slave.Starts != 3 || slave.Stops != 2 {
			t.Fatalf("%s: %d starts, %d stops", v, slave.Starts, slave.Stops)
		}
		// Reads continue from the pointer.
		slave.Mem[0x13] = 0x42
		r, err = b.Read(0x50, 2)
		if err != nil {
			t.Fatal(err)
		}
		if r[0] != 0x42 || r[1] != 0 {
			t.Fatalf("Read() = %#v", r)
		}
		if err := b.Close(); err != nil {
			t.Fatal(err)
		}
		if s.ThreePhase() || s.Tristate() != 0 {
			t.Fatalf("%s: Close() must restore the clocking", v)
		}
	}
}

func TestI2C_NACK(t *testing.T) {
	slave := &ftditest.I2CSlave{Addr: 0x50}
	c, _ := newChannel(t, FT232H, slave)
	b, err := c.OpenI2C(nil)
	if err != nil {
		t.Fatal(err)
	}
	err = b.Write(0x51, []byte{1, 2})
	if !errors.Is(err, ErrNACK) {
		t.Fatalf("Write() = %v", err)
	}
	var bp *BusProtocolError
	if !errors.As(err, &bp) || bp.Bus != "i2c" {
		t.Fatalf("%#v", err)
	}
	if errors.Is(err, ErrChannelFaulted) {
		t.Fatal("a NACK doesn't fault the channel")
	}
	// The bus was released with a STOP and is usable right away.
	if slave.Stops != 1 {
		t.Fatal(slave.Stops)
	}
	if err := b.Write(0x50, []byte{0, 7}); err != nil {
		t.Fatal(err)
	}
	if slave.Mem[0] != 7 {
		t.Fatal(slave.Mem[0])
	}
}

func TestI2C_NoDevice(t *testing.T) {
	c, _ := newChannel(t, FT232H)
	b, err := c.OpenI2C(nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := b.Read(0x20, 1); !errors.Is(err, ErrNACK) {
		t.Fatalf("Read() = %v", err)
	}
	addrs, err := b.Scan()
	if err != nil {
		t.Fatal(err)
	}
	if len(addrs) != 0 {
		t.Fatalf("Scan() = %v", addrs)
	}
}

func TestI2C_Scan(t *testing.T) {
	c, _ := newChannel(t, FT232H, &ftditest.I2CSlave{Addr: 0x3C}, &ftditest.I2CSlave{Addr: 0x68})
	b, err := c.OpenI2C(nil)
	if err != nil {
		t.Fatal(err)
	}
	addrs, err := b.Scan()
	if err != nil {
		t.Fatal(err)
	}
	if len(addrs) != 2 || addrs[0] != 0x3C || addrs[1] != 0x68 {
		t.Fatalf("Scan() = %#x", addrs)
	}
}

func TestI2C_Stretch(t *testing.T) {
	slave := &ftditest.I2CSlave{Addr: 0x50, Stretch: 5}
	c, _ := newChannel(t, FT232H, slave)
	b, err := c.OpenI2C(nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := b.Write(0x50, []byte{0x20, 0x55}); err != nil {
		t.Fatal(err)
	}
	r := make([]byte, 1)
	if err := b.Tx(0x50, []byte{0x20}, r); err != nil {
		t.Fatal(err)
	}
	if r[0] != 0x55 {
		t.Fatalf("%#x", r[0])
	}
}

func TestI2C_StretchTimeout(t *testing.T) {
	slave := &ftditest.I2CSlave{Addr: 0x50, Stretch: 1000}
	c, s := newChannel(t, FT232H, slave)
	b, err := c.OpenI2C(&I2CConfig{StretchPolls: 10})
	if err != nil {
		t.Fatal(err)
	}
	err = b.Write(0x50, []byte{0x20})
	var te *TimeoutError
	if !errors.As(err, &te) {
		t.Fatalf("Write() = %v", err)
	}
	if te.Attempts != 10 || !te.Timeout() {
		t.Fatalf("%#v", te)
	}
	if errors.Is(err, ErrNACK) {
		t.Fatal("a timeout is not a NACK")
	}
	// A STOP was sent: both lines end high.
	if b.scl != lineHigh || b.sda != lineHigh {
		t.Fatalf("SCL %d, SDA %d", b.scl, b.sda)
	}
	if dir, val := s.Pins(); dir&3 != 3 || val&3 != 3 {
		t.Fatalf("direction %#x, value %#x", dir, val)
	}
	if s.Pending() != 0 {
		t.Fatal(s.Pending())
	}
}

func TestI2C_StartStopLen(t *testing.T) {
	for _, n := range []int{1, 3, 10} {
		slave := &ftditest.I2CSlave{Addr: 0x50}
		c, _ := newChannel(t, FT232H, slave)
		b, err := c.OpenI2C(&I2CConfig{StartStopLen: n})
		if err != nil {
			t.Fatal(err)
		}
		var cmd command
		b.start(&cmd, false)
		if len(cmd.b) != 2*n*3 {
			t.Fatalf("%d: START is %d bytes", n, len(cmd.b))
		}
		if _, err := c.h.exec(&cmd); err != nil {
			t.Fatal(err)
		}
		cmd = command{}
		b.stop(&cmd)
		// SCL is pulled low first.
		if len(cmd.b) != (1+3*n)*3 {
			t.Fatalf("%d: STOP is %d bytes", n, len(cmd.b))
		}
		if _, err := c.h.exec(&cmd); err != nil {
			t.Fatal(err)
		}
		if err := b.Write(0x50, []byte{0x20, 0x66}); err != nil {
			t.Fatalf("%d: %v", n, err)
		}
		if slave.Mem[0x20] != 0x66 || slave.Starts != 2 || slave.Stops != 2 {
			t.Fatalf("%d: %#x, %d starts, %d stops", n, slave.Mem[0x20], slave.Starts, slave.Stops)
		}
	}
}

// edges records the direction pin level on every SCL rising edge.
type edges struct {
	*ftditest.I2CSlave
	dir       uint16
	prev      bool
	high, low int
}

func (e *edges) Drive(out uint16) uint16 {
	scl := out&1 != 0
	if scl && !e.prev {
		if out&e.dir != 0 {
			e.high++
		} else {
			e.low++
		}
	}
	e.prev = scl
	return e.I2CSlave.Drive(out)
}

func TestI2C_Dir(t *testing.T) {
	data := []struct {
		dir  Pin
		mask uint16
	}{
		{AD4, 1 << 4},
		{AC0, 1 << 8},
	}
	for _, line := range data {
		e := &edges{I2CSlave: &ftditest.I2CSlave{Addr: 0x50}, dir: line.mask, prev: true}
		c, s := newChannel(t, FT232H, e)
		b, err := c.OpenI2C(&I2CConfig{Dir: line.dir})
		if err != nil {
			t.Fatal(err)
		}
		if f := c.pinOf(line.dir).Function(); f != "I2C" {
			t.Fatalf("%s: %s", line.dir, f)
		}
		if err := b.Write(0x50, []byte{0x20}); err != nil {
			t.Fatal(err)
		}
		// 16 data bits and the STOP with the host driving SDA, the 2
		// acknowledge bits with the slave driving it.
		if e.high != 17 || e.low != 2 {
			t.Fatalf("%s: %d edges with the host driving, %d with the slave", line.dir, e.high, e.low)
		}
		e.high, e.low = 0, 0
		r, err := b.Read(0x50, 1)
		if err != nil {
			t.Fatal(err)
		}
		if r[0] != 0 {
			t.Fatalf("%#x", r[0])
		}
		// The address and the STOP with the host driving SDA; the acknowledge,
		// the data and the NACK with SDA released.
		if e.high != 9 || e.low != 10 {
			t.Fatalf("%s: %d edges with the host driving, %d with the slave", line.dir, e.high, e.low)
		}
		if err := b.Close(); err != nil {
			t.Fatal(err)
		}
		if dir, _ := s.Pins(); dir&line.mask != 0 {
			t.Fatalf("%s: direction pin still an output", line.dir)
		}
	}
	c, _ := newChannel(t, FT232H)
	if _, err := c.OpenI2C(&I2CConfig{Dir: AD1}); err == nil {
		t.Fatal("the direction pin can't be SDA")
	}
	if c.Master() != Unused {
		t.Fatal(c.Master())
	}
}

func TestI2C_Speed(t *testing.T) {
	c, s := newChannel(t, FT232H)
	b, err := c.OpenI2C(&I2CConfig{Speed: 400 * physic.KiloHertz})
	if err != nil {
		t.Fatal(err)
	}
	// 600kHz data clock: 60MHz / (2 * 50).
	if div, _ := s.Divisor(); div != 49 {
		t.Fatal(div)
	}
	if err := b.SetSpeed(physic.MegaHertz); err != nil {
		t.Fatal(err)
	}
	if div, _ := s.Divisor(); div != 19 {
		t.Fatal(div)
	}
	if err := b.SetSpeed(50 * physic.Hertz); err == nil {
		t.Fatal("too slow")
	}
	if err := b.SetSpeed(20 * physic.MegaHertz); err == nil {
		t.Fatal("too fast")
	}
	if err := b.Tx(0x80, nil, nil); err == nil {
		t.Fatal("10 bits addresses are not supported")
	}
	if b.SCL().Name() != "FT232H.A.D0" || b.SDA().Name() != "FT232H.A.D1" {
		t.Fatal(b.SCL(), b.SDA())
	}
}
