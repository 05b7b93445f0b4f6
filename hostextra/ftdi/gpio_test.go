// Copyright 2019 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package ftdi

import (
	"testing"

	"github.com/ftdaye/mpsse/hostextra/ftdi/ftditest"
	"periph.io/x/periph/conn/gpio"
)

func TestBank_Shadow(t *testing.T) {
	c, s := newChannel(t, FT232H)
	if err := c.SetDirection(Lower, 0xF0); err != nil {
		t.Fatal(err)
	}
	if err := c.SetValue(Lower, 0xA5); err != nil {
		t.Fatal(err)
	}
	if err := c.CBus(0x0F, 0x03); err != nil {
		t.Fatal(err)
	}
	if d, v := c.Shadow(Lower); d != 0xF0 || v != 0xA5 {
		t.Fatalf("Shadow(D) = %#x, %#x", d, v)
	}
	if d, v := c.Shadow(Upper); d != 0x0F || v != 0x03 {
		t.Fatalf("Shadow(C) = %#x, %#x", d, v)
	}
	if dir, val := s.Pins(); dir != 0x0FF0 || val != 0x03A5 {
		t.Fatalf("Pins() = %#04x, %#04x", dir, val)
	}
	// Inputs float high.
	v, err := c.ReadValue(Lower)
	if err != nil {
		t.Fatal(err)
	}
	if v != 0xAF {
		t.Fatalf("ReadValue(D) = %#x", v)
	}
	v, err = c.CBusRead()
	if err != nil {
		t.Fatal(err)
	}
	if v != 0xF3 {
		t.Fatalf("CBusRead() = %#x", v)
	}
}

func TestBank_Wire(t *testing.T) {
	c, _ := newChannel(t, FT2232H, &ftditest.Wire{From: 4, To: 5})
	for _, l := range []gpio.Level{gpio.High, gpio.Low, gpio.High} {
		if err := c.D4.Out(l); err != nil {
			t.Fatal(err)
		}
		if got := c.D5.Read(); got != l {
			t.Fatalf("D5.Read() = %s, want %s", got, l)
		}
	}
	if f := c.D4.Function(); f != "Out/High" {
		t.Fatal(f)
	}
	if f := c.D5.Function(); f != "In/High" {
		t.Fatal(f)
	}
}

func TestBank_Pull(t *testing.T) {
	c, _ := newChannel(t, FT232H, &ftditest.Pull{Low: 1<<6 | 1<<10})
	if err := c.D6.In(gpio.PullUp, gpio.NoEdge); err != nil {
		t.Fatal(err)
	}
	if c.D6.Read() != gpio.Low {
		t.Fatal("D6 is grounded")
	}
	if c.D7.Read() != gpio.High {
		t.Fatal("D7 floats")
	}
	if c.C2.Read() != gpio.Low {
		t.Fatal("C2 is grounded")
	}
	if err := c.D6.In(gpio.PullDown, gpio.NoEdge); err == nil {
		t.Fatal("pull down is not supported")
	}
	if err := c.D6.In(gpio.PullUp, gpio.RisingEdge); err == nil {
		t.Fatal("edges are not supported")
	}
}

func TestBank_Reserved(t *testing.T) {
	c, s := newChannel(t, FT232H)
	p, err := c.OpenSPI(nil)
	if err != nil {
		t.Fatal(err)
	}
	// CLK, MOSI and CS are outputs owned by SPI; MISO is an input.
	if err := c.SetDirection(Lower, 0xF4); err != nil {
		t.Fatal(err)
	}
	if dir, _ := s.Pins(); dir&0xFF != 0xFB {
		t.Fatalf("direction = %#x", dir)
	}
	if err := c.DBus(0x00, 0x00); err != nil {
		t.Fatal(err)
	}
	if d, v := c.Shadow(Lower); d != 0x0B || v != 0x08 {
		t.Fatalf("Shadow(D) = %#x, %#x", d, v)
	}
	if f := c.D3.Function(); f != "SPI" {
		t.Fatal(f)
	}
	if err := c.D0.Out(gpio.High); err == nil {
		t.Fatal("D0 is owned by SPI")
	}
	if err := p.Close(); err != nil {
		t.Fatal(err)
	}
	if err := c.D0.Out(gpio.High); err != nil {
		t.Fatal(err)
	}
}

func TestBank_Halt(t *testing.T) {
	c, s := newChannel(t, FT232H)
	if err := c.D7.Out(gpio.High); err != nil {
		t.Fatal(err)
	}
	if err := c.D7.Halt(); err != nil {
		t.Fatal(err)
	}
	if dir, _ := s.Pins(); dir != 0 {
		t.Fatalf("direction = %#x", dir)
	}
	if err := c.DBus(0xFF, 0); err != nil {
		t.Fatal(err)
	}
	if err := c.Halt(); err != nil {
		t.Fatal(err)
	}
	if dir, _ := s.Pins(); dir != 0 {
		t.Fatalf("direction = %#x", dir)
	}
}

func TestLoopback(t *testing.T) {
	c, s := newChannel(t, FT232H)
	if err := c.Loopback(true); err != nil {
		t.Fatal(err)
	}
	if !s.Loopback() {
		t.Fatal("loopback not enabled")
	}
	p, err := c.OpenSPI(&SPIConfig{CS: NoPin})
	if err != nil {
		t.Fatal(err)
	}
	r, err := p.Transfer(0, 0, nil)
	if err == nil {
		t.Fatalf("Transfer() = %v; NoCS is required without a CS pin", r)
	}
	if err := c.Loopback(false); err != nil {
		t.Fatal(err)
	}
	if s.Loopback() {
		t.Fatal("loopback not disabled")
	}
}
