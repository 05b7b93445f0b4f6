// Copyright 2019 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package ftdi

import (
	"bytes"
	"errors"
	"testing"

	"periph.io/x/periph/conn/gpio"
)

func TestDataOp(t *testing.T) {
	data := []struct {
		write, read bool
		ew, er      gpio.Edge
		lsbf, bits  bool
		want        byte
	}{
		{true, true, gpio.FallingEdge, gpio.RisingEdge, false, false, 0x31},
		{true, true, gpio.RisingEdge, gpio.FallingEdge, false, false, 0x34},
		{true, false, gpio.FallingEdge, gpio.RisingEdge, true, true, 0x1B},
		{true, false, gpio.FallingEdge, gpio.RisingEdge, true, false, 0x19},
		{false, true, gpio.FallingEdge, gpio.RisingEdge, true, true, 0x2A},
		{false, true, gpio.FallingEdge, gpio.RisingEdge, true, false, 0x28},
	}
	for i, line := range data {
		if got := dataOp(line.write, line.read, line.ew, line.er, line.lsbf, line.bits); got != line.want {
			t.Fatalf("#%d: dataOp() = %#x, want %#x", i, got, line.want)
		}
	}
}

func TestCommand_clockBytes(t *testing.T) {
	var c command
	w := make([]byte, maxStream+1)
	if err := c.clockBytes(w, 0, gpio.FallingEdge, gpio.RisingEdge, false); err != nil {
		t.Fatal(err)
	}
	if len(c.b) != 3+maxStream+3+1 {
		t.Fatal(len(c.b))
	}
	if !bytes.Equal(c.b[:3], []byte{0x11, 0xFF, 0xFF}) {
		t.Fatalf("%#v", c.b[:3])
	}
	if !bytes.Equal(c.b[3+maxStream:3+maxStream+3], []byte{0x11, 0x00, 0x00}) {
		t.Fatalf("%#v", c.b[3+maxStream:])
	}
	if c.expects() != 0 {
		t.Fatal(c.expects())
	}

	c = command{}
	if err := c.clockBytes(nil, maxStream+1, gpio.FallingEdge, gpio.RisingEdge, true); err != nil {
		t.Fatal(err)
	}
	if len(c.b) != 6 || len(c.reads) != 2 || c.expects() != maxStream+1 {
		t.Fatalf("%d bytes, %d reads, expects %d", len(c.b), len(c.reads), c.expects())
	}
	if c.b[0] != 0x28 {
		t.Fatalf("%#x", c.b[0])
	}

	c = command{}
	if err := c.clockBytes(make([]byte, 2), 3, gpio.FallingEdge, gpio.RisingEdge, false); err == nil {
		t.Fatal("mismatched lengths")
	}
	if err := c.clockBytes(nil, 0, gpio.FallingEdge, gpio.RisingEdge, false); err != nil || len(c.b) != 0 {
		t.Fatal("empty transfers are no-ops")
	}
}

func TestCommand_clockBits(t *testing.T) {
	var c command
	if err := c.clockBits(0xA0, 3, true, true, gpio.FallingEdge, gpio.RisingEdge, false); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(c.b, []byte{0x33, 0x02, 0xA0}) {
		t.Fatalf("%#v", c.b)
	}
	if len(c.reads) != 1 || c.reads[0].bits != 3 || c.expects() != 1 {
		t.Fatalf("%#v", c.reads)
	}
	for _, n := range []int{0, 9} {
		if err := c.clockBits(0, n, true, false, gpio.FallingEdge, gpio.RisingEdge, false); err == nil {
			t.Fatalf("%d bits", n)
		}
	}
}

func TestCommand_tms(t *testing.T) {
	var c command
	if err := c.tms(0x1F, 5, true, false); err != nil {
		t.Fatal(err)
	}
	if err := c.tms(0x81, 1, false, true); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(c.b, []byte{0x4B, 0x04, 0x9F, 0x6B, 0x00, 0x01}) {
		t.Fatalf("%#v", c.b)
	}
	if len(c.reads) != 1 || !c.reads[0].lsbf || c.reads[0].bits != 1 {
		t.Fatalf("%#v", c.reads)
	}
	if err := c.tms(0, 8, false, false); err == nil {
		t.Fatal("at most 7 TMS bits")
	}
}

func TestCommand_tmsSeq(t *testing.T) {
	data := []struct {
		bits uint32
		n    int
		tdi  bool
		want []byte
	}{
		{0, 0, true, nil},
		{0x1F, 5, true, []byte{0x4B, 0x04, 0x9F}},
		{0x55, 7, false, []byte{0x4B, 0x06, 0x55}},
		// Capture-DR to Exit2-IR.
		{0xAF, 8, true, []byte{0x4B, 0x06, 0xAF, 0x4B, 0x00, 0x81}},
		{0x3FFF, 14, false, []byte{0x4B, 0x06, 0x7F, 0x4B, 0x06, 0x7F}},
	}
	for i, line := range data {
		var c command
		c.tmsSeq(line.bits, line.n, line.tdi)
		if !bytes.Equal(c.b, line.want) {
			t.Fatalf("#%d: %#v", i, c.b)
		}
		if c.expects() != 0 {
			t.Fatalf("#%d: nothing is read", i)
		}
	}
}

func TestCommand_lsb(t *testing.T) {
	var c command
	c.writeBitsLSB(0xA5, 8)
	c.writeBitsLSB(0, 2)
	c.writeBitsLSB(0x3FF, 10)
	c.writeLSB([]byte{0x9E, 0xE7})
	c.readBitsLSB(3)
	c.readLSB(4)
	want := []byte{
		0x1B, 0x07, 0xA5,
		0x1B, 0x01, 0x00,
		0x1B, 0x07, 0xFF, 0x1B, 0x01, 0x03,
		0x19, 0x01, 0x00, 0x9E, 0xE7,
		0x2A, 0x02,
		0x28, 0x03, 0x00,
	}
	if !bytes.Equal(c.b, want) {
		t.Fatalf("%#v", c.b)
	}
	if c.expects() != 5 || len(c.reads) != 2 || c.reads[0].bits != 3 || !c.reads[1].lsbf {
		t.Fatalf("%#v", c.reads)
	}
	c = command{}
	c.readBitsLSB(12)
	if len(c.reads) != 2 || c.reads[0].bits != 8 || c.reads[1].bits != 4 {
		t.Fatalf("%#v", c.reads)
	}
}

func TestCommand_clockPulses(t *testing.T) {
	data := []struct {
		n    int
		want []byte
	}{
		{0, nil},
		{3, []byte{0x8E, 0x02}},
		{8, []byte{0x8F, 0x00, 0x00}},
		{20, []byte{0x8F, 0x01, 0x00, 0x8E, 0x03}},
		{8*maxStream + 8, []byte{0x8F, 0xFF, 0xFF, 0x8F, 0x00, 0x00}},
	}
	for _, line := range data {
		var c command
		c.clockPulses(line.n)
		if !bytes.Equal(c.b, line.want) {
			t.Fatalf("clockPulses(%d) = %#v, want %#v", line.n, c.b, line.want)
		}
	}
}

func TestCommand_gpio(t *testing.T) {
	var c command
	c.gpioSet(Upper, 0x01, 0x02)
	c.gpioSet(Lower, 0x03, 0x04)
	c.gpioRead(Lower)
	c.gpioRead(Upper)
	c.divisor(59999, true)
	c.tristate(0x03, 0x00)
	want := []byte{0x82, 0x01, 0x02, 0x80, 0x03, 0x04, 0x81, 0x83, 0x8B, 0x86, 0x5F, 0xEA, 0x9E, 0x03, 0x00}
	if !bytes.Equal(c.b, want) {
		t.Fatalf("%#v", c.b)
	}
	if c.expects() != 2 {
		t.Fatal(c.expects())
	}
}

func TestDecode(t *testing.T) {
	reads := []readSpec{{n: 2}, {n: 1, bits: 3, lsbf: true}, {n: 1, bits: 3}}
	out, err := decode(reads, []byte{1, 2, 0xA0, 0xFD})
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(out[0], []byte{1, 2}) || out[1][0] != 5 || out[2][0] != 5 {
		t.Fatalf("%#v", out)
	}
	_, err = decode(reads, []byte{1})
	var pa *ProtocolAlignmentError
	if !errors.As(err, &pa) || pa.Want != 2 || pa.Got != 1 {
		t.Fatalf("decode() = %v", err)
	}
}
