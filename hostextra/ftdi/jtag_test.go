// Copyright 2019 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package ftdi

import (
	"errors"
	"testing"

	"github.com/ftdaye/mpsse/hostextra/ftdi/ftditest"
	"github.com/ftdaye/mpsse/hostextra/ftdi/tap"
	"periph.io/x/periph/conn/physic"
)

func TestJTAG_Open(t *testing.T) {
	dev := &ftditest.JTAGDevice{IRLen: 4, IDCode: 0x4BA00477}
	chain := ftditest.NewJTAGChain(dev)
	c, s := newChannel(t, FT232H, chain)
	j, err := c.OpenJTAG(&JTAGConfig{Speed: 6 * physic.MegaHertz})
	if err != nil {
		t.Fatal(err)
	}
	if j.State() != tap.RunTestIdle || chain.State() != tap.RunTestIdle {
		t.Fatalf("State() = %s; chain is in %s", j.State(), chain.State())
	}
	if div, _ := s.Divisor(); div != 4 {
		t.Fatal(div)
	}
	if dir, _ := s.Pins(); dir&0xFF != 0x0B {
		t.Fatalf("TCK, TDI and TMS must be outputs; got %#x", dir)
	}
	if s.Pending() != 0 {
		t.Fatal(s.Pending())
	}
	if c.Master() != UseJTAG {
		t.Fatal(c.Master())
	}
	if err := j.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := j.ShiftDR(nil, 32); err != ErrClosed {
		t.Fatalf("ShiftDR() = %v", err)
	}
	if dir, _ := s.Pins(); dir != 0 {
		t.Fatalf("direction = %#x", dir)
	}
}

func TestJTAG_IDCode(t *testing.T) {
	dev := &ftditest.JTAGDevice{IRLen: 4, IDCode: 0x4BA00477}
	j, chain, _ := newJTAG(t, dev)
	r, err := j.ShiftDR(nil, 32)
	if err != nil {
		t.Fatal(err)
	}
	if r.Bits != 32 || r.Uint32(0) != dev.IDCode {
		t.Fatalf("ShiftDR() = %s", r)
	}
	if chain.State() != tap.RunTestIdle {
		t.Fatal(chain.State())
	}
}

func TestJTAG_ShiftIR(t *testing.T) {
	dev := &ftditest.JTAGDevice{IRLen: 4, IDCode: 0x4BA00477}
	j, _, _ := newJTAG(t, dev)
	r, err := j.ShiftIR([]byte{0x02}, 4)
	if err != nil {
		t.Fatal(err)
	}
	// Capture-IR loads 0b01.
	if r.Data[0] != 0x01 || r.String() != "1000" {
		t.Fatalf("ShiftIR() = %s", r)
	}
	if dev.IR() != 2 {
		t.Fatalf("IR = %#x", dev.IR())
	}
}

func TestJTAG_UserRegister(t *testing.T) {
	reg := &ftditest.Reg{Len: 12, Value: 0xABC}
	dev := &ftditest.JTAGDevice{IRLen: 6, IDCode: 0x0362D093, Regs: map[uint64]*ftditest.Reg{0x22: reg}}
	j, _, _ := newJTAG(t, dev)
	if _, err := j.ShiftIR([]byte{0x22}, 6); err != nil {
		t.Fatal(err)
	}
	r, err := j.ShiftDR([]byte{0x34, 0x01}, 12)
	if err != nil {
		t.Fatal(err)
	}
	if r.Data[0] != 0xBC || r.Data[1] != 0x0A {
		t.Fatalf("ShiftDR() = %#v", r.Data)
	}
	if reg.Value != 0x134 {
		t.Fatalf("register = %#x", reg.Value)
	}
	// Without capture, nothing is read back.
	r, err = j.Shift(DR, []byte{0xFF, 0x0F}, 12, false)
	if err != nil {
		t.Fatal(err)
	}
	if r.Bits != 0 || r.Data != nil {
		t.Fatalf("Shift() = %#v", r)
	}
	if reg.Value != 0xFFF {
		t.Fatalf("register = %#x", reg.Value)
	}
}

func TestJTAG_LongShift(t *testing.T) {
	// 3 devices in BYPASS delay TDI by 3 bits.
	devs := []*ftditest.JTAGDevice{{IRLen: 4}, {IRLen: 5}, {IRLen: 8}}
	j, _, _ := newJTAG(t, devs...)
	w := make([]byte, 20)
	for i := range w {
		w[i] = byte(i*37 + 1)
	}
	r, err := j.ShiftDR(w, 8*len(w))
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < r.Bits; i++ {
		want := false
		if i >= 3 {
			want = w[(i-3)/8]&(1<<uint((i-3)&7)) != 0
		}
		if r.Bit(i) != want {
			t.Fatalf("bit %d: got %t", i, r.Bit(i))
		}
	}
}

func TestJTAG_GotoState(t *testing.T) {
	j, chain, _ := newJTAG(t, &ftditest.JTAGDevice{IRLen: 4, IDCode: 0x4BA00477})
	for from := tap.State(0); from < tap.NumStates; from++ {
		for to := tap.State(0); to < tap.NumStates; to++ {
			if err := j.GotoState(from); err != nil {
				t.Fatal(err)
			}
			if err := j.GotoState(to); err != nil {
				t.Fatal(err)
			}
			if j.State() != to || chain.State() != to {
				t.Fatalf("%s -> %s: tracked %s, chain %s", from, to, j.State(), chain.State())
			}
		}
	}
	if err := j.GotoState(tap.State(42)); err == nil {
		t.Fatal("invalid state")
	}
	if err := j.Reset(); err != nil {
		t.Fatal(err)
	}
	if j.State() != tap.TestLogicReset || chain.State() != tap.TestLogicReset {
		t.Fatal(j.State(), chain.State())
	}
}

func TestJTAG_GotoState_long(t *testing.T) {
	// These paths take 8 clocks, more than one TMS command carries.
	for _, from := range []tap.State{tap.CaptureDR, tap.ShiftDR, tap.PauseDR} {
		j, chain, s := newJTAG(t, &ftditest.JTAGDevice{IRLen: 4, IDCode: 0x4BA00477})
		if err := j.GotoState(from); err != nil {
			t.Fatal(err)
		}
		if err := j.GotoState(tap.Exit2IR); err != nil {
			t.Fatalf("%s: %v", from, err)
		}
		if j.State() != tap.Exit2IR || chain.State() != tap.Exit2IR {
			t.Fatalf("%s: tracked %s, chain %s", from, j.State(), chain.State())
		}
		if s.Pending() != 0 {
			t.Fatal(s.Pending())
		}
		// A failed request keeps the tracked state.
		if err := j.GotoState(tap.State(42)); err == nil {
			t.Fatal("invalid state")
		}
		if j.State() != tap.Exit2IR {
			t.Fatal(j.State())
		}
		if _, err := j.ShiftDR(nil, 32); err != nil {
			t.Fatal(err)
		}
		if chain.State() != tap.RunTestIdle {
			t.Fatal(chain.State())
		}
	}
}

func TestJTAG_Idle(t *testing.T) {
	j, chain, _ := newJTAG(t, &ftditest.JTAGDevice{IRLen: 4})
	if err := j.GotoState(tap.PauseDR); err != nil {
		t.Fatal(err)
	}
	if err := j.Idle(100); err != nil {
		t.Fatal(err)
	}
	if chain.State() != tap.RunTestIdle {
		t.Fatal(chain.State())
	}
	if err := j.Idle(-1); err == nil {
		t.Fatal("negative cycles")
	}
}

func TestJTAG_Errors(t *testing.T) {
	j, _, s := newJTAG(t, &ftditest.JTAGDevice{IRLen: 4})
	if _, err := j.ShiftDR(nil, 0); err == nil {
		t.Fatal("0 bits")
	}
	if _, err := j.ShiftDR([]byte{1}, 9); err == nil {
		t.Fatal("buffer too short")
	}
	if s.Pending() != 0 || j.State() != tap.RunTestIdle {
		t.Fatal("nothing must be sent on invalid arguments")
	}
}

func TestJTAG_LostState(t *testing.T) {
	dev := &ftditest.JTAGDevice{IRLen: 4, IDCode: 0x4BA00477}
	j, _, s := newJTAG(t, dev)
	// BYPASS.
	if _, err := j.ShiftIR([]byte{0x0F}, 4); err != nil {
		t.Fatal(err)
	}
	s.WriteErr = errors.New("unplugged")
	if _, err := j.ShiftIR([]byte{0x0F}, 4); err == nil {
		t.Fatal("expected failure")
	}
	s.WriteErr = nil
	// The TAP is reset first, selecting IDCODE again.
	r, err := j.ShiftDR(nil, 32)
	if err != nil {
		t.Fatal(err)
	}
	if r.Uint32(0) != dev.IDCode {
		t.Fatalf("ShiftDR() = %#x", r.Uint32(0))
	}
}

func TestJTAG_AdaptiveClock(t *testing.T) {
	j, _, s := newJTAG(t, &ftditest.JTAGDevice{IRLen: 4})
	if err := j.AdaptiveClock(true); err != nil {
		t.Fatal(err)
	}
	if !s.Adaptive() {
		t.Fatal("adaptive clocking not enabled")
	}
	if f := j.c.D7.Function(); f != "JTAG" {
		t.Fatal(f)
	}
	if err := j.AdaptiveClock(false); err != nil {
		t.Fatal(err)
	}
	if s.Adaptive() {
		t.Fatal("adaptive clocking not disabled")
	}
	if f := j.c.D7.Function(); f == "JTAG" {
		t.Fatal(f)
	}
}

func TestScanResult(t *testing.T) {
	s := ScanResult{Bits: 40, Data: []byte{0x77, 0x04, 0xA0, 0x4B, 0x01}}
	if s.Uint32(0) != 0x4BA00477 {
		t.Fatalf("%#x", s.Uint32(0))
	}
	if s.Uint32(8) != 0x014BA004 {
		t.Fatalf("%#x", s.Uint32(8))
	}
	if !s.Bit(32) || s.Bit(33) {
		t.Fatal(s)
	}
}

//

func newJTAG(t *testing.T, devs ...*ftditest.JTAGDevice) (*JTAG, *ftditest.JTAGChain, *ftditest.Sim) {
	chain := ftditest.NewJTAGChain(devs...)
	c, s := newChannel(t, FT232H, chain)
	j, err := c.OpenJTAG(nil)
	if err != nil {
		t.Fatal(err)
	}
	return j, chain, s
}
