// Copyright 2019 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package ftdismoketest is leveraged by a smoke test runner to verify that a
// FT232H/FT2232H/FT4232H is working as expected.
//
// Without wiring, it checks the registries and the internal loopback. With
// -wire, it also checks GPIO pairs wired together on the board.
package ftdismoketest

import (
	"bytes"
	"errors"
	"flag"
	"fmt"
	"strings"

	"github.com/ftdaye/mpsse/hostextra"
	"github.com/ftdaye/mpsse/hostextra/ftdi"
	"github.com/golang/glog"
	"periph.io/x/periph/conn/gpio"
	"periph.io/x/periph/conn/i2c/i2creg"
	"periph.io/x/periph/conn/physic"
	"periph.io/x/periph/conn/pin/pinreg"
	"periph.io/x/periph/conn/spi"
	"periph.io/x/periph/conn/spi/spireg"
)

// SmokeTest is imported by a smoke test runner.
type SmokeTest struct {
}

// Name implements the SmokeTest interface.
func (s *SmokeTest) Name() string {
	return "ftdi"
}

// Description implements the SmokeTest interface.
func (s *SmokeTest) Description() string {
	return "Tests FT232H/FT2232H/FT4232H MPSSE channels"
}

// Run implements the SmokeTest interface.
func (s *SmokeTest) Run(f *flag.FlagSet, args []string) error {
	devType := f.String("type", "", "Device type to test, i.e. ft232h, ft2232h or ft4232h")
	wire := f.String("wire", "", "Pins wired together on the first channel, i.e. D4:D5,D6:C0")
	if err := f.Parse(args); err != nil {
		return err
	}
	if f.NArg() != 0 {
		f.Usage()
		return errors.New("unrecognized arguments")
	}
	var v ftdi.Variant
	switch *devType {
	case "ft232h":
		v = ftdi.FT232H
	case "ft2232h":
		v = ftdi.FT2232H
	case "ft4232h":
		v = ftdi.FT4232H
	case "":
		return errors.New("-type is required")
	default:
		return errors.New("unrecognized -type, only ft232h, ft2232h and ft4232h are supported")
	}
	pairs, err := parseWires(*wire)
	if err != nil {
		return err
	}
	if _, err := hostextra.Init(); err != nil {
		return err
	}

	all := ftdi.All()
	if len(all) == 0 {
		return errors.New("no channel found")
	}
	p := all[0].Profile()
	if p.Variant != v {
		return fmt.Errorf("expected %s, got %s", v, p.Variant)
	}
	if len(all) != len(p.MPSSE) {
		return fmt.Errorf("exactly one %s is expected, got %d channels", v, len(all))
	}
	for _, c := range all {
		if err := testRegistries(c); err != nil {
			return err
		}
		if err := testLoopback(c); err != nil {
			return err
		}
	}
	return testWires(all[0], pairs)
}

func testRegistries(c *ftdi.Channel) error {
	if _, ok := pinreg.All()[c.String()]; !ok {
		return fmt.Errorf("%s: header not registered", c)
	}
	p, err := spireg.Open(c.String())
	if err != nil {
		return fmt.Errorf("%s: %v", c, err)
	}
	if err := p.Close(); err != nil {
		return err
	}
	b, err := i2creg.Open(c.String())
	if err != nil {
		return fmt.Errorf("%s: %v", c, err)
	}
	return b.Close()
}

// testLoopback sends a pattern through the internal D1 to D2 loopback at
// different clocks and modes.
func testLoopback(c *ftdi.Channel) (err error) {
	if err := c.Loopback(true); err != nil {
		return err
	}
	defer func() {
		if err2 := c.Loopback(false); err == nil {
			err = err2
		}
	}()
	p, err := c.OpenSPI(nil)
	if err != nil {
		return err
	}
	defer p.Close()
	w := make([]byte, 4096)
	for i := range w {
		w[i] = byte(i)
	}
	for _, f := range []physic.Frequency{100 * physic.KiloHertz, physic.MegaHertz, 30 * physic.MegaHertz} {
		for _, m := range []spi.Mode{spi.Mode0, spi.Mode3 | spi.LSBFirst} {
			r, err := p.Transfer(m, f, w)
			if err != nil {
				return fmt.Errorf("%s: %s %s: %v", c, m, f, err)
			}
			if !bytes.Equal(r, w) {
				return fmt.Errorf("%s: %s %s: loopback mismatch", c, m, f)
			}
			glog.V(1).Infof("%s: loopback %s %s ok", c, m, f)
		}
	}
	return nil
}

type pair struct {
	out, in ftdi.Pin
}

func parseWires(s string) ([]pair, error) {
	if s == "" {
		return nil, nil
	}
	var out []pair
	for _, w := range strings.Split(s, ",") {
		parts := strings.Split(w, ":")
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid -wire %q", w)
		}
		a, err := ftdi.ParsePin(parts[0])
		if err != nil {
			return nil, err
		}
		b, err := ftdi.ParsePin(parts[1])
		if err != nil {
			return nil, err
		}
		out = append(out, pair{a, b}, pair{b, a})
	}
	return out, nil
}

// testWires toggles each pin of the pairs and reads it back on the other.
func testWires(c *ftdi.Channel, pairs []pair) error {
	hdr := c.Header()
	get := func(p ftdi.Pin) gpio.PinIO {
		i := int(p.Num)
		if p.Bank == ftdi.Upper {
			i += 8
		}
		if i >= len(hdr) {
			return nil
		}
		return hdr[i]
	}
	for _, w := range pairs {
		out, in := get(w.out), get(w.in)
		if out == nil || in == nil {
			return fmt.Errorf("%s: no pin %s or %s", c, w.out, w.in)
		}
		if err := in.In(gpio.PullNoChange, gpio.NoEdge); err != nil {
			return err
		}
		for _, l := range []gpio.Level{gpio.Low, gpio.High, gpio.Low} {
			if err := out.Out(l); err != nil {
				return err
			}
			if got := in.Read(); got != l {
				return fmt.Errorf("%s: %s -> %s: wrote %s, read %s", c, out, in, l, got)
			}
		}
		if err := out.In(gpio.PullNoChange, gpio.NoEdge); err != nil {
			return err
		}
	}
	return nil
}
