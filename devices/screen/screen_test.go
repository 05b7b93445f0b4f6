// Copyright 2019 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package screen

import (
	"bytes"
	"image/color"
	"strings"
	"testing"

	"github.com/maruel/ansi256"
	"periph.io/x/periph/conn/gpio"
	"periph.io/x/periph/conn/gpio/gpiotest"
)

func TestRefresh(t *testing.T) {
	pins := []gpio.PinIO{
		&gpiotest.Pin{N: "FT232H.A.D0", Fn: "SPI"},
		&gpiotest.Pin{N: "FT232H.A.D4", Fn: "Out/High", L: gpio.High},
		&gpiotest.Pin{N: "FT232H.A.D5", Fn: "In/Low", L: gpio.Low},
		&gpiotest.Pin{N: "FT232H.A.C0", Fn: "In/High", L: gpio.High},
	}
	var buf bytes.Buffer
	d := NewWriter(&buf, pins)
	if err := d.Legend(); err != nil {
		t.Fatal(err)
	}
	if got := buf.String(); got != "D0 D4 D5 C0 \n" {
		t.Fatalf("Legend() = %q", got)
	}
	buf.Reset()
	if err := d.Refresh(); err != nil {
		t.Fatal(err)
	}
	want := "\r\033[0m"
	for _, c := range []string{ansi256.Default.Block(Bus), ansi256.Default.Block(OutHigh), ansi256.Default.Block(InLow), ansi256.Default.Block(InHigh)} {
		want += c + "\033[0m "
	}
	if got := buf.String(); got != want {
		t.Fatalf("Refresh() = %q, want %q", got, want)
	}
	buf.Reset()
	if err := d.Halt(); err != nil {
		t.Fatal(err)
	}
	if !strings.HasSuffix(buf.String(), "\033[0m") {
		t.Fatalf("%q", buf.String())
	}
}

func TestRefresh_empty(t *testing.T) {
	if err := NewWriter(&bytes.Buffer{}, nil).Refresh(); err == nil {
		t.Fatal("expected failure")
	}
}

func TestState(t *testing.T) {
	data := []struct {
		p    *gpiotest.Pin
		want color.NRGBA
	}{
		{&gpiotest.Pin{Fn: "Out/Low"}, OutLow},
		{&gpiotest.Pin{Fn: "Out/High", L: gpio.High}, OutHigh},
		{&gpiotest.Pin{Fn: "I2C"}, Bus},
		{&gpiotest.Pin{}, InLow},
	}
	for _, line := range data {
		if got := State(line.p); got != line.want {
			t.Fatalf("State(%q) = %v, want %v", line.p.Fn, got, line.want)
		}
	}
}
