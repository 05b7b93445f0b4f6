// Copyright 2019 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package screen shows the state of a row of GPIO pins on the terminal
// (stdout) using ANSI color codes.
//
// Each pin is a colored block:
//
//   - red: output, bright when high
//   - green: input, bright when high
//   - blue: owned by a bus master
//
// Useful while poking at a board through a FT232H without a logic analyzer.
package screen // import "github.com/ftdaye/mpsse/devices/screen"

import (
	"bytes"
	"errors"
	"fmt"
	"image/color"
	"io"
	"strings"

	"github.com/maruel/ansi256"
	"github.com/mattn/go-colorable"
	"periph.io/x/periph/conn/gpio"
)

// Colors used for the pin states.
var (
	OutHigh = color.NRGBA{255, 0, 0, 255}
	OutLow  = color.NRGBA{95, 0, 0, 255}
	InHigh  = color.NRGBA{0, 255, 0, 255}
	InLow   = color.NRGBA{0, 95, 0, 255}
	Bus     = color.NRGBA{0, 0, 255, 255}
)

// Dev is a row of pins displayed on the console.
type Dev struct {
	w    io.Writer
	pins []gpio.PinIO
	buf  bytes.Buffer
}

// New returns a Dev that displays pins at the console.
func New(pins []gpio.PinIO) *Dev {
	return NewWriter(colorable.NewColorableStdout(), pins)
}

// NewWriter returns a Dev that writes to w.
func NewWriter(w io.Writer, pins []gpio.PinIO) *Dev {
	return &Dev{w: w, pins: pins}
}

func (d *Dev) String() string {
	return "Screen"
}

// Halt implements conn.Resource.
//
// It resets the terminal colors so the display is not corrupted.
func (d *Dev) Halt() error {
	_, err := d.w.Write([]byte("\n\033[0m"))
	return err
}

// Legend writes the pin names, aligned with the blocks drawn by Refresh.
func (d *Dev) Legend() error {
	d.buf.Reset()
	for _, p := range d.pins {
		n := p.Name()
		if i := strings.LastIndexByte(n, '.'); i != -1 {
			n = n[i+1:]
		}
		fmt.Fprintf(&d.buf, "%-3s", n)
	}
	d.buf.WriteString("\n")
	_, err := d.buf.WriteTo(d.w)
	return err
}

// Refresh reads all the pins and redraws the row in place.
func (d *Dev) Refresh() error {
	if len(d.pins) == 0 {
		return errors.New("screen: no pin")
	}
	// This code is designed to minimize the amount of memory allocated per call.
	d.buf.Reset()
	_, _ = d.buf.WriteString("\r\033[0m")
	for _, p := range d.pins {
		_, _ = io.WriteString(&d.buf, ansi256.Default.Block(State(p)))
		_, _ = d.buf.WriteString("\033[0m ")
	}
	_, err := d.buf.WriteTo(d.w)
	return err
}

// State returns the color representing the pin.
//
// The direction is derived from the pin function, "Out/High" or "In/Low" for
// a GPIO; any other function means the pin is used by a bus.
func State(p gpio.PinIO) color.NRGBA {
	f := p.Function()
	switch {
	case strings.HasPrefix(f, "Out/"):
		if p.Read() {
			return OutHigh
		}
		return OutLow
	case strings.HasPrefix(f, "In/"), f == "":
		if p.Read() {
			return InHigh
		}
		return InLow
	default:
		return Bus
	}
}

var _ fmt.Stringer = &Dev{}
