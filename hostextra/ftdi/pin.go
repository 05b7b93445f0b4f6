// Copyright 2019 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package ftdi

import (
	"errors"
	"strconv"
	"time"

	"periph.io/x/periph/conn/gpio"
	"periph.io/x/periph/conn/physic"
)

// Bank is one of the two 8 bits GPIO banks of a MPSSE channel.
type Bank uint8

// Banks.
const (
	// NoBank is the zero value; a Pin in NoBank is unassigned.
	NoBank Bank = iota
	// Lower is the AD bus, D0~D7. The MPSSE clock and data lines are D0~D3.
	Lower
	// Upper is the AC bus, C0~C7.
	Upper
)

func (b Bank) String() string {
	switch b {
	case Lower:
		return "D"
	case Upper:
		return "C"
	default:
		return "Bank(" + strconv.Itoa(int(b)) + ")"
	}
}

// Pin identifies one bit in one of the GPIO banks.
//
// The zero value means no pin.
type Pin struct {
	Bank Bank
	Num  uint8
}

// Pins of the lower bank (ADBUS).
var (
	AD0 = Pin{Lower, 0}
	AD1 = Pin{Lower, 1}
	AD2 = Pin{Lower, 2}
	AD3 = Pin{Lower, 3}
	AD4 = Pin{Lower, 4}
	AD5 = Pin{Lower, 5}
	AD6 = Pin{Lower, 6}
	AD7 = Pin{Lower, 7}
)

// Pins of the upper bank (ACBUS).
var (
	AC0 = Pin{Upper, 0}
	AC1 = Pin{Upper, 1}
	AC2 = Pin{Upper, 2}
	AC3 = Pin{Upper, 3}
	AC4 = Pin{Upper, 4}
	AC5 = Pin{Upper, 5}
	AC6 = Pin{Upper, 6}
	AC7 = Pin{Upper, 7}
)

// NoPin is an unassigned pin.
var NoPin = Pin{}

// Valid returns true if the pin is assigned.
func (p Pin) Valid() bool {
	return (p.Bank == Lower || p.Bank == Upper) && p.Num < 8
}

func (p Pin) String() string {
	if !p.Valid() {
		return "NoPin"
	}
	return p.Bank.String() + strconv.Itoa(int(p.Num))
}

// ParsePin converts "D3" or "C7" (or "AD3"/"AC7") to a Pin.
func ParsePin(s string) (Pin, error) {
	if len(s) == 3 && (s[0] == 'A' || s[0] == 'a') {
		s = s[1:]
	}
	if len(s) == 2 && s[1] >= '0' && s[1] <= '7' {
		n := s[1] - '0'
		switch s[0] {
		case 'D', 'd':
			return Pin{Lower, n}, nil
		case 'C', 'c':
			return Pin{Upper, n}, nil
		}
	}
	return NoPin, configErr("invalid pin "+strconv.Quote(s), nil)
}

func (p Pin) mask() byte {
	return 1 << p.Num
}

//

// invalidPin is a pin that is not available on this chip.
//
// invalidPin implements gpio.PinIO.
type invalidPin struct {
	n   string
	num int
}

// String implements pin.Pin.
func (p *invalidPin) String() string {
	return p.n
}

// Halt implements conn.Resource.
func (p *invalidPin) Halt() error {
	return nil
}

// Name implements pin.Pin.
func (p *invalidPin) Name() string {
	return p.n
}

// Number implements pin.Pin.
func (p *invalidPin) Number() int {
	return p.num
}

// Function implements pin.Pin.
func (p *invalidPin) Function() string {
	return "N/A"
}

// In implements gpio.PinIn.
func (p *invalidPin) In(pull gpio.Pull, e gpio.Edge) error {
	return errPinNotAvailable
}

// Read implements gpio.PinIn.
func (p *invalidPin) Read() gpio.Level {
	return gpio.Low
}

// WaitForEdge implements gpio.PinIn.
func (p *invalidPin) WaitForEdge(t time.Duration) bool {
	return false
}

// Pull implements gpio.PinIn.
func (p *invalidPin) Pull() gpio.Pull {
	return gpio.PullNoChange
}

// DefaultPull implements gpio.PinIn.
func (p *invalidPin) DefaultPull() gpio.Pull {
	return gpio.PullNoChange
}

// Out implements gpio.PinOut.
func (p *invalidPin) Out(l gpio.Level) error {
	return errPinNotAvailable
}

// PWM implements gpio.PinOut.
func (p *invalidPin) PWM(d gpio.Duty, f physic.Frequency) error {
	return errPinNotAvailable
}

var errPinNotAvailable = errors.New("ftdi: pin not available on this chip")

var _ gpio.PinIO = &invalidPin{}
