// Copyright 2019 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package ftdi

import (
	"fmt"

	"periph.io/x/periph/conn/physic"
)

// Variant is the FTDI chip family.
//
// Only the H series chips that carry a MPSSE engine are supported.
type Variant string

// Supported chips.
const (
	FT232H  Variant = "FT232H"
	FT2232H Variant = "FT2232H"
	FT4232H Variant = "FT4232H"
)

// VendorID is FTDI's USB vendor ID.
const VendorID uint16 = 0x0403

// Interface is one of the chip's USB interfaces, named by its letter.
//
// A single channel chip like the FT232H only has A. The FT4232H has A to D
// but only A and B carry a MPSSE engine.
type Interface uint8

// Interfaces, in USB order.
const (
	InterfaceA Interface = 1 + iota
	InterfaceB
	InterfaceC
	InterfaceD
)

func (i Interface) String() string {
	if i < InterfaceA || i > InterfaceD {
		return fmt.Sprintf("Interface(%d)", uint8(i))
	}
	return string('A' + rune(i-InterfaceA))
}

// ParseInterface converts "A" to "D" (or "a" to "d") to an Interface.
func ParseInterface(s string) (Interface, error) {
	if len(s) == 1 {
		c := s[0] | 0x20
		if c >= 'a' && c <= 'd' {
			return InterfaceA + Interface(c-'a'), nil
		}
	}
	return 0, configErr(fmt.Sprintf("invalid interface %q; expected A, B, C or D", s), nil)
}

// number is the interface number used as the control request index.
func (i Interface) number() uint16 {
	return uint16(i)
}

// endpoints returns the bulk IN and OUT endpoint numbers of the interface.
//
// A 0x81/0x02, B 0x83/0x04, C 0x85/0x06, D 0x87/0x08.
func (i Interface) endpoints() (in, out int) {
	n := int(i) - 1
	return 1 + 2*n, 2 + 2*n
}

// SPIPins is the pin map used by the SPI master.
//
// CLK, MOSI and MISO are fixed by the MPSSE engine. CS can be any pin.
type SPIPins struct {
	CLK  Pin
	MOSI Pin
	MISO Pin
	CS   Pin
}

// I2CPins is the pin map used by the I²C master.
//
// SDAOut and SDAIn must be wired together with a pull up.
type I2CPins struct {
	SCL    Pin
	SDAOut Pin
	SDAIn  Pin
}

// JTAGPins is the pin map used by the JTAG master.
type JTAGPins struct {
	TCK  Pin
	TDI  Pin
	TDO  Pin
	TMS  Pin
	RTCK Pin // Only used with adaptive clocking.
}

// SWDPins is the pin map used by the SWD master.
//
// SWDIOOut drives the line through a resistor and SWDIOIn samples it.
type SWDPins struct {
	SWCLK    Pin
	SWDIOOut Pin
	SWDIOIn  Pin
}

// Profile is the constant description of a chip variant.
//
// Profiles are looked up with ProfileOf() or ProfileFor(). The returned value
// is a copy and can be modified freely, for example to override a default pin
// map.
type Profile struct {
	Variant Variant
	// ProductID is the USB product ID.
	ProductID uint16
	// BCD is the bcdDevice value reported by the chip, used to tell apart
	// chips sharing a product ID.
	BCD uint16
	// BaseClock is the MPSSE clock before the divisor; the data clock is half
	// of it at divisor 0.
	BaseClock physic.Frequency
	// Interfaces lists all the USB interfaces of the chip.
	Interfaces []Interface
	// MPSSE lists the interfaces that carry a MPSSE engine.
	MPSSE []Interface
	// UpperPins is the number of pins usable on the upper (C) bank.
	UpperPins int
	// DriveZero is true when the chip supports the drive-zero-only (open
	// drain) mode.
	DriveZero bool

	// Default pin maps.
	SPI  SPIPins
	I2C  I2CPins
	JTAG JTAGPins
	SWD  SWDPins
}

func (p *Profile) String() string {
	return string(p.Variant)
}

// Check returns an error if the interface cannot be used in MPSSE mode.
func (p *Profile) Check(i Interface) error {
	for _, j := range p.MPSSE {
		if i == j {
			return nil
		}
	}
	for _, j := range p.Interfaces {
		if i == j {
			return configErr(fmt.Sprintf("%s interface %s", p.Variant, i), ErrChannelUnsupported)
		}
	}
	return configErr(fmt.Sprintf("%s has no interface %s", p.Variant, i), ErrChannelUnsupported)
}

// ProfileOf returns the profile of a chip variant.
func ProfileOf(v Variant) (Profile, error) {
	for i := range profiles {
		if profiles[i].Variant == v {
			return profiles[i].clone(), nil
		}
	}
	return Profile{}, configErr(fmt.Sprintf("unsupported chip %q", v), nil)
}

// ProfileFor returns the profile matching an USB device identity.
//
// bcd is the device release number from the USB device descriptor. It is
// needed because FTDI reuses product IDs across chips; it is ignored if 0.
func ProfileFor(vid, pid, bcd uint16) (Profile, error) {
	if vid != VendorID {
		return Profile{}, configErr(fmt.Sprintf("unsupported vendor %04x", vid), nil)
	}
	for i := range profiles {
		p := &profiles[i]
		if p.ProductID != pid {
			continue
		}
		if bcd != 0 && bcd&0xFF00 != p.BCD {
			continue
		}
		return p.clone(), nil
	}
	return Profile{}, configErr(fmt.Sprintf("unsupported device %04x:%04x (bcd %04x)", vid, pid, bcd), nil)
}

// Profiles returns all the supported chips.
func Profiles() []Profile {
	out := make([]Profile, len(profiles))
	for i := range profiles {
		out[i] = profiles[i].clone()
	}
	return out
}

func (p *Profile) clone() Profile {
	c := *p
	c.Interfaces = append([]Interface(nil), p.Interfaces...)
	c.MPSSE = append([]Interface(nil), p.MPSSE...)
	return c
}

//

var lowerSPI = SPIPins{CLK: AD0, MOSI: AD1, MISO: AD2, CS: AD3}
var lowerI2C = I2CPins{SCL: AD0, SDAOut: AD1, SDAIn: AD2}
var lowerJTAG = JTAGPins{TCK: AD0, TDI: AD1, TDO: AD2, TMS: AD3, RTCK: AD7}
var lowerSWD = SWDPins{SWCLK: AD0, SWDIOOut: AD1, SWDIOIn: AD2}

// profiles is never modified.
var profiles = [...]Profile{
	{
		Variant:    FT232H,
		ProductID:  0x6014,
		BCD:        0x900,
		BaseClock:  60 * physic.MegaHertz,
		Interfaces: []Interface{InterfaceA},
		MPSSE:      []Interface{InterfaceA},
		UpperPins:  8,
		DriveZero:  true,
		SPI:        lowerSPI,
		I2C:        lowerI2C,
		JTAG:       lowerJTAG,
		SWD:        lowerSWD,
	},
	{
		Variant:    FT2232H,
		ProductID:  0x6010,
		BCD:        0x700,
		BaseClock:  60 * physic.MegaHertz,
		Interfaces: []Interface{InterfaceA, InterfaceB},
		MPSSE:      []Interface{InterfaceA, InterfaceB},
		UpperPins:  8,
		SPI:        lowerSPI,
		I2C:        lowerI2C,
		JTAG:       lowerJTAG,
		SWD:        lowerSWD,
	},
	{
		Variant:    FT4232H,
		ProductID:  0x6011,
		BCD:        0x800,
		BaseClock:  60 * physic.MegaHertz,
		Interfaces: []Interface{InterfaceA, InterfaceB, InterfaceC, InterfaceD},
		MPSSE:      []Interface{InterfaceA, InterfaceB},
		SPI:        lowerSPI,
		I2C:        lowerI2C,
		JTAG:       lowerJTAG,
		SWD:        lowerSWD,
	},
}
