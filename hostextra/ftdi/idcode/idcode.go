// Copyright 2019 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package idcode decodes IEEE 1149.1 JTAG IDCODE values.
package idcode

import (
	"fmt"
)

// IDCode is a decoded 32 bits JTAG device identification register.
type IDCode struct {
	Raw     uint32
	Version uint8  // [31:28]
	Part    uint16 // [27:12]
	// Manufacturer is the JEP106 identity; bits [11:8] are the continuation
	// code bank and bits [7:1] the code in the bank, without parity.
	Manufacturer uint16 // [11:1]
}

// Parse decodes raw.
//
// It returns an error if bit 0 is not set, as mandated for an IDCODE, or if
// the manufacturer is the reserved value 0x7F.
func Parse(raw uint32) (IDCode, error) {
	id := IDCode{
		Raw:          raw,
		Version:      uint8(raw >> 28),
		Part:         uint16(raw >> 12),
		Manufacturer: uint16(raw>>1) & 0x7FF,
	}
	if raw&1 == 0 {
		return id, fmt.Errorf("idcode: %#08x: bit 0 must be set", raw)
	}
	if id.Manufacturer&0x7F == 0x7F {
		return id, fmt.Errorf("idcode: %#08x: invalid manufacturer", raw)
	}
	return id, nil
}

// Bank returns the JEP106 bank number, starting at 1.
func (i IDCode) Bank() int {
	return int(i.Manufacturer>>7) + 1
}

// ManufacturerName returns the manufacturer name if known, or the JEP106 code.
func (i IDCode) ManufacturerName() string {
	if n, ok := manufacturers[i.Manufacturer]; ok {
		return n
	}
	return fmt.Sprintf("JEP106(%d, %#02x)", i.Bank(), i.Manufacturer&0x7F)
}

func (i IDCode) String() string {
	return fmt.Sprintf("%#08x (%s part %#04x rev %d)", i.Raw, i.ManufacturerName(), i.Part, i.Version)
}

// manufacturers is a subset of JEP106, keyed by the 11 bits manufacturer
// field as found in an IDCODE.
var manufacturers = map[uint16]string{
	0x001: "AMD",
	0x009: "Intel",
	0x00E: "Freescale",
	0x015: "NXP",
	0x017: "Texas Instruments",
	0x01F: "Atmel",
	0x020: "STMicroelectronics",
	0x021: "Lattice",
	0x029: "Microchip",
	0x041: "Infineon",
	0x049: "Xilinx",
	0x06E: "Altera",
	0x23B: "ARM",
}
