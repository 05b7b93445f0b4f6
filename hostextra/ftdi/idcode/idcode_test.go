// Copyright 2019 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package idcode

import (
	"testing"
)

func TestParse(t *testing.T) {
	data := []struct {
		raw     uint32
		name    string
		part    uint16
		version uint8
	}{
		{0x3BA00477, "ARM", 0xBA00, 3},
		{0x4BA00477, "ARM", 0xBA00, 4},
		{0x06414041, "STMicroelectronics", 0x6414, 0},
		{0x03631093, "Xilinx", 0x3631, 0},
		{0x020F30DD, "Altera", 0x20F3, 0},
		{0x012BA043, "Lattice", 0x12BA, 0},
		{0xABCD1235, "JEP106(3, 0x1a)", 0xBCD1, 0xA},
	}
	for _, line := range data {
		id, err := Parse(line.raw)
		if err != nil {
			t.Fatal(err)
		}
		if n := id.ManufacturerName(); n != line.name {
			t.Fatalf("%#08x: got %q, want %q", line.raw, n, line.name)
		}
		if id.Part != line.part || id.Version != line.version {
			t.Fatalf("%#08x: %#v", line.raw, id)
		}
	}
}

func TestParse_invalid(t *testing.T) {
	if _, err := Parse(0xABCD1234); err == nil {
		t.Fatal("bit 0 must be set")
	}
	if _, err := Parse(0x000000FF); err == nil {
		t.Fatal("0x7F is reserved")
	}
}

func TestString(t *testing.T) {
	id, err := Parse(0x3BA00477)
	if err != nil {
		t.Fatal(err)
	}
	if s := id.String(); s != "0x3ba00477 (ARM part 0xba00 rev 3)" {
		t.Fatal(s)
	}
	if b := id.Bank(); b != 5 {
		t.Fatal(b)
	}
}
