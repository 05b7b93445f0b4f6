// Copyright 2019 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package ftdi

import (
	"errors"
	"testing"

	"github.com/ftdaye/mpsse/hostextra/ftdi/ftditest"
	"periph.io/x/periph/conn/i2c/i2creg"
	"periph.io/x/periph/conn/pin/pinreg"
	"periph.io/x/periph/conn/spi/spireg"
)

func TestDriver(t *testing.T) {
	defer drv.reset()
	ft232h, _ := ProfileOf(FT232H)
	ft2232h, _ := ProfileOf(FT2232H)
	ft4232h, _ := ProfileOf(FT4232H)
	drv.enumerate = func() ([]USBInfo, error) {
		return []USBInfo{
			{Profile: ft232h, Serial: "DRV1", Bus: 1, Address: 4},
			{Profile: ft2232h, Serial: "DRV2", Bus: 1, Address: 5},
			{Profile: ft4232h, Serial: "DRV3", Bus: 2, Address: 2},
		}, nil
	}
	fail := errors.New("busy")
	drv.open = func(info *USBInfo, i Interface) (Transport, error) {
		if info.Serial == "DRV3" && i == InterfaceB {
			return nil, fail
		}
		return &ftditest.Sim{NoUpper: info.Profile.UpperPins == 0, NoDriveZero: !info.Profile.DriveZero}, nil
	}
	ok, err := drv.Init()
	if !ok || err != fail {
		t.Fatalf("Init() = %t, %v", ok, err)
	}
	var names []string
	for _, c := range All() {
		names = append(names, c.String())
	}
	want := []string{"FT232H(DRV1).A", "FT2232H(DRV2).A", "FT2232H(DRV2).B", "FT4232H(DRV3).A"}
	if len(names) != len(want) {
		t.Fatalf("All() = %q", names)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("All() = %q, want %q", names, want)
		}
	}

	if hdr := pinreg.All()["FT2232H(DRV2).B"]; len(hdr) != 16 {
		t.Fatalf("header: %d pins", len(hdr))
	}
	p, err := spireg.Open("FT232H(DRV1).A")
	if err != nil {
		t.Fatal(err)
	}
	if err := p.Close(); err != nil {
		t.Fatal(err)
	}
	b, err := i2creg.Open("FT4232H(DRV3).A")
	if err != nil {
		t.Fatal(err)
	}
	if err := b.Close(); err != nil {
		t.Fatal(err)
	}
	for _, c := range All() {
		if err := c.Close(); err != nil {
			t.Fatal(err)
		}
	}
}

func TestDriver_Enumerate(t *testing.T) {
	defer drv.reset()
	fail := errors.New("no libusb")
	drv.all = nil
	drv.enumerate = func() ([]USBInfo, error) {
		return nil, fail
	}
	if ok, err := drv.Init(); !ok || err != fail {
		t.Fatalf("Init() = %t, %v", ok, err)
	}
	if len(All()) != 0 {
		t.Fatal(All())
	}
}
